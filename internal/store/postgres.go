package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/sanurivanta-afk/tokomon/internal/model"
)

// Postgres persists monitor state in two tables: a scalar kv table for the
// cookie/latch/status fields and a dedicated ledger table. Ledger inserts use
// ON CONFLICT DO NOTHING so a membership-check race resolves as insert-wins.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	p := &Postgres{db: db}
	if err := p.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS monitor_kv (
			k TEXT PRIMARY KEY,
			v TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS known_orders (
			id UUID PRIMARY KEY,
			order_ref TEXT UNIQUE NOT NULL,
			first_seen TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) kvGet(ctx context.Context, k string) (string, error) {
	var v string
	err := p.db.QueryRowContext(ctx, `SELECT v FROM monitor_kv WHERE k=$1`, k).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func (p *Postgres) kvSet(ctx context.Context, k, v string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO monitor_kv (k, v) VALUES ($1, $2) ON CONFLICT (k) DO UPDATE SET v=EXCLUDED.v`, k, v)
	return err
}

func (p *Postgres) kvDel(ctx context.Context, k string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM monitor_kv WHERE k=$1`, k)
	return err
}

func (p *Postgres) Cookie(ctx context.Context) (string, error) {
	return p.kvGet(ctx, "cookie")
}

func (p *Postgres) SetCookie(ctx context.Context, cookie string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO monitor_kv (k, v) VALUES ('cookie', $1) ON CONFLICT (k) DO UPDATE SET v=EXCLUDED.v`, cookie); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM monitor_kv WHERE k='alert_sent'`); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Postgres) AlertSent(ctx context.Context) (bool, error) {
	v, err := p.kvGet(ctx, "alert_sent")
	return v != "", err
}

func (p *Postgres) SetAlertSent(ctx context.Context, incidentID string) error {
	if incidentID == "" {
		incidentID = uuid.NewString()
	}
	return p.kvSet(ctx, "alert_sent", incidentID)
}

func (p *Postgres) ClearAlertSent(ctx context.Context) error {
	return p.kvDel(ctx, "alert_sent")
}

func (p *Postgres) AddKnown(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, err := p.db.ExecContext(ctx,
			`INSERT INTO known_orders (id, order_ref) VALUES ($1, $2) ON CONFLICT (order_ref) DO NOTHING`,
			uuid.New(), id); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) IsKnown(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM known_orders WHERE order_ref=$1)`, id).Scan(&ok)
	return ok, err
}

func (p *Postgres) KnownCount(ctx context.Context) (int64, error) {
	var n int64
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM known_orders`).Scan(&n)
	return n, err
}

func (p *Postgres) SetStatus(ctx context.Context, st model.Status, httpCode int, at time.Time) error {
	if err := p.kvSet(ctx, "last_status", string(st)); err != nil {
		return err
	}
	if err := p.kvSet(ctx, "last_http", strconv.Itoa(httpCode)); err != nil {
		return err
	}
	return p.kvSet(ctx, "last_check_ts", at.Format(TimeLayout))
}

func (p *Postgres) LastStatus(ctx context.Context) (model.Status, int, string, error) {
	st, err := p.kvGet(ctx, "last_status")
	if err != nil {
		return "", 0, "", err
	}
	httpStr, err := p.kvGet(ctx, "last_http")
	if err != nil {
		return "", 0, "", err
	}
	ts, err := p.kvGet(ctx, "last_check_ts")
	if err != nil {
		return "", 0, "", err
	}
	code, _ := strconv.Atoi(httpStr)
	return model.Status(st), code, ts, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) Close() error { return p.db.Close() }
