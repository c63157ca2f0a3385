// Package monitor drives the poll/deliver loop: detect orders that need
// fulfillment, deliver each at most once, and keep the operator informed
// without alert storms.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sanurivanta-afk/tokomon/internal/metrics"
	"github.com/sanurivanta-afk/tokomon/internal/model"
	"github.com/sanurivanta-afk/tokomon/internal/store"
)

// Source lists orders pending fulfillment. The int is an HTTP status code or
// itemku.CodeTransport.
type Source interface {
	FetchPending(ctx context.Context, cookie string) (int, []model.Order)
}

// Deliverer executes fulfillment for a single order.
type Deliverer interface {
	Deliver(ctx context.Context, cookie string, o model.Order) (ok bool, code int, msg string)
}

// Notifier pushes text to the operator channel. Sends are fire-and-forget;
// a failed send must not surface back into the loop.
type Notifier interface {
	Send(text string)
}

type Config struct {
	// Interval between polls after a clean cycle.
	Interval time.Duration
	// ErrorBackoff between polls after a missing cookie, auth failure, or
	// fetch error.
	ErrorBackoff time.Duration
	// AnnounceCap limits how many identifiers a new-order announcement lists.
	AnnounceCap int
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 15 * time.Second
	}
	if c.AnnounceCap <= 0 {
		c.AnnounceCap = 10
	}
}

var ErrAlreadyRunning = errors.New("monitor already running")

// Monitor owns the lifecycle of the background loop. At most one loop runs at
// a time; Stop prevents the next cycle from starting but never aborts an
// in-flight one.
type Monitor struct {
	cfg    Config
	store  store.Store
	src    Source
	del    Deliverer
	notify Notifier

	mu      sync.Mutex
	running bool
	stop    chan struct{}
}

func New(cfg Config, s store.Store, src Source, del Deliverer, n Notifier) *Monitor {
	cfg.applyDefaults()
	return &Monitor{cfg: cfg, store: s, src: src, del: del, notify: n}
}

// Start launches the loop. The first poll happens immediately.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrAlreadyRunning
	}
	m.running = true
	m.stop = make(chan struct{})
	go m.loop(m.stop)
	return nil
}

// Stop halts scheduling of new cycles. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.stop)
}

func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) loop(stop chan struct{}) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		}
		// No deadline on the cycle: each request is bounded by the HTTP
		// client's own timeout, and a delivery, once sent, must be allowed
		// to finish.
		timer.Reset(m.tick(context.Background()))
	}
}

// tick runs one poll cycle and reports how long to sleep before the next one.
func (m *Monitor) tick(ctx context.Context) time.Duration {
	start := time.Now()

	cookie, err := m.store.Cookie(ctx)
	if err != nil {
		log.Printf("monitor: read cookie: %v", err)
		return m.cfg.ErrorBackoff
	}
	cookie = strings.TrimSpace(cookie)
	if cookie == "" {
		m.setStatus(ctx, model.StatusNoCookie, 0)
		metrics.Polls.WithLabelValues(string(model.StatusNoCookie)).Inc()
		m.alertOnce(ctx, "no_cookie", "COOKIE BELUM DISET. Kirim /setcookie PIN <cookie>")
		return m.cfg.ErrorBackoff
	}

	code, orders := m.src.FetchPending(ctx, cookie)

	switch {
	case code == 401 || code == 403:
		m.setStatus(ctx, model.StatusCookieExpired, code)
		metrics.Polls.WithLabelValues(string(model.StatusCookieExpired)).Inc()
		m.alertOnce(ctx, "cookie_expired", "COOKIE EXPIRED. Kirim /setcookie PIN <cookie_baru>")
		return m.cfg.ErrorBackoff
	case code != 200:
		m.setStatus(ctx, model.StatusError, code)
		metrics.Polls.WithLabelValues(string(model.StatusError)).Inc()
		m.alertOnce(ctx, "fetch_error", fmt.Sprintf("FETCH ERROR (HTTP %d). Monitor tetap jalan.", code))
		return m.cfg.ErrorBackoff
	}

	m.setStatus(ctx, model.StatusCheck, code)
	metrics.Polls.WithLabelValues(string(model.StatusCheck)).Inc()

	// 200: the incident, if any, is over.
	if err := m.store.ClearAlertSent(ctx); err != nil {
		log.Printf("monitor: clear alert latch: %v", err)
	}

	if wait, done := m.handleOrders(ctx, cookie, orders); done {
		return wait
	}
	metrics.PollDuration.Observe(time.Since(start).Seconds())
	return m.cfg.Interval
}

// handleOrders primes an empty ledger or delivers whatever is new. A true
// done return short-circuits the cycle with the given wait.
func (m *Monitor) handleOrders(ctx context.Context, cookie string, orders []model.Order) (time.Duration, bool) {
	known, err := m.store.KnownCount(ctx)
	if err != nil {
		log.Printf("monitor: ledger size: %v", err)
		return m.cfg.ErrorBackoff, true
	}

	// Priming: an empty ledger means this is the first useful poll. Mark the
	// whole backlog as seen and deliver nothing.
	if known == 0 {
		if len(orders) == 0 {
			return 0, false
		}
		ids := make([]string, 0, len(orders))
		for _, o := range orders {
			if id := o.Identifier(); id != "" {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return 0, false
		}
		if err := m.store.AddKnown(ctx, ids...); err != nil {
			log.Printf("monitor: prime ledger: %v", err)
			return m.cfg.ErrorBackoff, true
		}
		log.Printf("monitor: primed %d orders", len(ids))
		m.notify.Send(fmt.Sprintf("Monitor aktif. %d pesanan lama ditandai, tidak dikirim.", len(ids)))
		return 0, false
	}

	var fresh []model.Order
	for _, o := range orders {
		id := o.Identifier()
		if id == "" {
			log.Printf("monitor: order without identifier, skipping")
			continue
		}
		seen, err := m.store.IsKnown(ctx, id)
		if err != nil {
			log.Printf("monitor: ledger lookup %s: %v", id, err)
			continue
		}
		if seen {
			continue
		}
		// The identifier must be in the ledger before any delivery attempt;
		// if this insert fails the order waits for a later cycle.
		if err := m.store.AddKnown(ctx, id); err != nil {
			log.Printf("monitor: ledger insert %s: %v", id, err)
			continue
		}
		fresh = append(fresh, o)
	}
	if len(fresh) == 0 {
		return 0, false
	}

	metrics.NewOrders.Add(float64(len(fresh)))
	m.notify.Send(announceNew(fresh, m.cfg.AnnounceCap))

	for _, o := range fresh {
		id := o.Identifier()
		ok, code, msg := m.del.Deliver(ctx, cookie, o)
		if ok {
			metrics.Deliveries.WithLabelValues("ok").Inc()
			log.Printf("monitor: delivered %s", id)
			m.notify.Send("DELIVER OK: " + id)
			continue
		}
		metrics.Deliveries.WithLabelValues("fail").Inc()
		log.Printf("monitor: deliver failed %s code=%d msg=%q", id, code, msg)
		m.notify.Send(fmt.Sprintf("DELIVER FAIL: %s (HTTP %d) %s", id, code, msg))
	}
	return 0, false
}

// announceNew builds the single batched new-order message, capped so one huge
// backlog cannot flood the chat.
func announceNew(orders []model.Order, limit int) string {
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.Identifier())
	}
	shown := ids
	extra := 0
	if len(ids) > limit {
		shown = ids[:limit]
		extra = len(ids) - limit
	}
	msg := fmt.Sprintf("Pesanan baru (%d): %s", len(ids), strings.Join(shown, ", "))
	if extra > 0 {
		msg += fmt.Sprintf(" +%d lainnya", extra)
	}
	return msg
}

// alertOnce notifies the operator at most once per incident. The latch stays
// armed until a 200 poll or a cookie update.
func (m *Monitor) alertOnce(ctx context.Context, kind, text string) {
	sent, err := m.store.AlertSent(ctx)
	if err != nil {
		log.Printf("monitor: read alert latch: %v", err)
		return
	}
	if sent {
		return
	}
	incident := uuid.NewString()
	if err := m.store.SetAlertSent(ctx, incident); err != nil {
		log.Printf("monitor: arm alert latch: %v", err)
		return
	}
	metrics.Alerts.WithLabelValues(kind).Inc()
	log.Printf("monitor: alert kind=%s incident=%s", kind, incident)
	m.notify.Send(text)
}

func (m *Monitor) setStatus(ctx context.Context, st model.Status, httpCode int) {
	if err := m.store.SetStatus(ctx, st, httpCode, time.Now()); err != nil {
		log.Printf("monitor: persist status: %v", err)
	}
}

// SetCredential stores a new session cookie, disarms the alert latch, and
// runs one immediate validation fetch with it. The returned code is that
// fetch's HTTP outcome, surfaced synchronously to the command surface.
func (m *Monitor) SetCredential(ctx context.Context, cookie string) (int, error) {
	cookie = strings.TrimSpace(cookie)
	if cookie == "" {
		return 0, errors.New("empty cookie")
	}
	if err := m.store.SetCookie(ctx, cookie); err != nil {
		return 0, err
	}
	code, _ := m.src.FetchPending(ctx, cookie)
	m.setStatus(ctx, model.StatusForCode(code), code)
	return code, nil
}

// Snapshot reads the state the status command renders. Status fields may lag
// an in-flight cycle slightly; that is fine.
func (m *Monitor) Snapshot(ctx context.Context) (model.MonitorSnapshot, error) {
	st, code, ts, err := m.store.LastStatus(ctx)
	if err != nil {
		return model.MonitorSnapshot{}, err
	}
	return model.MonitorSnapshot{
		Running:    m.Running(),
		LastCheck:  ts,
		LastStatus: st,
		LastHTTP:   code,
	}, nil
}
