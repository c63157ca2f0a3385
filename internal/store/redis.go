package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/sanurivanta-afk/tokomon/internal/model"
)

// Redis persists monitor state in a Redis instance. Key layout under the
// namespace prefix:
//
//	<ns>:cookie         session cookie string
//	<ns>:alert_sent     incident id while the alert latch is armed
//	<ns>:delivered_ids  dedup ledger (set)
//	<ns>:last_status    last poll status
//	<ns>:last_http      last poll HTTP code
//	<ns>:last_check_ts  last poll timestamp
//
// No key carries a TTL; state must survive process restarts.
type Redis struct {
	rdb *redis.Client
	ns  string
}

func NewRedis(url, namespace string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if namespace == "" {
		namespace = "tokomon"
	}
	return &Redis{rdb: redis.NewClient(opt), ns: namespace}, nil
}

func (s *Redis) key(suffix string) string { return s.ns + ":" + suffix }

func (s *Redis) Cookie(ctx context.Context) (string, error) {
	v, err := s.rdb.Get(ctx, s.key("cookie")).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (s *Redis) SetCookie(ctx context.Context, cookie string) error {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key("cookie"), cookie, 0)
		p.Del(ctx, s.key("alert_sent"))
		return nil
	})
	return err
}

func (s *Redis) AlertSent(ctx context.Context) (bool, error) {
	v, err := s.rdb.Get(ctx, s.key("alert_sent")).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v != "", nil
}

func (s *Redis) SetAlertSent(ctx context.Context, incidentID string) error {
	if incidentID == "" {
		incidentID = "1"
	}
	return s.rdb.Set(ctx, s.key("alert_sent"), incidentID, 0).Err()
}

func (s *Redis) ClearAlertSent(ctx context.Context) error {
	return s.rdb.Del(ctx, s.key("alert_sent")).Err()
}

func (s *Redis) AddKnown(ctx context.Context, ids ...string) error {
	members := make([]any, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			members = append(members, id)
		}
	}
	if len(members) == 0 {
		return nil
	}
	return s.rdb.SAdd(ctx, s.key("delivered_ids"), members...).Err()
}

func (s *Redis) IsKnown(ctx context.Context, id string) (bool, error) {
	return s.rdb.SIsMember(ctx, s.key("delivered_ids"), id).Result()
}

func (s *Redis) KnownCount(ctx context.Context) (int64, error) {
	return s.rdb.SCard(ctx, s.key("delivered_ids")).Result()
}

func (s *Redis) SetStatus(ctx context.Context, st model.Status, httpCode int, at time.Time) error {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key("last_status"), string(st), 0)
		p.Set(ctx, s.key("last_http"), strconv.Itoa(httpCode), 0)
		p.Set(ctx, s.key("last_check_ts"), at.Format(TimeLayout), 0)
		return nil
	})
	return err
}

func (s *Redis) LastStatus(ctx context.Context) (model.Status, int, string, error) {
	vals, err := s.rdb.MGet(ctx, s.key("last_status"), s.key("last_http"), s.key("last_check_ts")).Result()
	if err != nil {
		return "", 0, "", err
	}
	st, _ := vals[0].(string)
	httpStr, _ := vals[1].(string)
	ts, _ := vals[2].(string)
	code, _ := strconv.Atoi(httpStr)
	return model.Status(st), code, ts, nil
}

func (s *Redis) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Redis) Close() error { return s.rdb.Close() }
