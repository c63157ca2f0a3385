package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sanurivanta-afk/tokomon/internal/model"
)

// Memory is an in-process store used when neither REDIS_URL nor DATABASE_URL
// is configured, and by tests. State does not survive a restart.
type Memory struct {
	mu       sync.Mutex
	cookie   string
	incident string // alert latch; "" means disarmed
	known    map[string]struct{}

	lastStatus model.Status
	lastHTTP   int
	lastCheck  string
}

func NewMemory() *Memory {
	return &Memory{known: map[string]struct{}{}}
}

func (m *Memory) Cookie(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cookie, nil
}

func (m *Memory) SetCookie(ctx context.Context, cookie string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cookie = cookie
	m.incident = ""
	return nil
}

func (m *Memory) AlertSent(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incident != "", nil
}

func (m *Memory) SetAlertSent(ctx context.Context, incidentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if incidentID == "" {
		incidentID = strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	m.incident = incidentID
	return nil
}

func (m *Memory) ClearAlertSent(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incident = ""
	return nil
}

func (m *Memory) AddKnown(ctx context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if id == "" {
			continue
		}
		m.known[id] = struct{}{}
	}
	return nil
}

func (m *Memory) IsKnown(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.known[id]
	return ok, nil
}

func (m *Memory) KnownCount(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.known)), nil
}

func (m *Memory) SetStatus(ctx context.Context, st model.Status, httpCode int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastStatus = st
	m.lastHTTP = httpCode
	m.lastCheck = at.Format(TimeLayout)
	return nil
}

func (m *Memory) LastStatus(ctx context.Context) (model.Status, int, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastStatus, m.lastHTTP, m.lastCheck, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
