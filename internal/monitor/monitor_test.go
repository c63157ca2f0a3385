package monitor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sanurivanta-afk/tokomon/internal/model"
	"github.com/sanurivanta-afk/tokomon/internal/store"
)

type fakeSource struct {
	mu     sync.Mutex
	code   int
	orders []model.Order
	calls  int
	began  chan struct{} // signaled when a fetch starts, when non-nil
	block  chan struct{} // fetch waits on this before returning, when non-nil
}

func (f *fakeSource) FetchPending(ctx context.Context, cookie string) (int, []model.Order) {
	f.mu.Lock()
	f.calls++
	code, orders := f.code, f.orders
	began, block := f.began, f.block
	f.mu.Unlock()
	if began != nil {
		select {
		case began <- struct{}{}:
		default:
		}
	}
	if block != nil {
		<-block
	}
	return code, orders
}

func (f *fakeSource) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSource) set(code int, orders ...model.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.code = code
	f.orders = orders
}

type fakeDeliverer struct {
	mu        sync.Mutex
	ok        bool
	code      int
	msg       string
	sleep     time.Duration
	delivered []string
	deadlined []bool  // whether the delivery context carried a deadline
	ctxErrs   []error // ctx.Err() observed after the simulated work
}

func (f *fakeDeliverer) Deliver(ctx context.Context, cookie string, o model.Order) (bool, int, string) {
	if f.sleep > 0 {
		time.Sleep(f.sleep)
	}
	_, hasDeadline := ctx.Deadline()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, o.Identifier())
	f.deadlined = append(f.deadlined, hasDeadline)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	return f.ok, f.code, f.msg
}

func (f *fakeDeliverer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (f *fakeNotifier) Send(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, text)
}

func (f *fakeNotifier) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.msgs...)
}

func order(num, id string) model.Order {
	return model.Order{OrderNumber: model.FlexID(num), OrderID: model.FlexID(id)}
}

func newTestMonitor(t *testing.T) (*Monitor, *store.Memory, *fakeSource, *fakeDeliverer, *fakeNotifier) {
	t.Helper()
	s := store.NewMemory()
	src := &fakeSource{code: 200}
	del := &fakeDeliverer{ok: true, code: 200, msg: "OK"}
	n := &fakeNotifier{}
	m := New(Config{Interval: 10 * time.Second, ErrorBackoff: 15 * time.Second, AnnounceCap: 10}, s, src, del, n)
	return m, s, src, del, n
}

func TestPrimingMarksBacklogWithoutDelivering(t *testing.T) {
	ctx := context.Background()
	m, s, src, del, n := newTestMonitor(t)
	_ = s.SetCookie(ctx, "c")
	src.set(200, order("X", "dX"), order("Y", "dY"), order("Z", "dZ"))

	if wait := m.tick(ctx); wait != m.cfg.Interval {
		t.Fatalf("clean cycle should sleep the normal interval, got %v", wait)
	}

	if count, _ := s.KnownCount(ctx); count != 3 {
		t.Fatalf("ledger after priming: %d", count)
	}
	for _, id := range []string{"X", "Y", "Z"} {
		if ok, _ := s.IsKnown(ctx, id); !ok {
			t.Fatalf("%s should be primed", id)
		}
	}
	if len(del.delivered) != 0 {
		t.Fatalf("priming must not deliver, got %v", del.delivered)
	}
	msgs := n.all()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "3") {
		t.Fatalf("want one primed-3 message, got %v", msgs)
	}
}

func TestNewOrderIsAnnouncedAndDeliveredOnce(t *testing.T) {
	ctx := context.Background()
	m, s, src, del, n := newTestMonitor(t)
	_ = s.SetCookie(ctx, "c")
	_ = s.AddKnown(ctx, "X")
	src.set(200, order("X", "dX"), order("Y", "dY"))

	m.tick(ctx)

	if len(del.delivered) != 1 || del.delivered[0] != "Y" {
		t.Fatalf("delivered: %v", del.delivered)
	}
	if ok, _ := s.IsKnown(ctx, "Y"); !ok {
		t.Fatalf("Y should be in the ledger")
	}
	msgs := n.all()
	if len(msgs) != 2 {
		t.Fatalf("want announce + outcome, got %v", msgs)
	}
	if !strings.Contains(msgs[0], "Y") || !strings.Contains(msgs[1], "DELIVER OK: Y") {
		t.Fatalf("messages: %v", msgs)
	}

	// Y still listed by the remote next cycle; it must not be re-attempted.
	m.tick(ctx)
	if len(del.delivered) != 1 {
		t.Fatalf("re-delivered: %v", del.delivered)
	}
}

func TestExpiredCookieAlertsOncePerIncident(t *testing.T) {
	ctx := context.Background()
	m, s, src, del, n := newTestMonitor(t)
	_ = s.SetCookie(ctx, "c")
	_ = s.AddKnown(ctx, "X")
	src.set(403)

	for i := 0; i < 5; i++ {
		if wait := m.tick(ctx); wait != m.cfg.ErrorBackoff {
			t.Fatalf("auth failure should back off, got %v", wait)
		}
	}

	if len(n.all()) != 1 {
		t.Fatalf("want exactly one alert over 5 failing cycles, got %v", n.all())
	}
	st, code, _, _ := s.LastStatus(ctx)
	if st != model.StatusCookieExpired || code != 403 {
		t.Fatalf("status %q %d", st, code)
	}
	if count, _ := s.KnownCount(ctx); count != 1 {
		t.Fatalf("ledger must be untouched, got %d", count)
	}
	if len(del.delivered) != 0 {
		t.Fatalf("no deliveries on auth failure")
	}
}

func TestAlertLatchResetsAfterRecovery(t *testing.T) {
	ctx := context.Background()
	m, s, src, _, n := newTestMonitor(t)
	_ = s.SetCookie(ctx, "c")
	_ = s.AddKnown(ctx, "X")

	src.set(500)
	m.tick(ctx)
	m.tick(ctx)
	if len(n.all()) != 1 {
		t.Fatalf("one fetch-error alert, got %v", n.all())
	}

	src.set(200)
	m.tick(ctx) // 200 clears the latch

	src.set(500)
	m.tick(ctx)
	if len(n.all()) != 2 {
		t.Fatalf("fresh incident should alert again, got %v", n.all())
	}
}

func TestFetchErrorKeepsLedgerAndBacksOff(t *testing.T) {
	ctx := context.Background()
	m, s, src, del, _ := newTestMonitor(t)
	_ = s.SetCookie(ctx, "c")
	_ = s.AddKnown(ctx, "X")
	src.set(502)

	if wait := m.tick(ctx); wait != m.cfg.ErrorBackoff {
		t.Fatalf("want error backoff, got %v", wait)
	}
	st, code, _, _ := s.LastStatus(ctx)
	if st != model.StatusError || code != 502 {
		t.Fatalf("status %q %d", st, code)
	}
	if count, _ := s.KnownCount(ctx); count != 1 {
		t.Fatalf("ledger changed: %d", count)
	}
	if len(del.delivered) != 0 {
		t.Fatalf("no deliveries on fetch error")
	}
}

func TestDeliveryFailureIsReportedAndNeverRetried(t *testing.T) {
	ctx := context.Background()
	m, s, src, del, n := newTestMonitor(t)
	_ = s.SetCookie(ctx, "c")
	_ = s.AddKnown(ctx, "X")
	del.ok = false
	del.code = 500
	del.msg = "boom"
	src.set(200, order("Y", "dY"))

	m.tick(ctx)

	msgs := n.all()
	if len(msgs) != 2 || !strings.Contains(msgs[1], "DELIVER FAIL: Y (HTTP 500)") {
		t.Fatalf("messages: %v", msgs)
	}
	if ok, _ := s.IsKnown(ctx, "Y"); !ok {
		t.Fatalf("failed order must stay in the ledger")
	}

	// Remote still reports Y as needing processing; no automatic retry.
	m.tick(ctx)
	if len(del.delivered) != 1 {
		t.Fatalf("retried a failed delivery: %v", del.delivered)
	}
}

func TestEmptyPayloadIsQuiet(t *testing.T) {
	ctx := context.Background()
	m, s, src, del, n := newTestMonitor(t)
	_ = s.SetCookie(ctx, "c")
	_ = s.AddKnown(ctx, "X")
	src.set(200) // 200 with no orders (covers the malformed-body case too)

	if wait := m.tick(ctx); wait != m.cfg.Interval {
		t.Fatalf("want normal interval, got %v", wait)
	}
	if len(n.all()) != 0 || len(del.delivered) != 0 {
		t.Fatalf("quiet cycle expected: msgs=%v delivered=%v", n.all(), del.delivered)
	}
	if count, _ := s.KnownCount(ctx); count != 1 {
		t.Fatalf("ledger changed: %d", count)
	}
}

func TestMissingCookieAlertsOnce(t *testing.T) {
	ctx := context.Background()
	m, s, src, _, n := newTestMonitor(t)

	if wait := m.tick(ctx); wait != m.cfg.ErrorBackoff {
		t.Fatalf("want backoff, got %v", wait)
	}
	m.tick(ctx)

	if src.calls != 0 {
		t.Fatalf("no fetch without a cookie")
	}
	if len(n.all()) != 1 {
		t.Fatalf("want one missing-cookie alert, got %v", n.all())
	}
	st, _, _, _ := s.LastStatus(ctx)
	if st != model.StatusNoCookie {
		t.Fatalf("status %q", st)
	}
}

func TestAnnounceCapTruncates(t *testing.T) {
	orders := []model.Order{}
	for _, id := range []string{"A", "B", "C", "D", "E"} {
		orders = append(orders, order(id, "d"+id))
	}
	msg := announceNew(orders, 3)
	if !strings.Contains(msg, "(5)") || !strings.Contains(msg, "+2 lainnya") {
		t.Fatalf("capped announcement: %q", msg)
	}
	if strings.Contains(msg, "D") || strings.Contains(msg, "E") {
		t.Fatalf("ids past the cap should not be listed: %q", msg)
	}
}

func TestSetCredentialValidatesImmediately(t *testing.T) {
	ctx := context.Background()
	m, s, src, _, _ := newTestMonitor(t)
	_ = s.SetAlertSent(ctx, "inc-1")
	src.set(403)

	code, err := m.SetCredential(ctx, "  session=new  ")
	if err != nil {
		t.Fatalf("set credential: %v", err)
	}
	if code != 403 {
		t.Fatalf("validation outcome: %d", code)
	}
	if c, _ := s.Cookie(ctx); c != "session=new" {
		t.Fatalf("cookie: %q", c)
	}
	if sent, _ := s.AlertSent(ctx); sent {
		t.Fatalf("credential update must disarm the latch")
	}
	st, httpCode, _, _ := s.LastStatus(ctx)
	if st != model.StatusCookieExpired || httpCode != 403 {
		t.Fatalf("status %q %d", st, httpCode)
	}

	if _, err := m.SetCredential(ctx, "   "); err == nil {
		t.Fatalf("blank cookie must be rejected")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSlowDeliveryBatchRunsToCompletion(t *testing.T) {
	ctx := context.Background()
	m, s, src, del, _ := newTestMonitor(t)
	m.cfg.Interval = 10 * time.Millisecond
	m.cfg.ErrorBackoff = 10 * time.Millisecond
	_ = s.SetCookie(ctx, "c")
	_ = s.AddKnown(ctx, "X")
	del.sleep = 30 * time.Millisecond
	src.set(200, order("A", "dA"), order("B", "dB"), order("C", "dC"))

	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()
	waitFor(t, "all three deliveries", func() bool { return del.count() == 3 })

	del.mu.Lock()
	defer del.mu.Unlock()
	for i := range del.delivered {
		if del.deadlined[i] {
			t.Fatalf("delivery %s ran under a deadline", del.delivered[i])
		}
		if del.ctxErrs[i] != nil {
			t.Fatalf("delivery %s saw a dead context: %v", del.delivered[i], del.ctxErrs[i])
		}
	}
}

func TestStopPreventsNextCycle(t *testing.T) {
	ctx := context.Background()
	m, s, src, _, _ := newTestMonitor(t)
	m.cfg.Interval = 10 * time.Millisecond
	m.cfg.ErrorBackoff = 10 * time.Millisecond
	_ = s.SetCookie(ctx, "c")
	_ = s.AddKnown(ctx, "X")
	src.set(200)

	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "a few polls", func() bool { return src.count() >= 2 })
	m.Stop()

	// Let any cycle that was already in flight finish, then the count must
	// hold still.
	time.Sleep(30 * time.Millisecond)
	n := src.count()
	time.Sleep(100 * time.Millisecond)
	if got := src.count(); got != n {
		t.Fatalf("polling continued after Stop: %d -> %d", n, got)
	}
}

func TestInFlightCycleCompletesAfterStop(t *testing.T) {
	ctx := context.Background()
	m, s, src, _, _ := newTestMonitor(t)
	m.cfg.Interval = 10 * time.Millisecond
	_ = s.SetCookie(ctx, "c")
	_ = s.AddKnown(ctx, "X")
	src.set(200)
	src.began = make(chan struct{}, 1)
	src.block = make(chan struct{})

	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-src.began // a poll is now in flight
	m.Stop()
	close(src.block)

	// The in-flight cycle still records its outcome.
	waitFor(t, "in-flight cycle to finish", func() bool {
		st, _, _, _ := s.LastStatus(ctx)
		return st == model.StatusCheck
	})
	time.Sleep(50 * time.Millisecond)
	if got := src.count(); got != 1 {
		t.Fatalf("no new poll may start after Stop, got %d", got)
	}
}

func TestLifecycleGuards(t *testing.T) {
	m, s, src, _, _ := newTestMonitor(t)
	_ = s.SetCookie(context.Background(), "c")
	src.set(200)

	if m.Running() {
		t.Fatalf("should start stopped")
	}
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Start(); err != ErrAlreadyRunning {
		t.Fatalf("double start: %v", err)
	}
	if !m.Running() {
		t.Fatalf("should be running")
	}
	m.Stop()
	m.Stop() // idempotent
	if m.Running() {
		t.Fatalf("should be stopped")
	}
	if err := m.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	m.Stop()
}
