package store

import (
	"context"
	"time"

	"github.com/sanurivanta-afk/tokomon/internal/model"
)

// TimeLayout is the format used for last-check timestamps everywhere they are
// persisted or displayed.
const TimeLayout = "2006-01-02 15:04:05"

// Store is the persistence boundary shared by the monitor loop and the
// command surface. Every operation is atomic per key; nothing here needs
// cross-key transactions. Implementations must never expire keys.
type Store interface {
	// Cookie returns the current session cookie, "" when unset.
	Cookie(ctx context.Context) (string, error)
	// SetCookie stores a new cookie and clears the alert latch.
	SetCookie(ctx context.Context, cookie string) error

	// AlertSent reports whether the alert latch is armed.
	AlertSent(ctx context.Context) (bool, error)
	// SetAlertSent arms the latch, recording the incident id that armed it.
	SetAlertSent(ctx context.Context, incidentID string) error
	// ClearAlertSent disarms the latch.
	ClearAlertSent(ctx context.Context) error

	// AddKnown inserts identifiers into the dedup ledger. Re-inserting an
	// existing identifier is a no-op (insert wins, never an error).
	AddKnown(ctx context.Context, ids ...string) error
	// IsKnown reports ledger membership for one identifier.
	IsKnown(ctx context.Context, id string) (bool, error)
	// KnownCount returns the ledger size; 0 means the monitor has never primed.
	KnownCount(ctx context.Context) (int64, error)

	// SetStatus records the outcome of a poll cycle.
	SetStatus(ctx context.Context, st model.Status, httpCode int, at time.Time) error
	// LastStatus returns the most recent status, HTTP code, and check
	// timestamp ("" when no poll has happened yet).
	LastStatus(ctx context.Context) (model.Status, int, string, error)

	Ping(ctx context.Context) error
	Close() error
}
