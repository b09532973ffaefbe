package admission

import (
	"context"
	"time"
)

// Backend stores per-client request timestamps.
type Backend interface {
	// Count reports how many requests fall inside the window ending at now,
	// plus the oldest of them (zero when none).
	Count(ctx context.Context, client string, now time.Time, window time.Duration) (int, time.Time, error)
	// Admit atomically prunes expired entries and records now when fewer than
	// limit remain. It returns whether the request was recorded and the count
	// after the decision.
	Admit(ctx context.Context, client string, now time.Time, limit int, window time.Duration) (bool, int, time.Time, error)
	Close() error
}
