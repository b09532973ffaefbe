package admission

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mediaforge/internal/config"
	"mediaforge/internal/logging"
)

// Decision is the outcome of a check-and-record.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is when the oldest counted request leaves the window.
	ResetAt time.Time
	// Degraded is set when the backend failed and the request was admitted
	// without being counted.
	Degraded bool
}

// Controller applies a per-client sliding window on top of a Backend.
type Controller struct {
	backend Backend
	limit   int
	window  time.Duration
	exempt  []string
	now     func() time.Time
	logger  *slog.Logger

	// credential is the API bearer token; requests presenting it share one
	// bucket regardless of address.
	credential string
}

// Option customizes a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithExemptPaths sets path prefixes that bypass admission.
func WithExemptPaths(paths ...string) Option {
	return func(c *Controller) {
		c.exempt = append([]string(nil), paths...)
	}
}

// WithCredential sets the bearer token that identifies authenticated callers.
func WithCredential(token string) Option {
	return func(c *Controller) {
		c.credential = strings.TrimSpace(token)
	}
}

// NewController builds a limiter charging at most limit requests per window.
func NewController(backend Backend, limit int, window time.Duration, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		backend: backend,
		limit:   limit,
		window:  window,
		now:     time.Now,
		logger:  logging.NewComponentLogger(logger, "admission"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromConfig opens the configured backend. It returns nil when admission is
// disabled.
func FromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Controller, error) {
	if cfg == nil || !cfg.Admission.Enabled {
		return nil, nil
	}
	var backend Backend
	switch cfg.Admission.Backend {
	case "redis":
		redisBackend, err := OpenRedisBackend(ctx, cfg.Admission.RedisURL, cfg.Admission.KeyPrefix)
		if err != nil {
			return nil, fmt.Errorf("admission backend: %w", err)
		}
		backend = redisBackend
	default:
		backend = NewMemoryBackend()
	}
	opts = append([]Option{
		WithExemptPaths(cfg.Admission.ExemptPaths...),
		WithCredential(cfg.API.Token),
	}, opts...)
	return NewController(backend, cfg.Admission.Limit, cfg.AdmissionWindow(), logger, opts...), nil
}

// Limit returns the per-window budget.
func (c *Controller) Limit() int { return c.limit }

// Window returns the window length.
func (c *Controller) Window() time.Duration { return c.window }

// Allow reports whether a request from client would be admitted, without
// recording it.
func (c *Controller) Allow(ctx context.Context, client string) bool {
	count, _, err := c.backend.Count(ctx, client, c.now(), c.window)
	if err != nil {
		c.backendFailure(client, "count", err)
		return true
	}
	return count < c.limit
}

// Remaining returns how many more requests client may make in the current
// window.
func (c *Controller) Remaining(ctx context.Context, client string) int {
	count, _, err := c.backend.Count(ctx, client, c.now(), c.window)
	if err != nil {
		c.backendFailure(client, "count", err)
		return c.limit
	}
	return max(c.limit-count, 0)
}

// RecordIfAllowed atomically checks the window and, when below the limit,
// records the request.
func (c *Controller) RecordIfAllowed(ctx context.Context, client string) Decision {
	now := c.now()
	admitted, count, oldestAt, err := c.backend.Admit(ctx, client, now, c.limit, c.window)
	if err != nil {
		c.backendFailure(client, "admit", err)
		return Decision{Allowed: true, Limit: c.limit, Remaining: c.limit, ResetAt: now.Add(c.window), Degraded: true}
	}
	reset := now.Add(c.window)
	if !oldestAt.IsZero() {
		reset = oldestAt.Add(c.window)
	}
	return Decision{
		Allowed:   admitted,
		Limit:     c.limit,
		Remaining: max(c.limit-count, 0),
		ResetAt:   reset,
	}
}

// Close releases the backend.
func (c *Controller) Close() error {
	if c == nil || c.backend == nil {
		return nil
	}
	return c.backend.Close()
}

func (c *Controller) backendFailure(client, op string, err error) {
	logging.WarnWithContext(c.logger, "admission backend unavailable; admitting request", "admission_backend_error",
		logging.String(logging.FieldClientID, client),
		logging.String("operation", op),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check admission.redis_url connectivity"),
	)
}
