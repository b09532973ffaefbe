package admission

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend is a process-local Backend.
type MemoryBackend struct {
	mu      sync.Mutex
	clients map[string][]time.Time
}

// NewMemoryBackend returns an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{clients: make(map[string][]time.Time)}
}

// Count implements Backend.
func (m *MemoryBackend) Count(_ context.Context, client string, now time.Time, window time.Duration) (int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	live := m.pruneLocked(client, now, window)
	return len(live), oldest(live), nil
}

// Admit implements Backend.
func (m *MemoryBackend) Admit(_ context.Context, client string, now time.Time, limit int, window time.Duration) (bool, int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	live := m.pruneLocked(client, now, window)
	if len(live) >= limit {
		return false, len(live), oldest(live), nil
	}
	live = append(live, now)
	m.clients[client] = live
	return true, len(live), oldest(live), nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error { return nil }

// pruneLocked drops timestamps at or before now-window. Callers read the
// clock before taking the lock, so stamps are only roughly ordered.
func (m *MemoryBackend) pruneLocked(client string, now time.Time, window time.Duration) []time.Time {
	stamps := m.clients[client]
	cutoff := now.Add(-window)
	live := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			live = append(live, ts)
		}
	}
	if len(live) == 0 {
		delete(m.clients, client)
		return nil
	}
	m.clients[client] = live
	return live
}

func oldest(stamps []time.Time) time.Time {
	var first time.Time
	for _, ts := range stamps {
		if first.IsZero() || ts.Before(first) {
			first = ts
		}
	}
	return first
}
