// Package ratelimit throttles verification and balance-check calls per
// identity.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter answers whether a call keyed by an identity may proceed.
// When it may not, retryAfter hints how long the caller should wait.
type Limiter interface {
	Allow(ctx context.Context, key string) (ok bool, retryAfter time.Duration, err error)
}

// Memory is a fixed-window in-process limiter, used by tests and dev
// mode. Process-local: correct only for single-instance deployment.
type Memory struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	counts  map[string]int
	resetAt map[string]time.Time
}

func NewMemory(limit int, window time.Duration) *Memory {
	return &Memory{
		limit:   limit,
		window:  window,
		counts:  make(map[string]int),
		resetAt: make(map[string]time.Time),
	}
}

func (m *Memory) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if at, ok := m.resetAt[key]; !ok || now.After(at) {
		m.counts[key] = 0
		m.resetAt[key] = now.Add(m.window)
	}
	m.counts[key]++
	if m.counts[key] > m.limit {
		return false, time.Until(m.resetAt[key]), nil
	}
	return true, 0, nil
}
