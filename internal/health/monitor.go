// Package health tracks whether the upstream AI provider is usable.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultMaxFailures = 3
	defaultStaleAfter  = 5 * time.Minute
)

// Prober performs a cheap validation call against the provider.
type Prober interface {
	Probe(ctx context.Context) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Monitor couples passive success/failure tracking with bounded active
// re-probing. It is injected into every component that calls the provider;
// there is no package-level instance.
type Monitor struct {
	prober      Prober
	maxFailures int
	staleAfter  time.Duration
	clock       Clock

	mu          sync.Mutex
	lastSuccess time.Time
	failures    int
}

// NewMonitor creates a Monitor. Non-positive thresholds fall back to the
// defaults (3 failures, 5 minute staleness).
func NewMonitor(prober Prober, maxFailures int, staleAfter time.Duration) *Monitor {
	if maxFailures <= 0 {
		maxFailures = defaultMaxFailures
	}
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &Monitor{
		prober:      prober,
		maxFailures: maxFailures,
		staleAfter:  staleAfter,
		clock:       realClock{},
	}
}

// NewMonitorWithClock creates a Monitor with a custom clock (for testing).
func NewMonitorWithClock(prober Prober, maxFailures int, staleAfter time.Duration, clock Clock) *Monitor {
	m := NewMonitor(prober, maxFailures, staleAfter)
	m.clock = clock
	return m
}

// RecordSuccess resets the failure count and refreshes the success timestamp.
func (m *Monitor) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = 0
	m.lastSuccess = m.clock.Now()
}

// RecordFailure increments the consecutive failure count.
func (m *Monitor) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

// IsHealthy reports whether the provider is currently usable.
//
// The failure threshold is checked first so a down provider is not hammered
// on every turn. A fresh success short-circuits to true. Otherwise a single
// active probe runs under the caller's context and its outcome is recorded,
// so the monitor can never wedge permanently in a stale state.
func (m *Monitor) IsHealthy(ctx context.Context) bool {
	m.mu.Lock()
	if m.failures >= m.maxFailures {
		m.mu.Unlock()
		return false
	}
	fresh := !m.lastSuccess.IsZero() && m.clock.Now().Sub(m.lastSuccess) < m.staleAfter
	m.mu.Unlock()

	if fresh {
		return true
	}

	if err := m.prober.Probe(ctx); err != nil {
		slog.Warn("health probe failed", "error", err)
		m.RecordFailure()
		return false
	}
	m.RecordSuccess()
	return true
}

// ProbeNow forces an active probe regardless of thresholds and records the
// outcome. A success here is the only way out once the failure threshold has
// tripped, short of organic traffic recovering the provider.
func (m *Monitor) ProbeNow(ctx context.Context) error {
	if err := m.prober.Probe(ctx); err != nil {
		m.RecordFailure()
		return err
	}
	m.RecordSuccess()
	return nil
}

// Snapshot returns the current counters for status reporting.
func (m *Monitor) Snapshot() (lastSuccess time.Time, consecutiveFailures int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSuccess, m.failures
}
