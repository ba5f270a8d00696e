// Package cleanup prunes expired conversation data in the background.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	defaultInterval      = time.Hour
	defaultMessageMaxAge = 24 * time.Hour
	defaultSessionMaxAge = 7 * 24 * time.Hour
)

// Store is the retention surface of the storage layer.
type Store interface {
	DeleteMessagesBefore(cutoff time.Time) (int64, error)
	DeleteStaleSessions(cutoff time.Time) (int64, error)
}

// Worker periodically deletes old messages and stale sessions. Message
// history only feeds the AI prompt window, so anything past the retention
// age is dead weight.
type Worker struct {
	store         Store
	interval      time.Duration
	messageMaxAge time.Duration
	sessionMaxAge time.Duration
}

// NewWorker creates a Worker. Non-positive durations fall back to the
// defaults (hourly sweep, 24h messages, 7d sessions).
func NewWorker(store Store, interval, messageMaxAge, sessionMaxAge time.Duration) *Worker {
	if interval <= 0 {
		interval = defaultInterval
	}
	if messageMaxAge <= 0 {
		messageMaxAge = defaultMessageMaxAge
	}
	if sessionMaxAge <= 0 {
		sessionMaxAge = defaultSessionMaxAge
	}
	return &Worker{
		store:         store,
		interval:      interval,
		messageMaxAge: messageMaxAge,
		sessionMaxAge: sessionMaxAge,
	}
}

// Run sweeps once immediately and then on every interval tick until the
// context is canceled. Sweep errors are logged and the loop continues.
func (w *Worker) Run(ctx context.Context) {
	w.sweep()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *Worker) sweep() {
	messages, sessions, err := Sweep(w.store, w.messageMaxAge, w.sessionMaxAge)
	if err != nil {
		slog.Error("cleanup sweep failed", "error", err)
		return
	}
	if messages > 0 || sessions > 0 {
		slog.Info("cleanup sweep done", "messages_deleted", messages, "sessions_deleted", sessions)
	}
}

// Sweep deletes messages older than messageMaxAge and sessions idle longer
// than sessionMaxAge, returning the deleted counts. It is also called
// directly by the operator CLI.
func Sweep(store Store, messageMaxAge, sessionMaxAge time.Duration) (messages, sessions int64, err error) {
	now := time.Now().UTC()

	messages, err = store.DeleteMessagesBefore(now.Add(-messageMaxAge))
	if err != nil {
		return 0, 0, fmt.Errorf("deleting old messages: %w", err)
	}

	sessions, err = store.DeleteStaleSessions(now.Add(-sessionMaxAge))
	if err != nil {
		return messages, 0, fmt.Errorf("deleting stale sessions: %w", err)
	}
	return messages, sessions, nil
}
