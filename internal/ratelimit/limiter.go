// Package ratelimit provides exact sliding-window counting of
// booking-mutating actions. The window is exact, not bucketed: an action
// counts while it sits inside [now-window, now] and stops counting the
// instant it is older than that.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/opencourt/courtyard/internal/domain"
)

// Limiter counts a user's recent actions for the rate-limit rule.
type Limiter interface {
	// Record notes that the user performed a booking-mutating action at t.
	Record(ctx context.Context, facilityID, userID string, t time.Time) error
	// Count returns the number of recorded actions within window of now.
	Count(ctx context.Context, facilityID, userID string, now time.Time, window time.Duration) (int64, error)
}

// LogLimiter counts against the persistent action log, so restarts do not
// reset the window. Record is a no-op because the booking service already
// appends to the log for audit purposes.
type LogLimiter struct {
	repo domain.Repository
}

func NewLogLimiter(repo domain.Repository) *LogLimiter {
	return &LogLimiter{repo: repo}
}

func (l *LogLimiter) Record(ctx context.Context, facilityID, userID string, t time.Time) error {
	return nil
}

func (l *LogLimiter) Count(ctx context.Context, facilityID, userID string, now time.Time, window time.Duration) (int64, error) {
	return l.repo.CountActions(ctx, facilityID, userID, "", now.Add(-window))
}

// MemoryLimiter keeps per-user timestamp slices in memory. Used in tests
// and as a fallback when no repository or Redis is wired.
type MemoryLimiter struct {
	mu      sync.Mutex
	actions map[string][]time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{actions: make(map[string][]time.Time)}
}

func (l *MemoryLimiter) Record(ctx context.Context, facilityID, userID string, t time.Time) error {
	key := facilityID + ":" + userID
	l.mu.Lock()
	l.actions[key] = append(l.actions[key], t)
	l.mu.Unlock()
	return nil
}

func (l *MemoryLimiter) Count(ctx context.Context, facilityID, userID string, now time.Time, window time.Duration) (int64, error) {
	key := facilityID + ":" + userID
	cutoff := now.Add(-window)
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.actions[key][:0]
	var count int64
	for _, t := range l.actions[key] {
		if !t.Before(cutoff) {
			kept = append(kept, t)
			count++
		}
	}
	l.actions[key] = kept
	return count, nil
}
