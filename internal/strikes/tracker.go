// Package strikes derives lockout state from the append-only strike ledger.
// Nothing here is stored: revoking a strike or letting one age out of the
// window changes the derived state immediately and retroactively.
package strikes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/opencourt/courtyard/internal/domain"
)

// Tracker issues, revokes, and aggregates strikes.
type Tracker struct {
	repo   domain.Repository
	bus    domain.EventBus
	logger *slog.Logger
}

// NewTracker creates a Tracker. bus may be nil in tests.
func NewTracker(repo domain.Repository, bus domain.EventBus, logger *slog.Logger) *Tracker {
	return &Tracker{repo: repo, bus: bus, logger: logger}
}

// Issue appends a strike to the ledger and announces it on the bus.
func (t *Tracker) Issue(ctx context.Context, s *domain.Strike) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.IssuedAt.IsZero() {
		s.IssuedAt = time.Now().UTC()
	}
	if err := t.repo.SaveStrike(ctx, s); err != nil {
		return fmt.Errorf("save strike: %w", err)
	}
	t.logger.Info("strike issued",
		"facility_id", s.FacilityID, "user_id", s.UserID, "type", s.Type, "strike_id", s.ID)
	if t.bus != nil {
		payload, _ := json.Marshal(s)
		if err := t.bus.Publish(ctx, s.FacilityID, domain.TopicStrikeIssued, payload); err != nil {
			t.logger.Warn("publish strike event", "error", err)
		}
	}
	return nil
}

// Revoke marks a strike revoked. Derived lockout state reflects the
// revocation on the next read.
func (t *Tracker) Revoke(ctx context.Context, facilityID, strikeID string) error {
	return t.repo.RevokeStrike(ctx, facilityID, strikeID)
}

// Status computes the lockout view for a user at a point in time. Only
// strikes that are unrevoked, unexpired, and issued within the facility's
// strike window count. When the count reaches the threshold, the lockout
// runs from the most recent counted strike; once it lapses the state
// returns to clear, even while the strikes remain in the window.
func (t *Tracker) Status(ctx context.Context, settings *domain.FacilitySettings, userID string, at time.Time) (domain.LockoutStatus, error) {
	since := at.AddDate(0, 0, -settings.StrikeWindowDays)
	all, err := t.repo.ListStrikes(ctx, settings.FacilityID, userID, since)
	if err != nil {
		return domain.LockoutStatus{}, fmt.Errorf("list strikes: %w", err)
	}
	counted := make([]*domain.Strike, 0, len(all))
	for _, s := range all {
		if s.Revoked {
			continue
		}
		if s.ExpiresAt != nil && !s.ExpiresAt.After(at) {
			continue
		}
		counted = append(counted, s)
	}
	status := domain.LockoutStatus{State: domain.LockoutClear, StrikeCount: len(counted)}
	if len(counted) == 0 {
		return status, nil
	}
	if len(counted) < settings.StrikeThreshold {
		status.State = domain.LockoutWarned
		return status, nil
	}
	sort.Slice(counted, func(i, j int) bool { return counted[i].IssuedAt.Before(counted[j].IssuedAt) })
	trigger := counted[len(counted)-1]
	until := trigger.IssuedAt.AddDate(0, 0, settings.StrikeLockoutDays)
	if until.After(at) {
		status.State = domain.LockedOut
		status.LockedUntil = &until
	}
	return status, nil
}
