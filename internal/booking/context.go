// Package booking assembles evaluation contexts and drives the
// evaluate-then-commit pipeline.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opencourt/courtyard/internal/catalog"
	"github.com/opencourt/courtyard/internal/domain"
	"github.com/opencourt/courtyard/internal/ratelimit"
	"github.com/opencourt/courtyard/internal/repository"
	"github.com/opencourt/courtyard/internal/strikes"
)

// ContextBuilder loads everything the rule evaluators need into one
// read-only snapshot. All store reads happen here; a failed read surfaces
// as ErrContextUnavailable so blocking rules fail closed rather than
// evaluating against missing data.
type ContextBuilder struct {
	repo    domain.Repository
	strikes *strikes.Tracker
	limiter ratelimit.Limiter
}

func NewContextBuilder(repo domain.Repository, tracker *strikes.Tracker, limiter ratelimit.Limiter) *ContextBuilder {
	return &ContextBuilder{repo: repo, strikes: tracker, limiter: limiter}
}

// Build assembles the evaluation context for one request. effective must be
// the facility's resolved rule set; the builder reads the prime-window,
// rate-limit, and cancel-cooldown parameters out of it so the evaluators
// and the builder agree on the same configuration.
func (b *ContextBuilder) Build(ctx context.Context, req *domain.BookingRequest, role domain.Role, effective []domain.EffectiveRuleConfig, now time.Time) (*domain.EvaluationContext, error) {
	settings, err := b.repo.GetFacilitySettings(ctx, req.FacilityID)
	if errors.Is(err, repository.ErrNotFound) {
		settings = domain.DefaultFacilitySettings(req.FacilityID)
	} else if err != nil {
		return nil, fmt.Errorf("%w: facility settings: %v", domain.ErrContextUnavailable, err)
	}

	loc := settings.Location()
	slotStart, slotEnd, err := req.Slot(loc)
	if err != nil {
		return nil, fmt.Errorf("invalid booking request: %w", err)
	}

	weekStart := domain.WeekStartFor(slotStart, loc)
	weekEnd := weekStart.AddDate(0, 0, 7)

	ectx := &domain.EvaluationContext{
		Request:   *req,
		Now:       now,
		Role:      role,
		Facility:  settings,
		SlotStart: slotStart,
		SlotEnd:   slotEnd,
		WeekStart: weekStart,
		WeekEnd:   weekEnd,
	}

	if cfg := findEffective(effective, domain.RulePrimeWindows); cfg != nil && cfg.Enabled {
		var p catalog.PrimeWindowsParams
		if err := cfg.DecodeParams(&p); err != nil {
			return nil, fmt.Errorf("%w: prime windows: %v", domain.ErrContextUnavailable, err)
		}
		ectx.PrimeWindows = p.Windows
	}

	tier, err := b.repo.EffectiveTier(ctx, req.FacilityID, req.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("%w: membership tier: %v", domain.ErrContextUnavailable, err)
	}
	ectx.Tier = tier

	// Reservations from the earlier of now and the requested week's start
	// cover both "active" counts and week-bucketed counts in one read.
	from := now
	if weekStart.Before(from) {
		from = weekStart
	}
	userRes, err := b.repo.ListReservations(ctx, req.FacilityID, []string{req.UserID}, from, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("%w: reservations: %v", domain.ErrContextUnavailable, err)
	}
	ectx.UserReservations = userRes

	if settings.RestrictionMode == domain.RestrictByHousehold {
		if err := b.attachHousehold(ctx, ectx, from); err != nil {
			return nil, err
		}
	}

	lockout, err := b.strikes.Status(ctx, settings, req.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrContextUnavailable, err)
	}
	ectx.Lockout = lockout

	if cfg := findEffective(effective, domain.RuleRateLimit); cfg != nil && cfg.Enabled {
		var p catalog.RateLimitParams
		if err := cfg.DecodeParams(&p); err != nil {
			return nil, fmt.Errorf("%w: rate limit: %v", domain.ErrContextUnavailable, err)
		}
		count, err := b.limiter.Count(ctx, req.FacilityID, req.UserID, now, time.Duration(p.WindowSeconds)*time.Second)
		if err != nil {
			return nil, fmt.Errorf("%w: action count: %v", domain.ErrContextUnavailable, err)
		}
		ectx.ActionCount = count
	}

	if cfg := findEffective(effective, domain.RuleCancelCooldown); cfg != nil && cfg.Enabled {
		var p catalog.CancelCooldownParams
		if err := cfg.DecodeParams(&p); err != nil {
			return nil, fmt.Errorf("%w: cancel cooldown: %v", domain.ErrContextUnavailable, err)
		}
		since := now.Add(-time.Duration(p.CooldownMinutes) * time.Minute)
		cancels, err := b.repo.ListActions(ctx, req.FacilityID, req.UserID, domain.ActionCancel, since)
		if err != nil {
			return nil, fmt.Errorf("%w: recent cancellations: %v", domain.ErrContextUnavailable, err)
		}
		ectx.RecentCancellations = cancels
	}

	return ectx, nil
}

// attachHousehold loads the household snapshot with live aggregates over
// verified members only.
func (b *ContextBuilder) attachHousehold(ctx context.Context, ectx *domain.EvaluationContext, from time.Time) error {
	household, members, err := b.repo.HouseholdForUser(ctx, ectx.Request.FacilityID, ectx.Request.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: household: %v", domain.ErrContextUnavailable, err)
	}

	verified := make([]string, 0, len(members))
	for _, m := range members {
		if m.VerificationStatus == domain.VerificationVerified {
			verified = append(verified, m.UserID)
		}
	}

	snapshot := &domain.HouseholdSnapshot{Household: household, Members: members}
	if len(verified) > 0 {
		reservations, err := b.repo.ListReservations(ctx, ectx.Request.FacilityID, verified, from, time.Time{})
		if err != nil {
			return fmt.Errorf("%w: household reservations: %v", domain.ErrContextUnavailable, err)
		}
		ectx.HouseholdReservations = reservations
		for i := range reservations {
			r := &reservations[i]
			if r.StartAt.After(ectx.Now) {
				snapshot.ActiveCount++
			}
			if ectx.InWeek(r.StartAt) && ectx.ReservationIsPrime(r) {
				snapshot.PrimeThisWeek++
			}
		}
	}
	ectx.Household = snapshot
	return nil
}

func findEffective(effective []domain.EffectiveRuleConfig, code domain.RuleCode) *domain.EffectiveRuleConfig {
	for i := range effective {
		if effective[i].Code == code {
			return &effective[i]
		}
	}
	return nil
}
