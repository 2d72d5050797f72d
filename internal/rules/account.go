package rules

import (
	"time"

	"github.com/opencourt/courtyard/internal/catalog"
	"github.com/opencourt/courtyard/internal/domain"
)

// Account rules. Tier limits, when set, take precedence over the rule's
// configured parameter for the same dimension.

func evalMaxActive(ctx *domain.EvaluationContext, cfg *domain.EffectiveRuleConfig) domain.RuleOutcome {
	var p catalog.MaxActiveParams
	if err := cfg.DecodeParams(&p); err != nil {
		return domain.Violate(cfg.Code, "invalid rule parameters")
	}
	limit := p.MaxActiveReservations
	if ctx.Tier != nil && ctx.Tier.MaxActiveReservations != nil {
		limit = *ctx.Tier.MaxActiveReservations
	}
	active := 0
	for i := range ctx.UserReservations {
		if ctx.UserReservations[i].StartAt.After(ctx.Now) {
			active++
		}
	}
	if active >= limit {
		return domain.Violate(cfg.Code, "account already holds %d of %d allowed upcoming reservations", active, limit)
	}
	return domain.Pass(cfg.Code)
}

func evalMaxPerWeek(ctx *domain.EvaluationContext, cfg *domain.EffectiveRuleConfig) domain.RuleOutcome {
	var p catalog.WeeklyCountParams
	if err := cfg.DecodeParams(&p); err != nil {
		return domain.Violate(cfg.Code, "invalid rule parameters")
	}
	limit := p.MaxPerWeek
	if ctx.Tier != nil && ctx.Tier.MaxReservationsPerWeek != nil {
		limit = *ctx.Tier.MaxReservationsPerWeek
	}
	count := 0
	for i := range ctx.UserReservations {
		if ctx.InWeek(ctx.UserReservations[i].StartAt) {
			count++
		}
	}
	if count >= limit {
		return domain.Violate(cfg.Code, "weekly reservation limit of %d reached", limit)
	}
	return domain.Pass(cfg.Code)
}

func evalMaxMinutesPerWeek(ctx *domain.EvaluationContext, cfg *domain.EffectiveRuleConfig) domain.RuleOutcome {
	var p catalog.WeeklyMinutesParams
	if err := cfg.DecodeParams(&p); err != nil {
		return domain.Violate(cfg.Code, "invalid rule parameters")
	}
	limit := p.MaxMinutesPerWeek
	if ctx.Tier != nil && ctx.Tier.MaxMinutesPerWeek != nil {
		limit = *ctx.Tier.MaxMinutesPerWeek
	}
	booked := 0
	for i := range ctx.UserReservations {
		if ctx.InWeek(ctx.UserReservations[i].StartAt) {
			booked += ctx.UserReservations[i].DurationMinutes
		}
	}
	if booked >= limit {
		return domain.Violate(cfg.Code, "weekly limit of %d minutes reached (already booked: %d)", limit, booked)
	}
	return domain.Pass(cfg.Code)
}

func evalNoOverlap(ctx *domain.EvaluationContext, cfg *domain.EffectiveRuleConfig) domain.RuleOutcome {
	for i := range ctx.UserReservations {
		r := &ctx.UserReservations[i]
		if r.Overlaps(ctx.SlotStart, ctx.SlotEnd) {
			return domain.Violate(cfg.Code, "overlaps an existing reservation on court %s at %s", r.CourtID, r.StartTime)
		}
	}
	return domain.Pass(cfg.Code)
}

func evalAdvanceWindow(ctx *domain.EvaluationContext, cfg *domain.EffectiveRuleConfig) domain.RuleOutcome {
	var p catalog.AdvanceWindowParams
	if err := cfg.DecodeParams(&p); err != nil {
		return domain.Violate(cfg.Code, "invalid rule parameters")
	}
	maxDays := p.MaxDaysAhead
	if ctx.Tier != nil && ctx.Tier.AdvanceBookingDays > 0 {
		maxDays = ctx.Tier.AdvanceBookingDays
	}
	loc := ctx.Facility.Location()
	now := ctx.Now.In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	slotDate := time.Date(ctx.SlotStart.Year(), ctx.SlotStart.Month(), ctx.SlotStart.Day(), 0, 0, 0, 0, loc)
	if slotDate.After(today.AddDate(0, 0, maxDays)) {
		return domain.Violate(cfg.Code, "date is more than %d days ahead", maxDays)
	}
	return domain.Pass(cfg.Code)
}

func evalMinLeadTime(ctx *domain.EvaluationContext, cfg *domain.EffectiveRuleConfig) domain.RuleOutcome {
	var p catalog.MinLeadTimeParams
	if err := cfg.DecodeParams(&p); err != nil {
		return domain.Violate(cfg.Code, "invalid rule parameters")
	}
	lead := ctx.SlotStart.Sub(ctx.Now)
	if lead < time.Duration(p.MinMinutesBeforeStart)*time.Minute {
		return domain.Violate(cfg.Code, "slot starts in less than %d minutes", p.MinMinutesBeforeStart)
	}
	return domain.Pass(cfg.Code)
}

func evalCancelCooldown(ctx *domain.EvaluationContext, cfg *domain.EffectiveRuleConfig) domain.RuleOutcome {
	var p catalog.CancelCooldownParams
	if err := cfg.DecodeParams(&p); err != nil {
		return domain.Violate(cfg.Code, "invalid rule parameters")
	}
	cooldown := time.Duration(p.CooldownMinutes) * time.Minute
	for i := range ctx.RecentCancellations {
		rec := &ctx.RecentCancellations[i]
		if rec.CourtID != ctx.Request.CourtID || rec.Date != ctx.Request.Date || rec.StartTime != ctx.Request.StartTime {
			continue
		}
		if ctx.Now.Sub(rec.At) < cooldown {
			return domain.Violate(cfg.Code, "this slot was cancelled less than %d minutes ago", p.CooldownMinutes)
		}
	}
	return domain.Pass(cfg.Code)
}

// Cancellation notice is enforced on the cancel path, where the cutoff
// decides whether the cancellation earns a strike. At booking time there is
// nothing to check.
func evalCancellationNotice(ctx *domain.EvaluationContext, cfg *domain.EffectiveRuleConfig) domain.RuleOutcome {
	return domain.Pass(cfg.Code)
}

func evalLockout(ctx *domain.EvaluationContext, cfg *domain.EffectiveRuleConfig) domain.RuleOutcome {
	if ctx.Lockout.State != domain.LockedOut || ctx.Lockout.LockedUntil == nil {
		return domain.Pass(cfg.Code)
	}
	// A lockout blocks slots that start before it lifts, not every
	// submission made while locked out.
	if ctx.Lockout.LockedUntil.After(ctx.SlotStart) {
		return domain.Violate(cfg.Code, "account is locked out until %s", ctx.Lockout.LockedUntil.Format("2006-01-02"))
	}
	return domain.Pass(cfg.Code)
}

func evalPrimeWeeklyCap(ctx *domain.EvaluationContext, cfg *domain.EffectiveRuleConfig) domain.RuleOutcome {
	if !ctx.SlotIsPrime() {
		return domain.Pass(cfg.Code)
	}
	var p catalog.WeeklyCountParams
	if err := cfg.DecodeParams(&p); err != nil {
		return domain.Violate(cfg.Code, "invalid rule parameters")
	}
	limit := p.MaxPerWeek
	if ctx.Tier != nil && ctx.Tier.PrimeTimeMaxPerWeek != nil {
		limit = *ctx.Tier.PrimeTimeMaxPerWeek
	}
	count := 0
	for i := range ctx.UserReservations {
		r := &ctx.UserReservations[i]
		if ctx.InWeek(r.StartAt) && ctx.ReservationIsPrime(r) {
			count++
		}
	}
	if count >= limit {
		return domain.Violate(cfg.Code, "prime-time weekly limit of %d reached", limit)
	}
	return domain.Pass(cfg.Code)
}

func evalRateLimit(ctx *domain.EvaluationContext, cfg *domain.EffectiveRuleConfig) domain.RuleOutcome {
	var p catalog.RateLimitParams
	if err := cfg.DecodeParams(&p); err != nil {
		return domain.Violate(cfg.Code, "invalid rule parameters")
	}
	if ctx.ActionCount >= int64(p.MaxActions) {
		return domain.Violate(cfg.Code, "too many booking actions, try again later")
	}
	return domain.Pass(cfg.Code)
}
