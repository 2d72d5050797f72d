package rules

import (
	"time"

	"github.com/opencourt/courtyard/internal/catalog"
	"github.com/opencourt/courtyard/internal/domain"
)

// Court rules.

// The prime-windows rule is a definition container: its parameters describe
// when prime time is, and the context builder resolves them into
// ctx.PrimeWindows for every prime-aware rule to share. On its own it never
// blocks anything.
func evalPrimeWindows(ctx *domain.EvaluationContext, cfg *domain.EffectiveRuleConfig) domain.RuleOutcome {
	return domain.Pass(cfg.Code)
}

func evalPrimeDurationCap(ctx *domain.EvaluationContext, cfg *domain.EffectiveRuleConfig) domain.RuleOutcome {
	if !ctx.SlotIsPrime() {
		return domain.Pass(cfg.Code)
	}
	var p catalog.PrimeDurationParams
	if err := cfg.DecodeParams(&p); err != nil {
		return domain.Violate(cfg.Code, "invalid rule parameters")
	}
	minutes := int(ctx.SlotEnd.Sub(ctx.SlotStart) / time.Minute)
	if minutes > p.MaxMinutesPrime {
		return domain.Violate(cfg.Code, "prime-time reservations are limited to %d minutes", p.MaxMinutesPrime)
	}
	return domain.Pass(cfg.Code)
}

func evalPrimeTierGate(ctx *domain.EvaluationContext, cfg *domain.EffectiveRuleConfig) domain.RuleOutcome {
	if !ctx.SlotIsPrime() {
		return domain.Pass(cfg.Code)
	}
	var p catalog.PrimeTierGateParams
	if err := cfg.DecodeParams(&p); err != nil {
		return domain.Violate(cfg.Code, "invalid rule parameters")
	}
	if p.AdminOverride && ctx.Role == domain.RoleAdmin {
		return domain.Pass(cfg.Code)
	}
	eligible := false
	switch {
	case ctx.Tier == nil:
		// No tier at all means no prime eligibility.
	case len(p.AllowedTiers) > 0:
		for _, lvl := range p.AllowedTiers {
			if lvl == ctx.Tier.TierLevel {
				eligible = true
				break
			}
		}
	default:
		eligible = ctx.Tier.PrimeTimeEligible
	}
	if !eligible {
		return domain.Violate(cfg.Code, "membership tier is not eligible for prime-time slots")
	}
	return domain.Pass(cfg.Code)
}

func evalWeekendCap(ctx *domain.EvaluationContext, cfg *domain.EffectiveRuleConfig) domain.RuleOutcome {
	day := ctx.SlotStart.Weekday()
	if day != time.Saturday && day != time.Sunday {
		return domain.Pass(cfg.Code)
	}
	var p catalog.WeekendCapParams
	if err := cfg.DecodeParams(&p); err != nil {
		return domain.Violate(cfg.Code, "invalid rule parameters")
	}
	loc := ctx.Facility.Location()
	count := 0
	for i := range ctx.UserReservations {
		r := &ctx.UserReservations[i]
		if !ctx.InWeek(r.StartAt) {
			continue
		}
		wd := r.StartAt.In(loc).Weekday()
		if wd == time.Saturday || wd == time.Sunday {
			count++
		}
	}
	if count >= p.MaxPerWeekend {
		return domain.Violate(cfg.Code, "weekend reservation limit of %d reached", p.MaxPerWeekend)
	}
	return domain.Pass(cfg.Code)
}

func evalMaxDuration(ctx *domain.EvaluationContext, cfg *domain.EffectiveRuleConfig) domain.RuleOutcome {
	var p catalog.MaxDurationParams
	if err := cfg.DecodeParams(&p); err != nil {
		return domain.Violate(cfg.Code, "invalid rule parameters")
	}
	minutes := int(ctx.SlotEnd.Sub(ctx.SlotStart) / time.Minute)
	if minutes > p.MaxMinutes {
		return domain.Violate(cfg.Code, "reservations are limited to %d minutes", p.MaxMinutes)
	}
	return domain.Pass(cfg.Code)
}

func evalPerCourtWeeklyCap(ctx *domain.EvaluationContext, cfg *domain.EffectiveRuleConfig) domain.RuleOutcome {
	var p catalog.WeeklyCountParams
	if err := cfg.DecodeParams(&p); err != nil {
		return domain.Violate(cfg.Code, "invalid rule parameters")
	}
	count := 0
	for i := range ctx.UserReservations {
		r := &ctx.UserReservations[i]
		if r.CourtID == ctx.Request.CourtID && ctx.InWeek(r.StartAt) {
			count++
		}
	}
	if count >= p.MaxPerWeek {
		return domain.Violate(cfg.Code, "limit of %d reservations per week on this court reached", p.MaxPerWeek)
	}
	return domain.Pass(cfg.Code)
}

func evalReleaseSchedule(ctx *domain.EvaluationContext, cfg *domain.EffectiveRuleConfig) domain.RuleOutcome {
	var p catalog.ReleaseScheduleParams
	if err := cfg.DecodeParams(&p); err != nil {
		return domain.Violate(cfg.Code, "invalid rule parameters")
	}
	release, err := time.Parse("15:04", p.ReleaseTimeLocal)
	if err != nil {
		return domain.Violate(cfg.Code, "invalid rule parameters")
	}
	loc := ctx.Facility.Location()
	slot := ctx.SlotStart.In(loc)
	unlock := time.Date(slot.Year(), slot.Month(), slot.Day(), release.Hour(), release.Minute(), 0, 0, loc).
		AddDate(0, 0, -p.DaysAhead)
	if ctx.Now.Before(unlock) {
		return domain.Violate(cfg.Code, "this date opens for booking at %s", unlock.Format("2006-01-02 15:04"))
	}
	return domain.Pass(cfg.Code)
}
