package rules

import (
	"github.com/opencourt/courtyard/internal/catalog"
	"github.com/opencourt/courtyard/internal/domain"
)

// Household rules. These only bite when the facility restricts by household
// and the builder attached a snapshot; otherwise they pass. Per-household
// cap overrides on the household row take precedence over rule parameters.

// Household size is enforced when a member is added, inside the insert
// transaction. A booking can never change household size.
func evalHouseholdSize(ctx *domain.EvaluationContext, cfg *domain.EffectiveRuleConfig) domain.RuleOutcome {
	return domain.Pass(cfg.Code)
}

func evalHouseholdActiveCap(ctx *domain.EvaluationContext, cfg *domain.EffectiveRuleConfig) domain.RuleOutcome {
	if ctx.Household == nil {
		return domain.Pass(cfg.Code)
	}
	var p catalog.HouseholdActiveParams
	if err := cfg.DecodeParams(&p); err != nil {
		return domain.Violate(cfg.Code, "invalid rule parameters")
	}
	limit := p.MaxActiveHousehold
	if ctx.Household.Household != nil && ctx.Household.Household.MaxActiveReservations != nil {
		limit = *ctx.Household.Household.MaxActiveReservations
	}
	if ctx.Household.ActiveCount >= limit {
		return domain.Violate(cfg.Code, "household already holds %d of %d allowed upcoming reservations", ctx.Household.ActiveCount, limit)
	}
	return domain.Pass(cfg.Code)
}

func evalHouseholdPrimeCap(ctx *domain.EvaluationContext, cfg *domain.EffectiveRuleConfig) domain.RuleOutcome {
	if ctx.Household == nil || !ctx.SlotIsPrime() {
		return domain.Pass(cfg.Code)
	}
	var p catalog.HouseholdPrimeParams
	if err := cfg.DecodeParams(&p); err != nil {
		return domain.Violate(cfg.Code, "invalid rule parameters")
	}
	limit := p.MaxPrimePerWeekHousehold
	if ctx.Household.Household != nil && ctx.Household.Household.PrimeTimeMaxPerWeek != nil {
		limit = *ctx.Household.Household.PrimeTimeMaxPerWeek
	}
	if ctx.Household.PrimeThisWeek >= limit {
		return domain.Violate(cfg.Code, "household prime-time weekly limit of %d reached", limit)
	}
	return domain.Pass(cfg.Code)
}
