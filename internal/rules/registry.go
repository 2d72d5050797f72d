// Package rules holds the built-in rule evaluators and the evaluation
// engine. Evaluators are pure functions over a pre-assembled context: all
// I/O happens in the context builder, which keeps every evaluator trivially
// testable and the full walk deterministic.
package rules

import (
	"fmt"

	"github.com/opencourt/courtyard/internal/catalog"
	"github.com/opencourt/courtyard/internal/domain"
)

// EvalFunc evaluates one rule against the context using its effective
// (merged) configuration.
type EvalFunc func(*domain.EvaluationContext, *domain.EffectiveRuleConfig) domain.RuleOutcome

// registry binds every catalog code to its evaluator. The init check below
// makes a catalog/registry mismatch a startup panic rather than a rule that
// silently never runs.
var registry = map[domain.RuleCode]EvalFunc{
	domain.RuleMaxActiveReservations: evalMaxActive,
	domain.RuleMaxPerWeek:            evalMaxPerWeek,
	domain.RuleMaxMinutesPerWeek:     evalMaxMinutesPerWeek,
	domain.RuleNoOverlap:             evalNoOverlap,
	domain.RuleAdvanceWindow:         evalAdvanceWindow,
	domain.RuleMinLeadTime:           evalMinLeadTime,
	domain.RuleCancelCooldown:        evalCancelCooldown,
	domain.RuleCancellationNotice:    evalCancellationNotice,
	domain.RuleLockout:               evalLockout,
	domain.RulePrimeWeeklyCap:        evalPrimeWeeklyCap,
	domain.RuleRateLimit:             evalRateLimit,
	domain.RulePrimeWindows:          evalPrimeWindows,
	domain.RulePrimeDurationCap:      evalPrimeDurationCap,
	domain.RulePrimeTierGate:         evalPrimeTierGate,
	domain.RuleWeekendCap:            evalWeekendCap,
	domain.RuleMaxDuration:           evalMaxDuration,
	domain.RulePerCourtWeeklyCap:     evalPerCourtWeeklyCap,
	domain.RuleReleaseSchedule:       evalReleaseSchedule,
	domain.RuleHouseholdSize:         evalHouseholdSize,
	domain.RuleHouseholdActiveCap:    evalHouseholdActiveCap,
	domain.RuleHouseholdPrimeCap:     evalHouseholdPrimeCap,
}

func init() {
	for _, code := range catalog.Codes() {
		if _, ok := registry[code]; !ok {
			panic(fmt.Sprintf("rules: catalog code %s has no evaluator", code))
		}
	}
	for code := range registry {
		if _, ok := catalog.Get(code); !ok {
			panic(fmt.Sprintf("rules: evaluator for %s has no catalog entry", code))
		}
	}
}
