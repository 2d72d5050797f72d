package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/opencourt/courtyard/internal/domain"
)

// Resolve merges a facility override (nil when the facility has none) over
// the catalog defaults for one rule. The merge is per-field: an override
// key that is present always wins, even when its value is zero; keys the
// facility never set keep their defaults.
func Resolve(code domain.RuleCode, override *domain.FacilityRuleConfig) (*domain.EffectiveRuleConfig, error) {
	e, ok := byCode[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownRule, code)
	}
	eff := &domain.EffectiveRuleConfig{
		Code:     code,
		Enabled:  true,
		Severity: e.def.Severity,
		Params:   e.def.Params,
	}
	if override == nil {
		return eff, nil
	}
	if override.Enabled != nil {
		eff.Enabled = *override.Enabled
	}
	if override.Severity != nil {
		eff.Severity = *override.Severity
	}
	eff.CustomMessage = override.CustomMessage
	if len(override.Params) > 0 {
		merged, err := mergeParams(e.def.Params, override.Params)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", code, err)
		}
		eff.Params = merged
	}
	return eff, nil
}

// ResolveAll resolves every catalog rule in declaration order against the
// given override rows. Override rows for unknown codes are an error, never
// silently dropped.
func ResolveAll(overrides []*domain.FacilityRuleConfig) ([]domain.EffectiveRuleConfig, error) {
	byRule := make(map[domain.RuleCode]*domain.FacilityRuleConfig, len(overrides))
	for _, o := range overrides {
		if _, ok := byCode[o.Code]; !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownRule, o.Code)
		}
		byRule[o.Code] = o
	}
	out := make([]domain.EffectiveRuleConfig, 0, len(entries))
	for i := range entries {
		eff, err := Resolve(entries[i].def.Code, byRule[entries[i].def.Code])
		if err != nil {
			return nil, err
		}
		out = append(out, *eff)
	}
	return out, nil
}

func mergeParams(defaults, override json.RawMessage) (json.RawMessage, error) {
	var base, over map[string]json.RawMessage
	if err := json.Unmarshal(defaults, &base); err != nil {
		return nil, fmt.Errorf("merge params: defaults: %w", err)
	}
	if err := json.Unmarshal(override, &over); err != nil {
		return nil, fmt.Errorf("merge params: override: %w", err)
	}
	for k, v := range over {
		base[k] = v
	}
	merged, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("merge params: %w", err)
	}
	return merged, nil
}

// ValidateOverride checks a facility override before it is written: the
// code must exist in the catalog, the override keys must belong to the
// rule's parameter struct with the right types, and the merged values must
// be usable by the evaluator. Rejecting bad config at write time is what
// lets evaluation treat a decode failure as an internal error.
func ValidateOverride(cfg *domain.FacilityRuleConfig) error {
	e, ok := byCode[cfg.Code]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownRule, cfg.Code)
	}
	if cfg.Severity != nil && *cfg.Severity != domain.SeverityBlock && *cfg.Severity != domain.SeverityWarn {
		return fmt.Errorf("%w: rule %s: severity %q", domain.ErrInvalidConfig, cfg.Code, *cfg.Severity)
	}
	if len(cfg.Params) == 0 {
		return nil
	}
	merged, err := mergeParams(e.def.Params, cfg.Params)
	if err != nil {
		return fmt.Errorf("%w: rule %s: params are not a JSON object", domain.ErrInvalidConfig, cfg.Code)
	}
	params := e.newParams()
	dec := json.NewDecoder(bytes.NewReader(merged))
	dec.DisallowUnknownFields()
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("%w: rule %s: %v", domain.ErrInvalidConfig, cfg.Code, err)
	}
	if err := validateParams(cfg.Code, params); err != nil {
		return fmt.Errorf("%w: rule %s: %v", domain.ErrInvalidConfig, cfg.Code, err)
	}
	return nil
}

func validateParams(code domain.RuleCode, params any) error {
	switch p := params.(type) {
	case *MaxActiveParams:
		return nonNegative("max_active_reservations", p.MaxActiveReservations)
	case *WeeklyCountParams:
		return nonNegative("max_per_week", p.MaxPerWeek)
	case *WeeklyMinutesParams:
		return nonNegative("max_minutes_per_week", p.MaxMinutesPerWeek)
	case *AdvanceWindowParams:
		return nonNegative("max_days_ahead", p.MaxDaysAhead)
	case *MinLeadTimeParams:
		return nonNegative("min_minutes_before_start", p.MinMinutesBeforeStart)
	case *CancelCooldownParams:
		return nonNegative("cooldown_minutes", p.CooldownMinutes)
	case *CancellationNoticeParams:
		return nonNegative("late_cancel_cutoff_minutes", p.LateCancelCutoffMinutes)
	case *RateLimitParams:
		if p.WindowSeconds <= 0 {
			return fmt.Errorf("window_seconds must be positive, got %d", p.WindowSeconds)
		}
		return nonNegative("max_actions", p.MaxActions)
	case *PrimeWindowsParams:
		return validateWindows(p.Windows)
	case *PrimeDurationParams:
		return nonNegative("max_minutes_prime", p.MaxMinutesPrime)
	case *PrimeTierGateParams:
		for _, lvl := range p.AllowedTiers {
			if lvl < 0 {
				return fmt.Errorf("allowed_tiers contains negative level %d", lvl)
			}
		}
		return nil
	case *WeekendCapParams:
		return nonNegative("max_per_weekend", p.MaxPerWeekend)
	case *MaxDurationParams:
		return nonNegative("max_minutes", p.MaxMinutes)
	case *ReleaseScheduleParams:
		if err := nonNegative("days_ahead", p.DaysAhead); err != nil {
			return err
		}
		if _, err := time.Parse("15:04", p.ReleaseTimeLocal); err != nil {
			return fmt.Errorf("release_time_local %q is not HH:MM", p.ReleaseTimeLocal)
		}
		return nil
	case *HouseholdSizeParams:
		return nonNegative("max_members", p.MaxMembers)
	case *HouseholdActiveParams:
		return nonNegative("max_active_household", p.MaxActiveHousehold)
	case *HouseholdPrimeParams:
		return nonNegative("max_prime_per_week_household", p.MaxPrimePerWeekHousehold)
	case *noParams:
		return nil
	default:
		return fmt.Errorf("unhandled parameter type for %s", code)
	}
}

func nonNegative(field string, v int) error {
	if v < 0 {
		return fmt.Errorf("%s must not be negative, got %d", field, v)
	}
	return nil
}

// validateWindows rejects malformed windows and windows that overlap on any
// shared day. Non-overlap is an invariant the prime-counting rules rely on.
func validateWindows(windows []domain.PrimeWindow) error {
	type span struct {
		start, end int
		idx        int
	}
	perDay := make(map[string][]span)
	for i := range windows {
		w := &windows[i]
		if err := w.Validate(); err != nil {
			return fmt.Errorf("window %d: %w", i, err)
		}
		ws, we, _ := w.Minutes()
		for _, d := range w.Days {
			perDay[d] = append(perDay[d], span{start: ws, end: we, idx: i})
		}
	}
	for day, spans := range perDay {
		sort.Slice(spans, func(a, b int) bool { return spans[a].start < spans[b].start })
		for i := 1; i < len(spans); i++ {
			if spans[i].start < spans[i-1].end {
				return fmt.Errorf("windows %d and %d overlap on %s", spans[i-1].idx, spans[i].idx, day)
			}
		}
	}
	return nil
}

// IsConfigError reports whether err stems from a rejected override, as
// opposed to an unknown rule or an internal failure.
func IsConfigError(err error) bool {
	return errors.Is(err, domain.ErrInvalidConfig)
}
