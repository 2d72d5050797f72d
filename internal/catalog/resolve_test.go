package catalog

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/opencourt/courtyard/internal/domain"
)

func boolPtr(b bool) *bool            { return &b }
func sevPtr(s domain.Severity) *domain.Severity { return &s }

func TestResolveDefaults(t *testing.T) {
	eff, err := Resolve(domain.RuleAdvanceWindow, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !eff.Enabled {
		t.Error("expected rule enabled by default")
	}
	if eff.Severity != domain.SeverityBlock {
		t.Errorf("expected severity block, got %s", eff.Severity)
	}

	var p AdvanceWindowParams
	if err := eff.DecodeParams(&p); err != nil {
		t.Fatalf("DecodeParams failed: %v", err)
	}
	if p.MaxDaysAhead != 14 {
		t.Errorf("expected default max_days_ahead 14, got %d", p.MaxDaysAhead)
	}
}

func TestResolveUnknownCode(t *testing.T) {
	_, err := Resolve(domain.RuleCode("ACC-999"), nil)
	if !errors.Is(err, domain.ErrUnknownRule) {
		t.Errorf("expected ErrUnknownRule, got %v", err)
	}
}

func TestResolveOverridePrecedence(t *testing.T) {
	override := &domain.FacilityRuleConfig{
		Code:          domain.RuleMaxPerWeek,
		Enabled:       boolPtr(true),
		Severity:      sevPtr(domain.SeverityWarn),
		Params:        json.RawMessage(`{"max_per_week": 10}`),
		CustomMessage: "too many bookings this week",
	}

	eff, err := Resolve(domain.RuleMaxPerWeek, override)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if eff.Severity != domain.SeverityWarn {
		t.Errorf("expected severity warn, got %s", eff.Severity)
	}
	if eff.CustomMessage != "too many bookings this week" {
		t.Errorf("unexpected custom message: %s", eff.CustomMessage)
	}

	var p WeeklyCountParams
	if err := eff.DecodeParams(&p); err != nil {
		t.Fatalf("DecodeParams failed: %v", err)
	}
	if p.MaxPerWeek != 10 {
		t.Errorf("expected overridden max_per_week 10, got %d", p.MaxPerWeek)
	}
}

func TestResolveExplicitZeroWins(t *testing.T) {
	// An override key set to zero must beat the non-zero default.
	override := &domain.FacilityRuleConfig{
		Code:   domain.RuleMaxActiveReservations,
		Params: json.RawMessage(`{"max_active_reservations": 0}`),
	}

	eff, err := Resolve(domain.RuleMaxActiveReservations, override)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	var p MaxActiveParams
	if err := eff.DecodeParams(&p); err != nil {
		t.Fatalf("DecodeParams failed: %v", err)
	}
	if p.MaxActiveReservations != 0 {
		t.Errorf("expected explicit zero to win, got %d", p.MaxActiveReservations)
	}
}

func TestResolveSparseOverrideKeepsOtherKeys(t *testing.T) {
	override := &domain.FacilityRuleConfig{
		Code:   domain.RuleRateLimit,
		Params: json.RawMessage(`{"max_actions": 5}`),
	}

	eff, err := Resolve(domain.RuleRateLimit, override)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	var p RateLimitParams
	if err := eff.DecodeParams(&p); err != nil {
		t.Fatalf("DecodeParams failed: %v", err)
	}
	if p.MaxActions != 5 {
		t.Errorf("expected overridden max_actions 5, got %d", p.MaxActions)
	}
	if p.WindowSeconds != 3600 {
		t.Errorf("expected default window_seconds 3600 kept, got %d", p.WindowSeconds)
	}
}

func TestResolveAll(t *testing.T) {
	effective, err := ResolveAll(nil)
	if err != nil {
		t.Fatalf("ResolveAll failed: %v", err)
	}
	if len(effective) != len(Codes()) {
		t.Fatalf("expected %d effective rules, got %d", len(Codes()), len(effective))
	}
	for i, code := range Codes() {
		if effective[i].Code != code {
			t.Errorf("position %d: expected %s, got %s", i, code, effective[i].Code)
		}
	}
}

func TestResolveAllRejectsUnknownOverride(t *testing.T) {
	overrides := []*domain.FacilityRuleConfig{
		{Code: domain.RuleCode("XYZ-001")},
	}
	_, err := ResolveAll(overrides)
	if !errors.Is(err, domain.ErrUnknownRule) {
		t.Errorf("expected ErrUnknownRule, got %v", err)
	}
}

func TestValidateOverride(t *testing.T) {
	t.Run("AcceptsValidOverride", func(t *testing.T) {
		cfg := &domain.FacilityRuleConfig{
			Code:   domain.RuleMaxDuration,
			Params: json.RawMessage(`{"max_minutes": 90}`),
		}
		if err := ValidateOverride(cfg); err != nil {
			t.Errorf("expected valid override, got %v", err)
		}
	})

	t.Run("RejectsUnknownKey", func(t *testing.T) {
		cfg := &domain.FacilityRuleConfig{
			Code:   domain.RuleMaxDuration,
			Params: json.RawMessage(`{"max_minuts": 90}`),
		}
		err := ValidateOverride(cfg)
		if !IsConfigError(err) {
			t.Errorf("expected config error for unknown key, got %v", err)
		}
	})

	t.Run("RejectsWrongType", func(t *testing.T) {
		cfg := &domain.FacilityRuleConfig{
			Code:   domain.RuleMaxDuration,
			Params: json.RawMessage(`{"max_minutes": "ninety"}`),
		}
		if err := ValidateOverride(cfg); !IsConfigError(err) {
			t.Errorf("expected config error for wrong type, got %v", err)
		}
	})

	t.Run("RejectsNegativeValue", func(t *testing.T) {
		cfg := &domain.FacilityRuleConfig{
			Code:   domain.RuleMaxPerWeek,
			Params: json.RawMessage(`{"max_per_week": -1}`),
		}
		if err := ValidateOverride(cfg); !IsConfigError(err) {
			t.Errorf("expected config error for negative value, got %v", err)
		}
	})

	t.Run("RejectsBadSeverity", func(t *testing.T) {
		bad := domain.Severity("fatal")
		cfg := &domain.FacilityRuleConfig{
			Code:     domain.RuleMaxPerWeek,
			Severity: &bad,
		}
		if err := ValidateOverride(cfg); !IsConfigError(err) {
			t.Errorf("expected config error for bad severity, got %v", err)
		}
	})

	t.Run("RejectsNonPositiveRateWindow", func(t *testing.T) {
		cfg := &domain.FacilityRuleConfig{
			Code:   domain.RuleRateLimit,
			Params: json.RawMessage(`{"window_seconds": 0}`),
		}
		if err := ValidateOverride(cfg); !IsConfigError(err) {
			t.Errorf("expected config error for zero window, got %v", err)
		}
	})

	t.Run("RejectsUnknownRule", func(t *testing.T) {
		cfg := &domain.FacilityRuleConfig{Code: domain.RuleCode("NOPE-1")}
		if err := ValidateOverride(cfg); !errors.Is(err, domain.ErrUnknownRule) {
			t.Errorf("expected ErrUnknownRule, got %v", err)
		}
	})
}

func TestValidateOverrideWindows(t *testing.T) {
	t.Run("AcceptsDisjointWindows", func(t *testing.T) {
		cfg := &domain.FacilityRuleConfig{
			Code: domain.RulePrimeWindows,
			Params: json.RawMessage(`{"windows": [
				{"days": ["mon", "wed"], "start": "17:00", "end": "19:00"},
				{"days": ["mon"], "start": "19:00", "end": "21:00"}
			]}`),
		}
		if err := ValidateOverride(cfg); err != nil {
			t.Errorf("expected disjoint windows accepted, got %v", err)
		}
	})

	t.Run("RejectsOverlapOnSharedDay", func(t *testing.T) {
		cfg := &domain.FacilityRuleConfig{
			Code: domain.RulePrimeWindows,
			Params: json.RawMessage(`{"windows": [
				{"days": ["sat"], "start": "09:00", "end": "12:00"},
				{"days": ["sat", "sun"], "start": "11:00", "end": "14:00"}
			]}`),
		}
		if err := ValidateOverride(cfg); !IsConfigError(err) {
			t.Errorf("expected config error for overlapping windows, got %v", err)
		}
	})

	t.Run("RejectsUnknownWeekday", func(t *testing.T) {
		cfg := &domain.FacilityRuleConfig{
			Code: domain.RulePrimeWindows,
			Params: json.RawMessage(`{"windows": [
				{"days": ["monday"], "start": "17:00", "end": "19:00"}
			]}`),
		}
		if err := ValidateOverride(cfg); !IsConfigError(err) {
			t.Errorf("expected config error for bad weekday, got %v", err)
		}
	})

	t.Run("RejectsInvertedWindow", func(t *testing.T) {
		cfg := &domain.FacilityRuleConfig{
			Code: domain.RulePrimeWindows,
			Params: json.RawMessage(`{"windows": [
				{"days": ["mon"], "start": "19:00", "end": "18:00"}
			]}`),
		}
		if err := ValidateOverride(cfg); !IsConfigError(err) {
			t.Errorf("expected config error for inverted window, got %v", err)
		}
	})
}

func TestDefinitionsFilter(t *testing.T) {
	all := Definitions("")
	if len(all) != len(Codes()) {
		t.Fatalf("expected %d definitions, got %d", len(Codes()), len(all))
	}

	household := Definitions(domain.CategoryHousehold)
	if len(household) == 0 {
		t.Fatal("expected household definitions")
	}
	for _, def := range household {
		if def.Category != domain.CategoryHousehold {
			t.Errorf("rule %s has category %s", def.Code, def.Category)
		}
	}
}
