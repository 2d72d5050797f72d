// Package catalog holds the immutable rule catalog and the facility
// config resolver. The catalog is a compile-time table: rule codes, their
// typed default parameters, and their metadata are declared here and never
// mutated, so adding or removing a rule is a visible code change.
package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/opencourt/courtyard/internal/domain"
)

// Typed parameter structs, one per parameterized rule. Facility overrides
// are merged over these per-field; a key present in the override always
// wins, even when its value is zero.

type MaxActiveParams struct {
	MaxActiveReservations int `json:"max_active_reservations"`
}

type WeeklyCountParams struct {
	MaxPerWeek int `json:"max_per_week"`
}

type WeeklyMinutesParams struct {
	MaxMinutesPerWeek int `json:"max_minutes_per_week"`
}

type AdvanceWindowParams struct {
	MaxDaysAhead int `json:"max_days_ahead"`
}

type MinLeadTimeParams struct {
	MinMinutesBeforeStart int `json:"min_minutes_before_start"`
}

type CancelCooldownParams struct {
	CooldownMinutes int `json:"cooldown_minutes"`
}

type CancellationNoticeParams struct {
	LateCancelCutoffMinutes int `json:"late_cancel_cutoff_minutes"`
}

type RateLimitParams struct {
	MaxActions    int `json:"max_actions"`
	WindowSeconds int `json:"window_seconds"`
}

type PrimeWindowsParams struct {
	Windows []domain.PrimeWindow `json:"windows"`
}

type PrimeDurationParams struct {
	MaxMinutesPrime int `json:"max_minutes_prime"`
}

type PrimeTierGateParams struct {
	AllowedTiers  []int `json:"allowed_tiers"`
	AdminOverride bool  `json:"admin_override"`
}

type WeekendCapParams struct {
	MaxPerWeekend int `json:"max_per_weekend"`
}

type MaxDurationParams struct {
	MaxMinutes int `json:"max_minutes"`
}

type ReleaseScheduleParams struct {
	DaysAhead        int    `json:"days_ahead"`
	ReleaseTimeLocal string `json:"release_time_local"`
}

type HouseholdSizeParams struct {
	MaxMembers int `json:"max_members"`
}

type HouseholdActiveParams struct {
	MaxActiveHousehold int `json:"max_active_household"`
}

type HouseholdPrimeParams struct {
	MaxPrimePerWeekHousehold int `json:"max_prime_per_week_household"`
}

type noParams struct{}

// entry binds a catalog definition to its typed default parameters and a
// constructor for an empty parameter struct (used for strict decoding of
// merged configs).
type entry struct {
	def       domain.RuleDefinition
	defaults  any
	newParams func() any
}

// entries is the catalog in declaration order. Evaluation walks this slice,
// which is what makes violation lists reproducible across runs.
var entries = []entry{
	{
		def: domain.RuleDefinition{
			Code: domain.RuleMaxActiveReservations, Category: domain.CategoryAccount,
			Group: domain.GroupGeneral, Severity: domain.SeverityBlock,
			Description: "Maximum simultaneous future reservations per account",
		},
		defaults:  MaxActiveParams{MaxActiveReservations: 3},
		newParams: func() any { return &MaxActiveParams{} },
	},
	{
		def: domain.RuleDefinition{
			Code: domain.RuleMaxPerWeek, Category: domain.CategoryAccount,
			Group: domain.GroupGeneral, Severity: domain.SeverityBlock,
			Description: "Maximum reservations starting within one week",
		},
		defaults:  WeeklyCountParams{MaxPerWeek: 5},
		newParams: func() any { return &WeeklyCountParams{} },
	},
	{
		def: domain.RuleDefinition{
			Code: domain.RuleMaxMinutesPerWeek, Category: domain.CategoryAccount,
			Group: domain.GroupGeneral, Severity: domain.SeverityBlock,
			Description: "Maximum booked minutes within one week",
		},
		defaults:  WeeklyMinutesParams{MaxMinutesPerWeek: 360},
		newParams: func() any { return &WeeklyMinutesParams{} },
	},
	{
		def: domain.RuleDefinition{
			Code: domain.RuleNoOverlap, Category: domain.CategoryAccount,
			Group: domain.GroupGeneral, Severity: domain.SeverityBlock,
			AppliesToAdmins: true,
			Description:     "No overlapping reservations for the same account on one date",
		},
		defaults:  noParams{},
		newParams: func() any { return &noParams{} },
	},
	{
		def: domain.RuleDefinition{
			Code: domain.RuleAdvanceWindow, Category: domain.CategoryAccount,
			Group: domain.GroupGeneral, Severity: domain.SeverityBlock,
			Description: "How far ahead a reservation may be placed",
		},
		defaults:  AdvanceWindowParams{MaxDaysAhead: 14},
		newParams: func() any { return &AdvanceWindowParams{} },
	},
	{
		def: domain.RuleDefinition{
			Code: domain.RuleMinLeadTime, Category: domain.CategoryAccount,
			Group: domain.GroupGeneral, Severity: domain.SeverityBlock,
			Description: "Minimum lead time before slot start",
		},
		defaults:  MinLeadTimeParams{MinMinutesBeforeStart: 0},
		newParams: func() any { return &MinLeadTimeParams{} },
	},
	{
		def: domain.RuleDefinition{
			Code: domain.RuleCancelCooldown, Category: domain.CategoryAccount,
			Group: domain.GroupGeneral, Severity: domain.SeverityBlock,
			Description: "Cooldown after cancelling before rebooking the same slot",
		},
		defaults:  CancelCooldownParams{CooldownMinutes: 15},
		newParams: func() any { return &CancelCooldownParams{} },
	},
	{
		def: domain.RuleDefinition{
			Code: domain.RuleCancellationNotice, Category: domain.CategoryAccount,
			Group: domain.GroupGeneral, Severity: domain.SeverityBlock,
			AppliesToAdmins: true,
			Description:     "Cancellations inside the cutoff count as late and earn a strike",
		},
		defaults:  CancellationNoticeParams{LateCancelCutoffMinutes: 120},
		newParams: func() any { return &CancellationNoticeParams{} },
	},
	{
		def: domain.RuleDefinition{
			Code: domain.RuleLockout, Category: domain.CategoryAccount,
			Group: domain.GroupGeneral, Severity: domain.SeverityBlock,
			Description: "Accounts locked out by accumulated strikes cannot book",
		},
		defaults:  noParams{},
		newParams: func() any { return &noParams{} },
	},
	{
		def: domain.RuleDefinition{
			Code: domain.RulePrimeWeeklyCap, Category: domain.CategoryAccount,
			Group: domain.GroupPrimeTime, Severity: domain.SeverityBlock,
			Description: "Maximum prime-time reservations per account per week",
		},
		defaults:  WeeklyCountParams{MaxPerWeek: 2},
		newParams: func() any { return &WeeklyCountParams{} },
	},
	{
		def: domain.RuleDefinition{
			Code: domain.RuleRateLimit, Category: domain.CategoryAccount,
			Group: domain.GroupGeneral, Severity: domain.SeverityBlock,
			Description: "Rolling cap on booking-mutating actions",
		},
		defaults:  RateLimitParams{MaxActions: 20, WindowSeconds: 3600},
		newParams: func() any { return &RateLimitParams{} },
	},
	{
		def: domain.RuleDefinition{
			Code: domain.RulePrimeWindows, Category: domain.CategoryCourt,
			Group: domain.GroupPrimeTime, Severity: domain.SeverityBlock,
			AppliesToAdmins: true,
			Description:     "Prime-time window definition consumed by prime rules",
		},
		defaults: PrimeWindowsParams{Windows: []domain.PrimeWindow{
			{Days: []string{"mon", "tue", "wed", "thu", "fri"}, Start: "18:00", End: "21:00"},
		}},
		newParams: func() any { return &PrimeWindowsParams{} },
	},
	{
		def: domain.RuleDefinition{
			Code: domain.RulePrimeDurationCap, Category: domain.CategoryCourt,
			Group: domain.GroupPrimeTime, Severity: domain.SeverityBlock,
			Description: "Maximum duration for a prime-time reservation",
		},
		defaults:  PrimeDurationParams{MaxMinutesPrime: 60},
		newParams: func() any { return &PrimeDurationParams{} },
	},
	{
		def: domain.RuleDefinition{
			Code: domain.RulePrimeTierGate, Category: domain.CategoryCourt,
			Group: domain.GroupPrimeTime, Severity: domain.SeverityBlock,
			Description: "Membership tiers allowed to book prime-time slots",
		},
		defaults:  PrimeTierGateParams{AdminOverride: true},
		newParams: func() any { return &PrimeTierGateParams{} },
	},
	{
		def: domain.RuleDefinition{
			Code: domain.RuleWeekendCap, Category: domain.CategoryCourt,
			Group: domain.GroupWeekend, Severity: domain.SeverityBlock,
			Description: "Maximum weekend reservations per account per week",
		},
		defaults:  WeekendCapParams{MaxPerWeekend: 2},
		newParams: func() any { return &WeekendCapParams{} },
	},
	{
		def: domain.RuleDefinition{
			Code: domain.RuleMaxDuration, Category: domain.CategoryCourt,
			Group: domain.GroupGeneral, Severity: domain.SeverityBlock,
			Description: "Maximum duration of a single reservation",
		},
		defaults:  MaxDurationParams{MaxMinutes: 120},
		newParams: func() any { return &MaxDurationParams{} },
	},
	{
		def: domain.RuleDefinition{
			Code: domain.RulePerCourtWeeklyCap, Category: domain.CategoryCourt,
			Group: domain.GroupGeneral, Severity: domain.SeverityBlock,
			Description: "Maximum reservations on one court per account per week",
		},
		defaults:  WeeklyCountParams{MaxPerWeek: 3},
		newParams: func() any { return &WeeklyCountParams{} },
	},
	{
		def: domain.RuleDefinition{
			Code: domain.RuleReleaseSchedule, Category: domain.CategoryCourt,
			Group: domain.GroupGeneral, Severity: domain.SeverityBlock,
			Description: "Courts unlock for booking at a local release time N days ahead",
		},
		defaults:  ReleaseScheduleParams{DaysAhead: 7, ReleaseTimeLocal: "08:00"},
		newParams: func() any { return &ReleaseScheduleParams{} },
	},
	{
		def: domain.RuleDefinition{
			Code: domain.RuleHouseholdSize, Category: domain.CategoryHousehold,
			Group: domain.GroupGeneral, Severity: domain.SeverityBlock,
			AppliesToAdmins: true,
			Description:     "Maximum members per household (enforced at membership time)",
		},
		defaults:  HouseholdSizeParams{MaxMembers: 6},
		newParams: func() any { return &HouseholdSizeParams{} },
	},
	{
		def: domain.RuleDefinition{
			Code: domain.RuleHouseholdActiveCap, Category: domain.CategoryHousehold,
			Group: domain.GroupGeneral, Severity: domain.SeverityBlock,
			Description: "Maximum active reservations across a household",
		},
		defaults:  HouseholdActiveParams{MaxActiveHousehold: 6},
		newParams: func() any { return &HouseholdActiveParams{} },
	},
	{
		def: domain.RuleDefinition{
			Code: domain.RuleHouseholdPrimeCap, Category: domain.CategoryHousehold,
			Group: domain.GroupPrimeTime, Severity: domain.SeverityBlock,
			Description: "Maximum prime-time reservations across a household per week",
		},
		defaults:  HouseholdPrimeParams{MaxPrimePerWeekHousehold: 3},
		newParams: func() any { return &HouseholdPrimeParams{} },
	},
}

var byCode map[domain.RuleCode]*entry

func init() {
	byCode = make(map[domain.RuleCode]*entry, len(entries))
	for i := range entries {
		e := &entries[i]
		params, err := json.Marshal(e.defaults)
		if err != nil {
			panic(fmt.Sprintf("catalog: marshal defaults for %s: %v", e.def.Code, err))
		}
		e.def.Params = params
		if _, dup := byCode[e.def.Code]; dup {
			panic(fmt.Sprintf("catalog: duplicate rule code %s", e.def.Code))
		}
		byCode[e.def.Code] = e
	}
}

// Definitions returns catalog entries in declaration order, optionally
// filtered by category.
func Definitions(category domain.RuleCategory) []domain.RuleDefinition {
	defs := make([]domain.RuleDefinition, 0, len(entries))
	for i := range entries {
		if category != "" && entries[i].def.Category != category {
			continue
		}
		defs = append(defs, entries[i].def)
	}
	return defs
}

// Get returns the catalog definition for code.
func Get(code domain.RuleCode) (domain.RuleDefinition, bool) {
	e, ok := byCode[code]
	if !ok {
		return domain.RuleDefinition{}, false
	}
	return e.def, true
}

// Codes returns all rule codes in declaration order.
func Codes() []domain.RuleCode {
	codes := make([]domain.RuleCode, len(entries))
	for i := range entries {
		codes[i] = entries[i].def.Code
	}
	return codes
}
