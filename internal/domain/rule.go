package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// RuleCode identifies a rule in the built-in catalog.
type RuleCode string

// Built-in rule codes, grouped by category. The catalog package binds each
// code to its evaluator; adding a code here without a catalog entry is a
// startup panic, not a silent no-op.
const (
	RuleMaxActiveReservations RuleCode = "ACC-001"
	RuleMaxPerWeek            RuleCode = "ACC-002"
	RuleMaxMinutesPerWeek     RuleCode = "ACC-003"
	RuleNoOverlap             RuleCode = "ACC-004"
	RuleAdvanceWindow         RuleCode = "ACC-005"
	RuleMinLeadTime           RuleCode = "ACC-006"
	RuleCancelCooldown        RuleCode = "ACC-007"
	RuleCancellationNotice    RuleCode = "ACC-008"
	RuleLockout               RuleCode = "ACC-009"
	RulePrimeWeeklyCap        RuleCode = "ACC-010"
	RuleRateLimit             RuleCode = "ACC-011"
	RulePrimeWindows          RuleCode = "CRT-001"
	RulePrimeDurationCap      RuleCode = "CRT-002"
	RulePrimeTierGate         RuleCode = "CRT-003"
	RuleWeekendCap            RuleCode = "CRT-004"
	RuleMaxDuration           RuleCode = "CRT-005"
	RulePerCourtWeeklyCap     RuleCode = "CRT-010"
	RuleReleaseSchedule       RuleCode = "CRT-011"
	RuleHouseholdSize         RuleCode = "HH-001"
	RuleHouseholdActiveCap    RuleCode = "HH-002"
	RuleHouseholdPrimeCap     RuleCode = "HH-003"
)

// RuleCategory groups rules for introspection filtering.
type RuleCategory string

const (
	CategoryAccount   RuleCategory = "account"
	CategoryCourt     RuleCategory = "court"
	CategoryHousehold RuleCategory = "household"
)

// PolicyGroup determines which facility toggle exempts admins from a rule.
type PolicyGroup string

const (
	GroupGeneral   PolicyGroup = "general"
	GroupPrimeTime PolicyGroup = "prime_time"
	GroupWeekend   PolicyGroup = "weekend"
)

// Severity is what a rule violation does to the booking decision.
type Severity string

const (
	SeverityBlock Severity = "block"
	SeverityWarn  Severity = "warn"
)

// RuleDefinition is an immutable catalog entry. Defaults live in the typed
// parameter struct held by the catalog; Params here is its JSON form so
// introspection and merging share one representation.
type RuleDefinition struct {
	Code            RuleCode        `json:"code"`
	Category        RuleCategory    `json:"category"`
	Group           PolicyGroup     `json:"group"`
	Severity        Severity        `json:"severity"`
	AppliesToAdmins bool            `json:"appliesToAdmins"`
	Description     string          `json:"description"`
	Params          json.RawMessage `json:"params"`
}

// FacilityRuleConfig is a facility's stored override for one rule.
// Params is sparse: only keys the facility actually set are present, so an
// explicit zero is distinguishable from "not set".
type FacilityRuleConfig struct {
	FacilityID    string          `json:"facilityId"`
	Code          RuleCode        `json:"code"`
	Enabled       *bool           `json:"enabled,omitempty"`
	Severity      *Severity       `json:"severity,omitempty"`
	Params        json.RawMessage `json:"params,omitempty"`
	CustomMessage string          `json:"customMessage,omitempty"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// EffectiveRuleConfig is the merge of a catalog default with a facility
// override. It is derived on read and never persisted.
type EffectiveRuleConfig struct {
	Code          RuleCode        `json:"code"`
	Enabled       bool            `json:"enabled"`
	Severity      Severity        `json:"severity"`
	CustomMessage string          `json:"customMessage,omitempty"`
	Params        json.RawMessage `json:"params"`
}

// DecodeParams unmarshals the merged parameter document into a rule's typed
// parameter struct.
func (c *EffectiveRuleConfig) DecodeParams(v any) error {
	if len(c.Params) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(c.Params))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("rule %s: decode params: %w", c.Code, err)
	}
	return nil
}

// OutcomeResult classifies a single rule evaluation.
type OutcomeResult string

const (
	OutcomePass      OutcomeResult = "pass"
	OutcomeViolation OutcomeResult = "violation"
	OutcomeWarning   OutcomeResult = "warning"
)

// RuleOutcome is the result of one rule evaluation.
type RuleOutcome struct {
	Code    RuleCode      `json:"code"`
	Result  OutcomeResult `json:"result"`
	Message string        `json:"message,omitempty"`
}

// Pass reports a rule as satisfied.
func Pass(code RuleCode) RuleOutcome {
	return RuleOutcome{Code: code, Result: OutcomePass}
}

// Violate reports a blocking infraction with a generated message.
func Violate(code RuleCode, format string, args ...any) RuleOutcome {
	return RuleOutcome{Code: code, Result: OutcomeViolation, Message: fmt.Sprintf(format, args...)}
}

// Advise reports a non-blocking warning.
func Advise(code RuleCode, format string, args ...any) RuleOutcome {
	return RuleOutcome{Code: code, Result: OutcomeWarning, Message: fmt.Sprintf(format, args...)}
}

// RuleMessage is one violation or warning in the aggregate decision.
type RuleMessage struct {
	Code     RuleCode `json:"ruleCode"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Decision is the aggregate outcome of evaluating a booking request.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Violations []RuleMessage `json:"violations"`
	Warnings   []RuleMessage `json:"warnings"`
}

// CustomRule is a facility-authored advisory rule expressed as a CEL
// expression over the evaluation context. Custom rules can only produce
// warnings; blocking behavior is reserved for the vetted catalog.
type CustomRule struct {
	ID         string    `json:"id"`
	FacilityID string    `json:"facilityId"`
	Name       string    `json:"name"`
	Expression string    `json:"expression"`
	Message    string    `json:"message"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"createdAt"`
}
