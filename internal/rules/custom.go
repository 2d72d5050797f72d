package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opencourt/courtyard/internal/domain"
)

// CustomEngine compiles and runs facility-authored CEL rules. Expressions
// must return bool; a true result emits the rule's warning. Custom rules
// are advisory only, so a broken expression degrades to a logged skip and
// never blocks a booking.
type CustomEngine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*compiledCustomRule
	logger   *slog.Logger
}

type compiledCustomRule struct {
	expression string
	program    cel.Program
}

// NewCustomEngine creates the engine with the booking evaluation variables
// declared.
func NewCustomEngine(logger *slog.Logger) (*CustomEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("court_id", cel.StringType),
		cel.Variable("date", cel.StringType),
		cel.Variable("weekday", cel.StringType),
		cel.Variable("start_time", cel.StringType),
		cel.Variable("duration_minutes", cel.IntType),
		cel.Variable("slot_is_prime", cel.BoolType),
		cel.Variable("is_weekend", cel.BoolType),
		cel.Variable("role", cel.StringType),
		cel.Variable("tier_level", cel.IntType),
		cel.Variable("active_reservations", cel.IntType),
		cel.Variable("week_reservations", cel.IntType),
		cel.Variable("strike_count", cel.IntType),
		cel.Variable("days_ahead", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CustomEngine{
		env:      env,
		compiled: make(map[string]*compiledCustomRule),
		logger:   logger,
	}, nil
}

// Validate compiles an expression without loading it, for write-time
// rejection of broken rules.
func (e *CustomEngine) Validate(expression string) error {
	_, err := e.compile(expression)
	return err
}

// Evaluate runs the given rules against the context and returns warnings
// for every rule whose expression evaluates to true.
func (e *CustomEngine) Evaluate(ctx context.Context, ectx *domain.EvaluationContext, rules []*domain.CustomRule) []domain.RuleMessage {
	activation := e.activation(ectx)
	var warnings []domain.RuleMessage
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		prg, err := e.programFor(r)
		if err != nil {
			e.logger.Warn("custom rule does not compile, skipping",
				"facility_id", r.FacilityID, "rule_id", r.ID, "error", err)
			continue
		}
		out, _, err := prg.Eval(activation)
		if err != nil {
			e.logger.Warn("custom rule evaluation failed, skipping",
				"facility_id", r.FacilityID, "rule_id", r.ID, "error", err)
			continue
		}
		if b, ok := out.(types.Bool); ok && bool(b) {
			msg := r.Message
			if msg == "" {
				msg = fmt.Sprintf("advisory rule %q matched", r.Name)
			}
			warnings = append(warnings, domain.RuleMessage{
				Code:     domain.RuleCode(r.Name),
				Severity: domain.SeverityWarn,
				Message:  msg,
			})
		}
	}
	return warnings
}

// Invalidate drops a cached program, used when a rule is deleted or
// rewritten.
func (e *CustomEngine) Invalidate(ruleID string) {
	e.mu.Lock()
	delete(e.compiled, ruleID)
	e.mu.Unlock()
}

func (e *CustomEngine) programFor(r *domain.CustomRule) (cel.Program, error) {
	e.mu.RLock()
	c, ok := e.compiled[r.ID]
	e.mu.RUnlock()
	if ok && c.expression == r.Expression {
		return c.program, nil
	}
	prg, err := e.compile(r.Expression)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.compiled[r.ID] = &compiledCustomRule{expression: r.Expression, program: prg}
	e.mu.Unlock()
	return prg, nil
}

func (e *CustomEngine) compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("create program: %w", err)
	}
	return prg, nil
}

func (e *CustomEngine) activation(ectx *domain.EvaluationContext) map[string]any {
	day := ectx.SlotStart.Weekday()
	active, inWeek := 0, 0
	for i := range ectx.UserReservations {
		if ectx.UserReservations[i].StartAt.After(ectx.Now) {
			active++
		}
		if ectx.InWeek(ectx.UserReservations[i].StartAt) {
			inWeek++
		}
	}
	tierLevel := 0
	if ectx.Tier != nil {
		tierLevel = ectx.Tier.TierLevel
	}
	loc := ectx.Facility.Location()
	now := ectx.Now.In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	slotDate := time.Date(ectx.SlotStart.Year(), ectx.SlotStart.Month(), ectx.SlotStart.Day(), 0, 0, 0, 0, loc)
	return map[string]any{
		"court_id":            ectx.Request.CourtID,
		"date":                ectx.Request.Date,
		"weekday":             day.String(),
		"start_time":          ectx.Request.StartTime,
		"duration_minutes":    int64(ectx.SlotEnd.Sub(ectx.SlotStart) / time.Minute),
		"slot_is_prime":       ectx.SlotIsPrime(),
		"is_weekend":          day == time.Saturday || day == time.Sunday,
		"role":                string(ectx.Role),
		"tier_level":          int64(tierLevel),
		"active_reservations": int64(active),
		"week_reservations":   int64(inWeek),
		"strike_count":        int64(ectx.Lockout.StrikeCount),
		"days_ahead":          int64(slotDate.Sub(today) / (24 * time.Hour)),
	}
}
