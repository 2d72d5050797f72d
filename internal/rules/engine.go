package rules

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opencourt/courtyard/internal/catalog"
	"github.com/opencourt/courtyard/internal/domain"
)

// Engine runs the full catalog against an evaluation context. Every enabled,
// applicable rule is evaluated; there is no short-circuit, so a denial
// always reports the complete list of violations.
type Engine struct {
	custom *CustomEngine
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEngine creates an Engine. custom may be nil when the facility tier has
// no custom-rule support.
func NewEngine(custom *CustomEngine, logger *slog.Logger) *Engine {
	return &Engine{
		custom: custom,
		logger: logger,
		tracer: otel.Tracer("courtyard/rules"),
	}
}

// Evaluate walks the effective rule set in catalog order and aggregates the
// outcomes into a Decision. customRules, if any, run after the catalog and
// can only contribute warnings.
func (e *Engine) Evaluate(ctx context.Context, ectx *domain.EvaluationContext, effective []domain.EffectiveRuleConfig, customRules []*domain.CustomRule) *domain.Decision {
	ctx, span := e.tracer.Start(ctx, "rules.Evaluate",
		trace.WithAttributes(
			attribute.String("facility.id", ectx.Request.FacilityID),
			attribute.String("user.id", ectx.Request.UserID),
		))
	defer span.End()

	decision := &domain.Decision{Allowed: true}
	for i := range effective {
		cfg := &effective[i]
		if !cfg.Enabled {
			continue
		}
		def, ok := catalog.Get(cfg.Code)
		if !ok {
			// Effective sets are resolved from the catalog, so this
			// cannot happen outside a programming error.
			e.logger.Error("effective rule missing from catalog", "rule", cfg.Code)
			continue
		}
		if skipForAdmin(&def, ectx) {
			continue
		}
		fn := registry[cfg.Code]
		outcome := fn(ectx, cfg)
		if outcome.Result == domain.OutcomePass {
			continue
		}
		msg := outcome.Message
		if cfg.CustomMessage != "" {
			msg = cfg.CustomMessage
		}
		rm := domain.RuleMessage{Code: cfg.Code, Severity: cfg.Severity, Message: msg}
		if outcome.Result == domain.OutcomeViolation && cfg.Severity == domain.SeverityBlock {
			decision.Allowed = false
			decision.Violations = append(decision.Violations, rm)
		} else {
			rm.Severity = domain.SeverityWarn
			decision.Warnings = append(decision.Warnings, rm)
		}
	}

	if e.custom != nil && len(customRules) > 0 {
		decision.Warnings = append(decision.Warnings, e.custom.Evaluate(ctx, ectx, customRules)...)
	}

	span.SetAttributes(
		attribute.Bool("decision.allowed", decision.Allowed),
		attribute.Int("decision.violations", len(decision.Violations)),
		attribute.Int("decision.warnings", len(decision.Warnings)),
	)
	e.logger.Debug("evaluation complete",
		"facility_id", ectx.Request.FacilityID,
		"user_id", ectx.Request.UserID,
		"allowed", decision.Allowed,
		"violations", len(decision.Violations),
		"warnings", len(decision.Warnings))
	return decision
}

// skipForAdmin reports whether the rule is waived for the requesting user.
// Rules flagged AppliesToAdmins are never waived; for the rest, the rule's
// policy group selects which facility toggle re-enables it for admins.
func skipForAdmin(def *domain.RuleDefinition, ectx *domain.EvaluationContext) bool {
	if ectx.Role != domain.RoleAdmin || def.AppliesToAdmins {
		return false
	}
	s := ectx.Facility
	switch def.Group {
	case domain.GroupPrimeTime:
		return !s.PrimeRulesApplyToAdmins
	case domain.GroupWeekend:
		return !s.WeekendRulesApplyToAdmins
	default:
		return !s.AdminRestrictionsApply
	}
}
