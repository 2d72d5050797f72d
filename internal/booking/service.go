package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opencourt/courtyard/internal/catalog"
	"github.com/opencourt/courtyard/internal/domain"
	"github.com/opencourt/courtyard/internal/ratelimit"
	"github.com/opencourt/courtyard/internal/rules"
	"github.com/opencourt/courtyard/internal/strikes"
)

const (
	ruleSetTTL = 5 * time.Minute

	// Commit serialization stripes. Requests for the same (court, date)
	// hash to the same stripe, so two instances of the same slot race
	// inside the database transaction at most across processes, never
	// within one.
	commitStripes = 64
)

// Service is the booking pipeline: evaluate a request against the policy
// engine, commit it atomically if allowed, and handle cancellations with
// their late-cancel consequences.
type Service struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *rules.Engine
	builder *ContextBuilder
	strikes *strikes.Tracker
	limiter ratelimit.Limiter
	logger  *slog.Logger
	tracer  trace.Tracer

	locks [commitStripes]sync.Mutex
}

// NewService wires the booking pipeline.
func NewService(
	repo domain.Repository,
	cache domain.Cache,
	eventBus domain.EventBus,
	engine *rules.Engine,
	builder *ContextBuilder,
	tracker *strikes.Tracker,
	limiter ratelimit.Limiter,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:    repo,
		cache:   cache,
		bus:     eventBus,
		engine:  engine,
		builder: builder,
		strikes: tracker,
		limiter: limiter,
		logger:  logger,
		tracer:  otel.Tracer("courtyard/booking"),
	}
}

// EffectiveRules returns the facility's resolved rule set, cached until the
// next config write invalidates it.
func (s *Service) EffectiveRules(ctx context.Context, facilityID string) ([]domain.EffectiveRuleConfig, error) {
	if cached, err := s.cache.Get(ctx, facilityID, domain.CacheKeyRuleSet); err == nil && cached != nil {
		var effective []domain.EffectiveRuleConfig
		if err := json.Unmarshal(cached, &effective); err == nil {
			return effective, nil
		}
		// A corrupt entry falls through to a fresh resolve.
		_ = s.cache.Delete(ctx, facilityID, domain.CacheKeyRuleSet)
	}

	overrides, err := s.repo.ListRuleConfigs(ctx, facilityID)
	if err != nil {
		return nil, fmt.Errorf("%w: rule configs: %v", domain.ErrContextUnavailable, err)
	}
	effective, err := catalog.ResolveAll(overrides)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(effective); err == nil {
		_ = s.cache.Set(ctx, facilityID, domain.CacheKeyRuleSet, data, ruleSetTTL)
	}
	return effective, nil
}

// InvalidateRules drops the cached rule set and announces the config change.
func (s *Service) InvalidateRules(ctx context.Context, facilityID string) {
	if err := s.cache.Delete(ctx, facilityID, domain.CacheKeyRuleSet); err != nil {
		s.logger.Warn("invalidate rule set cache", "facility_id", facilityID, "error", err)
	}
	if s.bus != nil {
		if err := s.bus.Publish(ctx, facilityID, domain.TopicConfigUpdated, nil); err != nil {
			s.logger.Warn("publish config update", "facility_id", facilityID, "error", err)
		}
	}
}

// Evaluate runs the full rule set against a request without committing
// anything. This is the dry-run surface the booking UI polls.
func (s *Service) Evaluate(ctx context.Context, req *domain.BookingRequest, role domain.Role) (*domain.Decision, error) {
	decision, _, err := s.evaluate(ctx, req, role, time.Now().UTC())
	return decision, err
}

func (s *Service) evaluate(ctx context.Context, req *domain.BookingRequest, role domain.Role, now time.Time) (*domain.Decision, *domain.EvaluationContext, error) {
	ctx, span := s.tracer.Start(ctx, "booking.Evaluate",
		trace.WithAttributes(attribute.String("facility.id", req.FacilityID)))
	defer span.End()

	effective, err := s.EffectiveRules(ctx, req.FacilityID)
	if err != nil {
		return nil, nil, err
	}
	ectx, err := s.builder.Build(ctx, req, role, effective, now)
	if err != nil {
		return nil, nil, err
	}

	customRules, err := s.repo.ListCustomRules(ctx, req.FacilityID)
	if err != nil {
		// Custom rules are advisory; losing them never blocks evaluation.
		s.logger.Warn("list custom rules", "facility_id", req.FacilityID, "error", err)
		customRules = nil
	}

	decision := s.engine.Evaluate(ctx, ectx, effective, customRules)
	return decision, ectx, nil
}

// Book evaluates and, if allowed, commits the reservation. The decision is
// returned in all cases; the reservation is non-nil only on success. A lost
// commit race returns domain.ErrConflict.
func (s *Service) Book(ctx context.Context, req *domain.BookingRequest, role domain.Role) (*domain.Reservation, *domain.Decision, error) {
	ctx, span := s.tracer.Start(ctx, "booking.Book",
		trace.WithAttributes(
			attribute.String("facility.id", req.FacilityID),
			attribute.String("court.id", req.CourtID),
		))
	defer span.End()

	now := time.Now().UTC()

	lock := &s.locks[stripeFor(req.FacilityID, req.CourtID, req.Date)]
	lock.Lock()
	defer lock.Unlock()

	decision, ectx, err := s.evaluate(ctx, req, role, now)
	if err != nil {
		return nil, nil, err
	}
	if !decision.Allowed {
		s.publishDecision(ctx, req, decision, domain.TopicBookingDenied)
		return nil, decision, nil
	}

	res := &domain.Reservation{
		ID:              uuid.New().String(),
		FacilityID:      req.FacilityID,
		CourtID:         req.CourtID,
		UserID:          req.UserID,
		Date:            req.Date,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		DurationMinutes: int(ectx.SlotEnd.Sub(ectx.SlotStart) / time.Minute),
		Status:          domain.ReservationConfirmed,
		StartAt:         ectx.SlotStart,
		EndAt:           ectx.SlotEnd,
		CreatedAt:       now,
	}

	guard := domain.CommitGuard{WeekStart: ectx.WeekStart, WeekEnd: ectx.WeekEnd}
	effective, err := s.EffectiveRules(ctx, req.FacilityID)
	if err != nil {
		return nil, nil, err
	}
	if cfg := findEffective(effective, domain.RulePerCourtWeeklyCap); cfg != nil && cfg.Enabled {
		var p catalog.WeeklyCountParams
		if err := cfg.DecodeParams(&p); err == nil {
			guard.MaxPerCourtWeek = &p.MaxPerWeek
		}
	}

	if err := s.repo.CommitReservation(ctx, res, guard); err != nil {
		return nil, decision, err
	}

	s.recordAction(ctx, req, domain.ActionCreate, now)
	s.publishDecision(ctx, req, decision, domain.TopicBookingCommitted)
	s.logger.Info("reservation committed",
		"facility_id", req.FacilityID, "court_id", req.CourtID,
		"user_id", req.UserID, "reservation_id", res.ID)
	return res, decision, nil
}

// Cancel marks a reservation cancelled, records the action, and issues a
// late-cancel strike when the cancellation lands inside the facility's
// notice cutoff. The boolean reports whether a strike was issued.
func (s *Service) Cancel(ctx context.Context, facilityID, reservationID, userID string) (*domain.Reservation, bool, error) {
	ctx, span := s.tracer.Start(ctx, "booking.Cancel",
		trace.WithAttributes(attribute.String("facility.id", facilityID)))
	defer span.End()

	now := time.Now().UTC()
	res, err := s.repo.CancelReservation(ctx, facilityID, reservationID, userID, now)
	if err != nil {
		return nil, false, err
	}

	s.recordAction(ctx, &domain.BookingRequest{
		FacilityID: facilityID,
		CourtID:    res.CourtID,
		UserID:     res.UserID,
		Date:       res.Date,
		StartTime:  res.StartTime,
	}, domain.ActionCancel, now)

	late := false
	effective, err := s.EffectiveRules(ctx, facilityID)
	if err != nil {
		s.logger.Warn("resolve rules for cancellation", "facility_id", facilityID, "error", err)
	} else if cfg := findEffective(effective, domain.RuleCancellationNotice); cfg != nil && cfg.Enabled {
		var p catalog.CancellationNoticeParams
		if err := cfg.DecodeParams(&p); err == nil {
			cutoff := time.Duration(p.LateCancelCutoffMinutes) * time.Minute
			if res.StartAt.Sub(now) < cutoff {
				late = true
				strike := &domain.Strike{
					FacilityID: facilityID,
					UserID:     res.UserID,
					Type:       domain.StrikeLateCancel,
					IssuedAt:   now,
					Note:       fmt.Sprintf("cancelled reservation %s %s before start", reservationID, res.StartAt.Sub(now).Round(time.Minute)),
				}
				if err := s.strikes.Issue(ctx, strike); err != nil {
					s.logger.Error("issue late-cancel strike",
						"facility_id", facilityID, "user_id", res.UserID, "error", err)
				}
			}
		}
	}

	if s.bus != nil {
		payload, _ := json.Marshal(res)
		if err := s.bus.Publish(ctx, facilityID, domain.TopicBookingCancelled, payload); err != nil {
			s.logger.Warn("publish cancellation", "facility_id", facilityID, "error", err)
		}
	}
	return res, late, nil
}

func (s *Service) recordAction(ctx context.Context, req *domain.BookingRequest, action string, at time.Time) {
	rec := &domain.ActionRecord{
		FacilityID: req.FacilityID,
		UserID:     req.UserID,
		Action:     action,
		CourtID:    req.CourtID,
		Date:       req.Date,
		StartTime:  req.StartTime,
		At:         at,
	}
	if err := s.repo.RecordAction(ctx, rec); err != nil {
		s.logger.Error("record action", "facility_id", req.FacilityID, "action", action, "error", err)
	}
	if err := s.limiter.Record(ctx, req.FacilityID, req.UserID, at); err != nil {
		s.logger.Warn("record rate-limit action", "facility_id", req.FacilityID, "error", err)
	}
}

func (s *Service) publishDecision(ctx context.Context, req *domain.BookingRequest, decision *domain.Decision, topic string) {
	if s.bus == nil {
		return
	}
	payload, _ := json.Marshal(struct {
		Request  *domain.BookingRequest `json:"request"`
		Decision *domain.Decision       `json:"decision"`
	}{req, decision})
	if err := s.bus.Publish(ctx, req.FacilityID, topic, payload); err != nil {
		s.logger.Warn("publish decision", "facility_id", req.FacilityID, "topic", topic, "error", err)
	}
}

func stripeFor(facilityID, courtID, date string) int {
	h := fnv.New32a()
	h.Write([]byte(facilityID))
	h.Write([]byte{0})
	h.Write([]byte(courtID))
	h.Write([]byte{0})
	h.Write([]byte(date))
	return int(h.Sum32() % commitStripes)
}
