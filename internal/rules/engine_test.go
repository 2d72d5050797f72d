package rules

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/opencourt/courtyard/internal/catalog"
	"github.com/opencourt/courtyard/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestContext builds a context for a Tuesday 10:00-11:00 slot, one day
// ahead, with default facility settings. Monday 2026-03-02 09:00 UTC is
// "now" throughout.
func newTestContext(t *testing.T) *domain.EvaluationContext {
	t.Helper()

	settings := domain.DefaultFacilitySettings("facility-001")
	req := domain.BookingRequest{
		FacilityID: "facility-001",
		CourtID:    "court-1",
		UserID:     "user-001",
		Date:       "2026-03-03",
		StartTime:  "10:00",
		EndTime:    "11:00",
	}
	start, end, err := req.Slot(time.UTC)
	if err != nil {
		t.Fatalf("invalid test slot: %v", err)
	}

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	weekStart := domain.WeekStartFor(start, time.UTC)

	return &domain.EvaluationContext{
		Request:   req,
		Now:       now,
		Role:      domain.RoleMember,
		Facility:  settings,
		SlotStart: start,
		SlotEnd:   end,
		WeekStart: weekStart,
		WeekEnd:   weekStart.AddDate(0, 0, 7),
		PrimeWindows: []domain.PrimeWindow{
			{Days: []string{"mon", "tue", "wed", "thu", "fri"}, Start: "18:00", End: "21:00"},
		},
	}
}

func effectiveSet(t *testing.T, overrides ...*domain.FacilityRuleConfig) []domain.EffectiveRuleConfig {
	t.Helper()
	effective, err := catalog.ResolveAll(overrides)
	if err != nil {
		t.Fatalf("ResolveAll failed: %v", err)
	}
	return effective
}

func hasCode(msgs []domain.RuleMessage, code domain.RuleCode) bool {
	for _, m := range msgs {
		if m.Code == code {
			return true
		}
	}
	return false
}

// reservationAt builds a confirmed reservation for the test user.
func reservationAt(courtID, date, startTime string, minutes int) domain.Reservation {
	start, _ := time.Parse("2006-01-02 15:04", date+" "+startTime)
	return domain.Reservation{
		CourtID:         courtID,
		UserID:          "user-001",
		Date:            date,
		StartTime:       startTime,
		DurationMinutes: minutes,
		Status:          domain.ReservationConfirmed,
		StartAt:         start,
		EndAt:           start.Add(time.Duration(minutes) * time.Minute),
	}
}

func TestEvaluateCleanRequestAllowed(t *testing.T) {
	engine := NewEngine(nil, testLogger())
	ectx := newTestContext(t)

	decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
	if !decision.Allowed {
		t.Fatalf("expected allowed, got violations: %+v", decision.Violations)
	}
	if len(decision.Violations) != 0 {
		t.Errorf("expected no violations, got %d", len(decision.Violations))
	}
}

func TestEvaluateMaxActive(t *testing.T) {
	engine := NewEngine(nil, testLogger())
	ectx := newTestContext(t)
	ectx.UserReservations = []domain.Reservation{
		reservationAt("court-2", "2026-03-04", "09:00", 60),
		reservationAt("court-3", "2026-03-05", "09:00", 60),
		reservationAt("court-2", "2026-03-06", "09:00", 60),
	}

	decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
	if decision.Allowed {
		t.Fatal("expected denial at the active-reservation cap")
	}
	if !hasCode(decision.Violations, domain.RuleMaxActiveReservations) {
		t.Errorf("expected %s violation, got %+v", domain.RuleMaxActiveReservations, decision.Violations)
	}
}

func TestEvaluateTierRaisesLimit(t *testing.T) {
	engine := NewEngine(nil, testLogger())
	ectx := newTestContext(t)
	ectx.UserReservations = []domain.Reservation{
		reservationAt("court-2", "2026-03-04", "09:00", 60),
		reservationAt("court-3", "2026-03-05", "09:00", 60),
		reservationAt("court-2", "2026-03-06", "09:00", 60),
	}
	five := 5
	ectx.Tier = &domain.MembershipTier{
		ID: "tier-gold", Name: "Gold", TierLevel: 2,
		MaxActiveReservations: &five,
		PrimeTimeEligible:     true,
	}

	decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
	if !decision.Allowed {
		t.Fatalf("expected tier limit to allow booking, got %+v", decision.Violations)
	}
}

func TestEvaluateOverlap(t *testing.T) {
	engine := NewEngine(nil, testLogger())
	ectx := newTestContext(t)
	ectx.UserReservations = []domain.Reservation{
		reservationAt("court-9", "2026-03-03", "10:30", 60),
	}

	decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
	if decision.Allowed {
		t.Fatal("expected denial for overlapping reservation")
	}
	if !hasCode(decision.Violations, domain.RuleNoOverlap) {
		t.Errorf("expected %s violation, got %+v", domain.RuleNoOverlap, decision.Violations)
	}
}

func TestEvaluateAdvanceWindow(t *testing.T) {
	engine := NewEngine(nil, testLogger())
	ectx := newTestContext(t)
	ectx.Request.Date = "2026-03-20" // 18 days ahead of now
	start, end, _ := ectx.Request.Slot(time.UTC)
	ectx.SlotStart, ectx.SlotEnd = start, end
	ectx.WeekStart = domain.WeekStartFor(start, time.UTC)
	ectx.WeekEnd = ectx.WeekStart.AddDate(0, 0, 7)

	decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
	if decision.Allowed {
		t.Fatal("expected denial beyond the advance window")
	}
	if !hasCode(decision.Violations, domain.RuleAdvanceWindow) {
		t.Errorf("expected %s violation, got %+v", domain.RuleAdvanceWindow, decision.Violations)
	}

	// A tier with a longer advance horizon lifts the account rule; the
	// release schedule still holds the date back.
	ectx.Tier = &domain.MembershipTier{ID: "tier-gold", AdvanceBookingDays: 30}
	decision = engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
	if hasCode(decision.Violations, domain.RuleAdvanceWindow) {
		t.Errorf("expected tier to lift the advance window, got %+v", decision.Violations)
	}
	if !hasCode(decision.Violations, domain.RuleReleaseSchedule) {
		t.Errorf("expected %s violation for unreleased date, got %+v", domain.RuleReleaseSchedule, decision.Violations)
	}
}

func TestEvaluateLockout(t *testing.T) {
	engine := NewEngine(nil, testLogger())

	t.Run("BlocksSlotBeforeLockoutLifts", func(t *testing.T) {
		ectx := newTestContext(t)
		until := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
		ectx.Lockout = domain.LockoutStatus{State: domain.LockedOut, StrikeCount: 3, LockedUntil: &until}

		decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
		if decision.Allowed {
			t.Fatal("expected denial for locked-out account")
		}
		if !hasCode(decision.Violations, domain.RuleLockout) {
			t.Errorf("expected %s violation, got %+v", domain.RuleLockout, decision.Violations)
		}
	})

	t.Run("AllowsSlotAfterLockoutLifts", func(t *testing.T) {
		ectx := newTestContext(t)
		until := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC) // before the 10:00 slot
		ectx.Lockout = domain.LockoutStatus{State: domain.LockedOut, StrikeCount: 3, LockedUntil: &until}

		decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
		if hasCode(decision.Violations, domain.RuleLockout) {
			t.Errorf("slot starting after the lockout lifts should pass, got %+v", decision.Violations)
		}
	})
}

func TestEvaluatePrimeRules(t *testing.T) {
	engine := NewEngine(nil, testLogger())

	primeCtx := func(t *testing.T) *domain.EvaluationContext {
		ectx := newTestContext(t)
		ectx.Request.StartTime = "18:30"
		ectx.Request.EndTime = "19:30"
		start, end, err := ectx.Request.Slot(time.UTC)
		if err != nil {
			t.Fatalf("invalid slot: %v", err)
		}
		ectx.SlotStart, ectx.SlotEnd = start, end
		return ectx
	}

	t.Run("TierGateDeniesIneligible", func(t *testing.T) {
		ectx := primeCtx(t)
		ectx.Tier = &domain.MembershipTier{ID: "tier-basic", Name: "Basic", PrimeTimeEligible: false}

		decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
		if !hasCode(decision.Violations, domain.RulePrimeTierGate) {
			t.Errorf("expected %s violation, got %+v", domain.RulePrimeTierGate, decision.Violations)
		}
	})

	t.Run("DurationCapAppliesInPrime", func(t *testing.T) {
		ectx := primeCtx(t)
		ectx.Request.EndTime = "20:00" // 90 minutes, cap is 60
		_, end, _ := ectx.Request.Slot(time.UTC)
		ectx.SlotEnd = end
		ectx.Tier = &domain.MembershipTier{ID: "tier-gold", PrimeTimeEligible: true}

		decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
		if !hasCode(decision.Violations, domain.RulePrimeDurationCap) {
			t.Errorf("expected %s violation, got %+v", domain.RulePrimeDurationCap, decision.Violations)
		}
	})

	t.Run("WeeklyPrimeCap", func(t *testing.T) {
		ectx := primeCtx(t)
		ectx.Tier = &domain.MembershipTier{ID: "tier-gold", PrimeTimeEligible: true}
		ectx.UserReservations = []domain.Reservation{
			reservationAt("court-2", "2026-03-04", "18:00", 60),
			reservationAt("court-3", "2026-03-05", "19:00", 60),
		}

		decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
		if !hasCode(decision.Violations, domain.RulePrimeWeeklyCap) {
			t.Errorf("expected %s violation, got %+v", domain.RulePrimeWeeklyCap, decision.Violations)
		}
	})

	t.Run("OffPeakSlotSkipsPrimeRules", func(t *testing.T) {
		ectx := newTestContext(t)
		ectx.Tier = &domain.MembershipTier{ID: "tier-basic", PrimeTimeEligible: false}

		decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
		if hasCode(decision.Violations, domain.RulePrimeTierGate) {
			t.Errorf("off-peak slot should not hit the tier gate, got %+v", decision.Violations)
		}
	})
}

func TestEvaluateWeekendCap(t *testing.T) {
	engine := NewEngine(nil, testLogger())
	ectx := newTestContext(t)
	ectx.Request.Date = "2026-03-07" // Saturday
	start, end, _ := ectx.Request.Slot(time.UTC)
	ectx.SlotStart, ectx.SlotEnd = start, end
	ectx.UserReservations = []domain.Reservation{
		reservationAt("court-2", "2026-03-07", "14:00", 60),
		reservationAt("court-3", "2026-03-08", "09:00", 60),
	}

	decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
	if !hasCode(decision.Violations, domain.RuleWeekendCap) {
		t.Errorf("expected %s violation, got %+v", domain.RuleWeekendCap, decision.Violations)
	}
}

func TestEvaluateDisabledRuleSkipped(t *testing.T) {
	engine := NewEngine(nil, testLogger())
	ectx := newTestContext(t)
	ectx.UserReservations = []domain.Reservation{
		reservationAt("court-2", "2026-03-04", "09:00", 60),
		reservationAt("court-3", "2026-03-05", "09:00", 60),
		reservationAt("court-2", "2026-03-06", "09:00", 60),
	}

	off := false
	effective := effectiveSet(t, &domain.FacilityRuleConfig{
		Code:    domain.RuleMaxActiveReservations,
		Enabled: &off,
	})

	decision := engine.Evaluate(context.Background(), ectx, effective, nil)
	if hasCode(decision.Violations, domain.RuleMaxActiveReservations) {
		t.Errorf("disabled rule must not fire, got %+v", decision.Violations)
	}
}

func TestEvaluateWarnSeverity(t *testing.T) {
	engine := NewEngine(nil, testLogger())
	ectx := newTestContext(t)
	ectx.UserReservations = []domain.Reservation{
		reservationAt("court-2", "2026-03-04", "09:00", 60),
		reservationAt("court-3", "2026-03-05", "09:00", 60),
		reservationAt("court-2", "2026-03-06", "09:00", 60),
	}

	warn := domain.SeverityWarn
	effective := effectiveSet(t, &domain.FacilityRuleConfig{
		Code:     domain.RuleMaxActiveReservations,
		Severity: &warn,
	})

	decision := engine.Evaluate(context.Background(), ectx, effective, nil)
	if !decision.Allowed {
		t.Fatalf("warn-severity violation must not deny, got %+v", decision.Violations)
	}
	if !hasCode(decision.Warnings, domain.RuleMaxActiveReservations) {
		t.Errorf("expected warning for %s, got %+v", domain.RuleMaxActiveReservations, decision.Warnings)
	}
}

func TestEvaluateCustomMessage(t *testing.T) {
	engine := NewEngine(nil, testLogger())
	ectx := newTestContext(t)
	ectx.UserReservations = []domain.Reservation{
		reservationAt("court-9", "2026-03-03", "10:30", 60),
	}

	effective := effectiveSet(t, &domain.FacilityRuleConfig{
		Code:          domain.RuleNoOverlap,
		CustomMessage: "you already have a court at that time",
	})

	decision := engine.Evaluate(context.Background(), ectx, effective, nil)
	for _, v := range decision.Violations {
		if v.Code == domain.RuleNoOverlap && v.Message != "you already have a court at that time" {
			t.Errorf("expected custom message, got %q", v.Message)
		}
	}
}

func TestEvaluateAdminExemptions(t *testing.T) {
	engine := NewEngine(nil, testLogger())

	t.Run("AdminSkipsGeneralRulesByDefault", func(t *testing.T) {
		ectx := newTestContext(t)
		ectx.Role = domain.RoleAdmin
		ectx.UserReservations = []domain.Reservation{
			reservationAt("court-2", "2026-03-04", "09:00", 60),
			reservationAt("court-3", "2026-03-05", "09:00", 60),
			reservationAt("court-2", "2026-03-06", "09:00", 60),
		}

		decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
		if hasCode(decision.Violations, domain.RuleMaxActiveReservations) {
			t.Errorf("admin should skip general caps by default, got %+v", decision.Violations)
		}
	})

	t.Run("ToggleReappliesGeneralRules", func(t *testing.T) {
		ectx := newTestContext(t)
		ectx.Role = domain.RoleAdmin
		ectx.Facility.AdminRestrictionsApply = true
		ectx.UserReservations = []domain.Reservation{
			reservationAt("court-2", "2026-03-04", "09:00", 60),
			reservationAt("court-3", "2026-03-05", "09:00", 60),
			reservationAt("court-2", "2026-03-06", "09:00", 60),
		}

		decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
		if !hasCode(decision.Violations, domain.RuleMaxActiveReservations) {
			t.Errorf("toggle should reapply general caps to admins, got %+v", decision.Violations)
		}
	})

	t.Run("OverlapAlwaysAppliesToAdmins", func(t *testing.T) {
		ectx := newTestContext(t)
		ectx.Role = domain.RoleAdmin
		ectx.UserReservations = []domain.Reservation{
			reservationAt("court-9", "2026-03-03", "10:30", 60),
		}

		decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
		if !hasCode(decision.Violations, domain.RuleNoOverlap) {
			t.Errorf("overlap must apply to admins, got %+v", decision.Violations)
		}
	})
}

func TestEvaluateHouseholdRules(t *testing.T) {
	engine := NewEngine(nil, testLogger())

	t.Run("NoHouseholdPasses", func(t *testing.T) {
		ectx := newTestContext(t)
		decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
		if hasCode(decision.Violations, domain.RuleHouseholdActiveCap) {
			t.Errorf("household rules must pass without a household, got %+v", decision.Violations)
		}
	})

	t.Run("ActiveCapDenies", func(t *testing.T) {
		ectx := newTestContext(t)
		ectx.Household = &domain.HouseholdSnapshot{
			Household:   &domain.Household{ID: "hh-001"},
			ActiveCount: 6,
		}

		decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
		if !hasCode(decision.Violations, domain.RuleHouseholdActiveCap) {
			t.Errorf("expected %s violation, got %+v", domain.RuleHouseholdActiveCap, decision.Violations)
		}
	})

	t.Run("HouseholdOverrideRaisesCap", func(t *testing.T) {
		ectx := newTestContext(t)
		ten := 10
		ectx.Household = &domain.HouseholdSnapshot{
			Household:   &domain.Household{ID: "hh-001", MaxActiveReservations: &ten},
			ActiveCount: 6,
		}

		decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
		if hasCode(decision.Violations, domain.RuleHouseholdActiveCap) {
			t.Errorf("household cap override should allow booking, got %+v", decision.Violations)
		}
	})
}

func TestEvaluateViolationOrderIsStable(t *testing.T) {
	engine := NewEngine(nil, testLogger())

	build := func() *domain.EvaluationContext {
		ectx := newTestContext(t)
		ectx.UserReservations = []domain.Reservation{
			reservationAt("court-2", "2026-03-04", "09:00", 60),
			reservationAt("court-3", "2026-03-05", "09:00", 60),
			reservationAt("court-1", "2026-03-03", "10:30", 60),
		}
		ectx.ActionCount = 50
		return ectx
	}

	first := engine.Evaluate(context.Background(), build(), effectiveSet(t), nil)
	for i := 0; i < 5; i++ {
		again := engine.Evaluate(context.Background(), build(), effectiveSet(t), nil)
		if len(again.Violations) != len(first.Violations) {
			t.Fatalf("violation count changed between runs: %d vs %d", len(first.Violations), len(again.Violations))
		}
		for j := range first.Violations {
			if again.Violations[j].Code != first.Violations[j].Code {
				t.Fatalf("violation order changed at %d: %s vs %s", j, first.Violations[j].Code, again.Violations[j].Code)
			}
		}
	}
}

func TestEvaluateRateLimit(t *testing.T) {
	engine := NewEngine(nil, testLogger())
	ectx := newTestContext(t)
	ectx.ActionCount = 20

	decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
	if !hasCode(decision.Violations, domain.RuleRateLimit) {
		t.Errorf("expected %s violation, got %+v", domain.RuleRateLimit, decision.Violations)
	}
}

func TestEvaluateWeeklyCount(t *testing.T) {
	engine := NewEngine(nil, testLogger())

	// Three played on Monday morning plus two upcoming: five this week, but
	// only two still active.
	weekFull := []domain.Reservation{
		reservationAt("court-2", "2026-03-02", "01:00", 60),
		reservationAt("court-3", "2026-03-02", "03:00", 60),
		reservationAt("court-4", "2026-03-02", "05:00", 60),
		reservationAt("court-2", "2026-03-04", "09:00", 60),
		reservationAt("court-3", "2026-03-05", "09:00", 60),
	}

	t.Run("LimitReachedDenies", func(t *testing.T) {
		ectx := newTestContext(t)
		ectx.UserReservations = weekFull

		decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
		if !hasCode(decision.Violations, domain.RuleMaxPerWeek) {
			t.Errorf("expected %s violation, got %+v", domain.RuleMaxPerWeek, decision.Violations)
		}
		if hasCode(decision.Violations, domain.RuleMaxActiveReservations) {
			t.Errorf("played reservations must not count as active, got %+v", decision.Violations)
		}
	})

	t.Run("TierRaisesLimit", func(t *testing.T) {
		ectx := newTestContext(t)
		ectx.UserReservations = weekFull
		ten := 10
		ectx.Tier = &domain.MembershipTier{ID: "tier-gold", MaxReservationsPerWeek: &ten}

		decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
		if hasCode(decision.Violations, domain.RuleMaxPerWeek) {
			t.Errorf("tier limit should allow a sixth booking, got %+v", decision.Violations)
		}
	})
}

func TestEvaluateWeeklyMinutes(t *testing.T) {
	engine := NewEngine(nil, testLogger())

	// 330 of the default 360 weekly minutes already booked.
	played := []domain.Reservation{
		reservationAt("court-2", "2026-03-02", "01:00", 110),
		reservationAt("court-3", "2026-03-02", "03:00", 110),
		reservationAt("court-4", "2026-03-02", "05:00", 110),
	}

	t.Run("MinutesRemainingAllows", func(t *testing.T) {
		ectx := newTestContext(t)
		ectx.UserReservations = played

		decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
		if hasCode(decision.Violations, domain.RuleMaxMinutesPerWeek) {
			t.Errorf("330 booked minutes must leave the limit unreached, got %+v", decision.Violations)
		}
	})

	t.Run("LimitReachedDenies", func(t *testing.T) {
		ectx := newTestContext(t)
		ectx.UserReservations = append(append([]domain.Reservation{}, played...),
			reservationAt("court-2", "2026-03-02", "07:00", 30))

		decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
		if !hasCode(decision.Violations, domain.RuleMaxMinutesPerWeek) {
			t.Errorf("expected %s violation at 360 booked minutes, got %+v", domain.RuleMaxMinutesPerWeek, decision.Violations)
		}
	})

	t.Run("TierRaisesMinutes", func(t *testing.T) {
		ectx := newTestContext(t)
		ectx.UserReservations = append(append([]domain.Reservation{}, played...),
			reservationAt("court-2", "2026-03-02", "07:00", 30))
		sixHundred := 600
		ectx.Tier = &domain.MembershipTier{ID: "tier-gold", MaxMinutesPerWeek: &sixHundred}

		decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
		if hasCode(decision.Violations, domain.RuleMaxMinutesPerWeek) {
			t.Errorf("tier minutes should allow booking, got %+v", decision.Violations)
		}
	})
}

func TestEvaluateMinLeadTime(t *testing.T) {
	engine := NewEngine(nil, testLogger())

	effective := effectiveSet(t, &domain.FacilityRuleConfig{
		Code:   domain.RuleMinLeadTime,
		Params: json.RawMessage(`{"min_minutes_before_start": 60}`),
	})

	t.Run("TooCloseToStartDenies", func(t *testing.T) {
		ectx := newTestContext(t)
		ectx.Request.Date = "2026-03-02" // today, 30 minutes from now
		ectx.Request.StartTime = "09:30"
		ectx.Request.EndTime = "10:30"
		start, end, err := ectx.Request.Slot(time.UTC)
		if err != nil {
			t.Fatalf("invalid slot: %v", err)
		}
		ectx.SlotStart, ectx.SlotEnd = start, end
		ectx.WeekStart = domain.WeekStartFor(start, time.UTC)
		ectx.WeekEnd = ectx.WeekStart.AddDate(0, 0, 7)

		decision := engine.Evaluate(context.Background(), ectx, effective, nil)
		if !hasCode(decision.Violations, domain.RuleMinLeadTime) {
			t.Errorf("expected %s violation, got %+v", domain.RuleMinLeadTime, decision.Violations)
		}
	})

	t.Run("EnoughLeadPasses", func(t *testing.T) {
		ectx := newTestContext(t) // tomorrow at 10:00
		decision := engine.Evaluate(context.Background(), ectx, effective, nil)
		if hasCode(decision.Violations, domain.RuleMinLeadTime) {
			t.Errorf("a day of lead time must pass, got %+v", decision.Violations)
		}
	})
}

func TestEvaluateCancelCooldown(t *testing.T) {
	engine := NewEngine(nil, testLogger())

	cancelled := func(startTime string, ago time.Duration) domain.ActionRecord {
		return domain.ActionRecord{
			FacilityID: "facility-001",
			UserID:     "user-001",
			Action:     "cancel",
			CourtID:    "court-1",
			Date:       "2026-03-03",
			StartTime:  startTime,
			At:         time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC).Add(-ago),
		}
	}

	t.Run("RebookWithinCooldownDenies", func(t *testing.T) {
		ectx := newTestContext(t)
		ectx.RecentCancellations = []domain.ActionRecord{cancelled("10:00", 5*time.Minute)}

		decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
		if !hasCode(decision.Violations, domain.RuleCancelCooldown) {
			t.Errorf("expected %s violation, got %+v", domain.RuleCancelCooldown, decision.Violations)
		}
	})

	t.Run("DifferentSlotUnaffected", func(t *testing.T) {
		ectx := newTestContext(t)
		ectx.RecentCancellations = []domain.ActionRecord{cancelled("12:00", 5*time.Minute)}

		decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
		if hasCode(decision.Violations, domain.RuleCancelCooldown) {
			t.Errorf("cooldown only covers the cancelled slot, got %+v", decision.Violations)
		}
	})

	t.Run("CooldownElapsedPasses", func(t *testing.T) {
		ectx := newTestContext(t)
		ectx.RecentCancellations = []domain.ActionRecord{cancelled("10:00", 20*time.Minute)}

		decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
		if hasCode(decision.Violations, domain.RuleCancelCooldown) {
			t.Errorf("elapsed cooldown must pass, got %+v", decision.Violations)
		}
	})
}

func TestEvaluateHouseholdPrimeCap(t *testing.T) {
	engine := NewEngine(nil, testLogger())

	primeCtx := func(t *testing.T) *domain.EvaluationContext {
		ectx := newTestContext(t)
		ectx.Request.StartTime = "18:30"
		ectx.Request.EndTime = "19:30"
		start, end, err := ectx.Request.Slot(time.UTC)
		if err != nil {
			t.Fatalf("invalid slot: %v", err)
		}
		ectx.SlotStart, ectx.SlotEnd = start, end
		ectx.Tier = &domain.MembershipTier{ID: "tier-gold", PrimeTimeEligible: true}
		return ectx
	}

	t.Run("CapReachedDenies", func(t *testing.T) {
		ectx := primeCtx(t)
		ectx.Household = &domain.HouseholdSnapshot{
			Household:     &domain.Household{ID: "hh-001"},
			PrimeThisWeek: 3,
		}

		decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
		if !hasCode(decision.Violations, domain.RuleHouseholdPrimeCap) {
			t.Errorf("expected %s violation, got %+v", domain.RuleHouseholdPrimeCap, decision.Violations)
		}
	})

	t.Run("HouseholdOverrideRaisesCap", func(t *testing.T) {
		ectx := primeCtx(t)
		five := 5
		ectx.Household = &domain.HouseholdSnapshot{
			Household:     &domain.Household{ID: "hh-001", PrimeTimeMaxPerWeek: &five},
			PrimeThisWeek: 3,
		}

		decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
		if hasCode(decision.Violations, domain.RuleHouseholdPrimeCap) {
			t.Errorf("household override should allow booking, got %+v", decision.Violations)
		}
	})

	t.Run("OffPeakSlotUnaffected", func(t *testing.T) {
		ectx := newTestContext(t)
		ectx.Household = &domain.HouseholdSnapshot{
			Household:     &domain.Household{ID: "hh-001"},
			PrimeThisWeek: 3,
		}

		decision := engine.Evaluate(context.Background(), ectx, effectiveSet(t), nil)
		if hasCode(decision.Violations, domain.RuleHouseholdPrimeCap) {
			t.Errorf("off-peak slot must skip the prime cap, got %+v", decision.Violations)
		}
	})
}
