package domain

import "time"

// EvaluationContext is everything a rule evaluator may inspect. It is
// assembled once per request by the context builder; evaluators treat it as
// read-only, which is what makes the rule functions pure.
type EvaluationContext struct {
	Request  BookingRequest
	Now      time.Time
	Role     Role
	Facility *FacilitySettings

	// Effective tier, nil when the user has no assignment and the
	// facility has no default tier.
	Tier *MembershipTier

	// Non-nil only when the facility restricts by household.
	Household *HouseholdSnapshot

	Lockout LockoutStatus

	// Count of booking-mutating actions inside the rate-limit window.
	ActionCount int64

	// Cancellations by this user inside the cancel-cooldown horizon.
	RecentCancellations []ActionRecord

	// Non-cancelled reservations of the user (and, in household mode,
	// of all verified household members) from the earlier of now and
	// the requested week's start onward.
	UserReservations      []Reservation
	HouseholdReservations []Reservation

	// Prime windows resolved from the facility's effective CRT-001
	// config, validated non-overlapping at write time.
	PrimeWindows []PrimeWindow

	// Resolved slot of the request in the facility timezone.
	SlotStart time.Time
	SlotEnd   time.Time

	// Monday 00:00 facility-local of the week containing the requested
	// date, and the following Monday.
	WeekStart time.Time
	WeekEnd   time.Time
}

// SlotMinutes returns the request slot as wall-clock minutes since
// midnight, for prime-window intersection.
func (c *EvaluationContext) SlotMinutes() (startMin, endMin int) {
	startMin = c.SlotStart.Hour()*60 + c.SlotStart.Minute()
	endMin = c.SlotEnd.Hour()*60 + c.SlotEnd.Minute()
	if endMin <= startMin {
		endMin = 24 * 60
	}
	return startMin, endMin
}

// SlotIsPrime reports whether the requested slot intersects a prime window.
func (c *EvaluationContext) SlotIsPrime() bool {
	startMin, endMin := c.SlotMinutes()
	return SlotInPrime(c.PrimeWindows, c.SlotStart.Weekday(), startMin, endMin)
}

// InWeek reports whether t falls inside the requested week.
func (c *EvaluationContext) InWeek(t time.Time) bool {
	return !t.Before(c.WeekStart) && t.Before(c.WeekEnd)
}

// ReservationIsPrime reports whether an existing reservation intersects a
// prime window.
func (c *EvaluationContext) ReservationIsPrime(r *Reservation) bool {
	loc := c.Facility.Location()
	start := r.StartAt.In(loc)
	end := r.EndAt.In(loc)
	startMin := start.Hour()*60 + start.Minute()
	endMin := end.Hour()*60 + end.Minute()
	if endMin <= startMin {
		endMin = 24 * 60
	}
	return SlotInPrime(c.PrimeWindows, start.Weekday(), startMin, endMin)
}

// WeekStartFor returns Monday 00:00 in loc for the week containing t.
func WeekStartFor(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	day := t.Weekday()
	// Monday-based offset; Sunday belongs to the preceding week.
	offset := (int(day) + 6) % 7
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, -offset)
}
