package domain

import (
	"fmt"
	"time"
)

// Reservation status values.
const (
	ReservationConfirmed = "confirmed"
	ReservationCancelled = "cancelled"
)

// BookingRequest is the immutable subject of a policy evaluation. Date and
// times are facility-local wall-clock values; the context builder converts
// them to instants using the facility timezone.
type BookingRequest struct {
	FacilityID      string `json:"facilityId"`
	CourtID         string `json:"courtId"`
	UserID          string `json:"userId"`
	Date            string `json:"date"`      // 2006-01-02
	StartTime       string `json:"startTime"` // 15:04
	EndTime         string `json:"endTime"`   // 15:04
	DurationMinutes int    `json:"durationMinutes"`
}

// Slot returns the request's start and end instants in loc. End before or
// equal to start is invalid.
func (r *BookingRequest) Slot(loc *time.Location) (start, end time.Time, err error) {
	start, err = time.ParseInLocation("2006-01-02 15:04", r.Date+" "+r.StartTime, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse slot start: %w", err)
	}
	end, err = time.ParseInLocation("2006-01-02 15:04", r.Date+" "+r.EndTime, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse slot end: %w", err)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("slot end %s not after start %s", r.EndTime, r.StartTime)
	}
	return start, end, nil
}

// Reservation is a committed booking. StartAt/EndAt are the resolved
// instants used for overlap math; the wall-clock fields are kept for
// display and week bucketing.
type Reservation struct {
	ID              string    `json:"id"`
	FacilityID      string    `json:"facilityId"`
	CourtID         string    `json:"courtId"`
	UserID          string    `json:"userId"`
	Date            string    `json:"date"`
	StartTime       string    `json:"startTime"`
	EndTime         string    `json:"endTime"`
	DurationMinutes int       `json:"durationMinutes"`
	Status          string    `json:"status"`
	StartAt         time.Time `json:"startAt"`
	EndAt           time.Time `json:"endAt"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Overlaps reports whether the reservation intersects [start, end).
func (r *Reservation) Overlaps(start, end time.Time) bool {
	return r.StartAt.Before(end) && start.Before(r.EndAt)
}

// Booking-mutating action types recorded in the action log. The log feeds
// both the rate limiter (windowed count) and the cancel-cooldown rule
// (same-slot lookup).
const (
	ActionCreate = "create"
	ActionCancel = "cancel"
)

// ActionRecord is one append-only action log entry.
type ActionRecord struct {
	FacilityID string    `json:"facilityId"`
	UserID     string    `json:"userId"`
	Action     string    `json:"action"`
	CourtID    string    `json:"courtId,omitempty"`
	Date       string    `json:"date,omitempty"`
	StartTime  string    `json:"startTime,omitempty"`
	At         time.Time `json:"at"`
}

// Role of the requesting user. Admins may be exempt from rule families
// depending on facility toggles.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// RestrictionMode selects whether caps apply per account or per household.
type RestrictionMode string

const (
	RestrictByMember    RestrictionMode = "member"
	RestrictByHousehold RestrictionMode = "household"
)

// FacilitySettings carries facility-wide policy knobs that sit outside the
// per-rule config rows.
type FacilitySettings struct {
	FacilityID                string          `json:"facilityId"`
	Timezone                  string          `json:"timezone"`
	RestrictionMode           RestrictionMode `json:"restrictionMode"`
	AdminRestrictionsApply    bool            `json:"adminRestrictionsApply"`
	PrimeRulesApplyToAdmins   bool            `json:"primeRulesApplyToAdmins"`
	WeekendRulesApplyToAdmins bool            `json:"weekendRulesApplyToAdmins"`
	StrikeWindowDays          int             `json:"strikeWindowDays"`
	StrikeThreshold           int             `json:"strikeThreshold"`
	StrikeLockoutDays         int             `json:"strikeLockoutDays"`
}

// DefaultFacilitySettings returns the settings used when a facility has no
// stored row.
func DefaultFacilitySettings(facilityID string) *FacilitySettings {
	return &FacilitySettings{
		FacilityID:             facilityID,
		Timezone:               "UTC",
		RestrictionMode:        RestrictByMember,
		AdminRestrictionsApply: false,
		StrikeWindowDays:       30,
		StrikeThreshold:        3,
		StrikeLockoutDays:      7,
	}
}

// Location resolves the facility timezone, falling back to UTC.
func (s *FacilitySettings) Location() *time.Location {
	if s.Timezone != "" {
		if loc, err := time.LoadLocation(s.Timezone); err == nil {
			return loc
		}
	}
	return time.UTC
}

// PrimeWindow is one configured prime-time window. Days holds lowercase
// weekday names ("mon".."sun"); Start/End are facility-local wall times.
type PrimeWindow struct {
	Days  []string `json:"days"`
	Start string   `json:"start"`
	End   string   `json:"end"`
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
	"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
	"sat": time.Saturday,
}

// Contains reports whether the window applies on day and intersects the
// wall-clock interval [start, end) expressed as minutes since midnight.
func (w *PrimeWindow) Contains(day time.Weekday, startMin, endMin int) bool {
	match := false
	for _, d := range w.Days {
		if wd, ok := weekdayNames[d]; ok && wd == day {
			match = true
			break
		}
	}
	if !match {
		return false
	}
	ws, ok1 := parseWallMinutes(w.Start)
	we, ok2 := parseWallMinutes(w.End)
	if !ok1 || !ok2 {
		return false
	}
	return startMin < we && ws < endMin
}

// Minutes returns the window bounds as minutes since midnight.
func (w *PrimeWindow) Minutes() (startMin, endMin int, err error) {
	ws, ok := parseWallMinutes(w.Start)
	if !ok {
		return 0, 0, fmt.Errorf("invalid window start %q", w.Start)
	}
	we, ok := parseWallMinutes(w.End)
	if !ok {
		return 0, 0, fmt.Errorf("invalid window end %q", w.End)
	}
	if we <= ws {
		return 0, 0, fmt.Errorf("window end %q not after start %q", w.End, w.Start)
	}
	return ws, we, nil
}

// Validate checks day names and wall-time bounds.
func (w *PrimeWindow) Validate() error {
	if len(w.Days) == 0 {
		return fmt.Errorf("window has no days")
	}
	for _, d := range w.Days {
		if _, ok := weekdayNames[d]; !ok {
			return fmt.Errorf("unknown weekday %q", d)
		}
	}
	_, _, err := w.Minutes()
	return err
}

func parseWallMinutes(s string) (int, bool) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// SlotInPrime reports whether a slot on date at [startMin, endMin) falls in
// any of the given windows.
func SlotInPrime(windows []PrimeWindow, day time.Weekday, startMin, endMin int) bool {
	for i := range windows {
		if windows[i].Contains(day, startMin, endMin) {
			return true
		}
	}
	return false
}
