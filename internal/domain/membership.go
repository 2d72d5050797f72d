package domain

import "time"

// MembershipTier is a facility's membership level. Nil limit pointers mean
// "unlimited" for that dimension. Exactly one tier per facility may be the
// default; the repository enforces this at write time.
type MembershipTier struct {
	ID                    string `json:"id"`
	FacilityID            string `json:"facilityId"`
	Name                  string `json:"name"`
	TierLevel             int    `json:"tierLevel"`
	AdvanceBookingDays    int    `json:"advanceBookingDays"`
	PrimeTimeEligible     bool   `json:"primeTimeEligible"`
	PrimeTimeMaxPerWeek   *int   `json:"primeTimeMaxPerWeek,omitempty"`
	MaxActiveReservations *int   `json:"maxActiveReservations,omitempty"`
	MaxReservationsPerWeek *int  `json:"maxReservationsPerWeek,omitempty"`
	MaxMinutesPerWeek     *int   `json:"maxMinutesPerWeek,omitempty"`
	IsDefault             bool   `json:"isDefault"`
}

// TierAssignment binds a user to a tier, optionally time-limited. An
// expired assignment falls back to the facility default tier.
type TierAssignment struct {
	FacilityID string     `json:"facilityId"`
	UserID     string     `json:"userId"`
	TierID     string     `json:"tierId"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

// Household verification status values.
const (
	VerificationPending  = "pending"
	VerificationVerified = "verified"
	VerificationRejected = "rejected"
)

// Household groups accounts under a shared address. The nullable caps
// override the facility's HH rule parameters for this household only.
type Household struct {
	ID                    string `json:"id"`
	FacilityID            string `json:"facilityId"`
	Address               string `json:"address"`
	MaxMembers            *int   `json:"maxMembers,omitempty"`
	MaxActiveReservations *int   `json:"maxActiveReservations,omitempty"`
	PrimeTimeMaxPerWeek   *int   `json:"primeTimeMaxPerWeek,omitempty"`
}

// HouseholdMember is one account in a household. At most one member is
// primary; only verified members count toward shared caps.
type HouseholdMember struct {
	HouseholdID        string `json:"householdId"`
	UserID             string `json:"userId"`
	VerificationStatus string `json:"verificationStatus"`
	IsPrimary          bool   `json:"isPrimary"`
}

// HouseholdSnapshot is the live view the context builder assembles when the
// facility restricts by household. Aggregates cover verified members only
// and are computed on read, never persisted.
type HouseholdSnapshot struct {
	Household     *Household        `json:"household"`
	Members       []HouseholdMember `json:"members"`
	ActiveCount   int               `json:"activeCount"`
	PrimeThisWeek int               `json:"primeThisWeek"`
}

// StrikeType classifies a strike.
type StrikeType string

const (
	StrikeNoShow     StrikeType = "no_show"
	StrikeLateCancel StrikeType = "late_cancel"
	StrikeManual     StrikeType = "manual"
)

// Strike is one entry in the append-only strike ledger. Lockout state is
// always derived from the ledger, never stored.
type Strike struct {
	ID         string     `json:"id"`
	FacilityID string     `json:"facilityId"`
	UserID     string     `json:"userId"`
	Type       StrikeType `json:"type"`
	IssuedAt   time.Time  `json:"issuedAt"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	Revoked    bool       `json:"revoked"`
	Note       string     `json:"note,omitempty"`
}

// LockoutState is the derived strike state machine position.
type LockoutState string

const (
	LockoutClear  LockoutState = "clear"
	LockoutWarned LockoutState = "warned"
	LockedOut     LockoutState = "locked_out"
)

// LockoutStatus is the derived lockout view for one (user, facility).
type LockoutStatus struct {
	State       LockoutState `json:"state"`
	StrikeCount int          `json:"strikeCount"`
	LockedUntil *time.Time   `json:"lockedUntil,omitempty"`
}
