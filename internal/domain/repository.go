// Package domain defines the core types and interfaces for Courtyard.
package domain

import (
	"context"
	"time"
)

// CommitGuard carries the checks the repository must re-run inside the same
// transaction that inserts a reservation. The evaluator's earlier reads are
// stale by commit time; these are not.
type CommitGuard struct {
	// Court weekly cap (CRT-010) re-check; nil disables it.
	MaxPerCourtWeek *int
	WeekStart       time.Time
	WeekEnd         time.Time
}

// Repository is the persistence boundary for all engine collaborators:
// facility settings, rule configs, tiers, households, the strike ledger,
// reservations, and the booking action log.
type Repository interface {
	// Facility settings
	GetFacilitySettings(ctx context.Context, facilityID string) (*FacilitySettings, error)
	SaveFacilitySettings(ctx context.Context, settings *FacilitySettings) error

	// Facility rule config rows
	GetRuleConfig(ctx context.Context, facilityID string, code RuleCode) (*FacilityRuleConfig, error)
	ListRuleConfigs(ctx context.Context, facilityID string) ([]*FacilityRuleConfig, error)
	SaveRuleConfig(ctx context.Context, cfg *FacilityRuleConfig) error
	DeleteRuleConfig(ctx context.Context, facilityID string, code RuleCode) error
	// BulkSetRuleConfigs applies all rows in one transaction so a
	// half-applied rule set is never observable mid-write.
	BulkSetRuleConfigs(ctx context.Context, facilityID string, configs []*FacilityRuleConfig) error

	// Custom advisory rules
	SaveCustomRule(ctx context.Context, rule *CustomRule) error
	ListCustomRules(ctx context.Context, facilityID string) ([]*CustomRule, error)
	DeleteCustomRule(ctx context.Context, facilityID, ruleID string) error

	// Membership tiers
	SaveTier(ctx context.Context, tier *MembershipTier) error
	ListTiers(ctx context.Context, facilityID string) ([]*MembershipTier, error)
	AssignTier(ctx context.Context, a *TierAssignment) error
	// EffectiveTier resolves assignment-if-unexpired, else the facility
	// default, else nil.
	EffectiveTier(ctx context.Context, facilityID, userID string, at time.Time) (*MembershipTier, error)

	// Households
	CreateHousehold(ctx context.Context, h *Household) error
	HouseholdForUser(ctx context.Context, facilityID, userID string) (*Household, []HouseholdMember, error)
	// AddHouseholdMember enforces the household size cap (HH-001) inside
	// the insert transaction.
	AddHouseholdMember(ctx context.Context, m *HouseholdMember, maxMembers int) error

	// Strike ledger
	SaveStrike(ctx context.Context, s *Strike) error
	RevokeStrike(ctx context.Context, facilityID, strikeID string) error
	ListStrikes(ctx context.Context, facilityID, userID string, since time.Time) ([]*Strike, error)

	// Reservations
	GetReservation(ctx context.Context, facilityID, reservationID string) (*Reservation, error)
	// ListReservations returns non-cancelled reservations for the given
	// users with StartAt >= from (and < to when to is non-zero).
	ListReservations(ctx context.Context, facilityID string, userIDs []string, from, to time.Time) ([]Reservation, error)
	// CommitReservation inserts atomically, re-checking slot overlap and
	// the guard's per-court weekly cap inside the transaction. A losing
	// race returns ErrConflict.
	CommitReservation(ctx context.Context, res *Reservation, guard CommitGuard) error
	CancelReservation(ctx context.Context, facilityID, reservationID, userID string, at time.Time) (*Reservation, error)

	// Action log (append-only)
	RecordAction(ctx context.Context, rec *ActionRecord) error
	CountActions(ctx context.Context, facilityID, userID, action string, since time.Time) (int64, error)
	ListActions(ctx context.Context, facilityID, userID, action string, since time.Time) ([]ActionRecord, error)

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
