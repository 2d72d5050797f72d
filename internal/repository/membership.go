package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opencourt/courtyard/internal/domain"
)

// SaveTier upserts a membership tier. A facility may have at most one
// default tier; a write that would create a second is rejected.
func (r *SQLRepository) SaveTier(ctx context.Context, tier *domain.MembershipTier) error {
	if tier.FacilityID == "" {
		return fmt.Errorf("%w: facilityID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if tier.IsDefault {
		var existing string
		query := `SELECT id FROM tiers WHERE facility_id = ? AND is_default = 1 AND id != ? LIMIT 1`
		err := tx.QueryRowContext(ctx, r.rebind(query), tier.FacilityID, tier.ID).Scan(&existing)
		if err == nil {
			return fmt.Errorf("%w: facility already has default tier %s", domain.ErrInvalidConfig, existing)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}

	query := `
		INSERT INTO tiers (
			id, facility_id, name, tier_level, advance_booking_days, prime_time_eligible,
			prime_time_max_per_week, max_active_reservations, max_reservations_per_week,
			max_minutes_per_week, is_default
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			tier_level = excluded.tier_level,
			advance_booking_days = excluded.advance_booking_days,
			prime_time_eligible = excluded.prime_time_eligible,
			prime_time_max_per_week = excluded.prime_time_max_per_week,
			max_active_reservations = excluded.max_active_reservations,
			max_reservations_per_week = excluded.max_reservations_per_week,
			max_minutes_per_week = excluded.max_minutes_per_week,
			is_default = excluded.is_default
	`

	_, err = tx.ExecContext(ctx, r.rebind(query),
		tier.ID, tier.FacilityID, tier.Name, tier.TierLevel, tier.AdvanceBookingDays,
		boolToInt(tier.PrimeTimeEligible),
		nullInt(tier.PrimeTimeMaxPerWeek), nullInt(tier.MaxActiveReservations),
		nullInt(tier.MaxReservationsPerWeek), nullInt(tier.MaxMinutesPerWeek),
		boolToInt(tier.IsDefault),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// ListTiers retrieves all tiers for a facility ordered by level.
func (r *SQLRepository) ListTiers(ctx context.Context, facilityID string) ([]*domain.MembershipTier, error) {
	if facilityID == "" {
		return nil, fmt.Errorf("%w: facilityID is required", ErrInvalidInput)
	}

	query := tierSelect + ` WHERE facility_id = ? ORDER BY tier_level, name`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), facilityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tiers []*domain.MembershipTier
	for rows.Next() {
		t, err := scanTier(rows)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}

// AssignTier binds a user to a tier, replacing any prior assignment.
func (r *SQLRepository) AssignTier(ctx context.Context, a *domain.TierAssignment) error {
	if a.FacilityID == "" {
		return fmt.Errorf("%w: facilityID is required", ErrInvalidInput)
	}

	var tierID string
	check := `SELECT id FROM tiers WHERE facility_id = ? AND id = ?`
	err := r.db.QueryRowContext(ctx, r.rebind(check), a.FacilityID, a.TierID).Scan(&tierID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: tier %s", ErrNotFound, a.TierID)
	}
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tier_assignments (facility_id, user_id, tier_id, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(facility_id, user_id) DO UPDATE SET
			tier_id = excluded.tier_id,
			expires_at = excluded.expires_at
	`

	var expires sql.NullTime
	if a.ExpiresAt != nil {
		expires = sql.NullTime{Time: *a.ExpiresAt, Valid: true}
	}
	_, err = r.db.ExecContext(ctx, r.rebind(query), a.FacilityID, a.UserID, a.TierID, expires)
	return err
}

// EffectiveTier resolves the tier in force for a user: an unexpired
// assignment wins, otherwise the facility default, otherwise nil.
func (r *SQLRepository) EffectiveTier(ctx context.Context, facilityID, userID string, at time.Time) (*domain.MembershipTier, error) {
	if facilityID == "" {
		return nil, fmt.Errorf("%w: facilityID is required", ErrInvalidInput)
	}

	query := tierSelect + `
		WHERE id = (
			SELECT tier_id FROM tier_assignments
			WHERE facility_id = ? AND user_id = ?
			  AND (expires_at IS NULL OR expires_at > ?)
		)
	`
	t, err := scanTier(r.db.QueryRowContext(ctx, r.rebind(query), facilityID, userID, at))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	query = tierSelect + ` WHERE facility_id = ? AND is_default = 1 LIMIT 1`
	t, err = scanTier(r.db.QueryRowContext(ctx, r.rebind(query), facilityID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

const tierSelect = `
	SELECT id, facility_id, name, tier_level, advance_booking_days, prime_time_eligible,
	       prime_time_max_per_week, max_active_reservations, max_reservations_per_week,
	       max_minutes_per_week, is_default
	FROM tiers`

func scanTier(row rowScanner) (*domain.MembershipTier, error) {
	var t domain.MembershipTier
	var eligible, isDefault int
	var primeMax, maxActive, maxWeek, maxMinutes sql.NullInt64

	if err := row.Scan(
		&t.ID, &t.FacilityID, &t.Name, &t.TierLevel, &t.AdvanceBookingDays, &eligible,
		&primeMax, &maxActive, &maxWeek, &maxMinutes, &isDefault,
	); err != nil {
		return nil, err
	}
	t.PrimeTimeEligible = eligible == 1
	t.IsDefault = isDefault == 1
	t.PrimeTimeMaxPerWeek = intPtr(primeMax)
	t.MaxActiveReservations = intPtr(maxActive)
	t.MaxReservationsPerWeek = intPtr(maxWeek)
	t.MaxMinutesPerWeek = intPtr(maxMinutes)
	return &t, nil
}

// CreateHousehold inserts a household.
func (r *SQLRepository) CreateHousehold(ctx context.Context, h *domain.Household) error {
	if h.FacilityID == "" {
		return fmt.Errorf("%w: facilityID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO households (id, facility_id, address, max_members, max_active_reservations, prime_time_max_per_week)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		h.ID, h.FacilityID, h.Address,
		nullInt(h.MaxMembers), nullInt(h.MaxActiveReservations), nullInt(h.PrimeTimeMaxPerWeek),
	)
	return err
}

// HouseholdForUser finds the household a user belongs to, with all members.
func (r *SQLRepository) HouseholdForUser(ctx context.Context, facilityID, userID string) (*domain.Household, []domain.HouseholdMember, error) {
	if facilityID == "" {
		return nil, nil, fmt.Errorf("%w: facilityID is required", ErrInvalidInput)
	}

	query := `
		SELECT h.id, h.facility_id, h.address, h.max_members, h.max_active_reservations, h.prime_time_max_per_week
		FROM households h
		JOIN household_members m ON m.household_id = h.id
		WHERE h.facility_id = ? AND m.user_id = ?
	`

	var h domain.Household
	var maxMembers, maxActive, primeMax sql.NullInt64
	err := r.db.QueryRowContext(ctx, r.rebind(query), facilityID, userID).Scan(
		&h.ID, &h.FacilityID, &h.Address, &maxMembers, &maxActive, &primeMax,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	h.MaxMembers = intPtr(maxMembers)
	h.MaxActiveReservations = intPtr(maxActive)
	h.PrimeTimeMaxPerWeek = intPtr(primeMax)

	members, err := r.householdMembers(ctx, h.ID)
	if err != nil {
		return nil, nil, err
	}
	return &h, members, nil
}

func (r *SQLRepository) householdMembers(ctx context.Context, householdID string) ([]domain.HouseholdMember, error) {
	query := `
		SELECT household_id, user_id, verification_status, is_primary
		FROM household_members
		WHERE household_id = ?
		ORDER BY is_primary DESC, user_id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), householdID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []domain.HouseholdMember
	for rows.Next() {
		var m domain.HouseholdMember
		var primary int
		if err := rows.Scan(&m.HouseholdID, &m.UserID, &m.VerificationStatus, &primary); err != nil {
			return nil, err
		}
		m.IsPrimary = primary == 1
		members = append(members, m)
	}
	return members, rows.Err()
}

// AddHouseholdMember inserts a member, enforcing the size cap inside the
// same transaction. A household's own max_members override takes precedence
// over the facility-level cap passed by the caller.
func (r *SQLRepository) AddHouseholdMember(ctx context.Context, m *domain.HouseholdMember, maxMembers int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var override sql.NullInt64
	query := `SELECT max_members FROM households WHERE id = ?`
	if err := tx.QueryRowContext(ctx, r.rebind(query), m.HouseholdID).Scan(&override); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: household %s", ErrNotFound, m.HouseholdID)
		}
		return err
	}
	limit := maxMembers
	if override.Valid {
		limit = int(override.Int64)
	}

	var count int
	query = `SELECT COUNT(*) FROM household_members WHERE household_id = ?`
	if err := tx.QueryRowContext(ctx, r.rebind(query), m.HouseholdID).Scan(&count); err != nil {
		return err
	}
	if limit > 0 && count >= limit {
		return fmt.Errorf("%w: household %s already has %d of %d members", domain.ErrConflict, m.HouseholdID, count, limit)
	}

	query = `
		INSERT INTO household_members (household_id, user_id, verification_status, is_primary)
		VALUES (?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, r.rebind(query), m.HouseholdID, m.UserID, m.VerificationStatus, boolToInt(m.IsPrimary)); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveStrike appends a strike to the ledger.
func (r *SQLRepository) SaveStrike(ctx context.Context, s *domain.Strike) error {
	if s.FacilityID == "" {
		return fmt.Errorf("%w: facilityID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO strikes (id, facility_id, user_id, type, issued_at, expires_at, revoked, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	var expires sql.NullTime
	if s.ExpiresAt != nil {
		expires = sql.NullTime{Time: *s.ExpiresAt, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		s.ID, s.FacilityID, s.UserID, s.Type, s.IssuedAt, expires, boolToInt(s.Revoked), s.Note,
	)
	return err
}

// RevokeStrike marks a strike revoked. The row stays in the ledger.
func (r *SQLRepository) RevokeStrike(ctx context.Context, facilityID, strikeID string) error {
	query := `UPDATE strikes SET revoked = 1 WHERE facility_id = ? AND id = ?`
	result, err := r.db.ExecContext(ctx, r.rebind(query), facilityID, strikeID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListStrikes retrieves a user's strikes issued at or after since.
func (r *SQLRepository) ListStrikes(ctx context.Context, facilityID, userID string, since time.Time) ([]*domain.Strike, error) {
	if facilityID == "" {
		return nil, fmt.Errorf("%w: facilityID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, facility_id, user_id, type, issued_at, expires_at, revoked, note
		FROM strikes
		WHERE facility_id = ? AND user_id = ? AND issued_at >= ?
		ORDER BY issued_at
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), facilityID, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var strikes []*domain.Strike
	for rows.Next() {
		var s domain.Strike
		var expires sql.NullTime
		var revoked int
		var note sql.NullString
		if err := rows.Scan(&s.ID, &s.FacilityID, &s.UserID, &s.Type, &s.IssuedAt, &expires, &revoked, &note); err != nil {
			return nil, err
		}
		if expires.Valid {
			t := expires.Time
			s.ExpiresAt = &t
		}
		s.Revoked = revoked == 1
		s.Note = note.String
		strikes = append(strikes, &s)
	}
	return strikes, rows.Err()
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
