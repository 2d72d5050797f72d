package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opencourt/courtyard/internal/domain"
)

// GetReservation retrieves a reservation by ID.
func (r *SQLRepository) GetReservation(ctx context.Context, facilityID, reservationID string) (*domain.Reservation, error) {
	if facilityID == "" {
		return nil, fmt.Errorf("%w: facilityID is required", ErrInvalidInput)
	}

	query := reservationSelect + ` WHERE facility_id = ? AND id = ?`
	res, err := scanReservation(r.db.QueryRowContext(ctx, r.rebind(query), facilityID, reservationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return res, err
}

// ListReservations retrieves confirmed reservations for the given users
// with start_at >= from, and < to when to is non-zero.
func (r *SQLRepository) ListReservations(ctx context.Context, facilityID string, userIDs []string, from, to time.Time) ([]domain.Reservation, error) {
	if facilityID == "" {
		return nil, fmt.Errorf("%w: facilityID is required", ErrInvalidInput)
	}
	if len(userIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(userIDs)), ", ")
	query := reservationSelect + fmt.Sprintf(`
		WHERE facility_id = ? AND status = '%s' AND user_id IN (%s) AND start_at >= ?`,
		domain.ReservationConfirmed, placeholders)

	args := make([]any, 0, len(userIDs)+3)
	args = append(args, facilityID)
	for _, id := range userIDs {
		args = append(args, id)
	}
	args = append(args, from)
	if !to.IsZero() {
		query += ` AND start_at < ?`
		args = append(args, to)
	}
	query += ` ORDER BY start_at`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reservations []domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, *res)
	}
	return reservations, rows.Err()
}

// CommitReservation inserts a reservation after re-checking, inside the
// same transaction, that the slot is still free for both the court and the
// user, and that the per-court weekly cap still holds. The evaluator's
// earlier reads may be stale by now; these are not. A failed re-check is
// ErrConflict.
func (r *SQLRepository) CommitReservation(ctx context.Context, res *domain.Reservation, guard domain.CommitGuard) error {
	if res.FacilityID == "" {
		return fmt.Errorf("%w: facilityID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var clash int
	query := `
		SELECT COUNT(*) FROM reservations
		WHERE facility_id = ? AND court_id = ? AND status = ?
		  AND start_at < ? AND end_at > ?
	`
	if err := tx.QueryRowContext(ctx, r.rebind(query),
		res.FacilityID, res.CourtID, domain.ReservationConfirmed, res.EndAt, res.StartAt,
	).Scan(&clash); err != nil {
		return err
	}
	if clash > 0 {
		return fmt.Errorf("%w: court %s is taken at %s %s", domain.ErrConflict, res.CourtID, res.Date, res.StartTime)
	}

	query = `
		SELECT COUNT(*) FROM reservations
		WHERE facility_id = ? AND user_id = ? AND status = ?
		  AND start_at < ? AND end_at > ?
	`
	if err := tx.QueryRowContext(ctx, r.rebind(query),
		res.FacilityID, res.UserID, domain.ReservationConfirmed, res.EndAt, res.StartAt,
	).Scan(&clash); err != nil {
		return err
	}
	if clash > 0 {
		return fmt.Errorf("%w: user %s already booked at %s %s", domain.ErrConflict, res.UserID, res.Date, res.StartTime)
	}

	if guard.MaxPerCourtWeek != nil {
		var count int
		query = `
			SELECT COUNT(*) FROM reservations
			WHERE facility_id = ? AND user_id = ? AND court_id = ? AND status = ?
			  AND start_at >= ? AND start_at < ?
		`
		if err := tx.QueryRowContext(ctx, r.rebind(query),
			res.FacilityID, res.UserID, res.CourtID, domain.ReservationConfirmed,
			guard.WeekStart, guard.WeekEnd,
		).Scan(&count); err != nil {
			return err
		}
		if count >= *guard.MaxPerCourtWeek {
			return fmt.Errorf("%w: court weekly cap of %d reached", domain.ErrConflict, *guard.MaxPerCourtWeek)
		}
	}

	query = `
		INSERT INTO reservations (
			id, facility_id, court_id, user_id, date, start_time, end_time,
			duration_minutes, status, start_at, end_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, r.rebind(query),
		res.ID, res.FacilityID, res.CourtID, res.UserID,
		res.Date, res.StartTime, res.EndTime, res.DurationMinutes,
		res.Status, res.StartAt, res.EndAt, res.CreatedAt,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// CancelReservation marks a confirmed reservation cancelled and returns the
// updated row. When userID is non-empty it must own the reservation.
func (r *SQLRepository) CancelReservation(ctx context.Context, facilityID, reservationID, userID string, at time.Time) (*domain.Reservation, error) {
	if facilityID == "" {
		return nil, fmt.Errorf("%w: facilityID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := reservationSelect + ` WHERE facility_id = ? AND id = ?`
	res, err := scanReservation(tx.QueryRowContext(ctx, r.rebind(query), facilityID, reservationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if userID != "" && res.UserID != userID {
		return nil, ErrNotFound
	}
	if res.Status != domain.ReservationConfirmed {
		return nil, fmt.Errorf("%w: reservation %s is already %s", domain.ErrConflict, reservationID, res.Status)
	}

	query = `UPDATE reservations SET status = ? WHERE facility_id = ? AND id = ?`
	if _, err := tx.ExecContext(ctx, r.rebind(query), domain.ReservationCancelled, facilityID, reservationID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	res.Status = domain.ReservationCancelled
	return res, nil
}

const reservationSelect = `
	SELECT id, facility_id, court_id, user_id, date, start_time, end_time,
	       duration_minutes, status, start_at, end_at, created_at
	FROM reservations`

func scanReservation(row rowScanner) (*domain.Reservation, error) {
	var res domain.Reservation
	if err := row.Scan(
		&res.ID, &res.FacilityID, &res.CourtID, &res.UserID,
		&res.Date, &res.StartTime, &res.EndTime, &res.DurationMinutes,
		&res.Status, &res.StartAt, &res.EndAt, &res.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &res, nil
}

// RecordAction appends one entry to the action log.
func (r *SQLRepository) RecordAction(ctx context.Context, rec *domain.ActionRecord) error {
	if rec.FacilityID == "" {
		return fmt.Errorf("%w: facilityID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO action_log (id, facility_id, user_id, action, court_id, date, start_time, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		uuid.New().String(), rec.FacilityID, rec.UserID, rec.Action,
		rec.CourtID, rec.Date, rec.StartTime, rec.At,
	)
	return err
}

// CountActions counts a user's logged actions at or after since, optionally
// filtered by action type.
func (r *SQLRepository) CountActions(ctx context.Context, facilityID, userID, action string, since time.Time) (int64, error) {
	if facilityID == "" {
		return 0, fmt.Errorf("%w: facilityID is required", ErrInvalidInput)
	}

	query := `SELECT COUNT(*) FROM action_log WHERE facility_id = ? AND user_id = ? AND at >= ?`
	args := []any{facilityID, userID, since}
	if action != "" {
		query += ` AND action = ?`
		args = append(args, action)
	}

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(&count)
	return count, err
}

// ListActions retrieves a user's logged actions at or after since.
func (r *SQLRepository) ListActions(ctx context.Context, facilityID, userID, action string, since time.Time) ([]domain.ActionRecord, error) {
	if facilityID == "" {
		return nil, fmt.Errorf("%w: facilityID is required", ErrInvalidInput)
	}

	query := `
		SELECT facility_id, user_id, action, court_id, date, start_time, at
		FROM action_log
		WHERE facility_id = ? AND user_id = ? AND at >= ?
	`
	args := []any{facilityID, userID, since}
	if action != "" {
		query += ` AND action = ?`
		args = append(args, action)
	}
	query += ` ORDER BY at DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.ActionRecord
	for rows.Next() {
		var rec domain.ActionRecord
		var courtID, date, startTime sql.NullString
		if err := rows.Scan(&rec.FacilityID, &rec.UserID, &rec.Action, &courtID, &date, &startTime, &rec.At); err != nil {
			return nil, err
		}
		rec.CourtID = courtID.String
		rec.Date = date.String
		rec.StartTime = startTime.String
		records = append(records, rec)
	}
	return records, rows.Err()
}
