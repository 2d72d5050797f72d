// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opencourt/courtyard/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// GetFacilitySettings retrieves a facility's settings row.
func (r *SQLRepository) GetFacilitySettings(ctx context.Context, facilityID string) (*domain.FacilitySettings, error) {
	if facilityID == "" {
		return nil, fmt.Errorf("%w: facilityID is required", ErrInvalidInput)
	}

	query := `
		SELECT facility_id, timezone, restriction_mode,
		       admin_restrictions_apply, prime_rules_apply_to_admins, weekend_rules_apply_to_admins,
		       strike_window_days, strike_threshold, strike_lockout_days
		FROM facility_settings
		WHERE facility_id = ?
	`

	var s domain.FacilitySettings
	var adminApply, primeApply, weekendApply int

	err := r.db.QueryRowContext(ctx, r.rebind(query), facilityID).Scan(
		&s.FacilityID, &s.Timezone, &s.RestrictionMode,
		&adminApply, &primeApply, &weekendApply,
		&s.StrikeWindowDays, &s.StrikeThreshold, &s.StrikeLockoutDays,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	s.AdminRestrictionsApply = adminApply == 1
	s.PrimeRulesApplyToAdmins = primeApply == 1
	s.WeekendRulesApplyToAdmins = weekendApply == 1
	return &s, nil
}

// SaveFacilitySettings upserts a facility's settings row.
func (r *SQLRepository) SaveFacilitySettings(ctx context.Context, s *domain.FacilitySettings) error {
	if s.FacilityID == "" {
		return fmt.Errorf("%w: facilityID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO facility_settings (
			facility_id, timezone, restriction_mode,
			admin_restrictions_apply, prime_rules_apply_to_admins, weekend_rules_apply_to_admins,
			strike_window_days, strike_threshold, strike_lockout_days, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(facility_id) DO UPDATE SET
			timezone = excluded.timezone,
			restriction_mode = excluded.restriction_mode,
			admin_restrictions_apply = excluded.admin_restrictions_apply,
			prime_rules_apply_to_admins = excluded.prime_rules_apply_to_admins,
			weekend_rules_apply_to_admins = excluded.weekend_rules_apply_to_admins,
			strike_window_days = excluded.strike_window_days,
			strike_threshold = excluded.strike_threshold,
			strike_lockout_days = excluded.strike_lockout_days,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		s.FacilityID, s.Timezone, s.RestrictionMode,
		boolToInt(s.AdminRestrictionsApply), boolToInt(s.PrimeRulesApplyToAdmins), boolToInt(s.WeekendRulesApplyToAdmins),
		s.StrikeWindowDays, s.StrikeThreshold, s.StrikeLockoutDays,
		time.Now().UTC(),
	)
	return err
}

// GetRuleConfig retrieves one facility rule override.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, facilityID string, code domain.RuleCode) (*domain.FacilityRuleConfig, error) {
	if facilityID == "" {
		return nil, fmt.Errorf("%w: facilityID is required", ErrInvalidInput)
	}

	query := `
		SELECT facility_id, code, enabled, severity, params, custom_message, updated_at
		FROM rule_configs
		WHERE facility_id = ? AND code = ?
	`

	cfg, err := scanRuleConfig(r.db.QueryRowContext(ctx, r.rebind(query), facilityID, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return cfg, err
}

// ListRuleConfigs retrieves all rule overrides for a facility.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context, facilityID string) ([]*domain.FacilityRuleConfig, error) {
	if facilityID == "" {
		return nil, fmt.Errorf("%w: facilityID is required", ErrInvalidInput)
	}

	query := `
		SELECT facility_id, code, enabled, severity, params, custom_message, updated_at
		FROM rule_configs
		WHERE facility_id = ?
		ORDER BY code
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), facilityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.FacilityRuleConfig
	for rows.Next() {
		cfg, err := scanRuleConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// SaveRuleConfig upserts one facility rule override.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, cfg *domain.FacilityRuleConfig) error {
	if cfg.FacilityID == "" {
		return fmt.Errorf("%w: facilityID is required", ErrInvalidInput)
	}
	return r.saveRuleConfigTx(ctx, r.db, cfg)
}

// DeleteRuleConfig removes one facility rule override, reverting the rule
// to catalog defaults.
func (r *SQLRepository) DeleteRuleConfig(ctx context.Context, facilityID string, code domain.RuleCode) error {
	if facilityID == "" {
		return fmt.Errorf("%w: facilityID is required", ErrInvalidInput)
	}

	query := `DELETE FROM rule_configs WHERE facility_id = ? AND code = ?`
	result, err := r.db.ExecContext(ctx, r.rebind(query), facilityID, code)
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

// BulkSetRuleConfigs upserts all rows in a single transaction. Either every
// row applies or none do.
func (r *SQLRepository) BulkSetRuleConfigs(ctx context.Context, facilityID string, configs []*domain.FacilityRuleConfig) error {
	if facilityID == "" {
		return fmt.Errorf("%w: facilityID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, cfg := range configs {
		cfg.FacilityID = facilityID
		if err := r.saveRuleConfigTx(ctx, tx, cfg); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *SQLRepository) saveRuleConfigTx(ctx context.Context, ex execer, cfg *domain.FacilityRuleConfig) error {
	query := `
		INSERT INTO rule_configs (
			facility_id, code, enabled, severity, params, custom_message, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(facility_id, code) DO UPDATE SET
			enabled = excluded.enabled,
			severity = excluded.severity,
			params = excluded.params,
			custom_message = excluded.custom_message,
			updated_at = excluded.updated_at
	`

	var enabled sql.NullInt64
	if cfg.Enabled != nil {
		enabled = sql.NullInt64{Int64: int64(boolToInt(*cfg.Enabled)), Valid: true}
	}
	var severity sql.NullString
	if cfg.Severity != nil {
		severity = sql.NullString{String: string(*cfg.Severity), Valid: true}
	}
	var params sql.NullString
	if len(cfg.Params) > 0 {
		params = sql.NullString{String: string(cfg.Params), Valid: true}
	}

	_, err := ex.ExecContext(ctx, r.rebind(query),
		cfg.FacilityID, cfg.Code, enabled, severity, params, cfg.CustomMessage,
		time.Now().UTC(),
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRuleConfig(row rowScanner) (*domain.FacilityRuleConfig, error) {
	var cfg domain.FacilityRuleConfig
	var enabled sql.NullInt64
	var severity, params, message sql.NullString

	if err := row.Scan(&cfg.FacilityID, &cfg.Code, &enabled, &severity, &params, &message, &cfg.UpdatedAt); err != nil {
		return nil, err
	}
	if enabled.Valid {
		b := enabled.Int64 == 1
		cfg.Enabled = &b
	}
	if severity.Valid {
		s := domain.Severity(severity.String)
		cfg.Severity = &s
	}
	if params.Valid {
		cfg.Params = []byte(params.String)
	}
	cfg.CustomMessage = message.String
	return &cfg, nil
}

// SaveCustomRule upserts a facility-authored advisory rule.
func (r *SQLRepository) SaveCustomRule(ctx context.Context, rule *domain.CustomRule) error {
	if rule.FacilityID == "" {
		return fmt.Errorf("%w: facilityID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO custom_rules (id, facility_id, name, expression, message, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			expression = excluded.expression,
			message = excluded.message,
			enabled = excluded.enabled
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.FacilityID, rule.Name, rule.Expression, rule.Message,
		boolToInt(rule.Enabled), rule.CreatedAt,
	)
	return err
}

// ListCustomRules retrieves all custom rules for a facility.
func (r *SQLRepository) ListCustomRules(ctx context.Context, facilityID string) ([]*domain.CustomRule, error) {
	if facilityID == "" {
		return nil, fmt.Errorf("%w: facilityID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, facility_id, name, expression, message, enabled, created_at
		FROM custom_rules
		WHERE facility_id = ?
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), facilityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.CustomRule
	for rows.Next() {
		var rule domain.CustomRule
		var enabled int
		var message sql.NullString
		if err := rows.Scan(&rule.ID, &rule.FacilityID, &rule.Name, &rule.Expression, &message, &enabled, &rule.CreatedAt); err != nil {
			return nil, err
		}
		rule.Message = message.String
		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}

// DeleteCustomRule removes a custom rule.
func (r *SQLRepository) DeleteCustomRule(ctx context.Context, facilityID, ruleID string) error {
	query := `DELETE FROM custom_rules WHERE facility_id = ? AND id = ?`
	result, err := r.db.ExecContext(ctx, r.rebind(query), facilityID, ruleID)
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

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
