package repository

// Schema definitions for the Courtyard database.
// Compatible with both SQLite and PostgreSQL.

const schemaFacilitySettings = `
CREATE TABLE IF NOT EXISTS facility_settings (
    facility_id TEXT PRIMARY KEY,
    timezone TEXT NOT NULL,
    restriction_mode TEXT NOT NULL,
    admin_restrictions_apply INTEGER NOT NULL DEFAULT 0,
    prime_rules_apply_to_admins INTEGER NOT NULL DEFAULT 0,
    weekend_rules_apply_to_admins INTEGER NOT NULL DEFAULT 0,
    strike_window_days INTEGER NOT NULL,
    strike_threshold INTEGER NOT NULL,
    strike_lockout_days INTEGER NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    facility_id TEXT NOT NULL,
    code TEXT NOT NULL,
    enabled INTEGER,
    severity TEXT,
    params TEXT,
    custom_message TEXT,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (facility_id, code)
);
`

const schemaCustomRules = `
CREATE TABLE IF NOT EXISTS custom_rules (
    id TEXT PRIMARY KEY,
    facility_id TEXT NOT NULL,
    name TEXT NOT NULL,
    expression TEXT NOT NULL,
    message TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_custom_rules_facility ON custom_rules(facility_id);
`

const schemaTiers = `
CREATE TABLE IF NOT EXISTS tiers (
    id TEXT PRIMARY KEY,
    facility_id TEXT NOT NULL,
    name TEXT NOT NULL,
    tier_level INTEGER NOT NULL,
    advance_booking_days INTEGER NOT NULL DEFAULT 0,
    prime_time_eligible INTEGER NOT NULL DEFAULT 0,
    prime_time_max_per_week INTEGER,
    max_active_reservations INTEGER,
    max_reservations_per_week INTEGER,
    max_minutes_per_week INTEGER,
    is_default INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_tiers_facility ON tiers(facility_id);

CREATE TABLE IF NOT EXISTS tier_assignments (
    facility_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    tier_id TEXT NOT NULL,
    expires_at TIMESTAMP,
    PRIMARY KEY (facility_id, user_id)
);
`

const schemaHouseholds = `
CREATE TABLE IF NOT EXISTS households (
    id TEXT PRIMARY KEY,
    facility_id TEXT NOT NULL,
    address TEXT,
    max_members INTEGER,
    max_active_reservations INTEGER,
    prime_time_max_per_week INTEGER
);

CREATE INDEX IF NOT EXISTS idx_households_facility ON households(facility_id);

CREATE TABLE IF NOT EXISTS household_members (
    household_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    verification_status TEXT NOT NULL,
    is_primary INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (household_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_household_members_user ON household_members(user_id);
`

const schemaStrikes = `
CREATE TABLE IF NOT EXISTS strikes (
    id TEXT PRIMARY KEY,
    facility_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    type TEXT NOT NULL,
    issued_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP,
    revoked INTEGER NOT NULL DEFAULT 0,
    note TEXT
);

CREATE INDEX IF NOT EXISTS idx_strikes_user ON strikes(facility_id, user_id, issued_at);
`

const schemaReservations = `
CREATE TABLE IF NOT EXISTS reservations (
    id TEXT PRIMARY KEY,
    facility_id TEXT NOT NULL,
    court_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    date TEXT NOT NULL,
    start_time TEXT NOT NULL,
    end_time TEXT NOT NULL,
    duration_minutes INTEGER NOT NULL,
    status TEXT NOT NULL,
    start_at TIMESTAMP NOT NULL,
    end_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reservations_user ON reservations(facility_id, user_id, start_at);
CREATE INDEX IF NOT EXISTS idx_reservations_court ON reservations(facility_id, court_id, start_at);
`

const schemaActionLog = `
CREATE TABLE IF NOT EXISTS action_log (
    id TEXT PRIMARY KEY,
    facility_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    action TEXT NOT NULL,
    court_id TEXT,
    date TEXT,
    start_time TEXT,
    at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_action_log_user ON action_log(facility_id, user_id, at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaFacilitySettings,
		schemaRuleConfigs,
		schemaCustomRules,
		schemaTiers,
		schemaHouseholds,
		schemaStrikes,
		schemaReservations,
		schemaActionLog,
	}
}
