package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrMigrationFailed wraps any error raised while applying a migration.
var ErrMigrationFailed = errors.New("postgres: migration failed")

// Migration is one forward-only schema step. The ledger is append-only, so
// there are no down migrations.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrations returns the embedded migrations in version order.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_challenges", SQL: migration001},
		{Version: 2, Name: "create_medals", SQL: migration002},
		{Version: 3, Name: "create_challenge_points", SQL: migration003},
		{Version: 4, Name: "record_checkin_timezone", SQL: migration004},
	}
}

// migrationLockKey is the advisory lock workers take while migrating, so
// instances starting together apply each step once.
const migrationLockKey int64 = 0x6d6564616c73

// Migrator applies pending migrations, one transaction per version.
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

// NewMigrator creates a migrator over the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: Migrations()}
}

// Migrate applies every migration not yet recorded in schema_migrations.
// It returns the versions it applied.
func (m *Migrator) Migrate(ctx context.Context) ([]int, error) {
	if _, err := m.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return nil, fmt.Errorf("%w: create schema_migrations: %w", ErrMigrationFailed, err)
	}

	var applied []int
	for _, mig := range m.migrations {
		ran := false
		err := m.conn.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
				return err
			}
			var done bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, mig.Version,
			).Scan(&done); err != nil || done {
				return err
			}
			if _, err := tx.Exec(ctx, mig.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name)
			ran = err == nil
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("%w: %03d_%s: %w", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
		if ran {
			applied = append(applied, mig.Version)
		}
	}
	return applied, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CHALLENGES, WEEKS, PARTICIPANTS, CHECK-INS
// ══════════════════════════════════════════════════════════════════════════════

const migration001 = `
-- Migration: Create challenge tables
-- Version: 001

CREATE TABLE IF NOT EXISTS participants (
    id BIGSERIAL PRIMARY KEY,
    name VARCHAR(100) NOT NULL,
    handle VARCHAR(100) NOT NULL UNIQUE,
    timezone VARCHAR(64) NOT NULL DEFAULT 'UTC',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS challenges (
    id BIGSERIAL PRIMARY KEY,
    name VARCHAR(100) NOT NULL,
    start_date DATE NOT NULL,
    end_date DATE NOT NULL,
    bye_weeks INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_range CHECK (end_date >= start_date),
    CONSTRAINT valid_bye_weeks CHECK (bye_weeks >= 0)
);

CREATE TABLE IF NOT EXISTS challenge_weeks (
    id BIGSERIAL PRIMARY KEY,
    challenge_id BIGINT NOT NULL REFERENCES challenges(id) ON DELETE CASCADE,
    week_index INTEGER NOT NULL,
    start_date DATE NOT NULL,
    end_date DATE NOT NULL,
    is_bye_week BOOLEAN NOT NULL DEFAULT FALSE,
    is_green_week BOOLEAN NOT NULL DEFAULT FALSE,

    CONSTRAINT unique_week_index UNIQUE (challenge_id, week_index),
    CONSTRAINT valid_week_range CHECK (end_date >= start_date)
);

CREATE INDEX IF NOT EXISTS idx_challenge_weeks_challenge ON challenge_weeks(challenge_id, start_date);

CREATE TABLE IF NOT EXISTS challenge_participants (
    challenge_id BIGINT NOT NULL REFERENCES challenges(id) ON DELETE CASCADE,
    participant_id BIGINT NOT NULL REFERENCES participants(id) ON DELETE CASCADE,
    joined_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    PRIMARY KEY (challenge_id, participant_id)
);

-- Check-ins are immutable once written.
CREATE TABLE IF NOT EXISTS checkins (
    id BIGSERIAL PRIMARY KEY,
    participant_id BIGINT NOT NULL REFERENCES participants(id),
    week_id BIGINT NOT NULL REFERENCES challenge_weeks(id),
    tier INTEGER NOT NULL,
    checked_in_at TIMESTAMP WITH TIME ZONE NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_tier CHECK (tier >= 1)
);

CREATE INDEX IF NOT EXISTS idx_checkins_week ON checkins(week_id, checked_in_at);
CREATE INDEX IF NOT EXISTS idx_checkins_participant ON checkins(participant_id, checked_in_at);
`


// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: MEDAL LEDGER
// ══════════════════════════════════════════════════════════════════════════════

const migration002 = `
-- Migration: Create the append-only medal ledger
-- Version: 002

CREATE TABLE IF NOT EXISTS medals (
    id BIGSERIAL PRIMARY KEY,
    kind VARCHAR(50) NOT NULL,
    participant_id BIGINT NOT NULL REFERENCES participants(id),
    challenge_id BIGINT NOT NULL REFERENCES challenges(id),
    week_id BIGINT REFERENCES challenge_weeks(id),
    checkin_id BIGINT NOT NULL REFERENCES checkins(id),
    steal_from_checkin_id BIGINT REFERENCES checkins(id),
    emoji VARCHAR(16) NOT NULL,
    -- clock_timestamp() so rows of one transaction still order by write.
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT clock_timestamp(),

    CONSTRAINT unique_award UNIQUE (kind, participant_id, checkin_id)
);

CREATE INDEX IF NOT EXISTS idx_medals_challenge ON medals(challenge_id, created_at, id);
CREATE INDEX IF NOT EXISTS idx_medals_week ON medals(week_id, created_at, id) WHERE week_id IS NOT NULL;

-- The ledger is append-only.
CREATE OR REPLACE FUNCTION medals_reject_change() RETURNS trigger AS $$
BEGIN
    RAISE EXCEPTION 'medals is append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS medals_append_only ON medals;
CREATE TRIGGER medals_append_only
    BEFORE UPDATE OR DELETE ON medals
    FOR EACH ROW EXECUTE FUNCTION medals_reject_change();
`


// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CHALLENGE POINTS
// ══════════════════════════════════════════════════════════════════════════════

const migration003 = `
-- Migration: Points written by the scoring service, bye weeks excluded
-- Version: 003

CREATE TABLE IF NOT EXISTS challenge_points (
    challenge_id BIGINT NOT NULL REFERENCES challenges(id) ON DELETE CASCADE,
    participant_id BIGINT NOT NULL REFERENCES participants(id) ON DELETE CASCADE,
    points NUMERIC(10,2) NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    PRIMARY KEY (challenge_id, participant_id)
);
`


// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: RECORDED CHECK-IN TIMEZONE
// ══════════════════════════════════════════════════════════════════════════════

const migration004 = `
-- Migration: Freeze the participant's zone on each check-in
-- Version: 004

ALTER TABLE checkins ADD COLUMN IF NOT EXISTS timezone VARCHAR(64) NOT NULL DEFAULT '';

-- Existing rows take the zone their participant has today.
UPDATE checkins c
SET timezone = p.timezone
FROM participants p
WHERE p.id = c.participant_id AND c.timezone = '';

-- Every writer, including the ingestion service, records the zone in force.
CREATE OR REPLACE FUNCTION checkins_record_zone() RETURNS trigger AS $$
BEGIN
    IF NEW.timezone = '' THEN
        SELECT timezone INTO NEW.timezone FROM participants WHERE id = NEW.participant_id;
        NEW.timezone := COALESCE(NEW.timezone, '');
    END IF;
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS checkins_record_zone ON checkins;
CREATE TRIGGER checkins_record_zone
    BEFORE INSERT ON checkins
    FOR EACH ROW EXECUTE FUNCTION checkins_record_zone();
`
