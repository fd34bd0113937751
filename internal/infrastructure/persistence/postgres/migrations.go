package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies the embedded migrations in version order.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a migrator with the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: Migrations(), tableName: "schema_migrations"}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.conn.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`, m.tableName))
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.pool.Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		out[version] = at
	}
	return out, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction, and
// returns the versions it applied.
func (m *Migrator) Migrate(ctx context.Context) ([]int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	var done []int
	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		err := m.conn.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName), mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return done, fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
		done = append(done, mig.Version)
	}
	return done, nil
}

// Rollback reverts the most recently applied migration. It returns 0 when
// nothing was applied.
func (m *Migrator) Rollback(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	last := 0
	for v := range applied {
		last = max(last, v)
	}
	if last == 0 {
		return 0, nil
	}

	var mig *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last {
			mig = &m.migrations[i]
		}
	}
	if mig == nil || mig.DownSQL == "" {
		return 0, fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, last)
	}

	err = m.conn.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, mig.DownSQL); err != nil {
			return fmt.Errorf("failed to roll back migration %d: %w", last, err)
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName), last)
		return err
	})
	return last, err
}

// Status lists every embedded migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Migration, len(m.migrations))
	copy(out, m.migrations)
	for i := range out {
		if at, ok := applied[out[i].Version]; ok {
			out[i].IsApplied = true
			out[i].AppliedAt = at
		}
	}
	return out, nil
}

// Migrations returns all embedded migrations.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_learners", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_review_cards", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_band_state", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "create_progression", UpSQL: migration004Up, DownSQL: migration004Down},
		{Version: 5, Name: "create_daily_mixes", UpSQL: migration005Up, DownSQL: migration005Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: LEARNERS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS learners (
    id UUID PRIMARY KEY,
    education_level VARCHAR(40) NOT NULL,
    primary_domain VARCHAR(30) NOT NULL,
    secondary_interests TEXT[] NOT NULL DEFAULT '{}',
    timezone VARCHAR(64) NOT NULL DEFAULT 'UTC',
    target_minutes INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_target_minutes CHECK (target_minutes >= 0)
);

CREATE INDEX IF NOT EXISTS idx_learners_created_at ON learners(created_at, id);
`

const migration001Down = `
DROP TABLE IF EXISTS learners;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: REVIEW CARDS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS review_cards (
    id UUID PRIMARY KEY,
    learner_id UUID NOT NULL REFERENCES learners(id) ON DELETE CASCADE,
    domain VARCHAR(30) NOT NULL,
    item_type VARCHAR(30) NOT NULL,
    content_id VARCHAR(100) NOT NULL,
    ease_factor DOUBLE PRECISION NOT NULL,
    stability DOUBLE PRECISION NOT NULL,
    interval_days INTEGER NOT NULL,
    due_date TIMESTAMP WITH TIME ZONE NOT NULL,
    difficulty DOUBLE PRECISION NOT NULL,
    last_grade SMALLINT,
    last_reviewed TIMESTAMP WITH TIME ZONE,
    review_count INTEGER NOT NULL DEFAULT 0,
    fail_count INTEGER NOT NULL DEFAULT 0,
    is_leech BOOLEAN NOT NULL DEFAULT FALSE,
    competency_tags TEXT[] NOT NULL DEFAULT '{}',
    goal_ids TEXT[] NOT NULL DEFAULT '{}',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT unique_learner_content UNIQUE (learner_id, content_id),
    CONSTRAINT valid_ease CHECK (ease_factor > 0),
    CONSTRAINT valid_stability CHECK (stability >= 0 AND stability <= 1),
    CONSTRAINT valid_interval CHECK (interval_days >= 1),
    CONSTRAINT valid_last_grade CHECK (last_grade IS NULL OR last_grade BETWEEN 0 AND 5)
);

CREATE INDEX IF NOT EXISTS idx_review_cards_due ON review_cards(learner_id, due_date);
CREATE INDEX IF NOT EXISTS idx_review_cards_leech ON review_cards(learner_id) WHERE is_leech;

-- Append-only audit trail of graded reviews
CREATE TABLE IF NOT EXISTS review_results (
    id BIGSERIAL PRIMARY KEY,
    card_id UUID NOT NULL REFERENCES review_cards(id) ON DELETE CASCADE,
    learner_id UUID NOT NULL REFERENCES learners(id) ON DELETE CASCADE,
    domain VARCHAR(30) NOT NULL,
    grade SMALLINT NOT NULL,
    time_spent_seconds INTEGER NOT NULL DEFAULT 0,
    hints_used INTEGER NOT NULL DEFAULT 0,
    reviewed_at TIMESTAMP WITH TIME ZONE NOT NULL,
    previous_interval INTEGER NOT NULL,
    ease_factor DOUBLE PRECISION NOT NULL,
    interval_days INTEGER NOT NULL,
    due_date TIMESTAMP WITH TIME ZONE NOT NULL,
    stability DOUBLE PRECISION NOT NULL,
    became_leech BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_review_results_recent ON review_results(learner_id, reviewed_at DESC);
`

const migration002Down = `
DROP TABLE IF EXISTS review_results;
DROP TABLE IF EXISTS review_cards;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: BAND STATE
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS band_statuses (
    learner_id UUID PRIMARY KEY REFERENCES learners(id) ON DELETE CASCADE,
    current_band CHAR(1) NOT NULL,
    history JSONB NOT NULL DEFAULT '[]'::jsonb,
    streak_at_band INTEGER NOT NULL DEFAULT 0,
    performance JSONB NOT NULL DEFAULT '{}'::jsonb,
    last_promotion TIMESTAMP WITH TIME ZONE,
    last_demotion TIMESTAMP WITH TIME ZONE,
    last_session_date TIMESTAMP WITH TIME ZONE,
    version INTEGER NOT NULL DEFAULT 1,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_band CHECK (current_band IN ('A', 'B', 'C', 'D', 'E'))
);

-- One row per learner-local calendar day; day_start is that day's midnight
CREATE TABLE IF NOT EXISTS band_days (
    learner_id UUID NOT NULL REFERENCES learners(id) ON DELETE CASCADE,
    day DATE NOT NULL,
    day_start TIMESTAMP WITH TIME ZONE NOT NULL,
    items INTEGER NOT NULL,
    correct_rate DOUBLE PRECISION NOT NULL,
    hint_usage DOUBLE PRECISION NOT NULL,
    time_efficiency DOUBLE PRECISION NOT NULL,
    confidence DOUBLE PRECISION NOT NULL,
    difficult BOOLEAN NOT NULL,

    PRIMARY KEY (learner_id, day)
);
`

const migration003Down = `
DROP TABLE IF EXISTS band_days;
DROP TABLE IF EXISTS band_statuses;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: PROGRESSION
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
CREATE TABLE IF NOT EXISTS domain_statuses (
    learner_id UUID NOT NULL REFERENCES learners(id) ON DELETE CASCADE,
    domain VARCHAR(30) NOT NULL,
    state VARCHAR(20) NOT NULL,
    items_completed INTEGER NOT NULL DEFAULT 0,
    total_items INTEGER NOT NULL DEFAULT 0,
    mini_osce_passed BOOLEAN NOT NULL DEFAULT FALSE,
    retention_check_passed BOOLEAN NOT NULL DEFAULT FALSE,
    srs_cards_stable BOOLEAN NOT NULL DEFAULT FALSE,
    complication_case_passed BOOLEAN NOT NULL DEFAULT FALSE,
    unlocked_at TIMESTAMP WITH TIME ZONE,
    completed_at TIMESTAMP WITH TIME ZONE,
    next_suggested VARCHAR(30) NOT NULL DEFAULT '',
    version INTEGER NOT NULL DEFAULT 1,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (learner_id, domain),
    CONSTRAINT valid_state CHECK (state IN ('locked', 'active', 'gated', 'completed')),
    CONSTRAINT valid_items CHECK (items_completed >= 0 AND total_items >= 0)
);

CREATE TABLE IF NOT EXISTS retention_checks (
    id UUID PRIMARY KEY,
    learner_id UUID NOT NULL REFERENCES learners(id) ON DELETE CASCADE,
    domain VARCHAR(30) NOT NULL,
    card_ids TEXT[] NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
    scheduled_for TIMESTAMP WITH TIME ZONE NOT NULL,
    required_stability DOUBLE PRECISION NOT NULL,
    completed_at TIMESTAMP WITH TIME ZONE,
    observed_stability DOUBLE PRECISION
);

CREATE INDEX IF NOT EXISTS idx_retention_checks_pending
    ON retention_checks(scheduled_for, id) WHERE completed_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_retention_checks_learner ON retention_checks(learner_id);
`

const migration004Down = `
DROP TABLE IF EXISTS retention_checks;
DROP TABLE IF EXISTS domain_statuses;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 005: DAILY MIXES
// ══════════════════════════════════════════════════════════════════════════════

const migration005Up = `
CREATE TABLE IF NOT EXISTS daily_mixes (
    learner_id UUID NOT NULL REFERENCES learners(id) ON DELETE CASCADE,
    mix_date DATE NOT NULL,
    payload JSONB NOT NULL,
    generated_at TIMESTAMP WITH TIME ZONE NOT NULL,

    PRIMARY KEY (learner_id, mix_date)
);
`

const migration005Down = `
DROP TABLE IF EXISTS daily_mixes;
`
