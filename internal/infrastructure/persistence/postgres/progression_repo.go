package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/progression"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
)

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN STATUS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// DomainRepository implements progression.Repository for PostgreSQL.
type DomainRepository struct {
	conn *Connection
}

var _ progression.Repository = (*DomainRepository)(nil)

// NewDomainRepository creates a new DomainRepository.
func NewDomainRepository(conn *Connection) *DomainRepository {
	return &DomainRepository{conn: conn}
}

const domainStatusColumns = `
	learner_id, domain, state, items_completed, total_items,
	mini_osce_passed, retention_check_passed, srs_cards_stable, complication_case_passed,
	unlocked_at, completed_at, next_suggested, version, updated_at`

// CreateAll inserts the initial statuses of a learner in one batch. All rows
// are written or none.
func (r *DomainRepository) CreateAll(ctx context.Context, statuses []progression.Status) error {
	query := `
		INSERT INTO domain_statuses (` + domainStatusColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1, $13)
	`
	return r.conn.Do(ctx, func(ctx context.Context) error {
		batch := &pgx.Batch{}
		for _, s := range statuses {
			batch.Queue(query,
				s.LearnerID, string(s.Domain), string(s.State), s.ItemsCompleted, s.TotalItems,
				s.Gate.MiniOSCEPassed, s.Gate.RetentionCheckPassed, s.Gate.SRSCardsStable, s.Gate.ComplicationCasePassed,
				s.UnlockedAt, s.CompletedAt, string(s.NextSuggested), s.UpdatedAt,
			)
		}

		tx := r.conn.q(ctx).(pgx.Tx)
		results := tx.SendBatch(ctx, batch)
		for range statuses {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				if IsUniqueViolation(err) {
					return shared.NewDomainError("progression", "CreateAll", shared.ErrAlreadyExists, "domain status already exists")
				}
				return fmt.Errorf("failed to create domain status: %w", err)
			}
		}
		return results.Close()
	})
}

// Get returns the status of one domain.
func (r *DomainRepository) Get(ctx context.Context, learnerID string, domain topic.Domain) (progression.Status, error) {
	query := `SELECT ` + domainStatusColumns + ` FROM domain_statuses WHERE learner_id = $1 AND domain = $2`

	s, err := scanDomainStatus(r.conn.q(ctx).QueryRow(ctx, query, learnerID, string(domain)))
	if err != nil {
		if IsNoRows(err) {
			return progression.Status{}, shared.ErrDomainStatusNotFound
		}
		return progression.Status{}, fmt.Errorf("failed to get domain status: %w", err)
	}
	return s, nil
}

// ListByLearner returns every domain status of a learner in catalogue order.
func (r *DomainRepository) ListByLearner(ctx context.Context, learnerID string) ([]progression.Status, error) {
	query := `SELECT ` + domainStatusColumns + ` FROM domain_statuses WHERE learner_id = $1`

	rows, err := r.conn.q(ctx).Query(ctx, query, learnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list domain statuses: %w", err)
	}
	defer rows.Close()

	byDomain := make(map[topic.Domain]progression.Status)
	for rows.Next() {
		s, err := scanDomainStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan domain status: %w", err)
		}
		byDomain[s.Domain] = s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]progression.Status, 0, len(byDomain))
	for _, d := range topic.All() {
		if s, ok := byDomain[d]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// Save writes the status if the stored version still equals s.Version.
func (r *DomainRepository) Save(ctx context.Context, s progression.Status) (progression.Status, error) {
	query := `
		UPDATE domain_statuses SET
			state = $3,
			items_completed = $4,
			total_items = $5,
			mini_osce_passed = $6,
			retention_check_passed = $7,
			srs_cards_stable = $8,
			complication_case_passed = $9,
			unlocked_at = $10,
			completed_at = $11,
			next_suggested = $12,
			updated_at = $13,
			version = version + 1
		WHERE learner_id = $1 AND domain = $2 AND version = $14
		RETURNING version
	`
	var version int
	err := r.conn.q(ctx).QueryRow(ctx, query,
		s.LearnerID, string(s.Domain), string(s.State), s.ItemsCompleted, s.TotalItems,
		s.Gate.MiniOSCEPassed, s.Gate.RetentionCheckPassed, s.Gate.SRSCardsStable, s.Gate.ComplicationCasePassed,
		s.UnlockedAt, s.CompletedAt, string(s.NextSuggested), s.UpdatedAt, s.Version,
	).Scan(&version)
	if err != nil {
		if IsNoRows(err) {
			return s, r.conn.staleOrMissing(ctx,
				`SELECT EXISTS (SELECT 1 FROM domain_statuses WHERE learner_id = $1 AND domain = $2)`,
				shared.ErrDomainStatusNotFound, s.LearnerID, string(s.Domain))
		}
		if IsSerializationFailure(err) {
			return s, shared.ErrConcurrentModification
		}
		return s, fmt.Errorf("failed to save domain status: %w", err)
	}

	s.Version = version
	return s, nil
}

func scanDomainStatus(row pgx.Row) (progression.Status, error) {
	var (
		s             progression.Status
		domain, state string
		next          string
	)
	err := row.Scan(
		&s.LearnerID, &domain, &state, &s.ItemsCompleted, &s.TotalItems,
		&s.Gate.MiniOSCEPassed, &s.Gate.RetentionCheckPassed, &s.Gate.SRSCardsStable, &s.Gate.ComplicationCasePassed,
		&s.UnlockedAt, &s.CompletedAt, &next, &s.Version, &s.UpdatedAt,
	)
	if err != nil {
		return progression.Status{}, err
	}
	s.Domain = topic.Domain(domain)
	s.State = progression.State(state)
	s.NextSuggested = topic.Domain(next)
	return s, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RETENTION CHECK REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// RetentionRepository implements progression.RetentionRepository for PostgreSQL.
type RetentionRepository struct {
	conn *Connection
}

var _ progression.RetentionRepository = (*RetentionRepository)(nil)

// NewRetentionRepository creates a new RetentionRepository.
func NewRetentionRepository(conn *Connection) *RetentionRepository {
	return &RetentionRepository{conn: conn}
}

const retentionColumns = `
	id, learner_id, domain, card_ids, created_at, scheduled_for,
	required_stability, completed_at, observed_stability`

// Create inserts a retention check.
func (r *RetentionRepository) Create(ctx context.Context, c progression.RetentionCheck) error {
	query := `
		INSERT INTO retention_checks (` + retentionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.conn.q(ctx).Exec(ctx, query,
		c.ID, c.LearnerID, string(c.Domain), nonNil(c.CardIDs), c.CreatedAt, c.ScheduledFor,
		c.RequiredStability, c.CompletedAt, c.ObservedStability,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.NewDomainError("progression", "CreateRetentionCheck", shared.ErrAlreadyExists, "retention check already exists")
		}
		return fmt.Errorf("failed to create retention check: %w", err)
	}
	return nil
}

// Get returns a retention check by ID.
func (r *RetentionRepository) Get(ctx context.Context, id string) (progression.RetentionCheck, error) {
	query := `SELECT ` + retentionColumns + ` FROM retention_checks WHERE id = $1`

	c, err := scanRetentionCheck(r.conn.q(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return progression.RetentionCheck{}, shared.ErrRetentionCheckNotFound
		}
		return progression.RetentionCheck{}, fmt.Errorf("failed to get retention check: %w", err)
	}
	return c, nil
}

// Save records the outcome of a check.
func (r *RetentionRepository) Save(ctx context.Context, c progression.RetentionCheck) error {
	query := `
		UPDATE retention_checks SET
			card_ids = $2,
			scheduled_for = $3,
			required_stability = $4,
			completed_at = $5,
			observed_stability = $6
		WHERE id = $1
	`
	tag, err := r.conn.q(ctx).Exec(ctx, query,
		c.ID, nonNil(c.CardIDs), c.ScheduledFor, c.RequiredStability, c.CompletedAt, c.ObservedStability,
	)
	if err != nil {
		return fmt.Errorf("failed to save retention check: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrRetentionCheckNotFound
	}
	return nil
}

// ListPending returns uncompleted checks of a learner.
func (r *RetentionRepository) ListPending(ctx context.Context, learnerID string) ([]progression.RetentionCheck, error) {
	query := `
		SELECT ` + retentionColumns + `
		FROM retention_checks
		WHERE learner_id = $1 AND completed_at IS NULL
		ORDER BY scheduled_for, id
	`
	return r.list(ctx, query, learnerID)
}

// ListDue returns uncompleted checks scheduled at or before the given time.
// A non-positive limit returns every due check.
func (r *RetentionRepository) ListDue(ctx context.Context, before time.Time, limit int) ([]progression.RetentionCheck, error) {
	query := `
		SELECT ` + retentionColumns + `
		FROM retention_checks
		WHERE completed_at IS NULL AND scheduled_for <= $1
		ORDER BY scheduled_for, id
		LIMIT $2
	`
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	return r.list(ctx, query, before, lim)
}

func (r *RetentionRepository) list(ctx context.Context, query string, args ...any) ([]progression.RetentionCheck, error) {
	rows, err := r.conn.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query retention checks: %w", err)
	}
	defer rows.Close()

	out := make([]progression.RetentionCheck, 0)
	for rows.Next() {
		c, err := scanRetentionCheck(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan retention check: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanRetentionCheck(row pgx.Row) (progression.RetentionCheck, error) {
	var (
		c      progression.RetentionCheck
		domain string
	)
	err := row.Scan(
		&c.ID, &c.LearnerID, &domain, &c.CardIDs, &c.CreatedAt, &c.ScheduledFor,
		&c.RequiredStability, &c.CompletedAt, &c.ObservedStability,
	)
	if err != nil {
		return progression.RetentionCheck{}, err
	}
	c.Domain = topic.Domain(domain)
	return c, nil
}
