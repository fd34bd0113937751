package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/band"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/learner"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEARNER REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// LearnerRepository implements learner.Repository for PostgreSQL.
type LearnerRepository struct {
	conn *Connection
}

var _ learner.Repository = (*LearnerRepository)(nil)

// NewLearnerRepository creates a new LearnerRepository.
func NewLearnerRepository(conn *Connection) *LearnerRepository {
	return &LearnerRepository{conn: conn}
}

const learnerColumns = `id, education_level, primary_domain, secondary_interests, timezone, target_minutes, created_at`

// Create inserts a learner.
func (r *LearnerRepository) Create(ctx context.Context, l *learner.Learner) error {
	query := `
		INSERT INTO learners (` + learnerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.conn.q(ctx).Exec(ctx, query,
		l.ID,
		string(l.EducationLevel),
		string(l.PrimaryDomain),
		domainsToStrings(l.SecondaryInterests),
		l.Timezone,
		l.TargetMinutes,
		l.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrLearnerAlreadyExists
		}
		return fmt.Errorf("failed to create learner: %w", err)
	}
	return nil
}

// GetByID returns a learner by ID.
func (r *LearnerRepository) GetByID(ctx context.Context, id string) (*learner.Learner, error) {
	query := `SELECT ` + learnerColumns + ` FROM learners WHERE id = $1`

	l, err := scanLearner(r.conn.q(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrLearnerNotFound
		}
		return nil, fmt.Errorf("failed to get learner: %w", err)
	}
	return l, nil
}

// List returns a page of learners ordered by creation time.
func (r *LearnerRepository) List(ctx context.Context, page shared.Pagination) ([]*learner.Learner, error) {
	query := `
		SELECT ` + learnerColumns + `
		FROM learners
		ORDER BY created_at, id
		LIMIT $1 OFFSET $2
	`
	rows, err := r.conn.q(ctx).Query(ctx, query, page.Limit(), page.Offset())
	if err != nil {
		return nil, fmt.Errorf("failed to list learners: %w", err)
	}
	defer rows.Close()

	var out []*learner.Learner
	for rows.Next() {
		l, err := scanLearner(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan learner: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanLearner(row pgx.Row) (*learner.Learner, error) {
	var (
		l         learner.Learner
		level     string
		primary   string
		interests []string
	)
	err := row.Scan(&l.ID, &level, &primary, &interests, &l.Timezone, &l.TargetMinutes, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	l.EducationLevel = band.EducationLevel(level)
	l.PrimaryDomain = topic.Domain(primary)
	l.SecondaryInterests = stringsToDomains(interests)
	return &l, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func domainsToStrings(ds []topic.Domain) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = string(d)
	}
	return out
}

func stringsToDomains(ss []string) []topic.Domain {
	out := make([]topic.Domain, len(ss))
	for i, s := range ss {
		out[i] = topic.Domain(s)
	}
	return out
}

// nonNil keeps NOT NULL array columns from receiving NULL.
func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
