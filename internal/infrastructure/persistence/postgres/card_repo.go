package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/srs"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
)

// ══════════════════════════════════════════════════════════════════════════════
// REVIEW CARD REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// CardRepository implements srs.Repository for PostgreSQL.
type CardRepository struct {
	conn *Connection
}

var _ srs.Repository = (*CardRepository)(nil)

// NewCardRepository creates a new CardRepository.
func NewCardRepository(conn *Connection) *CardRepository {
	return &CardRepository{conn: conn}
}

const cardColumns = `
	id, learner_id, domain, item_type, content_id,
	ease_factor, stability, interval_days, due_date, difficulty,
	last_grade, last_reviewed, review_count, fail_count, is_leech,
	competency_tags, goal_ids, created_at`

// SaveCard inserts a card or updates its scheduling state.
func (r *CardRepository) SaveCard(ctx context.Context, c srs.ReviewCard) error {
	query := `
		INSERT INTO review_cards (` + cardColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			ease_factor = EXCLUDED.ease_factor,
			stability = EXCLUDED.stability,
			interval_days = EXCLUDED.interval_days,
			due_date = EXCLUDED.due_date,
			difficulty = EXCLUDED.difficulty,
			last_grade = EXCLUDED.last_grade,
			last_reviewed = EXCLUDED.last_reviewed,
			review_count = EXCLUDED.review_count,
			fail_count = EXCLUDED.fail_count,
			is_leech = EXCLUDED.is_leech,
			competency_tags = EXCLUDED.competency_tags,
			goal_ids = EXCLUDED.goal_ids
	`

	var lastGrade *int16
	if c.LastGrade != nil {
		g := int16(*c.LastGrade)
		lastGrade = &g
	}

	_, err := r.conn.q(ctx).Exec(ctx, query,
		c.ID,
		c.LearnerID,
		string(c.Domain),
		string(c.ItemType),
		c.ContentID,
		c.EaseFactor,
		c.Stability,
		c.IntervalDays,
		c.DueDate,
		c.Difficulty,
		lastGrade,
		c.LastReviewed,
		c.ReviewCount,
		c.FailCount,
		c.IsLeech,
		nonNil(c.CompetencyTags),
		nonNil(c.GoalIDs),
		c.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.NewDomainError("srs", "SaveCard", shared.ErrAlreadyExists, "card for content already exists")
		}
		return fmt.Errorf("failed to save card: %w", err)
	}
	return nil
}

// GetCard returns a card by ID.
func (r *CardRepository) GetCard(ctx context.Context, id string) (srs.ReviewCard, error) {
	query := `SELECT ` + cardColumns + ` FROM review_cards WHERE id = $1`

	c, err := scanCard(r.conn.q(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return srs.ReviewCard{}, shared.ErrCardNotFound
		}
		return srs.ReviewCard{}, fmt.Errorf("failed to get card: %w", err)
	}
	return c, nil
}

// FindByContent returns the learner's card for a content item.
func (r *CardRepository) FindByContent(ctx context.Context, learnerID, contentID string) (srs.ReviewCard, error) {
	query := `SELECT ` + cardColumns + ` FROM review_cards WHERE learner_id = $1 AND content_id = $2`

	c, err := scanCard(r.conn.q(ctx).QueryRow(ctx, query, learnerID, contentID))
	if err != nil {
		if IsNoRows(err) {
			return srs.ReviewCard{}, shared.ErrCardNotFound
		}
		return srs.ReviewCard{}, fmt.Errorf("failed to find card: %w", err)
	}
	return c, nil
}

// ListByLearner returns all cards of a learner ordered by ID.
func (r *CardRepository) ListByLearner(ctx context.Context, learnerID string) ([]srs.ReviewCard, error) {
	query := `SELECT ` + cardColumns + ` FROM review_cards WHERE learner_id = $1 ORDER BY id`
	return r.list(ctx, query, learnerID)
}

// ListByIDs returns the existing cards among ids, ordered by ID.
func (r *CardRepository) ListByIDs(ctx context.Context, ids []string) ([]srs.ReviewCard, error) {
	if len(ids) == 0 {
		return []srs.ReviewCard{}, nil
	}
	query := `SELECT ` + cardColumns + ` FROM review_cards WHERE id = ANY($1::uuid[]) ORDER BY id`
	return r.list(ctx, query, ids)
}

// ListDue returns the learner's cards due strictly before the given instant.
func (r *CardRepository) ListDue(ctx context.Context, learnerID string, before time.Time) ([]srs.ReviewCard, error) {
	query := `
		SELECT ` + cardColumns + `
		FROM review_cards
		WHERE learner_id = $1 AND due_date < $2
		ORDER BY id
	`
	return r.list(ctx, query, learnerID, before)
}

// SaveResult appends a review to the audit trail.
func (r *CardRepository) SaveResult(ctx context.Context, res srs.ReviewResult) error {
	query := `
		INSERT INTO review_results (
			card_id, learner_id, domain, grade, time_spent_seconds, hints_used, reviewed_at,
			previous_interval, ease_factor, interval_days, due_date, stability, became_leech
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.conn.q(ctx).Exec(ctx, query,
		res.CardID,
		res.LearnerID,
		string(res.Domain),
		int16(res.Grade),
		res.TimeSpentSeconds,
		res.HintsUsed,
		res.ReviewedAt,
		res.PreviousInterval,
		res.EaseFactor,
		res.IntervalDays,
		res.DueDate,
		res.Stability,
		res.BecameLeech,
	)
	if err != nil {
		return fmt.Errorf("failed to save review result: %w", err)
	}
	return nil
}

// RecentDomains returns the distinct domains reviewed since the given time,
// most recent first.
func (r *CardRepository) RecentDomains(ctx context.Context, learnerID string, since time.Time) ([]topic.Domain, error) {
	query := `
		SELECT domain
		FROM review_results
		WHERE learner_id = $1 AND reviewed_at >= $2
		GROUP BY domain
		ORDER BY MAX(reviewed_at) DESC, MAX(id) DESC
	`
	rows, err := r.conn.q(ctx).Query(ctx, query, learnerID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent domains: %w", err)
	}
	defer rows.Close()

	var out []topic.Domain
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan domain: %w", err)
		}
		out = append(out, topic.Domain(d))
	}
	return out, rows.Err()
}

// CountLeeches returns the number of leech cards of a learner.
func (r *CardRepository) CountLeeches(ctx context.Context, learnerID string) (int, error) {
	var n int
	err := r.conn.q(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM review_cards WHERE learner_id = $1 AND is_leech`, learnerID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count leeches: %w", err)
	}
	return n, nil
}

func (r *CardRepository) list(ctx context.Context, query string, args ...any) ([]srs.ReviewCard, error) {
	rows, err := r.conn.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	out := make([]srs.ReviewCard, 0)
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCard(row pgx.Row) (srs.ReviewCard, error) {
	var (
		c         srs.ReviewCard
		domain    string
		itemType  string
		lastGrade *int16
	)
	err := row.Scan(
		&c.ID, &c.LearnerID, &domain, &itemType, &c.ContentID,
		&c.EaseFactor, &c.Stability, &c.IntervalDays, &c.DueDate, &c.Difficulty,
		&lastGrade, &c.LastReviewed, &c.ReviewCount, &c.FailCount, &c.IsLeech,
		&c.CompetencyTags, &c.GoalIDs, &c.CreatedAt,
	)
	if err != nil {
		return srs.ReviewCard{}, err
	}
	c.Domain = topic.Domain(domain)
	c.ItemType = srs.ItemType(itemType)
	if lastGrade != nil {
		g := srs.Grade(*lastGrade)
		c.LastGrade = &g
	}
	return c, nil
}
