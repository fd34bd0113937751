package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/band"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// BAND REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// BandRepository implements band.Repository for PostgreSQL. History and the
// performance snapshot are stored as JSONB.
type BandRepository struct {
	conn *Connection
}

var _ band.Repository = (*BandRepository)(nil)

// NewBandRepository creates a new BandRepository.
func NewBandRepository(conn *Connection) *BandRepository {
	return &BandRepository{conn: conn}
}

// Get returns the band status of a learner.
func (r *BandRepository) Get(ctx context.Context, learnerID string) (band.Status, error) {
	query := `
		SELECT learner_id, current_band, history, streak_at_band, performance,
			last_promotion, last_demotion, last_session_date, version, updated_at
		FROM band_statuses
		WHERE learner_id = $1
	`
	var (
		s           band.Status
		current     string
		history     []byte
		performance []byte
	)
	err := r.conn.q(ctx).QueryRow(ctx, query, learnerID).Scan(
		&s.LearnerID, &current, &history, &s.StreakAtBand, &performance,
		&s.LastPromotion, &s.LastDemotion, &s.LastSessionDate, &s.Version, &s.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return band.Status{}, shared.ErrBandStatusNotFound
		}
		return band.Status{}, fmt.Errorf("failed to get band status: %w", err)
	}

	if s.CurrentBand, err = band.ParseBand(current); err != nil {
		return band.Status{}, fmt.Errorf("failed to parse stored band: %w", err)
	}
	if err := json.Unmarshal(history, &s.History); err != nil {
		return band.Status{}, fmt.Errorf("failed to unmarshal band history: %w", err)
	}
	if err := json.Unmarshal(performance, &s.Performance); err != nil {
		return band.Status{}, fmt.Errorf("failed to unmarshal performance: %w", err)
	}
	return s, nil
}

// Create inserts a new status with version 1.
func (r *BandRepository) Create(ctx context.Context, s band.Status) error {
	history, performance, err := marshalBandStatus(s)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO band_statuses (
			learner_id, current_band, history, streak_at_band, performance,
			last_promotion, last_demotion, last_session_date, version, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9)
	`
	_, err = r.conn.q(ctx).Exec(ctx, query,
		s.LearnerID, s.CurrentBand.String(), history, s.StreakAtBand, performance,
		s.LastPromotion, s.LastDemotion, s.LastSessionDate, s.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.NewDomainError("band", "Create", shared.ErrAlreadyExists, "band status already exists")
		}
		return fmt.Errorf("failed to create band status: %w", err)
	}
	return nil
}

// Save writes the status if the stored version still equals s.Version.
func (r *BandRepository) Save(ctx context.Context, s band.Status) (band.Status, error) {
	history, performance, err := marshalBandStatus(s)
	if err != nil {
		return s, err
	}

	query := `
		UPDATE band_statuses SET
			current_band = $2,
			history = $3,
			streak_at_band = $4,
			performance = $5,
			last_promotion = $6,
			last_demotion = $7,
			last_session_date = $8,
			updated_at = $9,
			version = version + 1
		WHERE learner_id = $1 AND version = $10
		RETURNING version
	`
	var version int
	err = r.conn.q(ctx).QueryRow(ctx, query,
		s.LearnerID, s.CurrentBand.String(), history, s.StreakAtBand, performance,
		s.LastPromotion, s.LastDemotion, s.LastSessionDate, s.UpdatedAt, s.Version,
	).Scan(&version)
	if err != nil {
		if IsNoRows(err) {
			return s, r.conn.staleOrMissing(ctx,
				`SELECT EXISTS (SELECT 1 FROM band_statuses WHERE learner_id = $1)`,
				shared.ErrBandStatusNotFound, s.LearnerID)
		}
		if IsSerializationFailure(err) {
			return s, shared.ErrConcurrentModification
		}
		return s, fmt.Errorf("failed to save band status: %w", err)
	}

	out := s.Clone()
	out.Version = version
	return out, nil
}

// SaveDay upserts the performance of the calendar day of day.Date.
func (r *BandRepository) SaveDay(ctx context.Context, learnerID string, day band.DayPerformance) error {
	query := `
		INSERT INTO band_days (
			learner_id, day, day_start, items, correct_rate, hint_usage,
			time_efficiency, confidence, difficult
		) VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (learner_id, day) DO UPDATE SET
			day_start = EXCLUDED.day_start,
			items = EXCLUDED.items,
			correct_rate = EXCLUDED.correct_rate,
			hint_usage = EXCLUDED.hint_usage,
			time_efficiency = EXCLUDED.time_efficiency,
			confidence = EXCLUDED.confidence,
			difficult = EXCLUDED.difficult
	`
	_, err := r.conn.q(ctx).Exec(ctx, query,
		learnerID, shared.DateKey(day.Date), day.Date, day.Items, day.CorrectRate,
		day.HintUsage, day.TimeEfficiency, day.Confidence, day.Difficult,
	)
	if err != nil {
		return fmt.Errorf("failed to save day performance: %w", err)
	}
	return nil
}

const dayColumns = `day_start, items, correct_rate, hint_usage, time_efficiency, confidence, difficult`

// GetDay returns the performance for the calendar day of date.
func (r *BandRepository) GetDay(ctx context.Context, learnerID string, date time.Time) (band.DayPerformance, error) {
	query := `SELECT ` + dayColumns + ` FROM band_days WHERE learner_id = $1 AND day = $2::date`

	d, err := scanDay(r.conn.q(ctx).QueryRow(ctx, query, learnerID, shared.DateKey(date)))
	if err != nil {
		if IsNoRows(err) {
			return band.DayPerformance{}, shared.NewDomainError("band", "GetDay", shared.ErrNotFound, "no performance for day")
		}
		return band.DayPerformance{}, fmt.Errorf("failed to get day performance: %w", err)
	}
	return d, nil
}

// RecentDays returns up to limit most recent days in chronological order.
// A non-positive limit returns every day.
func (r *BandRepository) RecentDays(ctx context.Context, learnerID string, limit int) ([]band.DayPerformance, error) {
	query := `
		SELECT ` + dayColumns + ` FROM (
			SELECT * FROM band_days
			WHERE learner_id = $1
			ORDER BY day DESC
			LIMIT $2
		) recent
		ORDER BY day
	`
	var lim *int
	if limit > 0 {
		lim = &limit
	}

	rows, err := r.conn.q(ctx).Query(ctx, query, learnerID, lim)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent days: %w", err)
	}
	defer rows.Close()

	out := make([]band.DayPerformance, 0)
	for rows.Next() {
		d, err := scanDay(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan day performance: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDay(row pgx.Row) (band.DayPerformance, error) {
	var d band.DayPerformance
	err := row.Scan(&d.Date, &d.Items, &d.CorrectRate, &d.HintUsage, &d.TimeEfficiency, &d.Confidence, &d.Difficult)
	return d, err
}

func marshalBandStatus(s band.Status) (history, performance []byte, err error) {
	h := s.History
	if h == nil {
		h = []band.Change{}
	}
	if history, err = json.Marshal(h); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal band history: %w", err)
	}
	if performance, err = json.Marshal(s.Performance); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal performance: %w", err)
	}
	return history, performance, nil
}

// staleOrMissing resolves an optimistic update that touched no row: the row
// is either gone or carries a newer version.
func (c *Connection) staleOrMissing(ctx context.Context, existsQuery string, notFound error, args ...any) error {
	var exists bool
	if err := c.q(ctx).QueryRow(ctx, existsQuery, args...).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check row existence: %w", err)
	}
	if !exists {
		return notFound
	}
	return shared.ErrOptimisticLock
}
