package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/dailymix"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DAILY MIX REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// MixRepository implements dailymix.Repository for PostgreSQL. A mix is
// stored whole as JSONB, keyed by the learner and the calendar date of
// mix.Date.
type MixRepository struct {
	conn *Connection
}

var _ dailymix.Repository = (*MixRepository)(nil)

// NewMixRepository creates a new MixRepository.
func NewMixRepository(conn *Connection) *MixRepository {
	return &MixRepository{conn: conn}
}

// Save upserts a mix.
func (r *MixRepository) Save(ctx context.Context, mix dailymix.DailyMix) error {
	payload, err := json.Marshal(mix)
	if err != nil {
		return fmt.Errorf("failed to marshal daily mix: %w", err)
	}

	query := `
		INSERT INTO daily_mixes (learner_id, mix_date, payload, generated_at)
		VALUES ($1, $2::date, $3, $4)
		ON CONFLICT (learner_id, mix_date) DO UPDATE SET
			payload = EXCLUDED.payload,
			generated_at = EXCLUDED.generated_at
	`
	if _, err := r.conn.q(ctx).Exec(ctx, query, mix.LearnerID, shared.DateKey(mix.Date), payload, mix.GeneratedAt); err != nil {
		return fmt.Errorf("failed to save daily mix: %w", err)
	}
	return nil
}

// Get returns the stored mix for the calendar day of date.
func (r *MixRepository) Get(ctx context.Context, learnerID string, date time.Time) (dailymix.DailyMix, error) {
	var payload []byte
	err := r.conn.q(ctx).QueryRow(ctx,
		`SELECT payload FROM daily_mixes WHERE learner_id = $1 AND mix_date = $2::date`,
		learnerID, shared.DateKey(date),
	).Scan(&payload)
	if err != nil {
		if IsNoRows(err) {
			return dailymix.DailyMix{}, shared.ErrDailyMixNotFound
		}
		return dailymix.DailyMix{}, fmt.Errorf("failed to get daily mix: %w", err)
	}

	var mix dailymix.DailyMix
	if err := json.Unmarshal(payload, &mix); err != nil {
		return dailymix.DailyMix{}, fmt.Errorf("failed to unmarshal daily mix: %w", err)
	}
	return mix, nil
}

// Delete removes the stored mix. Deleting a missing mix is not an error.
func (r *MixRepository) Delete(ctx context.Context, learnerID string, date time.Time) error {
	_, err := r.conn.q(ctx).Exec(ctx,
		`DELETE FROM daily_mixes WHERE learner_id = $1 AND mix_date = $2::date`,
		learnerID, shared.DateKey(date),
	)
	if err != nil {
		return fmt.Errorf("failed to delete daily mix: %w", err)
	}
	return nil
}

// PruneBefore deletes mixes for dates before the given day and returns how
// many rows were removed.
func (r *MixRepository) PruneBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.conn.q(ctx).Exec(ctx,
		`DELETE FROM daily_mixes WHERE mix_date < $1::date`, shared.DateKey(before))
	if err != nil {
		return 0, fmt.Errorf("failed to prune daily mixes: %w", err)
	}
	return tag.RowsAffected(), nil
}
