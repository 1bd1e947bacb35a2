package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CallSequenceRepository signals the automated calling workflow through sos_call_sequences
type CallSequenceRepository struct {
	db *pgxpool.Pool
}

// NewCallSequenceRepository creates a new call sequence repository
func NewCallSequenceRepository(db *pgxpool.Pool) *CallSequenceRepository {
	return &CallSequenceRepository{db: db}
}

// Pause marks the sequence of an event as paused. An event without a sequence gets a
// paused row so a sequence started later sees the signal. A sequence that is already
// paused keeps its first reason. It returns false when the sequence has finished.
func (r *CallSequenceRepository) Pause(ctx context.Context, eventID, reason string) (bool, error) {
	query := `
		INSERT INTO sos_call_sequences (event_id, status, paused_reason, paused_at)
		VALUES ($1, 'paused', $2, $3)
		ON CONFLICT (event_id) DO UPDATE
		SET status = 'paused',
			paused_reason = COALESCE(sos_call_sequences.paused_reason, EXCLUDED.paused_reason),
			paused_at = COALESCE(sos_call_sequences.paused_at, EXCLUDED.paused_at)
		WHERE sos_call_sequences.status IN ('running', 'paused')
	`
	result, err := r.db.Exec(ctx, query, eventID, reason, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to pause call sequence: %w", err)
	}
	return result.RowsAffected() == 1, nil
}
