package postgres

import (
	"context"
	"fmt"
)

// PointsRepository reads the totals the scoring service maintains in
// challenge_points. It implements standings.PointsSource.
type PointsRepository struct {
	q Querier
}

// NewPointsRepository creates a PointsRepository.
func NewPointsRepository(conn *Connection) *PointsRepository {
	return &PointsRepository{q: conn}
}

// TotalPoints returns points per participant name.
func (r *PointsRepository) TotalPoints(ctx context.Context, challengeID int64) (map[string]float64, error) {
	rows, err := r.q.Query(ctx, `
		SELECT p.name, cp.points::float8
		FROM challenge_points cp
		JOIN participants p ON p.id = cp.participant_id
		WHERE cp.challenge_id = $1
	`, challengeID)
	if err != nil {
		return nil, mapError("TotalPoints", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var (
			name   string
			points float64
		)
		if err := rows.Scan(&name, &points); err != nil {
			return nil, fmt.Errorf("scan points: %w", err)
		}
		out[name] += points
	}
	return out, mapError("TotalPoints", rows.Err())
}

// SetPoints upserts a participant's total. Used by tests and backfills.
func (r *PointsRepository) SetPoints(ctx context.Context, challengeID, participantID int64, points float64) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO challenge_points (challenge_id, participant_id, points)
		VALUES ($1, $2, $3)
		ON CONFLICT (challenge_id, participant_id)
		DO UPDATE SET points = EXCLUDED.points, updated_at = NOW()
	`, challengeID, participantID, points)
	return mapError("SetPoints", err)
}
