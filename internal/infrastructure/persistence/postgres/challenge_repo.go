package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fitness-challenge/medal-engine/internal/domain/challenge"
	"github.com/fitness-challenge/medal-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHALLENGE REPOSITORY (check-in source)
// ══════════════════════════════════════════════════════════════════════════════

// ChallengeRepository implements challenge.Source. It works on the pool or
// inside a transaction.
type ChallengeRepository struct {
	q Querier
}

// NewChallengeRepository creates a repository on the connection pool.
func NewChallengeRepository(conn *Connection) *ChallengeRepository {
	return &ChallengeRepository{q: conn}
}

const challengeColumns = `id, name, start_date, end_date, bye_weeks, created_at`

func scanChallenge(row pgx.Row) (challenge.Challenge, error) {
	var c challenge.Challenge
	err := row.Scan(&c.ID, &c.Name, &c.Start, &c.End, &c.ByeWeeks, &c.CreatedAt)
	return c, err
}

// GetChallenge returns one challenge.
func (r *ChallengeRepository) GetChallenge(ctx context.Context, challengeID int64) (*challenge.Challenge, error) {
	c, err := scanChallenge(r.q.QueryRow(ctx,
		`SELECT `+challengeColumns+` FROM challenges WHERE id = $1`, challengeID))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrChallengeNotFound
		}
		return nil, mapError("GetChallenge", err)
	}
	return &c, nil
}

// ListChallenges returns every challenge ordered by start date.
func (r *ChallengeRepository) ListChallenges(ctx context.Context) ([]challenge.Challenge, error) {
	rows, err := r.q.Query(ctx, `SELECT `+challengeColumns+` FROM challenges ORDER BY start_date, id`)
	if err != nil {
		return nil, mapError("ListChallenges", err)
	}
	defer rows.Close()

	var out []challenge.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan challenge: %w", err)
		}
		out = append(out, c)
	}
	return out, mapError("ListChallenges", rows.Err())
}

// ListWeeks returns the weeks of a challenge ordered by start date.
func (r *ChallengeRepository) ListWeeks(ctx context.Context, challengeID int64) ([]challenge.Week, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, challenge_id, week_index, start_date, end_date, is_bye_week, is_green_week
		FROM challenge_weeks
		WHERE challenge_id = $1
		ORDER BY start_date, id
	`, challengeID)
	if err != nil {
		return nil, mapError("ListWeeks", err)
	}
	defer rows.Close()

	var out []challenge.Week
	for rows.Next() {
		var w challenge.Week
		if err := rows.Scan(&w.ID, &w.ChallengeID, &w.Index, &w.Start, &w.End, &w.IsByeWeek, &w.IsGreenWeek); err != nil {
			return nil, fmt.Errorf("scan week: %w", err)
		}
		out = append(out, w)
	}
	return out, mapError("ListWeeks", rows.Err())
}

// ListParticipants returns everyone enrolled in the challenge or holding a
// check-in in one of its weeks.
func (r *ChallengeRepository) ListParticipants(ctx context.Context, challengeID int64) ([]challenge.Participant, error) {
	rows, err := r.q.Query(ctx, `
		SELECT p.id, p.name, p.handle, p.timezone
		FROM participants p
		WHERE p.id IN (
			SELECT cp.participant_id FROM challenge_participants cp WHERE cp.challenge_id = $1
			UNION
			SELECT c.participant_id
			FROM checkins c
			JOIN challenge_weeks w ON w.id = c.week_id
			WHERE w.challenge_id = $1
		)
		ORDER BY p.id
	`, challengeID)
	if err != nil {
		return nil, mapError("ListParticipants", err)
	}
	defer rows.Close()

	var out []challenge.Participant
	for rows.Next() {
		var p challenge.Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.Handle, &p.Timezone); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, mapError("ListParticipants", rows.Err())
}

// ListCheckins returns the check-ins of a challenge ordered by time, then id.
func (r *ChallengeRepository) ListCheckins(ctx context.Context, challengeID int64) ([]challenge.Checkin, error) {
	rows, err := r.q.Query(ctx, `
		SELECT c.id, c.participant_id, c.week_id, c.tier, c.checked_in_at, c.timezone, c.message
		FROM checkins c
		JOIN challenge_weeks w ON w.id = c.week_id
		WHERE w.challenge_id = $1
		ORDER BY c.checked_in_at, c.id
	`, challengeID)
	if err != nil {
		return nil, mapError("ListCheckins", err)
	}
	defer rows.Close()

	var out []challenge.Checkin
	for rows.Next() {
		var c challenge.Checkin
		if err := rows.Scan(&c.ID, &c.ParticipantID, &c.WeekID, &c.Tier, &c.At, &c.Timezone, &c.Message); err != nil {
			return nil, fmt.Errorf("scan checkin: %w", err)
		}
		out = append(out, c)
	}
	return out, mapError("ListCheckins", rows.Err())
}

// ══════════════════════════════════════════════════════════════════════════════
// WRITES (setup tooling and ingestion)
// ══════════════════════════════════════════════════════════════════════════════

// CreateChallenge inserts a challenge with its weeks and fills in the ids.
func (r *ChallengeRepository) CreateChallenge(ctx context.Context, c *challenge.Challenge, weeks []challenge.Week) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO challenges (name, start_date, end_date, bye_weeks)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, c.Name, c.Start, c.End, c.ByeWeeks).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return mapError("CreateChallenge", err)
	}

	for i := range weeks {
		w := &weeks[i]
		w.ChallengeID = c.ID
		err := r.q.QueryRow(ctx, `
			INSERT INTO challenge_weeks (challenge_id, week_index, start_date, end_date, is_bye_week, is_green_week)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, w.ChallengeID, w.Index, w.Start, w.End, w.IsByeWeek, w.IsGreenWeek).Scan(&w.ID)
		if err != nil {
			return mapError("CreateChallengeWeek", err)
		}
	}
	return nil
}

// CreateParticipant inserts a participant, enrolls them in challengeID when
// it is non-zero, and fills in the id.
func (r *ChallengeRepository) CreateParticipant(ctx context.Context, p *challenge.Participant, challengeID int64) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO participants (name, handle, timezone)
		VALUES ($1, $2, $3)
		RETURNING id
	`, p.Name, p.Handle, p.Timezone).Scan(&p.ID)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("postgres", "CreateParticipant", shared.ErrAlreadyExists,
				fmt.Sprintf("handle %q already registered", p.Handle), err)
		}
		return mapError("CreateParticipant", err)
	}
	if challengeID == 0 {
		return nil
	}
	_, err = r.q.Exec(ctx, `
		INSERT INTO challenge_participants (challenge_id, participant_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, challengeID, p.ID)
	return mapError("EnrollParticipant", err)
}

// RecordCheckin stores an immutable check-in and fills in the id and the
// recorded zone. When c.Timezone is empty the checkins_record_zone trigger
// records the participant's current zone.
func (r *ChallengeRepository) RecordCheckin(ctx context.Context, c *challenge.Checkin) error {
	if c.Tier < 1 {
		return shared.WrapError("postgres", "RecordCheckin", shared.ErrInvalidTier,
			fmt.Sprintf("tier %d", c.Tier), shared.ErrMalformedTier)
	}
	err := r.q.QueryRow(ctx, `
		INSERT INTO checkins (participant_id, week_id, tier, checked_in_at, timezone, message)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, timezone
	`, c.ParticipantID, c.WeekID, c.Tier, c.At, c.Timezone, c.Message).Scan(&c.ID, &c.Timezone)
	if IsForeignKeyViolation(err) {
		return shared.WrapError("postgres", "RecordCheckin", shared.ErrNotFound,
			fmt.Sprintf("participant %d or week %d", c.ParticipantID, c.WeekID), shared.ErrParticipantNotFound)
	}
	return mapError("RecordCheckin", err)
}
