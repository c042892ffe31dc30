package challenge

import (
	"context"
	"fmt"
)

// Source reads the append-only check-in store and the challenge setup rows.
// Implemented by the infrastructure layer; safe for concurrent readers.
type Source interface {
	// GetChallenge returns shared.ErrChallengeNotFound for an unknown id.
	GetChallenge(ctx context.Context, challengeID int64) (*Challenge, error)

	// ListChallenges returns every challenge ordered by start date.
	ListChallenges(ctx context.Context) ([]Challenge, error)

	// ListWeeks returns the weeks of a challenge ordered by start date.
	ListWeeks(ctx context.Context, challengeID int64) ([]Week, error)

	// ListParticipants returns everyone enrolled in the challenge or holding
	// at least one of its check-ins.
	ListParticipants(ctx context.Context, challengeID int64) ([]Participant, error)

	// ListCheckins returns the check-ins of a challenge ordered by time ascending.
	ListCheckins(ctx context.Context, challengeID int64) ([]Checkin, error)
}

// LoadSnapshot reads one challenge through src and validates references.
func LoadSnapshot(ctx context.Context, src Source, challengeID int64) (*Snapshot, error) {
	c, err := src.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	weeks, err := src.ListWeeks(ctx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("list weeks: %w", err)
	}
	participants, err := src.ListParticipants(ctx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	checkins, err := src.ListCheckins(ctx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("list checkins: %w", err)
	}
	return NewSnapshot(*c, weeks, participants, checkins)
}
