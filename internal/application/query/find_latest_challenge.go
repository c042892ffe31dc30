package query

import (
	"context"
	"fmt"
	"time"

	"github.com/fitness-challenge/medal-engine/internal/domain/challenge"
	"github.com/fitness-challenge/medal-engine/internal/domain/shared"
	"github.com/fitness-challenge/medal-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// FIND LATEST ENDED CHALLENGE QUERY
// ══════════════════════════════════════════════════════════════════════════════

// ChallengeLister lists challenges and their weeks.
type ChallengeLister interface {
	ListChallenges(ctx context.Context) ([]challenge.Challenge, error)
	ListWeeks(ctx context.Context, challengeID int64) ([]challenge.Week, error)
}

// FindLatestEndedChallengeHandler finds the challenge whose effective end
// date is the most recent one before today.
type FindLatestEndedChallengeHandler struct {
	challenges ChallengeLister
	timezone   *time.Location
	now        func() time.Time
}

// NewFindLatestEndedChallengeHandler creates the handler. Days are taken in
// timezone.
func NewFindLatestEndedChallengeHandler(challenges ChallengeLister, timezone *time.Location) *FindLatestEndedChallengeHandler {
	if timezone == nil {
		timezone = time.UTC
	}
	return &FindLatestEndedChallengeHandler{
		challenges: challenges,
		timezone:   timezone,
		now:        time.Now,
	}
}

// Handle returns shared.ErrChallengeNotFound when no challenge has ended yet.
func (h *FindLatestEndedChallengeHandler) Handle(ctx context.Context) (challenge.Challenge, error) {
	all, err := h.challenges.ListChallenges(ctx)
	if err != nil {
		return challenge.Challenge{}, fmt.Errorf("find_latest_challenge: %w", err)
	}

	weeks := make(map[int64][]challenge.Week, len(all))
	for _, c := range all {
		ws, err := h.challenges.ListWeeks(ctx, c.ID)
		if err != nil {
			return challenge.Challenge{}, fmt.Errorf("find_latest_challenge: weeks of %d: %w", c.ID, err)
		}
		weeks[c.ID] = ws
	}

	today := timeutil.DateOf(h.now().In(h.timezone))
	latest, ok := challenge.MostRecentlyEnded(all, weeks, today)
	if !ok {
		return challenge.Challenge{}, shared.ErrChallengeNotFound
	}
	return latest, nil
}
