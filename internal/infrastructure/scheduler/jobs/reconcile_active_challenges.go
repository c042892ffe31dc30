// Package jobs contains the engine's scheduled jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fitness-challenge/medal-engine/internal/application/command"
	"github.com/fitness-challenge/medal-engine/internal/domain/challenge"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE ACTIVE CHALLENGES JOB
// ══════════════════════════════════════════════════════════════════════════════

// Reconciler runs one reconciliation.
type Reconciler interface {
	Handle(ctx context.Context, cmd command.ReconcileMedalsCommand) (*command.ReconcileMedalsResult, error)
}

// ChallengeLister lists challenges and their weeks.
type ChallengeLister interface {
	ListChallenges(ctx context.Context) ([]challenge.Challenge, error)
	ListWeeks(ctx context.Context, challengeID int64) ([]challenge.Week, error)
}

// ReconcileActiveChallengesJob reconciles the weeks containing today and
// yesterday for every challenge. It catches up on check-ins whose event was
// lost; reconciliation is idempotent so overlapping with the event path is
// harmless.
type ReconcileActiveChallengesJob struct {
	challenges ChallengeLister
	reconciler Reconciler
	logger     *slog.Logger
	timezone   *time.Location
	now        func() time.Time

	lastStats atomic.Pointer[SweepStats]
}

// SweepStats summarizes one sweep.
type SweepStats struct {
	StartedAt      time.Time
	Duration       time.Duration
	WeeksChecked   int
	AwardsAppended int
	Failures       int
}

// NewReconcileActiveChallengesJob creates the sweep job. Day boundaries are
// taken in timezone.
func NewReconcileActiveChallengesJob(
	challenges ChallengeLister,
	reconciler Reconciler,
	timezone *time.Location,
	logger *slog.Logger,
) *ReconcileActiveChallengesJob {
	if logger == nil {
		logger = slog.Default()
	}
	if timezone == nil {
		timezone = time.UTC
	}
	return &ReconcileActiveChallengesJob{
		challenges: challenges,
		reconciler: reconciler,
		logger:     logger.With("job", "reconcile_active_challenges"),
		timezone:   timezone,
		now:        time.Now,
	}
}

// Name returns the job name.
func (j *ReconcileActiveChallengesJob) Name() string {
	return "reconcile_active_challenges"
}

// Description returns a human-readable description.
func (j *ReconcileActiveChallengesJob) Description() string {
	return "Reconciles medals for the current and previous day's week of every challenge"
}

// LastStats returns the stats of the last completed sweep, or nil.
func (j *ReconcileActiveChallengesJob) LastStats() *SweepStats {
	return j.lastStats.Load()
}

// Run executes the sweep. A failing week does not stop the others; all
// failures are returned joined.
func (j *ReconcileActiveChallengesJob) Run(ctx context.Context) error {
	now := j.now().In(j.timezone)
	stats := &SweepStats{StartedAt: now}
	defer func() {
		stats.Duration = j.now().Sub(stats.StartedAt)
		j.lastStats.Store(stats)
	}()

	challenges, err := j.challenges.ListChallenges(ctx)
	if err != nil {
		return fmt.Errorf("list challenges: %w", err)
	}

	var errs []error
	for _, c := range challenges {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		weeks, err := j.challenges.ListWeeks(ctx, c.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("challenge %d: list weeks: %w", c.ID, err))
			stats.Failures++
			continue
		}

		for _, w := range activeWeeks(weeks, now) {
			stats.WeeksChecked++
			res, err := j.reconciler.Handle(ctx, command.ReconcileMedalsCommand{
				ChallengeID: c.ID,
				WeekID:      w.ID,
			})
			if err != nil {
				stats.Failures++
				errs = append(errs, fmt.Errorf("challenge %d week %d: %w", c.ID, w.ID, err))
				j.logger.Warn("sweep reconcile failed",
					"challenge_id", c.ID,
					"week_id", w.ID,
					"error", err,
				)
				continue
			}
			stats.AwardsAppended += len(res.Appended)
		}
	}

	j.logger.Info("sweep finished",
		"challenges", len(challenges),
		"weeks", stats.WeeksChecked,
		"appended", stats.AwardsAppended,
		"failures", stats.Failures,
	)
	return errors.Join(errs...)
}

// activeWeeks returns the weeks containing now or the day before, without
// repeats.
func activeWeeks(weeks []challenge.Week, now time.Time) []challenge.Week {
	var out []challenge.Week
	seen := make(map[int64]bool)
	for _, t := range []time.Time{now.AddDate(0, 0, -1), now} {
		w, ok := challenge.CurrentWeek(weeks, t)
		if !ok || seen[w.ID] {
			continue
		}
		seen[w.ID] = true
		out = append(out, w)
	}
	return out
}
