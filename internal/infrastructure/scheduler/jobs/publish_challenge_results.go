package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fitness-challenge/medal-engine/internal/application/command"
	"github.com/fitness-challenge/medal-engine/internal/application/query"
	"github.com/fitness-challenge/medal-engine/internal/domain/challenge"
	"github.com/fitness-challenge/medal-engine/internal/domain/shared"
	"github.com/fitness-challenge/medal-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PUBLISH CHALLENGE RESULTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// ResultsBuilder builds a challenge's results.
type ResultsBuilder interface {
	Handle(ctx context.Context, q query.GetChallengeResultsQuery) (*query.ChallengeResults, error)
}

// PublishChallengeResultsJob announces the results of challenges whose
// effective end date was yesterday. It reconciles the last counted week
// first so late check-ins are in the final standings.
type PublishChallengeResultsJob struct {
	challenges ChallengeLister
	reconciler Reconciler
	results    ResultsBuilder
	publisher  shared.EventPublisher
	logger     *slog.Logger
	timezone   *time.Location
	now        func() time.Time
}

// NewPublishChallengeResultsJob creates the results job.
func NewPublishChallengeResultsJob(
	challenges ChallengeLister,
	reconciler Reconciler,
	results ResultsBuilder,
	publisher shared.EventPublisher,
	timezone *time.Location,
	logger *slog.Logger,
) *PublishChallengeResultsJob {
	if logger == nil {
		logger = slog.Default()
	}
	if timezone == nil {
		timezone = time.UTC
	}
	return &PublishChallengeResultsJob{
		challenges: challenges,
		reconciler: reconciler,
		results:    results,
		publisher:  publisher,
		logger:     logger.With("job", "publish_challenge_results"),
		timezone:   timezone,
		now:        time.Now,
	}
}

// Name returns the job name.
func (j *PublishChallengeResultsJob) Name() string {
	return "publish_challenge_results"
}

// Description returns a human-readable description.
func (j *PublishChallengeResultsJob) Description() string {
	return "Publishes final results for challenges that ended yesterday"
}

// Run executes the job.
func (j *PublishChallengeResultsJob) Run(ctx context.Context) error {
	yesterday := timeutil.Yesterday(j.now(), j.timezone)

	challenges, err := j.challenges.ListChallenges(ctx)
	if err != nil {
		return fmt.Errorf("list challenges: %w", err)
	}

	weeksByChallenge := make(map[int64][]challenge.Week, len(challenges))
	for _, c := range challenges {
		weeks, err := j.challenges.ListWeeks(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("challenge %d: list weeks: %w", c.ID, err)
		}
		weeksByChallenge[c.ID] = weeks
	}

	ended := challenge.AllEndedOn(challenges, weeksByChallenge, yesterday)
	if len(ended) == 0 {
		j.logger.Debug("no challenge ended", "day", yesterday.String())
		return nil
	}

	var errs []error
	for _, c := range ended {
		if err := j.publish(ctx, c, weeksByChallenge[c.ID]); err != nil {
			errs = append(errs, fmt.Errorf("challenge %d: %w", c.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (j *PublishChallengeResultsJob) publish(ctx context.Context, c challenge.Challenge, weeks []challenge.Week) error {
	counted := challenge.NonByeWeeks(weeks)
	if len(counted) > 0 {
		last := counted[len(counted)-1]
		if _, err := j.reconciler.Handle(ctx, command.ReconcileMedalsCommand{ChallengeID: c.ID, WeekID: last.ID}); err != nil {
			return fmt.Errorf("final reconcile: %w", err)
		}
	}

	results, err := j.results.Handle(ctx, query.GetChallengeResultsQuery{ChallengeID: c.ID, SkipCache: true})
	if err != nil {
		return fmt.Errorf("build results: %w", err)
	}

	evt := shared.NewChallengeResultsReadyEvent(c.ID, c.Name, results.EffectiveEnd)
	if j.publisher != nil {
		if err := j.publisher.Publish(evt); err != nil {
			return fmt.Errorf("publish results: %w", err)
		}
	}

	j.logger.Info("challenge results published",
		"challenge_id", c.ID,
		"challenge", c.Name,
		"podium", len(results.Podium),
		"points_unavailable", results.PointsUnavailable,
	)
	return nil
}
