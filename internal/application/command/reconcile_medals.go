// Package command contains write operations (CQRS - Commands).
// Commands are responsible for changing the state of the system.
package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/fitness-challenge/medal-engine/internal/domain/challenge"
	"github.com/fitness-challenge/medal-engine/internal/domain/medal"
	"github.com/fitness-challenge/medal-engine/internal/domain/shared"
	"github.com/fitness-challenge/medal-engine/pkg/logger"
	"github.com/fitness-challenge/medal-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE MEDALS COMMAND
// Recomputes winners for one challenge week and appends what changed to the
// medal ledger in a single atomic batch.
// ══════════════════════════════════════════════════════════════════════════════

// ReconcileMedalsCommand names the scope to reconcile.
type ReconcileMedalsCommand struct {
	ChallengeID int64

	// WeekID is the week whose week-scoped kinds are evaluated.
	WeekID int64

	// TriggerCheckinID is the check-in that caused this run, or zero for
	// scheduled sweeps. Awards whose evidence is this check-in are flagged
	// as triggered for the notification projector.
	TriggerCheckinID int64
}

// Validate validates the command.
func (c ReconcileMedalsCommand) Validate() error {
	if c.ChallengeID <= 0 {
		return fmt.Errorf("reconcile_medals: challenge_id must be positive: %w", shared.ErrInvalidID)
	}
	if c.WeekID <= 0 {
		return fmt.Errorf("reconcile_medals: week_id must be positive: %w", shared.ErrInvalidID)
	}
	return nil
}

// ReconcileMedalsResult describes one committed reconciliation.
type ReconcileMedalsResult struct {
	RunID       string
	ChallengeID int64
	WeekID      int64

	// Appended holds the rows this run wrote, in catalog order.
	Appended []medal.MedalAward

	// Duplicates counts planned rows the ledger already had.
	Duplicates int

	// Attempts is the number of transactions it took, including conflicts.
	Attempts int

	// Events are the MedalAwardedEvents published for Appended.
	Events []shared.Event

	Duration time.Duration
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// ResultsInvalidator drops cached challenge results after the ledger changed.
type ResultsInvalidator interface {
	InvalidateResults(ctx context.Context, challengeID int64) error
}

// ReconcileMetrics records reconciliation outcomes.
type ReconcileMetrics interface {
	ReconcileFinished(status string, d time.Duration)
	AwardAppended(kind string, outcome shared.AwardOutcome)
	DuplicateSkipped(kind string)
	ConflictRetried()
}

type nopMetrics struct{}

func (nopMetrics) ReconcileFinished(string, time.Duration)   {}
func (nopMetrics) AwardAppended(string, shared.AwardOutcome) {}
func (nopMetrics) DuplicateSkipped(string)                   {}
func (nopMetrics) ConflictRetried()                          {}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ReconcileMedalsHandlerConfig contains configuration for the handler.
type ReconcileMedalsHandlerConfig struct {
	// MaxAttempts bounds how often a batch is replayed after a
	// serialization conflict.
	MaxAttempts int
}

// DefaultReconcileMedalsHandlerConfig returns default configuration.
func DefaultReconcileMedalsHandlerConfig() ReconcileMedalsHandlerConfig {
	return ReconcileMedalsHandlerConfig{MaxAttempts: 5}
}

// ReconcileMedalsHandler handles the ReconcileMedalsCommand.
type ReconcileMedalsHandler struct {
	store     medal.Store
	computer  *medal.Computer
	planner   *medal.Planner
	locks     *medal.ChallengeLocks
	publisher shared.EventPublisher
	cache     ResultsInvalidator
	metrics   ReconcileMetrics
	log       *logger.Logger

	maxAttempts int
}

// NewReconcileMedalsHandler creates a new ReconcileMedalsHandler.
// publisher, cache and metrics may be nil.
func NewReconcileMedalsHandler(
	store medal.Store,
	catalog *medal.Catalog,
	locks *medal.ChallengeLocks,
	publisher shared.EventPublisher,
	cache ResultsInvalidator,
	metrics ReconcileMetrics,
	log *logger.Logger,
	config ReconcileMedalsHandlerConfig,
) *ReconcileMedalsHandler {
	if config.MaxAttempts <= 0 {
		config = DefaultReconcileMedalsHandlerConfig()
	}
	if locks == nil {
		locks = medal.NewChallengeLocks()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ReconcileMedalsHandler{
		store:       store,
		computer:    medal.NewComputer(catalog),
		planner:     medal.NewPlanner(catalog),
		locks:       locks,
		publisher:   publisher,
		cache:       cache,
		metrics:     metrics,
		log:         log.With(logger.Component("reconcile_medals")),
		maxAttempts: config.MaxAttempts,
	}
}

// Handle reconciles one challenge week.
//
// Runs for the same challenge are serialized in-process and, through the
// store, across processes. A serialization conflict replays the whole batch
// from a fresh read; data inconsistencies and storage errors abort it.
func (h *ReconcileMedalsHandler) Handle(ctx context.Context, cmd ReconcileMedalsCommand) (*ReconcileMedalsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := h.log.WithRunID(runID).With(logger.ChallengeID(cmd.ChallengeID), logger.WeekID(cmd.WeekID))
	start := time.Now()

	unlock := h.locks.Lock(cmd.ChallengeID)
	defer unlock()

	result := &ReconcileMedalsResult{RunID: runID, ChallengeID: cmd.ChallengeID, WeekID: cmd.WeekID}
	var snap *challenge.Snapshot

	retrier := retry.LedgerRetrier(h.maxAttempts,
		retry.WithRetryIf(func(err error) bool {
			return errors.Is(err, shared.ErrConcurrentModification)
		}),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			h.metrics.ConflictRetried()
			log.Warn("ledger conflict, replaying batch",
				logger.Attempt(attempt), logger.Err(err), logger.Duration("backoff", delay))
		}),
	)

	err := retrier.Do(ctx, func(ctx context.Context) error {
		result.Attempts++
		result.Appended = nil
		result.Duplicates = 0
		return h.store.Atomically(ctx, cmd.ChallengeID, func(ctx context.Context, tx medal.Tx) error {
			var err error
			snap, err = h.reconcile(ctx, tx, cmd, result, log)
			return err
		})
	})
	result.Duration = time.Since(start)
	if err != nil {
		h.metrics.ReconcileFinished("error", result.Duration)
		if errors.Is(err, retry.ErrExhausted) {
			err = shared.WrapError("medal", "Reconcile", shared.ErrTransient,
				fmt.Sprintf("gave up after %d attempts", result.Attempts), errors.Join(shared.ErrReconcileExhausted, err))
		}
		log.Error("reconciliation failed", logger.Err(err), logger.Attempt(result.Attempts))
		return nil, fmt.Errorf("reconcile_medals: %w", err)
	}

	result.Events = h.announce(cmd, snap, result, log)

	if len(result.Appended) > 0 && h.cache != nil {
		if err := h.cache.InvalidateResults(ctx, cmd.ChallengeID); err != nil {
			log.Warn("failed to invalidate results cache", logger.Err(err))
		}
	}

	status := "noop"
	if len(result.Appended) > 0 {
		status = "appended"
	}
	h.metrics.ReconcileFinished(status, result.Duration)
	log.Info("reconciliation committed",
		logger.Int("appended", len(result.Appended)),
		logger.Int("duplicates", result.Duplicates),
		logger.Attempt(result.Attempts),
		logger.Latency(result.Duration),
	)
	return result, nil
}

// reconcile is one attempt inside the transaction. It returns the snapshot
// the plan was computed from.
func (h *ReconcileMedalsHandler) reconcile(
	ctx context.Context,
	tx medal.Tx,
	cmd ReconcileMedalsCommand,
	result *ReconcileMedalsResult,
	log *logger.Logger,
) (*challenge.Snapshot, error) {
	snap, err := challenge.LoadSnapshot(ctx, tx, cmd.ChallengeID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if _, ok := snap.Week(cmd.WeekID); !ok {
		return nil, shared.WrapError("medal", "Reconcile", shared.ErrDataInconsistency,
			fmt.Sprintf("week %d is not part of challenge %d", cmd.WeekID, cmd.ChallengeID), shared.ErrWeekOutsideChallenge)
	}

	standings, err := h.computer.Compute(snap, cmd.WeekID)
	if err != nil {
		return nil, err
	}
	ledger, err := tx.ReadLedger(ctx, cmd.ChallengeID)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	for _, award := range h.planner.Plan(standings, ledger) {
		inserted, err := tx.AppendIfAbsent(ctx, &award)
		if err != nil {
			return nil, fmt.Errorf("append %s for participant %d: %w", award.Kind, award.ParticipantID, err)
		}
		if !inserted {
			// A stealable re-claim with evidence the ledger already holds.
			result.Duplicates++
			h.metrics.DuplicateSkipped(string(award.Kind))
			log.Debug("award already in ledger",
				logger.Kind(string(award.Kind)), logger.ParticipantID(award.ParticipantID), logger.CheckinID(award.CheckinID))
			continue
		}
		result.Appended = append(result.Appended, award)
	}
	return snap, nil
}

// announce publishes one MedalAwardedEvent per appended row. The batch is
// already committed, so publish failures are logged and not returned.
func (h *ReconcileMedalsHandler) announce(
	cmd ReconcileMedalsCommand,
	snap *challenge.Snapshot,
	result *ReconcileMedalsResult,
	log *logger.Logger,
) []shared.Event {
	ownerOf := func(checkinID int64) (int64, bool) {
		ci, ok := snap.CheckinByID(checkinID)
		return ci.ParticipantID, ok
	}

	events := make([]shared.Event, 0, len(result.Appended))
	for _, a := range result.Appended {
		outcome := medal.Classify(a, ownerOf)
		h.metrics.AwardAppended(string(a.Kind), outcome)

		p, _ := snap.Participant(a.ParticipantID)
		evt := shared.MedalAwardedEvent{
			BaseEvent: shared.NewBaseEvent(shared.EventMedalAwarded, strconv.FormatInt(a.ChallengeID, 10)).
				WithCorrelationID(result.RunID),
			AwardID:         a.ID,
			Kind:            string(a.Kind),
			Emoji:           a.Emoji,
			ChallengeID:     a.ChallengeID,
			WeekID:          a.WeekID,
			CheckinID:       a.CheckinID,
			Outcome:         outcome,
			Triggered:       cmd.TriggerCheckinID != 0 && a.CheckinID == cmd.TriggerCheckinID,
			ParticipantID:   a.ParticipantID,
			ParticipantName: p.Name,
			Handle:          p.Handle,
		}
		if a.StealFromCheckinID != nil {
			evt.StolenFromCheckinID = a.StealFromCheckinID
			if owner, ok := ownerOf(*a.StealFromCheckinID); ok {
				prev, _ := snap.Participant(owner)
				evt.StolenFromParticipantID = &owner
				evt.StolenFromName = prev.Name
				evt.StolenFromHandle = prev.Handle
			}
		}
		events = append(events, evt)

		if h.publisher == nil {
			continue
		}
		if err := h.publisher.Publish(evt); err != nil {
			log.Warn("failed to publish medal event",
				logger.Kind(evt.Kind), logger.ParticipantID(evt.ParticipantID), logger.Err(err))
		}
	}
	return events
}
