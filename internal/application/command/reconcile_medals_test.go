package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitness-challenge/medal-engine/internal/domain/challenge"
	"github.com/fitness-challenge/medal-engine/internal/domain/medal"
	"github.com/fitness-challenge/medal-engine/internal/domain/shared"
	"github.com/fitness-challenge/medal-engine/pkg/logger"
)

func newHandler(store *fakeStore, pub *recordingPublisher, cache *countingCache, attempts int) *ReconcileMedalsHandler {
	return NewReconcileMedalsHandler(
		store, medal.DefaultCatalog(), nil, pub, cache, nil, logger.Nop(),
		ReconcileMedalsHandlerConfig{MaxAttempts: attempts},
	)
}

func TestReconcileMedals_AppendsAndIsIdempotent(t *testing.T) {
	store := newFakeStore()
	pub := &recordingPublisher{}
	cache := &countingCache{}
	h := newHandler(store, pub, cache, 3)
	ctx := context.Background()

	trigger := store.addCheckin(1, 10, 4, 0, 9)

	res, err := h.Handle(ctx, ReconcileMedalsCommand{ChallengeID: 1, WeekID: 10, TriggerCheckinID: trigger})
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 1, res.Attempts)
	// Three week and three challenge superlatives.
	require.Len(t, res.Appended, 6)
	assert.Len(t, store.committed(), 6)
	assert.Equal(t, []int64{1}, cache.invalidated)

	require.Len(t, pub.events, 6)
	evt, ok := pub.events[0].(shared.MedalAwardedEvent)
	require.True(t, ok)
	assert.Equal(t, string(medal.KindHighestTierWeek), evt.Kind)
	assert.Equal(t, "ann", evt.ParticipantName)
	assert.Equal(t, shared.OutcomeEarned, evt.Outcome)
	assert.True(t, evt.Triggered)
	assert.Equal(t, res.RunID, evt.CorrelationID)

	again, err := h.Handle(ctx, ReconcileMedalsCommand{ChallengeID: 1, WeekID: 10})
	require.NoError(t, err)
	assert.Empty(t, again.Appended)
	assert.Len(t, store.committed(), 6)
	assert.Len(t, cache.invalidated, 1)
}

func TestReconcileMedals_StealEvent(t *testing.T) {
	store := newFakeStore()
	pub := &recordingPublisher{}
	h := newHandler(store, pub, nil, 3)
	ctx := context.Background()

	first := store.addCheckin(1, 10, 2, 0, 9)
	_, err := h.Handle(ctx, ReconcileMedalsCommand{ChallengeID: 1, WeekID: 10, TriggerCheckinID: first})
	require.NoError(t, err)
	pub.events = nil

	second := store.addCheckin(2, 10, 6, 1, 12)
	res, err := h.Handle(ctx, ReconcileMedalsCommand{ChallengeID: 1, WeekID: 10, TriggerCheckinID: second})
	require.NoError(t, err)

	var tier *shared.MedalAwardedEvent
	for _, e := range res.Events {
		if m := e.(shared.MedalAwardedEvent); m.Kind == string(medal.KindHighestTierWeek) {
			tier = &m
		}
	}
	require.NotNil(t, tier)
	assert.Equal(t, shared.OutcomeStole, tier.Outcome)
	assert.Equal(t, "bob", tier.ParticipantName)
	require.NotNil(t, tier.StolenFromCheckinID)
	assert.Equal(t, first, *tier.StolenFromCheckinID)
	require.NotNil(t, tier.StolenFromParticipantID)
	assert.Equal(t, int64(1), *tier.StolenFromParticipantID)
	assert.Equal(t, "ann", tier.StolenFromName)
	assert.Equal(t, "@ann", tier.StolenFromHandle)
}

func TestReconcileMedals_RetriesConflicts(t *testing.T) {
	store := newFakeStore()
	store.conflicts = 2
	h := newHandler(store, nil, nil, 5)

	store.addCheckin(1, 10, 4, 0, 9)
	res, err := h.Handle(context.Background(), ReconcileMedalsCommand{ChallengeID: 1, WeekID: 10})

	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, store.atomicCalls)
	assert.Len(t, res.Appended, 6)
	assert.Len(t, store.committed(), 6)
}

func TestReconcileMedals_RetriesExhausted(t *testing.T) {
	store := newFakeStore()
	store.conflicts = 100
	h := newHandler(store, nil, nil, 2)

	store.addCheckin(1, 10, 4, 0, 9)
	_, err := h.Handle(context.Background(), ReconcileMedalsCommand{ChallengeID: 1, WeekID: 10})

	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrReconcileExhausted)
	assert.ErrorIs(t, err, shared.ErrTransient)
	assert.Equal(t, 2, store.atomicCalls)
	assert.Empty(t, store.committed())
}

func TestReconcileMedals_WriteFailureRollsBackBatch(t *testing.T) {
	store := newFakeStore()
	store.failAppend = medal.KindHighestTierChallenge
	h := newHandler(store, nil, nil, 3)

	store.addCheckin(1, 10, 4, 0, 9)
	_, err := h.Handle(context.Background(), ReconcileMedalsCommand{ChallengeID: 1, WeekID: 10})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, store.atomicCalls)
	assert.Empty(t, store.committed())
}

func TestReconcileMedals_DataInconsistency(t *testing.T) {
	store := newFakeStore()
	store.checkins = append(store.checkins, challenge.Checkin{ID: 99, ParticipantID: 42, WeekID: 10, Tier: 1})
	h := newHandler(store, nil, nil, 3)

	_, err := h.Handle(context.Background(), ReconcileMedalsCommand{ChallengeID: 1, WeekID: 10})

	require.Error(t, err)
	assert.True(t, shared.IsDataInconsistency(err))
	assert.Equal(t, 1, store.atomicCalls)
	assert.Empty(t, store.committed())
}

func TestReconcileMedals_WeekOutsideChallenge(t *testing.T) {
	store := newFakeStore()
	h := newHandler(store, nil, nil, 3)

	_, err := h.Handle(context.Background(), ReconcileMedalsCommand{ChallengeID: 1, WeekID: 77})

	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrWeekOutsideChallenge)
	assert.True(t, shared.IsDataInconsistency(err))
}

func TestReconcileMedals_UnknownChallenge(t *testing.T) {
	store := newFakeStore()
	h := newHandler(store, nil, nil, 3)

	_, err := h.Handle(context.Background(), ReconcileMedalsCommand{ChallengeID: 5, WeekID: 10})

	require.Error(t, err)
	assert.True(t, shared.IsNotFound(err))
	assert.Equal(t, 1, store.atomicCalls)
}

func TestReconcileMedals_Validation(t *testing.T) {
	h := newHandler(newFakeStore(), nil, nil, 3)

	_, err := h.Handle(context.Background(), ReconcileMedalsCommand{WeekID: 10})
	assert.ErrorIs(t, err, shared.ErrInvalidID)

	_, err = h.Handle(context.Background(), ReconcileMedalsCommand{ChallengeID: 1})
	assert.ErrorIs(t, err, shared.ErrInvalidID)
}
