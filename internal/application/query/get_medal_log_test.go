package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitness-challenge/medal-engine/internal/domain/medal"
	"github.com/fitness-challenge/medal-engine/internal/domain/shared"
)

func TestGetMedalLog_Week(t *testing.T) {
	h := NewGetMedalLogHandler(newMemSource(), standardLedger())

	entries, err := h.Handle(context.Background(), GetMedalLogQuery{ChallengeID: 1, WeekID: 10})
	require.NoError(t, err)

	// Week rows of week 10 plus the challenge row whose evidence is in it.
	require.Len(t, entries, 3)
	assert.Equal(t, []int64{1, 2, 5}, []int64{entries[0].AwardID, entries[1].AwardID, entries[2].AwardID})

	assert.Equal(t, shared.OutcomeEarned, entries[0].Outcome)
	assert.Equal(t, "ann", entries[0].ParticipantName)
	assert.Equal(t, 3, entries[0].Tier)
	assert.Equal(t, "T3", entries[0].TierLabel)

	steal := entries[1]
	assert.Equal(t, shared.OutcomeStole, steal.Outcome)
	assert.Equal(t, "bob", steal.ParticipantName)
	assert.Equal(t, "ann", steal.StolenFromName)
	require.NotNil(t, steal.StolenFromCheckinID)
	assert.Equal(t, int64(1), *steal.StolenFromCheckinID)

	assert.Nil(t, entries[2].WeekID)
	assert.Equal(t, string(medal.KindHighestTierChallenge), entries[2].Kind)
}

func TestGetMedalLog_SelfSurpass(t *testing.T) {
	ledger := standardLedger()
	ledger.rows = append(ledger.rows, row(6, medal.KindHighestTierWeek, 2, 12, 5, 3))
	h := NewGetMedalLogHandler(newMemSource(), ledger)

	entries, err := h.Handle(context.Background(), GetMedalLogQuery{ChallengeID: 1, WeekID: 12})
	require.NoError(t, err)

	require.Len(t, entries, 2)
	last := entries[1]
	assert.Equal(t, shared.OutcomeSurpassed, last.Outcome)
	assert.Equal(t, "bob", last.StolenFromName)
	assert.Equal(t, 4, last.Tier)
}

func TestGetMedalLog_WholeChallengeInWriteOrder(t *testing.T) {
	ledger := standardLedger()
	// Stored out of order; the log sorts by created-at.
	ledger.rows[0], ledger.rows[4] = ledger.rows[4], ledger.rows[0]
	h := NewGetMedalLogHandler(newMemSource(), ledger)

	entries, err := h.Handle(context.Background(), GetMedalLogQuery{ChallengeID: 1})
	require.NoError(t, err)

	require.Len(t, entries, 5)
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.AwardID)
	}
}

func TestGetMedalLog_Errors(t *testing.T) {
	h := NewGetMedalLogHandler(newMemSource(), standardLedger())
	ctx := context.Background()

	_, err := h.Handle(ctx, GetMedalLogQuery{})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(ctx, GetMedalLogQuery{ChallengeID: 1, WeekID: 99})
	assert.True(t, shared.IsNotFound(err))
	assert.ErrorIs(t, err, shared.ErrWeekNotFound)
}
