package medal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitness-challenge/medal-engine/internal/domain/shared"
)

func TestPlan_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.fullWeek(ann, week1, 7)
	f.fullWeek(bob, week1, 5)
	f.checkin(cat, week1, 8, 2, 5, 0)
	l := newMemLedger()

	first := reconcile(t, f, l, week1)
	require.NotEmpty(t, first)

	second := reconcile(t, f, l, week1)
	assert.Empty(t, second)
}

func TestPlan_StealChain(t *testing.T) {
	f := newFixture(t)
	l := newMemLedger()

	c1 := f.checkin(ann, week1, 1, 0, 8, 0)
	reconcile(t, f, l, week1)

	c2 := f.checkin(bob, week1, 1, 1, 7, 0)
	reconcile(t, f, l, week1)

	c3 := f.checkin(ann, week1, 1, 2, 6, 0)
	reconcile(t, f, l, week1)

	rows := l.kind(KindEarliestForWeek)
	require.Len(t, rows, 3)

	assert.Equal(t, ann, rows[0].ParticipantID)
	assert.Equal(t, c1, rows[0].CheckinID)
	assert.Nil(t, rows[0].StealFromCheckinID)

	assert.Equal(t, bob, rows[1].ParticipantID)
	assert.Equal(t, c2, rows[1].CheckinID)
	require.NotNil(t, rows[1].StealFromCheckinID)
	assert.Equal(t, c1, *rows[1].StealFromCheckinID)

	assert.Equal(t, ann, rows[2].ParticipantID)
	assert.Equal(t, c3, rows[2].CheckinID)
	require.NotNil(t, rows[2].StealFromCheckinID)
	assert.Equal(t, c2, *rows[2].StealFromCheckinID)

	holder, ok := NewResolver(DefaultCatalog()).CurrentHolder(l.rows, mustRule(t, KindEarliestForWeek),
		ScopeInstance{ChallengeID: testChallengeID, WeekID: week1})
	require.True(t, ok)
	assert.Equal(t, rows[2].ID, holder.ID)
}

func TestPlan_SelfImprovementIsASteal(t *testing.T) {
	f := newFixture(t)
	l := newMemLedger()

	c1 := f.checkin(ann, week1, 3, 0, 9, 0)
	reconcile(t, f, l, week1)
	c2 := f.checkin(ann, week1, 5, 1, 9, 0)
	reconcile(t, f, l, week1)

	rows := l.kind(KindHighestTierWeek)
	require.Len(t, rows, 2)
	assert.Equal(t, c2, rows[1].CheckinID)
	require.NotNil(t, rows[1].StealFromCheckinID)
	assert.Equal(t, c1, *rows[1].StealFromCheckinID)
}

func TestPlan_WeeksDoNotStealFromEachOther(t *testing.T) {
	f := newFixture(t)
	l := newMemLedger()

	f.checkin(ann, week1, 9, 0, 9, 0)
	reconcile(t, f, l, week1)
	f.checkin(bob, week2, 2, 0, 9, 0)
	reconcile(t, f, l, week2)

	rows := l.kind(KindHighestTierWeek)
	require.Len(t, rows, 2)
	assert.Nil(t, rows[1].StealFromCheckinID)
	require.NotNil(t, rows[1].WeekID)
	assert.Equal(t, week2, *rows[1].WeekID)

	// The challenge-wide kind stays with ann's T9; no new row.
	assert.Len(t, l.kind(KindHighestTierChallenge), 1)
}

func TestPlan_GoldScenario(t *testing.T) {
	f := newFixture(t)
	l := newMemLedger()

	for d := 0; d < 6; d++ {
		f.checkin(ann, week1, d+1, d, 10, 0)
		reconcile(t, f, l, week1)
	}
	assert.Empty(t, l.kind(KindGold))

	day7 := f.checkin(ann, week1, 7, 6, 10, 0)
	reconcile(t, f, l, week1)

	gold := l.kind(KindGold)
	require.Len(t, gold, 1)
	assert.Equal(t, ann, gold[0].ParticipantID)
	assert.Equal(t, day7, gold[0].CheckinID)
	assert.Nil(t, gold[0].StealFromCheckinID)

	assert.Empty(t, reconcile(t, f, l, week1))

	// A later check-in on day 7 moves the day's evidence but not the award.
	f.checkin(ann, week1, 7, 6, 22, 0)
	reconcile(t, f, l, week1)
	assert.Len(t, l.kind(KindGold), 1)
}

func TestPlan_PermanentAwardsAccumulate(t *testing.T) {
	f := newFixture(t)
	l := newMemLedger()

	f.fullWeek(ann, week1, 5)
	reconcile(t, f, l, week1)
	f.fullWeek(ann, week2, 5)
	reconcile(t, f, l, week2)

	green := l.kind(KindGreen)
	require.Len(t, green, 2)
	assert.Equal(t, week1, *green[0].WeekID)
	assert.Equal(t, week2, *green[1].WeekID)
	for _, g := range green {
		assert.Nil(t, g.StealFromCheckinID)
	}
}

func TestPlan_FirstToGreenAwardedOncePerWeek(t *testing.T) {
	f := newFixture(t)
	l := newMemLedger()

	f.fullWeek(ann, week1, 5)
	reconcile(t, f, l, week1)

	// bob's fifth day starts earlier on the clock but after ann was awarded.
	for d := 0; d < 5; d++ {
		f.checkin(bob, week1, 1, d, 6, 0)
	}
	reconcile(t, f, l, week1)

	rows := l.kind(KindFirstToGreen)
	require.Len(t, rows, 1)
	assert.Equal(t, ann, rows[0].ParticipantID)
	assert.Len(t, l.kind(KindGreen), 2)
}

func TestPlan_ChallengeKindsHaveNoWeek(t *testing.T) {
	f := newFixture(t)
	l := newMemLedger()

	f.checkin(ann, week2, 4, 0, 9, 0)
	reconcile(t, f, l, week2)

	rows := l.kind(KindLatestForChallenge)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].WeekID)
	assert.Equal(t, "🌚", rows[0].Emoji)
}

func TestClassify(t *testing.T) {
	owners := map[int64]int64{1: ann, 2: bob}
	ownerOf := func(id int64) (int64, bool) {
		p, ok := owners[id]
		return p, ok
	}

	assert.Equal(t, shared.OutcomeEarned, Classify(MedalAward{ParticipantID: ann, CheckinID: 1}, ownerOf))
	assert.Equal(t, shared.OutcomeStole, Classify(MedalAward{ParticipantID: ann, CheckinID: 3, StealFromCheckinID: int64Ptr(2)}, ownerOf))
	assert.Equal(t, shared.OutcomeSurpassed, Classify(MedalAward{ParticipantID: ann, CheckinID: 3, StealFromCheckinID: int64Ptr(1)}, ownerOf))
	assert.Equal(t, shared.OutcomeStole, Classify(MedalAward{ParticipantID: ann, CheckinID: 3, StealFromCheckinID: int64Ptr(99)}, ownerOf))
}

func mustRule(t *testing.T, kind Kind) Rule {
	t.Helper()
	r, err := DefaultCatalog().Lookup(kind)
	require.NoError(t, err)
	return r
}
