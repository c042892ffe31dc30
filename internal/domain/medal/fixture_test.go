package medal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fitness-challenge/medal-engine/internal/domain/challenge"
)

const testChallengeID = 1

// Participants of the fixture. cat lives in Los Angeles, everyone else in UTC.
const (
	ann int64 = 1
	bob int64 = 2
	cat int64 = 3
)

// Weeks start on Monday 2025-01-06.
const (
	week1 int64 = 10
	week2 int64 = 11
	week3 int64 = 12
	week4 int64 = 13
)

type fixture struct {
	t        *testing.T
	weeks    []challenge.Week
	people   []challenge.Participant
	checkins []challenge.Checkin
	nextID   int64
}

func newFixture(t *testing.T, byeWeeks ...int64) *fixture {
	t.Helper()
	bye := make(map[int64]bool)
	for _, id := range byeWeeks {
		bye[id] = true
	}
	start := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	f := &fixture{t: t, nextID: 1}
	for i, id := range []int64{week1, week2, week3, week4} {
		s := start.AddDate(0, 0, 7*i)
		f.weeks = append(f.weeks, challenge.Week{
			ID:          id,
			ChallengeID: testChallengeID,
			Index:       i + 1,
			Start:       s,
			End:         s.AddDate(0, 0, 6),
			IsByeWeek:   bye[id],
		})
	}
	f.people = []challenge.Participant{
		{ID: ann, Name: "ann", Handle: "@ann", Timezone: "UTC"},
		{ID: bob, Name: "bob", Handle: "@bob", Timezone: "UTC"},
		{ID: cat, Name: "cat", Handle: "@cat", Timezone: "America/Los_Angeles"},
	}
	return f
}

// at returns day (0-based) of week at hh:mm in the participant's zone.
func (f *fixture) at(participant, week int64, day, hh, mm int) time.Time {
	f.t.Helper()
	var w challenge.Week
	for _, cand := range f.weeks {
		if cand.ID == week {
			w = cand
		}
	}
	d := w.Start.AddDate(0, 0, day)
	return time.Date(d.Year(), d.Month(), d.Day(), hh, mm, 0, 0, f.person(participant).Location())
}

func (f *fixture) person(id int64) *challenge.Participant {
	f.t.Helper()
	for i := range f.people {
		if f.people[i].ID == id {
			return &f.people[i]
		}
	}
	f.t.Fatalf("no participant %d", id)
	return nil
}

// moveTo changes a participant's current zone. Recorded check-ins keep theirs.
func (f *fixture) moveTo(participant int64, zone string) {
	f.person(participant).Timezone = zone
}

func (f *fixture) checkin(participant, week int64, tier, day, hh, mm int) int64 {
	f.t.Helper()
	id := f.nextID
	f.nextID++
	f.checkins = append(f.checkins, challenge.Checkin{
		ID:            id,
		ParticipantID: participant,
		WeekID:        week,
		Tier:          tier,
		At:            f.at(participant, week, day, hh, mm),
		Timezone:      f.person(participant).Timezone,
	})
	return id
}

// fullWeek checks participant in once a day for days distinct days.
func (f *fixture) fullWeek(participant, week int64, days int) []int64 {
	var ids []int64
	for d := 0; d < days; d++ {
		ids = append(ids, f.checkin(participant, week, 1, d, 12, 0))
	}
	return ids
}

func (f *fixture) snapshot() *challenge.Snapshot {
	f.t.Helper()
	snap, err := challenge.NewSnapshot(
		challenge.Challenge{ID: testChallengeID, Name: "winter"},
		f.weeks, f.people, f.checkins,
	)
	require.NoError(f.t, err)
	return snap
}

func standingFor(t *testing.T, standings []Standing, kind Kind) Standing {
	t.Helper()
	for _, s := range standings {
		if s.Rule.Kind == kind {
			return s
		}
	}
	t.Fatalf("no standing for %s", kind)
	return Standing{}
}

func evidence(winners []Winner) []int64 {
	var ids []int64
	for _, w := range winners {
		ids = append(ids, w.CheckinID)
	}
	return ids
}

// memLedger applies plans the way storage does: natural-key dedup, monotonic
// ids, created-at from a ticking clock.
type memLedger struct {
	rows  []MedalAward
	clock time.Time
}

func newMemLedger() *memLedger {
	return &memLedger{clock: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (l *memLedger) apply(plan []MedalAward) []MedalAward {
	var inserted []MedalAward
	for _, a := range plan {
		dup := false
		for _, r := range l.rows {
			if r.Kind == a.Kind && r.ParticipantID == a.ParticipantID && r.CheckinID == a.CheckinID {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		l.clock = l.clock.Add(time.Second)
		a.ID = int64(len(l.rows) + 1)
		a.CreatedAt = l.clock
		l.rows = append(l.rows, a)
		inserted = append(inserted, a)
	}
	return inserted
}

func (l *memLedger) kind(kind Kind) []MedalAward {
	var out []MedalAward
	for _, r := range l.rows {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// reconcile runs compute, plan and apply once for week.
func reconcile(t *testing.T, f *fixture, l *memLedger, week int64) []MedalAward {
	t.Helper()
	catalog := DefaultCatalog()
	standings, err := NewComputer(catalog).Compute(f.snapshot(), week)
	require.NoError(t, err)
	return l.apply(NewPlanner(catalog).Plan(standings, l.rows))
}
