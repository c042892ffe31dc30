package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fitness-challenge/medal-engine/internal/domain/challenge"
	"github.com/fitness-challenge/medal-engine/internal/domain/medal"
	"github.com/fitness-challenge/medal-engine/internal/domain/shared"
)

// fakeStore is an in-memory medal.Store. Atomically stages appends and
// publishes them only when fn succeeds and no injected conflict fires.
type fakeStore struct {
	mu sync.Mutex

	challenge challenge.Challenge
	weeks     []challenge.Week
	people    []challenge.Participant
	checkins  []challenge.Checkin

	rows  []medal.MedalAward
	clock time.Time

	// conflicts makes the next N commits fail with a serialization error.
	conflicts int
	// failAppend makes AppendIfAbsent fail for this kind.
	failAppend medal.Kind

	atomicCalls int
}

func newFakeStore() *fakeStore {
	start := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	s := &fakeStore{
		challenge: challenge.Challenge{ID: 1, Name: "winter", Start: start, End: start.AddDate(0, 0, 27)},
		people: []challenge.Participant{
			{ID: 1, Name: "ann", Handle: "@ann", Timezone: "UTC"},
			{ID: 2, Name: "bob", Handle: "@bob", Timezone: "UTC"},
		},
		clock: start,
	}
	for i := 0; i < 4; i++ {
		ws := start.AddDate(0, 0, 7*i)
		s.weeks = append(s.weeks, challenge.Week{
			ID: int64(10 + i), ChallengeID: 1, Index: i + 1, Start: ws, End: ws.AddDate(0, 0, 6),
		})
	}
	return s
}

func (s *fakeStore) addCheckin(participant, week int64, tier, day, hour int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := int64(len(s.checkins) + 1)
	at := time.Date(2025, 1, 6, hour, 0, 0, 0, time.UTC).AddDate(0, 0, 7*int(week-10)+day)
	s.checkins = append(s.checkins, challenge.Checkin{
		ID: id, ParticipantID: participant, WeekID: week, Tier: tier, At: at,
	})
	return id
}

func (s *fakeStore) committed() []medal.MedalAward {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]medal.MedalAward, len(s.rows))
	copy(out, s.rows)
	return out
}

func (s *fakeStore) AppendIfAbsent(ctx context.Context, award *medal.MedalAward) (bool, error) {
	return false, errors.New("fakeStore: append outside a transaction")
}

func (s *fakeStore) ReadLedger(ctx context.Context, challengeID int64) ([]medal.MedalAward, error) {
	return s.committed(), nil
}

func (s *fakeStore) ReadWeekLedger(ctx context.Context, weekID int64) ([]medal.MedalAward, error) {
	var out []medal.MedalAward
	for _, r := range s.committed() {
		if r.WeekID != nil && *r.WeekID == weekID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) Atomically(ctx context.Context, challengeID int64, fn func(ctx context.Context, tx medal.Tx) error) error {
	s.mu.Lock()
	s.atomicCalls++
	tx := &fakeTx{store: s, base: append([]medal.MedalAward(nil), s.rows...), clock: s.clock}
	s.mu.Unlock()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflicts > 0 {
		s.conflicts--
		return shared.WrapError("postgres", "Commit", shared.ErrConcurrentModification,
			"could not serialize access", errors.New("SQLSTATE 40001"))
	}
	s.rows = append(s.rows, tx.staged...)
	s.clock = tx.clock
	return nil
}

type fakeTx struct {
	store  *fakeStore
	base   []medal.MedalAward
	staged []medal.MedalAward
	clock  time.Time
}

func (t *fakeTx) GetChallenge(ctx context.Context, challengeID int64) (*challenge.Challenge, error) {
	if challengeID != t.store.challenge.ID {
		return nil, shared.ErrChallengeNotFound
	}
	c := t.store.challenge
	return &c, nil
}

func (t *fakeTx) ListChallenges(ctx context.Context) ([]challenge.Challenge, error) {
	return []challenge.Challenge{t.store.challenge}, nil
}

func (t *fakeTx) ListWeeks(ctx context.Context, challengeID int64) ([]challenge.Week, error) {
	return t.store.weeks, nil
}

func (t *fakeTx) ListParticipants(ctx context.Context, challengeID int64) ([]challenge.Participant, error) {
	return t.store.people, nil
}

func (t *fakeTx) ListCheckins(ctx context.Context, challengeID int64) ([]challenge.Checkin, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	out := append([]challenge.Checkin(nil), t.store.checkins...)
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func (t *fakeTx) AppendIfAbsent(ctx context.Context, award *medal.MedalAward) (bool, error) {
	if award.Kind == t.store.failAppend {
		return false, fmt.Errorf("fakeTx: disk full while appending %s", award.Kind)
	}
	for _, r := range append(t.base, t.staged...) {
		if r.Kind == award.Kind && r.ParticipantID == award.ParticipantID && r.CheckinID == award.CheckinID {
			return false, nil
		}
	}
	t.clock = t.clock.Add(time.Second)
	award.ID = int64(len(t.base) + len(t.staged) + 1)
	award.CreatedAt = t.clock
	t.staged = append(t.staged, *award)
	return true, nil
}

func (t *fakeTx) ReadLedger(ctx context.Context, challengeID int64) ([]medal.MedalAward, error) {
	return append(append([]medal.MedalAward(nil), t.base...), t.staged...), nil
}

func (t *fakeTx) ReadWeekLedger(ctx context.Context, weekID int64) ([]medal.MedalAward, error) {
	var out []medal.MedalAward
	for _, r := range append(t.base, t.staged...) {
		if r.WeekID != nil && *r.WeekID == weekID {
			out = append(out, r)
		}
	}
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(event shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

type countingCache struct {
	invalidated []int64
}

func (c *countingCache) InvalidateResults(ctx context.Context, challengeID int64) error {
	c.invalidated = append(c.invalidated, challengeID)
	return nil
}
