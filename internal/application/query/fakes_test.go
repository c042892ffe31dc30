package query

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fitness-challenge/medal-engine/internal/domain/challenge"
	"github.com/fitness-challenge/medal-engine/internal/domain/medal"
	"github.com/fitness-challenge/medal-engine/internal/domain/shared"
)

var t0 = time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)

// memSource is a three-week challenge whose middle week is a bye week.
type memSource struct {
	challenge challenge.Challenge
	weeks     []challenge.Week
	people    []challenge.Participant
	checkins  []challenge.Checkin
}

func newMemSource() *memSource {
	s := &memSource{
		challenge: challenge.Challenge{ID: 1, Name: "winter", Start: t0, End: t0.AddDate(0, 0, 20)},
		people: []challenge.Participant{
			{ID: 1, Name: "ann", Handle: "@ann", Timezone: "UTC"},
			{ID: 2, Name: "bob", Handle: "@bob", Timezone: "UTC"},
		},
	}
	for i := 0; i < 3; i++ {
		ws := time.Date(2025, 1, 6+7*i, 0, 0, 0, 0, time.UTC)
		s.weeks = append(s.weeks, challenge.Week{
			ID: int64(10 + i), ChallengeID: 1, Index: i + 1, Start: ws, End: ws.AddDate(0, 0, 6), IsByeWeek: i == 1,
		})
	}
	s.checkins = []challenge.Checkin{
		{ID: 1, ParticipantID: 1, WeekID: 10, Tier: 3, At: t0},
		{ID: 2, ParticipantID: 2, WeekID: 10, Tier: 5, At: t0.Add(time.Hour)},
		{ID: 4, ParticipantID: 1, WeekID: 11, Tier: 9, At: t0.AddDate(0, 0, 7)},
		{ID: 3, ParticipantID: 2, WeekID: 12, Tier: 2, At: t0.AddDate(0, 0, 14)},
		{ID: 5, ParticipantID: 2, WeekID: 12, Tier: 4, At: t0.AddDate(0, 0, 15)},
	}
	return s
}

func (s *memSource) GetChallenge(ctx context.Context, challengeID int64) (*challenge.Challenge, error) {
	if challengeID != s.challenge.ID {
		return nil, shared.ErrChallengeNotFound
	}
	c := s.challenge
	return &c, nil
}

func (s *memSource) ListChallenges(ctx context.Context) ([]challenge.Challenge, error) {
	return []challenge.Challenge{s.challenge}, nil
}

func (s *memSource) ListWeeks(ctx context.Context, challengeID int64) ([]challenge.Week, error) {
	return s.weeks, nil
}

func (s *memSource) ListParticipants(ctx context.Context, challengeID int64) ([]challenge.Participant, error) {
	return s.people, nil
}

func (s *memSource) ListCheckins(ctx context.Context, challengeID int64) ([]challenge.Checkin, error) {
	return s.checkins, nil
}

type memLedger struct {
	mu    sync.Mutex
	rows  []medal.MedalAward
	reads int
	err   error
}

func (l *memLedger) ReadLedger(ctx context.Context, challengeID int64) ([]medal.MedalAward, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reads++
	if l.err != nil {
		return nil, l.err
	}
	return l.rows, nil
}

func int64Ptr(v int64) *int64 { return &v }

// row builds a ledger row; week zero means challenge scope.
func row(id int64, kind medal.Kind, participant, week, checkin int64, stealFrom int64) medal.MedalAward {
	a := medal.MedalAward{
		ID: id, Kind: kind, ParticipantID: participant, ChallengeID: 1, CheckinID: checkin,
		CreatedAt: t0.Add(time.Duration(id) * time.Minute),
	}
	if week != 0 {
		a.WeekID = int64Ptr(week)
	}
	if stealFrom != 0 {
		a.StealFromCheckinID = int64Ptr(stealFrom)
	}
	return a
}

// standardLedger: bob steals week 10 from ann, holds week 12 and the
// challenge. Ann's bye-week row does not count.
func standardLedger() *memLedger {
	return &memLedger{rows: []medal.MedalAward{
		row(1, medal.KindHighestTierWeek, 1, 10, 1, 0),
		row(2, medal.KindHighestTierWeek, 2, 10, 2, 1),
		row(3, medal.KindHighestTierWeek, 2, 12, 3, 0),
		row(4, medal.KindHighestTierWeek, 1, 11, 4, 0),
		row(5, medal.KindHighestTierChallenge, 2, 0, 2, 0),
	}}
}

type fakePoints struct {
	points map[string]float64
	err    error
	calls  int
}

func (p *fakePoints) TotalPoints(ctx context.Context, challengeID int64) (map[string]float64, error) {
	p.calls++
	return p.points, p.err
}

var errPointsDown = errors.New("points service down")

type memCache struct {
	mu      sync.Mutex
	entries map[int64][]byte
	sets    int
}

func newMemCache() *memCache { return &memCache{entries: make(map[int64][]byte)} }

func (c *memCache) GetResults(ctx context.Context, challengeID int64) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.entries[challengeID]
	return p, ok, nil
}

func (c *memCache) SetResults(ctx context.Context, challengeID int64, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[challengeID] = payload
	c.sets++
	return nil
}
