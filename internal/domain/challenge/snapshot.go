package challenge

import (
	"fmt"
	"sort"

	"github.com/fitness-challenge/medal-engine/internal/domain/shared"
	"github.com/fitness-challenge/medal-engine/pkg/timeutil"
)

// Snapshot is everything the medal rules read for one challenge, loaded at a
// single point in time.
type Snapshot struct {
	Challenge    Challenge
	Weeks        []Week
	Participants []Participant
	Checkins     []Checkin

	weeks        map[int64]Week
	participants map[int64]Participant
	checkins     map[int64]int
}

// NewSnapshot indexes the given rows and checks their references.
// Check-ins are re-expressed in the zone they were recorded in, or the
// participant's zone when none was recorded, and ordered by instant, then id.
func NewSnapshot(c Challenge, weeks []Week, participants []Participant, checkins []Checkin) (*Snapshot, error) {
	s := &Snapshot{
		Challenge:    c,
		Weeks:        weeks,
		Participants: participants,
		weeks:        make(map[int64]Week, len(weeks)),
		participants: make(map[int64]Participant, len(participants)),
	}
	for _, w := range weeks {
		if w.ChallengeID != c.ID {
			return nil, shared.WrapError("challenge", "NewSnapshot", shared.ErrDataInconsistency,
				fmt.Sprintf("week %d belongs to challenge %d", w.ID, w.ChallengeID), shared.ErrWeekOutsideChallenge)
		}
		s.weeks[w.ID] = w
	}
	for _, p := range participants {
		s.participants[p.ID] = p
	}

	s.Checkins = make([]Checkin, 0, len(checkins))
	for _, ci := range checkins {
		if _, ok := s.weeks[ci.WeekID]; !ok {
			return nil, shared.WrapError("challenge", "NewSnapshot", shared.ErrDataInconsistency,
				fmt.Sprintf("check-in %d references unknown week %d", ci.ID, ci.WeekID), shared.ErrWeekNotFound)
		}
		p, ok := s.participants[ci.ParticipantID]
		if !ok {
			return nil, shared.WrapError("challenge", "NewSnapshot", shared.ErrDataInconsistency,
				fmt.Sprintf("check-in %d references unknown participant %d", ci.ID, ci.ParticipantID), shared.ErrParticipantNotFound)
		}
		ci.At = timeutil.InZone(ci.At.In(p.Location()), ci.Timezone)
		s.Checkins = append(s.Checkins, ci)
	}
	sort.SliceStable(s.Checkins, func(i, j int) bool {
		a, b := s.Checkins[i], s.Checkins[j]
		if a.At.Equal(b.At) {
			return a.ID < b.ID
		}
		return a.At.Before(b.At)
	})

	s.checkins = make(map[int64]int, len(s.Checkins))
	for i, ci := range s.Checkins {
		s.checkins[ci.ID] = i
	}
	return s, nil
}

// Week looks up a week by id.
func (s *Snapshot) Week(id int64) (Week, bool) {
	w, ok := s.weeks[id]
	return w, ok
}

// Participant looks up a participant by id.
func (s *Snapshot) Participant(id int64) (Participant, bool) {
	p, ok := s.participants[id]
	return p, ok
}

// CheckinsInWeek returns the check-ins of one week in time order.
func (s *Snapshot) CheckinsInWeek(weekID int64) []Checkin {
	var out []Checkin
	for _, ci := range s.Checkins {
		if ci.WeekID == weekID {
			out = append(out, ci)
		}
	}
	return out
}

// CountedCheckins returns every check-in outside bye weeks in time order.
func (s *Snapshot) CountedCheckins() []Checkin {
	var out []Checkin
	for _, ci := range s.Checkins {
		if w := s.weeks[ci.WeekID]; !w.IsByeWeek {
			out = append(out, ci)
		}
	}
	return out
}

// CheckinByID finds a check-in in the snapshot.
func (s *Snapshot) CheckinByID(id int64) (Checkin, bool) {
	i, ok := s.checkins[id]
	if !ok {
		return Checkin{}, false
	}
	return s.Checkins[i], true
}
