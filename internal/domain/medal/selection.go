package medal

import (
	"sort"
	"time"

	"github.com/fitness-challenge/medal-engine/internal/domain/challenge"
	"github.com/fitness-challenge/medal-engine/pkg/timeutil"
)

// Winner is one selected participant with the check-in that proves it.
type Winner struct {
	ParticipantID int64
	CheckinID     int64
	WeekID        int64 // week of the evidence check-in
	Tier          int
	At            time.Time
}

func winnerOf(ci challenge.Checkin) Winner {
	return Winner{
		ParticipantID: ci.ParticipantID,
		CheckinID:     ci.ID,
		WeekID:        ci.WeekID,
		Tier:          ci.Tier,
		At:            ci.At,
	}
}

// Pool is the input of a selector: the check-ins of one scope instance.
type Pool struct {
	Snapshot *challenge.Snapshot
	Instance ScopeInstance
	Checkins []challenge.Checkin
}

// Selector picks winners from a pool. Implementations must be deterministic:
// equal input yields equal output, ties included.
type Selector interface {
	Select(p Pool) []Winner
}

// ══════════════════════════════════════════════════════════════════════════════
// EXTREMUM
// ══════════════════════════════════════════════════════════════════════════════

// Extremum picks the single check-in with the highest or lowest key.
// Ties go to the smallest check-in id.
type Extremum struct {
	Key     func(challenge.Checkin) int64
	Highest bool
}

func (e Extremum) Select(p Pool) []Winner {
	var (
		best  challenge.Checkin
		found bool
	)
	for _, ci := range p.Checkins {
		if !found || e.beats(ci, best) {
			best, found = ci, true
		}
	}
	if !found {
		return nil
	}
	return []Winner{winnerOf(best)}
}

func (e Extremum) beats(a, b challenge.Checkin) bool {
	ka, kb := e.Key(a), e.Key(b)
	if ka != kb {
		if e.Highest {
			return ka > kb
		}
		return ka < kb
	}
	return a.ID < b.ID
}

// HighestTier selects the check-in with the largest tier.
func HighestTier() Extremum {
	return Extremum{
		Key:     func(ci challenge.Checkin) int64 { return int64(ci.Tier) },
		Highest: true,
	}
}

// EarliestTimeOfDay selects the check-in with the earliest local wall-clock time.
func EarliestTimeOfDay() Extremum {
	return Extremum{Key: secondsOfDay}
}

// LatestTimeOfDay selects the check-in with the latest local wall-clock time.
func LatestTimeOfDay() Extremum {
	return Extremum{Key: secondsOfDay, Highest: true}
}

func secondsOfDay(ci challenge.Checkin) int64 {
	return int64(ci.TimeOfDay() / time.Second)
}

// ══════════════════════════════════════════════════════════════════════════════
// DISTINCT DAYS
// ══════════════════════════════════════════════════════════════════════════════

// Day collapses one participant's check-ins on one local calendar date.
type Day struct {
	Date  timeutil.LocalDate
	First challenge.Checkin
	Last  challenge.Checkin // evidence for the day
}

// DailyCheckins groups check-ins per participant and local date. Days are
// returned in date order.
func DailyCheckins(checkins []challenge.Checkin) map[int64][]Day {
	ordered := make([]challenge.Checkin, len(checkins))
	copy(ordered, checkins)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].At.Equal(ordered[j].At) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].At.Before(ordered[j].At)
	})

	type dayKey struct {
		participant int64
		date        timeutil.LocalDate
	}
	days := make(map[dayKey]*Day)
	for _, ci := range ordered {
		k := dayKey{participant: ci.ParticipantID, date: ci.LocalDate()}
		d, ok := days[k]
		if !ok {
			days[k] = &Day{Date: k.date, First: ci, Last: ci}
			continue
		}
		d.Last = ci
	}

	out := make(map[int64][]Day)
	for k, d := range days {
		out[k.participant] = append(out[k.participant], *d)
	}
	for p := range out {
		sort.Slice(out[p], func(i, j int) bool { return out[p][i].Date.Before(out[p][j].Date) })
	}
	return out
}

func sortedParticipants(daily map[int64][]Day) []int64 {
	ids := make([]int64, 0, len(daily))
	for id := range daily {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// DayThreshold awards every participant with at least Days distinct local days
// in the pool. Evidence is the last check-in of the Days-th day.
type DayThreshold struct {
	Days int
}

func (t DayThreshold) Select(p Pool) []Winner {
	daily := DailyCheckins(p.Checkins)
	var out []Winner
	for _, id := range sortedParticipants(daily) {
		if days := daily[id]; len(days) >= t.Days {
			out = append(out, winnerOf(days[t.Days-1].Last))
		}
	}
	return out
}

// FirstToThreshold selects the one participant whose Days-th distinct day
// started first, by instant. Ties go to the smaller id of that day's first check-in.
type FirstToThreshold struct {
	Days int
}

func (t FirstToThreshold) Select(p Pool) []Winner {
	daily := DailyCheckins(p.Checkins)
	var (
		best  Day
		found bool
	)
	for _, id := range sortedParticipants(daily) {
		days := daily[id]
		if len(days) < t.Days {
			continue
		}
		d := days[t.Days-1]
		if !found || d.First.At.Before(best.First.At) ||
			(d.First.At.Equal(best.First.At) && d.First.ID < best.First.ID) {
			best, found = d, true
		}
	}
	if !found {
		return nil
	}
	return []Winner{winnerOf(best.Last)}
}

// EveryWeek awards participants who reach Days distinct days in every counted
// week of the challenge. Nothing is awarded while the challenge has no counted
// weeks. Evidence is the threshold day of the latest counted week.
type EveryWeek struct {
	Days int
}

func (t EveryWeek) Select(p Pool) []Winner {
	if p.Snapshot == nil {
		return nil
	}
	weeks := challenge.NonByeWeeks(p.Snapshot.Weeks)
	if len(weeks) == 0 {
		return nil
	}

	byWeek := make(map[int64][]challenge.Checkin, len(weeks))
	for _, ci := range p.Checkins {
		byWeek[ci.WeekID] = append(byWeek[ci.WeekID], ci)
	}
	dailyByWeek := make(map[int64]map[int64][]Day, len(weeks))
	for _, w := range weeks {
		dailyByWeek[w.ID] = DailyCheckins(byWeek[w.ID])
	}

	// Only someone present in the first counted week can qualify.
	candidates := sortedParticipants(dailyByWeek[weeks[0].ID])
	var out []Winner
	for _, id := range candidates {
		var evidence challenge.Checkin
		qualified := true
		for _, w := range weeks {
			days := dailyByWeek[w.ID][id]
			if len(days) < t.Days {
				qualified = false
				break
			}
			evidence = days[t.Days-1].Last
		}
		if qualified {
			out = append(out, winnerOf(evidence))
		}
	}
	return out
}
