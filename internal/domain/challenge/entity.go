// Package challenge contains the read-side model of a multi-week fitness
// challenge: participants, weeks, and the immutable check-ins the medal rules
// are evaluated against. This is a pure domain layer with zero external
// dependencies.
package challenge

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fitness-challenge/medal-engine/internal/domain/shared"
	"github.com/fitness-challenge/medal-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PARTICIPANT
// ══════════════════════════════════════════════════════════════════════════════

// Participant is someone taking part in a challenge.
// Only the timezone may change after creation.
type Participant struct {
	ID       int64
	Name     string
	Handle   string // external identity, e.g. a chat user id
	Timezone string // IANA zone name
}

// Location returns the participant's zone, falling back to UTC.
func (p Participant) Location() *time.Location {
	loc, err := timeutil.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ══════════════════════════════════════════════════════════════════════════════
// CHALLENGE & WEEKS
// ══════════════════════════════════════════════════════════════════════════════

// Challenge is created once by setup tooling and read-only afterwards.
type Challenge struct {
	ID        int64
	Name      string
	Start     time.Time
	End       time.Time
	ByeWeeks  int // number of non-counted weeks
	CreatedAt time.Time
}

// Week is one ChallengeWeek. Index is the raw position assigned at setup and
// counts bye weeks; see NumberWeeks for the user-facing numbering.
type Week struct {
	ID          int64
	ChallengeID int64
	Index       int
	Start       time.Time
	End         time.Time
	IsByeWeek   bool
	IsGreenWeek bool
}

// Contains reports whether t falls within the week's date range (inclusive).
func (w Week) Contains(t time.Time) bool {
	d := timeutil.DateOf(t.In(w.Start.Location()))
	return !d.Before(timeutil.DateOf(w.Start)) && !timeutil.DateOf(w.End).Before(d)
}

// EffectiveEnd returns the date the challenge really finishes. When the
// trailing weeks are bye weeks the challenge ends with its last counted week.
// With no weeks, or only bye weeks, the configured end date is used.
func (c Challenge) EffectiveEnd(weeks []Week) time.Time {
	var last *Week
	for i := range weeks {
		if weeks[i].ChallengeID != c.ID {
			continue
		}
		if last == nil || weeks[i].End.After(last.End) {
			last = &weeks[i]
		}
	}
	if last == nil || !last.IsByeWeek {
		return c.End
	}

	var lastCounted *Week
	for i := range weeks {
		w := &weeks[i]
		if w.ChallengeID != c.ID || w.IsByeWeek {
			continue
		}
		if lastCounted == nil || w.End.After(lastCounted.End) {
			lastCounted = w
		}
	}
	if lastCounted == nil {
		return c.End
	}
	return lastCounted.End
}

// NonByeWeeks returns the counted weeks ordered by start date.
func NonByeWeeks(weeks []Week) []Week {
	out := make([]Week, 0, len(weeks))
	for _, w := range weeks {
		if !w.IsByeWeek {
			out = append(out, w)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// NumberWeeks assigns 1-based numbers to the counted weeks in start order.
// Bye weeks are absent from the result.
func NumberWeeks(weeks []Week) map[int64]int {
	counted := NonByeWeeks(weeks)
	numbers := make(map[int64]int, len(counted))
	for i, w := range counted {
		numbers[w.ID] = i + 1
	}
	return numbers
}

// CurrentWeek returns the week containing now, if any.
func CurrentWeek(weeks []Week, now time.Time) (Week, bool) {
	for _, w := range weeks {
		if w.Contains(now) {
			return w, true
		}
	}
	return Week{}, false
}

// AllEndedOn returns every challenge whose effective end date is day, in
// input order.
func AllEndedOn(challenges []Challenge, weeksByChallenge map[int64][]Week, day timeutil.LocalDate) []Challenge {
	var out []Challenge
	for _, c := range challenges {
		if timeutil.DateOf(c.EffectiveEnd(weeksByChallenge[c.ID])) == day {
			out = append(out, c)
		}
	}
	return out
}

// MostRecentlyEnded returns the challenge with the latest effective end date
// strictly before today.
func MostRecentlyEnded(challenges []Challenge, weeksByChallenge map[int64][]Week, today timeutil.LocalDate) (Challenge, bool) {
	var (
		best    Challenge
		bestEnd timeutil.LocalDate
		found   bool
	)
	for _, c := range challenges {
		end := timeutil.DateOf(c.EffectiveEnd(weeksByChallenge[c.ID]))
		if !end.Before(today) {
			continue
		}
		if !found || bestEnd.Before(end) {
			best, bestEnd, found = c, end, true
		}
	}
	return best, found
}

// ══════════════════════════════════════════════════════════════════════════════
// CHECK-INS
// ══════════════════════════════════════════════════════════════════════════════

// Checkin is an immutable, tiered activity report.
//
// Timezone is the participant's zone at the moment of the check-in. It never
// changes afterwards, so a participant moving zones does not re-date their
// history. Rows recorded without one fall back to the participant's current
// zone. Inside a Snapshot, At is already expressed in the effective zone.
type Checkin struct {
	ID            int64
	ParticipantID int64
	WeekID        int64
	Tier          int
	At            time.Time
	Timezone      string
	Message       string
}

// TimeOfDay returns the local wall-clock time at second precision.
func (c Checkin) TimeOfDay() time.Duration {
	return timeutil.TimeOfDay(c.At)
}

// LocalDate returns the calendar day of the check-in in its recorded zone.
func (c Checkin) LocalDate() timeutil.LocalDate {
	return timeutil.DateOf(c.At)
}

// ParseTier converts the "T<n>" text form into n. A bare number is accepted.
func ParseTier(s string) (int, error) {
	raw := strings.TrimSpace(s)
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "T"), "t")
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, shared.WrapError("challenge", "ParseTier", shared.ErrInvalidTier,
			fmt.Sprintf("malformed tier %q", s), shared.ErrMalformedTier)
	}
	return n, nil
}

// FormatTier renders a tier as "T<n>", or "" for an unknown tier.
func FormatTier(tier int) string {
	if tier < 1 {
		return ""
	}
	return "T" + strconv.Itoa(tier)
}
