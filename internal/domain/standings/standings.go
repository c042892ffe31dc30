// Package standings derives point-based results (podium, point clubs) from the
// totals reported by the external scoring service.
package standings

import (
	"context"
	"sort"
)

// PointsSource reports total points per participant name, bye weeks already
// excluded.
type PointsSource interface {
	TotalPoints(ctx context.Context, challengeID int64) (map[string]float64, error)
}

// PodiumSize is the number of placements reported.
const PodiumSize = 3

// Placement is one podium spot.
type Placement struct {
	Place  int
	Name   string
	Points float64
}

// Podium returns the top n participants by points. Equal points are ordered
// by name so the result is stable.
func Podium(points map[string]float64, n int) []Placement {
	ranked := rank(points)
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	out := make([]Placement, len(ranked))
	for i, r := range ranked {
		out[i] = Placement{Place: i + 1, Name: r.name, Points: r.points}
	}
	return out
}

type entry struct {
	name   string
	points float64
}

func rank(points map[string]float64) []entry {
	out := make([]entry, 0, len(points))
	for name, p := range points {
		out = append(out, entry{name: name, points: p})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].points != out[j].points {
			return out[i].points > out[j].points
		}
		return out[i].name < out[j].name
	})
	return out
}

// Club is a threshold achievement: everyone at or above Threshold points.
type Club struct {
	Name      string
	Label     string
	Emoji     string
	Threshold float64
}

// DefaultClubs are the point clubs reported with challenge results.
func DefaultClubs() []Club {
	return []Club{
		{Name: "club_60", Label: "Club 60", Emoji: "🌟", Threshold: 60},
		{Name: "club_50", Label: "Club 50", Emoji: "⭐", Threshold: 50},
	}
}

// ClubMembers lists who reached one club. Clubs are independent, so a
// member of a higher club also appears in every lower one.
type ClubMembers struct {
	Club    Club
	Members []string
}

// Clubs evaluates every club against points. Members are ordered by points,
// then name. Clubs without members are omitted.
func Clubs(points map[string]float64, clubs []Club) []ClubMembers {
	ranked := rank(points)
	var out []ClubMembers
	for _, c := range clubs {
		var members []string
		for _, r := range ranked {
			if r.points >= c.Threshold {
				members = append(members, r.name)
			}
		}
		if len(members) > 0 {
			out = append(out, ClubMembers{Club: c, Members: members})
		}
	}
	return out
}
