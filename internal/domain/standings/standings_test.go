package standings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPodium(t *testing.T) {
	points := map[string]float64{"dan": 40, "ann": 71.5, "bob": 55, "cat": 55, "eve": 12}

	got := Podium(points, PodiumSize)

	assert.Equal(t, []Placement{
		{Place: 1, Name: "ann", Points: 71.5},
		{Place: 2, Name: "bob", Points: 55},
		{Place: 3, Name: "cat", Points: 55},
	}, got)
}

func TestPodium_FewerThanThree(t *testing.T) {
	assert.Len(t, Podium(map[string]float64{"ann": 1}, PodiumSize), 1)
	assert.Empty(t, Podium(nil, PodiumSize))
}

func TestClubs(t *testing.T) {
	points := map[string]float64{"ann": 60, "bob": 59.9, "cat": 50, "dan": 10}

	got := Clubs(points, DefaultClubs())

	if assert.Len(t, got, 2) {
		assert.Equal(t, "club_60", got[0].Club.Name)
		assert.Equal(t, []string{"ann"}, got[0].Members)
		assert.Equal(t, "club_50", got[1].Club.Name)
		assert.Equal(t, []string{"ann", "bob", "cat"}, got[1].Members)
	}

	assert.Empty(t, Clubs(map[string]float64{"dan": 10}, DefaultClubs()))
}
