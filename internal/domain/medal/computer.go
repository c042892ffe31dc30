package medal

import (
	"fmt"

	"github.com/fitness-challenge/medal-engine/internal/domain/challenge"
	"github.com/fitness-challenge/medal-engine/internal/domain/shared"
)

// Standing is the current outcome of one rule in one scope instance.
// Stealable rules have at most one winner.
type Standing struct {
	Rule     Rule
	Instance ScopeInstance
	Winners  []Winner
}

// Computer evaluates a catalog against a snapshot. It holds no
// challenge-specific state and is safe for concurrent use.
type Computer struct {
	catalog *Catalog
}

// NewComputer creates a Computer over catalog.
func NewComputer(catalog *Catalog) *Computer {
	return &Computer{catalog: catalog}
}

// Catalog returns the rules the computer evaluates.
func (c *Computer) Catalog() *Catalog {
	return c.catalog
}

// Compute evaluates week-scoped rules for weekID and challenge-scoped rules
// over every counted week. Standings come back in catalog order.
//
// Week rules are evaluated even for a bye week; challenge rules never see
// bye-week check-ins.
func (c *Computer) Compute(snap *challenge.Snapshot, weekID int64) ([]Standing, error) {
	if _, ok := snap.Week(weekID); !ok {
		return nil, shared.WrapError("medal", "Compute", shared.ErrNotFound,
			fmt.Sprintf("week %d is not part of challenge %d", weekID, snap.Challenge.ID), shared.ErrWeekNotFound)
	}

	weekPool := Pool{
		Snapshot: snap,
		Instance: ScopeInstance{ChallengeID: snap.Challenge.ID, WeekID: weekID},
		Checkins: snap.CheckinsInWeek(weekID),
	}
	challengePool := Pool{
		Snapshot: snap,
		Instance: ScopeInstance{ChallengeID: snap.Challenge.ID},
		Checkins: snap.CountedCheckins(),
	}

	standings := make([]Standing, 0, len(c.catalog.rules))
	for _, rule := range c.catalog.rules {
		pool := weekPool
		if rule.Scope == ScopeChallenge {
			pool = challengePool
		}
		winners := rule.Selector.Select(pool)
		if rule.Stealable && len(winners) > 1 {
			return nil, shared.NewDomainError("medal", "Compute", shared.ErrInvalidState,
				fmt.Sprintf("stealable kind %q produced %d winners", rule.Kind, len(winners)))
		}
		standings = append(standings, Standing{Rule: rule, Instance: pool.Instance, Winners: winners})
	}
	return standings, nil
}
