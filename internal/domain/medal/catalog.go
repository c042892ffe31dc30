// Package medal holds the achievement catalog, the pure computer that picks
// winners from a check-in snapshot, the reconciliation plan that turns winners
// into ledger rows, and the resolver that folds the ledger back into final
// holders.
//
// Every rule is a declarative descriptor interpreted by one generic evaluator,
// so adding a kind means adding a catalog entry.
package medal

import (
	"fmt"

	"github.com/fitness-challenge/medal-engine/internal/domain/shared"
)

// Scope is the unit a kind is evaluated against.
type Scope int

const (
	ScopeWeek Scope = iota + 1
	ScopeChallenge
)

func (s Scope) String() string {
	switch s {
	case ScopeWeek:
		return "week"
	case ScopeChallenge:
		return "challenge"
	default:
		return "unknown"
	}
}

// Kind is the persisted name of an achievement.
type Kind string

const (
	KindHighestTierWeek      Kind = "highest_tier_week"
	KindHighestTierChallenge Kind = "highest_tier_challenge"
	KindEarliestForWeek      Kind = "earliest_for_week"
	KindEarliestForChallenge Kind = "earliest_for_challenge"
	KindLatestForWeek        Kind = "latest_for_week"
	KindLatestForChallenge   Kind = "latest_for_challenge"
	KindGold                 Kind = "gold"
	KindGreen                Kind = "green"
	KindFirstToGreen         Kind = "first_to_green"
	KindAllGold              Kind = "all_gold"
	KindAllGreen             Kind = "all_green"
)

// Distinct local days needed in a week.
const (
	GoldDays  = 7
	GreenDays = 5
)

// Rule is one catalog entry.
type Rule struct {
	Kind      Kind
	Emoji     string
	Label     string
	Scope     Scope
	Stealable bool

	// OncePerScope limits a non-stealable kind to a single holder per scope
	// instance: once someone holds it, later winners are not appended.
	OncePerScope bool

	Selector Selector
}

// PartitionKey identifies the ledger partition a row competes in.
// Zero fields are "not part of the key".
type PartitionKey struct {
	Kind          Kind
	WeekID        int64
	ParticipantID int64
}

// PartitionKey maps a ledger row onto the partition the resolver folds it into:
// stealable rows compete per scope instance, permanent rows per participant
// within the scope instance.
func (r Rule) PartitionKey(a MedalAward) PartitionKey {
	key := PartitionKey{Kind: r.Kind}
	if r.Scope == ScopeWeek && a.WeekID != nil {
		key.WeekID = *a.WeekID
	}
	if !r.Stealable {
		key.ParticipantID = a.ParticipantID
	}
	return key
}

// Catalog is an ordered, immutable set of rules.
type Catalog struct {
	rules []Rule
	index map[Kind]int
}

// NewCatalog builds a catalog; kinds must be unique.
func NewCatalog(rules ...Rule) (*Catalog, error) {
	c := &Catalog{rules: make([]Rule, 0, len(rules)), index: make(map[Kind]int, len(rules))}
	for _, r := range rules {
		if _, dup := c.index[r.Kind]; dup {
			return nil, fmt.Errorf("medal: duplicate kind %q", r.Kind)
		}
		if r.Selector == nil {
			return nil, fmt.Errorf("medal: kind %q has no selector", r.Kind)
		}
		if r.Scope != ScopeWeek && r.Scope != ScopeChallenge {
			return nil, fmt.Errorf("medal: kind %q has no scope", r.Kind)
		}
		c.index[r.Kind] = len(c.rules)
		c.rules = append(c.rules, r)
	}
	return c, nil
}

// Rules returns the rules in catalog order.
func (c *Catalog) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Lookup returns the rule for kind or shared.ErrUnknownKind.
func (c *Catalog) Lookup(kind Kind) (Rule, error) {
	i, ok := c.index[kind]
	if !ok {
		return Rule{}, shared.WrapError("medal", "Lookup", shared.ErrNotFound,
			fmt.Sprintf("kind %q", kind), shared.ErrUnknownKind)
	}
	return c.rules[i], nil
}

// Position returns the catalog order of kind, or -1.
func (c *Catalog) Position(kind Kind) int {
	if i, ok := c.index[kind]; ok {
		return i
	}
	return -1
}

// DefaultCatalog is the canonical rule set.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		Rule{Kind: KindHighestTierWeek, Emoji: "💪", Label: "Highest Weekly Tier", Scope: ScopeWeek, Stealable: true, Selector: HighestTier()},
		Rule{Kind: KindEarliestForWeek, Emoji: "🌞", Label: "Earliest Check-in", Scope: ScopeWeek, Stealable: true, Selector: EarliestTimeOfDay()},
		Rule{Kind: KindLatestForWeek, Emoji: "🌚", Label: "Latest Check-in", Scope: ScopeWeek, Stealable: true, Selector: LatestTimeOfDay()},
		Rule{Kind: KindGold, Emoji: "🏅", Label: "Gold Week", Scope: ScopeWeek, Selector: DayThreshold{Days: GoldDays}},
		Rule{Kind: KindGreen, Emoji: "🟩", Label: "Green Week", Scope: ScopeWeek, Selector: DayThreshold{Days: GreenDays}},
		Rule{Kind: KindFirstToGreen, Emoji: "✳️", Label: "First to Green", Scope: ScopeWeek, OncePerScope: true, Selector: FirstToThreshold{Days: GreenDays}},
		Rule{Kind: KindHighestTierChallenge, Emoji: "🏋", Label: "Highest Overall Tier", Scope: ScopeChallenge, Stealable: true, Selector: HighestTier()},
		Rule{Kind: KindEarliestForChallenge, Emoji: "🌞", Label: "Earliest Overall Check-in", Scope: ScopeChallenge, Stealable: true, Selector: EarliestTimeOfDay()},
		Rule{Kind: KindLatestForChallenge, Emoji: "🌚", Label: "Latest Overall Check-in", Scope: ScopeChallenge, Stealable: true, Selector: LatestTimeOfDay()},
		Rule{Kind: KindAllGold, Emoji: "⭐", Label: "All Gold", Scope: ScopeChallenge, Selector: EveryWeek{Days: GoldDays}},
		Rule{Kind: KindAllGreen, Emoji: "❇️", Label: "All Green", Scope: ScopeChallenge, Selector: EveryWeek{Days: GreenDays}},
	)
	if err != nil {
		panic(err)
	}
	return c
}
