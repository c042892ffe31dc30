package medal

import (
	"sort"

	"github.com/fitness-challenge/medal-engine/internal/domain/challenge"
)

// Holding is a final holder recovered from the ledger.
type Holding struct {
	Rule  Rule
	Award MedalAward
}

// Resolver folds the append-only ledger into the holders at the end of each
// scope instance. It is a pure function of its input.
type Resolver struct {
	catalog *Catalog
}

// NewResolver creates a Resolver over catalog.
func NewResolver(catalog *Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// Resolve returns the final holders of a challenge's ledger.
//
// Each row is folded into its rule's partition and the latest row per
// partition wins (created-at, then id). Week-scoped rows of bye weeks, or of
// weeks not in weeks, are dropped. Rows of kinds missing from the catalog are
// ignored.
//
// The result is ordered by catalog position, then week start, then
// participant id.
func (r *Resolver) Resolve(awards []MedalAward, weeks []challenge.Week) []Holding {
	weekOrder := make(map[int64]int)
	for i, w := range challenge.NonByeWeeks(weeks) {
		weekOrder[w.ID] = i
	}

	latest := make(map[PartitionKey]Holding)
	for _, a := range awards {
		rule, err := r.catalog.Lookup(a.Kind)
		if err != nil {
			continue
		}
		if rule.Scope == ScopeWeek {
			if a.WeekID == nil {
				continue
			}
			if _, counted := weekOrder[*a.WeekID]; !counted {
				continue
			}
		}
		key := rule.PartitionKey(a)
		if cur, ok := latest[key]; !ok || newer(a, cur.Award) {
			latest[key] = Holding{Rule: rule, Award: a}
		}
	}

	out := make([]Holding, 0, len(latest))
	for _, h := range latest {
		out = append(out, h)
	}
	weekPos := func(h Holding) int {
		if h.Rule.Scope == ScopeChallenge || h.Award.WeekID == nil {
			return -1
		}
		return weekOrder[*h.Award.WeekID]
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if pa, pb := r.catalog.Position(a.Rule.Kind), r.catalog.Position(b.Rule.Kind); pa != pb {
			return pa < pb
		}
		if wa, wb := weekPos(a), weekPos(b); wa != wb {
			return wa < wb
		}
		if a.Award.ParticipantID != b.Award.ParticipantID {
			return a.Award.ParticipantID < b.Award.ParticipantID
		}
		return a.Award.ID < b.Award.ID
	})
	return out
}

// CurrentHolder returns the latest row of rule within one scope instance.
// Unlike Resolve it does not drop bye weeks: reconciliation keeps tracking
// holders there.
func (r *Resolver) CurrentHolder(awards []MedalAward, rule Rule, inst ScopeInstance) (MedalAward, bool) {
	var (
		cur   MedalAward
		found bool
	)
	for _, a := range awards {
		if !inInstance(a, rule, inst) {
			continue
		}
		if !found || newer(a, cur) {
			cur, found = a, true
		}
	}
	return cur, found
}

func inInstance(a MedalAward, rule Rule, inst ScopeInstance) bool {
	if a.Kind != rule.Kind || a.ChallengeID != inst.ChallengeID {
		return false
	}
	if rule.Scope == ScopeChallenge {
		return true
	}
	return a.WeekID != nil && *a.WeekID == inst.WeekID
}

// Tally counts final holdings per kind and participant,
// e.g. "highest weekly tier x2".
func Tally(holdings []Holding) map[Kind]map[int64]int {
	out := make(map[Kind]map[int64]int)
	for _, h := range holdings {
		perKind, ok := out[h.Rule.Kind]
		if !ok {
			perKind = make(map[int64]int)
			out[h.Rule.Kind] = perKind
		}
		perKind[h.Award.ParticipantID]++
	}
	return out
}
