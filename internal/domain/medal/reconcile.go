package medal

// Planner diffs freshly computed standings against the ledger and decides
// which rows to append. It never reads storage; the caller supplies the ledger
// rows of the challenge and applies the plan atomically.
type Planner struct {
	resolver *Resolver
}

// NewPlanner creates a Planner over catalog.
func NewPlanner(catalog *Catalog) *Planner {
	return &Planner{resolver: NewResolver(catalog)}
}

// Plan returns the rows to append, in standings order.
//
// Stealable rules compare the winner's evidence with the current holder of
// the same scope instance: no holder appends a plain award, different evidence
// appends a steal referencing the holder's evidence, same evidence is a no-op.
// This covers re-claims and self-improvement as well.
//
// Permanent rules append one row per winner not already holding the
// (kind, scope instance, participant) partition.
func (p *Planner) Plan(standings []Standing, ledger []MedalAward) []MedalAward {
	var out []MedalAward
	for _, s := range standings {
		if s.Rule.Stealable {
			if award, ok := p.planStealable(s, ledger); ok {
				out = append(out, award)
			}
			continue
		}
		out = append(out, p.planPermanent(s, ledger)...)
	}
	return out
}

func (p *Planner) planStealable(s Standing, ledger []MedalAward) (MedalAward, bool) {
	if len(s.Winners) == 0 {
		return MedalAward{}, false
	}
	w := s.Winners[0]
	award := newAward(s.Rule, s.Instance, w)

	prior, held := p.resolver.CurrentHolder(ledger, s.Rule, s.Instance)
	if !held {
		return award, true
	}
	if prior.CheckinID == w.CheckinID {
		return MedalAward{}, false
	}
	award.StealFromCheckinID = int64Ptr(prior.CheckinID)
	return award, true
}

func (p *Planner) planPermanent(s Standing, ledger []MedalAward) []MedalAward {
	held := make(map[PartitionKey]bool)
	for _, a := range ledger {
		if inInstance(a, s.Rule, s.Instance) {
			held[s.Rule.PartitionKey(a)] = true
		}
	}
	if s.Rule.OncePerScope && len(held) > 0 {
		return nil
	}

	var out []MedalAward
	for _, w := range s.Winners {
		award := newAward(s.Rule, s.Instance, w)
		key := s.Rule.PartitionKey(award)
		if held[key] {
			continue
		}
		held[key] = true
		out = append(out, award)
		if s.Rule.OncePerScope {
			break
		}
	}
	return out
}

func newAward(rule Rule, inst ScopeInstance, w Winner) MedalAward {
	a := MedalAward{
		Kind:          rule.Kind,
		ParticipantID: w.ParticipantID,
		ChallengeID:   inst.ChallengeID,
		CheckinID:     w.CheckinID,
		Emoji:         rule.Emoji,
	}
	if rule.Scope == ScopeWeek {
		a.WeekID = int64Ptr(inst.WeekID)
	}
	return a
}
