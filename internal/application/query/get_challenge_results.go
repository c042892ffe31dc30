// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fitness-challenge/medal-engine/internal/domain/challenge"
	"github.com/fitness-challenge/medal-engine/internal/domain/medal"
	"github.com/fitness-challenge/medal-engine/internal/domain/shared"
	"github.com/fitness-challenge/medal-engine/internal/domain/standings"
	"github.com/fitness-challenge/medal-engine/pkg/circuitbreaker"
	"github.com/fitness-challenge/medal-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET CHALLENGE RESULTS QUERY
// Reconstructs the final medal holders of a challenge from the ledger and
// merges them with the point-based podium and clubs.
// ══════════════════════════════════════════════════════════════════════════════

// GetChallengeResultsQuery contains the parameters of the results query.
type GetChallengeResultsQuery struct {
	ChallengeID int64

	// SkipCache forces a rebuild from storage.
	SkipCache bool
}

// Validate validates the query.
func (q GetChallengeResultsQuery) Validate() error {
	if q.ChallengeID <= 0 {
		return fmt.Errorf("challenge_id must be positive: %w", shared.ErrInvalidID)
	}
	return nil
}

// HolderDTO is one final medal holder.
type HolderDTO struct {
	Kind            string `json:"kind"`
	Emoji           string `json:"emoji"`
	Label           string `json:"label"`
	ParticipantID   int64  `json:"participant_id"`
	ParticipantName string `json:"participant_name"`
	Handle          string `json:"handle,omitempty"`
	CheckinID       int64  `json:"checkin_id"`

	// Tier and WeekNumber describe the evidence check-in, e.g. "T9 in week 3".
	// WeekNumber is zero when the evidence lies in a bye week.
	Tier       int    `json:"tier"`
	TierLabel  string `json:"tier_label,omitempty"`
	WeekNumber int    `json:"week_number,omitempty"`
}

// WeekResultsDTO groups the holders of one counted week.
type WeekResultsDTO struct {
	WeekID     int64       `json:"week_id"`
	WeekNumber int         `json:"week_number"`
	Start      time.Time   `json:"start"`
	End        time.Time   `json:"end"`
	Holders    []HolderDTO `json:"holders"`
}

// MedalCountDTO is how often a participant finally held one kind.
type MedalCountDTO struct {
	Kind            string `json:"kind"`
	Emoji           string `json:"emoji"`
	Label           string `json:"label"`
	ParticipantID   int64  `json:"participant_id"`
	ParticipantName string `json:"participant_name"`
	Count           int    `json:"count"`
}

// PlacementDTO is one podium spot.
type PlacementDTO struct {
	Place  int     `json:"place"`
	Name   string  `json:"name"`
	Points float64 `json:"points"`
}

// ClubDTO lists the members of one point club.
type ClubDTO struct {
	Name      string   `json:"name"`
	Label     string   `json:"label"`
	Emoji     string   `json:"emoji"`
	Threshold float64  `json:"threshold"`
	Members   []string `json:"members"`
}

// ChallengeResults is the end-of-challenge summary.
type ChallengeResults struct {
	ChallengeID  int64     `json:"challenge_id"`
	Name         string    `json:"name"`
	Start        time.Time `json:"start"`
	EffectiveEnd time.Time `json:"effective_end"`

	Weeks           []WeekResultsDTO `json:"weeks"`
	ChallengeMedals []HolderDTO      `json:"challenge_medals"`
	Counts          []MedalCountDTO  `json:"counts"`

	Podium []PlacementDTO `json:"podium"`
	Clubs  []ClubDTO      `json:"clubs"`

	// PointsUnavailable is set when the points service could not be
	// reached. Podium and Clubs are empty then.
	PointsUnavailable bool `json:"points_unavailable"`

	GeneratedAt time.Time `json:"generated_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// ResultsCache stores encoded results per challenge.
type ResultsCache interface {
	// GetResults returns the cached payload, or ok=false on a miss.
	GetResults(ctx context.Context, challengeID int64) (payload []byte, ok bool, err error)
	SetResults(ctx context.Context, challengeID int64, payload []byte) error
}

// LedgerReader is the read side of the medal ledger.
type LedgerReader interface {
	ReadLedger(ctx context.Context, challengeID int64) ([]medal.MedalAward, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// GetChallengeResultsHandler handles GetChallengeResultsQuery.
type GetChallengeResultsHandler struct {
	source   challenge.Source
	ledger   LedgerReader
	points   standings.PointsSource
	breaker  *circuitbreaker.CircuitBreaker
	cache    ResultsCache
	catalog  *medal.Catalog
	resolver *medal.Resolver
	clubs    []standings.Club
	log      *logger.Logger
	now      func() time.Time
}

// NewGetChallengeResultsHandler creates a new handler. points, cache and
// breaker may be nil; clubs defaults to standings.DefaultClubs.
func NewGetChallengeResultsHandler(
	source challenge.Source,
	ledger LedgerReader,
	points standings.PointsSource,
	breaker *circuitbreaker.CircuitBreaker,
	cache ResultsCache,
	catalog *medal.Catalog,
	clubs []standings.Club,
	log *logger.Logger,
) *GetChallengeResultsHandler {
	if clubs == nil {
		clubs = standings.DefaultClubs()
	}
	if breaker == nil {
		breaker = circuitbreaker.New("points")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &GetChallengeResultsHandler{
		source:   source,
		ledger:   ledger,
		points:   points,
		breaker:  breaker,
		cache:    cache,
		catalog:  catalog,
		resolver: medal.NewResolver(catalog),
		clubs:    clubs,
		log:      log.With(logger.Component("challenge_results")),
		now:      time.Now,
	}
}

// Handle builds the results of one challenge.
func (h *GetChallengeResultsHandler) Handle(ctx context.Context, q GetChallengeResultsQuery) (*ChallengeResults, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetChallengeResults", shared.ErrValidation, err.Error(), err)
	}
	log := h.log.With(logger.ChallengeID(q.ChallengeID))

	if !q.SkipCache {
		if cached, ok := h.fromCache(ctx, q.ChallengeID, log); ok {
			return cached, nil
		}
	}

	var (
		snap    *challenge.Snapshot
		awards  []medal.MedalAward
		points  map[string]float64
		ptsFail bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap, err = challenge.LoadSnapshot(gctx, h.source, q.ChallengeID)
		return err
	})
	g.Go(func() error {
		var err error
		awards, err = h.ledger.ReadLedger(gctx, q.ChallengeID)
		if err != nil {
			return fmt.Errorf("read ledger: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		points, err = h.totalPoints(gctx, q.ChallengeID)
		if err != nil {
			ptsFail = true
			log.Warn("points unavailable, results without podium and clubs", logger.Err(err))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("get_challenge_results: %w", err)
	}

	res := h.build(snap, awards)
	res.PointsUnavailable = ptsFail
	if !ptsFail {
		for _, p := range standings.Podium(points, standings.PodiumSize) {
			res.Podium = append(res.Podium, PlacementDTO{Place: p.Place, Name: p.Name, Points: p.Points})
		}
		for _, c := range standings.Clubs(points, h.clubs) {
			res.Clubs = append(res.Clubs, ClubDTO{
				Name: c.Club.Name, Label: c.Club.Label, Emoji: c.Club.Emoji,
				Threshold: c.Club.Threshold, Members: c.Members,
			})
		}
	}

	// Degraded results are not cached so the next call retries points.
	if !ptsFail {
		h.toCache(ctx, res, log)
	}
	return res, nil
}

func (h *GetChallengeResultsHandler) totalPoints(ctx context.Context, challengeID int64) (map[string]float64, error) {
	if h.points == nil {
		return nil, shared.ErrPointsUnavailable
	}
	var points map[string]float64
	err := h.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		points, err = h.points.TotalPoints(ctx, challengeID)
		return err
	})
	if err != nil {
		return nil, shared.WrapError("points", "TotalPoints", shared.ErrServiceUnavailable, "points service unavailable", err)
	}
	return points, nil
}

// build folds the ledger into holders grouped by week and challenge.
func (h *GetChallengeResultsHandler) build(snap *challenge.Snapshot, awards []medal.MedalAward) *ChallengeResults {
	numbers := challenge.NumberWeeks(snap.Weeks)
	holdings := h.resolver.Resolve(awards, snap.Weeks)

	res := &ChallengeResults{
		ChallengeID:  snap.Challenge.ID,
		Name:         snap.Challenge.Name,
		Start:        snap.Challenge.Start,
		EffectiveEnd: snap.Challenge.EffectiveEnd(snap.Weeks),
		GeneratedAt:  h.now(),
	}

	weekIdx := make(map[int64]int)
	for _, w := range challenge.NonByeWeeks(snap.Weeks) {
		weekIdx[w.ID] = len(res.Weeks)
		res.Weeks = append(res.Weeks, WeekResultsDTO{
			WeekID: w.ID, WeekNumber: numbers[w.ID], Start: w.Start, End: w.End,
		})
	}

	for _, hd := range holdings {
		dto := h.holder(snap, numbers, hd)
		if hd.Rule.Scope == medal.ScopeChallenge {
			res.ChallengeMedals = append(res.ChallengeMedals, dto)
			continue
		}
		i := weekIdx[*hd.Award.WeekID]
		res.Weeks[i].Holders = append(res.Weeks[i].Holders, dto)
	}

	res.Counts = h.counts(snap, holdings)
	return res
}

func (h *GetChallengeResultsHandler) holder(snap *challenge.Snapshot, numbers map[int64]int, hd medal.Holding) HolderDTO {
	p, _ := snap.Participant(hd.Award.ParticipantID)
	dto := HolderDTO{
		Kind:            string(hd.Rule.Kind),
		Emoji:           hd.Award.Emoji,
		Label:           hd.Rule.Label,
		ParticipantID:   hd.Award.ParticipantID,
		ParticipantName: p.Name,
		Handle:          p.Handle,
		CheckinID:       hd.Award.CheckinID,
	}
	if dto.Emoji == "" {
		dto.Emoji = hd.Rule.Emoji
	}
	if ci, ok := snap.CheckinByID(hd.Award.CheckinID); ok {
		dto.Tier = ci.Tier
		dto.TierLabel = challenge.FormatTier(ci.Tier)
		dto.WeekNumber = numbers[ci.WeekID]
	}
	return dto
}

// counts flattens medal.Tally, ordered by catalog position, then count
// descending, then name.
func (h *GetChallengeResultsHandler) counts(snap *challenge.Snapshot, holdings []medal.Holding) []MedalCountDTO {
	var out []MedalCountDTO
	for kind, perParticipant := range medal.Tally(holdings) {
		rule, err := h.catalog.Lookup(kind)
		if err != nil {
			continue
		}
		for pid, n := range perParticipant {
			p, _ := snap.Participant(pid)
			out = append(out, MedalCountDTO{
				Kind: string(kind), Emoji: rule.Emoji, Label: rule.Label,
				ParticipantID: pid, ParticipantName: p.Name, Count: n,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if pa, pb := h.catalog.Position(medal.Kind(a.Kind)), h.catalog.Position(medal.Kind(b.Kind)); pa != pb {
			return pa < pb
		}
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.ParticipantName != b.ParticipantName {
			return a.ParticipantName < b.ParticipantName
		}
		return a.ParticipantID < b.ParticipantID
	})
	return out
}

func (h *GetChallengeResultsHandler) fromCache(ctx context.Context, challengeID int64, log *logger.Logger) (*ChallengeResults, bool) {
	if h.cache == nil {
		return nil, false
	}
	payload, ok, err := h.cache.GetResults(ctx, challengeID)
	if err != nil {
		log.Warn("results cache read failed", logger.Err(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var res ChallengeResults
	if err := json.Unmarshal(payload, &res); err != nil {
		log.Warn("results cache payload corrupt", logger.Err(err))
		return nil, false
	}
	return &res, true
}

func (h *GetChallengeResultsHandler) toCache(ctx context.Context, res *ChallengeResults, log *logger.Logger) {
	if h.cache == nil {
		return
	}
	payload, err := json.Marshal(res)
	if err != nil {
		log.Warn("results encode failed", logger.Err(err))
		return
	}
	if err := h.cache.SetResults(ctx, res.ChallengeID, payload); err != nil {
		log.Warn("results cache write failed", logger.Err(err))
	}
}
