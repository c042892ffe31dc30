package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fitness-challenge/medal-engine/internal/domain/challenge"
	"github.com/fitness-challenge/medal-engine/internal/domain/medal"
	"github.com/fitness-challenge/medal-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET MEDAL LOG QUERY
// Lists ledger rows in write order with who stole what from whom.
// ══════════════════════════════════════════════════════════════════════════════

// GetMedalLogQuery selects the rows to list.
type GetMedalLogQuery struct {
	ChallengeID int64

	// WeekID limits the log to one week: its week-scoped rows plus the
	// challenge-scoped rows whose evidence falls in it. Zero lists all.
	WeekID int64
}

// Validate validates the query.
func (q GetMedalLogQuery) Validate() error {
	if q.ChallengeID <= 0 {
		return fmt.Errorf("challenge_id must be positive: %w", shared.ErrInvalidID)
	}
	if q.WeekID < 0 {
		return fmt.Errorf("week_id cannot be negative: %w", shared.ErrInvalidID)
	}
	return nil
}

// MedalLogEntry is one ledger row joined with its participants.
type MedalLogEntry struct {
	AwardID         int64               `json:"award_id"`
	Kind            string              `json:"kind"`
	Emoji           string              `json:"emoji"`
	WeekID          *int64              `json:"week_id,omitempty"`
	ParticipantID   int64               `json:"participant_id"`
	ParticipantName string              `json:"participant_name"`
	CheckinID       int64               `json:"checkin_id"`
	Tier            int                 `json:"tier"`
	TierLabel       string              `json:"tier_label"`
	Outcome         shared.AwardOutcome `json:"outcome"`

	StolenFromCheckinID *int64 `json:"stolen_from_checkin_id,omitempty"`
	StolenFromName      string `json:"stolen_from_name,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// GetMedalLogHandler handles GetMedalLogQuery.
type GetMedalLogHandler struct {
	source challenge.Source
	ledger LedgerReader
}

// NewGetMedalLogHandler creates a new GetMedalLogHandler.
func NewGetMedalLogHandler(source challenge.Source, ledger LedgerReader) *GetMedalLogHandler {
	return &GetMedalLogHandler{source: source, ledger: ledger}
}

// Handle returns the log ordered by created-at, then id.
func (h *GetMedalLogHandler) Handle(ctx context.Context, q GetMedalLogQuery) ([]MedalLogEntry, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetMedalLog", shared.ErrValidation, err.Error(), err)
	}

	snap, err := challenge.LoadSnapshot(ctx, h.source, q.ChallengeID)
	if err != nil {
		return nil, fmt.Errorf("get_medal_log: %w", err)
	}
	if q.WeekID != 0 {
		if _, ok := snap.Week(q.WeekID); !ok {
			return nil, shared.WrapError("query", "GetMedalLog", shared.ErrNotFound,
				fmt.Sprintf("week %d is not part of challenge %d", q.WeekID, q.ChallengeID), shared.ErrWeekNotFound)
		}
	}

	awards, err := h.ledger.ReadLedger(ctx, q.ChallengeID)
	if err != nil {
		return nil, fmt.Errorf("get_medal_log: read ledger: %w", err)
	}

	ownerOf := func(checkinID int64) (int64, bool) {
		ci, ok := snap.CheckinByID(checkinID)
		return ci.ParticipantID, ok
	}

	out := make([]MedalLogEntry, 0, len(awards))
	for _, a := range awards {
		evidence, known := snap.CheckinByID(a.CheckinID)
		if q.WeekID != 0 && !inWeek(a, evidence, known, q.WeekID) {
			continue
		}
		p, _ := snap.Participant(a.ParticipantID)
		e := MedalLogEntry{
			AwardID:             a.ID,
			Kind:                string(a.Kind),
			Emoji:               a.Emoji,
			WeekID:              a.WeekID,
			ParticipantID:       a.ParticipantID,
			ParticipantName:     p.Name,
			CheckinID:           a.CheckinID,
			Tier:                evidence.Tier,
			TierLabel:           challenge.FormatTier(evidence.Tier),
			Outcome:             medal.Classify(a, ownerOf),
			StolenFromCheckinID: a.StealFromCheckinID,
			CreatedAt:           a.CreatedAt,
		}
		if a.StealFromCheckinID != nil {
			if owner, ok := ownerOf(*a.StealFromCheckinID); ok {
				prev, _ := snap.Participant(owner)
				e.StolenFromName = prev.Name
			}
		}
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].AwardID < out[j].AwardID
	})
	return out, nil
}

func inWeek(a medal.MedalAward, evidence challenge.Checkin, known bool, weekID int64) bool {
	if a.WeekID != nil {
		return *a.WeekID == weekID
	}
	return known && evidence.WeekID == weekID
}
