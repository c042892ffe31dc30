package medal

import "github.com/fitness-challenge/medal-engine/internal/domain/shared"

// Classify tells how a row changed hands. ownerOf resolves the participant of
// a check-in; when the superseded check-in is unknown the row counts as a
// steal from someone else.
func Classify(a MedalAward, ownerOf func(checkinID int64) (int64, bool)) shared.AwardOutcome {
	if a.StealFromCheckinID == nil {
		return shared.OutcomeEarned
	}
	if owner, ok := ownerOf(*a.StealFromCheckinID); ok && owner == a.ParticipantID {
		return shared.OutcomeSurpassed
	}
	return shared.OutcomeStole
}
