package medal

import (
	"fmt"
	"time"
)

// ScopeInstance is the concrete (challenge, week) or (challenge) an
// achievement is evaluated against. WeekID is zero for challenge scope.
type ScopeInstance struct {
	ChallengeID int64
	WeekID      int64
}

func (s ScopeInstance) String() string {
	if s.WeekID == 0 {
		return fmt.Sprintf("challenge:%d", s.ChallengeID)
	}
	return fmt.Sprintf("challenge:%d/week:%d", s.ChallengeID, s.WeekID)
}

// MedalAward is one ledger row. Rows are append-only: once stored they are
// never mutated or deleted.
type MedalAward struct {
	ID                 int64
	Kind               Kind
	ParticipantID      int64
	ChallengeID        int64
	WeekID             *int64 // nil for challenge-scope kinds
	CheckinID          int64  // evidence
	StealFromCheckinID *int64 // evidence of the superseded holder
	Emoji              string
	CreatedAt          time.Time
}

// IsSteal reports whether the row supersedes a prior holder.
func (a MedalAward) IsSteal() bool {
	return a.StealFromCheckinID != nil
}

// Instance returns the scope instance the row belongs to.
func (a MedalAward) Instance() ScopeInstance {
	s := ScopeInstance{ChallengeID: a.ChallengeID}
	if a.WeekID != nil {
		s.WeekID = *a.WeekID
	}
	return s
}

// newer reports whether a was written after b: later created-at, then higher id.
func newer(a, b MedalAward) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func int64Ptr(v int64) *int64 {
	return &v
}
