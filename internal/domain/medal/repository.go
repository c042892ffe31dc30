package medal

import (
	"context"

	"github.com/fitness-challenge/medal-engine/internal/domain/challenge"
)

// Ledger is the append-only award log.
type Ledger interface {
	// AppendIfAbsent stores award unless a row with the same
	// (kind, participant, checkin) already exists. On insert the award's ID and
	// CreatedAt are filled in. A duplicate is not an error: it returns false.
	AppendIfAbsent(ctx context.Context, award *MedalAward) (inserted bool, err error)

	// ReadLedger returns every row of a challenge ordered by created-at, then id.
	ReadLedger(ctx context.Context, challengeID int64) ([]MedalAward, error)

	// ReadWeekLedger returns the rows of one week ordered by created-at, then id.
	ReadWeekLedger(ctx context.Context, weekID int64) ([]MedalAward, error)
}

// Tx is the view of storage inside one reconciliation transaction.
type Tx interface {
	challenge.Source
	Ledger
}

// Store gives non-transactional ledger reads and the atomic write path.
type Store interface {
	Ledger

	// Atomically runs fn in a transaction that excludes every other
	// reconciliation of challengeID. Either everything fn appended commits or
	// nothing does. Serialization conflicts surface as
	// shared.ErrConcurrentModification so the caller can retry.
	Atomically(ctx context.Context, challengeID int64, fn func(ctx context.Context, tx Tx) error) error
}
