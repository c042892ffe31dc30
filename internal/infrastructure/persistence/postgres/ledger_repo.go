package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fitness-challenge/medal-engine/internal/domain/medal"
)

// ══════════════════════════════════════════════════════════════════════════════
// MEDAL LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// LedgerRepository implements medal.Ledger on the medals table.
type LedgerRepository struct {
	q Querier
}

// NewLedgerRepository creates a ledger on the connection pool.
func NewLedgerRepository(conn *Connection) *LedgerRepository {
	return &LedgerRepository{q: conn}
}

const medalColumns = `id, kind, participant_id, challenge_id, week_id, checkin_id, steal_from_checkin_id, emoji, created_at`

// AppendIfAbsent inserts award unless (kind, participant, checkin) exists.
func (r *LedgerRepository) AppendIfAbsent(ctx context.Context, award *medal.MedalAward) (bool, error) {
	err := r.q.QueryRow(ctx, `
		INSERT INTO medals (kind, participant_id, challenge_id, week_id, checkin_id, steal_from_checkin_id, emoji)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (kind, participant_id, checkin_id) DO NOTHING
		RETURNING id, created_at
	`,
		string(award.Kind),
		award.ParticipantID,
		award.ChallengeID,
		award.WeekID,
		award.CheckinID,
		award.StealFromCheckinID,
		award.Emoji,
	).Scan(&award.ID, &award.CreatedAt)
	if IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, mapError("AppendIfAbsent", err)
	}
	return true, nil
}

// ReadLedger returns every row of a challenge ordered by created-at, then id.
func (r *LedgerRepository) ReadLedger(ctx context.Context, challengeID int64) ([]medal.MedalAward, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+medalColumns+`
		FROM medals
		WHERE challenge_id = $1
		ORDER BY created_at, id
	`, challengeID)
	if err != nil {
		return nil, mapError("ReadLedger", err)
	}
	return collectAwards(rows)
}

// ReadWeekLedger returns the rows of one week ordered by created-at, then id.
func (r *LedgerRepository) ReadWeekLedger(ctx context.Context, weekID int64) ([]medal.MedalAward, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+medalColumns+`
		FROM medals
		WHERE week_id = $1
		ORDER BY created_at, id
	`, weekID)
	if err != nil {
		return nil, mapError("ReadWeekLedger", err)
	}
	return collectAwards(rows)
}

func collectAwards(rows pgx.Rows) ([]medal.MedalAward, error) {
	defer rows.Close()

	var out []medal.MedalAward
	for rows.Next() {
		var (
			a    medal.MedalAward
			kind string
		)
		if err := rows.Scan(
			&a.ID, &kind, &a.ParticipantID, &a.ChallengeID, &a.WeekID,
			&a.CheckinID, &a.StealFromCheckinID, &a.Emoji, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan medal: %w", err)
		}
		a.Kind = medal.Kind(kind)
		out = append(out, a)
	}
	return out, mapError("ReadLedger", rows.Err())
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE (atomic reconciliation path)
// ══════════════════════════════════════════════════════════════════════════════

// MedalStore implements medal.Store.
type MedalStore struct {
	*LedgerRepository
	conn *Connection
}

// NewMedalStore creates a MedalStore.
func NewMedalStore(conn *Connection) *MedalStore {
	return &MedalStore{LedgerRepository: NewLedgerRepository(conn), conn: conn}
}

// txView exposes one transaction as medal.Tx.
type txView struct {
	*ChallengeRepository
	*LedgerRepository
}

// Atomically runs fn in a SERIALIZABLE transaction holding the challenge's
// transaction-scoped advisory lock. Serialization failures, including those
// raised at commit, come back as shared.ErrConcurrentModification.
func (s *MedalStore) Atomically(ctx context.Context, challengeID int64, fn func(ctx context.Context, tx medal.Tx) error) error {
	err := s.conn.WithTx(ctx, serializable, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, challengeID); err != nil {
			return fmt.Errorf("advisory lock for challenge %d: %w", challengeID, err)
		}
		return fn(ctx, txView{
			ChallengeRepository: &ChallengeRepository{q: tx},
			LedgerRepository:    &LedgerRepository{q: tx},
		})
	})
	if err != nil && IsSerializationFailure(err) {
		return mapError("Atomically", err)
	}
	return err
}
