//go:build integration

package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/fitness-challenge/medal-engine/internal/application/command"
	"github.com/fitness-challenge/medal-engine/internal/domain/challenge"
	"github.com/fitness-challenge/medal-engine/internal/domain/medal"
	"github.com/fitness-challenge/medal-engine/internal/domain/shared"
	"github.com/fitness-challenge/medal-engine/pkg/logger"
)

func setupDB(t *testing.T) *Connection {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("medals"),
		tcpostgres.WithUsername("medals"),
		tcpostgres.WithPassword("medals"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	conn, err := NewConnectionFromURL(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	applied, err := NewMigrator(conn).Migrate(ctx)
	require.NoError(t, err)
	require.Len(t, applied, len(Migrations()))

	again, err := NewMigrator(conn).Migrate(ctx)
	require.NoError(t, err)
	require.Empty(t, again)
	return conn
}

type seeded struct {
	challenge challenge.Challenge
	weeks     []challenge.Week
	ann, bob  challenge.Participant
}

func seed(t *testing.T, conn *Connection) seeded {
	t.Helper()
	ctx := context.Background()
	repo := NewChallengeRepository(conn)

	start := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	s := seeded{challenge: challenge.Challenge{Name: "winter", Start: start, End: start.AddDate(0, 0, 13)}}
	s.weeks = []challenge.Week{
		{Index: 1, Start: start, End: start.AddDate(0, 0, 6)},
		{Index: 2, Start: start.AddDate(0, 0, 7), End: start.AddDate(0, 0, 13)},
	}
	require.NoError(t, repo.CreateChallenge(ctx, &s.challenge, s.weeks))

	s.ann = challenge.Participant{Name: "ann", Handle: "@ann", Timezone: "UTC"}
	s.bob = challenge.Participant{Name: "bob", Handle: "@bob", Timezone: "America/Los_Angeles"}
	require.NoError(t, repo.CreateParticipant(ctx, &s.ann, s.challenge.ID))
	require.NoError(t, repo.CreateParticipant(ctx, &s.bob, s.challenge.ID))
	return s
}

func (s seeded) checkin(t *testing.T, conn *Connection, p challenge.Participant, tier int, at time.Time) int64 {
	t.Helper()
	c := challenge.Checkin{ParticipantID: p.ID, WeekID: s.weeks[0].ID, Tier: tier, At: at}
	require.NoError(t, NewChallengeRepository(conn).RecordCheckin(context.Background(), &c))
	return c.ID
}

func TestLedger_AppendIfAbsent(t *testing.T) {
	conn := setupDB(t)
	s := seed(t, conn)
	ctx := context.Background()
	ci := s.checkin(t, conn, s.ann, 3, time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC))

	ledger := NewLedgerRepository(conn)
	week := s.weeks[0].ID
	award := medal.MedalAward{
		Kind: medal.KindHighestTierWeek, ParticipantID: s.ann.ID, ChallengeID: s.challenge.ID,
		WeekID: &week, CheckinID: ci, Emoji: "💪",
	}

	first := award
	inserted, err := ledger.AppendIfAbsent(ctx, &first)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotZero(t, first.ID)
	assert.False(t, first.CreatedAt.IsZero())

	dup := award
	inserted, err = ledger.AppendIfAbsent(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	rows, err := ledger.ReadWeekLedger(ctx, week)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, first.ID, rows[0].ID)
	assert.Nil(t, rows[0].StealFromCheckinID)

	_, err = conn.Exec(ctx, `DELETE FROM medals WHERE id = $1`, first.ID)
	assert.Error(t, err, "ledger must reject deletes")
}

func TestLedger_ReconcileEndToEnd(t *testing.T) {
	conn := setupDB(t)
	s := seed(t, conn)
	ctx := context.Background()

	s.checkin(t, conn, s.ann, 3, time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC))
	// 06:00 in Los Angeles.
	bobCheckin := s.checkin(t, conn, s.bob, 5, time.Date(2025, 1, 7, 14, 0, 0, 0, time.UTC))

	store := NewMedalStore(conn)
	h := command.NewReconcileMedalsHandler(store, medal.DefaultCatalog(), nil, nil, nil, nil, logger.Nop(),
		command.DefaultReconcileMedalsHandlerConfig())

	res, err := h.Handle(ctx, command.ReconcileMedalsCommand{ChallengeID: s.challenge.ID, WeekID: s.weeks[0].ID, TriggerCheckinID: bobCheckin})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Appended)

	again, err := h.Handle(ctx, command.ReconcileMedalsCommand{ChallengeID: s.challenge.ID, WeekID: s.weeks[0].ID})
	require.NoError(t, err)
	assert.Empty(t, again.Appended)

	rows, err := store.ReadLedger(ctx, s.challenge.ID)
	require.NoError(t, err)
	assert.Len(t, rows, len(res.Appended))

	holders := medal.NewResolver(medal.DefaultCatalog()).Resolve(rows, s.weeks)
	byKind := make(map[medal.Kind]int64)
	for _, hd := range holders {
		byKind[hd.Rule.Kind] = hd.Award.ParticipantID
	}
	assert.Equal(t, s.bob.ID, byKind[medal.KindHighestTierWeek])
	assert.Equal(t, s.bob.ID, byKind[medal.KindEarliestForWeek])
	assert.Equal(t, s.ann.ID, byKind[medal.KindLatestForWeek])
}

func TestChallengeRepo_CheckinKeepsRecordedZone(t *testing.T) {
	conn := setupDB(t)
	s := seed(t, conn)
	ctx := context.Background()
	repo := NewChallengeRepository(conn)

	// 05:00 in Los Angeles; 22:00 in Tokyo.
	early := s.checkin(t, conn, s.bob, 2, time.Date(2025, 1, 7, 13, 0, 0, 0, time.UTC))
	s.checkin(t, conn, s.ann, 2, time.Date(2025, 1, 7, 6, 0, 0, 0, time.UTC))

	h := command.NewReconcileMedalsHandler(NewMedalStore(conn), medal.DefaultCatalog(), nil, nil, nil, nil, logger.Nop(),
		command.DefaultReconcileMedalsHandlerConfig())
	_, err := h.Handle(ctx, command.ReconcileMedalsCommand{ChallengeID: s.challenge.ID, WeekID: s.weeks[0].ID})
	require.NoError(t, err)

	_, err = conn.Exec(ctx, `UPDATE participants SET timezone = 'Asia/Tokyo' WHERE id = $1`, s.bob.ID)
	require.NoError(t, err)

	checkins, err := repo.ListCheckins(ctx, s.challenge.ID)
	require.NoError(t, err)
	for _, c := range checkins {
		if c.ID == early {
			assert.Equal(t, "America/Los_Angeles", c.Timezone)
		}
	}

	again, err := h.Handle(ctx, command.ReconcileMedalsCommand{ChallengeID: s.challenge.ID, WeekID: s.weeks[0].ID})
	require.NoError(t, err)
	assert.Empty(t, again.Appended, "a zone change must not re-date earlier check-ins")

	later := challenge.Checkin{ParticipantID: s.bob.ID, WeekID: s.weeks[0].ID, Tier: 1, At: time.Date(2025, 1, 8, 1, 0, 0, 0, time.UTC)}
	require.NoError(t, repo.RecordCheckin(ctx, &later))
	assert.Equal(t, "Asia/Tokyo", later.Timezone)

	// A writer that sends its own zone keeps it.
	explicit := challenge.Checkin{ParticipantID: s.ann.ID, WeekID: s.weeks[0].ID, Tier: 1, At: time.Date(2025, 1, 8, 1, 0, 0, 0, time.UTC), Timezone: "Europe/Berlin"}
	require.NoError(t, repo.RecordCheckin(ctx, &explicit))
	assert.Equal(t, "Europe/Berlin", explicit.Timezone)

	orphan := challenge.Checkin{ParticipantID: 9999, WeekID: s.weeks[0].ID, Tier: 1, At: time.Now()}
	assert.ErrorIs(t, repo.RecordCheckin(ctx, &orphan), shared.ErrParticipantNotFound)
}

func TestLedger_ConcurrentReconcilesDoNotDuplicate(t *testing.T) {
	conn := setupDB(t)
	s := seed(t, conn)
	ctx := context.Background()
	s.checkin(t, conn, s.ann, 3, time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC))
	s.checkin(t, conn, s.bob, 4, time.Date(2025, 1, 7, 20, 0, 0, 0, time.UTC))

	store := NewMedalStore(conn)
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Separate handlers: only the database serializes them.
			h := command.NewReconcileMedalsHandler(store, medal.DefaultCatalog(), nil, nil, nil, nil, logger.Nop(),
				command.ReconcileMedalsHandlerConfig{MaxAttempts: 10})
			_, errs[i] = h.Handle(ctx, command.ReconcileMedalsCommand{ChallengeID: s.challenge.ID, WeekID: s.weeks[0].ID})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	rows, err := store.ReadLedger(ctx, s.challenge.ID)
	require.NoError(t, err)
	seen := make(map[medal.Kind]int)
	for _, r := range rows {
		seen[r.Kind]++
	}
	for kind, n := range seen {
		assert.Equal(t, 1, n, "kind %s appended more than once", kind)
	}
}

func TestPoints_TotalPoints(t *testing.T) {
	conn := setupDB(t)
	s := seed(t, conn)
	ctx := context.Background()

	points := NewPointsRepository(conn)
	require.NoError(t, points.SetPoints(ctx, s.challenge.ID, s.ann.ID, 61.5))
	require.NoError(t, points.SetPoints(ctx, s.challenge.ID, s.bob.ID, 40))
	require.NoError(t, points.SetPoints(ctx, s.challenge.ID, s.bob.ID, 52))

	got, err := points.TotalPoints(ctx, s.challenge.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"ann": 61.5, "bob": 52}, got)
}
