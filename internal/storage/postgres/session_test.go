package postgres_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greyhelm/gamemaster/internal/game/session"
	pgstore "github.com/greyhelm/gamemaster/internal/storage/postgres"
	"github.com/greyhelm/gamemaster/internal/testutil"
)

func sessionRepo(t *testing.T) *pgstore.SessionRepository {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	pc := testutil.NewPostgresContainer(t)
	pc.ApplyMigrations(t)
	return pgstore.NewSessionRepository(pc.RawPool)
}

func newSession() *session.Session {
	return &session.Session{
		CampaignID:      uuid.New(),
		Status:          session.StatusActive,
		CurrentLocation: "The Gilded Stag",
	}
}

func TestSessionRepository_CreateAndGet(t *testing.T) {
	repo := sessionRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, newSession())
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)
	assert.False(t, created.StartedAt.IsZero())
	assert.Nil(t, created.EndedAt)

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, created.CampaignID, got.CampaignID)
	assert.Equal(t, session.StatusActive, got.Status)
	assert.Equal(t, "The Gilded Stag", got.CurrentLocation)
	assert.Nil(t, got.Combat)
	assert.Nil(t, got.Map)
}

func TestSessionRepository_GetMissing(t *testing.T) {
	repo := sessionRepo(t)

	_, err := repo.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, pgstore.ErrSessionNotFound)
}

func TestSessionRepository_ConditionalUpdate(t *testing.T) {
	repo := sessionRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, newSession())
	require.NoError(t, err)

	summary := "The party crossed the ford."
	updated, err := repo.ConditionalUpdate(ctx, created.ID,
		session.Fields{NarrativeSummary: &summary}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, summary, updated.NarrativeSummary)

	// The stale version must now conflict, distinctly from not-found.
	_, err = repo.ConditionalUpdate(ctx, created.ID,
		session.Fields{NarrativeSummary: &summary}, 1)
	assert.ErrorIs(t, err, pgstore.ErrVersionConflict)

	_, err = repo.ConditionalUpdate(ctx, uuid.New(),
		session.Fields{NarrativeSummary: &summary}, 1)
	assert.ErrorIs(t, err, pgstore.ErrSessionNotFound)
}

func TestSessionRepository_CombatStateRoundTrip(t *testing.T) {
	repo := sessionRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, newSession())
	require.NoError(t, err)

	cs := &session.CombatState{
		Active: true,
		Round:  1,
		InitiativeOrder: []session.InitiativeEntry{
			{CombatantID: "pc-1", Name: "Sera", Type: session.CombatantPlayer, Initiative: 18},
			{CombatantID: "npc-1", Name: "Goblin", Type: session.CombatantNPC, Initiative: 12},
		},
		Combatants: []session.Combatant{
			{ID: "pc-1", Name: "Sera", Type: session.CombatantPlayer, CurrentHP: 14, MaxHP: 14, IsActive: true},
			{ID: "npc-1", Name: "Goblin", Type: session.CombatantNPC, CurrentHP: 7, MaxHP: 7, IsActive: true, Conditions: []string{"prone"}},
		},
	}
	updated, err := repo.ConditionalUpdate(ctx, created.ID,
		session.Fields{Combat: cs, CombatSet: true}, 1)
	require.NoError(t, err)
	require.NotNil(t, updated.Combat)
	assert.Equal(t, cs, updated.Combat)

	// Clearing combat persists a NULL, not an empty object.
	cleared, err := repo.ConditionalUpdate(ctx, created.ID,
		session.Fields{CombatSet: true}, 2)
	require.NoError(t, err)
	assert.Nil(t, cleared.Combat)

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Combat)
}

func TestSessionRepository_ConcurrentWritersExactlyOneWins(t *testing.T) {
	repo := sessionRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, newSession())
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			loc := "contested"
			_, errs[i] = repo.ConditionalUpdate(ctx, created.ID,
				session.Fields{CurrentLocation: &loc}, 1)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.True(t, errors.Is(err, pgstore.ErrVersionConflict),
				"losers must see a version conflict, got %v", err)
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent writer may win a version")

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func TestSessionRepository_ListByCampaign(t *testing.T) {
	repo := sessionRepo(t)
	ctx := context.Background()

	campaign := uuid.New()
	for i := 0; i < 3; i++ {
		s := newSession()
		s.CampaignID = campaign
		_, err := repo.Create(ctx, s)
		require.NoError(t, err)
	}
	_, err := repo.Create(ctx, newSession())
	require.NoError(t, err)

	sessions, err := repo.ListByCampaign(ctx, campaign)
	require.NoError(t, err)
	assert.Len(t, sessions, 3)
}
