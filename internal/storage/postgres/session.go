package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/greyhelm/gamemaster/internal/game/session"
)

// ErrSessionNotFound is returned when a session lookup yields no results.
var ErrSessionNotFound = errors.New("session not found")

// ErrVersionConflict is returned when a conditional update loses the race:
// another writer committed against the expected version first. The caller
// must re-read and retry or surface the conflict; the repository never
// retries internally.
var ErrVersionConflict = errors.New("session version conflict")

const sessionColumns = `id, campaign_id, status, version, narrative_summary,
	current_location, active_npcs, combat_state, map_state,
	started_at, ended_at, last_activity`

// SessionRepository provides session persistence with compare-and-swap
// update semantics.
type SessionRepository struct {
	db *pgxpool.Pool
}

// NewSessionRepository creates a SessionRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewSessionRepository(db *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session at version 1 and returns it with timestamps
// set. A zero s.ID is assigned a fresh UUID.
//
// Precondition: s.CampaignID must be non-zero; s.Status must be valid.
func (r *SessionRepository) Create(ctx context.Context, s *session.Session) (*session.Session, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	npcs, combat, mapState, err := marshalSubState(s.ActiveNPCs, s.Combat, s.Map)
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO sessions
			(id, campaign_id, status, version, narrative_summary, current_location,
			 active_npcs, combat_state, map_state, started_at, last_activity)
		VALUES ($1, $2, $3, 1, $4, $5, $6, $7, $8, now(), now())
		RETURNING `+sessionColumns,
		s.ID, s.CampaignID, string(s.Status), s.NarrativeSummary, s.CurrentLocation,
		npcs, combat, mapState,
	)
	out, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}
	return out, nil
}

// Get retrieves a session by id.
//
// Postcondition: Returns the Session or ErrSessionNotFound.
func (r *SessionRepository) Get(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	out, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting session: %w", err)
	}
	return out, nil
}

// ListByCampaign returns all sessions for a campaign, most recent first.
func (r *SessionRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*session.Session, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE campaign_id = $1 ORDER BY started_at DESC`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]*session.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// ConditionalUpdate is the single atomic write path for sessions. It issues
// one UPDATE guarded by the expected version — never read-then-write — so
// the check and the write cannot race. On success the stored version is
// expectedVersion+1 and last_activity is refreshed. On mismatch it returns
// ErrVersionConflict (distinct from ErrSessionNotFound) without retrying.
//
// Precondition: fields must not be empty (the caller avoids burning a
// version increment on a no-op).
func (r *SessionRepository) ConditionalUpdate(ctx context.Context, id uuid.UUID, fields session.Fields, expectedVersion int64) (*session.Session, error) {
	if fields.Empty() {
		return nil, errors.New("conditional update with empty field set")
	}

	set := []string{"version = version + 1", "last_activity = now()"}
	args := []any{id, expectedVersion}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if fields.Status != nil {
		set = append(set, "status = "+next(string(*fields.Status)))
	}
	if fields.NarrativeSummary != nil {
		set = append(set, "narrative_summary = "+next(*fields.NarrativeSummary))
	}
	if fields.CurrentLocation != nil {
		set = append(set, "current_location = "+next(*fields.CurrentLocation))
	}
	if fields.ActiveNPCsSet {
		npcs, err := json.Marshal(fields.ActiveNPCs)
		if err != nil {
			return nil, fmt.Errorf("marshalling active npcs: %w", err)
		}
		set = append(set, "active_npcs = "+next(npcs))
	}
	if fields.CombatSet {
		blob, err := marshalNullable(fields.Combat)
		if err != nil {
			return nil, fmt.Errorf("marshalling combat state: %w", err)
		}
		set = append(set, "combat_state = "+next(blob))
	}
	if fields.MapSet {
		blob, err := marshalNullable(fields.Map)
		if err != nil {
			return nil, fmt.Errorf("marshalling map state: %w", err)
		}
		set = append(set, "map_state = "+next(blob))
	}
	if fields.EndedAtSet {
		set = append(set, "ended_at = "+next(fields.EndedAt))
	}

	query := fmt.Sprintf(
		`UPDATE sessions SET %s WHERE id = $1 AND version = $2 RETURNING %s`,
		strings.Join(set, ", "), sessionColumns,
	)
	row := r.db.QueryRow(ctx, query, args...)
	out, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Zero rows means either the session is gone or the version moved.
		var exists bool
		if probeErr := r.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, id,
		).Scan(&exists); probeErr != nil {
			return nil, fmt.Errorf("probing session after conflict: %w", probeErr)
		}
		if !exists {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: expected version %d", ErrVersionConflict, expectedVersion)
	}
	if err != nil {
		return nil, fmt.Errorf("updating session: %w", err)
	}
	return out, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*session.Session, error) {
	var (
		s         session.Session
		npcsBlob  []byte
		combat    []byte
		mapBlob   []byte
		endedAt   *time.Time
		statusStr string
	)
	err := row.Scan(
		&s.ID, &s.CampaignID, &statusStr, &s.Version, &s.NarrativeSummary,
		&s.CurrentLocation, &npcsBlob, &combat, &mapBlob,
		&s.StartedAt, &endedAt, &s.LastActivity,
	)
	if err != nil {
		return nil, err
	}
	s.Status = session.Status(statusStr)
	s.EndedAt = endedAt

	if len(npcsBlob) > 0 {
		if err := json.Unmarshal(npcsBlob, &s.ActiveNPCs); err != nil {
			return nil, fmt.Errorf("unmarshalling active npcs: %w", err)
		}
	}
	if len(combat) > 0 {
		s.Combat = &session.CombatState{}
		if err := json.Unmarshal(combat, s.Combat); err != nil {
			return nil, fmt.Errorf("unmarshalling combat state: %w", err)
		}
	}
	if len(mapBlob) > 0 {
		s.Map = &session.MapState{}
		if err := json.Unmarshal(mapBlob, s.Map); err != nil {
			return nil, fmt.Errorf("unmarshalling map state: %w", err)
		}
	}
	return &s, nil
}

// marshalNullable marshals v to JSON, mapping a nil pointer to SQL NULL.
func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func marshalSubState(npcs []session.NPC, combat *session.CombatState, m *session.MapState) ([]byte, []byte, []byte, error) {
	if npcs == nil {
		npcs = []session.NPC{}
	}
	npcsBlob, err := json.Marshal(npcs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshalling active npcs: %w", err)
	}
	combatBlob, err := marshalNullable(combat)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshalling combat state: %w", err)
	}
	mapBlob, err := marshalNullable(m)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshalling map state: %w", err)
	}
	return npcsBlob, combatBlob, mapBlob, nil
}
