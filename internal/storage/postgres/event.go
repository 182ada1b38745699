package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/greyhelm/gamemaster/internal/game/session"
)

const eventColumns = `id, session_id, event_type, actor_id, actor_name,
	content, citations, sequence, created_at`

// EventRepository provides append-only persistence for the per-session
// event log. Events are never updated or deleted.
type EventRepository struct {
	db *pgxpool.Pool
}

// NewEventRepository creates an EventRepository backed by the given pool.
func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

// Append inserts an event with the next sequence number for its session.
// The sequence is assigned in SQL so two concurrent appends cannot both
// read the same max; the unique index on (session_id, sequence) catches
// the remaining race and the insert is retried once.
//
// Invariant: sequence numbers within a session are strictly increasing
// with no reuse.
func (r *EventRepository) Append(ctx context.Context, draft session.EventDraft, sessionID uuid.UUID) (*session.Event, error) {
	if !draft.Type.Valid() {
		return nil, fmt.Errorf("invalid event type %q", draft.Type)
	}
	content, citations, err := marshalEventPayload(draft)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		row := r.db.QueryRow(ctx, `
			INSERT INTO session_events
				(id, session_id, event_type, actor_id, actor_name,
				 content, citations, sequence, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7,
				(SELECT COALESCE(MAX(sequence), 0) + 1
				   FROM session_events WHERE session_id = $2),
				now())
			RETURNING `+eventColumns,
			id, sessionID, string(draft.Type), draft.ActorID, draft.ActorName,
			content, citations,
		)
		ev, err := scanEvent(row)
		if err == nil {
			return ev, nil
		}
		if !isUniqueViolation(err) {
			return nil, fmt.Errorf("inserting event: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("inserting event after retry: %w", lastErr)
}

// ListBySession returns all events for a session in sequence order.
func (r *EventRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*session.Event, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+eventColumns+` FROM session_events
		 WHERE session_id = $1 ORDER BY sequence ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	events := make([]*session.Event, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ListBySessionSince returns events with sequence strictly greater than
// afterSequence, in sequence order. Used for incremental timeline reads.
func (r *EventRepository) ListBySessionSince(ctx context.Context, sessionID uuid.UUID, afterSequence int64) ([]*session.Event, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+eventColumns+` FROM session_events
		 WHERE session_id = $1 AND sequence > $2 ORDER BY sequence ASC`,
		sessionID, afterSequence)
	if err != nil {
		return nil, fmt.Errorf("listing events since %d: %w", afterSequence, err)
	}
	defer rows.Close()

	events := make([]*session.Event, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanEvent(row rowScanner) (*session.Event, error) {
	var (
		ev            session.Event
		typeStr       string
		contentBlob   []byte
		citationsBlob []byte
	)
	err := row.Scan(
		&ev.ID, &ev.SessionID, &typeStr, &ev.ActorID, &ev.ActorName,
		&contentBlob, &citationsBlob, &ev.Sequence, &ev.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	ev.Type = session.EventType(typeStr)

	if len(contentBlob) > 0 {
		if err := json.Unmarshal(contentBlob, &ev.Content); err != nil {
			return nil, fmt.Errorf("unmarshalling event content: %w", err)
		}
	}
	if len(citationsBlob) > 0 {
		if err := json.Unmarshal(citationsBlob, &ev.Citations); err != nil {
			return nil, fmt.Errorf("unmarshalling event citations: %w", err)
		}
	}
	return &ev, nil
}

func marshalEventPayload(draft session.EventDraft) ([]byte, []byte, error) {
	content := draft.Content
	if content == nil {
		content = map[string]any{}
	}
	contentBlob, err := json.Marshal(content)
	if err != nil {
		return nil, nil, fmt.Errorf("marshalling event content: %w", err)
	}
	citations := draft.Citations
	if citations == nil {
		citations = []session.Citation{}
	}
	citationsBlob, err := json.Marshal(citations)
	if err != nil {
		return nil, nil, fmt.Errorf("marshalling event citations: %w", err)
	}
	return contentBlob, citationsBlob, nil
}
