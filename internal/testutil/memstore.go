package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/greyhelm/gamemaster/internal/game/session"
	"github.com/greyhelm/gamemaster/internal/storage/postgres"
)

// MemStore is an in-memory session and event store for unit tests. It
// mirrors the repository semantics: conditional updates fail with
// postgres.ErrVersionConflict on a version mismatch, and event sequence
// numbers are strictly increasing per session.
type MemStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*session.Session
	events   map[uuid.UUID][]*session.Event

	// FailNextUpdate forces the next ConditionalUpdate to report a
	// conflict, simulating a concurrent writer.
	FailNextUpdate bool
	// FailAppends makes every Append return an error.
	FailAppends bool
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[uuid.UUID]*session.Session),
		events:   make(map[uuid.UUID][]*session.Event),
	}
}

// Create inserts a session at version 1.
func (m *MemStore) Create(_ context.Context, s *session.Session) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now()
	stored := s.Clone()
	stored.Version = 1
	stored.StartedAt = now
	stored.LastActivity = now
	m.sessions[stored.ID] = stored
	return stored.Clone(), nil
}

// Get retrieves a session by id.
func (m *MemStore) Get(_ context.Context, id uuid.UUID) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, postgres.ErrSessionNotFound
	}
	return s.Clone(), nil
}

// ConditionalUpdate applies fields only when the stored version matches
// expectedVersion, then increments the version.
func (m *MemStore) ConditionalUpdate(_ context.Context, id uuid.UUID, fields session.Fields, expectedVersion int64) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, postgres.ErrSessionNotFound
	}
	if m.FailNextUpdate || s.Version != expectedVersion {
		m.FailNextUpdate = false
		return nil, fmt.Errorf("%w: expected version %d", postgres.ErrVersionConflict, expectedVersion)
	}

	next := s.Clone()
	next.Version++
	next.LastActivity = time.Now()
	if fields.Status != nil {
		next.Status = *fields.Status
	}
	if fields.NarrativeSummary != nil {
		next.NarrativeSummary = *fields.NarrativeSummary
	}
	if fields.CurrentLocation != nil {
		next.CurrentLocation = *fields.CurrentLocation
	}
	if fields.ActiveNPCsSet {
		next.ActiveNPCs = append([]session.NPC(nil), fields.ActiveNPCs...)
	}
	if fields.CombatSet {
		next.Combat = fields.Combat.Clone()
	}
	if fields.MapSet {
		next.Map = fields.Map.Clone()
	}
	if fields.EndedAtSet {
		next.EndedAt = fields.EndedAt
	}
	m.sessions[id] = next
	return next.Clone(), nil
}

// Append assigns the next sequence for the session and stores the event.
func (m *MemStore) Append(_ context.Context, draft session.EventDraft, sessionID uuid.UUID) (*session.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAppends {
		return nil, fmt.Errorf("append disabled")
	}
	ev := &session.Event{
		ID:        uuid.New(),
		SessionID: sessionID,
		Type:      draft.Type,
		ActorID:   draft.ActorID,
		ActorName: draft.ActorName,
		Content:   draft.Content,
		Citations: draft.Citations,
		Sequence:  int64(len(m.events[sessionID])) + 1,
		CreatedAt: time.Now(),
	}
	m.events[sessionID] = append(m.events[sessionID], ev)
	return ev, nil
}

// ListBySession returns all stored events for a session in sequence order.
func (m *MemStore) ListBySession(_ context.Context, sessionID uuid.UUID) ([]*session.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]*session.Event(nil), m.events[sessionID]...), nil
}

// ListBySessionSince returns events with a sequence greater than
// afterSequence, in sequence order.
func (m *MemStore) ListBySessionSince(_ context.Context, sessionID uuid.UUID, afterSequence int64) ([]*session.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*session.Event
	for _, ev := range m.events[sessionID] {
		if ev.Sequence > afterSequence {
			out = append(out, ev)
		}
	}
	return out, nil
}

// EventTypes returns the types of all events recorded for a session, in
// order. Convenience for assertions.
func (m *MemStore) EventTypes(sessionID uuid.UUID) []session.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()

	types := make([]session.EventType, 0, len(m.events[sessionID]))
	for _, ev := range m.events[sessionID] {
		types = append(types, ev.Type)
	}
	return types
}
