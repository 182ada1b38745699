// Package engine coordinates session state transitions. The Coordinator is
// the only component that writes session state: every operation reads a
// snapshot, runs a pure transform, performs at most one conditional write
// against the snapshot's version, and appends timeline events only after
// the write commits. The engine holds no state between calls, so any number
// of workers may share one Coordinator without locks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/greyhelm/gamemaster/internal/game/combat"
	"github.com/greyhelm/gamemaster/internal/game/dice"
	"github.com/greyhelm/gamemaster/internal/game/session"
	"github.com/greyhelm/gamemaster/internal/game/state"
	"github.com/greyhelm/gamemaster/internal/narrator"
	"github.com/greyhelm/gamemaster/internal/storage/postgres"
)

// ErrCombatActive is returned when combat is started while an encounter is
// already running.
var ErrCombatActive = errors.New("combat already in progress")

// ErrSessionEnded is returned for mutations against an ended session.
var ErrSessionEnded = errors.New("session already ended")

// ErrNarratorDisabled is returned by PlayTurn when no narrator is
// configured.
var ErrNarratorDisabled = errors.New("no narrator configured")

// SessionStore is the persistence surface the coordinator needs for
// sessions. ConditionalUpdate must signal a version conflict distinctly
// from not-found and must never retry internally.
type SessionStore interface {
	Create(ctx context.Context, s *session.Session) (*session.Session, error)
	Get(ctx context.Context, id uuid.UUID) (*session.Session, error)
	ConditionalUpdate(ctx context.Context, id uuid.UUID, fields session.Fields, expectedVersion int64) (*session.Session, error)
}

// EventStore is the append-only timeline surface.
type EventStore interface {
	Append(ctx context.Context, draft session.EventDraft, sessionID uuid.UUID) (*session.Event, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*session.Event, error)
	ListBySessionSince(ctx context.Context, sessionID uuid.UUID, afterSequence int64) ([]*session.Event, error)
}

// Coordinator orchestrates read, pure transform, conditional write, and
// event append for every session operation.
type Coordinator struct {
	sessions SessionStore
	events   EventStore
	applier  *state.Applier
	roller   *dice.Roller
	narrator narrator.Narrator
	logger   *zap.Logger
}

// NewCoordinator creates a Coordinator. nar may be nil; PlayTurn then
// returns ErrNarratorDisabled.
//
// Precondition: sessions, events, applier, roller, and logger must be
// non-nil.
func NewCoordinator(
	sessions SessionStore,
	events EventStore,
	applier *state.Applier,
	roller *dice.Roller,
	nar narrator.Narrator,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		sessions: sessions,
		events:   events,
		applier:  applier,
		roller:   roller,
		narrator: nar,
		logger:   logger,
	}
}

// CreateSession starts a new active session for a campaign and records a
// session_start event.
func (c *Coordinator) CreateSession(ctx context.Context, campaignID uuid.UUID, location string) (*session.Session, error) {
	created, err := c.sessions.Create(ctx, &session.Session{
		CampaignID:      campaignID,
		Status:          session.StatusActive,
		CurrentLocation: location,
	})
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	c.append(ctx, created.ID, session.EventDraft{
		Type:    session.EventSessionStart,
		Content: map[string]any{"campaign_id": campaignID.String(), "location": location},
	})
	return created, nil
}

// GetState returns the current session snapshot.
func (c *Coordinator) GetState(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	return c.sessions.Get(ctx, id)
}

// Timeline returns the session's events in sequence order. A positive
// afterSequence returns only events past that sequence, so clients can poll
// incrementally with the last sequence they saw.
func (c *Coordinator) Timeline(ctx context.Context, id uuid.UUID, afterSequence int64) ([]*session.Event, error) {
	if _, err := c.sessions.Get(ctx, id); err != nil {
		return nil, err
	}
	if afterSequence > 0 {
		return c.events.ListBySessionSince(ctx, id, afterSequence)
	}
	return c.events.ListBySession(ctx, id)
}

// ApplyStateChanges runs a delta batch against the current snapshot and,
// only if the batch changed any field, performs one conditional write using
// the snapshot's version. Conflicts are not retried here; re-reading and
// retrying is the caller's call.
func (c *Coordinator) ApplyStateChanges(ctx context.Context, id uuid.UUID, deltas []state.Delta) (*session.Session, error) {
	snapshot, err := c.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if snapshot.Status == session.StatusEnded {
		return nil, ErrSessionEnded
	}
	return c.applyToSnapshot(ctx, snapshot, deltas)
}

// ApplyOutcome is the result of TryApplyStateChanges. On conflict, Session
// holds the fresh snapshot so the caller can re-derive its deltas.
type ApplyOutcome struct {
	Applied  bool
	Conflict bool
	Session  *session.Session
	Message  string
}

// TryApplyStateChanges is the multiplayer-safe variant: the caller declares
// the version its deltas were derived from, and a stale declaration is
// reported as a conflict before any delta work happens.
func (c *Coordinator) TryApplyStateChanges(ctx context.Context, id uuid.UUID, deltas []state.Delta, expectedVersion int64) (ApplyOutcome, error) {
	snapshot, err := c.sessions.Get(ctx, id)
	if err != nil {
		return ApplyOutcome{}, err
	}
	if snapshot.Status == session.StatusEnded {
		return ApplyOutcome{}, ErrSessionEnded
	}
	if snapshot.Version != expectedVersion {
		return ApplyOutcome{
			Conflict: true,
			Session:  snapshot,
			Message: fmt.Sprintf("session moved from version %d to %d since you read it",
				expectedVersion, snapshot.Version),
		}, nil
	}

	updated, err := c.applyToSnapshot(ctx, snapshot, deltas)
	if isConflict(err) {
		// Lost a race in the window between the check and the write.
		fresh, getErr := c.sessions.Get(ctx, id)
		if getErr != nil {
			return ApplyOutcome{}, getErr
		}
		return ApplyOutcome{
			Conflict: true,
			Session:  fresh,
			Message:  "someone else changed this session, re-read and retry",
		}, nil
	}
	if err != nil {
		return ApplyOutcome{}, err
	}
	return ApplyOutcome{Applied: true, Session: updated}, nil
}

// applyToSnapshot is the shared delta path. Event-only deltas (inventory,
// custom) are recorded on the timeline even when no field changed; all
// other skips are logged and swallowed.
func (c *Coordinator) applyToSnapshot(ctx context.Context, snapshot *session.Session, deltas []state.Delta) (*session.Session, error) {
	changes, applied, skipped := c.applier.Apply(snapshot, deltas)

	var recorded []state.Note
	for _, note := range skipped {
		if note.Kind.EventOnly() {
			recorded = append(recorded, note)
			continue
		}
		c.logger.Warn("skipped state delta",
			zap.String("session_id", snapshot.ID.String()),
			zap.String("kind", string(note.Kind)),
			zap.String("target", note.Target),
			zap.String("reason", note.Detail),
		)
	}

	result := snapshot
	if !changes.Empty() {
		updated, err := c.sessions.ConditionalUpdate(ctx, snapshot.ID, changes.Fields(), snapshot.Version)
		if err != nil {
			return nil, err
		}
		result = updated
	}

	if len(applied) > 0 || len(recorded) > 0 {
		c.append(ctx, snapshot.ID, session.EventDraft{
			Type: session.EventStateChange,
			Content: map[string]any{
				"applied":  noteContents(applied),
				"recorded": noteContents(recorded),
			},
		})
	}
	return result, nil
}

// CombatEntrant is one participant entering combat. A nil Initiative means
// the coordinator rolls d20 plus InitiativeBonus through the audited dice
// path, emitting a dice_roll event per rolled entrant.
type CombatEntrant struct {
	ID              string
	Name            string
	Type            session.CombatantType
	MaxHP           int
	CurrentHP       int
	Initiative      *int
	InitiativeBonus int
}

// StartCombat resolves initiative, builds the combat state, and commits it
// with one conditional write.
func (c *Coordinator) StartCombat(ctx context.Context, id uuid.UUID, entrants []CombatEntrant) (*session.Session, error) {
	snapshot, err := c.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if snapshot.Status == session.StatusEnded {
		return nil, ErrSessionEnded
	}
	if snapshot.InCombat() {
		return nil, ErrCombatActive
	}

	participants := make([]combat.Participant, len(entrants))
	var rollDrafts []session.EventDraft
	for i, e := range entrants {
		score := 0
		if e.Initiative != nil {
			score = *e.Initiative
		} else {
			result, err := c.roller.RollWithAdvantage(e.InitiativeBonus, dice.ModeNormal)
			if err != nil {
				return nil, fmt.Errorf("rolling initiative for %s: %w", e.Name, err)
			}
			score = result.Total
			draft := diceRollDraft(e.ID, e.Name, result)
			draft.Content["purpose"] = "initiative"
			rollDrafts = append(rollDrafts, draft)
		}
		participants[i] = combat.Participant{
			ID:         e.ID,
			Name:       e.Name,
			Type:       e.Type,
			Initiative: score,
			MaxHP:      e.MaxHP,
			CurrentHP:  e.CurrentHP,
		}
	}

	cs, drafts, err := combat.Start(participants)
	if err != nil {
		return nil, err
	}
	updated, err := c.sessions.ConditionalUpdate(ctx, id,
		session.Fields{Combat: cs, CombatSet: true}, snapshot.Version)
	if err != nil {
		return nil, err
	}
	c.append(ctx, id, rollDrafts...)
	c.append(ctx, id, drafts...)
	return updated, nil
}

// NextTurn advances the combat cursor and commits the new combat state.
func (c *Coordinator) NextTurn(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	snapshot, err := c.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if snapshot.Status == session.StatusEnded {
		return nil, ErrSessionEnded
	}
	next, drafts, err := combat.Next(snapshot.Combat)
	if err != nil {
		return nil, err
	}
	updated, err := c.sessions.ConditionalUpdate(ctx, id,
		session.Fields{Combat: next, CombatSet: true}, snapshot.Version)
	if err != nil {
		return nil, err
	}
	c.append(ctx, id, drafts...)
	return updated, nil
}

// EndCombat closes the encounter and clears combat state.
func (c *Coordinator) EndCombat(ctx context.Context, id uuid.UUID, outcome combat.Outcome, summary string) (*session.Session, error) {
	snapshot, err := c.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if snapshot.Status == session.StatusEnded {
		return nil, ErrSessionEnded
	}
	cleared, drafts, err := combat.End(snapshot.Combat, outcome, summary)
	if err != nil {
		return nil, err
	}
	updated, err := c.sessions.ConditionalUpdate(ctx, id,
		session.Fields{Combat: cleared, CombatSet: true}, snapshot.Version)
	if err != nil {
		return nil, err
	}
	c.append(ctx, id, drafts...)
	return updated, nil
}

// SetNarrativeSummary replaces the running story summary.
func (c *Coordinator) SetNarrativeSummary(ctx context.Context, id uuid.UUID, summary string) (*session.Session, error) {
	return c.setFields(ctx, id, session.Fields{NarrativeSummary: &summary})
}

// SetLocation replaces the party's current location.
func (c *Coordinator) SetLocation(ctx context.Context, id uuid.UUID, location string) (*session.Session, error) {
	return c.setFields(ctx, id, session.Fields{CurrentLocation: &location})
}

// SetActiveNPCs replaces the active NPC list.
func (c *Coordinator) SetActiveNPCs(ctx context.Context, id uuid.UUID, npcs []session.NPC) (*session.Session, error) {
	return c.setFields(ctx, id, session.Fields{ActiveNPCs: npcs, ActiveNPCsSet: true})
}

// UpdateMap replaces the battle map. A nil m clears it.
func (c *Coordinator) UpdateMap(ctx context.Context, id uuid.UUID, m *session.MapState) (*session.Session, error) {
	return c.setFields(ctx, id, session.Fields{Map: m, MapSet: true})
}

// setFields is the shared single-field mutator path: one read, one
// conditional write, no events.
func (c *Coordinator) setFields(ctx context.Context, id uuid.UUID, fields session.Fields) (*session.Session, error) {
	snapshot, err := c.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if snapshot.Status == session.StatusEnded {
		return nil, ErrSessionEnded
	}
	return c.sessions.ConditionalUpdate(ctx, id, fields, snapshot.Version)
}

// EndSession marks the session ended, stamps ended_at, and records a
// session_end event.
func (c *Coordinator) EndSession(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	snapshot, err := c.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if snapshot.Status == session.StatusEnded {
		return nil, ErrSessionEnded
	}

	ended := session.StatusEnded
	endedAt := time.Now()
	fields := session.Fields{
		Status:     &ended,
		EndedAt:    &endedAt,
		EndedAtSet: true,
	}
	// Ending the session abandons any encounter still in flight.
	if snapshot.InCombat() {
		fields.CombatSet = true
	}
	updated, err := c.sessions.ConditionalUpdate(ctx, id, fields, snapshot.Version)
	if err != nil {
		return nil, err
	}
	c.append(ctx, id, session.EventDraft{Type: session.EventSessionEnd})
	return updated, nil
}

// RecordPlayerAction appends a player_action event without touching session
// fields.
func (c *Coordinator) RecordPlayerAction(ctx context.Context, id uuid.UUID, actorID, actorName, text string) (*session.Event, error) {
	if _, err := c.sessions.Get(ctx, id); err != nil {
		return nil, err
	}
	return c.events.Append(ctx, session.EventDraft{
		Type:      session.EventPlayerAction,
		ActorID:   actorID,
		ActorName: actorName,
		Content:   map[string]any{"text": text},
	}, id)
}

// RecordNarration appends a narrator_response event.
func (c *Coordinator) RecordNarration(ctx context.Context, id uuid.UUID, narrative string, citations []session.Citation) (*session.Event, error) {
	if _, err := c.sessions.Get(ctx, id); err != nil {
		return nil, err
	}
	return c.events.Append(ctx, session.EventDraft{
		Type:      session.EventNarratorResponse,
		Content:   map[string]any{"narrative": narrative},
		Citations: citations,
	}, id)
}

// Roll rolls dice notation for an actor and records a dice_roll event.
func (c *Coordinator) Roll(ctx context.Context, id uuid.UUID, actorID, actorName, notation string) (dice.RollResult, error) {
	if _, err := c.sessions.Get(ctx, id); err != nil {
		return dice.RollResult{}, err
	}
	result, err := c.roller.Roll(notation)
	if err != nil {
		return dice.RollResult{}, err
	}
	c.append(ctx, id, diceRollDraft(actorID, actorName, result))
	return result, nil
}

// RollWithAdvantage rolls a d20 check in the given mode and records a
// dice_roll event.
func (c *Coordinator) RollWithAdvantage(ctx context.Context, id uuid.UUID, actorID, actorName string, bonus int, mode dice.Mode) (dice.RollResult, error) {
	if _, err := c.sessions.Get(ctx, id); err != nil {
		return dice.RollResult{}, err
	}
	result, err := c.roller.RollWithAdvantage(bonus, mode)
	if err != nil {
		return dice.RollResult{}, err
	}
	c.append(ctx, id, diceRollDraft(actorID, actorName, result))
	return result, nil
}

// ReconcilePlayerRoll validates a player-entered total against its notation
// and records a dice_roll event flagged player_entered.
func (c *Coordinator) ReconcilePlayerRoll(ctx context.Context, id uuid.UUID, actorID, actorName, notation string, declaredTotal int) (dice.RollResult, error) {
	if _, err := c.sessions.Get(ctx, id); err != nil {
		return dice.RollResult{}, err
	}
	result, err := c.roller.Reconcile(notation, declaredTotal)
	if err != nil {
		return dice.RollResult{}, err
	}
	c.append(ctx, id, diceRollDraft(actorID, actorName, result))
	return result, nil
}

// TurnResult is what PlayTurn produced for one player action.
type TurnResult struct {
	Narrative string
	Citations []session.Citation
	Session   *session.Session
}

// PlayTurn runs one full player turn: record the action, ask the narrator,
// apply its proposed deltas through the normal validation path, then record
// the narration.
func (c *Coordinator) PlayTurn(ctx context.Context, id uuid.UUID, actorID, actorName, action string) (TurnResult, error) {
	if c.narrator == nil {
		return TurnResult{}, ErrNarratorDisabled
	}
	snapshot, err := c.sessions.Get(ctx, id)
	if err != nil {
		return TurnResult{}, err
	}
	if snapshot.Status == session.StatusEnded {
		return TurnResult{}, ErrSessionEnded
	}

	if _, err := c.events.Append(ctx, session.EventDraft{
		Type:      session.EventPlayerAction,
		ActorID:   actorID,
		ActorName: actorName,
		Content:   map[string]any{"text": action},
	}, id); err != nil {
		c.logger.Warn("event append failed",
			zap.String("session_id", id.String()), zap.Error(err))
	}

	resp, err := c.narrator.Narrate(ctx, narrator.Request{
		SessionID:        snapshot.ID,
		NarrativeSummary: snapshot.NarrativeSummary,
		CurrentLocation:  snapshot.CurrentLocation,
		ActiveNPCs:       snapshot.ActiveNPCs,
		Combat:           snapshot.Combat,
		PlayerName:       actorName,
		Action:           action,
	})
	if err != nil {
		return TurnResult{}, fmt.Errorf("narrating player action: %w", err)
	}

	updated, err := c.applyToSnapshot(ctx, snapshot, resp.Deltas)
	if err != nil {
		return TurnResult{}, err
	}

	c.append(ctx, id, session.EventDraft{
		Type:      session.EventNarratorResponse,
		Content:   map[string]any{"narrative": resp.Narrative},
		Citations: resp.Citations,
	})
	return TurnResult{
		Narrative: resp.Narrative,
		Citations: resp.Citations,
		Session:   updated,
	}, nil
}

// append writes event drafts after a committed transition. A failed append
// is logged and swallowed: the session state is the source of truth and has
// already committed.
func (c *Coordinator) append(ctx context.Context, id uuid.UUID, drafts ...session.EventDraft) {
	for _, draft := range drafts {
		if _, err := c.events.Append(ctx, draft, id); err != nil {
			c.logger.Warn("event append failed",
				zap.String("session_id", id.String()),
				zap.String("event_type", string(draft.Type)),
				zap.Error(err),
			)
		}
	}
}

func diceRollDraft(actorID, actorName string, result dice.RollResult) session.EventDraft {
	content := map[string]any{
		"notation": result.Notation,
		"dice":     result.Dice,
		"modifier": result.Modifier,
		"total":    result.Total,
	}
	if len(result.Dropped) > 0 {
		content["dropped"] = result.Dropped
	}
	if result.CriticalHit {
		content["critical_hit"] = true
	}
	if result.CriticalFail {
		content["critical_fail"] = true
	}
	if result.PlayerEntered {
		content["player_entered"] = true
	}
	return session.EventDraft{
		Type:      session.EventDiceRoll,
		ActorID:   actorID,
		ActorName: actorName,
		Content:   content,
	}
}

// isConflict reports whether err is a lost compare-and-swap race.
func isConflict(err error) bool {
	return errors.Is(err, postgres.ErrVersionConflict)
}

func noteContents(notes []state.Note) []map[string]any {
	out := make([]map[string]any, len(notes))
	for i, n := range notes {
		out[i] = map[string]any{
			"kind":   string(n.Kind),
			"target": n.Target,
			"detail": n.Detail,
		}
	}
	return out
}
