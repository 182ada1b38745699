// Package narrator integrates a narrative-generation model as an untrusted
// collaborator. The engine sends a reduced session view plus the player's
// action and receives prose, proposed state deltas, and rule citations. The
// deltas are proposals only; they pass through the same validation as any
// programmatically constructed batch before touching session state.
package narrator

import (
	"context"

	"github.com/google/uuid"

	"github.com/greyhelm/gamemaster/internal/game/session"
	"github.com/greyhelm/gamemaster/internal/game/state"
)

// Request is the reduced session view sent to the narrator, plus the
// player's free-text action.
type Request struct {
	SessionID        uuid.UUID
	NarrativeSummary string
	CurrentLocation  string
	ActiveNPCs       []session.NPC
	Combat           *session.CombatState

	PlayerName string
	Action     string
}

// Response is what the narrator proposed. Deltas and Citations may be
// empty; Narrative never is on success.
type Response struct {
	Narrative string
	Deltas    []state.Delta
	Citations []session.Citation
}

// Narrator generates a narrative response to a player action.
type Narrator interface {
	Narrate(ctx context.Context, req Request) (Response, error)
}
