// Package api exposes the session engine over HTTP. Handlers are thin: they
// bind input, call one coordinator operation, and map errors to status
// codes. Version conflicts surface as 409 so clients can re-read and retry.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/greyhelm/gamemaster/internal/engine"
	"github.com/greyhelm/gamemaster/internal/game/combat"
	"github.com/greyhelm/gamemaster/internal/game/condition"
	"github.com/greyhelm/gamemaster/internal/game/dice"
	"github.com/greyhelm/gamemaster/internal/game/session"
	"github.com/greyhelm/gamemaster/internal/game/state"
	"github.com/greyhelm/gamemaster/internal/storage/postgres"
)

// Handler serves the session API.
type Handler struct {
	engine     *engine.Coordinator
	conditions *condition.Catalog
	logger     *zap.Logger
}

// NewHandler creates a Handler. conditions may be nil; /conditions then
// serves an empty list.
func NewHandler(eng *engine.Coordinator, conditions *condition.Catalog, logger *zap.Logger) *Handler {
	return &Handler{engine: eng, conditions: conditions, logger: logger}
}

// Router builds the gin engine with all routes registered.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(h.logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/conditions", h.listConditions)

	sessions := r.Group("/sessions")
	sessions.POST("", h.createSession)
	sessions.GET("/:id/state", h.getState)
	sessions.GET("/:id/timeline", h.timeline)
	sessions.POST("/:id/deltas", h.applyDeltas)
	sessions.POST("/:id/combat/start", h.startCombat)
	sessions.POST("/:id/combat/next-turn", h.nextTurn)
	sessions.POST("/:id/combat/end", h.endCombat)
	sessions.POST("/:id/roll", h.roll)
	sessions.PATCH("/:id/narrative", h.setNarrative)
	sessions.PATCH("/:id/location", h.setLocation)
	sessions.PATCH("/:id/npcs", h.setNPCs)
	sessions.PATCH("/:id/map", h.updateMap)
	sessions.POST("/:id/end", h.endSession)
	sessions.POST("/:id/action", h.playTurn)

	return r
}

func (h *Handler) createSession(c *gin.Context) {
	var req struct {
		CampaignID string `json:"campaign_id" binding:"required"`
		Location   string `json:"location"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "campaign_id is required")
		return
	}
	campaignID, err := uuid.Parse(req.CampaignID)
	if err != nil {
		badRequest(c, "campaign_id is not a UUID")
		return
	}

	s, err := h.engine.CreateSession(c.Request.Context(), campaignID, req.Location)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewSession(s))
}

func (h *Handler) getState(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	s, err := h.engine.GetState(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewSession(s))
}

func (h *Handler) timeline(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var after int64
	if raw := c.Query("after"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			badRequest(c, "after must be a non-negative integer")
			return
		}
		after = parsed
	}
	events, err := h.engine.Timeline(c.Request.Context(), id, after)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": viewEvents(events)})
}

func (h *Handler) listConditions(c *gin.Context) {
	if h.conditions == nil {
		c.JSON(http.StatusOK, gin.H{"conditions": []conditionView{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conditions": viewConditions(h.conditions.All())})
}

func (h *Handler) applyDeltas(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req struct {
		Deltas          json.RawMessage `json:"deltas"`
		ExpectedVersion *int64          `json:"expected_version"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "request body is not valid JSON")
		return
	}
	deltas := state.DecodeDeltas(req.Deltas)

	if req.ExpectedVersion != nil {
		outcome, err := h.engine.TryApplyStateChanges(c.Request.Context(), id, deltas, *req.ExpectedVersion)
		if err != nil {
			h.fail(c, err)
			return
		}
		if outcome.Conflict {
			c.JSON(http.StatusConflict, gin.H{
				"error":   outcome.Message,
				"session": viewSession(outcome.Session),
			})
			return
		}
		c.JSON(http.StatusOK, viewSession(outcome.Session))
		return
	}

	s, err := h.engine.ApplyStateChanges(c.Request.Context(), id, deltas)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewSession(s))
}

type combatEntrantRequest struct {
	ID              string `json:"id" binding:"required"`
	Name            string `json:"name" binding:"required"`
	Type            string `json:"type" binding:"required"`
	MaxHP           int    `json:"max_hp"`
	CurrentHP       *int   `json:"current_hp"`
	Initiative      *int   `json:"initiative"`
	InitiativeBonus int    `json:"initiative_bonus"`
}

func (h *Handler) startCombat(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req struct {
		Participants []combatEntrantRequest `json:"participants" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "participants are required")
		return
	}

	entrants := make([]engine.CombatEntrant, len(req.Participants))
	for i, p := range req.Participants {
		ctype := session.CombatantType(p.Type)
		if ctype != session.CombatantPlayer && ctype != session.CombatantNPC {
			badRequest(c, "participant type must be player or npc")
			return
		}
		hp := p.MaxHP
		if p.CurrentHP != nil {
			hp = *p.CurrentHP
		}
		entrants[i] = engine.CombatEntrant{
			ID:              p.ID,
			Name:            p.Name,
			Type:            ctype,
			MaxHP:           p.MaxHP,
			CurrentHP:       hp,
			Initiative:      p.Initiative,
			InitiativeBonus: p.InitiativeBonus,
		}
	}

	s, err := h.engine.StartCombat(c.Request.Context(), id, entrants)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewSession(s))
}

func (h *Handler) nextTurn(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	s, err := h.engine.NextTurn(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewSession(s))
}

func (h *Handler) endCombat(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req struct {
		Outcome string `json:"outcome" binding:"required"`
		Summary string `json:"summary"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "outcome is required")
		return
	}
	outcome, err := combat.ParseOutcome(req.Outcome)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	s, err := h.engine.EndCombat(c.Request.Context(), id, outcome, req.Summary)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewSession(s))
}

func (h *Handler) roll(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req struct {
		ActorID       string `json:"actor_id"`
		ActorName     string `json:"actor_name"`
		Notation      string `json:"notation"`
		Mode          string `json:"mode"`
		Bonus         int    `json:"bonus"`
		DeclaredTotal *int   `json:"declared_total"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "request body is not valid JSON")
		return
	}
	ctx := c.Request.Context()

	var (
		result dice.RollResult
		err    error
	)
	switch {
	case req.DeclaredTotal != nil:
		result, err = h.engine.ReconcilePlayerRoll(ctx, id, req.ActorID, req.ActorName, req.Notation, *req.DeclaredTotal)
	case req.Mode != "":
		mode := dice.Mode(req.Mode)
		if !mode.Valid() {
			badRequest(c, "mode must be normal, advantage, or disadvantage")
			return
		}
		result, err = h.engine.RollWithAdvantage(ctx, id, req.ActorID, req.ActorName, req.Bonus, mode)
	default:
		result, err = h.engine.Roll(ctx, id, req.ActorID, req.ActorName, req.Notation)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewRoll(result))
}

func (h *Handler) setNarrative(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req struct {
		Summary string `json:"summary"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "request body is not valid JSON")
		return
	}
	s, err := h.engine.SetNarrativeSummary(c.Request.Context(), id, req.Summary)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewSession(s))
}

func (h *Handler) setLocation(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req struct {
		Location string `json:"location" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "location is required")
		return
	}
	s, err := h.engine.SetLocation(c.Request.Context(), id, req.Location)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewSession(s))
}

func (h *Handler) setNPCs(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req struct {
		NPCs []session.NPC `json:"npcs"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "request body is not valid JSON")
		return
	}
	s, err := h.engine.SetActiveNPCs(c.Request.Context(), id, req.NPCs)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewSession(s))
}

func (h *Handler) updateMap(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req struct {
		Map *session.MapState `json:"map"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "request body is not valid JSON")
		return
	}
	s, err := h.engine.UpdateMap(c.Request.Context(), id, req.Map)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewSession(s))
}

func (h *Handler) endSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	s, err := h.engine.EndSession(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewSession(s))
}

func (h *Handler) playTurn(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req struct {
		ActorID   string `json:"actor_id"`
		ActorName string `json:"actor_name"`
		Text      string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "text is required")
		return
	}

	result, err := h.engine.PlayTurn(c.Request.Context(), id, req.ActorID, req.ActorName, req.Text)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"narrative": result.Narrative,
		"citations": result.Citations,
		"session":   viewSession(result.Session),
	})
}

func sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "session id is not a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// fail maps engine and storage errors to HTTP statuses. Dice input errors
// go back verbatim; anything unrecognized is a 500 with the detail kept out
// of the response.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, postgres.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, postgres.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "someone else changed this session, re-read and retry"})
	case errors.Is(err, combat.ErrNoActiveCombat):
		c.JSON(http.StatusConflict, gin.H{"error": "no combat in progress"})
	case errors.Is(err, engine.ErrCombatActive):
		c.JSON(http.StatusConflict, gin.H{"error": "combat already in progress"})
	case errors.Is(err, engine.ErrSessionEnded):
		c.JSON(http.StatusConflict, gin.H{"error": "session already ended"})
	case errors.Is(err, dice.ErrInvalidNotation),
		errors.Is(err, dice.ErrOutOfRange),
		errors.Is(err, dice.ErrImpossibleValue):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrNarratorDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no narrator configured"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
