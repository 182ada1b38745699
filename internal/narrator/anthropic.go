package narrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"

	"github.com/greyhelm/gamemaster/internal/config"
)

const systemPrompt = `You are the narrator for a tabletop roleplaying session.
Respond to the player's action with vivid second-person narration grounded in
the session state you are given. Reply with a single JSON object and nothing
else:

{
  "narrative": "the prose shown to the players",
  "deltas": [{"kind": "...", "target": "...", "value": ...}],
  "citations": [{"rule": "...", "source": "..."}]
}

Delta kinds: damage, heal (value is a non-negative number, target is a
combatant id), condition_add, condition_remove (value is a condition name),
move (value is "x,y", target is a map token id), inventory, custom. Propose
deltas only for changes your narration describes. Omit deltas and citations
when there are none.`

// AnthropicNarrator generates narration through the Anthropic Messages API.
// The API key comes from the ANTHROPIC_API_KEY environment variable.
type AnthropicNarrator struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	timeout   time.Duration
	logger    *zap.Logger
}

// NewAnthropicNarrator creates a narrator from config.
//
// Precondition: cfg.Model must be non-empty and cfg.MaxTokens positive.
func NewAnthropicNarrator(cfg config.NarratorConfig, logger *zap.Logger) *AnthropicNarrator {
	return &AnthropicNarrator{
		client:    anthropic.NewClient(),
		model:     anthropic.Model(cfg.Model),
		maxTokens: int64(cfg.MaxTokens),
		timeout:   cfg.Timeout,
		logger:    logger,
	}
}

// Narrate sends the session view and player action to the model and decodes
// its JSON reply. The reply's deltas are untrusted proposals; validation
// happens downstream in the delta applier.
func (n *AnthropicNarrator) Narrate(ctx context.Context, req Request) (Response, error) {
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	msg, err := n.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     n.model,
		MaxTokens: n.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildUserPrompt(req))),
		},
	})
	if err != nil {
		return Response{}, fmt.Errorf("requesting narration: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	resp, err := decodeResponse(sb.String())
	if err != nil {
		n.logger.Warn("unusable narrator reply",
			zap.String("session_id", req.SessionID.String()),
			zap.Error(err),
		)
		return Response{}, err
	}
	n.logger.Debug("narration received",
		zap.String("session_id", req.SessionID.String()),
		zap.Int("deltas", len(resp.Deltas)),
		zap.Int("citations", len(resp.Citations)),
	)
	return resp, nil
}

func buildUserPrompt(req Request) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Location: %s\n", req.CurrentLocation)
	if req.NarrativeSummary != "" {
		fmt.Fprintf(&sb, "Story so far: %s\n", req.NarrativeSummary)
	}
	if len(req.ActiveNPCs) > 0 {
		sb.WriteString("NPCs present:\n")
		for _, npc := range req.ActiveNPCs {
			fmt.Fprintf(&sb, "  - %s", npc.Name)
			if npc.Description != "" {
				fmt.Fprintf(&sb, ": %s", npc.Description)
			}
			sb.WriteByte('\n')
		}
	}
	if req.Combat != nil && req.Combat.Active {
		fmt.Fprintf(&sb, "Combat round %d. Combatants:\n", req.Combat.Round)
		for _, c := range req.Combat.Combatants {
			status := "up"
			if !c.IsActive {
				status = "down"
			}
			fmt.Fprintf(&sb, "  - %s (id %s): %d/%d HP, %s", c.Name, c.ID, c.CurrentHP, c.MaxHP, status)
			if len(c.Conditions) > 0 {
				fmt.Fprintf(&sb, ", conditions: %s", strings.Join(c.Conditions, ", "))
			}
			sb.WriteByte('\n')
		}
		cur := req.Combat.CurrentEntry()
		fmt.Fprintf(&sb, "It is %s's turn.\n", cur.Name)
	}

	player := req.PlayerName
	if player == "" {
		player = "The player"
	}
	fmt.Fprintf(&sb, "\n%s: %s\n", player, req.Action)
	return sb.String()
}
