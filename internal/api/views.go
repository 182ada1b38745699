package api

import (
	"time"

	"github.com/greyhelm/gamemaster/internal/game/condition"
	"github.com/greyhelm/gamemaster/internal/game/dice"
	"github.com/greyhelm/gamemaster/internal/game/session"
)

// sessionView is the wire shape of a session snapshot. The version is part
// of the view so clients can hand it back for conflict-checked writes.
type sessionView struct {
	ID               string                `json:"id"`
	CampaignID       string                `json:"campaign_id"`
	Status           session.Status        `json:"status"`
	Version          int64                 `json:"version"`
	NarrativeSummary string                `json:"narrative_summary"`
	CurrentLocation  string                `json:"current_location"`
	ActiveNPCs       []session.NPC         `json:"active_npcs"`
	Combat           *session.CombatState  `json:"combat_state,omitempty"`
	Map              *session.MapState     `json:"map_state,omitempty"`
	StartedAt        time.Time             `json:"started_at"`
	EndedAt          *time.Time            `json:"ended_at,omitempty"`
	LastActivity     time.Time             `json:"last_activity"`
}

func viewSession(s *session.Session) sessionView {
	npcs := s.ActiveNPCs
	if npcs == nil {
		npcs = []session.NPC{}
	}
	return sessionView{
		ID:               s.ID.String(),
		CampaignID:       s.CampaignID.String(),
		Status:           s.Status,
		Version:          s.Version,
		NarrativeSummary: s.NarrativeSummary,
		CurrentLocation:  s.CurrentLocation,
		ActiveNPCs:       npcs,
		Combat:           s.Combat,
		Map:              s.Map,
		StartedAt:        s.StartedAt,
		EndedAt:          s.EndedAt,
		LastActivity:     s.LastActivity,
	}
}

type eventView struct {
	ID        string             `json:"id"`
	Type      session.EventType  `json:"type"`
	ActorID   string             `json:"actor_id,omitempty"`
	ActorName string             `json:"actor_name,omitempty"`
	Content   map[string]any     `json:"content"`
	Citations []session.Citation `json:"citations,omitempty"`
	Sequence  int64              `json:"sequence"`
	CreatedAt time.Time          `json:"created_at"`
}

func viewEvents(events []*session.Event) []eventView {
	out := make([]eventView, len(events))
	for i, ev := range events {
		content := ev.Content
		if content == nil {
			content = map[string]any{}
		}
		out[i] = eventView{
			ID:        ev.ID.String(),
			Type:      ev.Type,
			ActorID:   ev.ActorID,
			ActorName: ev.ActorName,
			Content:   content,
			Citations: ev.Citations,
			Sequence:  ev.Sequence,
			CreatedAt: ev.CreatedAt,
		}
	}
	return out
}

type conditionView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Duration    string `json:"duration"`
}

func viewConditions(defs []*condition.Definition) []conditionView {
	out := make([]conditionView, len(defs))
	for i, d := range defs {
		out[i] = conditionView{
			ID:          d.ID,
			Name:        d.Name,
			Description: d.Description,
			Duration:    d.Duration,
		}
	}
	return out
}

type rollView struct {
	Notation      string `json:"notation"`
	Dice          []int  `json:"dice"`
	Modifier      int    `json:"modifier"`
	Total         int    `json:"total"`
	Dropped       []int  `json:"dropped,omitempty"`
	CriticalHit   bool   `json:"critical_hit,omitempty"`
	CriticalFail  bool   `json:"critical_fail,omitempty"`
	PlayerEntered bool   `json:"player_entered,omitempty"`
}

func viewRoll(r dice.RollResult) rollView {
	return rollView{
		Notation:      r.Notation,
		Dice:          r.Dice,
		Modifier:      r.Modifier,
		Total:         r.Total,
		Dropped:       r.Dropped,
		CriticalHit:   r.CriticalHit,
		CriticalFail:  r.CriticalFail,
		PlayerEntered: r.PlayerEntered,
	}
}
