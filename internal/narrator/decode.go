package narrator

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/greyhelm/gamemaster/internal/game/session"
	"github.com/greyhelm/gamemaster/internal/game/state"
)

// modelResponse is the JSON shape the narrator is instructed to produce.
type modelResponse struct {
	Narrative string             `json:"narrative"`
	Deltas    json.RawMessage    `json:"deltas"`
	Citations []session.Citation `json:"citations"`
}

// decodeResponse parses a model reply into a Response. The reply is
// untrusted: it may wrap the JSON in a markdown fence or prepend prose, so
// the decoder scans for the outermost object. Delta entries go through the
// shared untrusted decoder, which discards unknown kinds.
func decodeResponse(raw string) (Response, error) {
	payload := extractObject(raw)
	if payload == "" {
		return Response{}, errors.New("narrator reply contains no JSON object")
	}

	var mr modelResponse
	if err := json.Unmarshal([]byte(payload), &mr); err != nil {
		return Response{}, errors.New("narrator reply is not valid JSON")
	}
	if strings.TrimSpace(mr.Narrative) == "" {
		return Response{}, errors.New("narrator reply has no narrative")
	}

	return Response{
		Narrative: mr.Narrative,
		Deltas:    state.DecodeDeltas(mr.Deltas),
		Citations: mr.Citations,
	}, nil
}

// extractObject returns the substring from the first '{' to its matching
// closing brace, respecting strings and escapes. Returns "" when the input
// holds no balanced object.
func extractObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
