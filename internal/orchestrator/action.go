package orchestrator

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ActionKind tags the kind of action a solver reply requested.
type ActionKind string

const (
	ActionBash    ActionKind = "bash"
	ActionPatch   ActionKind = "patch"
	ActionDebug   ActionKind = "debug"
	ActionInvalid ActionKind = ""
)

// Action is the parsed form of a solver reply: a tagged union of the three
// dispatchable kinds, or ActionInvalid when no action could be recognized.
type Action struct {
	Kind    ActionKind
	Content string
	// Raw is the original reply text, kept for conversation history and for
	// composing the "unrecognised reply" error message.
	Raw string
}

// replyEnvelope mirrors the advisory solver reply schema: {"action":...,"content":...}.
type replyEnvelope struct {
	Action  string          `json:"action"`
	Content json.RawMessage `json:"content"`
}

func validKind(s string) ActionKind {
	switch ActionKind(s) {
	case ActionBash, ActionPatch, ActionDebug:
		return ActionKind(s)
	default:
		return ActionInvalid
	}
}

// jsonFragmentPattern locates a JSON object fragment embedded in prose, used
// as the third parsing fallback tier.
var jsonFragmentPattern = regexp.MustCompile(`(?s)\{.*"action"\s*:\s*"(?:bash|patch|debug)".*\}`)

// contentString renders a json.RawMessage content field as a plain string,
// whether it arrived as a JSON string or a bare (non-string) value.
func contentString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// Parse interprets a solver's raw reply text into an Action, in forgiving
// priority order:
//  1. a top-level JSON object whose "action" field names a valid action.
//  2. a JSON object whose "content" field is itself an object carrying "action".
//  3. a JSON object fragment located anywhere inside surrounding prose.
//  4. raw text that looks like a unified diff, treated as a bare patch.
//
// Anything else yields ActionInvalid.
func Parse(reply string) Action {
	trimmed := strings.TrimSpace(reply)

	var env replyEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err == nil {
		if kind := validKind(env.Action); kind != ActionInvalid {
			return Action{Kind: kind, Content: contentString(env.Content), Raw: reply}
		}

		// Tier 2: content itself is an object carrying the action.
		var nested replyEnvelope
		if err := json.Unmarshal(env.Content, &nested); err == nil {
			if kind := validKind(nested.Action); kind != ActionInvalid {
				return Action{Kind: kind, Content: contentString(nested.Content), Raw: reply}
			}
		}
	}

	// Tier 3: a JSON fragment located inside prose.
	if loc := jsonFragmentPattern.FindString(trimmed); loc != "" {
		var fragment replyEnvelope
		if err := json.Unmarshal([]byte(loc), &fragment); err == nil {
			if kind := validKind(fragment.Action); kind != ActionInvalid {
				return Action{Kind: kind, Content: contentString(fragment.Content), Raw: reply}
			}
		}
	}

	// Tier 4: raw unified-diff text with no JSON envelope at all.
	if strings.HasPrefix(trimmed, "diff --git") || strings.HasPrefix(trimmed, "--- ") {
		return Action{Kind: ActionPatch, Content: reply, Raw: reply}
	}

	return Action{Kind: ActionInvalid, Raw: reply}
}
