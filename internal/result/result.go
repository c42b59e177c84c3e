// Package result defines the record types the orchestrator and driver
// produce: one Turn per dialogue round, one AttemptResult per task attempt,
// and the aggregate Artifact a full evaluation run emits. These stay named
// struct types end to end; string-keyed maps appear only at the transport
// boundary.
package result

import "github.com/agentbench/harness/internal/validator"

// Side identifies which party produced a conversation turn.
type Side string

const (
	SideHarness Side = "harness"
	SideSolver  Side = "solver"
)

// Turn records one round of the conversation: either the harness's
// dispatched action and what it sent back, or the solver's raw reply.
type Turn struct {
	TurnIndex int    `json:"turn_index"`
	Side      Side   `json:"side"`
	Action    string `json:"action,omitempty"`
	Content   string `json:"content_snippet"`
}

// Status is the terminal outcome of one attempt.
type Status string

const (
	StatusValidated Status = "validated"
	StatusNoPatch   Status = "no_patch"
	StatusError     Status = "error"
)

// AttemptResult is the immutable record of one (task, attempt) run, emitted
// exactly once. Score is in [0,1]; Validation is nil unless a patch applied
// cleanly and the validator ran.
type AttemptResult struct {
	InstanceID          string            `json:"instance_id"`
	AttemptIndex        int               `json:"attempt_index"`
	Turns               int               `json:"turns"`
	Status              Status            `json:"status"`
	Score               float64           `json:"score"`
	Patch               string            `json:"patch,omitempty"`
	Validation          *validator.Report `json:"validation,omitempty"`
	ConversationHistory []Turn            `json:"conversation_history"`
	BashStdoutChars     int               `json:"bash_stdout_chars"`
	Error               string            `json:"error,omitempty"`
	// Warnings carries non-fatal provisioning issues (e.g. a test_patch that
	// failed to apply) the caller may want to filter on.
	Warnings []string `json:"warnings,omitempty"`
}
