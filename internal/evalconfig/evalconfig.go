// Package evalconfig decodes the inbound evaluation request into
// typed values, applying the documented defaults field by field: budgets
// start from orchestrator.DefaultBudgets (orchestrator.Budgets itself takes
// zero values literally), and zero driver.Config fields are left to
// driver.Config.WithDefaults. Keeping the decode here, rather than in
// cmd/evalharness, means the defaults are documented once and the
// orchestrator/driver packages stay free of JSON concerns.
package evalconfig

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentbench/harness/internal/driver"
	"github.com/agentbench/harness/internal/orchestrator"
	"github.com/agentbench/harness/internal/task"
)

// Request is the full inbound request body: `{participants: {solver: URL},
// config: {...}}`. Unknown fields are ignored rather than rejected, so a
// caller can send a richer request shape without breaking this harness.
type Request struct {
	Participants Participants `json:"participants"`
	Config       Config       `json:"config"`
}

// Participants names the external collaborators of one evaluation request.
// Only Solver is required; Decode rejects a request missing it.
type Participants struct {
	Solver string `json:"solver"`
}

// Config is the request's `config` object. Every field is optional.
// MaxTurns, BashTimeout, TaskTimeout, and MaxPatchRetries use pointers so
// an *omitted* field (apply the documented default) is distinguishable
// from an *explicit* zero, which is honored literally — a request asking
// for zero turns or zero patch retries means exactly that.
// Durations arrive as plain seconds.
type Config struct {
	InstanceID string `json:"instance_id,omitempty"`
	Repo       string `json:"repo,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
	MaxTasks   int    `json:"max_tasks,omitempty"`

	MaxTurns        *int `json:"max_turns,omitempty"`
	BashTimeout     *int `json:"bash_timeout,omitempty"`      // seconds
	TaskTimeout     *int `json:"task_timeout,omitempty"`      // seconds
	MaxPatchRetries *int `json:"max_patch_retries,omitempty"`
	MaxAttempts     int  `json:"max_attempts,omitempty"`

	// Concurrency bounds how many tasks run at once within this request.
	// 0 defaults to 1, i.e. tasks fully serialised.
	Concurrency int `json:"concurrency,omitempty"`
}

// Decode parses body into a Request and validates the one required field:
// participants.solver must be present.
func Decode(body []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return Request{}, fmt.Errorf("malformed request: %w", err)
	}
	if req.Participants.Solver == "" {
		return Request{}, fmt.Errorf("malformed request: participants.solver is required")
	}
	return req, nil
}

// Resolved holds the decoded config translated into the types the
// orchestrator, driver, and task registry actually consume.
type Resolved struct {
	SolverEndpoint string
	Filter         task.Filter
	Budgets        orchestrator.Budgets
	DriverConfig   driver.Config
}

// Resolve applies defaults to req.Config and returns the values the rest of
// the harness is built around. Budgets starts from
// orchestrator.DefaultBudgets and only the fields the request actually set
// are overridden, so an omitted field keeps its documented default while an
// explicit zero is honored literally. driver.Config.WithDefaults is still
// called by driver.New for MaxAttempts/Concurrency, neither of which has a
// meaningful literal-zero reading.
func (req Request) Resolve() Resolved {
	c := req.Config
	budgets := orchestrator.DefaultBudgets()
	if c.TaskTimeout != nil {
		budgets.TaskTimeout = time.Duration(*c.TaskTimeout) * time.Second
	}
	if c.MaxTurns != nil {
		budgets.MaxTurns = *c.MaxTurns
	}
	if c.MaxPatchRetries != nil {
		budgets.MaxPatchRetries = *c.MaxPatchRetries
	}
	if c.BashTimeout != nil {
		budgets.BashTimeout = time.Duration(*c.BashTimeout) * time.Second
	}

	return Resolved{
		SolverEndpoint: req.Participants.Solver,
		Filter: task.Filter{
			InstanceID: c.InstanceID,
			Repo:       c.Repo,
			Difficulty: c.Difficulty,
			MaxTasks:   c.MaxTasks,
		},
		Budgets: budgets,
		DriverConfig: driver.Config{
			MaxAttempts: c.MaxAttempts,
			Concurrency: c.Concurrency,
		},
	}
}
