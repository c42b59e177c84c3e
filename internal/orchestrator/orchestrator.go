// Package orchestrator drives the multi-turn dialogue with a solver agent:
// it sends the initial task payload, parses each reply into an Action,
// dispatches it against a sandbox, and enforces the turn/time/retry budgets
// until the conversation reaches a terminal state.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentbench/harness/internal/log"
	"github.com/agentbench/harness/internal/result"
	"github.com/agentbench/harness/internal/sandbox"
	"github.com/agentbench/harness/internal/solver"
	"github.com/agentbench/harness/internal/task"
	"github.com/agentbench/harness/internal/validator"
)

// Budgets configures the turn/time/retry ceilings of one attempt, in
// priority order. Budgets values are taken literally — a zero MaxTurns
// really means zero turns (the attempt ends before the first dispatch), not
// "apply the default". Callers that want the documented defaults start
// from DefaultBudgets and override only the fields the request actually
// set; see internal/evalconfig, which is the one place a zero-valued
// field (turn/retry count omitted from a request) must still resolve to
// the default rather than a literal zero.
type Budgets struct {
	TaskTimeout      time.Duration // default 600s, measured from sandbox start
	MaxTurns         int           // default 10
	MaxPatchRetries  int           // default 3
	BashTimeout      time.Duration // default 30s, per bash/debug command
	MessagingTimeout time.Duration // default 120s, per solver round-trip
}

// DefaultBudgets returns the documented ceilings applied to a request
// that omits its config entirely.
func DefaultBudgets() Budgets {
	return Budgets{
		TaskTimeout:      600 * time.Second,
		MaxTurns:         10,
		MaxPatchRetries:  3,
		BashTimeout:      30 * time.Second,
		MessagingTimeout: 120 * time.Second,
	}
}

// Sandbox is the subset of sandbox.Manager the orchestrator dispatches
// actions against. A narrow interface, rather than the concrete *Manager
// type, keeps this package testable against a fake.
type Sandbox interface {
	ExecuteBash(ctx context.Context, command string) (sandbox.BashResult, error)
	ApplyPatch(ctx context.Context, patch string) (sandbox.PatchResult, error)
	ExecuteDebug(ctx context.Context, patch, command string) (sandbox.BashResult, error)
	PythonVersion() string
	Cwd() string
}

// initialPayload is the JSON object sent as the first message of a new
// conversation. No prompting, instructions, or framing beyond these fields —
// the harness is agnostic to how the solver is implemented.
type initialPayload struct {
	Cwd              string   `json:"cwd"`
	ProblemStatement string   `json:"problem_statement"`
	HintsText        string   `json:"hints_text,omitempty"`
	PythonVersion    string   `json:"python_version"`
	FailToPass       []string `json:"fail_to_pass"`
}

// Orchestrator drives one conversation per Run call. It holds no state
// between calls, so a single Orchestrator value may be reused across
// attempts run one at a time.
type Orchestrator struct {
	Messenger solver.Messenger
	Endpoint  string
	Budgets   Budgets
}

// New builds an Orchestrator from the given budgets, taken as-is. Use
// DefaultBudgets for the documented ceilings.
func New(messenger solver.Messenger, endpoint string, budgets Budgets) *Orchestrator {
	return &Orchestrator{Messenger: messenger, Endpoint: endpoint, Budgets: budgets}
}

// phase names the orchestrator's position within one turn's dispatch cycle.
// Transitions are logged so a debug trace of an attempt reads as an explicit
// state machine rather than interleaved command output.
type phase string

const (
	phaseWaitingForSolver phase = "waiting_for_solver"
	phaseDispatchingBash  phase = "dispatching_bash"
	phaseDispatchingPatch phase = "dispatching_patch"
	phaseDispatchingDebug phase = "dispatching_debug"
	phaseRunningValidator phase = "running_validator"
)

// conversation is the per-Run mutable state: turn and patch-attempt
// counters, the transcript, the current phase, and the output-char proxy
// metric.
type conversation struct {
	history         []result.Turn
	turn            int
	patchAttempts   int
	bashStdoutChars int
	phase           phase
	start           time.Time
}

func (c *conversation) setPhase(logger *slog.Logger, p phase) {
	c.phase = p
	logger.Debug("conversation phase", "turn", c.turn, "phase", string(p))
}

// record appends a turn tagged with idx. Turn indices are assigned by the
// caller rather than auto-incremented here, because one round of dialogue
// produces two records (the solver's action, the harness's dispatched
// response) that must share a single strictly-increasing index.
func (c *conversation) record(idx int, t result.Turn) {
	t.TurnIndex = idx
	c.history = append(c.history, t)
}

// Run drives at most Budgets.MaxTurns rounds of dialogue for t against sb,
// returning a terminal AttemptResult. The sandbox is never destroyed by
// Run — teardown is the caller's responsibility, so it runs on every exit
// path regardless of how the conversation ended.
func (o *Orchestrator) Run(ctx context.Context, t task.Task, attemptIndex int, sb Sandbox) result.AttemptResult {
	logger := log.WithAttempt(t.InstanceID, attemptIndex)
	conv := &conversation{start: time.Now()}

	base := result.AttemptResult{InstanceID: t.InstanceID, AttemptIndex: attemptIndex}

	conv.setPhase(logger, phaseWaitingForSolver)
	reply, err := o.send(ctx, conv, 0, solver.Message{
		New: true,
		Payload: initialPayload{
			Cwd:              sb.Cwd(),
			ProblemStatement: t.ProblemStatement,
			HintsText:        t.HintsText,
			PythonVersion:    sb.PythonVersion(),
			FailToPass:       t.FailToPass,
		},
	})
	if err != nil {
		return o.finish(base, conv, result.StatusError, fmt.Sprintf("messaging failure: %v", err))
	}

	for {
		if time.Since(conv.start) >= o.Budgets.TaskTimeout {
			logger.Warn("task timeout reached", "turn", conv.turn)
			return o.finish(base, conv, result.StatusNoPatch, "task_timeout exceeded")
		}
		if conv.turn >= o.Budgets.MaxTurns {
			logger.Info("max turns reached", "turn", conv.turn)
			return o.finish(base, conv, result.StatusNoPatch, "max_turns exceeded")
		}

		conv.turn++
		turnIdx := conv.turn

		action := Parse(reply)
		conv.record(turnIdx, result.Turn{Side: result.SideSolver, Action: string(action.Kind), Content: snippet(action.Raw)})

		switch action.Kind {
		case ActionBash:
			conv.setPhase(logger, phaseDispatchingBash)
			res := o.dispatchBash(ctx, sb, conv, turnIdx, action.Content)
			if time.Since(conv.start) >= o.Budgets.TaskTimeout {
				logger.Warn("task timeout reached mid-bash", "turn", conv.turn)
				return o.finish(base, conv, result.StatusNoPatch, "task_timeout exceeded")
			}
			conv.setPhase(logger, phaseWaitingForSolver)
			reply, err = o.send(ctx, conv, turnIdx, solver.Message{Payload: res})
			if err != nil {
				return o.finish(base, conv, result.StatusError, fmt.Sprintf("messaging failure: %v", err))
			}

		case ActionDebug:
			conv.setPhase(logger, phaseDispatchingDebug)
			res := o.dispatchDebug(ctx, sb, conv, turnIdx, action.Content)
			if time.Since(conv.start) >= o.Budgets.TaskTimeout {
				logger.Warn("task timeout reached mid-debug", "turn", conv.turn)
				return o.finish(base, conv, result.StatusNoPatch, "task_timeout exceeded")
			}
			conv.setPhase(logger, phaseWaitingForSolver)
			reply, err = o.send(ctx, conv, turnIdx, solver.Message{Payload: res})
			if err != nil {
				return o.finish(base, conv, result.StatusError, fmt.Sprintf("messaging failure: %v", err))
			}

		case ActionPatch:
			conv.setPhase(logger, phaseDispatchingPatch)
			patchRes, _ := sb.ApplyPatch(ctx, action.Content)
			conv.record(turnIdx, result.Turn{Side: result.SideHarness, Action: "patch", Content: snippet(patchRes.Stderr)})

			if patchRes.Success {
				base.Patch = action.Content
				logger.Info("patch applied", "turn", turnIdx)
				conv.setPhase(logger, phaseRunningValidator)
				// The container always has "python" on PATH pointing at the
				// provisioned interpreter; PythonVersion only feeds the
				// solver payload.
				report := validator.Run(ctx, sb, t, "python", validator.Validation{})
				base.Validation = &report
				base.Score = report.Overall
				return o.finish(base, conv, result.StatusValidated, "")
			}

			conv.patchAttempts++
			if conv.patchAttempts > o.Budgets.MaxPatchRetries {
				logger.Info("max patch retries exhausted", "attempts", conv.patchAttempts)
				return o.finish(base, conv, result.StatusNoPatch, "max_patch_retries exceeded")
			}

			conv.setPhase(logger, phaseWaitingForSolver)
			reply, err = o.send(ctx, conv, turnIdx, solver.Message{Payload: map[string]any{
				"patch_failed": true,
				"cwd":          patchRes.Cwd,
				"stderr":       patchRes.Stderr,
				"message":      "the patch did not apply; inspect the repo state and retry",
			}})
			if err != nil {
				return o.finish(base, conv, result.StatusError, fmt.Sprintf("messaging failure: %v", err))
			}

		default:
			conv.record(turnIdx, result.Turn{Side: result.SideHarness, Action: "error", Content: "unrecognised reply"})
			reply, err = o.send(ctx, conv, turnIdx, solver.Message{Payload: map[string]any{
				"error":   true,
				"message": `reply must be JSON of the form {"action":"bash"|"patch"|"debug","content":"..."}`,
				"cwd":     sb.Cwd(),
			}})
			if err != nil {
				return o.finish(base, conv, result.StatusError, fmt.Sprintf("messaging failure: %v", err))
			}
		}
	}
}

// dispatchBash runs command against the sandbox under the per-command
// budget. Sandbox operation failures (including a command timing out) are
// not attempt failures: they come back to the solver as a structured
// stderr, same as any other failed shell command.
func (o *Orchestrator) dispatchBash(ctx context.Context, sb Sandbox, conv *conversation, turnIdx int, command string) map[string]any {
	bashCtx, cancel := context.WithTimeout(ctx, o.Budgets.BashTimeout)
	defer cancel()

	res, err := sb.ExecuteBash(bashCtx, command)
	if err != nil && res.Stderr == "" {
		res.Stderr = err.Error()
	}
	conv.bashStdoutChars += len(res.Stdout)
	conv.record(turnIdx, result.Turn{Side: result.SideHarness, Action: "bash", Content: snippet(res.Stdout + res.Stderr)})
	return map[string]any{"cwd": res.Cwd, "stdout": res.Stdout, "stderr": res.Stderr}
}

func (o *Orchestrator) dispatchDebug(ctx context.Context, sb Sandbox, conv *conversation, turnIdx int, command string) map[string]any {
	debugCtx, cancel := context.WithTimeout(ctx, o.Budgets.BashTimeout)
	defer cancel()

	res, err := sb.ExecuteDebug(debugCtx, "", command)
	conv.bashStdoutChars += len(res.Stdout)
	conv.record(turnIdx, result.Turn{Side: result.SideHarness, Action: "debug", Content: snippet(res.Stdout + res.Stderr)})

	note := ""
	if err != nil {
		note = err.Error()
	}
	return map[string]any{
		"debug_result": true,
		"cwd":          res.Cwd,
		"stdout":       res.Stdout,
		"stderr":       res.Stderr,
		"success":      res.Success,
		"note":         note,
	}
}

// send delivers msg to the solver and returns its reply text. The dispatch
// call that produced msg's payload already recorded the harness-side turn,
// so send itself adds nothing to the transcript — it only applies the
// per-request messaging timeout and surfaces transport failures.
func (o *Orchestrator) send(ctx context.Context, conv *conversation, turnIdx int, msg solver.Message) (string, error) {
	msgCtx, cancel := context.WithTimeout(ctx, o.Budgets.MessagingTimeout)
	defer cancel()

	return o.Messenger.Send(msgCtx, o.Endpoint, msg)
}

func (o *Orchestrator) finish(base result.AttemptResult, conv *conversation, status result.Status, errMsg string) result.AttemptResult {
	base.Turns = conv.turn
	base.Status = status
	base.ConversationHistory = conv.history
	base.BashStdoutChars = conv.bashStdoutChars
	if errMsg != "" {
		base.Error = errMsg
	}
	return base
}

func snippet(s string) string {
	const maxLen = 2000
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "...(truncated)"
}
