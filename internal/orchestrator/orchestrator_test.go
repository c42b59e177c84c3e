package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbench/harness/internal/result"
	"github.com/agentbench/harness/internal/sandbox"
	"github.com/agentbench/harness/internal/solver"
	"github.com/agentbench/harness/internal/task"
)

// scriptedMessenger replays a fixed sequence of solver replies, one per
// Send call, so a test can drive the orchestrator through a specific
// conversation shape.
type scriptedMessenger struct {
	replies []string
	sent    []solver.Message
	failAt  int // -1 disables; otherwise the call index that errors
}

func (m *scriptedMessenger) Send(ctx context.Context, endpoint string, msg solver.Message) (string, error) {
	m.sent = append(m.sent, msg)
	idx := len(m.sent) - 1
	if m.failAt >= 0 && idx == m.failAt {
		return "", fmt.Errorf("transport exploded")
	}
	if len(m.replies) == 0 {
		return "", fmt.Errorf("script exhausted at call %d", idx)
	}
	if idx >= len(m.replies) {
		// A real solver keeps responding past the scripted portion; repeat
		// the final reply rather than erroring so budget-exhaustion tests
		// don't need one throwaway reply per turn.
		return m.replies[len(m.replies)-1], nil
	}
	return m.replies[idx], nil
}

// fakeSandbox is a narrow in-memory stand-in for sandbox.Manager.
type fakeSandbox struct {
	bashResults  []sandbox.BashResult
	patchResults []sandbox.PatchResult
	bashCalls    int
	patchCalls   int

	// dispatchDelay, if set, elapses before ExecuteBash/ExecuteDebug return,
	// simulating a long-running command that eats into the task's timeout
	// mid-dispatch rather than between turns.
	dispatchDelay time.Duration
}

func (f *fakeSandbox) ExecuteBash(ctx context.Context, command string) (sandbox.BashResult, error) {
	if f.dispatchDelay > 0 {
		time.Sleep(f.dispatchDelay)
	}
	i := f.bashCalls
	f.bashCalls++
	if i < len(f.bashResults) {
		return f.bashResults[i], nil
	}
	return sandbox.BashResult{Success: true}, nil
}

func (f *fakeSandbox) ApplyPatch(ctx context.Context, patch string) (sandbox.PatchResult, error) {
	i := f.patchCalls
	f.patchCalls++
	if i < len(f.patchResults) {
		return f.patchResults[i], nil
	}
	return sandbox.PatchResult{Success: true}, nil
}

func (f *fakeSandbox) ExecuteDebug(ctx context.Context, patch, command string) (sandbox.BashResult, error) {
	if f.dispatchDelay > 0 {
		time.Sleep(f.dispatchDelay)
	}
	return sandbox.BashResult{Success: true}, nil
}

func (f *fakeSandbox) PythonVersion() string { return "3.9" }
func (f *fakeSandbox) Cwd() string           { return sandbox.RepoRoot }

func testTask() task.Task {
	return task.Task{
		InstanceID:       "django__django-11099",
		Repo:             "django/django",
		BaseCommit:       "abc123",
		ProblemStatement: "fix the thing",
		FailToPass:       []string{"test_foo"},
		PassToPass:       []string{"test_bar"},
	}
}

func TestRun_SuccessfulPatchIsTerminal(t *testing.T) {
	msgr := &scriptedMessenger{
		replies: []string{`{"action":"patch","content":"diff --git a/x b/x"}`},
		failAt:  -1,
	}
	sb := &fakeSandbox{
		patchResults: []sandbox.PatchResult{{Success: true}},
		bashResults:  []sandbox.BashResult{{Success: true}, {Success: true}},
	}
	o := New(msgr, "http://solver.local", DefaultBudgets())

	got := o.Run(context.Background(), testTask(), 0, sb)

	require.Equal(t, result.StatusValidated, got.Status)
	assert.Equal(t, 1, got.Turns)
	assert.NotNil(t, got.Validation)
	assert.Equal(t, 1.0, got.Score)
}

func TestRun_MaxTurnsExhaustion(t *testing.T) {
	msgr := &scriptedMessenger{
		replies: []string{
			`{"action":"bash","content":"ls"}`,
			`{"action":"bash","content":"ls"}`,
			`{"action":"bash","content":"ls"}`,
		},
		failAt: -1,
	}
	sb := &fakeSandbox{}
	budgets := DefaultBudgets()
	budgets.MaxTurns = 3
	o := New(msgr, "http://solver.local", budgets)

	got := o.Run(context.Background(), testTask(), 0, sb)

	require.Equal(t, result.StatusNoPatch, got.Status)
	assert.Equal(t, 3, got.Turns)
	assert.Contains(t, got.Error, "max_turns")
	assert.Equal(t, 3, sb.bashCalls)
}

func TestRun_MaxTurnsZeroEndsImmediately(t *testing.T) {
	msgr := &scriptedMessenger{replies: []string{`{"action":"bash","content":"ls"}`}, failAt: -1}
	sb := &fakeSandbox{}
	budgets := DefaultBudgets()
	budgets.MaxTurns = 0
	o := New(msgr, "http://solver.local", budgets)

	got := o.Run(context.Background(), testTask(), 0, sb)

	require.Equal(t, result.StatusNoPatch, got.Status)
	assert.Contains(t, got.Error, "max_turns")
	assert.Equal(t, 0, got.Turns)
	assert.Equal(t, 0, sb.bashCalls)
}

func TestRun_PatchRetryBudget(t *testing.T) {
	msgr := &scriptedMessenger{
		replies: []string{
			`{"action":"patch","content":"diff --git a/x b/x"}`,
			`{"action":"patch","content":"diff --git a/x b/x"}`,
		},
		failAt: -1,
	}
	sb := &fakeSandbox{
		patchResults: []sandbox.PatchResult{
			{Success: false, Stderr: "does not apply"},
			{Success: false, Stderr: "still does not apply"},
		},
	}
	budgets := DefaultBudgets()
	budgets.MaxPatchRetries = 1
	o := New(msgr, "http://solver.local", budgets)

	got := o.Run(context.Background(), testTask(), 0, sb)

	require.Equal(t, result.StatusNoPatch, got.Status)
	assert.Contains(t, got.Error, "max_patch_retries")
	assert.Equal(t, 2, sb.patchCalls)
}

func TestRun_ZeroPatchRetriesEndsAfterOneFailure(t *testing.T) {
	msgr := &scriptedMessenger{
		replies: []string{`{"action":"patch","content":"diff --git a/x b/x"}`},
		failAt:  -1,
	}
	sb := &fakeSandbox{patchResults: []sandbox.PatchResult{{Success: false, Stderr: "no"}}}
	budgets := DefaultBudgets()
	budgets.MaxPatchRetries = 0
	o := New(msgr, "http://solver.local", budgets)

	got := o.Run(context.Background(), testTask(), 0, sb)

	require.Equal(t, result.StatusNoPatch, got.Status)
	assert.Equal(t, 1, sb.patchCalls)
}

func TestRun_MessagingFailureTerminatesWithError(t *testing.T) {
	msgr := &scriptedMessenger{failAt: 0}
	sb := &fakeSandbox{}
	o := New(msgr, "http://solver.local", Budgets{})

	got := o.Run(context.Background(), testTask(), 0, sb)

	require.Equal(t, result.StatusError, got.Status)
	assert.Contains(t, got.Error, "messaging failure")
}

func TestRun_TaskTimeoutEndsAttempt(t *testing.T) {
	msgr := &scriptedMessenger{replies: []string{`{"action":"bash","content":"ls"}`}, failAt: -1}
	sb := &fakeSandbox{}
	o := New(msgr, "http://solver.local", Budgets{TaskTimeout: time.Nanosecond})

	got := o.Run(context.Background(), testTask(), 0, sb)

	require.Equal(t, result.StatusNoPatch, got.Status)
	assert.Contains(t, got.Error, "task_timeout")
}

func TestRun_TaskTimeoutEndsAttemptMidBash(t *testing.T) {
	// The reply is scripted to keep issuing bash forever; only the sandbox's
	// per-call delay pushing conv.start past TaskTimeout should stop the
	// loop, and it must stop without sending the bash result back to the
	// solver — a timeout crossed mid-command ends the attempt with no
	// further solver message.
	msgr := &scriptedMessenger{replies: []string{`{"action":"bash","content":"sleep 10"}`}, failAt: -1}
	sb := &fakeSandbox{dispatchDelay: 5 * time.Millisecond}
	budgets := DefaultBudgets()
	budgets.TaskTimeout = time.Millisecond
	o := New(msgr, "http://solver.local", budgets)

	got := o.Run(context.Background(), testTask(), 0, sb)

	require.Equal(t, result.StatusNoPatch, got.Status)
	assert.Contains(t, got.Error, "task_timeout")
	assert.Equal(t, 1, sb.bashCalls)
	assert.Len(t, msgr.sent, 1) // only the initial message, never the bash result
}

func TestRun_TaskTimeoutEndsAttemptMidDebug(t *testing.T) {
	msgr := &scriptedMessenger{replies: []string{`{"action":"debug","content":"sleep 10"}`}, failAt: -1}
	sb := &fakeSandbox{dispatchDelay: 5 * time.Millisecond}
	budgets := DefaultBudgets()
	budgets.TaskTimeout = time.Millisecond
	o := New(msgr, "http://solver.local", budgets)

	got := o.Run(context.Background(), testTask(), 0, sb)

	require.Equal(t, result.StatusNoPatch, got.Status)
	assert.Contains(t, got.Error, "task_timeout")
	assert.Len(t, msgr.sent, 1)
}

func TestRun_UnrecognisedReplyAsksSolverToRetry(t *testing.T) {
	msgr := &scriptedMessenger{
		replies: []string{
			"I'm not sure what to do.",
			`{"action":"patch","content":"diff --git a/x b/x"}`,
		},
		failAt: -1,
	}
	sb := &fakeSandbox{patchResults: []sandbox.PatchResult{{Success: true}}}
	budgets := DefaultBudgets()
	budgets.MaxTurns = 5
	o := New(msgr, "http://solver.local", budgets)

	got := o.Run(context.Background(), testTask(), 0, sb)

	require.Equal(t, result.StatusValidated, got.Status)
	require.Len(t, msgr.sent, 2) // initial message, then the error response after the unrecognised reply

	var errPayload map[string]any
	raw, err := json.Marshal(msgr.sent[1].Payload)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &errPayload))
	assert.Equal(t, true, errPayload["error"])
}

func TestRun_InitialPayloadCarriesNoExtraFraming(t *testing.T) {
	msgr := &scriptedMessenger{
		replies: []string{`{"action":"patch","content":"diff --git a/x b/x"}`},
	}
	sb := &fakeSandbox{patchResults: []sandbox.PatchResult{{Success: true}}}
	o := New(msgr, "http://solver.local", DefaultBudgets())

	o.Run(context.Background(), testTask(), 2, sb)

	require.Len(t, msgr.sent, 1)
	assert.True(t, msgr.sent[0].New)

	raw, err := json.Marshal(msgr.sent[0].Payload)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.ElementsMatch(t, []string{"cwd", "problem_statement", "python_version", "fail_to_pass"}, keysOf(decoded))
}

func keysOf(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
