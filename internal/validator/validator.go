package validator

import (
	"context"
	"time"

	"github.com/agentbench/harness/internal/sandbox"
	"github.com/agentbench/harness/internal/task"
)

// defaultTestTimeout is the per-test ceiling; a test that runs longer is
// recorded as a failure rather than left to hang the attempt.
const defaultTestTimeout = 120 * time.Second

// DefaultOutputTailLimit is how much of a test's combined output is kept in
// the result when Validation.OutputTailLimit is left zero.
const DefaultOutputTailLimit = 2000

// Validation configures a Run call. It exists (rather than a bare constant)
// so a caller can ask for a different tail length; the orchestrator's
// post-patch validation, which the self-test mode also goes through, uses
// the default.
type Validation struct {
	// OutputTailLimit bounds how much of a test's combined output is kept,
	// so a runaway traceback doesn't dominate the result. Zero means
	// DefaultOutputTailLimit.
	OutputTailLimit int
}

func (v Validation) tailLimit() int {
	if v.OutputTailLimit > 0 {
		return v.OutputTailLimit
	}
	return DefaultOutputTailLimit
}

// Sandbox is the subset of the sandbox Manager the Validator needs: running
// a command in the already-provisioned container. The Validator never
// re-provisions and never mutates the filesystem itself.
type Sandbox interface {
	ExecuteBash(ctx context.Context, command string) (sandbox.BashResult, error)
}

// TestResult is the outcome of running a single test identifier.
type TestResult struct {
	Name       string
	Command    string
	Passed     bool
	OutputTail string
}

// Report is the full validation outcome for a task attempt.
type Report struct {
	FailToPass []TestResult
	PassToPass []TestResult

	F2PScore float64
	P2PScore float64
	Overall  float64
	Resolved bool
}

// Run executes every test in t.FailToPass then every test in t.PassToPass,
// in that fixed order, against the already-running sandbox sb. pythonBin
// selects the interpreter the generated commands invoke.
func Run(ctx context.Context, sb Sandbox, t task.Task, pythonBin string, cfg Validation) Report {
	report := Report{
		FailToPass: runTests(ctx, sb, t.Repo, t.Version, t.FailToPass, pythonBin, cfg),
		PassToPass: runTests(ctx, sb, t.Repo, t.Version, t.PassToPass, pythonBin, cfg),
	}
	report.F2PScore = passFraction(report.FailToPass)
	report.P2PScore = passFraction(report.PassToPass)

	totalPassed := countPassed(report.FailToPass) + countPassed(report.PassToPass)
	total := len(report.FailToPass) + len(report.PassToPass)
	if total > 0 {
		report.Overall = float64(totalPassed) / float64(total)
	}
	report.Resolved = total > 0 && report.Overall == 1.0
	return report
}

func runTests(ctx context.Context, sb Sandbox, repo, version string, names []string, pythonBin string, cfg Validation) []TestResult {
	results := make([]TestResult, 0, len(names))
	for _, name := range names {
		results = append(results, runOne(ctx, sb, repo, version, name, pythonBin, cfg))
	}
	return results
}

func runOne(ctx context.Context, sb Sandbox, repo, version, name, pythonBin string, cfg Validation) TestResult {
	cmd := Command(repo, version, name, pythonBin)

	testCtx, cancel := context.WithTimeout(ctx, defaultTestTimeout)
	defer cancel()

	res, err := sb.ExecuteBash(testCtx, cmd)
	if err != nil {
		return TestResult{Name: name, Command: cmd, Passed: false, OutputTail: err.Error()}
	}
	return TestResult{
		Name:       name,
		Command:    cmd,
		Passed:     res.Success,
		OutputTail: tail(res.Stdout+res.Stderr, cfg.tailLimit()),
	}
}

func passFraction(results []TestResult) float64 {
	if len(results) == 0 {
		return 0.0
	}
	return float64(countPassed(results)) / float64(len(results))
}

func countPassed(results []TestResult) int {
	n := 0
	for _, r := range results {
		if r.Passed {
			n++
		}
	}
	return n
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
