// Package driver iterates tasks x attempts: for each task it provisions a
// fresh sandbox per attempt, hands control to the orchestrator, tears the
// sandbox down on every exit path, and aggregates the resulting
// AttemptResults into pass@k and best-of-k metrics.
package driver

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/agentbench/harness/internal/log"
	"github.com/agentbench/harness/internal/orchestrator"
	"github.com/agentbench/harness/internal/result"
	"github.com/agentbench/harness/internal/task"
)

// SandboxFactory builds a fresh, unstarted sandbox manager for one attempt.
// Abstracted so the driver never imports a concrete container runtime.
type SandboxFactory func() Sandbox

// Sandbox is the subset of sandbox.Manager the driver needs directly: start,
// stop, and the non-fatal provisioning warnings Start may have accumulated.
// Dispatch during the conversation itself goes through orchestrator.Sandbox,
// which this type also satisfies.
type Sandbox interface {
	orchestrator.Sandbox
	Start(ctx context.Context, t task.Task) error
	Stop(ctx context.Context) error
	Warnings() []string
}

// Config holds the per-request knobs beyond the orchestrator's own budgets.
type Config struct {
	MaxAttempts int // k in pass@k; default 1
	// Concurrency bounds how many tasks run concurrently within one
	// evaluation request. Attempts within a task are always sequential;
	// the default of 1 keeps tasks serialised too, so resource usage stays
	// bounded and logs stay coherent unless a caller opts in.
	Concurrency int
}

// WithDefaults returns c with zero fields replaced by their defaults.
func (c Config) WithDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	return c
}

// Driver runs tasks through NewSandbox-provisioned attempts and the given
// Orchestrator, then aggregates results.
type Driver struct {
	NewSandbox   SandboxFactory
	Orchestrator *orchestrator.Orchestrator
	Config       Config
}

// New builds a Driver with defaults applied.
func New(newSandbox SandboxFactory, o *orchestrator.Orchestrator, cfg Config) *Driver {
	return &Driver{NewSandbox: newSandbox, Orchestrator: o, Config: cfg.WithDefaults()}
}

// Run evaluates every task in tasks for Config.MaxAttempts independent
// attempts each, and returns the aggregate artifact.
func (d *Driver) Run(ctx context.Context, tasks []task.Task) (result.Artifact, error) {
	k := d.Config.MaxAttempts

	perInstance := make([][]result.AttemptResult, len(tasks))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(d.Config.Concurrency)

	var mu sync.Mutex
	for i, t := range tasks {
		i, t := i, t
		group.Go(func() error {
			attempts := make([]result.AttemptResult, 0, k)
			for attempt := 0; attempt < k; attempt++ {
				r := d.runAttempt(groupCtx, t, attempt)
				attempts = append(attempts, r)
			}
			mu.Lock()
			perInstance[i] = attempts
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return result.Artifact{}, fmt.Errorf("evaluation run: %w", err)
	}

	return Aggregate(perInstance, k), nil
}

// runAttempt provisions one sandbox, drives one conversation, and
// unconditionally tears the sandbox down before returning — exactly one
// sandbox is created and destroyed per attempt, regardless of how the
// orchestrator's Run call exits.
func (d *Driver) runAttempt(ctx context.Context, t task.Task, attempt int) result.AttemptResult {
	logger := log.WithAttempt(t.InstanceID, attempt)
	sb := d.NewSandbox()
	defer func() {
		stopCtx := context.Background()
		if err := sb.Stop(stopCtx); err != nil {
			logger.Warn("sandbox teardown failed", "error", err)
		}
	}()

	if err := sb.Start(ctx, t); err != nil {
		logger.Error("sandbox provisioning failed", "error", err)
		return result.AttemptResult{
			InstanceID:   t.InstanceID,
			AttemptIndex: attempt,
			Status:       result.StatusError,
			Error:        fmt.Sprintf("sandbox provisioning failed: %v", err),
		}
	}

	r := d.Orchestrator.Run(ctx, t, attempt, sb)
	r.Warnings = append(r.Warnings, sb.Warnings()...)
	return r
}
