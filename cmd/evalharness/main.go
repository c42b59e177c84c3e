// Command evalharness is a minimal entrypoint wiring the task registry,
// sandbox manager, orchestrator, and driver together. It intentionally does
// not grow into a daemon or a process supervisor; its job stops at decoding
// one request, running it, and printing the result.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentbench/harness/internal/driver"
	"github.com/agentbench/harness/internal/evalconfig"
	"github.com/agentbench/harness/internal/log"
	"github.com/agentbench/harness/internal/orchestrator"
	"github.com/agentbench/harness/internal/sandbox"
	"github.com/agentbench/harness/internal/selftest"
	"github.com/agentbench/harness/internal/solver"
	"github.com/agentbench/harness/internal/task"
)

var (
	tasksPath string
	verbose   bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "evalharness",
		Short:         "Runs an evaluation request against the benchmark corpus",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return log.Init(log.Options{Verbose: verbose, JSONFormat: true})
		},
	}
	root.PersistentFlags().StringVar(&tasksPath, "tasks", "", "path to a JSON array of task records (required)")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	_ = root.MarkPersistentFlagRequired("tasks")

	root.AddCommand(runCmd(), selftestCmd())
	return root
}

func runCmd() *cobra.Command {
	var requestPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Decode an evaluation request and run the tasks it selects",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := loadRegistry(tasksPath)
			if err != nil {
				return err
			}

			body, err := readRequestBody(requestPath)
			if err != nil {
				return err
			}
			req, err := evalconfig.Decode(body)
			if err != nil {
				return err
			}
			resolved := req.Resolve()

			tasks, err := registry.Select(resolved.Filter)
			if err != nil {
				return fmt.Errorf("selecting tasks: %w", err)
			}

			messenger := solver.NewHTTPMessenger(resolved.Budgets.MessagingTimeout)
			o := orchestrator.New(messenger, resolved.SolverEndpoint, resolved.Budgets)
			d := driver.New(dockerSandboxFactory, o, resolved.DriverConfig)

			artifact, err := d.Run(cmd.Context(), tasks)
			if err != nil {
				return fmt.Errorf("evaluation run: %w", err)
			}
			return printArtifact(cmd.OutOrStdout(), artifact)
		},
	}
	cmd.Flags().StringVar(&requestPath, "request", "-", `path to the request JSON, or "-" for stdin`)
	return cmd
}

func selftestCmd() *cobra.Command {
	var skipPreflight bool
	cmd := &cobra.Command{
		Use:   "selftest <instance-id>",
		Short: "Run one attempt against a task using its own gold patch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := loadRegistry(tasksPath)
			if err != nil {
				return err
			}
			t, err := registry.GetByID(args[0])
			if err != nil {
				return err
			}

			if !skipPreflight {
				if err := selftest.PreflightRemote(cmd.Context(), t); err != nil {
					return fmt.Errorf("preflight: %w", err)
				}
			}

			messenger := selftest.NewGoldPatchMessenger(t)
			o := orchestrator.New(messenger, "selftest://local", orchestrator.DefaultBudgets())
			d := driver.New(dockerSandboxFactory, o, driver.Config{MaxAttempts: 1, Concurrency: 1})

			artifact, err := d.Run(cmd.Context(), []task.Task{t})
			if err != nil {
				return fmt.Errorf("self-test run: %w", err)
			}
			return printArtifact(cmd.OutOrStdout(), artifact)
		},
	}
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "skip the network-based base_commit/gold-patch sanity check")
	return cmd
}

func dockerSandboxFactory() driver.Sandbox {
	runtime, err := sandbox.NewDockerRuntime()
	if err != nil {
		return failedSandbox{err: fmt.Errorf("connecting to docker: %w", err)}
	}
	return sandbox.NewManager(runtime)
}

// failedSandbox satisfies driver.Sandbox but fails immediately on Start, so
// a Docker connection error surfaces as a normal per-attempt "error" status
// instead of panicking the whole run.
type failedSandbox struct{ err error }

func (f failedSandbox) Start(ctx context.Context, t task.Task) error { return f.err }
func (f failedSandbox) Stop(ctx context.Context) error               { return nil }
func (f failedSandbox) Warnings() []string                           { return nil }
func (f failedSandbox) PythonVersion() string                        { return "" }
func (f failedSandbox) Cwd() string                                  { return "" }
func (f failedSandbox) ExecuteBash(ctx context.Context, command string) (sandbox.BashResult, error) {
	return sandbox.BashResult{}, f.err
}
func (f failedSandbox) ApplyPatch(ctx context.Context, patch string) (sandbox.PatchResult, error) {
	return sandbox.PatchResult{}, f.err
}
func (f failedSandbox) ExecuteDebug(ctx context.Context, patch, command string) (sandbox.BashResult, error) {
	return sandbox.BashResult{}, f.err
}

func loadRegistry(path string) (*task.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tasks file: %w", err)
	}
	var tasks []task.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("parsing tasks file: %w", err)
	}
	return task.NewRegistry(tasks), nil
}

func readRequestBody(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func printArtifact(w io.Writer, a interface{ Summary() string }) error {
	fmt.Fprintln(w, a.Summary())
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(a)
}
