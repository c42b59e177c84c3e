// Package sandbox provisions per-attempt Docker containers the solver's
// commands run inside, and enforces the write-permission and path-blocking
// policy that keeps a misbehaving or malicious patch from touching anything
// outside the task's repository tree.
package sandbox

import (
	"context"
	"io"
)

// Runtime is the subset of container-runtime operations the sandbox needs.
// It exists so Manager never imports the Docker SDK directly, which keeps
// tests able to swap in a fake.
type Runtime interface {
	// Ping verifies the runtime is reachable.
	Ping(ctx context.Context) error

	// ImageExists reports whether tag is present locally.
	ImageExists(ctx context.Context, tag string) (bool, error)

	// BuildImage builds an image tagged tag from the given Dockerfile content,
	// with contextFiles added to the build context alongside it.
	BuildImage(ctx context.Context, dockerfile string, tag string, contextFiles map[string][]byte) error

	// CreateContainer creates (but does not start) a container and returns its ID.
	CreateContainer(ctx context.Context, cfg ContainerConfig) (string, error)

	// StartContainer starts a created container.
	StartContainer(ctx context.Context, id string) error

	// StopContainer stops a running container, ignoring "already stopped".
	StopContainer(ctx context.Context, id string) error

	// RemoveContainer force-removes a container, ignoring "not found".
	RemoveContainer(ctx context.Context, id string) error

	// ContainerLogsAll returns the full, non-following combined log output.
	ContainerLogsAll(ctx context.Context, id string) ([]byte, error)

	// Exec runs a command inside a running container and returns its
	// separately-demuxed stdout, stderr, and exit code. If stdin is
	// non-nil its contents are streamed to the process before output is
	// read.
	Exec(ctx context.Context, containerID string, opts ExecOptions) (ExecResult, error)

	// CommitContainer snapshots a running container's filesystem into a new
	// image tag, the way a debug session clones sandbox state without
	// touching it.
	CommitContainer(ctx context.Context, containerID, tag string) error

	// RemoveImage removes an image by tag, ignoring "not found".
	RemoveImage(ctx context.Context, tag string) error

	// Close releases runtime resources.
	Close() error
}

// ContainerConfig holds what's needed to create a task sandbox container.
type ContainerConfig struct {
	Name       string
	Image      string
	Cmd        []string
	WorkingDir string
	Env        []string
	MemoryMB   int
	CPUs       int
	// NetworkDisabled runs the container with network mode "none", used
	// once the sandbox no longer needs outbound access (e.g. ephemeral
	// debug containers never need it at all).
	NetworkDisabled bool
	// DiagnosticsPort, if non-zero, is published on loopback so an operator
	// can attach a profiler or log-tail session to a running attempt
	// without an exec session of their own. 0 disables publishing.
	DiagnosticsPort int
}

// ExecOptions configures a single exec invocation.
type ExecOptions struct {
	Cmd        []string
	User       string // empty means the container's default user
	WorkingDir string // empty means the container's default working directory
	Stdin      io.Reader
}

// Output truncation limits applied by every Runtime.Exec implementation.
const (
	execStdoutLimit = 10000
	execStderrLimit = 2000
)

// ExecResult is the outcome of an Exec call. Stdout and Stderr are demuxed
// separately and truncated to execStdoutLimit/execStderrLimit bytes before
// they ever reach a caller.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}
