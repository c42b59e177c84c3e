package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/agentbench/harness/internal/log"
	"github.com/agentbench/harness/internal/task"
)

const (
	defaultContainerMemoryMB = 4096
	defaultContainerCPUs     = 2
	// diagnosticsPort is published (loopback only, host-assigned) on every
	// task sandbox so an operator can `docker port` into a running attempt.
	// Debug containers (see ExecuteDebug) don't get one: they're ephemeral
	// snapshots, not attempts under observation.
	diagnosticsPort = 7777
)

// BashResult is the structured outcome of a single bash command.
type BashResult struct {
	Cwd     string
	Stdout  string
	Stderr  string
	Success bool
	Error   string
}

// PatchResult is the structured outcome of a patch-application attempt.
type PatchResult struct {
	Success bool
	Cwd     string
	Stdout  string
	Stderr  string
	Error   string
}

// Manager owns one task's sandbox container for the lifetime of one attempt.
// It tracks the solver's working directory, enforces the blocked-path and
// git-restriction policy, and brackets every write with a permission-mode
// toggle so the repo tree is read-only except during an explicit patch
// window. A Manager is not safe for concurrent attempts — callers provision
// one per attempt.
type Manager struct {
	runtime Runtime

	mu             sync.Mutex
	containerID    string
	cwd            string
	task           *task.Task
	pythonVersion  string
	protectedFiles []string
	started        bool
	warnings       []string
}

// Warnings returns non-fatal provisioning issues observed during Start,
// e.g. a test_patch that failed to apply.
// The sandbox still starts and the attempt still proceeds; callers that
// care can surface this on the attempt result instead of trusting the
// validator blindly.
func (m *Manager) Warnings() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.warnings...)
}

// NewManager constructs a Manager bound to the given container runtime.
func NewManager(runtime Runtime) *Manager {
	return &Manager{runtime: runtime, cwd: RepoRoot}
}

// Start provisions a fresh sandbox container for t, following the
// eleven-step sequence: ensure the base image, start the container, clone
// and check out base_commit, extract and install dependencies pinned at
// environment_setup_commit, install the package itself, carve out agent
// scratch space, apply the test patch and compute protected paths, lock the
// tree read-only, and run a best-effort baseline test command.
func (m *Manager) Start(ctx context.Context, t task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger := log.WithAttempt(t.InstanceID, 0)

	m.task = &t
	m.cwd = RepoRoot
	m.pythonVersion = PythonVersion(t.Repo, t.Version)

	imageTag := ImageTag(m.pythonVersion)
	exists, err := m.runtime.ImageExists(ctx, imageTag)
	if err != nil {
		return fmt.Errorf("checking sandbox image: %w", err)
	}
	if !exists {
		logger.Info("building sandbox image", "tag", imageTag)
		if err := m.runtime.BuildImage(ctx, GenerateDockerfile(m.pythonVersion), imageTag, nil); err != nil {
			return fmt.Errorf("building sandbox image: %w", err)
		}
	}

	containerName := fmt.Sprintf("swebench-%s-%s", sanitizeName(t.InstanceID), uuid.NewString()[:8])
	containerID, err := m.runtime.CreateContainer(ctx, ContainerConfig{
		Name:            containerName,
		Image:           imageTag,
		Cmd:             []string{"tail", "-f", "/dev/null"},
		WorkingDir:      RepoRoot,
		MemoryMB:        defaultContainerMemoryMB,
		CPUs:            defaultContainerCPUs,
		DiagnosticsPort: diagnosticsPort,
	})
	if err != nil {
		return fmt.Errorf("creating sandbox container: %w", err)
	}
	m.containerID = containerID

	if err := m.runtime.StartContainer(ctx, containerID); err != nil {
		return fmt.Errorf("starting sandbox container: %w", err)
	}

	cloneCmd := fmt.Sprintf("git clone --quiet https://github.com/%s.git %s", t.Repo, RepoRoot)
	if res, err := m.runAt(ctx, cloneCmd, "/workspace"); err != nil || !res.Success {
		m.teardown(ctx)
		return fmt.Errorf("cloning repository: %s", errString(err, res))
	}

	checkoutCmd := fmt.Sprintf("git checkout --quiet %s", t.BaseCommit)
	if res, err := m.runAt(ctx, checkoutCmd, RepoRoot); err != nil || !res.Success {
		m.teardown(ctx)
		return fmt.Errorf("checking out base_commit: %s", errString(err, res))
	}

	m.extractEnvironmentManifests(ctx, t.EnvironmentSetupCommit)
	if res, err := m.installExternalDependencies(ctx); err != nil || !res.Success {
		logger.Warn("external dependency installation failed", "stderr", res.Stderr)
	}
	if res, err := m.installPackage(ctx); err != nil || !res.Success {
		logger.Warn("package installation failed", "stderr", res.Stderr)
	}

	m.runAt(ctx, fmt.Sprintf("mkdir -p %s", AgentTempDir), RepoRoot)
	m.runAt(ctx, fmt.Sprintf("echo '.agent_temp/' >> %s/.gitignore", RepoRoot), RepoRoot)

	if t.TestPatch != "" {
		m.protectedFiles = extractFilesFromPatch(t.TestPatch)
		if len(m.protectedFiles) > 0 {
			testPatchFile := AgentTempDir + "/test_patch.diff"
			if err := m.writeFile(ctx, testPatchFile, t.TestPatch); err == nil {
				applyCmd := fmt.Sprintf("cd %s && git apply --whitespace=fix --verbose %s", RepoRoot, testPatchFile)
				if res, _ := m.runAt(ctx, applyCmd, RepoRoot); !res.Success {
					logger.Warn("test patch application failed", "stderr", res.Stderr)
					m.warnings = append(m.warnings, fmt.Sprintf("test_patch failed to apply: %s", res.Stderr))
				}
				m.runAt(ctx, fmt.Sprintf("rm -f %s", testPatchFile), RepoRoot)
			}
		}
	}

	lockCmd := fmt.Sprintf("chmod -R a-w %s && chmod -R a+rX %s", RepoRoot, RepoRoot)
	if res, _ := m.runAt(ctx, lockCmd, RepoRoot); !res.Success {
		logger.Warn("setting read-only permissions failed", "stderr", res.Stderr)
	}

	// Best-effort baseline test collection for diagnostics: tests are
	// collected, not run. Its outcome is logged at debug level and never
	// reaches the solver or the attempt's metrics.
	if res, _ := m.runAt(ctx, "python -m pytest --collect-only -q 2>&1 | tail -n 5", RepoRoot); res.Success {
		logger.Debug("baseline test collection", "output", strings.TrimSpace(res.Stdout))
	} else {
		logger.Debug("baseline test collection failed", "stderr", res.Stderr)
	}

	m.started = true
	return nil
}

func (m *Manager) extractEnvironmentManifests(ctx context.Context, envCommit string) {
	m.runAt(ctx, "mkdir -p /tmp/env_reqs", RepoRoot)
	for _, f := range append(append([]string{}, requirementsFiles...), condaEnvFiles...) {
		cmd := fmt.Sprintf("git show %s:%s > /tmp/env_reqs/%s 2>/dev/null || true", envCommit, f, f)
		m.runAt(ctx, cmd, RepoRoot)
	}
}

func (m *Manager) installExternalDependencies(ctx context.Context) (BashResult, error) {
	var installed bool
	for _, f := range requirementsFiles {
		check, _ := m.runAt(ctx, fmt.Sprintf("test -f /tmp/env_reqs/%s", f), RepoRoot)
		if !check.Success {
			continue
		}
		if res, _ := m.runAt(ctx, fmt.Sprintf("pip install -r /tmp/env_reqs/%s -q", f), RepoRoot); res.Success {
			installed = true
		}
	}

	// Conda environment files carry their pip-installable subset under a
	// nested "- pip:" key; the conda packages themselves are not installed
	// (the sandbox image has no conda).
	for _, f := range condaEnvFiles {
		out, _ := m.runAt(ctx, fmt.Sprintf("cat /tmp/env_reqs/%s", f), RepoRoot)
		if !out.Success || strings.TrimSpace(out.Stdout) == "" {
			continue
		}
		pipDeps, err := pipDepsFromCondaEnv([]byte(out.Stdout))
		if err != nil || len(pipDeps) == 0 {
			continue
		}
		quoted := make([]string, 0, len(pipDeps))
		for _, dep := range pipDeps {
			quoted = append(quoted, "'"+dep+"'")
		}
		if res, _ := m.runAt(ctx, "pip install -q "+strings.Join(quoted, " "), RepoRoot); res.Success {
			installed = true
		}
	}

	if installed {
		return BashResult{Success: true}, nil
	}
	return BashResult{Success: false, Stderr: "no requirements files found"}, nil
}

// installPackage tries an ordered list of editable-install invocations and
// accepts the first one that succeeds.
func (m *Manager) installPackage(ctx context.Context) (BashResult, error) {
	installCommands := []string{
		"pip install -e . -q 2>/dev/null",
		"pip install -e .[dev] -q 2>/dev/null",
		"pip install -e .[test] -q 2>/dev/null",
	}
	for _, cmd := range installCommands {
		if res, _ := m.runAt(ctx, cmd, RepoRoot); res.Success {
			return res, nil
		}
	}
	return BashResult{Success: false, Stderr: "could not install package"}, nil
}

// ExecuteBash runs command with cwd tracking and policy enforcement: blocked
// system paths are rejected outright, restricted git invocations never reach
// the container, and cd / compound commands update m.cwd.
func (m *Manager) ExecuteBash(ctx context.Context, command string) (BashResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return BashResult{Cwd: m.cwd, Success: false, Error: "sandbox not started"}, nil
	}

	command = strings.TrimSpace(command)

	if blocked := containsBlockedPath(command); blocked != "" {
		return BashResult{
			Cwd:     m.cwd,
			Success: false,
			Stderr:  fmt.Sprintf("Access denied: %s is outside the allowed workspace", blocked),
			Error:   "blocked path access",
		}, nil
	}

	if reason := checkGitRestriction(command, m.task.BaseCommit); reason != "" {
		return BashResult{Cwd: m.cwd, Success: false, Stderr: reason, Error: "restricted git command"}, nil
	}

	if command == "cd" || strings.HasPrefix(command, "cd ") {
		return m.handleCD(ctx, command), nil
	}

	if strings.Contains(command, " && ") || strings.Contains(command, " ; ") {
		return m.handleCompound(ctx, command), nil
	}

	res, err := m.runAt(ctx, command, m.cwd)
	res.Cwd = m.cwd
	return res, err
}

func (m *Manager) handleCD(ctx context.Context, command string) BashResult {
	fields := strings.SplitN(command, " ", 2)
	target := RepoRoot
	if len(fields) == 2 {
		target = strings.Trim(strings.TrimSpace(fields[1]), "'\"")
	}

	if target == "-" {
		return BashResult{Cwd: m.cwd, Success: false, Stderr: "cd - not supported"}
	}
	if target == "~" || strings.HasPrefix(target, "~/") {
		return BashResult{Cwd: m.cwd, Success: false, Stderr: fmt.Sprintf("cannot cd outside repo root (%s)", RepoRoot)}
	}

	newCwd := resolvePath(m.cwd, target)
	if !isWithinRepo(newCwd) {
		return BashResult{Cwd: m.cwd, Success: false, Stderr: fmt.Sprintf("cannot cd outside repo root (%s)", RepoRoot)}
	}

	check, _ := m.runAt(ctx, fmt.Sprintf("test -d '%s'", newCwd), m.cwd)
	if !check.Success {
		return BashResult{Cwd: m.cwd, Success: false, Stderr: fmt.Sprintf("bash: cd: %s: No such file or directory", target)}
	}

	m.cwd = newCwd
	return BashResult{Cwd: m.cwd, Success: true}
}

// handleCompound runs a compound command as-is and, if it contained a cd,
// takes the shell's final working directory afterward rather than trying to
// parse the shell's own control flow. The directory is printed by the same
// shell that ran the command, behind a marker line that is stripped from the
// returned stdout; the command's own exit status is preserved.
func (m *Manager) handleCompound(ctx context.Context, command string) BashResult {
	const cwdMarker = "__HARNESS_CWD__:"
	res, _ := m.runAt(ctx, command+"\n__rc=$?; printf '\\n"+cwdMarker+"%s' \"$PWD\"; exit $__rc", m.cwd)

	if i := strings.LastIndex(res.Stdout, "\n"+cwdMarker); i >= 0 {
		newCwd := strings.TrimSpace(res.Stdout[i+1+len(cwdMarker):])
		res.Stdout = res.Stdout[:i]
		if res.Success && (strings.Contains(command, "cd ") || strings.HasPrefix(command, "cd")) && isWithinRepo(newCwd) {
			m.cwd = newCwd
		}
	}

	res.Cwd = m.cwd
	return res
}

// ApplyPatch applies a unified diff to the repo: it opens a write window,
// keeps protected test files locked, writes the patch via a streamed exec
// instead of shell interpolation, and tries three fallback strategies before
// giving up.
func (m *Manager) ApplyPatch(ctx context.Context, patch string) (PatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return PatchResult{Cwd: m.cwd, Success: false, Error: "sandbox not started"}, nil
	}
	if strings.TrimSpace(patch) == "" {
		return PatchResult{Cwd: m.cwd, Success: false, Error: "empty patch"}, nil
	}

	if violations := m.protectedViolations(patch); len(violations) > 0 {
		return PatchResult{
			Cwd:     m.cwd,
			Success: false,
			Stderr:  fmt.Sprintf("Cannot modify protected test files: %s", strings.Join(violations, ", ")),
			Error:   "protected file modification attempted",
		}, nil
	}

	m.runAt(ctx, fmt.Sprintf("chmod -R u+w %s", RepoRoot), RepoRoot)
	for _, f := range m.protectedFiles {
		m.runAt(ctx, fmt.Sprintf("chmod a-w %s/%s 2>/dev/null || true", RepoRoot, f), RepoRoot)
	}

	patchFile := AgentTempDir + "/patch.diff"
	if err := m.writeFile(ctx, patchFile, patch); err != nil {
		m.runAt(ctx, fmt.Sprintf("chmod -R a-w %s", RepoRoot), RepoRoot)
		return PatchResult{Cwd: m.cwd, Success: false, Stderr: err.Error(), Error: "failed to write patch"}, nil
	}

	applyResult := m.applyWithFallbacks(ctx, patchFile)

	m.runAt(ctx, fmt.Sprintf("rm -f %s", patchFile), RepoRoot)
	m.runAt(ctx, fmt.Sprintf("chmod -R a-w %s && chmod -R a+rX %s", RepoRoot, RepoRoot), RepoRoot)

	errMsg := ""
	if !applyResult.Success {
		errMsg = "patch application failed"
	}
	return PatchResult{
		Success: applyResult.Success,
		Cwd:     m.cwd,
		Stdout:  applyResult.Stdout,
		Stderr:  applyResult.Stderr,
		Error:   errMsg,
	}, nil
}

func (m *Manager) applyWithFallbacks(ctx context.Context, patchFile string) BashResult {
	strategies := []string{
		fmt.Sprintf("cd %s && git apply --whitespace=fix --verbose %s", RepoRoot, patchFile),
		fmt.Sprintf("cd %s && git apply --whitespace=fix --3way %s", RepoRoot, patchFile),
		fmt.Sprintf("cd %s && patch -p1 --ignore-whitespace < %s", RepoRoot, patchFile),
	}

	var last BashResult
	for _, cmd := range strategies {
		last, _ = m.runAt(ctx, cmd, RepoRoot)
		if last.Success {
			return last
		}
	}
	return last
}

func (m *Manager) protectedViolations(patch string) []string {
	if len(m.protectedFiles) == 0 {
		return nil
	}
	protected := make(map[string]bool, len(m.protectedFiles))
	for _, f := range m.protectedFiles {
		protected[f] = true
	}
	var violations []string
	for _, f := range extractFilesFromPatch(patch) {
		if protected[f] {
			violations = append(violations, f)
		}
	}
	return violations
}

// ExecuteDebug applies patch (if any) and runs command inside an ephemeral
// clone of the current container state, then unconditionally destroys that
// clone. The live sandbox is never mutated by a debug session.
func (m *Manager) ExecuteDebug(ctx context.Context, patch, command string) (BashResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return BashResult{Cwd: m.cwd, Success: false, Error: "sandbox not started"}, nil
	}

	if patch != "" {
		if violations := m.protectedViolations(patch); len(violations) > 0 {
			return BashResult{
				Cwd:     m.cwd,
				Success: false,
				Stderr:  fmt.Sprintf("Cannot modify protected test files: %s", strings.Join(violations, ", ")),
				Error:   "protected file modification attempted",
			}, nil
		}
	}

	snapshotTag := fmt.Sprintf("debug-snapshot-%s", uuid.NewString()[:8])
	if err := m.runtime.CommitContainer(ctx, m.containerID, snapshotTag); err != nil {
		return BashResult{Cwd: m.cwd, Success: false, Stderr: err.Error(), Error: "debug snapshot failed"}, nil
	}
	defer func() {
		m.runtime.RemoveImage(context.Background(), snapshotTag)
	}()

	debugContainerName := fmt.Sprintf("swebench-debug-%s", uuid.NewString()[:8])
	debugID, err := m.runtime.CreateContainer(ctx, ContainerConfig{
		Name:            debugContainerName,
		Image:           snapshotTag,
		Cmd:             []string{"tail", "-f", "/dev/null"},
		WorkingDir:      RepoRoot,
		MemoryMB:        defaultContainerMemoryMB,
		CPUs:            defaultContainerCPUs,
		NetworkDisabled: true,
	})
	if err != nil {
		return BashResult{Cwd: m.cwd, Success: false, Stderr: err.Error(), Error: "debug container failed"}, nil
	}
	defer func() {
		m.runtime.RemoveContainer(context.Background(), debugID)
	}()

	if err := m.runtime.StartContainer(ctx, debugID); err != nil {
		return BashResult{Cwd: m.cwd, Success: false, Stderr: err.Error(), Error: "debug container failed"}, nil
	}

	m.runtime.Exec(ctx, debugID, ExecOptions{Cmd: []string{"chmod", "-R", "u+w", RepoRoot}})
	for _, f := range m.protectedFiles {
		m.runtime.Exec(ctx, debugID, ExecOptions{Cmd: []string{"chmod", "a-w", RepoRoot + "/" + f}})
	}

	if strings.TrimSpace(patch) != "" {
		patchFile := AgentTempDir + "/debug_patch.diff"
		if _, err := m.runtime.Exec(ctx, debugID, ExecOptions{Cmd: []string{"tee", patchFile}, Stdin: strings.NewReader(patch)}); err != nil {
			return BashResult{Cwd: m.cwd, Success: false, Stderr: err.Error(), Error: "debug patch failed"}, nil
		}
		applyRes, err := m.runtime.Exec(ctx, debugID, ExecOptions{Cmd: []string{"git", "apply", "--whitespace=fix", patchFile}, WorkingDir: RepoRoot})
		if err != nil || applyRes.ExitCode != 0 {
			return BashResult{Cwd: m.cwd, Success: false, Stderr: applyRes.Stderr, Error: "debug patch failed"}, nil
		}
	}

	execRes, err := m.runtime.Exec(ctx, debugID, ExecOptions{Cmd: []string{"bash", "-c", command}, WorkingDir: m.cwd})
	if err != nil {
		return BashResult{Cwd: m.cwd, Success: false, Stderr: err.Error()}, nil
	}

	return BashResult{Cwd: m.cwd, Stdout: execRes.Stdout, Stderr: execRes.Stderr, Success: execRes.ExitCode == 0}, nil
}

// Stop destroys the sandbox container, including one a failed Start left
// behind. It is idempotent: once no container is held (after a first Stop,
// or when Start never created one or already tore it down), it is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.teardown(ctx)
}

func (m *Manager) teardown(ctx context.Context) error {
	if m.containerID == "" {
		return nil
	}
	m.runtime.StopContainer(ctx, m.containerID)
	err := m.runtime.RemoveContainer(ctx, m.containerID)
	m.containerID = ""
	m.started = false
	return err
}

// ContainerID returns the live sandbox's container ID, empty if not started.
func (m *Manager) ContainerID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.containerID
}

// PythonVersion returns the runtime version selected for this sandbox's task.
func (m *Manager) PythonVersion() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pythonVersion
}

// Cwd returns the solver's current working directory inside the sandbox.
func (m *Manager) Cwd() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cwd
}

func (m *Manager) runAt(ctx context.Context, command, cwd string) (BashResult, error) {
	res, err := m.runtime.Exec(ctx, m.containerID, ExecOptions{Cmd: []string{"bash", "-c", command}, WorkingDir: cwd})
	if err != nil {
		return BashResult{Cwd: cwd, Success: false, Stderr: err.Error(), Error: err.Error()}, err
	}
	return BashResult{Cwd: cwd, Stdout: res.Stdout, Stderr: res.Stderr, Success: res.ExitCode == 0}, nil
}

func (m *Manager) writeFile(ctx context.Context, path, content string) error {
	res, err := m.runtime.Exec(ctx, m.containerID, ExecOptions{Cmd: []string{"tee", path}, Stdin: strings.NewReader(content)})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("writing %s: exit code %d", path, res.ExitCode)
	}
	return nil
}

func sanitizeName(s string) string {
	return strings.ReplaceAll(s, "/", "-")
}

func errString(err error, res BashResult) string {
	if err != nil {
		return err.Error()
	}
	return res.Stderr
}
