// Package selftest implements the gold-patch self-test mode: run one full
// attempt against a task using its own reference
// fix as the solver's only move, to smoke-check a sandbox image or a newly
// loaded task end to end without a real solver in the loop.
package selftest

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/agentbench/harness/internal/solver"
	"github.com/agentbench/harness/internal/task"
)

// GoldPatchMessenger is a solver.Messenger stub that answers every
// orchestrator message with the task's own gold patch and never sends
// anything else. When the patch applies, the conversation terminates on
// turn one, the same shape a solver that fixed the bug in one shot would
// produce; when it does not, the same patch is resubmitted until the patch
// retry budget runs out.
type GoldPatchMessenger struct {
	Patch string
}

// NewGoldPatchMessenger builds a GoldPatchMessenger bound to t's reference fix.
func NewGoldPatchMessenger(t task.Task) *GoldPatchMessenger {
	return &GoldPatchMessenger{Patch: t.GoldPatch}
}

func (m *GoldPatchMessenger) Send(ctx context.Context, endpoint string, msg solver.Message) (string, error) {
	if m.Patch == "" {
		return "", fmt.Errorf("task carries no gold patch to self-test against")
	}
	return fmt.Sprintf(`{"action":"patch","content":%q}`, m.Patch), nil
}

// PreflightRemote runs Preflight against t's GitHub remote.
func PreflightRemote(ctx context.Context, t task.Task) error {
	return Preflight(ctx, t, fmt.Sprintf("https://github.com/%s.git", t.Repo))
}

// Preflight performs a Docker-free sanity check of a task before the
// (expensive) sandbox is provisioned: it fetches base_commit from repoURL
// with go-git's in-memory transport, confirms the commit exists, and
// confirms every file the gold patch's diff headers name is present in
// that commit's tree. This catches a malformed task record (wrong commit,
// renamed file, truncated patch) in seconds rather than after a
// multi-minute container build. repoURL is a parameter, rather than always
// derived from t.Repo, so tests can point it at a local fixture repo.
func Preflight(ctx context.Context, t task.Task, repoURL string) error {
	if t.BaseCommit == "" {
		return fmt.Errorf("preflight %s: base_commit is empty", t.InstanceID)
	}
	if t.GoldPatch == "" {
		return fmt.Errorf("preflight %s: no gold patch to self-test against", t.InstanceID)
	}

	repo, err := git.CloneContext(ctx, memory.NewStorage(), nil, &git.CloneOptions{
		URL:        repoURL,
		Tags:       git.NoTags,
		NoCheckout: true,
	})
	if err != nil {
		return fmt.Errorf("preflight %s: cloning %s: %w", t.InstanceID, repoURL, err)
	}

	commit, err := repo.CommitObject(plumbing.NewHash(t.BaseCommit))
	if err != nil {
		return fmt.Errorf("preflight %s: base_commit %s not found: %w", t.InstanceID, t.BaseCommit, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return fmt.Errorf("preflight %s: reading tree at %s: %w", t.InstanceID, t.BaseCommit, err)
	}

	for _, path := range patchedFiles(t.GoldPatch) {
		if _, err := tree.File(path); err != nil {
			return fmt.Errorf("preflight %s: gold patch touches %s, absent at base_commit %s: %w",
				t.InstanceID, path, t.BaseCommit, err)
		}
	}
	return nil
}

// patchedFiles extracts the pre-image path from each "--- a/<path>" diff
// header, mirroring the protected-path extraction internal/sandbox/policy.go
// does for "+++ b/<path>" headers — here we want the file as it existed
// before the patch, since that's what must already be present in the tree.
func patchedFiles(patch string) []string {
	var files []string
	for _, line := range strings.Split(patch, "\n") {
		if !strings.HasPrefix(line, "--- a/") {
			continue
		}
		path := strings.TrimPrefix(line, "--- a/")
		path = strings.TrimSpace(path)
		if path != "" {
			files = append(files, path)
		}
	}
	return files
}
