package selftest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbench/harness/internal/solver"
	"github.com/agentbench/harness/internal/task"
)

// newFixtureRepo creates a local on-disk repo with one commit containing
// path, and returns its directory and commit hash so Preflight can be
// pointed at it without touching the network.
func newFixtureRepo(t *testing.T, path, content string) (dir, hash string) {
	t.Helper()
	dir = t.TempDir()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	full := dir + "/" + path
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	_, err = wt.Add(path)
	require.NoError(t, err)

	commit, err := wt.Commit("fixture commit", &git.CommitOptions{
		Author: &object.Signature{Name: "fixture", Email: "fixture@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	return dir, commit.String()
}

func TestPreflight_SucceedsWhenPatchedFilesExistAtBaseCommit(t *testing.T) {
	dir, hash := newFixtureRepo(t, "models.py", "class Model:\n    pass\n")

	tk := task.Task{
		InstanceID: "fixture-1",
		BaseCommit: hash,
		GoldPatch:  "--- a/models.py\n+++ b/models.py\n@@ -1,2 +1,3 @@\n class Model:\n+    x = 1\n     pass\n",
	}

	err := Preflight(context.Background(), tk, dir)
	assert.NoError(t, err)
}

func TestPreflight_FailsWhenPatchedFileAbsentAtBaseCommit(t *testing.T) {
	dir, hash := newFixtureRepo(t, "models.py", "class Model:\n    pass\n")

	tk := task.Task{
		InstanceID: "fixture-2",
		BaseCommit: hash,
		GoldPatch:  "--- a/views.py\n+++ b/views.py\n@@ -1 +1,2 @@\n x\n+y\n",
	}

	err := Preflight(context.Background(), tk, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "views.py")
}

func TestPreflight_FailsWhenBaseCommitUnknown(t *testing.T) {
	dir, _ := newFixtureRepo(t, "models.py", "class Model:\n    pass\n")

	tk := task.Task{
		InstanceID: "fixture-3",
		BaseCommit: "0000000000000000000000000000000000000000",
		GoldPatch:  "--- a/models.py\n+++ b/models.py\n@@ -1 +1,2 @@\n x\n+y\n",
	}

	err := Preflight(context.Background(), tk, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestPreflight_RejectsMissingBaseCommitOrGoldPatch(t *testing.T) {
	err := Preflight(context.Background(), task.Task{InstanceID: "no-commit"}, "/irrelevant")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_commit")

	err = Preflight(context.Background(), task.Task{InstanceID: "no-patch", BaseCommit: "abc"}, "/irrelevant")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gold patch")
}

func TestGoldPatchMessenger_RepliesWithPatchAction(t *testing.T) {
	m := NewGoldPatchMessenger(task.Task{GoldPatch: "--- a/x\n+++ b/x\n"})

	reply, err := m.Send(context.Background(), "unused", solver.Message{New: true})
	require.NoError(t, err)
	assert.Contains(t, reply, `"action":"patch"`)
}

func TestGoldPatchMessenger_ErrorsWithoutGoldPatch(t *testing.T) {
	m := NewGoldPatchMessenger(task.Task{})
	_, err := m.Send(context.Background(), "unused", solver.Message{New: true})
	require.Error(t, err)
}

func TestPatchedFiles(t *testing.T) {
	patch := "--- a/pkg/foo.go\n+++ b/pkg/foo.go\n@@ -1 +1 @@\n-a\n+b\n--- a/pkg/bar.go\n+++ b/pkg/bar.go\n"
	assert.Equal(t, []string{"pkg/foo.go", "pkg/bar.go"}, patchedFiles(patch))
}
