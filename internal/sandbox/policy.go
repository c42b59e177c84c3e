package sandbox

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// RepoRoot is where every task's repository is checked out inside the sandbox.
const RepoRoot = "/workspace/repo"

// AgentTempDir is scratch space for patch files and other transient writes,
// ignored by git so it never pollutes the diff the solver can see.
const AgentTempDir = RepoRoot + "/.agent_temp"

// blockedPaths are system directories the solver must never read or write,
// regardless of repo-boundary enforcement (e.g. /proc can leak host info
// even though a "cd" there would already be out-of-bounds).
var blockedPaths = []string{
	"/tmp",
	"/var/tmp",
	"/etc",
	"/root",
	"/home",
	"/proc",
	"/sys",
	"/dev",
	"/run",
	"/var/log",
}

// blockedRefs are git refs that could reveal the fix commit or anything
// after base_commit.
var blockedRefs = []string{"HEAD", "main", "master", "origin/main", "origin/master", "origin/HEAD"}

// containsBlockedPath reports the first blocked path referenced by command,
// distinguishing real path references from incidental substrings (e.g. a
// command containing "pytest" should not trip on "/tmp" appearing nowhere).
func containsBlockedPath(command string) string {
	for _, blocked := range blockedPaths {
		if !strings.Contains(command, blocked) {
			continue
		}
		if strings.HasPrefix(command, blocked) {
			return blocked
		}
		patterns := []string{
			" " + blocked,
			" " + blocked + "/",
			"'" + blocked,
			"\"" + blocked,
			">" + blocked,
			"<" + blocked,
			"cat " + blocked,
			"ls " + blocked,
		}
		for _, p := range patterns {
			if strings.Contains(command, p) {
				return blocked
			}
		}
	}
	return ""
}

// checkGitRestriction rejects git invocations that could expose commits
// after base_commit. It returns a non-empty reason when the command is
// restricted, empty otherwise.
func checkGitRestriction(command, baseCommit string) string {
	cmd := strings.TrimSpace(command)

	switch {
	case strings.HasPrefix(cmd, "git log"):
		for _, ref := range blockedRefs {
			if strings.Contains(cmd, ref) && !strings.Contains(cmd, baseCommit) {
				return fmt.Sprintf("git log with %q is restricted; use 'git log %s' or earlier commits", ref, baseCommit)
			}
		}
	case strings.HasPrefix(cmd, "git show"):
		if cmd == "git show" {
			return fmt.Sprintf("git show without arguments is restricted; use 'git show <commit-hash>' at or before %s", shortSHA(baseCommit))
		}
		for _, ref := range blockedRefs {
			if strings.Contains(cmd, ref) {
				return fmt.Sprintf("git show with %q is restricted; use commit hashes at or before %s", ref, shortSHA(baseCommit))
			}
		}
	case strings.HasPrefix(cmd, "git diff"):
		for _, ref := range blockedRefs {
			if strings.Contains(cmd, ref) {
				return fmt.Sprintf("git diff with %q is restricted; use 'git diff' for unstaged changes or older commits", ref)
			}
		}
	case strings.HasPrefix(cmd, "git checkout"):
		for _, ref := range blockedRefs {
			if strings.Contains(cmd, ref) {
				return fmt.Sprintf("git checkout %q is restricted; the repo is checked out at base_commit %s", ref, shortSHA(baseCommit))
			}
		}
	case strings.HasPrefix(cmd, "git reset"):
		return "git reset is restricted"
	case strings.HasPrefix(cmd, "git pull"), strings.HasPrefix(cmd, "git fetch"):
		return "git pull/fetch is restricted; the repo is in a fixed state"
	}
	return ""
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

// resolvePath resolves target relative to cwd, the way a shell would.
func resolvePath(cwd, target string) string {
	if path.IsAbs(target) {
		return path.Clean(target)
	}
	return path.Clean(path.Join(cwd, target))
}

// isWithinRepo reports whether p lies inside RepoRoot (or is RepoRoot itself).
func isWithinRepo(p string) bool {
	clean := path.Clean(p)
	return clean == RepoRoot || strings.HasPrefix(clean, RepoRoot+"/")
}

// diffNewFilePattern matches "+++ b/path" or "+++ path" lines in a unified diff.
var diffNewFilePattern = regexp.MustCompile(`(?m)^\+\+\+ (?:b/)?(.+)$`)

// extractFilesFromPatch returns the files a unified diff patch touches,
// used to compute which paths a test patch makes read-only.
func extractFilesFromPatch(patch string) []string {
	var files []string
	for _, m := range diffNewFilePattern.FindAllStringSubmatch(patch, -1) {
		f := strings.TrimSpace(m[1])
		if f != "" && f != "/dev/null" {
			files = append(files, f)
		}
	}
	return files
}
