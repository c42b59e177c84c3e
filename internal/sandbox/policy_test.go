package sandbox

import "testing"

func TestContainsBlockedPath(t *testing.T) {
	cases := []struct {
		command string
		want    string
	}{
		{"cat /etc/passwd", "/etc"},
		{"ls /tmp/foo", "/tmp"},
		{"pytest -k test_something", ""},
		{"echo hello > /root/.bashrc", "/root"},
		{"echo hello", ""},
	}
	for _, c := range cases {
		if got := containsBlockedPath(c.command); got != c.want {
			t.Errorf("containsBlockedPath(%q) = %q, want %q", c.command, got, c.want)
		}
	}
}

func TestCheckGitRestriction(t *testing.T) {
	base := "abc123def456"

	cases := []struct {
		command    string
		restricted bool
	}{
		{"git log HEAD -n 5", true},
		{"git log " + base, false},
		{"git show", true},
		{"git show HEAD", true},
		{"git show " + base, false},
		{"git diff origin/main", true},
		{"git checkout main", true},
		{"git reset --hard", true},
		{"git pull", true},
		{"git fetch origin", true},
		{"git status", false},
		{"git diff", false},
	}
	for _, c := range cases {
		reason := checkGitRestriction(c.command, base)
		if (reason != "") != c.restricted {
			t.Errorf("checkGitRestriction(%q) restricted=%v, want %v (reason=%q)", c.command, reason != "", c.restricted, reason)
		}
	}
}

func TestResolvePath(t *testing.T) {
	cases := []struct {
		cwd, target, want string
	}{
		{RepoRoot, "src", RepoRoot + "/src"},
		{RepoRoot + "/src", "..", RepoRoot},
		{RepoRoot, "/etc", "/etc"},
		{RepoRoot + "/src", "./lib", RepoRoot + "/src/lib"},
	}
	for _, c := range cases {
		if got := resolvePath(c.cwd, c.target); got != c.want {
			t.Errorf("resolvePath(%q, %q) = %q, want %q", c.cwd, c.target, got, c.want)
		}
	}
}

func TestIsWithinRepo(t *testing.T) {
	if !isWithinRepo(RepoRoot + "/src") {
		t.Errorf("expected %s/src to be within repo", RepoRoot)
	}
	if isWithinRepo("/etc") {
		t.Errorf("expected /etc to be outside repo")
	}
	if isWithinRepo("/workspace/repo-other") {
		t.Errorf("expected sibling directory sharing a prefix to be outside repo")
	}
}

func TestExtractFilesFromPatch(t *testing.T) {
	patch := `diff --git a/tests/test_foo.py b/tests/test_foo.py
--- a/tests/test_foo.py
+++ b/tests/test_foo.py
@@ -1,3 +1,4 @@
+import os
diff --git a/new_file.py b/new_file.py
--- /dev/null
+++ b/new_file.py
@@ -0,0 +1,2 @@
+x = 1
`
	got := extractFilesFromPatch(patch)
	want := []string{"tests/test_foo.py", "new_file.py"}
	if len(got) != len(want) {
		t.Fatalf("extractFilesFromPatch() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("extractFilesFromPatch()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
