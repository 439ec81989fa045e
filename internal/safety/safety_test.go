package safety

import "testing"

func TestPathAllowedRejectsEscapes(t *testing.T) {
	g := New(Config{
		RepoRoot: "/repo",
		Allow:    []string{"**"},
	})

	cases := []struct {
		path string
		want bool
	}{
		{"src/main.go", true},
		{"../etc/passwd", false},
		{"/etc/passwd", false},
		{"~/secrets", false},
		{".git/config", false},
		{".env", false},
		{".env.local", false},
		{"id_rsa", false},
		{".ssh/id_ed25519", false},
		{"README.md", true},
	}
	for _, c := range cases {
		if got := g.PathAllowed(c.path); got != c.want {
			t.Errorf("PathAllowed(%q) = %v, want %v", c.path, got, c.want)
		}
	}
}

func TestPathAllowedRequiresAllowMatch(t *testing.T) {
	g := New(Config{
		RepoRoot: "/repo",
		Allow:    []string{"src/**"},
		Deny:     []string{"src/**/*_generated.go"},
	})

	if !g.PathAllowed("src/pkg/foo.go") {
		t.Error("expected src/pkg/foo.go to be allowed")
	}
	if g.PathAllowed("other/foo.go") {
		t.Error("expected other/foo.go to be rejected, no allow match")
	}
	if g.PathAllowed("src/pkg/foo_generated.go") {
		t.Error("expected deny glob to override allow")
	}
}

func TestPathAllowedDefaultsRestrictive(t *testing.T) {
	g := New(Config{RepoRoot: "/repo"})
	if g.PathAllowed("anything.txt") {
		t.Error("empty allow list must reject everything")
	}
}

func TestProgramAllowed(t *testing.T) {
	g := New(Config{ProgramAllowlist: []string{"go", "git"}})
	if !g.ProgramAllowed("go") {
		t.Error("expected go to be allowed")
	}
	if !g.ProgramAllowed("/usr/local/bin/git") {
		t.Error("expected basename match for full path")
	}
	if g.ProgramAllowed("rm") {
		t.Error("expected rm to be rejected, not in allowlist")
	}
}
