// Package safety is the single source of truth for "may this path/program
// be touched?" (§4.1). It never throws; every check collapses to a bool.
package safety

import (
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar"
)

// systemDeny are fixed rejection patterns applied before any configured
// allow/deny glob is consulted — a user's allowlist can never override these.
var systemDeny = []*regexp.Regexp{
	regexp.MustCompile(`^\.git/`),
	regexp.MustCompile(`^\.env(\.|$)`),
	regexp.MustCompile(`(^|/)id_(rsa|ed25519|ecdsa|dsa)$`),
	regexp.MustCompile(`(^|/)\.ssh/`),
	regexp.MustCompile(`(^|/)\.aws/credentials$`),
	regexp.MustCompile(`\.pem$`),
	regexp.MustCompile(`\.pfx$`),
	regexp.MustCompile(`(^|/)\.netrc$`),
}

// Gate evaluates path and program rules against a repo root and configured
// glob lists. A zero-value Gate rejects everything; use New.
type Gate struct {
	mu          sync.RWMutex
	repoRoot    string
	allow       []string
	deny        []string
	programs    map[string]bool
}

// Config is the subset of .agent.yml's safety section a Gate is built from.
type Config struct {
	RepoRoot         string
	Allow            []string
	Deny             []string
	ProgramAllowlist []string
}

// New builds a Gate. Defaults are restrictive: an empty allow list allows
// nothing, matching spec.md's "defaults are restrictive" requirement.
func New(cfg Config) *Gate {
	programs := make(map[string]bool, len(cfg.ProgramAllowlist))
	for _, p := range cfg.ProgramAllowlist {
		programs[p] = true
	}
	return &Gate{
		repoRoot: cfg.RepoRoot,
		allow:    append([]string(nil), cfg.Allow...),
		deny:     append([]string(nil), cfg.Deny...),
		programs: programs,
	}
}

// PathAllowed implements path_allowed?(relative_path) per §4.1's ordered
// rule list: absolute/".."/"~" rejected outright, then system-deny regexes,
// then repo-root escape, then allow AND NOT deny glob evaluation.
func (g *Gate) PathAllowed(relativePath string) bool {
	if relativePath == "" {
		return false
	}
	if filepath.IsAbs(relativePath) {
		return false
	}
	if strings.HasPrefix(relativePath, "~") {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(relativePath), "/") {
		if seg == ".." {
			return false
		}
	}
	cleaned := filepath.ToSlash(filepath.Clean(relativePath))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return false
	}

	for _, re := range systemDeny {
		if re.MatchString(cleaned) {
			return false
		}
	}

	g.mu.RLock()
	root := g.repoRoot
	allow := append([]string(nil), g.allow...)
	deny := append([]string(nil), g.deny...)
	g.mu.RUnlock()

	if root != "" {
		abs := filepath.Join(root, cleaned)
		absClean := filepath.Clean(abs)
		rootClean := filepath.Clean(root)
		if !strings.HasPrefix(absClean, rootClean+string(filepath.Separator)) && absClean != rootClean {
			return false
		}
	}

	matchedAllow := false
	for _, pattern := range allow {
		if ok, _ := doublestar.Match(pattern, cleaned); ok {
			matchedAllow = true
			break
		}
	}
	if !matchedAllow {
		return false
	}

	for _, pattern := range deny {
		if ok, _ := doublestar.Match(pattern, cleaned); ok {
			return false
		}
	}

	return true
}

// ProgramAllowed implements program_allowed?(program) — an allowlist of
// basenames. No shell metacharacter expansion happens downstream regardless;
// this only decides whether the program may be passed to exec at all.
func (g *Gate) ProgramAllowed(program string) bool {
	base := filepath.Base(program)
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.programs[base]
}

// SetGlobs replaces the allow/deny glob lists, used when config is reloaded
// without rebuilding the whole Context.
func (g *Gate) SetGlobs(allow, deny []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allow = append([]string(nil), allow...)
	g.deny = append([]string(nil), deny...)
}
