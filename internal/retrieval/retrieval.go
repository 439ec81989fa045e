// Package retrieval implements the RetrievalController (§4.3): per-goal
// cached semantic retrieval, skip policy, mandatory-intent enforcement, and
// literal-filename augmentation over a configured ordered directory list.
package retrieval

import (
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/loopworks/agentcore/internal/types"
)

// Searcher is the subset of embedding.Index the controller needs; kept as
// an interface so tests can substitute a fake without a real VectorStore.
type Searcher interface {
	Retrieve(query string, limit int) ([]types.RetrievedChunk, error)
}

// RepoProber reports whether the repo has any retrievable content, used for
// the repo_empty skip condition.
type RepoProber interface {
	IsRepoEmpty() bool
}

// FileExister checks literal-filename candidates against the filesystem;
// an interface so tests don't need a real repo tree.
type FileExister interface {
	Exists(relPath string) bool
}

// Config controls the controller's skip policy and literal-match scan.
type Config struct {
	// WorkspaceDirs is the ordered set of directories scanned for exact
	// filename matches, e.g. {"playground", "lib", "src", "app", "spec", "test"}.
	WorkspaceDirs []string
	// LiteralMatch enables the exact-filename augmentation. The zero value
	// leaves it off; appctx turns it on.
	LiteralMatch bool
}

// Controller implements retrieve_for_goal.
type Controller struct {
	cfg     Config
	search  Searcher
	prober  RepoProber
	files   FileExister
	mu      sync.Mutex
	cache   map[string]types.RetrievalResult
}

// New builds a Controller from its collaborators.
func New(cfg Config, search Searcher, prober RepoProber, files FileExister) *Controller {
	return &Controller{
		cfg:    cfg,
		search: search,
		prober: prober,
		files:  files,
		cache:  make(map[string]types.RetrievalResult),
	}
}

// cacheKey combines goal and intent so the same goal text re-evaluated
// under a different classified intent does not reuse a stale skip reason.
func cacheKey(goal string, intent types.Intent) string {
	return string(intent) + "\x00" + goal
}

// RetrieveForGoal implements §4.3. Results are cached per (goal, intent) for
// the lifetime of the Controller, so repeated calls (e.g. from a replanning
// cycle) hit the cache rather than re-querying the VectorStore. The cache is
// never cleared: a later goal with the same text and intent reuses the
// earlier result.
func (c *Controller) RetrieveForGoal(goal string, intent types.Intent, limit int) (types.RetrievalResult, error) {
	key := cacheKey(goal, intent)

	c.mu.Lock()
	if cached, ok := c.cache[key]; ok {
		c.mu.Unlock()
		cached.Cached = true
		return cached, nil
	}
	c.mu.Unlock()

	result, err := c.retrieve(goal, intent, limit)
	if err != nil {
		return types.RetrievalResult{}, err
	}

	c.mu.Lock()
	result.Cached = false
	c.cache[key] = result
	c.mu.Unlock()

	return result, nil
}

func (c *Controller) retrieve(goal string, intent types.Intent, limit int) (types.RetrievalResult, error) {
	if c.prober != nil && c.prober.IsRepoEmpty() {
		return types.RetrievalResult{Files: []string{}, SkipReason: types.SkipRepoEmpty}, nil
	}
	if !intentNeedsRetrieval(intent) {
		return types.RetrievalResult{Files: []string{}, SkipReason: types.SkipIntentNoRetrieval}, nil
	}
	if c.search == nil {
		return types.RetrievalResult{Files: []string{}, SkipReason: types.SkipIndexUnavailable}, nil
	}

	chunks, err := c.search.Retrieve(goal, limit)
	if err != nil {
		return types.RetrievalResult{Files: []string{}, SkipReason: types.SkipIndexUnavailable}, nil
	}

	seen := make(map[string]bool)
	var files []string

	if c.literalMatchEnabled() {
		for _, candidate := range literalFilenameCandidates(goal) {
			for _, dir := range c.cfg.WorkspaceDirs {
				rel := filepath.ToSlash(filepath.Join(dir, candidate))
				if c.files != nil && c.files.Exists(rel) && !seen[rel] {
					seen[rel] = true
					files = append(files, rel)
				}
			}
			// also accept the literal candidate as a repo-root-relative path
			if c.files != nil && c.files.Exists(candidate) && !seen[candidate] {
				seen[candidate] = true
				files = append(files, candidate)
			}
		}
	}

	for _, chunk := range chunks {
		if !seen[chunk.Path] {
			seen[chunk.Path] = true
			files = append(files, chunk.Path)
		}
	}

	return types.RetrievalResult{Files: files}, nil
}

func (c *Controller) literalMatchEnabled() bool {
	return c.cfg.LiteralMatch
}

func intentNeedsRetrieval(intent types.Intent) bool {
	switch intent {
	case types.IntentCodeEdit, types.IntentDebug, types.IntentReview:
		return true
	case types.IntentExplain, types.IntentQNA, types.IntentReject, types.IntentUnknown:
		return false
	default:
		return false
	}
}

// filenameLike matches bare tokens that look like a file reference: a
// run of path/word characters ending in a dot extension, with no whitespace.
var filenameLike = regexp.MustCompile(`[A-Za-z0-9_./-]+\.[A-Za-z0-9]+`)

// literalFilenameCandidates extracts filename-shaped substrings from goal
// text, e.g. "fix the bug in parser.go" -> ["parser.go"].
func literalFilenameCandidates(goal string) []string {
	matches := filenameLike.FindAllString(goal, -1)
	var out []string
	seen := make(map[string]bool)
	for _, m := range matches {
		m = strings.Trim(m, ".,;:()[]{}\"'")
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// MandatoryIntentSkipped reports whether intent required retrieval but the
// result carries a skip reason — the Orchestrator uses this to decide
// whether to emit retrieval_required_but_skipped (§4.3).
func MandatoryIntentSkipped(intent types.Intent, result types.RetrievalResult) bool {
	return intentNeedsRetrieval(intent) && result.SkipReason != types.SkipNone
}
