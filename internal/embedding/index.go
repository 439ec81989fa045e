// Package embedding implements EmbeddingIndex and VectorStore (§4.2): the
// repo-to-chunks walker, the chunkers it delegates to, and the cosine-
// similarity search backing retrieval.
package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar"

	"github.com/loopworks/agentcore/internal/llm"
	"github.com/loopworks/agentcore/internal/safety"
	"github.com/loopworks/agentcore/internal/types"
)

// Config controls chunking and the embedding backend identity.
type Config struct {
	RepoRoot       string
	ChunkChars     int
	ChunkOverlap   int
	EmbeddingModel string
	BackendID      string
	BatchSize      int
}

// Index implements EmbeddingIndex.build!/retrieve over a VectorStore.
type Index struct {
	cfg   Config
	store *VectorStore
	gate  *safety.Gate
	llm   llm.Adapter
}

// New builds an Index from its collaborators. gate is consulted during
// build! so embedding never reads a path Safety would reject; llm provides
// the embed() call.
func New(cfg Config, store *VectorStore, gate *safety.Gate, adapter llm.Adapter) *Index {
	if cfg.ChunkChars <= 0 {
		cfg.ChunkChars = 1500
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	return &Index{cfg: cfg, store: store, gate: gate, llm: adapter}
}

// gitignorePatterns reads .gitignore at the repo root, if present, returning
// doublestar-compatible glob patterns. Missing .gitignore is not an error.
func gitignorePatterns(repoRoot string) []string {
	raw, err := os.ReadFile(filepath.Join(repoRoot, ".gitignore"))
	if err != nil {
		return nil
	}
	var patterns []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		pattern := strings.TrimSuffix(line, "/")
		patterns = append(patterns, pattern, pattern+"/**")
	}
	return patterns
}

func matchesAny(patterns []string, relPath string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, relPath); ok {
			return true
		}
		// bare-name .gitignore entries (e.g. "node_modules") match at any depth
		if ok, _ := doublestar.Match("**/"+p, relPath); ok {
			return true
		}
	}
	return false
}

// Build walks the repo honoring .gitignore and Safety, chunking each text
// file and upserting embeddings into the VectorStore. The store is cleared
// first when force is true or the persisted backend meta differs from the
// current config; either way every eligible file is re-chunked and
// re-embedded on each call, since there is no per-file change tracking.
func (idx *Index) Build(force bool) error {
	existingMeta, ok, err := idx.store.Meta()
	if err != nil {
		return fmt.Errorf("embedding: read existing meta: %w", err)
	}
	wantMeta := BackendMeta{
		BackendID:      idx.cfg.BackendID,
		EmbeddingModel: idx.cfg.EmbeddingModel,
	}
	mismatched := ok && (existingMeta.BackendID != wantMeta.BackendID || existingMeta.EmbeddingModel != wantMeta.EmbeddingModel)
	if force || mismatched {
		if err := idx.store.Clear(); err != nil {
			return fmt.Errorf("embedding: clear before rebuild: %w", err)
		}
	}

	ignore := gitignorePatterns(idx.cfg.RepoRoot)

	var allEntries []types.IndexEntry
	var texts []string
	var metas []types.ChunkMeta

	walkErr := filepath.WalkDir(idx.cfg.RepoRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(idx.cfg.RepoRoot, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if rel == ".git" || matchesAny(ignore, rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if matchesAny(ignore, rel) {
			return nil
		}
		if idx.gate != nil && !idx.gate.PathAllowed(rel) {
			return nil
		}
		if isBinaryByExt(rel) {
			return nil
		}

		content, readErr := os.ReadFile(path)
		if readErr != nil {
			slog.Warn("embedding: skip unreadable file", "path", rel, "error", readErr)
			return nil
		}
		info, statErr := d.Info()
		var mtime int64
		if statErr == nil {
			mtime = info.ModTime().Unix()
		}

		chunks := ChunkFile(rel, content, idx.cfg.ChunkChars, idx.cfg.ChunkOverlap)
		for _, c := range chunks {
			texts = append(texts, c.text)
			metas = append(metas, types.ChunkMeta{
				Path:       rel,
				ChunkIndex: c.index,
				Text:       c.text,
				MTime:      mtime,
			})
		}
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("embedding: walk repo: %w", walkErr)
	}

	dimension := 0
	for start := 0; start < len(texts); start += idx.cfg.BatchSize {
		end := start + idx.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batchTexts := texts[start:end]
		vectors, embErr := idx.llm.Embed(batchTexts, idx.cfg.EmbeddingModel)
		if embErr != nil {
			return fmt.Errorf("embedding: embed batch: %w", embErr)
		}
		for i, v := range vectors {
			meta := metas[start+i]
			if dimension == 0 {
				dimension = len(v)
			}
			key := chunkKey(meta.Path, meta.ChunkIndex, meta.Text)
			allEntries = append(allEntries, types.IndexEntry{
				Key:      key,
				Vector:   v,
				Metadata: meta,
			})
		}
	}

	accepted, discarded, upsertErr := idx.store.UpsertMany(allEntries, dimension)
	if upsertErr != nil {
		return fmt.Errorf("embedding: upsert: %w", upsertErr)
	}
	if discarded > 0 {
		slog.Warn("embedding: discarded entries with mismatched vector dimension", "count", discarded)
	}
	slog.Info("embedding: index built", "accepted", accepted, "discarded", discarded)

	wantMeta.Dimension = dimension
	if err := idx.store.SetMeta(wantMeta); err != nil {
		return fmt.Errorf("embedding: persist meta: %w", err)
	}
	return nil
}

// Retrieve embeds query and returns the top-limit chunks by cosine
// similarity. Missing vectors for a query yield an empty slice, never an
// error, per §4.2.
func (idx *Index) Retrieve(query string, limit int) ([]types.RetrievedChunk, error) {
	vectors, err := idx.llm.Embed([]string{query}, idx.cfg.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("embedding: embed query: %w", err)
	}
	if len(vectors) == 0 {
		return []types.RetrievedChunk{}, nil
	}
	chunks, err := idx.store.Similar(vectors[0], limit)
	if err != nil {
		return nil, fmt.Errorf("embedding: similarity search: %w", err)
	}
	return chunks, nil
}

func chunkKey(path string, chunkIndex int, text string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", path, chunkIndex, text)))
	return hex.EncodeToString(sum[:])
}

var binaryExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".pdf": true, ".zip": true, ".tar": true, ".gz": true, ".bin": true,
	".exe": true, ".so": true, ".dylib": true, ".woff": true, ".woff2": true,
}

func isBinaryByExt(path string) bool {
	return binaryExts[strings.ToLower(filepath.Ext(path))]
}
