package embedding

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/loopworks/agentcore/internal/types"
)

func TestCosineSimilarityIdentical(t *testing.T) {
	a := []float64{1, 0, 0}
	if got := cosineSimilarity(a, a); got < 0.999 {
		t.Errorf("cosineSimilarity(a, a) = %v, want ~1", got)
	}
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	a := []float64{1, 0}
	b := []float64{0, 1}
	if got := cosineSimilarity(a, b); got > 0.0001 || got < -0.0001 {
		t.Errorf("cosineSimilarity(orthogonal) = %v, want ~0", got)
	}
}

func TestChunkWordsRespectsMaxChars(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog repeatedly and again and again"
	chunks := chunkWords(text, 20, 5)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len(c.text) > 20+5 {
			t.Errorf("chunk %q exceeds max+overlap bound", c.text)
		}
	}
}

func TestChunkFileFallsBackForNonGo(t *testing.T) {
	chunks := ChunkFile("README.md", []byte("hello world, this is prose."), 1000, 50)
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
}

func TestVectorStoreUpsertAndSimilar(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenVectorStore(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("OpenVectorStore: %v", err)
	}
	defer store.Close()

	entries := []types.IndexEntry{
		{Key: "a", Vector: []float64{1, 0}, Metadata: types.ChunkMeta{Path: "a.go", ChunkIndex: 0, Text: "a"}},
		{Key: "b", Vector: []float64{0, 1}, Metadata: types.ChunkMeta{Path: "b.go", ChunkIndex: 0, Text: "b"}},
	}
	accepted, discarded, err := store.UpsertMany(entries, 2)
	if err != nil {
		t.Fatalf("UpsertMany: %v", err)
	}
	if accepted != 2 || discarded != 0 {
		t.Fatalf("accepted=%d discarded=%d, want 2,0", accepted, discarded)
	}

	results, err := store.Similar([]float64{1, 0}, 1)
	if err != nil {
		t.Fatalf("Similar: %v", err)
	}
	if len(results) != 1 || results[0].Path != "a.go" {
		t.Fatalf("expected a.go to rank first, got %+v", results)
	}
}

func TestVectorStoreDiscardsWrongDimension(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenVectorStore(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("OpenVectorStore: %v", err)
	}
	defer store.Close()

	entries := []types.IndexEntry{
		{Key: "a", Vector: []float64{1, 0, 0}, Metadata: types.ChunkMeta{Path: "a.go"}},
	}
	accepted, discarded, err := store.UpsertMany(entries, 2)
	if err != nil {
		t.Fatalf("UpsertMany: %v", err)
	}
	if accepted != 0 || discarded != 1 {
		t.Fatalf("accepted=%d discarded=%d, want 0,1", accepted, discarded)
	}
}

func TestVectorStoreEmptyYieldsEmptySlice(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenVectorStore(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("OpenVectorStore: %v", err)
	}
	defer store.Close()

	results, err := store.Similar([]float64{1, 0}, 5)
	if err != nil {
		t.Fatalf("Similar on empty store: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected empty slice, got %+v", results)
	}
}

func TestGitignorePatternsIgnoresMissingFile(t *testing.T) {
	dir := t.TempDir()
	if got := gitignorePatterns(dir); got != nil {
		t.Errorf("expected nil patterns for missing .gitignore, got %v", got)
	}
}

func TestGitignorePatternsParsesEntries(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("node_modules/\n# comment\nvendor\n"), 0o644); err != nil {
		t.Fatalf("write .gitignore: %v", err)
	}
	patterns := gitignorePatterns(dir)
	if !matchesAny(patterns, "node_modules/pkg/index.js") {
		t.Error("expected node_modules/pkg/index.js to match")
	}
	if !matchesAny(patterns, "vendor/lib.go") {
		t.Error("expected vendor/lib.go to match")
	}
	if matchesAny(patterns, "src/main.go") {
		t.Error("did not expect src/main.go to match")
	}
}
