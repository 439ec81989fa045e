package embedding

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/loopworks/agentcore/internal/types"
)

// LevelDB key prefixes. "|" separates fields so a path or key containing
// ":" never collides with the separator.
const (
	prefixEntry = "e|"
	prefixMeta  = "meta|"
)

const metaKey = prefixMeta + "backend"

// BackendMeta records the embedding backend identity the index was built
// with; a mismatch on load forces a rebuild to avoid mixing vector spaces
// of different dimension (§4.2).
type BackendMeta struct {
	BackendID      string `json:"backend_id"`
	EmbeddingModel string `json:"embedding_model"`
	Dimension      int    `json:"dimension"`
}

// VectorStore is the minimal key/value-with-search abstraction §4.2
// requires: upsert_many, similar, all, clear!. Backed by goleveldb.
type VectorStore struct {
	db *leveldb.DB
}

// OpenVectorStore opens (or creates) a LevelDB database at dbPath.
func OpenVectorStore(dbPath string) (*VectorStore, error) {
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("embedding: open vector store at %s: %w", dbPath, err)
	}
	return &VectorStore{db: db}, nil
}

// Close releases the underlying LevelDB handle.
func (s *VectorStore) Close() error {
	return s.db.Close()
}

// Meta returns the persisted BackendMeta, or ok=false if none is recorded
// (a fresh or cleared store).
func (s *VectorStore) Meta() (BackendMeta, bool, error) {
	raw, err := s.db.Get([]byte(metaKey), nil)
	if err == leveldb.ErrNotFound {
		return BackendMeta{}, false, nil
	}
	if err != nil {
		return BackendMeta{}, false, fmt.Errorf("embedding: read meta: %w", err)
	}
	var m BackendMeta
	if err := json.Unmarshal(raw, &m); err != nil {
		return BackendMeta{}, false, fmt.Errorf("embedding: unmarshal meta: %w", err)
	}
	return m, true, nil
}

// SetMeta persists the current backend identity.
func (s *VectorStore) SetMeta(m BackendMeta) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("embedding: marshal meta: %w", err)
	}
	return s.db.Put([]byte(metaKey), raw, nil)
}

// UpsertMany inserts or overwrites entries keyed by IndexEntry.Key. Entries
// whose vector dimension doesn't match wantDim (0 disables the check) are
// discarded; the caller is responsible for emitting the corresponding event.
func (s *VectorStore) UpsertMany(entries []types.IndexEntry, wantDim int) (accepted, discarded int, err error) {
	batch := new(leveldb.Batch)
	for _, e := range entries {
		if wantDim > 0 && len(e.Vector) != wantDim {
			discarded++
			continue
		}
		raw, merr := json.Marshal(e)
		if merr != nil {
			return accepted, discarded, fmt.Errorf("embedding: marshal entry %s: %w", e.Key, merr)
		}
		batch.Put([]byte(prefixEntry+e.Key), raw)
		accepted++
	}
	if accepted == 0 {
		return accepted, discarded, nil
	}
	if err := s.db.Write(batch, nil); err != nil {
		return accepted, discarded, fmt.Errorf("embedding: write batch: %w", err)
	}
	return accepted, discarded, nil
}

// All returns every stored IndexEntry. Backend I/O errors surface as a
// typed error per §4.2; a clean empty store returns an empty, non-nil slice.
func (s *VectorStore) All() ([]types.IndexEntry, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixEntry)), nil)
	defer iter.Release()

	entries := make([]types.IndexEntry, 0)
	for iter.Next() {
		var e types.IndexEntry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("embedding: unmarshal entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("embedding: iterate entries: %w", err)
	}
	return entries, nil
}

// Clear removes every stored entry and the backend meta record.
func (s *VectorStore) Clear() error {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()
	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("embedding: iterate for clear: %w", err)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("embedding: clear: %w", err)
	}
	return nil
}

// Similar returns the top-limit entries by cosine similarity to vector,
// breaking ties by path then chunk_index for determinism. Missing/empty
// stores yield an empty slice, never an error.
func (s *VectorStore) Similar(vector []float64, limit int) ([]types.RetrievedChunk, error) {
	entries, err := s.All()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 || limit <= 0 {
		return []types.RetrievedChunk{}, nil
	}

	scored := make([]types.RetrievedChunk, 0, len(entries))
	for _, e := range entries {
		score := cosineSimilarity(vector, e.Vector)
		scored = append(scored, types.RetrievedChunk{
			Path:       e.Metadata.Path,
			ChunkIndex: e.Metadata.ChunkIndex,
			Text:       e.Metadata.Text,
			Score:      score,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].Path != scored[j].Path {
			return scored[i].Path < scored[j].Path
		}
		return scored[i].ChunkIndex < scored[j].ChunkIndex
	})

	if limit > len(scored) {
		limit = len(scored)
	}
	return scored[:limit], nil
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return -1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
