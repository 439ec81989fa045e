package tracer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
)

// Turn is one entry in SessionMemory (§4.10).
type Turn struct {
	Role      string    `json:"role"` // "user" | "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionMemory is the append-only JSONL of turns (session.jsonl, under
// .agent/). The JSONL file is the durable record; a sibling LevelDB keys
// turns by a zero-padded sequence number so Last(n) tails the window
// without re-scanning the whole file.
type SessionMemory struct {
	mu   sync.Mutex
	f    *os.File
	db   *leveldb.DB
	next uint64
}

const seqKeyWidth = 20 // fmt.Sprintf("%020d", n) sorts lexically == numerically

// Open creates or appends to jsonlPath and opens (or creates) the LevelDB
// tailing index at dbPath.
func Open(jsonlPath, dbPath string) (*SessionMemory, error) {
	if err := os.MkdirAll(filepath.Dir(jsonlPath), 0o755); err != nil {
		return nil, fmt.Errorf("tracer: create session dir: %w", err)
	}
	f, err := os.OpenFile(jsonlPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("tracer: open %s: %w", jsonlPath, err)
	}
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("tracer: open session index at %s: %w", dbPath, err)
	}
	sm := &SessionMemory{f: f, db: db}
	sm.next, err = sm.loadNextSeq()
	if err != nil {
		db.Close()
		f.Close()
		return nil, err
	}
	return sm, nil
}

// loadNextSeq rebuilds the index from the JSONL file if the LevelDB side
// is empty or behind — e.g. a fresh index directory next to an existing
// session.jsonl.
func (sm *SessionMemory) loadNextSeq() (uint64, error) {
	iter := sm.db.NewIterator(nil, nil)
	var maxSeq uint64
	if iter.Last() {
		seq, err := strconv.ParseUint(string(iter.Key()), 10, 64)
		if err == nil {
			maxSeq = seq + 1
		}
	}
	iterErr := iter.Error()
	iter.Release()
	if iterErr != nil {
		return 0, fmt.Errorf("tracer: scan session index: %w", iterErr)
	}

	if _, err := sm.f.Seek(0, 0); err != nil {
		return maxSeq, nil
	}
	scanner := bufio.NewScanner(sm.f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var lineCount uint64
	batch := new(leveldb.Batch)
	for scanner.Scan() {
		var turn Turn
		if err := json.Unmarshal(scanner.Bytes(), &turn); err != nil {
			continue
		}
		key := seqKey(lineCount)
		if _, err := sm.db.Get(key, nil); err == leveldb.ErrNotFound {
			raw, _ := json.Marshal(turn)
			batch.Put(key, raw)
		}
		lineCount++
	}
	if batch.Len() > 0 {
		if err := sm.db.Write(batch, nil); err != nil {
			return 0, fmt.Errorf("tracer: rebuild session index: %w", err)
		}
	}
	if _, err := sm.f.Seek(0, 2); err != nil {
		return 0, fmt.Errorf("tracer: seek session file end: %w", err)
	}
	if lineCount > maxSeq {
		maxSeq = lineCount
	}
	return maxSeq, nil
}

func seqKey(n uint64) []byte {
	return []byte(fmt.Sprintf("%0*d", seqKeyWidth, n))
}

// Append writes turn to session.jsonl and indexes it for fast tailing.
func (sm *SessionMemory) Append(turn Turn) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	turn.Timestamp = turn.Timestamp.UTC()
	raw, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("tracer: marshal turn: %w", err)
	}
	if _, err := fmt.Fprintf(sm.f, "%s\n", raw); err != nil {
		return fmt.Errorf("tracer: append turn: %w", err)
	}
	if err := sm.db.Put(seqKey(sm.next), raw, nil); err != nil {
		return fmt.Errorf("tracer: index turn: %w", err)
	}
	sm.next++
	return nil
}

// Last returns the most recent n turns in chronological order. n<=0
// returns an empty, non-nil slice.
func (sm *SessionMemory) Last(n int) ([]Turn, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if n <= 0 {
		return []Turn{}, nil
	}

	iter := sm.db.NewIterator(nil, nil)
	defer iter.Release()

	reversed := make([]Turn, 0, n)
	if ok := iter.Last(); ok {
		for {
			var t Turn
			if err := json.Unmarshal(iter.Value(), &t); err != nil {
				return nil, fmt.Errorf("tracer: unmarshal turn: %w", err)
			}
			reversed = append(reversed, t)
			if len(reversed) >= n {
				break
			}
			if !iter.Prev() {
				break
			}
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("tracer: iterate session index: %w", err)
	}

	out := make([]Turn, len(reversed))
	for i, t := range reversed {
		out[len(reversed)-1-i] = t
	}
	return out, nil
}

// Close releases the JSONL file handle and the LevelDB index.
func (sm *SessionMemory) Close() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	dbErr := sm.db.Close()
	fErr := sm.f.Close()
	if dbErr != nil {
		return dbErr
	}
	return fErr
}
