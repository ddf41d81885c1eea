// Package audit implements the append-only, tamper-evident write log that
// backs every mutation to an observation log. Grounded in the teacher's
// pkg/store/audit_store.go hash-chaining idiom (PreviousHash/EntryHash over
// a SHA-256 digest of each record) and pkg/artifacts/store.go's atomic
// temp-file-then-rename write pattern, narrowed to a single-process,
// file-backed chain rather than an in-memory multi-index store.
package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vaultmind/core/pkg/hashutil"
)

// Source identifies which writer produced a record.
type Source string

const (
	SourceObserver  Source = "observer"
	SourceReflector Source = "reflector"
	SourceManual    Source = "manual"
	SourceInit      Source = "init"
	SourceAnchor    Source = "anchor"
)

// Record is one entry in the hash chain. LogSHA256 is the hash of the full
// observation log file contents immediately after the write that produced
// this record; PrevSHA256 must equal the previous record's LogSHA256 (or
// the empty-file hash for the first record).
type Record struct {
	Timestamp  time.Time `json:"ts"`
	Source     Source    `json:"source"`
	CharDelta  int       `json:"char_delta"`
	LogSHA256  string    `json:"log_sha256"`
	PrevSHA256 string    `json:"prev_sha256"`
}

// ErrTamperDetected is returned when the observation log's on-disk hash
// does not match the last chained record, meaning the file was modified
// outside this package's write path.
var ErrTamperDetected = errors.New("audit: tamper detected, observation log hash does not match chain head")

// Log is a file-backed, append-only hash chain over memory/audit.jsonl.
type Log struct {
	mu   sync.Mutex
	path string
	last Record
	has  bool
}

// Open loads an existing audit log (verifying nothing by itself; callers
// verify the chain against the current observation log contents via
// Verify) or starts a fresh empty chain if the file does not exist.
func Open(path string) (*Log, error) {
	l := &Log{path: path}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	var prev Record
	var have bool
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("audit: corrupt record: %w", err)
		}
		prev = rec
		have = true
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: read %s: %w", path, err)
	}
	l.last = prev
	l.has = have
	return l, nil
}

// Verify checks that currentLogContents' SHA-256 matches the chain head.
// An empty chain (no records yet) is satisfied only by an empty log.
func (l *Log) Verify(currentLogContents []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	want := hashutil.Hex(currentLogContents)
	head := hashutil.EmptyHash
	if l.has {
		head = l.last.LogSHA256
	}
	if want != head {
		return ErrTamperDetected
	}
	return nil
}

// Append records a write. newLogContents is the full observation log file
// content *after* the write that this record documents.
func (l *Log) Append(source Source, charDelta int, newLogContents []byte) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prevHash := hashutil.EmptyHash
	if l.has {
		prevHash = l.last.LogSHA256
	}

	rec := Record{
		Timestamp:  time.Now().UTC(),
		Source:     source,
		CharDelta:  charDelta,
		LogSHA256:  hashutil.Hex(newLogContents),
		PrevSHA256: prevHash,
	}

	if err := l.appendRecordLocked(rec); err != nil {
		return Record{}, err
	}

	l.last = rec
	l.has = true
	return rec, nil
}

func (l *Log) appendRecordLocked(rec Record) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("audit: mkdir: %w", err)
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal record: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("audit: open for append: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("audit: write record: %w", err)
	}
	return f.Sync()
}

// LastRecord returns the most recently appended record and whether one
// exists.
func (l *Log) LastRecord() (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last, l.has
}
