// Package ledger implements the idempotency guard that keeps a restarted
// or resumed batch run from creating a duplicate remote session for work
// it already dispatched.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/sre-tools/remediation-batch/pkg/lock"
)

// Entry records that a (run, finding, attempt) tuple already has a remote
// session, so a retry of the same key reuses it instead of dispatching again.
type Entry struct {
	SessionID string    `json:"session_id"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Ledger is a file-backed, process-safe map from idempotency key to Entry.
type Ledger struct {
	path string
	mu   sync.Mutex
	data map[string]Entry
}

// Load reads the ledger at path, creating an empty in-memory ledger if the
// file does not yet exist. A file that cannot be parsed is logged and also
// replaced by an empty ledger; the next Record overwrites it.
func Load(path string) (*Ledger, error) {
	l := &Ledger{path: path, data: map[string]Entry{}}
	if err := lock.ReadJSON(path, &l.data); err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			slog.Warn("idempotency ledger is corrupt, starting empty", "path", path, "error", err)
			return &Ledger{path: path, data: map[string]Entry{}}, nil
		}
		return nil, fmt.Errorf("load idempotency ledger %s: %w", path, err)
	}
	return l, nil
}

// MakeKey builds the idempotency key for a given run, finding, and attempt.
func MakeKey(runID, findingID string, attempt int) string {
	return fmt.Sprintf("%s-%s-attempt-%d", runID, findingID, attempt)
}

// Lookup returns the recorded Entry for key, if any.
func (l *Ledger) Lookup(key string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.data[key]
	return e, ok
}

// Record persists that key now maps to sessionID, overwriting any previous
// entry, and atomically flushes the whole ledger to disk under a file lock
// so concurrent wave dispatch never corrupts it.
func (l *Ledger) Record(key, sessionID string) error {
	l.mu.Lock()
	l.data[key] = Entry{SessionID: sessionID, RecordedAt: time.Now()}
	snapshot := make(map[string]Entry, len(l.data))
	for k, v := range l.data {
		snapshot[k] = v
	}
	l.mu.Unlock()

	return lock.With(l.path, "idempotency_ledger", lock.DefaultOptions(), func() error {
		return lock.AtomicWriteJSON(l.path, snapshot)
	})
}
