// Package ledger implements the durable transfer ledger: which node ids are
// fully transferred, which failed, and which destination directories already
// exist on the remote. Every mutation rewrites the whole file through a
// sibling temp file and an atomic rename, so a crash leaves either the old
// or the new ledger, never a torn one.
//
// Exactly one orchestrator instance may run against a given ledger path at a
// time; concurrent runs against the same path are undefined behavior.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Ledger holds the resume state for one destination remote.
type Ledger struct {
	mu        sync.Mutex
	path      string
	completed map[string]struct{}
	failed    map[string]struct{}
	dirs      map[string]struct{}
	readOnly  bool
	logger    *zap.Logger
}

// fileFormat is the on-disk JSON shape. The count fields are redundant with
// the slices but keep the file greppable during a long run.
type fileFormat struct {
	CompletedIDs            []string  `json:"completedIds"`
	FailedIDs               []string  `json:"failedIds"`
	MaterializedDirectories []string  `json:"materializedDirectories"`
	LastUpdated             time.Time `json:"lastUpdated"`
	TotalCompleted          int       `json:"totalCompleted"`
	TotalFailed             int       `json:"totalFailed"`
}

// Option configures a Ledger.
type Option func(*Ledger)

// ReadOnly keeps all mutations in memory and never touches the file.
// Used by dry runs so the walk can still observe its own decisions.
func ReadOnly() Option {
	return func(l *Ledger) { l.readOnly = true }
}

// Load reads the ledger at path. A missing file is an empty ledger; an
// unparsable file is an error, since silently restarting a multi-hour job
// from scratch is worse than failing loudly.
func Load(path string, logger *zap.Logger, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		path:      path,
		completed: make(map[string]struct{}),
		failed:    make(map[string]struct{}),
		dirs:      make(map[string]struct{}),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(l)
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", path, err)
	}
	for _, id := range ff.CompletedIDs {
		l.completed[id] = struct{}{}
	}
	for _, id := range ff.FailedIDs {
		l.failed[id] = struct{}{}
	}
	for _, dir := range ff.MaterializedDirectories {
		l.dirs[dir] = struct{}{}
	}
	return l, nil
}

// IsCompleted reports whether id finished in this or a previous run.
func (l *Ledger) IsCompleted(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.completed[id]
	return ok
}

// IsFailed reports whether id is recorded as failed.
func (l *Ledger) IsFailed(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.failed[id]
	return ok
}

// MarkCompleted records id as done and clears any failed record. An id may
// move failed to completed, never the reverse within one run.
func (l *Ledger) MarkCompleted(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completed[id] = struct{}{}
	delete(l.failed, id)
	l.persistLocked()
}

// MarkFailed records id as failed unless it is already completed.
func (l *Ledger) MarkFailed(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, done := l.completed[id]; done {
		return
	}
	l.failed[id] = struct{}{}
	l.persistLocked()
}

// IsDirectoryMaterialized reports whether the remote directory is known to
// exist already.
func (l *Ledger) IsDirectoryMaterialized(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.dirs[path]
	return ok
}

// MarkDirectoryMaterialized caches a remote directory as created.
func (l *Ledger) MarkDirectoryMaterialized(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dirs[path] = struct{}{}
	l.persistLocked()
}

// Counts returns the completed and failed totals.
func (l *Ledger) Counts() (completed, failed int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.completed), len(l.failed)
}

// FailedIDs returns the failed ids in sorted order.
func (l *Ledger) FailedIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return sortedKeys(l.failed)
}

// persistLocked serializes the full ledger to a sibling temp file and
// atomically replaces the ledger file. A write failure is a warning: the run
// continues on in-memory state, losing at most the updates since the last
// successful persist.
func (l *Ledger) persistLocked() {
	if l.readOnly {
		return
	}

	ff := fileFormat{
		CompletedIDs:            sortedKeys(l.completed),
		FailedIDs:               sortedKeys(l.failed),
		MaterializedDirectories: sortedKeys(l.dirs),
		LastUpdated:             time.Now(),
		TotalCompleted:          len(l.completed),
		TotalFailed:             len(l.failed),
	}

	data, err := json.MarshalIndent(&ff, "", "  ")
	if err != nil {
		l.logger.Warn("failed to serialize ledger", zap.Error(err))
		return
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		l.logger.Warn("failed to write ledger temp file",
			zap.String("path", tmp),
			zap.Error(err))
		return
	}
	if err := os.Rename(tmp, l.path); err != nil {
		l.logger.Warn("failed to replace ledger file",
			zap.String("path", l.path),
			zap.Error(err))
		os.Remove(tmp)
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
