package port

import (
	"context"
	"time"
)

// SourceResolver turns a node's source locator into a local file ready for
// upload. For specialized media this is an external process that may follow
// several redirect hops internally; the orchestrator invokes it once per
// node and treats any non-success as a file-level failure.
type SourceResolver interface {
	// Resolve produces the artifact at destPath (or fails).
	Resolve(ctx context.Context, locator, destPath string) error
}

// FileDownloader fetches a generic (non-specialized) file by its external id
// into destPath, returning the number of bytes written.
type FileDownloader interface {
	Download(ctx context.Context, fileID, destPath string) (int64, error)
}

// Credentials is the token set attached to generic downloads, keyed by
// cookie name.
type Credentials map[string]string

// CredentialSource re-acquires a credential set from the external session
// collaborator.
type CredentialSource interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// Attempt is one terminal per-node outcome, recorded for later inspection.
type Attempt struct {
	NodeID   string
	Name     string
	Outcome  string
	Bytes    int64
	Duration time.Duration
	Error    string
}

// RunSummary is the aggregate result of one orchestration pass.
type RunSummary struct {
	TotalFiles int
	Done       int
	Skipped    int
	Failed     int
	Elapsed    time.Duration
	DryRun     bool
}

// HistoryRecorder persists attempts and run summaries. It is an audit
// surface, not resume state: failures are logged and ignored.
type HistoryRecorder interface {
	RecordAttempt(a *Attempt) error
	RecordRun(r *RunSummary) error
}
