// Package orchestrator walks the input tree and turns it into an ordered
// stream of remote directory creations and file transfers, consulting the
// ledger so that re-runs never redo completed work.
//
// The walk is single-threaded and strictly sequential across nodes; only the
// chunked fetcher parallelizes inside a single file. Exactly one run should
// hold a given ledger path at a time.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/halbridge/drivemirror/internal/domain"
	"github.com/halbridge/drivemirror/internal/port"
)

// Config configures one orchestration run.
type Config struct {
	// RemoteRoot is the destination root directory on the remote. The tree's
	// root node maps onto it; children are created beneath it.
	RemoteRoot string

	// TempDir holds local artifacts between fetch and upload.
	TempDir string

	// VideoContentKinds lists the content kinds dispatched to the
	// source-resolution collaborator instead of the direct downloader.
	VideoContentKinds []string

	// DryRun walks the full decision tree and logs intended actions without
	// calling the gateway or downloading anything.
	DryRun bool
}

// Orchestrator drives one transfer pass over a tree.
type Orchestrator struct {
	cfg        Config
	gateway    port.RemoteGateway
	ledger     port.Ledger
	resolver   port.SourceResolver
	downloader port.FileDownloader
	history    port.HistoryRecorder
	logger     *zap.Logger

	videoKinds map[string]struct{}
	// listCache caches remote directory listings for the duration of one run
	// so the remote-existence fallback lists each directory at most once.
	listCache map[string]map[string]struct{}
	stats     domain.RunStats
}

// New creates an Orchestrator. history may be nil.
func New(
	cfg Config,
	gateway port.RemoteGateway,
	ledger port.Ledger,
	resolver port.SourceResolver,
	downloader port.FileDownloader,
	history port.HistoryRecorder,
	logger *zap.Logger,
) *Orchestrator {
	kinds := make(map[string]struct{}, len(cfg.VideoContentKinds))
	for _, k := range cfg.VideoContentKinds {
		kinds[k] = struct{}{}
	}
	return &Orchestrator{
		cfg:        cfg,
		gateway:    gateway,
		ledger:     ledger,
		resolver:   resolver,
		downloader: downloader,
		history:    history,
		logger:     logger,
		videoKinds: kinds,
		listCache:  make(map[string]map[string]struct{}),
	}
}

// Run processes the whole tree and returns the aggregate statistics.
// Per-node failures are recorded and do not stop the walk; the returned
// error is non-nil only when the run itself was cancelled.
func (o *Orchestrator) Run(ctx context.Context, root *domain.Node) (*domain.RunStats, error) {
	o.stats = domain.RunStats{
		TotalFiles: root.CountFiles(),
		StartedAt:  time.Now(),
	}

	if err := os.MkdirAll(o.cfg.TempDir, 0755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	o.logger.Info("starting transfer run",
		zap.String("remote_root", o.cfg.RemoteRoot),
		zap.Int("total_files", o.stats.TotalFiles),
		zap.Bool("dry_run", o.cfg.DryRun))

	var walkErr error
	if root.IsFolder() {
		// The root node maps onto the configured remote root, so only its
		// children produce directory creations.
		for _, child := range root.Children {
			if walkErr = o.walk(ctx, child, o.cfg.RemoteRoot); walkErr != nil {
				break
			}
		}
	} else {
		walkErr = o.walk(ctx, root, o.cfg.RemoteRoot)
	}

	// Leave the temp dir in place if any artifact survived for inspection.
	os.Remove(o.cfg.TempDir)

	o.finishRun()
	return &o.stats, walkErr
}

// walk processes one node and, for folders, its subtree. Cancellation is
// honored at node granularity.
func (o *Orchestrator) walk(ctx context.Context, node *domain.Node, parentPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !node.IsFolder() {
		o.processFile(ctx, node, parentPath)
		return nil
	}

	destPath := path.Join(parentPath, domain.SanitizeName(node.Name))
	o.logger.Info("entering folder",
		zap.String("path", destPath),
		zap.Int("children", len(node.Children)),
		zap.Int("files_below", node.CountFiles()))
	o.materializeDirectory(ctx, destPath)

	// Recurse regardless of mkdir outcome: the directory may already exist
	// from a previous run or be created implicitly on first upload.
	for _, child := range node.Children {
		if err := o.walk(ctx, child, destPath); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) materializeDirectory(ctx context.Context, destPath string) {
	if o.ledger.IsDirectoryMaterialized(destPath) {
		o.logger.Debug("directory already created", zap.String("path", destPath))
		return
	}

	if o.cfg.DryRun {
		o.logger.Info("would create remote directory", zap.String("path", destPath))
		o.ledger.MarkDirectoryMaterialized(destPath)
		return
	}

	if err := o.gateway.Mkdir(ctx, destPath); err != nil {
		o.logger.Warn("failed to create remote directory",
			zap.String("path", destPath),
			zap.Error(err))
		return
	}
	o.ledger.MarkDirectoryMaterialized(destPath)
	o.logger.Info("created remote directory", zap.String("path", destPath))
}

// processFile runs one file node to a terminal outcome and records it.
func (o *Orchestrator) processFile(ctx context.Context, node *domain.Node, dirPath string) {
	name := domain.SanitizeName(node.Name)
	started := time.Now()

	if node.ID != "" && o.ledger.IsCompleted(node.ID) {
		o.logger.Info("skipping, already completed",
			zap.String("name", name),
			zap.String("id", node.ID))
		o.finishFile(node, domain.OutcomeSkippedAlreadyDone, 0, started, nil)
		return
	}

	if o.existsOnRemote(ctx, dirPath, name) {
		// Back-fill the ledger so the next run skips without listing.
		if node.ID != "" {
			o.ledger.MarkCompleted(node.ID)
		}
		o.logger.Info("skipping, already on remote",
			zap.String("name", name),
			zap.String("dir", dirPath))
		o.finishFile(node, domain.OutcomeSkippedOnRemote, 0, started, nil)
		return
	}

	if o.cfg.DryRun {
		o.logger.Info("would transfer file",
			zap.String("name", name),
			zap.String("dir", dirPath),
			zap.String("size", humanize.Bytes(uint64(node.SizeBytes))))
		o.finishFile(node, domain.OutcomeCompleted, node.SizeBytes, started, nil)
		return
	}

	localPath := filepath.Join(o.cfg.TempDir, name)
	bytes, err := o.fetch(ctx, node, localPath)
	if err != nil {
		// A skippable failure cannot succeed on a retry, so the id stays out
		// of the failed set instead of churning on every run.
		if domain.IsSkippable(err) {
			o.logger.Warn("file cannot be transferred",
				zap.String("name", name),
				zap.Error(err))
		} else {
			o.markFailed(node)
			o.logger.Error("fetch failed",
				zap.String("name", name),
				zap.Bool("retryable", domain.IsRetryable(err)),
				zap.Error(err))
		}
		o.finishFile(node, domain.OutcomeFailed, 0, started, err)
		return
	}

	if err := o.gateway.Copy(ctx, localPath, dirPath); err != nil {
		// Keep the local artifact for inspection.
		o.markFailed(node)
		o.logger.Error("upload failed",
			zap.String("name", name),
			zap.String("local", localPath),
			zap.Error(err))
		o.finishFile(node, domain.OutcomeFailed, bytes, started, err)
		return
	}

	if err := os.Remove(localPath); err != nil {
		o.logger.Warn("failed to delete local artifact",
			zap.String("path", localPath),
			zap.Error(err))
	}
	if node.ID != "" {
		o.ledger.MarkCompleted(node.ID)
	}
	o.logger.Info("transferred file",
		zap.String("name", name),
		zap.String("dir", dirPath),
		zap.String("size", humanize.Bytes(uint64(bytes))),
		zap.Duration("took", time.Since(started)))
	o.finishFile(node, domain.OutcomeCompleted, bytes, started, nil)
}

// fetch produces the local artifact for a file node, dispatching on its
// content kind.
func (o *Orchestrator) fetch(ctx context.Context, node *domain.Node, localPath string) (int64, error) {
	if _, video := o.videoKinds[node.ContentKind]; video && node.SourceLocator != "" {
		if err := o.resolver.Resolve(ctx, node.SourceLocator, localPath); err != nil {
			return 0, err
		}
		info, err := os.Stat(localPath)
		if err != nil {
			return 0, fmt.Errorf("resolved artifact missing: %w", err)
		}
		return info.Size(), nil
	}

	if node.ID == "" {
		return 0, domain.NewSkippableError(nil, "no id and no resolvable source")
	}
	return o.downloader.Download(ctx, node.ID, localPath)
}

// existsOnRemote is the network fallback resume check, consulted only when
// the ledger has no record. List failures are treated as "unknown" and the
// transfer proceeds.
func (o *Orchestrator) existsOnRemote(ctx context.Context, dirPath, name string) bool {
	entries, ok := o.listCache[dirPath]
	if !ok {
		names, err := o.gateway.List(ctx, dirPath)
		if err != nil {
			o.logger.Debug("remote listing unavailable",
				zap.String("dir", dirPath),
				zap.Error(err))
			return false
		}
		entries = make(map[string]struct{}, len(names))
		for _, n := range names {
			entries[n] = struct{}{}
		}
		o.listCache[dirPath] = entries
	}
	_, exists := entries[name]
	return exists
}

func (o *Orchestrator) markFailed(node *domain.Node) {
	if node.ID != "" {
		o.ledger.MarkFailed(node.ID)
	}
}

// finishFile folds one terminal outcome into the stats, reports progress,
// and records the attempt for later inspection.
func (o *Orchestrator) finishFile(node *domain.Node, outcome domain.Outcome, bytes int64, started time.Time, cause error) {
	o.stats.Record(outcome)
	o.logger.Info("progress",
		zap.Float64("fraction", o.stats.Fraction()),
		zap.Int("done", o.stats.Done),
		zap.Int("skipped", o.stats.Skipped),
		zap.Int("failed", o.stats.Failed),
		zap.Int("total", o.stats.TotalFiles))

	if o.history == nil {
		return
	}
	attempt := &port.Attempt{
		NodeID:   node.ID,
		Name:     node.Name,
		Outcome:  string(outcome),
		Bytes:    bytes,
		Duration: time.Since(started),
	}
	if cause != nil {
		attempt.Error = cause.Error()
	}
	if err := o.history.RecordAttempt(attempt); err != nil {
		o.logger.Warn("failed to record attempt history", zap.Error(err))
	}
}

func (o *Orchestrator) finishRun() {
	elapsed := o.stats.Elapsed()
	o.logger.Info("run finished",
		zap.Int("total_files", o.stats.TotalFiles),
		zap.Int("done", o.stats.Done),
		zap.Int("skipped", o.stats.Skipped),
		zap.Int("failed", o.stats.Failed),
		zap.Duration("elapsed", elapsed))
	if o.stats.Failed == 0 {
		o.logger.Info("all files transferred, nothing left to retry")
	}

	if o.history != nil {
		summary := &port.RunSummary{
			TotalFiles: o.stats.TotalFiles,
			Done:       o.stats.Done,
			Skipped:    o.stats.Skipped,
			Failed:     o.stats.Failed,
			Elapsed:    elapsed,
			DryRun:     o.cfg.DryRun,
		}
		if err := o.history.RecordRun(summary); err != nil {
			o.logger.Warn("failed to record run history", zap.Error(err))
		}
	}
}
