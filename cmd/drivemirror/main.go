package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	// Bucket drivers for remote.kind "bucket".
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/halbridge/drivemirror/internal/adapter/blobstore"
	"github.com/halbridge/drivemirror/internal/adapter/gdrive"
	"github.com/halbridge/drivemirror/internal/adapter/rclone"
	"github.com/halbridge/drivemirror/internal/adapter/resolver"
	"github.com/halbridge/drivemirror/internal/config"
	"github.com/halbridge/drivemirror/internal/domain"
	"github.com/halbridge/drivemirror/internal/fetch"
	"github.com/halbridge/drivemirror/internal/history"
	"github.com/halbridge/drivemirror/internal/ledger"
	"github.com/halbridge/drivemirror/internal/logger"
	"github.com/halbridge/drivemirror/internal/orchestrator"
	"github.com/halbridge/drivemirror/internal/port"
	"github.com/halbridge/drivemirror/internal/session"
)

const version = "0.3.0"

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	treePath := flag.String("tree", "output.json", "Path to input tree file")
	dryRun := flag.Bool("dry-run", false, "Walk the tree and log intended actions without transferring")
	showHistory := flag.Bool("history", false, "Print recent transfer attempts and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	zapLogger := logger.GetZapLogger()

	if *showHistory {
		if err := printHistory(cfg); err != nil {
			zapLogger.Fatal("failed to read history", zap.Error(err))
		}
		return
	}

	zapLogger.Info("starting drivemirror",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.String("tree", *treePath),
		zap.Bool("dry_run", *dryRun),
	)

	// Load and validate the input tree before touching anything
	tree, err := domain.LoadTree(*treePath)
	if err != nil {
		zapLogger.Fatal("failed to load input tree", zap.Error(err), zap.String("path", *treePath))
	}
	zapLogger.Info("loaded input tree",
		zap.String("root", tree.Name),
		zap.Int("files", tree.CountFiles()),
	)

	// Create context for graceful cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		zapLogger.Warn("shutdown signal received, finishing current node", zap.String("signal", sig.String()))
		cancel()
	}()

	// Create remote gateway
	gateway, cleanup, err := buildGateway(ctx, cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("remote gateway unavailable", zap.Error(err))
	}
	defer cleanup()

	// Load ledger
	var ledgerOpts []ledger.Option
	if *dryRun {
		ledgerOpts = append(ledgerOpts, ledger.ReadOnly())
	}
	led, err := ledger.Load(cfg.Paths.Ledger, zapLogger, ledgerOpts...)
	if err != nil {
		zapLogger.Fatal("failed to load ledger", zap.Error(err), zap.String("path", cfg.Paths.Ledger))
	}
	completed, failed := led.Counts()
	zapLogger.Info("loaded ledger",
		zap.String("path", cfg.Paths.Ledger),
		zap.Int("completed", completed),
		zap.Int("failed", failed),
	)

	// Open history store if configured; failures degrade to no history
	var recorder port.HistoryRecorder
	if cfg.Paths.HistoryDB != "" {
		store, err := history.Open(cfg.Paths.HistoryDB)
		if err != nil {
			zapLogger.Warn("failed to open history store, continuing without it",
				zap.Error(err), zap.String("path", cfg.Paths.HistoryDB))
		} else {
			defer store.Close()
			recorder = store
		}
	}

	// Create credential session
	source := &session.FileSource{
		CookieFile:     cfg.Session.CookieFile,
		DomainFilter:   cfg.Session.DomainFilter,
		RefreshCommand: cfg.Session.RefreshCommand,
	}
	refresher := session.NewRefresher(source, cfg.Session.GetRefreshInterval(), zapLogger)
	if err := refresher.Prime(ctx); err != nil {
		zapLogger.Warn("initial credential acquisition failed, generic downloads may be degraded",
			zap.Error(err))
	}

	// Create chunked fetcher and downloader
	fetcher := fetch.New(
		fetch.NewHTTPClient(cfg.Fetch.BufferSizeMB),
		fetch.Options{
			Parts:             cfg.Fetch.Parts,
			RedirectThreshold: cfg.Fetch.RedirectThresholdBytes,
			Retry:             fetch.Fixed(cfg.Fetch.RetryAttempts, cfg.Fetch.GetRetryBackoff()),
			OverallTimeout:    cfg.Fetch.GetOverallTimeout(),
			ProgressInterval:  cfg.Fetch.GetProgressInterval(),
		},
		zapLogger,
	)
	downloader := gdrive.NewDownloader(fetcher, nil, refresher, zapLogger)

	// Create source resolver
	sourceResolver := resolver.New(resolver.Config{
		Command:      cfg.Resolver.Command,
		WorkDir:      cfg.Resolver.WorkDir,
		ArtifactGlob: cfg.Resolver.ArtifactGlob,
		Timeout:      cfg.Resolver.GetTimeout(),
	}, zapLogger)

	// Run the transfer
	orch := orchestrator.New(
		orchestrator.Config{
			RemoteRoot:        cfg.Remote.Root,
			TempDir:           cfg.Paths.TempDir,
			VideoContentKinds: cfg.Transfer.VideoContentKinds,
			DryRun:            *dryRun,
		},
		gateway, led, sourceResolver, downloader, recorder, zapLogger,
	)

	stats, err := orch.Run(ctx, tree)
	if err != nil {
		zapLogger.Warn("run interrupted", zap.Error(err))
	}
	if stats != nil && stats.Failed > 0 {
		zapLogger.Warn("some files failed and will be retried on the next run",
			zap.Int("failed", stats.Failed),
			zap.Strings("failed_ids", led.FailedIDs()),
		)
	}
}

// buildGateway constructs the configured remote gateway and verifies it is
// reachable. The returned cleanup releases gateway resources.
func buildGateway(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) (port.RemoteGateway, func(), error) {
	switch cfg.Remote.Kind {
	case "rclone":
		remoteName := cfg.Remote.Name
		if !strings.HasSuffix(remoteName, ":") {
			remoteName += ":"
		}
		gw := rclone.New(rclone.Config{
			Binary:         cfg.Remote.RcloneBinary,
			RemoteName:     remoteName,
			CommandTimeout: cfg.Remote.GetCommandTimeout(),
			ListTimeout:    cfg.Remote.GetListTimeout(),
		}, zapLogger)
		if err := gw.Verify(ctx); err != nil {
			return nil, nil, err
		}
		return gw, func() {}, nil

	case "bucket":
		gw, err := blobstore.Open(ctx, cfg.Remote.BucketURL, "", zapLogger)
		if err != nil {
			return nil, nil, err
		}
		return gw, func() { gw.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown remote kind %q", cfg.Remote.Kind)
	}
}

func printHistory(cfg *config.Config) error {
	if cfg.Paths.HistoryDB == "" {
		return fmt.Errorf("paths.history_db is not configured")
	}
	store, err := history.Open(cfg.Paths.HistoryDB)
	if err != nil {
		return err
	}
	defer store.Close()

	attempts, err := store.RecentAttempts(50)
	if err != nil {
		return err
	}
	for _, a := range attempts {
		line := fmt.Sprintf("%s  %-25s %-12s %s",
			a.CreatedAt.Format("2006-01-02 15:04:05"),
			a.Outcome,
			humanize.Bytes(uint64(a.Bytes)),
			a.Name,
		)
		if a.Error != "" {
			line += "  (" + a.Error + ")"
		}
		fmt.Println(line)
	}
	return nil
}
