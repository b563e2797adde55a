package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/halbridge/drivemirror/internal/domain"
	"github.com/halbridge/drivemirror/internal/ledger"
)

// fakeGateway records calls and serves configurable listings and failures.
type fakeGateway struct {
	mkdirCalls []string
	copyCalls  []string
	listCalls  int

	listings map[string][]string
	copyErr  error
}

func (g *fakeGateway) Mkdir(_ context.Context, path string) error {
	g.mkdirCalls = append(g.mkdirCalls, path)
	return nil
}

func (g *fakeGateway) Copy(_ context.Context, localPath, remoteDir string) error {
	g.copyCalls = append(g.copyCalls, remoteDir)
	return g.copyErr
}

func (g *fakeGateway) List(_ context.Context, remoteDir string) ([]string, error) {
	g.listCalls++
	if g.listings == nil {
		return nil, nil
	}
	return g.listings[remoteDir], nil
}

// fakeResolver writes a small artifact at destPath.
type fakeResolver struct {
	calls int
	err   error
}

func (r *fakeResolver) Resolve(_ context.Context, locator, destPath string) error {
	r.calls++
	if r.err != nil {
		return r.err
	}
	return os.WriteFile(destPath, []byte("artifact for "+locator), 0644)
}

// fakeDownloader writes a small file for any id.
type fakeDownloader struct {
	calls int
	err   error
}

func (d *fakeDownloader) Download(_ context.Context, fileID, destPath string) (int64, error) {
	d.calls++
	if d.err != nil {
		return 0, d.err
	}
	payload := []byte("content of " + fileID)
	if err := os.WriteFile(destPath, payload, 0644); err != nil {
		return 0, err
	}
	return int64(len(payload)), nil
}

func videoTree() *domain.Node {
	return &domain.Node{
		Name: "root",
		Kind: domain.KindFolder,
		Children: []*domain.Node{
			{
				Name: "A",
				Kind: domain.KindFolder,
				Children: []*domain.Node{
					{
						Name:          "v.mp4",
						Kind:          domain.KindFile,
						ID:            "1",
						ContentKind:   "video/mp4",
						SourceLocator: "L1",
					},
				},
			},
		},
	}
}

func newRun(t *testing.T, cfg Config, gw *fakeGateway, led *ledger.Ledger, res *fakeResolver, dl *fakeDownloader) *Orchestrator {
	t.Helper()
	if cfg.RemoteRoot == "" {
		cfg.RemoteRoot = "mirror"
	}
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(t.TempDir(), "work")
	}
	if cfg.VideoContentKinds == nil {
		cfg.VideoContentKinds = []string{"video/mp4"}
	}
	return New(cfg, gw, led, res, dl, nil, zap.NewNop())
}

func TestRun_EndToEndThenIdempotent(t *testing.T) {
	ledgerPath := filepath.Join(t.TempDir(), "progress.json")
	tree := videoTree()

	// First run: everything happens exactly once.
	gw := &fakeGateway{}
	res := &fakeResolver{}
	dl := &fakeDownloader{}
	led, err := ledger.Load(ledgerPath, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	stats, err := newRun(t, Config{}, gw, led, res, dl).Run(context.Background(), tree)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got, want := gw.mkdirCalls, []string{"mirror/A"}; len(got) != 1 || got[0] != want[0] {
		t.Errorf("mkdir calls = %v, want %v", got, want)
	}
	if res.calls != 1 {
		t.Errorf("resolver calls = %d, want 1", res.calls)
	}
	if len(gw.copyCalls) != 1 {
		t.Errorf("copy calls = %d, want 1", len(gw.copyCalls))
	}
	if stats.Done != 1 || stats.Failed != 0 {
		t.Errorf("stats = %+v, want done=1 failed=0", stats)
	}
	if !led.IsCompleted("1") {
		t.Error("id 1 not recorded as completed")
	}

	// Second run over the same ledger file: zero gateway or resolver calls.
	gw2 := &fakeGateway{}
	res2 := &fakeResolver{}
	dl2 := &fakeDownloader{}
	led2, err := ledger.Load(ledgerPath, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	stats2, err := newRun(t, Config{}, gw2, led2, res2, dl2).Run(context.Background(), tree)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if len(gw2.mkdirCalls) != 0 || len(gw2.copyCalls) != 0 || res2.calls != 0 || dl2.calls != 0 {
		t.Errorf("second run performed work: mkdir=%v copy=%v resolver=%d downloader=%d",
			gw2.mkdirCalls, gw2.copyCalls, res2.calls, dl2.calls)
	}
	if stats2.Skipped != 1 {
		t.Errorf("second run skipped = %d, want 1", stats2.Skipped)
	}
}

func TestRun_FailureThenRetry(t *testing.T) {
	ledgerPath := filepath.Join(t.TempDir(), "progress.json")
	tree := &domain.Node{
		Name: "root",
		Kind: domain.KindFolder,
		Children: []*domain.Node{
			{Name: "doc.pdf", Kind: domain.KindFile, ID: "2", ContentKind: "application/pdf"},
		},
	}

	// First run: upload fails, the id lands in the failed set.
	gw := &fakeGateway{copyErr: errors.New("remote unavailable")}
	led, err := ledger.Load(ledgerPath, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	stats, err := newRun(t, Config{}, gw, led, &fakeResolver{}, &fakeDownloader{}).
		Run(context.Background(), tree)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("failed = %d, want 1", stats.Failed)
	}
	if !led.IsFailed("2") {
		t.Fatal("id 2 not recorded as failed")
	}

	// Second run: the fetch and copy happen again and the id moves to
	// completed, leaving the failed set empty.
	gw2 := &fakeGateway{}
	dl2 := &fakeDownloader{}
	led2, err := ledger.Load(ledgerPath, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	stats2, err := newRun(t, Config{}, gw2, led2, &fakeResolver{}, dl2).
		Run(context.Background(), tree)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if dl2.calls != 1 || len(gw2.copyCalls) != 1 {
		t.Errorf("retry did not re-transfer: downloader=%d copy=%d", dl2.calls, len(gw2.copyCalls))
	}
	if stats2.Done != 1 || stats2.Failed != 0 {
		t.Errorf("stats = %+v, want done=1 failed=0", stats2)
	}
	if !led2.IsCompleted("2") || led2.IsFailed("2") {
		t.Error("id 2 did not move from failed to completed")
	}
}

func TestRun_FolderCreatedAtMostOnce(t *testing.T) {
	// Both folder names sanitize to the same destination path.
	tree := &domain.Node{
		Name: "root",
		Kind: domain.KindFolder,
		Children: []*domain.Node{
			{Name: "B?", Kind: domain.KindFolder, Children: []*domain.Node{}},
			{Name: "B*", Kind: domain.KindFolder, Children: []*domain.Node{}},
		},
	}

	gw := &fakeGateway{}
	led, err := ledger.Load(filepath.Join(t.TempDir(), "progress.json"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := newRun(t, Config{}, gw, led, &fakeResolver{}, &fakeDownloader{}).
		Run(context.Background(), tree); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(gw.mkdirCalls) != 1 || gw.mkdirCalls[0] != "mirror/B_" {
		t.Errorf("mkdir calls = %v, want exactly one for mirror/B_", gw.mkdirCalls)
	}
}

func TestRun_RemoteListingBackfillsLedger(t *testing.T) {
	tree := &domain.Node{
		Name: "root",
		Kind: domain.KindFolder,
		Children: []*domain.Node{
			{Name: "doc.pdf", Kind: domain.KindFile, ID: "7", ContentKind: "application/pdf"},
		},
	}

	gw := &fakeGateway{listings: map[string][]string{
		"mirror": {"doc.pdf"},
	}}
	dl := &fakeDownloader{}
	led, err := ledger.Load(filepath.Join(t.TempDir(), "progress.json"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	stats, err := newRun(t, Config{}, gw, led, &fakeResolver{}, dl).
		Run(context.Background(), tree)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if dl.calls != 0 || len(gw.copyCalls) != 0 {
		t.Errorf("file on remote was re-transferred: downloader=%d copy=%d", dl.calls, len(gw.copyCalls))
	}
	if stats.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", stats.Skipped)
	}
	if !led.IsCompleted("7") {
		t.Error("ledger not back-filled from remote listing")
	}
}

func TestRun_DryRunMutatesNothing(t *testing.T) {
	ledgerPath := filepath.Join(t.TempDir(), "progress.json")
	tree := videoTree()

	gw := &fakeGateway{}
	res := &fakeResolver{}
	dl := &fakeDownloader{}
	led, err := ledger.Load(ledgerPath, zap.NewNop(), ledger.ReadOnly())
	if err != nil {
		t.Fatal(err)
	}

	stats, err := newRun(t, Config{DryRun: true}, gw, led, res, dl).
		Run(context.Background(), tree)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(gw.mkdirCalls) != 0 || len(gw.copyCalls) != 0 || res.calls != 0 || dl.calls != 0 {
		t.Errorf("dry run performed work: mkdir=%v copy=%v resolver=%d downloader=%d",
			gw.mkdirCalls, gw.copyCalls, res.calls, dl.calls)
	}
	if stats.Done != 1 {
		t.Errorf("dry run done = %d, want 1", stats.Done)
	}
	if _, err := os.Stat(ledgerPath); !os.IsNotExist(err) {
		t.Error("dry run wrote the ledger file")
	}
}

func TestRun_UploadFailureKeepsLocalArtifact(t *testing.T) {
	tempDir := filepath.Join(t.TempDir(), "work")
	tree := &domain.Node{
		Name: "root",
		Kind: domain.KindFolder,
		Children: []*domain.Node{
			{Name: "doc.pdf", Kind: domain.KindFile, ID: "3", ContentKind: "application/pdf"},
		},
	}

	gw := &fakeGateway{copyErr: errors.New("quota exceeded")}
	led, err := ledger.Load(filepath.Join(t.TempDir(), "progress.json"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := newRun(t, Config{TempDir: tempDir}, gw, led, &fakeResolver{}, &fakeDownloader{}).
		Run(context.Background(), tree); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(tempDir, "doc.pdf")); err != nil {
		t.Errorf("local artifact was not kept after upload failure: %v", err)
	}
}

func TestRun_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gw := &fakeGateway{}
	led, err := ledger.Load(filepath.Join(t.TempDir(), "progress.json"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	_, err = newRun(t, Config{}, gw, led, &fakeResolver{}, &fakeDownloader{}).
		Run(ctx, videoTree())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(gw.mkdirCalls) != 0 {
		t.Errorf("cancelled run still called mkdir: %v", gw.mkdirCalls)
	}
}
