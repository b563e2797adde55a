// Package resolver invokes the external source-resolution collaborator:
// a command that, given a source locator, produces one local media artifact
// (typically by capturing stream URLs and remuxing them).
package resolver

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/halbridge/drivemirror/internal/domain"
	"github.com/halbridge/drivemirror/internal/port"
)

// Config configures the command resolver.
type Config struct {
	// Command is the collaborator invocation, split on whitespace; the
	// locator is appended as the final argument.
	Command string

	// WorkDir is where the collaborator runs and drops its artifact.
	WorkDir string

	// ArtifactGlob matches the produced artifact inside WorkDir,
	// e.g. "merged_*.mp4".
	ArtifactGlob string

	// Timeout bounds one invocation. Default 15 minutes.
	Timeout time.Duration
}

// CommandResolver shells out to the collaborator and claims the artifact it
// produced by comparing the glob matches before and after the run.
type CommandResolver struct {
	cfg    Config
	logger *zap.Logger
}

// Ensure CommandResolver implements port.SourceResolver
var _ port.SourceResolver = (*CommandResolver)(nil)

// New creates a CommandResolver.
func New(cfg Config, logger *zap.Logger) *CommandResolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Minute
	}
	if cfg.ArtifactGlob == "" {
		cfg.ArtifactGlob = "merged_*.mp4"
	}
	return &CommandResolver{cfg: cfg, logger: logger}
}

// Resolve runs the collaborator once for locator and moves its artifact to
// destPath. The collaborator may follow any number of redirect hops
// internally; from here it either produced a file or it failed.
func (r *CommandResolver) Resolve(ctx context.Context, locator, destPath string) error {
	if r.cfg.Command == "" {
		return fmt.Errorf("no source resolver command configured")
	}

	before, err := r.artifacts()
	if err != nil {
		return err
	}

	cmdCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	args := append(strings.Fields(r.cfg.Command), locator)
	cmd := exec.CommandContext(cmdCtx, args[0], args[1:]...)
	cmd.Dir = r.cfg.WorkDir

	r.logger.Info("invoking source resolver",
		zap.String("command", args[0]),
		zap.String("locator", locator))
	start := time.Now()

	if out, err := cmd.CombinedOutput(); err != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			return domain.NewRetryableError(
				fmt.Errorf("source resolver timed out after %s", r.cfg.Timeout), 0)
		}
		return fmt.Errorf("source resolver: %w: %s", err, tail(out, 200))
	}

	artifact, err := r.claimArtifact(before, start)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}
	os.Remove(destPath)
	if err := os.Rename(artifact, destPath); err != nil {
		return fmt.Errorf("move artifact into place: %w", err)
	}
	return nil
}

// claimArtifact picks the glob match that appeared during the run, falling
// back to the newest match when the collaborator overwrote an existing file.
func (r *CommandResolver) claimArtifact(before map[string]struct{}, start time.Time) (string, error) {
	after, err := r.artifacts()
	if err != nil {
		return "", err
	}

	var fresh []string
	for path := range after {
		if _, existed := before[path]; !existed {
			fresh = append(fresh, path)
		}
	}
	if len(fresh) > 0 {
		sort.Strings(fresh)
		return fresh[0], nil
	}

	var newest string
	var newestMod time.Time
	for path := range after {
		if info, err := os.Stat(path); err == nil && info.ModTime().After(newestMod) {
			newest, newestMod = path, info.ModTime()
		}
	}
	// Overwritten-in-place artifacts only count when modified during this
	// invocation.
	if newest != "" && newestMod.After(start.Add(-2*time.Second)) {
		return newest, nil
	}
	return "", domain.ErrNoArtifact
}

func (r *CommandResolver) artifacts() (map[string]struct{}, error) {
	matches, err := filepath.Glob(filepath.Join(r.cfg.WorkDir, r.cfg.ArtifactGlob))
	if err != nil {
		return nil, fmt.Errorf("artifact glob: %w", err)
	}
	set := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		set[m] = struct{}{}
	}
	return set, nil
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}
