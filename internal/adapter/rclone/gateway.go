// Package rclone implements the remote gateway on top of the rclone CLI.
// Each operation shells out to one rclone subcommand with a bounded timeout.
package rclone

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/halbridge/drivemirror/internal/domain"
	"github.com/halbridge/drivemirror/internal/port"
)

// Config configures the gateway.
type Config struct {
	// Binary is the rclone executable. Default "rclone".
	Binary string

	// RemoteName is the configured rclone remote prefix, e.g. "gdrive:".
	RemoteName string

	// CommandTimeout bounds mkdir and copy. Default 10 minutes.
	CommandTimeout time.Duration

	// ListTimeout bounds lsf. Default 30 seconds.
	ListTimeout time.Duration
}

// Gateway runs rclone subcommands against one configured remote.
type Gateway struct {
	cfg    Config
	logger *zap.Logger
}

// Ensure Gateway implements port.RemoteGateway
var _ port.RemoteGateway = (*Gateway)(nil)

// New creates a Gateway.
func New(cfg Config, logger *zap.Logger) *Gateway {
	if cfg.Binary == "" {
		cfg.Binary = "rclone"
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 10 * time.Minute
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = 30 * time.Second
	}
	return &Gateway{cfg: cfg, logger: logger}
}

// Verify checks that the rclone binary is runnable. Total unavailability of
// the gateway aborts the whole run, so this is called once at startup.
func (g *Gateway) Verify(ctx context.Context) error {
	out, err := g.run(ctx, 10*time.Second, "version")
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	if line, _, ok := strings.Cut(out, "\n"); ok || line != "" {
		g.logger.Info("rclone ready", zap.String("version", strings.TrimSpace(line)))
	}
	return nil
}

// Mkdir creates a directory on the remote. rclone mkdir succeeds when the
// path already exists, which satisfies the idempotence contract.
func (g *Gateway) Mkdir(ctx context.Context, path string) error {
	g.logger.Debug("rclone mkdir", zap.String("path", path))
	_, err := g.run(ctx, g.cfg.CommandTimeout, "mkdir", g.cfg.RemoteName+path)
	return err
}

// Copy uploads localPath into remoteDir, keeping the base name.
func (g *Gateway) Copy(ctx context.Context, localPath, remoteDir string) error {
	g.logger.Debug("rclone copy",
		zap.String("local", localPath),
		zap.String("remote_dir", remoteDir))
	_, err := g.run(ctx, g.cfg.CommandTimeout, "copy", localPath, g.cfg.RemoteName+remoteDir)
	return err
}

// List returns the immediate entry names of remoteDir.
func (g *Gateway) List(ctx context.Context, remoteDir string) ([]string, error) {
	out, err := g.run(ctx, g.cfg.ListTimeout, "lsf", g.cfg.RemoteName+remoteDir+"/")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSuffix(strings.TrimSpace(line), "/")
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

func (g *Gateway) run(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, g.cfg.Binary, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
			// A timed-out command is a transient failure at the node
			// level, eligible for retry on the next run.
			return "", domain.NewRetryableError(
				fmt.Errorf("rclone %s timed out after %s", args[0], timeout), 0)
		}
		return "", fmt.Errorf("rclone %s: %w: %s", args[0], err, truncate(out, 200))
	}
	return string(out), nil
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n]
	}
	return s
}
