// Package blobstore implements the remote gateway directly against an
// object-store bucket through gocloud.dev, for destinations where shelling
// out to rclone is unnecessary (s3://, gs://, file://, mem://).
package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"go.uber.org/zap"
	"gocloud.dev/blob"

	"github.com/halbridge/drivemirror/internal/port"
)

// Gateway writes into a bucket under an optional key prefix.
type Gateway struct {
	bucket *blob.Bucket
	prefix string
	logger *zap.Logger
}

// Ensure Gateway implements port.RemoteGateway
var _ port.RemoteGateway = (*Gateway)(nil)

// Open opens the bucket at urlstr. The caller owns the returned closer.
func Open(ctx context.Context, urlstr, prefix string, logger *zap.Logger) (*Gateway, error) {
	bucket, err := blob.OpenBucket(ctx, urlstr)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", urlstr, err)
	}
	return NewWithBucket(bucket, prefix, logger), nil
}

// NewWithBucket wraps an already-open bucket. Used by tests with memblob.
func NewWithBucket(bucket *blob.Bucket, prefix string, logger *zap.Logger) *Gateway {
	return &Gateway{bucket: bucket, prefix: strings.Trim(prefix, "/"), logger: logger}
}

// Close releases the bucket.
func (g *Gateway) Close() error {
	return g.bucket.Close()
}

// Mkdir is a no-op: buckets have no real directories, keys imply them.
// Reporting success keeps the idempotence contract trivially.
func (g *Gateway) Mkdir(ctx context.Context, dir string) error {
	g.logger.Debug("bucket mkdir is implicit", zap.String("path", dir))
	return nil
}

// Copy uploads localPath under remoteDir, preserving the base name.
func (g *Gateway) Copy(ctx context.Context, localPath, remoteDir string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer f.Close()

	key := g.key(remoteDir, path.Base(strings.ReplaceAll(localPath, "\\", "/")))
	w, err := g.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("open bucket writer: %w", err)
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish upload %s: %w", key, err)
	}
	return nil
}

// List returns the immediate entry names under remoteDir.
func (g *Gateway) List(ctx context.Context, remoteDir string) ([]string, error) {
	prefix := g.key(remoteDir, "")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var names []string
	iter := g.bucket.List(&blob.ListOptions{Prefix: prefix, Delimiter: "/"})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		name := strings.TrimPrefix(obj.Key, prefix)
		name = strings.TrimSuffix(name, "/")
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

func (g *Gateway) key(parts ...string) string {
	segs := make([]string, 0, len(parts)+1)
	if g.prefix != "" {
		segs = append(segs, g.prefix)
	}
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			segs = append(segs, p)
		}
	}
	return strings.Join(segs, "/")
}
