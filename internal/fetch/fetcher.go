// Package fetch implements the parallel chunked downloader: a metadata
// probe, N concurrent byte-range part downloads into private temp files,
// an in-order merge, and an integrity check against the advertised size.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/halbridge/drivemirror/internal/domain"
	"github.com/halbridge/drivemirror/internal/port"
	"github.com/halbridge/drivemirror/internal/progress"
)

const (
	// DefaultRedirectThreshold separates a short HTML bounce page from real
	// payload. Responses below it are classified as redirect pages.
	DefaultRedirectThreshold = 10_000

	// sizeSlack tolerates servers that advertise an estimated size: the
	// merged file must reach at least this fraction of the probe size.
	sizeSlack = 0.95

	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// OutcomeKind classifies a finished fetch.
type OutcomeKind int

const (
	// FetchOK means the destination file was written and verified.
	FetchOK OutcomeKind = iota

	// FetchRedirectPage means the URL served a small landing page instead
	// of content. Not an error: the caller needs a different URL.
	FetchRedirectPage
)

// Result is the success value of a fetch.
type Result struct {
	Kind         OutcomeKind
	BytesWritten int64
}

// Options configures a Fetcher.
type Options struct {
	// Parts is the number of parallel byte-range requests per file.
	// Parts 1 degrades to a single-stream download.
	Parts int

	// RedirectThreshold is the size in bytes below which a response is
	// classified as a redirect page. Default DefaultRedirectThreshold.
	RedirectThreshold int64

	// Retry is applied independently to the probe and to each part.
	Retry Policy

	// OverallTimeout bounds one whole-file fetch regardless of per-request
	// timeouts. Default 15 minutes.
	OverallTimeout time.Duration

	// Referer is attached to every request. Some hosts reject ranged
	// requests without it.
	Referer string

	// ProgressInterval throttles the advisory progress log. Default 5s.
	ProgressInterval time.Duration
}

// Fetcher downloads single files by URL. Safe for sequential reuse across
// files; the orchestrator runs one fetch at a time.
type Fetcher struct {
	client *http.Client
	opts   Options
	logger *zap.Logger
}

// NewHTTPClient returns a client tuned for bulk ranged downloads. No overall
// client timeout: per-fetch deadlines come from the context.
func NewHTTPClient(bufferSizeMB int) *http.Client {
	if bufferSizeMB <= 0 {
		bufferSizeMB = 8
	}
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:          200,
			MaxIdleConnsPerHost:   64,
			MaxConnsPerHost:       64,
			IdleConnTimeout:       120 * time.Second,
			WriteBufferSize:       bufferSizeMB * 1024 * 1024,
			ReadBufferSize:        bufferSizeMB * 1024 * 1024,
			ForceAttemptHTTP2:     true,
			DisableCompression:    true,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}
}

// New creates a Fetcher.
func New(client *http.Client, opts Options, logger *zap.Logger) *Fetcher {
	if opts.Parts <= 0 {
		opts.Parts = 16
	}
	if opts.RedirectThreshold <= 0 {
		opts.RedirectThreshold = DefaultRedirectThreshold
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = Fixed(3, 3*time.Second)
	}
	if opts.OverallTimeout <= 0 {
		opts.OverallTimeout = 15 * time.Minute
	}
	if client == nil {
		client = NewHTTPClient(0)
	}
	return &Fetcher{client: client, opts: opts, logger: logger}
}

// Fetch downloads url into dest. Credentials, when present, are sent as
// cookies on every request. Cancelling ctx stops in-flight parts and
// discards their temp files; dest is only ever a complete, verified file.
func (f *Fetcher) Fetch(ctx context.Context, url, dest string, creds port.Credentials) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.OverallTimeout)
	defer cancel()

	// Debris from a prior failed run: a destination smaller than the
	// redirect threshold cannot be real content.
	if info, err := os.Stat(dest); err == nil && info.Size() < f.opts.RedirectThreshold {
		f.logger.Info("removing corrupt destination from previous run",
			zap.String("path", dest),
			zap.Int64("size", info.Size()))
		if err := os.Remove(dest); err != nil {
			return nil, fmt.Errorf("remove corrupt destination: %w", err)
		}
	}

	totalSize := f.probe(ctx, url, creds)
	if totalSize < f.opts.RedirectThreshold {
		f.logger.Warn("probe size below redirect threshold",
			zap.String("url", url),
			zap.Int64("size", totalSize),
			zap.Int64("threshold", f.opts.RedirectThreshold))
		return &Result{Kind: FetchRedirectPage}, nil
	}

	parts := Partition(totalSize, f.opts.Parts)
	counter := progress.NewCounter(totalSize)

	reportCtx, stopReport := context.WithCancel(ctx)
	defer stopReport()
	reporter := &progress.Reporter{
		Counter:  counter,
		Logger:   f.logger,
		Label:    dest,
		Interval: f.opts.ProgressInterval,
	}
	go reporter.Run(reportCtx)

	f.logger.Info("starting chunked fetch",
		zap.String("dest", dest),
		zap.Int64("total_size", totalSize),
		zap.Int("parts", len(parts)))

	p := pool.New().
		WithMaxGoroutines(len(parts)).
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError()

	for _, part := range parts {
		part := part
		p.Go(func(ctx context.Context) error {
			return f.opts.Retry.Do(ctx, func() error {
				return f.downloadPart(ctx, url, dest, part, creds, counter)
			})
		})
	}

	if err := p.Wait(); err != nil {
		f.cleanupParts(dest, parts)
		return nil, fmt.Errorf("part download: %w", err)
	}

	written, err := f.merge(dest, parts)
	if err != nil {
		f.cleanupParts(dest, parts)
		return nil, err
	}

	if float64(written) < float64(totalSize)*sizeSlack {
		os.Remove(dest)
		f.cleanupParts(dest, parts)
		return nil, fmt.Errorf("%w: got %d of %d bytes", domain.ErrIntegrity, written, totalSize)
	}

	f.cleanupParts(dest, parts)
	return &Result{Kind: FetchOK, BytesWritten: written}, nil
}

// probe issues a HEAD request for the advertised size. Any failure, or a
// missing content length, reads as size zero.
func (f *Fetcher) probe(ctx context.Context, url string, creds port.Credentials) int64 {
	var size int64
	err := f.opts.Retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return err
		}
		f.setHeaders(req, creds)

		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("probe: server error %d", resp.StatusCode)
		}
		if resp.ContentLength > 0 {
			size = resp.ContentLength
		}
		return nil
	})
	if err != nil {
		f.logger.Warn("metadata probe failed, treating size as unknown",
			zap.String("url", url),
			zap.Error(err))
		return 0
	}
	return size
}

// downloadPart fetches one byte range into its private part file. Bytes
// already present from an interrupted earlier attempt are kept and the range
// request resumes after them.
func (f *Fetcher) downloadPart(ctx context.Context, url, dest string, part Part, creds port.Credentials, counter *progress.Counter) error {
	pp := partPath(dest, part.Index)

	var offset int64
	if info, err := os.Stat(pp); err == nil {
		if info.Size() >= part.Len() {
			counter.Add(part.Len())
			return nil
		}
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	f.setHeaders(req, creds)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", part.Start+offset, part.End))

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("part %d: %w", part.Index, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
			return fmt.Errorf("part %d: %w", part.Index, domain.ErrRangeNotSupported)
		}
		return fmt.Errorf("part %d: unexpected status %d", part.Index, resp.StatusCode)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if resp.StatusCode == http.StatusOK {
		// Server ignored the range and sent the whole object.
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		offset = 0
	}
	counter.Add(offset)

	out, err := os.OpenFile(pp, flags, 0644)
	if err != nil {
		return fmt.Errorf("part %d: %w", part.Index, err)
	}

	_, err = io.Copy(out, &countingReader{r: resp.Body, counter: counter})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("part %d: %w", part.Index, err)
	}
	return nil
}

// merge concatenates the part files in index order into dest.
func (f *Fetcher) merge(dest string, parts []Part) (int64, error) {
	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create destination: %w", err)
	}

	var written int64
	for _, part := range parts {
		in, err := os.Open(partPath(dest, part.Index))
		if err != nil {
			out.Close()
			os.Remove(dest)
			return 0, fmt.Errorf("open part %d: %w", part.Index, err)
		}
		n, err := io.Copy(out, in)
		in.Close()
		if err != nil {
			out.Close()
			os.Remove(dest)
			return 0, fmt.Errorf("merge part %d: %w", part.Index, err)
		}
		written += n
	}

	if err := out.Close(); err != nil {
		os.Remove(dest)
		return 0, fmt.Errorf("close destination: %w", err)
	}
	return written, nil
}

func (f *Fetcher) cleanupParts(dest string, parts []Part) {
	var errs error
	for _, part := range parts {
		if err := os.Remove(partPath(dest, part.Index)); err != nil && !os.IsNotExist(err) {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		f.logger.Warn("failed to remove some part files", zap.Error(errs))
	}
}

func (f *Fetcher) setHeaders(req *http.Request, creds port.Credentials) {
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "*/*")
	if f.opts.Referer != "" {
		req.Header.Set("Referer", f.opts.Referer)
	}
	if len(creds) > 0 {
		req.Header.Set("Cookie", cookieHeader(creds))
	}
}

func cookieHeader(creds port.Credentials) string {
	pairs := make([]string, 0, len(creds))
	for name, value := range creds {
		pairs = append(pairs, name+"="+value)
	}
	return strings.Join(pairs, "; ")
}

func partPath(dest string, index int) string {
	return fmt.Sprintf("%s.part%d", dest, index)
}

// countingReader feeds the advisory progress counter as parts stream in.
type countingReader struct {
	r       io.Reader
	counter *progress.Counter
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.counter.Add(int64(n))
	return n, err
}
