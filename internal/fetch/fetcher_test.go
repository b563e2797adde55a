package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/halbridge/drivemirror/internal/domain"
	"github.com/halbridge/drivemirror/internal/port"
)

func testPayload(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func newFetcher(t *testing.T, opts Options) *Fetcher {
	t.Helper()
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = Fixed(2, time.Millisecond)
	}
	if opts.OverallTimeout == 0 {
		opts.OverallTimeout = 30 * time.Second
	}
	return New(http.DefaultClient, opts, zap.NewNop())
}

func TestFetch_RedirectPageClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "5000")
	}))
	defer srv.Close()

	f := newFetcher(t, Options{Parts: 4})
	dest := filepath.Join(t.TempDir(), "out.bin")

	res, err := f.Fetch(context.Background(), srv.URL, dest, nil)
	require.NoError(t, err)
	require.Equal(t, FetchRedirectPage, res.Kind)

	_, statErr := os.Stat(dest)
	require.True(t, os.IsNotExist(statErr), "redirect outcome must not write a destination")
}

func TestFetch_ProbeFailureReadsAsRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newFetcher(t, Options{Parts: 4})
	dest := filepath.Join(t.TempDir(), "out.bin")

	res, err := f.Fetch(context.Background(), srv.URL, dest, nil)
	require.NoError(t, err)
	require.Equal(t, FetchRedirectPage, res.Kind)
}

func TestFetch_ChunkedSuccess(t *testing.T) {
	payload := testPayload(50_000)
	var sawCookie atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Cookie"), "SID=abc") {
			sawCookie.Store(true)
		}
		http.ServeContent(w, r, "out.bin", time.Time{}, bytes.NewReader(payload))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")

	// Debris from a prior failed run is removed before starting.
	require.NoError(t, os.WriteFile(dest, []byte("<html>bounce</html>"), 0644))

	f := newFetcher(t, Options{Parts: 4})
	res, err := f.Fetch(context.Background(), srv.URL, dest, port.Credentials{"SID": "abc"})
	require.NoError(t, err)
	require.Equal(t, FetchOK, res.Kind)
	require.Equal(t, int64(len(payload)), res.BytesWritten)
	require.True(t, sawCookie.Load(), "credentials must be sent as cookies")

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, payload, got, "merged file must equal the source byte for byte")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary part files must be deleted")
}

func TestFetch_SingleStreamEquivalent(t *testing.T) {
	payload := testPayload(20_000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "out.bin", time.Time{}, bytes.NewReader(payload))
	}))
	defer srv.Close()

	f := newFetcher(t, Options{Parts: 1})
	dest := filepath.Join(t.TempDir(), "out.bin")

	res, err := f.Fetch(context.Background(), srv.URL, dest, nil)
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), res.BytesWritten)
}

func TestFetch_ResumesExistingParts(t *testing.T) {
	payload := testPayload(40_000)
	var mu sync.Mutex
	var ranges []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			mu.Lock()
			ranges = append(ranges, r.Header.Get("Range"))
			mu.Unlock()
		}
		http.ServeContent(w, r, "out.bin", time.Time{}, bytes.NewReader(payload))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")

	// Parts 0 and 1 survive from an interrupted run: one complete, one half
	// done. The fetch must skip the first and resume the second mid-range.
	require.NoError(t, os.WriteFile(partPath(dest, 0), payload[:10_000], 0644))
	require.NoError(t, os.WriteFile(partPath(dest, 1), payload[10_000:15_000], 0644))

	f := newFetcher(t, Options{Parts: 4})
	res, err := f.Fetch(context.Background(), srv.URL, dest, nil)
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), res.BytesWritten)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	require.NotContains(t, ranges, "bytes=0-9999", "complete part must not be re-fetched")
	require.Contains(t, ranges, "bytes=15000-19999", "partial part must resume mid-range")
}

func TestFetch_IntegrityFailure(t *testing.T) {
	// The server advertises 50000 bytes but every range response carries
	// only half of what was asked for, so the merge comes up short.
	const advertised = 50_000
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(advertised))
			return
		}
		var start, end int64
		fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end)
		n := (end - start + 1) / 2
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, advertised))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(make([]byte, n))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")

	f := newFetcher(t, Options{Parts: 4})
	_, err := f.Fetch(context.Background(), srv.URL, dest, nil)
	require.ErrorIs(t, err, domain.ErrIntegrity)

	_, statErr := os.Stat(dest)
	require.True(t, os.IsNotExist(statErr), "undersized merge must never leave a destination file")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "part files must be cleaned up after failure")
}

func TestFetch_AcceptedWithinSlack(t *testing.T) {
	// 96% of the advertised size is within the 5% slack and accepted.
	const advertised = 50_000
	payload := testPayload(48_000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(advertised))
			return
		}
		var start, end int64
		fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end)
		if start >= int64(len(payload)) {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, advertised))
			w.WriteHeader(http.StatusPartialContent)
			return
		}
		if end >= int64(len(payload)) {
			end = int64(len(payload)) - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, advertised))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(payload[start : end+1])
	}))
	defer srv.Close()

	f := newFetcher(t, Options{Parts: 4})
	dest := filepath.Join(t.TempDir(), "out.bin")

	res, err := f.Fetch(context.Background(), srv.URL, dest, nil)
	require.NoError(t, err)
	require.Equal(t, FetchOK, res.Kind)
	require.Equal(t, int64(len(payload)), res.BytesWritten)
}

func TestFetch_PartFailureCleansUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "50000")
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")

	f := newFetcher(t, Options{Parts: 4})
	_, err := f.Fetch(context.Background(), srv.URL, dest, nil)
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestFetch_Cancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "50000")
			return
		}
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")

	f := newFetcher(t, Options{Parts: 2, Retry: Fixed(1, time.Millisecond)})
	_, err := f.Fetch(ctx, srv.URL, dest, nil)
	require.Error(t, err)

	_, statErr := os.Stat(dest)
	require.True(t, os.IsNotExist(statErr))
}
