// Package progress tracks advisory byte counters for in-flight downloads.
// Counters never gate correctness; they only feed log output.
package progress

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Counter accumulates bytes downloaded across concurrent part fetches.
// Add is safe to call from any number of goroutines.
type Counter struct {
	total int64
	done  atomic.Int64
}

// NewCounter creates a counter for an expected total. Total zero means the
// size is unknown and Fraction always reports zero.
func NewCounter(total int64) *Counter {
	return &Counter{total: total}
}

// Add records n more bytes downloaded.
func (c *Counter) Add(n int64) {
	if n > 0 {
		c.done.Add(n)
	}
}

// Done returns the bytes downloaded so far.
func (c *Counter) Done() int64 {
	return c.done.Load()
}

// Total returns the expected total in bytes.
func (c *Counter) Total() int64 {
	return c.total
}

// Fraction returns done/total in [0,1], or 0 when the total is unknown.
func (c *Counter) Fraction() float64 {
	if c.total <= 0 {
		return 0
	}
	f := float64(c.Done()) / float64(c.total)
	if f > 1 {
		f = 1
	}
	return f
}

// Reporter logs a counter snapshot on a fixed interval until its context is
// cancelled.
type Reporter struct {
	Counter  *Counter
	Logger   *zap.Logger
	Label    string
	Interval time.Duration
}

// Run blocks, emitting one log line per interval. Call it in a goroutine and
// cancel the context when the download finishes.
func (r *Reporter) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Logger.Info("downloading",
				zap.String("file", r.Label),
				zap.String("done", humanize.Bytes(uint64(r.Counter.Done()))),
				zap.String("total", humanize.Bytes(uint64(r.Counter.Total()))),
				zap.Float64("fraction", r.Counter.Fraction()),
			)
		}
	}
}
