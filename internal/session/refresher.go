package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/halbridge/drivemirror/internal/port"
	"github.com/halbridge/drivemirror/internal/util/ratelimiter"
)

// DefaultRefreshInterval is how often the credential set is re-acquired
// during a long run.
const DefaultRefreshInterval = 600 * time.Second

// Refresher caches a credential set and re-acquires it through the external
// session collaborator at most once per interval. A failed refresh keeps the
// stale set rather than aborting the run.
type Refresher struct {
	source port.CredentialSource
	gate   *ratelimiter.Limiter
	logger *zap.Logger

	creds port.Credentials
}

// NewRefresher creates a refresher around source.
func NewRefresher(source port.CredentialSource, interval time.Duration, logger *zap.Logger) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Refresher{
		source: source,
		gate:   ratelimiter.New(interval),
		logger: logger,
	}
}

// Prime performs the initial acquisition. Failure is not fatal: generic
// downloads may still work without credentials, so the caller decides
// whether to warn or abort.
func (r *Refresher) Prime(ctx context.Context) error {
	creds, err := r.source.Credentials(ctx)
	if err != nil {
		return err
	}
	r.creds = creds
	// Consume one interval so the next refresh waits the full period.
	r.gate.Allow()
	return nil
}

// Current returns the active credential set, refreshing it first when the
// interval has elapsed. Callers are sequential (the orchestrator is
// single-threaded), so no extra locking is layered over the gate.
func (r *Refresher) Current(ctx context.Context) port.Credentials {
	ok, _ := r.gate.Allow()
	if !ok {
		return r.creds
	}

	r.logger.Info("refreshing credential set",
		zap.Duration("interval", r.gate.Interval()))
	creds, err := r.source.Credentials(ctx)
	if err != nil {
		r.logger.Warn("credential refresh failed, keeping stale set", zap.Error(err))
		r.gate.Reset()
		return r.creds
	}
	r.creds = creds
	r.logger.Info("credential set refreshed", zap.Int("cookies", len(creds)))
	return r.creds
}
