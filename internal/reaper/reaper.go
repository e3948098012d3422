// Package reaper force-finishes purchase sessions whose client never came
// back, e.g. from a 3-D Secure redirect, once the auth token TTL elapsed.
package reaper

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/yourorg/purchase-gateway/internal/orchestrator"
	"github.com/yourorg/purchase-gateway/internal/purchase"
	"github.com/yourorg/purchase-gateway/internal/repository"
)

const defaultBatch = 100

var sessionsReapedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "purchase_reaper_sessions_total",
		Help: "Stale sessions handed to expiry, by outcome.",
	},
	[]string{"outcome"},
)

func GetSessionsReapedTotal() *prometheus.CounterVec { return sessionsReapedTotal }

// Dispatcher hands stale sessions over for expiry.
type Dispatcher interface {
	Dispatch(ctx context.Context, ids []purchase.SessionID) error
}

// Expirer expires one session. orchestrator.Orchestrator implements it.
type Expirer interface {
	ExpireSession(ctx context.Context, sessionID string) (orchestrator.Result, error)
}

// DirectDispatcher expires sessions in process, one after the other.
type DirectDispatcher struct {
	expirer Expirer
	logger  *zap.Logger
}

func NewDirectDispatcher(expirer Expirer, logger *zap.Logger) *DirectDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectDispatcher{expirer: expirer, logger: logger}
}

// Dispatch expires every id. Sessions locked by a live request are skipped
// and picked up by a later sweep.
func (d *DirectDispatcher) Dispatch(ctx context.Context, ids []purchase.SessionID) error {
	var errs []error
	for _, id := range ids {
		res, err := d.expirer.ExpireSession(ctx, id.String())
		switch {
		case err == nil:
			sessionsReapedTotal.WithLabelValues(string(res.State)).Inc()
		case purchase.KindOf(err) == purchase.KindSessionAlreadyProcessed:
			sessionsReapedTotal.WithLabelValues("locked").Inc()
			d.logger.Debug("session busy, retrying next sweep", zap.String("session_id", id.String()))
		default:
			sessionsReapedTotal.WithLabelValues("error").Inc()
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reaper periodically looks for stale sessions.
type Reaper struct {
	repo     repository.Repository
	dispatch Dispatcher
	ttl      time.Duration
	batch    int
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Reaper)

func WithBatch(n int) Option                { return func(r *Reaper) { r.batch = n } }
func WithLogger(l *zap.Logger) Option       { return func(r *Reaper) { r.logger = l } }
func WithClock(now func() time.Time) Option { return func(r *Reaper) { r.now = now } }

// NewReaper expires sessions untouched for longer than ttl.
func NewReaper(repo repository.Repository, dispatch Dispatcher, ttl time.Duration, opts ...Option) *Reaper {
	if repo == nil {
		panic("Repository cannot be nil")
	}
	if dispatch == nil {
		panic("Dispatcher cannot be nil")
	}
	r := &Reaper{repo: repo, dispatch: dispatch, ttl: ttl, batch: defaultBatch, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	if r.batch <= 0 {
		r.batch = defaultBatch
	}
	return r
}

// Sweep dispatches one batch of stale sessions and returns its size.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	ids, err := r.repo.ListStale(ctx, r.now().Add(-r.ttl), r.batch)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	r.logger.Info("expiring stale sessions", zap.Int("count", len(ids)))
	return len(ids), r.dispatch.Dispatch(ctx, ids)
}

// Run sweeps every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Error("reaper sweep failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
