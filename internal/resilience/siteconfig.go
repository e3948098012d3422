package resilience

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/purchase-gateway/internal/adapter"
	"github.com/yourorg/purchase-gateway/internal/circuitbreaker"
)

// DefaultMaxGatewaySubmits applies when a site does not configure a limit.
const DefaultMaxGatewaySubmits = 5

// SiteConfigService caches site configs and serves the cached copy, or a
// default config, while the config service is failing.
type SiteConfigService struct {
	next   adapter.SiteConfigService
	cb     *circuitbreaker.CircuitBreaker
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]adapter.SiteConfig
}

func NewSiteConfigService(next adapter.SiteConfigService, cb *circuitbreaker.CircuitBreaker, logger *zap.Logger) *SiteConfigService {
	return &SiteConfigService{next: next, cb: cb, logger: orNop(logger), cache: make(map[string]adapter.SiteConfig)}
}

func (s *SiteConfigService) Retrieve(ctx context.Context, siteID string) (adapter.SiteConfig, error) {
	if cfg, ok := s.cached(siteID); ok {
		return cfg, nil
	}
	return circuitbreaker.Execute(ctx, s.cb, BreakerSiteConfig,
		func(ctx context.Context) (adapter.SiteConfig, error) {
			cfg, err := s.next.Retrieve(ctx, siteID)
			if err != nil {
				return adapter.SiteConfig{}, err
			}
			cfg = withSiteDefaults(siteID, cfg)
			s.mu.Lock()
			s.cache[siteID] = cfg
			s.mu.Unlock()
			return cfg, nil
		},
		func(_ context.Context, cause error) (adapter.SiteConfig, error) {
			s.logger.Warn("site config unavailable, using defaults", zap.String("site_id", siteID), zap.Error(cause))
			return withSiteDefaults(siteID, adapter.SiteConfig{}), nil
		})
}

func (s *SiteConfigService) cached(siteID string) (adapter.SiteConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.cache[siteID]
	return cfg, ok
}

// Invalidate drops the cached config of siteID.
func (s *SiteConfigService) Invalidate(siteID string) {
	s.mu.Lock()
	delete(s.cache, siteID)
	s.mu.Unlock()
}

func withSiteDefaults(siteID string, cfg adapter.SiteConfig) adapter.SiteConfig {
	if cfg.SiteID == "" {
		cfg.SiteID = siteID
	}
	if cfg.BusinessGroup == "" {
		cfg.BusinessGroup = "default"
	}
	if cfg.MaxGatewaySubmit <= 0 {
		cfg.MaxGatewaySubmit = DefaultMaxGatewaySubmits
	}
	return cfg
}

// SiteConfigRefresher polls site-admin events and invalidates changed sites.
type SiteConfigRefresher struct {
	admin   adapter.SiteAdminService
	configs *SiteConfigService
	logger  *zap.Logger

	mu   sync.Mutex
	last int64
}

func NewSiteConfigRefresher(admin adapter.SiteAdminService, configs *SiteConfigService, logger *zap.Logger) *SiteConfigRefresher {
	return &SiteConfigRefresher{admin: admin, configs: configs, logger: orNop(logger)}
}

// Sync applies one batch of events and returns how many were applied.
func (r *SiteConfigRefresher) Sync(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	events, err := r.admin.Events(ctx, r.last)
	if err != nil {
		return 0, err
	}
	for _, e := range events {
		r.configs.Invalidate(e.SiteID)
		if e.Sequence > r.last {
			r.last = e.Sequence
		}
		r.logger.Debug("site config invalidated", zap.String("site_id", e.SiteID), zap.String("event", e.Type))
	}
	return len(events), nil
}

// Run syncs every interval until ctx is cancelled.
func (r *SiteConfigRefresher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sync(ctx); err != nil {
				r.logger.Warn("site config refresh failed", zap.Error(err))
			}
		}
	}
}
