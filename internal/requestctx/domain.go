package requestctx

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yourorg/purchase-gateway/internal/adapter"
)

// TimeoutConfig stores the payment time budget of a site.
type TimeoutConfig struct {
	OverallBudgetMs int64 // budget for one process request
	BillerTimeoutMs int64 // cap on a single biller call
}

// DomainContext carries the business data resolved for one purchase request.
type DomainContext struct {
	SessionID     string
	SiteID        string
	BusinessGroup string
	ReturnURL     string
	MaxSubmits    int
	TimeoutConfig TimeoutConfig
	FeatureFlags  map[string]bool
	Site          adapter.SiteConfig
	Logger        *zap.Logger
}

// GetFeatureFlag reports whether key is enabled for the site.
func (d DomainContext) GetFeatureFlag(key string) bool {
	if d.FeatureFlags == nil {
		return false
	}
	return d.FeatureFlags[key]
}

// Log returns the request logger, never nil.
func (d DomainContext) Log() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// Builder resolves DomainContexts from site configuration.
type Builder struct {
	sites    adapter.SiteConfigService
	timeouts TimeoutConfig
	logger   *zap.Logger
}

func NewBuilder(sites adapter.SiteConfigService, timeouts TimeoutConfig, logger *zap.Logger) *Builder {
	if sites == nil {
		panic("SiteConfigService cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{sites: sites, timeouts: timeouts, logger: logger}
}

// Build returns the trace and domain contexts of a request on siteID.
func (b *Builder) Build(ctx context.Context, correlationID, sessionID, siteID string) (TraceContext, DomainContext, error) {
	tc := NewTraceContextWithIDs(ctx, correlationID, "")
	site, err := b.sites.Retrieve(ctx, siteID)
	if err != nil {
		return tc, DomainContext{}, fmt.Errorf("requestctx: failed to get site config: %w", err)
	}
	dc := DomainContext{
		SessionID:     sessionID,
		SiteID:        siteID,
		BusinessGroup: site.BusinessGroup,
		ReturnURL:     site.ReturnURL,
		MaxSubmits:    site.MaxGatewaySubmit,
		TimeoutConfig: b.timeouts,
		FeatureFlags:  site.FeatureFlags,
		Site:          site,
		Logger: b.logger.With(
			zap.String("correlation_id", tc.TraceID),
			zap.String("session_id", sessionID),
			zap.String("site_id", siteID)),
	}
	return tc, dc, nil
}
