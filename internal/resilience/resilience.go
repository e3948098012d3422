// Package resilience wraps every external service port in a circuit breaker.
// Read paths fall back to safe defaults; the biller-mapping lookup has no safe
// default and surfaces a transient error so the caller advances the cascade.
package resilience

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/yourorg/purchase-gateway/internal/adapter"
	"github.com/yourorg/purchase-gateway/internal/circuitbreaker"
	"github.com/yourorg/purchase-gateway/internal/fraud"
	"github.com/yourorg/purchase-gateway/internal/purchase"
)

// Breaker names, one per dependency.
const (
	BreakerFraud         = "fraud-service"
	BreakerCascade       = "cascade-service"
	BreakerBillerMapping = "biller-mapping-service"
	BreakerBinRouting    = "bin-routing-service"
	BreakerBlacklist     = "card-blacklist-service"
	BreakerSiteConfig    = "site-config-service"
	BreakerSiteAdmin     = "site-admin-service"
)

// IsBreakerFailure counts every error except permanent domain failures.
func IsBreakerFailure(err error) bool {
	return err != nil && !purchase.IsPermanent(err)
}

// FraudService falls back to no recommendations, i.e. default advice.
type FraudService struct {
	next   adapter.FraudService
	cb     *circuitbreaker.CircuitBreaker
	logger *zap.Logger
}

func NewFraudService(next adapter.FraudService, cb *circuitbreaker.CircuitBreaker, logger *zap.Logger) *FraudService {
	return &FraudService{next: next, cb: cb, logger: orNop(logger)}
}

func (s *FraudService) RetrieveAdvice(ctx context.Context, req adapter.FraudRequest) ([]fraud.Recommendation, error) {
	return circuitbreaker.Execute(ctx, s.cb, BreakerFraud,
		func(ctx context.Context) ([]fraud.Recommendation, error) {
			return s.next.RetrieveAdvice(ctx, req)
		},
		func(_ context.Context, cause error) ([]fraud.Recommendation, error) {
			s.logger.Warn("fraud service unavailable, using default advice",
				zap.String("session_id", req.SessionID), zap.String("phase", req.Phase), zap.Error(cause))
			return nil, nil
		})
}

// CascadeService falls back to a single-biller cascade.
type CascadeService struct {
	next          adapter.CascadeService
	cb            *circuitbreaker.CircuitBreaker
	defaultBiller string
	logger        *zap.Logger
}

func NewCascadeService(next adapter.CascadeService, cb *circuitbreaker.CircuitBreaker, defaultBiller string, logger *zap.Logger) *CascadeService {
	return &CascadeService{next: next, cb: cb, defaultBiller: defaultBiller, logger: orNop(logger)}
}

func (s *CascadeService) Retrieve(ctx context.Context, req adapter.CascadeRequest) (purchase.Cascade, error) {
	return circuitbreaker.Execute(ctx, s.cb, BreakerCascade,
		func(ctx context.Context) (purchase.Cascade, error) {
			c, err := s.next.Retrieve(ctx, req)
			if err == nil && c.Len() == 0 {
				return purchase.Cascade{}, purchase.NewError(purchase.KindConfig, "resilience.CascadeService.Retrieve",
					"cascade service returned no billers")
			}
			return c, err
		},
		func(_ context.Context, cause error) (purchase.Cascade, error) {
			biller := s.defaultBiller
			if req.ForcedBiller != "" {
				biller = req.ForcedBiller
			}
			if biller == "" {
				return purchase.Cascade{}, purchase.WrapError(purchase.KindTransient, "resilience.CascadeService.Retrieve", cause)
			}
			s.logger.Warn("cascade service unavailable, using default cascade",
				zap.String("site_id", req.SiteID), zap.String("biller", biller), zap.Error(cause))
			return purchase.NewCascade(biller), nil
		})
}

// BillerMappingService has no fallback.
type BillerMappingService struct {
	next adapter.BillerMappingService
	cb   *circuitbreaker.CircuitBreaker
}

func NewBillerMappingService(next adapter.BillerMappingService, cb *circuitbreaker.CircuitBreaker) *BillerMappingService {
	return &BillerMappingService{next: next, cb: cb}
}

func (s *BillerMappingService) Retrieve(ctx context.Context, req adapter.BillerMappingRequest) (adapter.BillerMapping, error) {
	m, err := circuitbreaker.Execute(ctx, s.cb, BreakerBillerMapping,
		func(ctx context.Context) (adapter.BillerMapping, error) {
			return s.next.Retrieve(ctx, req)
		}, nil)
	if err != nil {
		if purchase.IsPermanent(err) {
			return adapter.BillerMapping{}, err
		}
		return adapter.BillerMapping{}, purchase.WrapError(purchase.KindTransient, "resilience.BillerMappingService.Retrieve", err)
	}
	return m, nil
}

// BinRoutingService falls back to no routings.
type BinRoutingService struct {
	next   adapter.BinRoutingService
	cb     *circuitbreaker.CircuitBreaker
	logger *zap.Logger
}

func NewBinRoutingService(next adapter.BinRoutingService, cb *circuitbreaker.CircuitBreaker, logger *zap.Logger) *BinRoutingService {
	return &BinRoutingService{next: next, cb: cb, logger: orNop(logger)}
}

func (s *BinRoutingService) Retrieve(ctx context.Context, req adapter.BinRoutingRequest) (purchase.BinRoutingCollection, error) {
	return circuitbreaker.Execute(ctx, s.cb, BreakerBinRouting,
		func(ctx context.Context) (purchase.BinRoutingCollection, error) {
			return s.next.Retrieve(ctx, req)
		},
		func(_ context.Context, cause error) (purchase.BinRoutingCollection, error) {
			s.logger.Warn("bin routing unavailable, charging without routing",
				zap.String("session_id", req.SessionID), zap.Error(cause))
			return nil, nil
		})
}

// BlacklistService treats an unreachable blacklist as "not listed".
type BlacklistService struct {
	next   adapter.CardBlacklistService
	cb     *circuitbreaker.CircuitBreaker
	logger *zap.Logger
}

func NewBlacklistService(next adapter.CardBlacklistService, cb *circuitbreaker.CircuitBreaker, logger *zap.Logger) *BlacklistService {
	return &BlacklistService{next: next, cb: cb, logger: orNop(logger)}
}

func (s *BlacklistService) Check(ctx context.Context, card adapter.CardFingerprint) (bool, error) {
	return circuitbreaker.Execute(ctx, s.cb, BreakerBlacklist,
		func(ctx context.Context) (bool, error) {
			return s.next.Check(ctx, card)
		},
		func(_ context.Context, cause error) (bool, error) {
			s.logger.Warn("card blacklist unavailable", zap.String("bin", card.First6), zap.Error(cause))
			return false, nil
		})
}

func (s *BlacklistService) Add(ctx context.Context, card adapter.CardFingerprint) error {
	return s.cb.Call(ctx, BreakerBlacklist,
		func(ctx context.Context) error {
			return s.next.Add(ctx, card)
		},
		func(_ context.Context, cause error) error {
			s.logger.Error("could not blacklist card", zap.String("bin", card.First6), zap.String("last4", card.Last4), zap.Error(cause))
			return nil
		})
}

// SiteAdminService falls back to an empty event batch.
type SiteAdminService struct {
	next   adapter.SiteAdminService
	cb     *circuitbreaker.CircuitBreaker
	logger *zap.Logger
}

func NewSiteAdminService(next adapter.SiteAdminService, cb *circuitbreaker.CircuitBreaker, logger *zap.Logger) *SiteAdminService {
	return &SiteAdminService{next: next, cb: cb, logger: orNop(logger)}
}

func (s *SiteAdminService) Events(ctx context.Context, after int64) ([]adapter.SiteAdminEvent, error) {
	return circuitbreaker.Execute(ctx, s.cb, BreakerSiteAdmin,
		func(ctx context.Context) ([]adapter.SiteAdminEvent, error) {
			return s.next.Events(ctx, after)
		},
		func(_ context.Context, cause error) ([]adapter.SiteAdminEvent, error) {
			if !errors.Is(cause, circuitbreaker.ErrOpen) {
				s.logger.Warn("site admin events unavailable", zap.Int64("after", after), zap.Error(cause))
			}
			return nil, nil
		})
}

func orNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
