package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/yourorg/purchase-gateway/internal/adapter"
	"github.com/yourorg/purchase-gateway/internal/fraud"
	"github.com/yourorg/purchase-gateway/internal/purchase"
)

// FraudService returns Recommendations (or Err) and counts calls.
type FraudService struct {
	Recommendations []fraud.Recommendation
	Err             error
	Calls           atomic.Int32
}

func (s *FraudService) RetrieveAdvice(_ context.Context, _ adapter.FraudRequest) ([]fraud.Recommendation, error) {
	s.Calls.Add(1)
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]fraud.Recommendation(nil), s.Recommendations...), nil
}

// CascadeService returns a fixed biller order.
type CascadeService struct {
	Billers []string
	Err     error
}

func (s *CascadeService) Retrieve(_ context.Context, req adapter.CascadeRequest) (purchase.Cascade, error) {
	if s.Err != nil {
		return purchase.Cascade{}, s.Err
	}
	if req.ForcedBiller != "" {
		return purchase.NewCascade(req.ForcedBiller), nil
	}
	return purchase.NewCascade(s.Billers...), nil
}

// BillerMappingService returns per-biller fields; a missing biller yields Err or empty fields.
type BillerMappingService struct {
	Fields map[string]map[string]string
	Err    error
}

func (s *BillerMappingService) Retrieve(_ context.Context, req adapter.BillerMappingRequest) (adapter.BillerMapping, error) {
	if s.Err != nil {
		return adapter.BillerMapping{}, s.Err
	}
	fields := map[string]string{"merchantId": req.SiteID + "-" + req.BillerName}
	for k, v := range s.Fields[req.BillerName] {
		fields[k] = v
	}
	return adapter.BillerMapping{BillerName: req.BillerName, Fields: fields}, nil
}

// BinRoutingService returns Routings and counts calls.
type BinRoutingService struct {
	Routings purchase.BinRoutingCollection
	Err      error
	Calls    atomic.Int32
}

func (s *BinRoutingService) Retrieve(_ context.Context, _ adapter.BinRoutingRequest) (purchase.BinRoutingCollection, error) {
	s.Calls.Add(1)
	if s.Err != nil {
		return nil, s.Err
	}
	return append(purchase.BinRoutingCollection(nil), s.Routings...), nil
}

// BlacklistService is an in-memory card blacklist.
type BlacklistService struct {
	mu    sync.Mutex
	cards map[adapter.CardFingerprint]struct{}
	Err   error
}

func NewBlacklistService(cards ...adapter.CardFingerprint) *BlacklistService {
	s := &BlacklistService{cards: make(map[adapter.CardFingerprint]struct{})}
	for _, c := range cards {
		s.cards[c] = struct{}{}
	}
	return s
}

func (s *BlacklistService) Check(_ context.Context, card adapter.CardFingerprint) (bool, error) {
	if s.Err != nil {
		return false, s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cards[card]
	return ok, nil
}

func (s *BlacklistService) Add(_ context.Context, card adapter.CardFingerprint) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[card] = struct{}{}
	return nil
}

// SiteConfigService serves configs from a map.
type SiteConfigService struct {
	Configs map[string]adapter.SiteConfig
	Err     error
}

func (s *SiteConfigService) Retrieve(_ context.Context, siteID string) (adapter.SiteConfig, error) {
	if s.Err != nil {
		return adapter.SiteConfig{}, s.Err
	}
	if cfg, ok := s.Configs[siteID]; ok {
		return cfg, nil
	}
	return adapter.SiteConfig{SiteID: siteID, BusinessGroup: "default", ReturnURL: "https://" + siteID + ".example/return"}, nil
}

// SiteAdminService serves a fixed event list.
type SiteAdminService struct {
	Batch []adapter.SiteAdminEvent
	Err   error
}

func (s *SiteAdminService) Events(_ context.Context, after int64) ([]adapter.SiteAdminEvent, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	var out []adapter.SiteAdminEvent
	for _, e := range s.Batch {
		if e.Sequence > after {
			out = append(out, e)
		}
	}
	return out, nil
}
