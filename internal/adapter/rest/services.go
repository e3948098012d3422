package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/yourorg/purchase-gateway/internal/adapter"
	"github.com/yourorg/purchase-gateway/internal/fraud"
	"github.com/yourorg/purchase-gateway/internal/purchase"
)

// Services implements the platform service ports against one JSON API.
type Services struct {
	client
}

func NewServices(baseURL, apiKey string, httpClient *http.Client) *Services {
	return &Services{client: newClient(httpClient, baseURL, apiKey)}
}

// Fraud, Cascades, BillerMappings, BinRoutings, SiteConfigs and SiteAdmin
// expose Services under the port each consumer expects.
func (s *Services) Fraud() adapter.FraudService                  { return fraudClient{s} }
func (s *Services) Cascades() adapter.CascadeService             { return cascadeClient{s} }
func (s *Services) BillerMappings() adapter.BillerMappingService { return mappingClient{s} }
func (s *Services) BinRoutings() adapter.BinRoutingService       { return binRoutingClient{s} }
func (s *Services) SiteConfigs() adapter.SiteConfigService       { return siteConfigClient{s} }
func (s *Services) SiteAdmin() adapter.SiteAdminService          { return siteAdminClient{s} }

type fraudClient struct{ s *Services }

func (c fraudClient) RetrieveAdvice(ctx context.Context, req adapter.FraudRequest) ([]fraud.Recommendation, error) {
	var out struct {
		Recommendations []fraud.Recommendation `json:"recommendations"`
	}
	if err := c.s.postJSON(ctx, "/fraud/advice", req, &out); err != nil {
		return nil, err
	}
	return out.Recommendations, nil
}

type cascadeClient struct{ s *Services }

func (c cascadeClient) Retrieve(ctx context.Context, req adapter.CascadeRequest) (purchase.Cascade, error) {
	var out struct {
		Billers []string `json:"billers"`
	}
	if err := c.s.postJSON(ctx, "/cascades", req, &out); err != nil {
		return purchase.Cascade{}, err
	}
	if len(out.Billers) == 0 {
		return purchase.Cascade{}, errors.New("rest: cascade service returned no billers")
	}
	return purchase.NewCascade(out.Billers...), nil
}

type mappingClient struct{ s *Services }

func (c mappingClient) Retrieve(ctx context.Context, req adapter.BillerMappingRequest) (adapter.BillerMapping, error) {
	var out adapter.BillerMapping
	if err := c.s.postJSON(ctx, "/biller-mappings", req, &out); err != nil {
		return adapter.BillerMapping{}, err
	}
	if out.BillerName == "" {
		out.BillerName = req.BillerName
	}
	return out, nil
}

type binRoutingClient struct{ s *Services }

func (c binRoutingClient) Retrieve(ctx context.Context, req adapter.BinRoutingRequest) (purchase.BinRoutingCollection, error) {
	var out struct {
		Routings purchase.BinRoutingCollection `json:"routings"`
	}
	if err := c.s.postJSON(ctx, "/bin-routings", req, &out); err != nil {
		return nil, err
	}
	return out.Routings, nil
}

type siteConfigClient struct{ s *Services }

func (c siteConfigClient) Retrieve(ctx context.Context, siteID string) (adapter.SiteConfig, error) {
	var out adapter.SiteConfig
	if err := c.s.getJSON(ctx, "/sites/"+url.PathEscape(siteID), &out); err != nil {
		return adapter.SiteConfig{}, err
	}
	return out, nil
}

type siteAdminClient struct{ s *Services }

func (c siteAdminClient) Events(ctx context.Context, after int64) ([]adapter.SiteAdminEvent, error) {
	var out struct {
		Events []adapter.SiteAdminEvent `json:"events"`
	}
	if err := c.s.getJSON(ctx, fmt.Sprintf("/site-admin/events?after=%d", after), &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}
