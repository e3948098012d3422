package adapter

import (
	"context"

	"github.com/yourorg/purchase-gateway/internal/fraud"
	"github.com/yourorg/purchase-gateway/internal/purchase"
)

// FraudRequest is the session context sent to the fraud service.
type FraudRequest struct {
	SessionID string `json:"sessionId"`
	Phase     string `json:"phase"`
	SiteID    string `json:"siteId"`
	Email     string `json:"email,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`
	BIN       string `json:"bin,omitempty"`
	Last4     string `json:"last4,omitempty"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

type FraudService interface {
	RetrieveAdvice(ctx context.Context, req FraudRequest) ([]fraud.Recommendation, error)
}

// CascadeRequest selects the billers for a purchase.
type CascadeRequest struct {
	SiteID        string `json:"siteId"`
	BusinessGroup string `json:"businessGroupId"`
	Currency      string `json:"currency"`
	CountryCode   string `json:"countryCode"`
	PaymentType   string `json:"paymentType"`
	PaymentMethod string `json:"paymentMethod"`
	ForcedBiller  string `json:"forcedBiller,omitempty"`
}

type CascadeService interface {
	Retrieve(ctx context.Context, req CascadeRequest) (purchase.Cascade, error)
}

// BillerMappingRequest identifies the merchant account to use on a biller.
type BillerMappingRequest struct {
	BillerName    string `json:"billerName"`
	SiteID        string `json:"siteId"`
	BusinessGroup string `json:"businessGroupId"`
	Currency      string `json:"currency"`
}

// BillerMapping carries the biller-specific fields needed to charge.
type BillerMapping struct {
	BillerName string            `json:"billerName"`
	Fields     map[string]string `json:"fields"`
}

type BillerMappingService interface {
	Retrieve(ctx context.Context, req BillerMappingRequest) (BillerMapping, error)
}

// BinRoutingRequest asks for the bank routings of a card.
type BinRoutingRequest struct {
	BIN        string `json:"bin"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Attempt    int    `json:"attempt"`
	SiteID     string `json:"siteId"`
	BillerName string `json:"billerName"`
	SessionID  string `json:"sessionId"`
}

type BinRoutingService interface {
	Retrieve(ctx context.Context, req BinRoutingRequest) (purchase.BinRoutingCollection, error)
}

// CardFingerprint identifies a card without its full number.
type CardFingerprint struct {
	First6   string `json:"first6"`
	Last4    string `json:"last4"`
	ExpMonth int    `json:"expMonth"`
	ExpYear  int    `json:"expYear"`
}

// FingerprintOf extracts the blacklist fingerprint of c.
func FingerprintOf(c Card) CardFingerprint {
	return CardFingerprint{First6: c.First6(), Last4: c.Last4(), ExpMonth: c.ExpMonth, ExpYear: c.ExpYear}
}

type CardBlacklistService interface {
	Check(ctx context.Context, card CardFingerprint) (bool, error)
	Add(ctx context.Context, card CardFingerprint) error
}

// SiteConfig is the per-site configuration used during a purchase.
type SiteConfig struct {
	SiteID           string            `json:"siteId"`
	BusinessGroup    string            `json:"businessGroupId"`
	ReturnURL        string            `json:"returnUrl"`
	MaxGatewaySubmit int               `json:"maxGatewaySubmits"`
	FeatureFlags     map[string]bool   `json:"featureFlags,omitempty"`
	BillerOverrides  map[string]string `json:"billerOverrides,omitempty"`
}

type SiteConfigService interface {
	Retrieve(ctx context.Context, siteID string) (SiteConfig, error)
}

// SiteAdminEvent announces a site configuration change.
type SiteAdminEvent struct {
	SiteID   string `json:"siteId"`
	Type     string `json:"type"`
	Sequence int64  `json:"sequence"`
}

type SiteAdminService interface {
	// Events returns the changes after sequence.
	Events(ctx context.Context, afterSequence int64) ([]SiteAdminEvent, error)
}
