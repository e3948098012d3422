// Package adapter defines the contracts of every external system the purchase
// gateway talks to: billers and the fraud, cascade, biller-mapping, bin-routing,
// blacklist, site-config and site-admin services. Implementations live in the
// mock and rest subpackages.
package adapter

import (
	"context"

	"github.com/yourorg/purchase-gateway/internal/purchase"
)

// Card is the payment instrument submitted with a purchase. It is never persisted.
type Card struct {
	Number     string `json:"number"`
	ExpMonth   int    `json:"expMonth"`
	ExpYear    int    `json:"expYear"`
	CVV        string `json:"cvv"`
	HolderName string `json:"holderName,omitempty"`
}

// First6 returns the BIN of the card.
func (c Card) First6() string {
	if len(c.Number) < 6 {
		return c.Number
	}
	return c.Number[:6]
}

// Last4 returns the last four digits of the card.
func (c Card) Last4() string {
	if len(c.Number) < 4 {
		return c.Number
	}
	return c.Number[len(c.Number)-4:]
}

// ChargeRequest is one biller attempt for one item.
type ChargeRequest struct {
	SessionID     string
	TransactionID string
	ItemID        string
	SiteID        string
	Amount        int64
	Currency      string
	Card          Card
	BillerFields  map[string]string
	BinRouting    *purchase.BinRouting
	ForceThreeD   bool
	IsCrossSale   bool
	ReturnURL     string

	// ReferenceBillerTransactionID charges the instrument of an earlier
	// approved attempt on the same biller when Card is not available.
	ReferenceBillerTransactionID string
}

// LookupRequest continues a 3-D Secure 2 attempt after device collection.
type LookupRequest struct {
	SessionID           string
	TransactionID       string
	BillerTransactionID string
	Card                Card
	DeviceFingerprintID string
	ReturnURL           string
}

// CompleteRequest finishes a 3-D Secure attempt with the issuer response.
type CompleteRequest struct {
	SessionID           string
	TransactionID       string
	BillerTransactionID string
	PaRes               string
	CRes                string
}

// BillerResult is the normalized outcome of a biller call. Status is
// TransactionPending when the biller asks for a 3-D Secure step-up.
type BillerResult struct {
	Biller              string
	Status              purchase.TransactionState
	BillerTransactionID string
	ErrorCode           string
	ErrorMessage        string
	ThreeD              *purchase.ThreeD
	LatencyMs           int64
	HTTPStatus          int
	Details             map[string]string
}

// BillerAdapter is implemented by each biller integration. A returned error
// means the biller could not be reached or answered unusably; it is a hard
// failure for cascade purposes. Declines are reported through Status.
type BillerAdapter interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) (BillerResult, error)
	LookupThreeD(ctx context.Context, req LookupRequest) (BillerResult, error)
	CompleteThreeD(ctx context.Context, req CompleteRequest) (BillerResult, error)
}
