package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/yourorg/purchase-gateway/internal/adapter"
	"github.com/yourorg/purchase-gateway/internal/purchase"
)

// Biller is a BillerAdapter for billers exposing the gateway JSON contract.
type Biller struct {
	name string
	client
}

// NewBiller creates a Biller named name calling baseURL.
func NewBiller(name, baseURL, apiKey string, httpClient *http.Client) *Biller {
	return &Biller{name: name, client: newClient(httpClient, baseURL, apiKey)}
}

func (b *Biller) Name() string { return b.name }

type chargePayload struct {
	TransactionID string               `json:"transactionId"`
	SiteID        string               `json:"siteId"`
	Amount        int64                `json:"amount"`
	Currency      string               `json:"currency"`
	Card          adapter.Card         `json:"card"`
	Fields        map[string]string    `json:"fields,omitempty"`
	Routing       *purchase.BinRouting `json:"binRouting,omitempty"`
	ThreeD        bool                 `json:"threeDRequired"`
	ReturnURL     string               `json:"returnUrl,omitempty"`
	Reference     string               `json:"referenceTransactionId,omitempty"`
}

// billerResponse is the common answer of every biller endpoint.
type billerResponse struct {
	Status        string           `json:"status"`
	TransactionID string           `json:"transactionId"`
	ThreeD        *purchase.ThreeD `json:"threeD,omitempty"`
	Error         struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (b *Biller) Charge(ctx context.Context, req adapter.ChargeRequest) (adapter.BillerResult, error) {
	return b.call(ctx, "/charges", req.TransactionID, chargePayload{
		TransactionID: req.TransactionID,
		SiteID:        req.SiteID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Card:          req.Card,
		Fields:        req.BillerFields,
		Routing:       req.BinRouting,
		ThreeD:        req.ForceThreeD,
		ReturnURL:     req.ReturnURL,
		Reference:     req.ReferenceBillerTransactionID,
	})
}

func (b *Biller) LookupThreeD(ctx context.Context, req adapter.LookupRequest) (adapter.BillerResult, error) {
	return b.call(ctx, "/threeds/lookup", req.TransactionID+"-lookup", map[string]any{
		"transactionId":       req.BillerTransactionID,
		"card":                req.Card,
		"deviceFingerprintId": req.DeviceFingerprintID,
		"returnUrl":           req.ReturnURL,
	})
}

func (b *Biller) CompleteThreeD(ctx context.Context, req adapter.CompleteRequest) (adapter.BillerResult, error) {
	return b.call(ctx, "/threeds/complete", req.TransactionID+"-complete", map[string]any{
		"transactionId": req.BillerTransactionID,
		"pares":         req.PaRes,
		"cres":          req.CRes,
	})
}

func (b *Biller) call(ctx context.Context, path, idempotencyKey string, payload any) (adapter.BillerResult, error) {
	start := time.Now()
	status, body, err := b.do(ctx, http.MethodPost, path, idempotencyKey, payload)
	result := adapter.BillerResult{
		Biller:     b.name,
		LatencyMs:  time.Since(start).Milliseconds(),
		HTTPStatus: status,
		Details:    make(map[string]string),
	}
	if err != nil {
		result.Status = purchase.TransactionError
		result.ErrorCode = "BILLER_NETWORK_ERROR"
		result.ErrorMessage = err.Error()
		return result, fmt.Errorf("rest: %s%s: %w", b.name, path, err)
	}

	var parsed billerResponse
	if jsonErr := json.Unmarshal(body, &parsed); jsonErr != nil {
		result.Status = purchase.TransactionError
		result.ErrorCode = fmt.Sprintf("BILLER_HTTP_%d", status)
		result.ErrorMessage = string(body)
		return result, fmt.Errorf("rest: %s%s: unreadable response: %w", b.name, path, jsonErr)
	}
	result.BillerTransactionID = parsed.TransactionID
	result.ErrorCode = parsed.Error.Code
	result.ErrorMessage = parsed.Error.Message
	result.ThreeD = parsed.ThreeD

	switch {
	case status >= 200 && status < 300 && parsed.Status == "approved":
		result.Status = purchase.TransactionApproved
	case status >= 200 && status < 300 && parsed.Status == "pending":
		result.Status = purchase.TransactionPending
	case status == http.StatusPaymentRequired || parsed.Status == "declined":
		result.Status = purchase.TransactionDeclined
	default:
		result.Status = purchase.TransactionError
		if result.ErrorCode == "" {
			result.ErrorCode = fmt.Sprintf("BILLER_HTTP_%d", status)
		}
		return result, fmt.Errorf("rest: %s%s: unexpected answer %d %q", b.name, path, status, parsed.Status)
	}
	result.Details["biller_status"] = parsed.Status
	return result, nil
}
