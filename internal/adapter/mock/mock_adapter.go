package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/purchase-gateway/internal/adapter"
	"github.com/yourorg/purchase-gateway/internal/purchase"
)

// Magic card numbers understood by the default behaviour.
const (
	CardDecline    = "4000000000000002"
	CardStolen     = "4000000000009979"
	CardError      = "4000000000000119"
	CardThreeD     = "4000000000003220"
	CardThreeDFail = "4000008400001629"
)

// ErrBillerUnavailable is the hard failure returned for CardError.
var ErrBillerUnavailable = errors.New("mock: biller unavailable")

// MockBiller is a BillerAdapter for tests and local runs. The Func fields
// override the default behaviour; every call is recorded.
type MockBiller struct {
	BillerName   string
	ChargeFunc   func(ctx context.Context, req adapter.ChargeRequest) (adapter.BillerResult, error)
	LookupFunc   func(ctx context.Context, req adapter.LookupRequest) (adapter.BillerResult, error)
	CompleteFunc func(ctx context.Context, req adapter.CompleteRequest) (adapter.BillerResult, error)

	mu        sync.Mutex
	charges   []adapter.ChargeRequest
	lookups   []adapter.LookupRequest
	completes []adapter.CompleteRequest
}

// NewMockBiller creates a MockBiller that approves by default.
func NewMockBiller(name string) *MockBiller {
	return &MockBiller{BillerName: name}
}

func (m *MockBiller) Name() string { return m.BillerName }

func (m *MockBiller) Charge(ctx context.Context, req adapter.ChargeRequest) (adapter.BillerResult, error) {
	m.mu.Lock()
	m.charges = append(m.charges, req)
	m.mu.Unlock()
	if m.ChargeFunc != nil {
		return m.ChargeFunc(ctx, req)
	}

	start := time.Now()
	res := adapter.BillerResult{
		Biller:              m.BillerName,
		BillerTransactionID: uuid.NewString(),
		Details:             map[string]string{"mock_processed": "true"},
	}
	switch {
	case req.Card.Number == CardError:
		return adapter.BillerResult{Biller: m.BillerName, Status: purchase.TransactionError, ErrorCode: "biller_unavailable"}, ErrBillerUnavailable
	case req.Card.Number == CardDecline:
		res.Status = purchase.TransactionDeclined
		res.ErrorCode = "do_not_honor"
		res.ErrorMessage = "Card declined"
	case req.Card.Number == CardStolen:
		res.Status = purchase.TransactionDeclined
		res.ErrorCode = "stolen_card"
		res.ErrorMessage = "Card reported stolen"
	case req.ForceThreeD || req.Card.Number == CardThreeD || req.Card.Number == CardThreeDFail:
		res.Status = purchase.TransactionPending
		res.ThreeD = &purchase.ThreeD{
			Version:             2,
			DeviceCollectionURL: fmt.Sprintf("https://3ds.mock.local/collect/%s", req.TransactionID),
			DeviceCollectionJWT: uuid.NewString(),
		}
	default:
		res.Status = purchase.TransactionApproved
	}
	res.LatencyMs = time.Since(start).Milliseconds()
	return res, nil
}

func (m *MockBiller) LookupThreeD(ctx context.Context, req adapter.LookupRequest) (adapter.BillerResult, error) {
	m.mu.Lock()
	m.lookups = append(m.lookups, req)
	m.mu.Unlock()
	if m.LookupFunc != nil {
		return m.LookupFunc(ctx, req)
	}
	return adapter.BillerResult{
		Biller:              m.BillerName,
		Status:              purchase.TransactionPending,
		BillerTransactionID: req.BillerTransactionID,
		ThreeD: &purchase.ThreeD{
			Version: 2,
			ACS:     fmt.Sprintf("https://acs.mock.local/challenge/%s", req.TransactionID),
			PaReq:   uuid.NewString(),
		},
	}, nil
}

func (m *MockBiller) CompleteThreeD(ctx context.Context, req adapter.CompleteRequest) (adapter.BillerResult, error) {
	m.mu.Lock()
	m.completes = append(m.completes, req)
	m.mu.Unlock()
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	if req.PaRes == "" && req.CRes == "" {
		return adapter.BillerResult{Biller: m.BillerName, Status: purchase.TransactionDeclined, ErrorCode: "authentication_failed"}, nil
	}
	return adapter.BillerResult{
		Biller:              m.BillerName,
		Status:              purchase.TransactionApproved,
		BillerTransactionID: req.BillerTransactionID,
	}, nil
}

// Charges returns a copy of every recorded charge.
func (m *MockBiller) Charges() []adapter.ChargeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]adapter.ChargeRequest(nil), m.charges...)
}

func (m *MockBiller) Lookups() []adapter.LookupRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]adapter.LookupRequest(nil), m.lookups...)
}

func (m *MockBiller) Completes() []adapter.CompleteRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]adapter.CompleteRequest(nil), m.completes...)
}
