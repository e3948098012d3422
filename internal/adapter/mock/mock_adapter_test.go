package mock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/purchase-gateway/internal/adapter"
	"github.com/yourorg/purchase-gateway/internal/purchase"
)

func TestNewMockBiller(t *testing.T) {
	m := NewMockBiller("rocketgate")
	require.NotNil(t, m)
	assert.Equal(t, "rocketgate", m.Name())
}

func TestMockBiller_Charge_DefaultBehavior(t *testing.T) {
	ctx := context.Background()
	m := NewMockBiller("rocketgate")

	tests := []struct {
		name   string
		card   string
		force  bool
		status purchase.TransactionState
		code   string
		err    bool
	}{
		{"Approved", "4111111111111111", false, purchase.TransactionApproved, "", false},
		{"Declined", CardDecline, false, purchase.TransactionDeclined, "do_not_honor", false},
		{"Stolen", CardStolen, false, purchase.TransactionDeclined, "stolen_card", false},
		{"Hard error", CardError, false, purchase.TransactionError, "biller_unavailable", true},
		{"Forced 3DS", "4111111111111111", true, purchase.TransactionPending, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := m.Charge(ctx, adapter.ChargeRequest{TransactionID: "tx", Card: adapter.Card{Number: tt.card}, ForceThreeD: tt.force})
			if tt.err {
				require.ErrorIs(t, err, ErrBillerUnavailable)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.code, res.ErrorCode)
			if tt.status == purchase.TransactionPending {
				require.NotNil(t, res.ThreeD)
				assert.Contains(t, res.ThreeD.DeviceCollectionURL, "/collect/tx")
			}
		})
	}
	assert.Len(t, m.Charges(), len(tests))
}

func TestMockBiller_WithCustomFunc(t *testing.T) {
	m := NewMockBiller("netbilling")
	m.ChargeFunc = func(_ context.Context, req adapter.ChargeRequest) (adapter.BillerResult, error) {
		return adapter.BillerResult{Biller: "netbilling", Status: purchase.TransactionDeclined, ErrorCode: "custom"}, nil
	}
	res, err := m.Charge(context.Background(), adapter.ChargeRequest{})
	require.NoError(t, err)
	assert.Equal(t, "custom", res.ErrorCode)
	assert.Len(t, m.Charges(), 1, "custom calls are still recorded")
}

func TestMockBiller_ThreeD(t *testing.T) {
	ctx := context.Background()
	m := NewMockBiller("rocketgate")

	res, err := m.LookupThreeD(ctx, adapter.LookupRequest{TransactionID: "tx"})
	require.NoError(t, err)
	assert.Equal(t, purchase.TransactionPending, res.Status)
	assert.Equal(t, "https://acs.mock.local/challenge/tx", res.ThreeD.ACS)

	res, err = m.CompleteThreeD(ctx, adapter.CompleteRequest{PaRes: "ok"})
	require.NoError(t, err)
	assert.Equal(t, purchase.TransactionApproved, res.Status)

	res, err = m.CompleteThreeD(ctx, adapter.CompleteRequest{})
	require.NoError(t, err)
	assert.Equal(t, purchase.TransactionDeclined, res.Status)
}
