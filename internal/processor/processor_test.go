package processor_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/purchase-gateway/internal/adapter"
	adaptermock "github.com/yourorg/purchase-gateway/internal/adapter/mock"
	"github.com/yourorg/purchase-gateway/internal/processor"
	"github.com/yourorg/purchase-gateway/internal/purchase"
)

func TestProcessor_Charge(t *testing.T) {
	ctx := context.Background()

	t.Run("Successful charge", func(t *testing.T) {
		biller := adaptermock.NewMockBiller("rocketgate")
		proc := processor.NewProcessor(biller)
		req := adapter.ChargeRequest{TransactionID: "tx-1", Amount: 1000, Currency: "USD"}

		var called bool
		biller.ChargeFunc = func(_ context.Context, got adapter.ChargeRequest) (adapter.BillerResult, error) {
			called = true
			assert.Equal(t, req, got)
			return adapter.BillerResult{Status: purchase.TransactionApproved, BillerTransactionID: "b-1"}, nil
		}

		res, err := proc.Charge(ctx, "rocketgate", req)
		require.NoError(t, err)
		assert.True(t, called)
		assert.Equal(t, purchase.TransactionApproved, res.Status)
		assert.Equal(t, "rocketgate", res.Biller, "biller name filled in")
		assert.NotNil(t, res.Details)
	})

	t.Run("Adapter error becomes a hard failure", func(t *testing.T) {
		biller := adaptermock.NewMockBiller("rocketgate")
		proc := processor.NewProcessor(biller)
		boom := errors.New("provider processing error")
		biller.ChargeFunc = func(context.Context, adapter.ChargeRequest) (adapter.BillerResult, error) {
			return adapter.BillerResult{ErrorCode: "PROVIDER_DOWN"}, boom
		}

		res, err := proc.Charge(ctx, "rocketgate", adapter.ChargeRequest{})
		assert.Equal(t, boom, err)
		assert.Equal(t, purchase.TransactionError, res.Status)
		assert.Equal(t, "PROVIDER_DOWN", res.ErrorCode)
		assert.Equal(t, "provider processing error", res.Details["adapter_error_message"])
	})

	t.Run("Decline without error", func(t *testing.T) {
		biller := adaptermock.NewMockBiller("rocketgate")
		proc := processor.NewProcessor(biller)
		res, err := proc.Charge(ctx, "rocketgate", adapter.ChargeRequest{Card: adapter.Card{Number: adaptermock.CardDecline}})
		assert.NoError(t, err)
		assert.Equal(t, purchase.TransactionDeclined, res.Status)
		assert.Equal(t, "do_not_honor", res.ErrorCode)
	})

	t.Run("Unknown biller", func(t *testing.T) {
		proc := processor.NewProcessor()
		res, err := proc.Charge(ctx, "nobody", adapter.ChargeRequest{})
		require.Error(t, err)
		assert.Equal(t, purchase.KindConfig, purchase.KindOf(err))
		assert.Equal(t, processor.CodeAdapterNotFound, res.ErrorCode)
		assert.Equal(t, purchase.TransactionError, res.Status)
	})

	t.Run("Missing status", func(t *testing.T) {
		biller := adaptermock.NewMockBiller("rocketgate")
		biller.ChargeFunc = func(context.Context, adapter.ChargeRequest) (adapter.BillerResult, error) {
			return adapter.BillerResult{}, nil
		}
		res, err := processor.NewProcessor(biller).Charge(ctx, "rocketgate", adapter.ChargeRequest{})
		require.NoError(t, err)
		assert.Equal(t, purchase.TransactionError, res.Status)
	})
}

func TestProcessor_Names(t *testing.T) {
	proc := processor.NewProcessor(adaptermock.NewMockBiller("netbilling"), adaptermock.NewMockBiller("rocketgate"))
	assert.Equal(t, []string{"netbilling", "rocketgate"}, proc.Names())
	assert.Panics(t, func() { proc.Register(nil) })
}
