package transaction_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/purchase-gateway/internal/adapter"
	"github.com/yourorg/purchase-gateway/internal/adapter/mock"
	"github.com/yourorg/purchase-gateway/internal/processor"
	"github.com/yourorg/purchase-gateway/internal/purchase"
	"github.com/yourorg/purchase-gateway/internal/reporting"
	"github.com/yourorg/purchase-gateway/internal/requestctx"
	"github.com/yourorg/purchase-gateway/internal/transaction"
)

var testCard = adapter.Card{Number: "4111111111111111", ExpMonth: 12, ExpYear: 2030, CVV: "123"}

type fixture struct {
	billers   map[string]*mock.MockBiller
	routings  *mock.BinRoutingService
	blacklist *mock.BlacklistService
	ledger    *reporting.Ledger
	svc       *transaction.Service
}

func newFixture(mappings adapter.BillerMappingService, names ...string) *fixture {
	f := &fixture{
		billers:   make(map[string]*mock.MockBiller),
		routings:  &mock.BinRoutingService{},
		blacklist: mock.NewBlacklistService(),
		ledger:    reporting.NewLedger(0),
	}
	proc := processor.NewProcessor()
	for _, n := range names {
		b := mock.NewMockBiller(n)
		f.billers[n] = b
		proc.Register(b)
	}
	if mappings == nil {
		mappings = &mock.BillerMappingService{}
	}
	f.svc = transaction.NewService(proc, mappings, f.routings, f.blacklist, nil, transaction.WithLedger(f.ledger))
	return f
}

func newProcess(t *testing.T, advice purchase.FraudAdvice, billers ...string) *purchase.Process {
	t.Helper()
	p, err := purchase.NewProcess(purchase.NewProcessParams{
		MainItem:    purchase.Item{ItemID: "main", BundleID: "bundle-b", AddonID: "addon-a", SiteID: "site-1", Amount: 1000, Currency: "USD"},
		CrossSales:  []purchase.Item{{ItemID: "xsell", BundleID: "bundle-x", AddonID: "addon-x", SiteID: "site-2", Amount: 500, Currency: "USD"}},
		PaymentType: "cc",
		Currency:    "USD",
		Cascade:     purchase.NewCascade(billers...),
		FraudAdvice: advice,
	})
	require.NoError(t, err)
	require.NoError(t, p.SelectCrossSales("xsell"))
	require.NoError(t, p.StartProcessing())
	return p
}

func attempt(t *testing.T, f *fixture, p *purchase.Process, card adapter.Card) transaction.Result {
	t.Helper()
	tc := requestctx.NewTraceContext(context.Background())
	res, err := f.svc.AttemptTransactions(&tc, requestctx.DomainContext{BusinessGroup: "bg"}, p, transaction.Request{Card: card})
	require.NoError(t, err)
	return res
}

func lastTx(t *testing.T, p *purchase.Process, id purchase.ItemID) purchase.Transaction {
	t.Helper()
	it, ok := p.Item(id)
	require.True(t, ok)
	tx, ok := it.LastTransaction()
	require.True(t, ok, "item %s has no transaction", id)
	return tx
}

func failing(b *mock.MockBiller) {
	b.ChargeFunc = func(context.Context, adapter.ChargeRequest) (adapter.BillerResult, error) {
		return adapter.BillerResult{}, mock.ErrBillerUnavailable
	}
}

func TestAttemptTransactions_HappyPath(t *testing.T) {
	f := newFixture(nil, "rocketgate", "netbilling")
	p := newProcess(t, purchase.FraudAdvice{}, "rocketgate", "netbilling")

	res := attempt(t, f, p, testCard)
	assert.Equal(t, purchase.TransactionApproved, res.MainState)
	assert.Equal(t, 1, res.MainAttempts)
	assert.Equal(t, 1, res.CrossSaleAttempts)

	assert.Equal(t, "rocketgate", lastTx(t, p, "main").BillerName)
	assert.Equal(t, "rocketgate", lastTx(t, p, "xsell").BillerName)
	assert.True(t, lastTx(t, p, "xsell").IsApproved())
	assert.Empty(t, f.billers["netbilling"].Charges())

	require.NoError(t, p.FinishProcessing())
	assert.Equal(t, purchase.StateProcessed, p.State())
	assert.Len(t, f.ledger.Entries(), 2)
}

func TestAttemptTransactions_Failover(t *testing.T) {
	f := newFixture(nil, "rocketgate", "netbilling")
	failing(f.billers["rocketgate"])
	p := newProcess(t, purchase.FraudAdvice{}, "rocketgate", "netbilling")

	res := attempt(t, f, p, testCard)
	assert.Equal(t, purchase.TransactionApproved, res.MainState)
	assert.Equal(t, 2, res.MainAttempts)
	assert.Equal(t, 1, p.Cascade().Cursor())

	main := p.MainItem()
	require.Equal(t, 2, main.Transactions.Len())
	assert.Equal(t, "rocketgate", main.Transactions.All()[0].BillerName)
	assert.True(t, main.Transactions.All()[0].IsHardFailure())
	assert.Equal(t, "netbilling", lastTx(t, p, "main").BillerName)
	assert.Equal(t, "netbilling", lastTx(t, p, "xsell").BillerName, "cross-sales follow the biller that handled the main item")
}

func TestAttemptTransactions_CascadeExhaustion(t *testing.T) {
	names := []string{"exhaust-a", "exhaust-b", "exhaust-c"}
	f := newFixture(nil, names...)
	for _, n := range names {
		failing(f.billers[n])
	}
	before := testutil.ToFloat64(transaction.GetBillerAttemptsTotal().WithLabelValues("exhaust-a", "error", "main"))
	p := newProcess(t, purchase.FraudAdvice{}, names...)

	res := attempt(t, f, p, testCard)
	assert.True(t, res.Exhausted)
	assert.Equal(t, len(names), res.MainAttempts)
	assert.Zero(t, res.CrossSaleAttempts)

	main := p.MainItem()
	assert.Equal(t, len(names), main.Transactions.Len(), "exactly one attempt per biller")
	assert.True(t, main.PermanentlyFailed)
	xsell, _ := p.Item("xsell")
	assert.Zero(t, xsell.Transactions.Len(), "cross-sales are never attempted")
	assert.True(t, p.Cascade().Exhausted())
	assert.Equal(t, before+1, testutil.ToFloat64(transaction.GetBillerAttemptsTotal().WithLabelValues("exhaust-a", "error", "main")))

	require.NoError(t, p.FinishProcessing())
	assert.Equal(t, purchase.StateDeclined, p.State())
}

func TestAttemptTransactions_BinRoutingReuse(t *testing.T) {
	f := newFixture(nil, "rocketgate")
	f.routings.Routings = purchase.BinRoutingCollection{
		{Attempt: 1, RoutingCode: "R1", BankName: "First Bank"},
		{Attempt: 2, RoutingCode: "R2", BankName: "Second Bank"},
	}
	f.billers["rocketgate"].ChargeFunc = func(_ context.Context, req adapter.ChargeRequest) (adapter.BillerResult, error) {
		if !req.IsCrossSale && req.BinRouting != nil && req.BinRouting.RoutingCode == "R1" {
			return adapter.BillerResult{Status: purchase.TransactionDeclined, ErrorCode: "do_not_honor"}, nil
		}
		return adapter.BillerResult{Status: purchase.TransactionApproved, BillerTransactionID: "bt-" + req.TransactionID}, nil
	}
	p := newProcess(t, purchase.FraudAdvice{}, "rocketgate")

	res := attempt(t, f, p, testCard)
	assert.Equal(t, purchase.TransactionApproved, res.MainState)
	assert.Equal(t, 2, res.MainAttempts, "soft decline walks to the next routing")
	assert.Equal(t, int32(1), f.routings.Calls.Load(), "routing resolved once")

	br, ok := p.MainBinRouting()
	require.True(t, ok)
	assert.Equal(t, "R2", br.RoutingCode)

	charges := f.billers["rocketgate"].Charges()
	require.Len(t, charges, 3)
	xs := charges[2]
	assert.True(t, xs.IsCrossSale)
	require.NotNil(t, xs.BinRouting)
	assert.Equal(t, br, *xs.BinRouting, "cross-sale reuses the main item's routing")
	assert.Equal(t, "bt-"+charges[1].TransactionID, xs.ReferenceBillerTransactionID)
}

func TestAttemptTransactions_HardDeclineBlacklists(t *testing.T) {
	f := newFixture(nil, "rocketgate", "netbilling")
	p := newProcess(t, purchase.FraudAdvice{}, "rocketgate", "netbilling")
	stolen := adapter.Card{Number: mock.CardStolen, ExpMonth: 1, ExpYear: 2031}

	res := attempt(t, f, p, stolen)
	assert.Equal(t, purchase.TransactionDeclined, res.MainState)
	assert.True(t, res.CardBlacklisted)
	assert.Zero(t, res.CrossSaleAttempts)
	assert.Zero(t, p.Cascade().Cursor(), "declines do not advance the cascade")

	listed, err := f.blacklist.Check(context.Background(), adapter.FingerprintOf(stolen))
	require.NoError(t, err)
	assert.True(t, listed)
}

func TestAttemptTransactions_SoftDeclineStillAttemptsCrossSales(t *testing.T) {
	f := newFixture(nil, "rocketgate", "netbilling")
	f.billers["rocketgate"].ChargeFunc = func(_ context.Context, req adapter.ChargeRequest) (adapter.BillerResult, error) {
		if req.IsCrossSale {
			return adapter.BillerResult{Status: purchase.TransactionApproved}, nil
		}
		return adapter.BillerResult{Status: purchase.TransactionDeclined, ErrorCode: "do_not_honor"}, nil
	}
	p := newProcess(t, purchase.FraudAdvice{}, "rocketgate", "netbilling")

	res := attempt(t, f, p, testCard)
	assert.Equal(t, purchase.TransactionDeclined, res.MainState)
	assert.Equal(t, 1, res.CrossSaleAttempts)
	assert.Empty(t, f.billers["netbilling"].Charges())

	require.NoError(t, p.FinishProcessing())
	assert.Equal(t, purchase.StateDeclined, p.State())
	assert.Equal(t, "do_not_honor", p.DeclineReason())
}

func TestAttemptTransactions_ThreeDStepUp(t *testing.T) {
	f := newFixture(nil, "rocketgate")
	advice := purchase.FraudAdvice{}.WithInit(purchase.Signals{ForceThreeD: true})
	p := newProcess(t, advice, "rocketgate")

	res := attempt(t, f, p, testCard)
	assert.True(t, res.Pending)
	assert.Equal(t, purchase.StatePending, p.State())
	assert.Contains(t, res.RedirectURL, "https://3ds.mock.local/collect/")
	assert.Equal(t, res.RedirectURL, p.RedirectURL())
	assert.Zero(t, res.CrossSaleAttempts)

	tx, ok := p.PendingThreeD()
	require.True(t, ok)
	assert.Equal(t, "rocketgate", tx.BillerName)
	assert.True(t, f.billers["rocketgate"].Charges()[0].ForceThreeD)
}

type mappingByBiller struct {
	fail map[string]bool
}

func (m mappingByBiller) Retrieve(_ context.Context, req adapter.BillerMappingRequest) (adapter.BillerMapping, error) {
	if m.fail[req.BillerName] {
		return adapter.BillerMapping{}, purchase.WrapError(purchase.KindTransient, "test", errors.New("mapping down"))
	}
	return adapter.BillerMapping{BillerName: req.BillerName, Fields: map[string]string{"merchantId": "m-" + req.SiteID}}, nil
}

func TestAttemptTransactions_MappingFailureAdvances(t *testing.T) {
	f := newFixture(mappingByBiller{fail: map[string]bool{"rocketgate": true}}, "rocketgate", "netbilling")
	p := newProcess(t, purchase.FraudAdvice{}, "rocketgate", "netbilling")

	res := attempt(t, f, p, testCard)
	assert.Equal(t, purchase.TransactionApproved, res.MainState)
	assert.Empty(t, f.billers["rocketgate"].Charges(), "no charge without a mapping")

	first := p.MainItem().Transactions.All()[0]
	assert.Equal(t, transaction.CodeBillerMappingUnavailable, first.ErrorCode)
	assert.Equal(t, "m-site-1", lastTx(t, p, "main").BillerFields["merchantId"])
}

func TestAttemptTransactions_RequiresProcessing(t *testing.T) {
	f := newFixture(nil, "rocketgate")
	p, err := purchase.NewProcess(purchase.NewProcessParams{
		MainItem: purchase.Item{BundleID: "b", SiteID: "s"},
		Cascade:  purchase.NewCascade("rocketgate"),
	})
	require.NoError(t, err)

	tc := requestctx.NewTraceContext(context.Background())
	_, err = f.svc.AttemptTransactions(&tc, requestctx.DomainContext{}, p, transaction.Request{Card: testCard})
	require.Error(t, err)
	assert.Equal(t, purchase.KindIllegalStateTransition, purchase.KindOf(err))
}
