// Package orchestrator runs the purchase use cases: init, process, captcha
// validation and session expiry. Every mutation happens under the session
// lock; the cascade itself is attempted by the transaction service.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yourorg/purchase-gateway/internal/adapter"
	"github.com/yourorg/purchase-gateway/internal/fraud"
	"github.com/yourorg/purchase-gateway/internal/purchase"
	"github.com/yourorg/purchase-gateway/internal/requestctx"
	"github.com/yourorg/purchase-gateway/internal/transaction"
)

// Decline reasons set by the orchestrator.
const (
	ReasonFraudBlacklisted   = "fraud_blacklisted"
	ReasonCardBlacklisted    = "card_blacklisted"
	ReasonMaxSubmitsExceeded = "max_gateway_submits_exceeded"
)

// Dependencies wires an Orchestrator. Blacklist is optional.
type Dependencies struct {
	Sessions     *Sessions
	Contexts     *requestctx.Builder
	Fraud        adapter.FraudService
	Cascades     adapter.CascadeService
	Blacklist    adapter.CardBlacklistService
	Mapper       *fraud.Mapper
	Transactions *transaction.Service
	Logger       *zap.Logger
}

// Orchestrator coordinates the purchase use cases.
type Orchestrator struct {
	sessions *Sessions
	contexts *requestctx.Builder
	fraud    adapter.FraudService
	cascades adapter.CascadeService
	cards    adapter.CardBlacklistService
	mapper   *fraud.Mapper
	txs      *transaction.Service
	logger   *zap.Logger
}

func NewOrchestrator(d Dependencies) *Orchestrator {
	if d.Sessions == nil {
		panic("Sessions cannot be nil")
	}
	if d.Contexts == nil {
		panic("Context builder cannot be nil")
	}
	if d.Fraud == nil {
		panic("FraudService cannot be nil")
	}
	if d.Cascades == nil {
		panic("CascadeService cannot be nil")
	}
	if d.Transactions == nil {
		panic("TransactionService cannot be nil")
	}
	if d.Mapper == nil {
		d.Mapper = fraud.NewMapper(fraud.Config{})
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Orchestrator{
		sessions: d.Sessions,
		contexts: d.Contexts,
		fraud:    d.Fraud,
		cascades: d.Cascades,
		cards:    d.Blacklist,
		mapper:   d.Mapper,
		txs:      d.Transactions,
		logger:   d.Logger,
	}
}

// CrossSaleRequest is one offered cross-sale.
type CrossSaleRequest struct {
	ItemID   string `json:"itemId,omitempty"`
	SiteID   string `json:"siteId"`
	BundleID string `json:"bundleId"`
	AddonID  string `json:"addonId,omitempty"`
	Amount   int64  `json:"amount"`
}

// InitRequest starts a purchase session.
type InitRequest struct {
	CorrelationID string             `json:"-"`
	SiteID        string             `json:"siteId"`
	BundleID      string             `json:"bundleId"`
	AddonID       string             `json:"addonId,omitempty"`
	Amount        int64              `json:"amount"`
	Currency      string             `json:"currency"`
	CountryCode   string             `json:"countryCode"`
	PaymentType   string             `json:"paymentType"`
	PaymentMethod string             `json:"paymentMethod,omitempty"`
	MemberID      string             `json:"memberId,omitempty"`
	ForcedBiller  string             `json:"forceCascade,omitempty"`
	Email         string             `json:"email,omitempty"`
	IPAddress     string             `json:"clientIp,omitempty"`
	CrossSales    []CrossSaleRequest `json:"crossSellOptions,omitempty"`
}

// ProcessRequest submits the payment form of a session.
type ProcessRequest struct {
	CorrelationID      string       `json:"-"`
	SessionID          string       `json:"-"`
	Card               adapter.Card `json:"payment"`
	SelectedCrossSales []string     `json:"selectedCrossSells,omitempty"`
	Email              string       `json:"email,omitempty"`
	IPAddress          string       `json:"clientIp,omitempty"`
	ReturnURL          string       `json:"returnUrl,omitempty"`
}

// CaptchaRequest reports a solved captcha.
type CaptchaRequest struct {
	CorrelationID string         `json:"-"`
	SessionID     string         `json:"-"`
	Phase         purchase.Phase `json:"step"`
	Token         string         `json:"token"`
}

func (o *Orchestrator) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("orchestrator").Start(ctx, name)
	span.SetAttributes(attrs...)
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// InitPurchase creates a session with its cascade and init-phase fraud advice.
func (o *Orchestrator) InitPurchase(ctx context.Context, req InitRequest) (res Result, err error) {
	const op = "orchestrator.InitPurchase"
	start := time.Now()
	defer func() { purchaseDuration.WithLabelValues("init").Observe(time.Since(start).Seconds()) }()
	ctx, span := o.startSpan(ctx, "Orchestrator.InitPurchase", attribute.String("site_id", req.SiteID))
	defer func() { endSpan(span, err) }()

	if req.SiteID == "" || req.BundleID == "" {
		return Result{}, purchase.NewError(purchase.KindValidation, op, "siteId and bundleId are required")
	}
	if req.Amount < 0 || req.Currency == "" {
		return Result{}, purchase.NewError(purchase.KindValidation, op, "a non-negative amount and a currency are required")
	}

	sessionID := purchase.NewSessionID()
	tc, dc, err := o.contexts.Build(ctx, req.CorrelationID, sessionID.String(), req.SiteID)
	if err != nil {
		return Result{}, purchase.WrapError(purchase.KindTransient, op, err)
	}
	log := dc.Log()

	cascade, err := o.cascades.Retrieve(ctx, adapter.CascadeRequest{
		SiteID:        req.SiteID,
		BusinessGroup: dc.BusinessGroup,
		Currency:      req.Currency,
		CountryCode:   req.CountryCode,
		PaymentType:   req.PaymentType,
		PaymentMethod: req.PaymentMethod,
		ForcedBiller:  req.ForcedBiller,
	})
	if err != nil {
		return Result{}, err
	}

	recs, err := o.fraud.RetrieveAdvice(ctx, adapter.FraudRequest{
		SessionID: sessionID.String(),
		Phase:     string(purchase.PhaseInit),
		SiteID:    req.SiteID,
		Email:     req.Email,
		IPAddress: req.IPAddress,
		Amount:    req.Amount,
		Currency:  req.Currency,
	})
	if err != nil {
		return Result{}, err
	}
	advice := o.mapper.MapInit(purchase.FraudAdvice{}, recs)

	crossSales := make([]purchase.Item, 0, len(req.CrossSales))
	for _, cs := range req.CrossSales {
		crossSales = append(crossSales, purchase.Item{
			ItemID:   purchase.ItemID(cs.ItemID),
			BundleID: cs.BundleID,
			AddonID:  cs.AddonID,
			SiteID:   cs.SiteID,
			Amount:   cs.Amount,
			Currency: req.Currency,
		})
	}
	p, err := purchase.NewProcess(purchase.NewProcessParams{
		SessionID: sessionID,
		MainItem: purchase.Item{
			BundleID: req.BundleID,
			AddonID:  req.AddonID,
			SiteID:   req.SiteID,
			Amount:   req.Amount,
			Currency: req.Currency,
		},
		CrossSales:    crossSales,
		PaymentType:   req.PaymentType,
		PaymentMethod: req.PaymentMethod,
		Currency:      req.Currency,
		CountryCode:   req.CountryCode,
		MemberID:      req.MemberID,
		Cascade:       cascade,
		FraudAdvice:   advice,
	})
	if err != nil {
		return Result{}, err
	}

	if verr := p.Validate(); verr != nil {
		log.Info("session rejected at init", zap.Error(verr))
		err = p.Decline(ReasonFraudBlacklisted)
	} else if advice.InitCaptchaRequired() {
		err = p.MarkPending("")
	}
	if err != nil {
		return Result{}, err
	}
	if err := o.sessions.Create(ctx, p); err != nil {
		return Result{}, err
	}

	res = ResultFor(p)
	purchaseInitTotal.WithLabelValues(string(res.NextAction.Type)).Inc()
	span.SetAttributes(attribute.String("session_id", res.SessionID), attribute.String("state", string(res.State)))
	log.Info("purchase initiated",
		zap.String("correlation_id", tc.TraceID),
		zap.String("state", string(res.State)),
		zap.Strings("cascade", res.Cascade),
		zap.String("next_action", string(res.NextAction.Type)))
	return res, nil
}

// ProcessPurchase submits the payment of a session and attempts the cascade.
func (o *Orchestrator) ProcessPurchase(ctx context.Context, req ProcessRequest) (res Result, err error) {
	const op = "orchestrator.ProcessPurchase"
	start := time.Now()
	defer func() { purchaseDuration.WithLabelValues("process").Observe(time.Since(start).Seconds()) }()
	ctx, span := o.startSpan(ctx, "Orchestrator.ProcessPurchase", attribute.String("session_id", req.SessionID))
	defer func() { endSpan(span, err) }()

	id, err := purchase.ParseSessionID(req.SessionID)
	if err != nil {
		return Result{}, err
	}
	if req.Card.Number == "" {
		return Result{}, purchase.NewError(purchase.KindValidation, op, "payment card is required")
	}

	p, err := o.sessions.Mutate(ctx, id, func(ctx context.Context, p *purchase.Process) error {
		return o.process(ctx, req, p, start)
	})
	if err != nil {
		return Result{}, err
	}
	res = ResultFor(p)
	purchaseProcessTotal.WithLabelValues(string(res.State)).Inc()
	span.SetAttributes(attribute.String("state", string(res.State)))
	return res, nil
}

func (o *Orchestrator) process(ctx context.Context, req ProcessRequest, p *purchase.Process, start time.Time) error {
	const op = "orchestrator.ProcessPurchase"
	switch p.State() {
	case purchase.StateValid:
	case purchase.StatePending:
		if p.RedirectURL() != "" {
			return purchase.ErrSessionAlreadyProcessed(p.ID(), p.RedirectURL())
		}
		if p.FraudAdvice().InitCaptchaRequired() || p.FraudAdvice().ProcessCaptchaRequired() {
			e := purchase.NewError(purchase.KindValidation, op, "captcha has to be validated first")
			e.NextAction = &purchase.NextAction{Type: purchase.ActionValidateCaptcha}
			return e
		}
	default:
		return purchase.ErrSessionAlreadyProcessed(p.ID(), p.RedirectURL())
	}

	main := p.MainItem()
	tc, dc, err := o.contexts.Build(ctx, req.CorrelationID, p.ID().String(), main.SiteID)
	if err != nil {
		return purchase.WrapError(purchase.KindTransient, op, err)
	}
	log := dc.Log()

	if n := o.sessions.IncrementSubmits(ctx, p.ID()); dc.MaxSubmits > 0 && n > int64(dc.MaxSubmits) {
		log.Warn("gateway submit limit exceeded", zap.Int64("submits", n), zap.Int("limit", dc.MaxSubmits))
		return p.Decline(ReasonMaxSubmitsExceeded)
	}

	selected := make([]purchase.ItemID, 0, len(req.SelectedCrossSales))
	for _, s := range req.SelectedCrossSales {
		selected = append(selected, purchase.ItemID(s))
	}
	if err := p.SelectCrossSales(selected...); err != nil {
		return err
	}

	if o.cards != nil {
		listed, err := o.cards.Check(ctx, adapter.FingerprintOf(req.Card))
		if err != nil {
			log.Warn("card blacklist check failed", zap.Error(err))
		} else if listed {
			log.Info("card is blacklisted", zap.String("bin", req.Card.First6()))
			return p.Decline(ReasonCardBlacklisted)
		}
	}

	recs, err := o.fraud.RetrieveAdvice(ctx, adapter.FraudRequest{
		SessionID: p.ID().String(),
		Phase:     string(purchase.PhaseProcess),
		SiteID:    main.SiteID,
		Email:     req.Email,
		IPAddress: req.IPAddress,
		BIN:       req.Card.First6(),
		Last4:     req.Card.Last4(),
		Amount:    main.Amount,
		Currency:  p.Currency(),
	})
	if err != nil {
		return err
	}
	if err := p.UpdateFraudAdvice(purchase.PhaseProcess, o.mapper.Signals(recs)); err != nil {
		return err
	}
	advice := p.FraudAdvice()
	if advice.Blacklisted() {
		log.Info("session blocked by fraud advice")
		return p.Decline(ReasonFraudBlacklisted)
	}
	if advice.ProcessCaptchaRequired() {
		if p.State() == purchase.StateValid {
			return p.MarkPending("")
		}
		return nil
	}

	if err := p.StartProcessing(); err != nil {
		return err
	}
	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = dc.ReturnURL
	}
	res, err := o.txs.AttemptTransactions(&tc, dc, p, transaction.Request{Card: req.Card, ReturnURL: returnURL, StartTime: start})
	if err != nil {
		return err
	}
	if res.Pending {
		log.Info("purchase waiting on 3-D Secure", zap.String("redirect_url", res.RedirectURL))
		return nil
	}
	if err := p.FinishProcessing(); err != nil {
		return err
	}
	if p.State() == purchase.StateProcessed {
		p.SetPurchaseID(uuid.NewString())
	}
	log.Info("purchase processed",
		zap.String("state", string(p.State())),
		zap.String("biller", p.MainItem().View().BillerName),
		zap.String("decline_reason", p.DeclineReason()))
	return nil
}

// ValidateCaptcha records a solved captcha for the requested phase.
func (o *Orchestrator) ValidateCaptcha(ctx context.Context, req CaptchaRequest) (res Result, err error) {
	const op = "orchestrator.ValidateCaptcha"
	ctx, span := o.startSpan(ctx, "Orchestrator.ValidateCaptcha", attribute.String("session_id", req.SessionID))
	defer func() { endSpan(span, err) }()

	id, err := purchase.ParseSessionID(req.SessionID)
	if err != nil {
		return Result{}, err
	}
	if req.Token == "" {
		return Result{}, purchase.NewError(purchase.KindValidation, op, "captcha token is required")
	}
	p, err := o.sessions.Mutate(ctx, id, func(ctx context.Context, p *purchase.Process) error {
		if p.State().IsTerminal() {
			return purchase.ErrSessionAlreadyProcessed(p.ID(), p.RedirectURL())
		}
		switch req.Phase {
		case purchase.PhaseInit:
			return p.ValidateInitCaptcha()
		case purchase.PhaseProcess:
			return p.ValidateProcessCaptcha()
		default:
			return purchase.NewError(purchase.KindValidation, op, "unknown captcha step "+string(req.Phase))
		}
	})
	if err != nil {
		return Result{}, err
	}
	res = ResultFor(p)
	advice := p.FraudAdvice()
	if p.State() == purchase.StatePending && p.RedirectURL() == "" && !advice.InitCaptchaRequired() && !advice.ProcessCaptchaRequired() {
		res.NextAction = purchase.NextAction{Type: purchase.ActionRenderGateway}
	}
	return res, nil
}

// ExpireSession force-finishes a session whose client never came back.
// Still-pending attempts are aborted; terminal sessions are returned as is.
func (o *Orchestrator) ExpireSession(ctx context.Context, sessionID string) (res Result, err error) {
	ctx, span := o.startSpan(ctx, "Orchestrator.ExpireSession", attribute.String("session_id", sessionID))
	defer func() { endSpan(span, err) }()

	id, err := purchase.ParseSessionID(sessionID)
	if err != nil {
		return Result{}, err
	}
	p, err := o.sessions.Mutate(ctx, id, func(ctx context.Context, p *purchase.Process) error {
		return expire(p)
	})
	if err != nil {
		return Result{}, err
	}
	o.logger.Info("session expired", zap.String("session_id", sessionID), zap.String("state", string(p.State())))
	return ResultFor(p), nil
}

func expire(p *purchase.Process) error {
	switch p.State() {
	case purchase.StatePending:
		if _, ok := p.PendingThreeD(); ok {
			if err := p.Redirect(); err != nil {
				return err
			}
			p.AbortPendingTransactions()
			return p.FinishProcessing()
		}
		return p.Abort()
	case purchase.StateProcessing:
		p.AbortPendingTransactions()
		return p.FinishProcessing()
	case purchase.StateValid:
		return p.Abort()
	default:
		return nil
	}
}

// GetSession returns the current result of a session.
func (o *Orchestrator) GetSession(ctx context.Context, sessionID string) (Result, error) {
	id, err := purchase.ParseSessionID(sessionID)
	if err != nil {
		return Result{}, err
	}
	p, err := o.sessions.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	return ResultFor(p), nil
}
