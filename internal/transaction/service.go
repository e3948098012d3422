// Package transaction attempts the biller cascade for the items of a purchase.
package transaction

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/yourorg/purchase-gateway/internal/adapter"
	"github.com/yourorg/purchase-gateway/internal/policy"
	"github.com/yourorg/purchase-gateway/internal/purchase"
	"github.com/yourorg/purchase-gateway/internal/reporting"
	"github.com/yourorg/purchase-gateway/internal/requestctx"
)

// Error codes recorded on attempts that never reached a biller.
const (
	CodeBillerMappingUnavailable = "biller_mapping_unavailable"
	CodeBudgetExhausted          = "payment_budget_exhausted"
	CodeUnexpectedPending        = "unexpected_pending"
	CodeThreeDRequired           = "three_d_required"
)

const (
	itemKindMain      = "main"
	itemKindCrossSale = "cross_sale"
)

// Charger runs one charge on a named biller. processor.Processor implements it.
type Charger interface {
	Charge(ctx context.Context, biller string, req adapter.ChargeRequest) (adapter.BillerResult, error)
}

// Request carries the per-call payment data. The card is never persisted.
type Request struct {
	Card      adapter.Card
	ReturnURL string
	StartTime time.Time

	referenceTransactionID string
}

// Result summarizes one AttemptTransactions call.
type Result struct {
	MainState         purchase.TransactionState
	MainAttempts      int
	CrossSaleAttempts int
	Exhausted         bool
	CardBlacklisted   bool
	Pending           bool
	RedirectURL       string
}

// Service is the TransactionService.
type Service struct {
	charger   Charger
	mappings  adapter.BillerMappingService
	routings  adapter.BinRoutingService
	blacklist adapter.CardBlacklistService
	policy    *policy.FailoverPolicy
	ledger    *reporting.Ledger
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithLedger(l *reporting.Ledger) Option { return func(s *Service) { s.ledger = l } }
func WithLogger(l *zap.Logger) Option       { return func(s *Service) { s.logger = l } }

// NewService wires the TransactionService. A nil policy uses the default decisions.
func NewService(
	charger Charger,
	mappings adapter.BillerMappingService,
	routings adapter.BinRoutingService,
	blacklist adapter.CardBlacklistService,
	fp *policy.FailoverPolicy,
	opts ...Option,
) *Service {
	if charger == nil {
		panic("Charger cannot be nil")
	}
	if mappings == nil {
		panic("BillerMappingService cannot be nil")
	}
	if fp == nil {
		fp, _ = policy.NewFailoverPolicy(nil)
	}
	s := &Service{
		charger:   charger,
		mappings:  mappings,
		routings:  routings,
		blacklist: blacklist,
		policy:    fp,
		logger:    zap.NewNop(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AttemptTransactions charges the main item along the cascade, then the
// selected cross-sales. p must be Processing. A 3-D Secure step-up on the main
// item leaves p Pending and skips cross-sales. Charge failures are recorded on
// the process; the returned error is reserved for state-machine violations.
func (s *Service) AttemptTransactions(tc *requestctx.TraceContext, dc requestctx.DomainContext, p *purchase.Process, req Request) (Result, error) {
	ctx, span := otel.Tracer("transaction").Start(tc.Context(), "TransactionService.AttemptTransactions")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", p.ID().String()),
		attribute.StringSlice("cascade", p.Cascade().Billers()),
	)
	if p.State() != purchase.StateProcessing {
		return Result{}, purchase.NewError(purchase.KindIllegalStateTransition, "transaction.AttemptTransactions",
			"session must be processing to attempt transactions, is "+string(p.State()))
	}
	if req.StartTime.IsZero() {
		req.StartTime = time.Now()
	}
	log := dc.Log()

	res, err := s.attemptMain(ctx, tc, dc, p, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	span.SetAttributes(attribute.Int("main_attempts", res.MainAttempts), attribute.String("main_state", string(res.MainState)))
	if res.Pending || res.Exhausted || res.CardBlacklisted {
		return res, nil
	}

	n, err := s.attemptCrossSales(ctx, tc, dc, p, req)
	res.CrossSaleAttempts = n
	if err != nil {
		span.RecordError(err)
		return res, err
	}
	log.Info("transactions attempted",
		zap.String("state", string(res.MainState)),
		zap.Int("main_attempts", res.MainAttempts),
		zap.Int("cross_sale_attempts", n))
	return res, nil
}

func (s *Service) attemptMain(ctx context.Context, tc *requestctx.TraceContext, dc requestctx.DomainContext, p *purchase.Process, req Request) (Result, error) {
	var res Result
	main := p.MainItem()
	log := dc.Log()

	for {
		biller, ok := p.CurrentBiller()
		if !ok {
			return s.exhaust(p, res)
		}

		var routings purchase.BinRoutingCollection
		if br, ok := p.MainBinRouting(); ok {
			routings = purchase.BinRoutingCollection{br}
		} else {
			routings = s.retrieveRoutings(ctx, dc, p, main, biller, req, res.MainAttempts+1)
		}

		mapping, mapErr := s.mappings.Retrieve(ctx, adapter.BillerMappingRequest{
			BillerName:    biller,
			SiteID:        main.SiteID,
			BusinessGroup: dc.BusinessGroup,
			Currency:      p.Currency(),
		})

		var (
			tx       purchase.Transaction
			decision policy.Decision
			err      error
		)
		for i := 0; ; i++ {
			var routing *purchase.BinRouting
			if i < len(routings) {
				r := routings[i]
				routing = &r
			}
			res.MainAttempts++
			if mapErr != nil {
				log.Warn("biller mapping unavailable", zap.String("biller", biller), zap.Error(mapErr))
				tx, err = s.recordFailure(p, main, biller, nil, CodeBillerMappingUnavailable, mapErr.Error())
			} else {
				tx, err = s.charge(ctx, tc, dc, p, main, biller, mapping, routing, req, res.MainAttempts)
			}
			if err != nil {
				return res, err
			}
			if tx.IsPending() {
				res.MainState = tx.State
				res.Pending = true
				res.RedirectURL = p.RedirectURL()
				return res, nil
			}
			if tx.IsApproved() {
				res.MainState = tx.State
				return res, nil
			}

			decision = s.decide(log, policy.Outcome{
				Biller:            biller,
				Transaction:       tx,
				Attempt:           res.MainAttempts,
				RemainingBillers:  p.Cascade().Remaining(),
				RemainingRoutings: max(len(routings)-i-1, 0),
				Amount:            main.Amount,
			})
			if mapErr != nil {
				decision = policy.Decision{AdvanceCascade: true}
			}
			if decision.BlacklistCard {
				s.blacklistCard(ctx, log, req.Card)
				res.CardBlacklisted = true
			}
			if decision.RetryNextRouting && i+1 < len(routings) {
				continue
			}
			break
		}

		res.MainState = tx.State
		if !decision.AdvanceCascade {
			return res, nil
		}
		cascadeAdvancesTotal.WithLabelValues(biller).Inc()
		log.Info("advancing cascade", zap.String("biller", biller), zap.String("error_code", tx.ErrorCode))
		if !p.AdvanceCascade() {
			return s.exhaust(p, res)
		}
	}
}

func (s *Service) exhaust(p *purchase.Process, res Result) (Result, error) {
	res.Exhausted = true
	if err := p.MarkItemPermanentlyFailed(p.MainItemID()); err != nil {
		return res, err
	}
	return res, nil
}

// AttemptCrossSales charges every selected cross-sale that has not been
// approved yet on the biller that handled the main item. Cross-sales reuse the
// main item's successful bin routing and never resolve their own. Their
// failures are recorded but never advance the cascade.
func (s *Service) AttemptCrossSales(tc *requestctx.TraceContext, dc requestctx.DomainContext, p *purchase.Process, req Request) (int, error) {
	ctx, span := otel.Tracer("transaction").Start(tc.Context(), "TransactionService.AttemptCrossSales")
	defer span.End()
	n, err := s.attemptCrossSales(ctx, tc, dc, p, req)
	span.SetAttributes(attribute.Int("cross_sale_attempts", n))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return n, err
}

func (s *Service) attemptCrossSales(ctx context.Context, tc *requestctx.TraceContext, dc requestctx.DomainContext, p *purchase.Process, req Request) (int, error) {
	biller, ok := p.CurrentBiller()
	if !ok {
		return 0, nil
	}
	log := dc.Log()

	var routing *purchase.BinRouting
	if br, ok := p.MainBinRouting(); ok {
		routing = &br
	}
	if mainTx, ok := p.MainItem().LastTransaction(); ok && mainTx.IsApproved() {
		req.referenceTransactionID = mainTx.BillerTransactionID
	}

	attempts := 0
	for _, id := range p.SelectedCrossSales() {
		item, _ := p.Item(id)
		if item.WasSuccessful() {
			continue
		}
		attempts++
		mapping, err := s.mappings.Retrieve(ctx, adapter.BillerMappingRequest{
			BillerName:    biller,
			SiteID:        item.SiteID,
			BusinessGroup: dc.BusinessGroup,
			Currency:      p.Currency(),
		})
		var tx purchase.Transaction
		if err != nil {
			log.Warn("cross-sale biller mapping unavailable", zap.String("item_id", string(id)), zap.Error(err))
			tx, err = s.recordFailure(p, item, biller, routing, CodeBillerMappingUnavailable, err.Error())
		} else {
			tx, err = s.charge(ctx, tc, dc, p, item, biller, mapping, routing, req, attempts)
		}
		if err != nil {
			return attempts, err
		}
		if tx.IsHardDecline() {
			d := s.decide(log, policy.Outcome{Biller: biller, Transaction: tx, Attempt: 1, IsCrossSale: true, Amount: item.Amount})
			if d.BlacklistCard {
				s.blacklistCard(ctx, log, req.Card)
			}
		}
	}
	return attempts, nil
}

func (s *Service) retrieveRoutings(ctx context.Context, dc requestctx.DomainContext, p *purchase.Process, main purchase.InitializedItem,
	biller string, req Request, attempt int) purchase.BinRoutingCollection {
	if s.routings == nil || req.Card.Number == "" {
		return nil
	}
	routings, err := s.routings.Retrieve(ctx, adapter.BinRoutingRequest{
		BIN:        req.Card.First6(),
		Amount:     main.Amount,
		Currency:   p.Currency(),
		Attempt:    attempt,
		SiteID:     main.SiteID,
		BillerName: biller,
		SessionID:  p.ID().String(),
	})
	if err != nil {
		dc.Log().Warn("bin routing lookup failed", zap.String("biller", biller), zap.Error(err))
		return nil
	}
	return routings
}

// charge runs one attempt and records it on item. A pending answer with 3-D
// Secure artifacts parks the process for the step-up.
func (s *Service) charge(
	ctx context.Context,
	tc *requestctx.TraceContext,
	dc requestctx.DomainContext,
	p *purchase.Process,
	item purchase.InitializedItem,
	biller string,
	mapping adapter.BillerMapping,
	routing *purchase.BinRouting,
	req Request,
	attempt int,
) (purchase.Transaction, error) {
	step := requestctx.DeriveStepContext(tc, dc, biller, req.StartTime, attempt)
	if step.BudgetExhausted() {
		return s.recordFailure(p, item, biller, routing, CodeBudgetExhausted, "payment time budget exhausted")
	}

	tx := purchase.NewTransaction(biller, s.now())
	tx.BillerFields = mapping.Fields
	tx.BinRouting = routing

	callCtx, cancel := step.Bound(ctx)
	result, err := s.charger.Charge(callCtx, biller, adapter.ChargeRequest{
		SessionID:                    p.ID().String(),
		TransactionID:                tx.TransactionID,
		ItemID:                       string(item.ItemID),
		SiteID:                       item.SiteID,
		Amount:                       item.Amount,
		Currency:                     p.Currency(),
		Card:                         req.Card,
		BillerFields:                 mapping.Fields,
		BinRouting:                   routing,
		ForceThreeD:                  !item.IsCrossSale && p.FraudAdvice().ForceThreeD(),
		IsCrossSale:                  item.IsCrossSale,
		ReturnURL:                    req.ReturnURL,
		ReferenceBillerTransactionID: req.referenceTransactionID,
	})
	cancel()
	if err != nil {
		dc.Log().Warn("biller charge failed",
			zap.String("biller", biller),
			zap.String("item_id", string(item.ItemID)),
			zap.String("span_id", step.SpanID),
			zap.Error(err))
	}
	tx.BillerTransactionID = result.BillerTransactionID

	if result.Status == purchase.TransactionPending {
		if result.ThreeD != nil && !item.IsCrossSale {
			td := *result.ThreeD
			tx.ThreeD = &td
			tx.RedirectURL = td.StepUpURL()
			if err := p.AddTransaction(item.ItemID, tx); err != nil {
				return tx, err
			}
			s.record(p, item, tx, result.Status)
			if err := p.MarkPending(tx.RedirectURL); err != nil {
				return tx, err
			}
			return tx, nil
		}
		if result.ThreeD == nil {
			result.Status = purchase.TransactionError
			result.ErrorCode = CodeUnexpectedPending
		} else {
			result.Status = purchase.TransactionDeclined
			result.ErrorCode = CodeThreeDRequired
		}
	}

	if err := p.AddTransaction(item.ItemID, tx); err != nil {
		return tx, err
	}
	if err := p.ResolveTransaction(item.ItemID, tx.TransactionID, purchase.Resolution{
		State:               result.Status,
		BillerTransactionID: result.BillerTransactionID,
		ErrorCode:           result.ErrorCode,
		ErrorMessage:        result.ErrorMessage,
	}); err != nil {
		return tx, err
	}
	resolved, _ := p.Item(item.ItemID)
	tx, _ = resolved.Transactions.Find(tx.TransactionID)
	s.record(p, item, tx, result.Status)
	return tx, nil
}

// ResolveThreeD finalizes the pending 3-D Secure attempt txID of the main item
// with the answer of a lookup or completion call. A biller that still answers
// pending without new artifacts is booked as an error.
func (s *Service) ResolveThreeD(p *purchase.Process, txID string, result adapter.BillerResult) (purchase.Transaction, error) {
	main := p.MainItem()
	res := purchase.Resolution{
		State:               result.Status,
		BillerTransactionID: result.BillerTransactionID,
		ErrorCode:           result.ErrorCode,
		ErrorMessage:        result.ErrorMessage,
	}
	if !res.State.IsTerminal() {
		res.State = purchase.TransactionError
		res.ErrorCode = CodeUnexpectedPending
	}
	if err := p.ResolveTransaction(main.ItemID, txID, res); err != nil {
		return purchase.Transaction{}, err
	}
	resolved, _ := p.Item(main.ItemID)
	tx, _ := resolved.Transactions.Find(txID)
	s.record(p, main, tx, tx.State)
	return tx, nil
}

// Failover moves the cascade past the current biller after a failed 3-D
// Secure step and attempts the remaining billers. p must be Processing.
func (s *Service) Failover(tc *requestctx.TraceContext, dc requestctx.DomainContext, p *purchase.Process, req Request) (Result, error) {
	biller, _ := p.CurrentBiller()
	if !p.AdvanceCascade() {
		return s.exhaust(p, Result{MainState: purchase.TransactionError})
	}
	cascadeAdvancesTotal.WithLabelValues(biller).Inc()
	dc.Log().Info("advancing cascade after 3-D Secure failure", zap.String("biller", biller))
	return s.AttemptTransactions(tc, dc, p, req)
}

// recordFailure books an attempt that failed before the biller answered.
func (s *Service) recordFailure(p *purchase.Process, item purchase.InitializedItem, biller string, routing *purchase.BinRouting, code, message string) (purchase.Transaction, error) {
	tx := purchase.NewTransaction(biller, s.now())
	tx.BinRouting = routing
	if err := p.AddTransaction(item.ItemID, tx); err != nil {
		return tx, err
	}
	if err := p.ResolveTransaction(item.ItemID, tx.TransactionID, purchase.Resolution{
		State:        purchase.TransactionError,
		ErrorCode:    code,
		ErrorMessage: message,
	}); err != nil {
		return tx, err
	}
	tx.State = purchase.TransactionError
	tx.ErrorCode = code
	tx.ErrorMessage = message
	s.record(p, item, tx, tx.State)
	return tx, nil
}

func (s *Service) record(p *purchase.Process, item purchase.InitializedItem, tx purchase.Transaction, status purchase.TransactionState) {
	kind := itemKindMain
	if item.IsCrossSale {
		kind = itemKindCrossSale
	}
	billerAttemptsTotal.WithLabelValues(tx.BillerName, string(status), kind).Inc()
	if s.ledger == nil {
		return
	}
	s.ledger.Record(reporting.LogEntry{
		Timestamp:    s.now(),
		SessionID:    p.ID().String(),
		SiteID:       item.SiteID,
		CrossSale:    item.IsCrossSale,
		Status:       string(status),
		Amount:       item.Amount,
		Currency:     p.Currency(),
		Biller:       tx.BillerName,
		ErrorCode:    tx.ErrorCode,
		ErrorMessage: tx.ErrorMessage,
	})
}

func (s *Service) decide(log *zap.Logger, o policy.Outcome) policy.Decision {
	d, err := s.policy.Evaluate(o)
	if err != nil {
		log.Error("failover policy evaluation failed, using default decision", zap.String("biller", o.Biller), zap.Error(err))
		return policy.DefaultDecision(o)
	}
	return d
}

func (s *Service) blacklistCard(ctx context.Context, log *zap.Logger, card adapter.Card) {
	if s.blacklist == nil || card.Number == "" {
		return
	}
	if err := s.blacklist.Add(ctx, adapter.FingerprintOf(card)); err != nil {
		log.Error("could not blacklist card", zap.String("bin", card.First6()), zap.Error(err))
		return
	}
	log.Info("card blacklisted after hard decline", zap.String("bin", card.First6()), zap.String("last4", card.Last4()))
}
