// Package threeds implements the 3-D Secure sub-flow of a purchase: Lookup
// after device collection, Authenticate with the issuer answer and Complete
// once the client is back from the ACS.
//
// Every handler applies the same guards before touching the session: an
// unknown session fails with NotFound, a session without a pending redirect
// fails with MissingRedirectURL and a session that is no longer Pending fails
// with SessionAlreadyProcessed carrying the redirect to resume from.
package threeds

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/yourorg/purchase-gateway/internal/adapter"
	"github.com/yourorg/purchase-gateway/internal/orchestrator"
	"github.com/yourorg/purchase-gateway/internal/purchase"
	"github.com/yourorg/purchase-gateway/internal/requestctx"
	"github.com/yourorg/purchase-gateway/internal/transaction"
)

const (
	stepLookup       = "lookup"
	stepAuthenticate = "authenticate"
	stepComplete     = "complete"
)

// Biller runs the 3-D Secure calls on a named biller. processor.Processor implements it.
type Biller interface {
	LookupThreeD(ctx context.Context, biller string, req adapter.LookupRequest) (adapter.BillerResult, error)
	CompleteThreeD(ctx context.Context, biller string, req adapter.CompleteRequest) (adapter.BillerResult, error)
}

// LookupRequest continues a 3-D Secure 2 attempt once device collection ran.
// The card is sent again because it is never stored.
type LookupRequest struct {
	CorrelationID       string       `json:"-"`
	SessionID           string       `json:"-"`
	DeviceFingerprintID string       `json:"deviceFingerprintId"`
	Card                adapter.Card `json:"payment"`
	ReturnURL           string       `json:"returnUrl,omitempty"`
}

// AuthenticateRequest carries the issuer answer of the challenge.
type AuthenticateRequest struct {
	CorrelationID string `json:"-"`
	SessionID     string `json:"-"`
	PaRes         string `json:"pares,omitempty"`
	CRes          string `json:"cres,omitempty"`
}

// CompleteRequest finishes an authenticated session.
type CompleteRequest struct {
	CorrelationID string `json:"-"`
	SessionID     string `json:"-"`
}

// Handler serves the three 3-D Secure steps.
type Handler struct {
	sessions *orchestrator.Sessions
	contexts *requestctx.Builder
	billers  Biller
	txs      *transaction.Service
	cards    adapter.CardBlacklistService
	logger   *zap.Logger
}

// NewHandler wires a Handler. cards may be nil to skip the blacklist check.
func NewHandler(sessions *orchestrator.Sessions, contexts *requestctx.Builder, billers Biller, txs *transaction.Service, cards adapter.CardBlacklistService, logger *zap.Logger) *Handler {
	if sessions == nil {
		panic("Sessions cannot be nil")
	}
	if contexts == nil {
		panic("Context builder cannot be nil")
	}
	if billers == nil {
		panic("Biller cannot be nil")
	}
	if txs == nil {
		panic("TransactionService cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sessions: sessions, contexts: contexts, billers: billers, txs: txs, cards: cards, logger: logger}
}

// guard applies the shared preconditions of every step.
func guard(p *purchase.Process) error {
	if p.RedirectURL() == "" {
		return purchase.ErrMissingRedirectURL(p.ID())
	}
	if p.State() != purchase.StatePending {
		return purchase.ErrSessionAlreadyProcessed(p.ID(), p.RedirectURL())
	}
	return nil
}

// run executes one step under the session lock inside its own span.
func (h *Handler) run(ctx context.Context, step, sessionID string, fn func(ctx context.Context, p *purchase.Process) error) (orchestrator.Result, error) {
	ctx, span := otel.Tracer("threeds").Start(ctx, "ThreeDS."+step)
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	id, err := purchase.ParseSessionID(sessionID)
	if err != nil {
		return orchestrator.Result{}, err
	}
	p, err := h.sessions.Mutate(ctx, id, func(ctx context.Context, p *purchase.Process) error {
		if err := guard(p); err != nil {
			return err
		}
		return fn(ctx, p)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return orchestrator.Result{}, err
	}
	threeDStepsTotal.WithLabelValues(step, string(p.State())).Inc()
	span.SetAttributes(attribute.String("state", string(p.State())))
	return orchestrator.ResultFor(p), nil
}

// Lookup asks the biller for the challenge after device collection. A second
// lookup on the same attempt returns the existing challenge.
func (h *Handler) Lookup(ctx context.Context, req LookupRequest) (orchestrator.Result, error) {
	start := time.Now()
	return h.run(ctx, stepLookup, req.SessionID, func(ctx context.Context, p *purchase.Process) error {
		tx, ok := p.PendingThreeD()
		if !ok {
			return purchase.ErrSessionAlreadyProcessed(p.ID(), p.RedirectURL())
		}
		if tx.ThreeD.ACS != "" {
			return nil
		}
		tc, dc, err := h.contexts.Build(ctx, req.CorrelationID, p.ID().String(), p.MainItem().SiteID)
		if err != nil {
			return purchase.WrapError(purchase.KindTransient, "threeds.Lookup", err)
		}
		log := dc.Log().With(zap.String("biller", tx.BillerName), zap.String("transaction_id", tx.TransactionID))

		if h.cards != nil && req.Card.Number != "" {
			listed, err := h.cards.Check(ctx, adapter.FingerprintOf(req.Card))
			if err != nil {
				log.Warn("card blacklist check failed", zap.Error(err))
			} else if listed {
				log.Info("card is blacklisted, declining before lookup")
				return p.Decline(orchestrator.ReasonCardBlacklisted)
			}
		}

		step := requestctx.DeriveStepContext(&tc, dc, tx.BillerName, start, 1)
		callCtx, cancel := step.Bound(ctx)
		result, err := h.billers.LookupThreeD(callCtx, tx.BillerName, adapter.LookupRequest{
			SessionID:           p.ID().String(),
			TransactionID:       tx.TransactionID,
			BillerTransactionID: tx.BillerTransactionID,
			Card:                req.Card,
			DeviceFingerprintID: req.DeviceFingerprintID,
			ReturnURL:           req.ReturnURL,
		})
		cancel()
		if err != nil {
			log.Warn("3-D Secure lookup failed", zap.Error(err))
			return h.failover(&tc, dc, p, tx, adapter.BillerResult{
				Status:       purchase.TransactionError,
				ErrorCode:    "lookup_failed",
				ErrorMessage: err.Error(),
			}, req)
		}

		if result.Status == purchase.TransactionPending && result.ThreeD != nil && result.ThreeD.ACS != "" {
			if err := p.UpdateThreeD(p.MainItemID(), tx.TransactionID, *result.ThreeD); err != nil {
				return err
			}
			log.Info("3-D Secure challenge required")
			return p.SetPendingRedirect(result.ThreeD.ACS)
		}

		resolved, err := h.txs.ResolveThreeD(p, tx.TransactionID, result)
		if err != nil {
			return err
		}
		if resolved.IsHardFailure() {
			return h.failover(&tc, dc, p, resolved, result, req)
		}
		log.Info("3-D Secure frictionless outcome", zap.String("state", string(resolved.State)))
		return h.finish(&tc, dc, p, transaction.Request{Card: req.Card, ReturnURL: req.ReturnURL, StartTime: start})
	})
}

// failover books a failed lookup and moves on to the next biller with the
// resent card. tx may already be resolved.
func (h *Handler) failover(tc *requestctx.TraceContext, dc requestctx.DomainContext, p *purchase.Process, tx purchase.Transaction, result adapter.BillerResult, req LookupRequest) error {
	if tx.IsPending() {
		if _, err := h.txs.ResolveThreeD(p, tx.TransactionID, result); err != nil {
			return err
		}
	}
	if err := p.Redirect(); err != nil {
		return err
	}
	if req.Card.Number == "" {
		return p.FinishProcessing()
	}
	res, err := h.txs.Failover(tc, dc, p, transaction.Request{Card: req.Card, ReturnURL: req.ReturnURL})
	if err != nil {
		return err
	}
	if res.Pending {
		return nil
	}
	return h.finishProcessing(p)
}

// Authenticate records the issuer answer on the pending attempt. It succeeds
// once per step-up; a repeated or concurrent call fails with
// SessionAlreadyProcessed.
func (h *Handler) Authenticate(ctx context.Context, req AuthenticateRequest) (orchestrator.Result, error) {
	start := time.Now()
	return h.run(ctx, stepAuthenticate, req.SessionID, func(ctx context.Context, p *purchase.Process) error {
		if req.PaRes == "" && req.CRes == "" {
			return purchase.NewError(purchase.KindValidation, "threeds.Authenticate", "pares or cres is required")
		}
		tx, ok := p.PendingThreeD()
		if err := p.AuthenticateThreeD(); err != nil {
			return err
		}
		if !ok {
			return purchase.ErrSessionAlreadyProcessed(p.ID(), p.RedirectURL())
		}
		tc, dc, err := h.contexts.Build(ctx, req.CorrelationID, p.ID().String(), p.MainItem().SiteID)
		if err != nil {
			return purchase.WrapError(purchase.KindTransient, "threeds.Authenticate", err)
		}
		log := dc.Log().With(zap.String("biller", tx.BillerName), zap.String("transaction_id", tx.TransactionID))

		step := requestctx.DeriveStepContext(&tc, dc, tx.BillerName, start, 1)
		callCtx, cancel := step.Bound(ctx)
		result, err := h.billers.CompleteThreeD(callCtx, tx.BillerName, adapter.CompleteRequest{
			SessionID:           p.ID().String(),
			TransactionID:       tx.TransactionID,
			BillerTransactionID: tx.BillerTransactionID,
			PaRes:               req.PaRes,
			CRes:                req.CRes,
		})
		cancel()
		if err != nil {
			log.Warn("3-D Secure completion failed", zap.Error(err))
			result = adapter.BillerResult{Status: purchase.TransactionError, ErrorCode: "authentication_unavailable", ErrorMessage: err.Error()}
		}
		resolved, err := h.txs.ResolveThreeD(p, tx.TransactionID, result)
		if err != nil {
			return err
		}
		log.Info("3-D Secure authenticated", zap.String("state", string(resolved.State)))
		return nil
	})
}

// Complete resumes an authenticated session: the selected cross-sales are
// charged against the approved main attempt and the session is finished.
func (h *Handler) Complete(ctx context.Context, req CompleteRequest) (orchestrator.Result, error) {
	start := time.Now()
	return h.run(ctx, stepComplete, req.SessionID, func(ctx context.Context, p *purchase.Process) error {
		if !p.ThreeDAuthenticated() {
			next := p.NextAction()
			e := purchase.NewError(purchase.KindValidation, "threeds.Complete", "3-D Secure authentication has not happened yet")
			e.NextAction = &next
			return e
		}
		tc, dc, err := h.contexts.Build(ctx, req.CorrelationID, p.ID().String(), p.MainItem().SiteID)
		if err != nil {
			return purchase.WrapError(purchase.KindTransient, "threeds.Complete", err)
		}
		return h.finish(&tc, dc, p, transaction.Request{StartTime: start})
	})
}

// finish brings a Pending session with a resolved main attempt to its final
// state, charging cross-sales after an approval.
func (h *Handler) finish(tc *requestctx.TraceContext, dc requestctx.DomainContext, p *purchase.Process, req transaction.Request) error {
	if err := p.Redirect(); err != nil {
		return err
	}
	if main := p.MainItem(); main.WasSuccessful() {
		if _, err := h.txs.AttemptCrossSales(tc, dc, p, req); err != nil {
			return err
		}
	}
	return h.finishProcessing(p)
}

func (h *Handler) finishProcessing(p *purchase.Process) error {
	if err := p.FinishProcessing(); err != nil {
		return err
	}
	if p.State() == purchase.StateProcessed && p.PurchaseID() == "" {
		p.SetPurchaseID(uuid.NewString())
	}
	h.logger.Info("3-D Secure purchase finished",
		zap.String("session_id", p.ID().String()),
		zap.String("state", string(p.State())),
		zap.String("decline_reason", p.DeclineReason()))
	return nil
}
