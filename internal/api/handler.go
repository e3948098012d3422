// Package api exposes the purchase use cases over HTTP with gin.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourorg/purchase-gateway/internal/monitor"
	"github.com/yourorg/purchase-gateway/internal/orchestrator"
	"github.com/yourorg/purchase-gateway/internal/purchase"
	"github.com/yourorg/purchase-gateway/internal/reporting"
	"github.com/yourorg/purchase-gateway/internal/threeds"
)

// CorrelationHeader carries the caller's correlation id; one is generated when absent.
const CorrelationHeader = "X-Correlation-ID"

// PurchaseService is implemented by orchestrator.Orchestrator.
type PurchaseService interface {
	InitPurchase(ctx context.Context, req orchestrator.InitRequest) (orchestrator.Result, error)
	ProcessPurchase(ctx context.Context, req orchestrator.ProcessRequest) (orchestrator.Result, error)
	ValidateCaptcha(ctx context.Context, req orchestrator.CaptchaRequest) (orchestrator.Result, error)
	ExpireSession(ctx context.Context, sessionID string) (orchestrator.Result, error)
	GetSession(ctx context.Context, sessionID string) (orchestrator.Result, error)
}

// ThreeDSecure is implemented by threeds.Handler.
type ThreeDSecure interface {
	Lookup(ctx context.Context, req threeds.LookupRequest) (orchestrator.Result, error)
	Authenticate(ctx context.Context, req threeds.AuthenticateRequest) (orchestrator.Result, error)
	Complete(ctx context.Context, req threeds.CompleteRequest) (orchestrator.Result, error)
}

// Handler maps HTTP requests onto the purchase use cases.
type Handler struct {
	purchases PurchaseService
	threeDS   ThreeDSecure
	contracts *monitor.Contracts
	ledger    *reporting.Ledger
	reporter  *reporting.RetrospectiveReporter
	logger    *zap.Logger
}

// NewHandler panics on nil use cases. contracts and ledger are optional.
func NewHandler(purchases PurchaseService, threeDS ThreeDSecure, contracts *monitor.Contracts, ledger *reporting.Ledger, logger *zap.Logger) *Handler {
	if purchases == nil {
		panic("PurchaseService cannot be nil")
	}
	if threeDS == nil {
		panic("ThreeDSecure cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		purchases: purchases,
		threeDS:   threeDS,
		contracts: contracts,
		ledger:    ledger,
		reporter:  reporting.NewRetrospectiveReporter(),
		logger:    logger,
	}
}

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error      string               `json:"error"`
	Kind       string               `json:"kind"`
	Details    []string             `json:"details,omitempty"`
	NextAction *purchase.NextAction `json:"nextAction,omitempty"`
}

func correlationID(c *gin.Context) string {
	id := c.GetHeader(CorrelationHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Header(CorrelationHeader, id)
	return id
}

// bind validates the body against contract, when contracts are loaded, and
// decodes it into out.
func (h *Handler) bind(c *gin.Context, contract string, out any) bool {
	body, err := c.GetRawData()
	if err != nil {
		h.abort(c, http.StatusBadRequest, ErrorBody{Error: "could not read request body", Kind: purchase.KindValidation.String()})
		return false
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if h.contracts != nil {
		ok, details, err := h.contracts.Validate(contract, body)
		if err != nil {
			h.abort(c, http.StatusBadRequest, ErrorBody{Error: "request body is not valid JSON", Kind: purchase.KindValidation.String()})
			return false
		}
		if !ok {
			h.logger.Info("contract violation", zap.String("contract", contract), zap.String("errors", monitor.FormatErrors(details)))
			h.abort(c, http.StatusBadRequest, ErrorBody{Error: "request does not match contract " + contract, Kind: purchase.KindValidation.String(), Details: details})
			return false
		}
	}
	if err := json.Unmarshal(body, out); err != nil {
		h.abort(c, http.StatusBadRequest, ErrorBody{Error: "invalid request format: " + err.Error(), Kind: purchase.KindValidation.String()})
		return false
	}
	return true
}

func (h *Handler) abort(c *gin.Context, status int, body ErrorBody) {
	c.AbortWithStatusJSON(status, body)
}

// respond writes res, or maps err through its Kind. Internal errors are
// logged and answered without detail.
func (h *Handler) respond(c *gin.Context, res orchestrator.Result, err error) {
	if err == nil {
		c.JSON(http.StatusOK, res)
		return
	}
	kind := purchase.KindOf(err)
	body := ErrorBody{Kind: kind.String(), NextAction: purchase.NextActionOf(err)}
	var pe *purchase.Error
	switch {
	case kind == purchase.KindInternal || kind == purchase.KindConfig || !errors.As(err, &pe):
		h.logger.Error("purchase request failed",
			zap.String("path", c.FullPath()),
			zap.String("session_id", c.Param("sessionId")),
			zap.Error(err))
		body.Error = "internal error"
	case kind == purchase.KindTransient:
		h.logger.Warn("purchase request unavailable", zap.String("path", c.FullPath()), zap.Error(err))
		body.Error = "service temporarily unavailable"
	default:
		body.Error = pe.Error()
	}
	h.abort(c, kind.HTTPStatus(), body)
}

func (h *Handler) InitPurchase(c *gin.Context) {
	var req orchestrator.InitRequest
	if !h.bind(c, monitor.ContractInitPurchase, &req) {
		return
	}
	req.CorrelationID = correlationID(c)
	res, err := h.purchases.InitPurchase(c.Request.Context(), req)
	h.respond(c, res, err)
}

func (h *Handler) ProcessPurchase(c *gin.Context) {
	var req orchestrator.ProcessRequest
	if !h.bind(c, monitor.ContractProcessPurchase, &req) {
		return
	}
	req.CorrelationID = correlationID(c)
	req.SessionID = c.Param("sessionId")
	res, err := h.purchases.ProcessPurchase(c.Request.Context(), req)
	h.respond(c, res, err)
}

func (h *Handler) ValidateCaptcha(c *gin.Context) {
	var req orchestrator.CaptchaRequest
	if !h.bind(c, monitor.ContractCaptcha, &req) {
		return
	}
	req.CorrelationID = correlationID(c)
	req.SessionID = c.Param("sessionId")
	res, err := h.purchases.ValidateCaptcha(c.Request.Context(), req)
	h.respond(c, res, err)
}

func (h *Handler) ThreeDLookup(c *gin.Context) {
	var req threeds.LookupRequest
	if !h.bind(c, monitor.ContractThreeDLookup, &req) {
		return
	}
	req.CorrelationID = correlationID(c)
	req.SessionID = c.Param("sessionId")
	res, err := h.threeDS.Lookup(c.Request.Context(), req)
	h.respond(c, res, err)
}

func (h *Handler) ThreeDAuthenticate(c *gin.Context) {
	var req threeds.AuthenticateRequest
	if !h.bind(c, monitor.ContractThreeDAuthenticate, &req) {
		return
	}
	req.CorrelationID = correlationID(c)
	req.SessionID = c.Param("sessionId")
	res, err := h.threeDS.Authenticate(c.Request.Context(), req)
	h.respond(c, res, err)
}

func (h *Handler) ThreeDComplete(c *gin.Context) {
	res, err := h.threeDS.Complete(c.Request.Context(), threeds.CompleteRequest{
		CorrelationID: correlationID(c),
		SessionID:     c.Param("sessionId"),
	})
	h.respond(c, res, err)
}

func (h *Handler) ExpireSession(c *gin.Context) {
	res, err := h.purchases.ExpireSession(c.Request.Context(), c.Param("sessionId"))
	h.respond(c, res, err)
}

func (h *Handler) GetSession(c *gin.Context) {
	res, err := h.purchases.GetSession(c.Request.Context(), c.Param("sessionId"))
	h.respond(c, res, err)
}

// Retrospective summarizes the biller attempt ledger.
func (h *Handler) Retrospective(c *gin.Context) {
	var entries []reporting.LogEntry
	if h.ledger != nil {
		entries = h.ledger.Entries()
	}
	report, err := h.reporter.GenerateRetrospective(entries)
	if err != nil {
		h.respond(c, orchestrator.Result{}, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
