package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourorg/purchase-gateway/internal/api"
	"github.com/yourorg/purchase-gateway/internal/config"
	"github.com/yourorg/purchase-gateway/internal/idempotency"
	"github.com/yourorg/purchase-gateway/internal/orchestrator"
	"github.com/yourorg/purchase-gateway/internal/purchase"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Port: "0", Mode: gin.TestMode},
		Kafka:   config.KafkaConfig{CommandTopic: "purchase-commands", GroupID: "purchase-gateway"},
		Breaker: config.BreakerConfig{FailureThreshold: 3, ResetTimeout: 30 * time.Second, HalfOpenSuccesses: 1, CallTimeout: 5 * time.Second},
		Session: config.SessionConfig{LockTTL: 30 * time.Second, AuthTokenTTL: 30 * time.Minute, ReaperInterval: time.Minute, ReaperBatch: 100},
		Cascade: config.CascadeConfig{DefaultBiller: "rocketgate", Billers: []string{"rocketgate", "netbilling"}},
		Upstream: config.UpstreamConfig{
			BlacklistTTL:  time.Hour,
			SiteAdminPoll: time.Minute,
		},
		LogLevel:        "info",
		PaymentBudgetMs: 25000,
		BillerTimeoutMs: 10000,
	}
}

// setupTestApp builds the gateway on in-memory stores unless cfg says otherwise.
func setupTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	gin.SetMode(gin.TestMode)
	a, err := buildApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err, "Failed to build gateway")
	t.Cleanup(a.Close)
	return a
}

func post(t *testing.T, router http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	jsonValue, err := json.Marshal(payload)
	require.NoError(t, err, "Failed to marshal payload")
	req, err := http.NewRequest(http.MethodPost, path, bytes.NewBuffer(jsonValue))
	require.NoError(t, err, "Failed to create request")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func initPayload() map[string]interface{} {
	return map[string]interface{}{
		"siteId":      "site-1",
		"bundleId":    "bundle-b",
		"amount":      1999,
		"currency":    "USD",
		"countryCode": "US",
		"paymentType": "cc",
	}
}

// purchaseFlow runs init and process and returns the process result.
func purchaseFlow(t *testing.T, router http.Handler) orchestrator.Result {
	t.Helper()
	w := post(t, router, "/purchase/init", initPayload())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var session orchestrator.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session), "Failed to unmarshal init response")

	w = post(t, router, "/purchase/"+session.SessionID+"/process", map[string]interface{}{
		"payment": map[string]interface{}{"number": "4111111111111111", "expMonth": 12, "expYear": 2031, "cvv": "123"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res orchestrator.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res), "Failed to unmarshal process response")
	return res
}

func TestPurchase_ValidRequest(t *testing.T) {
	a := setupTestApp(t, testConfig())

	res := purchaseFlow(t, a.router)
	assert.Equal(t, purchase.StateProcessed, res.State, "Purchase should be processed")
	assert.NotEmpty(t, res.PurchaseID, "PurchaseID should not be empty")
	assert.Equal(t, "rocketgate", res.CurrentBiller)
	assert.Len(t, a.ledger.Entries(), 1, "one biller attempt recorded")
	assert.Equal(t, []string{"netbilling", "rocketgate"}, a.processor.Names())
	assert.Len(t, a.workers, 2, "site config refresher and reaper without kafka")
}

func TestPurchase_InvalidRequest_BindingError(t *testing.T) {
	a := setupTestApp(t, testConfig())

	req, err := http.NewRequest(http.MethodPost, "/purchase/init", bytes.NewBufferString("this is not json"))
	require.NoError(t, err, "Failed to create request")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code, "Status code should be Bad Request")
	var errorResponse api.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errorResponse), "Failed to unmarshal error response")
	assert.Contains(t, errorResponse.Error, "not valid JSON")
}

func TestPurchase_InvalidRequest_MissingCurrency(t *testing.T) {
	a := setupTestApp(t, testConfig())
	payload := initPayload()
	delete(payload, "currency")

	w := post(t, a.router, "/purchase/init", payload)
	assert.Equal(t, http.StatusBadRequest, w.Code, "Status code should be Bad Request")
	var errorResponse api.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errorResponse))
	assert.Equal(t, purchase.KindValidation.String(), errorResponse.Kind)
	assert.NotEmpty(t, errorResponse.Details)
}

func TestPurchase_RedisAndSQLite(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Redis.URL = "redis://" + mr.Addr()
	cfg.Database.URL = fmt.Sprintf("sqlite:file:%s?mode=memory&cache=shared", t.Name())
	a := setupTestApp(t, cfg)

	res := purchaseFlow(t, a.router)
	assert.Equal(t, purchase.StateProcessed, res.State)

	status, err := mr.Get(idempotency.PurchaseStatusKey(res.SessionID))
	require.NoError(t, err, "status key written to redis")
	assert.Equal(t, string(purchase.StateProcessed), status)
	assert.False(t, mr.Exists(idempotency.SessionLockKey(res.SessionID)), "lock released")

	got, err := a.orch.GetSession(context.Background(), res.SessionID)
	require.NoError(t, err, "session persisted through gorm")
	assert.Equal(t, res.PurchaseID, got.PurchaseID)
}

func TestBuildApp_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Redis.URL = "redis://" + mr.Addr()
	mr.Close()

	_, err := buildApp(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}
