package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// NewRouter registers every purchase route on a fresh gin engine.
func NewRouter(h *Handler, serviceName string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware(serviceName), requestLogger(h.logger))

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/admin/retrospective", h.Retrospective)

	p := r.Group("/purchase")
	p.POST("/init", h.InitPurchase)
	p.GET("/:sessionId", h.GetSession)
	p.POST("/:sessionId/process", h.ProcessPurchase)
	p.POST("/:sessionId/captcha", h.ValidateCaptcha)
	p.POST("/:sessionId/expire", h.ExpireSession)
	p.POST("/:sessionId/threed/lookup", h.ThreeDLookup)
	p.POST("/:sessionId/threed/authenticate", h.ThreeDAuthenticate)
	p.POST("/:sessionId/threed/complete", h.ThreeDComplete)
	return r
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("correlation_id", c.Writer.Header().Get(CorrelationHeader)),
		)
	}
}
