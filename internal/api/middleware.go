package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Identity is supplied by the auth gateway in front of this service
const (
	HeaderUserID         = "X-User-ID"
	HeaderSessionID      = "X-Session-ID"
	HeaderUserRole       = "X-User-Role"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderStripeSig      = "Stripe-Signature"

	viewerKey = "viewer"
)

// identityMiddleware resolves the caller into a service.Viewer. A user id wins
// over a session id when both are sent.
func identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		var viewer service.Viewer

		if raw := c.GetHeader(HeaderUserID); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error": "Invalid user id",
				})
				return
			}
			viewer.Identity = models.CartIdentity{UserID: id}
		} else if session := strings.TrimSpace(c.GetHeader(HeaderSessionID)); session != "" {
			viewer.Identity = models.CartIdentity{SessionID: session}
		}

		switch strings.ToLower(c.GetHeader(HeaderUserRole)) {
		case "admin", "staff":
			viewer.Staff = viewer.Identity.IsUser()
		}

		c.Set(viewerKey, viewer)
		c.Next()
	}
}

// requireStaff rejects callers without a staff role
func requireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !viewerFrom(c).Staff {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Staff access required",
			})
			return
		}
		c.Next()
	}
}

func viewerFrom(c *gin.Context) service.Viewer {
	if v, ok := c.Get(viewerKey); ok {
		if viewer, ok := v.(service.Viewer); ok {
			return viewer
		}
	}
	return service.Viewer{}
}

// timeoutMiddleware puts a deadline on the request context
func timeoutMiddleware(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()
	}
}

// loggingMiddleware writes one structured line per request
func loggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error("HTTP request", fields...)
			return
		}
		logger.Debug("HTTP request", fields...)
	}
}
