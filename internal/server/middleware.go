package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"careportal/internal/metrics"
	"careportal/internal/platform/httpx"
	"careportal/internal/server/interceptors"
)

// ClientContext stores the client IP and user agent in the request context for audit records.
func ClientContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := interceptors.WithClient(c.Request.Context(), c.ClientIP(), c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// BearerAuth validates "Authorization: Bearer <token>" and stores identity and role in the request
// context. Every failure produces the same 401 body.
func BearerAuth(tokens interceptors.TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := interceptors.ExtractBearer(c.GetHeader("Authorization"))
		if token == "" {
			httpx.Unauthorized(c)
			return
		}
		id, err := tokens.ValidateAccess(token)
		if err != nil {
			httpx.Unauthorized(c)
			return
		}
		ctx := interceptors.WithIdentity(c.Request.Context(), id.IdentityID, id.Role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// Metrics records request counts and latencies labelled by route template, not raw path.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.RequestStarted()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RequestFinished(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}

// SecurityHeaders sets conservative response headers on every API response.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		c.Next()
	}
}
