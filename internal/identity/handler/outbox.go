package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"careportal/internal/platform/httpx"
)

// OutboxReader returns the latest unexpired reset token mailed to email.
type OutboxReader interface {
	Get(ctx context.Context, email string) (string, bool)
}

// DevOutbox serves GET /dev/outbox?email=. Mounted only when the dev outbox is enabled outside production.
func DevOutbox(outbox OutboxReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		email := c.Query("email")
		if email == "" {
			httpx.Fail(c, http.StatusBadRequest, "email is required")
			return
		}
		token, ok := outbox.Get(httpx.Ctx(c), email)
		if !ok {
			httpx.Fail(c, http.StatusNotFound, "no pending reset for this email")
			return
		}
		c.JSON(http.StatusOK, gin.H{"email": email, "token": token})
	}
}
