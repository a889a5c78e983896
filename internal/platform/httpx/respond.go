// Package httpx holds the JSON error envelope and request helpers shared by the gin handlers.
package httpx

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"careportal/internal/platform/rbac"
)

// UnauthorizedMessage is the single message for every missing, malformed, expired or revoked credential.
const UnauthorizedMessage = "missing or invalid credentials"

// Fail writes {"error": msg} with code and aborts the chain.
func Fail(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}

// Unauthorized writes the uniform 401.
func Unauthorized(c *gin.Context) {
	Fail(c, http.StatusUnauthorized, UnauthorizedMessage)
}

// Internal logs err with the route and writes a generic 500.
func Internal(c *gin.Context, area string, err error) {
	log.Printf("%s: %s %s: %v", area, c.Request.Method, c.FullPath(), err)
	Fail(c, http.StatusInternalServerError, "internal error")
}

// RBAC maps the rbac sentinels to 401/403 and reports whether it wrote a response.
func RBAC(c *gin.Context, err error) bool {
	switch {
	case errors.Is(err, rbac.ErrUnauthenticated):
		Unauthorized(c)
	case errors.Is(err, rbac.ErrForbidden):
		Fail(c, http.StatusForbidden, "forbidden")
	default:
		return false
	}
	return true
}

// Ctx returns the request context, which carries identity and client info set by the middleware.
func Ctx(c *gin.Context) context.Context {
	return c.Request.Context()
}
