// Package handler lets an identity list and revoke its own sessions over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"careportal/internal/platform/httpx"
	"careportal/internal/platform/rbac"
	"careportal/internal/session/domain"
	"careportal/internal/session/service"
)

// Sessions is the part of the session service exposed to the caller.
type Sessions interface {
	ListActiveSessions(ctx context.Context, identityID string) ([]*domain.Session, error)
	RevokeSessionOfIdentity(ctx context.Context, identityID, id string) error
	RevokeAllSessionsForIdentity(ctx context.Context, identityID string) (int64, error)
}

type Handler struct {
	svc Sessions
}

func NewHandler(svc Sessions) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the session routes on a group that already requires a bearer token.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.GET("/sessions", h.List)
	g.DELETE("/sessions/:id", h.Revoke)
	g.DELETE("/sessions", h.RevokeAll)
}

type sessionView struct {
	ID        string `json:"id"`
	Device    string `json:"device"`
	IPAddress string `json:"ip_address"`
	CreatedAt string `json:"created_at"`
	ExpiresAt string `json:"expires_at"`
}

// List returns the caller's active sessions. Refresh secrets and their hashes are never included.
func (h *Handler) List(c *gin.Context) {
	p, err := rbac.FromContext(httpx.Ctx(c))
	if httpx.RBAC(c, err) {
		return
	}
	list, err := h.svc.ListActiveSessions(httpx.Ctx(c), p.IdentityID)
	if err != nil {
		httpx.Internal(c, "session", err)
		return
	}
	out := make([]sessionView, 0, len(list))
	for _, s := range list {
		out = append(out, sessionView{
			ID:        s.ID,
			Device:    s.DeviceLabel,
			IPAddress: s.IPAddress,
			CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
			ExpiresAt: s.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// Revoke deletes one of the caller's sessions. Another identity's session id answers 404.
func (h *Handler) Revoke(c *gin.Context) {
	p, err := rbac.FromContext(httpx.Ctx(c))
	if httpx.RBAC(c, err) {
		return
	}
	if err := h.svc.RevokeSessionOfIdentity(httpx.Ctx(c), p.IdentityID, c.Param("id")); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			httpx.Fail(c, http.StatusNotFound, "session not found")
			return
		}
		httpx.Internal(c, "session", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RevokeAll signs the caller out everywhere.
func (h *Handler) RevokeAll(c *gin.Context) {
	p, err := rbac.FromContext(httpx.Ctx(c))
	if httpx.RBAC(c, err) {
		return
	}
	n, err := h.svc.RevokeAllSessionsForIdentity(httpx.Ctx(c), p.IdentityID)
	if err != nil {
		httpx.Internal(c, "session", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": n})
}
