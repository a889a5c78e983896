// Package handler serves the audit log to administrators.
package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"careportal/internal/audit/domain"
	identitydomain "careportal/internal/identity/domain"
	"careportal/internal/platform/httpx"
	"careportal/internal/platform/rbac"
)

// Lister reads audit records. *audit.Logger implements it.
type Lister interface {
	List(ctx context.Context, f domain.Filter) ([]*domain.Record, error)
}

type Handler struct {
	records Lister
}

func NewHandler(records Lister) *Handler {
	return &Handler{records: records}
}

// Register mounts GET /audit on a group that already requires a bearer token.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.GET("/audit", h.List)
}

type recordView struct {
	ID           string `json:"id"`
	Action       string `json:"action"`
	ActorID      string `json:"actor_id"`
	TargetID     string `json:"target_id,omitempty"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id,omitempty"`
	IP           string `json:"ip"`
	UserAgent    string `json:"user_agent,omitempty"`
	Outcome      string `json:"outcome"`
	Detail       string `json:"detail,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// List returns audit records, newest first. Query: actor_id, target_id, action, since (RFC 3339),
// limit, offset. Admin only.
func (h *Handler) List(c *gin.Context) {
	if _, err := rbac.RequireRole(httpx.Ctx(c), identitydomain.RoleAdmin); httpx.RBAC(c, err) {
		return
	}
	f := domain.Filter{
		ActorID:  c.Query("actor_id"),
		TargetID: c.Query("target_id"),
		Action:   domain.Action(c.Query("action")),
	}
	if s := c.Query("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			httpx.Fail(c, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		f.Since = t
	}
	var err error
	if f.Limit, err = int32Query(c, "limit"); err != nil {
		httpx.Fail(c, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	if f.Offset, err = int32Query(c, "offset"); err != nil {
		httpx.Fail(c, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	list, err := h.records.List(httpx.Ctx(c), f)
	if err != nil {
		httpx.Internal(c, "audit", err)
		return
	}
	out := make([]recordView, 0, len(list))
	for _, r := range list {
		out = append(out, recordView{
			ID:           r.ID,
			Action:       string(r.Action),
			ActorID:      r.ActorID,
			TargetID:     r.TargetID,
			ResourceType: r.ResourceType,
			ResourceID:   r.ResourceID,
			IP:           r.IP,
			UserAgent:    r.UserAgent,
			Outcome:      string(r.Outcome),
			Detail:       r.Detail,
			CreatedAt:    r.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	c.JSON(http.StatusOK, gin.H{"records": out})
}

func int32Query(c *gin.Context, key string) (int32, error) {
	s := c.Query(key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return int32(n), nil
}
