// Package handler serves care-team administration: linking doctors to the patients they treat.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"careportal/internal/assignment/domain"
	identitydomain "careportal/internal/identity/domain"
	"careportal/internal/ids"
	"careportal/internal/platform/httpx"
	"careportal/internal/platform/rbac"
)

// Assignments persists doctor-patient links. The assignment Postgres repository implements it.
type Assignments interface {
	ListPatients(ctx context.Context, doctorID string) ([]*domain.Assignment, error)
	Create(ctx context.Context, a *domain.Assignment) error
	Delete(ctx context.Context, doctorID, patientID string) error
}

// Identities resolves the two ends of an assignment.
type Identities interface {
	GetByID(ctx context.Context, id string) (*identitydomain.Identity, error)
}

type Handler struct {
	assignments Assignments
	identities  Identities
	now         func() time.Time
}

func NewHandler(assignments Assignments, identities Identities) *Handler {
	return &Handler{assignments: assignments, identities: identities, now: time.Now}
}

// Register mounts the routes on a group that already requires a bearer token.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.POST("/admin/assignments", h.Assign)
	g.DELETE("/admin/assignments", h.Unassign)
	g.GET("/doctors/:id/patients", h.ListPatients)
}

type assignmentRequest struct {
	DoctorID  string `json:"doctor_id" binding:"required"`
	PatientID string `json:"patient_id" binding:"required"`
}

type assignmentView struct {
	ID        string `json:"id"`
	DoctorID  string `json:"doctor_id"`
	PatientID string `json:"patient_id"`
	CreatedAt string `json:"created_at"`
}

// Assign links an active doctor to a patient. Admin only. Assigning twice is a no-op.
func (h *Handler) Assign(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	ctx := httpx.Ctx(c)
	if !h.checkRole(c, req.DoctorID, identitydomain.RoleDoctor) || !h.checkRole(c, req.PatientID, identitydomain.RolePatient) {
		return
	}
	now := h.now().UTC()
	a := &domain.Assignment{ID: ids.NewAt(now), DoctorID: req.DoctorID, PatientID: req.PatientID, CreatedAt: now}
	if err := h.assignments.Create(ctx, a); err != nil {
		httpx.Internal(c, "admin", err)
		return
	}
	c.JSON(http.StatusCreated, view(a))
}

// Unassign removes the link. Admin only.
func (h *Handler) Unassign(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	if err := h.assignments.Delete(httpx.Ctx(c), req.DoctorID, req.PatientID); err != nil {
		httpx.Internal(c, "admin", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListPatients returns a doctor's assignments. Visible to admins and to that doctor.
func (h *Handler) ListPatients(c *gin.Context) {
	ctx := httpx.Ctx(c)
	p, err := rbac.FromContext(ctx)
	if httpx.RBAC(c, err) {
		return
	}
	doctorID := c.Param("id")
	if p.Role != identitydomain.RoleAdmin && !(p.Role == identitydomain.RoleDoctor && p.IdentityID == doctorID) {
		httpx.RBAC(c, rbac.ErrForbidden)
		return
	}
	list, err := h.assignments.ListPatients(ctx, doctorID)
	if err != nil {
		httpx.Internal(c, "admin", err)
		return
	}
	out := make([]assignmentView, 0, len(list))
	for _, a := range list {
		out = append(out, view(a))
	}
	c.JSON(http.StatusOK, gin.H{"assignments": out})
}

func (h *Handler) bind(c *gin.Context) (assignmentRequest, bool) {
	if _, err := rbac.RequireRole(httpx.Ctx(c), identitydomain.RoleAdmin); httpx.RBAC(c, err) {
		return assignmentRequest{}, false
	}
	var req assignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Fail(c, http.StatusBadRequest, "doctor_id and patient_id are required")
		return assignmentRequest{}, false
	}
	return req, true
}

// checkRole writes the error response and returns false unless id is an active identity with role.
func (h *Handler) checkRole(c *gin.Context, id string, role identitydomain.Role) bool {
	ident, err := h.identities.GetByID(httpx.Ctx(c), id)
	if err != nil {
		httpx.Internal(c, "admin", err)
		return false
	}
	if ident == nil || ident.Status != identitydomain.StatusActive {
		httpx.Fail(c, http.StatusNotFound, string(role)+" not found")
		return false
	}
	if ident.Role != role {
		httpx.Fail(c, http.StatusBadRequest, id+" is not a "+string(role))
		return false
	}
	return true
}

func view(a *domain.Assignment) assignmentView {
	return assignmentView{
		ID:        a.ID,
		DoctorID:  a.DoctorID,
		PatientID: a.PatientID,
		CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
	}
}
