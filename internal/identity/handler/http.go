// Package handler exposes the auth flows and identity PII over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"careportal/internal/identity/domain"
	"careportal/internal/identity/service"
	"careportal/internal/platform/httpx"
	"careportal/internal/resetlimit"
)

// RefreshCookie is the name of the cookie carrying the refresh secret.
const RefreshCookie = "refresh_token"

const refreshCookiePath = "/auth"

// genericResetMessage is returned by forgot-password for every outcome that must not reveal
// whether the account exists.
const genericResetMessage = "if an account exists for this email, a reset link has been sent"

// AuthService is the subset of the identity service used by the handlers.
type AuthService interface {
	Register(ctx context.Context, in service.RegisterInput) (*domain.Identity, error)
	Login(ctx context.Context, email, password, userAgent, ip string) (*service.AuthResult, error)
	Refresh(ctx context.Context, secret string) (*service.AuthResult, error)
	Logout(ctx context.Context, secret string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	RevealPII(ctx context.Context, identityID string) (*domain.Identity, error)
	UpdatePII(ctx context.Context, identityID string, pii domain.PII) error
	SetStatus(ctx context.Context, identityID string, status domain.Status) error
}

// CookieConfig controls the refresh cookie. Secure must be true outside local development.
type CookieConfig struct {
	Secure bool
	Domain string
}

// Handler serves /auth and /identities routes.
type Handler struct {
	svc    AuthService
	cookie CookieConfig
}

// NewHandler returns a Handler backed by svc.
func NewHandler(svc AuthService, cookie CookieConfig) *Handler {
	return &Handler{svc: svc, cookie: cookie}
}

// RegisterPublic mounts the unauthenticated credential endpoints on g.
func (h *Handler) RegisterPublic(g *gin.RouterGroup) {
	g.POST("/register", h.Register)
	g.POST("/login", h.Login)
	g.POST("/refresh", h.Refresh)
	g.POST("/logout", h.Logout)
	g.POST("/forgot-password", h.ForgotPassword)
	g.POST("/reset-password", h.ResetPassword)
}

// RegisterProtected mounts the identity routes on a group that already requires a bearer token.
func (h *Handler) RegisterProtected(g *gin.RouterGroup) {
	g.GET("/identities/:id/pii", h.RevealPII)
	g.PUT("/identities/:id/pii", h.UpdatePII)
	g.PUT("/identities/:id/status", h.SetStatus)
	g.DELETE("/identities/:id", h.Deactivate)
}

type registerRequest struct {
	Email      string `json:"email" binding:"required"`
	Password   string `json:"password" binding:"required"`
	Name       string `json:"name" binding:"required"`
	NationalID string `json:"national_id"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
}

// Register creates a patient account. Doctor and admin accounts are provisioned out of band.
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Fail(c, http.StatusBadRequest, "email, password and name are required")
		return
	}
	ident, err := h.svc.Register(httpx.Ctx(c), service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Role:     domain.RolePatient,
		PII:      domain.PII{NationalID: req.NationalID, Phone: req.Phone, Address: req.Address},
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": ident.ID, "email": ident.Email, "role": ident.Role})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login returns an access token in the body and sets the refresh secret as an HttpOnly cookie.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Fail(c, http.StatusBadRequest, "email and password are required")
		return
	}
	res, err := h.svc.Login(httpx.Ctx(c), req.Email, req.Password, c.Request.UserAgent(), c.ClientIP())
	if err != nil {
		h.fail(c, err)
		return
	}
	h.setRefreshCookie(c, res.RefreshToken, res.RefreshExpiresAt)
	c.JSON(http.StatusOK, tokenResponse(res))
}

// Refresh exchanges the refresh cookie for a new access token. The cookie value is not rotated.
func (h *Handler) Refresh(c *gin.Context) {
	secret, err := c.Cookie(RefreshCookie)
	if err != nil || secret == "" {
		httpx.Unauthorized(c)
		return
	}
	res, err := h.svc.Refresh(httpx.Ctx(c), secret)
	if err != nil {
		if errors.Is(err, service.ErrUnauthorized) || errors.Is(err, service.ErrAccountBanned) || errors.Is(err, service.ErrAccountInactive) {
			h.clearRefreshCookie(c)
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenResponse(res))
}

// Logout deletes the session behind the refresh cookie and clears it. Always 204.
func (h *Handler) Logout(c *gin.Context) {
	if secret, err := c.Cookie(RefreshCookie); err == nil && secret != "" {
		if err := h.svc.Logout(httpx.Ctx(c), secret); err != nil {
			httpx.Internal(c, "auth", err)
			return
		}
	}
	h.clearRefreshCookie(c)
	c.Status(http.StatusNoContent)
}

type forgotRequest struct {
	Email string `json:"email"`
}

// ForgotPassword answers identically whether or not the account exists, and whether or not the
// account has used up its reset attempts.
func (h *Handler) ForgotPassword(c *gin.Context) {
	var req forgotRequest
	_ = c.ShouldBindJSON(&req)
	err := h.svc.ForgotPassword(httpx.Ctx(c), req.Email)
	if err != nil && !errors.Is(err, resetlimit.ErrRateLimited) {
		httpx.Internal(c, "auth", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": genericResetMessage})
}

type resetRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// ResetPassword sets a new password from a reset token. Every session is revoked on success.
func (h *Handler) ResetPassword(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Fail(c, http.StatusBadRequest, "token and new_password are required")
		return
	}
	if err := h.svc.ResetPassword(httpx.Ctx(c), req.Token, req.NewPassword); err != nil {
		h.fail(c, err)
		return
	}
	h.clearRefreshCookie(c)
	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

// RevealPII returns decrypted PII for an authorized caller. Default identity responses never carry it.
func (h *Handler) RevealPII(c *gin.Context) {
	ident, err := h.svc.RevealPII(httpx.Ctx(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":          ident.ID,
		"national_id": ident.NationalID,
		"phone":       ident.Phone,
		"address":     ident.Address,
	})
}

type piiRequest struct {
	NationalID string `json:"national_id"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
}

func (h *Handler) UpdatePII(c *gin.Context) {
	var req piiRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Fail(c, http.StatusBadRequest, "invalid body")
		return
	}
	pii := domain.PII{NationalID: req.NationalID, Phone: req.Phone, Address: req.Address}
	if err := h.svc.UpdatePII(httpx.Ctx(c), c.Param("id"), pii); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

// SetStatus is admin only. Deactivating or banning revokes every session of the identity.
func (h *Handler) SetStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Fail(c, http.StatusBadRequest, "status is required")
		return
	}
	if err := h.svc.SetStatus(httpx.Ctx(c), c.Param("id"), domain.Status(req.Status)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Deactivate is the only delete an identity supports: the account is kept and marked inactive.
func (h *Handler) Deactivate(c *gin.Context) {
	if err := h.svc.SetStatus(httpx.Ctx(c), c.Param("id"), domain.StatusInactive); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// fail maps service errors to status codes. Bad credentials and unusable sessions share the uniform
// 401; inactive and banned accounts get an explicit reason.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		httpx.Fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrEmailAlreadyRegistered):
		httpx.Fail(c, http.StatusConflict, "email already registered")
	case errors.Is(err, service.ErrInvalidCredentials):
		httpx.Fail(c, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, service.ErrUnauthorized):
		httpx.Unauthorized(c)
	case errors.Is(err, service.ErrAccountInactive):
		httpx.Fail(c, http.StatusForbidden, "account is inactive")
	case errors.Is(err, service.ErrAccountBanned):
		httpx.Fail(c, http.StatusForbidden, "account is banned")
	case errors.Is(err, service.ErrForbidden):
		httpx.Fail(c, http.StatusForbidden, "forbidden")
	case errors.Is(err, service.ErrNotFound):
		httpx.Fail(c, http.StatusNotFound, "identity not found")
	case errors.Is(err, service.ErrInvalidResetToken):
		httpx.Fail(c, http.StatusBadRequest, "invalid or expired reset token")
	default:
		httpx.Internal(c, "identity", err)
	}
}

func (h *Handler) setRefreshCookie(c *gin.Context, secret string, expiresAt time.Time) {
	maxAge := int(time.Until(expiresAt).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(RefreshCookie, secret, maxAge, refreshCookiePath, h.cookie.Domain, h.cookie.Secure, true)
}

func (h *Handler) clearRefreshCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(RefreshCookie, "", -1, refreshCookiePath, h.cookie.Domain, h.cookie.Secure, true)
}

func tokenResponse(res *service.AuthResult) gin.H {
	return gin.H{
		"access_token": res.AccessToken,
		"token_type":   "Bearer",
		"expires_at":   res.AccessExpiresAt.UTC().Format(time.RFC3339),
		"session_id":   res.SessionID,
		"identity_id":  res.IdentityID,
		"role":         res.Role,
	}
}
