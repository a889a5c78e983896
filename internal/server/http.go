package server

import (
	"github.com/gin-gonic/gin"

	adminhandler "careportal/internal/admin/handler"
	audithandler "careportal/internal/audit/handler"
	healthhandler "careportal/internal/health/handler"
	identityhandler "careportal/internal/identity/handler"
	"careportal/internal/metrics"
	"careportal/internal/server/interceptors"
	sessionhandler "careportal/internal/session/handler"
	vaulthandler "careportal/internal/vault/handler"
)

// HTTPDeps holds the collaborators of the HTTP API. Optional fields may be nil; their routes are
// then not mounted.
type HTTPDeps struct {
	Tokens  interceptors.TokenValidator
	Auth    identityhandler.AuthService
	Cookie  identityhandler.CookieConfig
	Session sessionhandler.Sessions
	Vault   vaulthandler.Vault
	Audit   audithandler.Lister
	Health  *healthhandler.Server
	Metrics *metrics.Metrics

	// Assignments and Identities together mount the care-team admin routes.
	Assignments adminhandler.Assignments
	Identities  adminhandler.Identities

	// DevOutbox, when set, mounts GET /dev/outbox. Never set in production.
	DevOutbox identityhandler.OutboxReader

	AuthRatePerSecond int
	AuthRateBurst     int
}

// NewHTTPHandler builds the gin engine with every API route.
//
// Route → handler mapping:
//   - /auth/*                 → internal/identity/handler (public, per-IP rate limited)
//   - /identities/:id/*       → internal/identity/handler
//   - /sessions               → internal/session/handler
//   - /files                  → internal/vault/handler
//   - /audit                  → internal/audit/handler (admin)
//   - /admin/assignments      → internal/admin/handler (admin)
//   - /doctors/:id/patients   → internal/admin/handler
//   - /healthz                → internal/health/handler
//   - /metrics                → internal/metrics
func NewHTTPHandler(d HTTPDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), Metrics(d.Metrics), SecurityHeaders(), ClientContext())

	if d.Health != nil {
		r.GET("/healthz", d.Health.Healthz)
	}
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	if d.DevOutbox != nil {
		r.GET("/dev/outbox", identityhandler.DevOutbox(d.DevOutbox))
	}

	protected := r.Group("", BearerAuth(d.Tokens))
	if d.Auth != nil {
		ih := identityhandler.NewHandler(d.Auth, d.Cookie)
		ih.RegisterPublic(r.Group("/auth", RateLimit(d.AuthRatePerSecond, d.AuthRateBurst)))
		ih.RegisterProtected(protected)
	}
	if d.Session != nil {
		sessionhandler.NewHandler(d.Session).Register(protected)
	}
	if d.Vault != nil {
		vaulthandler.NewHandler(d.Vault).Register(protected)
	}
	if d.Audit != nil {
		audithandler.NewHandler(d.Audit).Register(protected)
	}
	if d.Assignments != nil && d.Identities != nil {
		adminhandler.NewHandler(d.Assignments, d.Identities).Register(protected)
	}
	return r
}
