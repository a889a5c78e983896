package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"careportal/internal/audit"
	auditdomain "careportal/internal/audit/domain"
	"careportal/internal/encryption"
	"careportal/internal/identity/domain"
	"careportal/internal/identity/repository"
	"careportal/internal/metrics"
	"careportal/internal/notify"
	"careportal/internal/platform/rbac"
	"careportal/internal/resetlimit"
	"careportal/internal/security"
	sessiondomain "careportal/internal/session/domain"
)

// Sentinel errors for the auth service; the HTTP handlers map them to status codes.
var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	// ErrUnauthorized covers every unusable refresh secret: unknown, revoked or expired.
	ErrUnauthorized      = errors.New("unauthorized")
	ErrAccountInactive   = errors.New("account is inactive")
	ErrAccountBanned     = errors.New("account is banned")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("identity not found")
	ErrInvalidResetToken = errors.New("invalid or expired reset token")
)

// AuthResult holds the outcome of Login or Refresh.
type AuthResult struct {
	AccessToken     string
	AccessExpiresAt time.Time
	// RefreshToken is the opaque session secret. Refresh returns the same secret it was given.
	RefreshToken     string
	RefreshExpiresAt time.Time
	SessionID        string
	IdentityID       string
	Role             domain.Role
}

// RegisterInput carries a new account. PII is given in plaintext and sealed before storage.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
	Role     domain.Role
	PII      domain.PII
}

// IdentityRepo is the minimal identity repository needed by the auth service.
type IdentityRepo interface {
	GetByID(ctx context.Context, id string) (*domain.Identity, error)
	GetByEmail(ctx context.Context, email string) (*domain.Identity, error)
	GetByResetTokenHash(ctx context.Context, hash string) (*domain.Identity, error)
	SetStatus(ctx context.Context, id string, status domain.Status) error
}

// Codec seals identities on save and reveals their PII on demand.
type Codec interface {
	Save(ctx context.Context, i *domain.Identity) error
	Reveal(ctx context.Context, actorID string, i *domain.Identity) (*domain.Identity, error)
}

// Sessions is the session lifecycle the auth flows depend on.
type Sessions interface {
	CreateSession(ctx context.Context, identityID, userAgent, ip string) (*sessiondomain.Session, string, error)
	VerifyRefreshToken(ctx context.Context, secret string) (*sessiondomain.Session, error)
	RevokeSession(ctx context.Context, id string) error
	RevokeAllSessionsForIdentity(ctx context.Context, identityID string) (int64, error)
}

// TokenIssuer issues access tokens.
type TokenIssuer interface {
	IssueAccess(identityID, role string) (string, time.Time, error)
}

// ResetLimiter bounds password-reset requests per account.
type ResetLimiter interface {
	CheckAndRecordAttempt(ctx context.Context, identityID string) error
}

// Deps groups the collaborators of AuthService. Audit, Assignments and Metrics may be nil.
type Deps struct {
	Identities  IdentityRepo
	Codec       Codec
	Sessions    Sessions
	Tokens      TokenIssuer
	Hasher      *security.Hasher
	Limiter     ResetLimiter
	Mailer      notify.Mailer
	Audit       audit.Recorder
	Assignments rbac.AssignmentChecker
	Metrics     *metrics.Metrics
	ResetTTL    time.Duration
}

// AuthService implements registration, password login, refresh, logout, password reset and PII reveal.
type AuthService struct {
	Deps
	now     func() time.Time
	pending sync.WaitGroup
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(d Deps) *AuthService {
	if d.ResetTTL <= 0 {
		d.ResetTTL = time.Hour
	}
	return &AuthService{Deps: d, now: time.Now}
}

// SetClock replaces the time source. Intended for tests.
func (s *AuthService) SetClock(now func() time.Time) {
	s.now = now
}

// Register validates and stores a new active identity. PII goes through the codec so it is encrypted
// before the write.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.Identity, error) {
	email := normalizeEmail(in.Email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	if in.Role == "" {
		in.Role = domain.RolePatient
	}
	existing, err := s.Identities.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailAlreadyRegistered
	}
	hashed, err := s.Hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	ident := &domain.Identity{
		ID:           uuid.New().String(),
		Role:         in.Role,
		Status:       domain.StatusActive,
		Name:         strings.TrimSpace(in.Name),
		Email:        email,
		NationalID:   strings.TrimSpace(in.PII.NationalID),
		Phone:        strings.TrimSpace(in.PII.Phone),
		Address:      strings.TrimSpace(in.PII.Address),
		PasswordHash: hashed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := ident.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.Codec.Save(ctx, ident); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, ErrEmailAlreadyRegistered
		}
		return nil, err
	}
	return ident, nil
}

// Login authenticates with email and password, creates a session, and returns tokens.
// Unknown email and wrong password fail identically; account status is reported only after the
// password has been verified.
func (s *AuthService) Login(ctx context.Context, email, password, userAgent, ip string) (*AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	ident, err := s.Identities.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if ident == nil {
		s.Hasher.Burn(password)
		return nil, ErrInvalidCredentials
	}
	if !s.Hasher.Verify(ident.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if err := statusErr(ident.Status); err != nil {
		return nil, err
	}
	sess, secret, err := s.Sessions.CreateSession(ctx, ident.ID, userAgent, ip)
	if err != nil {
		return nil, err
	}
	return s.issue(ident, sess, secret)
}

// Refresh exchanges a refresh secret for a new access token without re-checking the password.
// The session must exist and be unexpired, and its owner must be active; an inactive or banned
// owner's session is revoked. The secret is not rotated.
func (s *AuthService) Refresh(ctx context.Context, secret string) (*AuthResult, error) {
	sess, err := s.Sessions.VerifyRefreshToken(ctx, secret)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		s.Metrics.Refresh("invalid")
		return nil, ErrUnauthorized
	}
	ident, err := s.Identities.GetByID(ctx, sess.IdentityID)
	if err != nil {
		return nil, err
	}
	if ident == nil {
		s.revoke(ctx, sess.ID)
		s.Metrics.Refresh("invalid")
		return nil, ErrUnauthorized
	}
	if err := statusErr(ident.Status); err != nil {
		s.revoke(ctx, sess.ID)
		s.Metrics.Refresh("revoked")
		return nil, err
	}
	res, err := s.issue(ident, sess, secret)
	if err != nil {
		return nil, err
	}
	s.Metrics.Refresh("ok")
	return res, nil
}

// Logout deletes the session behind secret. An unknown or expired secret is a no-op.
func (s *AuthService) Logout(ctx context.Context, secret string) error {
	sess, err := s.Sessions.VerifyRefreshToken(ctx, secret)
	if err != nil || sess == nil {
		return err
	}
	return s.Sessions.RevokeSession(ctx, sess.ID)
}

// resetWorkTimeout bounds the detached reset issuance, mail delivery included.
const resetWorkTimeout = 30 * time.Second

// ForgotPassword answers the same way, in about the same time, whether or not email resolves to an
// active account. For a resolved account the limiter check, token issuance and mail run detached from
// the request; their failures, a rate limit included, are only logged and counted.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return nil
	}
	ident, err := s.Identities.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if ident == nil || ident.Status != domain.StatusActive {
		return nil
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resetWorkTimeout)
		defer cancel()
		if err := s.issueReset(workCtx, ident); err != nil {
			log.Printf("auth: password reset for identity %s: %v", ident.ID, err)
		}
	}()
	return nil
}

// Wait blocks until detached password-reset work has finished.
func (s *AuthService) Wait() {
	s.pending.Wait()
}

func (s *AuthService) issueReset(ctx context.Context, ident *domain.Identity) error {
	if err := s.Limiter.CheckAndRecordAttempt(ctx, ident.ID); err != nil {
		if errors.Is(err, resetlimit.ErrRateLimited) {
			s.Metrics.ResetRateLimited()
		}
		return err
	}
	token, err := security.GenerateSecret()
	if err != nil {
		return err
	}
	now := s.now().UTC()
	expires := now.Add(s.ResetTTL)
	ident.ResetTokenHash = security.HashSecret(token)
	ident.ResetTokenExpiresAt = &expires
	ident.UpdatedAt = now
	if err := s.Codec.Save(ctx, ident); err != nil {
		return err
	}
	if err := s.Mailer.SendPasswordReset(ctx, ident.Email, token, expires); err != nil {
		return fmt.Errorf("reset mail: %w", err)
	}
	return nil
}

// ResetPassword sets a new password using a reset token. The token is single use and every session
// of the identity is revoked.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return ErrInvalidResetToken
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	ident, err := s.Identities.GetByResetTokenHash(ctx, security.HashSecret(token))
	if err != nil {
		return err
	}
	if ident == nil || !security.SecretHashEqual(token, ident.ResetTokenHash) {
		return ErrInvalidResetToken
	}
	now := s.now().UTC()
	if ident.ResetTokenExpiresAt == nil || !now.Before(*ident.ResetTokenExpiresAt) {
		return ErrInvalidResetToken
	}
	hashed, err := s.Hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	ident.PasswordHash = hashed
	ident.ResetTokenHash = ""
	ident.ResetTokenExpiresAt = nil
	ident.UpdatedAt = now
	if err := s.Codec.Save(ctx, ident); err != nil {
		return err
	}
	if _, err := s.Sessions.RevokeAllSessionsForIdentity(ctx, ident.ID); err != nil {
		return err
	}
	return nil
}

// RevealPII returns the identity with its PII decrypted for the caller in ctx. Allowed for the
// identity itself, admins, and doctors assigned to the patient; a refusal is audited.
func (s *AuthService) RevealPII(ctx context.Context, identityID string) (*domain.Identity, error) {
	p, err := rbac.FromContext(ctx)
	if err != nil {
		return nil, ErrUnauthorized
	}
	ident, err := s.Identities.GetByID(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if ident == nil {
		return nil, ErrNotFound
	}
	ok, err := rbac.CanAccessPatient(ctx, p, ident.ID, s.Assignments)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.Metrics.AccessDenied("identity")
		s.audit(ctx, audit.Event{
			Action:       auditdomain.ActionAccessDenied,
			ActorID:      p.IdentityID,
			TargetID:     ident.ID,
			ResourceType: "identity",
			ResourceID:   ident.ID,
			Detail:       "pii reveal: no care relation",
		})
		return nil, ErrForbidden
	}
	out, err := s.Codec.Reveal(ctx, p.IdentityID, ident)
	if err != nil {
		if errors.Is(err, encryption.ErrCrypto) {
			s.Metrics.CryptoFailure()
		}
		return nil, err
	}
	return out, nil
}

// UpdatePII replaces the identity's PII. Self or admin only. The new values are sealed before the write.
func (s *AuthService) UpdatePII(ctx context.Context, identityID string, pii domain.PII) error {
	p, err := rbac.FromContext(ctx)
	if err != nil {
		return ErrUnauthorized
	}
	if p.IdentityID != identityID && p.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	ident, err := s.Identities.GetByID(ctx, identityID)
	if err != nil {
		return err
	}
	if ident == nil {
		return ErrNotFound
	}
	ident.NationalID = strings.TrimSpace(pii.NationalID)
	ident.Phone = strings.TrimSpace(pii.Phone)
	ident.Address = strings.TrimSpace(pii.Address)
	ident.UpdatedAt = s.now().UTC()
	return s.Codec.Save(ctx, ident)
}

// SetStatus changes an identity's status (admin only). Any status other than active revokes every
// session of the identity. Identities are never deleted; deactivation is SetStatus(inactive).
func (s *AuthService) SetStatus(ctx context.Context, identityID string, status domain.Status) error {
	if _, err := rbac.RequireRole(ctx, domain.RoleAdmin); err != nil {
		if errors.Is(err, rbac.ErrUnauthenticated) {
			return ErrUnauthorized
		}
		return ErrForbidden
	}
	switch status {
	case domain.StatusActive, domain.StatusInactive, domain.StatusBanned:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	if err := s.Identities.SetStatus(ctx, identityID, status); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if status != domain.StatusActive {
		if _, err := s.Sessions.RevokeAllSessionsForIdentity(ctx, identityID); err != nil {
			return err
		}
	}
	return nil
}

func (s *AuthService) issue(ident *domain.Identity, sess *sessiondomain.Session, secret string) (*AuthResult, error) {
	access, exp, err := s.Tokens.IssueAccess(ident.ID, string(ident.Role))
	if err != nil {
		return nil, err
	}
	s.Metrics.TokenIssued()
	return &AuthResult{
		AccessToken:      access,
		AccessExpiresAt:  exp,
		RefreshToken:     secret,
		RefreshExpiresAt: sess.ExpiresAt,
		SessionID:        sess.ID,
		IdentityID:       ident.ID,
		Role:             ident.Role,
	}, nil
}

func (s *AuthService) revoke(ctx context.Context, sessionID string) {
	if err := s.Sessions.RevokeSession(ctx, sessionID); err != nil {
		log.Printf("auth: revoke session %s: %v", sessionID, err)
	}
}

func (s *AuthService) audit(ctx context.Context, ev audit.Event) {
	if s.Audit != nil {
		s.Audit.Record(ctx, ev)
	}
}

func statusErr(st domain.Status) error {
	switch st {
	case domain.StatusActive:
		return nil
	case domain.StatusBanned:
		return ErrAccountBanned
	default:
		return ErrAccountInactive
	}
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

var simpleEmail = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if !simpleEmail.MatchString(email) {
		return fmt.Errorf("%w: invalid email format", ErrInvalidInput)
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 12 {
		return fmt.Errorf("%w: password must be at least 12 characters", ErrInvalidInput)
	}
	var hasUpper, hasLower, hasNumber, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasNumber = true
		default:
			hasSymbol = true
		}
	}
	switch {
	case !hasUpper:
		return fmt.Errorf("%w: password must contain at least one uppercase letter", ErrInvalidInput)
	case !hasLower:
		return fmt.Errorf("%w: password must contain at least one lowercase letter", ErrInvalidInput)
	case !hasNumber:
		return fmt.Errorf("%w: password must contain at least one number", ErrInvalidInput)
	case !hasSymbol:
		return fmt.Errorf("%w: password must contain at least one symbol", ErrInvalidInput)
	}
	return nil
}
