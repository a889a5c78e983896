package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"careportal/internal/audit"
	auditdomain "careportal/internal/audit/domain"
	"careportal/internal/encryption"
	"careportal/internal/identity/domain"
	"careportal/internal/notify"
	"careportal/internal/pii"
	"careportal/internal/resetlimit"
	"careportal/internal/security"
	"careportal/internal/server/interceptors"
	sessionservice "careportal/internal/session/service"
)

const strongPassword = "Correct-Horse-42"

type harness struct {
	svc      *AuthService
	idents   *memIdentityRepo
	sessRepo *memSessionRepo
	sessions *sessionservice.Service
	tokens   *security.TokenProvider
	outbox   *notify.DevOutbox
	rec      *memRecorder
	clock    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	engine, err := encryption.New(encryption.Config{Key: []byte("0123456789abcdef0123456789abcdef")})
	if err != nil {
		t.Fatalf("encryption.New: %v", err)
	}
	h := &harness{
		idents:   newMemIdentityRepo(),
		sessRepo: newMemSessionRepo(),
		tokens:   security.NewTestTokenProvider(),
		outbox:   notify.NewDevOutbox(),
		rec:      &memRecorder{},
		clock:    time.Now().UTC(),
	}
	now := func() time.Time { return h.clock }
	h.sessions = sessionservice.NewService(h.sessRepo, 30*24*time.Hour)
	h.sessions.SetClock(now)
	limiter := resetlimit.New(h.idents, 3, time.Hour)
	limiter.SetClock(now)
	h.svc = NewAuthService(Deps{
		Identities:  h.idents,
		Codec:       pii.NewCodec(engine, h.idents, h.rec),
		Sessions:    h.sessions,
		Tokens:      h.tokens,
		Hasher:      security.NewHasher(4),
		Limiter:     limiter,
		Mailer:      h.outbox,
		Audit:       h.rec,
		Assignments: assignments{},
		ResetTTL:    time.Hour,
	})
	h.svc.SetClock(now)
	return h
}

func (h *harness) register(t *testing.T, email string, role domain.Role) *domain.Identity {
	t.Helper()
	ident, err := h.svc.Register(context.Background(), RegisterInput{
		Email: email, Password: strongPassword, Name: "Test", Role: role,
		PII: domain.PII{NationalID: "90210XXXX", Phone: "555-0100", Address: "1 Main St"},
	})
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return ident
}

func TestRegister_StoresEncryptedPII(t *testing.T) {
	h := newHarness(t)
	ident := h.register(t, "Pat@Example.com", domain.RolePatient)

	stored := h.idents.raw(ident.ID)
	if stored.Email != "pat@example.com" {
		t.Errorf("email = %q, want normalized", stored.Email)
	}
	for _, f := range stored.SensitiveFields() {
		if !encryption.LooksEncrypted(*f.Value) {
			t.Errorf("%s stored as %q, want ciphertext", f.Name, *f.Value)
		}
	}
	if stored.PasswordHash == strongPassword || stored.PasswordHash == "" {
		t.Error("password must be stored hashed")
	}
}

func TestRegister_Validation(t *testing.T) {
	h := newHarness(t)
	h.register(t, "taken@example.com", domain.RolePatient)
	tests := []struct {
		name string
		in   RegisterInput
		want error
	}{
		{"bad email", RegisterInput{Email: "nope", Password: strongPassword}, ErrInvalidInput},
		{"short password", RegisterInput{Email: "a@example.com", Password: "Aa1!"}, ErrInvalidInput},
		{"no symbol", RegisterInput{Email: "a@example.com", Password: "Abcdefghijk1"}, ErrInvalidInput},
		{"no upper", RegisterInput{Email: "a@example.com", Password: "abcdefghij1!"}, ErrInvalidInput},
		{"bad role", RegisterInput{Email: "a@example.com", Password: strongPassword, Role: "nurse"}, ErrInvalidInput},
		{"duplicate", RegisterInput{Email: "TAKEN@example.com", Password: strongPassword}, ErrEmailAlreadyRegistered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Register(context.Background(), tt.in)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLogin_Success(t *testing.T) {
	h := newHarness(t)
	ident := h.register(t, "pat@example.com", domain.RolePatient)

	res, err := h.svc.Login(context.Background(), "pat@example.com", strongPassword, "curl/8.4.0", "10.0.0.7")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	got, err := h.tokens.ValidateAccess(res.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if got.IdentityID != ident.ID || got.Role != "patient" {
		t.Errorf("access identity = %+v", got)
	}
	sess, ok := h.sessRepo.get(res.SessionID)
	if !ok {
		t.Fatal("session not stored")
	}
	if sess.RefreshTokenHash != security.HashSecret(res.RefreshToken) {
		t.Error("session should be keyed by the refresh secret hash")
	}
	if sess.DeviceLabel != "curl" || sess.IPAddress != "10.0.0.7" {
		t.Errorf("session metadata = %q/%q", sess.DeviceLabel, sess.IPAddress)
	}
}

func TestLogin_UniformFailures(t *testing.T) {
	h := newHarness(t)
	h.register(t, "pat@example.com", domain.RolePatient)
	for _, tc := range []struct{ email, password string }{
		{"pat@example.com", "Wrong-Password-1"},
		{"nobody@example.com", strongPassword},
		{"", ""},
	} {
		if _, err := h.svc.Login(context.Background(), tc.email, tc.password, "", ""); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Login(%q) err = %v, want ErrInvalidCredentials", tc.email, err)
		}
	}
	if h.sessRepo.count() != 0 {
		t.Error("failed logins must not create sessions")
	}
}

func TestLogin_StatusReasons(t *testing.T) {
	h := newHarness(t)
	inactive := h.register(t, "inactive@example.com", domain.RolePatient)
	banned := h.register(t, "banned@example.com", domain.RolePatient)
	_ = h.idents.SetStatus(context.Background(), inactive.ID, domain.StatusInactive)
	_ = h.idents.SetStatus(context.Background(), banned.ID, domain.StatusBanned)

	if _, err := h.svc.Login(context.Background(), "inactive@example.com", strongPassword, "", ""); !errors.Is(err, ErrAccountInactive) {
		t.Errorf("inactive err = %v", err)
	}
	if _, err := h.svc.Login(context.Background(), "banned@example.com", strongPassword, "", ""); !errors.Is(err, ErrAccountBanned) {
		t.Errorf("banned err = %v", err)
	}
}

func TestRefresh_NewAccessTokenSessionUnchanged(t *testing.T) {
	h := newHarness(t)
	h.register(t, "pat@example.com", domain.RolePatient)
	login, err := h.svc.Login(context.Background(), "pat@example.com", strongPassword, "", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	before, _ := h.sessRepo.get(login.SessionID)

	h.clock = h.clock.Add(time.Minute)
	res, err := h.svc.Refresh(context.Background(), login.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if res.AccessToken == login.AccessToken {
		t.Error("refresh must yield a new access token")
	}
	if res.RefreshToken != login.RefreshToken || res.SessionID != login.SessionID {
		t.Error("refresh secret is not rotated")
	}
	after, _ := h.sessRepo.get(login.SessionID)
	if after != before {
		t.Errorf("session row changed: before %+v after %+v", before, after)
	}
}

func TestRefresh_InvalidSecrets(t *testing.T) {
	h := newHarness(t)
	h.register(t, "pat@example.com", domain.RolePatient)
	login, _ := h.svc.Login(context.Background(), "pat@example.com", strongPassword, "", "")

	if _, err := h.svc.Refresh(context.Background(), "garbage"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("unknown secret err = %v", err)
	}
	h.clock = h.clock.Add(31 * 24 * time.Hour)
	if _, err := h.svc.Refresh(context.Background(), login.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expired secret err = %v, want ErrUnauthorized", err)
	}
	if h.sessRepo.count() != 0 {
		t.Error("expired session should be deleted lazily")
	}
}

func TestRefresh_BannedOwnerRevokesSession(t *testing.T) {
	h := newHarness(t)
	ident := h.register(t, "pat@example.com", domain.RolePatient)
	login, _ := h.svc.Login(context.Background(), "pat@example.com", strongPassword, "", "")
	_ = h.idents.SetStatus(context.Background(), ident.ID, domain.StatusBanned)

	if _, err := h.svc.Refresh(context.Background(), login.RefreshToken); !errors.Is(err, ErrAccountBanned) {
		t.Fatalf("err = %v, want ErrAccountBanned", err)
	}
	if _, ok := h.sessRepo.get(login.SessionID); ok {
		t.Error("banned owner's session must be revoked")
	}
	if _, err := h.svc.Refresh(context.Background(), login.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("second refresh err = %v, want ErrUnauthorized", err)
	}
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	h.register(t, "pat@example.com", domain.RolePatient)
	login, _ := h.svc.Login(context.Background(), "pat@example.com", strongPassword, "", "")

	if err := h.svc.Logout(context.Background(), login.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := h.svc.Refresh(context.Background(), login.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("refresh after logout err = %v", err)
	}
	if err := h.svc.Logout(context.Background(), "unknown"); err != nil {
		t.Errorf("Logout(unknown) = %v, want nil", err)
	}
}

func TestForgotAndResetPassword(t *testing.T) {
	h := newHarness(t)
	ident := h.register(t, "pat@example.com", domain.RolePatient)
	login, _ := h.svc.Login(context.Background(), "pat@example.com", strongPassword, "", "")

	if err := h.svc.ForgotPassword(context.Background(), "PAT@example.com"); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	h.svc.Wait()
	token, ok := h.outbox.Get(context.Background(), "pat@example.com")
	if !ok {
		t.Fatal("no reset token delivered")
	}
	if stored := h.idents.raw(ident.ID); stored.ResetTokenHash != security.HashSecret(token) {
		t.Error("only the reset token hash should be stored")
	}

	const newPassword = "Brand-New-Pass-7"
	if err := h.svc.ResetPassword(context.Background(), token, newPassword); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if _, err := h.svc.Refresh(context.Background(), login.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Error("reset must revoke existing sessions")
	}
	if _, err := h.svc.Login(context.Background(), "pat@example.com", newPassword, "", ""); err != nil {
		t.Errorf("login with new password: %v", err)
	}
	if err := h.svc.ResetPassword(context.Background(), token, "Another-Pass-88"); !errors.Is(err, ErrInvalidResetToken) {
		t.Errorf("token reuse err = %v, want ErrInvalidResetToken", err)
	}
}

func TestResetPassword_ExpiredToken(t *testing.T) {
	h := newHarness(t)
	h.register(t, "pat@example.com", domain.RolePatient)
	_ = h.svc.ForgotPassword(context.Background(), "pat@example.com")
	h.svc.Wait()
	token, _ := h.outbox.Get(context.Background(), "pat@example.com")

	h.clock = h.clock.Add(time.Hour)
	if err := h.svc.ResetPassword(context.Background(), token, "Brand-New-Pass-7"); !errors.Is(err, ErrInvalidResetToken) {
		t.Errorf("err = %v, want ErrInvalidResetToken", err)
	}
}

func TestForgotPassword_RateLimitedOnlyForKnownAccounts(t *testing.T) {
	h := newHarness(t)
	ident := h.register(t, "pat@example.com", domain.RolePatient)
	ctx := context.Background()

	for n := 0; n < 4; n++ {
		if err := h.svc.ForgotPassword(ctx, "pat@example.com"); err != nil {
			t.Fatalf("attempt %d: %v", n+1, err)
		}
		h.svc.Wait()
	}
	if got := len(h.idents.raw(ident.ID).ResetAttempts); got != 3 {
		t.Errorf("recorded attempts = %d, want 3", got)
	}
	for n := 0; n < 5; n++ {
		if err := h.svc.ForgotPassword(ctx, "ghost@example.com"); err != nil {
			t.Fatalf("unknown account attempt %d: %v", n+1, err)
		}
	}
	h.svc.Wait()
	if _, ok := h.outbox.Get(ctx, "ghost@example.com"); ok {
		t.Error("no mail should go to an unknown address")
	}
}

type slowMailer struct {
	delay time.Duration
	sent  chan string
}

func (m *slowMailer) SendPasswordReset(ctx context.Context, email, token string, expiresAt time.Time) error {
	time.Sleep(m.delay)
	m.sent <- email
	return nil
}

func TestForgotPassword_KnownAndUnknownReturnAlike(t *testing.T) {
	h := newHarness(t)
	h.register(t, "pat@example.com", domain.RolePatient)
	mailer := &slowMailer{delay: 300 * time.Millisecond, sent: make(chan string, 1)}
	h.svc.Mailer = mailer
	ctx := context.Background()

	timed := func(email string) time.Duration {
		start := time.Now()
		if err := h.svc.ForgotPassword(ctx, email); err != nil {
			t.Fatalf("ForgotPassword(%s): %v", email, err)
		}
		return time.Since(start)
	}
	known := timed("pat@example.com")
	unknown := timed("ghost@example.com")
	if known >= mailer.delay/2 {
		t.Errorf("known account took %v, unknown %v; mail delivery must not block the caller", known, unknown)
	}
	select {
	case got := <-mailer.sent:
		if got != "pat@example.com" {
			t.Errorf("mail sent to %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reset mail never sent")
	}
	h.svc.Wait()
}

type banningLimiter struct {
	idents *memIdentityRepo
}

func (l banningLimiter) CheckAndRecordAttempt(ctx context.Context, identityID string) error {
	return l.idents.SetStatus(ctx, identityID, domain.StatusBanned)
}

func TestForgotPassword_DoesNotUndoConcurrentBan(t *testing.T) {
	h := newHarness(t)
	ident := h.register(t, "pat@example.com", domain.RolePatient)
	h.svc.Limiter = banningLimiter{idents: h.idents}

	if err := h.svc.ForgotPassword(context.Background(), "pat@example.com"); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	h.svc.Wait()
	if got := h.idents.raw(ident.ID).Status; got != domain.StatusBanned {
		t.Errorf("status = %s, want banned", got)
	}
	if _, err := h.svc.Login(context.Background(), "pat@example.com", strongPassword, "", ""); !errors.Is(err, ErrAccountBanned) {
		t.Errorf("login after ban err = %v, want ErrAccountBanned", err)
	}
}

func TestRevealPII(t *testing.T) {
	h := newHarness(t)
	patient := h.register(t, "pat@example.com", domain.RolePatient)
	doctor := h.register(t, "doc@example.com", domain.RoleDoctor)
	stranger := h.register(t, "other@example.com", domain.RolePatient)
	h.svc.Assignments = assignments{doctor.ID + ":" + patient.ID: true}

	for _, tc := range []struct {
		name  string
		actor *domain.Identity
		role  string
	}{
		{"self", patient, "patient"},
		{"assigned doctor", doctor, "doctor"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := interceptors.WithIdentity(context.Background(), tc.actor.ID, tc.role)
			got, err := h.svc.RevealPII(ctx, patient.ID)
			if err != nil {
				t.Fatalf("RevealPII: %v", err)
			}
			if got.NationalID != "90210XXXX" || got.Phone != "555-0100" {
				t.Errorf("revealed = %q/%q", got.NationalID, got.Phone)
			}
		})
	}

	before := len(h.rec.all())
	ctx := interceptors.WithIdentity(context.Background(), stranger.ID, "patient")
	if _, err := h.svc.RevealPII(ctx, patient.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger err = %v, want ErrForbidden", err)
	}
	events := h.rec.all()[before:]
	if len(events) != 1 || events[0].Action != auditdomain.ActionAccessDenied {
		t.Errorf("denial audit = %+v", events)
	}

	if _, err := h.svc.RevealPII(context.Background(), patient.ID); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("anonymous err = %v, want ErrUnauthorized", err)
	}
}

func TestRevealPII_AuditsDecrypt(t *testing.T) {
	h := newHarness(t)
	patient := h.register(t, "pat@example.com", domain.RolePatient)
	ctx := interceptors.WithIdentity(context.Background(), patient.ID, "patient")
	if _, err := h.svc.RevealPII(ctx, patient.ID); err != nil {
		t.Fatalf("RevealPII: %v", err)
	}
	var decrypts []audit.Event
	for _, ev := range h.rec.all() {
		if ev.Action == auditdomain.ActionDecrypt {
			decrypts = append(decrypts, ev)
		}
	}
	if len(decrypts) != 1 || decrypts[0].TargetID != patient.ID {
		t.Errorf("decrypt audits = %+v", decrypts)
	}
}

func TestUpdatePII_ReencryptsAndChecksOwner(t *testing.T) {
	h := newHarness(t)
	patient := h.register(t, "pat@example.com", domain.RolePatient)
	other := h.register(t, "other@example.com", domain.RolePatient)
	before := h.idents.raw(patient.ID).Phone

	ctx := interceptors.WithIdentity(context.Background(), other.ID, "patient")
	if err := h.svc.UpdatePII(ctx, patient.ID, domain.PII{Phone: "555-9999"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("other err = %v, want ErrForbidden", err)
	}

	ctx = interceptors.WithIdentity(context.Background(), patient.ID, "patient")
	if err := h.svc.UpdatePII(ctx, patient.ID, domain.PII{NationalID: "90210XXXX", Phone: "555-9999"}); err != nil {
		t.Fatalf("UpdatePII: %v", err)
	}
	after := h.idents.raw(patient.ID)
	if after.Phone == before || !encryption.LooksEncrypted(after.Phone) {
		t.Errorf("phone stored as %q", after.Phone)
	}
	got, _ := h.svc.RevealPII(ctx, patient.ID)
	if got.Phone != "555-9999" || got.Address != "" {
		t.Errorf("revealed after update = %+v", got)
	}
}

func TestSetStatus(t *testing.T) {
	h := newHarness(t)
	admin := h.register(t, "admin@example.com", domain.RoleAdmin)
	patient := h.register(t, "pat@example.com", domain.RolePatient)
	_, _ = h.svc.Login(context.Background(), "pat@example.com", strongPassword, "", "")

	patientCtx := interceptors.WithIdentity(context.Background(), patient.ID, "patient")
	if err := h.svc.SetStatus(patientCtx, patient.ID, domain.StatusInactive); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-admin err = %v", err)
	}

	adminCtx := interceptors.WithIdentity(context.Background(), admin.ID, "admin")
	if err := h.svc.SetStatus(adminCtx, patient.ID, domain.StatusInactive); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if h.sessRepo.count() != 0 {
		t.Error("deactivation must revoke sessions")
	}
	if err := h.svc.SetStatus(adminCtx, patient.ID, "deleted"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("bad status err = %v", err)
	}
	if err := h.svc.SetStatus(adminCtx, "missing", domain.StatusBanned); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing err = %v", err)
	}
}
