package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"careportal/internal/identity/domain"
	"careportal/internal/identity/service"
	"careportal/internal/resetlimit"
)

type fakeAuth struct {
	loginErr   error
	refreshErr error
	forgotErr  error
	revealErr  error
	gotSecret  string
	loggedOut  string
	registered service.RegisterInput
	statusSet  domain.Status
	statusErr  error
}

func (f *fakeAuth) Register(ctx context.Context, in service.RegisterInput) (*domain.Identity, error) {
	f.registered = in
	return &domain.Identity{ID: "id-1", Email: in.Email, Role: in.Role}, nil
}

func (f *fakeAuth) Login(ctx context.Context, email, password, ua, ip string) (*service.AuthResult, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &service.AuthResult{
		AccessToken:      "access-1",
		AccessExpiresAt:  time.Now().Add(30 * time.Minute),
		RefreshToken:     "secret-1",
		RefreshExpiresAt: time.Now().Add(720 * time.Hour),
		SessionID:        "s1",
		IdentityID:       "id-1",
		Role:             domain.RolePatient,
	}, nil
}

func (f *fakeAuth) Refresh(ctx context.Context, secret string) (*service.AuthResult, error) {
	f.gotSecret = secret
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &service.AuthResult{AccessToken: "access-2", AccessExpiresAt: time.Now().Add(time.Minute), SessionID: "s1"}, nil
}

func (f *fakeAuth) Logout(ctx context.Context, secret string) error {
	f.loggedOut = secret
	return nil
}

func (f *fakeAuth) ForgotPassword(ctx context.Context, email string) error { return f.forgotErr }

func (f *fakeAuth) ResetPassword(ctx context.Context, token, pw string) error {
	if token != "good" {
		return service.ErrInvalidResetToken
	}
	return nil
}

func (f *fakeAuth) RevealPII(ctx context.Context, id string) (*domain.Identity, error) {
	if f.revealErr != nil {
		return nil, f.revealErr
	}
	return &domain.Identity{ID: id, NationalID: "90210XXXX"}, nil
}

func (f *fakeAuth) UpdatePII(ctx context.Context, id string, pii domain.PII) error { return nil }

func (f *fakeAuth) SetStatus(ctx context.Context, id string, st domain.Status) error {
	f.statusSet = st
	return f.statusErr
}

func newRouter(f *fakeAuth) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(f, CookieConfig{Secure: true})
	h.RegisterPublic(r.Group("/auth"))
	h.RegisterProtected(r.Group(""))
	return r
}

func do(r *gin.Engine, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestLogin_SetsHardenedRefreshCookie(t *testing.T) {
	w := do(newRouter(&fakeAuth{}), http.MethodPost, "/auth/login", `{"email":"a@example.com","password":"pw"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", w.Code, w.Body.String())
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["access_token"] != "access-1" {
		t.Errorf("access_token = %v", body["access_token"])
	}
	if strings.Contains(w.Body.String(), "secret-1") {
		t.Error("refresh secret must not appear in the body")
	}
	cookie := w.Header().Get("Set-Cookie")
	for _, want := range []string{RefreshCookie + "=secret-1", "HttpOnly", "Secure", "SameSite=Strict", "Path=/auth"} {
		if !strings.Contains(cookie, want) {
			t.Errorf("Set-Cookie %q missing %q", cookie, want)
		}
	}
}

func TestLogin_Errors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{service.ErrInvalidCredentials, http.StatusUnauthorized},
		{service.ErrAccountBanned, http.StatusForbidden},
		{service.ErrAccountInactive, http.StatusForbidden},
	}
	for _, tt := range tests {
		w := do(newRouter(&fakeAuth{loginErr: tt.err}), http.MethodPost, "/auth/login", `{"email":"a@example.com","password":"pw"}`)
		if w.Code != tt.want {
			t.Errorf("%v: code = %d, want %d", tt.err, w.Code, tt.want)
		}
	}
}

func TestRefresh_UsesCookieOnly(t *testing.T) {
	f := &fakeAuth{}
	r := newRouter(f)
	if w := do(r, http.MethodPost, "/auth/refresh", `{"refresh_token":"secret-1"}`); w.Code != http.StatusUnauthorized {
		t.Errorf("body-only refresh code = %d, want 401", w.Code)
	}
	w := do(r, http.MethodPost, "/auth/refresh", "", &http.Cookie{Name: RefreshCookie, Value: "secret-1"})
	if w.Code != http.StatusOK || f.gotSecret != "secret-1" {
		t.Fatalf("code = %d, secret = %q", w.Code, f.gotSecret)
	}
}

func TestRefresh_RevokedIsUniform401(t *testing.T) {
	r := newRouter(&fakeAuth{refreshErr: service.ErrUnauthorized})
	w := do(r, http.MethodPost, "/auth/refresh", "", &http.Cookie{Name: RefreshCookie, Value: "gone"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", w.Code)
	}
	missing := do(r, http.MethodPost, "/auth/refresh", "")
	if w.Body.String() != missing.Body.String() {
		t.Errorf("revoked body %q differs from missing-cookie body %q", w.Body.String(), missing.Body.String())
	}
}

func TestLogout(t *testing.T) {
	f := &fakeAuth{}
	w := do(newRouter(f), http.MethodPost, "/auth/logout", "", &http.Cookie{Name: RefreshCookie, Value: "secret-1"})
	if w.Code != http.StatusNoContent || f.loggedOut != "secret-1" {
		t.Errorf("code = %d, loggedOut = %q", w.Code, f.loggedOut)
	}
	if !strings.Contains(w.Header().Get("Set-Cookie"), "Max-Age=0") {
		t.Errorf("cookie not cleared: %q", w.Header().Get("Set-Cookie"))
	}
}

func TestForgotPassword_GenericForEveryOutcome(t *testing.T) {
	var bodies []string
	for _, err := range []error{nil, resetlimit.ErrRateLimited} {
		w := do(newRouter(&fakeAuth{forgotErr: err}), http.MethodPost, "/auth/forgot-password", `{"email":"a@example.com"}`)
		if w.Code != http.StatusAccepted {
			t.Errorf("err=%v: code = %d, want 202", err, w.Code)
		}
		bodies = append(bodies, w.Body.String())
	}
	if bodies[0] != bodies[1] {
		t.Errorf("rate-limited response %q differs from normal %q", bodies[1], bodies[0])
	}
}

func TestResetPassword(t *testing.T) {
	r := newRouter(&fakeAuth{})
	if w := do(r, http.MethodPost, "/auth/reset-password", `{"token":"bad","new_password":"x"}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad token code = %d, want 400", w.Code)
	}
	if w := do(r, http.MethodPost, "/auth/reset-password", `{"token":"good","new_password":"x"}`); w.Code != http.StatusOK {
		t.Errorf("good token code = %d, want 200", w.Code)
	}
}

func TestRegister_AlwaysPatient(t *testing.T) {
	f := &fakeAuth{}
	w := do(newRouter(f), http.MethodPost, "/auth/register", `{"email":"a@example.com","password":"pw","name":"A","role":"admin"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("code = %d", w.Code)
	}
	if f.registered.Role != domain.RolePatient {
		t.Errorf("role = %q, want patient", f.registered.Role)
	}
}

func TestRevealPII(t *testing.T) {
	w := do(newRouter(&fakeAuth{}), http.MethodGet, "/identities/pat-1/pii", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "90210XXXX") {
		t.Errorf("code = %d, body = %s", w.Code, w.Body.String())
	}
	w = do(newRouter(&fakeAuth{revealErr: service.ErrForbidden}), http.MethodGet, "/identities/pat-1/pii", "")
	if w.Code != http.StatusForbidden {
		t.Errorf("forbidden code = %d", w.Code)
	}
}

type outbox map[string]string

func (o outbox) Get(ctx context.Context, email string) (string, bool) {
	t, ok := o[email]
	return t, ok
}

func TestDevOutbox(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/dev/outbox", DevOutbox(outbox{"a@example.com": "tok"}))
	if w := do(r, http.MethodGet, "/dev/outbox?email=a@example.com", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "tok") {
		t.Errorf("code = %d, body = %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodGet, "/dev/outbox?email=b@example.com", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing code = %d", w.Code)
	}
}

func TestDeactivate(t *testing.T) {
	f := &fakeAuth{}
	w := do(newRouter(f), http.MethodDelete, "/identities/p1", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("code = %d, want 204", w.Code)
	}
	if f.statusSet != domain.StatusInactive {
		t.Errorf("status = %q, want inactive", f.statusSet)
	}

	f = &fakeAuth{statusErr: service.ErrForbidden}
	if w := do(newRouter(f), http.MethodDelete, "/identities/p1", ""); w.Code != http.StatusForbidden {
		t.Errorf("non-admin code = %d, want 403", w.Code)
	}
}
