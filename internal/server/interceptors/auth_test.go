package interceptors

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"careportal/internal/security"
)

func bearerCtx(token string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.New(map[string]string{
		"authorization": "Bearer " + token,
	}))
}

type captured struct {
	called     bool
	identityID string
	role       string
}

func (c *captured) handler(ctx context.Context, req interface{}) (interface{}, error) {
	c.called = true
	c.identityID, _ = GetIdentityID(ctx)
	c.role, _ = GetRole(ctx)
	return "success", nil
}

func TestAuthUnary_PublicMethod(t *testing.T) {
	tokens := security.NewTestTokenProvider()
	interceptor := AuthUnary(tokens, map[string]bool{"/test.Service/Public": true})

	for _, ctx := range []context.Context{context.Background(), bearerCtx("garbage")} {
		c := &captured{}
		resp, err := interceptor(ctx, "request", &grpc.UnaryServerInfo{FullMethod: "/test.Service/Public"}, c.handler)
		if err != nil {
			t.Fatalf("interceptor: %v", err)
		}
		if resp != "success" || !c.called {
			t.Errorf("public method should reach handler")
		}
		if c.identityID != "" {
			t.Errorf("identity set from invalid token: %q", c.identityID)
		}
	}
}

func TestAuthUnary_ProtectedMethod_ValidToken(t *testing.T) {
	tokens := security.NewTestTokenProvider()
	token, _, err := tokens.IssueAccess("id-1", "doctor")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	c := &captured{}
	_, err = AuthUnary(tokens, nil)(bearerCtx(token), "request", &grpc.UnaryServerInfo{FullMethod: "/test.Service/Protected"}, c.handler)
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if c.identityID != "id-1" || c.role != "doctor" {
		t.Errorf("context identity = %q/%q", c.identityID, c.role)
	}
}

func TestAuthUnary_ProtectedMethod_UniformRejection(t *testing.T) {
	tokens := security.NewTestTokenProvider()
	other, err := security.NewHMACTokenProvider([]byte("another-secret"), "test-issuer", "test-audience", 0)
	if err != nil {
		t.Fatal(err)
	}
	foreign, _, _ := other.IssueAccess("id-1", "admin")

	var messages []string
	for _, ctx := range []context.Context{context.Background(), bearerCtx("garbage"), bearerCtx(foreign)} {
		c := &captured{}
		_, err := AuthUnary(tokens, nil)(ctx, "request", &grpc.UnaryServerInfo{FullMethod: "/test.Service/Protected"}, c.handler)
		if status.Code(err) != codes.Unauthenticated {
			t.Fatalf("code = %v, want Unauthenticated", status.Code(err))
		}
		if c.called {
			t.Error("handler must not run")
		}
		messages = append(messages, status.Convert(err).Message())
	}
	for _, m := range messages[1:] {
		if m != messages[0] {
			t.Errorf("messages differ: %q vs %q", m, messages[0])
		}
	}
}

func TestExtractBearer(t *testing.T) {
	testCases := []struct {
		header string
		want   string
	}{
		{"Bearer token123", "token123"},
		{"bearer token123", "token123"},
		{"  Bearer   token123  ", "token123"},
		{"Basic token123", ""},
		{"Bearer", ""},
		{"Bearer ", ""},
		{"", ""},
	}
	for _, tc := range testCases {
		if got := ExtractBearer(tc.header); got != tc.want {
			t.Errorf("ExtractBearer(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
	if got := extractBearer(context.Background()); got != "" {
		t.Errorf("extractBearer without metadata = %q", got)
	}
	if got := extractBearer(bearerCtx("abc")); got != "abc" {
		t.Errorf("extractBearer = %q", got)
	}
}
