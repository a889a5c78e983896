package interceptors

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"careportal/internal/security"
)

const bearerPrefix = "bearer "

// TokenValidator verifies access tokens. *security.TokenProvider implements it.
type TokenValidator interface {
	ValidateAccess(token string) (security.AccessIdentity, error)
}

// AuthUnary returns a unary server interceptor that validates the Bearer access token from gRPC
// metadata and stores identity and role in context. publicMethods do not require a token.
// Every failure on a protected method returns the same Unauthenticated status.
func AuthUnary(tokens TokenValidator, publicMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		public := publicMethods[info.FullMethod]
		token := extractBearer(ctx)
		if token == "" {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}

		id, err := tokens.ValidateAccess(token)
		if err != nil {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}
		return handler(WithIdentity(ctx, id.IdentityID, id.Role), req)
	}
}

// ExtractBearer returns the token from an "Authorization: Bearer <token>" value, or "" if malformed.
func ExtractBearer(header string) string {
	v := strings.TrimSpace(header)
	if len(v) <= len(bearerPrefix) || !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

// extractBearer returns the Bearer token from ctx metadata, or "" if missing or malformed.
func extractBearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	return ExtractBearer(vals[0])
}
