package interceptors

import (
	"context"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"careportal/internal/audit"
	"careportal/internal/audit/domain"
)

// ClientUnary returns a unary server interceptor that stores client IP and user agent in context
// so audit records written during the call carry them. Install it before AuditUnary.
func ClientUnary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ua := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get("user-agent"); len(vals) > 0 {
				ua = vals[0]
			}
		}
		return handler(WithClient(ctx, ClientIP(ctx), ua), req)
	}
}

// AuditUnary returns a unary server interceptor that records an access-denied audit entry when a call
// fails with Unauthenticated or PermissionDenied. skipMethods are never audited (e.g. health checks).
// Recording is best-effort and does not change the call's result.
func AuditUnary(rec audit.Recorder, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if rec == nil || err == nil || skipMethods[info.FullMethod] {
			return resp, err
		}
		code := status.Code(err)
		if code != codes.Unauthenticated && code != codes.PermissionDenied {
			return resp, err
		}
		mr := audit.ParseFullMethod(info.FullMethod)
		actor, _ := GetIdentityID(ctx)
		rec.Record(ctx, audit.Event{
			Action:       domain.ActionAccessDenied,
			ActorID:      actor,
			ResourceType: mr.ResourceType,
			ResourceID:   mr.Method,
			Outcome:      domain.OutcomeDenied,
			Detail:       code.String(),
		})
		return resp, err
	}
}

// ClientIP returns the client IP from gRPC metadata (x-forwarded-for, x-real-ip) or peer, or "unknown".
func ClientIP(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("x-forwarded-for"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				if i := strings.Index(s, ","); i > 0 {
					s = strings.TrimSpace(s[:i])
				}
				return s
			}
		}
		if vals := md.Get("x-real-ip"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				return s
			}
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}
