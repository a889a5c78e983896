package interceptors

import "context"

type contextKey struct{ name string }

var (
	identityIDKey = contextKey{"identity_id"}
	roleKey       = contextKey{"role"}
	clientKey     = contextKey{"client"}
)

// Client is the requesting client's network metadata.
type Client struct {
	IP        string
	UserAgent string
}

// WithIdentity returns a context carrying the verified identity id and role.
// Both the HTTP bearer middleware and the gRPC auth interceptor set it.
func WithIdentity(ctx context.Context, identityID, role string) context.Context {
	ctx = context.WithValue(ctx, identityIDKey, identityID)
	return context.WithValue(ctx, roleKey, role)
}

// GetIdentityID returns the identity id from context and true if set; otherwise "", false.
func GetIdentityID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(identityIDKey).(string)
	return v, ok && v != ""
}

// GetRole returns the role from context and true if set; otherwise "", false.
func GetRole(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(roleKey).(string)
	return v, ok && v != ""
}

// WithClient returns a context carrying the client's IP and user agent.
func WithClient(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientKey, Client{IP: ip, UserAgent: userAgent})
}

// ClientInfo returns the IP and user agent stored by WithClient, or empty strings.
// It matches audit.ClientExtractor.
func ClientInfo(ctx context.Context) (ip, userAgent string) {
	c, _ := ctx.Value(clientKey).(Client)
	return c.IP, c.UserAgent
}
