// Package server assembles the HTTP API and the internal gRPC server.
package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	"careportal/internal/audit"
	healthhandler "careportal/internal/health/handler"
	"careportal/internal/server/interceptors"
)

// publicMethods do not require a bearer token.
var publicMethods = map[string]bool{
	grpc_health_v1.Health_Check_FullMethodName: true,
	grpc_health_v1.Health_Watch_FullMethodName: true,
}

// Deps holds the dependencies of the gRPC server.
type Deps struct {
	// Tokens validates bearer tokens on protected methods. Required.
	Tokens interceptors.TokenValidator
	// Audit records denied calls. If nil, denials are not audited.
	Audit audit.Recorder
	// Health serves grpc.health.v1.Health. If nil, a server with no checks is used.
	Health *healthhandler.Server
	// Telemetry adds the OpenTelemetry stats handler when true.
	Telemetry bool
}

// NewGRPCServer returns a server with the client, auth and audit interceptors installed and all
// services registered.
func NewGRPCServer(deps Deps, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(
		interceptors.ClientUnary(),
		interceptors.AuditUnary(deps.Audit, publicMethods),
		interceptors.AuthUnary(deps.Tokens, publicMethods),
	))
	if deps.Telemetry {
		opts = append(opts, grpc.StatsHandler(otelgrpc.NewServerHandler()))
	}
	s := grpc.NewServer(opts...)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers every gRPC service with s.
//
// Service → handler mapping:
//   - grpc.health.v1.Health → internal/health/handler
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	health := deps.Health
	if health == nil {
		health = healthhandler.NewServer(nil, nil)
	}
	grpc_health_v1.RegisterHealthServer(s, health)
}
