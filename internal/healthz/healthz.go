// Package healthz exposes each span's suspend/resume state through the
// standard gRPC health-checking protocol, one service name per span (spec
// SPEC_FULL.md DOMAIN STACK: "each span registers with grpc/health,
// flipping SERVING/NOT_SERVING as the recovery controller suspends/resumes
// the span").
package healthz

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Registry wraps the stock grpc/health server, naming each span's service
// "span.<id>" so a single process-wide health server covers every span.
type Registry struct {
	srv *health.Server
}

// New constructs an empty registry. Call RegisterSpan for each span before
// the gRPC server starts serving.
func New() *Registry {
	return &Registry{srv: health.NewServer()}
}

// Server returns the underlying health.Server for registration against a
// *grpc.Server via RegisterServer.
func (r *Registry) Server() *health.Server { return r.srv }

// RegisterServer attaches the health service to a gRPC server.
func (r *Registry) RegisterServer(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, r.srv)
}

func spanService(spanID int) string {
	return fmt.Sprintf("span.%d", spanID)
}

// RegisterSpan initializes a span's health status to SERVING.
func (r *Registry) RegisterSpan(spanID int) {
	r.srv.SetServingStatus(spanService(spanID), healthpb.HealthCheckResponse_SERVING)
}

// SetSuspended flips a span's health status. spanengine.Span.Run wires
// this to chantab.Span.OnSuspendChange, so it fires whenever the
// recovery controller or advancer toggles the span's suspend flag (peer
// restart, link loss), and once more at span exit.
func (r *Registry) SetSuspended(spanID int, suspended bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if suspended {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	r.srv.SetServingStatus(spanService(spanID), status)
}

// Shutdown marks every span NOT_SERVING, for graceful process exit.
func (r *Registry) Shutdown() {
	r.srv.Shutdown()
}
