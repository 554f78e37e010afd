// Package health publishes the event stream's connection state over the
// standard gRPC health checking protocol.
package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpchealth "google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rmacdonaldsmith/nodestream-go/internal/eventstream"
)

// ServiceName is the health service that follows the stream connection.
// The empty service reports the process itself and is always SERVING.
const ServiceName = "nodestream.v1.EventStream"

// Reporter maps connection state changes onto a gRPC health server.
type Reporter struct {
	health *grpchealth.Server
	server *grpc.Server
	log    zerolog.Logger
}

// NewReporter creates a reporter. The stream service starts NOT_SERVING.
func NewReporter(logger zerolog.Logger) *Reporter {
	hs := grpchealth.NewServer()
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, hs)

	return &Reporter{
		health: hs,
		server: srv,
		log:    logger.With().Str("component", "health").Logger(),
	}
}

// Observe records a connection state. It is safe to use as a state change
// hook on the client's actor goroutine.
func (r *Reporter) Observe(state eventstream.State) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if state == eventstream.Connected {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	r.health.SetServingStatus(ServiceName, status)
	r.log.Debug().Str("state", state.String()).Str("status", status.String()).Msg("Health status updated")
}

// Serve serves health checks on ln until ctx ends.
func (r *Reporter) Serve(ctx context.Context, ln net.Listener) error {
	r.log.Info().Str("addr", ln.Addr().String()).Msg("gRPC health server listening")

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- r.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		r.Shutdown()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}

// Shutdown marks every service NOT_SERVING and stops the server.
func (r *Reporter) Shutdown() {
	r.health.Shutdown()
	r.server.GracefulStop()
}

// Check asks the health server at addr for the status of service.
func Check(ctx context.Context, addr, service string) (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(callCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check: %w", err)
	}
	return resp.GetStatus(), nil
}
