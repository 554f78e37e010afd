package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rmacdonaldsmith/nodestream-go/internal/config"
	"github.com/rmacdonaldsmith/nodestream-go/internal/health"
	"github.com/rmacdonaldsmith/nodestream-go/internal/httpapi"
	"github.com/rmacdonaldsmith/nodestream-go/internal/ssetest"
	"github.com/rmacdonaldsmith/nodestream-go/pkg/events"
	"github.com/rmacdonaldsmith/nodestream-go/pkg/reconnect"
	"github.com/rmacdonaldsmith/nodestream-go/pkg/sseclient"
)

func testConfig(url string) *config.Config {
	cfg := config.Default()
	cfg.Stream.URL = url
	cfg.Reconnect.InitialDelay = 20 * time.Millisecond
	cfg.Reconnect.MaxDelay = 100 * time.Millisecond
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Server.GRPCAddr = "127.0.0.1:0"
	return &cfg
}

func waitConnection(t *testing.T, node *ssetest.Server) {
	t.Helper()
	select {
	case <-node.Connections():
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not connect")
	}
}

func streamHealth(t *testing.T, d *daemon) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()
	status, err := health.Check(context.Background(), d.grpcLn.Addr().String(), health.ServiceName)
	require.NoError(t, err)
	return status
}

func TestDaemon(t *testing.T) {
	node := ssetest.NewLive()
	defer node.Close()

	d, err := newDaemon(testConfig(node.URL()), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	waitConnection(t, node)
	require.Eventually(t, func() bool {
		return streamHealth(t, d) == grpc_health_v1.HealthCheckResponse_SERVING
	}, 5*time.Second, 10*time.Millisecond)

	base := "http://" + d.httpLn.Addr().String()

	resp, err := http.Get(base + "/api/v1/status")
	require.NoError(t, err)
	var status httpapi.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.Equal(t, "connected", status.State)
	assert.Equal(t, ssetest.DefaultVersion, status.ProtocolVersion)
	assert.Equal(t, len(events.DeliveredTypes()), status.Handlers)

	node.Push(ssetest.Message("BlockAdded", `{"height":1}`))
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK &&
			strings.Contains(string(body), `nodestream_stream_events_received_total{event_type="BlockAdded"} 1`) &&
			strings.Contains(string(body), "go_goroutines")
	}, 5*time.Second, 20*time.Millisecond)

	// the node restarts: the daemon goes unhealthy, then reconnects
	node.Push(ssetest.Shutdown())
	waitConnection(t, node)
	require.Eventually(t, func() bool {
		return streamHealth(t, d) == grpc_health_v1.HealthCheckResponse_SERVING
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestDaemon_GivesUp(t *testing.T) {
	node := ssetest.NewScripted(nil, ssetest.WithStatus(http.StatusServiceUnavailable))
	defer node.Close()

	cfg := testConfig(node.URL())
	cfg.Server.HTTPAddr = ""
	cfg.Server.GRPCAddr = ""
	cfg.Reconnect.MaxAttempts = reconnect.Finite(2)

	d, err := newDaemon(cfg, zerolog.Nop())
	require.NoError(t, err)

	err = d.Run(context.Background())
	require.Error(t, err)
	var exhausted *sseclient.RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, uint64(2), exhausted.Attempts)
}
