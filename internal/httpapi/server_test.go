package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/nodestream-go/internal/auth"
	"github.com/rmacdonaldsmith/nodestream-go/internal/logging"
	"github.com/rmacdonaldsmith/nodestream-go/internal/ssetest"
	"github.com/rmacdonaldsmith/nodestream-go/pkg/sseclient"
)

type fakeSource struct {
	status sseclient.Status
	err    error
}

func (f *fakeSource) InstanceID() string { return "instance-1" }

func (f *fakeSource) Status(context.Context) (sseclient.Status, error) {
	return f.status, f.err
}

func get(t *testing.T, h http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	connectedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	src := &fakeSource{status: sseclient.Status{
		State:            sseclient.Connected,
		ProtocolVersion:  "2.0.0",
		Handlers:         2,
		EventsDispatched: 17,
		ConnectedAt:      connectedAt,
	}}
	h := NewServer(src, Config{Gatherer: prometheus.NewRegistry()}).Handler()

	rec := get(t, h, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "instance-1", resp.InstanceID)
	assert.Equal(t, "connected", resp.State)
	assert.Equal(t, "2.0.0", resp.ProtocolVersion)
	assert.Equal(t, 2, resp.Handlers)
	assert.Equal(t, uint64(17), resp.EventsDispatched)
	require.NotNil(t, resp.ConnectedAt)
	assert.True(t, connectedAt.Equal(*resp.ConnectedAt))
	assert.Empty(t, resp.LastError)

	t.Run("method_not_allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/status", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("source_error", func(t *testing.T) {
		h := NewServer(&fakeSource{err: sseclient.ErrCommandChannelClosed}, Config{Gatherer: prometheus.NewRegistry()}).Handler()
		rec := get(t, h, "/api/v1/status", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestStatus_Auth(t *testing.T) {
	const secret = "api-secret"
	h := NewServer(&fakeSource{}, Config{AuthSecret: secret, Gatherer: prometheus.NewRegistry()}).Handler()

	t.Run("missing_token", func(t *testing.T) {
		rec := get(t, h, "/api/v1/status", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		var resp ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("wrong_secret", func(t *testing.T) {
		signer, err := auth.NewSigner("ops", "other-secret", 0)
		require.NoError(t, err)
		token, err := signer.Token()
		require.NoError(t, err)

		assert.Equal(t, http.StatusUnauthorized, get(t, h, "/api/v1/status", token).Code)
	})

	t.Run("valid_token", func(t *testing.T) {
		signer, err := auth.NewSigner("ops", secret, 0)
		require.NoError(t, err)
		token, err := signer.Token()
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, get(t, h, "/api/v1/status", token).Code)
	})

	t.Run("health_is_open", func(t *testing.T) {
		assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/api/v1/health", "").Code)
	})
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name    string
		source  *fakeSource
		code    int
		healthy bool
		message string
	}{
		{
			name:    "connected",
			source:  &fakeSource{status: sseclient.Status{State: sseclient.Connected}},
			code:    http.StatusOK,
			healthy: true,
			message: "event stream connected",
		},
		{
			name:    "disconnected_with_error",
			source:  &fakeSource{status: sseclient.Status{State: sseclient.Disconnected, LastError: sseclient.ErrNodeShutdown}},
			code:    http.StatusServiceUnavailable,
			message: sseclient.ErrNodeShutdown.Error(),
		},
		{
			name:    "handshaking",
			source:  &fakeSource{status: sseclient.Status{State: sseclient.Handshaking}},
			code:    http.StatusServiceUnavailable,
			message: "event stream not connected",
		},
		{
			name:    "status_error",
			source:  &fakeSource{err: errors.New("actor gone")},
			code:    http.StatusServiceUnavailable,
			message: "actor gone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewServer(tt.source, Config{Gatherer: prometheus.NewRegistry()}).Handler()
			rec := get(t, h, "/api/v1/health", "")
			assert.Equal(t, tt.code, rec.Code)

			var resp HealthResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.healthy, resp.Healthy)
			assert.Equal(t, tt.message, resp.Message)
		})
	}
}

func TestMetricsAndRoot(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "nodestream_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	h := NewServer(&fakeSource{}, Config{Gatherer: reg, Version: "v1.2.3"}).Handler()

	rec := get(t, h, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "nodestream_test_total 1")

	rec = get(t, h, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, "v1.2.3", info["version"])

	assert.Equal(t, http.StatusNotFound, get(t, h, "/nope", "").Code)
}

func TestMiddleware(t *testing.T) {
	logger := logging.NewTestLogger(t)
	m := NewMiddleware("", logger.Logger)

	t.Run("recovery", func(t *testing.T) {
		h := m.Recovery(m.Logging(func(http.ResponseWriter, *http.Request) { panic("boom") }))
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.True(t, logger.Contains("HTTP handler panicked"))
	})

	t.Run("cors_preflight", func(t *testing.T) {
		called := false
		h := m.CORS(func(http.ResponseWriter, *http.Request) { called = true })
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/status", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.False(t, called)
	})

	t.Run("auth_sets_claims", func(t *testing.T) {
		m := NewMiddleware("s3cret", logger.Logger)
		signer, err := auth.NewSigner("dashboard", "s3cret", 0)
		require.NoError(t, err)
		token, err := signer.Token()
		require.NoError(t, err)

		var clientID string
		var claims *auth.Claims
		h := m.AuthRequired(func(w http.ResponseWriter, r *http.Request) {
			clientID = GetClientID(r)
			claims = GetClaims(r)
		})
		req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		h(httptest.NewRecorder(), req)

		assert.Equal(t, "dashboard", clientID)
		require.NotNil(t, claims)
		assert.Equal(t, "dashboard", claims.Subject)
	})
}

func TestServer_LiveClient(t *testing.T) {
	node := ssetest.NewLive()
	defer node.Close()

	client, err := sseclient.New(sseclient.Config{URL: node.URL()})
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Connect(context.Background()))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(client, Config{Gatherer: prometheus.NewRegistry()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
