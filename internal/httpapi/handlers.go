package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/nodestream-go/pkg/sseclient"
)

// StatusSource is the client whose state the API exposes.
type StatusSource interface {
	InstanceID() string
	Status(ctx context.Context) (sseclient.Status, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	source StatusSource
	log    zerolog.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(source StatusSource, logger zerolog.Logger) *Handlers {
	return &Handlers{source: source, log: logger}
}

// Status handles GET /api/v1/status
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st, err := h.source.Status(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read client status")
		h.writeError(w, "Failed to get client status", http.StatusServiceUnavailable)
		return
	}

	resp := StatusResponse{
		InstanceID:       h.source.InstanceID(),
		State:            st.State.String(),
		ProtocolVersion:  st.ProtocolVersion,
		Handlers:         st.Handlers,
		EventsDispatched: st.EventsDispatched,
	}
	if !st.ConnectedAt.IsZero() {
		at := st.ConnectedAt
		resp.ConnectedAt = &at
	}
	if st.LastError != nil {
		resp.LastError = st.LastError.Error()
	}
	h.writeJSON(w, resp, http.StatusOK)
}

// Health handles GET /api/v1/health. It answers 503 unless the stream is
// connected.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	st, err := h.source.Status(r.Context())
	if err != nil {
		h.writeJSON(w, HealthResponse{Healthy: false, State: "unknown", Message: err.Error()}, http.StatusServiceUnavailable)
		return
	}

	resp := HealthResponse{
		Healthy: st.State == sseclient.Connected,
		State:   st.State.String(),
		Message: "event stream connected",
	}
	statusCode := http.StatusOK
	if !resp.Healthy {
		statusCode = http.StatusServiceUnavailable
		resp.Message = "event stream not connected"
		if st.LastError != nil {
			resp.Message = st.LastError.Error()
		}
	}
	h.writeJSON(w, resp, statusCode)
}

// Helper methods

// writeError writes an error response as JSON
func (h *Handlers) writeError(w http.ResponseWriter, message string, statusCode int) {
	h.writeJSON(w, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}, statusCode)
}

// writeJSON writes a JSON response
func (h *Handlers) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Debug().Err(err).Msg("Failed to write response")
	}
}
