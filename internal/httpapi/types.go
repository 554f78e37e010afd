package httpapi

import "time"

// Response types for the HTTP API

// StatusResponse reports the client's connection and registry state
type StatusResponse struct {
	InstanceID       string     `json:"instanceId"`
	State            string     `json:"state"`
	ProtocolVersion  string     `json:"protocolVersion,omitempty"`
	Handlers         int        `json:"handlers"`
	EventsDispatched uint64     `json:"eventsDispatched"`
	ConnectedAt      *time.Time `json:"connectedAt,omitempty"`
	LastError        string     `json:"lastError,omitempty"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Healthy bool   `json:"healthy"`
	State   string `json:"state"`
	Message string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
