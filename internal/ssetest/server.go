// Package ssetest runs an in-process node event stream for tests.
package ssetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// DefaultVersion is the protocol version announced by Handshake callers that
// do not care about it.
const DefaultVersion = "2.0.0"

// Message renders the data field for a variant with a JSON payload.
func Message(name, payload string) string {
	return fmt.Sprintf(`{%q: %s}`, name, payload)
}

// Handshake renders an ApiVersion message.
func Handshake(version string) string {
	return Message("ApiVersion", fmt.Sprintf("%q", version))
}

// Shutdown renders the payload-less shutdown message.
func Shutdown() string { return `"Shutdown"` }

// Option configures a Server.
type Option func(*Server)

// WithStatus answers every request with code and no stream.
func WithStatus(code int) Option {
	return func(s *Server) { s.status = code }
}

// WithAuth rejects requests that do not carry "Authorization: Bearer <token>".
func WithAuth(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithHoldOpen keeps a scripted response open after the script is written,
// until the client goes away or the server is closed.
func WithHoldOpen() Option {
	return func(s *Server) { s.hold = true }
}

// WithFirstByteDelay delays the first message after headers are sent.
func WithFirstByteDelay(d time.Duration) Option {
	return func(s *Server) { s.delay = d }
}

// WithHandshake sets the version a live server announces on every connection.
func WithHandshake(version string) Option {
	return func(s *Server) { s.version = version }
}

// Server is an httptest server speaking text/event-stream.
type Server struct {
	*httptest.Server

	status  int
	token   string
	hold    bool
	delay   time.Duration
	version string

	script []string
	live   bool

	mu       sync.Mutex
	requests []http.Header
	subs     map[*subscriber]struct{}
	conns    chan struct{}
	closed   chan struct{}
}

type subscriber struct {
	msgs chan string
	drop chan struct{}
	done chan struct{}
}

// NewScripted serves the given data payloads, in order, on every request and
// then ends the response (see WithHoldOpen).
func NewScripted(messages []string, opts ...Option) *Server {
	s := newServer(opts...)
	s.script = messages
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// NewLive serves a handshake on every request and then forwards whatever is
// passed to Push.
func NewLive(opts ...Option) *Server {
	s := newServer(opts...)
	s.live = true
	if s.version == "" {
		s.version = DefaultVersion
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

func newServer(opts ...Option) *Server {
	s := &Server{
		subs:   make(map[*subscriber]struct{}),
		conns:  make(chan struct{}, 64),
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// URL returns the stream endpoint.
func (s *Server) URL() string { return s.Server.URL + "/events" }

// Requests returns the headers of every request received so far.
func (s *Server) Requests() []http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]http.Header, len(s.requests))
	copy(out, s.requests)
	return out
}

// Connections yields once per live connection that has been sent its handshake.
func (s *Server) Connections() <-chan struct{} { return s.conns }

// Subscribers returns the number of open live connections.
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Push sends a data payload to every open live connection.
func (s *Server) Push(data string) {
	s.mu.Lock()
	subs := make([]*subscriber, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.msgs <- data:
		case <-sub.drop:
		case <-sub.done:
		case <-s.closed:
		}
	}
}

// Drop ends every open live response, as a node restart would.
func (s *Server) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		close(sub.drop)
		delete(s.subs, sub)
	}
}

// Close shuts the server down, ending any open responses first.
func (s *Server) Close() {
	s.mu.Lock()
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	s.mu.Unlock()
	s.Drop()
	s.Server.CloseClientConnections()
	s.Server.Close()
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.Header.Clone())
	s.mu.Unlock()

	if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.status != 0 {
		http.Error(w, http.StatusText(s.status), s.status)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-r.Context().Done():
			return
		case <-s.closed:
			return
		}
	}

	write := func(data string) {
		for _, line := range strings.Split(data, "\n") {
			fmt.Fprintf(w, "data: %s\n", line)
		}
		fmt.Fprint(w, "\n")
		flusher.Flush()
	}

	if !s.live {
		for _, data := range s.script {
			write(data)
		}
		if s.hold {
			select {
			case <-r.Context().Done():
			case <-s.closed:
			}
		}
		return
	}

	sub := &subscriber{msgs: make(chan string), drop: make(chan struct{}), done: make(chan struct{})}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
		close(sub.done)
	}()

	// a keep-alive comment ahead of the handshake exercises comment skipping
	fmt.Fprint(w, ": connected\n\n")
	write(Handshake(s.version))
	select {
	case s.conns <- struct{}{}:
	default:
	}

	for {
		select {
		case data := <-sub.msgs:
			write(data)
		case <-sub.drop:
			return
		case <-r.Context().Done():
			return
		case <-s.closed:
			return
		}
	}
}

// JSON marshals v for use as a Message payload.
func JSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
