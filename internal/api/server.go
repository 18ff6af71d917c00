// Package api exposes the escalation orchestrator over HTTP.
//
// Agents create escalations and long-poll for the operator's answer. Operator
// consoles list, inspect and resolve escalations and follow lifecycle events
// over a WebSocket. The package also mints LiveKit join tokens for the voice
// front end and serves the composed agent instructions.
//
//	POST /api/escalations                  create
//	GET  /api/escalations                  list pending (FIFO)
//	GET  /api/escalations/{id}             get
//	POST /api/escalations/{id}/await       long-poll for the resolution
//	POST /api/escalations/{id}/respond     resolve
//	POST /api/escalations/{id}/insight     attach insight
//	GET  /ws/console                       snapshot + live events
//	POST /api/livekit-token                join token
//	GET  /api/agent/instructions           composed system prompt
//	GET  /                                 banner
package api

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/MrWong99/handoff/internal/config"
	"github.com/MrWong99/handoff/internal/orchestrator"
	"github.com/MrWong99/handoff/internal/prompt"
	"github.com/MrWong99/handoff/internal/token"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// awaitSettings is swapped atomically on config reload.
type awaitSettings struct {
	def time.Duration
	max time.Duration
}

// Server holds the HTTP handlers. Construct with [New] and mount with
// [Server.Register].
type Server struct {
	orch       *orchestrator.Orchestrator
	prompts    *prompt.Builder
	tokens     *token.Issuer
	livekitURL string
	origins    []string
	await      atomic.Pointer[awaitSettings]
	logger     *slog.Logger
}

// Option configures a [Server].
type Option func(*Server)

// WithPrompts enables prompt rendering in await responses and serves
// /api/agent/instructions.
func WithPrompts(b *prompt.Builder) Option {
	return func(s *Server) { s.prompts = b }
}

// WithTokenIssuer enables /api/livekit-token. url is returned to clients
// alongside each token. A nil issuer makes the endpoint answer 500.
func WithTokenIssuer(issuer *token.Issuer, url string) Option {
	return func(s *Server) {
		s.tokens = issuer
		s.livekitURL = url
	}
}

// WithAllowedOrigins sets the browser origins accepted for the console
// WebSocket handshake.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithAwaitTimeouts sets the default and maximum long-poll durations.
func WithAwaitTimeouts(def, max time.Duration) Option {
	return func(s *Server) { s.SetAwaitTimeouts(def, max) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New returns a Server backed by orch.
func New(orch *orchestrator.Orchestrator, opts ...Option) *Server {
	s := &Server{orch: orch, logger: slog.Default()}
	s.SetAwaitTimeouts(config.DefaultAwaitTimeout, config.DefaultMaxAwaitTimeout)
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "api")
	return s
}

// SetAwaitTimeouts replaces the long-poll defaults. It is safe to call while
// requests are in flight.
func (s *Server) SetAwaitTimeouts(def, max time.Duration) {
	if max < def {
		max = def
	}
	s.await.Store(&awaitSettings{def: def, max: max})
}

// Register mounts every route on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /api/escalations", s.handleCreate)
	mux.HandleFunc("GET /api/escalations", s.handleListPending)
	mux.HandleFunc("GET /api/escalations/{id}", s.handleGet)
	mux.HandleFunc("POST /api/escalations/{id}/await", s.handleAwait)
	mux.HandleFunc("POST /api/escalations/{id}/respond", s.handleRespond)
	mux.HandleFunc("POST /api/escalations/{id}/insight", s.handleInsight)
	mux.HandleFunc("GET /ws/console", s.handleConsole)
	mux.HandleFunc("POST /api/livekit-token", s.handleToken)
	mux.HandleFunc("GET /api/agent/instructions", s.handleInstructions)
}
