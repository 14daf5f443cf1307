// Package api exposes the response engine over HTTP.
//
// Endpoints:
//
//	POST   /api/agents                        create agent
//	GET    /api/agents                        list tenant agents
//	GET    /api/agents/{id}                   fetch agent
//	PATCH  /api/agents/{id}                   update agent
//	DELETE /api/agents/{id}                   delete agent with cascade
//	POST   /api/agents/{id}/fragments         ingest knowledge fragment
//	GET    /api/agents/{id}/fragments/search  relevance query
//	DELETE /api/fragments/{id}                remove fragment
//	POST   /api/inbound                       inbound customer message (service token)
//	GET    /api/agents/{id}/conversations     list conversations
//	GET    /api/conversations/{id}            fetch conversation with messages
//	POST   /api/conversations/{id}/resolve    mark resolved
//	GET    /health, /ready                    probes
//
// Tenant principals arrive as X-Tenant-ID and X-Role headers forwarded by the
// authenticating gateway. The inbound endpoint instead requires the shared
// service bearer token and is rate limited per IP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaydesk/relaydesk/internal/agent"
	"github.com/relaydesk/relaydesk/internal/conversation"
	"github.com/relaydesk/relaydesk/internal/dispatch"
	"github.com/relaydesk/relaydesk/internal/knowledge"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8080"

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout caps header reads to shed slow-header connections.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout = 60 * time.Second

	// IdleTimeout is the keep-alive idle limit.
	IdleTimeout = 120 * time.Second
)

// Options carries the server's external configuration.
type Options struct {
	// ServiceToken authenticates channel connectors on /api/inbound.
	ServiceToken string
	// InboundRate and InboundBurst bound per-IP traffic on /api/inbound.
	InboundRate  float64
	InboundBurst int
}

// Server is the HTTP server for the response engine.
type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger
}

// NewServer creates a server with all routes registered.
func NewServer(
	agents *agent.Store,
	index *knowledge.Store,
	conversations *conversation.Store,
	dispatcher *dispatch.Dispatcher,
	pool *pgxpool.Pool,
	opts Options,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	NewHealthHandler(pool, logger).RegisterRoutes(mux)
	NewAgentHandler(agents, index, logger).RegisterRoutes(mux)
	NewKnowledgeHandler(index, logger).RegisterRoutes(mux)
	NewConversationHandler(conversations, logger).RegisterRoutes(mux)

	inbound := NewInboundHandler(dispatcher, logger).Handler()
	rl := newRateLimiter(opts.InboundRate, opts.InboundBurst)
	mux.Handle("POST /api/inbound", chain(inbound,
		serviceAuthMiddleware(opts.ServiceToken, logger),
		rateLimitMiddleware(rl, logger)))

	return &Server{mux: mux, logger: logger}
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery, then logging, then routing.
func (s *Server) Handler() http.Handler {
	return chain(s.mux, recoveryMiddleware(s.logger), loggingMiddleware(s.logger))
}

// Run starts the server and blocks until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
