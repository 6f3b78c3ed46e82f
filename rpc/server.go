package rpc

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"coinfort/native/coinfort"
	"coinfort/native/oracle"
	"coinfort/native/token"
	"coinfort/storage/journal"
)

const (
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
)

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Secret    []byte
	Issuer    string
	ClockSkew time.Duration
}

// RateLimit bounds the request rate of a single client. Clients are keyed by
// the connection's remote host. TrustProxyHeaders keys them by X-Real-IP or the
// first X-Forwarded-For hop instead; enable it only behind a proxy that
// overwrites those headers.
type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
	TrustProxyHeaders bool
}

// Options wires the collaborators served by the API. Oracle and Journal are
// optional; the routes that need them answer 404 when they are absent.
type Options struct {
	Engine    *coinfort.Engine
	Tokens    *token.Service
	Oracle    *oracle.Oracle
	Journal   *journal.Journal
	Hub       *Hub
	Auth      AuthConfig
	RateLimit RateLimit
	Logger    *slog.Logger
}

// Server exposes the escrow engine over JSON HTTP.
type Server struct {
	engine  *coinfort.Engine
	tokens  *token.Service
	oracle  *oracle.Oracle
	journal *journal.Journal
	hub     *Hub
	auth    *authenticator
	limiter *rateLimiter
	logger  *slog.Logger
	router  chi.Router
	handler http.Handler

	httpServer *http.Server
}

func NewServer(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("rpc: engine not configured")
	}
	if opts.Tokens == nil {
		return nil, errors.New("rpc: token service not configured")
	}
	if len(opts.Auth.Secret) == 0 {
		return nil, errors.New("rpc: auth secret not configured")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := opts.Hub
	if hub == nil {
		hub = NewHub(0)
	}
	s := &Server{
		engine:  opts.Engine,
		tokens:  opts.Tokens,
		oracle:  opts.Oracle,
		journal: opts.Journal,
		hub:     hub,
		auth:    newAuthenticator(opts.Auth),
		limiter: newRateLimiter(opts.RateLimit),
		logger:  logger.With(slog.String("component", "rpc")),
	}
	s.router = s.routes()
	s.handler = otelhttp.NewHandler(s.router, "coinfort-api")
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestContext)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/v1/events", s.handleEvents)

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)

		r.Get("/v1/accounts/{principal}", s.handleGetAccount)
		r.Get("/v1/assets", s.handleListAssets)
		r.Get("/v1/custody/{asset}", s.handleGetCustody)
		r.Get("/v1/transactions/{id}", s.handleGetTransaction)
		r.Get("/v1/principals/{principal}/transactions", s.handleListTransactions)
		r.Get("/v1/tokens/{asset}/balances/{principal}", s.handleGetBalance)
		r.Get("/v1/oracle", s.handleGetOracle)
		r.Get("/v1/journal", s.handleJournal)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Post("/v1/accounts", s.handleOpenAccount)
			r.Post("/v1/transactions", s.handleCreateTransaction)
			r.Post("/v1/transactions/{id}/close", s.handleCloseTransaction)
			r.Post("/v1/oracle/satisfied/{id}", s.handleMarkSatisfied)
			r.Post("/v1/tokens/{asset}/approve", s.handleApproveToken)
			r.Post("/v1/tokens/{asset}/transfer", s.handleTransferToken)

			r.Route("/v1/admin", func(r chi.Router) {
				r.Put("/manager", s.handleSetManager)
				r.Post("/assets", s.handleApproveAsset)
				r.Put("/accounts/{principal}/hold", s.handleAccountHold)
				r.Put("/transactions/{id}/hold", s.handleTransactionHold)
				r.Put("/oracle", s.handleSetOracle)
				r.Put("/oracle/manager", s.handleSetOracleManager)
			})
		})
	})
	return r
}

// Handler returns the fully instrumented HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Hub returns the event hub feeding websocket subscribers.
func (s *Server) Hub() *Hub { return s.hub }

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", slog.String("address", addr))
		errCh <- s.httpServer.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	s.hub.Close()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
