package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"fintrack/internal/auth"
	"fintrack/internal/ledger"
	applog "fintrack/internal/log"
	mwauth "fintrack/internal/middleware/auth"
	"fintrack/internal/middleware/ratelimit"
	"fintrack/internal/middleware/security"
	"fintrack/internal/middleware/trace"
	"fintrack/internal/services"
	"fintrack/internal/telemetry"
)

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Ledger   *services.LedgerService
	Accounts *services.AccountService
	Sessions *auth.Sessions
	// Pinger backs /readyz; nil means always ready.
	Pinger ledger.Pinger
	Logger *applog.Logger

	// Metrics serves /metrics when set.
	Metrics       http.Handler
	MeterProvider metric.MeterProvider

	RateLimit      ratelimit.Config
	TrustedProxies []string
	SecureCookies  bool
}

type Server struct {
	http.Server
	ledger        *services.LedgerService
	accounts      *services.AccountService
	sessions      *auth.Sessions
	pinger        ledger.Pinger
	logger        *applog.Logger
	rateLimiter   *ratelimit.Limiter
	detector      *security.Detector
	tracer        *trace.Middleware
	secureCookies bool

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentHTTP)

	s := &Server{
		ledger:        deps.Ledger,
		accounts:      deps.Accounts,
		sessions:      deps.Sessions,
		pinger:        deps.Pinger,
		logger:        logger,
		rateLimiter:   ratelimit.NewLimiter(deps.RateLimit),
		detector:      security.NewDetector(),
		secureCookies: deps.SecureCookies,
	}
	s.tracer = trace.NewMiddleware(logger, s.detector.ExtractClientIP)
	for _, cidr := range deps.TrustedProxies {
		if err := s.detector.AddTrustedProxy(cidr); err != nil {
			logger.Warn("Ignoring trusted proxy", applog.FieldError, err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}

	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /logout", s.handleLogout)

	api := func(h http.HandlerFunc) http.Handler {
		return security.NoStore(mwauth.Require(s.sessions, writeUnauthorized)(h))
	}
	mux.Handle("GET /api/status", api(s.handleStatus))
	mux.Handle("POST /api/initial-balance", api(s.handleInitialBalance))
	mux.Handle("GET /api/dashboard", api(s.handleDashboard))
	mux.Handle("GET /api/transactions", api(s.handleListTransactions))
	mux.Handle("POST /api/transactions", api(s.handleAddTransaction))
	mux.Handle("POST /api/transactions/{id}", api(s.handleEditTransaction))
	mux.Handle("PATCH /api/transactions/{id}", api(s.handleEditTransaction))
	mux.Handle("DELETE /api/transactions/{id}", api(s.handleDeleteTransaction))
	mux.Handle("POST /api/transactions/{id}/delete", api(s.handleDeleteTransaction))

	var handler http.Handler = mux
	handler = s.limitWrites(handler)
	handler = s.detector.Middleware(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = s.tracer.Middleware(handler)
	if deps.MeterProvider != nil {
		handler = telemetry.Middleware("fintrack-http", deps.MeterProvider)(handler)
	}

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// limitWrites rate limits every request that is not a plain read.
func (s *Server) limitWrites(next http.Handler) http.Handler {
	limited := s.rateLimiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		applog.FromContext(r.Context()).WithComponent(applog.ComponentRateLimit).WarnContext(r.Context(), "Rate limit exceeded",
			applog.FieldClientIP, s.detector.ExtractClientIP(r),
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path)
		TooManyRequestsError().Write(w)
	})(next)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
		default:
			limited.ServeHTTP(w, r)
		}
	})
}

// Shutdown gracefully shuts down the server and the limiter cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
		s.logTrafficSummary(ctx)
	})
	return shutdownErr
}

func (s *Server) logTrafficSummary(ctx context.Context) {
	requests := s.tracer.GetMetrics()
	limits := s.rateLimiter.GetMetrics()
	detection := s.detector.GetMetrics()
	s.logger.InfoContext(ctx, "HTTP server stopped",
		"requests_total", requests.TotalRequests,
		"rate_limited_total", limits.TotalHits,
		"rate_limit_clients", limits.ClientCount,
		"suspicious_total", detection.SuspiciousRequests,
		"invalid_ip_total", detection.InvalidIPAttempts)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", applog.FieldError, err)
			ErrorResponse(http.StatusServiceUnavailable, "store unavailable").Write(w)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
