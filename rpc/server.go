// Package rpc exposes the marketplace engine over an authenticated HTTP API.
package rpc

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"uloan/indexer"
	"uloan/native/lending"
	"uloan/observability"
)

const requestIDHeader = "X-Request-Id"

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine    *lending.Engine
	Index     *indexer.Indexer
	Log       *slog.Logger
	APITokens []string
	// RateLimit caps requests per second across the API; zero disables
	// throttling.
	RateLimit float64
	RateBurst int
}

// Server routes HTTP requests to the engine and the read model.
type Server struct {
	engine  *lending.Engine
	index   *indexer.Indexer
	log     *slog.Logger
	tokens  map[string]struct{}
	limiter *rate.Limiter

	router http.Handler
}

// New constructs a configured HTTP router with authentication, throttling and
// request instrumentation.
func New(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	tokens := make(map[string]struct{}, len(cfg.APITokens))
	for _, token := range cfg.APITokens {
		if trimmed := strings.TrimSpace(token); trimmed != "" {
			tokens[trimmed] = struct{}{}
		}
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateLimit)
			if burst < 1 {
				burst = 1
			}
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	srv := &Server{
		engine:  cfg.Engine,
		index:   cfg.Index,
		log:     log,
		tokens:  tokens,
		limiter: limiter,
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.throttle)
		api.Use(s.authenticate)

		api.Post("/capital", s.instrument("capital_deposit", s.depositCapital))
		api.Post("/capital/recoup", s.instrument("capital_recoup_all", s.recoupAllCapital))
		api.Post("/capital/{id}/recoup", s.instrument("capital_recoup", s.recoupCapitalProvider))
		api.Get("/capital/{id}", s.instrument("capital_get", s.getCapitalProvider))
		api.Get("/lenders/{address}/capital", s.instrument("lender_capital", s.getLenderCapital))

		api.Post("/loans", s.instrument("loan_request", s.requestLoan))
		api.Get("/loans/{id}", s.instrument("loan_get", s.getLoan))
		api.Get("/loans/{id}/lenders", s.instrument("loan_lenders", s.getLoanLenders))
		api.Post("/loans/{id}/match", s.instrument("loan_match", s.matchLoan))
		api.Post("/loans/{id}/withdraw", s.instrument("loan_withdraw", s.withdrawLoan))
		api.Post("/loans/{id}/repay", s.instrument("loan_repay", s.repayLoanEpoch))

		api.Post("/estimates/capital", s.instrument("estimate_capital", s.estimateLenderReturn))
		api.Post("/estimates/loan", s.instrument("estimate_loan", s.estimateLoanRate))

		api.Get("/borrowers/{address}/loans", s.instrument("borrower_loans", s.getBorrowerLoans))
	})
	return r
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			observability.Engine().RecordThrottle(r.URL.Path, "rate_limit")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.tokens) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			writeError(w, http.StatusUnauthorized, "bearer token required")
			return
		}
		if _, ok := s.tokens[strings.TrimSpace(token)]; !ok {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// instrument wraps a handler so every call is timed and counted under a stable
// operation name.
func (s *Server) instrument(operation string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		handler(recorder, r)
		var err error
		if recorder.status >= 400 {
			err = &httpError{status: recorder.status}
		}
		observability.Engine().Observe(operation, time.Since(start), err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type httpError struct{ status int }

func (e *httpError) Error() string { return http.StatusText(e.status) }

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
