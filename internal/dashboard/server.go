// Package dashboard serves the APL indicators, map layer and filtered
// tables as a JSON API.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/medical-deserts/apl-dashboard/internal/geodata"
	"github.com/medical-deserts/apl-dashboard/internal/indicator"
)

// Options configures a Server.
type Options struct {
	DatasetURL  string
	CORSOrigins []string
	RateLimit   rate.Limit // requests per second per client; 0 disables
	RateBurst   int
	SessionTTL  time.Duration
}

// Server holds the dashboard state shared across requests.
type Server struct {
	loader   *geodata.Loader
	catalog  *indicator.Catalog
	scale    *indicator.ColorScale
	sessions *SessionStore
	limiter  *clientLimiter
	opts     Options

	mu        sync.Mutex
	memoDS    *geodata.Dataset
	memoTable *geodata.Table
}

// NewServer creates a Server reading the dataset at opts.DatasetURL through
// loader. A nil catalog uses indicator.DefaultCatalog.
func NewServer(loader *geodata.Loader, catalog *indicator.Catalog, opts Options) (*Server, error) {
	if loader == nil {
		return nil, eris.New("dashboard: loader is required")
	}
	if opts.DatasetURL == "" {
		return nil, eris.New("dashboard: dataset url is required")
	}
	if catalog == nil {
		catalog = indicator.DefaultCatalog()
	}
	scale, err := catalog.ColorScale()
	if err != nil {
		return nil, eris.Wrap(err, "dashboard: color scale")
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}

	s := &Server{
		loader:   loader,
		catalog:  catalog,
		scale:    scale,
		sessions: NewSessionStore(opts.SessionTTL),
		opts:     opts,
	}
	if opts.RateLimit > 0 {
		s.limiter = newClientLimiter(opts.RateLimit, opts.RateBurst)
	}
	return s, nil
}

// Sessions returns the session store.
func (s *Server) Sessions() *SessionStore {
	return s.sessions
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	// Browsers reject credentialed responses to a wildcard origin, so the
	// session cookie is only shared with origins named explicitly.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: !slices.Contains(s.opts.CORSOrigins, "*"),
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.middleware)
		}
		r.Get("/variants", s.handleVariants)
		r.Get("/stats/status", s.handleStatusAll)
		r.Get("/stats/status/{column}", s.handleStatusColumn)
		r.Get("/stats/summary/{column}", s.handleSummary)
		r.Get("/map", s.handleMap)
		r.Get("/options/{field}", s.handleOptions)
		r.Get("/records", s.handleRecords)

		r.Route("/session", func(r chi.Router) {
			r.Get("/filters", s.handleSessionGet)
			r.Put("/filters", s.handleSessionPut)
			r.Post("/reset", s.handleSessionReset)
			r.Get("/records", s.handleSessionRecords)
		})

		r.Get("/cache", s.handleCacheStats)
		r.Post("/cache/invalidate", s.handleCacheInvalidate)
	})

	return r
}

// dataset loads the configured dataset and its table. The table is rebuilt
// only when the loader hands back a different dataset.
func (s *Server) dataset(ctx context.Context) (*geodata.Dataset, *geodata.Table, error) {
	ds, err := s.loader.Load(ctx, s.opts.DatasetURL)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memoDS != ds {
		s.memoDS = ds
		s.memoTable = geodata.ToTabular(ds)
	}
	return ds, s.memoTable, nil
}

// writeLoadError maps a load failure to 503 for an unavailable dataset or a
// request abandoned by its client, and 500 otherwise.
func (s *Server) writeLoadError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.Canceled) && !errors.Is(err, geodata.ErrDataUnavailable) {
		zap.L().Debug("dashboard: client left during load", zap.String("url", s.opts.DatasetURL))
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
		return
	}
	if errors.Is(err, geodata.ErrDataUnavailable) {
		zap.L().Warn("dashboard: dataset unavailable",
			zap.String("url", s.opts.DatasetURL),
			zap.Error(err),
		)
		writeError(w, http.StatusServiceUnavailable, "data unavailable")
		return
	}
	zap.L().Error("dashboard: load dataset", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("dashboard: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// requestLogger logs one line per request with its status and latency.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("dashboard: request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
