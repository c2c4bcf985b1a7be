// Package api provides the read-only HTTP API for landlinked.
//
// It exposes the indicator catalogue, country groups, cached
// per-country observations, aggregate group series, cache status and
// Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seenimoa/landlinked/internal/aggregate"
	"github.com/seenimoa/landlinked/internal/cache"
	"github.com/seenimoa/landlinked/internal/catalogue"
	"github.com/seenimoa/landlinked/internal/config"
	"github.com/seenimoa/landlinked/internal/directory"
	"github.com/seenimoa/landlinked/internal/infra"
	"github.com/seenimoa/landlinked/internal/metrics"
	"github.com/seenimoa/landlinked/internal/source"
	"github.com/seenimoa/landlinked/pkg/models"
)

// Deps are the collaborators the server reads from.
type Deps struct {
	Config    *config.Config
	Catalogue *catalogue.Catalogue
	Directory *directory.Directory
	Store     *cache.Store
	Engine    *aggregate.Engine
	Registry  *source.Registry // optional; enables /api/v1/sources
	Metrics   *metrics.Metrics // optional; enables /metrics
	Logger    *slog.Logger
	Version   string
}

// Server is the HTTP API server.
type Server struct {
	router chi.Router
	deps   Deps
	logger *slog.Logger
}

// NewServer creates a configured API server with all routes and middleware.
func NewServer(d Deps) *Server {
	if d.Version == "" {
		d.Version = "dev"
	}
	s := &Server{deps: d, logger: infra.OrDefault(d.Logger).With("component", "api")}
	s.router = s.buildRouter()
	return s
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ListenAndServe starts the HTTP server and shuts it down gracefully when
// ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	origins := []string{"*"}
	if s.deps.Config != nil && len(s.deps.Config.API.CORSOrigins) > 0 {
		origins = s.deps.Config.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/config", s.handleGetConfig)

		// Sources and catalogue
		r.Get("/sources", s.handleSources)
		r.Get("/indicators", s.handleIndicators)
		r.Get("/indicators/{code}", s.handleIndicator)

		// Groups
		r.Get("/groups", s.handleGroups)
		r.Get("/groups/{group}", s.handleGroup)
		r.Get("/groups/{group}/indicators/{code}/aggregate", s.handleAggregate)
		r.Get("/groups/{group}/indicators/{code}/countries/{country}", s.handleCountry)

		// Cache
		r.Get("/cache/status", s.handleCacheStatus)
		r.Get("/cache/entries", s.handleCacheEntries)
	})

	return r
}

// requestLogger logs one line per request with the structured logger.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// ============================================================
// Request / Response types
// ============================================================

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// GroupSummary is one entry of GET /api/v1/groups.
type GroupSummary struct {
	Code      string `json:"code"`
	Acronym   string `json:"acronym,omitempty"`
	Name      string `json:"name"`
	Countries int    `json:"countries"`
}

// AggregateResponse is the body of the aggregate endpoint.
type AggregateResponse struct {
	*aggregate.Result
	Description string `json:"description"`
	Unit        string `json:"unit,omitempty"`
	Source      string `json:"source"`
}

// CountryResponse is the body of the per-country endpoint.
type CountryResponse struct {
	Indicator    string               `json:"indicator"`
	Group        string               `json:"group"`
	Country      string               `json:"country"`
	Observations []models.Observation `json:"observations"`
}

// ============================================================
// Handlers
// ============================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{
		"status":  "ok",
		"version": s.deps.Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	}
	if s.deps.Catalogue != nil {
		data["indicators"] = s.deps.Catalogue.Len()
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if s.deps.Registry == nil {
		writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: []source.Info{}})
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.deps.Registry.List()})
}

func (s *Server) handleIndicators(w http.ResponseWriter, r *http.Request) {
	if s.deps.Catalogue == nil {
		writeError(w, http.StatusServiceUnavailable, "catalogue not loaded")
		return
	}
	inds := s.deps.Catalogue.All()
	if src := r.URL.Query().Get("source"); src != "" {
		inds = s.deps.Catalogue.BySource(src)
	}
	if inds == nil {
		inds = []models.Indicator{}
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: inds})
}

func (s *Server) handleIndicator(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	ind, ok := s.deps.Catalogue.Get(code)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown indicator: "+code)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: ind})
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	codes := s.deps.Directory.Groups()
	out := make([]GroupSummary, 0, len(codes))
	for _, code := range codes {
		g, err := s.deps.Directory.Group(code)
		if err != nil {
			continue
		}
		out = append(out, GroupSummary{Code: g.Code, Acronym: g.Acronym, Name: g.Name, Countries: len(g.Countries)})
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: out})
}

func (s *Server) handleGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.deps.Directory.Group(chi.URLParam(r, "group"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: g})
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	group := strings.ToLower(chi.URLParam(r, "group"))
	code := chi.URLParam(r, "code")

	if _, err := s.deps.Directory.Group(group); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	res, err := s.deps.Engine.Compute(code, group)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	ind, _ := s.deps.Catalogue.Get(code)
	if r.URL.Query().Get("joined") != "true" {
		res.Joined = nil
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: AggregateResponse{
			Result:      res,
			Description: ind.Description,
			Unit:        ind.Unit,
			Source:      ind.Source,
		},
	})
}

func (s *Server) handleCountry(w http.ResponseWriter, r *http.Request) {
	group := strings.ToLower(chi.URLParam(r, "group"))
	code := chi.URLParam(r, "code")
	country := chi.URLParam(r, "country")

	if _, ok := s.deps.Catalogue.Get(code); !ok {
		writeError(w, http.StatusNotFound, "unknown indicator: "+code)
		return
	}
	if _, err := s.deps.Directory.Group(group); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	obs, err := s.deps.Store.CountryObservations(code, group, country)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if obs == nil {
		obs = []models.Observation{}
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    CountryResponse{Indicator: code, Group: group, Country: country, Observations: obs},
	})
}

func (s *Server) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Store.Status()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: st})
}

func (s *Server) handleCacheEntries(w http.ResponseWriter, r *http.Request) {
	keys, err := s.deps.Store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if group := strings.ToLower(r.URL.Query().Get("group")); group != "" {
		filtered := keys[:0]
		for _, k := range keys {
			if k.Group == group {
				filtered = append(filtered, k)
			}
		}
		keys = filtered
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].ModTime.After(keys[j].ModTime) })
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: keys})
}

// ============================================================
// Helpers
// ============================================================

// statusFor maps domain errors to HTTP status codes. Catalogue
// configuration errors fall through to 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, aggregate.ErrNoData),
		errors.Is(err, aggregate.ErrUnknownIndicator),
		errors.Is(err, cache.ErrNotFound),
		errors.Is(err, directory.ErrGroupNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}
