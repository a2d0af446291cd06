// Package server exposes the stats resource over HTTP.
package server

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"fitnessbuddy/pkg/config"
	"fitnessbuddy/pkg/database"
	"fitnessbuddy/pkg/job"
	"fitnessbuddy/pkg/observability"
)

// Store is the storage the handlers read and write.
type Store interface {
	GetUser(ctx context.Context, userID int64) (job.UserSnapshot, error)
	DeleteAllStats(ctx context.Context, userID int64) error
	SubmitStats(ctx context.Context, r *job.Result) error
	LatestStats(ctx context.Context, userID int64) (*job.Result, error)
	Ping(ctx context.Context) error
}

type StatsRequester interface {
	RequestStats(ctx context.Context, userID int64) error
}

type Server struct {
	store         Store
	requester     StatsRequester
	notifications http.Handler
	cfg           config.APIConfig
	log           zerolog.Logger
}

// New wires the handlers. notifications may be nil when no websocket hub runs.
func New(store Store, requester StatsRequester, notifications http.Handler, cfg config.APIConfig, log zerolog.Logger) *Server {
	return &Server{
		store:         store,
		requester:     requester,
		notifications: notifications,
		cfg:           cfg,
		log:           log.With().Str("component", "http").Logger(),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.accessLog)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)

	r.Route("/api", func(r chi.Router) {
		if s.notifications != nil {
			r.Handle("/notifications", s.notifications)
		}
		r.Route("/users/{userID}/stats", func(r chi.Router) {
			r.With(s.rateLimit()).Get("/", s.requestStats)
			r.Post("/", s.submitStats)
			r.Delete("/", s.deleteStats)
			r.Get("/result", s.statsResult)
		})
	})
	return r
}

func (s *Server) rateLimit() func(http.Handler) http.Handler {
	if s.cfg.RateLimitReqs <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(s.cfg.RateLimitReqs, s.cfg.RateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint))
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestStats queues a new computation and answers before it runs.
func (s *Server) requestStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	if _, err := s.store.GetUser(r.Context(), userID); err != nil {
		s.storeError(w, err, "failed to load user")
		return
	}
	if err := s.requester.RequestStats(r.Context(), userID); err != nil {
		s.log.Error().Err(err).Int64("user_id", userID).Msg("failed to request stats")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, pending)
}

// submitStats is the callback sink for workers.
func (s *Server) submitStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
		return
	}

	var res job.Result
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := job.ValidateResult(&res); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if res.UserID != userID {
		http.Error(w, "user_id does not match the resource", http.StatusBadRequest)
		return
	}
	if _, err := s.store.GetUser(r.Context(), userID); err != nil {
		s.storeError(w, err, "failed to load user")
		return
	}

	if err := s.store.SubmitStats(r.Context(), &res); err != nil {
		s.log.Error().Err(err).Int64("user_id", userID).Msg("failed to store stats")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	observability.StatsSubmitted.Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteAllStats(r.Context(), userID); err != nil {
		s.log.Error().Err(err).Int64("user_id", userID).Msg("failed to delete stats")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statsResult answers 202 pending until a worker result has been stored.
func (s *Server) statsResult(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	if _, err := s.store.GetUser(r.Context(), userID); err != nil {
		s.storeError(w, err, "failed to load user")
		return
	}
	res, err := s.store.LatestStats(r.Context(), userID)
	if err != nil {
		s.log.Error().Err(err).Int64("user_id", userID).Msg("failed to load stats")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if res == nil {
		writeJSON(w, http.StatusAccepted, pending)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

var pending = map[string]string{"state": "pending"}

func (s *Server) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid user id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) storeError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, database.ErrNotFound) {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	s.log.Error().Err(err).Msg(msg)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
