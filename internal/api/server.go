// Package api is the HTTP surface: the batch trigger, public asset lookup,
// frag readout, health and metrics. It has no authentication and is meant
// to bind to a private interface.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/defrag/fragd/internal/batch"
	"github.com/defrag/fragd/internal/models"
	"github.com/defrag/fragd/internal/store"
	"github.com/defrag/fragd/internal/tz"
)

// Trigger runs the daily batch. *batch.Orchestrator implements it.
type Trigger interface {
	ComputeDay(ctx context.Context, utcDate string, runTS time.Time) (*batch.Summary, error)
}

// Limiter gates trigger requests per client key.
type Limiter interface {
	Allow(key string) bool
}

// Store is the read side the handlers need. *store.Store implements it.
type Store interface {
	PublicAsset(ctx context.Context, hash string) (*models.AssetPublic, error)
	Frag(ctx context.Context, userID, date, engineVersion string) (*models.Frag, error)
	UserContext(ctx context.Context, userID string) (*models.UserContext, error)
	GetBatchHealth(ctx context.Context, dates int) ([]store.BatchHealth, error)
}

type Server struct {
	store   Store
	trigger Trigger
	limiter Limiter
	tz      tz.Converter
	addr    string
	log     zerolog.Logger
	now     func() time.Time
}

func NewServer(st Store, trigger Trigger, limiter Limiter, conv tz.Converter, addr string, logger zerolog.Logger) *Server {
	return &Server{
		store:   st,
		trigger: trigger,
		limiter: limiter,
		tz:      conv,
		addr:    addr,
		log:     logger.With().Str("component", "api").Logger(),
		now:     time.Now,
	}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/admin/compute-day", s.handleComputeDay).Methods(http.MethodPost)
	v1.HandleFunc("/assets/{hash:[0-9a-f]{64}}", s.handleAsset).Methods(http.MethodGet)
	v1.HandleFunc("/frags/{userID}/{date}", s.handleFrag).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "")
	})
	return r
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.addr).Msg("listening")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug().Str("method", r.Method).Str("path", r.URL.Path).
			Int("status", rec.status).Dur("took", time.Since(start)).Msg("request")
	})
}

// clientKey is the limiter key for a request: the remote host without port.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, errorBody{Error: code, Detail: detail})
}
