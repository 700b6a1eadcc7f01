package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/defrag/fragd/internal/batch"
	"github.com/defrag/fragd/internal/engine"
	"github.com/defrag/fragd/internal/metrics"
	"github.com/defrag/fragd/internal/store"
	"github.com/defrag/fragd/internal/tz"
)

func (s *Server) handleComputeDay(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(clientKey(r)) {
		metrics.TriggersTotal.WithLabelValues("http", "rate_limited").Inc()
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "")
		return
	}

	q := r.URL.Query()
	runTS := s.now().UTC()
	if v := q.Get("utcRunTs"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "utcRunTs must be RFC3339")
			return
		}
		runTS = t.UTC()
	}
	utcDate := q.Get("utcDate")
	if utcDate == "" {
		utcDate = runTS.Format(tz.DateLayout)
	} else if _, err := time.Parse(tz.DateLayout, utcDate); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "utcDate must be YYYY-MM-DD")
		return
	}

	summary, err := s.trigger.ComputeDay(r.Context(), utcDate, runTS)
	switch {
	case errors.Is(err, batch.ErrDataUnavailable):
		metrics.TriggersTotal.WithLabelValues("http", "unavailable").Inc()
		writeError(w, http.StatusServiceUnavailable, "DATA_UNAVAILABLE", "ephemeris fetch failed")
		return
	case err != nil:
		metrics.TriggersTotal.WithLabelValues("http", "failed").Inc()
		s.log.Error().Err(err).Str("utc_date", utcDate).Msg("compute day failed")
		writeError(w, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	metrics.TriggersTotal.WithLabelValues("http", "ok").Inc()
	writeJSON(w, http.StatusOK, summary)
}

type assetResponse struct {
	Hash      string    `json:"hash"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// handleAsset looks a public asset up by hash. Bucket parameters are never
// served.
func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.PublicAsset(r.Context(), mux.Vars(r)["hash"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, "DB_ERROR", "")
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "")
		return
	}
	writeJSON(w, http.StatusOK, assetResponse{Hash: a.Hash, Type: a.Type, Status: a.Status, CreatedAt: a.CreatedAt})
}

type fragView struct {
	LocalDate        string `json:"local_date"`
	EngineVersion    string `json:"engine_version"`
	SimpleTextState  string `json:"simple_text_state"`
	SimpleTextAction string `json:"simple_text_action"`
	AssetHash        string `json:"asset_hash"`
	AssetStatus      string `json:"asset_status"`
}

type fragResponse struct {
	Status string    `json:"status"` // PENDING or READY
	Frag   *fragView `json:"frag,omitempty"`
}

// handleFrag reads a materialized frag. The date "today" resolves to the
// user's local date.
func (s *Server) handleFrag(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)
	userID, date := vars["userID"], vars["date"]

	if date == "today" {
		zone := "UTC"
		uc, err := s.store.UserContext(ctx, userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "DB_ERROR", "")
			return
		}
		if uc != nil && uc.Timezone != "" {
			zone = uc.Timezone
		}
		date, err = s.tz.LocalDate(s.now(), zone)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "BAD_TIMEZONE", "")
			return
		}
	} else if _, err := time.Parse(tz.DateLayout, date); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "date must be YYYY-MM-DD or today")
		return
	}

	f, err := s.store.Frag(ctx, userID, date, engine.Version)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "DB_ERROR", "")
		return
	}
	if f == nil {
		writeJSON(w, http.StatusOK, fragResponse{Status: "PENDING"})
		return
	}

	assetStatus := store.AssetStatusMissing
	if a, err := s.store.PublicAsset(ctx, f.AssetHash); err == nil && a != nil {
		assetStatus = a.Status
	}
	writeJSON(w, http.StatusOK, fragResponse{
		Status: "READY",
		Frag: &fragView{
			LocalDate:        f.LocalDate,
			EngineVersion:    f.EngineVersion,
			SimpleTextState:  f.SimpleTextState,
			SimpleTextAction: f.SimpleTextAction,
			AssetHash:        f.AssetHash,
			AssetStatus:      assetStatus,
		},
	})
}

type healthResponse struct {
	Status        string            `json:"status"`
	EngineVersion string            `json:"engine_version"`
	Batches       []batchDateHealth `json:"batches"`
}

type batchDateHealth struct {
	UTCDate     string `json:"utc_date"`
	Runs        int    `json:"runs"`
	SuccessRuns int    `json:"success_runs"`
	Errors      int    `json:"errors"`
	Frags       int    `json:"frags"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.GetBatchHealth(r.Context(), 7)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	resp := healthResponse{Status: "ok", EngineVersion: engine.Version, Batches: make([]batchDateHealth, 0, len(rows))}
	for _, h := range rows {
		resp.Batches = append(resp.Batches, batchDateHealth{
			UTCDate:     h.UTCDate,
			Runs:        h.TotalRuns,
			SuccessRuns: h.SuccessRuns,
			Errors:      h.TotalErrors,
			Frags:       h.TotalFrags,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
