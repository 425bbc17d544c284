// Package api serves the latest meetings report over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"ZoomSpectra/internal/config"
	"ZoomSpectra/internal/query"
	"ZoomSpectra/internal/snapshot"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// APIHandler holds the dependencies for API handlers.
type APIHandler struct {
	querier query.Querier
	metrics *metrics
}

// NewQuerier builds the querier selected by cfg.Source.
func NewQuerier(cfg config.APIConfig) (query.Querier, error) {
	switch cfg.Source {
	case "clickhouse":
		return query.NewClickHouseQuerier(cfg.ClickHouse)
	case "snapshot", "":
		return query.NewSnapshotQuerier(cfg.SnapshotPath), nil
	default:
		return nil, fmt.Errorf("unknown api source '%s'", cfg.Source)
	}
}

// NewRouter registers the report routes and /metrics.
func NewRouter(querier query.Querier) *mux.Router {
	h := &APIHandler{querier: querier, metrics: newMetrics(querier)}

	r := mux.NewRouter()
	r.Handle("/metrics", h.metrics.handler()).Methods("GET")
	r.HandleFunc("/healthz", h.healthHandler).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(h.metrics.middleware)
	v1.HandleFunc("/summary", h.summaryHandler).Methods("GET")
	v1.HandleFunc("/meetings", h.meetingsHandler).Methods("GET")
	v1.HandleFunc("/meetings/{id:[0-9]+}", h.meetingHandler).Methods("GET")
	v1.HandleFunc("/streams", h.streamsHandler).Methods("GET")
	return r
}

func (h *APIHandler) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *APIHandler) summaryHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := h.querier.Summary(r.Context())
	if err != nil {
		writeError(w, "failed to load summary", err)
		return
	}
	writeJSON(w, summary)
}

func (h *APIHandler) meetingsHandler(w http.ResponseWriter, r *http.Request) {
	meetings, err := h.querier.Meetings(r.Context())
	if err != nil {
		writeError(w, "failed to load meetings", err)
		return
	}
	views := make([]meetingView, 0, len(meetings))
	for _, m := range meetings {
		views = append(views, newMeetingView(m, false))
	}
	writeJSON(w, views)
}

func (h *APIHandler) meetingHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid meeting id: %v", err), http.StatusBadRequest)
		return
	}
	m, err := h.querier.Meeting(r.Context(), uint32(id))
	if err != nil {
		writeError(w, "failed to load meeting", err)
		return
	}
	writeJSON(w, newMeetingView(*m, true))
}

func (h *APIHandler) streamsHandler(w http.ResponseWriter, r *http.Request) {
	var filter query.StreamFilter
	params := r.URL.Query()
	if v := params.Get("ssrc"); v != "" {
		ssrc, err := strconv.ParseUint(v, 0, 32)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid ssrc: %v", err), http.StatusBadRequest)
			return
		}
		filter.SSRC = uint32(ssrc)
	}
	filter.Media = params.Get("media")
	if v := params.Get("failed"); v != "" {
		failed, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid failed flag: %v", err), http.StatusBadRequest)
			return
		}
		filter.FailedOnly = failed
	}

	streams, err := h.querier.Streams(r.Context(), filter)
	if err != nil {
		writeError(w, "failed to load streams", err)
		return
	}
	views := make([]qualityView, 0, len(streams))
	for _, s := range streams {
		views = append(views, newQualityView(s))
	}
	writeJSON(w, views)
}

func writeError(w http.ResponseWriter, msg string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, query.ErrNotFound) || errors.Is(err, snapshot.ErrNoSnapshot) {
		status = http.StatusNotFound
	} else {
		log.Errorf("%s: %v", msg, err)
	}
	http.Error(w, fmt.Sprintf("%s: %v", msg, err), status)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("failed to encode response: %v", err)
	}
}
