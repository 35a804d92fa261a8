package tracking

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// NewHandler serves store over HTTP:
//
//	POST /api/v1/runs                 store a run and its artifact
//	GET  /api/v1/runs                 query runs (model, type, limit, tag=k:v)
//	GET  /api/v1/runs/{id}/artifact   fetch a run's artifact
func NewHandler(store Store) http.Handler {
	h := &runsHandler{store: store}
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/runs", h.put).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/runs", h.query).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/runs/{id}/artifact", h.artifact).Methods(http.MethodGet)
	return r
}

type runsHandler struct {
	store Store
}

func (h *runsHandler) put(w http.ResponseWriter, r *http.Request) {
	var req putRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Run.ID == "" {
		writeError(w, http.StatusBadRequest, errors.New("run id is required"))
		return
	}
	if err := h.store.PutRun(r.Context(), req.Run, req.Artifact); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrRunExists) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *runsHandler) query(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	q := Query{Model: v.Get("model"), Type: RunType(v.Get("type"))}
	if l := v.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		q.Limit = n
	}
	for _, tag := range v["tag"] {
		k, val, ok := strings.Cut(tag, ":")
		if !ok {
			writeError(w, http.StatusBadRequest, errors.New("tag must be key:value"))
			return
		}
		if q.Tags == nil {
			q.Tags = map[string]string{}
		}
		q.Tags[k] = val
	}
	runs, err := h.store.Runs(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []Run{}
	}
	writeJSON(w, http.StatusOK, runsResponse{Runs: runs})
}

func (h *runsHandler) artifact(w http.ResponseWriter, r *http.Request) {
	data, err := h.store.Artifact(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode tracking response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
