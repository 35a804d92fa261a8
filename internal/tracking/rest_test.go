package tracking

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRESTStoreRoundTrip(t *testing.T) {
	backing := NewMemoryStore()
	srv := httptest.NewServer(NewHandler(backing))
	defer srv.Close()

	store := NewRESTStore(srv.URL+"/", time.Second)
	tr := New(store, Config{Now: stepClock()})

	id, ok := tr.LogTraining(context.Background(), TrainingEntry{
		Model:   regressor(t, "remote"),
		Metrics: map[string]float64{"val_r2": 0.5},
		Tags:    map[string]string{"stage": "Production"},
	})
	require.True(t, ok)
	assert.Equal(t, 1, backing.Len())

	b, err := tr.GetModel(context.Background(), "yield_forecaster", "Production")
	require.NoError(t, err)
	assert.Equal(t, "remote", b.Spec().Fields[0].Name)

	runs, err := store.Runs(context.Background(), Query{Model: "yield_forecaster", Limit: 10})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, 0.5, runs[0].Metrics["val_r2"])

	_, err = store.Artifact(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.PutRun(context.Background(), runs[0], nil)
	assert.ErrorIs(t, err, ErrRunExists)

	none, err := store.Runs(context.Background(), Query{Model: "nothing"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRESTStoreServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	metrics := &countingMetrics{}
	tr := New(NewRESTStore(srv.URL, time.Second), Config{Metrics: metrics})
	assert.False(t, tr.LogPrediction(context.Background(), "price_predictor", map[string]any{"a": 1}, nil, nil))
	assert.Equal(t, 1, metrics.failures)

	_, err := tr.GetModel(context.Background(), "price_predictor", "")
	assert.Error(t, err)
}

func TestHandlerRejectsBadQueries(t *testing.T) {
	h := NewHandler(NewMemoryStore())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs?tag=novalue", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerRoutesArtifactByID(t *testing.T) {
	store := NewMemoryStore()
	run := Run{ID: "run-7", Type: RunTraining, Model: "grade_model", CreatedAt: time.Unix(100, 0).UTC()}
	require.NoError(t, store.PutRun(context.Background(), run, []byte(`{"format_version":2}`)))
	h := NewHandler(store)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-7/artifact", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"format_version":2}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-8/artifact", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/runs", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
