// Package server exposes the prediction verticals over HTTP: JSON endpoints
// per vertical, model registry administration, the tracking API, a
// websocket feed of logged predictions, Prometheus metrics and health.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"sokoyetu-ai/internal/domain"
	"sokoyetu-ai/internal/ml"
	"sokoyetu-ai/internal/model"
	"sokoyetu-ai/internal/service"
	"sokoyetu-ai/internal/tracking"
)

const maxBodyBytes = 64 << 20

// Predictor runs the four verticals.
type Predictor interface {
	PredictPrice(ctx context.Context, req domain.PriceRequest) (domain.PricePrediction, error)
	ForecastYield(ctx context.Context, req domain.YieldRequest) (domain.YieldForecast, error)
	AnalyzeCrop(ctx context.Context, req domain.CropAnalysisRequest) (domain.CropAnalysis, error)
	GradeProduce(ctx context.Context, req domain.GradingRequest) (domain.ProduceGrade, error)
}

// ModelAdmin inspects and reloads registry entries.
type ModelAdmin interface {
	Names() []string
	Info(name string) (ml.ModelInfo, error)
	Reload(ctx context.Context, name string) (model.Backend, error)
}

// Config configures a Server.
type Config struct {
	Addr string
	// RateLimit caps prediction requests per second across all clients.
	// Zero disables limiting.
	RateLimit float64
	RateBurst int
	// Gatherer backs /metrics. Defaults to the Prometheus default gatherer.
	Gatherer prometheus.Gatherer
	// Runs, when set, is served as the tracking API.
	Runs tracking.Store
}

// Server is the HTTP surface of the service.
type Server struct {
	predictor Predictor
	models    ModelAdmin
	feed      *Feed
	limiter   *rate.Limiter
	router    *mux.Router
	server    *http.Server
	started   time.Time
}

// New wires the routes. feed may be nil to disable the prediction feed.
func New(cfg Config, predictor Predictor, models ModelAdmin, feed *Feed) *Server {
	s := &Server{
		predictor: predictor,
		models:    models,
		feed:      feed,
		router:    mux.NewRouter(),
		started:   time.Now(),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateLimit) + 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := s.router
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	predict := api.NewRoute().Subrouter()
	predict.Use(s.rateLimit)
	predict.HandleFunc("/predict-price", s.handlePredictPrice).Methods(http.MethodPost)
	predict.HandleFunc("/forecast-yield", s.handleForecastYield).Methods(http.MethodPost)
	predict.HandleFunc("/analyze-crop", s.handleAnalyzeCrop).Methods(http.MethodPost)
	predict.HandleFunc("/grade-produce", s.handleGradeProduce).Methods(http.MethodPost)

	api.HandleFunc("/models", s.handleModels).Methods(http.MethodGet)
	api.HandleFunc("/models/{name}", s.handleModelInfo).Methods(http.MethodGet)
	api.HandleFunc("/models/{name}/reload", s.handleModelReload).Methods(http.MethodPost)

	if cfg.Runs != nil {
		api.PathPrefix("/runs").Handler(tracking.NewHandler(cfg.Runs))
	}
	if feed != nil {
		api.Handle("/predictions/feed", feed).Methods(http.MethodGet)
	}

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("Starting prediction server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server and the feed.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.feed != nil {
		s.feed.Stop()
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handlePredictPrice(w http.ResponseWriter, r *http.Request) {
	var req domain.PriceRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.predictor.PredictPrice(r.Context(), req)
	respond(w, res, err)
}

func (s *Server) handleForecastYield(w http.ResponseWriter, r *http.Request) {
	var req domain.YieldRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.predictor.ForecastYield(r.Context(), req)
	respond(w, res, err)
}

func (s *Server) handleAnalyzeCrop(w http.ResponseWriter, r *http.Request) {
	var req domain.CropAnalysisRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.predictor.AnalyzeCrop(r.Context(), req)
	respond(w, res, err)
}

func (s *Server) handleGradeProduce(w http.ResponseWriter, r *http.Request) {
	var req domain.GradingRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.predictor.GradeProduce(r.Context(), req)
	respond(w, res, err)
}

type healthResponse struct {
	Status        string         `json:"status"`
	Uptime        string         `json:"uptime"`
	Models        []ml.ModelInfo `json:"models"`
	DegradedCount int            `json:"degraded_count"`
	FeedClients   int            `json:"feed_clients"`
}

// handleHealth reports "degraded" when any loaded model is an untrained
// default. The service still answers in that state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Uptime: time.Since(s.started).Round(time.Second).String()}
	for _, name := range s.models.Names() {
		info, err := s.models.Info(name)
		if err != nil {
			continue
		}
		if info.Degraded {
			resp.DegradedCount++
		}
		resp.Models = append(resp.Models, info)
	}
	if resp.DegradedCount > 0 {
		resp.Status = "degraded"
	}
	if s.feed != nil {
		resp.FeedClients = s.feed.Clients()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	infos := []ml.ModelInfo{}
	for _, name := range s.models.Names() {
		if info, err := s.models.Info(name); err == nil {
			infos = append(infos, info)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": infos})
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.models.Info(mux.Vars(r)["name"])
	if err != nil {
		writeError(w, modelStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleModelReload(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, err := s.models.Reload(r.Context(), name); err != nil {
		writeError(w, modelStatus(err), err)
		return
	}
	info, err := s.models.Info(name)
	if err != nil {
		writeError(w, modelStatus(err), err)
		return
	}
	log.Info().Str("model", name).Bool("degraded", info.Degraded).Msg("Model reloaded")
	writeJSON(w, http.StatusOK, info)
}

func modelStatus(err error) int {
	switch {
	case errors.Is(err, ml.ErrUnknownModel):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// statusFor maps a service error category onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, service.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return false
	}
	return true
}

func respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		writeJSON(w, statusFor(err), errorResponse{Error: err.Error(), Kind: service.KindLabel(err)})
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
