// Package service runs the four prediction verticals: validate the request,
// gather context from the data layer, build features, resolve and run the
// model under a deadline, interpret the output, write insights back and log
// the prediction.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"sokoyetu-ai/internal/common"
	"sokoyetu-ai/internal/domain"
	"sokoyetu-ai/internal/ml"
	"sokoyetu-ai/internal/storage"
)

// HistoryProvider supplies historical market context.
type HistoryProvider interface {
	PriceHistory(ctx context.Context, category, country, county int64) (domain.PriceStats, error)
	YieldAverage(ctx context.Context, category, country, county int64, years int, asOf time.Time) (float64, bool, error)
}

// InsightWriter persists prediction results to the data layer.
type InsightWriter interface {
	SaveInsights(ctx context.Context, in storage.Insight) error
}

// CategoryLookup resolves the crop types expected in a produce category.
type CategoryLookup interface {
	ExpectedTypes(ctx context.Context, categoryID int64) ([]string, error)
}

// PredictionLogger records predictions. Implementations must not fail the
// caller.
type PredictionLogger interface {
	LogPrediction(ctx context.Context, name string, input, output map[string]any, tags map[string]string) bool
}

// MetricsInterface receives per-vertical instrumentation.
type MetricsInterface interface {
	PredictionsInc(vertical string)
	FailuresInc(vertical, kind string)
	LatencyObserve(vertical string, seconds float64)
	TimeoutsInc(vertical string)
	DegradedInc(vertical string)
	PredictionLogDroppedInc()
}

// Deps are the collaborators of a Service. Only Models is required.
type Deps struct {
	Models     ml.Resolver
	Tracker    PredictionLogger
	History    HistoryProvider
	Insights   InsightWriter
	Categories CategoryLookup
	Metrics    MetricsInterface
	Now        func() time.Time
}

// Service is safe for concurrent use. Close it to flush pending
// prediction logs.
type Service struct {
	cfg  Config
	deps Deps
	now  func() time.Time
	logs *logQueue
}

// New returns a Service. Zero config values fall back to DefaultConfig.
func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Models == nil {
		return nil, errors.New("service: model resolver is required")
	}
	def := DefaultConfig()
	if cfg.CropImageSize <= 0 {
		cfg.CropImageSize = def.CropImageSize
	}
	if cfg.GradeImageSize <= 0 {
		cfg.GradeImageSize = def.GradeImageSize
	}
	if cfg.YieldHistoryYears <= 0 {
		cfg.YieldHistoryYears = def.YieldHistoryYears
	}
	if len(cfg.TrustedDomains) == 0 {
		cfg.TrustedDomains = def.TrustedDomains
	}
	if len(cfg.ValidUnits) == 0 {
		cfg.ValidUnits = def.ValidUnits
	}
	if len(cfg.ValidCountries) == 0 {
		cfg.ValidCountries = def.ValidCountries
	}
	if cfg.Models == (ModelNames{}) {
		cfg.Models = def.Models
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	s := &Service{cfg: cfg, deps: deps, now: now}
	if deps.Tracker != nil {
		s.logs = newLogQueue(deps.Tracker, deps.Metrics, logQueueSize)
		s.logs.start()
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// Close waits for queued prediction logs to reach the tracker, giving up
// when ctx ends.
func (s *Service) Close(ctx context.Context) error {
	if s.logs == nil {
		return nil
	}
	return s.logs.close(ctx)
}

// inference is the outcome of the bounded resolve and infer step.
type inference[T any] struct {
	value    T
	degraded bool
}

// bounded runs fn under the inference deadline. fn keeps running in the
// background after a timeout; its result is discarded.
func bounded[T any](ctx context.Context, d time.Duration, fn func(context.Context) (inference[T], error)) (inference[T], error) {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	type result struct {
		out inference[T]
		err error
	}
	ch := make(chan result, 1)
	go func() {
		out, err := fn(ctx)
		ch <- result{out, err}
	}()
	select {
	case r := <-ch:
		return r.out, r.err
	case <-ctx.Done():
		return inference[T]{}, ctx.Err()
	}
}

// observation accumulates what one request reports to the tracker and
// metrics.
type observation struct {
	vertical string
	model    string
	start    time.Time
	input    map[string]any
	degraded bool
	// contextMissing is set when history lookups failed and defaults were used.
	contextMissing bool
}

func (s *Service) begin(vertical, modelName string) *observation {
	return &observation{vertical: vertical, model: modelName, start: time.Now()}
}

// finish queues the prediction log and records metrics. err is the error
// about to be returned, or nil.
func (s *Service) finish(o *observation, output map[string]any, err error) {
	if m := s.deps.Metrics; m != nil {
		m.LatencyObserve(o.vertical, time.Since(o.start).Seconds())
		if err != nil {
			m.FailuresInc(o.vertical, KindLabel(err))
			if errors.Is(err, ErrTimeout) {
				m.TimeoutsInc(o.vertical)
			}
		} else {
			m.PredictionsInc(o.vertical)
		}
		if o.degraded {
			m.DegradedInc(o.vertical)
		}
	}
	if err != nil {
		if errors.Is(err, ErrValidation) {
			log.Debug().Err(err).Str("vertical", o.vertical).Msg("Request rejected")
			return
		}
		log.Error().Err(err).Str("vertical", o.vertical).Str("model", o.model).Msg("Prediction failed")
		output = map[string]any{"error": err.Error()}
	}
	if s.logs == nil {
		return
	}
	tags := map[string]string{common.TagVertical: o.vertical}
	if o.degraded {
		tags[common.TagDegraded] = "true"
	}
	if o.contextMissing {
		tags[common.TagContextUnavailable] = "true"
	}
	if err != nil {
		tags[common.TagFailed] = "true"
	}
	s.logs.enqueue(logEntry{model: o.model, input: o.input, output: output, tags: tags})
}

func (s *Service) persist(ctx context.Context, vertical string, in storage.Insight) error {
	if s.deps.Insights == nil {
		return nil
	}
	if err := s.deps.Insights.SaveInsights(ctx, in); err != nil {
		return newError(vertical, ErrPersistence, err)
	}
	return nil
}

func (o *observation) contextUnavailable(err error, what string) {
	o.contextMissing = true
	log.Warn().Err(err).Str("vertical", o.vertical).Msgf("%s unavailable, using defaults", what)
}
