package tracking

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"sokoyetu-ai/internal/common"
	"sokoyetu-ai/internal/model"
)

// MetricsInterface receives tracker instrumentation.
type MetricsInterface interface {
	TrackerRunsInc()
	TrackerFailuresInc()
}

// Config configures a Tracker. Zero values get defaults.
type Config struct {
	Experiment string
	Project    string
	Metrics    MetricsInterface
	Now        func() time.Time
}

// Tracker logs runs to a Store. Logging failures are reported through the
// boolean results and never returned to the caller as errors.
type Tracker struct {
	store      Store
	experiment string
	project    string
	metrics    MetricsInterface
	now        func() time.Time

	mu        sync.RWMutex
	observers []Observer
}

// New returns a Tracker writing to store.
func New(store Store, cfg Config) *Tracker {
	t := &Tracker{
		store:      store,
		experiment: cfg.Experiment,
		project:    cfg.Project,
		metrics:    cfg.Metrics,
		now:        cfg.Now,
	}
	if t.experiment == "" {
		t.experiment = common.DefaultExperimentName
	}
	if t.project == "" {
		t.project = common.DefaultProjectTag
	}
	if t.now == nil {
		t.now = time.Now
	}
	return t
}

// AddObserver registers o for every subsequently stored run.
func (t *Tracker) AddObserver(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, o)
}

// Store returns the backing store.
func (t *Tracker) Store() Store { return t.store }

// RunScope accumulates one run. Nothing is written until End, which
// stores everything in a single call.
type RunScope struct {
	t        *Tracker
	run      Run
	artifact []byte
	ended    bool
}

// StartRun opens a scope for a run of the named model.
func (t *Tracker) StartRun(name string, typ RunType) *RunScope {
	return &RunScope{
		t: t,
		run: Run{
			ID:         uuid.NewString(),
			Experiment: t.experiment,
			Model:      name,
			Type:       typ,
			Params:     map[string]string{},
			Metrics:    map[string]float64{},
			Tags:       map[string]string{common.TagProject: t.project},
			CreatedAt:  t.now().UTC(),
		},
	}
}

func (s *RunScope) ID() string { return s.run.ID }

func (s *RunScope) LogParams(p map[string]string) { maps.Copy(s.run.Params, p) }

func (s *RunScope) LogMetrics(m map[string]float64) { maps.Copy(s.run.Metrics, m) }

func (s *RunScope) SetTags(tags map[string]string) { maps.Copy(s.run.Tags, tags) }

func (s *RunScope) SetTag(k, v string) { s.run.Tags[k] = v }

// SetIO records the input summary and output of a prediction.
func (s *RunScope) SetIO(input, output map[string]any) {
	s.run.Input, s.run.Output = input, output
}

// LogModel attaches the serialised backend to the run.
func (s *RunScope) LogModel(b model.Backend) error {
	data, err := b.MarshalArtifact()
	if err != nil {
		return fmt.Errorf("serialise model: %w", err)
	}
	s.artifact = data
	s.run.ArtifactRef = "runs:/" + s.run.ID + "/model"
	return nil
}

// End stores the run. A scope can only be ended once.
func (s *RunScope) End(ctx context.Context) error {
	if s.ended {
		return ErrRunClosed
	}
	s.ended = true
	if err := s.t.store.PutRun(ctx, s.run, s.artifact); err != nil {
		return err
	}
	s.t.notify(s.run)
	return nil
}

func (t *Tracker) notify(run Run) {
	if t.metrics != nil {
		t.metrics.TrackerRunsInc()
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, o := range t.observers {
		o.ObserveRun(run)
	}
}

func (t *Tracker) fail(err error, msg string, name string) {
	log.Error().Err(err).Str("model", name).Msg(msg)
	if t.metrics != nil {
		t.metrics.TrackerFailuresInc()
	}
}

// TrainingEntry is the content of one training run.
type TrainingEntry struct {
	Model   model.Backend
	Params  map[string]string
	Metrics map[string]float64
	Tags    map[string]string
}

// LogTraining records params, metrics, tags and the serialised model as one
// run. It returns the run id and whether the write succeeded.
func (t *Tracker) LogTraining(ctx context.Context, e TrainingEntry) (string, bool) {
	if t == nil {
		return "", false
	}
	if e.Model == nil {
		t.fail(ErrNoArtifact, "Training run not logged", "")
		return "", false
	}
	name := e.Model.Spec().Name
	s := t.StartRun(name, RunTraining)
	s.SetTag(common.TagTrainingDate, s.run.CreatedAt.Format("2006-01-02"))
	s.SetTags(e.Tags)
	s.LogParams(e.Params)
	s.LogMetrics(e.Metrics)
	if err := s.LogModel(e.Model); err != nil {
		t.fail(err, "Training run not logged", name)
		return "", false
	}
	if err := s.End(ctx); err != nil {
		t.fail(err, "Training run not logged", name)
		return "", false
	}
	log.Info().Str("model", name).Str("run_id", s.ID()).Msg("Training run logged")
	return s.ID(), true
}

// LogPrediction records one prediction. It reports whether the write
// succeeded and never fails the caller.
func (t *Tracker) LogPrediction(ctx context.Context, name string, input, output map[string]any, tags map[string]string) bool {
	if t == nil {
		return false
	}
	s := t.StartRun(name, RunPrediction)
	s.SetTags(tags)
	s.SetIO(input, output)
	if err := s.End(ctx); err != nil {
		t.fail(err, "Prediction not logged", name)
		return false
	}
	return true
}

// GetModel returns the model of the most recent training run of name
// tagged with stage. An empty stage means Production.
func (t *Tracker) GetModel(ctx context.Context, name, stage string) (model.Backend, error) {
	if stage == "" {
		stage = common.DefaultStage
	}
	runs, err := t.store.Runs(ctx, Query{
		Model: name,
		Type:  RunTraining,
		Tags:  map[string]string{common.TagStage: stage},
		Limit: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: %s at stage %s", ErrNotFound, name, stage)
	}
	data, err := t.store.Artifact(ctx, runs[0].ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("fetch artifact: %w", err)
	}
	return model.DecodeArtifact(data)
}
