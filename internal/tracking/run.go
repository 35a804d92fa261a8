// Package tracking records training and prediction runs so that any
// prediction can be traced to the model that produced it, and trained
// models can be fetched back by stage.
package tracking

import (
	"context"
	"errors"
	"time"
)

// RunType distinguishes training runs from prediction logs.
type RunType string

const (
	RunTraining   RunType = "training"
	RunPrediction RunType = "prediction"
)

var (
	ErrNotFound   = errors.New("tracking: not found")
	ErrRunExists  = errors.New("tracking: run already recorded")
	ErrRunClosed  = errors.New("tracking: run already ended")
	ErrNoArtifact = errors.New("tracking: run has no model")
)

// Run is an immutable record once stored.
type Run struct {
	ID          string             `json:"id"`
	Experiment  string             `json:"experiment"`
	Model       string             `json:"model"`
	Type        RunType            `json:"type"`
	Params      map[string]string  `json:"params,omitempty"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	Input       map[string]any     `json:"input,omitempty"`
	Output      map[string]any     `json:"output,omitempty"`
	Tags        map[string]string  `json:"tags,omitempty"`
	ArtifactRef string             `json:"artifact_ref,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// Query selects runs. Zero fields match everything.
type Query struct {
	Model string
	Type  RunType
	Tags  map[string]string
	Limit int
}

// Matches reports whether run satisfies q, ignoring Limit.
func (q Query) Matches(run Run) bool {
	if q.Model != "" && run.Model != q.Model {
		return false
	}
	if q.Type != "" && run.Type != q.Type {
		return false
	}
	for k, v := range q.Tags {
		if run.Tags[k] != v {
			return false
		}
	}
	return true
}

// Store persists runs. PutRun writes the run and its artifact atomically
// and refuses to overwrite an existing id. Runs returns matches newest
// first.
type Store interface {
	PutRun(ctx context.Context, run Run, artifact []byte) error
	Runs(ctx context.Context, q Query) ([]Run, error)
	Artifact(ctx context.Context, runID string) ([]byte, error)
}

// Observer is notified of every run after it is stored. Implementations
// must not block.
type Observer interface {
	ObserveRun(Run)
}
