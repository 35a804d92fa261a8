package model

import (
	"errors"
	"fmt"
)

var (
	// ErrShape reports an input that does not match the declared contract.
	ErrShape = errors.New("input shape mismatch")
	// ErrNotTrainable reports a dataset that cannot train a model.
	ErrNotTrainable = errors.New("dataset cannot train model")
)

// Backend is a loaded model. The only implementations are *Classifier and
// *Regressor; callers switch on the concrete type or use the typed registry
// accessors.
type Backend interface {
	Spec() Spec
	// Degraded is true for an untrained default standing in for a model
	// whose artifact could not be loaded.
	Degraded() bool
	MarshalArtifact() ([]byte, error)

	sealed()
}

// NewDefault builds the untrained default architecture for spec. Its
// output layer is zeroed so classifiers output uniform probabilities and
// regressors output zero.
func NewDefault(spec Spec) (Backend, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	switch spec.Kind {
	case KindClassifier:
		return newClassifier(spec), nil
	case KindRegressor:
		return newRegressor(spec), nil
	}
	return nil, fmt.Errorf("%w: kind %q", ErrInvalidSpec, spec.Kind)
}

// Hyperparameters drive Train on either kind.
type Hyperparameters struct {
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size"`
	LearningRate float64 `json:"learning_rate"`
	L2           float64 `json:"l2"`
	// Patience is the number of epochs without validation improvement
	// tolerated before training stops.
	Patience int    `json:"patience"`
	Seed     uint64 `json:"seed"`
}

// DefaultHyperparameters returns sensible settings for kind.
func DefaultHyperparameters(kind Kind) Hyperparameters {
	hp := Hyperparameters{
		Epochs:    50,
		BatchSize: 32,
		L2:        1e-4,
		Patience:  5,
		Seed:      42,
	}
	if kind == KindClassifier {
		hp.LearningRate = 0.01
	} else {
		hp.LearningRate = 0.05
	}
	return hp
}

func (hp Hyperparameters) normalized() Hyperparameters {
	if hp.Epochs <= 0 {
		hp.Epochs = 50
	}
	if hp.BatchSize <= 0 {
		hp.BatchSize = 32
	}
	if hp.LearningRate <= 0 {
		hp.LearningRate = 0.05
	}
	if hp.Patience <= 0 {
		hp.Patience = 5
	}
	if hp.L2 < 0 {
		hp.L2 = 0
	}
	return hp
}

// EpochStats records one epoch of training.
type EpochStats struct {
	Epoch     int     `json:"epoch"`
	TrainLoss float64 `json:"train_loss"`
	ValLoss   float64 `json:"val_loss"`
	ValScore  float64 `json:"val_score"`
}

// TrainingReport summarises a Train call. BestScore is validation accuracy
// for classifiers and validation R² for regressors.
type TrainingReport struct {
	BestEpoch int          `json:"best_epoch"`
	EpochsRun int          `json:"epochs_run"`
	BestScore float64      `json:"best_score"`
	BestLoss  float64      `json:"best_loss"`
	Samples   int          `json:"samples"`
	History   []EpochStats `json:"history"`
}

// Metrics flattens the report for an experiment log.
func (r TrainingReport) Metrics(kind Kind) map[string]float64 {
	score := "val_r2"
	if kind == KindClassifier {
		score = "val_accuracy"
	}
	return map[string]float64{
		score:              r.BestScore,
		"val_loss":         r.BestLoss,
		"best_epoch":       float64(r.BestEpoch),
		"epochs_run":       float64(r.EpochsRun),
		"training_samples": float64(r.Samples),
	}
}

// earlyStopper keeps the best epoch seen and signals when patience runs out.
type earlyStopper struct {
	patience  int
	best      float64
	bestLoss  float64
	bestEpoch int
	stale     int
	started   bool
}

// observe returns improved=true when score beats the best so far and
// stop=true once patience epochs have passed without improvement.
func (e *earlyStopper) observe(epoch int, score, loss float64) (improved, stop bool) {
	if !e.started || score > e.best {
		e.started = true
		e.best, e.bestLoss, e.bestEpoch = score, loss, epoch
		e.stale = 0
		return true, false
	}
	e.stale++
	return false, e.stale >= e.patience
}
