// Package ml resolves declared models to loaded backends. Each model is
// loaded at most once per process, concurrent first requests share the
// load, and an artifact that cannot be read or decoded is replaced by the
// untrained default of the declared kind.
package ml

import (
	"context"

	"sokoyetu-ai/internal/model"
)

// Resolver hands out loaded backends by model name.
type Resolver interface {
	Resolve(ctx context.Context, name string) (model.Backend, error)
	Classifier(ctx context.Context, name string) (*model.Classifier, error)
	Regressor(ctx context.Context, name string) (*model.Regressor, error)
}

// MetricsInterface receives registry instrumentation.
type MetricsInterface interface {
	MLModelLoadsInc()
	MLFallbackUseInc()
	MLLoadLatencyObserve(float64)
}

var _ Resolver = (*Registry)(nil)
