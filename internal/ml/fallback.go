package ml

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"sokoyetu-ai/internal/model"
)

// ArtifactPath is where the artifact of a named model lives under root.
func ArtifactPath(root, name string) string {
	return filepath.Join(root, name+".json")
}

// load reads and decodes the artifact for spec. Any failure yields the
// untrained default, marked degraded, with the cause recorded.
func (r *Registry) load(spec model.Spec) *entry {
	start := time.Now()
	path := ArtifactPath(r.root, spec.Name)

	b, err := r.decode(path, spec)
	e := &entry{backend: b, path: path}
	if err != nil {
		log.Warn().Err(err).Str("model", spec.Name).Str("path", path).
			Msg("Model artifact unavailable, using untrained default")
		if r.metrics != nil {
			r.metrics.MLFallbackUseInc()
		}
		// specs are validated at construction
		e.backend, _ = model.NewDefault(spec)
		e.loadErr = err.Error()
	} else {
		log.Info().Str("model", spec.Name).Str("path", path).Msg("Model artifact loaded")
	}

	e.loadedAt = time.Now()
	if r.metrics != nil {
		r.metrics.MLModelLoadsInc()
		r.metrics.MLLoadLatencyObserve(time.Since(start).Seconds())
	}
	return e
}

func (r *Registry) decode(path string, spec model.Spec) (model.Backend, error) {
	read := r.read
	if read == nil {
		read = os.ReadFile
	}
	data, err := read(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	b, err := model.DecodeFor(data, spec)
	if err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	return b, nil
}
