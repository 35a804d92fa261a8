package ml

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"sokoyetu-ai/internal/model"
)

var (
	ErrUnknownModel = errors.New("unknown model")
	ErrKindMismatch = errors.New("model kind mismatch")
)

// Config declares the models a Registry serves.
type Config struct {
	ArtifactRoot string
	Specs        []model.Spec
	Metrics      MetricsInterface
	// ReadArtifact overrides how artifact bytes are read. Defaults to
	// os.ReadFile.
	ReadArtifact func(path string) ([]byte, error)
}

type entry struct {
	backend  model.Backend
	path     string
	loadedAt time.Time
	loadErr  string
}

// Registry caches one backend per declared model name.
type Registry struct {
	root    string
	specs   map[string]model.Spec
	read    func(string) ([]byte, error)
	metrics MetricsInterface

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]*entry
	loads   map[string]int
	// gen counts invalidations per name. A load only lands in entries if
	// no invalidation happened while it ran.
	gen map[string]uint64
}

// ModelInfo describes a registry entry.
type ModelInfo struct {
	Name         string     `json:"name"`
	Kind         model.Kind `json:"kind"`
	Loaded       bool       `json:"loaded"`
	Degraded     bool       `json:"degraded"`
	ArtifactPath string     `json:"artifact_path"`
	LoadedAt     time.Time  `json:"loaded_at,omitzero"`
	Loads        int        `json:"loads"`
	LoadError    string     `json:"load_error,omitempty"`
}

// NewRegistry validates the declarations and returns an empty cache.
func NewRegistry(cfg Config) (*Registry, error) {
	r := &Registry{
		root:    cfg.ArtifactRoot,
		specs:   make(map[string]model.Spec, len(cfg.Specs)),
		read:    cfg.ReadArtifact,
		metrics: cfg.Metrics,
		entries: make(map[string]*entry),
		loads:   make(map[string]int),
		gen:     make(map[string]uint64),
	}
	for _, s := range cfg.Specs {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.specs[s.Name]; dup {
			return nil, fmt.Errorf("model %s declared twice", s.Name)
		}
		r.specs[s.Name] = s
	}
	return r, nil
}

// Resolve returns the backend for name, loading it on first use. Callers
// racing on a cold entry share a single load and receive the same
// instance.
func (r *Registry) Resolve(ctx context.Context, name string) (model.Backend, error) {
	spec, ok := r.specs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	if b := r.cached(name); b != nil {
		return b, nil
	}

	ch := r.group.DoChan(name, func() (any, error) {
		if b := r.cached(name); b != nil {
			return b, nil
		}
		r.mu.RLock()
		gen := r.gen[name]
		r.mu.RUnlock()
		e := r.load(spec)
		r.mu.Lock()
		r.loads[name]++
		if r.gen[name] == gen {
			r.entries[name] = e
		}
		r.mu.Unlock()
		return e.backend, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(model.Backend), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) cached(name string) model.Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.backend
	}
	return nil
}

// Classifier resolves name and requires a classifier.
func (r *Registry) Classifier(ctx context.Context, name string) (*model.Classifier, error) {
	b, err := r.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	c, ok := b.(*model.Classifier)
	if !ok {
		return nil, fmt.Errorf("%w: %s is a %s", ErrKindMismatch, name, b.Spec().Kind)
	}
	return c, nil
}

// Regressor resolves name and requires a regressor.
func (r *Registry) Regressor(ctx context.Context, name string) (*model.Regressor, error) {
	b, err := r.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	reg, ok := b.(*model.Regressor)
	if !ok {
		return nil, fmt.Errorf("%w: %s is a %s", ErrKindMismatch, name, b.Spec().Kind)
	}
	return reg, nil
}

// Invalidate drops the cached entry so the next Resolve loads again. A
// load already in flight is not cancelled, but its result is no longer
// cached.
func (r *Registry) Invalidate(name string) {
	r.mu.Lock()
	delete(r.entries, name)
	r.gen[name]++
	r.mu.Unlock()
	r.group.Forget(name)
}

// Reload invalidates name and loads it again.
func (r *Registry) Reload(ctx context.Context, name string) (model.Backend, error) {
	if _, ok := r.specs[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	r.Invalidate(name)
	return r.Resolve(ctx, name)
}

// Warm resolves every declared model.
func (r *Registry) Warm(ctx context.Context) error {
	for _, name := range r.Names() {
		if _, err := r.Resolve(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Loads reports how many times name has been loaded.
func (r *Registry) Loads(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loads[name]
}

// Names lists the declared models in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.specs))
	for n := range r.specs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Spec returns the declaration of name.
func (r *Registry) Spec(name string) (model.Spec, bool) {
	s, ok := r.specs[name]
	return s, ok
}

// Info describes name without loading it.
func (r *Registry) Info(name string) (ModelInfo, error) {
	spec, ok := r.specs[name]
	if !ok {
		return ModelInfo{}, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	info := ModelInfo{
		Name:         name,
		Kind:         spec.Kind,
		ArtifactPath: ArtifactPath(r.root, name),
		Loads:        r.loads[name],
	}
	if e, ok := r.entries[name]; ok {
		info.Loaded = true
		info.Degraded = e.backend.Degraded()
		info.LoadedAt = e.loadedAt
		info.LoadError = e.loadErr
	}
	return info, nil
}
