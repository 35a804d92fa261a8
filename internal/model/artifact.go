package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
)

// ArtifactVersion is the current artifact format. Version 2 stores the
// network's parameter tensors by name and shape.
const ArtifactVersion = 2

var ErrArtifact = errors.New("invalid model artifact")

type artifact struct {
	FormatVersion int     `json:"format_version"`
	Kind          Kind    `json:"kind"`
	Spec          Spec    `json:"spec"`
	Params        []param `json:"params"`
	Scaler        *scaler `json:"scaler,omitempty"`
}

type scaler struct {
	Means  []float64 `json:"means"`
	Scales []float64 `json:"scales"`
}

// MarshalArtifact serialises the trained classifier.
func (c *Classifier) MarshalArtifact() ([]byte, error) {
	c.mu.Lock()
	params := exportParams(c.params())
	c.mu.Unlock()
	return json.Marshal(artifact{
		FormatVersion: ArtifactVersion,
		Kind:          KindClassifier,
		Spec:          c.spec,
		Params:        params,
	})
}

// MarshalArtifact serialises the trained regressor.
func (r *Regressor) MarshalArtifact() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return json.Marshal(artifact{
		FormatVersion: ArtifactVersion,
		Kind:          KindRegressor,
		Spec:          r.spec,
		Params:        exportParams(r.fc.Parameters()),
		Scaler:        &scaler{Means: slices.Clone(r.means), Scales: slices.Clone(r.scales)},
	})
}

// DecodeArtifact reconstructs a backend from its serialised form. The
// result is never degraded. Parameter tensors must match the architecture
// the spec implies and hold only finite values.
func DecodeArtifact(data []byte) (Backend, error) {
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifact, err)
	}
	if a.FormatVersion != ArtifactVersion {
		return nil, fmt.Errorf("%w: format version %d", ErrArtifact, a.FormatVersion)
	}
	if a.Kind != a.Spec.Kind {
		return nil, fmt.Errorf("%w: kind %q does not match spec kind %q", ErrArtifact, a.Kind, a.Spec.Kind)
	}
	if err := a.Spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifact, err)
	}

	switch a.Kind {
	case KindClassifier:
		c := newClassifier(a.Spec)
		if err := importParams(c.params(), a.Params); err != nil {
			return nil, err
		}
		c.degraded = false
		return c, nil

	case KindRegressor:
		if a.Scaler == nil || len(a.Scaler.Means) != len(a.Spec.Fields) || len(a.Scaler.Scales) != len(a.Spec.Fields) {
			return nil, fmt.Errorf("%w: scaler does not cover %d fields", ErrArtifact, len(a.Spec.Fields))
		}
		for i, s := range a.Scaler.Scales {
			if s == 0 || math.IsNaN(s) || math.IsInf(s, 0) || math.IsNaN(a.Scaler.Means[i]) || math.IsInf(a.Scaler.Means[i], 0) {
				return nil, fmt.Errorf("%w: bad scaler for field %s", ErrArtifact, a.Spec.Fields[i].Name)
			}
		}
		r := newRegressor(a.Spec)
		if err := importParams(r.fc.Parameters(), a.Params); err != nil {
			return nil, err
		}
		r.means, r.scales = a.Scaler.Means, a.Scaler.Scales
		r.degraded = false
		return r, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrArtifact, a.Kind)
}

// DecodeFor decodes data and checks it satisfies expected. The decoded
// backend takes the expected spec's name.
func DecodeFor(data []byte, expected Spec) (Backend, error) {
	b, err := DecodeArtifact(data)
	if err != nil {
		return nil, err
	}
	if err := expected.Compatible(b.Spec()); err != nil {
		return nil, err
	}
	switch v := b.(type) {
	case *Classifier:
		v.spec.Name = expected.Name
	case *Regressor:
		v.spec.Name = expected.Name
	}
	return b, nil
}
