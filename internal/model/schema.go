package model

import (
	"errors"
	"fmt"
)

// Kind selects the backend variant.
type Kind string

const (
	KindClassifier Kind = "classifier"
	KindRegressor  Kind = "regressor"
)

// DefaultPoolGrid is the pooled grid size used when a classifier spec leaves it unset.
const DefaultPoolGrid = 8

// Field declares one regressor input. Categorical fields carry a closed
// vocabulary; values outside it encode as all-zero.
type Field struct {
	Name        string   `json:"name"`
	Categorical bool     `json:"categorical,omitempty"`
	Vocabulary  []string `json:"vocabulary,omitempty"`
}

// Spec declares a model: its name, kind and input/output contract.
type Spec struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`

	// classifier
	Labels   []string `json:"labels,omitempty"`
	Height   int      `json:"height,omitempty"`
	Width    int      `json:"width,omitempty"`
	Channels int      `json:"channels,omitempty"`
	PoolGrid int      `json:"pool_grid,omitempty"`

	// regressor
	Fields      []Field `json:"fields,omitempty"`
	NonNegative bool    `json:"non_negative,omitempty"`
}

var ErrInvalidSpec = errors.New("invalid model spec")

// Validate checks the declaration is internally consistent for its kind.
func (s Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidSpec)
	}
	switch s.Kind {
	case KindClassifier:
		if len(s.Labels) < 2 {
			return fmt.Errorf("%w: %s needs at least two labels", ErrInvalidSpec, s.Name)
		}
		if s.Height <= 0 || s.Width <= 0 || s.Channels <= 0 {
			return fmt.Errorf("%w: %s has no input shape", ErrInvalidSpec, s.Name)
		}
		g := s.grid()
		if s.Height < g || s.Width < g {
			return fmt.Errorf("%w: %s input %dx%d smaller than pool grid %d", ErrInvalidSpec, s.Name, s.Height, s.Width, g)
		}
	case KindRegressor:
		if len(s.Fields) == 0 {
			return fmt.Errorf("%w: %s has no fields", ErrInvalidSpec, s.Name)
		}
		seen := make(map[string]bool, len(s.Fields))
		for _, f := range s.Fields {
			if f.Name == "" || seen[f.Name] {
				return fmt.Errorf("%w: %s has empty or duplicate field %q", ErrInvalidSpec, s.Name, f.Name)
			}
			seen[f.Name] = true
		}
	default:
		return fmt.Errorf("%w: %s has unknown kind %q", ErrInvalidSpec, s.Name, s.Kind)
	}
	return nil
}

func (s Spec) grid() int {
	if s.PoolGrid > 0 {
		return s.PoolGrid
	}
	return DefaultPoolGrid
}

// poolCell is the max-pool kernel and stride that brings the shorter side
// down to the grid.
func (s Spec) poolCell() int {
	return min(s.Height, s.Width) / s.grid()
}

// classifierInputs is the width of the flattened pooled feature maps.
func (s Spec) classifierInputs() int {
	cell := s.poolCell()
	return convFilters * (s.Height / cell) * (s.Width / cell)
}

// regressorInputs is the encoded feature width.
func (s Spec) regressorInputs() int {
	n := 0
	for _, f := range s.Fields {
		if f.Categorical {
			n += len(f.Vocabulary)
		} else {
			n++
		}
	}
	return n
}

// Compatible reports whether other can stand in for s: same kind and the
// same input/output contract. Learned vocabularies may differ.
func (s Spec) Compatible(other Spec) error {
	if s.Kind != other.Kind {
		return fmt.Errorf("%w: kind %s, want %s", ErrShape, other.Kind, s.Kind)
	}
	switch s.Kind {
	case KindClassifier:
		if len(s.Labels) != len(other.Labels) {
			return fmt.Errorf("%w: %d labels, want %d", ErrShape, len(other.Labels), len(s.Labels))
		}
		for i := range s.Labels {
			if s.Labels[i] != other.Labels[i] {
				return fmt.Errorf("%w: label %d is %q, want %q", ErrShape, i, other.Labels[i], s.Labels[i])
			}
		}
		if s.Height != other.Height || s.Width != other.Width || s.Channels != other.Channels {
			return fmt.Errorf("%w: input %dx%dx%d, want %dx%dx%d", ErrShape,
				other.Height, other.Width, other.Channels, s.Height, s.Width, s.Channels)
		}
	case KindRegressor:
		if len(s.Fields) != len(other.Fields) {
			return fmt.Errorf("%w: %d fields, want %d", ErrShape, len(other.Fields), len(s.Fields))
		}
		for i := range s.Fields {
			a, b := s.Fields[i], other.Fields[i]
			if a.Name != b.Name || a.Categorical != b.Categorical {
				return fmt.Errorf("%w: field %d is %q, want %q", ErrShape, i, b.Name, a.Name)
			}
		}
	}
	return nil
}
