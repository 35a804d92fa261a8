package model

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

// ErrNonFinite reports a forward pass that produced NaN or Inf.
var ErrNonFinite = errors.New("non-finite model output")

// device is the tensor backend every model runs on: the pure Go CPU
// backend behind a gradient tape. The tape only records while training.
type device = autodiff.Backend[*cpu.Backend]

func newDevice() *device {
	return autodiff.New(cpu.New())
}

type parameters = []*nn.Parameter[*device]

// param is one serialised tensor of a model.
type param struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

func exportParams(ps parameters) []param {
	out := make([]param, len(ps))
	for i, p := range ps {
		t := p.Tensor()
		data := t.Data()
		vals := make([]float64, len(data))
		for j, v := range data {
			vals[j] = float64(v)
		}
		out[i] = param{Name: p.Name(), Shape: append([]int(nil), t.Shape()...), Data: vals}
	}
	return out
}

// importParams copies saved values into ps. Counts, shapes and values are
// checked before anything is written.
func importParams(ps parameters, saved []param) error {
	if len(saved) != len(ps) {
		return fmt.Errorf("%w: %d parameter tensors, want %d", ErrArtifact, len(saved), len(ps))
	}
	for i, p := range ps {
		want := p.Tensor().Shape()
		if !want.Equal(tensor.Shape(saved[i].Shape)) {
			return fmt.Errorf("%w: %s has shape %v, want %v", ErrArtifact, p.Name(), saved[i].Shape, want)
		}
		if len(saved[i].Data) != want.NumElements() {
			return fmt.Errorf("%w: %s has %d values, want %d", ErrArtifact, p.Name(), len(saved[i].Data), want.NumElements())
		}
		for _, v := range saved[i].Data {
			if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > math.MaxFloat32 {
				return fmt.Errorf("%w: %s holds a non-finite value", ErrArtifact, p.Name())
			}
		}
	}
	for i, p := range ps {
		data := p.Tensor().Data()
		for j, v := range saved[i].Data {
			data[j] = float32(v)
		}
	}
	return nil
}

// snapshotParams copies the current values of ps.
func snapshotParams(ps parameters) [][]float32 {
	out := make([][]float32, len(ps))
	for i, p := range ps {
		out[i] = append([]float32(nil), p.Tensor().Data()...)
	}
	return out
}

func restoreParams(ps parameters, snap [][]float32) {
	for i, p := range ps {
		copy(p.Tensor().Data(), snap[i])
	}
}

func zeroParams(ps ...*nn.Parameter[*device]) {
	for _, p := range ps {
		clear(p.Tensor().Data())
	}
}

// decay adds l2*w to the gradient of every weight tensor. Biases are left
// alone.
func decay(ps parameters, grads map[*tensor.RawTensor]*tensor.RawTensor, l2 float32) {
	if l2 == 0 {
		return
	}
	for _, p := range ps {
		if !strings.HasSuffix(p.Name(), "weight") {
			continue
		}
		g, ok := grads[p.Tensor().Raw()]
		if !ok {
			continue
		}
		gd, w := g.AsFloat32(), p.Tensor().Data()
		for i := range gd {
			gd[i] += l2 * w[i]
		}
	}
}

func finite(vals []float32) bool {
	for _, v := range vals {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// record runs fn with the tape recording and clears it afterwards.
func record(dev *device, fn func()) {
	tape := dev.Tape()
	tape.StartRecording()
	defer func() {
		tape.StopRecording()
		tape.Clear()
	}()
	fn()
}
