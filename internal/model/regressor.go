package model

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/optim"
	"github.com/born-ml/born/tensor"
)

// UnknownCategory is the value a missing categorical feature encodes as.
const UnknownCategory = "unknown"

// Sample is one regressor training example.
type Sample struct {
	Row    FeatureRow
	Target float64
}

// Regressor is a linear layer over standardised numeric fields and one-hot
// categorical fields. Calls are serialised, so one instance may serve
// concurrent callers.
type Regressor struct {
	spec     Spec
	dev      *device
	fc       *nn.Linear[*device]
	means    []float64 // per field; unused for categorical fields
	scales   []float64
	mu       sync.Mutex
	degraded bool
}

var _ Backend = (*Regressor)(nil)

func newRegressor(spec Spec) *Regressor {
	r := &Regressor{
		spec:     spec,
		dev:      newDevice(),
		means:    make([]float64, len(spec.Fields)),
		scales:   make([]float64, len(spec.Fields)),
		degraded: true,
	}
	for i := range r.scales {
		r.scales[i] = 1
	}
	r.resize()
	return r
}

// resize rebuilds the zeroed layer when the encoded width changes.
func (r *Regressor) resize() {
	w := max(r.spec.regressorInputs(), 1)
	if r.fc != nil && r.fc.InFeatures() == w {
		return
	}
	r.fc = nn.NewLinear(w, 1, r.dev)
	zeroParams(r.fc.Parameters()...)
}

// NewRegressor returns an untrained regressor for spec.
func NewRegressor(spec Spec) (*Regressor, error) {
	if spec.Kind != KindRegressor {
		return nil, fmt.Errorf("%w: %s is a %s", ErrInvalidSpec, spec.Name, spec.Kind)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return newRegressor(spec), nil
}

func (r *Regressor) Spec() Spec     { return r.spec }
func (r *Regressor) Degraded() bool { return r.degraded }
func (r *Regressor) sealed()        {}

// Infer predicts a scalar for row. Fields missing from the row take their
// defaults (0, or the unknown category).
func (r *Regressor) Infer(row FeatureRow) (float64, error) {
	x, err := r.encode(row)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	out, err := r.predict([][]float32{x})
	r.mu.Unlock()
	if err != nil {
		return 0, err
	}
	y := float64(out[0])
	if !finite(out) {
		return 0, fmt.Errorf("%w: %s output", ErrNonFinite, r.spec.Name)
	}
	if r.spec.NonNegative && y < 0 {
		y = 0
	}
	return y, nil
}

func (r *Regressor) rows(xs [][]float32) (*tensor.Tensor[float32, *device], error) {
	width := r.fc.InFeatures()
	data := make([]float32, 0, len(xs)*width)
	for _, x := range xs {
		data = append(data, x...)
		// a spec with no encoded inputs still feeds one zero column
		for range width - len(x) {
			data = append(data, 0)
		}
	}
	return tensor.FromSlice(data, tensor.Shape{len(xs), width}, r.dev)
}

func (r *Regressor) predict(xs [][]float32) ([]float32, error) {
	x, err := r.rows(xs)
	if err != nil {
		return nil, err
	}
	return r.fc.Forward(x).Data(), nil
}

func (r *Regressor) encode(row FeatureRow) ([]float32, error) {
	out := make([]float32, 0, r.spec.regressorInputs())
	for i, f := range r.spec.Fields {
		v, ok := row.Get(f.Name)
		if ok && v.Categorical != f.Categorical {
			return nil, fmt.Errorf("%w: field %s categorical=%v, got categorical=%v", ErrShape, f.Name, f.Categorical, v.Categorical)
		}
		if f.Categorical {
			val := UnknownCategory
			if ok && v.Cat != "" {
				val = v.Cat
			}
			hot := slices.Index(f.Vocabulary, val)
			for j := range f.Vocabulary {
				if j == hot {
					out = append(out, 1)
				} else {
					out = append(out, 0)
				}
			}
			continue
		}
		num := 0.0
		if ok {
			num = v.Num
		}
		if math.IsNaN(num) || math.IsInf(num, 0) {
			return nil, fmt.Errorf("%w: field %s is not finite", ErrShape, f.Name)
		}
		out = append(out, float32((num-r.means[i])/r.scales[i]))
	}
	return out, nil
}

// Train fits the regressor with minibatch SGD on squared error. Numeric
// scalers and categorical vocabularies are learned from the training set
// when the declaration leaves them empty. The epoch with the best validation
// R² is kept; training stops after hp.Patience epochs without improvement.
func (r *Regressor) Train(train, validation []Sample, hp Hyperparameters) (TrainingReport, error) {
	if len(train) == 0 {
		return TrainingReport{}, fmt.Errorf("%w: no training samples", ErrNotTrainable)
	}
	hp = hp.normalized()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.fit(train)

	xs, ys, err := r.encodeSet(train)
	if err != nil {
		return TrainingReport{}, err
	}
	vx, vy := xs, ys
	if len(validation) > 0 {
		if vx, vy, err = r.encodeSet(validation); err != nil {
			return TrainingReport{}, err
		}
	}

	ps := parameters(r.fc.Parameters())
	optimizer := optim.NewSGD(ps, optim.SGDConfig{LR: float32(hp.LearningRate)}, r.dev)
	criterion := nn.NewMSELoss(r.dev)

	rng := rand.New(rand.NewPCG(hp.Seed, hp.Seed^0x9e3779b97f4a7c15))
	order := make([]int, len(xs))
	for i := range order {
		order[i] = i
	}
	stop := earlyStopper{patience: hp.Patience}
	report := TrainingReport{Samples: len(xs)}
	best := snapshotParams(ps)

	for epoch := 1; epoch <= hp.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		var trainLoss float64
		for start := 0; start < len(order); start += hp.BatchSize {
			batch := order[start:min(start+hp.BatchSize, len(order))]
			bx := make([][]float32, len(batch))
			by := make([]float32, len(batch))
			for i, idx := range batch {
				bx[i], by[i] = xs[idx], ys[idx]
			}
			x, err := r.rows(bx)
			if err != nil {
				return TrainingReport{}, err
			}
			y, err := tensor.FromSlice(by, tensor.Shape{len(batch), 1}, r.dev)
			if err != nil {
				return TrainingReport{}, err
			}

			optimizer.ZeroGrad()
			var grads map[*tensor.RawTensor]*tensor.RawTensor
			record(r.dev, func() {
				diff := r.fc.Forward(x).Sub(y)
				// d(mean squared error)/d(diff) seeds the tape
				seed, err := tensor.NewRaw(diff.Shape(), tensor.Float32, r.dev.Device())
				if err != nil {
					return
				}
				g := seed.AsFloat32()
				for i, d := range diff.Data() {
					trainLoss += float64(d) * float64(d)
					g[i] = 2 * d / float32(len(batch))
				}
				grads = r.dev.Tape().Backward(seed, r.dev)
			})
			if grads == nil {
				return TrainingReport{}, fmt.Errorf("%s: no gradient for batch at %d", r.spec.Name, start)
			}
			decay(ps, grads, float32(hp.L2))
			optimizer.Step(grads)
		}

		mse, r2, err := r.evaluate(criterion, vx, vy)
		if err != nil {
			return TrainingReport{}, err
		}
		report.History = append(report.History, EpochStats{
			Epoch:     epoch,
			TrainLoss: trainLoss / float64(len(xs)),
			ValLoss:   mse,
			ValScore:  r2,
		})
		report.EpochsRun = epoch
		improved, done := stop.observe(epoch, r2, mse)
		if improved {
			best = snapshotParams(ps)
		}
		if done {
			break
		}
	}

	restoreParams(ps, best)
	r.degraded = false
	report.BestEpoch, report.BestScore, report.BestLoss = stop.bestEpoch, stop.best, stop.bestLoss
	return report, nil
}

// fit learns per-field scalers and fills empty vocabularies, then resizes
// the layer to the encoded width.
func (r *Regressor) fit(train []Sample) {
	n := float64(len(train))
	r.spec.Fields = slices.Clone(r.spec.Fields)
	for i := range r.spec.Fields {
		f := &r.spec.Fields[i]
		if f.Categorical {
			if len(f.Vocabulary) == 0 {
				var vocab []string
				seen := map[string]bool{}
				for _, s := range train {
					v := UnknownCategory
					if feat, ok := s.Row.Get(f.Name); ok && feat.Cat != "" {
						v = feat.Cat
					}
					if !seen[v] {
						seen[v] = true
						vocab = append(vocab, v)
					}
				}
				slices.Sort(vocab)
				f.Vocabulary = vocab
			}
			continue
		}
		var sum, sq float64
		for _, s := range train {
			feat, _ := s.Row.Get(f.Name)
			sum += feat.Num
		}
		mean := sum / n
		for _, s := range train {
			feat, _ := s.Row.Get(f.Name)
			sq += (feat.Num - mean) * (feat.Num - mean)
		}
		std := math.Sqrt(sq / n)
		if std < 1e-12 {
			std = 1
		}
		r.means[i], r.scales[i] = mean, std
	}
	r.resize()
}

func (r *Regressor) encodeSet(set []Sample) ([][]float32, []float32, error) {
	xs := make([][]float32, len(set))
	ys := make([]float32, len(set))
	for i, s := range set {
		x, err := r.encode(s.Row)
		if err != nil {
			return nil, nil, fmt.Errorf("sample %d: %w", i, err)
		}
		xs[i], ys[i] = x, float32(s.Target)
	}
	return xs, ys, nil
}

// evaluate returns mean squared error and R². A constant target scores 1
// when predicted exactly and 0 otherwise.
func (r *Regressor) evaluate(criterion *nn.MSELoss[*device], xs [][]float32, ys []float32) (mse, r2 float64, err error) {
	x, err := r.rows(xs)
	if err != nil {
		return 0, 0, err
	}
	target, err := tensor.FromSlice(append([]float32(nil), ys...), tensor.Shape{len(ys), 1}, r.dev)
	if err != nil {
		return 0, 0, err
	}
	pred := r.fc.Forward(x)
	mse = float64(criterion.Forward(pred, target).Data()[0])

	var mean float64
	for _, y := range ys {
		mean += float64(y)
	}
	mean /= float64(len(ys))
	var ssRes, ssTot float64
	for i, p := range pred.Data() {
		d := float64(p) - float64(ys[i])
		ssRes += d * d
		ssTot += (float64(ys[i]) - mean) * (float64(ys[i]) - mean)
	}
	switch {
	case ssTot > 0:
		r2 = 1 - ssRes/ssTot
	case ssRes < 1e-12:
		r2 = 1
	}
	return mse, r2, nil
}
