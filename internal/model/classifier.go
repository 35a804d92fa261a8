package model

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/optim"
	"github.com/born-ml/born/tensor"
)

// convFilters is the number of 3x3 filters in the classifier's conv layer.
const convFilters = 8

// Classification is a classifier output over the declared labels.
type Classification struct {
	Index         int       `json:"index"`
	Label         string    `json:"label"`
	Probabilities []float64 `json:"probabilities"`
}

// Confidence is the probability of the predicted class.
func (c Classification) Confidence() float64 {
	if c.Index < 0 || c.Index >= len(c.Probabilities) {
		return 0
	}
	return c.Probabilities[c.Index]
}

// LabeledImage is one classifier training sample.
type LabeledImage struct {
	Image Image
	Label int
}

// Classifier is a small CNN: a 3x3 convolution, max pooling down to the
// declared grid and a linear layer over the pooled maps. Calls are
// serialised, so one instance may serve concurrent callers.
type Classifier struct {
	spec     Spec
	dev      *device
	conv     *nn.Conv2D[*device]
	pool     *nn.MaxPool2D[*device]
	fc       *nn.Linear[*device]
	mu       sync.Mutex
	degraded bool
}

var _ Backend = (*Classifier)(nil)

// newClassifier builds the network with a zeroed output layer, so it
// outputs uniform probabilities until trained.
func newClassifier(spec Spec) *Classifier {
	dev := newDevice()
	cell := spec.poolCell()
	c := &Classifier{
		spec:     spec,
		dev:      dev,
		conv:     nn.NewConv2D(spec.Channels, convFilters, 3, 3, 1, 1, true, dev),
		pool:     nn.NewMaxPool2D(cell, cell, dev),
		fc:       nn.NewLinear(spec.classifierInputs(), len(spec.Labels), dev),
		degraded: true,
	}
	zeroParams(c.fc.Parameters()...)
	return c
}

// NewClassifier returns an untrained classifier for spec.
func NewClassifier(spec Spec) (*Classifier, error) {
	if spec.Kind != KindClassifier {
		return nil, fmt.Errorf("%w: %s is a %s", ErrInvalidSpec, spec.Name, spec.Kind)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return newClassifier(spec), nil
}

func (c *Classifier) Spec() Spec     { return c.spec }
func (c *Classifier) Degraded() bool { return c.degraded }
func (c *Classifier) sealed()        {}

func (c *Classifier) params() parameters {
	ps := append(parameters{}, c.conv.Parameters()...)
	return append(ps, c.fc.Parameters()...)
}

// Infer classifies img. The tensor must match the declared shape.
func (c *Classifier) Infer(img Image) (Classification, error) {
	if err := c.check(img); err != nil {
		return Classification{}, err
	}
	x, err := c.batch([]Image{img})
	if err != nil {
		return Classification{}, err
	}

	c.mu.Lock()
	logits := c.forward(x)
	c.mu.Unlock()

	if !finite(logits.Data()) {
		return Classification{}, fmt.Errorf("%w: %s logits", ErrNonFinite, c.spec.Name)
	}
	// softmax runs on the bare CPU backend; nothing here needs a gradient
	probs := tensor.New[float32](logits.Raw(), c.dev.Inner()).Softmax(1).Data()
	if !finite(probs) {
		return Classification{}, fmt.Errorf("%w: %s probabilities", ErrNonFinite, c.spec.Name)
	}
	out := make([]float64, len(probs))
	for i, p := range probs {
		out[i] = float64(p)
	}
	idx := argmax(out)
	return Classification{Index: idx, Label: c.spec.Labels[idx], Probabilities: out}, nil
}

func (c *Classifier) forward(x *tensor.Tensor[float32, *device]) *tensor.Tensor[float32, *device] {
	h := c.pool.Forward(c.conv.Forward(x))
	return c.fc.Forward(h.Reshape(h.Shape()[0], c.spec.classifierInputs()))
}

func (c *Classifier) check(img Image) error {
	if err := img.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrShape, err)
	}
	if img.Height != c.spec.Height || img.Width != c.spec.Width || img.Channels != c.spec.Channels {
		return fmt.Errorf("%w: got %dx%dx%d, %s expects %dx%dx%d", ErrShape,
			img.Height, img.Width, img.Channels, c.spec.Name, c.spec.Height, c.spec.Width, c.spec.Channels)
	}
	return nil
}

// batch packs HWC images into one NCHW tensor.
func (c *Classifier) batch(imgs []Image) (*tensor.Tensor[float32, *device], error) {
	h, w, ch := c.spec.Height, c.spec.Width, c.spec.Channels
	data := make([]float32, 0, len(imgs)*h*w*ch)
	for _, img := range imgs {
		for k := 0; k < ch; k++ {
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					data = append(data, img.At(y, x, k))
				}
			}
		}
	}
	return tensor.FromSlice(data, tensor.Shape{len(imgs), ch, h, w}, c.dev)
}

func labelTensor(labels []int, dev *device) (*tensor.Tensor[int32, *device], error) {
	data := make([]int32, len(labels))
	for i, l := range labels {
		data[i] = int32(l)
	}
	return tensor.FromSlice(data, tensor.Shape{len(labels)}, dev)
}

// argmax returns the first index of the maximum.
func argmax(p []float64) int {
	best := 0
	for i := 1; i < len(p); i++ {
		if p[i] > p[best] {
			best = i
		}
	}
	return best
}

// Train fits the classifier with Adam on cross-entropy. It keeps the
// weights of the epoch with the best validation accuracy and stops once
// hp.Patience epochs pass without improvement. An empty validation set
// validates on the training set.
func (c *Classifier) Train(train, validation []LabeledImage, hp Hyperparameters) (TrainingReport, error) {
	if len(train) == 0 {
		return TrainingReport{}, fmt.Errorf("%w: no training samples", ErrNotTrainable)
	}
	hp = hp.normalized()
	if err := c.checkSet(train); err != nil {
		return TrainingReport{}, err
	}
	if len(validation) == 0 {
		validation = train
	} else if err := c.checkSet(validation); err != nil {
		return TrainingReport{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ps := c.params()
	criterion := nn.NewCrossEntropyLoss(c.dev)
	optimizer := optim.NewAdam(ps, optim.AdamConfig{LR: float32(hp.LearningRate)}, c.dev)

	rng := rand.New(rand.NewPCG(hp.Seed, hp.Seed^0x9e3779b97f4a7c15))
	order := make([]int, len(train))
	for i := range order {
		order[i] = i
	}

	stop := earlyStopper{patience: hp.Patience}
	report := TrainingReport{Samples: len(train)}
	best := snapshotParams(ps)

	for epoch := 1; epoch <= hp.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		var trainLoss float64
		for start := 0; start < len(order); start += hp.BatchSize {
			end := min(start+hp.BatchSize, len(order))
			x, y, err := c.encode(train, order[start:end])
			if err != nil {
				return TrainingReport{}, err
			}
			optimizer.ZeroGrad()
			var grads map[*tensor.RawTensor]*tensor.RawTensor
			record(c.dev, func() {
				loss := criterion.Forward(c.forward(x), y)
				trainLoss += float64(loss.Data()[0]) * float64(end-start)
				grads = autodiff.Backward(loss, c.dev)
			})
			decay(ps, grads, float32(hp.L2))
			optimizer.Step(grads)
		}

		valLoss, valAcc, err := c.evaluate(criterion, validation)
		if err != nil {
			return TrainingReport{}, err
		}
		report.History = append(report.History, EpochStats{
			Epoch:     epoch,
			TrainLoss: trainLoss / float64(len(train)),
			ValLoss:   valLoss,
			ValScore:  valAcc,
		})
		report.EpochsRun = epoch
		improved, done := stop.observe(epoch, valAcc, valLoss)
		if improved {
			best = snapshotParams(ps)
		}
		if done {
			break
		}
	}

	restoreParams(ps, best)
	c.degraded = false
	report.BestEpoch, report.BestScore, report.BestLoss = stop.bestEpoch, stop.best, stop.bestLoss
	return report, nil
}

func (c *Classifier) checkSet(set []LabeledImage) error {
	for i, s := range set {
		if s.Label < 0 || s.Label >= len(c.spec.Labels) {
			return fmt.Errorf("%w: sample %d has label %d", ErrNotTrainable, i, s.Label)
		}
		if err := c.check(s.Image); err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
	}
	return nil
}

func (c *Classifier) encode(set []LabeledImage, idx []int) (*tensor.Tensor[float32, *device], *tensor.Tensor[int32, *device], error) {
	imgs := make([]Image, len(idx))
	labels := make([]int, len(idx))
	for i, j := range idx {
		imgs[i], labels[i] = set[j].Image, set[j].Label
	}
	x, err := c.batch(imgs)
	if err != nil {
		return nil, nil, err
	}
	y, err := labelTensor(labels, c.dev)
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

// evaluate returns mean cross-entropy and accuracy over set, batched at
// evalBatch images.
func (c *Classifier) evaluate(criterion *nn.CrossEntropyLoss[*device], set []LabeledImage) (loss, accuracy float64, err error) {
	const evalBatch = 256
	idx := make([]int, len(set))
	for i := range idx {
		idx[i] = i
	}
	for start := 0; start < len(idx); start += evalBatch {
		end := min(start+evalBatch, len(idx))
		x, y, err := c.encode(set, idx[start:end])
		if err != nil {
			return 0, 0, err
		}
		logits := c.forward(x)
		n := float64(end - start)
		loss += float64(criterion.Forward(logits, y).Data()[0]) * n
		accuracy += float64(nn.Accuracy(logits, y)) * n
	}
	n := float64(len(set))
	return loss / n, accuracy / n, nil
}
