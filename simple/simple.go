// Package simple is a small per-residue baseline: an MLP that maps a one-hot
// residue to its torsion angles. Any real structure model should beat it, so
// its validation angle error is a useful floor when checking a pipeline.
package simple

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/Noofbiz/foldBatch/datasets"
	"k8s.io/klog/v2"
)

// Config holds the model shape and SGD hyperparameters.
type Config struct {
	// HiddenSizes is the list of hidden layer sizes. Empty means []int{64}.
	HiddenSizes []int

	// InputDim defaults to datasets.VocabSize (one-hot residues).
	InputDim int

	// OutputDim defaults to datasets.NumAngles.
	OutputDim int

	LearningRate float64

	// Epochs defaults to 10.
	Epochs int

	// BatchSize defaults to 64 residues.
	BatchSize int

	// Seed controls weight init and shuffling. Zero means 1.
	Seed int64

	// ClipNorm bounds the L2 norm of each layer's averaged gradient. Zero
	// disables clipping.
	ClipNorm float32
}

// Dataset is what TrainWithDataset reads from. datasets.ResidueDataset
// satisfies it. Labels may contain NaN for unobserved angles; those entries
// contribute no gradient.
type Dataset interface {
	Len() int
	Batch(indices []int) ([][]float32, [][]float32, error)
}

// Model is a fully connected ReLU network with a linear output layer.
type Model struct {
	Config Config

	// input size, hidden sizes, output size
	layerSizes []int

	// weights[l] is [out][in] for layer l -> l+1
	weights [][][]float32
	biases  [][]float32

	rng *rand.Rand
}

// NewModel fills in defaults and initializes weights.
func NewModel(cfg Config) (*Model, error) {
	if len(cfg.HiddenSizes) == 0 {
		cfg.HiddenSizes = []int{64}
	}
	if cfg.InputDim == 0 {
		cfg.InputDim = datasets.VocabSize
	}
	if cfg.OutputDim == 0 {
		cfg.OutputDim = datasets.NumAngles
	}
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 0.01
	}
	if cfg.Epochs == 0 {
		cfg.Epochs = 10
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 64
	}
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	if cfg.InputDim < 0 || cfg.OutputDim < 0 || cfg.LearningRate < 0 || cfg.Epochs < 0 || cfg.BatchSize < 0 {
		return nil, fmt.Errorf("invalid model config: %+v", cfg)
	}
	for _, h := range cfg.HiddenSizes {
		if h <= 0 {
			return nil, fmt.Errorf("hidden layer sizes must be positive, got %v", cfg.HiddenSizes)
		}
	}

	m := &Model{
		Config: cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
	m.layerSizes = append(append([]int{cfg.InputDim}, cfg.HiddenSizes...), cfg.OutputDim)

	L := len(m.layerSizes) - 1
	m.weights = make([][][]float32, L)
	m.biases = make([][]float32, L)
	for l := range L {
		in, out := m.layerSizes[l], m.layerSizes[l+1]
		// Glorot uniform
		limit := float32(math.Sqrt(6.0 / float64(in+out)))
		w := make([][]float32, out)
		for j := range w {
			row := make([]float32, in)
			for i := range row {
				row[i] = (m.rng.Float32()*2 - 1) * limit
			}
			w[j] = row
		}
		m.weights[l] = w
		m.biases[l] = make([]float32, out)
	}
	return m, nil
}

func relu(x []float32) {
	for i := range x {
		if x[i] < 0 {
			x[i] = 0
		}
	}
}

// forward returns the pre-activations of every layer and the activations,
// with acts[0] the input and acts[L] the output.
func (m *Model) forward(input []float32) (preActs, acts [][]float32, err error) {
	if len(input) != m.layerSizes[0] {
		return nil, nil, fmt.Errorf("input has dimension %d, model expects %d", len(input), m.layerSizes[0])
	}
	L := len(m.weights)
	acts = make([][]float32, L+1)
	acts[0] = input
	preActs = make([][]float32, L)
	for l := range L {
		in := acts[l]
		pre := make([]float32, len(m.biases[l]))
		for j, row := range m.weights[l] {
			sum := m.biases[l][j]
			for i, w := range row {
				sum += w * in[i]
			}
			pre[j] = sum
		}
		preActs[l] = pre

		act := append([]float32(nil), pre...)
		if l < L-1 {
			relu(act)
		}
		acts[l+1] = act
	}
	return preActs, acts, nil
}

// PredictBatch runs a forward pass over every input.
func (m *Model) PredictBatch(inputs [][]float32) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		_, acts, err := m.forward(in)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		out[i] = acts[len(acts)-1]
	}
	return out, nil
}

// PredictProtein predicts an angle row for every residue of p. Padding
// residues get a row of NaN.
func (m *Model) PredictProtein(p *datasets.Protein) ([][]float32, error) {
	if p == nil {
		return nil, errors.New("protein is nil")
	}
	out := make([][]float32, p.Len())
	for r, id := range p.Seq {
		if id == datasets.PadID {
			row := make([]float32, m.Config.OutputDim)
			for a := range row {
				row[a] = datasets.NaN32
			}
			out[r] = row
			continue
		}
		_, acts, err := m.forward(datasets.OneHot(id))
		if err != nil {
			return nil, err
		}
		out[r] = acts[len(acts)-1]
	}
	return out, nil
}

// PredictBatchAngles fills a [BatchSize, SeqLen, OutputDim] prediction buffer
// matching b.Angles. Padded positions are left at zero.
func (m *Model) PredictBatchAngles(b *datasets.Batch) ([]float32, error) {
	if b == nil {
		return nil, datasets.ErrEmptyBatch
	}
	if b.AngleDim != m.Config.OutputDim {
		return nil, fmt.Errorf("batch has %d angles per residue, model predicts %d", b.AngleDim, m.Config.OutputDim)
	}
	pred := make([]float32, len(b.Angles))
	cache := make(map[int64][]float32)
	for i, id := range b.Seqs {
		if id == datasets.PadID {
			continue
		}
		row, ok := cache[id]
		if !ok {
			_, acts, err := m.forward(datasets.OneHot(int(id)))
			if err != nil {
				return nil, err
			}
			row = acts[len(acts)-1]
			cache[id] = row
		}
		copy(pred[i*b.AngleDim:(i+1)*b.AngleDim], row)
	}
	return pred, nil
}

// TrainWithDataset runs mini-batch SGD on a masked mean squared error: label
// entries that are NaN are skipped. It returns the mean loss of the last
// epoch.
func (m *Model) TrainWithDataset(ds Dataset) (float64, error) {
	if ds == nil {
		return 0, errors.New("dataset is nil")
	}
	n := ds.Len()
	if n == 0 {
		return 0, errors.New("dataset has no examples")
	}
	lr := float32(m.Config.LearningRate)

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}

	var epochLoss float64
	for ep := range m.Config.Epochs {
		m.rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})

		var lossSum float64
		var lossCount int
		for start := 0; start < n; start += m.Config.BatchSize {
			end := min(start+m.Config.BatchSize, n)
			inputs, labels, err := ds.Batch(indices[start:end])
			if err != nil {
				return 0, err
			}
			if len(inputs) == 0 {
				continue
			}
			gradW, gradB := m.zeroGrads()
			for ex := range inputs {
				s, c, err := m.accumulate(inputs[ex], labels[ex], gradW, gradB)
				if err != nil {
					return 0, fmt.Errorf("example %d: %w", indices[start+ex], err)
				}
				lossSum += s
				lossCount += c
			}
			m.apply(gradW, gradB, lr, 1/float32(len(inputs)))
		}

		epochLoss = math.NaN()
		if lossCount > 0 {
			epochLoss = lossSum / float64(lossCount)
		}
		klog.V(1).Infof("baseline epoch %d/%d: masked MSE %.4f", ep+1, m.Config.Epochs, epochLoss)
	}
	return epochLoss, nil
}

func (m *Model) zeroGrads() ([][][]float32, [][]float32) {
	gradW := make([][][]float32, len(m.weights))
	gradB := make([][]float32, len(m.weights))
	for l, w := range m.weights {
		gradW[l] = make([][]float32, len(w))
		for j := range w {
			gradW[l][j] = make([]float32, len(w[j]))
		}
		gradB[l] = make([]float32, len(m.biases[l]))
	}
	return gradW, gradB
}

// accumulate backpropagates one example into gradW/gradB. It returns the
// summed squared error and the number of observed label entries.
func (m *Model) accumulate(in, label []float32, gradW [][][]float32, gradB [][]float32) (float64, int, error) {
	preActs, acts, err := m.forward(in)
	if err != nil {
		return 0, 0, err
	}
	out := acts[len(acts)-1]
	if len(label) != len(out) {
		return 0, 0, fmt.Errorf("label has dimension %d, model predicts %d", len(label), len(out))
	}

	var sq float64
	var observed int
	delta := make([]float32, len(out))
	for j := range out {
		if math.IsNaN(float64(label[j])) {
			continue
		}
		d := out[j] - label[j]
		delta[j] = 2 * d
		sq += float64(d) * float64(d)
		observed++
	}
	if observed == 0 {
		return 0, 0, nil
	}

	for l := len(m.weights) - 1; l >= 0; l-- {
		inAct := acts[l]
		for j, dj := range delta {
			if dj == 0 {
				continue
			}
			gradB[l][j] += dj
			row := gradW[l][j]
			for i, a := range inAct {
				row[i] += dj * a
			}
		}
		if l == 0 {
			break
		}
		prev := make([]float32, len(inAct))
		for i := range prev {
			if preActs[l-1][i] <= 0 {
				continue
			}
			var sum float32
			for j, dj := range delta {
				sum += m.weights[l][j][i] * dj
			}
			prev[i] = sum
		}
		delta = prev
	}
	return sq, observed, nil
}

// apply takes one SGD step along the gradient sums scaled by inv.
func (m *Model) apply(gradW [][][]float32, gradB [][]float32, lr, inv float32) {
	for l := range m.weights {
		clip := float32(1)
		if m.Config.ClipNorm > 0 {
			var norm float64
			for j := range gradW[l] {
				for _, g := range gradW[l][j] {
					norm += float64(g*inv) * float64(g*inv)
				}
				norm += float64(gradB[l][j]*inv) * float64(gradB[l][j]*inv)
			}
			if norm = math.Sqrt(norm); norm > float64(m.Config.ClipNorm) {
				clip = m.Config.ClipNorm / float32(norm)
			}
		}
		step := lr * inv * clip
		for j := range m.weights[l] {
			m.biases[l][j] -= step * gradB[l][j]
			for i := range m.weights[l][j] {
				m.weights[l][j][i] -= step * gradW[l][j][i]
			}
		}
	}
}
