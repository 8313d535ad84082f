package datasets

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
)

// BatchSampler yields the example indices of every batch in one epoch.
type BatchSampler interface {
	// Len is the number of batches per epoch.
	Len() int

	// Batches draws a fresh epoch of batches.
	Batches() [][]int
}

// SequentialBatchSampler splits [0, n) into consecutive batches of BatchSize.
// The last batch may be smaller.
type SequentialBatchSampler struct {
	N         int
	BatchSize int
}

// Len returns ceil(N / BatchSize).
func (s *SequentialBatchSampler) Len() int {
	if s.N == 0 || s.BatchSize <= 0 {
		return 0
	}
	return (s.N + s.BatchSize - 1) / s.BatchSize
}

// Batches returns the in-order batches.
func (s *SequentialBatchSampler) Batches() [][]int {
	out := make([][]int, 0, s.Len())
	for start := 0; start < s.N && s.BatchSize > 0; start += s.BatchSize {
		end := min(start+s.BatchSize, s.N)
		batch := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			batch = append(batch, i)
		}
		out = append(out, batch)
	}
	return out
}

// SamplerOptions configures a SimilarLengthBatchSampler.
type SamplerOptions struct {
	// BatchSize is the fixed batch size used when DynamicBatch is zero.
	BatchSize int

	// DynamicBatch, when positive, is the residue budget of a batch. Each batch
	// holds max(1, DynamicBatch/longest-length-in-bin) examples.
	DynamicBatch int

	// OptimizeBatchForCPUs rounds dynamic batch sizes down to a multiple of
	// CPUCount.
	OptimizeBatchForCPUs bool

	// Downsample, when in (0, 1), shrinks the epoch to that fraction.
	Downsample float64

	// RepeatTrain multiplies the epoch length. Zero means 1.
	RepeatTrain int

	// CPUCount defaults to runtime.NumCPU.
	CPUCount int

	Seed int64
}

// SimilarLengthBatchSampler draws batches whose members come from the same
// length bin of a BinnedProteinDataset, so little of each batch is padding.
type SimilarLengthBatchSampler struct {
	ds   *BinnedProteinDataset
	opts SamplerOptions
	rng  *rand.Rand

	// cumulative bin probabilities for sampling
	cdf []float64
}

// NewSimilarLengthBatchSampler validates opts and builds a sampler over ds.
func NewSimilarLengthBatchSampler(ds *BinnedProteinDataset, opts SamplerOptions) (*SimilarLengthBatchSampler, error) {
	if ds == nil {
		return nil, fmt.Errorf("binned dataset is nil")
	}
	if opts.DynamicBatch <= 0 && opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	if opts.Downsample < 0 || opts.Downsample > 1 {
		return nil, fmt.Errorf("downsample must be in [0, 1], got %v", opts.Downsample)
	}
	if opts.RepeatTrain <= 0 {
		opts.RepeatTrain = 1
	}
	if opts.CPUCount <= 0 {
		opts.CPUCount = runtime.NumCPU()
	}

	s := &SimilarLengthBatchSampler{
		ds:   ds,
		opts: opts,
		rng:  rand.New(rand.NewSource(opts.Seed)),
		cdf:  make([]float64, len(ds.BinProbs)),
	}
	acc := 0.0
	for i, p := range ds.BinProbs {
		acc += p
		s.cdf[i] = acc
	}
	return s, nil
}

// Len approximates the number of batches per epoch. With dynamic batching it
// is total residues / DynamicBatch, otherwise examples / BatchSize.
func (s *SimilarLengthBatchSampler) Len() int {
	var numerator, divisor float64
	if s.opts.DynamicBatch > 0 {
		numerator = float64(s.ds.TotalResidues() * s.opts.RepeatTrain)
		divisor = float64(s.opts.DynamicBatch)
	} else {
		numerator = float64(s.ds.Len() * s.opts.RepeatTrain)
		divisor = float64(s.opts.BatchSize)
	}
	if s.opts.Downsample > 0 {
		numerator *= s.opts.Downsample
	}
	return int(math.Ceil(numerator / divisor))
}

// Batches draws Len() batches. For each one a bin is chosen with probability
// proportional to its population, then members are drawn from that bin with
// replacement.
func (s *SimilarLengthBatchSampler) Batches() [][]int {
	n := s.Len()
	out := make([][]int, 0, n)
	for range n {
		bin := s.pickBin()
		size := s.batchSizeFor(bin)
		members := s.ds.BinMap[bin]
		batch := make([]int, size)
		for i := range batch {
			batch[i] = members[s.rng.Intn(len(members))]
		}
		out = append(out, batch)
	}
	return out
}

func (s *SimilarLengthBatchSampler) pickBin() int {
	u := s.rng.Float64() * s.cdf[len(s.cdf)-1]
	for i, c := range s.cdf {
		if u < c && len(s.ds.BinMap[i]) > 0 {
			return i
		}
	}
	// floating point slack: fall back to the last populated bin
	for i := len(s.cdf) - 1; i >= 0; i-- {
		if len(s.ds.BinMap[i]) > 0 {
			return i
		}
	}
	return 0
}

func (s *SimilarLengthBatchSampler) batchSizeFor(bin int) int {
	if s.opts.DynamicBatch <= 0 {
		return s.opts.BatchSize
	}
	size := max(1, s.opts.DynamicBatch/max(1, s.ds.BinMax[bin]))
	if s.opts.OptimizeBatchForCPUs {
		size = largestMultiple(size, s.opts.CPUCount)
	}
	return size
}

// largestMultiple rounds n down to a multiple of m, but never below m.
func largestMultiple(n, m int) int {
	if m <= 1 {
		return max(n, 1)
	}
	if n <= m {
		return m
	}
	return n - n%m
}
