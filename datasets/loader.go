package datasets

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"k8s.io/klog/v2"
)

// Loader draws batches of indices from a sampler and collates the matching
// examples into padded Batches.
type Loader struct {
	name    string
	ds      Dataset
	sampler BatchSampler
	opts    CollateOptions

	// Workers is the number of goroutines Each uses for collation. Values <= 0
	// mean 1.
	Workers int

	// ProgressInterval controls how often Each logs progress. Zero disables it.
	ProgressInterval time.Duration

	// Yield state
	epoch [][]int
	pos   int
}

// NewLoader builds a loader over ds.
func NewLoader(name string, ds Dataset, sampler BatchSampler, opts CollateOptions) (*Loader, error) {
	if ds == nil {
		return nil, fmt.Errorf("loader %s: dataset is nil", name)
	}
	if sampler == nil {
		return nil, fmt.Errorf("loader %s: sampler is nil", name)
	}
	return &Loader{name: name, ds: ds, sampler: sampler, opts: opts, Workers: 1}, nil
}

// Len is the number of batches per epoch.
func (l *Loader) Len() int { return l.sampler.Len() }

// Dataset returns the dataset the loader reads from.
func (l *Loader) Dataset() Dataset { return l.ds }

// Collate fetches the examples at indices and collates them.
func (l *Loader) Collate(indices []int) (*Batch, error) {
	proteins := make([]*Protein, len(indices))
	for i, idx := range indices {
		p, err := l.ds.Example(idx)
		if err != nil {
			return nil, fmt.Errorf("read example %d: %w", idx, err)
		}
		proteins[i] = p
	}
	return PairedCollate(proteins, l.opts)
}

type collated struct {
	batch *Batch
	err   error
}

// Each draws one epoch and calls fn with every batch in sampler order. Batches
// are collated by up to Workers goroutines, at most 2*Workers ahead of fn.
// It stops at the first collation error, the first error from fn, or when ctx
// is cancelled.
func (l *Loader) Each(ctx context.Context, fn func(*Batch) error) error {
	batches := l.sampler.Batches()
	n := len(batches)
	if n == 0 {
		return nil
	}
	workers := max(1, min(l.Workers, n))

	ctx, cancel := context.WithCancel(ctx)
	slots := make([]chan collated, n)
	for i := range slots {
		slots[i] = make(chan collated, 1)
	}
	window := make(chan struct{}, 2*workers)
	jobs := make(chan int)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for pos := range jobs {
				b, err := l.Collate(batches[pos])
				slots[pos] <- collated{batch: b, err: err}
			}
		}()
	}
	go func() {
		defer close(jobs)
		for pos := range n {
			select {
			case window <- struct{}{}:
			case <-ctx.Done():
				return
			}
			select {
			case jobs <- pos:
			case <-ctx.Done():
				return
			}
		}
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	var done int64
	if l.ProgressInterval > 0 {
		ticker := time.NewTicker(l.ProgressInterval)
		defer ticker.Stop()
		go func() {
			for {
				select {
				case <-ticker.C:
					d := atomic.LoadInt64(&done)
					klog.Infof("[Loader %s] progress: %d/%d (%.1f%%)", l.name, d, n, 100*float64(d)/float64(n))
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for pos := range n {
		var c collated
		select {
		case c = <-slots[pos]:
		case <-ctx.Done():
			return ctx.Err()
		}
		<-window
		if c.err != nil {
			return fmt.Errorf("loader %s: batch %d: %w", l.name, pos, c.err)
		}
		if err := fn(c.batch); err != nil {
			return err
		}
		atomic.AddInt64(&done, 1)
	}
	klog.V(2).Infof("[Loader %s] completed %d batches", l.name, n)
	return nil
}

// Name implements the gomlx train.Dataset interface.
func (l *Loader) Name() string { return l.name }

// Reset implements the gomlx train.Dataset interface. The next Yield starts a
// new epoch.
func (l *Loader) Reset() {
	l.epoch = nil
	l.pos = 0
}

// Yield implements the gomlx train.Dataset interface. spec is the *Batch,
// inputs holds the sequence tensor and labels holds the angle, coordinate and
// mask tensors. It returns io.EOF when the epoch is exhausted.
func (l *Loader) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if l.epoch == nil {
		l.epoch = l.sampler.Batches()
		l.pos = 0
	}
	if l.pos >= len(l.epoch) {
		return nil, nil, nil, io.EOF
	}
	indices := l.epoch[l.pos]
	l.pos++

	b, err := l.Collate(indices)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loader %s: %w", l.name, err)
	}
	seqs, angles, coords, mask, err := b.ToGomlxTensors()
	if err != nil {
		return nil, nil, nil, err
	}
	return b, []*tensors.Tensor{seqs}, []*tensors.Tensor{angles, coords, mask}, nil
}

// Loaders groups the loaders built by PrepareLoaders.
type Loaders struct {
	Train     *Loader
	TrainEval *Loader
	Valid     map[int]*Loader
	Test      *Loader
}

// PrepareLoaders builds the train, train-eval, validation and test loaders.
//
// The train loader groups proteins by length and sizes batches dynamically to
// about BatchSize*MaxSeqLen residues. The train-eval loader uses the same bins
// with fixed-size batches over a TrainEvalDownsample fraction of the epoch.
// Validation and test loaders batch in order.
func PrepareLoaders(splits Splits, cfg LoaderConfig) (*Loaders, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := cfg.collateOptions()

	train, err := splits.Get(SplitTrain)
	if err != nil {
		return nil, err
	}
	binned, err := NewBinnedProteinDataset(train, cfg.NBins)
	if err != nil {
		return nil, fmt.Errorf("bin train split: %w", err)
	}

	maxLen := cfg.MaxSeqLen
	if maxLen == 0 {
		maxLen = MaxSeqLen
	}
	trainSampler, err := NewSimilarLengthBatchSampler(binned, SamplerOptions{
		BatchSize:            cfg.BatchSize,
		DynamicBatch:         cfg.BatchSize * maxLen,
		OptimizeBatchForCPUs: cfg.OptimizeForCPUParallelism,
		Seed:                 cfg.Seed,
	})
	if err != nil {
		return nil, err
	}
	evalSampler, err := NewSimilarLengthBatchSampler(binned, SamplerOptions{
		BatchSize:            cfg.BatchSize,
		OptimizeBatchForCPUs: cfg.OptimizeForCPUParallelism,
		Downsample:           cfg.TrainEvalDownsample,
		Seed:                 cfg.Seed + 1,
	})
	if err != nil {
		return nil, err
	}

	out := &Loaders{Valid: make(map[int]*Loader, len(ValidSplits))}
	if out.Train, err = NewLoader(SplitTrain, binned, trainSampler, opts); err != nil {
		return nil, err
	}
	if out.TrainEval, err = NewLoader("train-eval", binned, evalSampler, opts); err != nil {
		return nil, err
	}
	for _, split := range ValidSplits {
		name := ValidSplitName(split)
		ds, err := splits.Get(name)
		if err != nil {
			return nil, err
		}
		seqSampler := &SequentialBatchSampler{N: ds.Len(), BatchSize: cfg.BatchSize}
		if out.Valid[split], err = NewLoader(name, ds, seqSampler, opts); err != nil {
			return nil, err
		}
	}
	test, err := splits.Get(SplitTest)
	if err != nil {
		return nil, err
	}
	testSampler := &SequentialBatchSampler{N: test.Len(), BatchSize: cfg.BatchSize}
	if out.Test, err = NewLoader(SplitTest, test, testSampler, opts); err != nil {
		return nil, err
	}

	for _, l := range out.all() {
		l.Workers = max(1, cfg.NumWorkers)
	}
	klog.V(1).Infof("prepared loaders: train=%d batches, train-eval=%d, test=%d, valid splits=%d",
		out.Train.Len(), out.TrainEval.Len(), out.Test.Len(), len(out.Valid))
	return out, nil
}

func (ls *Loaders) all() []*Loader {
	all := []*Loader{ls.Train, ls.TrainEval, ls.Test}
	for _, split := range ValidSplits {
		if l, ok := ls.Valid[split]; ok {
			all = append(all, l)
		}
	}
	return all
}
