package datasets

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"reflect"
	"testing"
)

func sequentialLoader(t *testing.T, n, batchSize, workers int) *Loader {
	t.Helper()
	lens := make([]int, n)
	for i := range lens {
		lens[i] = 1 + i%7
	}
	ds := datasetWithLengths(t, lens...)
	l, err := NewLoader("test", ds, &SequentialBatchSampler{N: n, BatchSize: batchSize}, DefaultCollateOptions())
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	l.Workers = workers
	return l
}

func TestLoaderEachPreservesOrder(t *testing.T) {
	for _, workers := range []int{1, 3, 8} {
		l := sequentialLoader(t, 23, 2, workers)
		var ids []string
		err := l.Each(context.Background(), func(b *Batch) error {
			ids = append(ids, b.IDs...)
			return nil
		})
		if err != nil {
			t.Fatalf("workers=%d: Each failed: %v", workers, err)
		}
		if len(ids) != 23 {
			t.Fatalf("workers=%d: saw %d examples, want 23", workers, len(ids))
		}
		for i, id := range ids {
			if want := string(rune('a' + i)); id != want {
				t.Fatalf("workers=%d: example %d is %q, want %q", workers, i, id, want)
			}
		}
	}
}

func TestLoaderEachStopsOnCallbackError(t *testing.T) {
	l := sequentialLoader(t, 20, 1, 4)
	stop := errors.New("stop")
	calls := 0
	err := l.Each(context.Background(), func(b *Batch) error {
		calls++
		if calls == 3 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("callback called %d times after error, want 3", calls)
	}
}

func TestLoaderEachCancelled(t *testing.T) {
	l := sequentialLoader(t, 20, 1, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := l.Each(ctx, func(b *Batch) error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls >= 20 {
		t.Fatalf("cancelled loader ran the whole epoch")
	}
}

func TestLoaderEachCollateError(t *testing.T) {
	ds := datasetWithLengths(t, 3, 4)
	l, err := NewLoader("bad", ds, &SequentialBatchSampler{N: 3, BatchSize: 1}, DefaultCollateOptions())
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	// the sampler reaches past the end of the dataset
	err = l.Each(context.Background(), func(b *Batch) error { return nil })
	if err == nil {
		t.Fatalf("expected error for out-of-range example")
	}
}

func TestLoaderYield(t *testing.T) {
	l := sequentialLoader(t, 5, 2, 1)
	if l.Name() != "test" {
		t.Fatalf("Name = %q", l.Name())
	}

	var sizes []int
	for {
		spec, inputs, labels, err := l.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Yield failed: %v", err)
		}
		b, ok := spec.(*Batch)
		if !ok {
			t.Fatalf("spec is %T, want *Batch", spec)
		}
		if len(inputs) != 1 || len(labels) != 3 {
			t.Fatalf("got %d inputs and %d labels, want 1 and 3", len(inputs), len(labels))
		}
		if dims := inputs[0].Shape().Dimensions; dims[0] != b.BatchSize || dims[1] != b.SeqLen {
			t.Fatalf("sequence tensor dims %v for batch %dx%d", dims, b.BatchSize, b.SeqLen)
		}
		sizes = append(sizes, b.BatchSize)
	}
	if !reflect.DeepEqual(sizes, []int{2, 2, 1}) {
		t.Fatalf("batch sizes = %v, want [2 2 1]", sizes)
	}

	// exhausted until Reset
	if _, _, _, err := l.Yield(); err != io.EOF {
		t.Fatalf("expected io.EOF before Reset, got %v", err)
	}
	l.Reset()
	if _, _, _, err := l.Yield(); err != nil {
		t.Fatalf("Yield after Reset failed: %v", err)
	}
}

func TestPrepareLoaders(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	splits, err := SyntheticSplits(20, 3, SyntheticOptions{MinLen: 5, MaxLen: 30}, rng)
	if err != nil {
		t.Fatalf("SyntheticSplits failed: %v", err)
	}

	cfg := DefaultLoaderConfig()
	cfg.BatchSize = 4
	cfg.NumWorkers = 2
	cfg.MaxSeqLen = 20
	ls, err := PrepareLoaders(splits, cfg)
	if err != nil {
		t.Fatalf("PrepareLoaders failed: %v", err)
	}

	if len(ls.Valid) != len(ValidSplits) {
		t.Fatalf("got %d validation loaders, want %d", len(ls.Valid), len(ValidSplits))
	}
	if ls.Test.Len() != 1 {
		t.Fatalf("test loader has %d batches, want 1", ls.Test.Len())
	}
	if ls.TrainEval.Len() != 1 {
		t.Fatalf("train-eval loader has %d batches, want 1", ls.TrainEval.Len())
	}
	if ls.Valid[30].Name() != "valid-30" || ls.Train.Workers != 2 {
		t.Fatalf("unexpected loader setup: name=%q workers=%d", ls.Valid[30].Name(), ls.Train.Workers)
	}

	seen := 0
	err = ls.Train.Each(context.Background(), func(b *Batch) error {
		seen++
		if b.SeqLen > cfg.MaxSeqLen {
			t.Errorf("batch padded to %d residues, limit is %d", b.SeqLen, cfg.MaxSeqLen)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("train Each failed: %v", err)
	}
	if seen != ls.Train.Len() {
		t.Fatalf("train loader produced %d batches, Len says %d", seen, ls.Train.Len())
	}

	delete(splits, ValidSplitName(50))
	if _, err := PrepareLoaders(splits, cfg); err == nil {
		t.Fatalf("expected error for missing validation split")
	}

	cfg.BatchSize = 0
	if _, err := PrepareLoaders(splits, cfg); err == nil {
		t.Fatalf("expected error for invalid config")
	}
}
