package losses

import (
	"errors"
	"math"
	"testing"

	"github.com/Noofbiz/foldBatch/datasets"
)

func TestAngleDiffWraps(t *testing.T) {
	truth := []float32{3, -3, 0.5, datasets.NaN32}
	pred := []float32{-3, 3, 0.25, 1}

	diff, err := AngleDiff(truth, pred)
	if err != nil {
		t.Fatalf("AngleDiff error: %v", err)
	}
	want := []float64{6 - 2*math.Pi, -6 + 2*math.Pi, 0.25}
	for i, w := range want {
		if !approxEqual(diff[i], w, 1e-6) {
			t.Fatalf("diff[%d] = %v, want %v", i, diff[i], w)
		}
	}
	if !math.IsNaN(diff[3]) {
		t.Fatalf("expected NaN to propagate, got %v", diff[3])
	}
}

func TestAngleMSESkipsMissingTruth(t *testing.T) {
	truth := []float32{1, datasets.NaN32, 2, datasets.NaN32}
	pred := []float32{0, 100, 4, -100}

	got, err := AngleMSE(truth, pred)
	if err != nil {
		t.Fatalf("AngleMSE error: %v", err)
	}
	// (1 + 4) / 2
	if !approxEqual(got, 2.5, 1e-9) {
		t.Fatalf("AngleMSE = %v, want 2.5", got)
	}

	allMissing, err := AngleMSE([]float32{datasets.NaN32}, []float32{1})
	if err != nil {
		t.Fatalf("AngleMSE error: %v", err)
	}
	if !math.IsNaN(allMissing) {
		t.Fatalf("expected NaN with no observed angles, got %v", allMissing)
	}
}

func TestAngleMAE(t *testing.T) {
	truth := []float32{3, 1, datasets.NaN32, 0}
	pred := []float32{-3, 0.5, 2, datasets.NaN32}

	got, err := AngleMAE(truth, pred)
	if err != nil {
		t.Fatalf("AngleMAE error: %v", err)
	}
	want := ((2*math.Pi - 6) + 0.5) / 2
	if !approxEqual(got, want, 1e-6) {
		t.Fatalf("AngleMAE = %v, want %v", got, want)
	}
}

func TestAngleLossShapeMismatch(t *testing.T) {
	if _, err := AngleMSE([]float32{1}, []float32{1, 2}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("AngleMSE: expected ErrShapeMismatch, got %v", err)
	}
	if _, err := AngleMAE([]float32{1}, nil); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("AngleMAE: expected ErrShapeMismatch, got %v", err)
	}
}

func TestBatchAngleErrorsIgnoresPadding(t *testing.T) {
	short := protein("short", 1, nil)
	long := protein("long", 3, nil)
	for _, p := range []*datasets.Protein{short, long} {
		for r := range p.Angles {
			for a := range p.Angles[r] {
				p.Angles[r][a] = 1
			}
		}
	}

	batch, err := datasets.PairedCollate([]*datasets.Protein{short, long}, datasets.DefaultCollateOptions())
	if err != nil {
		t.Fatalf("PairedCollate error: %v", err)
	}

	// Predict 1 everywhere a residue exists and 50 in the padded slots. With
	// padding masked both losses must be zero.
	pred := make([]float32, len(batch.Angles))
	for i := range batch.BatchSize {
		for j := range batch.SeqLen {
			v := float32(50)
			if batch.Mask[i*batch.SeqLen+j] == 1 {
				v = 1
			}
			for a := range batch.AngleDim {
				pred[(i*batch.SeqLen+j)*batch.AngleDim+a] = v
			}
		}
	}

	mse, mae, err := BatchAngleErrors(batch, pred)
	if err != nil {
		t.Fatalf("BatchAngleErrors error: %v", err)
	}
	if mse != 0 || mae != 0 {
		t.Fatalf("expected zero losses with padding masked, got mse=%v mae=%v", mse, mae)
	}

	// Without masking, the zero-padded truth is compared against 50.
	raw, err := AngleMSE(batch.Angles, pred)
	if err != nil {
		t.Fatalf("AngleMSE error: %v", err)
	}
	if raw == 0 {
		t.Fatalf("expected unmasked loss to see the padding")
	}
}
