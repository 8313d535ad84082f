package losses

import (
	"fmt"
	"math"

	"github.com/Noofbiz/foldBatch/datasets"
)

// AngleMSE returns the mean squared error between pred and truth over the
// entries where truth is not NaN. Batch padding and missing angles should both
// be NaN in truth. It returns NaN if no entry is observed.
func AngleMSE(truth, pred []float32) (float64, error) {
	if len(truth) != len(pred) {
		return 0, fmt.Errorf("angle mse of %d and %d values: %w", len(truth), len(pred), ErrShapeMismatch)
	}
	var sum float64
	n := 0
	for i, t := range truth {
		if math.IsNaN(float64(t)) {
			continue
		}
		d := float64(pred[i]) - float64(t)
		sum += d * d
		n++
	}
	if n == 0 {
		return math.NaN(), nil
	}
	return sum / float64(n), nil
}

// AngleDiff returns truth - pred in radians, shifted once by 2π so that
// differences across the ±π seam come out small. NaNs propagate.
func AngleDiff(truth, pred []float32) ([]float64, error) {
	if len(truth) != len(pred) {
		return nil, fmt.Errorf("angle diff of %d and %d values: %w", len(truth), len(pred), ErrShapeMismatch)
	}
	out := make([]float64, len(truth))
	for i := range truth {
		e := float64(truth[i]) - float64(pred[i])
		if e > math.Pi {
			e -= 2 * math.Pi
		} else if e < -math.Pi {
			e += 2 * math.Pi
		}
		out[i] = e
	}
	return out, nil
}

// AngleMAE returns the mean absolute AngleDiff, ignoring NaN entries on either
// side. It returns NaN if every entry is NaN.
func AngleMAE(truth, pred []float32) (float64, error) {
	diff, err := AngleDiff(truth, pred)
	if err != nil {
		return 0, err
	}
	var sum float64
	n := 0
	for _, d := range diff {
		if math.IsNaN(d) {
			continue
		}
		sum += math.Abs(d)
		n++
	}
	if n == 0 {
		return math.NaN(), nil
	}
	return sum / float64(n), nil
}

// MaskPadding returns a copy of the batch angles with every padded residue set
// to NaN, so the NaN-aware losses ignore padding whatever the pad value was.
func MaskPadding(b *datasets.Batch) []float32 {
	out := make([]float32, len(b.Angles))
	copy(out, b.Angles)
	nan := float32(math.NaN())
	for i, m := range b.Mask {
		if m != 0 {
			continue
		}
		row := out[i*b.AngleDim : (i+1)*b.AngleDim]
		for j := range row {
			row[j] = nan
		}
	}
	return out
}

// BatchAngleErrors scores pred ([batch, seqLen, angleDim]) against the angles
// of b, ignoring padding and missing angles.
func BatchAngleErrors(b *datasets.Batch, pred []float32) (mse, mae float64, err error) {
	if b == nil {
		return 0, 0, fmt.Errorf("batch is nil")
	}
	truth := MaskPadding(b)
	if mse, err = AngleMSE(truth, pred); err != nil {
		return 0, 0, err
	}
	if mae, err = AngleMAE(truth, pred); err != nil {
		return 0, 0, err
	}
	return mse, mae, nil
}
