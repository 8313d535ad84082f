// Package losses implements structure losses for comparing predicted and true
// protein structures: distance RMSD over pairwise atom distances, superposed
// RMSD, and angle errors that respect wrap-around and NaN-marked gaps.
package losses

import (
	"errors"
	"fmt"
	"math"

	"github.com/Noofbiz/foldBatch/datasets"
	"k8s.io/klog/v2"
)

var (
	// ErrShapeMismatch is returned when two inputs must have the same shape but
	// do not.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrTooFewPoints is returned when a metric needs more points than given.
	ErrTooFewPoints = errors.New("too few points")
)

// minSquaredDist keeps sqrt away from exact zero, as in the tensor formulation.
const minSquaredDist = 1e-30

// PairwiseInternalDist returns the len(x) x len(x) matrix of Euclidean
// distances between the points of x, in row-major order.
func PairwiseInternalDist(x [][3]float64) []float64 {
	n := len(x)
	out := make([]float64, n*n)
	for i := range n {
		for j := i + 1; j < n; j++ {
			dx := x[i][0] - x[j][0]
			dy := x[i][1] - x[j][1]
			dz := x[i][2] - x[j][2]
			d := math.Sqrt(math.Max(dx*dx+dy*dy+dz*dz, minSquaredDist))
			out[i*n+j] = d
			out[j*n+i] = d
		}
		out[i*n+i] = math.Sqrt(minSquaredDist)
	}
	return out
}

// DRMSD returns the distance root-mean-square deviation between a and b: the
// RMS difference between their strict upper-triangle pairwise distances. It
// does not depend on a superposition of a onto b.
func DRMSD(a, b [][3]float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("drmsd of %d and %d points: %w", len(a), len(b), ErrShapeMismatch)
	}
	if len(a) < 2 {
		return 0, fmt.Errorf("drmsd of %d points: %w", len(a), ErrTooFewPoints)
	}
	da := PairwiseInternalDist(a)
	db := PairwiseInternalDist(b)
	n := len(a)

	var sum float64
	pairs := 0
	for i := range n {
		for j := i + 1; j < n; j++ {
			d := da[i*n+j] - db[i*n+j]
			sum += d * d
			pairs++
		}
	}
	return math.Sqrt(sum / float64(pairs)), nil
}

// Tile repeats every element of mask n times in a row, so a per-residue mask
// becomes a per-atom mask.
func Tile(mask []bool, n int) []bool {
	out := make([]bool, 0, len(mask)*n)
	for _, m := range mask {
		for range n {
			out = append(out, m)
		}
	}
	return out
}

// BatchOptions controls BatchDRMSD.
type BatchOptions struct {
	// Verbose logs the batch DRMSD at klog verbosity 0 instead of 1.
	Verbose bool
}

// BatchResult summarizes BatchDRMSD over the proteins that could be scored.
type BatchResult struct {
	// DRMSD is the mean raw DRMSD.
	DRMSD float64

	// LnDRMSD is the mean of DRMSD divided by the number of scored residues.
	LnDRMSD float64

	// PerProtein holds the raw DRMSD of every example, NaN where skipped.
	PerProtein []float64

	Scored int
}

// BatchDRMSD compares padded coordinate batches. trueCoords and predCoords are
// [batch, seqLen*NumCoordsPerRes, 3] and seqs is [batch, seqLen].
//
// For every example, atoms of padding residues (seq == PadID) are dropped, then
// atoms whose true coordinates are all NaN are dropped from both sides. The
// remaining atoms are scored with DRMSD. Examples with fewer than two remaining
// atoms are skipped.
func BatchDRMSD(trueCoords, predCoords []float32, seqs []int64, batchSize, seqLen int, opts BatchOptions) (BatchResult, error) {
	rows := seqLen * datasets.NumCoordsPerRes
	want := batchSize * rows * 3
	if len(trueCoords) != want || len(predCoords) != want {
		return BatchResult{}, fmt.Errorf("coordinates have %d and %d values, expected %d: %w",
			len(trueCoords), len(predCoords), want, ErrShapeMismatch)
	}
	if len(seqs) != batchSize*seqLen {
		return BatchResult{}, fmt.Errorf("sequences have %d values, expected %d: %w",
			len(seqs), batchSize*seqLen, ErrShapeMismatch)
	}

	res := BatchResult{PerProtein: make([]float64, batchSize)}
	var rawSum, normSum float64
	for b := range batchSize {
		res.PerProtein[b] = math.NaN()

		notPad := make([]bool, seqLen)
		for i, id := range seqs[b*seqLen : (b+1)*seqLen] {
			notPad[i] = id != datasets.PadID
		}
		keep := Tile(notPad, datasets.NumCoordsPerRes)

		tc := trueCoords[b*rows*3 : (b+1)*rows*3]
		pc := predCoords[b*rows*3 : (b+1)*rows*3]
		var ta, pa [][3]float64
		for r := range rows {
			if !keep[r] {
				continue
			}
			t := point(tc, r)
			if math.IsNaN(t[0]) && math.IsNaN(t[1]) && math.IsNaN(t[2]) {
				continue
			}
			ta = append(ta, t)
			pa = append(pa, point(pc, r))
		}

		d, err := DRMSD(ta, pa)
		if errors.Is(err, ErrTooFewPoints) {
			klog.V(2).Infof("skipping example %d of batch: %d observed atoms", b, len(ta))
			continue
		}
		if err != nil {
			return BatchResult{}, err
		}
		res.PerProtein[b] = d
		rawSum += d
		// scored atoms in residue units, rounded down
		residues := max(1, len(ta)/datasets.NumCoordsPerRes)
		normSum += d / float64(residues)
		res.Scored++
	}

	if res.Scored == 0 {
		res.DRMSD, res.LnDRMSD = math.NaN(), math.NaN()
		return res, nil
	}
	res.DRMSD = rawSum / float64(res.Scored)
	res.LnDRMSD = normSum / float64(res.Scored)

	level := klog.Level(1)
	if opts.Verbose {
		level = 0
	}
	klog.V(level).Infof("DRMSD = %.2f, lnDRMSD = %.2f", res.DRMSD, res.LnDRMSD)
	return res, nil
}

// BatchDRMSDFromBatch scores predCoords against the true coordinates of b.
func BatchDRMSDFromBatch(b *datasets.Batch, predCoords []float32, opts BatchOptions) (BatchResult, error) {
	if b == nil {
		return BatchResult{}, fmt.Errorf("batch is nil")
	}
	return BatchDRMSD(b.Coords, predCoords, b.Seqs, b.BatchSize, b.SeqLen, opts)
}

func point(flat []float32, row int) [3]float64 {
	return [3]float64{float64(flat[row*3]), float64(flat[row*3+1]), float64(flat[row*3+2])}
}

// ToPoints converts float32 coordinate rows to float64 points.
func ToPoints(coords [][3]float32) [][3]float64 {
	out := make([][3]float64, len(coords))
	for i, c := range coords {
		out[i] = [3]float64{float64(c[0]), float64(c[1]), float64(c[2])}
	}
	return out
}
