package losses

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Transform is a rigid-body motion: x' = Rotation*x + Translation.
type Transform struct {
	Rotation    *mat.Dense
	Translation [3]float64
}

// Apply returns the transformed copy of points.
func (t Transform) Apply(points [][3]float64) [][3]float64 {
	out := make([][3]float64, len(points))
	for i, p := range points {
		for r := range 3 {
			out[i][r] = t.Rotation.At(r, 0)*p[0] + t.Rotation.At(r, 1)*p[1] + t.Rotation.At(r, 2)*p[2] + t.Translation[r]
		}
	}
	return out
}

// Superpose finds the proper rotation and translation that best maps mobile
// onto target in the least-squares sense (Kabsch), and returns it together
// with the RMSD after superposition. Rows that contain a NaN in either set are
// ignored.
func Superpose(mobile, target [][3]float64) (Transform, float64, error) {
	if len(mobile) != len(target) {
		return Transform{}, 0, fmt.Errorf("superpose %d onto %d points: %w", len(mobile), len(target), ErrShapeMismatch)
	}
	a, b := observed(mobile, target)
	if len(a) == 0 {
		return Transform{}, 0, fmt.Errorf("superpose: no observed points: %w", ErrTooFewPoints)
	}

	ca, cb := centroid(a), centroid(b)

	// Covariance H = sum (a_i - ca)(b_i - cb)^T.
	h := make([]float64, 9)
	for i := range a {
		for j := range 3 {
			aj := a[i][j] - ca[j]
			for k := range 3 {
				h[j*3+k] += aj * (b[i][k] - cb[k])
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(mat.NewDense(3, 3, h), mat.SVDFull); !ok {
		return Transform{}, 0, fmt.Errorf("superpose: SVD did not converge")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// A reflection shows up as det(V U^T) < 0; flipping the last axis turns it
	// into the nearest proper rotation.
	var vut mat.Dense
	vut.Mul(&v, u.T())
	sign := 1.0
	if mat.Det(&vut) < 0 {
		sign = -1
	}
	var vd mat.Dense
	vd.Mul(&v, mat.NewDiagDense(3, []float64{1, 1, sign}))
	rot := mat.NewDense(3, 3, nil)
	rot.Mul(&vd, u.T())

	t := Transform{Rotation: rot}
	for r := range 3 {
		t.Translation[r] = cb[r] - (rot.At(r, 0)*ca[0] + rot.At(r, 1)*ca[1] + rot.At(r, 2)*ca[2])
	}

	moved := t.Apply(a)
	var sum float64
	for i := range moved {
		for k := range 3 {
			d := moved[i][k] - b[i][k]
			sum += d * d
		}
	}
	return t, math.Sqrt(sum / float64(len(a))), nil
}

// RMSD returns the root-mean-square deviation between a and b after the
// optimal superposition of a onto b.
func RMSD(a, b [][3]float64) (float64, error) {
	_, rmsd, err := Superpose(a, b)
	return rmsd, err
}

func observed(a, b [][3]float64) ([][3]float64, [][3]float64) {
	outA := make([][3]float64, 0, len(a))
	outB := make([][3]float64, 0, len(b))
	for i := range a {
		if hasNaN(a[i]) || hasNaN(b[i]) {
			continue
		}
		outA = append(outA, a[i])
		outB = append(outB, b[i])
	}
	return outA, outB
}

func hasNaN(p [3]float64) bool {
	return math.IsNaN(p[0]) || math.IsNaN(p[1]) || math.IsNaN(p[2])
}

func centroid(points [][3]float64) [3]float64 {
	var c [3]float64
	for _, p := range points {
		c[0] += p[0]
		c[1] += p[1]
		c[2] += p[2]
	}
	n := float64(len(points))
	return [3]float64{c[0] / n, c[1] / n, c[2] / n}
}
