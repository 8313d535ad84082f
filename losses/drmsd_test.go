package losses

import (
	"errors"
	"math"
	"testing"

	"github.com/Noofbiz/foldBatch/datasets"
)

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// rotateZ rotates points by theta around the z axis and then translates them.
func rotateZ(points [][3]float64, theta float64, shift [3]float64) [][3]float64 {
	c, s := math.Cos(theta), math.Sin(theta)
	out := make([][3]float64, len(points))
	for i, p := range points {
		out[i] = [3]float64{
			c*p[0] - s*p[1] + shift[0],
			s*p[0] + c*p[1] + shift[1],
			p[2] + shift[2],
		}
	}
	return out
}

func TestPairwiseInternalDist(t *testing.T) {
	x := [][3]float64{{0, 0, 0}, {3, 4, 0}, {0, 0, 12}}
	d := PairwiseInternalDist(x)
	if len(d) != 9 {
		t.Fatalf("expected 9 distances, got %d", len(d))
	}
	cases := []struct {
		i, j int
		want float64
	}{
		{0, 1, 5},
		{1, 0, 5},
		{0, 2, 12},
		{1, 2, 13},
	}
	for _, c := range cases {
		if got := d[c.i*3+c.j]; !approxEqual(got, c.want, 1e-12) {
			t.Fatalf("dist(%d,%d) = %v, want %v", c.i, c.j, got, c.want)
		}
	}
	if d[0] > 1e-14 {
		t.Fatalf("diagonal should be ~0, got %v", d[0])
	}
}

func TestDRMSD(t *testing.T) {
	a := [][3]float64{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}
	b := [][3]float64{{0, 0, 0}, {2, 0, 0}, {0, 1, 0}}

	got, err := DRMSD(a, b)
	if err != nil {
		t.Fatalf("DRMSD error: %v", err)
	}
	if !approxEqual(got, 0.7473162382069235, 1e-9) {
		t.Fatalf("DRMSD = %v, want 0.747316", got)
	}

	same, err := DRMSD(a, a)
	if err != nil {
		t.Fatalf("DRMSD(a, a) error: %v", err)
	}
	if same != 0 {
		t.Fatalf("DRMSD(a, a) = %v, want 0", same)
	}
}

func TestDRMSDIgnoresRigidMotion(t *testing.T) {
	a := [][3]float64{
		{-2.803, -15.373, 24.556},
		{0.893, -16.062, 25.147},
		{1.368, -12.371, 25.885},
		{-1.651, -12.153, 28.177},
		{-0.440, -15.218, 30.068},
	}
	b := rotateZ(a, 1.1, [3]float64{10, -4, 2.5})
	got, err := DRMSD(a, b)
	if err != nil {
		t.Fatalf("DRMSD error: %v", err)
	}
	if got > 1e-9 {
		t.Fatalf("DRMSD of rigidly moved copy = %v, want ~0", got)
	}
}

func TestDRMSDErrors(t *testing.T) {
	one := [][3]float64{{0, 0, 0}}
	two := [][3]float64{{0, 0, 0}, {1, 1, 1}}

	if _, err := DRMSD(one, two); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
	if _, err := DRMSD(one, one); !errors.Is(err, ErrTooFewPoints) {
		t.Fatalf("expected ErrTooFewPoints, got %v", err)
	}
}

func TestTile(t *testing.T) {
	got := Tile([]bool{true, false}, 3)
	want := []bool{true, true, true, false, false, false}
	if len(got) != len(want) {
		t.Fatalf("Tile length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Tile[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

// protein builds a protein of L residues whose atoms are all NaN except the
// ones listed in atoms (row index -> position).
func protein(id string, L int, atoms map[int][3]float32) *datasets.Protein {
	nan := datasets.NaN32
	p := &datasets.Protein{
		ID:     id,
		Seq:    make([]int, L),
		Angles: make([][]float32, L),
		Coords: make([][3]float32, L*datasets.NumCoordsPerRes),
	}
	for r := range L {
		p.Angles[r] = make([]float32, datasets.NumAngles)
	}
	for i := range p.Coords {
		if c, ok := atoms[i]; ok {
			p.Coords[i] = c
		} else {
			p.Coords[i] = [3]float32{nan, nan, nan}
		}
	}
	return p
}

func TestBatchDRMSD(t *testing.T) {
	// A has one residue with two observed atoms; B has two residues and no
	// observed atoms at all, so it is skipped.
	a := protein("A", 1, map[int][3]float32{0: {0, 0, 0}, 1: {1, 0, 0}})
	b := protein("B", 2, nil)

	batch, err := datasets.PairedCollate([]*datasets.Protein{a, b}, datasets.DefaultCollateOptions())
	if err != nil {
		t.Fatalf("PairedCollate error: %v", err)
	}
	if batch.SeqLen != 2 {
		t.Fatalf("expected padded length 2, got %d", batch.SeqLen)
	}

	pred := make([]float32, len(batch.Coords))
	for i := range pred {
		// anything outside the observed atoms must be ignored
		pred[i] = 100
	}
	set := func(ex, atom int, c [3]float32) {
		off := ex*batch.CoordRows()*3 + atom*3
		pred[off], pred[off+1], pred[off+2] = c[0], c[1], c[2]
	}
	set(0, 0, [3]float32{0, 0, 0})
	set(0, 1, [3]float32{3, 0, 0})

	res, err := BatchDRMSDFromBatch(batch, pred, BatchOptions{})
	if err != nil {
		t.Fatalf("BatchDRMSD error: %v", err)
	}
	if res.Scored != 1 {
		t.Fatalf("expected 1 scored protein, got %d", res.Scored)
	}
	if !approxEqual(res.DRMSD, 2, 1e-9) || !approxEqual(res.LnDRMSD, 2, 1e-9) {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !approxEqual(res.PerProtein[0], 2, 1e-9) || !math.IsNaN(res.PerProtein[1]) {
		t.Fatalf("unexpected per-protein values: %v", res.PerProtein)
	}
}

func TestBatchDRMSDTranslatedPrediction(t *testing.T) {
	atoms := map[int][3]float32{}
	for i := range 3 * datasets.NumCoordsPerRes {
		if i%datasets.NumCoordsPerRes < 4 {
			atoms[i] = [3]float32{float32(i), float32(i % 5), float32(i % 3)}
		}
	}
	long := protein("long", 3, atoms)
	short := protein("short", 2, map[int][3]float32{0: {0, 0, 0}, 1: {1, 2, 3}, 14: {4, 4, 4}})

	batch, err := datasets.PairedCollate([]*datasets.Protein{long, short}, datasets.DefaultCollateOptions())
	if err != nil {
		t.Fatalf("PairedCollate error: %v", err)
	}
	pred := make([]float32, len(batch.Coords))
	for i, v := range batch.Coords {
		pred[i] = v + 7
	}

	res, err := BatchDRMSD(batch.Coords, pred, batch.Seqs, batch.BatchSize, batch.SeqLen, BatchOptions{Verbose: true})
	if err != nil {
		t.Fatalf("BatchDRMSD error: %v", err)
	}
	if res.Scored != 2 {
		t.Fatalf("expected 2 scored proteins, got %d", res.Scored)
	}
	if res.DRMSD > 1e-4 || res.LnDRMSD > 1e-4 {
		t.Fatalf("translated prediction should score ~0, got %+v", res)
	}
}

func TestBatchDRMSDShapeErrors(t *testing.T) {
	_, err := BatchDRMSD(make([]float32, 10), make([]float32, 10), make([]int64, 1), 1, 1, BatchOptions{})
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch for bad coordinate size, got %v", err)
	}
	n := datasets.NumCoordsPerRes * 3
	_, err = BatchDRMSD(make([]float32, n), make([]float32, n), make([]int64, 2), 1, 1, BatchOptions{})
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch for bad sequence size, got %v", err)
	}
}
