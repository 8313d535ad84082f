package datasets

import (
	"fmt"
	"math"
	"math/rand"
)

// SyntheticOptions controls the shape of generated proteins.
type SyntheticOptions struct {
	MinLen, MaxLen int

	// MissingRate is the probability that a residue has no coordinates and no
	// angles.
	MissingRate float64

	// SidechainAtoms is how many of the NumCoordsPerRes slots are filled for
	// present residues. The rest stay NaN. Zero means 4 (backbone only).
	SidechainAtoms int
}

// Synthetic generates n proteins whose backbone follows a random walk with
// roughly 3.8 Å steps. It is only meant for tests, examples and smoke runs.
func Synthetic(n int, opts SyntheticOptions, rng *rand.Rand) ([]*Protein, error) {
	if opts.MinLen <= 0 || opts.MaxLen < opts.MinLen {
		return nil, fmt.Errorf("invalid length range [%d, %d]", opts.MinLen, opts.MaxLen)
	}
	atoms := opts.SidechainAtoms
	if atoms <= 0 {
		atoms = 4
	}
	atoms = min(atoms, NumCoordsPerRes)

	out := make([]*Protein, n)
	for i := range n {
		L := opts.MinLen + rng.Intn(opts.MaxLen-opts.MinLen+1)
		p := &Protein{
			ID:     fmt.Sprintf("synthetic_%d", i),
			Seq:    make([]int, L),
			Angles: make([][]float32, L),
			Coords: make([][3]float32, L*NumCoordsPerRes),
		}
		var pos [3]float64
		for r := range L {
			p.Seq[r] = rng.Intn(VocabSize)
			missing := rng.Float64() < opts.MissingRate

			row := make([]float32, NumAngles)
			for a := range row {
				if missing {
					row[a] = NaN32
				} else {
					row[a] = float32(rng.Float64()*2*math.Pi - math.Pi)
				}
			}
			p.Angles[r] = row

			step := randomUnit(rng)
			for k := range 3 {
				pos[k] += 3.8 * step[k]
			}
			for a := range NumCoordsPerRes {
				c := &p.Coords[r*NumCoordsPerRes+a]
				if missing || a >= atoms {
					*c = [3]float32{NaN32, NaN32, NaN32}
					continue
				}
				for k := range 3 {
					c[k] = float32(pos[k] + rng.NormFloat64()*0.7)
				}
			}
		}
		out[i] = p
	}
	return out, nil
}

// SyntheticSplits builds a train split of nTrain proteins plus every valid
// split and a test split of nEval proteins each.
func SyntheticSplits(nTrain, nEval int, opts SyntheticOptions, rng *rand.Rand) (Splits, error) {
	splits := make(Splits)
	add := func(name string, n int) error {
		ps, err := Synthetic(n, opts, rng)
		if err != nil {
			return err
		}
		ds, err := FromProteins(ps)
		if err != nil {
			return err
		}
		splits[name] = ds
		return nil
	}
	if err := add(SplitTrain, nTrain); err != nil {
		return nil, err
	}
	for _, split := range ValidSplits {
		if err := add(ValidSplitName(split), nEval); err != nil {
			return nil, err
		}
	}
	if err := add(SplitTest, nEval); err != nil {
		return nil, err
	}
	return splits, nil
}

func randomUnit(rng *rand.Rand) [3]float64 {
	for {
		v := [3]float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
		norm := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
		if norm > 1e-9 {
			return [3]float64{v[0] / norm, v[1] / norm, v[2] / norm}
		}
	}
}
