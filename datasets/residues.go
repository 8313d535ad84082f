package datasets

import "fmt"

// ResidueDataset flattens the residues of a Dataset into independent
// (one-hot residue, angle row) examples. Angles keep their NaNs so trainers can
// mask missing labels.
type ResidueDataset struct {
	base Dataset

	// refs[i] locates global residue i as (example, position)
	refs [][2]int
}

// NewResidueDataset indexes every residue of ds. Padding residues are skipped.
func NewResidueDataset(ds Dataset) (*ResidueDataset, error) {
	if ds == nil {
		return nil, fmt.Errorf("dataset is nil")
	}
	r := &ResidueDataset{base: ds}
	for i := range ds.Len() {
		p, err := ds.Example(i)
		if err != nil {
			return nil, err
		}
		for j, id := range p.Seq {
			if id == PadID {
				continue
			}
			r.refs = append(r.refs, [2]int{i, j})
		}
	}
	return r, nil
}

// Len returns the number of residues.
func (r *ResidueDataset) Len() int { return len(r.refs) }

// OneHot encodes a residue id as a VocabSize-wide indicator vector.
func OneHot(id int) []float32 {
	v := make([]float32, VocabSize)
	if id >= 0 && id < VocabSize {
		v[id] = 1
	}
	return v
}

// Batch returns one-hot inputs and angle labels for the given residues.
func (r *ResidueDataset) Batch(indices []int) ([][]float32, [][]float32, error) {
	inputs := make([][]float32, len(indices))
	labels := make([][]float32, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(r.refs) {
			return nil, nil, fmt.Errorf("residue index %d out of range [0, %d)", idx, len(r.refs))
		}
		ref := r.refs[idx]
		p, err := r.base.Example(ref[0])
		if err != nil {
			return nil, nil, err
		}
		inputs[i] = OneHot(p.Seq[ref[1]])
		labels[i] = append([]float32(nil), p.Angles[ref[1]]...)
	}
	return inputs, labels, nil
}
