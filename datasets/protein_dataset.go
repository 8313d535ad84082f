package datasets

import (
	"fmt"
	"sort"
)

// ProteinDataset holds one split of examples in memory.
type ProteinDataset struct {
	proteins []*Protein
	lens     []int
}

// NewProteinDataset builds a dataset from parallel sequences, angles and
// coordinates. ids may be nil, in which case examples are named by index.
func NewProteinDataset(ids []string, seqs [][]int, angs [][][]float32, crds [][][3]float32) (*ProteinDataset, error) {
	if len(seqs) != len(angs) || len(seqs) != len(crds) {
		return nil, fmt.Errorf("mismatched split sizes: seqs=%d angs=%d crds=%d", len(seqs), len(angs), len(crds))
	}
	if ids != nil && len(ids) != len(seqs) {
		return nil, fmt.Errorf("mismatched split sizes: ids=%d seqs=%d", len(ids), len(seqs))
	}
	proteins := make([]*Protein, len(seqs))
	for i := range seqs {
		id := fmt.Sprintf("%d", i)
		if ids != nil {
			id = ids[i]
		}
		proteins[i] = &Protein{ID: id, Seq: seqs[i], Angles: angs[i], Coords: crds[i]}
	}
	return FromProteins(proteins)
}

// FromProteins builds a dataset from already assembled examples.
func FromProteins(proteins []*Protein) (*ProteinDataset, error) {
	ds := &ProteinDataset{
		proteins: proteins,
		lens:     make([]int, len(proteins)),
	}
	for i, p := range proteins {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("example %d: %w", i, err)
		}
		ds.lens[i] = p.Len()
	}
	return ds, nil
}

// Len returns the number of examples.
func (d *ProteinDataset) Len() int { return len(d.proteins) }

// Example returns the example at index i.
func (d *ProteinDataset) Example(i int) (*Protein, error) {
	if i < 0 || i >= len(d.proteins) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", i, len(d.proteins))
	}
	return d.proteins[i], nil
}

// Lengths returns the residue count of every example.
func (d *ProteinDataset) Lengths() []int { return d.lens }

// Proteins returns the underlying examples.
func (d *ProteinDataset) Proteins() []*Protein { return d.proteins }

// TotalResidues sums the lengths of all examples.
func (d *ProteinDataset) TotalResidues() int {
	total := 0
	for _, l := range d.lens {
		total += l
	}
	return total
}

// DefaultNBins is the number of length bins used by BinnedProteinDataset.
const DefaultNBins = 20

// BinnedProteinDataset groups examples by length into equal-width histogram
// bins. Bins[i] is the right edge of bin i, so an example of length l belongs
// to the first bin with l <= Bins[i].
type BinnedProteinDataset struct {
	*ProteinDataset

	Bins     []float64
	Counts   []int
	BinProbs []float64

	// BinMax is the largest length that can fall in each bin (ceil of the edge).
	BinMax []int

	// BinMap maps a bin index to the example indices in it.
	BinMap map[int][]int
}

// NewBinnedProteinDataset bins ds into nBins length buckets. nBins <= 0 uses
// DefaultNBins.
func NewBinnedProteinDataset(ds *ProteinDataset, nBins int) (*BinnedProteinDataset, error) {
	if ds == nil {
		return nil, fmt.Errorf("dataset is nil")
	}
	if ds.Len() == 0 {
		return nil, fmt.Errorf("cannot bin an empty dataset")
	}
	if nBins <= 0 {
		nBins = DefaultNBins
	}

	lo, hi := ds.lens[0], ds.lens[0]
	for _, l := range ds.lens {
		lo = min(lo, l)
		hi = max(hi, l)
	}
	fLo, fHi := float64(lo), float64(hi)
	if lo == hi {
		// Same convention as numpy.histogram for a degenerate range.
		fLo -= 0.5
		fHi += 0.5
	}

	b := &BinnedProteinDataset{
		ProteinDataset: ds,
		Bins:           make([]float64, nBins),
		Counts:         make([]int, nBins),
		BinProbs:       make([]float64, nBins),
		BinMax:         make([]int, nBins),
		BinMap:         make(map[int][]int),
	}
	width := (fHi - fLo) / float64(nBins)
	for i := range nBins {
		b.Bins[i] = fLo + width*float64(i+1)
	}
	b.Bins[nBins-1] = fHi

	for idx, l := range ds.lens {
		bin := sort.SearchFloat64s(b.Bins, float64(l))
		if bin >= nBins {
			bin = nBins - 1
		}
		b.Counts[bin]++
		b.BinMap[bin] = append(b.BinMap[bin], idx)
	}
	for i := range nBins {
		b.BinProbs[i] = float64(b.Counts[i]) / float64(ds.Len())
		for _, idx := range b.BinMap[i] {
			b.BinMax[i] = max(b.BinMax[i], ds.lens[idx])
		}
		if b.BinMax[i] == 0 {
			b.BinMax[i] = int(b.Bins[i] + 0.999999)
		}
	}
	return b, nil
}

// Split names used by Splits.
const (
	SplitTrain = "train"
	SplitTest  = "test"
)

// ValidSplitName returns the key of the validation split at the given
// sequence-identity threshold, e.g. "valid-30".
func ValidSplitName(threshold int) string {
	return fmt.Sprintf("valid-%d", threshold)
}

// Splits maps split names ("train", "valid-10", ..., "test") to datasets.
type Splits map[string]*ProteinDataset

// Get returns the named split or an error if it is absent.
func (s Splits) Get(name string) (*ProteinDataset, error) {
	ds, ok := s[name]
	if !ok || ds == nil {
		return nil, fmt.Errorf("split %q not found", name)
	}
	return ds, nil
}

// Names returns the split names in sorted order.
func (s Splits) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
