package datasets

import (
	"errors"
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// ErrEmptyBatch is returned when asked to collate zero examples.
var ErrEmptyBatch = errors.New("cannot collate an empty batch")

// CollateSequences pads every sequence with PadID up to the longest sequence in
// the batch and then truncates to maxSeqLen (when maxSeqLen > 0). It returns the
// row-major [len(seqs), padLen] buffer and padLen.
func CollateSequences(seqs [][]int, maxSeqLen int) ([]int64, int, error) {
	if len(seqs) == 0 {
		return nil, 0, ErrEmptyBatch
	}
	longest := 0
	for _, s := range seqs {
		longest = max(longest, len(s))
	}
	padLen := longest
	if maxSeqLen > 0 && padLen > maxSeqLen {
		padLen = maxSeqLen
	}

	flat := make([]int64, len(seqs)*padLen)
	for i, s := range seqs {
		row := flat[i*padLen : (i+1)*padLen]
		n := copyInts(row, s)
		for j := n; j < padLen; j++ {
			row[j] = PadID
		}
	}
	return flat, padLen, nil
}

func copyInts(dst []int64, src []int) int {
	n := min(len(dst), len(src))
	for i := range n {
		dst[i] = int64(src[i])
	}
	return n
}

// CollateRows pads row-major float instances (each len(inst) = rows*width) with
// padValue up to the largest row count in the batch, then truncates to maxRows
// (when maxRows > 0). It returns the [len(insts), padRows, width] buffer and
// padRows.
func CollateRows(insts [][]float32, width, maxRows int, padValue float32) ([]float32, int, error) {
	if len(insts) == 0 {
		return nil, 0, ErrEmptyBatch
	}
	if width <= 0 {
		return nil, 0, fmt.Errorf("row width must be positive, got %d", width)
	}
	longest := 0
	for i, inst := range insts {
		if len(inst)%width != 0 {
			return nil, 0, fmt.Errorf("instance %d has %d values, not a multiple of width %d", i, len(inst), width)
		}
		longest = max(longest, len(inst)/width)
	}
	padRows := longest
	if maxRows > 0 && padRows > maxRows {
		padRows = maxRows
	}

	stride := padRows * width
	flat := make([]float32, len(insts)*stride)
	for i, inst := range insts {
		row := flat[i*stride : (i+1)*stride]
		n := copy(row, inst)
		if padValue != 0 {
			for j := n; j < stride; j++ {
				row[j] = padValue
			}
		}
	}
	return flat, padRows, nil
}

// CollateOptions controls PairedCollate.
type CollateOptions struct {
	// MaxSeqLen truncates batches to this many residues. Zero means no limit.
	MaxSeqLen int

	// PadValue fills padded angle and coordinate slots. The zero value pads
	// with 0. Use NaN32 to make padding indistinguishable from missing data.
	PadValue float32
}

// DefaultCollateOptions truncates at MaxSeqLen and pads with zeros.
func DefaultCollateOptions() CollateOptions {
	return CollateOptions{MaxSeqLen: MaxSeqLen}
}

// Batch is a padded, rectangular batch of proteins stored in flat buffers.
//
// Seqs and Mask are [BatchSize, SeqLen], Angles is [BatchSize, SeqLen,
// AngleDim] and Coords is [BatchSize, SeqLen*NumCoordsPerRes, 3].
type Batch struct {
	IDs     []string
	Seqs    []int64
	Angles  []float32
	Coords  []float32
	Mask    []float32
	Lengths []int

	BatchSize int
	SeqLen    int
	AngleDim  int
}

// CoordRows is the padded number of coordinate rows per example.
func (b *Batch) CoordRows() int { return b.SeqLen * NumCoordsPerRes }

// Residues counts the real (non-padding) residues in the batch.
func (b *Batch) Residues() int {
	total := 0
	for _, l := range b.Lengths {
		total += l
	}
	return total
}

// PaddingFraction is the share of residue slots in the batch that are padding.
func (b *Batch) PaddingFraction() float64 {
	slots := b.BatchSize * b.SeqLen
	if slots == 0 {
		return 0
	}
	return 1 - float64(b.Residues())/float64(slots)
}

// SeqRow returns the padded sequence of example i.
func (b *Batch) SeqRow(i int) []int64 {
	return b.Seqs[i*b.SeqLen : (i+1)*b.SeqLen]
}

// CoordRow returns the padded [CoordRows*3] coordinates of example i.
func (b *Batch) CoordRow(i int) []float32 {
	stride := b.CoordRows() * 3
	return b.Coords[i*stride : (i+1)*stride]
}

// AngleRow returns the padded [SeqLen*AngleDim] angles of example i.
func (b *Batch) AngleRow(i int) []float32 {
	stride := b.SeqLen * b.AngleDim
	return b.Angles[i*stride : (i+1)*stride]
}

// PairedCollate pads the sequences, angles and coordinates of proteins into one
// Batch. Coordinates are truncated at MaxSeqLen*NumCoordsPerRes rows so each
// residue keeps its whole atom group.
func PairedCollate(proteins []*Protein, opts CollateOptions) (*Batch, error) {
	if len(proteins) == 0 {
		return nil, ErrEmptyBatch
	}

	angleDim := -1
	seqs := make([][]int, len(proteins))
	angs := make([][]float32, len(proteins))
	crds := make([][]float32, len(proteins))
	ids := make([]string, len(proteins))
	for i, p := range proteins {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("collate example %d: %w", i, err)
		}
		// Empty proteins carry no angle rows, so they cannot disagree on width.
		if p.Len() > 0 {
			if angleDim == -1 {
				angleDim = p.AngleDim()
			} else if p.AngleDim() != angleDim {
				return nil, fmt.Errorf("collate example %d: angle width %d differs from %d", i, p.AngleDim(), angleDim)
			}
		}
		ids[i] = p.ID
		seqs[i] = p.Seq
		angs[i] = p.flatAngles()
		crds[i] = p.flatCoords()
	}
	if angleDim <= 0 {
		angleDim = NumAngles
	}

	seqFlat, seqLen, err := CollateSequences(seqs, opts.MaxSeqLen)
	if err != nil {
		return nil, err
	}
	angFlat, angRows, err := CollateRows(angs, angleDim, opts.MaxSeqLen, opts.PadValue)
	if err != nil {
		return nil, fmt.Errorf("collate angles: %w", err)
	}
	maxCoordRows := 0
	if opts.MaxSeqLen > 0 {
		maxCoordRows = opts.MaxSeqLen * NumCoordsPerRes
	}
	crdFlat, crdRows, err := CollateRows(crds, 3, maxCoordRows, opts.PadValue)
	if err != nil {
		return nil, fmt.Errorf("collate coordinates: %w", err)
	}
	if angRows != seqLen || crdRows != seqLen*NumCoordsPerRes {
		return nil, fmt.Errorf("collated shapes disagree: seq=%d angles=%d coords=%d", seqLen, angRows, crdRows)
	}

	b := &Batch{
		IDs:       ids,
		Seqs:      seqFlat,
		Angles:    angFlat,
		Coords:    crdFlat,
		Mask:      make([]float32, len(proteins)*seqLen),
		Lengths:   make([]int, len(proteins)),
		BatchSize: len(proteins),
		SeqLen:    seqLen,
		AngleDim:  angleDim,
	}
	for i, p := range proteins {
		n := min(p.Len(), seqLen)
		b.Lengths[i] = n
		for j := range n {
			b.Mask[i*seqLen+j] = 1
		}
	}
	return b, nil
}

// ToGomlxTensors converts the batch to gomlx tensors: sequences [B, L] int64,
// angles [B, L, A], coordinates [B, L*NumCoordsPerRes, 3] and mask [B, L].
func (b *Batch) ToGomlxTensors() (seqs, angles, coords, mask *tensors.Tensor, err error) {
	if b == nil || b.BatchSize == 0 {
		return nil, nil, nil, nil, ErrEmptyBatch
	}
	seqs = tensors.FromFlatDataAndDimensions(b.Seqs, b.BatchSize, b.SeqLen)
	angles = tensors.FromFlatDataAndDimensions(b.Angles, b.BatchSize, b.SeqLen, b.AngleDim)
	coords = tensors.FromFlatDataAndDimensions(b.Coords, b.BatchSize, b.CoordRows(), 3)
	mask = tensors.FromFlatDataAndDimensions(b.Mask, b.BatchSize, b.SeqLen)
	return seqs, angles, coords, mask, nil
}
