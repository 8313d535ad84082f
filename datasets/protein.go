package datasets

import (
	"fmt"
	"math"
	"strings"
)

const (
	// NumCoordsPerRes is the number of atom slots stored per residue. Residues
	// with fewer heavy atoms leave the trailing slots as NaN.
	NumCoordsPerRes = 14

	// NumAngles is the number of angles recorded per residue: 3 backbone
	// torsions, 3 backbone bond angles and 6 sidechain torsions.
	NumAngles = 12

	// MaxSeqLen is the default truncation length used when collating batches.
	MaxSeqLen = 500

	// PadID is the integer id used for sequence padding.
	PadID = 20

	// VocabSize is the number of real residue ids (excluding padding).
	VocabSize = 20
)

// ValidSplits lists the sequence-identity thresholds of the validation sets.
var ValidSplits = []int{10, 20, 30, 40, 50, 70, 90}

const (
	aminoAcids = "ARNDCQEGHILKMFPSTWYV"
	padChar    = '_'
)

// Encode converts a one-letter amino acid string into residue ids. The pad
// character '_' maps to PadID.
func Encode(s string) ([]int, error) {
	ids := make([]int, 0, len(s))
	for i, r := range s {
		if r == padChar {
			ids = append(ids, PadID)
			continue
		}
		idx := strings.IndexRune(aminoAcids, r)
		if idx < 0 {
			return nil, fmt.Errorf("unknown residue %q at position %d", r, i)
		}
		ids = append(ids, idx)
	}
	return ids, nil
}

// Decode is the inverse of Encode. Out-of-range ids decode as '?'.
func Decode(ids []int) string {
	var b strings.Builder
	b.Grow(len(ids))
	for _, id := range ids {
		switch {
		case id == PadID:
			b.WriteRune(padChar)
		case id >= 0 && id < len(aminoAcids):
			b.WriteByte(aminoAcids[id])
		default:
			b.WriteByte('?')
		}
	}
	return b.String()
}

// Protein is a single pre-parsed training example.
//
// Seq holds one residue id per residue. Angles has one row per residue and
// Coords has NumCoordsPerRes rows per residue, grouped so that residue r owns
// rows [r*NumCoordsPerRes, (r+1)*NumCoordsPerRes). Missing values are NaN.
type Protein struct {
	ID     string
	Seq    []int
	Angles [][]float32
	Coords [][3]float32
}

// Len returns the number of residues.
func (p *Protein) Len() int { return len(p.Seq) }

// AngleDim returns the width of the angle rows, or 0 if there are none.
func (p *Protein) AngleDim() int {
	if len(p.Angles) == 0 {
		return 0
	}
	return len(p.Angles[0])
}

// Validate checks that angles and coordinates line up with the sequence.
func (p *Protein) Validate() error {
	if p == nil {
		return fmt.Errorf("protein is nil")
	}
	L := len(p.Seq)
	if len(p.Angles) != L {
		return fmt.Errorf("protein %s: %d angle rows for %d residues", p.ID, len(p.Angles), L)
	}
	width := p.AngleDim()
	for i, row := range p.Angles {
		if len(row) != width {
			return fmt.Errorf("protein %s: angle row %d has width %d, expected %d", p.ID, i, len(row), width)
		}
	}
	if len(p.Coords) != L*NumCoordsPerRes {
		return fmt.Errorf("protein %s: %d coordinate rows for %d residues (expected %d)",
			p.ID, len(p.Coords), L, L*NumCoordsPerRes)
	}
	for i, id := range p.Seq {
		if id < 0 || id > PadID {
			return fmt.Errorf("protein %s: residue id %d out of range at %d", p.ID, id, i)
		}
	}
	return nil
}

// flatAngles returns the angle rows as a single row-major buffer.
func (p *Protein) flatAngles() []float32 {
	width := p.AngleDim()
	out := make([]float32, 0, len(p.Angles)*width)
	for _, row := range p.Angles {
		out = append(out, row...)
	}
	return out
}

// flatCoords returns the coordinates as a single row-major [rows*3] buffer.
func (p *Protein) flatCoords() []float32 {
	out := make([]float32, 0, len(p.Coords)*3)
	for _, c := range p.Coords {
		out = append(out, c[0], c[1], c[2])
	}
	return out
}

// MissingResidues counts residues whose coordinates are all NaN.
func (p *Protein) MissingResidues() int {
	missing := 0
	for r := 0; r < len(p.Seq); r++ {
		all := true
		for _, c := range p.Coords[r*NumCoordsPerRes : (r+1)*NumCoordsPerRes] {
			if !isNaN32(c[0]) || !isNaN32(c[1]) || !isNaN32(c[2]) {
				all = false
				break
			}
		}
		if all {
			missing++
		}
	}
	return missing
}

func isNaN32(v float32) bool { return math.IsNaN(float64(v)) }

// NaN32 is a float32 NaN, convenient for marking missing values.
var NaN32 = float32(math.NaN())
