// Package datasets turns pre-parsed protein structures into padded batches
// suitable for model training.
//
// Examples come from an external parser as three parallel collections per
// split: residue sequences, per-residue angles and per-atom coordinates. This
// package keeps them in memory, groups them by length, and collates them into
// rectangular buffers that convert to gomlx tensors.
//
// Layout and intended usage:
//
// ProteinDataset
//   - Holds the examples of one split in memory.
//   - Example(i) returns a *Protein with NaN marking missing data.
//
// BinnedProteinDataset
//   - Wraps a ProteinDataset and buckets examples into a length histogram so
//     SimilarLengthBatchSampler can draw batches of similar lengths.
//
// Loader
//   - Combines a sampler with PairedCollate and exposes the batches either
//     through Each (worker pool) or through the gomlx Name/Reset/Yield methods.
package datasets

// Dataset is the minimal read interface the samplers and loaders need.
type Dataset interface {
	Len() int
	Example(i int) (*Protein, error)

	// Lengths returns the residue count of every example, in index order.
	Lengths() []int
}
