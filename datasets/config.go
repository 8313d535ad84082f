package datasets

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoaderConfig holds the knobs of PrepareLoaders.
type LoaderConfig struct {
	BatchSize                 int     `json:"batch_size"`
	NumWorkers                int     `json:"num_workers"`
	OptimizeForCPUParallelism bool    `json:"optimize_for_cpu_parallelism"`
	TrainEvalDownsample       float64 `json:"train_eval_downsample"`
	MaxSeqLen                 int     `json:"max_seq_len"`
	NBins                     int     `json:"n_bins"`
	Seed                      int64   `json:"seed"`
	PadValue                  float32 `json:"pad_value"`

	// PadWithNaN overrides PadValue with NaN, which JSON cannot spell.
	PadWithNaN bool `json:"pad_with_nan"`
}

// DefaultLoaderConfig returns the defaults used when a field is not set.
func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		BatchSize:           32,
		NumWorkers:          1,
		TrainEvalDownsample: 0.1,
		MaxSeqLen:           MaxSeqLen,
		NBins:               DefaultNBins,
		Seed:                1,
	}
}

// loaderConfigJSON mirrors LoaderConfig with pointer fields so that absent
// keys leave the defaults alone.
type loaderConfigJSON struct {
	BatchSize                 *int     `json:"batch_size"`
	NumWorkers                *int     `json:"num_workers"`
	OptimizeForCPUParallelism *bool    `json:"optimize_for_cpu_parallelism"`
	TrainEvalDownsample       *float64 `json:"train_eval_downsample"`
	MaxSeqLen                 *int     `json:"max_seq_len"`
	NBins                     *int     `json:"n_bins"`
	Seed                      *int64   `json:"seed"`
	PadValue                  *float32 `json:"pad_value"`
	PadWithNaN                *bool    `json:"pad_with_nan"`
}

// ParseLoaderConfig applies the keys present in data on top of
// DefaultLoaderConfig. The document may either be the config object itself or
// an object with a "loader" field holding it.
func ParseLoaderConfig(data []byte) (LoaderConfig, error) {
	cfg := DefaultLoaderConfig()

	var wrapped struct {
		Loader *loaderConfigJSON `json:"loader"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return cfg, fmt.Errorf("unmarshal loader config: %w", err)
	}
	raw := wrapped.Loader
	if raw == nil {
		raw = &loaderConfigJSON{}
		if err := json.Unmarshal(data, raw); err != nil {
			return cfg, fmt.Errorf("unmarshal loader config: %w", err)
		}
	}

	if raw.BatchSize != nil {
		cfg.BatchSize = *raw.BatchSize
	}
	if raw.NumWorkers != nil {
		cfg.NumWorkers = *raw.NumWorkers
	}
	if raw.OptimizeForCPUParallelism != nil {
		cfg.OptimizeForCPUParallelism = *raw.OptimizeForCPUParallelism
	}
	if raw.TrainEvalDownsample != nil {
		cfg.TrainEvalDownsample = *raw.TrainEvalDownsample
	}
	if raw.MaxSeqLen != nil {
		cfg.MaxSeqLen = *raw.MaxSeqLen
	}
	if raw.NBins != nil {
		cfg.NBins = *raw.NBins
	}
	if raw.Seed != nil {
		cfg.Seed = *raw.Seed
	}
	if raw.PadValue != nil {
		cfg.PadValue = *raw.PadValue
	}
	if raw.PadWithNaN != nil {
		cfg.PadWithNaN = *raw.PadWithNaN
	}
	return cfg, cfg.Validate()
}

// LoadLoaderConfig reads a JSON loader config from path.
func LoadLoaderConfig(path string) (LoaderConfig, error) {
	if path == "" {
		return DefaultLoaderConfig(), fmt.Errorf("empty path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultLoaderConfig(), fmt.Errorf("read loader config: %w", err)
	}
	return ParseLoaderConfig(data)
}

// Validate reports the first invalid field.
func (c LoaderConfig) Validate() error {
	switch {
	case c.BatchSize <= 0:
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	case c.NumWorkers < 0:
		return fmt.Errorf("num_workers must not be negative, got %d", c.NumWorkers)
	case c.TrainEvalDownsample < 0 || c.TrainEvalDownsample > 1:
		return fmt.Errorf("train_eval_downsample must be in [0, 1], got %v", c.TrainEvalDownsample)
	case c.MaxSeqLen < 0:
		return fmt.Errorf("max_seq_len must not be negative, got %d", c.MaxSeqLen)
	case c.NBins < 0:
		return fmt.Errorf("n_bins must not be negative, got %d", c.NBins)
	}
	return nil
}

func (c LoaderConfig) collateOptions() CollateOptions {
	opts := CollateOptions{MaxSeqLen: c.MaxSeqLen, PadValue: c.PadValue}
	if c.PadWithNaN {
		opts.PadValue = NaN32
	}
	return opts
}
