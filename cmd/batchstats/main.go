// Command batchstats runs the protein data pipeline end to end and reports how
// well batches are packed, plus two reference error floors: a per-residue
// baseline's angle error and the DRMSD/RMSD of noise-perturbed true structures.
//
// Usage:
//
//	go run ./cmd/batchstats -synthetic 500 -out plots -out-csv output/batches.csv
//	go run ./cmd/batchstats -data data/casp12.gob -train-baseline -v=1
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Noofbiz/foldBatch/datasets"
	"github.com/Noofbiz/foldBatch/losses"
	"github.com/Noofbiz/foldBatch/simple"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"
)

// defaultConfigJSON is written to -config when that file does not exist, so
// there is always an editable copy of the defaults next to the outputs.
const defaultConfigJSON = `{
  "loader": {
    "batch_size": 32,
    "num_workers": 4,
    "optimize_for_cpu_parallelism": false,
    "train_eval_downsample": 0.1,
    "max_seq_len": 500,
    "n_bins": 20,
    "seed": 1,
    "pad_value": 0,
    "pad_with_nan": false
  },
  "baseline": {
    "hidden_sizes": [64],
    "learning_rate": 0.01,
    "epochs": 5,
    "batch_size": 256,
    "clip_norm": 5.0
  }
}
`

type baselineConfig struct {
	HiddenSizes  []int   `json:"hidden_sizes"`
	LearningRate float64 `json:"learning_rate"`
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size"`
	ClipNorm     float32 `json:"clip_norm"`
}

type effectiveConfig struct {
	Loader   datasets.LoaderConfig `json:"loader"`
	Baseline baselineConfig        `json:"baseline"`
}

// batchRow is one line of the per-batch CSV.
type batchRow struct {
	index    int
	size     int
	seqLen   int
	residues int
	padding  float64
}

func main() {
	klog.InitFlags(nil)

	dataPath := flag.String("data", "", "gob split cache written by datasets.SaveSplits, or a directory holding one")
	synthetic := flag.Int("synthetic", 0, "if > 0, generate this many synthetic training proteins instead of reading -data")
	configPath := flag.String("config", "", "path to JSON config (created from defaults if missing)")
	batchSize := flag.Int("batch-size", 0, "loader batch size (overrides JSON if set)")
	workers := flag.Int("workers", 0, "collation workers (overrides JSON if set)")
	seed := flag.Int64("seed", 0, "sampler and synthetic data seed (overrides JSON if set)")
	outDir := flag.String("out", "plots", "output directory for generated plots; empty disables plotting")
	outCSV := flag.String("out-csv", "", "if set, write per-batch statistics to this CSV path")
	trainBaseline := flag.Bool("train-baseline", false, "train the per-residue angle baseline and report validation angle errors")
	coordNoise := flag.Float64("coord-noise", 1.0, "stddev in Å of the Gaussian noise used for the DRMSD/RMSD noise floor; 0 disables it")
	progress := flag.Duration("progress", 5*time.Second, "progress logging interval for the train epoch")
	printEffectiveConfig := flag.Bool("print-effective-config", false, "print the effective (JSON+CLI merged) configuration and exit")
	flag.Parse()
	defer klog.Flush()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		klog.Fatalf("failed to load config: %v", err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "batch-size":
			cfg.Loader.BatchSize = *batchSize
		case "workers":
			cfg.Loader.NumWorkers = *workers
		case "seed":
			cfg.Loader.Seed = *seed
		}
	})
	if err := cfg.Loader.Validate(); err != nil {
		klog.Fatalf("invalid loader config: %v", err)
	}
	if *printEffectiveConfig {
		out, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			klog.Fatalf("failed to marshal effective config: %v", err)
		}
		fmt.Println(string(out))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	splits, err := loadSplits(*dataPath, *synthetic, cfg.Loader.Seed)
	if err != nil {
		klog.Fatalf("failed to load splits: %v", err)
	}
	for _, name := range splits.Names() {
		klog.V(1).Infof("split %s: %d proteins", name, splits[name].Len())
	}

	loaders, err := datasets.PrepareLoaders(splits, cfg.Loader)
	if err != nil {
		klog.Fatalf("failed to prepare loaders: %v", err)
	}
	loaders.Train.ProgressInterval = *progress

	start := time.Now()
	var rows []batchRow
	err = loaders.Train.Each(ctx, func(b *datasets.Batch) error {
		rows = append(rows, batchRow{
			index:    len(rows),
			size:     b.BatchSize,
			seqLen:   b.SeqLen,
			residues: b.Residues(),
			padding:  b.PaddingFraction(),
		})
		return nil
	})
	if err != nil {
		klog.Fatalf("train epoch failed: %v", err)
	}
	klog.Infof("train epoch: %d batches in %v", len(rows), time.Since(start).Round(time.Millisecond))
	reportBatches(rows)

	if *trainBaseline {
		if err := evaluateBaseline(ctx, splits, loaders, cfg.Baseline, cfg.Loader.Seed); err != nil {
			klog.Fatalf("baseline failed: %v", err)
		}
	}

	if *coordNoise > 0 {
		rng := rand.New(rand.NewSource(cfg.Loader.Seed))
		if err := reportNoiseFloor(ctx, loaders.Test, *coordNoise, rng); err != nil {
			klog.Fatalf("noise floor failed: %v", err)
		}
	}

	if *outCSV != "" {
		if err := writeBatchCSV(*outCSV, rows); err != nil {
			klog.Fatalf("failed to write %s: %v", *outCSV, err)
		}
		klog.Infof("per-batch statistics written to %s", *outCSV)
	}
	if *outDir != "" {
		train, _ := splits.Get(datasets.SplitTrain)
		if err := plotLengths(*outDir, train.Lengths()); err != nil {
			klog.Fatalf("failed to plot lengths: %v", err)
		}
		if err := plotPadding(*outDir, rows); err != nil {
			klog.Fatalf("failed to plot padding: %v", err)
		}
		klog.Infof("plots written to %s", *outDir)
	}
}

// loadConfig applies the JSON at path over the embedded defaults. An empty
// path uses the defaults; a missing file is created from them.
func loadConfig(path string) (effectiveConfig, error) {
	data := []byte(defaultConfigJSON)
	if path != "" {
		existing, err := os.ReadFile(path)
		switch {
		case err == nil:
			data = existing
		case os.IsNotExist(err):
			if err := ensureDir(filepath.Dir(path)); err != nil {
				return effectiveConfig{}, err
			}
			if err := os.WriteFile(path, []byte(defaultConfigJSON), 0644); err != nil {
				return effectiveConfig{}, fmt.Errorf("write default config: %w", err)
			}
			klog.Infof("wrote default config to %s", path)
		default:
			return effectiveConfig{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg effectiveConfig
	loader, err := datasets.ParseLoaderConfig(data)
	if err != nil {
		return cfg, err
	}
	cfg.Loader = loader

	var raw struct {
		Baseline *baselineConfig `json:"baseline"`
	}
	if err := json.Unmarshal([]byte(defaultConfigJSON), &raw); err != nil {
		return cfg, err
	}
	// decoding into the populated struct only replaces keys the document sets
	if err := json.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("unmarshal baseline config: %w", err)
	}
	cfg.Baseline = *raw.Baseline
	return cfg, nil
}

func loadSplits(path string, synthetic int, seed int64) (datasets.Splits, error) {
	if synthetic > 0 {
		rng := rand.New(rand.NewSource(seed))
		opts := datasets.SyntheticOptions{MinLen: 20, MaxLen: 400, MissingRate: 0.05, SidechainAtoms: 4}
		klog.Infof("generating %d synthetic training proteins", synthetic)
		return datasets.SyntheticSplits(synthetic, max(1, synthetic/20), opts, rng)
	}
	if path == "" {
		return nil, fmt.Errorf("one of -data or -synthetic is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		caches, err := datasets.FindCaches(path)
		if err != nil {
			return nil, err
		}
		if len(caches) > 1 {
			klog.Warningf("found %d caches in %s, using %s", len(caches), path, caches[0])
		}
		path = caches[0]
	}
	klog.Infof("loading splits from %s", path)
	return datasets.LoadSplits(path)
}

func reportBatches(rows []batchRow) {
	if len(rows) == 0 {
		klog.Warning("train epoch produced no batches")
		return
	}
	sizes := make([]float64, len(rows))
	padding := make([]float64, len(rows))
	residues := make([]float64, len(rows))
	for i, r := range rows {
		sizes[i] = float64(r.size)
		padding[i] = r.padding
		residues[i] = float64(r.residues)
	}
	sizeMean, sizeStd := stat.MeanStdDev(sizes, nil)
	padMean, padStd := stat.MeanStdDev(padding, nil)
	resMean, resStd := stat.MeanStdDev(residues, nil)
	fmt.Printf("Train epoch: %d batches\n", len(rows))
	fmt.Printf("  batch size:       %.1f ± %.1f\n", sizeMean, sizeStd)
	fmt.Printf("  residues/batch:   %.1f ± %.1f\n", resMean, resStd)
	fmt.Printf("  padding fraction: %.3f ± %.3f\n", padMean, padStd)
}

// evaluateBaseline trains the per-residue baseline on the train split and
// reports angle MSE/MAE on every validation split.
func evaluateBaseline(ctx context.Context, splits datasets.Splits, loaders *datasets.Loaders, bc baselineConfig, seed int64) error {
	train, err := splits.Get(datasets.SplitTrain)
	if err != nil {
		return err
	}
	residues, err := datasets.NewResidueDataset(train)
	if err != nil {
		return err
	}
	model, err := simple.NewModel(simple.Config{
		HiddenSizes:  bc.HiddenSizes,
		LearningRate: bc.LearningRate,
		Epochs:       bc.Epochs,
		BatchSize:    bc.BatchSize,
		ClipNorm:     bc.ClipNorm,
		Seed:         seed,
	})
	if err != nil {
		return err
	}
	klog.Infof("training baseline on %d residues", residues.Len())
	loss, err := model.TrainWithDataset(residues)
	if err != nil {
		return err
	}
	fmt.Printf("Baseline final train masked MSE: %.4f\n", loss)

	for _, split := range datasets.ValidSplits {
		l := loaders.Valid[split]
		var mseSum, maeSum float64
		var n int
		err := l.Each(ctx, func(b *datasets.Batch) error {
			pred, err := model.PredictBatchAngles(b)
			if err != nil {
				return err
			}
			mse, mae, err := losses.BatchAngleErrors(b, pred)
			if err != nil {
				return err
			}
			if !math.IsNaN(mse) {
				mseSum += mse
				maeSum += mae
				n++
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("%s: %w", l.Name(), err)
		}
		if n == 0 {
			fmt.Printf("  %-9s no observed angles\n", l.Name())
			continue
		}
		fmt.Printf("  %-9s angle MSE %.4f  MAE %.4f rad\n", l.Name(), mseSum/float64(n), maeSum/float64(n))
	}
	return nil
}

// reportNoiseFloor perturbs the true test coordinates with Gaussian noise and
// reports the DRMSD and superposition RMSD between truth and perturbed copy.
func reportNoiseFloor(ctx context.Context, test *datasets.Loader, sigma float64, rng *rand.Rand) error {
	var drmsd, lnDrmsd, rmsd []float64
	err := test.Each(ctx, func(b *datasets.Batch) error {
		noisy := make([]float32, len(b.Coords))
		for i, v := range b.Coords {
			noisy[i] = v + float32(rng.NormFloat64()*sigma)
		}
		res, err := losses.BatchDRMSDFromBatch(b, noisy, losses.BatchOptions{})
		if err != nil {
			return err
		}
		if res.Scored > 0 {
			drmsd = append(drmsd, res.DRMSD)
			lnDrmsd = append(lnDrmsd, res.LnDRMSD)
		}

		for i := range b.BatchSize {
			atoms := b.Lengths[i] * datasets.NumCoordsPerRes
			truth := make([][3]float64, atoms)
			moved := make([][3]float64, atoms)
			row, noisyRow := b.CoordRow(i), noisy[i*b.CoordRows()*3:]
			for a := range atoms {
				for k := range 3 {
					truth[a][k] = float64(row[a*3+k])
					moved[a][k] = float64(noisyRow[a*3+k])
				}
			}
			r, err := losses.RMSD(truth, moved)
			if err != nil {
				klog.V(2).Infof("skipping RMSD for %s: %v", b.IDs[i], err)
				continue
			}
			rmsd = append(rmsd, r)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(drmsd) == 0 {
		fmt.Println("Noise floor: no scorable test proteins")
		return nil
	}
	fmt.Printf("Noise floor (σ = %.2f Å) over the test split:\n", sigma)
	fmt.Printf("  DRMSD   %.3f\n", stat.Mean(drmsd, nil))
	fmt.Printf("  lnDRMSD %.3f\n", stat.Mean(lnDrmsd, nil))
	if len(rmsd) > 0 {
		fmt.Printf("  RMSD    %.3f (%d proteins)\n", stat.Mean(rmsd, nil), len(rmsd))
	}
	return nil
}

func writeBatchCSV(path string, rows []batchRow) error {
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"batch", "size", "seq_len", "residues", "padding_fraction"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.Write([]string{
			strconv.Itoa(r.index),
			strconv.Itoa(r.size),
			strconv.Itoa(r.seqLen),
			strconv.Itoa(r.residues),
			strconv.FormatFloat(r.padding, 'f', 6, 64),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	return os.MkdirAll(path, 0755)
}
