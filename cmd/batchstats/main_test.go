package main

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaultsAndOverrides(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig(\"\") error: %v", err)
	}
	if cfg.Loader.NumWorkers != 4 || cfg.Baseline.Epochs != 5 || len(cfg.Baseline.HiddenSizes) != 1 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "conf", "batchstats.json")
	if _, err := loadConfig(path); err != nil {
		t.Fatalf("loadConfig(missing) error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config was not written: %v", err)
	}

	if err := os.WriteFile(path, []byte(`{"loader": {"batch_size": 3}, "baseline": {"epochs": 2}}`), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err = loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig error: %v", err)
	}
	if cfg.Loader.BatchSize != 3 || cfg.Baseline.Epochs != 2 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Baseline.BatchSize != 256 || cfg.Loader.NBins != 20 {
		t.Fatalf("absent keys lost their defaults: %+v", cfg)
	}
}

func TestWriteBatchCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "batches.csv")
	rows := []batchRow{
		{index: 0, size: 4, seqLen: 10, residues: 31, padding: 0.225},
		{index: 1, size: 2, seqLen: 50, residues: 100, padding: 0},
	}
	if err := writeBatchCSV(path, rows); err != nil {
		t.Fatalf("writeBatchCSV error: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 || records[0][0] != "batch" || records[1][4] != "0.225000" || records[2][2] != "50" {
		t.Fatalf("unexpected CSV contents: %v", records)
	}
}

func TestLoadSplitsSynthetic(t *testing.T) {
	splits, err := loadSplits("", 40, 1)
	if err != nil {
		t.Fatalf("loadSplits error: %v", err)
	}
	train, err := splits.Get("train")
	if err != nil || train.Len() != 40 {
		t.Fatalf("train split: %v, %v", train, err)
	}
	if _, err := loadSplits("", 0, 1); err == nil {
		t.Fatalf("expected error without -data or -synthetic")
	}
}
