package datasets

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// cacheVersion is incremented when the on-disk split format changes.
const cacheVersion = 1

// cacheFormat is the on-disk representation of a set of splits.
type cacheFormat struct {
	Version   int
	CreatedAt int64
	Names     []string
	Splits    map[string][]*Protein
}

// SaveSplits writes splits to path using encoding/gob. The write is atomic:
// data goes to a temp file in the same directory which is then renamed.
func SaveSplits(path string, splits Splits) error {
	if path == "" {
		return fmt.Errorf("empty cache path")
	}
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	cf := cacheFormat{
		Version:   cacheVersion,
		CreatedAt: time.Now().Unix(),
		Names:     splits.Names(),
		Splits:    make(map[string][]*Protein, len(splits)),
	}
	for name, ds := range splits {
		cf.Splits[name] = ds.Proteins()
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		tmpFile.Close()
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if err := gob.NewEncoder(tmpFile).Encode(&cf); err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync temp cache file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename cache file: %w", err)
	}
	committed = true
	return nil
}

// LoadSplits reads splits written by SaveSplits. Every example is validated.
func LoadSplits(path string) (Splits, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	defer f.Close()

	var cf cacheFormat
	if err := gob.NewDecoder(f).Decode(&cf); err != nil {
		return nil, fmt.Errorf("decode cache %s: %w", path, err)
	}
	if cf.Version != cacheVersion {
		return nil, fmt.Errorf("cache %s has version %d, expected %d", path, cf.Version, cacheVersion)
	}

	splits := make(Splits, len(cf.Names))
	for _, name := range cf.Names {
		ds, err := FromProteins(cf.Splits[name])
		if err != nil {
			return nil, fmt.Errorf("split %s: %w", name, err)
		}
		splits[name] = ds
	}
	return splits, nil
}

// FindCaches returns the *.gob files in dir in sorted order.
func FindCaches(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.gob"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no cache files found in %s", dir)
	}
	sort.Strings(matches)
	return matches, nil
}
