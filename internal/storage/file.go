package storage

import (
	"context"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// File is the file backed quote store. The persisted representation is a
// single JSON document, a flat mapping from lowercase asset code to price.
type File struct {
	Path string
}

// NewFile creates a file store for the given canonical path.
func NewFile(path string) *File {
	return &File{Path: path}
}

// Load reads the persisted mapping. A missing or corrupt file is treated
// as an empty store, this is a cache, not a system of record.
func (f *File) Load(_ context.Context) (map[string]float64, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", f.Path).Msg("not able to read quote file, treating store as empty")
		}
		return map[string]float64{}, nil
	}

	prices := map[string]float64{}
	if err = jsoniter.Unmarshal(data, &prices); err != nil {
		log.Warn().Err(err).Str("path", f.Path).Msg("corrupt quote file, treating store as empty")
		return map[string]float64{}, nil
	}
	return prices, nil
}

// MergeAndSave merges updates into the persisted mapping and commits the
// full merged state with a write-to-temp-then-rename so a concurrent
// reader never observes a half written file.
func (f *File) MergeAndSave(ctx context.Context, updates map[string]float64) error {
	merged, err := f.Load(ctx)
	if err != nil {
		return err
	}
	for asset, price := range updates {
		merged[asset] = price
	}

	data, err := jsoniter.Marshal(merged)
	if err != nil {
		return errors.Wrap(err, "not able to marshal quotes")
	}

	dir := filepath.Dir(f.Path)
	if err = os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "not able to create quote file directory")
	}

	// Temp file lives in the same directory as the canonical file so the
	// final rename is a same-filesystem atomic replace.
	tmp, err := os.CreateTemp(dir, ".price-*.json")
	if err != nil {
		return errors.Wrap(err, "not able to create temp quote file")
	}
	tmpPath := tmp.Name()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "not able to write temp quote file")
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "not able to sync temp quote file")
	}
	if err = tmp.Chmod(0644); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "not able to chmod temp quote file")
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "not able to close temp quote file")
	}

	if err = os.Rename(tmpPath, f.Path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "not able to commit quote file")
	}
	return nil
}
