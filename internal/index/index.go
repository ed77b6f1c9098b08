// Package index maintains the durable map from unit id to the active spec
// fingerprint. The index is the single pointer an execution path follows
// to find "the" implementation for a unit.
//
// The file is rewritten in full on every update (read-modify-write of the
// whole map, atomic rename); last writer wins per unit id.
package index

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Entry is the per-unit index record.
type Entry struct {
	Active  string `yaml:"active"`
	Created string `yaml:"created"`
}

// Index reads and writes the index file at one path. Updates are
// serialized in-process so concurrent batch workers cannot lose each
// other's read-modify-write cycles.
type Index struct {
	mu   sync.Mutex
	path string
}

func New(path string) *Index {
	return &Index{path: path}
}

// Load reads the whole map. A missing file is an empty index, not an
// error.
func (ix *Index) Load() (map[string]Entry, error) {
	data, err := os.ReadFile(ix.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading index %s: %w", ix.path, err)
	}
	entries := map[string]Entry{}
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing index %s: %w", ix.path, err)
	}
	return entries, nil
}

// Lookup returns the entry for a unit id.
func (ix *Index) Lookup(unitID string) (Entry, bool, error) {
	entries, err := ix.Load()
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := entries[unitID]
	return e, ok, nil
}

// SetActive points a unit at a new active fingerprint and rewrites the
// index in full.
func (ix *Index) SetActive(unitID, specFp string, now time.Time) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	entries, err := ix.Load()
	if err != nil {
		return err
	}
	entries[unitID] = Entry{
		Active:  specFp,
		Created: now.UTC().Format(time.RFC3339),
	}
	return ix.write(entries)
}

// Remove drops a unit's entry. Removing an absent entry is a no-op.
func (ix *Index) Remove(unitID string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	entries, err := ix.Load()
	if err != nil {
		return err
	}
	if _, ok := entries[unitID]; !ok {
		return nil
	}
	delete(entries, unitID)
	return ix.write(entries)
}

func (ix *Index) write(entries map[string]Entry) error {
	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshaling index: %w", err)
	}
	dir := filepath.Dir(ix.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating index dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(ix.path)+".tmp-")
	if err != nil {
		return fmt.Errorf("creating index temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing index temp file: %w", err)
	}
	if err := os.Rename(tmpName, ix.path); err != nil {
		return fmt.Errorf("publishing index: %w", err)
	}
	return nil
}
