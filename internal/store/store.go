// Package store persists contract artifacts under a base directory, keyed
// by code checksum: the raw uploaded bytecode and the instrumented module
// derived from it. Both live in content-addressed files, so the durable
// tier survives process restarts and can be shared by multiple caches.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/CosmWasm/wasmvm-go/types"
)

const (
	wasmDir = "wasm"
	// modulesVersion separates incompatible instrumented-module formats.
	// Bumping it orphans old artifacts instead of misreading them.
	modulesVersion = "v1"
)

// ErrNotFound is returned when no artifact exists for a checksum.
var ErrNotFound = errors.New("artifact not found")

// Store is a content-addressed file store below one base directory.
type Store struct {
	wasmPath    string
	modulesPath string
}

// New creates the directory layout under baseDir.
func New(baseDir string) (*Store, error) {
	s := &Store{
		wasmPath:    filepath.Join(baseDir, wasmDir),
		modulesPath: filepath.Join(baseDir, "modules", modulesVersion),
	}
	for _, dir := range []string{s.wasmPath, s.modulesPath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return s, nil
}

// SaveWasm persists raw bytecode under its checksum. Saving the same code
// twice is a no-op.
func (s *Store) SaveWasm(checksum types.Checksum, code []byte) error {
	return writeAtomic(filepath.Join(s.wasmPath, checksum.String()), code)
}

// LoadWasm returns the raw bytecode for checksum. Integrity against the
// checksum is the caller's concern; the store only moves bytes.
func (s *Store) LoadWasm(checksum types.Checksum) ([]byte, error) {
	code, err := os.ReadFile(filepath.Join(s.wasmPath, checksum.String()))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return code, err
}

// RemoveWasm deletes the raw bytecode for checksum. Removing what is not
// stored is an error so callers can distinguish it from a successful unpin.
func (s *Store) RemoveWasm(checksum types.Checksum) error {
	err := os.Remove(filepath.Join(s.wasmPath, checksum.String()))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}

// SaveModule persists an instrumented module. This is best effort
// memoization data derived from the wasm file, losing it only costs a
// recompile.
func (s *Store) SaveModule(checksum types.Checksum, module []byte) error {
	return writeAtomic(filepath.Join(s.modulesPath, checksum.String()), module)
}

// LoadModule returns the instrumented module for checksum, if present.
func (s *Store) LoadModule(checksum types.Checksum) ([]byte, error) {
	module, err := os.ReadFile(filepath.Join(s.modulesPath, checksum.String()))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return module, err
}

// writeAtomic writes via a temp file and rename, so a crashed process never
// leaves a half-written artifact under a valid name.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
