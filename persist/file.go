package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileGateway keeps the aggregate in a single JSON file. Saves go through a
// temporary file and a rename so a crash never leaves a half-written snapshot.
type FileGateway struct {
	Path string
}

// NewFileGateway returns a gateway writing to path.
func NewFileGateway(path string) *FileGateway { return &FileGateway{Path: path} }

// LoadAll reads the snapshot; a missing file is an empty aggregate.
func (g *FileGateway) LoadAll(ctx context.Context) (Aggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(g.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Aggregate{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	return Decode(b)
}

// SaveAll rewrites the snapshot.
func (g *FileGateway) SaveAll(ctx context.Context, agg Aggregate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := Encode(agg)
	if err != nil {
		return err
	}
	dir := filepath.Dir(g.Path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), g.Path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// MemoryGateway keeps the last saved aggregate in memory. Useful for tests and
// for running without durable storage.
type MemoryGateway struct {
	mu    sync.Mutex
	agg   Aggregate
	saves int
	err   error
}

// SetErr makes subsequent loads and saves fail with err (nil clears it).
func (m *MemoryGateway) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// LoadAll returns a copy of the last saved aggregate.
func (m *MemoryGateway) LoadAll(ctx context.Context) (Aggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.agg == nil {
		return Aggregate{}, nil
	}
	b, err := Encode(m.agg)
	if err != nil {
		return nil, err
	}
	return Decode(b)
}

// SaveAll stores a copy of agg.
func (m *MemoryGateway) SaveAll(ctx context.Context, agg Aggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	b, err := Encode(agg)
	if err != nil {
		return err
	}
	cp, err := Decode(b)
	if err != nil {
		return err
	}
	m.agg = cp
	m.saves++
	return nil
}

// Saves reports how many snapshots were stored.
func (m *MemoryGateway) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
