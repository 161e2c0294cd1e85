package catalog

import (
	"encoding/json"
	"fmt"
	"os"
)

// Snapshot is the on-disk export format of the catalog service
type Snapshot struct {
	Systems   []System   `json:"systems"`
	Endpoints []Endpoint `json:"endpoints"`
}

// LoadSnapshot reads a catalog export from disk
func LoadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read catalog snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse catalog snapshot: %w", err)
	}
	return snap, nil
}

// NewFileRepository loads a catalog export into a StaticRepository. An empty
// path yields an empty catalog.
func NewFileRepository(path string) (*StaticRepository, error) {
	if path == "" {
		return NewStaticRepository(nil, nil), nil
	}

	snap, err := LoadSnapshot(path)
	if err != nil {
		return nil, err
	}
	return NewStaticRepository(snap.Systems, snap.Endpoints), nil
}
