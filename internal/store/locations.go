package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bloopmc/bloop/pkg/types"
)

// ErrLocationNotFound is returned when a named location does not exist.
var ErrLocationNotFound = errors.New("store: location not found")

// LocationStore persists named coordinates. Implementations must be safe for
// concurrent use.
type LocationStore interface {
	// Save creates or replaces the location under name.
	Save(ctx context.Context, name string, pos types.Vec3) error

	// Get resolves name to its saved position. Returns
	// [ErrLocationNotFound] when the name is absent.
	Get(ctx context.Context, name string) (types.Vec3, error)

	// Delete removes the location under name. Returns
	// [ErrLocationNotFound] when the name is absent.
	Delete(ctx context.Context, name string) error

	// List returns all saved locations sorted by name.
	List(ctx context.Context) ([]types.NamedLocation, error)
}

// Compile-time interface check.
var _ LocationStore = (*FileLocations)(nil)

// FileLocations stores locations as a flat JSON mapping
// { "<name>": {"x":..,"y":..,"z":..} }, matching the saves/locations.json
// format the agent has always used.
type FileLocations struct {
	mu   sync.Mutex
	path string
	data map[string]types.Vec3
}

// OpenFileLocations loads the locations file at path, starting empty when
// the file does not exist yet.
func OpenFileLocations(path string) (*FileLocations, error) {
	fl := &FileLocations{path: path, data: make(map[string]types.Vec3)}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fl, nil
	case err != nil:
		return nil, fmt.Errorf("store: read locations %q: %w", path, err)
	}

	if err := json.Unmarshal(raw, &fl.data); err != nil {
		return nil, fmt.Errorf("store: parse locations %q: %w", path, err)
	}
	return fl, nil
}

// persistLocked writes the mapping to disk. Must be called with mu held.
func (fl *FileLocations) persistLocked() error {
	data, err := json.MarshalIndent(fl.data, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal locations: %w", err)
	}
	if dir := filepath.Dir(fl.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("store: create locations dir: %w", err)
		}
	}
	if err := os.WriteFile(fl.path, data, 0o644); err != nil {
		return fmt.Errorf("store: write locations %q: %w", fl.path, err)
	}
	return nil
}

// Save implements [LocationStore].
func (fl *FileLocations) Save(ctx context.Context, name string, pos types.Vec3) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	fl.data[name] = pos
	return fl.persistLocked()
}

// Get implements [LocationStore].
func (fl *FileLocations) Get(ctx context.Context, name string) (types.Vec3, error) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	pos, ok := fl.data[name]
	if !ok {
		return types.Vec3{}, ErrLocationNotFound
	}
	return pos, nil
}

// Delete implements [LocationStore].
func (fl *FileLocations) Delete(ctx context.Context, name string) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if _, ok := fl.data[name]; !ok {
		return ErrLocationNotFound
	}
	delete(fl.data, name)
	return fl.persistLocked()
}

// List implements [LocationStore].
func (fl *FileLocations) List(ctx context.Context) ([]types.NamedLocation, error) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	out := make([]types.NamedLocation, 0, len(fl.data))
	for name, pos := range fl.data {
		out = append(out, types.NamedLocation{Name: name, Pos: pos})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
