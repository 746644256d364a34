// Package snapshot compares response bodies with values recorded by an
// earlier run. Snapshots of a batch file live next to it, in
// __snapshots__/<file>.snap.json, keyed by request and snapshot name.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
)

const (
	// Dir is the directory snapshots are stored in
	Dir = "__snapshots__"
	// Ext is the file extension of snapshot files
	Ext = ".snap.json"
)

// Manager loads, compares and records snapshots. It is safe for
// concurrent use.
type Manager struct {
	update bool

	mu    sync.Mutex
	files map[string]map[string]any
}

// NewManager creates a manager. In update mode missing or different
// snapshots are written instead of failing.
func NewManager(update bool) *Manager {
	return &Manager{
		update: update,
		files:  make(map[string]map[string]any),
	}
}

// Result is the outcome of one comparison.
type Result struct {
	Passed   bool
	Message  string
	Expected any
	Actual   any
	Created  bool
	Updated  bool
}

// Path returns the snapshot file of a batch file
func Path(batchFile string) string {
	dir, base := filepath.Split(batchFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, Dir, name+Ext)
}

// Key returns the key of a snapshot within its file
func Key(request, name string) string {
	return request + "::" + name
}

// Compare checks actual against the snapshot request::name of batchFile.
func (m *Manager) Compare(batchFile, request, name string, actual any) *Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	actual = normalize(actual)
	result := &Result{Actual: actual}
	path := Path(batchFile)
	key := Key(request, name)

	snapshots, err := m.load(path)
	if err != nil {
		result.Message = fmt.Sprintf("failed to load snapshots: %v", err)
		return result
	}

	expected, exists := snapshots[key]
	result.Expected = expected
	switch {
	case exists && reflect.DeepEqual(expected, actual):
		result.Passed = true
		return result
	case !m.update && !exists:
		result.Message = "snapshot does not exist (run with --update-snapshots to create)"
		return result
	case !m.update:
		result.Message = "snapshot mismatch"
		return result
	}

	snapshots[key] = actual
	if err := save(path, snapshots); err != nil {
		result.Message = fmt.Sprintf("failed to save snapshot: %v", err)
		return result
	}
	result.Passed = true
	result.Expected = actual
	if exists {
		result.Updated = true
		result.Message = "snapshot updated"
	} else {
		result.Created = true
		result.Message = "new snapshot created"
	}
	return result
}

func (m *Manager) load(path string) (map[string]any, error) {
	if cached, ok := m.files[path]; ok {
		return cached, nil
	}

	snapshots := make(map[string]any)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(data, &snapshots); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	m.files[path] = snapshots
	return snapshots, nil
}

func save(path string, snapshots map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snapshots, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// normalize gives v the shape it has after a JSON round trip, so numbers
// compare equal whatever their Go type.
func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
