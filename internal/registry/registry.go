// Package registry implements the name to FilterEntry map: the
// coarse-grained rwlock guarding insertion/removal, and the startup
// recovery scan that reconstitutes every filter from disk.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/csvquery/bloomd/internal/entry"
)

const dirPrefix = "filter."

// Registry maps filter name to FilterEntry, guarded by its own rwlock
// for insertion/removal; each entry guards its own field mutation.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*entry.FilterEntry
	dataDir  string
	inMemory bool // server-wide default for new filters created without an explicit flag
}

// New creates an empty registry rooted at dataDir.
func New(dataDir string, defaultInMemory bool) *Registry {
	return &Registry{
		entries:  make(map[string]*entry.FilterEntry),
		dataDir:  dataDir,
		inMemory: defaultInMemory,
	}
}

// Recover scans dataDir for filter.* children and registers each,
// lazily (LayeredFilter left unloaded). Starting the server twice on
// the same data directory with no intervening client activity is a
// no-op: recovery here only reads, never writes.
func (r *Registry) Recover() error {
	children, err := os.ReadDir(r.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("registry: read data dir %s: %w", r.dataDir, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range children {
		if !c.IsDir() || !strings.HasPrefix(c.Name(), dirPrefix) {
			continue
		}
		name := strings.TrimPrefix(c.Name(), dirPrefix)
		e, err := entry.Recover(r.dataDir, name)
		if err != nil {
			return fmt.Errorf("registry: recover %s: %w", name, err)
		}
		r.entries[name] = e
	}
	return nil
}

// Get returns the entry for name, or (nil, false) if it doesn't exist.
func (r *Registry) Get(name string) (*entry.FilterEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Exists reports whether name is registered.
func (r *Registry) Exists(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Create validates name is not present, then creates (or recovers) the
// backing FilterEntry and inserts it. existed reports whether the name
// was already registered or a prior on-disk directory was recovered
// instead of a fresh filter created.
func (r *Registry) Create(name string, capacity uint64, probability float64, inMemory bool) (existed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[name]; ok {
		return true, nil
	}

	e, existed, err := entry.Create(r.dataDir, name, capacity, probability, inMemory)
	if err != nil {
		return false, err
	}
	r.entries[name] = e
	return existed, nil
}

// Drop removes name from the registry and deletes its on-disk state.
func (r *Registry) Drop(name string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return os.ErrNotExist
	}
	delete(r.entries, name)
	r.mu.Unlock()

	return e.Drop()
}

// Clear removes name from the registry without deleting its on-disk
// state, so a later `create` recovers the prior state.
func (r *Registry) Clear(name string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return os.ErrNotExist
	}
	delete(r.entries, name)
	r.mu.Unlock()

	return e.Unload()
}

// List returns the list-command summary lines for every entry whose
// name has the given prefix (empty prefix matches all), sorted by name
// for deterministic output.
func (r *Registry) List(prefix string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	lines := make([]string, len(names))
	for i, name := range names {
		lines[i] = r.entries[name].ListLine()
	}
	return lines
}

// Each calls fn for every registered entry, snapshotting the name list
// under the registry read lock first so fn can take per-entry locks
// without holding the registry lock (used by the flush and cold
// workers).
func (r *Registry) Each(fn func(name string, e *entry.FilterEntry)) {
	r.mu.RLock()
	snapshot := make(map[string]*entry.FilterEntry, len(r.entries))
	for k, v := range r.entries {
		snapshot[k] = v
	}
	r.mu.RUnlock()

	for name, e := range snapshot {
		fn(name, e)
	}
}

// DataDir returns the registry's root data directory.
func (r *Registry) DataDir() string { return r.dataDir }

// DirFor returns the on-disk directory a filter named name would use.
func (r *Registry) DirFor(name string) string {
	return filepath.Join(r.dataDir, dirPrefix+name)
}
