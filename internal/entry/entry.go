// Package entry implements FilterEntry: the on-disk directory, INI
// config, counters, and load/unload lifecycle for one named filter.
package entry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/csvquery/bloomd/internal/bitmap"
	"github.com/csvquery/bloomd/internal/filter"
	"github.com/csvquery/bloomd/internal/iniconf"
	"github.com/csvquery/bloomd/internal/logging"
)

// FilterEntry is one named filter's full on-disk and in-memory state.
// All mutation goes through the embedded RWMutex per the spec's
// locking hierarchy: readers for info/list field access, writers for
// every mutation (set/bulk/check/multi, flush, load/unload, drop).
type FilterEntry struct {
	mu sync.RWMutex

	name     string
	dir      string
	iniPath  string
	dataDir  string
	inMemory bool

	config   iniconf.EntryConfig
	counters iniconf.EntryCounters

	lf *filter.LayeredFilter // nil when unloaded

	coldIndex int64 // ticks since last touch; atomic so workers can bump it without the entry lock
	loadErr   error
}

// ErrLoad wraps a corrupt-layer load failure; every subsequent
// operation on an entry in this state replies with a load error
// instead of panicking.
type ErrLoad struct {
	Filter string
	Err    error
}

func (e *ErrLoad) Error() string {
	return fmt.Sprintf("filter %s: load error: %v", e.Filter, e.Err)
}
func (e *ErrLoad) Unwrap() error { return e.Err }

// Create makes a brand new filter directory and INI, or recovers an
// existing one if the directory already exists (the create command's
// "if a directory named filter.<name> already exists ... reload it
// from disk" recovery path). existed reports which branch was taken.
func Create(dataDir, name string, capacity uint64, probability float64, inMemory bool) (e *FilterEntry, existed bool, err error) {
	dir := iniconf.EntryDir(dataDir, name)

	if info, statErr := os.Stat(dir); statErr == nil && info.IsDir() {
		e, err = Recover(dataDir, name)
		return e, true, err
	}

	if !inMemory {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, false, fmt.Errorf("entry: mkdir %s: %w", dir, err)
		}
	}

	params := filter.EstimateParams(capacity, probability)
	cfg := iniconf.EntryConfig{
		FilterName:      name,
		Capacity:        capacity,
		Probability:     probability,
		KNum:            params.KNum,
		InMemory:        inMemory,
		Bytes:           params.Bytes,
		Size:            0,
		BitmapFilenames: nil,
		FilterSizes:     nil,
	}

	e = &FilterEntry{
		name:     name,
		dir:      dir,
		iniPath:  iniconf.EntryINIPath(dir, name),
		dataDir:  dataDir,
		inMemory: inMemory,
		config:   cfg,
		lf:       filter.NewLayeredFilter(name, params),
	}

	if !inMemory {
		if err := e.persistLocked(); err != nil {
			return nil, false, err
		}
	}
	return e, false, nil
}

// Recover reconstructs a FilterEntry from an existing <name>.ini file,
// lazily: the LayeredFilter is left nil (None) until first use.
func Recover(dataDir, name string) (*FilterEntry, error) {
	dir := iniconf.EntryDir(dataDir, name)
	iniPath := iniconf.EntryINIPath(dir, name)

	cfg, counters, err := iniconf.LoadEntryINI(iniPath)
	if err != nil {
		return nil, fmt.Errorf("entry: recover %s: %w", name, err)
	}

	return &FilterEntry{
		name:     name,
		dir:      dir,
		iniPath:  iniPath,
		dataDir:  dataDir,
		inMemory: cfg.InMemory,
		config:   cfg,
		counters: counters,
	}, nil
}

// Name returns the filter's logical name.
func (e *FilterEntry) Name() string { return e.name }

// Touch resets the cold-eviction counter; called at the start of every
// set/bulk/check/multi operation.
func (e *FilterEntry) Touch() { atomic.StoreInt64(&e.coldIndex, 0) }

// BumpCold advances the cold counter by one tick; called by the cold
// worker. Returns the counter's new value.
func (e *FilterEntry) BumpCold() int64 { return atomic.AddInt64(&e.coldIndex, 1) }

// ColdIndex reports the current cold-tick count.
func (e *FilterEntry) ColdIndex() int64 { return atomic.LoadInt64(&e.coldIndex) }

// Loaded reports whether the LayeredFilter is currently in memory.
func (e *FilterEntry) Loaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lf != nil
}

// ensureLoadedLocked reloads the LayeredFilter from disk if it is nil. The
// caller must hold e.mu for writing.
func (e *FilterEntry) ensureLoadedLocked() error {
	if e.lf != nil {
		return nil
	}
	if e.loadErr != nil {
		return &ErrLoad{Filter: e.name, Err: e.loadErr}
	}

	params := filter.Params{
		Capacity:    e.config.Capacity,
		Probability: e.config.Probability,
		Bytes:       e.config.Bytes,
		KNum:        e.config.KNum,
	}
	lf := filter.NewLayeredFilter(e.name, params)

	for i, fname := range e.config.BitmapFilenames {
		bm, err := e.openLayerBitmap(i, fname, false)
		if err != nil {
			e.loadErr = err
			return &ErrLoad{Filter: e.name, Err: err}
		}
		l, err := filter.LoadLayer(bm)
		if err != nil {
			bm.Close()
			e.loadErr = err
			return &ErrLoad{Filter: e.name, Err: err}
		}
		if err := lf.AddLayer(l); err != nil {
			e.loadErr = err
			return &ErrLoad{Filter: e.name, Err: err}
		}
	}

	e.lf = lf
	e.counters.PageIns++
	return nil
}

func (e *FilterEntry) openLayerBitmap(index int, filename string, create bool) (*bitmap.Bitmap, error) {
	if e.inMemory {
		return bitmap.OpenFile(-1, int64(e.config.Bytes), bitmap.Anonymous)
	}
	path := filepath.Join(e.dir, filename)
	mode := bitmap.Persistent
	if create {
		mode = bitmap.New
	}
	return bitmap.OpenNamed(path, int64(e.config.Bytes), create, mode)
}

// Unload drops the in-memory LayeredFilter (closing all its bitmaps,
// releasing their mappings) while retaining config and counters. A
// later operation transparently reloads it. In-memory filters have no
// backing file to reload from, so Unload leaves them loaded.
func (e *FilterEntry) Unload() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inMemory {
		return nil
	}
	return e.unloadLocked()
}

func (e *FilterEntry) unloadLocked() error {
	if e.lf == nil {
		return nil
	}
	err := e.lf.Close()
	e.lf = nil
	e.counters.PageOuts++
	return err
}

// growLocked appends a new on-disk layer to the loaded filter. Caller
// must hold e.mu for writing and e.lf must be non-nil.
func (e *FilterEntry) growLocked() error {
	index := len(e.config.BitmapFilenames)
	filename := iniconf.LayerFilename(e.name, index)

	bm, err := e.openLayerBitmap(index, filename, true)
	if err != nil {
		return fmt.Errorf("entry %s: grow: %w", e.name, err)
	}
	l, err := filter.NewLayer(bm, e.config.KNum)
	if err != nil {
		bm.Close()
		return fmt.Errorf("entry %s: grow: %w", e.name, err)
	}
	if err := e.lf.AddLayer(l); err != nil {
		return fmt.Errorf("entry %s: grow: %w", e.name, err)
	}

	e.config.BitmapFilenames = append(e.config.BitmapFilenames, filename)
	e.config.FilterSizes = append(e.config.FilterSizes, 0)
	return nil
}

// Set inserts key, growing the filter with a new layer if every
// existing layer already contains key. Returns the generation recorded
// for this insertion.
func (e *FilterEntry) Set(key []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Touch()
	if err := e.ensureLoadedLocked(); err != nil {
		return 0, err
	}

	g := e.lf.Contains(key)
	if g == e.lf.NumLayers() {
		if err := e.growLocked(); err != nil {
			return 0, err
		}
	}

	if g > 0 {
		e.counters.SetHits++
	} else {
		e.counters.SetMisses++
	}

	gen := e.lf.Add(key)
	e.config.Size = e.lf.Size()
	if gen > 0 && gen-1 < len(e.config.FilterSizes) {
		e.config.FilterSizes[gen-1] = e.lf.Layers()[gen-1].Size()
	}
	return gen, nil
}

// SetBulk applies Set to every key independently; a failure on one key
// does not abort the batch. The first error encountered is returned
// after every key has been tried.
func (e *FilterEntry) SetBulk(keys [][]byte) ([]int, error) {
	results := make([]int, len(keys))
	var firstErr error
	for i, k := range keys {
		g, err := e.Set(k)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		results[i] = g
	}
	return results, firstErr
}

// Check reports key's generation without mutating the filter contents,
// but does bump check counters.
func (e *FilterEntry) Check(key []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Touch()
	if err := e.ensureLoadedLocked(); err != nil {
		return 0, err
	}

	g := e.lf.Contains(key)
	if g > 0 {
		e.counters.CheckHits++
	} else {
		e.counters.CheckMisses++
	}
	return g, nil
}

// CheckMulti applies Check to every key independently.
func (e *FilterEntry) CheckMulti(keys [][]byte) ([]int, error) {
	results := make([]int, len(keys))
	for i, k := range keys {
		g, err := e.Check(k)
		if err != nil {
			return results, err
		}
		results[i] = g
	}
	return results, nil
}

// persistLocked writes the INI file. Caller must hold e.mu (for
// writing or reading — INI writes don't touch e.lf). In-memory-only
// filters skip this.
func (e *FilterEntry) persistLocked() error {
	if e.inMemory {
		return nil
	}
	return iniconf.SaveEntryINI(e.iniPath, e.config, e.counters)
}

// Flush writes both the INI (config + counters) and every layer's
// bitmap. In-memory-only filters skip INI persistence but still flush
// header state in RAM (the header bytes are rewritten even though the
// anonymous bitmap has no backing file to sync).
func (e *FilterEntry) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var flushErr error
	if e.lf != nil {
		flushErr = e.lf.Flush()
		e.config.Size = e.lf.Size()
		for i, l := range e.lf.Layers() {
			if i < len(e.config.FilterSizes) {
				e.config.FilterSizes[i] = l.Size()
			}
		}
	}

	if err := e.persistLocked(); err != nil {
		if flushErr == nil {
			flushErr = err
		} else {
			logging.FilterError(e.name, err)
		}
	}
	return flushErr
}

// Info renders the fixed key/value body for the `info` command (the
// caller wraps it in START/END lines).
func (e *FilterEntry) Info() string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "capacity %d\r\n", e.config.Capacity)
	fmt.Fprintf(&sb, "checks %d\r\n", e.counters.CheckHits+e.counters.CheckMisses)
	fmt.Fprintf(&sb, "check_hits %d\r\n", e.counters.CheckHits)
	fmt.Fprintf(&sb, "check_misses %d\r\n", e.counters.CheckMisses)
	fmt.Fprintf(&sb, "page_ins %d\r\n", e.counters.PageIns)
	fmt.Fprintf(&sb, "page_outs %d\r\n", e.counters.PageOuts)
	fmt.Fprintf(&sb, "probability %v\r\n", e.config.Probability)
	fmt.Fprintf(&sb, "sets %d\r\n", e.counters.SetHits+e.counters.SetMisses)
	fmt.Fprintf(&sb, "set_hits %d\r\n", e.counters.SetHits)
	fmt.Fprintf(&sb, "set_misses %d\r\n", e.counters.SetMisses)
	fmt.Fprintf(&sb, "size %d\r\n", e.config.Size)
	storage := "persistent"
	if e.inMemory {
		storage = "memory"
	}
	fmt.Fprintf(&sb, "storage %s\r\n", storage)
	return sb.String()
}

// ListLine renders the `list` command's one-line summary: name
// probability bytes capacity size.
func (e *FilterEntry) ListLine() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fmt.Sprintf("%s %v %d %d %d", e.name, e.config.Probability, e.config.Bytes, e.config.Capacity, e.config.Size)
}

// Dir returns the entry's on-disk directory.
func (e *FilterEntry) Dir() string { return e.dir }

// InMemory reports whether this filter skips on-disk persistence.
func (e *FilterEntry) InMemory() bool { return e.inMemory }

// Drop releases in-memory resources and deletes the entry's directory
// tree entirely.
func (e *FilterEntry) Drop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.unloadLocked(); err != nil {
		logging.FilterError(e.name, err)
	}
	if e.inMemory {
		return nil
	}
	return os.RemoveAll(e.dir)
}

// Close unloads the in-memory filter, retaining config/counters/dir so
// a later operation transparently reloads it (the `close` command).
func (e *FilterEntry) Close() error {
	return e.Unload()
}
