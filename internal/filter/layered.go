package filter

import "fmt"

// LayeredFilter is an ordered stack of Bloom filter layers sharing one
// set of Params. A key's generation is the index of the first layer
// that does not contain it.
type LayeredFilter struct {
	params Params
	name   string
	layers []*Layer
}

// NewLayeredFilter creates an empty (zero-layer) layered filter.
func NewLayeredFilter(name string, params Params) *LayeredFilter {
	return &LayeredFilter{params: params, name: name}
}

// Name returns the filter's logical name.
func (lf *LayeredFilter) Name() string { return lf.name }

// Params returns the shared layer parameters.
func (lf *LayeredFilter) Params() Params { return lf.params }

// NumLayers reports how many layers currently exist.
func (lf *LayeredFilter) NumLayers() int { return len(lf.layers) }

// Layers exposes the underlying layer slice (read-only use expected).
func (lf *LayeredFilter) Layers() []*Layer { return lf.layers }

// AddLayer appends a new layer. All layers of one LayeredFilter must
// share identical parameters; this is the caller's (entry package's)
// responsibility since layer creation requires filesystem state this
// type does not own.
func (lf *LayeredFilter) AddLayer(l *Layer) error {
	if l.KNum() != lf.params.KNum {
		return fmt.Errorf("filter: layer k_num %d does not match filter k_num %d", l.KNum(), lf.params.KNum)
	}
	lf.layers = append(lf.layers, l)
	return nil
}

// Contains returns the length of the longest prefix of layers that all
// contain key — the generation of key.
func (lf *LayeredFilter) Contains(key []byte) int {
	for i, l := range lf.layers {
		if !l.Contains(key) {
			return i
		}
	}
	return len(lf.layers)
}

// Add iterates layers in order. The first layer that does not already
// contain key receives the insertion and its index+1 is returned. If
// every existing layer already contains key, Add returns 0 and does
// nothing; the caller is responsible for calling AddLayer and retrying.
func (lf *LayeredFilter) Add(key []byte) int {
	for i, l := range lf.layers {
		if !l.Contains(key) {
			l.Add(key)
			return i + 1
		}
	}
	return 0
}

// Size reports layer 0's count as the authoritative key cardinality,
// since every distinct key is inserted into layer 0 on its first set.
// A layered filter with no layers has size 0.
func (lf *LayeredFilter) Size() uint64 {
	if len(lf.layers) == 0 {
		return 0
	}
	return lf.layers[0].Size()
}

// Flush flushes every layer, attempting all of them even if one fails,
// and returns the first error encountered (if any).
func (lf *LayeredFilter) Flush() error {
	var firstErr error
	for _, l := range lf.layers {
		if err := l.Flush(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("filter %s: %w", lf.name, err)
		}
	}
	return firstErr
}

// Close flushes and releases every layer, attempting all of them even
// if one fails.
func (lf *LayeredFilter) Close() error {
	var firstErr error
	for _, l := range lf.layers {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("filter %s: %w", lf.name, err)
		}
	}
	return firstErr
}
