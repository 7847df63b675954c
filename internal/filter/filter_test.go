package filter

import (
	"fmt"
	"testing"

	"github.com/csvquery/bloomd/internal/bitmap"
	"github.com/stretchr/testify/require"
)

func newTestLayer(t *testing.T, n uint64, p float64) (*Layer, Params) {
	t.Helper()
	params := EstimateParams(n, p)
	bm, err := bitmap.OpenFile(-1, int64(params.Bytes), bitmap.Anonymous)
	require.NoError(t, err)
	l, err := NewLayer(bm, params.KNum)
	require.NoError(t, err)
	return l, params
}

func TestLayerAddContainsNoFalseNegatives(t *testing.T) {
	l, _ := newTestLayer(t, 1000, 0.01)

	keys := make([][]byte, 200)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("key-%d", i))
		require.True(t, l.Add(keys[i]))
	}

	for _, k := range keys {
		require.True(t, l.Contains(k), "no false negatives: %s must be contained", k)
	}
}

func TestLayerAddSaturatedKeyDoesNotIncrementCount(t *testing.T) {
	l, _ := newTestLayer(t, 1000, 0.01)

	require.True(t, l.Add([]byte("repeat")))
	require.EqualValues(t, 1, l.Size())

	// Re-adding the same key should not flip any new bits, so it must
	// not increment the authoritative count.
	require.False(t, l.Add([]byte("repeat")))
	require.EqualValues(t, 1, l.Size())
}

func TestLayerLoadRejectsBadMagic(t *testing.T) {
	l, params := newTestLayer(t, 100, 0.01)
	require.NoError(t, l.Flush())

	bm, err := bitmap.OpenFile(-1, int64(params.Bytes), bitmap.Anonymous)
	require.NoError(t, err)
	_, err = LoadLayer(bm)
	require.Error(t, err, "zeroed bitmap has no valid magic")
}

func TestLayeredFilterGenerationSemantics(t *testing.T) {
	params := EstimateParams(10, 0.01)
	lf := NewLayeredFilter("g", params)

	newLayer := func() *Layer {
		bm, err := bitmap.OpenFile(-1, int64(params.Bytes), bitmap.Anonymous)
		require.NoError(t, err)
		l, err := NewLayer(bm, params.KNum)
		require.NoError(t, err)
		return l
	}
	require.NoError(t, lf.AddLayer(newLayer()))

	key := []byte("x")
	require.EqualValues(t, 0, lf.Contains(key))

	gen := lf.Add(key)
	require.Equal(t, 1, gen)
	require.EqualValues(t, 1, lf.Contains(key))

	// Layer 0 now contains key; Add should report overflow (0) until a
	// second layer is appended.
	require.Equal(t, 0, lf.Add(key))

	require.NoError(t, lf.AddLayer(newLayer()))
	gen = lf.Add(key)
	require.Equal(t, 2, gen)
	require.EqualValues(t, 2, lf.Contains(key))
}

func TestLayeredFilterSizeTracksLayerZero(t *testing.T) {
	params := EstimateParams(100, 0.01)
	lf := NewLayeredFilter("sz", params)
	bm, err := bitmap.OpenFile(-1, int64(params.Bytes), bitmap.Anonymous)
	require.NoError(t, err)
	l, err := NewLayer(bm, params.KNum)
	require.NoError(t, err)
	require.NoError(t, lf.AddLayer(l))

	require.EqualValues(t, 0, lf.Size())
	lf.Add([]byte("a"))
	lf.Add([]byte("b"))
	require.EqualValues(t, 2, lf.Size())
}

func TestProbabilityMatchesEstimate(t *testing.T) {
	params := EstimateParams(1000, 0.01)
	bits := (params.Bytes - 512) * 8
	p := Probability(1000, bits, params.KNum)
	require.InDelta(t, 0.01, p, 0.01)
}
