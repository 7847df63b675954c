package bitmap

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAnonymousSetReadRoundTrip(t *testing.T) {
	bm, err := OpenFile(-1, 4096, Anonymous)
	require.NoError(t, err)

	require.False(t, bm.ReadBit(10))
	bm.SetBit(10)
	require.True(t, bm.ReadBit(10))
	require.False(t, bm.ReadBit(11))

	require.NoError(t, bm.Flush(), "anonymous flush is a no-op, never an error")
	require.NoError(t, bm.Close())
}

func TestOpenNamedCreateNewZeroFilled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layer.bmp")

	bm, err := OpenNamed(path, 4096, true, New)
	require.NoError(t, err)
	require.Equal(t, pageAlign(4096), int64(bm.Len()))
	for i := uint64(0); i < 64; i++ {
		require.False(t, bm.ReadBit(i))
	}
	require.NoError(t, bm.Close())
}

func TestOpenNamedCreateFailsIfExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layer.bmp")

	bm, err := OpenNamed(path, 4096, true, New)
	require.NoError(t, err)
	require.NoError(t, bm.Close())

	_, err = OpenNamed(path, 4096, true, New)
	require.Error(t, err, "New must fail if the backing file already exists")
}

func TestFlushPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layer.bmp")

	bm, err := OpenNamed(path, 4096, true, New)
	require.NoError(t, err)
	bm.SetBit(42)
	require.NoError(t, bm.Flush())
	require.NoError(t, bm.Close())

	reopened, err := OpenNamed(path, 4096, false, Persistent)
	require.NoError(t, err)
	require.True(t, reopened.ReadBit(42))
	require.False(t, reopened.ReadBit(43))
	require.NoError(t, reopened.Close())
}

func TestCloseIsIdempotent(t *testing.T) {
	bm, err := OpenFile(-1, 4096, Anonymous)
	require.NoError(t, err)
	require.NoError(t, bm.Close())
	require.NoError(t, bm.Close(), "Close must be safe to call more than once")
}

func TestWrongSizeRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layer.bmp")

	bm, err := OpenNamed(path, 4096, true, New)
	require.NoError(t, err)
	require.NoError(t, bm.Close())

	_, err = OpenNamed(path, 8192, false, Persistent)
	require.Error(t, err, "opening an existing file at the wrong size must fail")
}
