package entry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateSetCheckRoundTrip(t *testing.T) {
	dir := t.TempDir()

	e, existed, err := Create(dir, "f", 1000, 0.01, false)
	require.NoError(t, err)
	require.False(t, existed)

	g, err := e.Set([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, 1, g)

	g, err = e.Check([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, 1, g)

	g, err = e.Check([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, 0, g)
}

func TestSetGenerationGrowsOnOverflow(t *testing.T) {
	dir := t.TempDir()
	e, _, err := Create(dir, "g", 10, 0.01, false)
	require.NoError(t, err)

	g1, err := e.Set([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, 1, g1)

	g2, err := e.Set([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, 2, g2)

	g3, err := e.Set([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, 3, g3)

	g, err := e.Check([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, 3, g)
}

func TestFlushAndReloadPersistsState(t *testing.T) {
	dir := t.TempDir()
	e, _, err := Create(dir, "j", 1000, 0.01, false)
	require.NoError(t, err)

	_, err = e.Set([]byte("k"))
	require.NoError(t, err)
	require.NoError(t, e.Flush())

	// Simulate a restart: drop the in-memory entry entirely and recover
	// it from the files Flush wrote.
	reloaded, err := Recover(dir, "j")
	require.NoError(t, err)

	g, err := reloaded.Check([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, 1, g, "check after restart must return the same value it would have before flush")

	body := reloaded.Info()
	require.Contains(t, body, "size 1")
	require.Contains(t, body, "sets 1")
}

func TestUnloadReloadTransparency(t *testing.T) {
	dir := t.TempDir()
	e, _, err := Create(dir, "q", 1000, 0.01, false)
	require.NoError(t, err)
	require.NoError(t, e.Flush())

	require.True(t, e.Loaded())
	require.NoError(t, e.Unload())
	require.False(t, e.Loaded())

	before := e.Info()
	require.Contains(t, before, "page_ins 0")

	// Any operation transparently reloads.
	g, err := e.Check([]byte("z"))
	require.NoError(t, err)
	require.Equal(t, 0, g)
	require.True(t, e.Loaded())

	after := e.Info()
	require.Contains(t, after, "page_ins 1")
}

func TestDropRemovesDirectoryClearKeepsIt(t *testing.T) {
	dataDir := t.TempDir()

	e, _, err := Create(dataDir, "p", 100, 0.01, false)
	require.NoError(t, err)
	dir := e.Dir()

	_, err = os.Stat(dir)
	require.NoError(t, err)

	require.NoError(t, e.Drop())
	_, err = os.Stat(dir)
	require.True(t, os.IsNotExist(err), "drop must erase the on-disk directory")

	e2, _, err := Create(dataDir, "p2", 100, 0.01, false)
	require.NoError(t, err)
	_, err = e2.Set([]byte("v"))
	require.NoError(t, err)
	require.NoError(t, e2.Flush())

	require.NoError(t, e2.Unload())

	// Clear without dropping: the directory must still be present, and a
	// subsequent Recover must see the prior state.
	dirP2 := e2.Dir()
	_, err = os.Stat(dirP2)
	require.NoError(t, err, "clear (unload without delete) must retain on-disk state")

	recovered, err := Recover(dataDir, "p2")
	require.NoError(t, err)
	g, err := recovered.Check([]byte("v"))
	require.NoError(t, err)
	require.Equal(t, 1, g)
}

func TestInMemoryFilterSkipsINIPersistence(t *testing.T) {
	dataDir := t.TempDir()
	e, _, err := Create(dataDir, "mem", 100, 0.01, true)
	require.NoError(t, err)

	_, err = e.Set([]byte("a"))
	require.NoError(t, err)
	require.NoError(t, e.Flush())

	_, err = os.Stat(filepath.Join(dataDir, "filter.mem", "mem.ini"))
	require.True(t, os.IsNotExist(err), "in-memory filters must not write an INI file")
}

func TestRecoverRejectsCorruptLayer(t *testing.T) {
	dataDir := t.TempDir()
	e, _, err := Create(dataDir, "bad", 100, 0.01, false)
	require.NoError(t, err)
	_, err = e.Set([]byte("a"))
	require.NoError(t, err)
	require.NoError(t, e.Flush())

	// Corrupt the layer's magic header bytes in place.
	layerPath := filepath.Join(e.Dir(), "bad.0.bmp")
	data, err := os.ReadFile(layerPath)
	require.NoError(t, err)
	data[0] = ^data[0]
	require.NoError(t, os.WriteFile(layerPath, data, 0644))

	reloaded, err := Recover(dataDir, "bad")
	require.NoError(t, err, "Recover itself is lazy and must not fail on a corrupt layer")

	_, err = reloaded.Check([]byte("a"))
	require.Error(t, err, "load error surfaces on first operation against the corrupt entry")

	var loadErr *ErrLoad
	require.ErrorAs(t, err, &loadErr)
}
