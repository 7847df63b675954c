package iniconf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEntryINIRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.ini")

	cfg := EntryConfig{
		FilterName:      "f",
		Capacity:        1000,
		Probability:     0.01,
		KNum:            7,
		InMemory:        false,
		Bytes:           2048,
		Size:            3,
		BitmapFilenames: []string{"f.0.bmp", "f.1.bmp"},
		FilterSizes:     []uint64{2, 1},
	}
	counters := EntryCounters{
		CheckHits: 5, CheckMisses: 2, SetHits: 1, SetMisses: 3,
		PageIns: 1, PageOuts: 0,
	}

	require.NoError(t, SaveEntryINI(path, cfg, counters))

	loadedCfg, loadedCounters, err := LoadEntryINI(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loadedCfg)
	require.Equal(t, counters, loadedCounters)
}

func TestSaveEntryINIWritesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.ini")

	require.NoError(t, SaveEntryINI(path, EntryConfig{FilterName: "f"}, EntryCounters{}))

	_, err := os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err), "the .tmp file must be renamed away, never left behind")
}

func TestLoadServerConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bloomd.conf")
	require.NoError(t, os.WriteFile(path, []byte("[bloomd]\nport = 9999\n"), 0644))

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.Port)
	require.Equal(t, DefaultServerConfig().DataDir, cfg.DataDir, "unset keys fall back to the documented default")
}

func TestLoadServerConfigTCPPortAlias(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bloomd.conf")
	require.NoError(t, os.WriteFile(path, []byte("[bloomd]\ntcp_port = 7000\n"), 0644))

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	require.Equal(t, 7000, cfg.Port)
}
