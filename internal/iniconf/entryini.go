package iniconf

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// EntryConfig mirrors the [config] section of one filter's INI file.
type EntryConfig struct {
	FilterName      string
	Capacity        uint64
	Probability     float64
	KNum            int
	InMemory        bool
	Bytes           uint64
	Size            uint64
	BitmapFilenames []string
	FilterSizes     []uint64
}

// EntryCounters mirrors the [counters] section.
type EntryCounters struct {
	CheckHits   uint64
	CheckMisses uint64
	SetHits     uint64
	SetMisses   uint64
	PageIns     uint64
	PageOuts    uint64
}

// LoadEntryINI reads a filter's <name>.ini file.
func LoadEntryINI(path string) (EntryConfig, EntryCounters, error) {
	var cfg EntryConfig
	var counters EntryCounters

	f, err := ini.Load(path)
	if err != nil {
		return cfg, counters, fmt.Errorf("iniconf: load %s: %w", path, err)
	}

	c := f.Section("config")
	cfg.FilterName = c.Key("filter_name").String()
	cfg.Capacity, _ = strconv.ParseUint(c.Key("capacity").String(), 10, 64)
	cfg.Probability, _ = strconv.ParseFloat(c.Key("probability").String(), 64)
	kNum, _ := strconv.Atoi(c.Key("k_num").String())
	cfg.KNum = kNum
	cfg.InMemory = c.Key("in_memory").MustBool(false)
	cfg.Bytes, _ = strconv.ParseUint(c.Key("bytes").String(), 10, 64)
	cfg.Size, _ = strconv.ParseUint(c.Key("size").String(), 10, 64)
	cfg.BitmapFilenames = splitCSV(c.Key("bitmap_filenames").String())
	cfg.FilterSizes = splitCSVUint(c.Key("filter_sizes").String())

	ct := f.Section("counters")
	counters.CheckHits = mustUint(ct, "check_hits")
	counters.CheckMisses = mustUint(ct, "check_misses")
	counters.SetHits = mustUint(ct, "set_hits")
	counters.SetMisses = mustUint(ct, "set_misses")
	counters.PageIns = mustUint(ct, "page_ins")
	counters.PageOuts = mustUint(ct, "page_outs")

	return cfg, counters, nil
}

// SaveEntryINI writes cfg/counters to path atomically: the new content
// is written to path+".tmp" and then renamed over path, so a crash mid
// write never leaves a torn file for recovery to read.
func SaveEntryINI(path string, cfg EntryConfig, counters EntryCounters) error {
	f := ini.Empty()

	c, _ := f.NewSection("config")
	c.Key("filter_name").SetValue(cfg.FilterName)
	c.Key("capacity").SetValue(strconv.FormatUint(cfg.Capacity, 10))
	c.Key("probability").SetValue(strconv.FormatFloat(cfg.Probability, 'g', -1, 64))
	c.Key("k_num").SetValue(strconv.Itoa(cfg.KNum))
	c.Key("in_memory").SetValue(strconv.FormatBool(cfg.InMemory))
	c.Key("bytes").SetValue(strconv.FormatUint(cfg.Bytes, 10))
	c.Key("size").SetValue(strconv.FormatUint(cfg.Size, 10))
	c.Key("bitmap_filenames").SetValue(strings.Join(cfg.BitmapFilenames, ","))
	c.Key("filter_sizes").SetValue(joinUint(cfg.FilterSizes))

	ct, _ := f.NewSection("counters")
	ct.Key("check_hits").SetValue(strconv.FormatUint(counters.CheckHits, 10))
	ct.Key("check_misses").SetValue(strconv.FormatUint(counters.CheckMisses, 10))
	ct.Key("set_hits").SetValue(strconv.FormatUint(counters.SetHits, 10))
	ct.Key("set_misses").SetValue(strconv.FormatUint(counters.SetMisses, 10))
	ct.Key("page_ins").SetValue(strconv.FormatUint(counters.PageIns, 10))
	ct.Key("page_outs").SetValue(strconv.FormatUint(counters.PageOuts, 10))

	tmpPath := path + ".tmp"
	if err := f.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("iniconf: write %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("iniconf: rename %s to %s: %w", tmpPath, path, err)
	}
	return nil
}

func mustUint(sec *ini.Section, key string) uint64 {
	v, _ := strconv.ParseUint(sec.Key(key).String(), 10, 64)
	return v
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

func splitCSVUint(s string) []uint64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]uint64, 0, len(parts))
	for _, p := range parts {
		v, _ := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		out = append(out, v)
	}
	return out
}

func joinUint(vs []uint64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatUint(v, 10)
	}
	return strings.Join(parts, ",")
}

// EntryDir returns the directory name bloomd uses for a filter: the
// data directory joined with "filter.<name>".
func EntryDir(dataDir, name string) string {
	return filepath.Join(dataDir, "filter."+name)
}

// EntryINIPath returns the path to a filter's <name>.ini file inside
// its directory.
func EntryINIPath(dir, name string) string {
	return filepath.Join(dir, name+".ini")
}

// LayerFilename returns the on-disk bitmap filename for layer index i.
func LayerFilename(name string, i int) string {
	return fmt.Sprintf("%s.%d.bmp", name, i)
}
