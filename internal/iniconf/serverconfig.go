// Package iniconf reads and writes the Python-style INI files this
// service uses for both its own server configuration and each filter
// entry's persisted config/counters, preserving section and key order
// the way the spec's "minimal Python-style INI" requires.
package iniconf

import (
	"time"

	"gopkg.in/ini.v1"
)

// ServerConfig holds the recognized [bloomd] keys and their effects.
type ServerConfig struct {
	Port                 int
	UDPPort              int // reserved, never bound
	BindAddress          string
	DataDir              string
	InitialCapacity      uint64
	DefaultProbability   float64
	ScaleSize            float64
	ProbabilityReduction float64
	FlushInterval        time.Duration
	ColdInterval         time.Duration
	InMemory             bool
	Workers              int
	UseMmap              bool
}

// DefaultServerConfig mirrors bloomd's historical defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:                 8673,
		UDPPort:              8674,
		BindAddress:          "0.0.0.0",
		DataDir:              "/var/lib/bloomd",
		InitialCapacity:      100000,
		DefaultProbability:   0.0001,
		ScaleSize:            4,
		ProbabilityReduction: 0.9,
		FlushInterval:        60 * time.Second,
		ColdInterval:         3600 * time.Second,
		InMemory:             false,
		Workers:              1,
		UseMmap:              true,
	}
}

// LoadServerConfig reads the [bloomd] section from path, falling back
// to DefaultServerConfig for any key that is absent.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	f, err := ini.Load(path)
	if err != nil {
		return cfg, err
	}

	sec := f.Section("bloomd")

	if sec.HasKey("port") {
		cfg.Port = sec.Key("port").MustInt(cfg.Port)
	} else if sec.HasKey("tcp_port") {
		cfg.Port = sec.Key("tcp_port").MustInt(cfg.Port)
	}
	cfg.UDPPort = sec.Key("udp_port").MustInt(cfg.UDPPort)
	cfg.BindAddress = sec.Key("bind_address").MustString(cfg.BindAddress)
	cfg.DataDir = sec.Key("data_dir").MustString(cfg.DataDir)
	cfg.InitialCapacity = uint64(sec.Key("initial_capacity").MustInt64(int64(cfg.InitialCapacity)))
	cfg.DefaultProbability = sec.Key("default_probability").MustFloat64(cfg.DefaultProbability)
	cfg.ScaleSize = sec.Key("scale_size").MustFloat64(cfg.ScaleSize)
	cfg.ProbabilityReduction = sec.Key("probability_reduction").MustFloat64(cfg.ProbabilityReduction)
	cfg.FlushInterval = time.Duration(sec.Key("flush_interval").MustInt(int(cfg.FlushInterval/time.Second))) * time.Second
	cfg.ColdInterval = time.Duration(sec.Key("cold_interval").MustInt(int(cfg.ColdInterval/time.Second))) * time.Second
	cfg.InMemory = sec.Key("in_memory").MustBool(cfg.InMemory)
	cfg.Workers = sec.Key("workers").MustInt(cfg.Workers)
	cfg.UseMmap = sec.Key("use_mmap").MustBool(cfg.UseMmap)

	return cfg, nil
}
