// Package config loads the server's YAML configuration file, covering
// every option a rustbased process recognizes.
package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/rustbase/rustbase/pkg/dustdata"
	"github.com/rustbase/rustbase/pkg/security"
)

// Net holds the listen address and optional TLS material.
type Net struct {
	Host string             `yaml:"host"`
	Port int                `yaml:"port"`
	TLS  security.TLSConfig `yaml:"tls"`
}

// Storage holds the data root and the embedded storage library's flush
// threshold.
type Storage struct {
	Path     string         `yaml:"path"`
	Dustdata DustdataConfig `yaml:"dustdata"`
}

// DustdataConfig mirrors the `storage.dustdata.*` option group.
type DustdataConfig struct {
	FlushThreshold int64 `yaml:"flush_threshold"`
}

// Auth is reserved for future explicit auth configuration; it carries no
// fields yet.
type Auth struct{}

// Config is the full set of options a rustbased process recognizes.
type Config struct {
	Net       Net     `yaml:"net"`
	Storage   Storage `yaml:"storage"`
	Threads   int     `yaml:"threads"`
	CacheSize int     `yaml:"cache_size"`
	Auth      Auth    `yaml:"auth"`
}

// Default byte budget for the cache when no cache_size is configured:
// 64 MiB.
const defaultCacheSize = 64 * 1024 * 1024

// Default returns a Config with every option set to its documented
// default, for use when no configuration file is supplied.
func Default() Config {
	return defaults()
}

// defaults returns a Config with every option set to its documented
// default.
func defaults() Config {
	return Config{
		Net: Net{Host: "0.0.0.0", Port: 6752},
		Storage: Storage{
			Path:     "./data",
			Dustdata: DustdataConfig{FlushThreshold: dustdata.DefaultFlushThreshold},
		},
		Threads:   runtime.NumCPU(),
		CacheSize: defaultCacheSize,
	}
}

// Load reads and parses the YAML configuration file at path, filling
// unset fields with their documented defaults.
func Load(path string) (Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.Threads <= 0 {
		cfg.Threads = runtime.NumCPU()
	}
	if cfg.Storage.Dustdata.FlushThreshold <= 0 {
		cfg.Storage.Dustdata.FlushThreshold = dustdata.DefaultFlushThreshold
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}

	return cfg, nil
}
