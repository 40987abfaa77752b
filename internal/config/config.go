// Package config loads tesfcd's YAML configuration, the way
// coordinator/cfg.go builds a Config: start from DefaultConfig and
// unmarshal the file's contents over it, so every field the operator
// doesn't set keeps a sane default.
package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/tes-daq/tesfcd/internal/frame"
	"github.com/tes-daq/tesfcd/internal/logging"
)

// Config is the top-level daemon configuration.
type Config struct {
	// Interface is the kernel-bypass NIC interface name, resolved with
	// netlink before attaching.
	Interface string `yaml:"interface"`
	// Driver selects the NIC backend. Only "demo" (internal/nic/simnic,
	// fed by a synthetic frame generator) is implemented in this
	// repository; a production kernel-bypass driver is an external
	// collaborator out of scope here (spec.md §1).
	Driver string `yaml:"driver"`

	// Daemon, if true, has main write PIDFile after start-up so a
	// process supervisor can track it; this repository does not
	// double-fork, matching how modern Go daemons rely on systemd/init
	// for backgrounding rather than doing it themselves.
	Daemon  bool   `yaml:"daemon"`
	PIDFile string `yaml:"pid_file"`

	// StatsPeriod is the coordinator's statistics-logging interval; 0
	// disables periodic stats logging entirely.
	StatsPeriod time.Duration `yaml:"stats_period"`

	Logging   logging.Config   `yaml:"logging"`
	Rings     RingConfig       `yaml:"rings"`
	Writer    WriterConfig     `yaml:"writer"`
	Histogram HistogramConfig `yaml:"histogram"`
}

// RingConfig sizes the receive rings internal/nic's driver exposes.
type RingConfig struct {
	Count    int    `yaml:"count"`
	BufCount uint32 `yaml:"buf_count"`
	BufSize  uint32 `yaml:"buf_size"`
}

// WriterConfig configures the write-to-file task (component F).
type WriterConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// Root bounds every write request; see internal/writer.Canonicalizer.
	Root string `yaml:"root"`
	// AllowGlob, if non-empty, restricts accepted filenames to this
	// glob pattern (github.com/gobwas/glob syntax). Empty disables the
	// check.
	AllowGlob string `yaml:"allow_glob"`
}

// HistogramConfig configures the histogram publisher task (component G).
type HistogramConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfig returns the configuration used when a field is absent
// from the loaded YAML document.
func DefaultConfig() *Config {
	return &Config{
		Interface: "eth0",
		Driver:    "demo",
		PIDFile:   "/run/tesfcd.pid",

		StatsPeriod: 10 * time.Second,

		Logging: logging.Config{Level: zapcore.InfoLevel},

		Rings: RingConfig{
			Count:    2,
			BufCount: 4096,
			BufSize:  uint32(frame.MaxFrameLen),
		},

		Writer: WriterConfig{
			ListenAddr: ":9100",
			Root:       "/var/lib/tesfcd/capture",
		},

		Histogram: HistogramConfig{
			ListenAddr: ":9101",
		},
	}
}

// LoadConfig reads and parses the YAML configuration file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if cfg.Rings.Count <= 0 {
		return nil, fmt.Errorf("config: rings.count must be positive, got %d", cfg.Rings.Count)
	}

	return cfg, nil
}
