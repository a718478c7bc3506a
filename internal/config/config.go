// Package config loads the optional arsync configuration file.
package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the optional arsync configuration file.
type Config struct {
	Defaults DefaultsConfig `toml:"defaults"`
}

// DefaultsConfig holds persistent flag defaults. Pointer fields
// distinguish "unset" from an explicit zero.
type DefaultsConfig struct {
	Workers       *int    `toml:"workers"`
	QueueDepth    *uint   `toml:"queue_depth"`
	Archive       *bool   `toml:"archive"`
	Verify        *bool   `toml:"verify"`
	BWLimit       *string `toml:"bwlimit"`
	CopyThreshold *string `toml:"copy_threshold"`
	MaxSplitDepth *int    `toml:"max_split_depth"`
	NoIOURing     *bool   `toml:"no_io_uring"`
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "arsync", "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist. Config is always optional.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	return cfg, nil
}
