// Package config loads the optional gtod.toml file that supplies
// project-wide defaults for the data generation commands.
package config

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const FileName = "gtod.toml"

// Defaults holds the settings a gtod.toml may override. Zero values mean
// "not set"; commands fall back to their flag defaults.
type Defaults struct {
	Delimiter  string `toml:"delimiter,omitempty"`
	Lowercase  *bool  `toml:"lowercase,omitempty"`
	RandomSeed *int64 `toml:"random_seed,omitempty"`
	PromptFile string `toml:"prompt_file,omitempty"`
}

// Config is the top-level gtod.toml structure.
type Config struct {
	Defaults Defaults `toml:"defaults"`
}

// Load reads gtod.toml from dirPath. A missing file is not an error: the
// zero Config is returned so callers can apply flag defaults unchanged.
func Load(dirPath string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(dirPath, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Write marshals cfg and writes it to dirPath, overwriting any existing
// file.
func Write(dirPath string, cfg *Config) error {
	buf := new(bytes.Buffer)
	if err := toml.NewEncoder(buf).Encode(cfg); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dirPath, FileName), buf.Bytes(), 0o644)
}

// Delimiter returns the configured delimiter or fallback when unset.
func (c *Config) Delimiter(fallback string) string {
	if c != nil && c.Defaults.Delimiter != "" {
		return c.Defaults.Delimiter
	}
	return fallback
}

// Lowercase returns the configured lowercase setting or fallback when
// unset.
func (c *Config) Lowercase(fallback bool) bool {
	if c != nil && c.Defaults.Lowercase != nil {
		return *c.Defaults.Lowercase
	}
	return fallback
}

// RandomSeed returns the configured seed or fallback when unset.
func (c *Config) RandomSeed(fallback int64) int64 {
	if c != nil && c.Defaults.RandomSeed != nil {
		return *c.Defaults.RandomSeed
	}
	return fallback
}

// PromptFile returns the configured prompt table path or fallback when
// unset.
func (c *Config) PromptFile(fallback string) string {
	if c != nil && c.Defaults.PromptFile != "" {
		return c.Defaults.PromptFile
	}
	return fallback
}
