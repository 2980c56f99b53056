// Package export implements the exporter driver (C9): it walks a loaded
// Game tree and materializes Ebx, Resource, Chunk, and toc-resource payloads
// to a mirrored output directory.
package export

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config is the exporter's single configuration record.
type Config struct {
	GameFolder   string `toml:"game_folder"`
	OutputFolder string `toml:"output_folder"`

	ExportEbx           bool `toml:"export_ebx"`
	ExportResources     bool `toml:"export_resources"`
	ExportChunks        bool `toml:"export_chunks"`
	ExportTocResources  bool `toml:"export_toc_resources"`

	OodlePath string `toml:"oodle_path"`

	CacheEnabled bool   `toml:"cache_enabled"`
	CachePath    string `toml:"cache_path"`
}

// LoadConfig reads and decodes a TOML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the configuration errors the spec treats as fatal and
// surfaced before any parsing begins.
func (c *Config) Validate() error {
	if c.GameFolder == "" {
		return fmt.Errorf("config: game_folder is required")
	}
	if info, err := os.Stat(c.GameFolder); err != nil || !info.IsDir() {
		return fmt.Errorf("config: game_folder %q is not a directory", c.GameFolder)
	}
	if c.OutputFolder == "" {
		return fmt.Errorf("config: output_folder is required")
	}
	if err := os.MkdirAll(c.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("creating output_folder %q: %w", c.OutputFolder, err)
	}
	return nil
}
