// Package config loads and validates the loupe configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the full system configuration. It is immutable after
// construction; every other component gets read-only access.
type Config struct {
	Debug    bool                      `yaml:"debug"`
	TempDir  string                    `yaml:"tempDir"`
	RootURL  string                    `yaml:"rootUrl"`
	Plugins  map[string]any            `yaml:"plugins"`
	Browsers map[string]*BrowserConfig `yaml:"browsers"`
}

// BrowserConfig holds per-browser-id settings.
type BrowserConfig struct {
	Capabilities   map[string]string `yaml:"capabilities"`
	ScreenshotsDir string            `yaml:"screenshotsDir"`
	WindowSize     string            `yaml:"windowSize"` // "1280x1024"
}

// Overrides are caller-supplied values that take precedence over the file.
type Overrides struct {
	Debug   *bool
	TempDir string
	RootURL string
}

// Load reads, parses and validates a YAML config file.
func Load(path string, overrides *Overrides) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return New(data, overrides)
}

// New parses and validates raw YAML config data.
func New(data []byte, overrides *Overrides) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if overrides != nil {
		if overrides.Debug != nil {
			cfg.Debug = *overrides.Debug
		}
		if overrides.TempDir != "" {
			cfg.TempDir = overrides.TempDir
		}
		if overrides.RootURL != "" {
			cfg.RootURL = overrides.RootURL
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Browsers) == 0 {
		return fmt.Errorf("config must declare at least one browser")
	}
	for id, bc := range c.Browsers {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("browser id must not be empty")
		}
		if bc == nil {
			return fmt.Errorf("browser %q has no settings", id)
		}
		if bc.WindowSize != "" {
			if _, _, err := ParseWindowSize(bc.WindowSize); err != nil {
				return fmt.Errorf("browser %q: %w", id, err)
			}
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
	for id, bc := range c.Browsers {
		if bc.Capabilities == nil {
			bc.Capabilities = map[string]string{}
		}
		if bc.Capabilities["browserName"] == "" {
			bc.Capabilities["browserName"] = id
		}
		if bc.ScreenshotsDir == "" {
			bc.ScreenshotsDir = "screens"
		}
	}
}

// BrowserIDs returns the configured browser ids in sorted order.
func (c *Config) BrowserIDs() []string {
	ids := make([]string, 0, len(c.Browsers))
	for id := range c.Browsers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ForBrowser returns the settings for a configured browser id, or nil.
func (c *Config) ForBrowser(id string) *BrowserConfig {
	return c.Browsers[id]
}

// ScreenshotPath returns the reference image path for a state captured in
// the given browser.
func (c *Config) ScreenshotPath(browserID, suiteFullName, state string) string {
	bc := c.ForBrowser(browserID)
	dir := "screens"
	if bc != nil {
		dir = bc.ScreenshotsDir
	}
	return filepath.Join(dir, filepath.FromSlash(strings.ReplaceAll(suiteFullName, ".", "/")), state, browserID+".png")
}

// ParseWindowSize parses a "WIDTHxHEIGHT" string.
func ParseWindowSize(s string) (width, height int, err error) {
	parts := strings.SplitN(s, "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid window size %q, expected WIDTHxHEIGHT", s)
	}
	width, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid window size %q: %w", s, err)
	}
	height, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid window size %q: %w", s, err)
	}
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("invalid window size %q, dimensions must be positive", s)
	}
	return width, height, nil
}
