// Package config loads runtime configuration from .ai/config/rye.yaml
// with environment overrides.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ryelabs/rye/internal/bundle"
	"github.com/ryelabs/rye/internal/provider"
	"github.com/ryelabs/rye/internal/space"
)

// Config is the resolved runtime configuration.
type Config struct {
	// ProjectDir roots the project space. Defaults to the working
	// directory.
	ProjectDir string `yaml:"project_dir"`

	// UserSpace roots the user space. $USER_SPACE overrides; defaults
	// to the home directory.
	UserSpace string `yaml:"user_space"`

	// SystemBundles lists directories containing system bundle .ai
	// trees, in resolution order.
	SystemBundles []string `yaml:"system_bundles"`

	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Debug    bool   `yaml:"debug"`
}

// relPath is where the config file lives under a project root.
var relPath = filepath.Join(space.AIDir, "config", "rye.yaml")

// Load reads projectDir's config file when present and applies
// environment overrides. A missing file yields defaults, not an error.
// Environment references in the file ($VAR) are expanded before parsing.
func Load(projectDir string) (*Config, error) {
	cfg := &Config{}

	path := filepath.Join(projectDir, relPath)
	if content, err := os.ReadFile(path); err == nil {
		expanded := []byte(os.ExpandEnv(string(content)))
		if err := decodeStrict(expanded, cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg.applyEnv()
	cfg.sanitize(projectDir)
	return cfg, nil
}

// decodeStrict rejects unknown fields and multi-document input.
func decodeStrict(content []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("expected a single document")
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("USER_SPACE"); v != "" {
		c.UserSpace = v
	}
	if v := os.Getenv("RYE_PROVIDER"); v != "" {
		c.Provider = v
	}
	if v := os.Getenv("RYE_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("RYE_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if os.Getenv("RYE_DEBUG") != "" {
		c.Debug = true
	}
}

func (c *Config) sanitize(projectDir string) {
	if c.ProjectDir == "" {
		c.ProjectDir = projectDir
	}
	if c.ProjectDir == "" {
		c.ProjectDir, _ = os.Getwd()
	}
	if c.UserSpace == "" {
		c.UserSpace, _ = os.UserHomeDir()
	}
	if c.Provider == "" {
		c.Provider = "anthropic"
	}
}

// apiKey returns the provider's key from the conventional env variable.
func (c *Config) apiKey() string {
	switch c.Provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	default:
		return os.Getenv("ANTHROPIC_API_KEY")
	}
}

// ProviderConfig builds the LLM client configuration.
func (c *Config) ProviderConfig() provider.Config {
	return provider.Config{
		Name:         c.Provider,
		APIKey:       c.apiKey(),
		BaseURL:      c.BaseURL,
		DefaultModel: c.Model,
	}
}

// Spaces assembles the resolution order: project, user, then system
// bundles. Bundle id and visibility come from each bundle's manifest when
// one exists.
func (c *Config) Spaces() []space.Space {
	spaces := []space.Space{
		{Kind: space.Project, Root: c.ProjectDir},
		{Kind: space.User, Root: c.UserSpace},
	}
	for _, root := range c.SystemBundles {
		sp := space.Space{Kind: space.System, Root: root, BundleID: filepath.Base(root)}
		if m, err := bundle.Load(filepath.Join(sp.AIPath(), bundle.ManifestName)); err == nil {
			if m.BundleID != "" {
				sp.BundleID = m.BundleID
			}
			sp.Visibility = m.Visibility
		}
		spaces = append(spaces, sp)
	}
	return spaces
}
