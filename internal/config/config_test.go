package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ryelabs/rye/internal/space"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	path := filepath.Join(dir, relPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ProjectDir != dir {
		t.Errorf("project dir = %q", cfg.ProjectDir)
	}
	if cfg.Provider != "anthropic" {
		t.Errorf("provider = %q, want anthropic default", cfg.Provider)
	}
}

func TestLoadParsesFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "provider: openai\nmodel: gpt-4o\ndebug: true\nsystem_bundles:\n  - /opt/rye/core\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider != "openai" || cfg.Model != "gpt-4o" || !cfg.Debug {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.SystemBundles) != 1 {
		t.Errorf("system bundles = %v", cfg.SystemBundles)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "provider: openai\nno_such_field: 1\n")

	if _, err := Load(dir); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "provider: openai\nuser_space: /from/file\n")
	t.Setenv("RYE_PROVIDER", "anthropic")
	t.Setenv("USER_SPACE", "/from/env")
	t.Setenv("RYE_DEBUG", "1")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider != "anthropic" || cfg.UserSpace != "/from/env" || !cfg.Debug {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestExpandsEnvInFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RYE_TEST_MODEL", "claude-sonnet-4-20250514")
	writeConfig(t, dir, "model: $RYE_TEST_MODEL\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != "claude-sonnet-4-20250514" {
		t.Errorf("model = %q", cfg.Model)
	}
}

func TestSpacesOrderAndKinds(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		ProjectDir:    dir,
		UserSpace:     filepath.Join(dir, "home"),
		SystemBundles: []string{filepath.Join(dir, "bundles", "core")},
	}

	spaces := cfg.Spaces()
	if len(spaces) != 3 {
		t.Fatalf("len(spaces) = %d", len(spaces))
	}
	if spaces[0].Kind != space.Project || spaces[1].Kind != space.User || spaces[2].Kind != space.System {
		t.Errorf("space kinds = %v %v %v", spaces[0].Kind, spaces[1].Kind, spaces[2].Kind)
	}
	if spaces[2].BundleID != "core" {
		t.Errorf("bundle id = %q", spaces[2].BundleID)
	}
}

func TestProviderConfigKeySelection(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "akey")
	t.Setenv("OPENAI_API_KEY", "okey")

	a := (&Config{Provider: "anthropic"}).ProviderConfig()
	if a.APIKey != "akey" {
		t.Errorf("anthropic key = %q", a.APIKey)
	}
	o := (&Config{Provider: "openai"}).ProviderConfig()
	if o.APIKey != "okey" {
		t.Errorf("openai key = %q", o.APIKey)
	}
}
