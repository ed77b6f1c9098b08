// Package config loads specforge.yaml: project environment, provider
// selection, storage paths, prompt templates, sandbox limits, and quality
// gates. There is no global config instance; the loaded Config is passed
// explicitly to every component.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is searched upward from the working directory.
const ConfigFileName = "specforge.yaml"

// Mode is the process environment mode. Strict mode enforces checkpoint
// integrity and never auto-generates; permissive mode may generate on
// demand.
type Mode string

const (
	ModeStrict     Mode = "prod"
	ModePermissive Mode = "dev"
)

// ProviderConfig selects and parameterizes one generator backend.
type ProviderConfig struct {
	Kind        string  `yaml:"kind"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	Seed        int     `yaml:"seed"`
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	// Timeout bounds each generator call, in seconds.
	Timeout int `yaml:"timeout"`
}

// Identity returns the "kind:model" provenance string.
func (p ProviderConfig) Identity() string {
	return p.Kind + ":" + p.Model
}

// PathsConfig locates the durable state.
type PathsConfig struct {
	Checkpoints string `yaml:"checkpoints"`
	Cache       string `yaml:"cache"`
	Index       string `yaml:"index"`
	Manifests   string `yaml:"manifests"`
}

// PromptsConfig names the prompt templates per unit kind.
type PromptsConfig struct {
	Function string `yaml:"function"`
	Endpoint string `yaml:"endpoint"`
}

// ProjectConfig is project-level configuration.
type ProjectConfig struct {
	Env string `yaml:"env"`
}

// SandboxConfig bounds sandboxed test execution.
type SandboxConfig struct {
	Enabled bool `yaml:"enabled"`
	// Timeout is the wall-clock bound in seconds.
	Timeout int `yaml:"timeout"`
	// MemoryMB caps the child address space.
	MemoryMB int `yaml:"memory_mb"`
}

// Gate is one external quality check run against a generated source file.
// The file path is appended to Command.
type Gate struct {
	Name    string   `yaml:"name"`
	Command []string `yaml:"command"`
}

// Config is the root configuration object.
type Config struct {
	Project   ProjectConfig             `yaml:"project"`
	Providers map[string]ProviderConfig `yaml:"provider"`
	Paths     PathsConfig               `yaml:"paths"`
	Prompts   PromptsConfig             `yaml:"prompts"`
	Sandbox   SandboxConfig             `yaml:"sandbox"`
	Gates     []Gate                    `yaml:"gates"`

	// baseDir anchors relative path resolution: the config file's
	// directory, or the working directory when no file was found.
	baseDir string
}

// Default returns the configuration used when no specforge.yaml exists.
func Default() *Config {
	cwd, _ := os.Getwd()
	return &Config{
		Project: ProjectConfig{Env: string(ModePermissive)},
		Providers: map[string]ProviderConfig{
			"default": {
				Kind:        "openai-compatible",
				Model:       "gpt-4o-mini",
				Temperature: 0.0,
				Seed:        42,
				BaseURL:     "https://api.openai.com/v1",
				APIKeyEnv:   "OPENAI_API_KEY",
				Timeout:     60,
			},
		},
		Paths: PathsConfig{
			Checkpoints: ".specforge/checkpoints",
			Cache:       ".specforge/cache.db",
			Index:       ".specforge/index.yaml",
			Manifests:   "specs",
		},
		Prompts: PromptsConfig{
			Function: "function.tmpl",
			Endpoint: "endpoint.tmpl",
		},
		Sandbox: SandboxConfig{Enabled: false, Timeout: 10, MemoryMB: 256},
		Gates: []Gate{
			{Name: "gofmt", Command: []string{"gofmt", "-l"}},
			{Name: "govet", Command: []string{"go", "vet"}},
		},
		baseDir: cwd,
	}
}

// Load reads configuration from the given file. Missing sections fall back
// to defaults; unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if _, ok := cfg.Providers["default"]; !ok {
		cfg.Providers["default"] = Default().Providers["default"]
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	cfg.baseDir = filepath.Dir(abs)

	switch Mode(cfg.Project.Env) {
	case ModeStrict, ModePermissive:
	default:
		return nil, fmt.Errorf("config %s: unknown project.env %q (want %q or %q)",
			path, cfg.Project.Env, ModePermissive, ModeStrict)
	}
	return cfg, nil
}

// Find searches for specforge.yaml from dir upward and loads it, or
// returns defaults when no file exists anywhere on the path to the root.
func Find(dir string) (*Config, error) {
	cur, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	for {
		candidate := filepath.Join(cur, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return Load(candidate)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			cfg := Default()
			cfg.baseDir, _ = filepath.Abs(dir)
			return cfg, nil
		}
		cur = parent
	}
}

// Mode returns the environment mode.
func (c *Config) Mode() Mode {
	if c.Project.Env == string(ModeStrict) {
		return ModeStrict
	}
	return ModePermissive
}

// Provider returns the named provider config, falling back to "default".
func (c *Config) Provider(name string) ProviderConfig {
	if name != "" {
		if p, ok := c.Providers[name]; ok {
			return p
		}
	}
	return c.Providers["default"]
}

// APIKey reads the provider's API key from the environment.
func (c *Config) APIKey(providerName string) (string, error) {
	p := c.Provider(providerName)
	key := os.Getenv(p.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("API key not found in environment variable %s", p.APIKeyEnv)
	}
	return key, nil
}

// ResolvePath resolves a configured path relative to the config file
// location (or the working directory when defaults are in use).
func (c *Config) ResolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.baseDir, path)
}

// BaseDir exposes the anchor directory, mainly for tests.
func (c *Config) BaseDir() string { return c.baseDir }
