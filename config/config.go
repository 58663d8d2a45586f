// Package config handles axonix configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/martinemde/axonix/agentloop"
	"github.com/martinemde/axonix/unifiedllm"
)

// FileName is the configuration file name searched for.
const FileName = "axonix.yaml"

// Memory store kinds.
const (
	MemorySQLite = "sqlite"
	MemoryInProc = "memory"
	MemoryOff    = "off"
)

// DefaultSearchPaths returns the config file search order:
// ./axonix.yaml, ./config/axonix.yaml, ~/.config/axonix/axonix.yaml.
func DefaultSearchPaths() []string {
	paths := []string{FileName, filepath.Join("config", FileName)}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "axonix", FileName))
	}
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise the first existing entry of DefaultSearchPaths is returned, or
// "" when there is none.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}
	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// Config holds all axonix configuration.
type Config struct {
	Backend unifiedllm.BackendConfig `yaml:"backend" json:"backend"`
	Agent   agentloop.Config         `yaml:"agent" json:"agent"`

	// Workspace is the directory tools operate in.
	Workspace string `yaml:"workspace" json:"workspace"`
	// DataDir holds memory and history. Relative paths are resolved
	// against Workspace.
	DataDir string `yaml:"data_dir" json:"data_dir"`
	// Memory selects the memory store: sqlite, memory or off.
	Memory string `yaml:"memory" json:"memory"`
	// History enables the JSONL run transcript.
	History bool `yaml:"history" json:"history"`
	// DisabledTools are left out of the tool registry.
	DisabledTools []string `yaml:"disabled_tools,omitempty" json:"disabled_tools,omitempty"`

	Log LogConfig `yaml:"log" json:"log"`
}

// LogConfig selects logger level and encoding.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // console or json
}

// Default returns the default configuration: a local Ollama model.
func Default() *Config {
	temperature := 0.2
	return &Config{
		Backend: unifiedllm.BackendConfig{
			Provider:    unifiedllm.BackendOllama,
			Model:       "gemma3:4b",
			BaseURL:     unifiedllm.DefaultOllamaURL,
			Temperature: &temperature,
			MaxTokens:   4096,
		},
		Agent:     agentloop.DefaultConfig(),
		Workspace: ".",
		DataDir:   ".axonix",
		Memory:    MemorySQLite,
		History:   true,
		Log:       LogConfig{Level: "warn", Format: "console"},
	}
}

// Load reads configuration from a YAML file over the defaults. ${VAR}
// references are expanded from the environment first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration over the defaults.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))
	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from the given .env files into the
// process environment. Missing files are skipped; variables that are
// already set win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains(unifiedllm.Backends(), c.Backend.Provider) {
		errs = append(errs, fmt.Errorf("backend.provider %q is not one of %v", c.Backend.Provider, unifiedllm.Backends()))
	}
	if strings.TrimSpace(c.Backend.Model) == "" && c.Backend.Provider != unifiedllm.BackendGollm {
		errs = append(errs, errors.New("backend.model must be set"))
	}
	if c.Backend.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("backend.max_tokens must not be negative, got %d", c.Backend.MaxTokens))
	}
	if t := c.Backend.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("backend.temperature must be between 0 and 2, got %g", *t))
	}
	switch c.Memory {
	case MemorySQLite, MemoryInProc, MemoryOff:
	default:
		errs = append(errs, fmt.Errorf("memory must be %q, %q or %q, got %q", MemorySQLite, MemoryInProc, MemoryOff, c.Memory))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if err := c.Agent.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("agent: %w", err))
	}
	return errors.Join(errs...)
}

// ResolveDataDir returns DataDir as an absolute path.
func (c *Config) ResolveDataDir() (string, error) {
	dir := c.DataDir
	if dir == "" {
		dir = ".axonix"
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(c.Workspace, dir)
	}
	return filepath.Abs(dir)
}

// settable maps the keys accepted by Set to their setters.
var settable = map[string]func(c *Config, v string) error{
	"backend.provider": func(c *Config, v string) error { c.Backend.Provider = v; return nil },
	"backend.model":    func(c *Config, v string) error { c.Backend.Model = v; return nil },
	"backend.base_url": func(c *Config, v string) error { c.Backend.BaseURL = v; return nil },
	"backend.temperature": func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.Backend.Temperature = &f
		return nil
	},
	"backend.max_tokens": setInt(func(c *Config) *int { return &c.Backend.MaxTokens }),
	"agent.max_steps":    setInt(func(c *Config) *int { return &c.Agent.MaxSteps }),
	"agent.dispatch_mode": func(c *Config, v string) error {
		c.Agent.DispatchMode = agentloop.DispatchMode(v)
		return nil
	},
	"workspace": func(c *Config, v string) error { c.Workspace = v; return nil },
	"memory":    func(c *Config, v string) error { c.Memory = v; return nil },
	"log.level": func(c *Config, v string) error { c.Log.Level = v; return nil },
}

func setInt(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

// SettableKeys lists the keys accepted by Set, sorted.
func SettableKeys() []string {
	keys := make([]string, 0, len(settable))
	for k := range settable {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Set assigns one dotted key and validates the result.
func (c *Config) Set(key, value string) error {
	set, ok := settable[key]
	if !ok {
		return fmt.Errorf("unknown setting %q (settable: %s)", key, strings.Join(SettableKeys(), ", "))
	}
	if err := set(c, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return c.Validate()
}
