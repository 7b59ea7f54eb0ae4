// Package config loads the layered odgrid configuration: defaults,
// then the yaml config file, then ODGRID_ environment variables, then
// command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Default configuration values.
const (
	DefaultEnvironmentName = "default"
	DefaultPageSize        = 100
	DefaultStateFile       = "state.db"
	DefaultConfigDir       = ".odgrid"
	DefaultMaxTokens       = 4096
	DefaultMaxSteps        = 10
)

// Environment is one named OData endpoint.
type Environment struct {
	URL   string `koanf:"url"`
	Label string `koanf:"label"`
	Token string `koanf:"token"`
}

// LLM configures the chat model for the agent.
type LLM struct {
	Provider     string `koanf:"provider"`
	Model        string `koanf:"model"`
	BaseURL      string `koanf:"base_url"`
	APIKey       string `koanf:"api_key"`
	MaxTokens    int    `koanf:"max_tokens"`
	MaxSteps     int    `koanf:"max_steps"`
	AutoExecute  bool   `koanf:"auto_execute"`
	CustomPrompt string `koanf:"custom_prompt"`
}

// Config holds all CLI configuration options.
type Config struct {
	Environment  string                 `koanf:"environment"`
	Environments map[string]Environment `koanf:"environments"`
	PageSize     int                    `koanf:"page_size"`
	StatePath    string                 `koanf:"state_path"`
	ExportDir    string                 `koanf:"export_dir"`
	Verbose      bool                   `koanf:"verbose"`
	LLM          LLM                    `koanf:"llm"`
}

// ActiveEnvironment resolves the environment to use. override, when
// non-empty, wins over the configured default.
func (c *Config) ActiveEnvironment(override string) (string, Environment, error) {
	name := c.Environment
	if override != "" {
		name = override
	}
	if name == "" {
		return "", Environment{}, fmt.Errorf("no environment selected: set 'environment' in the config or pass --env")
	}
	env, ok := c.Environments[name]
	if !ok {
		return "", Environment{}, fmt.Errorf("environment %q is not configured", name)
	}
	if env.URL == "" {
		return "", Environment{}, fmt.Errorf("environment %q has no url", name)
	}
	return name, env, nil
}

// DefaultStatePath is where the local store lives when the config does
// not override it.
func DefaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(DefaultConfigDir, DefaultStateFile)
	}
	return filepath.Join(home, DefaultConfigDir, DefaultStateFile)
}
