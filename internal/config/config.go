// Package config handles rxagent configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./rxagent.yaml, ~/.config/rxagent/config.yaml, /etc/rxagent/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"rxagent.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "rxagent", "config.yaml"))
	}

	paths = append(paths, "/etc/rxagent/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
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

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all rxagent configuration.
type Config struct {
	Listen       ListenConfig   `yaml:"listen"`
	Provider     ProviderConfig `yaml:"provider"`
	Auth         AuthConfig     `yaml:"auth"`
	DatabasePath string         `yaml:"database_path"`
	CORSOrigins  []string       `yaml:"cors_origins"`
	MaxRounds    int            `yaml:"max_rounds"`
	LogLevel     string         `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ProviderConfig defines the chat-completion provider connection.
// BaseURL points at any OpenAI-compatible /v1 endpoint, which keeps
// local inference servers usable for development and tests.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// AuthConfig defines bearer-token verification. Token issuance lives in
// the gateway that fronts this service; rxagent only verifies.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Provider: ProviderConfig{
			Model:   "gpt-4o",
			BaseURL: "https://api.openai.com/v1",
		},
		DatabasePath: "rxagent.db",
		CORSOrigins:  []string{"*"},
		MaxRounds:    8,
	}
}
