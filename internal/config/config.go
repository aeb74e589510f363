// Package config loads configuration from the environment and an
// optional config.toml. Environment variables win over the file for
// credentials; the file is the only source for model and agent
// settings.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	cerrors "github.com/mwhitfield/copilot-auth/internal/errors"
)

const (
	// defaultTokenDirName is the token directory under the user's home
	// when COPILOT_AUTH_TOKEN_DIR is unset.
	defaultTokenDirName = ".config/copilot-auth"

	// defaultSettingsName is the settings snapshot path under the
	// user's home when COPILOT_AUTH_SETTINGS_PATH is unset.
	defaultSettingsName = ".copilot-auth/settings.json"
)

// Config holds all environment-based configuration.
type Config struct {
	// GitHubToken is the environment credential fallback. It is never
	// written to disk; it loses to an explicit key and a cached OAuth
	// token during resolution.
	GitHubToken string `env:"GITHUB_TOKEN"`

	// TokenDir is where the OAuth credential store lives.
	TokenDir string `env:"COPILOT_AUTH_TOKEN_DIR"`

	// SettingsPath is where settings snapshots are projected.
	SettingsPath string `env:"COPILOT_AUTH_SETTINGS_PATH"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// FileConfig is the optional config.toml. Its API key is the "explicit
// key" of credential resolution and outranks every other source.
type FileConfig struct {
	LLM   LLMConfig   `toml:"llm"`
	Agent AgentConfig `toml:"agent"`
}

type LLMConfig struct {
	Model   string `toml:"model"`
	APIKey  string `toml:"api_key,omitempty"`
	BaseURL string `toml:"base_url,omitempty"`
}

type AgentConfig struct {
	Name          string `toml:"name,omitempty"`
	MaxIterations int    `toml:"max_iterations,omitempty"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables. It first
// attempts to load a .env file if present, then parses env vars.
// Unset paths resolve to defaults under the user's home directory.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.TokenDir == "" || cfg.SettingsPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("%w: resolving home directory: %v", cerrors.ErrConfig, err)
		}
		if cfg.TokenDir == "" {
			cfg.TokenDir = filepath.Join(home, defaultTokenDirName)
		}
		if cfg.SettingsPath == "" {
			cfg.SettingsPath = filepath.Join(home, defaultSettingsName)
		}
	}

	return cfg, nil
}

// LoadFile reads config.toml from the given path. A missing file is
// not an error; it returns an empty config so callers fall through to
// environment and OAuth credentials.
func LoadFile(path string) (*FileConfig, error) {
	fc := &FileConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fc, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, fc); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", cerrors.ErrConfig, path, err)
	}

	return fc, nil
}

// SaveFile writes config.toml with owner-only permissions, since it may
// carry an API key.
func SaveFile(path string, fc *FileConfig) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(fc); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	return nil
}
