package clientconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigRelPath = ".config/evalboard/config.yaml"
	defaultTokenEnvVar   = "EVALBOARD_TOKEN"
)

type Config struct {
	GRPCAddr       string        `yaml:"grpc_addr"`
	GRPCInsecure   bool          `yaml:"grpc_insecure"`
	TokenEnvVar    string        `yaml:"token_env_var"`
	UIStatePath    string        `yaml:"ui_state_path"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RetryAttempts  int           `yaml:"retry_attempts"`
}

func Default() Config {
	return Config{
		GRPCAddr:       "127.0.0.1:50051",
		GRPCInsecure:   false,
		TokenEnvVar:    defaultTokenEnvVar,
		ConnectTimeout: 8 * time.Second,
		RequestTimeout: 10 * time.Second,
		RetryAttempts:  3,
	}
}

// Load reads the config file at path, or the default location when path is
// empty. A missing file yields the defaults.
func Load(path string) (Config, string, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		resolved, err := Path()
		if err != nil {
			return cfg, "", err
		}
		path = resolved
	}

	if raw, readErr := os.ReadFile(path); readErr == nil {
		if parseErr := yaml.Unmarshal(raw, &cfg); parseErr != nil {
			return cfg, path, fmt.Errorf("parse evalboard config %s: %w", path, parseErr)
		}
	} else if !errors.Is(readErr, os.ErrNotExist) {
		return cfg, path, fmt.Errorf("read evalboard config %s: %w", path, readErr)
	}

	defaults := Default()
	if strings.TrimSpace(cfg.GRPCAddr) == "" {
		cfg.GRPCAddr = defaults.GRPCAddr
	}
	if strings.TrimSpace(cfg.TokenEnvVar) == "" {
		cfg.TokenEnvVar = defaults.TokenEnvVar
	}
	if strings.TrimSpace(cfg.UIStatePath) == "" {
		cfg.UIStatePath = filepath.Join(filepath.Dir(path), "ui_state.json")
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaults.RetryAttempts
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}

	return cfg, path, nil
}

func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, defaultConfigRelPath), nil
}

func ResolveToken(cfg Config) string {
	name := strings.TrimSpace(cfg.TokenEnvVar)
	if name != "" {
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			return value
		}
	}
	if name != defaultTokenEnvVar {
		return strings.TrimSpace(os.Getenv(defaultTokenEnvVar))
	}
	return ""
}

// Write stores cfg at path, creating the directory if needed. An existing
// file is left alone unless overwrite is set.
func Write(path string, cfg Config, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s", path)
		}
	}
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, raw, 0o600)
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
