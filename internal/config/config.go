// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads application configuration from config.toml with
// environment variable overrides (LICENSER__ prefix).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds the runtime configuration.
type Config struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	BaseURL     string `mapstructure:"baseUrl"`
	DatabasePath string `mapstructure:"databasePath"`

	CheckForUpdates bool `mapstructure:"checkForUpdates"`

	LogLevel      string `mapstructure:"logLevel"`
	LogPath       string `mapstructure:"logPath"`
	LogMaxSize    int    `mapstructure:"logMaxSize"`
	LogMaxBackups int    `mapstructure:"logMaxBackups"`

	MetricsEnabled        bool   `mapstructure:"metricsEnabled"`
	MetricsHost           string `mapstructure:"metricsHost"`
	MetricsPort           int    `mapstructure:"metricsPort"`
	MetricsBasicAuthUsers string `mapstructure:"metricsBasicAuthUsers"`
}

// AppConfig wraps Config with its viper instance so settings can be
// re-examined later (config file path, etc).
type AppConfig struct {
	Config *Config
	viper  *viper.Viper
}

// Viper joins the prefix and key with an underscore, so the trailing one
// here yields LICENSER__PORT style variables.
const envPrefix = "LICENSER_"

// GetDefaultConfigDir resolves the configuration directory: XDG_CONFIG_HOME
// (or the bare /config dir in containers), APPDATA on Windows, otherwise
// ~/.config/licenser.
func GetDefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		if xdg == "/config" {
			return xdg
		}
		return filepath.Join(xdg, "licenser")
	}

	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "licenser")
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "licenser")
}

func defaults(v *viper.Viper, configDir string) {
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 4000)
	v.SetDefault("baseUrl", "/")
	v.SetDefault("databasePath", filepath.Join(configDir, "licenser.db"))
	v.SetDefault("checkForUpdates", true)
	v.SetDefault("logLevel", "info")
	v.SetDefault("logPath", "")
	v.SetDefault("logMaxSize", 50)
	v.SetDefault("logMaxBackups", 3)
	v.SetDefault("metricsEnabled", false)
	v.SetDefault("metricsHost", "127.0.0.1")
	v.SetDefault("metricsPort", 9074)
	v.SetDefault("metricsBasicAuthUsers", "")
}

// New loads the configuration, creating a default config file on first run.
// configDir may be empty, in which case the default directory is used.
func New(configDir string) (*AppConfig, error) {
	if configDir == "" {
		configDir = GetDefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	defaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := writeDefaultConfig(configDir); err != nil {
			return nil, err
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read generated config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &AppConfig{Config: cfg, viper: v}, nil
}

// ConfigFileUsed returns the path of the loaded config file.
func (c *AppConfig) ConfigFileUsed() string {
	return c.viper.ConfigFileUsed()
}

func writeDefaultConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	log.Info().Msgf("Writing default config file: %s", path)

	content := `# licenser configuration
# Values can be overridden with LICENSER__ prefixed environment variables,
# e.g. LICENSER__PORT=8080.

# Address to listen on
host = "127.0.0.1"

# Port to listen on
port = 4000

# Base URL for reverse proxy setups, e.g. "/licenser/"
baseUrl = "/"

# Periodically check GitHub for new releases
checkForUpdates = true

# Log level: trace, debug, info, warn, error
logLevel = "info"

# Optional log file path; rotation applies when set
#logPath = "log/licenser.log"
logMaxSize = 50
logMaxBackups = 3

# Prometheus metrics endpoint (separate listener)
metricsEnabled = false
metricsHost = "127.0.0.1"
metricsPort = 9074
#metricsBasicAuthUsers = "user:password"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}

	return nil
}
