// Package config loads the slackbak configuration file and supplies
// platform default paths. Command-line flags override file values;
// secrets may also come from the environment (a .env file is loaded
// by the CLI before the config is read).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config mirrors the config file layout. Sections follow the
// commands: common options, fetch credentials, generate output.
type Config struct {
	Common   CommonConfig   `yaml:"common"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Generate GenerateConfig `yaml:"generate"`
}

type CommonConfig struct {
	Database string   `yaml:"database"`
	Channels []string `yaml:"channels"`
}

type FetchConfig struct {
	Token    string `yaml:"token"`
	Team     string `yaml:"team"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type GenerateConfig struct {
	Output string `yaml:"output"`
	Format string `yaml:"format"`
	Theme  string `yaml:"theme"`
}

// GetConfigDir returns the config directory, honoring an explicit
// override (useful for tests and portable installs).
func GetConfigDir() (string, error) {
	if override := os.Getenv("SLACKBAK_CONFIG_DIR"); override != "" {
		return override, nil
	}

	var base string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		base = xdg
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "slackbak"), nil
}

// GetDataDir returns the platform data directory holding the default
// database and assets.
func GetDataDir() (string, error) {
	if override := os.Getenv("SLACKBAK_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "slackbak"), nil
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "slackbak"), nil
	}
	return filepath.Join(home, ".local", "share", "slackbak"), nil
}

// DefaultDatabasePath is the database location used when neither flag
// nor config names one.
func DefaultDatabasePath() (string, error) {
	dataDir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "slackbak.db"), nil
}

// AssetsDirFor derives the assets directory next to the database, so
// a backup stays self-contained and copyable as one tree.
func AssetsDirFor(databasePath string) string {
	return filepath.Join(filepath.Dir(databasePath), "assets")
}

// Load reads the config file. The explicit path wins; otherwise the
// usual locations are tried in order and a missing file yields the
// zero config.
func Load(explicit string) (*Config, error) {
	paths := []string{}
	if explicit != "" {
		paths = append(paths, explicit)
	} else {
		paths = append(paths, "./slackbak.yaml")
		if dir, err := GetConfigDir(); err == nil {
			paths = append(paths, filepath.Join(dir, "config.yaml"))
		}
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		var cfg Config
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		return &cfg, nil
	}

	if explicit != "" {
		return nil, fmt.Errorf("config file %s not found", explicit)
	}
	return &Config{}, nil
}

// Save writes the config to the config directory.
func (c *Config) Save() error {
	dir, err := GetConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
