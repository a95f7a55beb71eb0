// Package config handles project discovery and configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cameronsjo/rigging/internal/store"
)

// FileName is the project config file searched for upward from the working
// directory.
const FileName = "rigging.yaml"

// EnvPrefix prefixes every environment override, e.g. RIGGING_LISTEN_ADDR.
const EnvPrefix = "RIGGING"

// StoreConfig selects the fragment store backend.
type StoreConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `mapstructure:"driver"`

	// Path is the sqlite database file. Defaults to <data_dir>/rigging.db.
	Path string `mapstructure:"path"`
}

// Config holds the rigging configuration.
type Config struct {
	ListenAddr       string        `mapstructure:"listen_addr"`
	DataDir          string        `mapstructure:"data_dir"`
	Store            StoreConfig   `mapstructure:"store"`
	ComposeTimeout   time.Duration `mapstructure:"compose_timeout"`
	DefaultNamespace string        `mapstructure:"default_namespace"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("data_dir", ".rigging")
	v.SetDefault("store.driver", store.DriverSQLite)
	v.SetDefault("store.path", "")
	v.SetDefault("compose_timeout", 10*time.Second)
	v.SetDefault("default_namespace", "default")
	v.SetDefault("read_timeout", 10*time.Second)
	v.SetDefault("write_timeout", 30*time.Second)
	v.SetDefault("shutdown_timeout", 30*time.Second)
}

// FindRoot searches upward from the current directory for a directory
// containing rigging.yaml.
func FindRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}

	for {
		if info, err := os.Stat(filepath.Join(dir, FileName)); err == nil && !info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("project root not found (no %s)", FileName)
}

// findFile returns the config file to read when none was given: rigging.yaml
// in the project root, then ~/.rigging.yaml. Empty means none exists.
func findFile() string {
	if root, err := FindRoot(); err == nil {
		return filepath.Join(root, FileName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".rigging.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Load reads configuration from path (or the discovered config file when
// path is empty), applies RIGGING_* environment overrides and defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = findFile()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if explicit || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	// Relative data directories live next to the config file that named them.
	if cfg.File != "" && !filepath.IsAbs(cfg.DataDir) {
		cfg.DataDir = filepath.Join(filepath.Dir(cfg.File), cfg.DataDir)
	}
	if cfg.Store.Path == "" && cfg.Store.Driver == store.DriverSQLite {
		cfg.Store.Path = filepath.Join(cfg.DataDir, "rigging.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case store.DriverSQLite, store.DriverMemory:
	default:
		return fmt.Errorf("invalid store.driver %q (supported: %s, %s)", c.Store.Driver, store.DriverSQLite, store.DriverMemory)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	_, port, err := net.SplitHostPort(c.ListenAddr)
	if err != nil {
		return fmt.Errorf("invalid listen_addr %q: %w", c.ListenAddr, err)
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid listen_addr %q: port must be 0-65535", c.ListenAddr)
	}

	for name, d := range map[string]time.Duration{
		"compose_timeout":  c.ComposeTimeout,
		"read_timeout":     c.ReadTimeout,
		"write_timeout":    c.WriteTimeout,
		"shutdown_timeout": c.ShutdownTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if strings.TrimSpace(c.DefaultNamespace) == "" {
		return fmt.Errorf("default_namespace is required")
	}
	return nil
}

// OpenStore opens the configured fragment store, creating the data directory
// for file-backed drivers.
func (c *Config) OpenStore() (store.Store, error) {
	if c.Store.Driver == store.DriverSQLite {
		if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	return store.Open(c.Store.Driver, c.Store.Path)
}
