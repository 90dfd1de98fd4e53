// Package config handles loading and validating makemagic configuration.
// Supports YAML config files and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds all makemagic configuration.
type Config struct {
	Catalog     CatalogConfig     `mapstructure:"catalog"`
	Store       StoreConfig       `mapstructure:"store"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// CatalogConfig locates the item catalog.
type CatalogConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"` // reload on change while serving
}

// StoreConfig selects the task store.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, memory
	Path   string `mapstructure:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen       string        `mapstructure:"listen"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level         string `mapstructure:"level"`  // debug, info, warn, error
	Format        string `mapstructure:"format"` // json, text
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// MaintenanceConfig controls the purge of finished tasks.
type MaintenanceConfig struct {
	PurgeCron string        `mapstructure:"purge_cron"` // empty disables purging
	Retention time.Duration `mapstructure:"retention"`
}

// Default values.
const (
	DefaultCatalogPath   = "items.json"
	DefaultStoreDriver   = "sqlite"
	DefaultStorePath     = "~/.local/share/makemagic/magic.db"
	DefaultListen        = "127.0.0.1:4554"
	DefaultReadTimeout   = 10 * time.Second
	DefaultWriteTimeout  = 10 * time.Second
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "json"
	DefaultLogPath       = "~/.local/share/makemagic/logs"
	DefaultLogRetention  = 7
	DefaultPurgeCron     = "@hourly"
	DefaultRetention     = 7 * 24 * time.Hour
	ProjectConfigName    = "magic.yaml"
	GlobalConfigDir      = "~/.config/makemagic"
	GlobalConfigFileName = "config.yaml"
	EnvPrefix            = "MAGIC"
)

// Validation errors.
var (
	ErrMissingCatalog     = errors.New("catalog.path is required")
	ErrInvalidStoreDriver = errors.New("store.driver must be 'sqlite' or 'memory'")
	ErrMissingStorePath   = errors.New("store.path is required for the sqlite driver")
	ErrInvalidListen      = errors.New("server.listen must be host:port")
	ErrInvalidTimeout     = errors.New("server timeouts cannot be negative")
	ErrInvalidLogLevel    = errors.New("logging.level must be debug, info, warn, or error")
	ErrInvalidLogFormat   = errors.New("logging.format must be 'json' or 'text'")
	ErrInvalidCron        = errors.New("maintenance.purge_cron is not a valid cron expression")
	ErrInvalidRetention   = errors.New("maintenance.retention must be positive when purging")
)

// GlobalConfigPath returns the expanded path of the user-wide config file.
func GlobalConfigPath() string {
	return filepath.Join(expandPath(GlobalConfigDir), GlobalConfigFileName)
}

// Load reads configuration. An explicit file is used on its own; otherwise
// the global config is read and ./magic.yaml merged over it. Environment
// variables (MAGIC_STORE_PATH and so on) override both.
func Load(file string) (*Config, error) {
	if file != "" {
		v := newViper()
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", file, err)
		}
		return decode(v)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}
	return LoadFromPaths(cwd, GlobalConfigPath())
}

// LoadFromPaths reads globalPath, then merges projectDir/magic.yaml over it.
// Missing files are skipped.
func LoadFromPaths(projectDir, globalPath string) (*Config, error) {
	v := newViper()

	if fileExists(globalPath) {
		v.SetConfigFile(globalPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading global config: %w", err)
		}
	}

	projectPath := filepath.Join(projectDir, ProjectConfigName)
	if fileExists(projectPath) {
		v.SetConfigFile(projectPath)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config: %w", err)
		}
	}

	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("catalog.path", DefaultCatalogPath)
	v.SetDefault("catalog.watch", true)
	v.SetDefault("store.driver", DefaultStoreDriver)
	v.SetDefault("store.path", DefaultStorePath)
	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.read_timeout", DefaultReadTimeout)
	v.SetDefault("server.write_timeout", DefaultWriteTimeout)
	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("logging.format", DefaultLogFormat)
	v.SetDefault("logging.path", DefaultLogPath)
	v.SetDefault("logging.retention_days", DefaultLogRetention)
	v.SetDefault("maintenance.purge_cron", DefaultPurgeCron)
	v.SetDefault("maintenance.retention", DefaultRetention)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Catalog.Path = expandPath(cfg.Catalog.Path)
	cfg.Store.Path = expandPath(cfg.Store.Path)
	cfg.Logging.Path = expandPath(cfg.Logging.Path)
	return &cfg, nil
}

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Catalog.Path == "" {
		return ErrMissingCatalog
	}

	switch cfg.Store.Driver {
	case "", "sqlite":
		if cfg.Store.Path == "" {
			return ErrMissingStorePath
		}
	case "memory":
	default:
		return ErrInvalidStoreDriver
	}

	if cfg.Server.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Server.Listen); err != nil {
			return ErrInvalidListen
		}
	}
	if cfg.Server.ReadTimeout < 0 || cfg.Server.WriteTimeout < 0 {
		return ErrInvalidTimeout
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}
	switch cfg.Logging.Format {
	case "", "json", "text":
	default:
		return ErrInvalidLogFormat
	}

	if cfg.Maintenance.PurgeCron != "" {
		if _, err := cron.ParseStandard(cfg.Maintenance.PurgeCron); err != nil {
			return ErrInvalidCron
		}
		if cfg.Maintenance.Retention <= 0 {
			return ErrInvalidRetention
		}
	}

	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
