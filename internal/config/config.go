// Package config loads fieldsync configuration from file, environment,
// and defaults.
//
// Configuration is resolved with viper: an explicit --config path wins,
// otherwise $HOME/.fieldsync.yaml is used if present, and every key can be
// overridden through FIELDSYNC_* environment variables.
package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ConfigFileName is the default config file (without extension) in $HOME.
const ConfigFileName = ".fieldsync"

// Config holds all fieldsync settings.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	DB        DBConfig        `mapstructure:"db"`
	Spool     SpoolConfig     `mapstructure:"spool"`
	Probe     ProbeConfig     `mapstructure:"probe"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Geo       GeoConfig       `mapstructure:"geo"`
	Log       LogConfig       `mapstructure:"log"`
	Branding  BrandingConfig  `mapstructure:"branding"`
}

// APIConfig configures the remote survey API.
type APIConfig struct {
	// BaseURL is the root of the remote API, e.g. https://api.example.com
	BaseURL string `mapstructure:"base_url"`
	// Token is the bearer token sent with every request.
	Token string `mapstructure:"token"`
}

// DBConfig configures the durable queue database.
type DBConfig struct {
	// Path to the SQLite file holding the pending queue.
	Path string `mapstructure:"path"`
}

// SpoolConfig configures the record drop directory.
type SpoolConfig struct {
	// Dir is where the capture application writes record JSON files.
	Dir string `mapstructure:"dir"`
}

// ProbeConfig configures connectivity probing.
type ProbeConfig struct {
	// Interval between health probes.
	Interval time.Duration `mapstructure:"interval"`
	// Timeout for a single probe.
	Timeout time.Duration `mapstructure:"timeout"`
}

// DashboardConfig configures the WebSocket dashboard server.
type DashboardConfig struct {
	// Port the dashboard listens on.
	Port int `mapstructure:"port"`
}

// GeoConfig configures coordinate and weather auto-fill.
type GeoConfig struct {
	// LocatorURL is the device position service; empty disables auto-fill.
	LocatorURL string `mapstructure:"locator_url"`
	// WeatherURL is the conditions service; empty disables weather.
	WeatherURL string `mapstructure:"weather_url"`
}

// LogConfig configures rotating file logging.
type LogConfig struct {
	// File is the log file path; empty logs to stderr only.
	File string `mapstructure:"file"`
	// MaxSizeMB is the size at which the log rotates.
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is how many rotated files to keep.
	MaxBackups int `mapstructure:"max_backups"`
	// MaxAgeDays is how long rotated files are kept.
	MaxAgeDays int `mapstructure:"max_age_days"`
}

// BrandingConfig points at the white-label branding file.
type BrandingConfig struct {
	// File is the YAML branding file; empty uses built-in defaults.
	File string `mapstructure:"file"`
}

// setDefaults registers every default value with viper.
func setDefaults(v *viper.Viper, home string) {
	v.SetDefault("api.base_url", "http://localhost:8080")
	v.SetDefault("api.token", "")
	v.SetDefault("db.path", filepath.Join(home, ".fieldsync", "queue.db"))
	v.SetDefault("spool.dir", filepath.Join(home, ".fieldsync", "spool"))
	v.SetDefault("probe.interval", 15*time.Second)
	v.SetDefault("probe.timeout", 5*time.Second)
	v.SetDefault("dashboard.port", 8484)
	v.SetDefault("geo.locator_url", "")
	v.SetDefault("geo.weather_url", "")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("branding.file", "")
}

// Load reads configuration from cfgFile (or the default search path when
// empty), applies environment overrides, and returns the result.
func Load(cfgFile string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	v := viper.New()
	setDefaults(v, home)

	v.SetEnvPrefix("FIELDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName(ConfigFileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(home)
		if err := v.ReadInConfig(); err != nil {
			// A missing default config file is fine; defaults apply.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the loaded configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url cannot be empty")
	}
	if c.DB.Path == "" {
		return fmt.Errorf("db.path cannot be empty")
	}
	if c.Spool.Dir == "" {
		return fmt.Errorf("spool.dir cannot be empty")
	}
	if c.Probe.Interval <= 0 {
		return fmt.Errorf("probe.interval must be positive")
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port out of range: %d", c.Dashboard.Port)
	}
	return nil
}

// NewLogger builds the process logger with the given prefix.
//
// With log.file set, output goes to both stderr and a size-rotated file.
func (c *Config) NewLogger(prefix string) (*log.Logger, error) {
	var w io.Writer = os.Stderr

	if c.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.Log.File), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   c.Log.File,
			MaxSize:    c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAge:     c.Log.MaxAgeDays,
			Compress:   true,
		}
		w = io.MultiWriter(os.Stderr, rotator)
	}

	return log.New(w, prefix, log.LstdFlags), nil
}
