// Package config loads progsync settings from defaults, an optional YAML
// file, an optional .env file, PROGSYNC_ environment variables and command
// line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. PROGSYNC_REMOTE_URL.
const EnvPrefix = "PROGSYNC"

// Config is the resolved configuration.
type Config struct {
	// DBPath is the SQLite file backing the local durable store.
	DBPath string

	Remote RemoteConfig
	Log    LogConfig

	// CatalogPath is the lesson catalog (.yaml or .cue).
	CatalogPath string

	// Onboarding routes new users through needs_onboarding.
	Onboarding bool
}

// RemoteConfig locates the remote state service.
type RemoteConfig struct {
	URL            string
	APIKey         string
	AccessToken    string
	RequestTimeout time.Duration
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string
	Format string
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"db":         "db_path",
	"remote-url": "remote.url",
	"token":      "remote.access_token",
	"catalog":    "catalog",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", "progsync.db")
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.access_token", "")
	v.SetDefault("remote.request_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("catalog", "lessons.yaml")
	v.SetDefault("onboarding", false)
}

// Load resolves the configuration.
//
// Priority (highest to lowest):
//  1. flags in fs that were set explicitly
//  2. PROGSYNC_ environment variables (a .env file in the working
//     directory is loaded first and never overrides the real environment)
//  3. the config file: path if given, else progsync.yaml in the working
//     directory when it exists
//  4. built-in defaults
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("progsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for flag, key := range flagKeys {
			if f := fs.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", flag, err)
				}
			}
		}
	}

	cfg := &Config{
		DBPath: v.GetString("db_path"),
		Remote: RemoteConfig{
			URL:            v.GetString("remote.url"),
			APIKey:         v.GetString("remote.api_key"),
			AccessToken:    v.GetString("remote.access_token"),
			RequestTimeout: v.GetDuration("remote.request_timeout"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		CatalogPath: v.GetString("catalog"),
		Onboarding:  v.GetBool("onboarding"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path must not be empty"))
	}
	if c.Remote.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("remote.request_timeout must be positive, got %s", c.Remote.RequestTimeout))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// loadDotEnv loads path into the environment if it exists.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
