// Package config loads espal settings from an optional YAML file and the
// environment.
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
	"go.uber.org/zap/zapcore"
)

// Server modes.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// EnvPrefix namespaces environment overrides, e.g. ESPAL_SERVER_PORT.
const EnvPrefix = "ESPAL"

// Config holds all espal configuration.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Security      SecurityConfig      `mapstructure:"security"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Pool          PoolConfig          `mapstructure:"pool"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Log           LogConfig           `mapstructure:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Mode      string `mapstructure:"mode"`
	StaticDir string `mapstructure:"static_dir"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SecurityConfig holds the password cipher secret.
type SecurityConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
	UseKeyring    bool   `mapstructure:"use_keyring"`
}

// ElasticsearchConfig is the transport policy for every cluster client.
type ElasticsearchConfig struct {
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
}

// PoolConfig tunes the cross-cluster client pool.
type PoolConfig struct {
	IdleTTL         time.Duration `mapstructure:"idle_ttl"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig configures the zap base logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// legacyEnv are environment names honoured alongside the prefixed ones.
var legacyEnv = map[string]string{
	"security.encryption_key": "ENCRYPTION_KEY",
	"server.port":             "PORT",
	"server.mode":             "NODE_ENV",
}

// Load reads configuration. An explicit path must exist; without one the
// file espal.yaml is looked up in the working directory and
// $HOME/.config/espal and is optional.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", legacy, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("espal")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "espal"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Server.Mode = strings.ToLower(strings.TrimSpace(cfg.Server.Mode))
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
		if cfg.IsProduction() {
			cfg.Log.Format = "json"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.mode", ModeDevelopment)
	v.SetDefault("server.static_dir", "./public")
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("security.encryption_key", "")
	v.SetDefault("security.use_keyring", true)

	v.SetDefault("elasticsearch.insecure_skip_verify", true)
	v.SetDefault("elasticsearch.request_timeout", "0s")

	v.SetDefault("pool.idle_ttl", "0s")
	v.SetDefault("pool.breaker_failures", 5)
	v.SetDefault("pool.breaker_cooldown", "30s")

	v.SetDefault("storage.path", defaultStoragePath())

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "")
}

// defaultStoragePath follows the XDG base directory layout.
func defaultStoragePath() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "espal.db"
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "espal", "espal.db")
}

// Validate checks value ranges and vocabularies.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Server.Mode != ModeDevelopment && c.Server.Mode != ModeProduction {
		return fmt.Errorf("server mode must be %q or %q, got %q", ModeDevelopment, ModeProduction, c.Server.Mode)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("log format must be console or json, got %q", c.Log.Format)
	}
	if c.Storage.Path == "" {
		return errors.New("storage path is required")
	}
	if c.Elasticsearch.RequestTimeout < 0 || c.Pool.IdleTTL < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}

// IsProduction reports whether static assets are served by this process.
func (c *Config) IsProduction() bool {
	return c.Server.Mode == ModeProduction
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}
