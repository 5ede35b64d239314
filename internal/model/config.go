package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AccountConfig holds the remote mailbox connection settings. The password
// is never stored here; it is loaded from the keyring or the environment.
type AccountConfig struct {
	IMAPHost string `mapstructure:"imap_host" yaml:"imap_host"`
	IMAPPort string `mapstructure:"imap_port" yaml:"imap_port"`
	SMTPHost string `mapstructure:"smtp_host" yaml:"smtp_host"`
	SMTPPort string `mapstructure:"smtp_port" yaml:"smtp_port"`
	Username string `mapstructure:"username" yaml:"username"`
	From     string `mapstructure:"from" yaml:"from"`

	// TLS selects implicit TLS; when false STARTTLS is used.
	TLS bool `mapstructure:"tls" yaml:"tls"`
}

// GatewayConfig selects and tunes the remote mail gateway.
type GatewayConfig struct {
	// Kind is "imap" or "maildir".
	Kind        string        `mapstructure:"kind" yaml:"kind"`
	MaildirPath string        `mapstructure:"maildir_path" yaml:"maildir_path"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxPageSize int           `mapstructure:"max_page_size" yaml:"max_page_size"`
	RatePerSec  int           `mapstructure:"rate_per_sec" yaml:"rate_per_sec"`
	FetchBodies bool          `mapstructure:"fetch_bodies" yaml:"fetch_bodies"`
}

// CacheConfig holds freshness windows for the fetch cache.
type CacheConfig struct {
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
	CountTTL time.Duration `mapstructure:"count_ttl" yaml:"count_ttl"`
}

// ReconcileConfig controls the stale-overlay cleanup loop.
type ReconcileConfig struct {
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
	BatchSize   int           `mapstructure:"batch_size" yaml:"batch_size"`
	Parallelism int           `mapstructure:"parallelism" yaml:"parallelism"`
}

// FlagsConfig controls whether overlay flag changes are pushed upstream.
type FlagsConfig struct {
	Propagate bool `mapstructure:"propagate" yaml:"propagate"`
}

// StoreConfig locates the SQLite journal.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// LogConfig holds logging preferences.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Account   AccountConfig   `mapstructure:"account" yaml:"account"`
	Gateway   GatewayConfig   `mapstructure:"gateway" yaml:"gateway"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Reconcile ReconcileConfig `mapstructure:"reconcile" yaml:"reconcile"`
	Flags     FlagsConfig     `mapstructure:"flags" yaml:"flags"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// configDir returns ~/.config/mailsync, falling back to the working
// directory when the home directory cannot be resolved.
func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "mailsync")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailsync/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// defaults lists every key with its default value. It is applied both to
// viper (so env overrides bind) and to the fallback configuration.
var defaults = map[string]any{
	"account.imap_port":     "993",
	"account.smtp_port":     "587",
	"account.tls":           true,
	"gateway.kind":          "imap",
	"gateway.timeout":       "30s",
	"gateway.max_page_size": 100,
	"gateway.rate_per_sec":  5,
	"gateway.fetch_bodies":  true,
	"cache.ttl":             "5m",
	"cache.count_ttl":       "5m",
	"reconcile.interval":    "10m",
	"reconcile.batch_size":  200,
	"reconcile.parallelism": 2,
	"flags.propagate":       false,
	"store.path":            filepath.Join(configDir(), "mailsync.db"),
	"server.addr":           ":8080",
	"log.level":             "info",
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// A .env file in the working directory is loaded first, and MAILSYNC_*
// environment variables override file values (MAILSYNC_CACHE_TTL, ...).
// A missing file yields the defaults.
func LoadConfig(path string) (*AppConfig, error) {
	// Missing .env is the common case.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MAILSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if err := v.ReadInConfig(); err != nil {
		_, pathErr := err.(*os.PathError)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !pathErr && !notFound {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the values that cannot be defaulted sensibly.
func (c *AppConfig) Validate() error {
	switch c.Gateway.Kind {
	case "imap":
	case "maildir":
		if c.Gateway.MaildirPath == "" {
			return fmt.Errorf("gateway.maildir_path is required for the maildir gateway")
		}
	default:
		return fmt.Errorf("unknown gateway kind %q", c.Gateway.Kind)
	}
	if c.Gateway.MaxPageSize < 1 {
		return fmt.Errorf("gateway.max_page_size must be positive, got %d", c.Gateway.MaxPageSize)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL)
	}
	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("account", cfg.Account)
	v.Set("gateway", cfg.Gateway)
	v.Set("cache", cfg.Cache)
	v.Set("reconcile", cfg.Reconcile)
	v.Set("flags", cfg.Flags)
	v.Set("store", cfg.Store)
	v.Set("server", cfg.Server)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
