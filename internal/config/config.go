// Package config loads glourbee configuration from defaults, an optional
// config file, GLOURBEE_* environment variables and runtime overrides, in
// increasing order of precedence.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Identity names the application for config discovery.
type Identity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity is the glourbee identity.
var DefaultIdentity = Identity{BinaryName: "glourbee", EnvPrefix: "GLOURBEE_", ConfigName: "glourbee"}

// Config is the complete application configuration.
type Config struct {
	// DataDir holds the run registry, the ledger and collect workspaces.
	DataDir string `mapstructure:"data_dir"`

	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Compute ComputeConfig `mapstructure:"compute"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Fanout  FanoutConfig  `mapstructure:"fanout"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Output  OutputConfig  `mapstructure:"output"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`

	// Profile is "structured" (JSON) or "console".
	Profile string `mapstructure:"profile"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type ComputeConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Project     string        `mapstructure:"project"`
	Token       string        `mapstructure:"token"`
	AssetFolder string        `mapstructure:"asset_folder"`
	Timeout     time.Duration `mapstructure:"timeout"`
	PageSize    int           `mapstructure:"page_size"`
}

type CatalogConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	ItemType  string        `mapstructure:"item_type"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxPages  int           `mapstructure:"max_pages"`
}

type FanoutConfig struct {
	Concurrency int     `mapstructure:"concurrency"`
	RateLimit   float64 `mapstructure:"rate_limit"`
}

// LedgerConfig locates the outcome ledger. An empty Path and URL use
// <data_dir>/ledger.db.
type LedgerConfig struct {
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

type OutputConfig struct {
	S3 S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// EnvSpec maps one environment variable to a config key.
type EnvSpec struct {
	Name string
	Path string
}

var (
	configMu    sync.RWMutex
	appIdentity *Identity
	appConfig   *Config
)

// Load loads configuration without an explicit config file.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	return LoadFile(ctx, "", overrides...)
}

// LoadFile loads configuration. An empty path searches the user config
// directories; a missing default file is not an error, a missing explicit
// file is.
func LoadFile(ctx context.Context, path string, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}
	configMu.Unlock()

	v := viper.New()
	setDefaults(v)

	if err := readConfigFile(v, path); err != nil {
		return nil, err
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		if len(o) == 0 {
			continue
		}
		if err := v.MergeConfigMap(o); err != nil {
			return nil, fmt.Errorf("apply overrides: %w", err)
		}
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be within 0..65535, got %d", c.Server.Port)
	}
	if c.Fanout.Concurrency < 0 {
		return fmt.Errorf("fanout.concurrency must be >= 0, got %d", c.Fanout.Concurrency)
	}
	if c.Fanout.RateLimit < 0 || c.Catalog.RateLimit < 0 {
		return fmt.Errorf("rate limits must be >= 0")
	}
	switch strings.ToLower(c.Logging.Profile) {
	case "structured", "console":
	default:
		return fmt.Errorf("logging.profile must be structured or console, got %q", c.Logging.Profile)
	}
	return nil
}

// LedgerPath returns the SQLite file used when no remote ledger is set.
func (c *Config) LedgerPath() string {
	if c.Ledger.Path != "" {
		return c.Ledger.Path
	}
	return filepath.Join(c.DataDir, "ledger.db")
}

// RunsDir returns the run registry root.
func (c *Config) RunsDir() string {
	return filepath.Join(c.DataDir, "runs")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("compute.base_url", "https://earthengine.googleapis.com/v1")
	v.SetDefault("compute.project", "ee-glourb")
	v.SetDefault("compute.token", "")
	v.SetDefault("compute.asset_folder", "metrics/tmp")
	v.SetDefault("compute.timeout", "60s")
	v.SetDefault("compute.page_size", 500)

	v.SetDefault("catalog.base_url", "https://api.planet.com/data/v1")
	v.SetDefault("catalog.api_key", "")
	v.SetDefault("catalog.item_type", "PSScene")
	v.SetDefault("catalog.rate_limit", 5.0)
	v.SetDefault("catalog.timeout", "30s")
	v.SetDefault("catalog.max_pages", 100)

	v.SetDefault("fanout.concurrency", 4)
	v.SetDefault("fanout.rate_limit", 0.0)

	v.SetDefault("ledger.path", "")
	v.SetDefault("ledger.url", "")
	v.SetDefault("ledger.auth_token", "")

	v.SetDefault("output.s3.region", "")
	v.SetDefault("output.s3.endpoint", "")
	v.SetDefault("output.s3.profile", "")
	v.SetDefault("output.s3.force_path_style", false)
}

func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}

	for _, candidate := range getUserConfigPaths() {
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		v.SetConfigFile(candidate)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", candidate, err)
		}
		return nil
	}
	return nil
}

// getUserConfigPaths lists the default config file locations.
func getUserConfigPaths() []string {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []string{}
	}

	var paths []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, id.ConfigName, "config.yaml"))
	}
	if dir, err := os.UserConfigDir(); err == nil {
		p := filepath.Join(dir, id.ConfigName, "config.yaml")
		if len(paths) == 0 || paths[0] != p {
			paths = append(paths, p)
		}
	}
	return paths
}

func defaultDataDir() string {
	name := DefaultIdentity.ConfigName
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, name)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", name)
	}
	return filepath.Join(os.TempDir(), name)
}

// getEnvSpecs returns the environment variable table.
func getEnvSpecs() []EnvSpec {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []EnvSpec{}
	}

	p := id.EnvPrefix
	return []EnvSpec{
		{Name: p + "DATA_DIR", Path: "data_dir"},

		{Name: p + "HOST", Path: "server.host"},
		{Name: p + "PORT", Path: "server.port"},
		{Name: p + "READ_TIMEOUT", Path: "server.read_timeout"},
		{Name: p + "WRITE_TIMEOUT", Path: "server.write_timeout"},
		{Name: p + "IDLE_TIMEOUT", Path: "server.idle_timeout"},
		{Name: p + "SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout"},

		{Name: p + "LOG_LEVEL", Path: "logging.level"},
		{Name: p + "LOG_PROFILE", Path: "logging.profile"},
		{Name: p + "METRICS_ENABLED", Path: "metrics.enabled"},

		{Name: p + "COMPUTE_URL", Path: "compute.base_url"},
		{Name: p + "PROJECT", Path: "compute.project"},
		{Name: p + "COMPUTE_TOKEN", Path: "compute.token"},
		{Name: p + "ASSET_FOLDER", Path: "compute.asset_folder"},
		{Name: p + "COMPUTE_TIMEOUT", Path: "compute.timeout"},

		{Name: p + "CATALOG_URL", Path: "catalog.base_url"},
		{Name: p + "CATALOG_API_KEY", Path: "catalog.api_key"},
		{Name: p + "CATALOG_ITEM_TYPE", Path: "catalog.item_type"},
		{Name: p + "CATALOG_RATE_LIMIT", Path: "catalog.rate_limit"},

		{Name: p + "CONCURRENCY", Path: "fanout.concurrency"},
		{Name: p + "RATE_LIMIT", Path: "fanout.rate_limit"},

		{Name: p + "LEDGER_PATH", Path: "ledger.path"},
		{Name: p + "LEDGER_URL", Path: "ledger.url"},
		{Name: p + "LEDGER_AUTH_TOKEN", Path: "ledger.auth_token"},

		{Name: p + "S3_REGION", Path: "output.s3.region"},
		{Name: p + "S3_ENDPOINT", Path: "output.s3.endpoint"},
		{Name: p + "S3_PROFILE", Path: "output.s3.profile"},
		{Name: p + "S3_FORCE_PATH_STYLE", Path: "output.s3.force_path_style"},
	}
}
