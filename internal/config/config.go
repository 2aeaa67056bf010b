// ABOUTME: Configuration loading and parsing for smokeadmin
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the config path.
const EnvConfigPath = "SMOKEADMIN_CONFIG"

// Config represents the complete smokeadmin configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Paths     PathsConfig     `yaml:"paths" toml:"paths"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Probes    ProbesConfig    `yaml:"probes" toml:"probes"`
	Deploy    DeployConfig    `yaml:"deploy" toml:"deploy"`
	Discovery DiscoveryConfig `yaml:"discovery" toml:"discovery"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the REST listener address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// PathsConfig holds filesystem locations
type PathsConfig struct {
	ConfigDir       string `yaml:"config_dir" toml:"config_dir"`
	TemplateDir     string `yaml:"template_dir" toml:"template_dir"` // overrides for bootstrap and render templates
	OutputDir       string `yaml:"output_dir" toml:"output_dir"`
	BackupRetention int    `yaml:"backup_retention" toml:"backup_retention"`
}

// DatabaseConfig holds the optional relational backend.
// An empty DSN keeps the flat-file store.
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

// ProbesConfig holds probe assignment defaults
type ProbesConfig struct {
	Default    string            `yaml:"default" toml:"default"`
	Categories map[string]string `yaml:"categories" toml:"categories"`
}

// DeployConfig holds where rendered files go and how the daemon is reloaded
type DeployConfig struct {
	TargetDir     string        `yaml:"target_dir" toml:"target_dir"`
	ReloadCommand []string      `yaml:"reload_command" toml:"reload_command"`
	ReloadTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ReloadTimeoutRaw string `yaml:"reload_timeout" toml:"reload_timeout"`
}

// DiscoveryConfig holds settings for source list fetching
type DiscoveryConfig struct {
	RankingURL string        `yaml:"ranking_url" toml:"ranking_url"`
	OCAResults string        `yaml:"oca_results" toml:"oca_results"`
	Country    string        `yaml:"country" toml:"country"`
	MaxSites   int           `yaml:"max_sites" toml:"max_sites"`
	CacheTTL   time.Duration `yaml:"-" toml:"-"`

	CacheTTLRaw string `yaml:"cache_ttl" toml:"cache_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	// defaults always parse
	_ = parseDurations(&cfg)
	return &cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Resolve picks the config path: the explicit path, then $SMOKEADMIN_CONFIG,
// then ./smokeadmin.yaml if it exists. An empty result means defaults.
func Resolve(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	for _, p := range []string{"smokeadmin.yaml", "smokeadmin.toml"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadOrDefault loads the resolved path, or returns defaults when none is found.
func LoadOrDefault(explicit string) (*Config, error) {
	path := Resolve(explicit)
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Paths.ConfigDir == "" {
		c.Paths.ConfigDir = "./config"
	}
	if c.Paths.OutputDir == "" {
		c.Paths.OutputDir = "./output"
	}
	if c.Paths.BackupRetention == 0 {
		c.Paths.BackupRetention = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Probes.Default == "" {
		c.Probes.Default = "FPing"
	}
	if c.Deploy.TargetDir == "" {
		c.Deploy.TargetDir = c.Paths.OutputDir
	}
	if c.Deploy.ReloadTimeoutRaw == "" {
		c.Deploy.ReloadTimeoutRaw = "30s"
	}
	if c.Discovery.MaxSites == 0 {
		c.Discovery.MaxSites = 100
	}
	if c.Discovery.CacheTTLRaw == "" {
		c.Discovery.CacheTTLRaw = "24h"
	}
	if c.Discovery.Country == "" {
		c.Discovery.Country = "global"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres", "pgx", "postgresql":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}

	if c.Paths.BackupRetention < 0 {
		return fmt.Errorf("paths.backup_retention must not be negative")
	}

	if c.Discovery.MaxSites < 1 || c.Discovery.MaxSites > 100 {
		return fmt.Errorf("discovery.max_sites must be between 1 and 100, got %d", c.Discovery.MaxSites)
	}

	if len(c.Deploy.ReloadCommand) > 0 && strings.TrimSpace(c.Deploy.ReloadCommand[0]) == "" {
		return fmt.Errorf("deploy.reload_command must start with an executable")
	}

	for category, probe := range c.Probes.Categories {
		if probe == "" {
			return fmt.Errorf("probes.categories.%s has no probe", category)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be text or json")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Deploy.ReloadTimeoutRaw != "" {
		cfg.Deploy.ReloadTimeout, err = time.ParseDuration(cfg.Deploy.ReloadTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing reload_timeout %q: %w", cfg.Deploy.ReloadTimeoutRaw, err)
		}
	}

	if cfg.Discovery.CacheTTLRaw != "" {
		cfg.Discovery.CacheTTL, err = time.ParseDuration(cfg.Discovery.CacheTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing cache_ttl %q: %w", cfg.Discovery.CacheTTLRaw, err)
		}
	}

	return nil
}
