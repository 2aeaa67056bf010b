// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, "smokeadmin.yaml", `
server:
  http_addr: "0.0.0.0:9090"

paths:
  config_dir: "/srv/smokeadmin/config"
  output_dir: "/srv/smokeadmin/output"
  backup_retention: 5

database:
  driver: "postgres"
  dsn: "postgres://smoke@localhost/smoke"

probes:
  default: "FPing"
  categories:
    netflix_oca: "FPing6"

deploy:
  target_dir: "/etc/smokeping/config.d"
  reload_command: ["systemctl", "reload", "smokeping"]
  reload_timeout: "45s"

discovery:
  max_sites: 50
  cache_ttl: "12h"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:9090" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:9090")
	}
	if cfg.Paths.ConfigDir != "/srv/smokeadmin/config" {
		t.Errorf("Paths.ConfigDir = %q", cfg.Paths.ConfigDir)
	}
	if cfg.Paths.BackupRetention != 5 {
		t.Errorf("Paths.BackupRetention = %d, want 5", cfg.Paths.BackupRetention)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, "postgres")
	}
	if cfg.Probes.Categories["netflix_oca"] != "FPing6" {
		t.Errorf("Probes.Categories[netflix_oca] = %q, want FPing6", cfg.Probes.Categories["netflix_oca"])
	}
	if got := strings.Join(cfg.Deploy.ReloadCommand, " "); got != "systemctl reload smokeping" {
		t.Errorf("Deploy.ReloadCommand = %q", got)
	}
	if cfg.Deploy.ReloadTimeout != 45*time.Second {
		t.Errorf("Deploy.ReloadTimeout = %v, want %v", cfg.Deploy.ReloadTimeout, 45*time.Second)
	}
	if cfg.Discovery.CacheTTL != 12*time.Hour {
		t.Errorf("Discovery.CacheTTL = %v, want %v", cfg.Discovery.CacheTTL, 12*time.Hour)
	}
	if cfg.Discovery.MaxSites != 50 {
		t.Errorf("Discovery.MaxSites = %d, want 50", cfg.Discovery.MaxSites)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "smokeadmin.toml", `
[paths]
config_dir = "/srv/config"

[database]
driver = "sqlite"
dsn = "/srv/smokeadmin.db"

[deploy]
reload_command = ["pkill", "-HUP", "smokeping"]
reload_timeout = "5s"

[probes.categories]
dns_resolvers = "DNS"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Paths.ConfigDir != "/srv/config" {
		t.Errorf("Paths.ConfigDir = %q", cfg.Paths.ConfigDir)
	}
	if cfg.Database.DSN != "/srv/smokeadmin.db" {
		t.Errorf("Database.DSN = %q", cfg.Database.DSN)
	}
	if cfg.Deploy.ReloadTimeout != 5*time.Second {
		t.Errorf("Deploy.ReloadTimeout = %v, want 5s", cfg.Deploy.ReloadTimeout)
	}
	if len(cfg.Deploy.ReloadCommand) != 3 {
		t.Errorf("Deploy.ReloadCommand len = %d, want 3", len(cfg.Deploy.ReloadCommand))
	}
	if cfg.Probes.Categories["dns_resolvers"] != "DNS" {
		t.Errorf("Probes.Categories = %v", cfg.Probes.Categories)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_SMOKEADMIN_DSN", "file:/tmp/env.db")

	configPath := writeConfig(t, "smokeadmin.yaml", `
database:
  dsn: "${TEST_SMOKEADMIN_DSN}"
paths:
  template_dir: "${TEST_SMOKEADMIN_UNSET}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.DSN != "file:/tmp/env.db" {
		t.Errorf("Database.DSN = %q, want %q", cfg.Database.DSN, "file:/tmp/env.db")
	}
	if cfg.Paths.TemplateDir != "" {
		t.Errorf("Paths.TemplateDir = %q, want empty for unset variable", cfg.Paths.TemplateDir)
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, "smokeadmin.yaml", "logging:\n  level: warn\n")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Paths.ConfigDir != "./config" {
		t.Errorf("Paths.ConfigDir = %q, want ./config", cfg.Paths.ConfigDir)
	}
	if cfg.Deploy.TargetDir != cfg.Paths.OutputDir {
		t.Errorf("Deploy.TargetDir = %q, want output dir %q", cfg.Deploy.TargetDir, cfg.Paths.OutputDir)
	}
	if cfg.Database.DSN != "" {
		t.Errorf("Database.DSN = %q, want empty", cfg.Database.DSN)
	}
	if cfg.Discovery.CacheTTL != 24*time.Hour {
		t.Errorf("Discovery.CacheTTL = %v, want 24h", cfg.Discovery.CacheTTL)
	}
	if cfg.Probes.Default != "FPing" {
		t.Errorf("Probes.Default = %q, want FPing", cfg.Probes.Default)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.Deploy.ReloadTimeout != 30*time.Second {
		t.Errorf("Deploy.ReloadTimeout = %v, want 30s", cfg.Deploy.ReloadTimeout)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad driver", "database:\n  driver: mysql\n", "database.driver"},
		{"max sites too high", "discovery:\n  max_sites: 500\n", "max_sites"},
		{"bad duration", "deploy:\n  reload_timeout: soon\n", "reload_timeout"},
		{"bad log level", "logging:\n  level: loud\n", "logging.level"},
		{"bad log format", "logging:\n  format: xml\n", "logging.format"},
		{"empty reload argv", "deploy:\n  reload_command: [\"\"]\n", "reload_command"},
		{"empty category probe", "probes:\n  categories:\n    top_sites: \"\"\n", "top_sites"},
		{"negative retention", "paths:\n  backup_retention: -1\n", "backup_retention"},
		{"bad yaml", "server: [\n", "parsing config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "smokeadmin.yaml", tt.content))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestResolve(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/smokeadmin/env.yaml")

	if got := Resolve("/explicit.yaml"); got != "/explicit.yaml" {
		t.Errorf("Resolve(explicit) = %q", got)
	}
	if got := Resolve(""); got != "/etc/smokeadmin/env.yaml" {
		t.Errorf("Resolve(\"\") = %q, want env path", got)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("A_VAR", "alpha")
	if got := expandEnvVars("x=${A_VAR}, y=${B_UNSET_VAR}"); got != "x=alpha, y=" {
		t.Errorf("expandEnvVars() = %q", got)
	}
}
