// Package config handles configuration loading for smokeadmin.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion. Every field has a default, so running without a file works.
//
// # Configuration File
//
// Lookup order:
//
//  1. The --config flag
//  2. Path from SMOKEADMIN_CONFIG environment variable
//  3. ./smokeadmin.yaml or ./smokeadmin.toml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  dsn: "${SMOKEADMIN_DSN}"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//
//	paths:
//	  config_dir: "./config"       # targets.yaml, probes.yaml, sources.yaml
//	  template_dir: ""             # optional template overrides
//	  output_dir: "./output"
//	  backup_retention: 10         # per document
//
//	database:
//	  driver: "sqlite"             # sqlite, postgres
//	  dsn: ""                      # empty keeps the flat files
//
//	probes:
//	  default: "FPing"
//	  categories:
//	    netflix_oca: "FPing"
//
//	deploy:
//	  target_dir: "/etc/smokeping/config.d"
//	  reload_command: ["systemctl", "reload", "smokeping"]
//	  reload_timeout: "30s"
//
//	discovery:
//	  ranking_url: "https://tranco-list.eu/top-1m.csv"
//	  oca_results: "/var/lib/smokeadmin/oca_results.json"
//	  country: "global"
//	  max_sites: 100
//	  cache_ttl: "24h"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// TOML files use the same keys as tables.
package config
