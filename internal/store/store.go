// ABOUTME: Store interface and data types for smokeadmin persistence
// ABOUTME: Defines Target, Probe, Category, Source and the backend-neutral Store contract

package store

import (
	"context"
	"sort"
)

// Backend identifies which implementation is authoritative for a process.
type Backend string

const (
	BackendFile Backend = "file"
	BackendSQL  Backend = "sql"
)

// Target origins
const (
	OriginManual     = "manual"     // Added by an operator
	OriginDiscovered = "discovered" // Added by reconciliation
)

// Well-known categories
const (
	CategoryCustom       = "custom"
	CategoryDNSResolvers = "dns_resolvers"
	CategoryNetflixOCA   = "netflix_oca"
	CategoryTopSites     = "top_sites"
)

// FallbackProbe is used when no probe is marked default and none is configured.
const FallbackProbe = "FPing"

// MigrationMarkerKey is written to system metadata once the YAML documents
// have been copied into the relational store.
const MigrationMarkerKey = "yaml_migration_completed"

// TargetMeta carries geo/ASN details for CDN-discovered targets.
type TargetMeta struct {
	ASN          string  `yaml:"asn,omitempty" json:"asn,omitempty"`
	CacheID      string  `yaml:"cache_id,omitempty" json:"cache_id,omitempty"`
	City         string  `yaml:"city,omitempty" json:"city,omitempty"`
	Domain       string  `yaml:"domain,omitempty" json:"domain,omitempty"`
	IATACode     string  `yaml:"iata_code,omitempty" json:"iata_code,omitempty"`
	Latitude     float64 `yaml:"latitude,omitempty" json:"latitude,omitempty"`
	Longitude    float64 `yaml:"longitude,omitempty" json:"longitude,omitempty"`
	LocationCode string  `yaml:"location_code,omitempty" json:"location_code,omitempty"`
	RawCity      string  `yaml:"raw_city,omitempty" json:"raw_city,omitempty"`
	Type         string  `yaml:"type,omitempty" json:"type,omitempty"`
}

// Target is a monitored endpoint.
// ID is backend specific: the decimal row id for SQL, the name for flat files.
type Target struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Host     string      `json:"host"`
	Title    string      `json:"title"`
	Category string      `json:"category"`
	Probe    string      `json:"probe,omitempty"`
	Lookup   string      `json:"lookup,omitempty"`
	Active   bool        `json:"active"`
	Origin   string      `json:"origin"`
	Meta     *TargetMeta `json:"metadata,omitempty"`
}

// IsManual reports whether reconciliation must leave the target alone.
func (t *Target) IsManual() bool {
	return t.Origin == OriginManual
}

// TargetData is the input for creating a target.
type TargetData struct {
	Name     string
	Host     string
	Title    string
	Category string
	Probe    string
	Lookup   string
	Active   bool
	Origin   string
	Meta     *TargetMeta
}

// TargetPatch holds a partial update. Nil fields are left unchanged.
type TargetPatch struct {
	Host     *string
	Title    *string
	Category *string
	Probe    *string
	Lookup   *string
	Active   *bool
	Meta     *TargetMeta
}

// TargetFilter narrows GetTargets. Zero value returns everything.
// ActiveOnly wins when both flags are set.
type TargetFilter struct {
	ActiveOnly   bool
	InactiveOnly bool
	Category     string
}

// ChangeSet is a batch of mutations applied as one unit by ApplyChanges.
// Activate and Deactivate hold target IDs.
type ChangeSet struct {
	Create     []TargetData
	Activate   []string
	Deactivate []string
}

// Empty reports whether the change set does nothing.
func (c ChangeSet) Empty() bool {
	return len(c.Create) == 0 && len(c.Activate) == 0 && len(c.Deactivate) == 0
}

// Probe is a named measurement method.
type Probe struct {
	Name      string            `json:"name"`
	Binary    string            `json:"binary"`
	Step      int               `json:"step"`
	Pings     int               `json:"pings"`
	Forks     int               `json:"forks,omitempty"`
	IsDefault bool              `json:"is_default"`
	Params    map[string]string `json:"params,omitempty"`
}

// Category groups targets for storage and rendering.
type Category struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`
}

// Source governs whether a discovery source's import runs.
type Source struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Enabled     bool   `json:"enabled"`
	Dynamic     bool   `json:"dynamic"`
	MaxTargets  int    `json:"max_targets,omitempty"`
}

// Store is the backend-neutral target store.
type Store interface {
	// Backend reports which implementation this is.
	Backend() Backend

	// Targets
	GetTargets(ctx context.Context, filter TargetFilter) ([]Target, error)
	GetTarget(ctx context.Context, id string) (*Target, error)
	CreateTarget(ctx context.Context, data TargetData) (*Target, error)
	UpdateTarget(ctx context.Context, id string, patch TargetPatch) (*Target, error)
	DeleteTarget(ctx context.Context, id string) (bool, error)
	ToggleActive(ctx context.Context, id string) (*Target, error)

	// ApplyChanges applies every change or none of them.
	ApplyChanges(ctx context.Context, changes ChangeSet) error

	// Reference data
	GetCategories(ctx context.Context) ([]Category, error)
	GetProbes(ctx context.Context) ([]Probe, error)
	GetSources(ctx context.Context) ([]Source, error)

	// System metadata. GetMetadata returns ErrNotFound for unknown keys.
	GetMetadata(ctx context.Context, key string) (string, error)
	SetMetadata(ctx context.Context, key, value string) error

	Close() error
}

// DefaultProbeName picks the default probe. When several probes claim to be
// default the first by name wins; when none does, fallback is returned.
func DefaultProbeName(probes []Probe, fallback string) string {
	var names []string
	for _, p := range probes {
		if p.IsDefault {
			names = append(names, p.Name)
		}
	}
	if len(names) == 0 {
		if fallback == "" {
			return FallbackProbe
		}
		return fallback
	}
	sort.Strings(names)
	return names[0]
}

// CategoryDisplayName returns the human label for a category name.
func CategoryDisplayName(name string) string {
	switch name {
	case CategoryCustom:
		return "Custom Targets"
	case CategoryDNSResolvers:
		return "DNS Resolvers"
	case CategoryNetflixOCA:
		return "Netflix OCA"
	case CategoryTopSites:
		return "Top Sites"
	default:
		return name
	}
}

// CountActive returns the number of active targets.
func CountActive(targets []Target) int {
	n := 0
	for _, t := range targets {
		if t.Active {
			n++
		}
	}
	return n
}

// BandwidthPerTargetBps is the probe traffic estimate for one target:
// 10 pings of 64 bytes every 300 seconds.
const BandwidthPerTargetBps = 10.0 * 64 * 8 / 300

// EstimateBandwidthMbps estimates probe traffic for n active targets.
func EstimateBandwidthMbps(n int) float64 {
	return float64(n) * BandwidthPerTargetBps / 1_000_000
}
