// ABOUTME: Typed YAML documents backing the flat-file store
// ABOUTME: Order-preserving maps, shape validation and metadata recomputation

package store

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Document file names inside the config directory.
const (
	TargetsFile = "targets.yaml"
	ProbesFile  = "probes.yaml"
	SourcesFile = "sources.yaml"
)

// RequiredDocuments lists every document bootstrap must guarantee.
var RequiredDocuments = []string{TargetsFile, ProbesFile, SourcesFile}

// Entry is one key/value pair of an OrderedMap.
type Entry[T any] struct {
	Key   string
	Value T
}

// OrderedMap is a YAML mapping that keeps its key order across a
// read-modify-write cycle. A null or absent mapping decodes to nil.
type OrderedMap[T any] []Entry[T]

// UnmarshalYAML decodes a mapping node, rejecting any other shape.
func (m *OrderedMap[T]) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", n.Line)
	}
	out := make(OrderedMap[T], 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		var val T
		if err := v.Decode(&val); err != nil {
			return fmt.Errorf("key %q: %w", k.Value, err)
		}
		out = append(out, Entry[T]{Key: k.Value, Value: val})
	}
	*m = out
	return nil
}

// MarshalYAML encodes entries in order.
func (m OrderedMap[T]) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, e := range m {
		var v yaml.Node
		if err := v.Encode(e.Value); err != nil {
			return nil, fmt.Errorf("encoding %q: %w", e.Key, err)
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Key}, &v)
	}
	return node, nil
}

// Get returns the value stored under key.
func (m OrderedMap[T]) Get(key string) (T, bool) {
	for _, e := range m {
		if e.Key == key {
			return e.Value, true
		}
	}
	var zero T
	return zero, false
}

// Set replaces the value under key or appends a new entry.
func (m *OrderedMap[T]) Set(key string, val T) {
	for i := range *m {
		if (*m)[i].Key == key {
			(*m)[i].Value = val
			return
		}
	}
	*m = append(*m, Entry[T]{Key: key, Value: val})
}

// TargetList is the value of one category. It must be a YAML sequence.
type TargetList []TargetRecord

// UnmarshalYAML enforces that every category is a list.
func (l *TargetList) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: category must be a list", n.Line)
	}
	var recs []TargetRecord
	if err := n.Decode(&recs); err != nil {
		return err
	}
	*l = recs
	return nil
}

// TargetRecord is one target as written in targets.yaml.
type TargetRecord struct {
	Name     string      `yaml:"name"`
	Host     string      `yaml:"host"`
	Title    string      `yaml:"title,omitempty"`
	Probe    string      `yaml:"probe,omitempty"`
	Lookup   string      `yaml:"lookup,omitempty"`
	Category string      `yaml:"category,omitempty"`
	Origin   string      `yaml:"origin,omitempty"`
	Metadata *TargetMeta `yaml:"metadata,omitempty"`
}

// origin resolves the ownership of a record. A category self-tag marks
// records added through the admin form.
func (r *TargetRecord) origin() string {
	if r.Origin != "" {
		return r.Origin
	}
	if r.Category != "" {
		return OriginManual
	}
	return OriginDiscovered
}

func (r *TargetRecord) toTarget(category string, active bool) Target {
	return Target{
		ID:       r.Name,
		Name:     r.Name,
		Host:     r.Host,
		Title:    r.Title,
		Category: category,
		Probe:    r.Probe,
		Lookup:   r.Lookup,
		Active:   active,
		Origin:   r.origin(),
		Meta:     r.Metadata,
	}
}

// TargetsMetadata is the metadata block of targets.yaml.
type TargetsMetadata struct {
	LastUpdated           string            `yaml:"last_updated,omitempty"`
	TotalTargets          int               `yaml:"total_targets"`
	BandwidthEstimateMbps float64           `yaml:"bandwidth_estimate_mbps,omitempty"`
	BootstrapCompleted    bool              `yaml:"bootstrap_completed,omitempty"`
	TemplateVersion       string            `yaml:"template_version,omitempty"`
	Source                string            `yaml:"source,omitempty"`
	Extra                 map[string]string `yaml:",inline"`
}

// TargetsDoc is targets.yaml.
type TargetsDoc struct {
	ActiveTargets   OrderedMap[TargetList] `yaml:"active_targets"`
	InactiveTargets OrderedMap[TargetList] `yaml:"inactive_targets,omitempty"`
	Metadata        TargetsMetadata        `yaml:"metadata"`
}

// Validate checks the shape decoding cannot express.
func (d *TargetsDoc) Validate() error {
	if d.ActiveTargets == nil {
		return fmt.Errorf("missing active_targets")
	}
	seen := make(map[string]bool)
	for _, section := range []OrderedMap[TargetList]{d.ActiveTargets, d.InactiveTargets} {
		for _, cat := range section {
			for i, r := range cat.Value {
				if r.Name == "" {
					return fmt.Errorf("category %s: target %d has no name", cat.Key, i)
				}
				if r.Host == "" {
					return fmt.Errorf("category %s: target %s has no host", cat.Key, r.Name)
				}
				if seen[r.Name] {
					return fmt.Errorf("duplicate target name %s", r.Name)
				}
				seen[r.Name] = true
			}
		}
	}
	return nil
}

// ActiveCount sums the lengths of every active category list.
func (d *TargetsDoc) ActiveCount() int {
	n := 0
	for _, cat := range d.ActiveTargets {
		n += len(cat.Value)
	}
	return n
}

// Recompute refreshes last_updated, total_targets and the bandwidth estimate.
func (d *TargetsDoc) Recompute(now time.Time) {
	d.Metadata.LastUpdated = now.UTC().Format(time.RFC3339)
	d.Metadata.TotalTargets = d.ActiveCount()
	d.Metadata.BandwidthEstimateMbps = roundTo(EstimateBandwidthMbps(d.Metadata.TotalTargets), 6)
}

func (m *TargetsMetadata) get(key string) (string, bool) {
	switch key {
	case MetaLastUpdated:
		return m.LastUpdated, m.LastUpdated != ""
	case MetaTotalTargets:
		return strconv.Itoa(m.TotalTargets), true
	case MetaBandwidth:
		return strconv.FormatFloat(m.BandwidthEstimateMbps, 'f', -1, 64), true
	case "bootstrap_completed":
		return strconv.FormatBool(m.BootstrapCompleted), true
	case "template_version":
		return m.TemplateVersion, m.TemplateVersion != ""
	case "source":
		return m.Source, m.Source != ""
	}
	v, ok := m.Extra[key]
	return v, ok
}

func (m *TargetsMetadata) set(key, value string) error {
	switch key {
	case MetaLastUpdated:
		m.LastUpdated = value
	case MetaTotalTargets, MetaBandwidth:
		return invalid("metadata", key, "computed key cannot be set")
	case "bootstrap_completed":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return invalid("metadata", key, "not a boolean: %s", value)
		}
		m.BootstrapCompleted = b
	case "template_version":
		m.TemplateVersion = value
	case "source":
		m.Source = value
	default:
		if m.Extra == nil {
			m.Extra = make(map[string]string)
		}
		m.Extra[key] = value
	}
	return nil
}

// ProbeRecord is one probe as written in probes.yaml.
// Keys other than the known ones are carried in Params.
type ProbeRecord struct {
	Binary string            `yaml:"binary"`
	Step   int               `yaml:"step,omitempty"`
	Pings  int               `yaml:"pings,omitempty"`
	Forks  int               `yaml:"forks,omitempty"`
	Params map[string]string `yaml:",inline"`
}

// ProbesDoc is probes.yaml.
type ProbesDoc struct {
	Probes       OrderedMap[ProbeRecord] `yaml:"probes"`
	DefaultProbe string                  `yaml:"default_probe,omitempty"`
}

// Validate checks the probes document shape.
func (d *ProbesDoc) Validate() error {
	if d.Probes == nil {
		return fmt.Errorf("missing probes")
	}
	for _, p := range d.Probes {
		if p.Value.Binary == "" {
			return fmt.Errorf("probe %s has no binary", p.Key)
		}
	}
	if d.DefaultProbe != "" {
		if _, ok := d.Probes.Get(d.DefaultProbe); !ok {
			return fmt.Errorf("default_probe %s is not defined", d.DefaultProbe)
		}
	}
	return nil
}

// ToProbes converts the document into domain probes, applying the
// step/pings defaults used by the relational schema.
func (d *ProbesDoc) ToProbes() []Probe {
	out := make([]Probe, 0, len(d.Probes))
	for _, e := range d.Probes {
		p := Probe{
			Name:      e.Key,
			Binary:    e.Value.Binary,
			Step:      e.Value.Step,
			Pings:     e.Value.Pings,
			Forks:     e.Value.Forks,
			IsDefault: e.Key == d.DefaultProbe,
		}
		if p.Step == 0 {
			p.Step = DefaultStep
		}
		if p.Pings == 0 {
			p.Pings = DefaultPings
		}
		if len(e.Value.Params) > 0 {
			p.Params = make(map[string]string, len(e.Value.Params))
			for k, v := range e.Value.Params {
				p.Params[k] = v
			}
		}
		out = append(out, p)
	}
	return out
}

// Probe defaults
const (
	DefaultStep  = 300
	DefaultPings = 10
)

// SourceRecord is a static source entry.
type SourceRecord struct {
	DisplayName string `yaml:"display_name,omitempty"`
	Enabled     bool   `yaml:"enabled"`
}

// DynamicSource is a discovery source refreshed by automation.
type DynamicSource struct {
	Enabled    bool           `yaml:"enabled"`
	MaxTargets int            `yaml:"max_targets,omitempty"`
	Extra      map[string]any `yaml:",inline"`
}

// SourcesDoc is sources.yaml.
type SourcesDoc struct {
	Sources OrderedMap[SourceRecord]  `yaml:"sources"`
	Dynamic OrderedMap[DynamicSource] `yaml:"dynamic,omitempty"`
}

// Validate checks the sources document shape.
func (d *SourcesDoc) Validate() error {
	if d.Sources == nil {
		return fmt.Errorf("missing sources")
	}
	return nil
}

// ToSources converts the document into domain sources.
func (d *SourcesDoc) ToSources() []Source {
	out := make([]Source, 0, len(d.Sources)+len(d.Dynamic))
	for _, e := range d.Sources {
		name := e.Value.DisplayName
		if name == "" {
			name = CategoryDisplayName(e.Key)
		}
		out = append(out, Source{Name: e.Key, DisplayName: name, Enabled: e.Value.Enabled})
	}
	for _, e := range d.Dynamic {
		out = append(out, Source{
			Name:        e.Key,
			DisplayName: CategoryDisplayName(e.Key),
			Enabled:     e.Value.Enabled,
			Dynamic:     true,
			MaxTargets:  e.Value.MaxTargets,
		})
	}
	return out
}

// Document is implemented by every flat-file document type.
type Document interface {
	Validate() error
}

// DecodeDocument parses data into doc and checks its shape. Any failure is
// reported as a *MalformedError naming path.
func DecodeDocument(path string, data []byte, doc Document) error {
	if err := yaml.Unmarshal(data, doc); err != nil {
		return &MalformedError{Path: path, Reason: err.Error()}
	}
	if err := doc.Validate(); err != nil {
		return &MalformedError{Path: path, Reason: err.Error()}
	}
	return nil
}

// NewDocument returns an empty document for a required file name.
func NewDocument(name string) (Document, error) {
	switch name {
	case TargetsFile:
		return &TargetsDoc{}, nil
	case ProbesFile:
		return &ProbesDoc{}, nil
	case SourcesFile:
		return &SourcesDoc{}, nil
	}
	return nil, fmt.Errorf("unknown document %s", name)
}

func roundTo(v float64, places int) float64 {
	s := strconv.FormatFloat(v, 'f', places, 64)
	r, _ := strconv.ParseFloat(s, 64)
	return r
}
