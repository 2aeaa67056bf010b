// ABOUTME: Unified render model loaded from any Store plus its validation rules
// ABOUTME: Groups active targets by category and checks every probe reference

package synth

import (
	"context"
	"fmt"
	"time"

	"github.com/smokingpi/smokeadmin/internal/store"
)

// TargetEntry is one rendered target.
type TargetEntry struct {
	Name   string
	Host   string
	Title  string
	Probe  string
	Lookup string
}

// CategoryBlock groups targets under one "+ category" section.
type CategoryBlock struct {
	Name        string
	DisplayName string
	Targets     []TargetEntry
}

// Model is everything Render needs.
type Model struct {
	Categories   []CategoryBlock
	Probes       []store.Probe
	DefaultProbe string
	GeneratedAt  time.Time
}

// TargetCount returns the number of targets across all categories.
func (m *Model) TargetCount() int {
	n := 0
	for _, c := range m.Categories {
		n += len(c.Targets)
	}
	return n
}

// LoadModel reads active targets and probes from s. fallbackProbe is the
// default probe name when no probe is marked default.
func LoadModel(ctx context.Context, s store.Store, fallbackProbe string) (*Model, error) {
	targets, err := s.GetTargets(ctx, store.TargetFilter{ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("loading targets: %w", err)
	}
	probes, err := s.GetProbes(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading probes: %w", err)
	}
	display := make(map[string]string)
	if cats, err := s.GetCategories(ctx); err == nil {
		for _, c := range cats {
			display[c.Name] = c.DisplayName
		}
	}

	m := &Model{
		Probes:       probes,
		DefaultProbe: store.DefaultProbeName(probes, fallbackProbe),
		GeneratedAt:  time.Now().UTC(),
	}
	index := make(map[string]int)
	for _, t := range targets {
		i, ok := index[t.Category]
		if !ok {
			name := display[t.Category]
			if name == "" {
				name = store.CategoryDisplayName(t.Category)
			}
			i = len(m.Categories)
			index[t.Category] = i
			m.Categories = append(m.Categories, CategoryBlock{Name: t.Category, DisplayName: name})
		}
		title := t.Title
		if title == "" {
			title = t.Host
		}
		m.Categories[i].Targets = append(m.Categories[i].Targets, TargetEntry{
			Name:   t.Name,
			Host:   t.Host,
			Title:  title,
			Probe:  t.Probe,
			Lookup: t.Lookup,
		})
	}
	return m, nil
}

// Validate checks cross references. It returns warnings for soft problems
// and a *store.ValidationError for the first hard one.
func Validate(m *Model) ([]string, error) {
	var warnings []string
	known := make(map[string]bool, len(m.Probes))
	for _, p := range m.Probes {
		known[p.Name] = true
	}

	// the Targets header names the default probe even when no target uses it
	if !known[m.DefaultProbe] {
		return warnings, &store.ValidationError{
			Field:  "default_probe",
			Record: m.DefaultProbe,
			Reason: "default probe is not defined",
		}
	}

	for _, c := range m.Categories {
		if c.Name == "" {
			return warnings, &store.ValidationError{Field: "category", Reason: "category name is empty"}
		}
		for _, t := range c.Targets {
			probe := t.Probe
			if probe == "" {
				probe = m.DefaultProbe
			}
			if !known[probe] {
				return warnings, &store.ValidationError{
					Field:  "probe",
					Record: t.Name,
					Reason: fmt.Sprintf("references unknown probe %s", probe),
				}
			}
		}
	}

	if m.TargetCount() == 0 {
		warnings = append(warnings, "no active targets configured")
	}
	return warnings, nil
}
