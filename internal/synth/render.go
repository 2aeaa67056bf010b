// ABOUTME: Text rendering of the Probes and Targets configuration sections
// ABOUTME: Uses an embedded template for Targets, with an optional on-disk override

package synth

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/smokingpi/smokeadmin/internal/store"
)

//go:embed templates/targets.tmpl
var templateFS embed.FS

// TargetsTemplateName is the file name looked up in an override directory.
const TargetsTemplateName = "targets.tmpl"

// Rendered holds both generated sections.
type Rendered struct {
	Targets  string
	Probes   string
	Warnings []string
}

// Renderer turns a Model into configuration text.
type Renderer struct {
	targets *template.Template
	logger  *slog.Logger
}

// NewRenderer loads the Targets template, preferring overrideDir when it
// holds targets.tmpl. An empty overrideDir uses the embedded template.
func NewRenderer(overrideDir string) (*Renderer, error) {
	logger := slog.Default().With("component", "synth")

	var (
		src    []byte
		err    error
		origin = "embedded"
	)
	if overrideDir != "" {
		path := filepath.Join(overrideDir, TargetsTemplateName)
		src, err = os.ReadFile(path)
		switch {
		case err == nil:
			origin = path
		case errors.Is(err, fs.ErrNotExist):
			src = nil
		default:
			return nil, fmt.Errorf("reading template override: %w", err)
		}
	}
	if src == nil {
		src, err = templateFS.ReadFile("templates/" + TargetsTemplateName)
		if err != nil {
			return nil, fmt.Errorf("reading embedded template: %w", err)
		}
	}

	tmpl, err := template.New(TargetsTemplateName).Option("missingkey=error").Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("parsing targets template %s: %w", origin, err)
	}
	logger.Debug("targets template loaded", "source", origin)
	return &Renderer{targets: tmpl, logger: logger}, nil
}

// Render validates m and produces both sections. Nothing is returned when
// validation fails.
func (r *Renderer) Render(m *Model) (Rendered, error) {
	warnings, err := Validate(m)
	if err != nil {
		return Rendered{}, fmt.Errorf("validating configuration: %w", err)
	}
	for _, w := range warnings {
		r.logger.Warn(w)
	}

	var buf bytes.Buffer
	data := struct {
		*Model
		GeneratedAt string
	}{Model: m, GeneratedAt: m.GeneratedAt.Format(time.RFC3339)}
	if err := r.targets.Execute(&buf, data); err != nil {
		return Rendered{}, fmt.Errorf("rendering targets: %w", err)
	}

	r.logger.Info("configuration rendered", "targets", m.TargetCount(), "probes", len(m.Probes))
	return Rendered{
		Targets:  buf.String(),
		Probes:   RenderProbes(m.Probes),
		Warnings: warnings,
	}, nil
}

// RenderProbes produces the Probes section: a header, then one "+ Name"
// stanza per probe with key = value lines.
func RenderProbes(probes []store.Probe) string {
	lines := []string{"*** Probes ***", ""}
	for _, p := range probes {
		lines = append(lines, "+ "+p.Name)
		lines = append(lines, "binary = "+p.Binary)
		if p.Step > 0 {
			lines = append(lines, "step = "+strconv.Itoa(p.Step))
		}
		if p.Pings > 0 {
			lines = append(lines, "pings = "+strconv.Itoa(p.Pings))
		}
		if p.Forks > 0 {
			lines = append(lines, "forks = "+strconv.Itoa(p.Forks))
		}
		keys := make([]string, 0, len(p.Params))
		for k := range p.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			lines = append(lines, k+" = "+p.Params[k])
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}
