// ABOUTME: Bootstrap runner that validates, backs up and restores documents
// ABOUTME: Produces a per-document Report; one failure never blocks the rest

package bootstrap

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/smokingpi/smokeadmin/internal/store"
)

//go:embed templates/*.yaml
var templateFS embed.FS

// Action is what bootstrap did with one document.
type Action string

// Actions
const (
	ActionValid     Action = "valid"
	ActionCreated   Action = "created"
	ActionRecovered Action = "recovered"
	ActionRecreated Action = "recreated"
	ActionFailed    Action = "failed"
)

// DocumentResult describes the outcome for one document.
type DocumentResult struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Action Action `json:"action"`
	Backup string `json:"backup,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Report is the outcome of one bootstrap run.
type Report struct {
	RanAt     time.Time        `json:"ran_at"`
	Documents []DocumentResult `json:"documents"`
}

// OK reports whether every document ended up valid.
func (r *Report) OK() bool {
	for _, d := range r.Documents {
		if d.Action == ActionFailed {
			return false
		}
	}
	return true
}

// Changed reports whether any document was written.
func (r *Report) Changed() bool {
	for _, d := range r.Documents {
		if d.Action != ActionValid && d.Action != ActionFailed {
			return true
		}
	}
	return false
}

// Failed returns the names of failed documents.
func (r *Report) Failed() []string {
	var names []string
	for _, d := range r.Documents {
		if d.Action == ActionFailed {
			names = append(names, d.Name)
		}
	}
	return names
}

// Bootstrapper checks and repairs the documents in one config directory.
type Bootstrapper struct {
	dir         string
	templateDir string
	force       bool
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a Bootstrapper.
type Option func(*Bootstrapper)

// WithTemplateDir makes files in dir take precedence over embedded templates.
func WithTemplateDir(dir string) Option {
	return func(b *Bootstrapper) { b.templateDir = dir }
}

// WithForce recreates every document from its template, valid or not.
func WithForce(force bool) Option {
	return func(b *Bootstrapper) { b.force = force }
}

// WithClock overrides the time source used for backups and metadata.
func WithClock(now func() time.Time) Option {
	return func(b *Bootstrapper) { b.now = now }
}

// New creates a Bootstrapper for dir.
func New(dir string, opts ...Option) *Bootstrapper {
	b := &Bootstrapper{
		dir:    dir,
		now:    time.Now,
		logger: slog.Default().With("component", "bootstrap"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run checks every required document. The Report is always returned; the
// error is non-nil when at least one document failed.
func (b *Bootstrapper) Run(ctx context.Context) (*Report, error) {
	report := &Report{RanAt: b.now().UTC()}
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return report, fmt.Errorf("creating config directory: %w", err)
	}

	for _, name := range store.RequiredDocuments {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res := b.ensure(name)
		report.Documents = append(report.Documents, res)

		attrs := []any{"document", name, "action", res.Action}
		if res.Backup != "" {
			attrs = append(attrs, "backup", filepath.Base(res.Backup))
		}
		switch res.Action {
		case ActionFailed:
			b.logger.Error("bootstrap failed", append(attrs, "reason", res.Reason)...)
		case ActionValid:
			b.logger.Debug("document ok", attrs...)
		default:
			b.logger.Info("document bootstrapped", append(attrs, "reason", res.Reason)...)
		}
	}

	if failed := report.Failed(); len(failed) > 0 {
		return report, fmt.Errorf("bootstrap failed for %s", strings.Join(failed, ", "))
	}
	return report, nil
}

func (b *Bootstrapper) ensure(name string) DocumentResult {
	path := filepath.Join(b.dir, name)
	res := DocumentResult{Name: name, Path: path}

	doc, err := store.NewDocument(name)
	if err != nil {
		return failed(res, err)
	}
	readErr := store.ReadDocument(path, doc)

	switch {
	case b.force:
		res.Action, res.Reason = ActionRecreated, "force requested"
	case readErr == nil:
		res.Action = ActionValid
		return res
	case errors.Is(readErr, fs.ErrNotExist):
		res.Action, res.Reason = ActionCreated, "missing"
	case errors.Is(readErr, store.ErrMalformedStore):
		res.Action, res.Reason = ActionRecovered, readErr.Error()
	default:
		return failed(res, readErr)
	}

	now := b.now()
	if res.Action != ActionCreated {
		backup, err := store.Backup(path, now)
		if err != nil {
			return failed(res, err)
		}
		res.Backup = backup
	}

	data, err := b.render(name, now)
	if err != nil {
		return failed(res, err)
	}
	if err := store.WriteFileAtomic(path, data); err != nil {
		return failed(res, fmt.Errorf("writing %s: %w", name, err))
	}

	// The result must itself pass validation.
	check, _ := store.NewDocument(name)
	if err := store.ReadDocument(path, check); err != nil {
		return failed(res, fmt.Errorf("verifying %s: %w", name, err))
	}
	return res
}

// render returns the bytes to install for name. targets.yaml gets its
// metadata recomputed; other templates are copied verbatim.
func (b *Bootstrapper) render(name string, now time.Time) ([]byte, error) {
	src, origin, err := b.template(name)
	if err != nil {
		return nil, err
	}
	if name != store.TargetsFile {
		doc, _ := store.NewDocument(name)
		if err := store.DecodeDocument(origin, src, doc); err != nil {
			return nil, fmt.Errorf("template: %w", err)
		}
		return src, nil
	}

	var doc store.TargetsDoc
	if err := store.DecodeDocument(origin, src, &doc); err != nil {
		return nil, fmt.Errorf("template: %w", err)
	}
	doc.Recompute(now)
	doc.Metadata.BootstrapCompleted = true
	return store.EncodeDocument(&doc)
}

// template loads the template for name, preferring the override directory.
func (b *Bootstrapper) template(name string) ([]byte, string, error) {
	if b.templateDir != "" {
		path := filepath.Join(b.templateDir, name)
		data, err := os.ReadFile(path)
		if err == nil {
			return data, path, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("reading template %s: %w", path, err)
		}
	}
	data, err := templateFS.ReadFile("templates/" + name)
	if err != nil {
		return nil, "", fmt.Errorf("no template for %s: %w", name, err)
	}
	return data, "embedded:" + name, nil
}

// Template returns the embedded template for a document name.
func Template(name string) ([]byte, error) {
	return templateFS.ReadFile("templates/" + name)
}

func failed(res DocumentResult, err error) DocumentResult {
	res.Action = ActionFailed
	res.Reason = err.Error()
	return res
}
