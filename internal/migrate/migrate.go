// ABOUTME: YAML to SQL migration runner
// ABOUTME: Backs up documents, upserts reference data, batches targets, then writes the marker

package migrate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/smokingpi/smokeadmin/internal/store"
)

// BackupDirPrefix names the directory holding pre-migration copies.
const BackupDirPrefix = "backup_pre_migration_"

// Report summarizes a migration run.
type Report struct {
	RunID           string `json:"run_id"`
	BackupDir       string `json:"backup_dir,omitempty"`
	Categories      int    `json:"categories"`
	Probes          int    `json:"probes"`
	Sources         int    `json:"sources"`
	Targets         int    `json:"targets"`
	SkippedTargets  int    `json:"skipped_targets"`
	Metadata        int    `json:"metadata"`
	AlreadyMigrated bool   `json:"already_migrated"`
}

// Migrator copies one flat-file store into one SQL store.
type Migrator struct {
	files  *store.FileStore
	db     *store.SQLStore
	backup bool
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithoutBackup skips copying the YAML documents aside.
func WithoutBackup() Option {
	return func(m *Migrator) { m.backup = false }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Migrator) { m.now = now }
}

// New creates a Migrator.
func New(files *store.FileStore, db *store.SQLStore, opts ...Option) *Migrator {
	m := &Migrator{
		files:  files,
		db:     db,
		backup: true,
		now:    time.Now,
		logger: slog.Default().With("component", "migrate"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run performs the migration.
func (m *Migrator) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.New().String()}
	logger := m.logger.With("run_id", report.RunID)
	logger.Info("starting migration", "dir", m.files.Dir(), "driver", m.db.Driver())

	if m.backup {
		dir, err := m.backupDocuments()
		if err != nil {
			return report, err
		}
		report.BackupDir = dir
	}

	if err := m.db.EnsureSchema(ctx); err != nil {
		return report, fmt.Errorf("preparing schema: %w", err)
	}

	_, err := m.db.GetMetadata(ctx, store.MigrationMarkerKey)
	switch {
	case err == nil:
		report.AlreadyMigrated = true
	case !errors.Is(err, store.ErrNotFound):
		return report, fmt.Errorf("reading migration marker: %w", err)
	}

	if err := m.migrateCategories(ctx, report); err != nil {
		return report, err
	}
	if err := m.migrateProbes(ctx, report); err != nil {
		return report, err
	}
	if err := m.migrateSources(ctx, report); err != nil {
		return report, err
	}
	if err := m.migrateTargets(ctx, report); err != nil {
		return report, err
	}
	if err := m.migrateMetadata(ctx, report); err != nil {
		return report, err
	}

	if !report.AlreadyMigrated {
		if err := m.db.SetMetadata(ctx, store.MigrationMarkerKey, m.now().UTC().Format(time.RFC3339)); err != nil {
			return report, fmt.Errorf("writing migration marker: %w", err)
		}
	}

	logger.Info("migration complete",
		"categories", report.Categories,
		"probes", report.Probes,
		"sources", report.Sources,
		"targets", report.Targets,
		"skipped", report.SkippedTargets,
	)
	return report, nil
}

func (m *Migrator) backupDocuments() (string, error) {
	dir := filepath.Join(m.files.Dir(), BackupDirPrefix+m.now().Format("20060102_150405"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}
	for _, name := range store.RequiredDocuments {
		data, err := os.ReadFile(filepath.Join(m.files.Dir(), name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("reading %s for backup: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return "", fmt.Errorf("writing backup of %s: %w", name, err)
		}
		m.logger.Debug("document backed up", "document", name, "dir", dir)
	}
	return dir, nil
}

func (m *Migrator) migrateCategories(ctx context.Context, report *Report) error {
	cats, err := m.files.GetCategories(ctx)
	if err != nil {
		return fmt.Errorf("loading categories: %w", err)
	}
	for _, c := range cats {
		if err := m.db.UpsertCategory(ctx, c); err != nil {
			return err
		}
		report.Categories++
	}
	return nil
}

func (m *Migrator) migrateProbes(ctx context.Context, report *Report) error {
	probes, err := m.files.GetProbes(ctx)
	if err != nil {
		return fmt.Errorf("loading probes: %w", err)
	}

	hasDefault := false
	for _, p := range probes {
		hasDefault = hasDefault || p.IsDefault
	}
	for _, p := range probes {
		if !hasDefault && p.Name == store.FallbackProbe {
			p.IsDefault = true
		}
		if err := m.db.UpsertProbe(ctx, p); err != nil {
			return err
		}
		report.Probes++
	}
	return nil
}

func (m *Migrator) migrateSources(ctx context.Context, report *Report) error {
	sources, err := m.files.GetSources(ctx)
	if err != nil {
		return fmt.Errorf("loading sources: %w", err)
	}
	for _, src := range sources {
		if err := m.db.UpsertSource(ctx, src); err != nil {
			return err
		}
		report.Sources++
	}
	return nil
}

// migrateTargets inserts every target whose name is not yet in the
// database as one batch.
func (m *Migrator) migrateTargets(ctx context.Context, report *Report) error {
	targets, err := m.files.GetTargets(ctx, store.TargetFilter{})
	if err != nil {
		return fmt.Errorf("loading targets: %w", err)
	}
	existing, err := m.db.GetTargets(ctx, store.TargetFilter{})
	if err != nil {
		return fmt.Errorf("loading existing targets: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, t := range existing {
		have[t.Name] = true
	}

	var changes store.ChangeSet
	for _, t := range targets {
		if have[t.Name] {
			report.SkippedTargets++
			continue
		}
		changes.Create = append(changes.Create, store.TargetData{
			Name:     t.Name,
			Host:     t.Host,
			Title:    t.Title,
			Category: t.Category,
			Probe:    t.Probe,
			Lookup:   t.Lookup,
			Active:   t.Active,
			Origin:   t.Origin,
			Meta:     t.Meta,
		})
	}
	if err := m.db.ApplyChanges(ctx, changes); err != nil {
		return fmt.Errorf("inserting targets: %w", err)
	}
	report.Targets = len(changes.Create)
	return nil
}

// migrateMetadata copies the targets.yaml metadata block. Keys already in
// the database are kept.
func (m *Migrator) migrateMetadata(ctx context.Context, report *Report) error {
	var doc store.TargetsDoc
	if err := store.ReadDocument(filepath.Join(m.files.Dir(), store.TargetsFile), &doc); err != nil {
		return fmt.Errorf("loading targets metadata: %w", err)
	}
	md := doc.Metadata
	values := map[string]string{
		store.MetaTotalTargets: strconv.Itoa(md.TotalTargets),
		store.MetaBandwidth:    strconv.FormatFloat(md.BandwidthEstimateMbps, 'f', -1, 64),
		"bootstrap_completed":  strconv.FormatBool(md.BootstrapCompleted),
	}
	for k, v := range map[string]string{
		store.MetaLastUpdated: md.LastUpdated,
		"template_version":    md.TemplateVersion,
		"source":              md.Source,
	} {
		if v != "" {
			values[k] = v
		}
	}
	for k, v := range md.Extra {
		values[k] = v
	}
	delete(values, store.MigrationMarkerKey)

	for k, v := range values {
		_, err := m.db.GetMetadata(ctx, k)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("reading metadata %s: %w", k, err)
		}
		if err := m.db.SetMetadata(ctx, k, v); err != nil {
			return err
		}
		report.Metadata++
	}
	return nil
}
