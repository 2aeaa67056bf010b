// ABOUTME: Tests for the YAML to SQL migration
// ABOUTME: Checks data parity, the backup directory, marker ordering and reruns

package migrate

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smokingpi/smokeadmin/internal/store"
)

const probesYAML = `probes:
  FPing:
    binary: /usr/bin/fping
    step: 300
    pings: 10
  DNS:
    binary: /usr/bin/dig
    pings: 5
    lookup: google.com
`

const targetsYAML = `active_targets:
  dns_resolvers:
    - name: Google_DNS
      host: 8.8.8.8
      title: Google DNS
      probe: DNS
      lookup: example.com
      category: dns_resolvers
  top_sites:
    - name: example_com
      host: example.com
      title: example.com
inactive_targets:
  top_sites:
    - name: old_com
      host: old.com
metadata:
  total_targets: 2
  template_version: "1.0"
  last_sync.top_sites: "2025-01-01T00:00:00Z"
`

const sourcesYAML = `sources:
  top_sites:
    display_name: Top Sites
    enabled: true
dynamic:
  netflix_oca:
    enabled: false
    max_targets: 5
`

var fixedNow = time.Date(2025, 7, 4, 9, 30, 0, 0, time.UTC)

func setup(t *testing.T, targets string) (*store.FileStore, *store.SQLStore, string) {
	t.Helper()
	dir := t.TempDir()
	for name, body := range map[string]string{
		store.TargetsFile: targets,
		store.ProbesFile:  probesYAML,
		store.SourcesFile: sourcesYAML,
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	files, err := store.NewFileStore(dir)
	require.NoError(t, err)

	dsn := filepath.Join(t.TempDir(), "smokeadmin.db")
	db, err := store.NewSQLStore(context.Background(), store.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return files, db, dsn
}

func names(targets []store.Target) []string {
	var out []string
	for _, t := range targets {
		out = append(out, t.Name)
	}
	sort.Strings(out)
	return out
}

func TestRun_CopiesEverything(t *testing.T) {
	ctx := context.Background()
	files, db, _ := setup(t, targetsYAML)

	report, err := New(files, db, WithClock(func() time.Time { return fixedNow })).Run(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 3, report.Targets)
	assert.Equal(t, 2, report.Probes)
	assert.Equal(t, 2, report.Sources)
	assert.False(t, report.AlreadyMigrated)

	got, err := db.GetTargets(ctx, store.TargetFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Google_DNS", "example_com", "old_com"}, names(got))
	for _, tgt := range got {
		switch tgt.Name {
		case "Google_DNS":
			assert.Equal(t, store.OriginManual, tgt.Origin)
			assert.Equal(t, "DNS", tgt.Probe)
			assert.Equal(t, "example.com", tgt.Lookup)
		case "example_com":
			assert.Equal(t, store.OriginDiscovered, tgt.Origin)
			assert.True(t, tgt.Active)
		case "old_com":
			assert.False(t, tgt.Active)
		}
	}

	probes, err := db.GetProbes(ctx)
	require.NoError(t, err)
	assert.Equal(t, "FPing", store.DefaultProbeName(probes, ""), "FPing becomes default when none is named")

	sources, err := db.GetSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.True(t, sources[1].Dynamic)
	assert.Equal(t, 5, sources[1].MaxTargets)

	v, err := db.GetMetadata(ctx, "last_sync.top_sites")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-01T00:00:00Z", v)

	marker, err := db.GetMetadata(ctx, store.MigrationMarkerKey)
	require.NoError(t, err)
	assert.Equal(t, "2025-07-04T09:30:00Z", marker)
}

func TestRun_BacksUpDocuments(t *testing.T) {
	files, db, _ := setup(t, targetsYAML)

	report, err := New(files, db, WithClock(func() time.Time { return fixedNow })).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(files.Dir(), "backup_pre_migration_20250704_093000"), report.BackupDir)
	for _, name := range store.RequiredDocuments {
		orig, err := os.ReadFile(filepath.Join(files.Dir(), name))
		require.NoError(t, err)
		saved, err := os.ReadFile(filepath.Join(report.BackupDir, name))
		require.NoError(t, err)
		assert.Equal(t, orig, saved, name)
	}
}

func TestRun_WithoutBackup(t *testing.T) {
	files, db, _ := setup(t, targetsYAML)
	report, err := New(files, db, WithoutBackup()).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.BackupDir)
}

func TestRun_Rerun(t *testing.T) {
	ctx := context.Background()
	files, db, _ := setup(t, targetsYAML)

	_, err := New(files, db, WithoutBackup(), WithClock(func() time.Time { return fixedNow })).Run(ctx)
	require.NoError(t, err)

	later := func() time.Time { return fixedNow.Add(time.Hour) }
	report, err := New(files, db, WithoutBackup(), WithClock(later)).Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.AlreadyMigrated)
	assert.Zero(t, report.Targets)
	assert.Equal(t, 3, report.SkippedTargets)
	assert.Zero(t, report.Metadata)

	got, err := db.GetTargets(ctx, store.TargetFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	marker, err := db.GetMetadata(ctx, store.MigrationMarkerKey)
	require.NoError(t, err)
	assert.Equal(t, "2025-07-04T09:30:00Z", marker, "marker keeps the first completion time")
}

func TestRun_FailureLeavesNoMarker(t *testing.T) {
	ctx := context.Background()
	broken := `active_targets:
  top_sites:
    - name: good_com
      host: good.com
    - name: bad_com
      host: bad.com
      probe: Ghost
metadata:
  total_targets: 2
`
	files, db, dsn := setup(t, broken)

	_, err := New(files, db, WithoutBackup()).Run(ctx)
	require.ErrorIs(t, err, store.ErrValidation)

	_, err = db.GetMetadata(ctx, store.MigrationMarkerKey)
	assert.ErrorIs(t, err, store.ErrNotFound)
	got, err := db.GetTargets(ctx, store.TargetFilter{})
	require.NoError(t, err)
	assert.Empty(t, got, "target batch is all or nothing")

	s, sel, err := store.Select(ctx, store.SelectConfig{ConfigDir: files.Dir(), Driver: store.DriverSQLite, DSN: dsn})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, store.BackendFile, sel.Backend)
}

func TestRun_MarkerFlipsSelection(t *testing.T) {
	ctx := context.Background()
	files, db, dsn := setup(t, targetsYAML)

	s, sel, err := store.Select(ctx, store.SelectConfig{ConfigDir: files.Dir(), Driver: store.DriverSQLite, DSN: dsn})
	require.NoError(t, err)
	assert.Equal(t, store.BackendFile, sel.Backend)
	s.Close()

	_, err = New(files, db, WithoutBackup()).Run(ctx)
	require.NoError(t, err)

	s, sel, err = store.Select(ctx, store.SelectConfig{ConfigDir: files.Dir(), Driver: store.DriverSQLite, DSN: dsn})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, store.BackendSQL, sel.Backend)

	active, err := s.GetTargets(ctx, store.TargetFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 2)
}
