// ABOUTME: Shared fixtures for store tests
// ABOUTME: Writes YAML documents into temp dirs and prepares a seeded SQLite store

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testProbesYAML = `probes:
  FPing:
    binary: /usr/bin/fping
    step: 300
    pings: 10
  FPing6:
    binary: /usr/bin/fping6
  DNS:
    binary: /usr/bin/dig
    lookup: google.com
default_probe: FPing
`

const testTargetsYAML = `active_targets:
  custom:
    - name: Google_DNS
      host: 8.8.8.8
      title: Google DNS
      probe: FPing
      category: custom
  top_sites:
    - name: site_a
      host: a.com
      title: a.com
metadata:
  total_targets: 2
`

const testSourcesYAML = `sources:
  top_sites:
    display_name: Top Sites
    enabled: true
dynamic:
  netflix_oca:
    enabled: true
    max_targets: 10
`

// testClock returns a clock that advances one second per call.
func testClock() func() time.Time {
	t := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func writeDocs(t *testing.T, dir string, docs map[string]string) {
	t.Helper()
	for name, body := range docs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
}

// setupFileStore creates a FileStore over the standard fixture documents.
func setupFileStore(t *testing.T, opts ...FileOption) *FileStore {
	t.Helper()
	dir := t.TempDir()
	writeDocs(t, dir, map[string]string{
		TargetsFile: testTargetsYAML,
		ProbesFile:  testProbesYAML,
		SourcesFile: testSourcesYAML,
	})
	s, err := NewFileStore(dir, append([]FileOption{WithClock(testClock())}, opts...)...)
	require.NoError(t, err)
	return s
}

// setupSQLStore creates a migrated SQLite store with the standard probes.
func setupSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()

	s, err := NewSQLStore(ctx, DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.EnsureSchema(ctx))
	require.NoError(t, s.UpsertProbe(ctx, Probe{Name: "FPing", Binary: "/usr/bin/fping", IsDefault: true}))
	require.NoError(t, s.UpsertProbe(ctx, Probe{Name: "FPing6", Binary: "/usr/bin/fping6"}))
	require.NoError(t, s.UpsertProbe(ctx, Probe{Name: "DNS", Binary: "/usr/bin/dig", Params: map[string]string{"lookup": "google.com"}}))
	return s
}
