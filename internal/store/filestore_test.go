// ABOUTME: Tests for the YAML-backed FileStore
// ABOUTME: Covers CRUD, metadata recomputation, backups, atomic batches and malformed documents

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readTargetsDoc(t *testing.T, s *FileStore) *TargetsDoc {
	t.Helper()
	var doc TargetsDoc
	require.NoError(t, ReadDocument(filepath.Join(s.Dir(), TargetsFile), &doc))
	return &doc
}

func TestFileStore_GetTargets(t *testing.T) {
	s := setupFileStore(t)
	ctx := context.Background()

	all, err := s.GetTargets(ctx, TargetFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	assert.Equal(t, "Google_DNS", all[0].ID)
	assert.Equal(t, CategoryCustom, all[0].Category)
	assert.Equal(t, OriginManual, all[0].Origin)
	assert.True(t, all[0].Active)

	assert.Equal(t, "site_a", all[1].Name)
	assert.Equal(t, OriginDiscovered, all[1].Origin)

	top, err := s.GetTargets(ctx, TargetFilter{Category: CategoryTopSites})
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "a.com", top[0].Host)
}

func TestFileStore_CreateTarget(t *testing.T) {
	s := setupFileStore(t)
	ctx := context.Background()

	created, err := s.CreateTarget(ctx, TargetData{
		Name:     "Cloudflare",
		Host:     "1.1.1.1",
		Title:    "Cloudflare DNS",
		Category: CategoryDNSResolvers,
		Probe:    "DNS",
		Lookup:   "example.com",
		Active:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Cloudflare", created.ID)
	assert.Equal(t, OriginManual, created.Origin)

	doc := readTargetsDoc(t, s)
	assert.Equal(t, 3, doc.Metadata.TotalTargets)
	assert.NotEmpty(t, doc.Metadata.LastUpdated)
	assert.Greater(t, doc.Metadata.BandwidthEstimateMbps, 0.0)

	list, ok := doc.ActiveTargets.Get(CategoryDNSResolvers)
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.Equal(t, CategoryDNSResolvers, list[0].Category, "manual records carry a category tag")

	backups, err := ListBackups(filepath.Join(s.Dir(), TargetsFile))
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestFileStore_CreateTarget_Validation(t *testing.T) {
	s := setupFileStore(t)
	ctx := context.Background()

	_, err := s.CreateTarget(ctx, TargetData{Name: "site_a", Host: "x.com", Category: CategoryCustom, Active: true})
	require.Error(t, err)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "name", verr.Field)

	_, err = s.CreateTarget(ctx, TargetData{Name: "Other", Host: "x.com", Category: CategoryCustom, Probe: "Nonexistent"})
	require.ErrorIs(t, err, ErrValidation)
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "probe", verr.Field)

	_, err = s.CreateTarget(ctx, TargetData{Name: "NoHost", Category: CategoryCustom})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestFileStore_ToggleActive(t *testing.T) {
	s := setupFileStore(t)
	ctx := context.Background()

	toggled, err := s.ToggleActive(ctx, "site_a")
	require.NoError(t, err)
	assert.False(t, toggled.Active)

	doc := readTargetsDoc(t, s)
	assert.Equal(t, 1, doc.Metadata.TotalTargets)
	inactive, ok := doc.InactiveTargets.Get(CategoryTopSites)
	require.True(t, ok)
	require.Len(t, inactive, 1)

	active, err := s.GetTargets(ctx, TargetFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 1)

	off, err := s.GetTargets(ctx, TargetFilter{InactiveOnly: true})
	require.NoError(t, err)
	require.Len(t, off, 1)
	assert.Equal(t, "site_a", off[0].ID)

	// the record is still reachable and can come back
	back, err := s.ToggleActive(ctx, "site_a")
	require.NoError(t, err)
	assert.True(t, back.Active)
	assert.Equal(t, 2, readTargetsDoc(t, s).Metadata.TotalTargets)

	_, err = s.ToggleActive(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_UpdateAndDelete(t *testing.T) {
	s := setupFileStore(t)
	ctx := context.Background()

	title := "Example A"
	updated, err := s.UpdateTarget(ctx, "site_a", TargetPatch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Example A", updated.Title)
	assert.Equal(t, CategoryTopSites, updated.Category)

	_, err = s.UpdateTarget(ctx, "nope", TargetPatch{Title: &title})
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := s.DeleteTarget(ctx, "site_a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.DeleteTarget(ctx, "site_a")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, readTargetsDoc(t, s).Metadata.TotalTargets)
}

func TestFileStore_ApplyChanges_Atomic(t *testing.T) {
	s := setupFileStore(t)
	ctx := context.Background()
	path := filepath.Join(s.Dir(), TargetsFile)

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	err = s.ApplyChanges(ctx, ChangeSet{
		Create:     []TargetData{{Name: "site_b", Host: "b.com", Category: CategoryTopSites, Active: true, Origin: OriginDiscovered}},
		Deactivate: []string{"does_not_exist"},
	})
	require.ErrorIs(t, err, ErrNotFound)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestFileStore_ApplyChanges(t *testing.T) {
	s := setupFileStore(t)
	ctx := context.Background()

	err := s.ApplyChanges(ctx, ChangeSet{
		Create:     []TargetData{{Name: "site_b", Host: "b.com", Category: CategoryTopSites, Active: true, Origin: OriginDiscovered}},
		Deactivate: []string{"site_a"},
	})
	require.NoError(t, err)

	top, err := s.GetTargets(ctx, TargetFilter{Category: CategoryTopSites})
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "site_b", top[0].Name)
	assert.True(t, top[0].Active)
	assert.Equal(t, OriginDiscovered, top[0].Origin)
	assert.False(t, top[1].Active)

	// one write, one backup
	backups, err := ListBackups(filepath.Join(s.Dir(), TargetsFile))
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestFileStore_PreservesCategoryOrder(t *testing.T) {
	s := setupFileStore(t)
	ctx := context.Background()

	_, err := s.CreateTarget(ctx, TargetData{Name: "Quad9", Host: "9.9.9.9", Category: CategoryDNSResolvers, Active: true})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(s.Dir(), TargetsFile))
	require.NoError(t, err)
	text := string(data)
	custom := strings.Index(text, "custom:")
	top := strings.Index(text, "top_sites:")
	dns := strings.Index(text, "dns_resolvers:")
	assert.True(t, custom < top && top < dns, "categories should keep document order:\n%s", text)
}

func TestFileStore_Malformed(t *testing.T) {
	s := setupFileStore(t)
	ctx := context.Background()

	writeDocs(t, s.Dir(), map[string]string{TargetsFile: "active_targets:\n  custom: not-a-list\n"})
	_, err := s.GetTargets(ctx, TargetFilter{})
	require.ErrorIs(t, err, ErrMalformedStore)
	var merr *MalformedError
	require.True(t, errors.As(err, &merr))
	assert.Contains(t, merr.Path, TargetsFile)

	writeDocs(t, s.Dir(), map[string]string{TargetsFile: "metadata: {}\n"})
	_, err = s.GetTargets(ctx, TargetFilter{})
	assert.ErrorIs(t, err, ErrMalformedStore)

	require.NoError(t, os.Remove(filepath.Join(s.Dir(), TargetsFile)))
	_, err = s.GetTargets(ctx, TargetFilter{})
	require.Error(t, err)
	assert.True(t, IsMissing(err))
	assert.False(t, errors.Is(err, ErrMalformedStore))
}

func TestFileStore_Metadata(t *testing.T) {
	s := setupFileStore(t)
	ctx := context.Background()

	v, err := s.GetMetadata(ctx, "total_targets")
	require.NoError(t, err)
	assert.Equal(t, "2", v)

	_, err = s.GetMetadata(ctx, "last_sync.top_sites")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetMetadata(ctx, "last_sync.top_sites", "2025-03-01T12:00:00Z"))
	v, err = s.GetMetadata(ctx, "last_sync.top_sites")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01T12:00:00Z", v)

	assert.ErrorIs(t, s.SetMetadata(ctx, "total_targets", "99"), ErrValidation)
}

func TestFileStore_ProbesAndSources(t *testing.T) {
	s := setupFileStore(t)
	ctx := context.Background()

	probes, err := s.GetProbes(ctx)
	require.NoError(t, err)
	require.Len(t, probes, 3)
	assert.Equal(t, "FPing", probes[0].Name)
	assert.True(t, probes[0].IsDefault)
	assert.Equal(t, DefaultStep, probes[1].Step, "missing step gets the default")
	assert.Equal(t, "google.com", probes[2].Params["lookup"])

	sources, err := s.GetSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.False(t, sources[0].Dynamic)
	assert.True(t, sources[1].Dynamic)
	assert.Equal(t, 10, sources[1].MaxTargets)
	assert.Equal(t, "Netflix OCA", sources[1].DisplayName)

	cats, err := s.GetCategories(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "Custom Targets", cats[0].DisplayName)
}

func TestFileStore_BackupRetention(t *testing.T) {
	s := setupFileStore(t, WithBackupRetention(2))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := s.ToggleActive(ctx, "site_a")
		require.NoError(t, err)
	}

	backups, err := ListBackups(filepath.Join(s.Dir(), TargetsFile))
	require.NoError(t, err)
	assert.Len(t, backups, 2)
}
