// ABOUTME: Flat-file implementation of the Store interface backed by YAML documents
// ABOUTME: Each mutation backs up targets.yaml, recomputes metadata and rewrites atomically

package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/smokingpi/smokeadmin/internal/naming"
)

// FileStore implements Store over targets.yaml, probes.yaml and sources.yaml
// in a single directory. It serializes writers inside one process only.
type FileStore struct {
	mu         sync.Mutex
	dir        string
	keepBackup int
	now        func() time.Time
	logger     *slog.Logger
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithBackupRetention keeps at most n backups per document (0 keeps all).
func WithBackupRetention(n int) FileOption {
	return func(s *FileStore) { s.keepBackup = n }
}

// WithClock overrides the time source used for metadata and backup names.
func WithClock(now func() time.Time) FileOption {
	return func(s *FileStore) { s.now = now }
}

// NewFileStore opens the document store rooted at dir.
// Documents are read lazily; bootstrap is responsible for their existence.
func NewFileStore(dir string, opts ...FileOption) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}
	s := &FileStore{
		dir:    dir,
		now:    time.Now,
		logger: slog.Default().With("component", "store", "backend", "file"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the directory holding the documents.
func (s *FileStore) Dir() string { return s.dir }

// Backend implements Store.
func (s *FileStore) Backend() Backend { return BackendFile }

// Close implements Store.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(name string) string { return filepath.Join(s.dir, name) }

func (s *FileStore) loadTargets() (*TargetsDoc, error) {
	var doc TargetsDoc
	if err := ReadDocument(s.path(TargetsFile), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *FileStore) loadProbes() (*ProbesDoc, error) {
	var doc ProbesDoc
	if err := ReadDocument(s.path(ProbesFile), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// saveTargets recomputes metadata, backs up the current file and replaces it.
func (s *FileStore) saveTargets(doc *TargetsDoc) error {
	path := s.path(TargetsFile)
	now := s.now()
	doc.Recompute(now)

	data, err := EncodeDocument(doc)
	if err != nil {
		return err
	}
	backup, err := Backup(path, now)
	if err != nil {
		return fmt.Errorf("backing up targets: %w", err)
	}
	if err := WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("writing targets: %w", err)
	}
	if err := PruneBackups(path, s.keepBackup); err != nil {
		s.logger.Warn("pruning backups failed", "error", err)
	}
	s.logger.Debug("targets document written", "backup", backup, "total_targets", doc.Metadata.TotalTargets)
	return nil
}

// location points at a record inside a TargetsDoc.
type location struct {
	active bool
	cat    int
	idx    int
}

func (d *TargetsDoc) section(active bool) *OrderedMap[TargetList] {
	if active {
		return &d.ActiveTargets
	}
	return &d.InactiveTargets
}

func (d *TargetsDoc) find(name string) (location, bool) {
	for _, active := range []bool{true, false} {
		for ci, cat := range *d.section(active) {
			for ri, r := range cat.Value {
				if r.Name == name {
					return location{active: active, cat: ci, idx: ri}, true
				}
			}
		}
	}
	return location{}, false
}

func (d *TargetsDoc) record(loc location) (string, TargetRecord) {
	cat := (*d.section(loc.active))[loc.cat]
	return cat.Key, cat.Value[loc.idx]
}

func (d *TargetsDoc) remove(loc location) (string, TargetRecord) {
	sec := d.section(loc.active)
	key, rec := d.record(loc)
	list := (*sec)[loc.cat].Value
	(*sec)[loc.cat].Value = append(list[:loc.idx:loc.idx], list[loc.idx+1:]...)
	return key, rec
}

func (d *TargetsDoc) insert(category string, active bool, rec TargetRecord) {
	sec := d.section(active)
	list, _ := sec.Get(category)
	sec.Set(category, append(list, rec))
	// keep the category visible in active_targets even when it has no active members
	if !active {
		if _, ok := d.ActiveTargets.Get(category); !ok {
			d.ActiveTargets.Set(category, TargetList{})
		}
	}
}

func (d *TargetsDoc) move(loc location, active bool) TargetRecord {
	key, rec := d.remove(loc)
	d.insert(key, active, rec)
	return rec
}

// GetTargets implements Store. Active targets come first, each section in
// document order.
func (s *FileStore) GetTargets(ctx context.Context, filter TargetFilter) ([]Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadTargets()
	if err != nil {
		return nil, err
	}
	return collectTargets(doc, filter), nil
}

func collectTargets(doc *TargetsDoc, filter TargetFilter) []Target {
	var out []Target
	for _, active := range []bool{true, false} {
		if !active && filter.ActiveOnly {
			break
		}
		if active && filter.InactiveOnly && !filter.ActiveOnly {
			continue
		}
		for _, cat := range *doc.section(active) {
			if filter.Category != "" && cat.Key != filter.Category {
				continue
			}
			for i := range cat.Value {
				out = append(out, cat.Value[i].toTarget(cat.Key, active))
			}
		}
	}
	return out
}

// GetTarget implements Store.
func (s *FileStore) GetTarget(ctx context.Context, id string) (*Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadTargets()
	if err != nil {
		return nil, err
	}
	loc, ok := doc.find(id)
	if !ok {
		return nil, ErrNotFound
	}
	key, rec := doc.record(loc)
	t := rec.toTarget(key, loc.active)
	return &t, nil
}

// CreateTarget implements Store.
func (s *FileStore) CreateTarget(ctx context.Context, data TargetData) (*Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadTargets()
	if err != nil {
		return nil, err
	}
	probes, err := s.probeSet()
	if err != nil {
		return nil, err
	}
	rec, err := addRecord(doc, probes, data)
	if err != nil {
		return nil, err
	}
	if err := s.saveTargets(doc); err != nil {
		return nil, err
	}
	t := rec.toTarget(data.Category, data.Active)
	s.logger.Info("target created", "name", t.Name, "category", t.Category)
	return &t, nil
}

func addRecord(doc *TargetsDoc, probes map[string]bool, data TargetData) (TargetRecord, error) {
	if err := checkTargetData(data, probes); err != nil {
		return TargetRecord{}, err
	}
	if _, exists := doc.find(data.Name); exists {
		return TargetRecord{}, invalid("name", data.Name, "target already exists")
	}
	rec := TargetRecord{
		Name:     data.Name,
		Host:     data.Host,
		Title:    data.Title,
		Probe:    data.Probe,
		Lookup:   data.Lookup,
		Origin:   data.Origin,
		Metadata: data.Meta,
	}
	if rec.Origin == "" {
		rec.Origin = OriginManual
	}
	if rec.Origin == OriginManual {
		rec.Category = data.Category
	}
	doc.insert(data.Category, data.Active, rec)
	return rec, nil
}

// checkTargetData applies the rules both backends share.
func checkTargetData(data TargetData, probes map[string]bool) error {
	if err := naming.ValidateName(data.Name); err != nil {
		return invalid("name", data.Name, "%v", err)
	}
	if data.Host == "" {
		return invalid("host", data.Name, "host is required")
	}
	if data.Category == "" {
		return invalid("category", data.Name, "category is required")
	}
	if data.Probe != "" && !probes[data.Probe] {
		return invalid("probe", data.Name, "probe %s does not exist", data.Probe)
	}
	return nil
}

func (s *FileStore) probeSet() (map[string]bool, error) {
	doc, err := s.loadProbes()
	if err != nil {
		return nil, fmt.Errorf("loading probes: %w", err)
	}
	set := make(map[string]bool, len(doc.Probes))
	for _, p := range doc.Probes {
		set[p.Key] = true
	}
	return set, nil
}

// UpdateTarget implements Store. The name is immutable.
func (s *FileStore) UpdateTarget(ctx context.Context, id string, patch TargetPatch) (*Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadTargets()
	if err != nil {
		return nil, err
	}
	loc, ok := doc.find(id)
	if !ok {
		return nil, ErrNotFound
	}
	if patch.Probe != nil && *patch.Probe != "" {
		probes, err := s.probeSet()
		if err != nil {
			return nil, err
		}
		if !probes[*patch.Probe] {
			return nil, invalid("probe", id, "probe %s does not exist", *patch.Probe)
		}
	}

	category, rec := doc.remove(loc)
	active := loc.active
	if patch.Host != nil {
		if *patch.Host == "" {
			return nil, invalid("host", id, "host is required")
		}
		rec.Host = *patch.Host
	}
	if patch.Title != nil {
		rec.Title = *patch.Title
	}
	if patch.Probe != nil {
		rec.Probe = *patch.Probe
	}
	if patch.Lookup != nil {
		rec.Lookup = *patch.Lookup
	}
	if patch.Meta != nil {
		rec.Metadata = patch.Meta
	}
	if patch.Category != nil && *patch.Category != "" {
		category = *patch.Category
		if rec.Category != "" {
			rec.Category = category
		}
	}
	if patch.Active != nil {
		active = *patch.Active
	}
	doc.insert(category, active, rec)

	if err := s.saveTargets(doc); err != nil {
		return nil, err
	}
	t := rec.toTarget(category, active)
	return &t, nil
}

// DeleteTarget implements Store. Deleting an unknown target returns false.
func (s *FileStore) DeleteTarget(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadTargets()
	if err != nil {
		return false, err
	}
	loc, ok := doc.find(id)
	if !ok {
		return false, nil
	}
	doc.remove(loc)
	if err := s.saveTargets(doc); err != nil {
		return false, err
	}
	s.logger.Info("target deleted", "name", id)
	return true, nil
}

// ToggleActive implements Store.
func (s *FileStore) ToggleActive(ctx context.Context, id string) (*Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadTargets()
	if err != nil {
		return nil, err
	}
	loc, ok := doc.find(id)
	if !ok {
		return nil, ErrNotFound
	}
	category, _ := doc.record(loc)
	rec := doc.move(loc, !loc.active)
	if err := s.saveTargets(doc); err != nil {
		return nil, err
	}
	t := rec.toTarget(category, !loc.active)
	return &t, nil
}

// ApplyChanges implements Store with a single backup-then-write.
func (s *FileStore) ApplyChanges(ctx context.Context, changes ChangeSet) error {
	if changes.Empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadTargets()
	if err != nil {
		return err
	}
	if len(changes.Create) > 0 {
		probes, err := s.probeSet()
		if err != nil {
			return err
		}
		for _, data := range changes.Create {
			if _, err := addRecord(doc, probes, data); err != nil {
				return err
			}
		}
	}
	for _, id := range changes.Activate {
		if err := setActive(doc, id, true); err != nil {
			return err
		}
	}
	for _, id := range changes.Deactivate {
		if err := setActive(doc, id, false); err != nil {
			return err
		}
	}
	return s.saveTargets(doc)
}

func setActive(doc *TargetsDoc, id string, active bool) error {
	loc, ok := doc.find(id)
	if !ok {
		return fmt.Errorf("target %s: %w", id, ErrNotFound)
	}
	if loc.active != active {
		doc.move(loc, active)
	}
	return nil
}

// GetCategories implements Store. Categories are the keys present in the
// targets document.
func (s *FileStore) GetCategories(ctx context.Context) ([]Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadTargets()
	if err != nil {
		return nil, err
	}
	var out []Category
	seen := make(map[string]bool)
	for _, sec := range []OrderedMap[TargetList]{doc.ActiveTargets, doc.InactiveTargets} {
		for _, cat := range sec {
			if seen[cat.Key] {
				continue
			}
			seen[cat.Key] = true
			out = append(out, Category{Name: cat.Key, DisplayName: CategoryDisplayName(cat.Key)})
		}
	}
	return out, nil
}

// GetProbes implements Store.
func (s *FileStore) GetProbes(ctx context.Context) ([]Probe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadProbes()
	if err != nil {
		return nil, err
	}
	return doc.ToProbes(), nil
}

// GetSources implements Store.
func (s *FileStore) GetSources(ctx context.Context) ([]Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc SourcesDoc
	if err := ReadDocument(s.path(SourcesFile), &doc); err != nil {
		return nil, err
	}
	return doc.ToSources(), nil
}

// GetMetadata implements Store using the targets metadata block.
func (s *FileStore) GetMetadata(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadTargets()
	if err != nil {
		return "", err
	}
	v, ok := doc.Metadata.get(key)
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// SetMetadata implements Store.
func (s *FileStore) SetMetadata(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadTargets()
	if err != nil {
		return err
	}
	if err := doc.Metadata.set(key, value); err != nil {
		return err
	}
	return s.saveTargets(doc)
}

// IsMissing reports whether err means a document does not exist.
func IsMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
