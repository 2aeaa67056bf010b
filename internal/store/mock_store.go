// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests of higher layers to run without files or a database

package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
// Targets keep insertion order; IDs are sequential decimal strings.
type MockStore struct {
	mu         sync.RWMutex
	targets    []*Target
	nextID     int
	categories []Category
	probes     []Probe
	sources    []Source
	metadata   map[string]string

	// Err, when set, is returned by every call.
	Err error
}

// NewMockStore creates a MockStore holding the given probes.
func NewMockStore(probes ...Probe) *MockStore {
	return &MockStore{
		probes:   append([]Probe(nil), probes...),
		metadata: make(map[string]string),
	}
}

// Backend implements Store.
func (m *MockStore) Backend() Backend { return BackendFile }

// Close implements Store.
func (m *MockStore) Close() error { return nil }

// AddSource registers a source.
func (m *MockStore) AddSource(src Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, src)
}

func (m *MockStore) probeSet() map[string]bool {
	set := make(map[string]bool, len(m.probes))
	for _, p := range m.probes {
		set[p.Name] = true
	}
	return set
}

func (m *MockStore) indexOf(id string) int {
	for i, t := range m.targets {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (m *MockStore) ensureCategory(name string) {
	for _, c := range m.categories {
		if c.Name == name {
			return
		}
	}
	m.categories = append(m.categories, Category{Name: name, DisplayName: CategoryDisplayName(name)})
}

// add validates and stores a target without locking.
func (m *MockStore) add(data TargetData) (*Target, error) {
	if err := checkTargetData(data, m.probeSet()); err != nil {
		return nil, err
	}
	for _, t := range m.targets {
		if t.Name == data.Name {
			return nil, invalid("name", data.Name, "target already exists")
		}
	}
	m.nextID++
	origin := data.Origin
	if origin == "" {
		origin = OriginManual
	}
	t := &Target{
		ID:       strconv.Itoa(m.nextID),
		Name:     data.Name,
		Host:     data.Host,
		Title:    data.Title,
		Category: data.Category,
		Probe:    data.Probe,
		Lookup:   data.Lookup,
		Active:   data.Active,
		Origin:   origin,
		Meta:     data.Meta,
	}
	m.ensureCategory(t.Category)
	m.targets = append(m.targets, t)
	return t, nil
}

// GetTargets implements Store. Active targets come first.
func (m *MockStore) GetTargets(ctx context.Context, filter TargetFilter) ([]Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	var active, inactive []Target
	for _, t := range m.targets {
		if filter.Category != "" && t.Category != filter.Category {
			continue
		}
		if t.Active {
			if filter.ActiveOnly || !filter.InactiveOnly {
				active = append(active, *t)
			}
		} else if !filter.ActiveOnly {
			inactive = append(inactive, *t)
		}
	}
	return append(active, inactive...), nil
}

// GetTarget implements Store.
func (m *MockStore) GetTarget(ctx context.Context, id string) (*Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	i := m.indexOf(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	t := *m.targets[i]
	return &t, nil
}

// CreateTarget implements Store.
func (m *MockStore) CreateTarget(ctx context.Context, data TargetData) (*Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}

	t, err := m.add(data)
	if err != nil {
		return nil, err
	}
	out := *t
	return &out, nil
}

// UpdateTarget implements Store.
func (m *MockStore) UpdateTarget(ctx context.Context, id string, patch TargetPatch) (*Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}

	i := m.indexOf(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	t := *m.targets[i]
	if patch.Probe != nil && *patch.Probe != "" && !m.probeSet()[*patch.Probe] {
		return nil, invalid("probe", t.Name, "probe %s does not exist", *patch.Probe)
	}
	if patch.Host != nil {
		if *patch.Host == "" {
			return nil, invalid("host", t.Name, "host is required")
		}
		t.Host = *patch.Host
	}
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Category != nil && *patch.Category != "" {
		t.Category = *patch.Category
		m.ensureCategory(t.Category)
	}
	if patch.Probe != nil {
		t.Probe = *patch.Probe
	}
	if patch.Lookup != nil {
		t.Lookup = *patch.Lookup
	}
	if patch.Active != nil {
		t.Active = *patch.Active
	}
	if patch.Meta != nil {
		t.Meta = patch.Meta
	}
	m.targets[i] = &t
	out := t
	return &out, nil
}

// DeleteTarget implements Store.
func (m *MockStore) DeleteTarget(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}

	i := m.indexOf(id)
	if i < 0 {
		return false, nil
	}
	m.targets = append(m.targets[:i], m.targets[i+1:]...)
	return true, nil
}

// ToggleActive implements Store.
func (m *MockStore) ToggleActive(ctx context.Context, id string) (*Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}

	i := m.indexOf(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	m.targets[i].Active = !m.targets[i].Active
	out := *m.targets[i]
	return &out, nil
}

// ApplyChanges implements Store. The batch is staged on a copy and only
// swapped in when every change succeeds.
func (m *MockStore) ApplyChanges(ctx context.Context, changes ChangeSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	saved := make([]*Target, len(m.targets))
	for i, t := range m.targets {
		c := *t
		saved[i] = &c
	}
	savedID, savedCats := m.nextID, append([]Category(nil), m.categories...)
	rollback := func() {
		m.targets, m.nextID, m.categories = saved, savedID, savedCats
	}

	for _, data := range changes.Create {
		if _, err := m.add(data); err != nil {
			rollback()
			return err
		}
	}
	for _, list := range []struct {
		ids    []string
		active bool
	}{{changes.Activate, true}, {changes.Deactivate, false}} {
		for _, id := range list.ids {
			i := m.indexOf(id)
			if i < 0 {
				rollback()
				return fmt.Errorf("target %s: %w", id, ErrNotFound)
			}
			m.targets[i].Active = list.active
		}
	}
	return nil
}

// GetCategories implements Store.
func (m *MockStore) GetCategories(ctx context.Context) ([]Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]Category(nil), m.categories...), nil
}

// GetProbes implements Store.
func (m *MockStore) GetProbes(ctx context.Context) ([]Probe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]Probe(nil), m.probes...), nil
}

// GetSources implements Store.
func (m *MockStore) GetSources(ctx context.Context) ([]Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]Source(nil), m.sources...), nil
}

// GetMetadata implements Store.
func (m *MockStore) GetMetadata(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return "", m.Err
	}
	v, ok := m.metadata[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// SetMetadata implements Store.
func (m *MockStore) SetMetadata(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.metadata[key] = value
	return nil
}
