// ABOUTME: Relational implementation of the Store interface over database/sql
// ABOUTME: Supports SQLite (modernc.org/sqlite) and PostgreSQL (pgx stdlib) with idempotent schema setup

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Supported database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLStore implements Store over a relational database.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
	logger  *slog.Logger
}

type dialect struct {
	name       string
	driver     string
	idColumn   string
	floatType  string
	columnInfo string
	dollar     bool
}

var (
	sqliteDialect = dialect{
		name:       DriverSQLite,
		driver:     "sqlite",
		idColumn:   "INTEGER PRIMARY KEY AUTOINCREMENT",
		floatType:  "REAL",
		columnInfo: `SELECT 1 FROM pragma_table_info(?) WHERE name = ?`,
	}
	postgresDialect = dialect{
		name:       DriverPostgres,
		driver:     "pgx",
		idColumn:   "BIGSERIAL PRIMARY KEY",
		floatType:  "DOUBLE PRECISION",
		columnInfo: `SELECT 1 FROM information_schema.columns WHERE table_name = ? AND column_name = ?`,
		dollar:     true,
	}
)

// NewSQLStore connects to the database. It does not touch the schema;
// call EnsureSchema before writing to a fresh database.
func NewSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	logger := slog.Default().With("component", "store", "backend", "sql")

	var d dialect
	switch driver {
	case DriverSQLite, "":
		d = sqliteDialect
		if path := sqlitePath(dsn); path != "" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
	case DriverPostgres, "pgx", "postgresql":
		d = postgresDialect
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, unavailable("connecting to database", err)
	}

	if d.name == DriverSQLite {
		// Enable WAL mode for better concurrent performance
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling foreign keys: %w", err)
		}
	}

	return &SQLStore{db: db, dialect: d, now: time.Now, logger: logger}, nil
}

// sqlitePath extracts the file path from a sqlite DSN, or "" for in-memory.
func sqlitePath(dsn string) string {
	p := strings.TrimPrefix(dsn, "file:")
	if i := strings.Index(p, "?"); i >= 0 {
		p = p[:i]
	}
	if p == "" || p == ":memory:" {
		return ""
	}
	return p
}

// Backend implements Store.
func (s *SQLStore) Backend() Backend { return BackendSQL }

// Driver returns the dialect name in use.
func (s *SQLStore) Driver() string { return s.dialect.name }

// Close implements Store.
func (s *SQLStore) Close() error { return s.db.Close() }

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if !s.dialect.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EnsureSchema creates tables that don't exist and applies column migrations.
// Safe to run repeatedly.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if err := s.createSchema(ctx); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	if err := s.runMigrations(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	s.logger.Info("SQL store schema ready", "driver", s.dialect.name)
	return nil
}

func (s *SQLStore) createSchema(ctx context.Context) error {
	id, float := s.dialect.idColumn, s.dialect.floatType
	statements := []string{
		`CREATE TABLE IF NOT EXISTS target_categories (
			id ` + id + `,
			name TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS probes (
			id ` + id + `,
			name TEXT NOT NULL UNIQUE,
			binary_path TEXT NOT NULL,
			step_seconds INTEGER NOT NULL DEFAULT 300,
			pings INTEGER NOT NULL DEFAULT 10,
			forks INTEGER,
			is_default BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS targets (
			id ` + id + `,
			name TEXT NOT NULL UNIQUE,
			host TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			category_id BIGINT NOT NULL REFERENCES target_categories(id),
			probe_id BIGINT REFERENCES probes(id),
			lookup TEXT,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			asn TEXT,
			cache_id TEXT,
			city TEXT,
			domain TEXT,
			iata_code TEXT,
			latitude ` + float + `,
			longitude ` + float + `,
			location_code TEXT,
			raw_city TEXT,
			metadata_type TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_targets_category ON targets(category_id)`,
		`CREATE INDEX IF NOT EXISTS idx_targets_active ON targets(is_active)`,
		`CREATE TABLE IF NOT EXISTS sources (
			id ` + id + `,
			name TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			dynamic BOOLEAN NOT NULL DEFAULT FALSE,
			max_targets INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS system_metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// runMigrations adds columns introduced after the first schema version.
func (s *SQLStore) runMigrations(ctx context.Context) error {
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "targets",
			column: "origin",
			apply:  `ALTER TABLE targets ADD COLUMN origin TEXT NOT NULL DEFAULT 'manual'`,
		},
		{
			table:  "probes",
			column: "params_json",
			apply:  `ALTER TABLE probes ADD COLUMN params_json TEXT`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRowContext(ctx, s.rebind(s.dialect.columnInfo), m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking column %s.%s: %w", m.table, m.column, err)
		}
		if _, err := s.db.ExecContext(ctx, m.apply); err != nil {
			return fmt.Errorf("adding column %s.%s: %w", m.table, m.column, err)
		}
		s.logger.Info("applied migration", "table", m.table, "column", m.column)
	}
	return nil
}

func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed") ||
		strings.Contains(errStr, "SQLSTATE 23505")
}

func (s *SQLStore) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func (s *SQLStore) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("beginning transaction", err)
	}
	return tx, nil
}

const selectTargets = `
	SELECT t.id, t.name, t.host, t.title, c.name, COALESCE(p.name, ''), COALESCE(t.lookup, ''),
		t.is_active, t.origin,
		COALESCE(t.asn, ''), COALESCE(t.cache_id, ''), COALESCE(t.city, ''), COALESCE(t.domain, ''),
		COALESCE(t.iata_code, ''), COALESCE(t.latitude, 0), COALESCE(t.longitude, 0),
		COALESCE(t.location_code, ''), COALESCE(t.raw_city, ''), COALESCE(t.metadata_type, '')
	FROM targets t
	JOIN target_categories c ON c.id = t.category_id
	LEFT JOIN probes p ON p.id = t.probe_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTarget(row rowScanner) (Target, error) {
	var (
		t  Target
		id int64
		m  TargetMeta
	)
	err := row.Scan(&id, &t.Name, &t.Host, &t.Title, &t.Category, &t.Probe, &t.Lookup,
		&t.Active, &t.Origin,
		&m.ASN, &m.CacheID, &m.City, &m.Domain, &m.IATACode, &m.Latitude, &m.Longitude,
		&m.LocationCode, &m.RawCity, &m.Type)
	if err != nil {
		return Target{}, err
	}
	t.ID = strconv.FormatInt(id, 10)
	if m != (TargetMeta{}) {
		t.Meta = &m
	}
	return t, nil
}

// GetTargets implements Store. Active targets come first, then category and
// insertion order.
func (s *SQLStore) GetTargets(ctx context.Context, filter TargetFilter) ([]Target, error) {
	query := selectTargets + ` WHERE 1=1`
	var args []any
	switch {
	case filter.ActiveOnly:
		query += ` AND t.is_active = ?`
		args = append(args, true)
	case filter.InactiveOnly:
		query += ` AND t.is_active = ?`
		args = append(args, false)
	}
	if filter.Category != "" {
		query += ` AND c.name = ?`
		args = append(args, filter.Category)
	}
	query += ` ORDER BY t.is_active DESC, c.id, t.id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying targets: %w", err)
	}
	defer rows.Close()

	var out []Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning target: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating targets: %w", err)
	}
	return out, nil
}

// GetTarget implements Store.
func (s *SQLStore) GetTarget(ctx context.Context, id string) (*Target, error) {
	return s.getTarget(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) getTarget(ctx context.Context, q queryer, id string) (*Target, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, ErrNotFound
	}
	t, err := scanTarget(q.QueryRowContext(ctx, s.rebind(selectTargets+` WHERE t.id = ?`), n))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting target: %w", err)
	}
	return &t, nil
}

// probeIDs maps probe names to row ids.
func (s *SQLStore) probeIDs(ctx context.Context, tx *sql.Tx) (map[string]int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, name FROM probes`)
	if err != nil {
		return nil, fmt.Errorf("querying probes: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]int64)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scanning probe: %w", err)
		}
		ids[name] = id
	}
	return ids, rows.Err()
}

// categoryID returns the id of a category, creating the row when missing.
func (s *SQLStore) categoryID(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, s.rebind(`SELECT id FROM target_categories WHERE name = ?`), name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("looking up category: %w", err)
	}
	err = tx.QueryRowContext(ctx, s.rebind(`
		INSERT INTO target_categories (name, display_name, description, created_at)
		VALUES (?, ?, '', ?) RETURNING id`),
		name, CategoryDisplayName(name), s.timestamp()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("creating category: %w", err)
	}
	return id, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableFloat(f float64) any {
	if f == 0 {
		return nil
	}
	return f
}

func (s *SQLStore) insertTarget(ctx context.Context, tx *sql.Tx, probes map[string]int64, data TargetData) (int64, error) {
	names := make(map[string]bool, len(probes))
	for name := range probes {
		names[name] = true
	}
	if err := checkTargetData(data, names); err != nil {
		return 0, err
	}

	var exists int
	err := tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM targets WHERE name = ?`), data.Name).Scan(&exists)
	if err == nil {
		return 0, invalid("name", data.Name, "target already exists")
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("checking target name: %w", err)
	}

	catID, err := s.categoryID(ctx, tx, data.Category)
	if err != nil {
		return 0, err
	}
	var probeID any
	if data.Probe != "" {
		probeID = probes[data.Probe]
	}
	origin := data.Origin
	if origin == "" {
		origin = OriginManual
	}
	m := data.Meta
	if m == nil {
		m = &TargetMeta{}
	}

	now := s.timestamp()
	var id int64
	err = tx.QueryRowContext(ctx, s.rebind(`
		INSERT INTO targets (name, host, title, category_id, probe_id, lookup, is_active, origin,
			asn, cache_id, city, domain, iata_code, latitude, longitude, location_code, raw_city, metadata_type,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		data.Name, data.Host, data.Title, catID, probeID, nullable(data.Lookup), data.Active, origin,
		nullable(m.ASN), nullable(m.CacheID), nullable(m.City), nullable(m.Domain), nullable(m.IATACode),
		nullableFloat(m.Latitude), nullableFloat(m.Longitude), nullable(m.LocationCode), nullable(m.RawCity),
		nullable(m.Type), now, now,
	).Scan(&id)
	if err != nil {
		if isConstraintViolation(err) {
			return 0, invalid("name", data.Name, "target already exists")
		}
		return 0, fmt.Errorf("inserting target: %w", err)
	}
	return id, nil
}

// CreateTarget implements Store.
func (s *SQLStore) CreateTarget(ctx context.Context, data TargetData) (*Target, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	probes, err := s.probeIDs(ctx, tx)
	if err != nil {
		return nil, err
	}
	id, err := s.insertTarget(ctx, tx, probes, data)
	if err != nil {
		return nil, err
	}
	t, err := s.getTarget(ctx, tx, strconv.FormatInt(id, 10))
	if err != nil {
		return nil, err
	}
	if err := s.refreshTotals(ctx, tx); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing target: %w", err)
	}
	s.logger.Info("target created", "name", t.Name, "category", t.Category)
	return t, nil
}

// UpdateTarget implements Store. The name is immutable.
func (s *SQLStore) UpdateTarget(ctx context.Context, id string, patch TargetPatch) (*Target, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	cur, err := s.getTarget(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	rowID, _ := strconv.ParseInt(cur.ID, 10, 64)

	if patch.Host != nil {
		if *patch.Host == "" {
			return nil, invalid("host", cur.Name, "host is required")
		}
		cur.Host = *patch.Host
	}
	if patch.Title != nil {
		cur.Title = *patch.Title
	}
	if patch.Lookup != nil {
		cur.Lookup = *patch.Lookup
	}
	if patch.Active != nil {
		cur.Active = *patch.Active
	}
	if patch.Category != nil && *patch.Category != "" {
		cur.Category = *patch.Category
	}
	if patch.Probe != nil {
		cur.Probe = *patch.Probe
	}
	if patch.Meta != nil {
		cur.Meta = patch.Meta
	}

	var probeID any
	if cur.Probe != "" {
		probes, err := s.probeIDs(ctx, tx)
		if err != nil {
			return nil, err
		}
		pid, ok := probes[cur.Probe]
		if !ok {
			return nil, invalid("probe", cur.Name, "probe %s does not exist", cur.Probe)
		}
		probeID = pid
	}
	catID, err := s.categoryID(ctx, tx, cur.Category)
	if err != nil {
		return nil, err
	}
	m := cur.Meta
	if m == nil {
		m = &TargetMeta{}
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		UPDATE targets SET host = ?, title = ?, category_id = ?, probe_id = ?, lookup = ?, is_active = ?,
			asn = ?, cache_id = ?, city = ?, domain = ?, iata_code = ?, latitude = ?, longitude = ?,
			location_code = ?, raw_city = ?, metadata_type = ?, updated_at = ?
		WHERE id = ?`),
		cur.Host, cur.Title, catID, probeID, nullable(cur.Lookup), cur.Active,
		nullable(m.ASN), nullable(m.CacheID), nullable(m.City), nullable(m.Domain), nullable(m.IATACode),
		nullableFloat(m.Latitude), nullableFloat(m.Longitude), nullable(m.LocationCode), nullable(m.RawCity),
		nullable(m.Type), s.timestamp(), rowID)
	if err != nil {
		return nil, fmt.Errorf("updating target: %w", err)
	}

	t, err := s.getTarget(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := s.refreshTotals(ctx, tx); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing target update: %w", err)
	}
	return t, nil
}

// DeleteTarget implements Store.
func (s *SQLStore) DeleteTarget(ctx context.Context, id string) (bool, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return false, nil
	}
	tx, err := s.begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM targets WHERE id = ?`), n)
	if err != nil {
		return false, fmt.Errorf("deleting target: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}
	if err := s.refreshTotals(ctx, tx); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing delete: %w", err)
	}
	s.logger.Info("target deleted", "id", id)
	return true, nil
}

// ToggleActive implements Store.
func (s *SQLStore) ToggleActive(ctx context.Context, id string) (*Target, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	cur, err := s.getTarget(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := s.setActive(ctx, tx, cur.ID, !cur.Active); err != nil {
		return nil, err
	}
	if err := s.refreshTotals(ctx, tx); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing toggle: %w", err)
	}
	cur.Active = !cur.Active
	return cur, nil
}

func (s *SQLStore) setActive(ctx context.Context, tx *sql.Tx, id string, active bool) error {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("target %s: %w", id, ErrNotFound)
	}
	res, err := tx.ExecContext(ctx, s.rebind(`UPDATE targets SET is_active = ?, updated_at = ? WHERE id = ?`),
		active, s.timestamp(), n)
	if err != nil {
		return fmt.Errorf("updating active flag: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("target %s: %w", id, ErrNotFound)
	}
	return nil
}

// ApplyChanges implements Store inside one transaction.
func (s *SQLStore) ApplyChanges(ctx context.Context, changes ChangeSet) error {
	if changes.Empty() {
		return nil
	}
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if len(changes.Create) > 0 {
		probes, err := s.probeIDs(ctx, tx)
		if err != nil {
			return err
		}
		for _, data := range changes.Create {
			if _, err := s.insertTarget(ctx, tx, probes, data); err != nil {
				return err
			}
		}
	}
	for _, id := range changes.Activate {
		if err := s.setActive(ctx, tx, id, true); err != nil {
			return err
		}
	}
	for _, id := range changes.Deactivate {
		if err := s.setActive(ctx, tx, id, false); err != nil {
			return err
		}
	}
	if err := s.refreshTotals(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing changes: %w", err)
	}
	return nil
}

// GetCategories implements Store.
func (s *SQLStore) GetCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, display_name, description FROM target_categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying categories: %w", err)
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.Name, &c.DisplayName, &c.Description); err != nil {
			return nil, fmt.Errorf("scanning category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetProbes implements Store.
func (s *SQLStore) GetProbes(ctx context.Context) ([]Probe, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, binary_path, step_seconds, pings, COALESCE(forks, 0), is_default, COALESCE(params_json, '')
		FROM probes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying probes: %w", err)
	}
	defer rows.Close()

	var out []Probe
	for rows.Next() {
		var p Probe
		var params string
		if err := rows.Scan(&p.Name, &p.Binary, &p.Step, &p.Pings, &p.Forks, &p.IsDefault, &params); err != nil {
			return nil, fmt.Errorf("scanning probe: %w", err)
		}
		if params != "" {
			if err := json.Unmarshal([]byte(params), &p.Params); err != nil {
				return nil, fmt.Errorf("decoding params for probe %s: %w", p.Name, err)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetSources implements Store.
func (s *SQLStore) GetSources(ctx context.Context) ([]Source, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, display_name, enabled, dynamic, max_targets FROM sources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying sources: %w", err)
	}
	defer rows.Close()

	var out []Source
	for rows.Next() {
		var src Source
		if err := rows.Scan(&src.Name, &src.DisplayName, &src.Enabled, &src.Dynamic, &src.MaxTargets); err != nil {
			return nil, fmt.Errorf("scanning source: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// GetMetadata implements Store.
func (s *SQLStore) GetMetadata(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT value FROM system_metadata WHERE key = ?`), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading metadata %s: %w", key, err)
	}
	return v, nil
}

// SetMetadata implements Store.
func (s *SQLStore) SetMetadata(ctx context.Context, key, value string) error {
	return s.setMetadata(ctx, s.db, key, value)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStore) setMetadata(ctx context.Context, e execer, key, value string) error {
	_, err := e.ExecContext(ctx, s.rebind(`
		INSERT INTO system_metadata (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`),
		key, value, s.timestamp())
	if err != nil {
		return fmt.Errorf("writing metadata %s: %w", key, err)
	}
	return nil
}

// Metadata keys kept in step with the targets table.
const (
	MetaLastUpdated  = "last_updated"
	MetaTotalTargets = "total_targets"
	MetaBandwidth    = "bandwidth_estimate_mbps"
)

// refreshTotals recomputes the totals metadata inside tx so it commits or
// rolls back together with the target change.
func (s *SQLStore) refreshTotals(ctx context.Context, tx *sql.Tx) error {
	var n int
	err := tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM targets WHERE is_active = ?`), true).Scan(&n)
	if err != nil {
		return fmt.Errorf("counting active targets: %w", err)
	}
	values := []struct{ key, value string }{
		{MetaLastUpdated, s.timestamp()},
		{MetaTotalTargets, strconv.Itoa(n)},
		{MetaBandwidth, strconv.FormatFloat(roundTo(EstimateBandwidthMbps(n), 6), 'f', -1, 64)},
	}
	for _, v := range values {
		if err := s.setMetadata(ctx, tx, v.key, v.value); err != nil {
			return err
		}
	}
	return nil
}

// UpsertCategory inserts or updates a category by name.
func (s *SQLStore) UpsertCategory(ctx context.Context, c Category) error {
	display := c.DisplayName
	if display == "" {
		display = CategoryDisplayName(c.Name)
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO target_categories (name, display_name, description, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET display_name = excluded.display_name, description = excluded.description`),
		c.Name, display, c.Description, s.timestamp())
	if err != nil {
		return fmt.Errorf("upserting category %s: %w", c.Name, err)
	}
	return nil
}

// UpsertProbe inserts or updates a probe by name. Marking a probe default
// clears the flag on every other probe.
func (s *SQLStore) UpsertProbe(ctx context.Context, p Probe) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if p.Step == 0 {
		p.Step = DefaultStep
	}
	if p.Pings == 0 {
		p.Pings = DefaultPings
	}
	var params any
	if len(p.Params) > 0 {
		b, err := json.Marshal(p.Params)
		if err != nil {
			return fmt.Errorf("encoding probe params: %w", err)
		}
		params = string(b)
	}
	var forks any
	if p.Forks > 0 {
		forks = p.Forks
	}
	if p.IsDefault {
		if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE probes SET is_default = ? WHERE name <> ?`), false, p.Name); err != nil {
			return fmt.Errorf("clearing default probe: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO probes (name, binary_path, step_seconds, pings, forks, is_default, params_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET binary_path = excluded.binary_path, step_seconds = excluded.step_seconds,
			pings = excluded.pings, forks = excluded.forks, is_default = excluded.is_default,
			params_json = excluded.params_json`),
		p.Name, p.Binary, p.Step, p.Pings, forks, p.IsDefault, params, s.timestamp())
	if err != nil {
		return fmt.Errorf("upserting probe %s: %w", p.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing probe: %w", err)
	}
	return nil
}

// UpsertSource inserts or updates a source by name.
func (s *SQLStore) UpsertSource(ctx context.Context, src Source) error {
	display := src.DisplayName
	if display == "" {
		display = CategoryDisplayName(src.Name)
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO sources (name, display_name, enabled, dynamic, max_targets) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET display_name = excluded.display_name, enabled = excluded.enabled,
			dynamic = excluded.dynamic, max_targets = excluded.max_targets`),
		src.Name, display, src.Enabled, src.Dynamic, src.MaxTargets)
	if err != nil {
		return fmt.Errorf("upserting source %s: %w", src.Name, err)
	}
	return nil
}
