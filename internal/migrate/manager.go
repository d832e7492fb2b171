// Package migrate applies the node's SQL schema and optional seed files and
// keeps a checksummed record of what ran.
package migrate

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

const (
	defaultMigrationsTable = "access_schema_migrations"
	defaultSeedsTable      = "access_schema_seeds"
)

// ErrChecksumMismatch means an applied file was edited after it ran.
var ErrChecksumMismatch = errors.New("migrate: checksum mismatch")

// Applied is one row of the bookkeeping table.
type Applied struct {
	Name      string
	Checksum  string
	AppliedAt time.Time
}

// Manager runs migrations and seeds read from a directory or an embedded
// file system.
type Manager struct {
	db              *sql.DB
	migrations      fs.FS
	seeds           fs.FS
	migrationsTable string
	seedsTable      string
	now             func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// WithMigrationsFS reads migrations from fsys instead of a directory.
func WithMigrationsFS(fsys fs.FS) Option {
	return func(m *Manager) {
		if fsys != nil {
			m.migrations = fsys
		}
	}
}

// WithSeedsFS reads seeds from fsys instead of a directory.
func WithSeedsFS(fsys fs.FS) Option {
	return func(m *Manager) {
		if fsys != nil {
			m.seeds = fsys
		}
	}
}

// NewManager constructs a Manager. An empty directory disables that kind of
// file unless a file system option supplies one.
func NewManager(db *sql.DB, migrationsDir, seedsDir string, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		migrations:      dirFS(migrationsDir),
		seeds:           dirFS(seedsDir),
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func dirFS(dir string) fs.FS {
	if dir == "" {
		return nil
	}
	return os.DirFS(dir)
}

// Up applies pending migrations in name order. It refuses to run when an
// already applied file no longer matches its recorded checksum.
func (m *Manager) Up(ctx context.Context) error {
	return m.apply(ctx, m.migrations, ".up.sql", m.migrationsTable)
}

// Seed applies pending seed files. Seeds follow the same checksum rule.
func (m *Manager) Seed(ctx context.Context) error {
	return m.apply(ctx, m.seeds, ".sql", m.seedsTable)
}

func (m *Manager) apply(ctx context.Context, fsys fs.FS, suffix, table string) error {
	if err := m.ensureTables(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx, table)
	if err != nil {
		return err
	}
	files, err := loadSQL(fsys, suffix)
	if err != nil {
		return err
	}
	done := make(map[string]string, len(applied))
	for _, a := range applied {
		done[a.Name] = a.Checksum
	}
	for _, f := range files {
		if sum, ok := done[f.name]; ok {
			if sum != "" && sum != f.checksum {
				return fmt.Errorf("%w: %s", ErrChecksumMismatch, f.name)
			}
			continue
		}
		err := m.inTx(ctx, f.body, fmt.Sprintf(`insert into %s (name, checksum, applied_at) values ($1, $2, $3)`, table),
			f.name, f.checksum, m.now())
		if err != nil {
			return fmt.Errorf("apply %s: %w", f.name, err)
		}
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	if err := m.ensureTables(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx, m.migrationsTable)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return errors.New("no migrations applied")
	}
	last := applied[len(applied)-1].Name
	if m.migrations == nil {
		return fmt.Errorf("missing down migration for %s", last)
	}
	body, err := fs.ReadFile(m.migrations, strings.TrimSuffix(last, ".up.sql")+".down.sql")
	if err != nil {
		return fmt.Errorf("missing down migration for %s", last)
	}
	if err := m.inTx(ctx, string(body), fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable), last); err != nil {
		return fmt.Errorf("rollback %s: %w", last, err)
	}
	return nil
}

// Status lists applied migrations, oldest first.
func (m *Manager) Status(ctx context.Context) ([]Applied, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	return m.applied(ctx, m.migrationsTable)
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.migrationsTable, m.seedsTable} {
		ddl := fmt.Sprintf(`create table if not exists %s (
			name text primary key,
			checksum text not null default '',
			applied_at timestamptz not null default now()
		)`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure %s: %w", table, err)
		}
	}
	return nil
}

// inTx runs the statements of body and the bookkeeping statement in one
// transaction.
func (m *Manager) inTx(ctx context.Context, body, record string, args ...any) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(body) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) applied(ctx context.Context, table string) ([]Applied, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name, checksum, applied_at from %s order by applied_at, name`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Applied
	for rows.Next() {
		var a Applied
		if err := rows.Scan(&a.Name, &a.Checksum, &a.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type sqlFile struct {
	name     string
	body     string
	checksum string
}

func loadSQL(fsys fs.FS, suffix string) ([]sqlFile, error) {
	if fsys == nil {
		return nil, nil
	}
	var files []sqlFile
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, suffix) {
			return nil
		}
		if suffix == ".sql" && strings.HasSuffix(p, ".down.sql") {
			return nil
		}
		body, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		sum := blake2b.Sum256(body)
		files = append(files, sqlFile{name: path.Base(p), body: string(body), checksum: hex.EncodeToString(sum[:])})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}

// splitStatements cuts SQL at semicolons outside quotes and line comments.
// Empty statements are dropped.
func splitStatements(src string) []string {
	var (
		out     []string
		cur     strings.Builder
		quoted  bool
		comment bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for i := 0; i < len(src); i++ {
		ch := src[i]
		switch {
		case comment:
			if ch == '\n' {
				comment = false
				cur.WriteByte(ch)
			}
		case ch == '\'':
			quoted = !quoted
			cur.WriteByte(ch)
		case !quoted && ch == '-' && i+1 < len(src) && src[i+1] == '-':
			comment = true
			i++
		case !quoted && ch == ';':
			flush()
		default:
			cur.WriteByte(ch)
		}
	}
	flush()
	return out
}
