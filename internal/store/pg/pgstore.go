// Package pg is the PostgreSQL state backend: committed key-value state in
// chain_state and the event log in chain_events.
package pg

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"arkavo.org/accesscore/internal/state"
)

const pgErrUniqueViolation = "23505"

// ErrDuplicateEvent is returned when a batch carries an already logged sequence.
var ErrDuplicateEvent = errors.New("pg: duplicate event sequence")

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations returns the schema files, rooted at the migrations directory.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

type Store struct {
	db *sql.DB
}

var _ state.Backend = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `select value from chain_state where key=$1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Apply commits one transaction's writes and events in a serializable
// database transaction.
func (s *Store) Apply(ctx context.Context, b state.Batch) error {
	if len(b.Writes) == 0 && len(b.Log) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, w := range b.Writes {
		if w.Delete {
			if _, err := tx.ExecContext(ctx, `delete from chain_state where key=$1`, w.Key); err != nil {
				return err
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			insert into chain_state(key, value) values ($1,$2)
			on conflict (key) do update set value = excluded.value
		`, w.Key, w.Value); err != nil {
			return err
		}
	}
	for _, e := range b.Log {
		if e.Seq > math.MaxInt64 || e.Block > math.MaxInt64 {
			return fmt.Errorf("pg: event %d out of range", e.Seq)
		}
		if _, err := tx.ExecContext(ctx, `
			insert into chain_events(seq, tx_id, block, module, name, data)
			values ($1,$2,$3,$4,$5,$6)
		`, int64(e.Seq), e.TxID, int64(e.Block), e.Module, e.Name, e.Data); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return fmt.Errorf("%w: %d", ErrDuplicateEvent, e.Seq)
			}
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Log(ctx context.Context, after uint64, limit int) ([]state.LogEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if after > math.MaxInt64 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		select seq, tx_id, block, module, name, data
		from chain_events
		where seq > $1
		order by seq asc
		limit $2
	`, int64(after), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []state.LogEntry
	for rows.Next() {
		var (
			e          state.LogEntry
			seq, block int64
		)
		if err := rows.Scan(&seq, &e.TxID, &block, &e.Module, &e.Name, &e.Data); err != nil {
			return nil, err
		}
		e.Seq, e.Block = uint64(seq), uint64(block)
		out = append(out, e)
	}
	return out, rows.Err()
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
