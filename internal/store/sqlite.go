package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/Timotej979/Model-executor-runtime/pkg/descriptor"
)

// SQLiteStore keeps the catalog in three tables: available_models holds the
// identity, conn_type_params and model_params hold the two parameter groups.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
	log  *zap.Logger
}

// OpenSQLite opens (creating if needed) the database at path and brings the
// schema up to date. ":memory:" gives a private in-memory catalog.
func OpenSQLite(ctx context.Context, path string, log *zap.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: in-memory databases are per connection and SQLite
	// serialises writers anyway.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: path, log: log.Named("store.sqlite")}
	if _, err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies pending schema migrations.
func (s *SQLiteStore) Migrate(ctx context.Context) (MigrationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return migrate(ctx, s.db, s.log)
}

// SchemaVersion returns the number of the last applied migration.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(num), 0) FROM migrations`).Scan(&v)
	return v, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) List(ctx context.Context) ([]*descriptor.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT uid, name, conn_type, created_at, last_updated FROM available_models ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	var ids []descriptor.Params
	for rows.Next() {
		var uid, name, connType, created, updated string
		if err := rows.Scan(&uid, &name, &connType, &created, &updated); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan model: %w", err)
		}
		ids = append(ids, descriptor.Params{
			descriptor.KeyUID:       uid,
			descriptor.KeyName:      name,
			descriptor.KeyConnType:  connType,
			descriptor.KeyCreatedAt: created,
			descriptor.KeyUpdatedAt: updated,
		})
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*descriptor.Descriptor, 0, len(ids))
	for _, id := range ids {
		d, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *SQLiteStore) Get(ctx context.Context, name string) (*descriptor.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(ctx, s.db, name)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteStore) get(ctx context.Context, q queryer, name string) (*descriptor.Descriptor, error) {
	var uid, connType, created, updated string
	err := q.QueryRowContext(ctx,
		`SELECT uid, conn_type, created_at, last_updated FROM available_models WHERE name = ?`, name).
		Scan(&uid, &connType, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("get model %s: %w", name, err)
	}
	return s.loadWith(ctx, q, descriptor.Params{
		descriptor.KeyUID:       uid,
		descriptor.KeyName:      name,
		descriptor.KeyConnType:  connType,
		descriptor.KeyCreatedAt: created,
		descriptor.KeyUpdatedAt: updated,
	})
}

func (s *SQLiteStore) load(ctx context.Context, id descriptor.Params) (*descriptor.Descriptor, error) {
	return s.loadWith(ctx, s.db, id)
}

func (s *SQLiteStore) loadWith(ctx context.Context, q queryer, id descriptor.Params) (*descriptor.Descriptor, error) {
	conn, err := readParams(ctx, q, "conn_type_params", id[descriptor.KeyUID])
	if err != nil {
		return nil, err
	}
	exec, err := readParams(ctx, q, "model_params", id[descriptor.KeyUID])
	if err != nil {
		return nil, err
	}
	return descriptor.FromMaps([]map[string]string{id, conn, exec})
}

func readParams(ctx context.Context, q queryer, table, uid string) (map[string]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT key, value FROM `+table+` WHERE uid = ?`, uid)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	defer rows.Close()
	m := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		m[k] = v
	}
	return m, rows.Err()
}

func (s *SQLiteStore) Put(ctx context.Context, d *descriptor.Descriptor) error {
	if err := checkName(d); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put model: begin: %w", err)
	}
	defer tx.Rollback()

	prev, err := s.get(ctx, tx, d.Identity.Name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if prev == nil && d.Identity.UID != "" {
		// Known UID under a new name: a rename.
		var oldName string
		err := tx.QueryRowContext(ctx, `SELECT name FROM available_models WHERE uid = ?`, d.Identity.UID).Scan(&oldName)
		switch {
		case err == nil:
			if prev, err = s.get(ctx, tx, oldName); err != nil {
				return err
			}
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("put model %s: %w", d.Identity.Name, err)
		}
	}
	c := stamp(d, prev, time.Now().UTC())
	id := c.Identity.Map()

	if prev != nil {
		if err := deleteParams(ctx, tx, prev.Identity.UID); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO available_models (uid, name, conn_type, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET name = excluded.name, conn_type = excluded.conn_type, last_updated = excluded.last_updated`,
		id[descriptor.KeyUID], id[descriptor.KeyName], id[descriptor.KeyConnType],
		id[descriptor.KeyCreatedAt], id[descriptor.KeyUpdatedAt]); err != nil {
		return fmt.Errorf("put model %s: %w", c.Identity.Name, err)
	}
	if err := writeParams(ctx, tx, "conn_type_params", c.Identity.UID, c.Connection); err != nil {
		return err
	}
	if err := writeParams(ctx, tx, "model_params", c.Identity.UID, c.Execution); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put model %s: commit: %w", c.Identity.Name, err)
	}
	s.log.Info("model stored", zap.String("name", c.Identity.Name), zap.String("uid", c.Identity.UID))
	return nil
}

func writeParams(ctx context.Context, tx *sql.Tx, table, uid string, p descriptor.Params) error {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `INSERT INTO `+table+` (uid, key, value) VALUES (?, ?, ?)`, uid, k, p[k]); err != nil {
			return fmt.Errorf("write %s.%s: %w", table, k, err)
		}
	}
	return nil
}

func deleteParams(ctx context.Context, tx *sql.Tx, uid string) error {
	for _, table := range []string{"conn_type_params", "model_params"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE uid = ?`, uid); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete model: begin: %w", err)
	}
	defer tx.Rollback()

	var uid string
	err = tx.QueryRowContext(ctx, `SELECT uid FROM available_models WHERE name = ?`, name).Scan(&uid)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("delete model %s: %w", name, err)
	}
	if err := deleteParams(ctx, tx, uid); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM available_models WHERE uid = ?`, uid); err != nil {
		return fmt.Errorf("delete model %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Info("model deleted", zap.String("name", name), zap.String("uid", uid))
	return nil
}
