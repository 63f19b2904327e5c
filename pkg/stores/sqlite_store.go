package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements IndexedStorage and BlobStorage on a single SQLite
// database.
type SQLiteStore struct {
	db  *sql.DB
	cfg SQLiteConfig
}

// SQLiteConfig holds SQLite store configuration.
type SQLiteConfig struct {
	Path            string        `yaml:"path" env:"PATH"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// NewSQLiteStore creates a new SQLite store instance. Call Init and Migrate
// before use.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 16
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 4
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens a distinct database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Migrate applies the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return ErrNotInitialized
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// HealthCheck verifies the database is reachable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	return s.db.PingContext(ctx)
}

// NumberOfReplicas always reports a single copy.
func (s *SQLiteStore) NumberOfReplicas(context.Context) (uint8, error) {
	return 1, nil
}

// WaitForReplicas returns immediately; a committed SQLite write is durable.
func (s *SQLiteStore) WaitForReplicas(_ context.Context, replicas uint8, _ time.Duration) (uint8, error) {
	return min(replicas, 1), nil
}

func (s *SQLiteStore) Exists(ctx context.Context, ns Namespace, key string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM index_storage WHERE namespace = ? AND key = ?)`,
		ns.String(), key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check key existence: %w", err)
	}
	return exists, nil
}

func (s *SQLiteStore) Scan(ctx context.Context, ns Namespace, pattern string, cursor uint64, count uint64) (uint64, []string, error) {
	prefix, exact, err := scanPrefix(pattern)
	if err != nil {
		return 0, nil, err
	}
	if count == 0 {
		count = 10
	}
	if cursor > math.MaxInt64 || count > math.MaxInt64-1 {
		return 0, nil, fmt.Errorf("scan cursor out of range")
	}

	var rows *sql.Rows
	if exact {
		rows, err = s.db.QueryContext(ctx,
			`SELECT DISTINCT key FROM index_storage WHERE namespace = ? AND key = ? ORDER BY key LIMIT ? OFFSET ?`,
			ns.String(), prefix, int64(count)+1, int64(cursor))
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT DISTINCT key FROM index_storage WHERE namespace = ? AND key LIKE ? ESCAPE '\' ORDER BY key LIMIT ? OFFSET ?`,
			ns.String(), escapeLike(prefix)+"%", int64(count)+1, int64(cursor))
	}
	if err != nil {
		return 0, nil, fmt.Errorf("failed to scan keys: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0, count)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return 0, nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("failed to iterate keys: %w", err)
	}

	if uint64(len(keys)) > count {
		return cursor + count, keys[:count], nil
	}
	return 0, keys, nil
}

func (s *SQLiteStore) Append(ctx context.Context, ns Namespace, key string, id uint64, value []byte) error {
	if id == 0 {
		return ErrInvalidID
	}
	sqlID, err := toSQLID(id)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(id) FROM index_storage WHERE namespace = ? AND key = ?`,
		ns.String(), key).Scan(&last); err != nil {
		return fmt.Errorf("failed to read last id: %w", err)
	}
	if last.Valid && last.Int64 >= sqlID {
		return fmt.Errorf("%w: %d under %s (last is %d)", ErrDuplicateID, id, compositeKey(ns, key), last.Int64)
	}

	if value == nil {
		value = []byte{}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO index_storage (namespace, key, id, value) VALUES (?, ?, ?, ?)`,
		ns.String(), key, sqlID, value); err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit append: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Length(ctx context.Context, ns Namespace, key string) (uint64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM index_storage WHERE namespace = ? AND key = ?`,
		ns.String(), key).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return uint64(n), nil
}

func (s *SQLiteStore) Delete(ctx context.Context, ns Namespace, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM index_storage WHERE namespace = ? AND key = ?`,
		ns.String(), key); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Read(ctx context.Context, ns Namespace, key string, startID, endID uint64) ([]Record, error) {
	if startID > math.MaxInt64 || startID > endID {
		return []Record{}, nil
	}
	endID = min(endID, math.MaxInt64)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, value FROM index_storage WHERE namespace = ? AND key = ? AND id BETWEEN ? AND ? ORDER BY id ASC`,
		ns.String(), key, int64(startID), int64(endID))
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) First(ctx context.Context, ns Namespace, key string) (Record, bool, error) {
	return s.queryOne(ctx,
		`SELECT id, value FROM index_storage WHERE namespace = ? AND key = ? ORDER BY id ASC LIMIT 1`,
		ns.String(), key)
}

func (s *SQLiteStore) Last(ctx context.Context, ns Namespace, key string) (Record, bool, error) {
	return s.queryOne(ctx,
		`SELECT id, value FROM index_storage WHERE namespace = ? AND key = ? ORDER BY id DESC LIMIT 1`,
		ns.String(), key)
}

func (s *SQLiteStore) Closest(ctx context.Context, ns Namespace, key string, id uint64) (Record, bool, error) {
	if id > math.MaxInt64 {
		return Record{}, false, nil
	}
	return s.queryOne(ctx,
		`SELECT id, value FROM index_storage WHERE namespace = ? AND key = ? AND id >= ? ORDER BY id ASC LIMIT 1`,
		ns.String(), key, int64(id))
}

func (s *SQLiteStore) DropPrefix(ctx context.Context, ns Namespace, key string, lastDroppedID uint64) error {
	lastDroppedID = min(lastDroppedID, math.MaxInt64)
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM index_storage WHERE namespace = ? AND key = ? AND id <= ?`,
		ns.String(), key, int64(lastDroppedID)); err != nil {
		return fmt.Errorf("failed to drop prefix: %w", err)
	}
	return nil
}

// PutBlob stores data at path, replacing any existing blob.
func (s *SQLiteStore) PutBlob(ctx context.Context, path string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO blob_storage (path, value) VALUES (?, ?)
		 ON CONFLICT(path) DO UPDATE SET value = excluded.value`,
		path, data); err != nil {
		return fmt.Errorf("failed to put blob: %w", err)
	}
	return nil
}

// GetBlob returns the blob stored at path.
func (s *SQLiteStore) GetBlob(ctx context.Context, path string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM blob_storage WHERE path = ?`, path).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get blob: %w", err)
	}
	return data, true, nil
}

// DeleteBlob removes the blob at path.
func (s *SQLiteStore) DeleteBlob(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blob_storage WHERE path = ?`, path); err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

func (s *SQLiteStore) queryOne(ctx context.Context, query string, args ...any) (Record, bool, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to query record: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Record{}, false, fmt.Errorf("failed to query record: %w", err)
		}
		return Record{}, false, nil
	}
	r, err := scanRecord(rows)
	if err != nil {
		return Record{}, false, err
	}
	return r, true, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		id    int64
		value []byte
	)
	if err := rows.Scan(&id, &value); err != nil {
		return Record{}, fmt.Errorf("failed to scan record: %w", err)
	}
	if value == nil {
		value = []byte{}
	}
	return Record{ID: uint64(id), Value: value}, nil
}

func toSQLID(id uint64) (int64, error) {
	if id > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d exceeds the SQLite integer range", ErrInvalidID, id)
	}
	return int64(id), nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
