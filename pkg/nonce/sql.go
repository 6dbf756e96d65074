package nonce

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/platinummonkey/idsite/pkg/observability"
)

// Dialect selects the SQL flavour spoken by SQLStore.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

type queries struct {
	create []string
	put    string
	has    string
	purge  string
}

// The upsert only rewrites a row whose entry has expired, so the affected row
// count is 1 exactly when the caller now owns the nonce.
var dialectQueries = map[Dialect]queries{
	DialectPostgres: {
		create: []string{
			`CREATE TABLE IF NOT EXISTS idsite_nonces (
				nonce TEXT PRIMARY KEY,
				expires_at BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_idsite_nonces_expires_at ON idsite_nonces (expires_at)`,
		},
		put: `INSERT INTO idsite_nonces (nonce, expires_at) VALUES ($1, $2)
			ON CONFLICT (nonce) DO UPDATE SET expires_at = EXCLUDED.expires_at
			WHERE idsite_nonces.expires_at <= $3`,
		has:   `SELECT 1 FROM idsite_nonces WHERE nonce = $1 AND expires_at > $2`,
		purge: `DELETE FROM idsite_nonces WHERE expires_at <= $1`,
	},
	DialectSQLite: {
		create: []string{
			`CREATE TABLE IF NOT EXISTS idsite_nonces (
				nonce TEXT PRIMARY KEY,
				expires_at INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_idsite_nonces_expires_at ON idsite_nonces (expires_at)`,
		},
		put: `INSERT INTO idsite_nonces (nonce, expires_at) VALUES (?, ?)
			ON CONFLICT (nonce) DO UPDATE SET expires_at = excluded.expires_at
			WHERE idsite_nonces.expires_at <= ?`,
		has:   `SELECT 1 FROM idsite_nonces WHERE nonce = ? AND expires_at > ?`,
		purge: `DELETE FROM idsite_nonces WHERE expires_at <= ?`,
	},
}

// OpenDB opens and pings a database for the given dialect.
func OpenDB(ctx context.Context, dialect Dialect, dsn string) (*sql.DB, error) {
	if _, ok := dialectQueries[dialect]; !ok {
		return nil, fmt.Errorf("unsupported SQL dialect %q", dialect)
	}
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// One connection keeps :memory: databases shared and serializes writers.
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", dialect, err)
	}
	return db, nil
}

// SQLStore records nonces in the idsite_nonces table. Expiry is stored as unix
// seconds; expired rows are ignored by reads and reclaimed by Purge.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	q       queries
	ttl     time.Duration
	now     func() time.Time
	metrics *observability.Metrics
}

// NewSQLStore creates a store on db. Call Migrate before first use.
func NewSQLStore(db *sql.DB, dialect Dialect, ttl time.Duration, metrics *observability.Metrics) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	q, ok := dialectQueries[dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported SQL dialect %q", dialect)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("sql nonce store TTL must be positive, got %s", ttl)
	}
	return &SQLStore{
		db:      db,
		dialect: dialect,
		q:       q,
		ttl:     ttl,
		now:     time.Now,
		metrics: metrics,
	}, nil
}

func (s *SQLStore) backend() string {
	return string(s.dialect)
}

// Migrate creates the nonce table and its expiry index if missing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.q.create {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate nonce table: %w", err)
		}
	}
	return nil
}

// Has reports whether a live entry exists for nonce.
func (s *SQLStore) Has(ctx context.Context, nonce string) (bool, error) {
	start := time.Now()
	var one int
	err := s.db.QueryRowContext(ctx, s.q.has, nonce, s.now().Unix()).Scan(&one)
	if err == sql.ErrNoRows {
		s.metrics.ObserveNonceOperation(s.backend(), "has", "miss", start)
		return false, nil
	}
	if err != nil {
		s.metrics.ObserveNonceOperation(s.backend(), "has", "error", start)
		return false, fmt.Errorf("failed to query nonce: %w", err)
	}
	s.metrics.ObserveNonceOperation(s.backend(), "has", "hit", start)
	return true, nil
}

// PutIfAbsent records nonce unless a live entry exists, in a single statement.
func (s *SQLStore) PutIfAbsent(ctx context.Context, nonce string) (bool, error) {
	start := time.Now()
	now := s.now()
	res, err := s.db.ExecContext(ctx, s.q.put, nonce, now.Add(s.ttl).Unix(), now.Unix())
	if err != nil {
		s.metrics.ObserveNonceOperation(s.backend(), "put", "error", start)
		return false, fmt.Errorf("failed to insert nonce: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		s.metrics.ObserveNonceOperation(s.backend(), "put", "error", start)
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	s.metrics.ObserveNonceOperation(s.backend(), "put", putResult(n > 0), start)
	return n > 0, nil
}

// Purge deletes expired rows and returns how many were removed.
func (s *SQLStore) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q.purge, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge nonces: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if s.metrics != nil && n > 0 {
		s.metrics.NoncesPurgedTotal.WithLabelValues(s.backend()).Add(float64(n))
	}
	return n, nil
}
