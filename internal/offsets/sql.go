package offsets

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

type dialect struct {
	createTable string
	upsert      string
	selectOne   string
	selectAll   string
}

const createTableSQL = `
	CREATE TABLE IF NOT EXISTS telegram_offsets (
		account_id TEXT PRIMARY KEY,
		last_update_id BIGINT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`

var dialects = map[string]dialect{
	"sqlite": sqliteDialect,
	// mattn/go-sqlite3 registers as sqlite3 and speaks the same SQL.
	"sqlite3": sqliteDialect,
	"postgres": {
		createTable: createTableSQL,
		upsert: `
			INSERT INTO telegram_offsets (account_id, last_update_id, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (account_id) DO UPDATE SET
				last_update_id = GREATEST(telegram_offsets.last_update_id, EXCLUDED.last_update_id),
				updated_at = EXCLUDED.updated_at`,
		selectOne: `SELECT last_update_id FROM telegram_offsets WHERE account_id = $1`,
		selectAll: `SELECT account_id, last_update_id, updated_at FROM telegram_offsets ORDER BY account_id`,
	},
}

var sqliteDialect = dialect{
	createTable: createTableSQL,
	upsert: `
		INSERT INTO telegram_offsets (account_id, last_update_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET
			last_update_id = MAX(telegram_offsets.last_update_id, excluded.last_update_id),
			updated_at = excluded.updated_at`,
	selectOne: `SELECT last_update_id FROM telegram_offsets WHERE account_id = ?`,
	selectAll: `SELECT account_id, last_update_id, updated_at FROM telegram_offsets ORDER BY account_id`,
}

// SQLBackend stores offsets in a telegram_offsets table.
type SQLBackend struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

// OpenSQL opens a database with driver ("sqlite", "sqlite3" or "postgres"),
// verifies the connection and creates the table if needed.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLBackend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if _, ok := dialects[driver]; !ok {
		return nil, fmt.Errorf("unsupported offsets driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver != "postgres" {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	b, err := NewSQLBackend(db, driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := b.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// NewSQLBackend wraps an open database using the named dialect.
func NewSQLBackend(db *sql.DB, driver string) (*SQLBackend, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported offsets driver %q", driver)
	}
	return &SQLBackend{db: db, dialect: d, now: time.Now}, nil
}

// Migrate creates the offsets table.
func (b *SQLBackend) Migrate(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, b.dialect.createTable); err != nil {
		return fmt.Errorf("create offsets table: %w", err)
	}
	return nil
}

func (b *SQLBackend) Load(ctx context.Context, accountID string) (int64, bool, error) {
	var id int64
	err := b.db.QueryRowContext(ctx, b.dialect.selectOne, accountID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load offset: %w", err)
	}
	return id, true, nil
}

func (b *SQLBackend) Save(ctx context.Context, accountID string, updateID int64) error {
	if _, err := b.db.ExecContext(ctx, b.dialect.upsert, accountID, updateID, b.now().UTC()); err != nil {
		return fmt.Errorf("save offset: %w", err)
	}
	return nil
}

func (b *SQLBackend) List(ctx context.Context) ([]Record, error) {
	rows, err := b.db.QueryContext(ctx, b.dialect.selectAll)
	if err != nil {
		return nil, fmt.Errorf("list offsets: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.AccountID, &rec.LastUpdateID, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan offset: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (b *SQLBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
