package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

// TimeLayout is the text form of every timestamp column. It is fixed width in
// UTC, so string order equals chronological order.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

const (
	defaultSessionTTL = 24 * time.Hour
	dateLayout        = "2006-01-02"
)

// Database provides high-level helpers around a SQLite connection.
type Database struct {
	db *sqlx.DB

	now        func() time.Time
	sessionTTL time.Duration
	bcryptCost int

	getUserStmt    *sql.Stmt
	getSessionStmt *sql.Stmt
}

// Option configures a Database.
type Option func(*Database) error

// WithClock replaces the wall clock used for every stored timestamp.
func WithClock(now func() time.Time) Option {
	return func(d *Database) error {
		if now == nil {
			return errors.New("clock must not be nil")
		}
		d.now = now
		return nil
	}
}

// WithSessionTTL sets how long a session stays valid without activity.
func WithSessionTTL(ttl time.Duration) Option {
	return func(d *Database) error {
		if ttl <= 0 {
			return fmt.Errorf("session ttl must be positive, got %s", ttl)
		}
		d.sessionTTL = ttl
		return nil
	}
}

// WithBcryptCost sets the cost used for new password digests.
func WithBcryptCost(cost int) Option {
	return func(d *Database) error {
		if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
			return fmt.Errorf("bcrypt cost %d out of range", cost)
		}
		d.bcryptCost = cost
		return nil
	}
}

// NewDatabase opens (or creates) the SQLite database at dbPath, applies schema
// migrations, and prepares common statements.
func NewDatabase(dbPath string, opts ...Option) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// Writers take the lock at BEGIN so check-then-insert cannot interleave.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", dbPath)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db.DB); err != nil {
		db.Close()
		return nil, err
	}

	database, err := newDatabase(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return database, nil
}

func newDatabase(db *sqlx.DB, opts ...Option) (*Database, error) {
	d := &Database{
		db:         db,
		now:        time.Now,
		sessionTTL: defaultSessionTTL,
		bcryptCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if err := d.prepareStatements(); err != nil {
		return nil, err
	}
	return d, nil
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	if d.getUserStmt != nil {
		d.getUserStmt.Close()
	}
	if d.getSessionStmt != nil {
		d.getSessionStmt.Close()
	}
	return d.db.Close()
}

// SchemaVersion reports the migration level of the open database.
func (d *Database) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := d.db.GetContext(ctx, &v, `SELECT CAST(value AS INTEGER) FROM meta WHERE key='schema_version'`); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

func (d *Database) timestamp() string {
	return d.now().UTC().Format(TimeLayout)
}

// withTx runs fn inside one transaction and commits when fn succeeds.
func (d *Database) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

type migration struct {
	version int
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS users (
                id INTEGER PRIMARY KEY AUTOINCREMENT,
                name TEXT NOT NULL,
                email TEXT NOT NULL UNIQUE,
                password_hash TEXT NOT NULL,
                role TEXT NOT NULL DEFAULT 'user',
                is_active INTEGER NOT NULL DEFAULT 1,
                created_at TEXT NOT NULL,
                updated_at TEXT NOT NULL
            );`,
			`CREATE TABLE IF NOT EXISTS books (
                id INTEGER PRIMARY KEY AUTOINCREMENT,
                title TEXT NOT NULL,
                author TEXT NOT NULL,
                year INTEGER,
                language TEXT,
                available INTEGER NOT NULL DEFAULT 1,
                created_at TEXT NOT NULL
            );`,
			// book_id has no foreign key: history outlives deleted books.
			`CREATE TABLE IF NOT EXISTS checkout_history (
                id INTEGER PRIMARY KEY AUTOINCREMENT,
                user_id INTEGER NOT NULL REFERENCES users(id),
                book_id INTEGER NOT NULL,
                checkout_date TEXT NOT NULL,
                return_date TEXT
            );`,
			`CREATE INDEX IF NOT EXISTS idx_history_user ON checkout_history(user_id, checkout_date);`,
			`CREATE INDEX IF NOT EXISTS idx_history_book ON checkout_history(book_id, checkout_date);`,
			`CREATE UNIQUE INDEX IF NOT EXISTS ux_history_open_book
                ON checkout_history(book_id) WHERE return_date IS NULL;`,
		},
	},
	{
		version: 2,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS sessions (
                id TEXT PRIMARY KEY,
                user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
                role TEXT NOT NULL,
                expires_at TEXT NOT NULL,
                created_at TEXT NOT NULL
            );`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);`,
			`CREATE TABLE IF NOT EXISTS audit_log (
                id INTEGER PRIMARY KEY AUTOINCREMENT,
                user_id INTEGER,
                action TEXT NOT NULL,
                entity_type TEXT NOT NULL,
                entity_id INTEGER,
                details TEXT NOT NULL DEFAULT '',
                ip TEXT NOT NULL DEFAULT '',
                created_at TEXT NOT NULL
            );`,
			`CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at);`,
		},
	},
}

func applyMigrations(db *sql.DB) error {
	// WAL lets readers proceed while a checkout holds the write lock.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	err := db.QueryRow(`SELECT CAST(value AS INTEGER) FROM meta WHERE key='schema_version';`).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
	}
	return nil
}

func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)
        ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, m.version); err != nil {
		return err
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

// Both lookups run on every authenticated request.
const (
	selectUserByIDSQL = `SELECT id,name,email,password_hash,role,is_active,created_at,updated_at FROM users WHERE id=?`
	selectSessionSQL  = `SELECT id,user_id,role,expires_at,created_at FROM sessions WHERE id=?`
)

func (d *Database) prepareStatements() error {
	var err error
	if d.getUserStmt, err = d.db.Prepare(selectUserByIDSQL); err != nil {
		return err
	}
	if d.getSessionStmt, err = d.db.Prepare(selectSessionSQL); err != nil {
		return err
	}
	return nil
}
