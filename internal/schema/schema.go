package schema

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// CurrentVersion is the current schema version.
const CurrentVersion = 2

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// OpenDB opens the SQLite database at path with foreign keys, WAL, and a
// busy timeout applied to every pooled connection.
func OpenDB(path string) (*sql.DB, error) {
	dsn := path
	if path != MemoryPath {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		dsn = path + sep + "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if path == MemoryPath {
		// Every new connection to :memory: is a fresh empty database.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// InitDB initializes a new database with the current schema.
func InitDB(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := createVersionTable(tx); err != nil {
		return fmt.Errorf("create version table: %w", err)
	}
	if err := createTables(tx); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	if err := createIndexes(tx); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	if err := setSchemaVersion(tx, CurrentVersion); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the current schema version from the database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return version, nil
}

func createVersionTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL,
			applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func setSchemaVersion(tx *sql.Tx, version int) error {
	_, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

func createTables(tx *sql.Tx) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			user_id       TEXT PRIMARY KEY,
			first_name    TEXT NOT NULL DEFAULT '',
			last_name     TEXT NOT NULL DEFAULT '',
			email         TEXT NOT NULL DEFAULT '',
			profile_image TEXT NOT NULL DEFAULT ''
		)`,

		// sent_at is RFC3339Nano UTC so lexical order is time order; message_id
		// (ULID) breaks ties.
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			from_id    TEXT NOT NULL,
			to_id      TEXT NOT NULL,
			to_name    TEXT NOT NULL DEFAULT '',
			body       TEXT NOT NULL,
			sent_at    TEXT NOT NULL,
			updated_at TEXT,
			withdrawn  INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS notifications (
			notification_id TEXT PRIMARY KEY,
			from_id         TEXT NOT NULL,
			to_id           TEXT NOT NULL,
			action_id       TEXT NOT NULL,
			message         TEXT NOT NULL,
			sender_image    TEXT NOT NULL DEFAULT '',
			sender_name     TEXT NOT NULL DEFAULT '',
			location        TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL
		)`,
	}

	for _, stmt := range tables {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func createIndexes(tx *sql.Tx) error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(from_id, to_id, sent_at)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_to ON notifications(to_id, created_at)`,
	}
	for _, stmt := range indexes {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Migrate migrates the database to the current schema version.
func Migrate(db *sql.DB) error {
	var tableName string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err == sql.ErrNoRows {
		return InitDB(db)
	}
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	switch {
	case currentVersion == 0:
		return InitDB(db)
	case currentVersion == CurrentVersion:
		return nil
	case currentVersion > CurrentVersion:
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, CurrentVersion)
	}

	if err := runMigrations(db, currentVersion, CurrentVersion); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// runMigrations runs all migrations from startVersion to endVersion.
func runMigrations(db *sql.DB, startVersion, endVersion int) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Migration from version 1 to 2: store the recipient display name and
	// edit time on messages.
	if startVersion < 2 && endVersion >= 2 {
		if _, err := tx.Exec(`ALTER TABLE messages ADD COLUMN to_name TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("add to_name column: %w", err)
		}
		if _, err := tx.Exec(`ALTER TABLE messages ADD COLUMN updated_at TEXT`); err != nil {
			return fmt.Errorf("add updated_at column: %w", err)
		}
	}

	if err := setSchemaVersion(tx, endVersion); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}
