package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// Store wraps a SQLite database for durable bridge state.
// Thread-safe for concurrent use from multiple goroutines within one process.
// Multiple OS processes can safely read/write via WAL mode + busy timeout.
type Store struct {
	db *sql.DB
}

// SessionRow is a durable session record. The live tmux session has an
// independent lifecycle; a row may outlive its pane and vice versa.
type SessionRow struct {
	OwnerID    int64
	Name       string
	WorkDir    string
	Running    bool
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// PinRow is one pinned snippet, numbered per owner.
type PinRow struct {
	OwnerID int64
	Seq     int
	Text    string
}

// AliasRow maps a short name to a saved command for one owner.
type AliasRow struct {
	OwnerID int64
	Name    string
	Command string
}

// UsageRow counts how often an owner used a verb.
type UsageRow struct {
	OwnerID    int64
	Verb       string
	Count      int
	LastUsedAt time.Time
}

// Open creates or opens a SQLite database at dbPath with WAL mode and busy timeout.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("store: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	// WAL mode: allows concurrent readers while writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: wal mode: %w", err)
	}

	// Busy timeout: wait up to 5s if another process holds a lock
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: foreign keys: %w", err)
	}

	return &Store{db: db}, nil
}

// Close checkpoints WAL and closes the database.
func (s *Store) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// DB returns the underlying sql.DB for advanced use cases (e.g., testing).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates tables if they don't exist and runs any pending migrations.
func (s *Store) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("store: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			owner_id     INTEGER NOT NULL,
			name         TEXT NOT NULL,
			work_dir     TEXT NOT NULL DEFAULT '',
			running      INTEGER NOT NULL DEFAULT 0,
			created_at   INTEGER NOT NULL,
			last_used_at INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (owner_id, name)
		)
	`); err != nil {
		return fmt.Errorf("store: create sessions: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS pins (
			owner_id INTEGER NOT NULL,
			seq      INTEGER NOT NULL,
			text     TEXT NOT NULL,
			PRIMARY KEY (owner_id, seq)
		)
	`); err != nil {
		return fmt.Errorf("store: create pins: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS aliases (
			owner_id INTEGER NOT NULL,
			name     TEXT NOT NULL,
			command  TEXT NOT NULL,
			PRIMARY KEY (owner_id, name)
		)
	`); err != nil {
		return fmt.Errorf("store: create aliases: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS usage (
			owner_id     INTEGER NOT NULL,
			verb         TEXT NOT NULL,
			count        INTEGER NOT NULL DEFAULT 0,
			last_used_at INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (owner_id, verb)
		)
	`); err != nil {
		return fmt.Errorf("store: create usage: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("store: set schema version: %w", err)
	}

	return tx.Commit()
}

// --- Session CRUD ---

// UpsertSession inserts or replaces a session row.
func (s *Store) UpsertSession(row *SessionRow) error {
	running := 0
	if row.Running {
		running = 1
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sessions (
			owner_id, name, work_dir, running, created_at, last_used_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`,
		row.OwnerID, row.Name, row.WorkDir, running,
		row.CreatedAt.Unix(), row.LastUsedAt.Unix(),
	)
	return err
}

// GetSession returns one session row, or nil when the owner has no session
// with that name.
func (s *Store) GetSession(ownerID int64, name string) (*SessionRow, error) {
	row := &SessionRow{}
	var running int
	var createdUnix, usedUnix int64
	err := s.db.QueryRow(`
		SELECT owner_id, name, work_dir, running, created_at, last_used_at
		FROM sessions WHERE owner_id = ? AND name = ?
	`, ownerID, name).Scan(
		&row.OwnerID, &row.Name, &row.WorkDir, &running, &createdUnix, &usedUnix,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	row.Running = running != 0
	row.CreatedAt = time.Unix(createdUnix, 0)
	if usedUnix > 0 {
		row.LastUsedAt = time.Unix(usedUnix, 0)
	}
	return row, nil
}

// ListSessions returns all sessions for an owner, most recently used first.
func (s *Store) ListSessions(ownerID int64) ([]*SessionRow, error) {
	rows, err := s.db.Query(`
		SELECT owner_id, name, work_dir, running, created_at, last_used_at
		FROM sessions WHERE owner_id = ?
		ORDER BY last_used_at DESC, name
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*SessionRow
	for rows.Next() {
		r := &SessionRow{}
		var running int
		var createdUnix, usedUnix int64
		if err := rows.Scan(
			&r.OwnerID, &r.Name, &r.WorkDir, &running, &createdUnix, &usedUnix,
		); err != nil {
			return nil, err
		}
		r.Running = running != 0
		r.CreatedAt = time.Unix(createdUnix, 0)
		if usedUnix > 0 {
			r.LastUsedAt = time.Unix(usedUnix, 0)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// TouchSession updates last_used_at for a session.
func (s *Store) TouchSession(ownerID int64, name string, at time.Time) error {
	_, err := s.db.Exec(
		"UPDATE sessions SET last_used_at = ? WHERE owner_id = ? AND name = ?",
		at.Unix(), ownerID, name,
	)
	return err
}

// SetSessionRunning flips the running flag for a session.
func (s *Store) SetSessionRunning(ownerID int64, name string, running bool) error {
	v := 0
	if running {
		v = 1
	}
	_, err := s.db.Exec(
		"UPDATE sessions SET running = ? WHERE owner_id = ? AND name = ?",
		v, ownerID, name,
	)
	return err
}

// SetSessionWorkDir records the session's current working directory.
func (s *Store) SetSessionWorkDir(ownerID int64, name, dir string) error {
	_, err := s.db.Exec(
		"UPDATE sessions SET work_dir = ? WHERE owner_id = ? AND name = ?",
		dir, ownerID, name,
	)
	return err
}

// RenameSession changes a session's name for one owner.
func (s *Store) RenameSession(ownerID int64, oldName, newName string) error {
	_, err := s.db.Exec(
		"UPDATE sessions SET name = ? WHERE owner_id = ? AND name = ?",
		newName, ownerID, oldName,
	)
	return err
}

// DeleteSession removes a session row.
func (s *Store) DeleteSession(ownerID int64, name string) error {
	_, err := s.db.Exec(
		"DELETE FROM sessions WHERE owner_id = ? AND name = ?",
		ownerID, name,
	)
	return err
}

// --- Pins ---

// AddPin appends a snippet to the owner's pin list and returns its number.
func (s *Store) AddPin(ownerID int64, text string) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	if err := tx.QueryRow(
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM pins WHERE owner_id = ?",
		ownerID,
	).Scan(&next); err != nil {
		return 0, err
	}

	if _, err := tx.Exec(
		"INSERT INTO pins (owner_id, seq, text) VALUES (?, ?, ?)",
		ownerID, next, text,
	); err != nil {
		return 0, err
	}

	return next, tx.Commit()
}

// ListPins returns all pins for an owner in pin order.
func (s *Store) ListPins(ownerID int64) ([]*PinRow, error) {
	rows, err := s.db.Query(
		"SELECT owner_id, seq, text FROM pins WHERE owner_id = ? ORDER BY seq",
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*PinRow
	for rows.Next() {
		p := &PinRow{}
		if err := rows.Scan(&p.OwnerID, &p.Seq, &p.Text); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// DeletePin removes one pin by number.
func (s *Store) DeletePin(ownerID int64, seq int) error {
	_, err := s.db.Exec(
		"DELETE FROM pins WHERE owner_id = ? AND seq = ?",
		ownerID, seq,
	)
	return err
}

// ClearPins removes every pin for an owner.
func (s *Store) ClearPins(ownerID int64) error {
	_, err := s.db.Exec("DELETE FROM pins WHERE owner_id = ?", ownerID)
	return err
}

// --- Aliases ---

// SetAlias saves or replaces a command alias.
func (s *Store) SetAlias(ownerID int64, name, command string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO aliases (owner_id, name, command) VALUES (?, ?, ?)",
		ownerID, name, command,
	)
	return err
}

// GetAlias returns the command for an alias, or "" when it does not exist.
func (s *Store) GetAlias(ownerID int64, name string) (string, error) {
	var command string
	err := s.db.QueryRow(
		"SELECT command FROM aliases WHERE owner_id = ? AND name = ?",
		ownerID, name,
	).Scan(&command)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return command, err
}

// ListAliases returns all aliases for an owner sorted by name.
func (s *Store) ListAliases(ownerID int64) ([]*AliasRow, error) {
	rows, err := s.db.Query(
		"SELECT owner_id, name, command FROM aliases WHERE owner_id = ? ORDER BY name",
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*AliasRow
	for rows.Next() {
		a := &AliasRow{}
		if err := rows.Scan(&a.OwnerID, &a.Name, &a.Command); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// DeleteAlias removes an alias by name.
func (s *Store) DeleteAlias(ownerID int64, name string) error {
	_, err := s.db.Exec(
		"DELETE FROM aliases WHERE owner_id = ? AND name = ?",
		ownerID, name,
	)
	return err
}

// --- Usage ---

// IncrementUsage bumps the counter for a verb and stamps the time.
func (s *Store) IncrementUsage(ownerID int64, verb string, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO usage (owner_id, verb, count, last_used_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(owner_id, verb)
		DO UPDATE SET count = count + 1, last_used_at = excluded.last_used_at
	`, ownerID, verb, at.Unix())
	return err
}

// TopUsage returns the owner's most used verbs, highest count first.
func (s *Store) TopUsage(ownerID int64, limit int) ([]*UsageRow, error) {
	rows, err := s.db.Query(`
		SELECT owner_id, verb, count, last_used_at
		FROM usage WHERE owner_id = ?
		ORDER BY count DESC, verb LIMIT ?
	`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*UsageRow
	for rows.Next() {
		u := &UsageRow{}
		var usedUnix int64
		if err := rows.Scan(&u.OwnerID, &u.Verb, &u.Count, &usedUnix); err != nil {
			return nil, err
		}
		if usedUnix > 0 {
			u.LastUsedAt = time.Unix(usedUnix, 0)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

// --- Metadata ---

// SetMeta sets a key-value pair in the metadata table.
func (s *Store) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta gets a value from the metadata table. Returns "" if not found.
func (s *Store) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}
