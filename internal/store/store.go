package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// MemoryDSN keeps every session in process memory; nothing survives a restart.
const MemoryDSN = ":memory:"

// Store persists study sessions as JSON snapshots in SQLite, each with an
// expiry that SaveSession pushes forward.
type Store struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// New opens the session database. Sessions idle for longer than ttl are discarded.
func New(dbPath string, ttl time.Duration) (*Store, error) {
	dsn := dbPath + "?_pragma=busy_timeout(5000)"
	if !isMemory(dbPath) {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if isMemory(dbPath) {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, ttl: ttl, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS study_sessions (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_study_sessions_expires ON study_sessions(expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func isMemory(path string) bool {
	return path == MemoryDSN || strings.Contains(path, "mode=memory")
}
