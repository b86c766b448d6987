package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pavelanni/studybuddy/internal/model"
)

// ErrSessionNotFound is returned when saving a session that does not exist or has expired.
var ErrSessionNotFound = errors.New("session not found")

// CreateSession inserts a new session and drops any expired ones.
func (s *Store) CreateSession(sess *model.Session) error {
	if err := s.CleanupExpiredSessions(); err != nil {
		slog.Warn("failed to clean up expired sessions", "error", err)
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	now := s.now()
	_, err = s.db.Exec(
		`INSERT INTO study_sessions (id, data, created_at, updated_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, string(data), now.UnixMilli(), now.UnixMilli(), now.Add(s.ttl).UnixMilli(),
	)
	return err
}

// GetSession returns the session with the given id, or nil if not found/expired.
func (s *Store) GetSession(id string) (*model.Session, error) {
	var data string
	var expiresAt int64
	err := s.db.QueryRow(
		`SELECT data, expires_at FROM study_sessions WHERE id = ?`, id,
	).Scan(&data, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if s.now().UnixMilli() > expiresAt {
		_ = s.DeleteSession(id)
		return nil, nil
	}

	var sess model.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	if sess.Answers == nil {
		sess.Answers = map[int]string{}
	}
	return &sess, nil
}

// SaveSession overwrites a session and extends its expiry.
func (s *Store) SaveSession(sess *model.Session) error {
	now := s.now()
	sess.UpdatedAt = now
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	res, err := s.db.Exec(
		`UPDATE study_sessions SET data = ?, updated_at = ?, expires_at = ? WHERE id = ?`,
		string(data), now.UnixMilli(), now.Add(s.ttl).UnixMilli(), sess.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sess.ID)
	}
	return nil
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(id string) error {
	_, err := s.db.Exec(`DELETE FROM study_sessions WHERE id = ?`, id)
	return err
}

// CleanupExpiredSessions removes all expired sessions.
func (s *Store) CleanupExpiredSessions() error {
	res, err := s.db.Exec(`DELETE FROM study_sessions WHERE expires_at < ?`, s.now().UnixMilli())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Debug("removed expired sessions", "count", n)
	}
	return nil
}

// SessionCount returns the number of stored sessions, expired or not.
func (s *Store) SessionCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM study_sessions`).Scan(&count)
	return count, err
}
