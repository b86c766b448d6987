package study

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/studybuddy/internal/model"
)

// ErrSessionExpired is returned when a command targets a session that no longer exists.
var ErrSessionExpired = errors.New("session expired")

// SessionStore persists session snapshots.
type SessionStore interface {
	CreateSession(s *model.Session) error
	GetSession(id string) (*model.Session, error)
	SaveSession(s *model.Session) error
	DeleteSession(id string) error
}

// Manager serializes commands per session. A command runs on a copy of the
// session, and the copy is saved only if the command succeeds.
type Manager struct {
	store SessionStore
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// sessionLock is shared by every caller holding or waiting on one session.
// The entry is dropped when refs reaches zero.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager creates a Manager backed by the given store.
func NewManager(store SessionStore) *Manager {
	return &Manager{store: store, now: time.Now, locks: make(map[string]*sessionLock)}
}

func (m *Manager) lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sessionLock{}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}

// Create starts a new empty session.
func (m *Manager) Create(ctx context.Context) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := model.NewSession(uuid.NewString(), m.now())
	if err := m.store.CreateSession(s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s.Clone(), nil
}

// View returns a copy of the session, or ErrSessionExpired.
func (m *Manager) View(ctx context.Context, id string) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := m.lock(id)
	defer unlock()
	return m.load(id)
}

// Do runs fn against the session while holding its lock. The modified copy is
// saved only when fn returns nil; otherwise the stored session is unchanged.
func (m *Manager) Do(ctx context.Context, id string, fn func(ctx context.Context, s *model.Session) error) error {
	unlock := m.lock(id)
	defer unlock()

	current, err := m.load(id)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	work := current.Clone()
	if err := fn(ctx, work); err != nil {
		return err
	}
	if err := m.store.SaveSession(work); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Delete discards a session.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := m.lock(id)
	defer unlock()
	return m.store.DeleteSession(id)
}

func (m *Manager) load(id string) (*model.Session, error) {
	s, err := m.store.GetSession(id)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if s == nil {
		return nil, ErrSessionExpired
	}
	return s, nil
}
