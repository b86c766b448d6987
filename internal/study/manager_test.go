package study

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pavelanni/studybuddy/internal/llm/structured"
	"github.com/pavelanni/studybuddy/internal/model"
	"github.com/pavelanni/studybuddy/internal/store"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	s, err := store.New(store.MemoryDSN, time.Hour)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewManager(s)
}

func TestManagerCreateAndView(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	a, err := m.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, err := m.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("session ids should be unique and non-empty: %q %q", a.ID, b.ID)
	}

	v, err := m.View(ctx, a.ID)
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if v.ID != a.ID || len(v.QuizItems) != 0 || v.ScoreRevealed {
		t.Errorf("new session should be empty: %+v", v)
	}

	if _, err := m.View(ctx, "nope"); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("View(unknown) error = %v, want ErrSessionExpired", err)
	}
}

func TestManagerDoCommitsOnSuccess(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	sess, _ := m.Create(ctx)

	svc, _, _ := newTestService(quizJSON)
	err := m.Do(ctx, sess.ID, func(ctx context.Context, s *model.Session) error {
		return svc.Generate(ctx, s, GenerateRequest{Mode: model.ModeQuiz, Source: model.SourceTopic, Topic: "Math", Count: 1})
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}

	v, _ := m.View(ctx, sess.ID)
	if len(v.QuizItems) != 1 || v.QuizItems[0].Correct != "4" {
		t.Errorf("quiz not saved: %+v", v.QuizItems)
	}
}

func TestManagerDoDiscardsOnFailure(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	sess, _ := m.Create(ctx)

	svc, _, _ := newTestService(flashcardJSON, "not json at all")
	gen := func(ctx context.Context, s *model.Session) error {
		return svc.Generate(ctx, s, GenerateRequest{Mode: model.ModeFlashcards, Source: model.SourceTopic, Topic: "Bio", Count: 1})
	}
	if err := m.Do(ctx, sess.ID, gen); err != nil {
		t.Fatalf("first Do: %v", err)
	}
	if err := m.Do(ctx, sess.ID, gen); !errors.Is(err, structured.ErrMalformedResponse) {
		t.Fatalf("second Do error = %v, want ErrMalformedResponse", err)
	}

	v, _ := m.View(ctx, sess.ID)
	if len(v.Flashcards) != 1 || v.Flashcards[0].Front != "Photosynthesis" {
		t.Errorf("prior flashcards should remain: %+v", v.Flashcards)
	}

	// A command that mutates and then fails leaves nothing behind.
	err := m.Do(ctx, sess.ID, func(_ context.Context, s *model.Session) error {
		s.Flashcards = nil
		s.Summary = "half-done"
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	v, _ = m.View(ctx, sess.ID)
	if len(v.Flashcards) != 1 || v.Summary != "" {
		t.Errorf("partial mutation leaked: %+v", v)
	}
}

func TestManagerSerializesCommands(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	sess, _ := m.Create(ctx)

	const n = 20
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Do(ctx, sess.ID, func(_ context.Context, s *model.Session) error {
				s.ChatHistory = append(s.ChatHistory, model.ChatMessage{Role: model.RoleUser, Content: "x"})
				return nil
			})
			if err != nil {
				t.Errorf("Do: %v", err)
			}
		}()
	}
	wg.Wait()

	v, _ := m.View(ctx, sess.ID)
	if len(v.ChatHistory) != n {
		t.Errorf("expected %d messages, got %d (lost update)", n, len(v.ChatHistory))
	}
}

func TestManagerDelete(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	sess, _ := m.Create(ctx)

	if err := m.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	err := m.Do(ctx, sess.ID, func(context.Context, *model.Session) error { return nil })
	if !errors.Is(err, ErrSessionExpired) {
		t.Errorf("Do after delete error = %v, want ErrSessionExpired", err)
	}
}

func (m *Manager) activeLocks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// exclusiveStore records whether two store calls ever ran at the same time.
type exclusiveStore struct {
	SessionStore
	active  atomic.Int32
	overlap atomic.Bool
}

func (s *exclusiveStore) enter() func() {
	if s.active.Add(1) > 1 {
		s.overlap.Store(true)
	}
	time.Sleep(time.Millisecond)
	return func() { s.active.Add(-1) }
}

func (s *exclusiveStore) GetSession(id string) (*model.Session, error) {
	defer s.enter()()
	return s.SessionStore.GetSession(id)
}

func (s *exclusiveStore) SaveSession(sess *model.Session) error {
	defer s.enter()()
	return s.SessionStore.SaveSession(sess)
}

func (s *exclusiveStore) DeleteSession(id string) error {
	defer s.enter()()
	return s.SessionStore.DeleteSession(id)
}

func TestManagerReleasesLocks(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	var ids []string
	for range 5 {
		sess, err := m.Create(ctx)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, sess.ID)
	}
	for i, id := range ids {
		if _, err := m.View(ctx, id); err != nil {
			t.Fatalf("View: %v", err)
		}
		_ = m.Do(ctx, id, func(context.Context, *model.Session) error { return nil })
		if i%2 == 0 {
			if err := m.Delete(ctx, id); err != nil {
				t.Fatalf("Delete: %v", err)
			}
		}
	}
	if _, err := m.View(ctx, "never-existed"); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("View(unknown) error = %v", err)
	}

	if n := m.activeLocks(); n != 0 {
		t.Errorf("activeLocks = %d after all callers returned, want 0", n)
	}
}

func TestManagerDeleteKeepsCommandsExclusive(t *testing.T) {
	base, err := store.New(store.MemoryDSN, time.Hour)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { base.Close() })
	es := &exclusiveStore{SessionStore: base}
	m := NewManager(es)
	ctx := context.Background()

	sess, err := m.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var wg sync.WaitGroup
	for i := range 30 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch i % 3 {
			case 0:
				_ = m.Delete(ctx, sess.ID)
			case 1:
				_, _ = m.View(ctx, sess.ID)
			default:
				_ = m.Do(ctx, sess.ID, func(context.Context, *model.Session) error { return nil })
			}
		}()
	}
	wg.Wait()

	if es.overlap.Load() {
		t.Error("store calls for one session overlapped")
	}
	if n := m.activeLocks(); n != 0 {
		t.Errorf("activeLocks = %d, want 0", n)
	}
}
