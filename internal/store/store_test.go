package store

import (
	"errors"
	"testing"
	"time"

	"github.com/pavelanni/studybuddy/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(MemoryDSN, time.Hour)
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// setClock pins the store's clock and returns a function to move it forward.
func setClock(s *Store, start time.Time) func(time.Duration) {
	now := start
	s.now = func() time.Time { return now }
	return func(d time.Duration) { now = now.Add(d) }
}

func TestSessionCRUD(t *testing.T) {
	s := newTestStore(t)

	// Not found.
	got, err := s.GetSession("missing")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing session, got %+v", got)
	}

	sess := model.NewSession("abc", time.Now())
	if err := s.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err = s.GetSession("abc")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got == nil || got.ID != "abc" {
		t.Fatalf("expected session abc, got %+v", got)
	}
	if got.Answers == nil {
		t.Error("answers map should be initialised")
	}

	// Save the full state and read it back.
	got.DocumentText = "Chlorophyll absorbs light."
	got.QuizItems = []model.QuizItem{{Question: "2+2?", Options: []string{"3", "4", "5", "6"}, Correct: "4"}}
	got.Answers[0] = "4"
	got.ScoreRevealed = true
	got.ChatHistory = append(got.ChatHistory, model.ChatMessage{Role: model.RoleUser, Content: "hi"})
	if err := s.SaveSession(got); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	again, err := s.GetSession("abc")
	if err != nil {
		t.Fatalf("GetSession after save: %v", err)
	}
	if again.DocumentText != "Chlorophyll absorbs light." {
		t.Errorf("document text = %q", again.DocumentText)
	}
	if len(again.QuizItems) != 1 || again.QuizItems[0].Correct != "4" {
		t.Errorf("quiz items = %+v", again.QuizItems)
	}
	if again.Answers[0] != "4" {
		t.Errorf("answers = %v, want {0: 4}", again.Answers)
	}
	if !again.ScoreRevealed {
		t.Error("score revealed flag lost")
	}
	if len(again.ChatHistory) != 1 || again.ChatHistory[0].Role != model.RoleUser {
		t.Errorf("chat history = %+v", again.ChatHistory)
	}

	// Delete.
	if err := s.DeleteSession("abc"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	got, err = s.GetSession("abc")
	if err != nil {
		t.Fatalf("GetSession after delete: %v", err)
	}
	if got != nil {
		t.Error("expected nil after delete")
	}
}

func TestSaveMissingSession(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveSession(model.NewSession("ghost", time.Now()))
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("SaveSession(ghost) error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionExpiry(t *testing.T) {
	s := newTestStore(t)
	advance := setClock(s, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))

	if err := s.CreateSession(model.NewSession("old", s.now())); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// Saving slides the expiry window.
	advance(50 * time.Minute)
	sess, err := s.GetSession("old")
	if err != nil || sess == nil {
		t.Fatalf("GetSession before expiry: %v, %v", sess, err)
	}
	if err := s.SaveSession(sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	advance(50 * time.Minute)
	if sess, _ := s.GetSession("old"); sess == nil {
		t.Fatal("session should still be alive after save extended it")
	}

	advance(2 * time.Hour)
	sess, err = s.GetSession("old")
	if err != nil {
		t.Fatalf("GetSession after expiry: %v", err)
	}
	if sess != nil {
		t.Error("expired session should not be returned")
	}
	count, err := s.SessionCount()
	if err != nil {
		t.Fatalf("SessionCount: %v", err)
	}
	if count != 0 {
		t.Errorf("expired session should be deleted on read, count = %d", count)
	}
}

func TestCleanupOnCreate(t *testing.T) {
	s := newTestStore(t)
	advance := setClock(s, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))

	for _, id := range []string{"a", "b"} {
		if err := s.CreateSession(model.NewSession(id, s.now())); err != nil {
			t.Fatalf("CreateSession(%s): %v", id, err)
		}
	}
	advance(2 * time.Hour)
	if err := s.CreateSession(model.NewSession("c", s.now())); err != nil {
		t.Fatalf("CreateSession(c): %v", err)
	}

	count, err := s.SessionCount()
	if err != nil {
		t.Fatalf("SessionCount: %v", err)
	}
	if count != 1 {
		t.Errorf("expected only the fresh session to remain, count = %d", count)
	}
}

func TestSessionsIsolated(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"one", "two"} {
		if err := s.CreateSession(model.NewSession(id, time.Now())); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}

	one, _ := s.GetSession("one")
	one.Summary = "only mine"
	if err := s.SaveSession(one); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	two, _ := s.GetSession("two")
	if two.Summary != "" {
		t.Errorf("session two was modified: %q", two.Summary)
	}
}
