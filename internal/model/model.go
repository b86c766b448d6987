package model

import (
	"context"
	"maps"
	"slices"
	"time"
)

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}

type sessionIDCtxKey struct{}

// ContextWithSessionID stores the study session ID in context.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDCtxKey{}, id)
}

// SessionIDFromContext retrieves the study session ID from context.
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDCtxKey{}).(string)
	return id
}

// Role represents a chat message role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Mode selects which kind of practice set is generated.
type Mode string

const (
	ModeQuiz       Mode = "quiz"
	ModeFlashcards Mode = "flashcards"
)

// Source selects where practice material comes from.
type Source string

const (
	SourceTopic    Source = "topic"
	SourceDocument Source = "document"
)

// ChatMessage is one turn of the general chat.
type ChatMessage struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// QuizItem is a multiple-choice question. Correct is always one of Options.
type QuizItem struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Correct  string   `json:"correct"`
}

// Flashcard is a term/definition pair.
type Flashcard struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

// Session is one user's interaction state. It is mutated in place by command
// handlers and discarded when it expires.
type Session struct {
	ID          string        `json:"id"`
	ChatHistory []ChatMessage `json:"chat_history"`

	DocumentName string `json:"document_name"`
	DocumentText string `json:"document_text"`
	DocumentHash string `json:"document_hash"`
	Summary      string `json:"summary"`
	KeyTerms     string `json:"key_terms"`
	LastQuestion string `json:"last_question"`
	LastAnswer   string `json:"last_answer"`

	// Quiz and flashcards are mutually exclusive: generating one clears the other.
	// PracticeDocument names the document the set was generated from; uploads
	// leave it unchanged.
	PracticeSource   Source         `json:"practice_source,omitempty"`
	PracticeTopic    string         `json:"practice_topic,omitempty"`
	PracticeDocument string         `json:"practice_document,omitempty"`
	QuizItems        []QuizItem     `json:"quiz_items"`
	Flashcards       []Flashcard    `json:"flashcards"`
	Answers          map[int]string `json:"answers"`
	ScoreRevealed    bool           `json:"score_revealed"`
	GeneratedAt      *time.Time     `json:"generated_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession returns a session with every field at its empty default.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		Answers:   map[int]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasDocument reports whether a document with extractable text is loaded.
func (s *Session) HasDocument() bool {
	return s.DocumentText != ""
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	c.ChatHistory = slices.Clone(s.ChatHistory)
	c.Flashcards = slices.Clone(s.Flashcards)
	if s.QuizItems != nil {
		c.QuizItems = make([]QuizItem, len(s.QuizItems))
		for i, q := range s.QuizItems {
			q.Options = slices.Clone(q.Options)
			c.QuizItems[i] = q
		}
	}
	c.Answers = maps.Clone(s.Answers)
	if c.Answers == nil {
		c.Answers = map[int]string{}
	}
	if s.GeneratedAt != nil {
		t := *s.GeneratedAt
		c.GeneratedAt = &t
	}
	return &c
}

// StudyConfig holds runtime parameters set via CLI flags.
type StudyConfig struct {
	BasePath       string // URL prefix for sub-path deployments (e.g. "/ru")
	SecureCookies  bool   // Set Secure flag on cookies (disable for local dev)
	MaxUploadBytes int64
	DefaultCount   int
}
