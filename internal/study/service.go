// Package study implements the session-scoped learning pipeline: document
// ingestion, prompt construction, response parsing and the quiz state machine.
//
// Every command either fully applies its result to the session or leaves the
// session untouched and returns an error.
package study

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/pavelanni/studybuddy/internal/document"
	"github.com/pavelanni/studybuddy/internal/llm"
	"github.com/pavelanni/studybuddy/internal/llm/prompts"
	"github.com/pavelanni/studybuddy/internal/llm/structured"
	"github.com/pavelanni/studybuddy/internal/model"
)

var (
	// ErrNoDocument is returned by document commands before a document is loaded.
	ErrNoDocument = errors.New("no document loaded")
	// ErrNoQuiz is returned when answers are submitted without a quiz.
	ErrNoQuiz = errors.New("no quiz generated")
	// ErrInvalidRequest is returned for an unknown mode or source.
	ErrInvalidRequest = errors.New("invalid request")
)

// DocumentLoader converts an uploaded file into plain text.
type DocumentLoader interface {
	Load(data []byte) (string, error)
}

// GenerateRequest describes one quiz or flashcard generation.
type GenerateRequest struct {
	Mode   model.Mode
	Source model.Source
	Topic  string
	Count  int
}

// Service applies user commands to sessions.
type Service struct {
	oracle llm.Oracle
	loader DocumentLoader
	now    func() time.Time
}

// NewService creates a Service.
func NewService(oracle llm.Oracle, loader DocumentLoader) *Service {
	return &Service{oracle: oracle, loader: loader, now: time.Now}
}

func (svc *Service) complete(ctx context.Context, p prompts.Prompt) (string, error) {
	start := svc.now()
	out, err := svc.oracle.Complete(ctx, p.Instruction, p.Context)
	if err != nil {
		slog.Warn("completion failed", "task", p.Task, "error", err)
		return "", err
	}
	slog.Info("completion done", "task", p.Task, "elapsed", svc.now().Sub(start))
	return out, nil
}

// Chat sends a free-form message. The exchange is appended to the history only
// when the oracle answers.
func (svc *Service) Chat(ctx context.Context, s *model.Session, message string) error {
	p, err := prompts.Chat(message)
	if err != nil {
		return err
	}
	reply, err := svc.complete(ctx, p)
	if err != nil {
		return err
	}
	now := svc.now()
	s.ChatHistory = append(s.ChatHistory,
		model.ChatMessage{Role: model.RoleUser, Content: p.Instruction, CreatedAt: now},
		model.ChatMessage{Role: model.RoleAssistant, Content: reply, CreatedAt: now},
	)
	return nil
}

// ClearChat empties the chat history.
func (svc *Service) ClearChat(s *model.Session) {
	s.ChatHistory = nil
}

// LoadDocument extracts the text of an upload and makes it the session's document.
// Derived artifacts of the previous document are cleared. Re-uploading the same
// bytes is a no-op.
func (svc *Service) LoadDocument(s *model.Session, name string, data []byte) error {
	hash := document.Fingerprint(data)
	if s.HasDocument() && s.DocumentHash == hash {
		slog.Info("document unchanged, skipping extraction", "name", name)
		s.DocumentName = name
		return nil
	}

	text, err := svc.loader.Load(data)
	if err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: no extractable text", document.ErrUnreadableDocument)
	}

	s.DocumentName = name
	s.DocumentText = text
	s.DocumentHash = hash
	s.Summary = ""
	s.KeyTerms = ""
	s.LastQuestion = ""
	s.LastAnswer = ""
	slog.Info("document loaded", "name", name, "bytes", len(data), "text_len", len(text))
	return nil
}

// Summarize stores a bulleted summary of the loaded document.
func (svc *Service) Summarize(ctx context.Context, s *model.Session) error {
	if !s.HasDocument() {
		return ErrNoDocument
	}
	p, err := prompts.Summary(s.DocumentText)
	if err != nil {
		return err
	}
	out, err := svc.complete(ctx, p)
	if err != nil {
		return err
	}
	s.Summary = out
	return nil
}

// ExtractKeyTerms stores the key terms of the loaded document.
func (svc *Service) ExtractKeyTerms(ctx context.Context, s *model.Session) error {
	if !s.HasDocument() {
		return ErrNoDocument
	}
	p, err := prompts.KeyTerms(s.DocumentText)
	if err != nil {
		return err
	}
	out, err := svc.complete(ctx, p)
	if err != nil {
		return err
	}
	s.KeyTerms = out
	return nil
}

// Ask answers a question about the loaded document.
func (svc *Service) Ask(ctx context.Context, s *model.Session, question string) (string, error) {
	if !s.HasDocument() {
		return "", ErrNoDocument
	}
	p, err := prompts.Answer(question, s.DocumentText)
	if err != nil {
		return "", err
	}
	out, err := svc.complete(ctx, p)
	if err != nil {
		return "", err
	}
	s.LastQuestion = strings.TrimSpace(question)
	s.LastAnswer = out
	return out, nil
}

// Generate creates a quiz or a flashcard set. Inputs are validated before the oracle
// is called. On success the new set replaces both previous sets and resets answers;
// on failure the session is unchanged.
func (svc *Service) Generate(ctx context.Context, s *model.Session, req GenerateRequest) error {
	if err := prompts.ValidateCount(req.Count); err != nil {
		return err
	}

	var material string
	switch req.Source {
	case model.SourceDocument:
		if !s.HasDocument() {
			return ErrNoDocument
		}
		material = s.DocumentText
	case model.SourceTopic:
		material = strings.TrimSpace(req.Topic)
		if material == "" {
			return prompts.ErrEmptyInput
		}
	default:
		return fmt.Errorf("%w: source %q", ErrInvalidRequest, req.Source)
	}

	var (
		p   prompts.Prompt
		err error
	)
	switch req.Mode {
	case model.ModeQuiz:
		p, err = prompts.Quiz(material, req.Count)
	case model.ModeFlashcards:
		p, err = prompts.Flashcards(material, req.Count)
	default:
		return fmt.Errorf("%w: mode %q", ErrInvalidRequest, req.Mode)
	}
	if err != nil {
		return err
	}

	raw, err := svc.complete(ctx, p)
	if err != nil {
		return err
	}

	var (
		items []model.QuizItem
		cards []model.Flashcard
	)
	if req.Mode == model.ModeQuiz {
		items, err = structured.Quiz(raw)
	} else {
		cards, err = structured.Flashcards(raw)
	}
	if err != nil {
		slog.Warn("discarding malformed response", "mode", req.Mode, "error", err)
		return err
	}
	if n := len(items) + len(cards); n != req.Count {
		slog.Info("model returned a different number of entries", "requested", req.Count, "got", n)
	}

	now := svc.now()
	s.QuizItems = items
	s.Flashcards = cards
	s.Answers = map[int]string{}
	s.ScoreRevealed = false
	s.PracticeSource = req.Source
	s.PracticeTopic = ""
	s.PracticeDocument = ""
	if req.Source == model.SourceTopic {
		s.PracticeTopic = material
	} else {
		s.PracticeDocument = s.DocumentName
	}
	s.GeneratedAt = &now
	return nil
}

// SubmitAnswers records the selected options and reveals the score. Answers for
// unknown indexes or options that do not belong to the question are ignored.
func (svc *Service) SubmitAnswers(s *model.Session, answers map[int]string) (int, error) {
	if len(s.QuizItems) == 0 {
		return 0, ErrNoQuiz
	}
	accepted := make(map[int]string, len(answers))
	for i, ans := range answers {
		if i < 0 || i >= len(s.QuizItems) || !slices.Contains(s.QuizItems[i].Options, ans) {
			continue
		}
		accepted[i] = ans
	}
	s.Answers = accepted
	s.ScoreRevealed = true
	return Grade(s.QuizItems, s.Answers), nil
}

// Score reports the current score and whether it has been revealed.
func Score(s *model.Session) (score, total int, revealed bool) {
	return Grade(s.QuizItems, s.Answers), len(s.QuizItems), s.ScoreRevealed
}
