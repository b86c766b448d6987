// Package views renders the study pages as templ components.
package views

import (
	"context"
	"fmt"

	appI18n "github.com/pavelanni/studybuddy/internal/i18n"
	"github.com/pavelanni/studybuddy/internal/model"
)

//go:generate templ generate

// NoticeKind selects how a notice is styled.
type NoticeKind string

const (
	NoticeInfo  NoticeKind = "info"
	NoticeError NoticeKind = "error"
)

// Notice is a one-off message shown above the page content.
type Notice struct {
	Kind NoticeKind
	Text string
}

// Tab identifies the active navigation tab.
type Tab string

const (
	TabChat     Tab = "chat"
	TabDocument Tab = "document"
	TabPractice Tab = "practice"
)

type tabLink struct {
	tab   Tab
	label string
}

var tabs = []tabLink{
	{TabChat, "TabChat"},
	{TabDocument, "TabDocument"},
	{TabPractice, "TabPractice"},
}

// route prefixes an application path with the deployment base path.
func route(ctx context.Context, p string) string {
	return model.BasePathFromContext(ctx) + p
}

func speaker(r model.Role) string {
	if r == model.RoleUser {
		return "ChatYou"
	}
	return "ChatAssistant"
}

// PracticeState carries what the practice tab needs beyond the session.
type PracticeState struct {
	Mode         model.Mode
	DefaultCount int
	Score        int
	Total        int
	Revealed     bool
}

// practiceCount prefills the count input with the size of the current set.
func practiceCount(s *model.Session, st PracticeState) int {
	if n := len(s.QuizItems) + len(s.Flashcards); n > 0 {
		return n
	}
	return st.DefaultCount
}

func fromDocument(s *model.Session) bool {
	return s.PracticeSource == model.SourceDocument && s.HasDocument()
}

func questionLegend(i int, question string) string {
	return fmt.Sprintf("Q%d: %s", i+1, question)
}

func answerField(i int) string {
	return fmt.Sprintf("answer-%d", i)
}

func answerClass(s *model.Session, i int) string {
	if given, ok := s.Answers[i]; ok && given == s.QuizItems[i].Correct {
		return "correct"
	}
	return "wrong"
}

func givenAnswer(ctx context.Context, s *model.Session, i int) string {
	if given, ok := s.Answers[i]; ok {
		return given
	}
	return appI18n.T(ctx, "NotAnswered")
}
