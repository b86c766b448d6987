package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/pavelanni/studybuddy/internal/document"
	"github.com/pavelanni/studybuddy/internal/handler/views"
	appI18n "github.com/pavelanni/studybuddy/internal/i18n"
	"github.com/pavelanni/studybuddy/internal/llm"
	"github.com/pavelanni/studybuddy/internal/llm/prompts"
	"github.com/pavelanni/studybuddy/internal/llm/structured"
	"github.com/pavelanni/studybuddy/internal/model"
	"github.com/pavelanni/studybuddy/internal/study"
)

var (
	errNoFile       = errors.New("no file uploaded")
	errFileTooLarge = errors.New("file too large")
)

// classify maps a command error to a message ID and response status. Failures of
// the language model are reported to the user, never as server errors.
func classify(err error, mode model.Mode) (string, int) {
	switch {
	case errors.Is(err, llm.ErrUnavailable):
		return "ErrUnavailable", http.StatusOK
	case errors.Is(err, structured.ErrMalformedResponse):
		if mode == model.ModeFlashcards {
			return "ErrMalformedFlashcards", http.StatusOK
		}
		return "ErrMalformedQuiz", http.StatusOK
	case errors.Is(err, study.ErrSessionExpired):
		return "ErrSessionExpired", http.StatusOK
	case errors.Is(err, document.ErrUnreadableDocument):
		return "ErrUnreadable", http.StatusUnprocessableEntity
	case errors.Is(err, errFileTooLarge):
		return "ErrFileTooLarge", http.StatusRequestEntityTooLarge
	case errors.Is(err, errNoFile):
		return "ErrNoFile", http.StatusBadRequest
	case errors.Is(err, study.ErrNoDocument):
		return "ErrNoDocument", http.StatusBadRequest
	case errors.Is(err, study.ErrNoQuiz):
		return "ErrNoQuiz", http.StatusBadRequest
	case errors.Is(err, prompts.ErrCountOutOfRange):
		return "ErrCountRange", http.StatusBadRequest
	case errors.Is(err, prompts.ErrEmptyInput):
		return "ErrEmptyInput", http.StatusBadRequest
	case errors.Is(err, study.ErrInvalidRequest):
		return "ErrGeneric", http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "ErrUnavailable", http.StatusOK
	default:
		return "ErrGeneric", http.StatusInternalServerError
	}
}

func errorNotice(ctx context.Context, err error, mode model.Mode) (views.Notice, int) {
	id, status := classify(err, mode)
	return views.Notice{Kind: views.NoticeError, Text: appI18n.T(ctx, id)}, status
}

func infoNotice(text string) views.Notice {
	return views.Notice{Kind: views.NoticeInfo, Text: text}
}
