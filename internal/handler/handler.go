package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/studybuddy/internal/handler/views"
	appI18n "github.com/pavelanni/studybuddy/internal/i18n"
	"github.com/pavelanni/studybuddy/internal/llm/prompts"
	"github.com/pavelanni/studybuddy/internal/model"
	"github.com/pavelanni/studybuddy/internal/study"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	manager *study.Manager
	svc     *study.Service
	config  model.StudyConfig
}

// New creates a new Handler.
func New(m *study.Manager, svc *study.Service, cfg model.StudyConfig) (*Handler, error) {
	if m == nil || svc == nil {
		return nil, errors.New("handler: manager and service are required")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	if cfg.DefaultCount < prompts.MinCount || cfg.DefaultCount > prompts.MaxCount {
		cfg.DefaultCount = 5
	}
	return &Handler{manager: m, svc: svc, config: cfg}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(h.sessionMiddleware)
		r.Use(h.csrfMiddleware)

		r.Get("/", h.handleIndex)

		r.Get("/chat", h.handleChatPage)
		r.Post("/chat", h.handleChat)
		r.Post("/chat/clear", h.handleClearChat)

		r.Get("/document", h.handleDocumentPage)
		r.Post("/document", h.handleUpload)
		r.Post("/document/summary", h.handleSummary)
		r.Post("/document/terms", h.handleKeyTerms)
		r.Post("/document/ask", h.handleAsk)

		r.Get("/practice", h.handlePracticePage)
		r.Post("/practice/generate", h.handleGenerate)
		r.Post("/practice/submit", h.handleSubmit)

		r.Post("/session/reset", h.handleReset)
	})

	// Downloads render no form and leave the CSRF cookie alone.
	r.Group(func(r chi.Router) {
		r.Use(h.sessionMiddleware)
		r.Get("/practice/export", h.handleExport)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok\n")
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.path("/chat"), http.StatusSeeOther)
}

// do runs a command against the caller's session.
func (h *Handler) do(r *http.Request, fn func(ctx context.Context, s *model.Session) error) error {
	return h.manager.Do(r.Context(), model.SessionIDFromContext(r.Context()), fn)
}

// view loads a read-only copy of the caller's session. A session that expired
// since the middleware ran is replaced by an empty one.
func (h *Handler) view(r *http.Request) (*model.Session, error) {
	id := model.SessionIDFromContext(r.Context())
	s, err := h.manager.View(r.Context(), id)
	if errors.Is(err, study.ErrSessionExpired) {
		return model.NewSession(id, time.Now()), nil
	}
	return s, err
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := c.Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

// pageFunc builds one of the three tabs.
type pageFunc func(s *model.Session, notice views.Notice) templ.Component

// page renders a tab with an optional notice.
func (h *Handler) page(w http.ResponseWriter, r *http.Request, status int, notice views.Notice, build pageFunc) {
	sess, err := h.view(r)
	if err != nil {
		slog.Error("failed to load session", "error", err)
		http.Error(w, appI18n.T(r.Context(), "ErrGeneric"), http.StatusInternalServerError)
		return
	}
	if notice.Text == "" && sessionWasStale(r.Context()) {
		notice = views.Notice{Kind: views.NoticeInfo, Text: appI18n.T(r.Context(), "ErrSessionExpired")}
	}
	h.render(w, r, status, build(sess, notice))
}

// respond renders the result of a command on the given tab.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, err error, mode model.Mode, ok views.Notice, build pageFunc) {
	if err != nil {
		notice, status := errorNotice(r.Context(), err, mode)
		if status >= http.StatusInternalServerError {
			slog.Error("command failed", "path", r.URL.Path, "error", err)
		} else {
			slog.Info("command rejected", "path", r.URL.Path, "error", err)
		}
		h.page(w, r, status, notice, build)
		return
	}
	h.page(w, r, http.StatusOK, ok, build)
}

// Chat

func (h *Handler) chatPage(s *model.Session, n views.Notice) templ.Component {
	return views.ChatPage(s, n)
}

func (h *Handler) handleChatPage(w http.ResponseWriter, r *http.Request) {
	h.page(w, r, http.StatusOK, views.Notice{}, h.chatPage)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	message := r.FormValue("message")
	err := h.do(r, func(ctx context.Context, s *model.Session) error {
		return h.svc.Chat(ctx, s, message)
	})
	h.respond(w, r, err, "", views.Notice{}, h.chatPage)
}

func (h *Handler) handleClearChat(w http.ResponseWriter, r *http.Request) {
	err := h.do(r, func(_ context.Context, s *model.Session) error {
		h.svc.ClearChat(s)
		return nil
	})
	h.respond(w, r, err, "", views.Notice{}, h.chatPage)
}

// Document

func (h *Handler) documentPage(s *model.Session, n views.Notice) templ.Component {
	return views.DocumentPage(s, n)
}

func (h *Handler) handleDocumentPage(w http.ResponseWriter, r *http.Request) {
	h.page(w, r, http.StatusOK, views.Notice{}, h.documentPage)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	name, data, err := h.readUpload(r)
	if err == nil {
		err = h.do(r, func(_ context.Context, s *model.Session) error {
			return h.svc.LoadDocument(s, name, data)
		})
	}
	h.respond(w, r, err, "", infoNotice(appI18n.T(r.Context(), "PDFLoaded")), h.documentPage)
}

func (h *Handler) readUpload(r *http.Request) (string, []byte, error) {
	file, header, err := r.FormFile("document")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil, errNoFile
		}
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	defer file.Close()

	if header.Size > h.config.MaxUploadBytes {
		return "", nil, errFileTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(file, h.config.MaxUploadBytes+1))
	if err != nil {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > h.config.MaxUploadBytes {
		return "", nil, errFileTooLarge
	}
	if len(data) == 0 {
		return "", nil, errNoFile
	}
	return header.Filename, data, nil
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	err := h.do(r, h.svc.Summarize)
	h.respond(w, r, err, "", views.Notice{}, h.documentPage)
}

func (h *Handler) handleKeyTerms(w http.ResponseWriter, r *http.Request) {
	err := h.do(r, h.svc.ExtractKeyTerms)
	h.respond(w, r, err, "", views.Notice{}, h.documentPage)
}

func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	question := r.FormValue("question")
	err := h.do(r, func(ctx context.Context, s *model.Session) error {
		_, err := h.svc.Ask(ctx, s, question)
		return err
	})
	h.respond(w, r, err, "", views.Notice{}, h.documentPage)
}

// Practice

func (h *Handler) practicePage(mode model.Mode) pageFunc {
	return func(s *model.Session, n views.Notice) templ.Component {
		score, total, revealed := study.Score(s)
		if mode != model.ModeQuiz && mode != model.ModeFlashcards {
			mode = model.ModeQuiz
			if len(s.Flashcards) > 0 {
				mode = model.ModeFlashcards
			}
		}
		return views.PracticePage(s, views.PracticeState{
			Mode:         mode,
			DefaultCount: h.config.DefaultCount,
			Score:        score,
			Total:        total,
			Revealed:     revealed,
		}, n)
	}
}

func (h *Handler) handlePracticePage(w http.ResponseWriter, r *http.Request) {
	mode := model.Mode(r.URL.Query().Get("mode"))
	h.page(w, r, http.StatusOK, views.Notice{}, h.practicePage(mode))
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	req := study.GenerateRequest{
		Mode:   model.Mode(r.FormValue("mode")),
		Source: model.Source(r.FormValue("source")),
		Topic:  r.FormValue("topic"),
	}
	if req.Mode == "" {
		req.Mode = model.ModeQuiz
	}
	if req.Source == "" {
		req.Source = model.SourceTopic
	}

	count, err := strconv.Atoi(strings.TrimSpace(r.FormValue("count")))
	if err != nil {
		err = fmt.Errorf("%w: %q", prompts.ErrCountOutOfRange, r.FormValue("count"))
	} else {
		req.Count = count
		err = h.do(r, func(ctx context.Context, s *model.Session) error {
			if err := h.svc.Generate(ctx, s, req); err != nil {
				return err
			}
			count = len(s.QuizItems) + len(s.Flashcards)
			return nil
		})
	}

	var ok views.Notice
	if err == nil {
		ok = infoNotice(appI18n.Tp(r.Context(), "ItemsGenerated", count))
	}
	h.respond(w, r, err, req.Mode, ok, h.practicePage(req.Mode))
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	answers := parseAnswers(r)
	err := h.do(r, func(_ context.Context, s *model.Session) error {
		score, err := h.svc.SubmitAnswers(s, answers)
		if err == nil {
			slog.Info("quiz submitted", "answered", len(s.Answers), "score", score, "total", len(s.QuizItems))
		}
		return err
	})
	h.respond(w, r, err, model.ModeQuiz, views.Notice{}, h.practicePage(model.ModeQuiz))
}

// parseAnswers collects answer-<index> form fields.
func parseAnswers(r *http.Request) map[int]string {
	answers := map[int]string{}
	for key, values := range r.PostForm {
		idx, ok := strings.CutPrefix(key, "answer-")
		if !ok || len(values) == 0 {
			continue
		}
		i, err := strconv.Atoi(idx)
		if err != nil {
			continue
		}
		answers[i] = values[0]
	}
	return answers
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	sess, err := h.view(r)
	if err != nil {
		slog.Error("failed to load session", "error", err)
		http.Error(w, appI18n.T(r.Context(), "ErrGeneric"), http.StatusInternalServerError)
		return
	}
	pack := model.PackFromSession(sess)
	if pack == nil {
		http.Error(w, appI18n.T(r.Context(), "ErrNothingToExport"), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "study-pack-"+string(pack.Mode)+".json"))
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(pack); err != nil {
		slog.Error("failed to write study pack", "error", err)
	}
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	id := model.SessionIDFromContext(r.Context())
	if err := h.manager.Delete(r.Context(), id); err != nil {
		slog.Error("failed to delete session", "session_id", id, "error", err)
	}
	h.setCookie(w, sessionCookieName, "", true)
	http.Redirect(w, r, h.path("/chat"), http.StatusSeeOther)
}
