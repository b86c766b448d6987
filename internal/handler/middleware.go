package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pavelanni/studybuddy/internal/model"
	"github.com/pavelanni/studybuddy/internal/study"
)

const (
	sessionCookieName = "study_session"
	csrfCookieName    = "csrf_token"
	csrfFieldName     = "csrf_token"
	csrfTokenBytes    = 32

	// Room for the non-file fields of a multipart upload.
	formOverhead = 1 << 20
)

var csrfTokenLen = base64.URLEncoding.EncodedLen(csrfTokenBytes)

type staleSessionCtxKey struct{}

func sessionWasStale(ctx context.Context) bool {
	stale, _ := ctx.Value(staleSessionCtxKey{}).(bool)
	return stale
}

// BasePathMiddleware stores the configured base path in the request context so
// views can build links.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// path prefixes an absolute application path with the base path.
func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) cookiePath() string {
	if h.config.BasePath != "" {
		return h.config.BasePath + "/"
	}
	return "/"
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, httpOnly bool) {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     h.cookiePath(),
		HttpOnly: httpOnly,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	if value == "" {
		c.MaxAge = -1
	}
	http.SetCookie(w, c)
}

// sessionMiddleware attaches the caller's study session, starting a new one when
// the cookie is missing or points to an expired session.
func (h *Handler) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
			_, err := h.manager.View(ctx, c.Value)
			switch {
			case err == nil:
				next.ServeHTTP(w, r.WithContext(model.ContextWithSessionID(ctx, c.Value)))
				return
			case errors.Is(err, study.ErrSessionExpired):
				slog.Info("session expired, starting a new one", "session_id", c.Value)
				ctx = context.WithValue(ctx, staleSessionCtxKey{}, true)
			default:
				slog.Error("failed to load session", "error", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
		}

		sess, err := h.manager.Create(ctx)
		if err != nil {
			slog.Error("failed to create session", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		h.setCookie(w, sessionCookieName, sess.ID, true)
		slog.Debug("session started", "session_id", sess.ID)
		next.ServeHTTP(w, r.WithContext(model.ContextWithSessionID(ctx, sess.ID)))
	})
}

func generateCSRFToken() (string, error) {
	b := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// csrfMiddleware implements the double-submit cookie pattern. A token is issued
// once and reused for as long as its cookie lives; every request other than GET
// and HEAD must echo the cookie value in csrf_token.
func (h *Handler) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			if status, ok := h.checkCSRF(w, r); !ok {
				http.Error(w, http.StatusText(status), status)
				return
			}
		}

		token, ok := existingCSRFToken(r)
		if !ok {
			var err error
			if token, err = generateCSRFToken(); err != nil {
				slog.Error("failed to generate CSRF token", "error", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			h.setCookie(w, csrfCookieName, token, false)
		}
		ctx := model.ContextWithCSRFToken(r.Context(), token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// existingCSRFToken returns the caller's token cookie when it is one this
// server could have issued.
func existingCSRFToken(r *http.Request) (string, bool) {
	c, err := r.Cookie(csrfCookieName)
	if err != nil || len(c.Value) != csrfTokenLen {
		return "", false
	}
	if _, err := base64.URLEncoding.DecodeString(c.Value); err != nil {
		return "", false
	}
	return c.Value, true
}

func (h *Handler) checkCSRF(w http.ResponseWriter, r *http.Request) (int, bool) {
	if err := h.parseForm(w, r); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			slog.Warn("request body too large", "limit", tooLarge.Limit)
			return http.StatusRequestEntityTooLarge, false
		}
		slog.Warn("failed to parse form", "error", err)
		return http.StatusBadRequest, false
	}

	cookie, err := r.Cookie(csrfCookieName)
	if err != nil || cookie.Value == "" {
		slog.Warn("CSRF cookie missing")
		return http.StatusForbidden, false
	}
	formToken := r.FormValue(csrfFieldName)
	if formToken == "" {
		slog.Warn("CSRF form token missing")
		return http.StatusForbidden, false
	}
	if len(formToken) != len(cookie.Value) || subtle.ConstantTimeCompare([]byte(formToken), []byte(cookie.Value)) != 1 {
		slog.Warn("CSRF token mismatch")
		return http.StatusForbidden, false
	}
	return 0, true
}

// parseForm reads the request body under the configured size limit.
func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes+formOverhead)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return r.ParseMultipartForm(h.config.MaxUploadBytes)
	}
	return r.ParseForm()
}
