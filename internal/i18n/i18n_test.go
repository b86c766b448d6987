package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return WithLocalizer(context.Background(), NewLocalizer(lang))
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		lang string
		id   string
		want string
	}{
		{"en", "AppTitle", "Study Buddy"},
		{"en", "ModeQuiz", "Quiz (MCQ)"},
		{"en", "ErrUnavailable", "Error connecting to AI. Please try again."},
		{"ru", "AppTitle", "Помощник в учёбе"},
		{"ru", "Generate", "Создать"},
		{"de", "AppTitle", "Study Buddy"},
	}
	for _, tt := range tests {
		t.Run(tt.lang+"/"+tt.id, func(t *testing.T) {
			ctx := initLang(t, tt.lang)
			if got := T(ctx, tt.id); got != tt.want {
				t.Errorf("T(%s) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")
	if got := Tp(ctx, "ItemsGenerated", 1); got != "1 item generated." {
		t.Errorf("Tp(1) = %q", got)
	}
	if got := Tp(ctx, "ItemsGenerated", 5); got != "5 items generated." {
		t.Errorf("Tp(5) = %q", got)
	}

	ctx = initLang(t, "ru")
	if got := Tp(ctx, "ItemsGenerated", 5); got != "Создано 5 элементов." {
		t.Errorf("Tp(ru, 5) = %q", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")
	got := Td(ctx, "ScoreResult", map[string]any{"Score": 2, "Total": 3})
	if got != "You scored: 2 / 3" {
		t.Errorf("Td(ScoreResult) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")
	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want the id back", got)
	}
}

func TestLanguages(t *testing.T) {
	initLang(t, "en")
	langs := Languages()
	for _, want := range []string{"en", "ru"} {
		if !slices.Contains(langs, want) {
			t.Errorf("Languages() = %v, missing %s", langs, want)
		}
	}
}

func TestMiddlewareNegotiation(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	var got string
	h := Middleware("en")(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "AppTitle")
	}))

	tests := []struct {
		name   string
		target string
		accept string
		cookie string
		want   string
	}{
		{"default", "/", "", "", "Study Buddy"},
		{"accept header", "/", "ru-RU,ru;q=0.9", "", "Помощник в учёбе"},
		{"query wins", "/?lang=en", "ru", "", "Study Buddy"},
		{"cookie", "/", "en", "ru", "Помощник в учёбе"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.accept != "" {
				req.Header.Set("Accept-Language", tt.accept)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: LangCookie, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if got != tt.want {
				t.Errorf("AppTitle = %q, want %q", got, tt.want)
			}
		})
	}
}
