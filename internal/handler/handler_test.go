package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/pavelanni/studybuddy/internal/i18n"
	"github.com/pavelanni/studybuddy/internal/llm"
	"github.com/pavelanni/studybuddy/internal/model"
	"github.com/pavelanni/studybuddy/internal/store"
	"github.com/pavelanni/studybuddy/internal/study"
)

const quizJSON = `[{"question":"2+2?","options":["3","4","5","6"],"correct":"4"}]`

func TestMain(m *testing.M) {
	if err := appI18n.Init("en"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

// scriptedOracle replays canned replies in order. An empty script answers "ok".
type scriptedOracle struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   int
}

func (o *scriptedOracle) Complete(_ context.Context, _, _ string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.err != nil {
		return "", o.err
	}
	if len(o.replies) == 0 {
		return "ok", nil
	}
	r := o.replies[0]
	o.replies = o.replies[1:]
	return r, nil
}

func (o *scriptedOracle) script(err error, replies ...string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
	o.replies = replies
}

func (o *scriptedOracle) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

type loaderFunc func([]byte) (string, error)

func (f loaderFunc) Load(data []byte) (string, error) { return f(data) }

type testClient struct {
	t      *testing.T
	srv    *httptest.Server
	client *http.Client
	base   string
}

func newTestServer(t *testing.T, oracle llm.Oracle, basePath string) *testClient {
	t.Helper()
	s, err := store.New(store.MemoryDSN, time.Hour)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	loader := loaderFunc(func(data []byte) (string, error) {
		return "text of " + string(data), nil
	})
	h, err := New(study.NewManager(s), study.NewService(oracle, loader), model.StudyConfig{
		BasePath:       basePath,
		MaxUploadBytes: 1 << 10,
		DefaultCount:   3,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	jar, _ := cookiejar.New(nil)
	return &testClient{t: t, srv: srv, client: &http.Client{Jar: jar}, base: srv.URL + basePath}
}

func (c *testClient) cookie(name string) string {
	u, _ := url.Parse(c.base + "/")
	for _, ck := range c.client.Jar.Cookies(u) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

func (c *testClient) get(path string) (int, string) {
	c.t.Helper()
	resp, err := c.client.Get(c.base + path)
	if err != nil {
		c.t.Fatalf("GET %s: %v", path, err)
	}
	return readBody(c.t, resp)
}

// post submits a form with the current CSRF token, fetching a page first when
// no token has been issued yet.
func (c *testClient) post(path string, form url.Values) (int, string) {
	c.t.Helper()
	if c.cookie(csrfCookieName) == "" {
		c.get("/chat")
	}
	if form == nil {
		form = url.Values{}
	}
	form.Set(csrfFieldName, c.cookie(csrfCookieName))
	resp, err := c.client.PostForm(c.base+path, form)
	if err != nil {
		c.t.Fatalf("POST %s: %v", path, err)
	}
	return readBody(c.t, resp)
}

func (c *testClient) upload(path, filename string, data []byte) (int, string) {
	c.t.Helper()
	if c.cookie(csrfCookieName) == "" {
		c.get("/document")
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField(csrfFieldName, c.cookie(csrfCookieName))
	if filename != "" {
		fw, err := mw.CreateFormFile("document", filename)
		if err != nil {
			c.t.Fatalf("CreateFormFile: %v", err)
		}
		_, _ = fw.Write(data)
	}
	_ = mw.Close()

	resp, err := c.client.Post(c.base+path, mw.FormDataContentType(), &buf)
	if err != nil {
		c.t.Fatalf("POST %s: %v", path, err)
	}
	return readBody(c.t, resp)
}

func readBody(t *testing.T, resp *http.Response) (int, string) {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(b)
}

func assertContains(t *testing.T, body string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(body, w) {
			t.Errorf("body does not contain %q", w)
		}
	}
}

func TestHealthz(t *testing.T) {
	c := newTestServer(t, &scriptedOracle{}, "")
	status, body := c.get("/healthz")
	if status != http.StatusOK || strings.TrimSpace(body) != "ok" {
		t.Errorf("healthz = %d %q", status, body)
	}
	if c.cookie(sessionCookieName) != "" {
		t.Error("healthz should not start a session")
	}
}

func TestFirstVisitStartsSession(t *testing.T) {
	c := newTestServer(t, &scriptedOracle{}, "")
	status, body := c.get("/")
	if status != http.StatusOK {
		t.Fatalf("GET / = %d", status)
	}
	assertContains(t, body, "Ask Your Doubts", "Study Buddy")
	first := c.cookie(sessionCookieName)
	if first == "" {
		t.Fatal("session cookie not set")
	}

	c.get("/practice")
	if got := c.cookie(sessionCookieName); got != first {
		t.Errorf("session changed between requests: %q -> %q", first, got)
	}
}

func TestPostWithoutCSRFIsRejected(t *testing.T) {
	c := newTestServer(t, &scriptedOracle{}, "")
	c.get("/chat")

	resp, err := c.client.PostForm(c.base+"/chat", url.Values{"message": {"hi"}})
	if err != nil {
		t.Fatal(err)
	}
	status, _ := readBody(t, resp)
	if status != http.StatusForbidden {
		t.Errorf("status = %d, want 403", status)
	}

	resp, err = c.client.PostForm(c.base+"/chat", url.Values{"message": {"hi"}, csrfFieldName: {"forged"}})
	if err != nil {
		t.Fatal(err)
	}
	status, _ = readBody(t, resp)
	if status != http.StatusForbidden {
		t.Errorf("forged token status = %d, want 403", status)
	}
}

func TestChat(t *testing.T) {
	oracle := &scriptedOracle{}
	c := newTestServer(t, oracle, "")

	oracle.script(nil, "Photosynthesis converts light to energy.")
	status, body := c.post("/chat", url.Values{"message": {"What is photosynthesis?"}})
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	assertContains(t, body, "What is photosynthesis?", "Photosynthesis converts light to energy.")

	oracle.script(fmt.Errorf("%w: boom", llm.ErrUnavailable))
	status, body = c.post("/chat", url.Values{"message": {"second question"}})
	if status != http.StatusOK {
		t.Errorf("oracle failure status = %d, want 200", status)
	}
	assertContains(t, body, "Error connecting to AI. Please try again.")
	if strings.Contains(body, "second question") {
		t.Error("failed exchange should not be added to history")
	}

	oracle.script(nil)
	_, body = c.post("/chat/clear", nil)
	assertContains(t, body, "No messages yet.")
}

func TestGenerateAndSubmitQuiz(t *testing.T) {
	oracle := &scriptedOracle{}
	c := newTestServer(t, oracle, "")

	oracle.script(nil, "```json\n"+quizJSON+"\n```")
	status, body := c.post("/practice/generate", url.Values{
		"mode": {"quiz"}, "source": {"topic"}, "topic": {"Arithmetic"}, "count": {"1"},
	})
	if status != http.StatusOK {
		t.Fatalf("generate status = %d", status)
	}
	assertContains(t, body, "2+2?", "1 item generated.", `name="answer-0"`)

	status, body = c.post("/practice/submit", url.Values{"answer-0": {"4"}})
	if status != http.StatusOK {
		t.Fatalf("submit status = %d", status)
	}
	assertContains(t, body, "You scored: 1 / 1", "Correct: 4")

	_, body = c.post("/practice/submit", url.Values{"answer-0": {"3"}})
	assertContains(t, body, "You scored: 0 / 1")
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name       string
		form       url.Values
		reply      string
		wantStatus int
		wantText   string
		wantCalls  int
	}{
		{
			name:       "count out of range",
			form:       url.Values{"mode": {"quiz"}, "source": {"topic"}, "topic": {"x"}, "count": {"0"}},
			wantStatus: http.StatusBadRequest,
			wantText:   "must be between 1 and 20",
		},
		{
			name:       "count not a number",
			form:       url.Values{"mode": {"quiz"}, "source": {"topic"}, "topic": {"x"}, "count": {"many"}},
			wantStatus: http.StatusBadRequest,
			wantText:   "must be between 1 and 20",
		},
		{
			name:       "empty topic",
			form:       url.Values{"mode": {"flashcards"}, "source": {"topic"}, "topic": {"  "}, "count": {"3"}},
			wantStatus: http.StatusBadRequest,
			wantText:   "Please enter some text first.",
		},
		{
			name:       "document without upload",
			form:       url.Values{"mode": {"quiz"}, "source": {"document"}, "count": {"3"}},
			wantStatus: http.StatusBadRequest,
			wantText:   "Upload and process a PDF first.",
		},
		{
			name:       "malformed quiz",
			form:       url.Values{"mode": {"quiz"}, "source": {"topic"}, "topic": {"x"}, "count": {"1"}},
			reply:      "Sure! Here is your quiz.",
			wantStatus: http.StatusOK,
			wantText:   "Error generating quiz.",
			wantCalls:  1,
		},
		{
			name:       "malformed flashcards",
			form:       url.Values{"mode": {"flashcards"}, "source": {"topic"}, "topic": {"x"}, "count": {"1"}},
			reply:      `[{"front":"only front"}]`,
			wantStatus: http.StatusOK,
			wantText:   "Error generating flashcards.",
			wantCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := &scriptedOracle{}
			c := newTestServer(t, oracle, "")
			oracle.script(nil, tt.reply)

			status, body := c.post("/practice/generate", tt.form)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			assertContains(t, body, tt.wantText)
			if got := oracle.callCount(); got != tt.wantCalls {
				t.Errorf("oracle calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestFlashcardsRenderAsCards(t *testing.T) {
	oracle := &scriptedOracle{}
	c := newTestServer(t, oracle, "")
	oracle.script(nil, `[{"front":"Osmosis","back":"Diffusion of water"},{"front":"ATP","back":"Energy carrier"}]`)

	status, body := c.post("/practice/generate", url.Values{
		"mode": {"flashcards"}, "source": {"topic"}, "topic": {"Biology"}, "count": {"2"},
	})
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	assertContains(t, body, "Osmosis", "Diffusion of water", "2 items generated.")
	if n := strings.Count(body, `class="card"`); n != 2 {
		t.Errorf("rendered %d cards, want 2", n)
	}
}

func TestDocumentFlow(t *testing.T) {
	oracle := &scriptedOracle{}
	c := newTestServer(t, oracle, "")

	status, body := c.upload("/document", "notes.pdf", []byte("cell biology"))
	if status != http.StatusOK {
		t.Fatalf("upload status = %d", status)
	}
	assertContains(t, body, "PDF loaded successfully!", "notes.pdf")

	oracle.script(nil, "- cells are small")
	_, body = c.post("/document/summary", nil)
	assertContains(t, body, "- cells are small")

	oracle.script(nil, "Mitochondria: powerhouse")
	_, body = c.post("/document/terms", nil)
	assertContains(t, body, "Mitochondria: powerhouse", "- cells are small")

	oracle.script(nil, "They are small.")
	_, body = c.post("/document/ask", url.Values{"question": {"How big are cells?"}})
	assertContains(t, body, "They are small.", "How big are cells?")

	oracle.script(nil, quizJSON)
	status, body = c.post("/practice/generate", url.Values{"mode": {"quiz"}, "source": {"document"}, "count": {"1"}})
	if status != http.StatusOK {
		t.Fatalf("generate from document status = %d", status)
	}
	assertContains(t, body, "2+2?")
}

func TestDocumentErrors(t *testing.T) {
	oracle := &scriptedOracle{}
	c := newTestServer(t, oracle, "")

	status, body := c.post("/document/summary", nil)
	if status != http.StatusBadRequest {
		t.Errorf("summary without document = %d, want 400", status)
	}
	assertContains(t, body, "Upload and process a PDF first.")

	status, body = c.upload("/document", "", nil)
	if status != http.StatusBadRequest {
		t.Errorf("upload without file = %d, want 400", status)
	}
	assertContains(t, body, "Choose a PDF file to upload.")

	status, _ = c.upload("/document", "big.pdf", bytes.Repeat([]byte("x"), 4<<10))
	if status != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized upload = %d, want 413", status)
	}
	if oracle.callCount() != 0 {
		t.Errorf("oracle should not be called, got %d calls", oracle.callCount())
	}
}

func TestExport(t *testing.T) {
	oracle := &scriptedOracle{}
	c := newTestServer(t, oracle, "")

	status, _ := c.get("/practice/export")
	if status != http.StatusNotFound {
		t.Errorf("export before generate = %d, want 404", status)
	}

	oracle.script(nil, quizJSON)
	c.post("/practice/generate", url.Values{"mode": {"quiz"}, "source": {"topic"}, "topic": {"Arithmetic"}, "count": {"1"}})

	resp, err := c.client.Get(c.base + "/practice/export")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var pack model.StudyPack
	if err := json.NewDecoder(resp.Body).Decode(&pack); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pack.Mode != model.ModeQuiz || pack.Topic != "Arithmetic" || pack.Count != 1 || len(pack.Quiz) != 1 {
		t.Errorf("unexpected pack: %+v", pack)
	}
}

var pageToken = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

func TestSubmitAfterExport(t *testing.T) {
	oracle := &scriptedOracle{}
	c := newTestServer(t, oracle, "")

	oracle.script(nil, quizJSON)
	status, body := c.post("/practice/generate", url.Values{"mode": {"quiz"}, "source": {"topic"}, "topic": {"Arithmetic"}, "count": {"1"}})
	if status != http.StatusOK {
		t.Fatalf("generate status = %d", status)
	}
	m := pageToken.FindStringSubmatch(body)
	if m == nil {
		t.Fatal("rendered page carries no CSRF token")
	}

	if status, _ := c.get("/practice/export"); status != http.StatusOK {
		t.Fatalf("export status = %d", status)
	}

	// Submit with the token from the page rendered before the download.
	resp, err := c.client.PostForm(c.base+"/practice/submit", url.Values{csrfFieldName: {m[1]}, "answer-0": {"4"}})
	if err != nil {
		t.Fatal(err)
	}
	status, body = readBody(t, resp)
	if status != http.StatusOK {
		t.Fatalf("submit status = %d, want 200", status)
	}
	assertContains(t, body, "You scored: 1 / 1")
}

func TestCSRFTokenStableAcrossPages(t *testing.T) {
	c := newTestServer(t, &scriptedOracle{}, "")

	_, first := c.get("/chat")
	issued := c.cookie(csrfCookieName)
	if issued == "" {
		t.Fatal("no CSRF cookie issued")
	}
	_, second := c.get("/practice")
	if got := c.cookie(csrfCookieName); got != issued {
		t.Errorf("cookie rotated from %q to %q", issued, got)
	}
	for _, body := range []string{first, second} {
		if m := pageToken.FindStringSubmatch(body); m == nil || m[1] != issued {
			t.Errorf("page token = %v, want %q", m, issued)
		}
	}
}

func TestResetStartsNewSession(t *testing.T) {
	oracle := &scriptedOracle{}
	c := newTestServer(t, oracle, "")

	oracle.script(nil, "hello back")
	c.post("/chat", url.Values{"message": {"hello"}})
	before := c.cookie(sessionCookieName)

	status, body := c.post("/session/reset", nil)
	if status != http.StatusOK {
		t.Fatalf("reset status = %d", status)
	}
	after := c.cookie(sessionCookieName)
	if after == "" || after == before {
		t.Errorf("expected a new session, before=%q after=%q", before, after)
	}
	if strings.Contains(body, "hello back") {
		t.Error("history survived reset")
	}
}

func TestBasePath(t *testing.T) {
	c := newTestServer(t, &scriptedOracle{}, "/study")
	c.client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	resp, err := c.client.Get(c.base + "/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if loc := resp.Header.Get("Location"); loc != "/study/chat" {
		t.Errorf("redirect = %q, want /study/chat", loc)
	}

	_, body := c.get("/chat")
	assertContains(t, body, `action="/study/chat"`, `href="/study/practice"`)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err        error
		mode       model.Mode
		wantID     string
		wantStatus int
	}{
		{llm.ErrUnavailable, "", "ErrUnavailable", http.StatusOK},
		{context.DeadlineExceeded, "", "ErrUnavailable", http.StatusOK},
		{study.ErrSessionExpired, "", "ErrSessionExpired", http.StatusOK},
		{study.ErrNoQuiz, model.ModeQuiz, "ErrNoQuiz", http.StatusBadRequest},
		{errFileTooLarge, "", "ErrFileTooLarge", http.StatusRequestEntityTooLarge},
		{errors.New("disk on fire"), "", "ErrGeneric", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		id, status := classify(fmt.Errorf("wrapped: %w", tt.err), tt.mode)
		if id != tt.wantID || status != tt.wantStatus {
			t.Errorf("classify(%v) = %s %d, want %s %d", tt.err, id, status, tt.wantID, tt.wantStatus)
		}
	}
}
