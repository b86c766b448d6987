package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/studybuddy/internal/document"
	"github.com/pavelanni/studybuddy/internal/handler"
	appI18n "github.com/pavelanni/studybuddy/internal/i18n"
	"github.com/pavelanni/studybuddy/internal/llm"
	"github.com/pavelanni/studybuddy/internal/llm/prompts"
	"github.com/pavelanni/studybuddy/internal/model"
	"github.com/pavelanni/studybuddy/internal/store"
	"github.com/pavelanni/studybuddy/internal/study"
)

const temperature = 0.7

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: could not read .env:", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "studybuddy",
		Short:        "AI study assistant: chat, PDF summaries, quizzes and flashcards",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, generateCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `studybuddy --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addLLMFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("provider", string(llm.ProviderGemini), "Completion provider (gemini, openai)")
	f.String("llm-url", "", "OpenAI-compatible API base URL (openai provider only)")
	f.String("api-key", "", "API key (or set STUDYBUDDY_API_KEY, GOOGLE_API_KEY, OPENAI_API_KEY)")
	f.String("model", "", "Model name (default depends on provider)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the study web app",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", store.MemoryDSN, "SQLite database path for sessions (:memory: keeps nothing after exit)")
	f.StringP("lang", "l", "en", "Default UI language (en, ru)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /study)")
	f.Bool("secure-cookies", true, "Set Secure flag on cookies")
	f.Duration("session-ttl", 2*time.Hour, "Idle time after which a session is discarded")
	f.Int64("max-upload", 20<<20, "Maximum PDF upload size in bytes")
	f.Int("default-count", 5, "Default number of quiz questions or flashcards")
	f.Bool("ping", false, "Check the completion provider before serving")
	addLLMFlags(cmd)
	return cmd
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a quiz or flashcard set and write it as JSON",
		RunE:  runGenerate,
	}
	f := cmd.Flags()
	f.StringP("mode", "m", string(model.ModeQuiz), "What to generate (quiz, flashcards)")
	f.StringP("topic", "t", "", "Topic to generate from")
	f.String("pdf", "", "PDF file to generate from (instead of --topic)")
	f.IntP("count", "n", 5, "Number of questions or cards (1-20)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLLMFlags(cmd)
	cmd.MarkFlagsMutuallyExclusive("topic", "pdf")
	cmd.MarkFlagsOneRequired("topic", "pdf")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("STUDYBUDDY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("studybuddy")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/studybuddy")
	v.AddConfigPath("/etc/studybuddy")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// llmConfig resolves the provider settings, falling back to the provider's
// conventional API key variable.
func llmConfig(v *viper.Viper) (llm.Config, error) {
	provider := strings.ToLower(strings.TrimSpace(v.GetString("provider")))
	if !llm.IsValidProvider(provider) {
		return llm.Config{}, fmt.Errorf("invalid provider %q (want gemini or openai)", provider)
	}
	cfg := llm.Config{
		Provider:    llm.Provider(provider),
		BaseURL:     v.GetString("llm-url"),
		APIKey:      v.GetString("api-key"),
		Model:       v.GetString("model"),
		Temperature: temperature,
	}

	fallbackEnv, defaultModel := "GOOGLE_API_KEY", llm.DefaultGeminiModel
	if cfg.Provider == llm.ProviderOpenAI {
		fallbackEnv, defaultModel = "OPENAI_API_KEY", llm.DefaultOpenAIModel
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(fallbackEnv)
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return cfg, fmt.Errorf("%w: set --api-key, STUDYBUDDY_API_KEY or %s (a .env file works too)",
			llm.ErrMissingCredential, fallbackEnv)
	}
	return cfg, nil
}

func newOracle(ctx context.Context, v *viper.Viper) (llm.Oracle, func(), error) {
	cfg, err := llmConfig(v)
	if err != nil {
		return nil, nil, err
	}
	oracle, err := llm.New(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create completion client: %w", err)
	}
	closeFn := func() {}
	if c, ok := oracle.(io.Closer); ok {
		closeFn = func() { _ = c.Close() }
	}
	slog.Info("completion client ready", "provider", cfg.Provider, "model", cfg.Model)
	return oracle, closeFn, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	oracle, closeOracle, err := newOracle(ctx, v)
	if err != nil {
		return err
	}
	defer closeOracle()

	if v.GetBool("ping") {
		pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := llm.Ping(pingCtx, oracle)
		cancel()
		if err != nil {
			return fmt.Errorf("completion provider health check: %w", err)
		}
		slog.Info("completion provider OK")
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	ttl := v.GetDuration("session-ttl")
	db, err := store.New(v.GetString("db"), ttl)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer db.Close()

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	cfg := model.StudyConfig{
		BasePath:       basePath,
		SecureCookies:  v.GetBool("secure-cookies"),
		MaxUploadBytes: v.GetInt64("max-upload"),
		DefaultCount:   v.GetInt("default-count"),
	}

	svc := study.NewService(oracle, document.NewPDFLoader())
	h, err := handler.New(study.NewManager(db), svc, cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"provider", v.GetString("provider"),
		"lang", lang,
		"languages", appI18n.Languages(),
		"db", v.GetString("db"),
		"session_ttl", ttl,
		"max_upload", cfg.MaxUploadBytes,
		"base_path", basePath,
	)
	return http.ListenAndServe(addr, r)
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	mode := model.Mode(strings.ToLower(v.GetString("mode")))
	if mode != model.ModeQuiz && mode != model.ModeFlashcards {
		return fmt.Errorf("invalid mode %q (want quiz or flashcards)", mode)
	}
	count := v.GetInt("count")
	if err := prompts.ValidateCount(count); err != nil {
		return err
	}

	oracle, closeOracle, err := newOracle(ctx, v)
	if err != nil {
		return err
	}
	defer closeOracle()

	svc := study.NewService(oracle, document.NewPDFLoader())
	sess := model.NewSession("cli", time.Now())
	req := study.GenerateRequest{Mode: mode, Source: model.SourceTopic, Topic: v.GetString("topic"), Count: count}

	if path := v.GetString("pdf"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if err := svc.LoadDocument(sess, filepath.Base(path), data); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		req.Source = model.SourceDocument
	}

	if err := svc.Generate(ctx, sess, req); err != nil {
		return fmt.Errorf("generate %s: %w", mode, err)
	}

	data, err := json.MarshalIndent(model.PackFromSession(sess), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	slog.Info("study pack written", "mode", mode, "count", count, "output", outPath)
	return nil
}
