package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

// Bounds for the number of quiz questions or flashcards in one generation.
const (
	MinCount = 1
	MaxCount = 20
)

var (
	// ErrCountOutOfRange is returned when a requested item count is outside [MinCount, MaxCount].
	ErrCountOutOfRange = fmt.Errorf("count must be between %d and %d", MinCount, MaxCount)
	// ErrEmptyInput is returned when the source material or question is blank.
	ErrEmptyInput = errors.New("input is empty")
)

// MaxContextRunes caps the context blob sent with a prompt.
var MaxContextRunes = 400_000

//go:embed templates/*.txt
var templateFS embed.FS

// Task identifies a prompt template.
type Task string

const (
	TaskSummary    Task = "summary"
	TaskKeyTerms   Task = "key_terms"
	TaskAnswer     Task = "answer"
	TaskQuiz       Task = "quiz"
	TaskFlashcards Task = "flashcards"
)

var allTasks = []Task{TaskSummary, TaskKeyTerms, TaskAnswer, TaskQuiz, TaskFlashcards}

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[Task]*template.Template
)

// Prompt is an instruction plus the material it refers to.
type Prompt struct {
	Task        Task
	Instruction string
	Context     string
}

type templateData struct {
	Question string
	Count    int
}

func load() error {
	loadOnce.Do(func() {
		templates = make(map[Task]*template.Template)
		for _, task := range allTasks {
			file := "templates/" + string(task) + ".txt"
			content, err := templateFS.ReadFile(file)
			if err != nil {
				loadErr = errors.New("failed to read prompt file " + file + ": " + err.Error())
				return
			}
			tmpl, err := template.New(string(task)).Parse(string(content))
			if err != nil {
				loadErr = errors.New("failed to parse prompt template " + file + ": " + err.Error())
				return
			}
			templates[task] = tmpl
		}
	})
	return loadErr
}

func build(task Task, data templateData, material string) (Prompt, error) {
	if err := load(); err != nil {
		return Prompt{}, err
	}
	var buf bytes.Buffer
	if err := templates[task].Execute(&buf, data); err != nil {
		return Prompt{}, fmt.Errorf("render %s prompt: %w", task, err)
	}
	return Prompt{
		Task:        task,
		Instruction: strings.TrimSpace(buf.String()),
		Context:     truncate(material),
	}, nil
}

// ValidateCount rejects counts outside [MinCount, MaxCount].
func ValidateCount(n int) error {
	if n < MinCount || n > MaxCount {
		return fmt.Errorf("%w: got %d", ErrCountOutOfRange, n)
	}
	return nil
}

// Chat wraps a free-form chat message. It carries no context.
func Chat(message string) (Prompt, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Prompt{}, ErrEmptyInput
	}
	return Prompt{Instruction: message}, nil
}

// Summary asks for a detailed bulleted summary of the document.
func Summary(text string) (Prompt, error) {
	if strings.TrimSpace(text) == "" {
		return Prompt{}, ErrEmptyInput
	}
	return build(TaskSummary, templateData{}, text)
}

// KeyTerms asks for the ten most important technical terms with definitions.
func KeyTerms(text string) (Prompt, error) {
	if strings.TrimSpace(text) == "" {
		return Prompt{}, ErrEmptyInput
	}
	return build(TaskKeyTerms, templateData{}, text)
}

// Answer asks a question to be answered from the document only. The restriction is
// an instruction to the model; nothing checks the reply against the document.
func Answer(question, text string) (Prompt, error) {
	question = strings.TrimSpace(question)
	if question == "" || strings.TrimSpace(text) == "" {
		return Prompt{}, ErrEmptyInput
	}
	return build(TaskAnswer, templateData{Question: question}, text)
}

// Quiz asks for count multiple-choice questions as a raw JSON array.
func Quiz(source string, count int) (Prompt, error) {
	if err := ValidateCount(count); err != nil {
		return Prompt{}, err
	}
	if strings.TrimSpace(source) == "" {
		return Prompt{}, ErrEmptyInput
	}
	return build(TaskQuiz, templateData{Count: count}, source)
}

// Flashcards asks for count front/back cards as a raw JSON array.
func Flashcards(source string, count int) (Prompt, error) {
	if err := ValidateCount(count); err != nil {
		return Prompt{}, err
	}
	if strings.TrimSpace(source) == "" {
		return Prompt{}, ErrEmptyInput
	}
	return build(TaskFlashcards, templateData{Count: count}, source)
}

func truncate(s string) string {
	if MaxContextRunes <= 0 || utf8.RuneCountInString(s) <= MaxContextRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxContextRunes]) + "\n\n[Material truncated due to length]"
}
