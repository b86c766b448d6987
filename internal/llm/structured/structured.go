// Package structured turns model output that should be a JSON array into validated
// quiz items or flashcards.
package structured

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/pavelanni/studybuddy/internal/llm/prompts"
	"github.com/pavelanni/studybuddy/internal/model"
)

// ErrMalformedResponse is returned when the text is not a JSON array of the expected shape.
var ErrMalformedResponse = errors.New("malformed model response")

// QuizOptions is the number of options every quiz item must have.
const QuizOptions = 4

// StripFences removes Markdown code fence markers anywhere in the text and trims
// surrounding whitespace. It is a literal replacement, not a Markdown parser.
func StripFences(raw string) string {
	raw = strings.ReplaceAll(raw, "```json", "")
	raw = strings.ReplaceAll(raw, "```", "")
	return strings.TrimSpace(raw)
}

// Pointer fields tell a missing key apart from an empty value.
type rawQuizItem struct {
	Question *string   `json:"question"`
	Options  *[]string `json:"options"`
	Correct  *string   `json:"correct"`
}

type rawFlashcard struct {
	Front *string `json:"front"`
	Back  *string `json:"back"`
}

// Quiz decodes and validates a quiz. Every item needs a question, exactly four
// options and a correct answer that is one of the options.
func Quiz(raw string) ([]model.QuizItem, error) {
	var items []rawQuizItem
	if err := decodeArray(raw, &items); err != nil {
		return nil, err
	}
	if err := checkLength(len(items)); err != nil {
		return nil, err
	}

	out := make([]model.QuizItem, 0, len(items))
	for i, it := range items {
		switch {
		case blank(it.Question):
			return nil, malformed("item %d: missing question", i)
		case it.Options == nil:
			return nil, malformed("item %d: missing options", i)
		case len(*it.Options) != QuizOptions:
			return nil, malformed("item %d: want %d options, got %d", i, QuizOptions, len(*it.Options))
		case blank(it.Correct):
			return nil, malformed("item %d: missing correct option", i)
		case !slices.Contains(*it.Options, *it.Correct):
			return nil, malformed("item %d: correct option %q is not one of the options", i, *it.Correct)
		}
		out = append(out, model.QuizItem{
			Question: *it.Question,
			Options:  slices.Clone(*it.Options),
			Correct:  *it.Correct,
		})
	}
	return out, nil
}

// Flashcards decodes and validates a flashcard set.
func Flashcards(raw string) ([]model.Flashcard, error) {
	var cards []rawFlashcard
	if err := decodeArray(raw, &cards); err != nil {
		return nil, err
	}
	if err := checkLength(len(cards)); err != nil {
		return nil, err
	}

	out := make([]model.Flashcard, 0, len(cards))
	for i, c := range cards {
		if blank(c.Front) {
			return nil, malformed("card %d: missing front", i)
		}
		if blank(c.Back) {
			return nil, malformed("card %d: missing back", i)
		}
		out = append(out, model.Flashcard{Front: *c.Front, Back: *c.Back})
	}
	return out, nil
}

func decodeArray(raw string, v any) error {
	clean := StripFences(raw)
	if !strings.HasPrefix(clean, "[") {
		return malformed("expected a JSON array")
	}
	if err := json.Unmarshal([]byte(clean), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func checkLength(n int) error {
	if n < prompts.MinCount || n > prompts.MaxCount {
		return malformed("expected %d to %d entries, got %d", prompts.MinCount, prompts.MaxCount, n)
	}
	return nil
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...))
}
