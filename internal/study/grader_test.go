package study

import (
	"testing"

	"github.com/pavelanni/studybuddy/internal/model"
)

func sampleQuiz() []model.QuizItem {
	return []model.QuizItem{
		{Question: "2+2?", Options: []string{"3", "4", "5", "6"}, Correct: "4"},
		{Question: "Capital of France?", Options: []string{"Lyon", "Paris", "Nice", "Lille"}, Correct: "Paris"},
		{Question: "H2O is?", Options: []string{"Water", "Salt", "Air", "Gold"}, Correct: "Water"},
	}
}

func TestGrade(t *testing.T) {
	single := []model.QuizItem{{Question: "2+2?", Options: []string{"3", "4", "5", "6"}, Correct: "4"}}

	tests := []struct {
		name    string
		items   []model.QuizItem
		answers map[int]string
		want    int
	}{
		{"single correct", single, map[int]string{0: "4"}, 1},
		{"single wrong", single, map[int]string{0: "3"}, 0},
		{"single missing", single, map[int]string{}, 0},
		{"nil answers", single, nil, 0},
		{"no items", nil, map[int]string{0: "4"}, 0},
		{"all correct", sampleQuiz(), map[int]string{0: "4", 1: "Paris", 2: "Water"}, 3},
		{"partial", sampleQuiz(), map[int]string{0: "4", 2: "Gold"}, 1},
		{"case sensitive", sampleQuiz(), map[int]string{1: "paris"}, 0},
		{"out of range index ignored", sampleQuiz(), map[int]string{7: "4", -1: "Paris"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Grade(tt.items, tt.answers)
			if got != tt.want {
				t.Errorf("Grade() = %d, want %d", got, tt.want)
			}
			if got < 0 || got > len(tt.items) {
				t.Errorf("Grade() = %d outside [0, %d]", got, len(tt.items))
			}
		})
	}
}

func TestGradeIdempotent(t *testing.T) {
	items := sampleQuiz()
	answers := map[int]string{0: "4", 1: "Lyon"}
	first := Grade(items, answers)
	second := Grade(items, answers)
	if first != second {
		t.Errorf("Grade is not deterministic: %d then %d", first, second)
	}
	if len(answers) != 2 || answers[1] != "Lyon" {
		t.Errorf("Grade mutated answers: %v", answers)
	}
}
