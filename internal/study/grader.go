package study

import "github.com/pavelanni/studybuddy/internal/model"

// Grade counts the items whose submitted answer exactly matches the correct option.
// Missing answers count as incorrect. The result is always in [0, len(items)].
func Grade(items []model.QuizItem, answers map[int]string) int {
	score := 0
	for i, item := range items {
		if ans, ok := answers[i]; ok && ans == item.Correct {
			score++
		}
	}
	return score
}
