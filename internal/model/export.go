package model

import "time"

// StudyPack is the JSON document produced by `studybuddy generate` and the
// practice export download.
type StudyPack struct {
	Mode        Mode        `json:"mode"`
	Source      Source      `json:"source"`
	Topic       string      `json:"topic,omitempty"`
	Document    string      `json:"document,omitempty"`
	GeneratedAt time.Time   `json:"generated_at"`
	Count       int         `json:"count"`
	Quiz        []QuizItem  `json:"quiz,omitempty"`
	Flashcards  []Flashcard `json:"flashcards,omitempty"`
}

// PackFromSession builds a StudyPack from whatever practice set the session holds.
// It returns nil when nothing has been generated yet.
func PackFromSession(s *Session) *StudyPack {
	if len(s.QuizItems) == 0 && len(s.Flashcards) == 0 {
		return nil
	}
	p := &StudyPack{
		Source:     s.PracticeSource,
		Quiz:       s.QuizItems,
		Flashcards: s.Flashcards,
	}
	if p.Source == SourceDocument {
		p.Document = s.PracticeDocument
	} else {
		p.Topic = s.PracticeTopic
	}
	if s.GeneratedAt != nil {
		p.GeneratedAt = *s.GeneratedAt
	}
	if len(s.QuizItems) > 0 {
		p.Mode = ModeQuiz
		p.Count = len(s.QuizItems)
	} else {
		p.Mode = ModeFlashcards
		p.Count = len(s.Flashcards)
	}
	return p
}
