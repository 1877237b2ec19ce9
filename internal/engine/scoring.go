package engine

import (
	"github.com/lingoreach/exam-session-service/internal/models"
)

// CorrectOptionID returns the option flagged correct for a question. When no
// option carries the flag the question is unscoreable and the caller must
// count it as wrong; ok reports whether a key exists.
func CorrectOptionID(q models.Question) (uint, bool) {
	for _, opt := range q.Options {
		if opt.IsCorrect {
			return opt.ID, true
		}
	}
	return 0, false
}

// CountCorrect joins persisted answers against the catalog snapshot and
// counts how many chose the option flagged correct. Answers for questions
// outside the snapshot, and questions without a correct option, count as
// wrong.
func CountCorrect(answers []*models.PersistedAnswer, questions map[uint]models.Question) int {
	correct := 0
	for _, a := range answers {
		q, ok := questions[a.QuestionID]
		if !ok {
			continue
		}
		key, ok := CorrectOptionID(q)
		if !ok {
			continue
		}
		if a.AnswerOptionID == key {
			correct++
		}
	}
	return correct
}

// ObjectiveScore is percent-correct on a 100-point scale. A section with zero
// questions scores 0 instead of dividing by zero.
func ObjectiveScore(correct, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(correct) / float64(total) * 100
}

// EssayShare rescales a raw 0-100 essay score into the prompt's fixed share
// of the 100-point aggregate, so each prompt contributes equally no matter
// how many prompts the test has. Raw values outside 0-100 are clamped.
func EssayShare(raw float64, promptCount int) float64 {
	if promptCount <= 0 {
		return 0
	}
	if raw < 0 {
		raw = 0
	}
	if raw > 100 {
		raw = 100
	}
	return raw / 100 * (100 / float64(promptCount))
}
