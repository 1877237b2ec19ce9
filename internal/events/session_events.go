package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/lingoreach/exam-session-service/internal/models"
)

// EventType represents the session lifecycle events this service emits.
type EventType string

const (
	EventSessionOpened    EventType = "session.opened"
	EventSessionSubmitted EventType = "session.submitted"
	EventSessionScored    EventType = "session.scored"
)

// SessionEvent is the envelope for all published session events.
type SessionEvent struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Source    string      `json:"source"`
	Version   string      `json:"version"`
	Data      interface{} `json:"data"`
}

type SessionOpenedEvent struct {
	SessionID     string           `json:"session_id"`
	SubmissionID  uint             `json:"submission_id"`
	UserID        string           `json:"user_id"`
	SkillType     models.SkillType `json:"skill_type"`
	QuestionCount int              `json:"question_count"`
}

type SessionSubmittedEvent struct {
	SessionID    string           `json:"session_id"`
	SubmissionID uint             `json:"submission_id"`
	UserID       string           `json:"user_id"`
	SkillType    models.SkillType `json:"skill_type"`
	TimeSpent    int              `json:"time_spent"` // seconds
}

type SessionScoredEvent struct {
	SessionID      string           `json:"session_id"`
	SubmissionID   uint             `json:"submission_id"`
	UserID         string           `json:"user_id"`
	SkillType      models.SkillType `json:"skill_type"`
	Score          float64          `json:"score"`
	TotalQuestions int              `json:"total_questions"`
	CorrectAnswers int              `json:"correct_answers"`
}

// NewSessionEvent wraps a payload in the standard envelope.
func NewSessionEvent(eventType EventType, data interface{}) *SessionEvent {
	return &SessionEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    "exam-session-service",
		Version:   "1.0",
		Data:      data,
	}
}
