package models

import (
	"time"

	"gorm.io/datatypes"
)

// SubmissionRecord is the persisted parent entity for one test attempt. It is
// mutated exactly once at terminal submission for objective skills, or
// incrementally per essay plus once for the aggregate for writing.
type SubmissionRecord struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"not null;index;size:255"`
	SkillType SkillType `json:"skill_type" gorm:"not null;index"`

	// Aggregate result, written by the scoring orchestrator
	Score          float64        `json:"score"`
	Comment        *string        `json:"comment" gorm:"type:text"`
	Strengths      datatypes.JSON `json:"strengths" gorm:"type:jsonb"`        // []string
	AreasToImprove datatypes.JSON `json:"areas_to_improve" gorm:"type:jsonb"` // []string
	Completed      bool           `json:"completed" gorm:"default:false;index"`

	// Elapsed session seconds, recorded at submit
	TimeSpent int `json:"time_spent"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Answers []PersistedAnswer `json:"answers" gorm:"foreignKey:SubmissionID"`
	Essays  []PersistedEssay  `json:"essays" gorm:"foreignKey:SubmissionID"`
}

// PersistedAnswer links a submission to the option a student chose for one
// objective question. One row per question per submission; absence means the
// question is unanswered.
type PersistedAnswer struct {
	ID             uint `json:"id" gorm:"primaryKey"`
	SubmissionID   uint `json:"submission_id" gorm:"not null;index:idx_answer_submission_question,unique"`
	QuestionID     uint `json:"question_id" gorm:"not null;index:idx_answer_submission_question,unique"`
	AnswerOptionID uint `json:"answer_option_id" gorm:"not null"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PersistedEssay holds the free-text answer for one writing prompt. Created
// lazily on the first content change and patched afterwards; the per-essay
// score and comment are written by the scoring orchestrator.
type PersistedEssay struct {
	ID            uint    `json:"id" gorm:"primaryKey"`
	SubmissionID  uint    `json:"submission_id" gorm:"not null;index:idx_essay_submission_section,unique"`
	SectionItemID uint    `json:"section_item_id" gorm:"not null;index:idx_essay_submission_section,unique"`
	Content       string  `json:"content" gorm:"type:text"`
	Score         *float64 `json:"score"`
	Comment       *string `json:"comment" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SubmissionRecord) TableName() string {
	return "submission_records"
}

func (PersistedAnswer) TableName() string {
	return "persisted_answers"
}

func (PersistedEssay) TableName() string {
	return "persisted_essays"
}
