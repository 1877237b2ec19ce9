package models

import (
	"time"
)

type SkillType string

const (
	SkillVocabulary SkillType = "vocabulary"
	SkillGrammar    SkillType = "grammar"
	SkillReading    SkillType = "reading"
	SkillListening  SkillType = "listening"
	SkillSpeaking   SkillType = "speaking"
	SkillWriting    SkillType = "writing"
)

type SectionKind string

const (
	// SectionObjective covers listening and reading: a section item owns a
	// set of multiple-choice questions.
	SectionObjective SectionKind = "objective"
	// SectionWriting treats the section item itself as the atomic unit: one
	// item is one essay prompt.
	SectionWriting SectionKind = "writing"
)

type SectionStatus string

const (
	SectionActive   SectionStatus = "Active"
	SectionInactive SectionStatus = "Inactive"
)

// SectionItem is one unit of test content: a listening clip, a reading
// passage or a writing prompt. Owned by the course catalog; the session
// engine only ever reads it.
type SectionItem struct {
	ID        uint          `json:"id" gorm:"primaryKey"`
	SkillType SkillType     `json:"skill_type" gorm:"not null;index" validate:"required"`
	Kind      SectionKind   `json:"kind" gorm:"not null" validate:"required,section_kind"`
	Title     string        `json:"title" gorm:"not null;size:200"`
	Status    SectionStatus `json:"status" gorm:"default:Active;index"`

	// Media or passage reference for listening/reading sections
	ContentRef *string `json:"content_ref" gorm:"type:text"`

	// Writing-only prompt fields
	Topic    *string `json:"topic" gorm:"type:text"`
	MinWords *int    `json:"min_words"`
	MaxWords *int    `json:"max_words"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Questions []Question `json:"questions" gorm:"foreignKey:SectionItemID"`
}

// Question belongs to an objective section item. Immutable during a session.
type Question struct {
	ID            uint    `json:"id" gorm:"primaryKey"`
	SectionItemID uint    `json:"section_item_id" gorm:"not null;index"`
	Content       string  `json:"content" gorm:"type:text;not null"`
	Explanation   *string `json:"explanation" gorm:"type:text"`
	Position      int     `json:"position" gorm:"not null;default:0"`
	Status        string  `json:"status" gorm:"default:Active;index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Options []AnswerOption `json:"options" gorm:"foreignKey:QuestionID"`
}

// AnswerOption is one selectable choice of a question. Exactly one option per
// question is expected to carry IsCorrect, but the engine never assumes it: a
// question with no correct option is unscoreable and counts as wrong.
type AnswerOption struct {
	ID         uint   `json:"id" gorm:"primaryKey"`
	QuestionID uint   `json:"question_id" gorm:"not null;index"`
	Content    string `json:"content" gorm:"type:text;not null"`
	IsCorrect  bool   `json:"is_correct" gorm:"default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SectionItem) TableName() string {
	return "section_items"
}

func (Question) TableName() string {
	return "questions"
}

func (AnswerOption) TableName() string {
	return "answer_options"
}
