package repositories

import (
	"context"

	"github.com/lingoreach/exam-session-service/internal/models"
)

// CatalogRepository reads test content. The catalog is owned by the course
// service; the session engine never writes through it.
type CatalogRepository interface {
	// GetActiveSectionItems returns the active items among ids, preserving no
	// particular order. Inactive or missing ids are omitted, not errors.
	GetActiveSectionItems(ctx context.Context, ids []uint) ([]*models.SectionItem, error)

	// GetActiveQuestions returns a section item's active questions with their
	// options, ordered by position.
	GetActiveQuestions(ctx context.Context, sectionItemID uint) ([]*models.Question, error)
}

// SubmissionPatch is the partial-update payload for a submission record.
// Nil fields are left untouched.
type SubmissionPatch struct {
	Score          *float64
	Comment        *string
	Strengths      []string
	AreasToImprove []string
	Completed      *bool
	TimeSpent      *int
}

type SubmissionRepository interface {
	GetByID(ctx context.Context, id uint) (*models.SubmissionRecord, error)
	GetByIDWithDetails(ctx context.Context, id uint) (*models.SubmissionRecord, error) // include answers, essays
	Patch(ctx context.Context, id uint, patch SubmissionPatch) error
}

type AnswerRepository interface {
	// GetBySubmission returns the persisted answers for the given questions.
	// Absence of a row means the question is unanswered.
	GetBySubmission(ctx context.Context, submissionID uint, questionIDs []uint) ([]*models.PersistedAnswer, error)
}

// EssayPatch is the partial-update payload for a persisted essay.
type EssayPatch struct {
	Content *string
	Score   *float64
	Comment *string
}

type EssayRepository interface {
	GetBySubmission(ctx context.Context, submissionID uint, sectionItemIDs []uint) ([]*models.PersistedEssay, error)
	Create(ctx context.Context, essay *models.PersistedEssay) error
	Patch(ctx context.Context, id uint, patch EssayPatch) error
}

// Repository aggregates the per-entity repositories the session service
// depends on.
type Repository interface {
	Catalog() CatalogRepository
	Submission() SubmissionRepository
	Answer() AnswerRepository
	Essay() EssayRepository
}
