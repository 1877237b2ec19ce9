package postgres

import (
	"context"

	"github.com/lingoreach/exam-session-service/internal/models"
	"github.com/lingoreach/exam-session-service/internal/repositories"
	"gorm.io/gorm"
)

type AnswerPostgreSQL struct {
	db *gorm.DB
}

func NewAnswerPostgreSQL(db *gorm.DB) repositories.AnswerRepository {
	return &AnswerPostgreSQL{db: db}
}

func (a AnswerPostgreSQL) GetBySubmission(ctx context.Context, submissionID uint, questionIDs []uint) ([]*models.PersistedAnswer, error) {
	if len(questionIDs) == 0 {
		return nil, nil
	}

	var answers []*models.PersistedAnswer
	if err := a.db.WithContext(ctx).
		Where("submission_id = ? AND question_id IN ?", submissionID, questionIDs).
		Find(&answers).Error; err != nil {
		return nil, err
	}

	return answers, nil
}
