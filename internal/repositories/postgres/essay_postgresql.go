package postgres

import (
	"context"

	"github.com/lingoreach/exam-session-service/internal/models"
	"github.com/lingoreach/exam-session-service/internal/repositories"
	"gorm.io/gorm"
)

type EssayPostgreSQL struct {
	db *gorm.DB
}

func NewEssayPostgreSQL(db *gorm.DB) repositories.EssayRepository {
	return &EssayPostgreSQL{db: db}
}

func (e EssayPostgreSQL) GetBySubmission(ctx context.Context, submissionID uint, sectionItemIDs []uint) ([]*models.PersistedEssay, error) {
	if len(sectionItemIDs) == 0 {
		return nil, nil
	}

	var essays []*models.PersistedEssay
	if err := e.db.WithContext(ctx).
		Where("submission_id = ? AND section_item_id IN ?", submissionID, sectionItemIDs).
		Find(&essays).Error; err != nil {
		return nil, err
	}

	return essays, nil
}

func (e EssayPostgreSQL) Create(ctx context.Context, essay *models.PersistedEssay) error {
	return e.db.WithContext(ctx).Create(essay).Error
}

func (e EssayPostgreSQL) Patch(ctx context.Context, id uint, patch repositories.EssayPatch) error {
	updates := map[string]interface{}{}

	if patch.Content != nil {
		updates["content"] = *patch.Content
	}
	if patch.Score != nil {
		updates["score"] = *patch.Score
	}
	if patch.Comment != nil {
		updates["comment"] = *patch.Comment
	}

	if len(updates) == 0 {
		return nil
	}

	result := e.db.WithContext(ctx).
		Model(&models.PersistedEssay{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}
