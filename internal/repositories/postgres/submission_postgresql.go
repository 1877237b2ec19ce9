package postgres

import (
	"context"
	"encoding/json"

	"github.com/lingoreach/exam-session-service/internal/models"
	"github.com/lingoreach/exam-session-service/internal/repositories"
	"gorm.io/gorm"
)

type SubmissionPostgreSQL struct {
	db *gorm.DB
}

func NewSubmissionPostgreSQL(db *gorm.DB) repositories.SubmissionRepository {
	return &SubmissionPostgreSQL{db: db}
}

func (s SubmissionPostgreSQL) GetByID(ctx context.Context, id uint) (*models.SubmissionRecord, error) {
	var record models.SubmissionRecord
	if err := s.db.WithContext(ctx).First(&record, id).Error; err != nil {
		return nil, err
	}

	return &record, nil
}

func (s SubmissionPostgreSQL) GetByIDWithDetails(ctx context.Context, id uint) (*models.SubmissionRecord, error) {
	var record models.SubmissionRecord
	if err := s.db.WithContext(ctx).
		Preload("Answers").
		Preload("Essays").
		First(&record, id).Error; err != nil {
		return nil, err
	}

	return &record, nil
}

func (s SubmissionPostgreSQL) Patch(ctx context.Context, id uint, patch repositories.SubmissionPatch) error {
	updates := map[string]interface{}{}

	if patch.Score != nil {
		updates["score"] = *patch.Score
	}
	if patch.Comment != nil {
		updates["comment"] = *patch.Comment
	}
	if patch.Strengths != nil {
		data, err := json.Marshal(patch.Strengths)
		if err != nil {
			return err
		}
		updates["strengths"] = data
	}
	if patch.AreasToImprove != nil {
		data, err := json.Marshal(patch.AreasToImprove)
		if err != nil {
			return err
		}
		updates["areas_to_improve"] = data
	}
	if patch.Completed != nil {
		updates["completed"] = *patch.Completed
	}
	if patch.TimeSpent != nil {
		updates["time_spent"] = *patch.TimeSpent
	}

	if len(updates) == 0 {
		return nil
	}

	result := s.db.WithContext(ctx).
		Model(&models.SubmissionRecord{}).
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
