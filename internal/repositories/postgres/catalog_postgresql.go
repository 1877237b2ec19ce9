package postgres

import (
	"context"

	"github.com/lingoreach/exam-session-service/internal/models"
	"github.com/lingoreach/exam-session-service/internal/repositories"
	"gorm.io/gorm"
)

type CatalogPostgreSQL struct {
	db *gorm.DB
}

func NewCatalogPostgreSQL(db *gorm.DB) repositories.CatalogRepository {
	return &CatalogPostgreSQL{db: db}
}

func (c CatalogPostgreSQL) GetActiveSectionItems(ctx context.Context, ids []uint) ([]*models.SectionItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var items []*models.SectionItem
	if err := c.db.WithContext(ctx).
		Where("id IN ? AND status = ?", ids, models.SectionActive).
		Find(&items).Error; err != nil {
		return nil, err
	}

	return items, nil
}

func (c CatalogPostgreSQL) GetActiveQuestions(ctx context.Context, sectionItemID uint) ([]*models.Question, error) {
	var questions []*models.Question
	if err := c.db.WithContext(ctx).
		Where("section_item_id = ? AND status = ?", sectionItemID, "Active").
		Order("position ASC").
		Preload("Options").
		Find(&questions).Error; err != nil {
		return nil, err
	}

	return questions, nil
}
