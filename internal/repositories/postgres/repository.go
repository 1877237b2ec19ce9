package postgres

import (
	"github.com/lingoreach/exam-session-service/internal/repositories"
	"gorm.io/gorm"
)

type gormRepository struct {
	catalog    repositories.CatalogRepository
	submission repositories.SubmissionRepository
	answer     repositories.AnswerRepository
	essay      repositories.EssayRepository
}

// NewRepository builds the aggregate repository backed by one gorm DB handle.
func NewRepository(db *gorm.DB) repositories.Repository {
	return &gormRepository{
		catalog:    NewCatalogPostgreSQL(db),
		submission: NewSubmissionPostgreSQL(db),
		answer:     NewAnswerPostgreSQL(db),
		essay:      NewEssayPostgreSQL(db),
	}
}

func (r *gormRepository) Catalog() repositories.CatalogRepository {
	return r.catalog
}

func (r *gormRepository) Submission() repositories.SubmissionRepository {
	return r.submission
}

func (r *gormRepository) Answer() repositories.AnswerRepository {
	return r.answer
}

func (r *gormRepository) Essay() repositories.EssayRepository {
	return r.essay
}
