package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lingoreach/exam-session-service/internal/repositories"
	"github.com/xuri/excelize/v2"
)

// ExportService renders completed submissions as downloadable reports.
type ExportService interface {
	ExportSubmissionReport(ctx context.Context, submissionID uint, userID string) ([]byte, error)
}

type exportService struct {
	repo   repositories.Repository
	logger *slog.Logger
}

func NewExportService(repo repositories.Repository, logger *slog.Logger) ExportService {
	return &exportService{repo: repo, logger: logger}
}

// ExportSubmissionReport builds an Excel score report for a completed
// submission: a summary sheet with the aggregate result, plus a per-essay
// sheet for writing submissions.
func (s *exportService) ExportSubmissionReport(ctx context.Context, submissionID uint, userID string) ([]byte, error) {
	record, err := s.repo.Submission().GetByIDWithDetails(ctx, submissionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	if record.UserID != userID {
		return nil, NewPermissionError(userID, fmt.Sprint(submissionID), "submission", "export_report", "not owned by user")
	}
	if !record.Completed {
		return nil, ErrSubmissionNotCompleted
	}

	f := excelize.NewFile()
	sheetName := "Summary"

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create Excel sheet: %w", err)
	}
	f.SetActiveSheet(index)

	comment := ""
	if record.Comment != nil {
		comment = *record.Comment
	}

	rows := [][]interface{}{
		{"Submission ID", record.ID},
		{"Skill", string(record.SkillType)},
		{"Score", record.Score},
		{"Comment", comment},
		{"Strengths", joinJSONList([]byte(record.Strengths))},
		{"Areas To Improve", joinJSONList([]byte(record.AreasToImprove))},
		{"Time Spent (minutes)", record.TimeSpent / 60},
		{"Completed At", record.UpdatedAt.Format("2006-01-02 15:04:05")},
	}

	for rowIndex, row := range rows {
		for colIndex, value := range row {
			cell := fmt.Sprintf("%c%d", 'A'+colIndex, rowIndex+1)
			f.SetCellValue(sheetName, cell, value)
		}
	}

	if len(record.Essays) > 0 {
		essaySheet := "Essays"
		if _, err := f.NewSheet(essaySheet); err != nil {
			return nil, fmt.Errorf("failed to create Excel sheet: %w", err)
		}

		headers := []string{"Section Item ID", "Score", "Feedback", "Content"}
		for i, header := range headers {
			cell := fmt.Sprintf("%c1", 'A'+i)
			f.SetCellValue(essaySheet, cell, header)
		}

		for rowIndex, essay := range record.Essays {
			row := []interface{}{essay.SectionItemID}

			if essay.Score != nil {
				row = append(row, *essay.Score)
			} else {
				row = append(row, "")
			}

			if essay.Comment != nil {
				row = append(row, *essay.Comment)
			} else {
				row = append(row, "")
			}

			row = append(row, essay.Content)

			for colIndex, value := range row {
				cell := fmt.Sprintf("%c%d", 'A'+colIndex, rowIndex+2)
				f.SetCellValue(essaySheet, cell, value)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write Excel file: %w", err)
	}

	return buf.Bytes(), nil
}

// joinJSONList renders a jsonb []string column as a readable cell value.
func joinJSONList(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		return string(raw)
	}
	return strings.Join(items, "; ")
}
