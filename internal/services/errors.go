package services

import (
	"errors"
	"fmt"

	apperrors "github.com/lingoreach/exam-session-service/internal/errors"
)

// ===== COMMON SERVICE ERRORS =====

var (
	ErrValidationFailed = errors.New("validation failed")

	// Session specific errors
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionLoadFailed = errors.New("failed to load session content")
	ErrSessionNotWriting = errors.New("session has no writing sections")

	// Submission specific errors
	ErrSubmissionNotFound     = errors.New("submission not found")
	ErrSubmissionCompleted    = errors.New("submission already completed")
	ErrSubmissionNotCompleted = errors.New("submission not completed yet")

	// Scoring specific errors
	ErrScoringFailed = errors.New("scoring failed")
)

// ===== CUSTOM ERROR TYPES =====

// Use shared validation errors from errors package
type ValidationError = apperrors.ValidationError
type ValidationErrors = apperrors.ValidationErrors

// PermissionError describes an ownership or access failure on a session or
// submission resource.
type PermissionError struct {
	UserID     string `json:"user_id"`
	ResourceID string `json:"resource_id"`
	Resource   string `json:"resource"`
	Action     string `json:"action"`
	Reason     string `json:"reason"`
}

func (pe *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: user %s cannot %s %s %s - %s",
		pe.UserID, pe.Action, pe.Resource, pe.ResourceID, pe.Reason)
}

func NewPermissionError(userID, resourceID, resource, action, reason string) *PermissionError {
	return &PermissionError{
		UserID:     userID,
		ResourceID: resourceID,
		Resource:   resource,
		Action:     action,
		Reason:     reason,
	}
}
