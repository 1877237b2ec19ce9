package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lingoreach/exam-session-service/internal/engine"
	"github.com/lingoreach/exam-session-service/internal/services"
	"github.com/lingoreach/exam-session-service/internal/utils"
)

type SessionHandler struct {
	BaseHandler
	sessionService services.SessionService
	exportService  services.ExportService
}

type MarkAnsweredRequest struct {
	Answered bool `json:"answered"`
}

type SaveEssayRequest struct {
	Content string `json:"content"`
}

func NewSessionHandler(
	sessionService services.SessionService,
	exportService services.ExportService,
	logger utils.Logger,
) *SessionHandler {
	return &SessionHandler{
		BaseHandler:    NewBaseHandler(logger),
		sessionService: sessionService,
		exportService:  exportService,
	}
}

// OpenSession starts a test-taking session for a submission
// @Summary Open session
// @Description Resolves test content and opens a session against a submission
// @Tags sessions
// @Accept json
// @Produce json
// @Param session body services.OpenSessionRequest true "Session data"
// @Success 201 {object} services.SessionSnapshot
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /sessions [post]
func (h *SessionHandler) OpenSession(c *gin.Context) {
	userID, ok := CurrentUserID(c)
	if !ok {
		return
	}

	var req services.OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	h.LogRequest(c, "Opening session", "submission_id", req.SubmissionID, "skill_type", req.SkillType)

	snapshot, err := h.sessionService.Open(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, snapshot)
}

// GetSession returns the current session snapshot
// @Summary Get session
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} services.SessionSnapshot
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id} [get]
func (h *SessionHandler) GetSession(c *gin.Context) {
	userID, ok := CurrentUserID(c)
	if !ok {
		return
	}
	sessionID := ParseStringIDParam(c, "id")
	if sessionID == "" {
		return
	}

	snapshot, err := h.sessionService.Get(c.Request.Context(), sessionID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// CloseSession tears down a session without submitting
// @Summary Close session
// @Tags sessions
// @Param id path string true "Session ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id} [delete]
func (h *SessionHandler) CloseSession(c *gin.Context) {
	userID, ok := CurrentUserID(c)
	if !ok {
		return
	}
	sessionID := ParseStringIDParam(c, "id")
	if sessionID == "" {
		return
	}

	if err := h.sessionService.Close(c.Request.Context(), sessionID, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// MarkAnswered flips the answered flag for one question
// @Summary Mark question answered
// @Tags sessions
// @Accept json
// @Param id path string true "Session ID"
// @Param question_id path uint true "Question ID"
// @Param flag body MarkAnsweredRequest true "Answered flag"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id}/answers/{question_id} [put]
func (h *SessionHandler) MarkAnswered(c *gin.Context) {
	userID, ok := CurrentUserID(c)
	if !ok {
		return
	}
	sessionID := ParseStringIDParam(c, "id")
	if sessionID == "" {
		return
	}
	questionID, ok := ParseUintParam(c, "question_id")
	if !ok {
		return
	}

	var req MarkAnsweredRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	if err := h.sessionService.MarkAnswered(c.Request.Context(), sessionID, userID, questionID, req.Answered); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// SaveEssay autosaves essay content for one writing prompt
// @Summary Save essay
// @Tags sessions
// @Accept json
// @Param id path string true "Session ID"
// @Param index path int true "Essay index"
// @Param essay body SaveEssayRequest true "Essay content"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id}/essays/{index} [put]
func (h *SessionHandler) SaveEssay(c *gin.Context) {
	userID, ok := CurrentUserID(c)
	if !ok {
		return
	}
	sessionID := ParseStringIDParam(c, "id")
	if sessionID == "" {
		return
	}
	index, ok := ParseIntParam(c, "index")
	if !ok {
		return
	}

	var req SaveEssayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	if err := h.sessionService.SaveEssay(c.Request.Context(), sessionID, userID, index, req.Content); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// RequestSubmit asks for submit confirmation
// @Summary Request submit
// @Tags sessions
// @Param id path string true "Session ID"
// @Success 200 {object} SuccessResponse
// @Failure 409 {object} ErrorResponse
// @Router /sessions/{id}/submit [post]
func (h *SessionHandler) RequestSubmit(c *gin.Context) {
	userID, ok := CurrentUserID(c)
	if !ok {
		return
	}
	sessionID := ParseStringIDParam(c, "id")
	if sessionID == "" {
		return
	}

	if err := h.sessionService.RequestSubmit(c.Request.Context(), sessionID, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Submit confirmation pending"})
}

// CancelSubmit backs out of a pending confirmation
// @Summary Cancel submit
// @Tags sessions
// @Param id path string true "Session ID"
// @Success 200 {object} SuccessResponse
// @Failure 409 {object} ErrorResponse
// @Router /sessions/{id}/submit/cancel [post]
func (h *SessionHandler) CancelSubmit(c *gin.Context) {
	userID, ok := CurrentUserID(c)
	if !ok {
		return
	}
	sessionID := ParseStringIDParam(c, "id")
	if sessionID == "" {
		return
	}

	if err := h.sessionService.CancelSubmit(c.Request.Context(), sessionID, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Submit cancelled"})
}

// ConfirmSubmit runs scoring and finalizes the submission
// @Summary Confirm submit
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} engine.ScoreResult
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /sessions/{id}/submit/confirm [post]
func (h *SessionHandler) ConfirmSubmit(c *gin.Context) {
	userID, ok := CurrentUserID(c)
	if !ok {
		return
	}
	sessionID := ParseStringIDParam(c, "id")
	if sessionID == "" {
		return
	}

	h.LogRequest(c, "Confirming submit", "session_id", sessionID)

	result, err := h.sessionService.ConfirmSubmit(c.Request.Context(), sessionID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// RetrySubmit re-arms a failed submit
// @Summary Retry submit
// @Tags sessions
// @Param id path string true "Session ID"
// @Success 200 {object} SuccessResponse
// @Failure 409 {object} ErrorResponse
// @Router /sessions/{id}/submit/retry [post]
func (h *SessionHandler) RetrySubmit(c *gin.Context) {
	userID, ok := CurrentUserID(c)
	if !ok {
		return
	}
	sessionID := ParseStringIDParam(c, "id")
	if sessionID == "" {
		return
	}

	if err := h.sessionService.RetrySubmit(c.Request.Context(), sessionID, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Submit re-armed, confirmation pending"})
}

// GetResult returns the score result of a submitted session
// @Summary Get result
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} engine.ScoreResult
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /sessions/{id}/result [get]
func (h *SessionHandler) GetResult(c *gin.Context) {
	userID, ok := CurrentUserID(c)
	if !ok {
		return
	}
	sessionID := ParseStringIDParam(c, "id")
	if sessionID == "" {
		return
	}

	result, err := h.sessionService.Result(c.Request.Context(), sessionID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ExportReport downloads an Excel report for a completed submission
// @Summary Export submission report
// @Tags submissions
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param id path uint true "Submission ID"
// @Success 200 {file} binary
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /submissions/{id}/report [get]
func (h *SessionHandler) ExportReport(c *gin.Context) {
	userID, ok := CurrentUserID(c)
	if !ok {
		return
	}
	submissionID, ok := ParseUintParam(c, "id")
	if !ok {
		return
	}

	h.LogRequest(c, "Exporting submission report", "submission_id", submissionID)

	data, err := h.exportService.ExportSubmissionReport(c.Request.Context(), submissionID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename=submission_report.xlsx")
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

func (h *SessionHandler) handleServiceError(c *gin.Context, err error) {
	// Handle custom error types first
	var validationErrors services.ValidationErrors
	if errors.As(err, &validationErrors) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: validationErrors,
		})
		return
	}

	var permissionError *services.PermissionError
	if errors.As(err, &permissionError) {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Access denied",
			Details: map[string]interface{}{
				"resource": permissionError.Resource,
				"action":   permissionError.Action,
				"reason":   permissionError.Reason,
			},
		})
		return
	}

	switch {
	// Session and submission lookups
	case errors.Is(err, services.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Session not found",
		})
	case errors.Is(err, services.ErrSubmissionNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Submission not found",
		})
	case errors.Is(err, engine.ErrQuestionUnknown):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Question does not belong to session",
		})
	case errors.Is(err, engine.ErrEssayIndexOutOfRange):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Essay index out of range",
		})
	case errors.Is(err, services.ErrSessionNotWriting):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Session has no writing sections",
		})

	// Submit lifecycle conflicts
	case errors.Is(err, engine.ErrSubmitNotRequested):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Submit has not been requested",
		})
	case errors.Is(err, engine.ErrSubmitAlreadyPending):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Submit confirmation already pending",
		})
	case errors.Is(err, engine.ErrSubmitInFlight):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Submit already in progress",
		})
	case errors.Is(err, engine.ErrAlreadySubmitted):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Session already submitted",
		})
	case errors.Is(err, engine.ErrSubmitNotFailed):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Session has no failed submit to retry",
		})
	case errors.Is(err, engine.ErrResultNotReady):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Score result not available",
		})
	case errors.Is(err, services.ErrSubmissionCompleted):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Submission already completed",
		})
	case errors.Is(err, services.ErrSubmissionNotCompleted):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Submission not completed yet",
		})

	// Generic errors
	case errors.Is(err, services.ErrValidationFailed):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: err.Error(),
		})
	case errors.Is(err, services.ErrSessionLoadFailed):
		h.LogError(c, err, "Session content load failed")
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Message: "Failed to load session content",
		})
	case errors.Is(err, services.ErrScoringFailed):
		h.LogError(c, err, "Scoring pipeline failed")
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Message: "Scoring failed, submit can be retried",
		})
	default:
		h.LogError(c, err, "Unexpected service error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
		})
	}
}
