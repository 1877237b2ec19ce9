package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/lingoreach/exam-session-service/internal/services"
	"github.com/lingoreach/exam-session-service/internal/utils"
)

type HandlerManager struct {
	sessionHandler *SessionHandler
}

func NewHandlerManager(
	sessionService services.SessionService,
	exportService services.ExportService,
	logger utils.Logger,
) *HandlerManager {
	return &HandlerManager{
		sessionHandler: NewSessionHandler(sessionService, exportService, logger),
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "exam-session-service",
		})
	})

	// API v1 routes
	v1 := router.Group("/api/v1")
	v1.Use(AuthMiddleware())
	{
		sessions := v1.Group("/sessions")
		{
			sessions.POST("", hm.sessionHandler.OpenSession)
			sessions.GET("/:id", hm.sessionHandler.GetSession)
			sessions.DELETE("/:id", hm.sessionHandler.CloseSession)

			// Answer tracking and autosave
			sessions.PUT("/:id/answers/:question_id", hm.sessionHandler.MarkAnswered)
			sessions.PUT("/:id/essays/:index", hm.sessionHandler.SaveEssay)

			// Submit lifecycle
			sessions.POST("/:id/submit", hm.sessionHandler.RequestSubmit)
			sessions.POST("/:id/submit/confirm", hm.sessionHandler.ConfirmSubmit)
			sessions.POST("/:id/submit/cancel", hm.sessionHandler.CancelSubmit)
			sessions.POST("/:id/submit/retry", hm.sessionHandler.RetrySubmit)
			sessions.GET("/:id/result", hm.sessionHandler.GetResult)
		}

		submissions := v1.Group("/submissions")
		{
			submissions.GET("/:id/report", hm.sessionHandler.ExportReport)
		}
	}
}
