package api

import (
	"portal/repository"
	"portal/services"

	"github.com/gin-gonic/gin"
)

// APIHandler holds all dependencies for API handlers, such as repositories and services.
type APIHandler struct {
	navigation  services.NavigationService
	dependency  services.DependencyService
	analysis    services.AnalysisService
	attachments services.AttachmentService
	graphRepo   repository.GraphRepository
	answerRepo  repository.AnswerRepository
}

// NewAPIHandler creates a new APIHandler with necessary dependencies.
func NewAPIHandler(
	navigation services.NavigationService,
	dependency services.DependencyService,
	analysis services.AnalysisService,
	attachments services.AttachmentService,
	graphRepo repository.GraphRepository,
	answerRepo repository.AnswerRepository,
) *APIHandler {
	return &APIHandler{
		navigation:  navigation,
		dependency:  dependency,
		analysis:    analysis,
		attachments: attachments,
		graphRepo:   graphRepo,
		answerRepo:  answerRepo,
	}
}

// RegisterRoutes attaches all portal endpoints to the router.
func (h *APIHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		sessions := api.Group("/sessions")
		{
			sessions.POST("/start", h.StartSession)
			sessions.GET("/:scopeId/question", h.GetCurrentQuestion)
			sessions.POST("/:scopeId/select", h.SelectOption)
			sessions.POST("/:scopeId/input", h.SetInput)
			sessions.POST("/:scopeId/entries", h.SaveEntries)
			sessions.POST("/:scopeId/advance", h.Advance)
			sessions.POST("/:scopeId/back", h.Back)
			sessions.POST("/:scopeId/branch", h.StartBranch)
			sessions.GET("/:scopeId/branches", h.GetBranchStatuses)
			sessions.POST("/:scopeId/analysis", h.ResolveAnalysis)
			sessions.POST("/:scopeId/attachments", h.UploadAttachment)
		}
		admin := api.Group("/admin")
		{
			admin.GET("/graph", h.GetGraph)
			admin.PUT("/graph", h.ReplaceGraph)
		}
	}
}
