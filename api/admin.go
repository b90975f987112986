package api

import (
	"net/http"

	"portal/models"
	"portal/utils"

	"github.com/gin-gonic/gin"
)

// GetGraph returns the stored question graph for the authoring UI.
func (h *APIHandler) GetGraph(c *gin.Context) {
	questions, version, err := h.graphRepo.Load()
	if err != nil {
		utils.SendJSONError(c, http.StatusInternalServerError, "", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": version, "questions": questions})
}

// ReplaceGraph stores a new graph definition wholesale. Running sessions
// keep their snapshot; new sessions pick up the new version.
func (h *APIHandler) ReplaceGraph(c *gin.Context) {
	var req struct {
		Questions []models.Question `json:"questions" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "a questions list is required", err)
		return
	}

	version, err := h.graphRepo.Replace(req.Questions)
	if err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "the graph definition is invalid", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": version})
}
