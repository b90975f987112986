package api

import (
	"errors"
	"net/http"

	"portal/services"
	"portal/utils"

	"github.com/gin-gonic/gin"
)

// ResolveAnalysis returns the cached analysis for the current question and
// active branch context, or generates it when the input changed or a
// refresh was forced. Each button caches independently.
func (h *APIHandler) ResolveAnalysis(c *gin.Context) {
	scopeID := c.Param("scopeId")

	var req struct {
		ButtonID     string `json:"button_id"`
		Input        string `json:"input"`
		ForceRefresh bool   `json:"force_refresh"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "invalid analysis payload", err)
		return
	}

	questionID, branchCtx, err := h.navigation.Position(scopeID)
	if err != nil {
		respondNavError(c, err)
		return
	}

	result, err := h.analysis.Resolve(c.Request.Context(), scopeID, questionID, branchCtx, req.ButtonID, req.Input, req.ForceRefresh)
	if err != nil {
		var gerr *services.GenerationError
		if errors.As(err, &gerr) {
			// The cached analysis, if any, is untouched; the user can retry.
			utils.SendJSONError(c, http.StatusBadGateway, "analysis generation is temporarily unavailable", err)
			return
		}
		respondNavError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
