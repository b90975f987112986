package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"portal/services"
	"portal/utils"

	"github.com/gin-gonic/gin"
)

// respondNavError maps service errors onto HTTP statuses: validation
// failures are the user's to fix, everything else is internal.
func respondNavError(c *gin.Context, err error) {
	var verr *services.ValidationError
	if errors.As(err, &verr) {
		response := gin.H{"error": verr.Msg}
		if verr.IncompleteEntries > 0 {
			response["incomplete_entries"] = verr.IncompleteEntries
		}
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, response)
		return
	}
	utils.SendJSONError(c, http.StatusInternalServerError, "", err)
}

// StartSession starts or resumes the questionnaire session for a scope id.
// The scope id is supplied by the caller (submission identifier); the
// engine never mints it.
func (h *APIHandler) StartSession(c *gin.Context) {
	var req struct {
		ScopeID      string `json:"scope_id" binding:"required"`
		UserID       string `json:"user_id"`
		AdminPreview bool   `json:"admin_preview"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "scope_id is required", err)
		return
	}

	view, err := h.navigation.StartOrContinueSession(req.ScopeID, req.UserID, req.AdminPreview)
	if err != nil {
		respondNavError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetCurrentQuestion renders the current question with its visible,
// search-filtered options.
func (h *APIHandler) GetCurrentQuestion(c *gin.Context) {
	view, err := h.navigation.CurrentQuestion(c.Param("scopeId"), c.Query("search"))
	if err != nil {
		respondNavError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// SelectOption records the pending option selection.
func (h *APIHandler) SelectOption(c *gin.Context) {
	var req struct {
		OptionID string `json:"option_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "option_id is required", err)
		return
	}

	view, err := h.navigation.SelectOption(c.Param("scopeId"), req.OptionID)
	if err != nil {
		respondNavError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// SetInput records the pending free-text value.
func (h *APIHandler) SetInput(c *gin.Context) {
	var req struct {
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "invalid input payload", err)
		return
	}

	view, err := h.navigation.SetInput(c.Param("scopeId"), req.Value)
	if err != nil {
		respondNavError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// SaveEntries replaces the current repeater question's entries. The payload
// is passed through raw so a malformed body surfaces as a validation error
// on the question rather than a transport error.
func (h *APIHandler) SaveEntries(c *gin.Context) {
	var req struct {
		Entries json.RawMessage `json:"entries"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "invalid entries payload", err)
		return
	}

	view, err := h.navigation.SaveEntries(c.Param("scopeId"), req.Entries)
	if err != nil {
		respondNavError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Advance moves to the next question.
func (h *APIHandler) Advance(c *gin.Context) {
	view, err := h.navigation.Advance(c.Param("scopeId"))
	if err != nil {
		respondNavError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Back rewinds one history entry, exiting the active branch when the
// boundary is crossed.
func (h *APIHandler) Back(c *gin.Context) {
	view, err := h.navigation.Back(c.Param("scopeId"))
	if err != nil {
		respondNavError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// StartBranch enters the sub-flow for one repeater entry.
func (h *APIHandler) StartBranch(c *gin.Context) {
	var req struct {
		EntryID string `json:"entry_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "entry_id is required", err)
		return
	}

	view, err := h.navigation.StartBranch(c.Param("scopeId"), req.EntryID)
	if err != nil {
		respondNavError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetBranchStatuses reports branch progress for the current repeater's
// entries.
func (h *APIHandler) GetBranchStatuses(c *gin.Context) {
	statuses, err := h.navigation.BranchStatuses(c.Param("scopeId"))
	if err != nil {
		respondNavError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"branches": statuses})
}

// UploadAttachment stores an uploaded file and attaches its path to the
// current question's pending answer.
func (h *APIHandler) UploadAttachment(c *gin.Context) {
	scopeID := c.Param("scopeId")

	index, err := strconv.Atoi(c.DefaultPostForm("index", "0"))
	if err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "index must be an integer", err)
		return
	}

	questionID, _, err := h.navigation.Position(scopeID)
	if err != nil {
		respondNavError(c, err)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "a file is required", err)
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		utils.SendJSONError(c, http.StatusInternalServerError, "", err)
		return
	}
	defer src.Close()

	path, err := h.attachments.Upload(src, fileHeader.Filename, questionID, index)
	if err != nil {
		utils.SendJSONError(c, http.StatusInternalServerError, "", err)
		return
	}

	if err := h.navigation.RecordAttachment(scopeID, index, fileHeader.Filename, path); err != nil {
		respondNavError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}
