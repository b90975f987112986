package utils

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SendJSONError sends a standardized JSON error response and logs the internal error.
// For 5xx errors, it sends a generic public message while logging the actual internalError.
// For 4xx errors, the publicMsg is shown to the client, and internalError (if provided) is logged.
func SendJSONError(c *gin.Context, statusCode int, publicMsg string, internalError error, details ...string) {
	errorDetails := ""
	if len(details) > 0 {
		errorDetails = details[0]
	}

	response := gin.H{"error": publicMsg}
	if errorDetails != "" {
		response["details"] = errorDetails
	}

	if internalError != nil {
		log.Printf("ERROR: Handler error: status_code=%d, public_message='%s', internal_error='%v', details='%s', path='%s'",
			statusCode, publicMsg, internalError, errorDetails, c.Request.URL.Path)
	} else {
		log.Printf("INFO: Handler response: status_code=%d, public_message='%s', details='%s', path='%s'",
			statusCode, publicMsg, errorDetails, c.Request.URL.Path)
	}

	// For 5xx errors, never leak the internal error text to the client.
	if statusCode >= http.StatusInternalServerError && publicMsg == "" {
		response["error"] = "An unexpected error occurred. Please try again later."
	} else if statusCode >= http.StatusInternalServerError && internalError != nil && publicMsg == internalError.Error() {
		response["error"] = "An unexpected error occurred. Please try again later."
	}

	c.AbortWithStatusJSON(statusCode, response)
}

// NewEntryID mints a stable id for a repeater entry or uploaded attachment.
func NewEntryID() string {
	return uuid.NewString()
}
