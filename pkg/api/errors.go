package api

import (
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/sre-tools/remediation-batch/pkg/apperrors"
)

// writeError maps err to an HTTP status and writes a JSON error body.
// Unexpected errors are logged server-side and returned as a generic 500
// rather than leaking internal detail to the client.
func writeError(c *gin.Context, err error) {
	if os.IsNotExist(err) || errors.Is(err, apperrors.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if apperrors.IsValidationError(err) || errors.Is(err, apperrors.ErrInvalidInput) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	slog.Error("unexpected api error", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
