package views

import (
	"net/http"

	"github.com/GrainArc/PlotMatch/apperrors"
	"github.com/gin-gonic/gin"
)

// writeError maps the error taxonomy to HTTP status classes. Failures
// always carry a human-readable reason; nothing is surfaced as a silent
// empty success.
func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"success": false,
		"error":   err.Error(),
	})
}

func statusFor(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation, apperrors.KindOutOfRange:
		return http.StatusBadRequest
	case apperrors.KindForbidden:
		return http.StatusForbidden
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindInvalidState:
		return http.StatusConflict
	case apperrors.KindCapability:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// requireRole enforces the closed role enum on workflow-mutating endpoints.
// The caller's role arrives in the X-User-Role header; identity management
// itself lives outside this service.
func requireRole(c *gin.Context, role string) bool {
	got := c.GetHeader("X-User-Role")
	if got != role {
		writeError(c, apperrors.Forbiddenf("operation requires the %s role", role))
		return false
	}
	return true
}
