package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/codeready-toolchain/taskstream/pkg/history"
	"github.com/codeready-toolchain/taskstream/pkg/session"
	"github.com/gin-gonic/gin"
)

// abortWithError maps domain errors to HTTP error responses.
func abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		abortWithStatus(c, http.StatusNotFound, "session not found")
	case errors.Is(err, history.ErrRunNotFound):
		abortWithStatus(c, http.StatusNotFound, "run not found")
	default:
		// Unexpected error
		slog.Error("Unexpected API error", "path", c.FullPath(), "error", err)
		abortWithStatus(c, http.StatusInternalServerError, "internal server error")
	}
}

func abortWithStatus(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, &ErrorResponse{Error: msg})
}
