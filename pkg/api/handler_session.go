package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// listSessionsHandler handles GET /api/v1/sessions.
func (s *Server) listSessionsHandler(c *gin.Context) {
	sessions := s.sessions.List()
	c.JSON(http.StatusOK, &SessionListResponse{
		Sessions: sessions,
		Total:    len(sessions),
	})
}

// getSessionHandler handles GET /api/v1/sessions/:id.
func (s *Server) getSessionHandler(c *gin.Context) {
	ctrl, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, &SessionResponse{
		Info:           ctrl.Info(),
		PendingDialogs: ctrl.PendingDialogs(),
	})
}

// cancelSessionHandler handles POST /api/v1/sessions/:id/cancel.
// The session drains and sends Finished to its client as usual.
func (s *Server) cancelSessionHandler(c *gin.Context) {
	sessionID := c.Param("id")
	if err := s.sessions.Cancel(sessionID); err != nil {
		abortWithError(c, err)
		return
	}
	slog.Info("Session cancellation requested via API", "session_id", sessionID)

	c.JSON(http.StatusOK, &CancelResponse{
		SessionID: sessionID,
		Message:   "Session cancellation requested",
	})
}

// listTaskTypesHandler handles GET /api/v1/task-types.
func (s *Server) listTaskTypesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, &TaskTypesResponse{
		TaskTypes: s.sessions.TaskTypes(),
		Default:   s.cfg.Session.DefaultTaskType,
	})
}
