package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// maxRunListLimit caps the limit query parameter of GET /api/v1/runs.
const maxRunListLimit = 500

// listRunsHandler handles GET /api/v1/runs?limit=N.
func (s *Server) listRunsHandler(c *gin.Context) {
	if s.runs == nil {
		abortWithStatus(c, http.StatusServiceUnavailable, "run history is disabled")
		return
	}

	limit := s.cfg.History.ListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			abortWithStatus(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunListLimit)
	}

	runs, err := s.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, &RunListResponse{Runs: runs})
}

// getRunHandler handles GET /api/v1/runs/:id.
func (s *Server) getRunHandler(c *gin.Context) {
	if s.runs == nil {
		abortWithStatus(c, http.StatusServiceUnavailable, "run history is disabled")
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		abortWithStatus(c, http.StatusBadRequest, "run id must be an integer")
		return
	}

	run, err := s.runs.GetRun(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}
