package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// queueStatusHandler handles GET /api/v1/queue/status.
func (s *Server) queueStatusHandler(c *echo.Context) error {
	status, err := s.queueService.Status(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, status)
}

type reorderRequest struct {
	JobIDs []string `json:"job_ids"`
}

// reorderQueueHandler handles POST /api/v1/queue/reorder. The list order
// becomes the new admission order; the whole reorder is atomic.
func (s *Server) reorderQueueHandler(c *echo.Context) error {
	var req reorderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := s.queueService.Reorder(c.Request().Context(), req.JobIDs); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"reordered": len(req.JobIDs)})
}

type setPriorityRequest struct {
	Priority int `json:"priority"`
}

// setPriorityHandler handles PATCH /api/v1/queue/:id/priority.
func (s *Server) setPriorityHandler(c *echo.Context) error {
	var req setPriorityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	job, err := s.queueService.SetPriority(c.Request().Context(), c.Param("id"), req.Priority)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, job)
}
