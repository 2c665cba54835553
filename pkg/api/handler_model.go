package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/openscribe/scribed/pkg/models"
)

// registerModelHandler handles POST /api/v1/models.
func (s *Server) registerModelHandler(c *echo.Context) error {
	var req models.RegisterModelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	m, err := s.modelService.Register(c.Request().Context(), req)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, m)
}

// listModelsHandler handles GET /api/v1/models.
func (s *Server) listModelsHandler(c *echo.Context) error {
	filters := models.ModelFilters{
		ModelType: models.ModelType(c.QueryParam("model_type")),
		Engine:    models.ModelEngine(c.QueryParam("engine")),
	}
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filters.Limit = n
		}
	}

	list, err := s.modelService.List(c.Request().Context(), filters)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"models": list})
}

// getModelHandler handles GET /api/v1/models/:id.
func (s *Server) getModelHandler(c *echo.Context) error {
	m, err := s.modelService.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, m)
}

// deleteModelHandler handles DELETE /api/v1/models/:id?remove_files=.
func (s *Server) deleteModelHandler(c *echo.Context) error {
	removeFiles := c.QueryParam("remove_files") == "true"
	if err := s.modelService.Delete(c.Request().Context(), c.Param("id"), removeFiles); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// downloadModelHandler handles POST /api/v1/models/:id/download?force=.
func (s *Server) downloadModelHandler(c *echo.Context) error {
	force := c.QueryParam("force") == "true"
	started, err := s.modelService.Download(c.Request().Context(), c.Param("id"), force)
	if err != nil {
		return mapServiceError(err)
	}
	if !started {
		return c.JSON(http.StatusOK, map[string]string{"status": "already_available"})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "downloading"})
}

// cancelDownloadHandler handles DELETE /api/v1/models/:id/download.
func (s *Server) cancelDownloadHandler(c *echo.Context) error {
	cancelled, err := s.modelService.CancelDownload(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	if !cancelled {
		return c.JSON(http.StatusOK, map[string]string{"status": "not_downloading"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "cancelling"})
}

// setDefaultModelHandler handles POST /api/v1/models/:id/default.
func (s *Server) setDefaultModelHandler(c *echo.Context) error {
	m, err := s.modelService.SetDefault(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, m)
}

// modelEnginesHandler handles GET /api/v1/models/engines.
func (s *Server) modelEnginesHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.modelService.Engines())
}

// builtinModelsHandler handles GET /api/v1/models/builtin.
func (s *Server) builtinModelsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"models": s.modelService.Builtin()})
}
