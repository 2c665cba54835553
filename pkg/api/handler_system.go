package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/openscribe/scribed/pkg/sysinfo"
)

// hardwareHandler handles GET /api/v1/system/hardware.
func (s *Server) hardwareHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, sysinfo.Probe(c.Request().Context()))
}

// gpuUsageHandler handles GET /api/v1/system/gpu-usage.
func (s *Server) gpuUsageHandler(c *echo.Context) error {
	gpus := sysinfo.ProbeGPUs(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]any{"gpus": gpus})
}

// benchmarkHandler handles POST /api/v1/system/benchmark.
func (s *Server) benchmarkHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, sysinfo.Benchmark())
}

// evaluateModelHandler handles GET /api/v1/system/evaluate/:model_id.
func (s *Server) evaluateModelHandler(c *echo.Context) error {
	m, err := s.modelService.Get(c.Request().Context(), c.Param("model_id"))
	if err != nil {
		return mapServiceError(err)
	}

	info := sysinfo.Probe(c.Request().Context())
	return c.JSON(http.StatusOK, sysinfo.EvaluateModel(info, m))
}
