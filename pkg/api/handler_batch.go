package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/openscribe/scribed/pkg/models"
)

// createBatchHandler handles POST /api/v1/batches (multipart, multiple files).
// Shared processing options apply to every member job.
func (s *Server) createBatchHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	r := c.Request()
	r.Body = http.MaxBytesReader(c.Response(), r.Body, s.cfg.MaxUploadSizeBytes())

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		if strings.Contains(err.Error(), "request body too large") {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds the %d MB limit", s.cfg.MaxUploadSizeMB))
		}
		return echo.NewHTTPError(http.StatusBadRequest, "invalid multipart form")
	}

	files := r.MultipartForm.File["files"]
	batch, err := s.batchService.CreateBatch(ctx, c.FormValue("name"), len(files))
	if err != nil {
		return mapServiceError(err)
	}

	var jobs []*models.Job
	for _, header := range files {
		req := jobRequestFromForm(c, header.Filename)

		src, err := header.Open()
		if err != nil {
			return fmt.Errorf("failed to read upload %s: %w", header.Filename, err)
		}
		ext := strings.ToLower(filepath.Ext(header.Filename))
		sourcePath := filepath.Join(s.cfg.UploadDir, uuid.NewString()+ext)
		out, err := os.Create(sourcePath)
		if err != nil {
			src.Close()
			return fmt.Errorf("failed to store upload: %w", err)
		}
		size, err := io.Copy(out, src)
		src.Close()
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(sourcePath)
			return fmt.Errorf("failed to store upload: %w", err)
		}

		job, err := s.jobService.CreateJob(ctx, req, sourcePath, size, &batch.ID)
		if err != nil {
			os.Remove(sourcePath)
			return mapServiceError(err)
		}
		queued, err := s.queueService.Enqueue(ctx, job.ID)
		if err != nil {
			return mapServiceError(err)
		}
		jobs = append(jobs, queued)
	}

	return c.JSON(http.StatusCreated, &models.BatchResponse{JobBatch: batch, Jobs: jobs})
}

// listBatchesHandler handles GET /api/v1/batches.
func (s *Server) listBatchesHandler(c *echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	result, err := s.batchService.ListBatches(c.Request().Context(), limit, offset)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// getBatchHandler handles GET /api/v1/batches/:id.
func (s *Server) getBatchHandler(c *echo.Context) error {
	batch, err := s.batchService.GetBatch(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, batch)
}

// deleteBatchHandler handles DELETE /api/v1/batches/:id.
func (s *Server) deleteBatchHandler(c *echo.Context) error {
	if err := s.batchService.DeleteBatch(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// exportBatchHandler handles GET /api/v1/batches/:id/export. Streams a ZIP
// of all completed members' transcripts. An optional format query parameter
// narrows the archive to one rendered transcript per member.
func (s *Server) exportBatchHandler(c *echo.Context) error {
	id := c.Param("id")

	format := models.OutputFormat(c.QueryParam("format"))
	if format != "" && !models.ValidOutputFormat(format) {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unsupported export format %q", format))
	}

	// Validate before the first write so lookup failures still produce a
	// proper error response.
	batch, err := s.batchService.GetBatch(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	completed := 0
	for _, job := range batch.Jobs {
		if job.Status == models.JobStatusCompleted {
			completed++
		}
	}
	if completed == 0 {
		return echo.NewHTTPError(http.StatusConflict, "batch has no completed jobs to export")
	}

	h := c.Response().Header()
	h.Set("Content-Type", "application/zip")
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=batch_%s.zip", id))
	c.Response().WriteHeader(http.StatusOK)

	if err := s.batchService.ExportZip(c.Request().Context(), id, format, c.Response()); err != nil {
		// Headers are already out; log-and-drop would hide the failure, so
		// surface it to echo for logging even though the client sees a
		// truncated archive.
		return err
	}
	return nil
}
