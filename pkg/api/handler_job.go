package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/openscribe/scribed/pkg/models"
)

// createJobHandler handles POST /api/v1/jobs (multipart upload).
func (s *Server) createJobHandler(c *echo.Context) error {
	req, sourcePath, size, err := s.acceptUpload(c)
	if err != nil {
		return err
	}

	job, err := s.jobService.CreateJob(c.Request().Context(), req, sourcePath, size, nil)
	if err != nil {
		os.Remove(sourcePath)
		return mapServiceError(err)
	}

	queued, err := s.queueService.Enqueue(c.Request().Context(), job.ID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, queued)
}

// acceptUpload parses the multipart form, enforces the size limit and saves
// the media file under the upload directory.
func (s *Server) acceptUpload(c *echo.Context) (models.CreateJobRequest, string, int64, error) {
	r := c.Request()
	r.Body = http.MaxBytesReader(c.Response(), r.Body, s.cfg.MaxUploadSizeBytes())

	file, header, err := r.FormFile("file")
	if err != nil {
		if strings.Contains(err.Error(), "request body too large") {
			return models.CreateJobRequest{}, "", 0, echo.NewHTTPError(http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds the %d MB limit", s.cfg.MaxUploadSizeMB))
		}
		return models.CreateJobRequest{}, "", 0, echo.NewHTTPError(http.StatusBadRequest, "file field is required")
	}
	defer file.Close()

	req := jobRequestFromForm(c, header.Filename)

	ext := strings.ToLower(filepath.Ext(header.Filename))
	sourcePath := filepath.Join(s.cfg.UploadDir, uuid.NewString()+ext)
	out, err := os.Create(sourcePath)
	if err != nil {
		return req, "", 0, fmt.Errorf("failed to store upload: %w", err)
	}
	size, err := io.Copy(out, file)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(sourcePath)
		return req, "", 0, fmt.Errorf("failed to store upload: %w", err)
	}
	return req, sourcePath, size, nil
}

// jobRequestFromForm reads the processing options accompanying an upload.
func jobRequestFromForm(c *echo.Context, filename string) models.CreateJobRequest {
	req := models.CreateJobRequest{
		Filename:          filename,
		Language:          c.FormValue("language"),
		EnableDiarization: formBool(c, "enable_diarization"),
		EnableTTS:         formBool(c, "enable_tts"),
		SyncTTSTiming:     formBool(c, "sync_tts_timing"),
	}
	if v := c.FormValue("translate_to"); v != "" {
		req.TranslateTo = &v
	}
	if v := c.FormValue("model_id"); v != "" {
		req.ModelID = &v
	}
	if v := c.FormValue("priority"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			req.Priority = p
		}
	}
	if v := c.FormValue("output_formats"); v != "" {
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				req.OutputFormats = append(req.OutputFormats, models.OutputFormat(f))
			}
		}
	}
	return req
}

func formBool(c *echo.Context, field string) bool {
	switch strings.ToLower(c.FormValue(field)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// listJobsHandler handles GET /api/v1/jobs.
func (s *Server) listJobsHandler(c *echo.Context) error {
	filters := models.JobFilters{
		BatchID: c.QueryParam("batch_id"),
		Search:  c.QueryParam("search"),
	}

	if v := c.QueryParam("status"); v != "" {
		for _, st := range strings.Split(v, ",") {
			filters.Statuses = append(filters.Statuses, models.JobStatus(st))
		}
	}
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filters.Limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filters.Offset = n
		}
	}
	if v := c.QueryParam("created_after"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid created_after: must be RFC3339")
		}
		filters.CreatedAfter = &t
	}
	if v := c.QueryParam("created_before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid created_before: must be RFC3339")
		}
		filters.CreatedBefore = &t
	}

	result, err := s.jobService.ListJobs(c.Request().Context(), filters)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// getJobHandler handles GET /api/v1/jobs/:id.
func (s *Server) getJobHandler(c *echo.Context) error {
	job, err := s.jobService.GetJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, job)
}

// deleteJobHandler handles DELETE /api/v1/jobs/:id. Live jobs are cancelled
// first; waiting and terminal jobs are removed outright.
func (s *Server) deleteJobHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	job, err := s.jobService.GetJob(ctx, id)
	if err != nil {
		return mapServiceError(err)
	}

	if job.Status.IsRunning() {
		if _, err := s.queueService.Cancel(ctx, id); err != nil {
			return mapServiceError(err)
		}
		return c.JSON(http.StatusAccepted, map[string]string{"status": "cancelling"})
	}

	if !job.Status.IsTerminal() {
		if _, err := s.queueService.Cancel(ctx, id); err != nil {
			return mapServiceError(err)
		}
	}
	if err := s.jobService.DeleteJob(ctx, id); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// cancelJobHandler handles POST /api/v1/jobs/:id/cancel.
func (s *Server) cancelJobHandler(c *echo.Context) error {
	job, err := s.queueService.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, job)
}

var transcriptContentTypes = map[models.OutputFormat]string{
	models.FormatJSON: "application/json",
	models.FormatSRT:  "application/x-subrip",
	models.FormatVTT:  "text/vtt",
	models.FormatTXT:  "text/plain; charset=utf-8",
}

// getTranscriptHandler handles GET /api/v1/jobs/:id/transcript?format=.
func (s *Server) getTranscriptHandler(c *echo.Context) error {
	format := models.OutputFormat(c.QueryParam("format"))
	if format == "" {
		format = models.FormatJSON
	}

	data, err := s.jobService.Transcript(c.Request().Context(), c.Param("id"), format)
	if err != nil {
		return mapServiceError(err)
	}

	c.Response().Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=transcript.%s", format))
	return c.Blob(http.StatusOK, transcriptContentTypes[format], data)
}

type remapSpeakersRequest struct {
	Speakers map[string]string `json:"speakers"`
}

// remapSpeakersHandler handles PATCH /api/v1/jobs/:id/speakers.
func (s *Server) remapSpeakersHandler(c *echo.Context) error {
	var req remapSpeakersRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	transcript, err := s.jobService.RemapSpeakers(c.Request().Context(), c.Param("id"), req.Speakers)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, transcript)
}

// statisticsHandler handles GET /api/v1/jobs/statistics.
func (s *Server) statisticsHandler(c *echo.Context) error {
	stats, err := s.jobService.Statistics(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, stats)
}
