package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/dirsync/internal/api/dto"
	"github.com/cuongbtq/dirsync/internal/executor"
	"github.com/cuongbtq/dirsync/internal/job"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// GetJob handles GET /api/v1/jobs/:job_id
// Returns the job summary with its messages and exceptions
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	j, err := h.jobs.Get(c.Request.Context(), jobID)
	if errors.Is(err, job.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found",
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, toJobDTO(j))
}

// ListJobs handles GET /api/v1/tags/:tag/jobs
// Lists the jobs of one batch tag, newest first, with cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	tag := c.Param("tag")

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.jobs.List(c.Request.Context(), executor.Filter{
		Tag:      tag,
		Status:   job.Status(req.Status),
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("tag", tag), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(jobs))}
	for i, j := range jobs {
		resp.Jobs[i] = toJobDTO(j)
	}

	if hasMore {
		last := jobs[len(jobs)-1]
		resp.NextCursor = EncodeJobCursor(&executor.Cursor{
			CreatedAt: last.CreatedAt(),
			JobID:     last.ID(),
		})
	}

	c.JSON(http.StatusOK, resp)
}

// Progress handles GET /api/v1/tags/:tag/progress
func (h *JobHandler) Progress(c *gin.Context) {
	tag := c.Param("tag")

	p, err := job.ProgressOf(c.Request.Context(), h.jobs, tag)
	if err != nil {
		h.logger.Error("Failed to count jobs", slog.String("tag", tag), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get progress",
		})
		return
	}

	c.JSON(http.StatusOK, dto.ProgressResponse{
		Progress: p,
		Done:     p.Done(),
		Ratio:    p.Ratio(),
	})
}

func toJobDTO(j *job.Job) dto.JobDTO {
	return dto.JobDTO{
		Summary:   j.Summarize(),
		CreatedAt: j.CreatedAt().Format(time.RFC3339),
		UpdatedAt: j.UpdatedAt().Format(time.RFC3339),
	}
}
