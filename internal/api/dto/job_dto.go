package dto

import "github.com/cuongbtq/dirsync/internal/job"

type ListJobsRequest struct {
	Status   string `form:"status" binding:"omitempty,oneof=IDLE RESCHEDULED SELECTED RUNNING FAILED FINISHED"`
	PageSize int    `form:"page_size" binding:"omitempty,min=0"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	job.Summary
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type ProgressResponse struct {
	job.Progress
	Done  int     `json:"done"`
	Ratio float64 `json:"ratio"`
}
