package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/dirsync/internal/api/handler"
)

const healthTimeout = 2 * time.Second

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(deps))
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	jobHandler := handler.NewJobHandler(deps)
	syncHandler := handler.NewSyncHandler(deps)

	v1 := r.Group("/api/v1")
	{
		// POST /api/v1/reconciliations - Trigger a reconciliation batch
		v1.POST("/reconciliations", syncHandler.TriggerReconciliation)

		// POST /api/v1/deletions - Delete one key from either store
		v1.POST("/deletions", syncHandler.ScheduleDelete)

		// PUT /api/v1/accounts/:email - Create or update a local account
		v1.PUT("/accounts/:email", syncHandler.PutAccount)

		tags := v1.Group("/tags/:tag")
		{
			// GET /api/v1/tags/:tag/progress - Batch completion
			tags.GET("/progress", jobHandler.Progress)

			// GET /api/v1/tags/:tag/jobs - List batch jobs with pagination
			tags.GET("/jobs", jobHandler.ListJobs)
		}

		// GET /api/v1/jobs/:job_id - Get job details
		v1.GET("/jobs/:job_id", jobHandler.GetJob)
	}

	return r
}

func healthHandler(deps *handler.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		status := http.StatusOK
		checks := gin.H{}
		for name, check := range deps.HealthChecks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				checks[name] = err.Error()
				continue
			}
			checks[name] = "ok"
		}

		health := "healthy"
		if status != http.StatusOK {
			health = "unhealthy"
		}

		c.JSON(status, gin.H{
			"status":  health,
			"service": deps.ServiceName,
			"checks":  checks,
		})
	}
}
