package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/dirsync/internal/account"
	"github.com/cuongbtq/dirsync/internal/api/dto"
	"github.com/cuongbtq/dirsync/internal/dirsync"
	"github.com/cuongbtq/dirsync/internal/reconcile"
)

// TriggerReconciliation handles POST /api/v1/reconciliations
// Schedules one reconciliation per filter under a single batch tag
func (h *SyncHandler) TriggerReconciliation(c *gin.Context) {
	var req dto.TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if req.Tag == "" {
		req.Tag = dirsync.NewTag(time.Now())
	}
	if len(req.Filters) == 0 {
		req.Filters = h.defaultFilters
	}

	for _, pattern := range req.Filters {
		if _, err := reconcile.NewKeyFilter(pattern); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  "Invalid filter",
				"filter": pattern,
			})
			return
		}
	}

	j, err := h.sync.Trigger(c.Request.Context(), req.Tag, req.Filters)
	if err != nil {
		h.logger.Error("Failed to trigger reconciliation", slog.String("tag", req.Tag), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to trigger reconciliation",
		})
		return
	}

	c.JSON(http.StatusAccepted, scheduled(j))
}

// ScheduleDelete handles POST /api/v1/deletions
func (h *SyncHandler) ScheduleDelete(c *gin.Context) {
	var req dto.DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if req.Tag == "" {
		req.Tag = dirsync.NewTag(time.Now())
	}

	j, err := h.sync.ScheduleDelete(c.Request.Context(), req.Tag, req.Side, req.Key)
	if errors.Is(err, dirsync.ErrUnknownSide) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to schedule deletion",
			slog.String("side", req.Side),
			slog.String("key", req.Key),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to schedule deletion",
		})
		return
	}

	c.JSON(http.StatusAccepted, scheduled(j))
}

// PutAccount handles PUT /api/v1/accounts/:email
// Creates or updates a local account; the change is pushed to the directory
func (h *SyncHandler) PutAccount(c *gin.Context) {
	var uri dto.AccountURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "email must be a valid address",
		})
		return
	}

	var req dto.AccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	ctx := c.Request.Context()
	key := reconcile.NormalizeKey(uri.Email)

	existing, err := h.accounts.LoadByKey(ctx, key)
	if err != nil && !errors.Is(err, reconcile.ErrRecordNotFound) {
		h.logger.Error("Failed to load account", slog.String("email", key), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load account",
		})
		return
	}

	status := http.StatusOK
	a := existing
	if a == nil {
		status = http.StatusCreated
		a = &account.Account{Email: key, IsActive: true, Attributes: account.Attributes{}}
	} else {
		a = existing.Clone()
	}

	a.Username = strings.TrimSpace(req.Username)
	if req.Active != nil {
		a.IsActive = *req.Active
	}
	if req.Attributes != nil {
		a.Attributes = account.Attributes(req.Attributes)
	}

	if existing == nil {
		err = h.accounts.Create(ctx, a)
	} else {
		err = h.accounts.Update(ctx, a)
	}
	if errors.Is(err, reconcile.ErrAlreadyExists) {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Account already exists",
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to save account", slog.String("email", key), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to save account",
		})
		return
	}

	c.JSON(status, a)
}
