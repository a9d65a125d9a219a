// Package server wires the HTTP surface for the task dispatch service.
package server

import (
	"errors"
	"log"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sf7293/task-dispatch/internal/dispatcher"
	"github.com/sf7293/task-dispatch/internal/domain"
	"github.com/sf7293/task-dispatch/internal/errval"
)

func SetupRouter(dispatch *dispatcher.Dispatcher, storage domain.Storage, broker domain.Broker, isReady func() bool) *gin.Engine {
	r := gin.Default()
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		err := v.RegisterValidation("validate_priority", validatePriority)
		if err != nil {
			log.Fatal("failed to bind validation rule of validate_priority")
		}

		err = v.RegisterValidation("validate_status", validateStatus)
		if err != nil {
			log.Fatal("failed to bind validation rule of validate_status")
		}
	}

	tasks := r.Group("/tasks")
	tasks.POST("", func(c *gin.Context) {
		req := domain.RouterRequestCreateTask{}
		err := c.ShouldBindBodyWith(&req, binding.JSON)
		if err != nil {
			slog.Error("error occurred while binding request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		priority := domain.PriorityMedium
		if req.Priority != nil {
			priority = domain.TaskPriority(*req.Priority)
		}

		task, err := dispatch.Submit(c, req.Title, req.Description, priority)
		if err != nil {
			switch {
			case errors.Is(err, errval.ErrValidation):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			case errors.Is(err, errval.ErrBrokerUnavailable):
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "task accepted but not dispatched"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{})
			}
			return
		}

		c.JSON(http.StatusCreated, task)
	})

	tasks.GET("", func(c *gin.Context) {
		req := domain.RouterRequestListTasks{}
		err := c.ShouldBindQuery(&req)
		if err != nil {
			slog.Error("error occurred while binding list query", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameters"})
			return
		}

		filter := domain.ListTasksFilter{}
		if req.Status != nil {
			status := domain.TaskStatus(*req.Status)
			filter.Status = &status
		}
		if req.Priority != nil {
			priority := domain.TaskPriority(*req.Priority)
			filter.Priority = &priority
		}

		items, total, err := dispatch.List(c, filter, req.Page, req.PageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{})
			return
		}

		c.JSON(http.StatusOK, domain.RouterResponseTaskList{
			Items:    items,
			Total:    total,
			Page:     req.Page,
			PageSize: req.PageSize,
		})
	})

	tasks.GET("/:id", func(c *gin.Context) {
		id, ok := parseTaskID(c)
		if !ok {
			return
		}

		task, err := dispatch.Get(c, id)
		if err != nil {
			if errors.Is(err, errval.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
				return
			}

			c.JSON(http.StatusInternalServerError, gin.H{})
			return
		}

		c.JSON(http.StatusOK, task)
	})

	tasks.GET("/:id/status", func(c *gin.Context) {
		id, ok := parseTaskID(c)
		if !ok {
			return
		}

		task, err := dispatch.Get(c, id)
		if err != nil {
			if errors.Is(err, errval.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
				return
			}

			c.JSON(http.StatusInternalServerError, gin.H{})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"id":           task.ID,
			"status":       task.Status,
			"created_at":   task.CreatedAt,
			"started_at":   task.StartedAt,
			"completed_at": task.CompletedAt,
		})
	})

	tasks.DELETE("/:id", func(c *gin.Context) {
		id, ok := parseTaskID(c)
		if !ok {
			return
		}

		cancelled, err := dispatch.Cancel(c, id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{})
			return
		}
		if !cancelled {
			c.JSON(http.StatusNotFound, gin.H{"error": "Task not found or already started"})
			return
		}

		c.Status(http.StatusNoContent)
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	r.GET("/readiness", func(c *gin.Context) {
		if isReady() {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
		} else {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		}
	})
	r.GET("/liveness", func(c *gin.Context) {
		// Checking health of depending upon infra connections
		err := storage.Ping(c)
		if err != nil {
			slog.Error("Postgresql seem not to be pingable in liveness API", "error", err.Error())
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not healthy"})
			return
		}

		if !broker.IsHealthy() {
			slog.Error("Rabbit is not healthy")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not healthy"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "up"})
	})

	return r
}

func parseTaskID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		slog.Error("Invalid id parameter, error occurred while parsing id as uuid", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return uuid.Nil, false
	}

	return id, true
}

var validatePriority validator.Func = func(fl validator.FieldLevel) bool {
	return domain.TaskPriority(fl.Field().String()).IsValid()
}

var validateStatus validator.Func = func(fl validator.FieldLevel) bool {
	return domain.TaskStatus(fl.Field().String()).IsValid()
}
