// Package api exposes the pipeline over HTTP for dashboards and operators.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/blog-autopilot/internal/models"
	"github.com/blog-autopilot/internal/pipeline"
	"github.com/blog-autopilot/internal/storage"
	"github.com/blog-autopilot/pkg/logger"
)

// PostService is the pipeline surface the API drives
type PostService interface {
	Submit(ctx context.Context, sub pipeline.Submission) (*models.Post, error)
	Get(ctx context.Context, id string) (*models.Post, error)
	List(ctx context.Context, filter storage.PostFilter) ([]*models.Post, error)
	Retry(ctx context.Context, id string) (*models.Post, error)
	MarkFailed(ctx context.Context, id, reason string) (*models.Post, error)
}

// CalendarService moves scheduled posts
type CalendarService interface {
	Reschedule(ctx context.Context, id string, at time.Time, force bool) (*models.Post, error)
}

// NewRouter creates and configures the Gin router
func NewRouter(posts PostService, calendar CalendarService, log *logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(recoveryMiddleware(log))
	router.Use(loggingMiddleware(log))

	h := NewPostHandler(posts, calendar, log)

	router.GET("/health", healthCheck)

	v1 := router.Group("/v1")
	{
		v1.POST("/topics", h.SubmitTopic)

		p := v1.Group("/posts")
		{
			p.GET("", h.ListPosts)
			p.GET("/:id", h.GetPost)
			p.POST("/:id/retry", h.RetryPost)
			p.POST("/:id/reschedule", h.ReschedulePost)
			p.POST("/:id/fail", h.FailPost)
		}
	}

	return router
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"service":   "blog-autopilot",
	})
}

func recoveryMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().Interface("error", err).Msg("Panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "internal server error",
				})
			}
		}()
		c.Next()
	}
}

func loggingMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		event := log.Debug()
		if status >= 400 {
			event = log.Warn()
		}
		if status >= 500 {
			event = log.Error()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("Request completed")
	}
}
