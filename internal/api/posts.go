package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/blog-autopilot/internal/models"
	"github.com/blog-autopilot/internal/pipeline"
	"github.com/blog-autopilot/internal/schedule"
	"github.com/blog-autopilot/internal/storage"
	"github.com/blog-autopilot/pkg/logger"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// PostHandler serves the post and topic endpoints
type PostHandler struct {
	posts    PostService
	calendar CalendarService
	log      *logger.Logger
}

// NewPostHandler creates a PostHandler
func NewPostHandler(posts PostService, calendar CalendarService, log *logger.Logger) *PostHandler {
	return &PostHandler{
		posts:    posts,
		calendar: calendar,
		log:      log.WithComponent("api"),
	}
}

// SubmitTopic handles POST /v1/topics
func (h *PostHandler) SubmitTopic(c *gin.Context) {
	var req struct {
		Topic        string `json:"topic"`
		Instructions string `json:"instructions"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	post, err := h.posts.Submit(c.Request.Context(), pipeline.Submission{
		Topic:        req.Topic,
		Instructions: req.Instructions,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, post)
}

// ListPosts handles GET /v1/posts?stage=a,b&limit=&offset=
func (h *PostHandler) ListPosts(c *gin.Context) {
	filter := storage.PostFilter{
		Limit:     defaultPageSize,
		OrderBy:   "created_at",
		OrderDesc: true,
	}

	if raw := c.Query("stage"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			stage := models.Stage(strings.TrimSpace(s))
			if !stage.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown stage: " + string(stage)})
				return
			}
			filter.Stages = append(filter.Stages, stage)
		}
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		filter.Limit = min(n, maxPageSize)
	}
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
			return
		}
		filter.Offset = n
	}

	posts, err := h.posts.List(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"posts":  posts,
		"count":  len(posts),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// GetPost handles GET /v1/posts/:id
func (h *PostHandler) GetPost(c *gin.Context) {
	post, err := h.posts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

// RetryPost handles POST /v1/posts/:id/retry
func (h *PostHandler) RetryPost(c *gin.Context) {
	post, err := h.posts.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

// ReschedulePost handles POST /v1/posts/:id/reschedule
func (h *PostHandler) ReschedulePost(c *gin.Context) {
	var req struct {
		At    string `json:"at"` // RFC 3339
		Force bool   `json:"force"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	at, err := time.Parse(time.RFC3339, req.At)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at must be an RFC 3339 timestamp"})
		return
	}

	post, err := h.calendar.Reschedule(c.Request.Context(), c.Param("id"), at, req.Force)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

// FailPost handles POST /v1/posts/:id/fail
func (h *PostHandler) FailPost(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Reason) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
		return
	}

	post, err := h.posts.MarkFailed(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func (h *PostHandler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrEmptyTopic),
		errors.Is(err, pipeline.ErrInstructionsTooLong):
		return http.StatusBadRequest
	case errors.Is(err, schedule.ErrBlackoutDate):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrDuplicateTopic),
		errors.Is(err, pipeline.ErrNotFailed),
		errors.Is(err, pipeline.ErrRetryCeiling),
		errors.Is(err, pipeline.ErrPublished),
		errors.Is(err, schedule.ErrSlotTaken),
		errors.Is(err, schedule.ErrAlreadyPublished),
		errors.Is(err, schedule.ErrNotScheduled),
		errors.Is(err, storage.ErrVersionConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
