package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/case-event-handler/internal/domain/event"
)

// ServiceAuthorizationHeader carries the caller's service token
const ServiceAuthorizationHeader = "ServiceAuthorization"

// Handlers contains all HTTP request handlers
type Handlers struct {
	processor    MessageProcessor
	health       HealthCheck
	maxBodyBytes int64
	version      string
	logger       Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(processor MessageProcessor, version string, logger Logger) *Handlers {
	return &Handlers{
		processor:    processor,
		maxBodyBytes: DefaultMaxBodyBytes,
		version:      version,
		logger:       logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Version    string      `json:"version"`
	Components interface{} `json:"components,omitempty"`
}

// HealthCheck handles GET /health. It answers 503 when the configured
// check reports a dependency down.
func (h *Handlers) HealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.version,
	}

	if h.health != nil {
		healthy, components := h.health(c.Request.Context())
		resp.Components = components
		if !healthy {
			resp.Status = "unhealthy"
			h.logger.Error("Health check failed", "components", components)
			c.JSON(http.StatusServiceUnavailable, Response{
				Success: false,
				Data:    resp,
				Error:   "service unhealthy",
			})
			return
		}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: resp})
}

// PostMessage handles POST /messages. The body is one raw case event.
func (h *Handlers) PostMessage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)

	body, err := c.GetRawData()
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.logger.Error("Request body too large", "limit", tooLarge.Limit)
		c.JSON(http.StatusRequestEntityTooLarge, Response{
			Success: false,
			Error:   "request body too large",
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to read request body", "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "unreadable request body",
		})
		return
	}

	err = h.processor.ProcessMessage(c.Request.Context(), body)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, event.ErrDeserialization), errors.Is(err, event.ErrValidation):
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   err.Error(),
		})
	default:
		h.logger.Error("Failed to process message", "error", err)
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to process message",
		})
	}
}

// serviceAuthMiddleware rejects requests without a valid service token
func serviceAuthMiddleware(verifier TokenVerifier, logger Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader(ServiceAuthorizationHeader), "Bearer "))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Success: false,
				Error:   "missing service authorization",
			})
			return
		}

		service, err := verifier.Verify(token)
		if err != nil {
			logger.Error("Rejected service token", "error", err, "client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusForbidden, Response{
				Success: false,
				Error:   "invalid service authorization",
			})
			return
		}

		c.Set("service", service)
		c.Next()
	}
}
