// Package api serves the simulator over HTTP
package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"discord-simulator/backend/internal/markov"
	"discord-simulator/backend/internal/metrics"
	"discord-simulator/backend/internal/simulator"
	apperrors "discord-simulator/backend/pkg/errors"
)

type messageRequest struct {
	Message string `json:"message" binding:"required"`
}

type generateRequest struct {
	Seed *uint64 `json:"seed"`
}

type pruneRequest struct {
	Prefix string `json:"prefix"`
}

// NewRouter builds the gin engine for the service
func NewRouter(service *simulator.Service, m *metrics.Metrics, log *zap.Logger, production bool) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if production {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(cors())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	api := router.Group("/api")
	{
		// List entities that have a graph
		api.GET("/entities", func(c *gin.Context) {
			ids, err := service.Entities(c.Request.Context(), c.Query("prefix"))
			if err != nil {
				writeError(c, log, "list entities", err)
				return
			}
			if ids == nil {
				ids = []string{}
			}
			c.JSON(http.StatusOK, gin.H{"entities": ids})
		})

		// Train an entity with one message
		api.POST("/entities/:id/messages", func(c *gin.Context) {
			var req messageRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			entityID := c.Param("id")
			if err := service.ObserveMessage(c.Request.Context(), entityID, req.Message); err != nil {
				writeError(c, log, "train", err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "trained", "entity_id": entityID})
		})

		// Generate a message, deterministically when a seed is given
		api.POST("/entities/:id/generate", func(c *gin.Context) {
			var req generateRequest
			if c.Request.ContentLength != 0 {
				if err := c.ShouldBindJSON(&req); err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
					return
				}
			}

			entityID := c.Param("id")
			words, err := service.RequestGeneration(c.Request.Context(), entityID, req.Seed)
			if err != nil {
				writeError(c, log, "generate", err)
				return
			}
			if words == nil {
				words = []string{}
			}
			c.JSON(http.StatusOK, gin.H{
				"entity_id": entityID,
				"words":     words,
				"text":      strings.Join(words, " "),
			})
		})

		// Inspect an entity's graph
		api.GET("/entities/:id/graph", func(c *gin.Context) {
			snap, err := service.Inspect(c.Request.Context(), c.Param("id"))
			if err != nil {
				writeError(c, log, "inspect", err)
				return
			}
			c.JSON(http.StatusOK, snap)
		})

		// Prune one entity
		api.POST("/entities/:id/prune", func(c *gin.Context) {
			result, err := service.PruneEntity(c.Request.Context(), c.Param("id"))
			if err != nil {
				writeError(c, log, "prune entity", err)
				return
			}
			c.JSON(http.StatusOK, result)
		})

		// Run a prune sweep over every entity matching the prefix
		api.POST("/prune", func(c *gin.Context) {
			var req pruneRequest
			if c.Request.ContentLength != 0 {
				if err := c.ShouldBindJSON(&req); err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
					return
				}
			}

			report, err := service.PruneAll(c.Request.Context(), req.Prefix)
			if err != nil {
				writeError(c, log, "prune", err)
				return
			}
			c.JSON(http.StatusOK, report)
		})
	}

	return router
}

// writeError maps service errors onto HTTP statuses
func writeError(c *gin.Context, log *zap.Logger, op string, err error) {
	status := http.StatusInternalServerError
	msg := "Internal error"
	switch {
	case apperrors.IsUnknownEntity(err):
		status, msg = http.StatusNotFound, "Entity not found"
	case errors.Is(err, markov.ErrInvalidToken):
		status, msg = http.StatusBadRequest, err.Error()
	case apperrors.IsRetryable(err):
		status, msg = http.StatusServiceUnavailable, "Storage busy, try again"
	case apperrors.IsErrorType(err, apperrors.ErrorTypeContext):
		status, msg = http.StatusServiceUnavailable, "Request cancelled"
	case apperrors.IsCorruption(err):
		msg = "Graph is corrupt"
	}

	if status >= http.StatusInternalServerError {
		log.Error("Request failed", zap.String("operation", op), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": msg})
}

// cors allows browser dashboards to call the API
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
