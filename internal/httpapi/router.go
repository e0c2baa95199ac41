package httpapi

import (
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appconfig "github.com/omnitutor/tutor-server/internal/config"
	"github.com/omnitutor/tutor-server/internal/params"
	"github.com/omnitutor/tutor-server/internal/storage"
	"github.com/omnitutor/tutor-server/internal/ws"
)

// Deps are the collaborators the HTTP surface exposes.
type Deps struct {
	WS       *ws.Handler
	Registry *ws.Registry
	Params   *params.Store
	MCPs     *storage.MCPRegistry
}

// NewRouter builds the gin engine: websocket endpoint, session parameter
// API, MCP registry API, transcripts, health, and the static frontend.
func NewRouter(cfg appconfig.Config, deps Deps, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"sessions":    deps.Registry.Count(),
			"session_ids": deps.Registry.SessionIDs(),
		})
	})

	router.GET("/ws", func(c *gin.Context) {
		deps.WS.Handle(c.Writer, c.Request)
	})

	router.GET("/config", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Params.Get())
	})
	router.POST("/config", func(c *gin.Context) {
		var update params.Partial
		if err := c.ShouldBindJSON(&update); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := deps.Params.Update(update); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, deps.Params.Get())
	})

	mountMCPs(router, deps.MCPs)

	router.GET("/api/transcripts", func(c *gin.Context) {
		c.JSON(http.StatusOK, storage.ListTranscripts(cfg.TranscriptsDir))
	})
	router.GET("/api/transcripts/:id", func(c *gin.Context) {
		messages, err := storage.GetTranscript(cfg.TranscriptsDir, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "transcript not found"})
			return
		}
		c.JSON(http.StatusOK, messages)
	})
	router.DELETE("/api/transcripts/:id", func(c *gin.Context) {
		if !storage.DeleteTranscript(cfg.TranscriptsDir, c.Param("id")) {
			c.JSON(http.StatusNotFound, gin.H{"error": "transcript not found"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	if cfg.FrontendDir != "" {
		router.Static("/frontend", cfg.FrontendDir)
		router.GET("/", func(c *gin.Context) {
			c.File(filepath.Join(cfg.FrontendDir, "index.html"))
		})
		router.StaticFile("/favicon.ico", filepath.Join(cfg.FrontendDir, "favicon.ico"))
	}

	return router
}

type mcpRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type enableRequest struct {
	Enabled bool `json:"enabled"`
}

func mountMCPs(router *gin.Engine, registry *storage.MCPRegistry) {
	router.GET("/api/mcps", func(c *gin.Context) {
		c.JSON(http.StatusOK, registry.List())
	})

	router.POST("/api/mcps", func(c *gin.Context) {
		var req mcpRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		entry, err := registry.Add(req.Name, req.URL)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, entry)
	})

	router.GET("/api/mcps/:id", func(c *gin.Context) {
		entry, err := registry.Get(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, entry)
	})

	router.PUT("/api/mcps/:id", func(c *gin.Context) {
		var req mcpRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		entry, err := registry.Update(c.Param("id"), req.Name, req.URL)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, entry)
	})

	router.DELETE("/api/mcps/:id", func(c *gin.Context) {
		if err := registry.Delete(c.Param("id")); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	router.PATCH("/api/mcps/:id/enable", func(c *gin.Context) {
		var req enableRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		entry, err := registry.SetEnabled(c.Param("id"), req.Enabled)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, entry)
	})

	router.POST("/api/mcps/:id/check", func(c *gin.Context) {
		entry, err := registry.CheckConnectivity(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, entry)
	})
}

func statusFor(err error) int {
	if errors.Is(err, storage.ErrMCPNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		if logger == nil {
			return
		}
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", latency),
			zap.String("user_agent", c.Request.UserAgent()),
		)
	}
}
