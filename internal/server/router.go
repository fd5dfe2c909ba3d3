// Package server exposes the synthesis pipeline over HTTP.
package server

import (
	"net/http"
	"slices"
	"time"

	"github.com/book-expert/logger"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
)

// HeaderTaskID carries the task ID of a synthesis response.
const HeaderTaskID = "X-Task-ID"

// RouterOptions configures the gin engine.
type RouterOptions struct {
	StaticDir        string
	CORSAllowOrigins []string
	Logger           *logger.Logger
}

// Router bundles together the gin engine and the API route group.
type Router struct {
	Engine *gin.Engine
	API    *gin.RouterGroup
}

// BuildRouter constructs a gin engine with recovery, request logging, CORS
// and the static UI.
func BuildRouter(opts RouterOptions) *Router {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(loggingMiddleware(opts.Logger))
	engine.Use(cors.New(corsConfig(opts.CORSAllowOrigins)))

	if opts.StaticDir != "" {
		engine.Use(static.Serve("/", static.LocalFile(opts.StaticDir, false)))
	}

	return &Router{
		Engine: engine,
		API:    engine.Group("/api"),
	}
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	cfg.ExposeHeaders = []string{"Content-Disposition", "Content-Length", HeaderTaskID}
	cfg.MaxAge = 12 * time.Hour

	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		cfg.AllowOrigins = nil
	} else {
		cfg.AllowOrigins = origins
	}

	return cfg
}

func loggingMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if log != nil {
			log.Info(
				"[HTTP] %s %s -> %d (%s)",
				c.Request.Method,
				c.Request.URL.Path,
				c.Writer.Status(),
				time.Since(start),
			)
		}
	}
}
