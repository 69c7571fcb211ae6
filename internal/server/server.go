// Package server exposes the REST and WebSocket API over gin.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"github.com/vidcaption/captiond/internal/captioner"
	"github.com/vidcaption/captiond/internal/config"
	"github.com/vidcaption/captiond/internal/events"
	"github.com/vidcaption/captiond/internal/media"
	"github.com/vidcaption/captiond/internal/processing"
	"github.com/vidcaption/captiond/internal/processing/broadcast"
	"github.com/vidcaption/captiond/internal/prompts"
	"github.com/vidcaption/captiond/internal/settings"
	"github.com/vidcaption/captiond/internal/sysinfo"
)

// Prober reports media metadata for the video detail endpoint. The
// production implementation is the ffmpeg frame extractor.
type Prober interface {
	Probe(ctx context.Context, path string) (captioner.VideoMeta, error)
}

// Deps bundles everything the handlers need.
type Deps struct {
	Config      *config.Config
	Log         hclog.Logger
	Manager     *processing.Manager
	Hub         *broadcast.Hub
	Library     *media.Library
	Settings    *settings.Store
	Prompts     *prompts.Store
	Thumbnailer *media.Thumbnailer
	Prober      Prober
	Collector   *sysinfo.Collector
	Bus         *events.Bus
	History     *processing.GormHistory
}

// Server is the HTTP front of the service.
type Server struct {
	deps   Deps
	log    hclog.Logger
	router *gin.Engine
	http   *http.Server
}

func New(deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		deps:   deps,
		log:    deps.Log,
		router: gin.New(),
	}
	// Video names may contain path separators when subfolder traversal
	// is on; clients escape them and raw-path routing keeps them intact.
	s.router.UseRawPath = true
	s.router.Use(gin.Recovery())
	if deps.Config.Server.EnableCORS {
		s.router.Use(corsMiddleware())
	}
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", deps.Config.Server.Host, deps.Config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  deps.Config.Server.ReadTimeout.Std(),
		WriteTimeout: deps.Config.Server.WriteTimeout.Std(),
	}
	return s
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)

		api.GET("/settings", s.handleGetSettings)
		api.POST("/settings", s.handleUpdateSettings)
		api.POST("/settings/reset", s.handleResetSettings)

		api.GET("/prompts", s.handleListPrompts)
		api.POST("/prompts", s.handleCreatePrompt)
		api.PUT("/prompts/:id", s.handleUpdatePrompt)
		api.DELETE("/prompts/:id", s.handleDeletePrompt)

		api.GET("/videos", s.handleListVideos)
		api.GET("/videos/stream", s.handleListVideosStream)
		api.POST("/videos/upload", s.handleUploadVideo)
		api.DELETE("/videos/:name", s.handleDeleteVideo)
		api.GET("/videos/:name/thumbnail", s.handleThumbnail)
		api.GET("/videos/:name/info", s.handleVideoInfo)
		api.GET("/videos/:name/stream", s.handleStreamVideo)

		api.GET("/captions", s.handleListCaptions)
		api.GET("/captions/:name", s.handleGetCaption)
		api.DELETE("/captions/:name", s.handleDeleteCaption)

		api.GET("/directory", s.handleGetDirectory)
		api.POST("/directory", s.handleSetDirectory)
		api.GET("/directory/browse", s.handleBrowseDirectory)

		api.GET("/model/status", s.handleModelStatus)

		api.POST("/process/start", s.handleStartProcessing)
		api.POST("/process/stop", s.handleStopProcessing)
		api.GET("/process/status", s.handleProcessingStatus)

		api.POST("/analytics/words", s.handleAnalyticsWords)
		api.POST("/analytics/ngrams", s.handleAnalyticsNGrams)
		api.GET("/analytics/summary", s.handleAnalyticsSummary)

		api.GET("/events", s.handleEvents)
		api.GET("/jobs", s.handleJobs)
		api.GET("/system", s.handleSystem)

		api.DELETE("/thumbnails/cache", s.handleClearThumbnails)
	}

	s.router.GET("/ws/progress", func(c *gin.Context) {
		s.deps.Hub.ServeWS(c.Writer, c.Request)
	})
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
