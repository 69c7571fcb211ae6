package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vidcaption/captiond/internal/analytics"
	"github.com/vidcaption/captiond/internal/media"
	"github.com/vidcaption/captiond/internal/processing"
	"github.com/vidcaption/captiond/internal/prompts"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- settings ---

func (s *Server) handleGetSettings(c *gin.Context) {
	current, err := s.deps.Settings.Get()
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, current)
}

func (s *Server) handleUpdateSettings(c *gin.Context) {
	var patch map[string]interface{}
	if err := c.ShouldBindJSON(&patch); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	updated, err := s.deps.Settings.Update(patch)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleResetSettings(c *gin.Context) {
	restored, err := s.deps.Settings.Reset()
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, restored)
}

// --- prompts ---

type promptRequest struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

func (s *Server) handleListPrompts(c *gin.Context) {
	list, err := s.deps.Prompts.List()
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prompts": list})
}

func (s *Server) handleCreatePrompt(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	created, err := s.deps.Prompts.Create(req.Name, req.Prompt)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleUpdatePrompt(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	updated, err := s.deps.Prompts.Update(c.Param("id"), req.Name, req.Prompt)
	if errors.Is(err, prompts.ErrNotFound) {
		s.fail(c, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDeletePrompt(c *gin.Context) {
	err := s.deps.Prompts.Delete(c.Param("id"))
	if errors.Is(err, prompts.ErrNotFound) {
		s.fail(c, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- videos & captions ---

func (s *Server) handleListVideos(c *gin.Context) {
	videos, err := s.deps.Library.Videos()
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"videos": videos, "count": len(videos)})
}

// handleListVideosStream writes the listing as newline-delimited JSON,
// one entry per line, so large libraries render incrementally.
func (s *Server) handleListVideosStream(c *gin.Context) {
	videos, err := s.deps.Library.Videos()
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Status(http.StatusOK)
	enc := json.NewEncoder(c.Writer)
	for _, video := range videos {
		if err := enc.Encode(video); err != nil {
			return
		}
		c.Writer.Flush()
	}
}

func (s *Server) handleUploadVideo(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	src, err := header.Open()
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	defer src.Close()

	entry, err := s.deps.Library.SaveUpload(header.Filename, src)
	if errors.Is(err, media.ErrUnsupportedExtension) {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (s *Server) handleStreamVideo(c *gin.Context) {
	video, err := s.deps.Library.Lookup(c.Param("name"))
	if errors.Is(err, media.ErrVideoNotFound) {
		s.fail(c, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	// ServeFile negotiates Range requests, so players can seek.
	http.ServeFile(c.Writer, c.Request, video.Path)
}

func (s *Server) handleVideoInfo(c *gin.Context) {
	video, err := s.deps.Library.Lookup(c.Param("name"))
	if errors.Is(err, media.ErrVideoNotFound) {
		s.fail(c, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}

	meta, err := s.deps.Prober.Probe(c.Request.Context(), video.Path)
	if err != nil {
		s.fail(c, http.StatusUnprocessableEntity, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"video": video, "media": meta})
}

func (s *Server) handleDeleteVideo(c *gin.Context) {
	err := s.deps.Library.Delete(c.Param("name"))
	if errors.Is(err, media.ErrVideoNotFound) {
		s.fail(c, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleThumbnail(c *gin.Context) {
	video, err := s.deps.Library.Lookup(c.Param("name"))
	if errors.Is(err, media.ErrVideoNotFound) {
		s.fail(c, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}

	size, _ := strconv.Atoi(c.DefaultQuery("size", "320"))
	if min := s.deps.Config.Thumbnails.MinSize; size < min {
		size = min
	}
	if max := s.deps.Config.Thumbnails.MaxSize; size > max {
		size = max
	}

	data, err := s.deps.Thumbnailer.Thumbnail(c.Request.Context(), video.Path, size)
	if err != nil {
		s.fail(c, http.StatusUnprocessableEntity, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/webp", data)
}

func (s *Server) handleClearThumbnails(c *gin.Context) {
	if err := s.deps.Thumbnailer.ClearCache(); err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListCaptions(c *gin.Context) {
	captions, err := s.deps.Library.Captions()
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"captions": captions, "count": len(captions)})
}

func (s *Server) handleGetCaption(c *gin.Context) {
	text, err := s.deps.Library.Caption(c.Param("name"))
	if errors.Is(err, media.ErrVideoNotFound) || errors.Is(err, media.ErrCaptionNotFound) {
		s.fail(c, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"video_name": c.Param("name"), "text": text})
}

func (s *Server) handleDeleteCaption(c *gin.Context) {
	err := s.deps.Library.DeleteCaption(c.Param("name"))
	if errors.Is(err, media.ErrVideoNotFound) || errors.Is(err, media.ErrCaptionNotFound) {
		s.fail(c, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- directory ---

func (s *Server) handleGetDirectory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"path": s.deps.Library.Root()})
}

func (s *Server) handleSetDirectory(c *gin.Context) {
	var req struct {
		Path string `json:"path" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	if err := s.deps.Library.SetRoot(req.Path); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": s.deps.Library.Root()})
}

func (s *Server) handleBrowseDirectory(c *gin.Context) {
	path := c.DefaultQuery("path", s.deps.Library.Root())
	parent, dirs, err := media.BrowseDir(path)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "parent": parent, "directories": dirs})
}

// --- model & processing ---

func (s *Server) handleModelStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Manager.ModelStatus())
}

func (s *Server) handleStartProcessing(c *gin.Context) {
	var req processing.StartRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.fail(c, http.StatusBadRequest, err)
			return
		}
	}

	resp, err := s.deps.Manager.Start(req)
	switch {
	case errors.Is(err, processing.ErrJobAlreadyRunning):
		s.fail(c, http.StatusConflict, err)
	case errors.Is(err, processing.ErrNoVideos), errors.Is(err, media.ErrVideoNotFound):
		s.fail(c, http.StatusBadRequest, err)
	case err != nil:
		s.fail(c, http.StatusInternalServerError, err)
	default:
		c.JSON(http.StatusAccepted, resp)
	}
}

func (s *Server) handleStopProcessing(c *gin.Context) {
	resp, err := s.deps.Manager.Stop()
	if errors.Is(err, processing.ErrNoRunningJob) {
		s.fail(c, http.StatusConflict, err)
		return
	}
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleProcessingStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Manager.Status())
}

// --- analytics ---

type analyticsRequest struct {
	analytics.Options
	N int `json:"n"`
}

func (s *Server) captionTexts(c *gin.Context) ([]string, bool) {
	captions, err := s.deps.Library.Captions()
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return nil, false
	}
	texts := make([]string, len(captions))
	for i, caption := range captions {
		texts[i] = caption.Text
	}
	return texts, true
}

func (s *Server) handleAnalyticsWords(c *gin.Context) {
	var req analyticsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.fail(c, http.StatusBadRequest, err)
			return
		}
	}
	texts, ok := s.captionTexts(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"words": analytics.WordFrequency(texts, req.Options)})
}

func (s *Server) handleAnalyticsNGrams(c *gin.Context) {
	var req analyticsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.fail(c, http.StatusBadRequest, err)
			return
		}
	}
	texts, ok := s.captionTexts(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"ngrams": analytics.NGrams(texts, req.N, req.Options)})
}

func (s *Server) handleAnalyticsSummary(c *gin.Context) {
	texts, ok := s.captionTexts(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, analytics.Summarize(texts))
}

// --- events, jobs, system ---

func (s *Server) handleEvents(c *gin.Context) {
	after, _ := strconv.ParseInt(c.DefaultQuery("after", "0"), 10, 64)
	list := s.deps.Bus.Since(after)
	c.JSON(http.StatusOK, gin.H{"events": list, "count": len(list)})
}

func (s *Server) handleJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := s.deps.History.Recent(limit)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": records, "count": len(records)})
}

func (s *Server) handleSystem(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Collector.Collect(c.Request.Context()))
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
