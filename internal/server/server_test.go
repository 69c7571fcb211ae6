package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vidcaption/captiond/internal/captioner"
	"github.com/vidcaption/captiond/internal/config"
	"github.com/vidcaption/captiond/internal/database"
	"github.com/vidcaption/captiond/internal/events"
	"github.com/vidcaption/captiond/internal/media"
	"github.com/vidcaption/captiond/internal/processing"
	"github.com/vidcaption/captiond/internal/processing/broadcast"
	"github.com/vidcaption/captiond/internal/prompts"
	"github.com/vidcaption/captiond/internal/settings"
	"github.com/vidcaption/captiond/internal/sysinfo"
)

type stubExtractor struct{}

func (stubExtractor) ExtractFrames(ctx context.Context, path string, maxFrames, frameSize int, onProgress func(done, total int)) ([]captioner.Frame, captioner.VideoMeta, error) {
	if onProgress != nil {
		onProgress(1, 1)
	}
	return []captioner.Frame{{Index: 0, Data: []byte{1}}}, captioner.VideoMeta{DurationSec: 1}, nil
}

func (stubExtractor) Probe(ctx context.Context, path string) (captioner.VideoMeta, error) {
	return captioner.VideoMeta{DurationSec: 12.5, Width: 1920, Height: 1080, FPS: 30}, nil
}

type stubBackend struct{ device string }

func (b stubBackend) Device() string                    { return b.device }
func (b stubBackend) Prepare(ctx context.Context) error { return nil }
func (b stubBackend) Shutdown(ctx context.Context) error {
	return nil
}
func (b stubBackend) Generate(ctx context.Context, frames []captioner.Frame, params captioner.GenerationParams, onToken func(int)) (captioner.GenerationResult, error) {
	return captioner.GenerationResult{Text: "a caption", OutputTokens: 2, TokensPerSec: 4}, nil
}

type stubSettingsSource struct{}

func (stubSettingsSource) JobSettings() processing.JobSettings {
	return processing.JobSettings{
		ModelID: "m", Devices: []string{"cpu"}, Prompt: "p",
		MaxFrames: 2, FrameSize: 224, MaxTokens: 64,
	}
}

type testEnv struct {
	server *Server
	lib    *media.Library
	dir    string
	bus    *events.Bus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := hclog.NewNullLogger()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&database.SettingsRecord{}, &database.Prompt{}, &database.JobRecord{}))

	dir := t.TempDir()
	lib, err := media.NewLibrary(dir, []string{".mp4"}, ".txt", false, log)
	require.NoError(t, err)
	t.Cleanup(lib.Close)

	bus := events.NewBus(64, 100, log)
	require.NoError(t, bus.Start())
	t.Cleanup(func() { bus.Stop(context.Background()) })

	history := processing.NewGormHistory(db, log)
	hub := broadcast.NewHub(10*time.Millisecond, log)

	manager := processing.NewManager(processing.ManagerConfig{
		Source:    lib,
		Settings:  stubSettingsSource{},
		Extractor: stubExtractor{},
		NewBackend: func(device string, s processing.JobSettings) captioner.Backend {
			return stubBackend{device: device}
		},
		NewWriter: func(s processing.JobSettings) captioner.Writer {
			return captioner.NewFileWriter(".txt", false, log)
		},
		Sink:    hub,
		Bus:     bus,
		History: history,
		Log:     log,
	})

	thumbs, err := media.NewThumbnailer("ffmpeg", filepath.Join(t.TempDir(), "thumbs"), 85, log)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	srv := New(Deps{
		Config:      cfg,
		Log:         log,
		Manager:     manager,
		Hub:         hub,
		Library:     lib,
		Settings:    settings.NewStore(db, log),
		Prompts:     prompts.NewStore(db, log),
		Thumbnailer: thumbs,
		Prober:      stubExtractor{},
		Collector:   sysinfo.NewCollector(log),
		Bus:         bus,
		History:     history,
	})

	return &testEnv{server: srv, lib: lib, dir: dir, bus: bus}
}

func (e *testEnv) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) addVideo(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, name), []byte("fake"), 0o644))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSettingsEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var current settings.Settings
	decode(t, rec, &current)
	assert.Equal(t, settings.Defaults().ModelID, current.ModelID)

	rec = env.request(t, http.MethodPost, "/api/settings", map[string]interface{}{"max_frames": 32})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &current)
	assert.Equal(t, 32, current.MaxFrames)

	rec = env.request(t, http.MethodPost, "/api/settings", map[string]interface{}{"max_frames": 9999})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/settings/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &current)
	assert.Equal(t, settings.Defaults().MaxFrames, current.MaxFrames)
}

func TestPromptEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/prompts", promptRequest{Name: "n", Prompt: "p"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created database.Prompt
	decode(t, rec, &created)

	rec = env.request(t, http.MethodGet, "/api/prompts", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, http.MethodPut, "/api/prompts/"+created.ID, promptRequest{Name: "renamed"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, http.MethodDelete, "/api/prompts/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.request(t, http.MethodDelete, "/api/prompts/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVideoAndCaptionEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.addVideo(t, "a.mp4")
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "a.txt"), []byte("caption text"), 0o644))

	rec := env.request(t, http.MethodGet, "/api/videos", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Count  int                `json:"count"`
		Videos []media.VideoEntry `json:"videos"`
	}
	decode(t, rec, &listing)
	require.Equal(t, 1, listing.Count)
	assert.True(t, listing.Videos[0].HasCaption)

	rec = env.request(t, http.MethodGet, "/api/videos/a.mp4/info", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/captions/a.mp4", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, http.MethodDelete, "/api/captions/a.mp4", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/captions/a.mp4", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.request(t, http.MethodDelete, "/api/videos/a.mp4", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/videos/a.mp4/info", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func (e *testEnv) upload(t *testing.T, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/videos/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func TestUploadEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.upload(t, "clip.mp4", "0123456789")
	require.Equal(t, http.StatusCreated, rec.Code)
	var entry media.VideoEntry
	decode(t, rec, &entry)
	assert.Equal(t, "clip.mp4", entry.Name)
	assert.FileExists(t, filepath.Join(env.dir, "clip.mp4"))

	rec = env.upload(t, "notes.txt", "not a video")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamEndpointServesRanges(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "clip.mp4"), []byte("0123456789"), 0o644))

	rec := env.request(t, http.MethodGet, "/api/videos/clip.mp4/stream", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0123456789", rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/api/videos/clip.mp4/stream", nil)
	req.Header.Set("Range", "bytes=2-5")
	rangeRec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rangeRec, req)
	assert.Equal(t, http.StatusPartialContent, rangeRec.Code)
	assert.Equal(t, "2345", rangeRec.Body.String())

	rec = env.request(t, http.MethodGet, "/api/videos/missing.mp4/stream", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVideoListingStream(t *testing.T) {
	env := newTestEnv(t)
	env.addVideo(t, "a.mp4")
	env.addVideo(t, "b.mp4")

	rec := env.request(t, http.MethodGet, "/api/videos/stream", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	var entry media.VideoEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "a.mp4", entry.Name)
}

func TestModelStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/model/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status processing.ModelStatus
	decode(t, rec, &status)
	assert.False(t, status.Loaded)
	assert.Equal(t, processing.StageIdle, status.Stage)
}

func TestDirectoryEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/directory", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/directory", map[string]string{"path": "/no/such/dir"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	other := t.TempDir()
	rec = env.request(t, http.MethodPost, "/api/directory", map[string]string{"path": other})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, other, env.lib.Root())

	rec = env.request(t, http.MethodGet, "/api/directory/browse?path="+other, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProcessingLifecycleEndpoints(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		env.addVideo(t, fmt.Sprintf("v%d.mp4", i))
	}

	rec := env.request(t, http.MethodPost, "/api/process/stop", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/process/start", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var started processing.StartResponse
	decode(t, rec, &started)
	assert.Equal(t, 3, started.TotalVideos)

	require.Eventually(t, func() bool {
		rec := env.request(t, http.MethodGet, "/api/process/status", nil)
		var snap processing.Snapshot
		decode(t, rec, &snap)
		return snap.Stage == processing.StageComplete
	}, 5*time.Second, 10*time.Millisecond)

	// Captions landed next to the videos.
	data, err := os.ReadFile(filepath.Join(env.dir, "v0.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "a caption")

	// Job history recorded the run.
	rec = env.request(t, http.MethodGet, "/api/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var jobs struct {
		Count int `json:"count"`
	}
	decode(t, rec, &jobs)
	assert.Equal(t, 1, jobs.Count)

	// Lifecycle events are readable incrementally.
	rec = env.request(t, http.MethodGet, "/api/events?after=0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStartWithUnknownVideo(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodPost, "/api/process/start",
		processing.StartRequest{VideoNames: []string{"missing.mp4"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyticsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.addVideo(t, "a.mp4")
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "a.txt"), []byte("a dog runs"), 0o644))

	rec := env.request(t, http.MethodPost, "/api/analytics/words", map[string]interface{}{"stopwords": "none"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/analytics/ngrams", map[string]interface{}{"n": 2, "stopwords": "none"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/analytics/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary struct {
		TotalCaptions int `json:"total_captions"`
	}
	decode(t, rec, &summary)
	assert.Equal(t, 1, summary.TotalCaptions)
}

func TestSystemEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodGet, "/api/system", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
