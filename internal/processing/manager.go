package processing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/vidcaption/captiond/internal/captioner"
	"github.com/vidcaption/captiond/internal/events"
)

var (
	// ErrJobAlreadyRunning is returned when a start request arrives
	// while the single run slot is occupied.
	ErrJobAlreadyRunning = errors.New("a processing job is already running")

	// ErrNoRunningJob is returned when stop is called with no active job.
	ErrNoRunningJob = errors.New("no processing job is running")

	// ErrNoVideos is returned when a start request resolves to zero tasks.
	ErrNoVideos = errors.New("no videos to process")
)

// VideoSource resolves requested video names to task specs. A nil or
// empty name list means every video in the library.
type VideoSource interface {
	Resolve(names []string) ([]TaskSpec, error)
}

// SettingsSource provides the settings snapshot a new job runs with.
type SettingsSource interface {
	JobSettings() JobSettings
}

// BackendFactory builds the model backend for one device.
type BackendFactory func(device string, settings JobSettings) captioner.Backend

// WriterFactory builds the caption writer for a job's settings.
type WriterFactory func(settings JobSettings) captioner.Writer

// ManagerConfig wires the manager's collaborators.
type ManagerConfig struct {
	Source     VideoSource
	Settings   SettingsSource
	Extractor  captioner.FrameExtractor
	NewBackend BackendFactory
	NewWriter  WriterFactory
	Sink       SnapshotSink
	Bus        *events.Bus
	History    History
	Log        hclog.Logger
}

// Manager owns the single run slot: at most one job is loading or
// processing at any time. It is an explicit instance constructed in
// main and shared with the HTTP layer.
type Manager struct {
	cfg ManagerConfig
	log hclog.Logger

	mu       sync.Mutex
	running  bool
	agg      *aggregator
	cancel   context.CancelFunc
	runDone  chan struct{}
	stopping atomic.Bool
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Log == nil {
		cfg.Log = hclog.NewNullLogger()
	}
	if cfg.History == nil {
		cfg.History = noopHistory{}
	}
	return &Manager{cfg: cfg, log: cfg.Log}
}

// Start accepts a new job if the run slot is free. The job executes in
// the background; progress is observed through Status and the sink.
func (m *Manager) Start(req StartRequest) (StartResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return StartResponse{}, ErrJobAlreadyRunning
	}

	specs, err := m.cfg.Source.Resolve(req.VideoNames)
	if err != nil {
		return StartResponse{}, err
	}
	if len(specs) == 0 {
		return StartResponse{}, ErrNoVideos
	}

	settings := m.cfg.Settings.JobSettings()
	if req.Prompt != "" {
		settings.Prompt = req.Prompt
	}
	if len(settings.Devices) == 0 {
		settings.Devices = []string{"cpu"}
	}

	job := NewJob(specs, settings)
	agg := newAggregator(job, m.cfg.Bus, m.cfg.Sink, m.cfg.History, m.log.Named("aggregator"))

	ctx, cancel := context.WithCancel(context.Background())
	m.running = true
	m.agg = agg
	m.cancel = cancel
	m.runDone = make(chan struct{})
	m.stopping.Store(false)

	m.log.Info("job accepted", "job_id", job.ID, "videos", job.Total(), "devices", settings.Devices)
	go m.run(ctx, cancel, job, agg)

	return StartResponse{Accepted: true, JobID: job.ID, TotalVideos: job.Total()}, nil
}

// Stop requests a cooperative stop and blocks until the job reaches its
// terminal stage, then reports the final accounting.
func (m *Manager) Stop() (StopResponse, error) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return StopResponse{}, ErrNoRunningJob
	}
	agg := m.agg
	cancel := m.cancel
	runDone := m.runDone
	m.mu.Unlock()

	m.stopping.Store(true)
	cancel()

	select {
	case <-runDone:
	case <-time.After(60 * time.Second):
		m.log.Error("timed out waiting for workers to stop")
	}

	snap := agg.Snapshot()
	return StopResponse{
		VideosCompleted: snap.CompletedVideos,
		VideosRemaining: snap.Remaining(),
	}, nil
}

// ModelStatus describes the model lifecycle for the status endpoint.
// Models live for exactly one run, so the status mirrors the active
// job: loaded while tasks are processing, unloaded in every terminal
// stage.
type ModelStatus struct {
	Loaded  bool     `json:"loaded"`
	Stage   Stage    `json:"stage"`
	ModelID string   `json:"model_id,omitempty"`
	Devices []string `json:"devices,omitempty"`
}

// ModelStatus reports whether a model is currently loaded and where.
func (m *Manager) ModelStatus() ModelStatus {
	m.mu.Lock()
	agg := m.agg
	m.mu.Unlock()

	if agg == nil {
		return ModelStatus{Stage: StageIdle}
	}
	snap := agg.Snapshot()
	modelID, devices := agg.modelInfo()
	status := ModelStatus{Stage: snap.Stage, ModelID: modelID}
	if snap.Stage == StageProcessing {
		status.Loaded = true
		status.Devices = devices
	}
	return status
}

// Status returns the current snapshot, or an idle one before any run.
func (m *Manager) Status() Snapshot {
	m.mu.Lock()
	agg := m.agg
	m.mu.Unlock()

	if agg == nil {
		return Snapshot{Stage: StageIdle}
	}
	return agg.Snapshot()
}

func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, job *Job, agg *aggregator) {
	defer func() {
		cancel()
		m.mu.Lock()
		m.running = false
		close(m.runDone)
		m.mu.Unlock()
	}()

	agg.jobStarted()

	// Model loading is strictly sequential across devices to bound
	// peak memory. A device that fails to prepare is dropped; the job
	// is fatal only when no device loads.
	var backends []captioner.Backend
	for _, device := range job.Settings.Devices {
		backend := m.cfg.NewBackend(device, job.Settings)
		if err := backend.Prepare(ctx); err != nil {
			if m.stopping.Load() {
				break
			}
			m.log.Warn("device dropped: model failed to load", "device", device, "error", err)
			continue
		}
		backends = append(backends, backend)
	}

	if m.stopping.Load() {
		m.shutdownBackends(backends)
		agg.finalize(StageStopped, "")
		return
	}
	if len(backends) == 0 {
		agg.finalize(StageError, "model failed to load on every selected device")
		return
	}

	for i, backend := range backends {
		agg.registerWorker(i, backend.Device())
	}
	agg.processingStarted()

	queue := NewQueue(job.Tasks())
	eventCh := make(chan workerEvent, 64)
	writer := m.cfg.NewWriter(job.Settings)

	for i, backend := range backends {
		w := &worker{
			id:        i,
			backend:   backend,
			extractor: m.cfg.Extractor,
			writer:    writer,
			queue:     queue,
			events:    eventCh,
			stopping:  &m.stopping,
			settings:  job.Settings,
			log:       m.log.Named("worker").With("worker_id", i, "device", backend.Device()),
		}
		go w.run(ctx)
	}

	agg.run(eventCh, len(backends))
	m.shutdownBackends(backends)

	if m.stopping.Load() {
		agg.finalize(StageStopped, "")
		return
	}
	agg.finalize(StageComplete, "")
}

func (m *Manager) shutdownBackends(backends []captioner.Backend) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, backend := range backends {
		if err := backend.Shutdown(ctx); err != nil {
			m.log.Warn("backend shutdown failed", "device", backend.Device(), "error", err)
		}
	}
}
