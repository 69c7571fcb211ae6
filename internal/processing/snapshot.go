package processing

// WorkerStatus is the per-worker slice of a progress snapshot.
type WorkerStatus struct {
	WorkerID         int     `json:"worker_id"`
	Device           string  `json:"device"`
	CurrentVideo     *string `json:"current_video"`
	Substage         string  `json:"substage"`
	SubstageProgress float64 `json:"substage_progress"`
}

// Snapshot is the aggregated, point-in-time view of a run delivered to
// observers. Consumers never mutate it; the aggregator rebuilds it on
// every worker event.
type Snapshot struct {
	Stage           Stage          `json:"stage"`
	TotalVideos     int            `json:"total_videos"`
	CompletedVideos int            `json:"completed_videos"`
	FailedVideos    int            `json:"failed_videos"`
	OverallProgress float64        `json:"overall_progress"`
	ElapsedSeconds  float64        `json:"elapsed_seconds"`
	TokensPerSec    float64        `json:"tokens_per_sec"`
	Workers         []WorkerStatus `json:"workers"`
	ErrorMessage    string         `json:"error_message,omitempty"`
}

// Remaining returns the tasks not yet done or failed.
func (s Snapshot) Remaining() int {
	return s.TotalVideos - s.CompletedVideos - s.FailedVideos
}

// SnapshotSink receives every aggregator snapshot. Implementations are
// expected to rate-limit on their side; snapshots in a terminal stage
// should be flushed immediately.
type SnapshotSink interface {
	Push(Snapshot)
}

// StartRequest asks the manager to begin a run. Empty VideoNames means
// every video in the library; Prompt overrides the stored prompt for
// this run only.
type StartRequest struct {
	VideoNames []string `json:"video_names,omitempty"`
	Prompt     string   `json:"prompt,omitempty"`
}

// StartResponse acknowledges an accepted run.
type StartResponse struct {
	Accepted    bool   `json:"accepted"`
	JobID       string `json:"job_id"`
	TotalVideos int    `json:"total_videos"`
}

// StopResponse reports the final accounting of a stopped run.
type StopResponse struct {
	VideosCompleted int `json:"videos_completed"`
	VideosRemaining int `json:"videos_remaining"`
}
