package processing

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/vidcaption/captiond/internal/database"
)

// History records job runs for the job history endpoint. Recording is
// best-effort: failures are logged and never block a run.
type History interface {
	RecordStart(jobID string, total int)
	RecordFinish(jobID string, stage Stage, completed, failed int, errMsg string)
}

// GormHistory persists job records through the shared database.
type GormHistory struct {
	db  *gorm.DB
	log hclog.Logger
}

func NewGormHistory(db *gorm.DB, log hclog.Logger) *GormHistory {
	return &GormHistory{db: db, log: log}
}

func (h *GormHistory) RecordStart(jobID string, total int) {
	record := database.JobRecord{
		ID:          jobID,
		Stage:       string(StageLoadingModel),
		TotalVideos: total,
		StartedAt:   time.Now().UTC(),
	}
	if err := h.db.Create(&record).Error; err != nil {
		h.log.Warn("failed to record job start", "job_id", jobID, "error", err)
	}
}

func (h *GormHistory) RecordFinish(jobID string, stage Stage, completed, failed int, errMsg string) {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"stage":            string(stage),
		"completed_videos": completed,
		"failed_videos":    failed,
		"error_message":    errMsg,
		"finished_at":      &now,
	}
	if err := h.db.Model(&database.JobRecord{}).Where("id = ?", jobID).Updates(updates).Error; err != nil {
		h.log.Warn("failed to record job finish", "job_id", jobID, "error", err)
	}
}

// Recent returns the most recent job records, newest first.
func (h *GormHistory) Recent(limit int) ([]database.JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []database.JobRecord
	err := h.db.Order("started_at DESC").Limit(limit).Find(&records).Error
	return records, err
}

// MarkInterrupted flags records a crash left in a non-terminal stage.
// Called once at startup before any new job runs.
func (h *GormHistory) MarkInterrupted() error {
	return h.db.Model(&database.JobRecord{}).
		Where("stage IN ?", []string{string(StageLoadingModel), string(StageProcessing)}).
		Update("stage", "interrupted").Error
}

// noopHistory is used when no database is configured.
type noopHistory struct{}

func (noopHistory) RecordStart(string, int)                      {}
func (noopHistory) RecordFinish(string, Stage, int, int, string) {}
