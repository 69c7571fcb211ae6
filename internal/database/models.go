package database

import "time"

// SettingsRecord stores the generation settings as a single versioned row.
// The JSON payload is owned by the settings package; keeping it opaque here
// lets settings evolve without schema migrations.
type SettingsRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Payload   string `gorm:"type:text"`
	UpdatedAt time.Time
}

// Prompt is a saved prompt in the prompt library.
type Prompt struct {
	ID        string `gorm:"primaryKey;size:36"`
	Name      string `gorm:"size:100;not null"`
	Prompt    string `gorm:"type:text;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JobRecord is the persisted trace of one processing run. It is written
// when a job is accepted and updated on every terminal transition, so the
// job history survives restarts.
type JobRecord struct {
	ID              string `gorm:"primaryKey;size:36"`
	Stage           string `gorm:"size:20;index"`
	TotalVideos     int
	CompletedVideos int
	FailedVideos    int
	ErrorMessage    string `gorm:"type:text"`
	StartedAt       time.Time
	FinishedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
