// Package settings persists the generation settings as a single
// versioned row. Updates are partial: callers send only the fields they
// change and the rest keep their stored values.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/vidcaption/captiond/internal/database"
)

const settingsRowID = 1

// DefaultPrompt is the caption instruction used until the user edits it.
const DefaultPrompt = "Describe this video in detail. Focus on the subjects, " +
	"actions, setting, and camera movement."

// Settings are the user-tunable generation parameters.
type Settings struct {
	ModelID         string  `json:"model_id"`
	Device          string  `json:"device"`
	Dtype           string  `json:"dtype"`
	Prompt          string  `json:"prompt"`
	MaxFrames       int     `json:"max_frames"`
	FrameSize       int     `json:"frame_size"`
	MaxTokens       int     `json:"max_tokens"`
	Temperature     float64 `json:"temperature"`
	BatchSize       int     `json:"batch_size"`
	IncludeMetadata bool    `json:"include_metadata"`
}

// Defaults returns the factory settings.
func Defaults() Settings {
	return Settings{
		ModelID:         "Qwen/Qwen3-VL-8B-Instruct",
		Device:          "auto",
		Dtype:           "bfloat16",
		Prompt:          DefaultPrompt,
		MaxFrames:       16,
		FrameSize:       336,
		MaxTokens:       512,
		Temperature:     0.3,
		BatchSize:       1,
		IncludeMetadata: true,
	}
}

// Devices splits the device setting into a selection list. "auto" is
// returned as-is for the caller to resolve against the host inventory.
func (s Settings) Devices() []string {
	if s.Device == "" || s.Device == "auto" {
		return nil
	}
	parts := strings.Split(s.Device, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks every field range. Returned errors are user-facing.
func Validate(s Settings) error {
	if s.ModelID == "" {
		return errors.New("model_id must not be empty")
	}
	if s.MaxFrames < 1 || s.MaxFrames > 128 {
		return fmt.Errorf("max_frames must be between 1 and 128, got %d", s.MaxFrames)
	}
	if s.FrameSize < 224 || s.FrameSize > 672 {
		return fmt.Errorf("frame_size must be between 224 and 672, got %d", s.FrameSize)
	}
	if s.MaxTokens < 64 || s.MaxTokens > 2048 {
		return fmt.Errorf("max_tokens must be between 64 and 2048, got %d", s.MaxTokens)
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %g", s.Temperature)
	}
	if s.BatchSize < 1 || s.BatchSize > 8 {
		return fmt.Errorf("batch_size must be between 1 and 8, got %d", s.BatchSize)
	}
	return nil
}

// Store reads and writes the settings row, keeping a cached copy so the
// hot path (job start) never touches the database.
type Store struct {
	db  *gorm.DB
	log hclog.Logger

	mu     sync.RWMutex
	cached *Settings
}

func NewStore(db *gorm.DB, log hclog.Logger) *Store {
	return &Store{db: db, log: log}
}

// Get returns the current settings, falling back to defaults when no
// row has been written yet.
func (s *Store) Get() (Settings, error) {
	s.mu.RLock()
	if s.cached != nil {
		cached := *s.cached
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()

	var record database.SettingsRecord
	err := s.db.First(&record, settingsRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Defaults(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}

	current := Defaults()
	if err := json.Unmarshal([]byte(record.Payload), &current); err != nil {
		s.log.Warn("stored settings are unreadable, using defaults", "error", err)
		return Defaults(), nil
	}

	s.mu.Lock()
	s.cached = &current
	s.mu.Unlock()
	return current, nil
}

// Update applies a partial patch on top of the current settings,
// validates the result, and persists it.
func (s *Store) Update(patch map[string]interface{}) (Settings, error) {
	current, err := s.Get()
	if err != nil {
		return Settings{}, err
	}

	merged, err := applyPatch(current, patch)
	if err != nil {
		return Settings{}, err
	}
	if err := Validate(merged); err != nil {
		return Settings{}, err
	}
	if err := s.save(merged); err != nil {
		return Settings{}, err
	}
	return merged, nil
}

// Reset restores factory settings.
func (s *Store) Reset() (Settings, error) {
	defaults := Defaults()
	if err := s.save(defaults); err != nil {
		return Settings{}, err
	}
	return defaults, nil
}

func (s *Store) save(settings Settings) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return err
	}

	record := database.SettingsRecord{ID: settingsRowID, Payload: string(payload)}
	err = s.db.Save(&record).Error
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	s.mu.Lock()
	s.cached = &settings
	s.mu.Unlock()
	s.log.Info("settings updated", "model", settings.ModelID, "device", settings.Device)
	return nil
}

// applyPatch merges patch keys over current through JSON so field names
// and types follow the wire schema exactly.
func applyPatch(current Settings, patch map[string]interface{}) (Settings, error) {
	base, err := json.Marshal(current)
	if err != nil {
		return Settings{}, err
	}
	var asMap map[string]interface{}
	if err := json.Unmarshal(base, &asMap); err != nil {
		return Settings{}, err
	}
	for key, value := range patch {
		if _, known := asMap[key]; !known {
			return Settings{}, fmt.Errorf("unknown setting %q", key)
		}
		asMap[key] = value
	}

	merged, err := json.Marshal(asMap)
	if err != nil {
		return Settings{}, err
	}
	var out Settings
	if err := json.Unmarshal(merged, &out); err != nil {
		return Settings{}, fmt.Errorf("invalid setting value: %w", err)
	}
	return out, nil
}
