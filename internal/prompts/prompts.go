// Package prompts is the saved prompt library.
package prompts

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/vidcaption/captiond/internal/database"
)

// ErrNotFound is returned when a prompt id does not exist.
var ErrNotFound = errors.New("prompt not found")

// Store is the gorm-backed prompt library.
type Store struct {
	db  *gorm.DB
	log hclog.Logger
}

func NewStore(db *gorm.DB, log hclog.Logger) *Store {
	return &Store{db: db, log: log}
}

// List returns all saved prompts, newest first.
func (s *Store) List() ([]database.Prompt, error) {
	var prompts []database.Prompt
	err := s.db.Order("created_at DESC").Find(&prompts).Error
	return prompts, err
}

// Get returns one prompt by id.
func (s *Store) Get(id string) (database.Prompt, error) {
	var prompt database.Prompt
	err := s.db.First(&prompt, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return database.Prompt{}, ErrNotFound
	}
	return prompt, err
}

// Create saves a new named prompt.
func (s *Store) Create(name, text string) (database.Prompt, error) {
	name = strings.TrimSpace(name)
	text = strings.TrimSpace(text)
	if name == "" {
		return database.Prompt{}, errors.New("prompt name must not be empty")
	}
	if text == "" {
		return database.Prompt{}, errors.New("prompt text must not be empty")
	}

	prompt := database.Prompt{
		ID:     uuid.NewString(),
		Name:   name,
		Prompt: text,
	}
	if err := s.db.Create(&prompt).Error; err != nil {
		return database.Prompt{}, fmt.Errorf("failed to save prompt: %w", err)
	}
	s.log.Info("prompt saved", "id", prompt.ID, "name", prompt.Name)
	return prompt, nil
}

// Update renames or rewrites an existing prompt. Empty fields keep
// their stored values.
func (s *Store) Update(id, name, text string) (database.Prompt, error) {
	prompt, err := s.Get(id)
	if err != nil {
		return database.Prompt{}, err
	}

	if name = strings.TrimSpace(name); name != "" {
		prompt.Name = name
	}
	if text = strings.TrimSpace(text); text != "" {
		prompt.Prompt = text
	}
	if err := s.db.Save(&prompt).Error; err != nil {
		return database.Prompt{}, fmt.Errorf("failed to update prompt: %w", err)
	}
	return prompt, nil
}

// Delete removes a prompt by id.
func (s *Store) Delete(id string) error {
	result := s.db.Delete(&database.Prompt{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
