package prompts

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vidcaption/captiond/internal/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&database.Prompt{}))
	return NewStore(db, hclog.NewNullLogger())
}

func TestPromptCRUD(t *testing.T) {
	store := newTestStore(t)

	created, err := store.Create("cinematic", "Describe the scene like a film critic.")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	got, err := store.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "cinematic", got.Name)

	updated, err := store.Update(created.ID, "cinematic v2", "")
	require.NoError(t, err)
	assert.Equal(t, "cinematic v2", updated.Name)
	assert.Equal(t, created.Prompt, updated.Prompt)

	list, err := store.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, store.Delete(created.ID))
	_, err = store.Get(created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateRejectsEmptyFields(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Create("", "text")
	assert.Error(t, err)

	_, err = store.Create("name", "   ")
	assert.Error(t, err)
}

func TestDeleteMissingPrompt(t *testing.T) {
	store := newTestStore(t)
	assert.ErrorIs(t, store.Delete("no-such-id"), ErrNotFound)
}

func TestUpdateMissingPrompt(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Update("no-such-id", "name", "text")
	assert.ErrorIs(t, err, ErrNotFound)
}
