package processing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		from  Stage
		to    Stage
		valid bool
	}{
		{"idle to loading", StageIdle, StageLoadingModel, true},
		{"loading to processing", StageLoadingModel, StageProcessing, true},
		{"loading to error", StageLoadingModel, StageError, true},
		{"loading to stopped", StageLoadingModel, StageStopped, true},
		{"processing to complete", StageProcessing, StageComplete, true},
		{"processing to error", StageProcessing, StageError, true},
		{"processing to stopped", StageProcessing, StageStopped, true},
		{"idle to processing skips loading", StageIdle, StageProcessing, false},
		{"complete is terminal", StageComplete, StageProcessing, false},
		{"stopped is terminal", StageStopped, StageLoadingModel, false},
		{"error is terminal", StageError, StageComplete, false},
		{"processing cannot regress", StageProcessing, StageLoadingModel, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, validTransition(tt.from, tt.to))
		})
	}
}

func TestStageTerminal(t *testing.T) {
	assert.True(t, StageIdle.Terminal())
	assert.True(t, StageComplete.Terminal())
	assert.True(t, StageError.Terminal())
	assert.True(t, StageStopped.Terminal())
	assert.False(t, StageLoadingModel.Terminal())
	assert.False(t, StageProcessing.Terminal())
}

func TestNewJobDeduplicates(t *testing.T) {
	job := NewJob([]TaskSpec{
		{Name: "a.mp4", Path: "/v/a.mp4"},
		{Name: "b.mp4", Path: "/v/b.mp4"},
		{Name: "a.mp4", Path: "/v/a.mp4"},
	}, JobSettings{})

	assert.Equal(t, 2, job.Total())
	assert.Equal(t, "a.mp4", job.Tasks()[0].VideoName)
	assert.Equal(t, "b.mp4", job.Tasks()[1].VideoName)
	assert.NotEmpty(t, job.ID)
}
