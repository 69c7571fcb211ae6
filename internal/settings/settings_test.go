package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	assert.NoError(t, Validate(Defaults()))
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
		ok     bool
	}{
		{"defaults", func(s *Settings) {}, true},
		{"max frames low", func(s *Settings) { s.MaxFrames = 0 }, false},
		{"max frames high", func(s *Settings) { s.MaxFrames = 129 }, false},
		{"max frames edge", func(s *Settings) { s.MaxFrames = 128 }, true},
		{"frame size low", func(s *Settings) { s.FrameSize = 100 }, false},
		{"frame size high", func(s *Settings) { s.FrameSize = 700 }, false},
		{"max tokens low", func(s *Settings) { s.MaxTokens = 32 }, false},
		{"max tokens high", func(s *Settings) { s.MaxTokens = 4096 }, false},
		{"temperature negative", func(s *Settings) { s.Temperature = -0.1 }, false},
		{"temperature high", func(s *Settings) { s.Temperature = 2.5 }, false},
		{"temperature zero", func(s *Settings) { s.Temperature = 0 }, true},
		{"batch size low", func(s *Settings) { s.BatchSize = 0 }, false},
		{"batch size high", func(s *Settings) { s.BatchSize = 9 }, false},
		{"empty model", func(s *Settings) { s.ModelID = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			tt.mutate(&s)
			if tt.ok {
				assert.NoError(t, Validate(s))
			} else {
				assert.Error(t, Validate(s))
			}
		})
	}
}

func TestDevices(t *testing.T) {
	s := Defaults()
	assert.Nil(t, s.Devices())

	s.Device = "cuda:0"
	assert.Equal(t, []string{"cuda:0"}, s.Devices())

	s.Device = "cuda:0, cuda:1"
	assert.Equal(t, []string{"cuda:0", "cuda:1"}, s.Devices())

	s.Device = ""
	assert.Nil(t, s.Devices())
}

func TestApplyPatch(t *testing.T) {
	current := Defaults()

	merged, err := applyPatch(current, map[string]interface{}{
		"max_frames":  32,
		"temperature": 0.7,
		"prompt":      "short prompt",
	})
	require.NoError(t, err)
	assert.Equal(t, 32, merged.MaxFrames)
	assert.InDelta(t, 0.7, merged.Temperature, 0.0001)
	assert.Equal(t, "short prompt", merged.Prompt)
	// Untouched fields keep their values.
	assert.Equal(t, current.ModelID, merged.ModelID)
	assert.Equal(t, current.MaxTokens, merged.MaxTokens)
}

func TestApplyPatchRejectsUnknownKey(t *testing.T) {
	_, err := applyPatch(Defaults(), map[string]interface{}{"no_such_field": 1})
	assert.ErrorContains(t, err, "unknown setting")
}

func TestApplyPatchRejectsWrongType(t *testing.T) {
	_, err := applyPatch(Defaults(), map[string]interface{}{"max_frames": "many"})
	assert.Error(t, err)
}
