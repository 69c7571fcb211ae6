package sysinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNvidiaSmi(t *testing.T) {
	out := "0, NVIDIA GeForce RTX 4090, 24564, 1021, 3\n" +
		"1, NVIDIA GeForce RTX 3090, 24576, 22110, 97\n"

	gpus := parseNvidiaSmi(out)
	require.Len(t, gpus, 2)

	assert.Equal(t, 0, gpus[0].Index)
	assert.Equal(t, "NVIDIA GeForce RTX 4090", gpus[0].Name)
	assert.Equal(t, 24564, gpus[0].MemoryTotalMB)
	assert.Equal(t, 1021, gpus[0].MemoryUsedMB)
	assert.Equal(t, 3, gpus[0].UtilizationPct)

	assert.Equal(t, 1, gpus[1].Index)
	assert.Equal(t, 97, gpus[1].UtilizationPct)
}

func TestParseNvidiaSmiGarbage(t *testing.T) {
	assert.Empty(t, parseNvidiaSmi(""))
	assert.Empty(t, parseNvidiaSmi("nvidia-smi: command not found"))
	assert.Empty(t, parseNvidiaSmi("x, y"))
}
