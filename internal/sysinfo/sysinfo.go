// Package sysinfo reports host and accelerator inventory: CPU and
// memory via gopsutil, GPUs via an nvidia-smi probe. Hosts without
// nvidia-smi simply report no GPUs.
package sysinfo

import (
	"bytes"
	"context"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// GPU describes one accelerator.
type GPU struct {
	Index          int    `json:"index"`
	Name           string `json:"name"`
	MemoryTotalMB  int    `json:"memory_total_mb"`
	MemoryUsedMB   int    `json:"memory_used_mb"`
	UtilizationPct int    `json:"utilization_pct"`
}

// Info is the system inventory returned by the API.
type Info struct {
	Hostname      string  `json:"hostname"`
	Platform      string  `json:"platform"`
	Arch          string  `json:"arch"`
	CPUCount      int     `json:"cpu_count"`
	CPUUsagePct   float64 `json:"cpu_usage_pct"`
	MemoryTotalMB uint64  `json:"memory_total_mb"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	GPUs          []GPU   `json:"gpus"`
}

// Collector gathers system information.
type Collector struct {
	nvidiaSmiPath string
	log           hclog.Logger
}

func NewCollector(log hclog.Logger) *Collector {
	return &Collector{nvidiaSmiPath: "nvidia-smi", log: log}
}

// Collect returns the current inventory. Individual probe failures
// degrade to zero values rather than failing the whole call.
func (c *Collector) Collect(ctx context.Context) Info {
	info := Info{Arch: runtime.GOARCH, GPUs: c.GPUs(ctx)}

	if hostInfo, err := host.InfoWithContext(ctx); err == nil {
		info.Hostname = hostInfo.Hostname
		info.Platform = hostInfo.Platform
	}
	if count, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.CPUCount = count
	}
	if usage, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(usage) > 0 {
		info.CPUUsagePct = usage[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryTotalMB = vm.Total / 1024 / 1024
		info.MemoryUsedMB = vm.Used / 1024 / 1024
	}
	return info
}

// GPUs probes nvidia-smi. A missing binary or a probe error yields an
// empty list.
func (c *Collector) GPUs(ctx context.Context) []GPU {
	cmd := exec.CommandContext(ctx, c.nvidiaSmiPath,
		"--query-gpu=index,name,memory.total,memory.used,utilization.gpu",
		"--format=csv,noheader,nounits")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		c.log.Debug("nvidia-smi not available", "error", err)
		return nil
	}
	return parseNvidiaSmi(stdout.String())
}

// DefaultDevices resolves the "auto" device selection: one cuda device
// per detected GPU, or the CPU when none are present.
func (c *Collector) DefaultDevices(ctx context.Context) []string {
	gpus := c.GPUs(ctx)
	if len(gpus) == 0 {
		return []string{"cpu"}
	}
	devices := make([]string, len(gpus))
	for i, gpu := range gpus {
		devices[i] = "cuda:" + strconv.Itoa(gpu.Index)
	}
	return devices
}

func parseNvidiaSmi(out string) []GPU {
	var gpus []GPU
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Split(line, ",")
		if len(fields) < 5 {
			continue
		}
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		index, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		gpu := GPU{Index: index, Name: fields[1]}
		gpu.MemoryTotalMB, _ = strconv.Atoi(fields[2])
		gpu.MemoryUsedMB, _ = strconv.Atoi(fields[3])
		gpu.UtilizationPct, _ = strconv.Atoi(fields[4])
		gpus = append(gpus, gpu)
	}
	return gpus
}
