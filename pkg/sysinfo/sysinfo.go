// Package sysinfo probes host hardware and derives processing
// recommendations: device selection, compute type and worker pool sizing.
package sysinfo

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// vramPerJobGB is the working-set budget for one concurrent GPU job.
const vramPerJobGB = 5.0

// CPUInfo describes the host processor.
type CPUInfo struct {
	Model         string `json:"model"`
	PhysicalCores int    `json:"physical_cores"`
	LogicalCores  int    `json:"logical_cores"`
}

// MemoryInfo describes host memory in gigabytes.
type MemoryInfo struct {
	TotalGB     float64 `json:"total_gb"`
	AvailableGB float64 `json:"available_gb"`
}

// HardwareInfo is a point-in-time snapshot of the host.
type HardwareInfo struct {
	CPU    CPUInfo    `json:"cpu"`
	Memory MemoryInfo `json:"memory"`
	GPUs   []GPUInfo  `json:"gpus"`

	RecommendedDevice      string `json:"recommended_device"`
	RecommendedComputeType string `json:"recommended_compute_type"`
	RecommendedWorkers     int    `json:"recommended_workers"`
}

// Probe gathers the hardware snapshot. GPU probing is best-effort: a host
// without nvidia-smi simply reports no GPUs.
func Probe(ctx context.Context) *HardwareInfo {
	info := &HardwareInfo{}

	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		info.CPU.Model = cpus[0].ModelName
	} else if err != nil {
		slog.Warn("Failed to probe CPU info", "error", err)
	}
	if physical, err := cpu.CountsWithContext(ctx, false); err == nil {
		info.CPU.PhysicalCores = physical
	}
	if logical, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.CPU.LogicalCores = logical
	}
	if info.CPU.LogicalCores == 0 {
		info.CPU.LogicalCores = runtime.NumCPU()
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.Memory.TotalGB = float64(vm.Total) / (1 << 30)
		info.Memory.AvailableGB = float64(vm.Available) / (1 << 30)
	} else {
		slog.Warn("Failed to probe memory info", "error", err)
	}

	info.GPUs = ProbeGPUs(ctx)

	info.RecommendedDevice = recommendDevice(info.GPUs)
	info.RecommendedComputeType = recommendComputeType(info.RecommendedDevice)
	info.RecommendedWorkers = RecommendWorkers(info)
	return info
}

func recommendDevice(gpus []GPUInfo) string {
	if len(gpus) > 0 {
		return "cuda"
	}
	return "cpu"
}

func recommendComputeType(device string) string {
	if device == "cuda" {
		return "float16"
	}
	return "int8"
}

// RecommendWorkers derives the concurrent job limit from hardware: one job
// per 5 GB of GPU memory, otherwise a conservative CPU-based count.
func RecommendWorkers(info *HardwareInfo) int {
	if len(info.GPUs) > 0 {
		var totalVRAMGB float64
		for _, g := range info.GPUs {
			totalVRAMGB += float64(g.MemoryTotalMB) / 1024
		}
		n := int(totalVRAMGB / vramPerJobGB)
		if n < 1 {
			n = 1
		}
		return n
	}

	n := info.CPU.PhysicalCores / 2
	if n < 1 {
		n = 1
	}
	return n
}

// BenchmarkResult is a coarse single-core throughput measurement.
type BenchmarkResult struct {
	SingleCoreScore float64       `json:"single_core_score"`
	Elapsed         time.Duration `json:"elapsed_ms"`
}

// Benchmark runs a short arithmetic loop and reports iterations per
// millisecond. Coarse by design: it only needs to rank hosts, not measure
// them precisely.
func Benchmark() *BenchmarkResult {
	const iterations = 20_000_000
	start := time.Now()
	acc := uint64(0x9e3779b9)
	for i := 0; i < iterations; i++ {
		acc ^= acc << 13
		acc ^= acc >> 7
		acc ^= acc << 17
	}
	elapsed := time.Since(start)
	_ = acc

	score := float64(iterations) / float64(elapsed.Milliseconds()+1)
	return &BenchmarkResult{SingleCoreScore: score, Elapsed: elapsed}
}
