package sysinfo

import (
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/openscribe/scribed/pkg/models"
)

// GPUInfo describes one NVIDIA device as reported by nvidia-smi.
type GPUInfo struct {
	Index          int    `json:"index"`
	Name           string `json:"name"`
	MemoryTotalMB  int    `json:"memory_total_mb"`
	MemoryUsedMB   int    `json:"memory_used_mb"`
	UtilizationPct int    `json:"utilization_pct"`
}

// ProbeGPUs queries nvidia-smi for the installed devices. Returns nil when
// the tool is absent or fails, which is the normal CPU-only case.
func ProbeGPUs(ctx context.Context) []GPUInfo {
	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=index,name,memory.total,memory.used,utilization.gpu",
		"--format=csv,noheader,nounits",
	).Output()
	if err != nil {
		return nil
	}

	var gpus []GPUInfo
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		fields := strings.Split(line, ",")
		if len(fields) < 5 {
			continue
		}
		gpus = append(gpus, GPUInfo{
			Index:          atoiField(fields[0]),
			Name:           strings.TrimSpace(fields[1]),
			MemoryTotalMB:  atoiField(fields[2]),
			MemoryUsedMB:   atoiField(fields[3]),
			UtilizationPct: atoiField(fields[4]),
		})
	}
	return gpus
}

func atoiField(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

// ModelEvaluation says whether a model fits the current hardware and where
// it should run.
type ModelEvaluation struct {
	ModelID string `json:"model_id"`
	CanRun  bool   `json:"can_run"`
	Device  string `json:"device"`
	Verdict string `json:"verdict"`
}

// EvaluateModel checks a model's resource requirements against the hardware
// snapshot.
func EvaluateModel(info *HardwareInfo, m *models.Model) *ModelEvaluation {
	eval := &ModelEvaluation{ModelID: m.ID, CanRun: true, Device: info.RecommendedDevice}

	needGB := m.Info.RecommendedVRAMGB
	if needGB == 0 {
		eval.Verdict = "no resource requirements declared; assumed to fit"
		return eval
	}

	if len(info.GPUs) > 0 {
		var freeGB float64
		for _, g := range info.GPUs {
			freeGB += float64(g.MemoryTotalMB-g.MemoryUsedMB) / 1024
		}
		if freeGB >= needGB {
			eval.Verdict = "fits in available GPU memory"
			return eval
		}
		eval.Device = "cpu"
	}

	if info.Memory.AvailableGB >= needGB {
		eval.Verdict = "fits in system memory (CPU inference)"
		return eval
	}

	eval.CanRun = false
	eval.Verdict = "insufficient memory for this model"
	return eval
}
