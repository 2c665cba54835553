package engine

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/openscribe/scribed/pkg/models"
)

// pyannoteCLI runs speaker diarization through an external runner that
// prints RTTM lines on stdout. Gated models need an HF token, passed via
// the environment.
type pyannoteCLI struct {
	binary    string
	modelPath string
	device    string
	hfToken   string
}

func newPyannoteCLI(m *models.Model, opts Options) (*pyannoteCLI, error) {
	if m.Info.RequiresHFToken && opts.HFToken == "" {
		return nil, fmt.Errorf("model %s requires an HF token (set HF_TOKEN)", m.UpstreamID)
	}
	binary := os.Getenv("PYANNOTE_CLI")
	if binary == "" {
		binary = "pyannote-runner"
	}
	modelPath := m.LocalPath
	if modelPath == "" {
		modelPath = m.UpstreamID
	}
	return &pyannoteCLI{
		binary:    binary,
		modelPath: modelPath,
		device:    opts.Device,
		hfToken:   opts.HFToken,
	}, nil
}

func (p *pyannoteCLI) Diarize(ctx context.Context, audioPath string) ([]Turn, error) {
	args := []string{"--model", p.modelPath, audioPath}
	if p.device != "" && p.device != "auto" {
		args = append(args, "--device", p.device)
	}

	cmd := exec.CommandContext(ctx, p.binary, args...)
	cmd.Env = os.Environ()
	if p.hfToken != "" {
		cmd.Env = append(cmd.Env, "HF_TOKEN="+p.hfToken)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 500 {
			msg = msg[len(msg)-500:]
		}
		return nil, fmt.Errorf("%s failed: %w: %s", p.binary, err, msg)
	}

	turns, err := parseRTTM(stdout.Bytes())
	if err != nil {
		return nil, err
	}
	sort.Slice(turns, func(i, j int) bool { return turns[i].Start < turns[j].Start })
	return turns, nil
}

func (p *pyannoteCLI) Close() error {
	return nil
}

// parseRTTM decodes RTTM speaker lines:
//
//	SPEAKER <file> 1 <onset> <duration> <NA> <NA> <label> <NA> <NA>
func parseRTTM(data []byte) ([]Turn, error) {
	var turns []Turn
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 8 || fields[0] != "SPEAKER" {
			continue
		}
		onset, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid RTTM onset %q: %w", fields[3], err)
		}
		duration, err := strconv.ParseFloat(fields[4], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid RTTM duration %q: %w", fields[4], err)
		}
		turns = append(turns, Turn{
			Start:   onset,
			End:     onset + duration,
			Speaker: fields[7],
		})
	}
	return turns, scanner.Err()
}
