package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/openscribe/scribed/pkg/models"
)

// piperCLI synthesizes speech with the piper TTS tool. Text arrives on
// stdin; piper writes a PCM16 WAV at its model's native sample rate.
type piperCLI struct {
	binary    string
	modelPath string
}

func newPiperCLI(m *models.Model, opts Options) (*piperCLI, error) {
	if m.LocalPath == "" {
		return nil, fmt.Errorf("model %s has no local path", m.ID)
	}
	binary := os.Getenv("PIPER_CLI")
	if binary == "" {
		binary = "piper"
	}
	return &piperCLI{binary: binary, modelPath: m.LocalPath}, nil
}

func (p *piperCLI) Synthesize(ctx context.Context, text, language, outPath string) error {
	cmd := exec.CommandContext(ctx, p.binary,
		"--model", p.modelPath,
		"--output_file", outPath,
	)
	cmd.Stdin = strings.NewReader(text)
	return runAdapterTool(cmd, p.binary)
}

func (p *piperCLI) Close() error {
	return nil
}

// coquiCLI synthesizes speech with the Coqui TTS command line tool.
type coquiCLI struct {
	binary    string
	modelPath string
	upstream  string
	device    string
}

func newCoquiCLI(m *models.Model, opts Options) (*coquiCLI, error) {
	binary := os.Getenv("COQUI_CLI")
	if binary == "" {
		binary = "tts"
	}
	return &coquiCLI{
		binary:    binary,
		modelPath: m.LocalPath,
		upstream:  m.UpstreamID,
		device:    opts.Device,
	}, nil
}

func (c *coquiCLI) Synthesize(ctx context.Context, text, language, outPath string) error {
	args := []string{"--text", text, "--out_path", outPath}
	if c.modelPath != "" {
		args = append(args, "--model_path", c.modelPath)
	} else {
		args = append(args, "--model_name", c.upstream)
	}
	if language != "" && language != "auto" {
		args = append(args, "--language_idx", language)
	}
	if c.device == "cuda" {
		args = append(args, "--use_cuda", "true")
	}
	cmd := exec.CommandContext(ctx, c.binary, args...)
	return runAdapterTool(cmd, c.binary)
}

func (c *coquiCLI) Close() error {
	return nil
}

func runAdapterTool(cmd *exec.Cmd, name string) error {
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 500 {
			msg = msg[len(msg)-500:]
		}
		if msg != "" {
			return fmt.Errorf("%s failed: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}
