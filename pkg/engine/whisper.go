package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/openscribe/scribed/pkg/models"
)

// whisperProgressRe matches the progress lines whisper-cli prints on stderr,
// e.g. "whisper_print_progress_callback: progress =  15%".
var whisperProgressRe = regexp.MustCompile(`progress\s*=\s*(\d+)%`)

// whisperCLI runs speech-to-text through the whisper.cpp command line tool.
// One instance corresponds to one model file; the process is spawned per
// transcription, so Close has nothing to release beyond bookkeeping.
type whisperCLI struct {
	binary    string
	modelPath string
	threads   int
}

func newWhisperCLI(m *models.Model, opts Options) (*whisperCLI, error) {
	if m.LocalPath == "" {
		return nil, fmt.Errorf("model %s has no local path", m.ID)
	}
	binary := os.Getenv("WHISPER_CLI")
	if binary == "" {
		binary = "whisper-cli"
	}
	return &whisperCLI{binary: binary, modelPath: m.LocalPath, threads: opts.Threads}, nil
}

func (w *whisperCLI) Transcribe(ctx context.Context, audioPath, language string, translate bool, progress ProgressFunc) (*STTResult, error) {
	outDir, err := os.MkdirTemp("", "whisper-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(outDir)
	outPrefix := filepath.Join(outDir, "result")

	args := []string{
		"-m", w.modelPath,
		"-f", audioPath,
		"-oj",
		"-of", outPrefix,
		"--print-progress",
	}
	if language != "" && language != "auto" {
		args = append(args, "-l", language)
	} else {
		args = append(args, "-l", "auto")
	}
	if translate {
		args = append(args, "-tr")
	}
	if w.threads > 0 {
		args = append(args, "-t", strconv.Itoa(w.threads))
	}

	cmd := exec.CommandContext(ctx, w.binary, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", w.binary, err)
	}

	var lastLines []string
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if match := whisperProgressRe.FindStringSubmatch(line); match != nil {
			if progress != nil {
				if pct, err := strconv.Atoi(match[1]); err == nil {
					progress(float64(pct) / 100)
				}
			}
			continue
		}
		lastLines = append(lastLines, line)
		if len(lastLines) > 10 {
			lastLines = lastLines[1:]
		}
	}

	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", w.binary, err, strings.Join(lastLines, "\n"))
	}
	if progress != nil {
		progress(1)
	}

	return parseWhisperJSON(outPrefix + ".json")
}

func (w *whisperCLI) Close() error {
	return nil
}

// whisperJSON mirrors the whisper.cpp JSON output layout.
type whisperJSON struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Timestamps struct {
			From string `json:"from"`
			To   string `json:"to"`
		} `json:"timestamps"`
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text   string `json:"text"`
		Tokens []struct {
			Text    string  `json:"text"`
			P       float64 `json:"p"`
			Offsets struct {
				From int64 `json:"from"`
				To   int64 `json:"to"`
			} `json:"offsets"`
		} `json:"tokens"`
	} `json:"transcription"`
}

func parseWhisperJSON(path string) (*STTResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcription output: %w", err)
	}

	var doc whisperJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse transcription output: %w", err)
	}

	result := &STTResult{DetectedLanguage: doc.Result.Language}
	for _, entry := range doc.Transcription {
		text := strings.TrimSpace(entry.Text)
		if text == "" {
			continue
		}
		seg := STTSegment{
			Start: float64(entry.Offsets.From) / 1000,
			End:   float64(entry.Offsets.To) / 1000,
			Text:  text,
		}
		var pSum float64
		for _, tok := range entry.Tokens {
			tokText := strings.TrimSpace(tok.Text)
			if tokText == "" || strings.HasPrefix(tokText, "[_") {
				continue
			}
			pSum += tok.P
			seg.Words = append(seg.Words, models.Word{
				Word:       tokText,
				Start:      float64(tok.Offsets.From) / 1000,
				End:        float64(tok.Offsets.To) / 1000,
				Confidence: tok.P,
			})
		}
		if len(seg.Words) > 0 {
			seg.Confidence = pSum / float64(len(seg.Words))
		}
		result.Segments = append(result.Segments, seg)
		if seg.End > result.Duration {
			result.Duration = seg.End
		}
	}

	return result, nil
}
