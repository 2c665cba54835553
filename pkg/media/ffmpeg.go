package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// videoExtensions are the container formats treated as video input.
var videoExtensions = map[string]bool{
	".mp4":  true,
	".webm": true,
	".mkv":  true,
	".mov":  true,
	".avi":  true,
}

// audioExtensions are the accepted audio upload formats.
var audioExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".flac": true,
	".ogg":  true,
	".opus": true,
	".aac":  true,
	".wma":  true,
}

// IsVideo reports whether the path has a video container extension.
func IsVideo(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}

// SupportedExtension reports whether the upload extension is accepted.
func SupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return videoExtensions[ext] || audioExtensions[ext]
}

// ExtractAudio demuxes a media file to 16 kHz mono PCM16 WAV at outPath.
func ExtractAudio(ctx context.Context, inputPath, outPath string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", inputPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		outPath, "-y",
	)
	return runTool(cmd, "ffmpeg")
}

// ProbeDuration returns the media duration in seconds via ffprobe.
func ProbeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if probe.Format.Duration == "" {
		return 0, nil
	}
	duration, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ffprobe duration %q: %w", probe.Format.Duration, err)
	}
	return duration, nil
}

// ConcatWAVs joins the given audio files into one track using the ffmpeg
// concat demuxer.
func ConcatWAVs(ctx context.Context, inputs []string, outPath string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no segments to concatenate")
	}

	listFile, err := os.CreateTemp(filepath.Dir(outPath), "concat-*.txt")
	if err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}
	defer os.Remove(listFile.Name())

	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return fmt.Errorf("failed to resolve segment path: %w", err)
		}
		fmt.Fprintf(listFile, "file '%s'\n", abs)
	}
	if err := listFile.Close(); err != nil {
		return fmt.Errorf("failed to close concat list: %w", err)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile.Name(),
		"-c", "copy",
		outPath, "-y",
	)
	return runTool(cmd, "ffmpeg")
}

// RemuxVideoWithAudio copies the video track and replaces the audio track;
// total duration is the shorter of the two streams.
func RemuxVideoWithAudio(ctx context.Context, videoPath, audioPath, outPath string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-shortest",
		outPath, "-y",
	)
	return runTool(cmd, "ffmpeg")
}

// TimeStretch stretches audio by the given time ratio without pitch shift
// using the rubberband CLI (crisp mode tuned for speech).
func TimeStretch(ctx context.Context, inputPath, outPath string, ratio float64) error {
	cmd := exec.CommandContext(ctx, "rubberband",
		"-t", strconv.FormatFloat(ratio, 'f', -1, 64),
		"-p", "0",
		"-c", "6",
		inputPath,
		outPath,
	)
	return runTool(cmd, "rubberband")
}

func runTool(cmd *exec.Cmd, name string) error {
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
