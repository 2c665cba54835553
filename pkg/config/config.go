// Package config loads application settings from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all application settings.
type Config struct {
	// HTTP server
	Host string
	Port int

	// File storage
	UploadDir string
	OutputDir string
	ModelDir  string

	// MaxUploadSizeMB caps the accepted multipart upload size.
	MaxUploadSizeMB int64

	// CORSOrigins is the list of allowed browser origins.
	CORSOrigins []string

	// Processing defaults
	DefaultLanguage string
	Device          string
	ComputeType     string

	// WhisperThreads pins the transcription thread count. Zero lets the
	// engine pick.
	WhisperThreads int

	// MaxConcurrentJobs bounds the worker pool. Zero means derive from
	// hardware at startup.
	MaxConcurrentJobs int

	// ModelIdleTimeout evicts loaded models after this much inactivity.
	ModelIdleTimeout time.Duration

	// HFToken authorizes gated HuggingFace downloads (pyannote).
	HFToken string

	// EventBrokerURL, when set, mirrors bus events to a Redis channel so
	// out-of-process observers can follow progress. Optional.
	EventBrokerURL string

	// JobRetentionDays deletes finished jobs and their files after this many
	// days. Zero keeps everything forever.
	JobRetentionDays int

	// CleanupInterval is how often the retention sweep runs.
	CleanupInterval time.Duration
}

// Load reads configuration from environment variables, applying defaults.
func Load() (*Config, error) {
	port, err := intEnv("PORT", 8000)
	if err != nil {
		return nil, err
	}
	maxUpload, err := intEnv("MAX_UPLOAD_SIZE_MB", 500)
	if err != nil {
		return nil, err
	}
	maxJobs, err := intEnv("MAX_CONCURRENT_JOBS", 0)
	if err != nil {
		return nil, err
	}
	idleSecs, err := intEnv("MODEL_IDLE_TIMEOUT", 600)
	if err != nil {
		return nil, err
	}
	if idleSecs <= 0 {
		return nil, fmt.Errorf("MODEL_IDLE_TIMEOUT must be positive, got %d", idleSecs)
	}
	retentionDays, err := intEnv("JOB_RETENTION_DAYS", 0)
	if err != nil {
		return nil, err
	}
	if retentionDays < 0 {
		return nil, fmt.Errorf("JOB_RETENTION_DAYS must not be negative, got %d", retentionDays)
	}
	whisperThreads, err := intEnv("WHISPER_THREADS", 0)
	if err != nil {
		return nil, err
	}
	if whisperThreads < 0 {
		return nil, fmt.Errorf("WHISPER_THREADS must not be negative, got %d", whisperThreads)
	}
	cleanupSecs, err := intEnv("CLEANUP_INTERVAL", 3600)
	if err != nil {
		return nil, err
	}
	if cleanupSecs <= 0 {
		return nil, fmt.Errorf("CLEANUP_INTERVAL must be positive, got %d", cleanupSecs)
	}

	cfg := &Config{
		Host:              envOr("HOST", "0.0.0.0"),
		Port:              port,
		UploadDir:         envOr("UPLOAD_DIR", "./uploads"),
		OutputDir:         envOr("OUTPUT_DIR", "./outputs"),
		ModelDir:          envOr("MODEL_DIR", "./models"),
		MaxUploadSizeMB:   int64(maxUpload),
		CORSOrigins:       splitCSV(envOr("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173")),
		DefaultLanguage:   envOr("DEFAULT_LANGUAGE", "auto"),
		Device:            envOr("DEVICE", "auto"),
		ComputeType:       envOr("COMPUTE_TYPE", "auto"),
		WhisperThreads:    whisperThreads,
		MaxConcurrentJobs: maxJobs,
		ModelIdleTimeout:  time.Duration(idleSecs) * time.Second,
		HFToken:           os.Getenv("HF_TOKEN"),
		EventBrokerURL:    os.Getenv("EVENT_BROKER_URL"),
		JobRetentionDays:  retentionDays,
		CleanupInterval:   time.Duration(cleanupSecs) * time.Second,
	}

	return cfg, nil
}

// EnsureDirs creates the storage directories if they do not exist.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.UploadDir, c.OutputDir, c.ModelDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// JobOutputDir returns the per-job artifact directory.
func (c *Config) JobOutputDir(jobID string) string {
	return filepath.Join(c.OutputDir, jobID)
}

// MaxUploadSizeBytes returns the upload cap in bytes.
func (c *Config) MaxUploadSizeBytes() int64 {
	return c.MaxUploadSizeMB * 1024 * 1024
}

func envOr(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func intEnv(key string, defaultVal int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
