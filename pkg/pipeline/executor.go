// Package pipeline executes the processing stages of a claimed job: audio
// preparation, transcription, optional diarization, optional speech synthesis
// and optional timing sync. Each stage owns a progress band and a job status.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openscribe/scribed/pkg/config"
	"github.com/openscribe/scribed/pkg/engine"
	"github.com/openscribe/scribed/pkg/events"
	"github.com/openscribe/scribed/pkg/export"
	"github.com/openscribe/scribed/pkg/media"
	"github.com/openscribe/scribed/pkg/models"
	"github.com/openscribe/scribed/pkg/services"
	"github.com/openscribe/scribed/pkg/store"
	"github.com/openscribe/scribed/pkg/timesync"
)

// Executor runs the full pipeline for one job per Execute call. Terminal
// status transitions are owned by the caller; the executor maintains
// intermediate statuses, progress and artifacts.
type Executor struct {
	store     *store.Store
	publisher *events.Publisher
	cfg       *config.Config
	models    *services.ModelService
	loader    *engine.Loader
	syncer    *timesync.Engine
}

// NewExecutor creates an executor.
func NewExecutor(st *store.Store, publisher *events.Publisher, cfg *config.Config, modelSvc *services.ModelService, loader *engine.Loader) *Executor {
	return &Executor{
		store:     st,
		publisher: publisher,
		cfg:       cfg,
		models:    modelSvc,
		loader:    loader,
		syncer:    timesync.NewEngine(),
	}
}

// Execute runs all stages for the job. Returns ctx.Err() when the run was
// cancelled mid-flight. The caller records the terminal status.
func (e *Executor) Execute(ctx context.Context, job *models.Job) error {
	outDir := e.cfg.JobOutputDir(job.ID)
	workDir := filepath.Join(outDir, "work")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("failed to create job work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	tr := newTracker(e.store, e.publisher, job.ID)

	audioPath, err := e.prepare(ctx, job, workDir, tr)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	transcript, err := e.transcribe(ctx, job, audioPath, outDir, tr)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if job.EnableDiarization {
		if err := e.diarize(ctx, job, audioPath, outDir, transcript, tr); err != nil {
			return err
		}
	} else {
		tr.report(ctx, stageDiarize, bandDiarizeLow, "diarization skipped", true)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var ttsOut *models.TTSOutput
	var ttsSegments []timesync.Segment
	if job.EnableTTS {
		ttsOut, ttsSegments, err = e.synthesize(ctx, job, transcript, outDir, tr)
		if err != nil {
			return err
		}
	} else {
		tr.report(ctx, stageSynthesize, bandSynthesizeLow, "synthesis skipped", true)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if job.EnableTTS && job.SyncTTSTiming {
		if err := e.sync(ctx, job, ttsOut, ttsSegments, outDir, tr); err != nil {
			return err
		}
	} else {
		tr.report(ctx, stageSync, bandSyncLow, "timing sync skipped", true)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return e.finalize(ctx, job, outDir, tr)
}

// prepare demuxes the input to 16 kHz mono WAV and probes the duration.
func (e *Executor) prepare(ctx context.Context, job *models.Job, workDir string, tr *tracker) (string, error) {
	tr.report(ctx, stagePrepare, bandPrepareLow, "preparing audio", true)

	audioPath := filepath.Join(workDir, "audio.wav")
	if err := media.ExtractAudio(ctx, job.OriginalPath, audioPath); err != nil {
		return "", fmt.Errorf("audio extraction failed: %w", err)
	}

	duration, err := media.ProbeDuration(ctx, job.OriginalPath)
	if err != nil {
		slog.Warn("Failed to probe input duration", "job_id", job.ID, "error", err)
	}
	job.Duration = duration

	if _, err := e.store.UpdateJob(ctx, job.ID, func(j *models.Job) error {
		j.Duration = duration
		return nil
	}); err != nil {
		return "", err
	}

	tr.report(ctx, stagePrepare, bandTranscribeLow, "audio ready", true)
	return audioPath, nil
}

func (e *Executor) transcribe(ctx context.Context, job *models.Job, audioPath, outDir string, tr *tracker) (*models.Transcript, error) {
	if err := e.setStatus(ctx, job, models.JobStatusTranscribing, stageTranscribe); err != nil {
		return nil, err
	}

	m, err := e.models.Resolve(ctx, job.ModelID, models.ModelTypeSTT)
	if err != nil {
		return nil, err
	}
	transcriber, err := e.loader.Transcriber(m)
	if err != nil {
		return nil, err
	}

	result, err := transcriber.Transcribe(ctx, audioPath, job.Language, translateTask(job),
		tr.stageFunc(ctx, stageTranscribe, bandTranscribeLow, bandDiarizeLow))
	if err != nil {
		return nil, fmt.Errorf("transcription failed: %w", err)
	}

	transcript := buildTranscript(job, result)
	if err := e.store.CreateTranscript(ctx, transcript); err != nil {
		return nil, fmt.Errorf("failed to persist transcript: %w", err)
	}

	if _, err := export.WriteAll(transcript, outDir, job.OutputFormats); err != nil {
		return nil, fmt.Errorf("failed to write transcript exports: %w", err)
	}

	job.DetectedLanguage = result.DetectedLanguage
	if _, err := e.store.UpdateJob(ctx, job.ID, func(j *models.Job) error {
		j.DetectedLanguage = result.DetectedLanguage
		j.TranscriptPath = outDir
		return nil
	}); err != nil {
		return nil, err
	}

	tr.report(ctx, stageTranscribe, bandDiarizeLow, "transcription complete", true)
	return transcript, nil
}

func (e *Executor) diarize(ctx context.Context, job *models.Job, audioPath, outDir string, transcript *models.Transcript, tr *tracker) error {
	if err := e.setStatus(ctx, job, models.JobStatusDiarizing, stageDiarize); err != nil {
		return err
	}
	tr.report(ctx, stageDiarize, bandDiarizeLow, "identifying speakers", true)

	m, err := e.models.Resolve(ctx, job.DiarizationModelID, models.ModelTypeDiarization)
	if err != nil {
		return err
	}
	diarizer, err := e.loader.Diarizer(m)
	if err != nil {
		return err
	}

	turns, err := diarizer.Diarize(ctx, audioPath)
	if err != nil {
		return fmt.Errorf("diarization failed: %w", err)
	}

	assigned := AssignSpeakers(transcript.Segments, turns)
	if len(assigned) > 0 {
		if err := e.store.UpdateSegmentSpeakers(ctx, transcript.ID, assigned); err != nil {
			return err
		}
		for _, seg := range transcript.Segments {
			if speaker, ok := assigned[seg.Index]; ok {
				seg.Speaker = speaker
			}
		}
		transcript.SpeakerCount = len(transcript.Speakers())

		// Exports written before diarization lack speaker labels.
		if _, err := export.WriteAll(transcript, outDir, job.OutputFormats); err != nil {
			return fmt.Errorf("failed to rewrite transcript exports: %w", err)
		}
	}

	tr.report(ctx, stageDiarize, bandSynthesizeLow, "speakers assigned", true)
	return nil
}

// synthesize renders each transcript segment to speech and concatenates the
// result into one track.
func (e *Executor) synthesize(ctx context.Context, job *models.Job, transcript *models.Transcript, outDir string, tr *tracker) (*models.TTSOutput, []timesync.Segment, error) {
	if err := e.setStatus(ctx, job, models.JobStatusSynthesizing, stageSynthesize); err != nil {
		return nil, nil, err
	}
	tr.report(ctx, stageSynthesize, bandSynthesizeLow, "synthesizing speech", true)

	m, err := e.models.Resolve(ctx, job.TTSModelID, models.ModelTypeTTS)
	if err != nil {
		return nil, nil, err
	}
	synth, err := e.loader.Synthesizer(m)
	if err != nil {
		return nil, nil, err
	}

	language := job.Language
	if job.TranslateTo != nil && *job.TranslateTo != "" {
		language = *job.TranslateTo
	} else if job.DetectedLanguage != "" {
		language = job.DetectedLanguage
	}

	progress := tr.stageFunc(ctx, stageSynthesize, bandSynthesizeLow, bandSyncLow)
	var paths []string
	var segments []timesync.Segment
	for i, seg := range transcript.Segments {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		segPath := segmentPath(outDir, i)
		if err := synth.Synthesize(ctx, text, language, segPath); err != nil {
			return nil, nil, fmt.Errorf("synthesis failed on segment %d: %w", i, err)
		}
		paths = append(paths, segPath)
		segments = append(segments, timesync.Segment{Path: segPath, Start: seg.Start, End: seg.End})
		progress(float64(i+1) / float64(len(transcript.Segments)))
	}
	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("no segments produced speech")
	}

	ttsPath := filepath.Join(outDir, "tts_output.wav")
	if err := media.ConcatWAVs(ctx, paths, ttsPath); err != nil {
		return nil, nil, fmt.Errorf("failed to assemble speech track: %w", err)
	}

	duration, err := media.ProbeDuration(ctx, ttsPath)
	if err != nil {
		slog.Warn("Failed to probe synthesized duration", "job_id", job.ID, "error", err)
	}

	sampleRate := m.Info.SampleRate
	if sampleRate == 0 {
		sampleRate = timesync.CanonicalSampleRate
	}
	out := &models.TTSOutput{
		ID:         uuid.NewString(),
		JobID:      job.ID,
		AudioPath:  ttsPath,
		Duration:   duration,
		SampleRate: sampleRate,
		Format:     "wav",
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.store.CreateTTSOutput(ctx, out); err != nil {
		return nil, nil, err
	}

	job.TTSAudioPath = ttsPath
	if _, err := e.store.UpdateJob(ctx, job.ID, func(j *models.Job) error {
		j.TTSAudioPath = ttsPath
		return nil
	}); err != nil {
		return nil, nil, err
	}

	tr.report(ctx, stageSynthesize, bandSyncLow, "speech synthesized", true)
	return out, segments, nil
}

// sync re-aligns the synthesized track onto the original timeline and, for
// video inputs, remuxes it under the original video stream.
func (e *Executor) sync(ctx context.Context, job *models.Job, ttsOut *models.TTSOutput, segments []timesync.Segment, outDir string, tr *tracker) error {
	if err := e.setStatus(ctx, job, models.JobStatusSyncing, stageSync); err != nil {
		return err
	}
	tr.report(ctx, stageSync, bandSyncLow, "aligning speech to timeline", true)

	syncedPath := filepath.Join(outDir, "tts_synced.wav")
	// Per-segment stretched files land next to their sources in the job
	// output directory and stay there as inspectable artifacts.
	if _, err := e.syncer.Sync(ctx, segments, job.Duration, syncedPath); err != nil {
		return fmt.Errorf("timing sync failed: %w", err)
	}

	if media.IsVideo(job.OriginalPath) {
		videoPath := filepath.Join(outDir, "video_with_tts.mp4")
		if err := media.RemuxVideoWithAudio(ctx, job.OriginalPath, syncedPath, videoPath); err != nil {
			return fmt.Errorf("failed to remux video: %w", err)
		}
	}

	if err := e.store.MarkTTSOutputSynced(ctx, ttsOut.ID, syncedPath, job.Duration); err != nil {
		return err
	}
	job.TTSAudioPath = syncedPath
	if _, err := e.store.UpdateJob(ctx, job.ID, func(j *models.Job) error {
		j.TTSAudioPath = syncedPath
		return nil
	}); err != nil {
		return err
	}

	tr.report(ctx, stageSync, bandFinalizeLow, "timing sync complete", true)
	return nil
}

func (e *Executor) finalize(ctx context.Context, job *models.Job, outDir string, tr *tracker) error {
	tr.report(ctx, stageFinalize, bandFinalizeLow, "finalizing", true)

	if _, err := e.store.UpdateJob(ctx, job.ID, func(j *models.Job) error {
		j.Progress = bandDone
		j.CurrentStage = stageFinalize
		j.TranscriptPath = outDir
		return nil
	}); err != nil {
		return err
	}

	tr.report(ctx, stageFinalize, bandDone, "done", true)
	return nil
}

// translateTask reports whether transcription should run in translate mode.
// Whisper's translate task only targets English; any other target language
// transcribes in the source language and leaves translation to later tooling.
func translateTask(j *models.Job) bool {
	return j.TranslateTo != nil && *j.TranslateTo == "en"
}

// segmentPath names the synthesized audio for one transcript segment. The
// files live in the job output directory and are kept after the run.
func segmentPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("segment_%04d.wav", index))
}

// setStatus performs an intermediate (non-terminal) status transition.
func (e *Executor) setStatus(ctx context.Context, job *models.Job, status models.JobStatus, stage string) error {
	updated, err := e.store.UpdateJob(ctx, job.ID, func(j *models.Job) error {
		j.Status = status
		j.CurrentStage = stage
		return nil
	})
	if err != nil {
		return err
	}
	job.Status = updated.Status
	job.CurrentStage = updated.CurrentStage
	e.publisher.PublishStatusChanged(updated)
	return nil
}

// buildTranscript converts an STT result into the persisted transcript form.
func buildTranscript(job *models.Job, result *engine.STTResult) *models.Transcript {
	t := &models.Transcript{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		Language:  result.DetectedLanguage,
		Duration:  job.Duration,
		CreatedAt: time.Now().UTC(),
	}
	if t.Language == "" {
		t.Language = job.Language
	}
	if t.Duration == 0 {
		t.Duration = result.Duration
	}

	var full []string
	wordCount := 0
	for i, seg := range result.Segments {
		text := strings.TrimSpace(seg.Text)
		t.Segments = append(t.Segments, &models.Segment{
			ID:           uuid.NewString(),
			TranscriptID: t.ID,
			Index:        i,
			Start:        seg.Start,
			End:          seg.End,
			Text:         text,
			Confidence:   seg.Confidence,
			Words:        seg.Words,
		})
		if text != "" {
			full = append(full, text)
			wordCount += len(strings.Fields(text))
		}
	}
	t.FullText = strings.Join(full, " ")
	t.WordCount = wordCount
	return t
}
