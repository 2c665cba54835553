package models

import "time"

// ModelType classifies what pipeline stage a model serves.
type ModelType string

const (
	ModelTypeSTT         ModelType = "stt"
	ModelTypeDiarization ModelType = "diarization"
	ModelTypeTTS         ModelType = "tts"
)

// ValidModelType reports whether t is a known model type.
func ValidModelType(t ModelType) bool {
	switch t {
	case ModelTypeSTT, ModelTypeDiarization, ModelTypeTTS:
		return true
	}
	return false
}

// ModelEngine identifies the adapter that runs a model.
type ModelEngine string

const (
	// STT engines
	EngineFasterWhisper ModelEngine = "faster-whisper"
	EngineWhisperX      ModelEngine = "whisperx"
	EngineOpenAIWhisper ModelEngine = "openai-whisper"

	// Diarization engines
	EnginePyannote ModelEngine = "pyannote"

	// TTS engines
	EnginePiper     ModelEngine = "piper"
	EngineCoquiXTTS ModelEngine = "coqui-xtts"
)

// EnginesForType returns the engines able to run models of the given type.
func EnginesForType(t ModelType) []ModelEngine {
	switch t {
	case ModelTypeSTT:
		return []ModelEngine{EngineFasterWhisper, EngineWhisperX, EngineOpenAIWhisper}
	case ModelTypeDiarization:
		return []ModelEngine{EnginePyannote}
	case ModelTypeTTS:
		return []ModelEngine{EnginePiper, EngineCoquiXTTS}
	}
	return nil
}

// ModelSource is where a model's bytes come from.
type ModelSource string

const (
	SourceRegistry ModelSource = "registry"
	SourceLocal    ModelSource = "local"
	SourceURL      ModelSource = "url"
	SourceBuiltin  ModelSource = "builtin"
)

// ValidModelSource reports whether s is a known model source.
func ValidModelSource(s ModelSource) bool {
	switch s {
	case SourceRegistry, SourceLocal, SourceURL, SourceBuiltin:
		return true
	}
	return false
}

// DownloadStatus tracks the materialization state of a model's bytes.
type DownloadStatus string

const (
	DownloadAbsent      DownloadStatus = "absent"
	DownloadDownloading DownloadStatus = "downloading"
	DownloadPresent     DownloadStatus = "present"
	DownloadError       DownloadStatus = "error"
)

// ModelInfo describes a model's capabilities.
type ModelInfo struct {
	SizeMB            int      `json:"size_mb,omitempty"`
	Languages         []string `json:"languages,omitempty"`
	Description       string   `json:"description,omitempty"`
	RecommendedVRAMGB float64  `json:"recommended_vram_gb,omitempty"`
	SampleRate        int      `json:"sample_rate,omitempty"`
	RequiresHFToken   bool     `json:"requires_hf_token,omitempty"`
}

// Model is a registered, downloadable inference asset.
type Model struct {
	ID string `json:"id"`

	Name      string      `json:"name"`
	ModelType ModelType   `json:"model_type"`
	Engine    ModelEngine `json:"engine"`

	Source     ModelSource `json:"source"`
	UpstreamID string      `json:"upstream_id"`
	Revision   string      `json:"revision,omitempty"`

	Info        ModelInfo `json:"info"`
	ComputeType string    `json:"compute_type,omitempty"`
	Device      string    `json:"device,omitempty"`
	IsDefault   bool      `json:"is_default"`

	DownloadStatus   DownloadStatus `json:"download_status"`
	DownloadProgress float64        `json:"download_progress,omitempty"`
	DownloadError    string         `json:"download_error,omitempty"`
	LocalPath        string         `json:"local_path,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// RegisterModelRequest contains the fields for registering a model.
type RegisterModelRequest struct {
	Name        string      `json:"name"`
	ModelType   ModelType   `json:"model_type"`
	Engine      ModelEngine `json:"engine"`
	Source      ModelSource `json:"source"`
	UpstreamID  string      `json:"upstream_id"`
	Revision    string      `json:"revision,omitempty"`
	Info        ModelInfo   `json:"info"`
	ComputeType string      `json:"compute_type,omitempty"`
	Device      string      `json:"device,omitempty"`
	IsDefault   bool        `json:"is_default"`
}

// ModelFilters contains filtering options for listing models.
type ModelFilters struct {
	ModelType ModelType   `json:"model_type,omitempty"`
	Engine    ModelEngine `json:"engine,omitempty"`
	Limit     int         `json:"limit,omitempty"`
	Offset    int         `json:"offset,omitempty"`
}

// BuiltinModel is a catalog entry users can register without knowing
// upstream ids.
type BuiltinModel struct {
	Engine     ModelEngine `json:"engine"`
	ModelType  ModelType   `json:"model_type"`
	UpstreamID string      `json:"upstream_id"`
	Info       ModelInfo   `json:"info"`
}

// BuiltinCatalog lists well-known models per engine.
func BuiltinCatalog() []BuiltinModel {
	return []BuiltinModel{
		{EngineFasterWhisper, ModelTypeSTT, "tiny", ModelInfo{SizeMB: 75, Languages: []string{"multilingual"}, Description: "Fastest, lowest accuracy.", RecommendedVRAMGB: 1}},
		{EngineFasterWhisper, ModelTypeSTT, "base", ModelInfo{SizeMB: 142, Languages: []string{"multilingual"}, Description: "Fast with decent accuracy.", RecommendedVRAMGB: 1}},
		{EngineFasterWhisper, ModelTypeSTT, "small", ModelInfo{SizeMB: 466, Languages: []string{"multilingual"}, Description: "Good balance of speed and accuracy.", RecommendedVRAMGB: 2}},
		{EngineFasterWhisper, ModelTypeSTT, "medium", ModelInfo{SizeMB: 1500, Languages: []string{"multilingual"}, Description: "High accuracy, moderate speed.", RecommendedVRAMGB: 5}},
		{EngineFasterWhisper, ModelTypeSTT, "large-v3", ModelInfo{SizeMB: 2900, Languages: []string{"multilingual"}, Description: "Best accuracy.", RecommendedVRAMGB: 10}},
		{EngineFasterWhisper, ModelTypeSTT, "large-v3-turbo", ModelInfo{SizeMB: 1600, Languages: []string{"multilingual"}, Description: "Faster large-v3 variant.", RecommendedVRAMGB: 6}},
		{EnginePyannote, ModelTypeDiarization, "pyannote/speaker-diarization-3.1", ModelInfo{SizeMB: 500, Description: "Speaker diarization.", RecommendedVRAMGB: 4, RequiresHFToken: true}},
		{EnginePiper, ModelTypeTTS, "en_US-lessac-medium", ModelInfo{SizeMB: 75, Languages: []string{"en-US"}, Description: "Fast, lightweight English TTS.", SampleRate: 22050}},
		{EnginePiper, ModelTypeTTS, "en_GB-alba-medium", ModelInfo{SizeMB: 75, Languages: []string{"en-GB"}, Description: "British English voice.", SampleRate: 22050}},
		{EngineCoquiXTTS, ModelTypeTTS, "tts_models/multilingual/multi-dataset/xtts_v2", ModelInfo{SizeMB: 1800, Languages: []string{"multilingual"}, Description: "Multilingual TTS with voice cloning.", RecommendedVRAMGB: 6, SampleRate: 24000}},
	}
}
