package engine

import (
	"fmt"
	"sync"

	"github.com/openscribe/scribed/pkg/models"
)

// Factory constructs adapters for one engine tag. Only the constructors
// matching the engine's model type are set.
type Factory struct {
	NewTranscriber func(m *models.Model, opts Options) (Transcriber, error)
	NewDiarizer    func(m *models.Model, opts Options) (Diarizer, error)
	NewSynthesizer func(m *models.Model, opts Options) (Synthesizer, error)
}

// Registry maps engine tags to adapter factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[models.ModelEngine]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[models.ModelEngine]Factory)}
}

// Register binds a factory to an engine tag, replacing any previous binding.
func (r *Registry) Register(engine models.ModelEngine, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[engine] = f
}

// Lookup returns the factory for an engine tag.
func (r *Registry) Lookup(engine models.ModelEngine) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[engine]
	if !ok {
		return Factory{}, fmt.Errorf("no adapter registered for engine %q", engine)
	}
	return f, nil
}

// Engines returns the registered engine tags.
func (r *Registry) Engines() []models.ModelEngine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ModelEngine, 0, len(r.factories))
	for tag := range r.factories {
		out = append(out, tag)
	}
	return out
}

// DefaultRegistry wires the built-in CLI adapters.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(models.EngineFasterWhisper, Factory{
		NewTranscriber: func(m *models.Model, opts Options) (Transcriber, error) {
			return newWhisperCLI(m, opts)
		},
	})
	r.Register(models.EngineWhisperX, Factory{
		NewTranscriber: func(m *models.Model, opts Options) (Transcriber, error) {
			return newWhisperCLI(m, opts)
		},
	})
	r.Register(models.EngineOpenAIWhisper, Factory{
		NewTranscriber: func(m *models.Model, opts Options) (Transcriber, error) {
			return newWhisperCLI(m, opts)
		},
	})
	r.Register(models.EnginePyannote, Factory{
		NewDiarizer: func(m *models.Model, opts Options) (Diarizer, error) {
			return newPyannoteCLI(m, opts)
		},
	})
	r.Register(models.EnginePiper, Factory{
		NewSynthesizer: func(m *models.Model, opts Options) (Synthesizer, error) {
			return newPiperCLI(m, opts)
		},
	})
	r.Register(models.EngineCoquiXTTS, Factory{
		NewSynthesizer: func(m *models.Model, opts Options) (Synthesizer, error) {
			return newCoquiCLI(m, opts)
		},
	})
	return r
}
