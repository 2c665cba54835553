package engine

import (
	"fmt"
	"io"

	"github.com/openscribe/scribed/pkg/models"
)

// Loader resolves models to loaded adapters through the registry and the
// shared cache. Adapter initialization is lazy and model-keyed.
type Loader struct {
	registry *Registry
	cache    *Cache
	opts     Options
}

// NewLoader creates a loader over the given registry and cache.
func NewLoader(registry *Registry, cache *Cache, opts Options) *Loader {
	return &Loader{registry: registry, cache: cache, opts: opts}
}

// Transcriber returns a loaded STT adapter for the model.
func (l *Loader) Transcriber(m *models.Model) (Transcriber, error) {
	f, err := l.registry.Lookup(m.Engine)
	if err != nil {
		return nil, err
	}
	if f.NewTranscriber == nil {
		return nil, fmt.Errorf("engine %q does not transcribe", m.Engine)
	}
	v, err := l.cache.GetOrLoad(l.key(m), func() (io.Closer, error) {
		return f.NewTranscriber(m, l.optsFor(m))
	})
	if err != nil {
		return nil, err
	}
	return v.(Transcriber), nil
}

// Diarizer returns a loaded diarization adapter for the model.
func (l *Loader) Diarizer(m *models.Model) (Diarizer, error) {
	f, err := l.registry.Lookup(m.Engine)
	if err != nil {
		return nil, err
	}
	if f.NewDiarizer == nil {
		return nil, fmt.Errorf("engine %q does not diarize", m.Engine)
	}
	v, err := l.cache.GetOrLoad(l.key(m), func() (io.Closer, error) {
		return f.NewDiarizer(m, l.optsFor(m))
	})
	if err != nil {
		return nil, err
	}
	return v.(Diarizer), nil
}

// Synthesizer returns a loaded TTS adapter for the model.
func (l *Loader) Synthesizer(m *models.Model) (Synthesizer, error) {
	f, err := l.registry.Lookup(m.Engine)
	if err != nil {
		return nil, err
	}
	if f.NewSynthesizer == nil {
		return nil, fmt.Errorf("engine %q does not synthesize", m.Engine)
	}
	v, err := l.cache.GetOrLoad(l.key(m), func() (io.Closer, error) {
		return f.NewSynthesizer(m, l.optsFor(m))
	})
	if err != nil {
		return nil, err
	}
	return v.(Synthesizer), nil
}

func (l *Loader) key(m *models.Model) string {
	o := l.optsFor(m)
	return CacheKey(m.Engine, m.UpstreamID, o.Device, o.ComputeType)
}

// optsFor applies per-model overrides on top of the process defaults.
func (l *Loader) optsFor(m *models.Model) Options {
	o := l.opts
	if m.Device != "" {
		o.Device = m.Device
	}
	if m.ComputeType != "" {
		o.ComputeType = m.ComputeType
	}
	return o
}
