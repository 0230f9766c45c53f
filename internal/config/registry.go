package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/voxmemo/voxmemo/pkg/audio"
	"github.com/voxmemo/voxmemo/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned when no factory exists for a
// provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider of type T from its configuration block.
type Factory[T any] func(ProviderEntry) (T, error)

type factorySet[T any] struct {
	kind string
	byID map[string]Factory[T]
}

func (s *factorySet[T]) build(e ProviderEntry) (T, error) {
	f, ok := s.byID[e.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s %q (have %v)", ErrProviderNotRegistered, s.kind, e.Name, s.names())
	}
	v, err := f(e)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: build %s %q: %w", s.kind, e.Name, err)
	}
	return v, nil
}

func (s *factorySet[T]) names() []string {
	return slices.Sorted(maps.Keys(s.byID))
}

// Registry maps provider names to factories. Built-in providers are
// registered by the binary at startup; tests register mocks. Safe for
// concurrent use.
type Registry struct {
	mu          sync.RWMutex
	transcriber factorySet[stt.Transcriber]
	microphone  factorySet[audio.Microphone]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		transcriber: factorySet[stt.Transcriber]{kind: "transcriber", byID: map[string]Factory[stt.Transcriber]{}},
		microphone:  factorySet[audio.Microphone]{kind: "microphone", byID: map[string]Factory[audio.Microphone]{}},
	}
}

// RegisterTranscriber registers f under name, replacing any earlier one.
func (r *Registry) RegisterTranscriber(name string, f Factory[stt.Transcriber]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcriber.byID[name] = f
}

// RegisterMicrophone registers f under name, replacing any earlier one.
func (r *Registry) RegisterMicrophone(name string, f Factory[audio.Microphone]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.microphone.byID[name] = f
}

// CreateTranscriber builds the transcriber named by e.Name.
func (r *Registry) CreateTranscriber(e ProviderEntry) (stt.Transcriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.transcriber.build(e)
}

// CreateMicrophone builds the microphone named by e.Name.
func (r *Registry) CreateMicrophone(e ProviderEntry) (audio.Microphone, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.microphone.build(e)
}

// Transcribers lists the registered transcriber names, sorted.
func (r *Registry) Transcribers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.transcriber.names()
}
