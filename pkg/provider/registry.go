package provider

import "sort"

// Registry maps configured driver names to their instances. Drivers register
// once at startup; lookups are read-only afterwards, so no locking is needed.
type Registry struct {
	drivers map[string]any
}

// NewRegistry returns an empty driver registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]any)}
}

// Register stores driver under name, replacing any previous registration.
func (r *Registry) Register(name string, driver any) {
	r.drivers[name] = driver
}

// Names returns all registered driver names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Chat returns the named driver's chat capability, or an UnsupportedError if
// the driver is missing or cannot chat.
func (r *Registry) Chat(name string) (ChatCapable, error) {
	d, ok := r.drivers[name].(ChatCapable)
	if !ok {
		return nil, &UnsupportedError{Provider: name, Capability: "chat"}
	}
	return d, nil
}

// Embeddings returns the named driver's embedding capability.
func (r *Registry) Embeddings(name string) (EmbeddingCapable, error) {
	d, ok := r.drivers[name].(EmbeddingCapable)
	if !ok {
		return nil, &UnsupportedError{Provider: name, Capability: "embeddings"}
	}
	return d, nil
}

// Rerank returns the named driver's rerank capability.
func (r *Registry) Rerank(name string) (RerankCapable, error) {
	d, ok := r.drivers[name].(RerankCapable)
	if !ok {
		return nil, &UnsupportedError{Provider: name, Capability: "rerank"}
	}
	return d, nil
}

// TTS returns the named driver's speech capability.
func (r *Registry) TTS(name string) (TTSCapable, error) {
	d, ok := r.drivers[name].(TTSCapable)
	if !ok {
		return nil, &UnsupportedError{Provider: name, Capability: "tts"}
	}
	return d, nil
}
