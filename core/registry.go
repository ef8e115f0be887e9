package core

import (
	"path/filepath"
	"strings"
	"sync"
)

// ── Registry ──────────────────────────────────────────────────────────────────

// DefaultRegistry is a thread-safe implementation of Registry.
type DefaultRegistry struct {
	mu       sync.RWMutex
	decoders map[string]TextureDecoder
}

// NewRegistry returns an empty DefaultRegistry.
func NewRegistry() *DefaultRegistry {
	return &DefaultRegistry{decoders: make(map[string]TextureDecoder)}
}

func (r *DefaultRegistry) RegisterDecoder(ext string, d TextureDecoder) {
	r.mu.Lock()
	r.decoders[normExt(ext)] = d
	r.mu.Unlock()
}

func (r *DefaultRegistry) DecoderFor(ext string) (TextureDecoder, bool) {
	r.mu.RLock()
	d, ok := r.decoders[normExt(ext)]
	r.mu.RUnlock()
	return d, ok
}

// DecoderForPath looks the decoder up by path's extension.
func (r *DefaultRegistry) DecoderForPath(path string) (TextureDecoder, bool) {
	return r.DecoderFor(filepath.Ext(path))
}

func normExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
