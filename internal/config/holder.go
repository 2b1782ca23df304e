package config

import "sync"

// Holder shares the live *Config of a serve process. Readers take a snapshot
// with Config; a reload swaps the pointer, never mutates the struct.
type Holder struct {
	mu         sync.RWMutex
	cfg        *Config
	generation uint64
	path       string
}

// NewHolder returns a Holder at generation zero.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{cfg: cfg, path: path}
}

func (h *Holder) Config() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg
}

// Path is the file the config was loaded from. It never changes.
func (h *Holder) Path() string {
	return h.path
}

// Generation counts successful reloads.
func (h *Holder) Generation() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.generation
}

// Update installs cfg and returns the config it replaced.
func (h *Holder) Update(cfg *Config) (previous *Config) {
	h.mu.Lock()
	defer h.mu.Unlock()

	previous = h.cfg
	h.cfg = cfg
	h.generation++

	return previous
}
