package config

import "sync"

// ModelCell holds the one runtime-switchable setting: the current default
// model. Reads and switches use the same guarded discipline as session
// state; everything else in Config is immutable after construction.
type ModelCell struct {
	mu    sync.RWMutex
	model string
}

func NewModelCell(model string) *ModelCell {
	if model == "" {
		model = DefaultModel
	}
	return &ModelCell{model: model}
}

// Current returns the active model.
func (c *ModelCell) Current() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

// Switch replaces the active model and returns the previous one.
func (c *ModelCell) Switch(model string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.model
	c.model = model
	return prev
}
