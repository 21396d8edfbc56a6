package config

import "fmt"

// Validate checks structural invariants that applyDefaults cannot repair
// (missing required identifiers, inconsistent slot sets). Mirrors the
// teacher's validator.go pattern of one Validate method returning wrapped
// sentinel errors.
func (c *Config) Validate() error {
	if c.LLM.BaseURL == "" {
		return NewValidationError("llm.base_url", fmt.Errorf("%w: must not be empty", ErrMissingField))
	}
	if len(c.LLM.Models) == 0 {
		return NewValidationError("llm.models", fmt.Errorf("%w: at least one slot must be configured", ErrMissingField))
	}
	if _, ok := c.LLM.Models[SlotFast]; !ok {
		return NewValidationError("llm.models.fast", fmt.Errorf("%w: fast slot is required for the router interlock", ErrMissingField))
	}
	if c.Storage.Path == "" {
		return NewValidationError("storage.path", fmt.Errorf("%w: must not be empty", ErrMissingField))
	}
	if c.Memory.ShortTerm.MaxMessages < 1 {
		return NewValidationError("memory.short_term.max_messages", ErrInvalidValue)
	}
	if c.Memory.Embeddings.Dimension < 1 {
		return NewValidationError("memory.embeddings.dimension", ErrInvalidValue)
	}
	if c.Memory.Personality.AutoApproveThreshold < 0 || c.Memory.Personality.AutoApproveThreshold > 1 {
		return NewValidationError("memory.personality.auto_approve_threshold", ErrInvalidValue)
	}
	return nil
}
