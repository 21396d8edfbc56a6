// Package config holds the runtime's typed configuration tree and the
// loader that assembles it from a YAML file plus environment overrides,
// following the house style of the teacher codebase this module is built
// from: one struct per concern, validated eagerly, with env expansion
// applied to the raw YAML before unmarshalling.
package config

import "time"

// SlotName identifies one of the named model roles the registry manages.
type SlotName string

const (
	SlotFast      SlotName = "fast"
	SlotCritical  SlotName = "critical"
	SlotCode      SlotName = "code"
	SlotReasoning SlotName = "reasoning"
	SlotRouter    SlotName = "router"
)

// ModelSlotConfig configures one named model slot.
type ModelSlotConfig struct {
	Name           string  `yaml:"name" validate:"required"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
	ContextWindow  int     `yaml:"context_window"`
}

// ProcessConfig configures whether the runtime manages the backend
// process's lifecycle itself.
type ProcessConfig struct {
	Manage         bool          `yaml:"manage"`
	StartupTimeout time.Duration `yaml:"startup_timeout"`
}

// LLMConfig configures the backend connection and the model slots.
type LLMConfig struct {
	BaseURL           string                     `yaml:"base_url" validate:"required"`
	Timeout           time.Duration              `yaml:"timeout"`
	AllowRuntimeSwitch bool                      `yaml:"allow_runtime_switch"`
	SwitchCooldown    time.Duration              `yaml:"switch_cooldown"`
	Models            map[SlotName]ModelSlotConfig `yaml:"models" validate:"required"`
	KeepAlive         string                     `yaml:"keep_alive"`
	Process           ProcessConfig              `yaml:"process"`
	ReasoningModel    string                     `yaml:"reasoning_model,omitempty"`
	ReasoningEnabled  bool                       `yaml:"reasoning_enabled"`
}

// ShortTermConfig configures the per-session FIFO buffer.
type ShortTermConfig struct {
	MaxMessages  int           `yaml:"max_messages" validate:"required,min=1"`
	ExpireAfter  time.Duration `yaml:"expire_after" validate:"required"`
}

// LongTermConfig configures automatic extraction of learnings.
type LongTermConfig struct {
	AutoExtract    bool `yaml:"auto_extract"`
	ExtractInterval int `yaml:"extract_interval" validate:"min=1"`
}

// RetrievalConfig tunes long-term search.
type RetrievalConfig struct {
	Threshold  float64 `yaml:"threshold"`
	MaxResults int     `yaml:"max_results" validate:"min=1"`
	Reranking  bool    `yaml:"reranking"`
}

// EmbeddingsConfig names the embedding model and its fixed dimension.
type EmbeddingsConfig struct {
	Model     string `yaml:"model" validate:"required"`
	Dimension int    `yaml:"dimension" validate:"required,min=1"`
}

// PersonalityConfig tunes fragment inference and the composed block.
type PersonalityConfig struct {
	InferentialLearningEnabled         bool    `yaml:"inferential_learning_enabled"`
	InferentialLearningRequiresApproval bool   `yaml:"inferential_learning_requires_approval"`
	AutoApproveEnabled                 bool    `yaml:"auto_approve_enabled"`
	AutoApproveThreshold               float64 `yaml:"auto_approve_threshold"`
	LearningMode                       string  `yaml:"learning_mode"`
	PersonalityTokenBudget             int     `yaml:"personality_token_budget" validate:"min=1"`
	MaxFragmentsInPrompt               int     `yaml:"max_fragments_in_prompt" validate:"min=1"`
	CompressThreshold                  int     `yaml:"compress_threshold" validate:"min=1"`
}

// MemoryConfig aggregates every memory-subsystem concern.
type MemoryConfig struct {
	ShortTerm   ShortTermConfig   `yaml:"short_term"`
	LongTerm    LongTermConfig    `yaml:"long_term"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings"`
	Personality PersonalityConfig `yaml:"personality"`

	// LongTermExtractInterval mirrors LongTerm.ExtractInterval, exposed at
	// the top level because the orchestrator checks it on every turn.
	LongTermExtractInterval int `yaml:"-"`
}

// TelemetryConfig tunes the buffered metrics collector.
type TelemetryConfig struct {
	Enabled         bool          `yaml:"enabled"`
	CollectInterval time.Duration `yaml:"collect_interval" validate:"required"`
	RetentionDays   int           `yaml:"retention_days"`
}

// StorageConfig configures the embedded database.
type StorageConfig struct {
	Path            string        `yaml:"path" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	BusyTimeout     time.Duration `yaml:"busy_timeout"`
}

// WSConfig configures the WebSocket fan-out.
type WSConfig struct {
	MaxConnections int `yaml:"max_connections"`
}

// Config is the umbrella object returned by Initialize and threaded into
// every runtime component.
type Config struct {
	configDir string

	LLM       LLMConfig       `yaml:"llm"`
	Memory    MemoryConfig    `yaml:"memory"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Storage   StorageConfig   `yaml:"storage"`
	WS        WSConfig        `yaml:"ws"`
}

// ConfigDir returns the directory Initialize loaded from.
func (c *Config) ConfigDir() string { return c.configDir }
