// Package models defines the data types shared across the runtime: the
// conversational session types, persisted memory and personality records,
// telemetry rows, and the ephemeral per-request pipeline state.
package models

import "time"

// MessageRole identifies the sender of a conversation message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is a single turn in a conversation.
type Message struct {
	Role      MessageRole    `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// IntentType classifies what a user turn is asking for.
type IntentType string

const (
	IntentGreeting            IntentType = "greeting"
	IntentFarewell            IntentType = "farewell"
	IntentCodeExplanation     IntentType = "code_explanation"
	IntentCodeRequest         IntentType = "code_request"
	IntentMemoryRecall        IntentType = "memory_recall"
	IntentFileOperation       IntentType = "file_operation"
	IntentComplexQuery        IntentType = "complex_query"
	IntentQuestion            IntentType = "question"
	IntentGeneralConversation IntentType = "general_conversation"
)

// IntentResult is the outcome of routing one user turn.
type IntentResult struct {
	Type               IntentType `json:"type"`
	RecommendedModel   string     `json:"recommended_model"`
	RequiredExtensions []string   `json:"required_extensions,omitempty"`
	NeedsMemory        bool       `json:"needs_memory"`
	Confidence         float64    `json:"confidence"`
	RawResponse        string     `json:"raw_response,omitempty"`
}

// ShortTermItem is one entry in a session's short-term FIFO buffer.
type ShortTermItem struct {
	SessionID string         `json:"session_id"`
	Role      MessageRole    `json:"role"`
	Content   string         `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// LongTermMemory is a persisted fact with optional embedding and relevance
// ranking metadata. Relevance is populated only by search results, never
// persisted.
type LongTermMemory struct {
	ID           string         `json:"id"`
	Content      string         `json:"content"`
	Category     string         `json:"category,omitempty"`
	Importance   int            `json:"importance"`
	Embedding    []float32      `json:"-"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	AccessCount  int            `json:"access_count"`
	LastAccessed time.Time      `json:"last_accessed"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Relevance    float64        `json:"relevance,omitempty"`
}

// FragmentKind distinguishes user-asserted facts from inferred ones.
type FragmentKind string

const (
	FragmentExplicit FragmentKind = "explicit"
	FragmentInferred FragmentKind = "inferred"
)

// FragmentStatus is the review state of a personality fragment.
type FragmentStatus string

const (
	FragmentPending  FragmentStatus = "pending"
	FragmentApproved FragmentStatus = "approved"
	FragmentRejected FragmentStatus = "rejected"
)

// PersonalityFragment is a single personality fact in the store.
type PersonalityFragment struct {
	ID          string         `json:"id"`
	Content     string         `json:"content"`
	Kind        FragmentKind   `json:"kind"`
	Category    string         `json:"category,omitempty"`
	Confidence  float64        `json:"confidence"`
	Status      FragmentStatus `json:"status"`
	Source      string         `json:"source,omitempty"`
	Version     int            `json:"version"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	ApprovedAt  *time.Time     `json:"approved_at,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// PersonalityAudit is an append-only record of a fragment state change.
type PersonalityAudit struct {
	ID          int64          `json:"id"`
	FragmentID  string         `json:"fragment_id"`
	Action      string         `json:"action"`
	OldContent  string         `json:"old_content,omitempty"`
	NewContent  string         `json:"new_content,omitempty"`
	OldStatus   FragmentStatus `json:"old_status,omitempty"`
	NewStatus   FragmentStatus `json:"new_status,omitempty"`
	Confidence  float64        `json:"confidence"`
	Reason      string         `json:"reason,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Conversation is a completed request/response turn, persisted once in
// post-processing and never modified afterward.
type Conversation struct {
	ID             int64          `json:"id"`
	SessionID      string         `json:"session_id"`
	UserInput      string         `json:"user_input"`
	AssistantReply string         `json:"assistant_reply"`
	ModelUsed      string         `json:"model_used"`
	DurationMs     int64          `json:"duration_ms"`
	Intent         string         `json:"intent"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// MetricKind identifies how a telemetry value aggregates.
type MetricKind string

const (
	MetricCounter   MetricKind = "counter"
	MetricGauge     MetricKind = "gauge"
	MetricHistogram MetricKind = "histogram"
)

// TelemetryMetric is a single recorded sample.
type TelemetryMetric struct {
	ID        int64             `json:"id"`
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Kind      MetricKind        `json:"kind"`
	Tags      map[string]string `json:"tags,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Stage identifies one step of the orchestrator pipeline. Stages are
// monotone: later stages never precede earlier ones within a pipeline.
type Stage string

const (
	StageIntent     Stage = "intent"
	StageMemory     Stage = "memory"
	StageExtension  Stage = "extension"
	StageLLM        Stage = "llm"
	StagePost       Stage = "post"
)

// stageOrder gives each stage its position for monotonicity checks.
var stageOrder = map[Stage]int{
	StageIntent:    0,
	StageMemory:    1,
	StageExtension: 2,
	StageLLM:       3,
	StagePost:      4,
}

// Precedes reports whether s comes strictly before other in pipeline order.
func (s Stage) Precedes(other Stage) bool {
	return stageOrder[s] < stageOrder[other]
}

// StageStatus is the lifecycle state of a single pipeline stage.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageActive    StageStatus = "active"
	StageCompleted StageStatus = "completed"
	StageError     StageStatus = "error"
	StageSkipped   StageStatus = "skipped"
)

// StageState captures the status of one stage within a pipeline.
type StageState struct {
	Stage      Stage       `json:"stage"`
	Status     StageStatus `json:"status"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at,omitempty"`
	FinishedAt time.Time   `json:"finished_at,omitempty"`
}

// Pipeline is the ephemeral per-request state tracked by the Orchestrator.
// Retained in a bounded in-memory ring for observability only; never
// persisted.
type Pipeline struct {
	RequestID    string                `json:"request_id"`
	SessionID    string                `json:"session_id"`
	Stages       map[Stage]*StageState `json:"stages"`
	CurrentStage Stage                 `json:"current_stage"`
	StartedAt    time.Time             `json:"started_at"`
	FinishedAt   time.Time             `json:"finished_at,omitempty"`
	Error        string                `json:"error,omitempty"`
}

// Session identifies one conversation. A session owns its short-term
// buffer exclusively and is never shared across processes.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// NewPipeline creates a pipeline with every stage pending.
func NewPipeline(requestID, sessionID string) *Pipeline {
	stages := make(map[Stage]*StageState, len(stageOrder))
	for s := range stageOrder {
		stages[s] = &StageState{Stage: s, Status: StagePending}
	}
	return &Pipeline{
		RequestID: requestID,
		SessionID: sessionID,
		Stages:    stages,
		StartedAt: time.Now(),
	}
}
