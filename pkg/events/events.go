// Package events defines the typed events the runtime broadcasts to
// observers (a local UI, a debug console) and the channel-based fan-out
// that delivers them.
package events

import (
	"time"

	"github.com/sena-run/core/pkg/models"
)

// Kind is the subscription channel an event is broadcast on. It does not
// identify the payload shape: stage, token and extension events all use
// the "processing" channel.
type Kind string

const (
	KindStageChanged       Kind = "processing"
	KindTokenEmitted       Kind = "processing"
	KindMemoryUpdated      Kind = "memory"
	KindPersonalityUpdated Kind = "personality"
	KindExtensionUpdated   Kind = "processing"
	KindLog                Kind = "logs"
)

// StageChanged reports a pipeline stage transition. Stage and status
// reuse the models package's pipeline vocabulary so the event bus and
// the orchestrator's retained pipeline state never drift apart.
type StageChanged struct {
	RequestID string             `json:"request_id"`
	Stage     models.Stage       `json:"stage"`
	Status    models.StageStatus `json:"status"`
	Detail    string             `json:"detail,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	Fields    map[string]any     `json:"fields,omitempty"`
}

// TokenEmitted carries one streamed content fragment.
type TokenEmitted struct {
	RequestID string    `json:"request_id"`
	Content   string    `json:"content"`
	IsFinal   bool      `json:"is_final"`
	Timestamp time.Time `json:"timestamp"`
}

// MemoryUpdated reports a short-term or long-term memory mutation.
type MemoryUpdated struct {
	SessionID string    `json:"session_id,omitempty"`
	Kind      string    `json:"kind"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// PersonalityUpdated reports a fragment lifecycle transition.
type PersonalityUpdated struct {
	FragmentID string    `json:"fragment_id"`
	Action     string    `json:"action"`
	Content    string    `json:"content,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ExtensionUpdated reports an extension's execution result for one turn.
type ExtensionUpdated struct {
	RequestID string    `json:"request_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Envelope is the wire message sent to WebSocket subscribers: a typed
// payload plus the time it was published. Type doubles as the channel
// it was published on.
type Envelope struct {
	Type      Kind      `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}
