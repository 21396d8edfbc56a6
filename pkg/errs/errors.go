// Package errs defines the runtime's error taxonomy (spec §7) and the
// ErrorClassifier that maps failures to recoverable/non-recoverable
// categories and emits telemetry for them.
package errs

import (
	"errors"
	"fmt"

	"github.com/sena-run/core/pkg/models"
)

// Category groups an error into one of the domains spec §7 enumerates.
type Category string

const (
	CategoryTransport   Category = "transport"
	CategoryMemory      Category = "memory"
	CategoryExtension   Category = "extension"
	CategoryStorage     Category = "storage"
	CategoryBootstrap   Category = "bootstrap"
)

// Sentinel errors for the transport/backend domain.
var (
	ErrConnectionFailed = errors.New("backend connection failed")
	ErrTimeout          = errors.New("backend call timed out")
	ErrModelNotFound    = errors.New("model not found on backend")
	ErrGenerationFailed = errors.New("generation failed")
	ErrContextTooLong   = errors.New("context exceeds model window")
)

// Sentinel errors for the memory domain.
var (
	ErrMemoryStorage   = errors.New("memory storage error")
	ErrMemoryRetrieval = errors.New("memory retrieval error")
	ErrEmbedding       = errors.New("embedding error")
	ErrVectorStore     = errors.New("vector store error")
)

// Sentinel errors for the extensions domain.
var (
	ErrExtensionNotFound         = errors.New("extension not found")
	ErrExtensionLoadFailed       = errors.New("extension load failed")
	ErrExtensionValidationFailed = errors.New("extension validation failed")
	ErrExtensionExecutionFailed  = errors.New("extension execution failed")
	ErrExtensionTimeout          = errors.New("extension timed out")
	ErrExtensionSecurityViolation = errors.New("extension security violation")
)

// Sentinel errors for the storage domain.
var (
	ErrStorageConnection = errors.New("storage connection error")
	ErrStorageQuery      = errors.New("storage query error")
	ErrStorageIntegrity  = errors.New("storage integrity violation")
	ErrStorageMigration  = errors.New("storage migration failed")
)

// Sentinel errors for bootstrap.
var (
	ErrBackendNotRunning  = errors.New("backend is not running")
	ErrModelNotAvailable  = errors.New("configured model is not available")
)

// recoverable records, for every sentinel this package defines, whether the
// failure is recoverable per spec §7's taxonomy. Model-not-found and
// context-too-long, extension validation and security violations, storage
// integrity and migration errors, and both bootstrap errors are fatal;
// everything else is recoverable.
var recoverable = map[error]bool{
	ErrConnectionFailed: true,
	ErrTimeout:          true,
	ErrModelNotFound:    false,
	ErrGenerationFailed: true,
	ErrContextTooLong:   false,

	ErrMemoryStorage:   true,
	ErrMemoryRetrieval: true,
	ErrEmbedding:       true,
	ErrVectorStore:     true,

	ErrExtensionNotFound:          true,
	ErrExtensionLoadFailed:        true,
	ErrExtensionValidationFailed:  false,
	ErrExtensionExecutionFailed:   true,
	ErrExtensionTimeout:           true,
	ErrExtensionSecurityViolation: false,

	ErrStorageConnection: true,
	ErrStorageQuery:      true,
	ErrStorageIntegrity:  false,
	ErrStorageMigration:  false,

	ErrBackendNotRunning: false,
	ErrModelNotAvailable: false,
}

var categories = map[error]Category{
	ErrConnectionFailed: CategoryTransport,
	ErrTimeout:          CategoryTransport,
	ErrModelNotFound:    CategoryTransport,
	ErrGenerationFailed: CategoryTransport,
	ErrContextTooLong:   CategoryTransport,

	ErrMemoryStorage:   CategoryMemory,
	ErrMemoryRetrieval: CategoryMemory,
	ErrEmbedding:       CategoryMemory,
	ErrVectorStore:     CategoryMemory,

	ErrExtensionNotFound:          CategoryExtension,
	ErrExtensionLoadFailed:        CategoryExtension,
	ErrExtensionValidationFailed:  CategoryExtension,
	ErrExtensionExecutionFailed:   CategoryExtension,
	ErrExtensionTimeout:           CategoryExtension,
	ErrExtensionSecurityViolation: CategoryExtension,

	ErrStorageConnection: CategoryStorage,
	ErrStorageQuery:      CategoryStorage,
	ErrStorageIntegrity:  CategoryStorage,
	ErrStorageMigration:  CategoryStorage,

	ErrBackendNotRunning: CategoryBootstrap,
	ErrModelNotAvailable: CategoryBootstrap,
}

// Envelope is the structured error the core returns at its boundary
// (spec §6). Context carries free-form diagnostic fields.
type Envelope struct {
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	Context     map[string]any `json:"context,omitempty"`
	Recoverable bool           `json:"recoverable"`
}

func (e *Envelope) Error() string { return e.Message }

// MetricRecorder is the subset of TelemetryCollector the classifier needs.
// Defined here to avoid an import cycle between errs and telemetry.
type MetricRecorder interface {
	RecordMetric(name string, value float64, tags map[string]string, kind models.MetricKind)
}

// Classifier maps failures to categories/recoverability and emits a
// telemetry counter per classified error.
type Classifier struct {
	telemetry MetricRecorder
}

// NewClassifier builds a Classifier. telemetry may be nil, in which case
// classification still works but no metric is emitted.
func NewClassifier(telemetry MetricRecorder) *Classifier {
	return &Classifier{telemetry: telemetry}
}

// Classify inspects err against the known sentinel taxonomy and returns a
// structured Envelope. Errors that match no sentinel get category
// "unknown" and code "unknown_error", and are reported as non-recoverable
// so callers fail closed rather than silently retry something that cannot
// succeed.
func (c *Classifier) Classify(err error, context map[string]any) *Envelope {
	if err == nil {
		return nil
	}

	category := Category("unknown")
	rec := false
	code := "unknown_error"

	for sentinel, cat := range categories {
		if errors.Is(err, sentinel) {
			category = cat
			rec = recoverable[sentinel]
			code = sentinelCode(sentinel)
			break
		}
	}

	if c.telemetry != nil {
		c.telemetry.RecordMetric(
			fmt.Sprintf("errors.%s", category),
			1,
			map[string]string{"code": code},
			models.MetricCounter,
		)
	}

	return &Envelope{
		Code:        code,
		Message:     err.Error(),
		Context:     context,
		Recoverable: rec,
	}
}

// StatusCode maps an Envelope to the transport-boundary HTTP status spec §6
// specifies: recoverable → 503, non-recoverable domain error → 500.
func (e *Envelope) StatusCode() int {
	if e.Recoverable {
		return 503
	}
	return 500
}

func sentinelCode(err error) string {
	// Sentinel error text doubles as its stable code; spaces become
	// underscores so it is safe to use as a metric tag value.
	s := []byte(err.Error())
	for i, b := range s {
		if b == ' ' {
			s[i] = '_'
		}
	}
	return string(s)
}
