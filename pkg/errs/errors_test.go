package errs

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sena-run/core/pkg/models"
)

type fakeRecorder struct {
	names []string
	kinds []models.MetricKind
}

func (f *fakeRecorder) RecordMetric(name string, value float64, tags map[string]string, kind models.MetricKind) {
	f.names = append(f.names, name)
	f.kinds = append(f.kinds, kind)
}

func TestClassify_KnownRecoverableError(t *testing.T) {
	rec := &fakeRecorder{}
	c := NewClassifier(rec)

	envelope := c.Classify(ErrConnectionFailed, map[string]any{"slot": "fast"})
	assert.True(t, envelope.Recoverable)
	assert.Equal(t, 503, envelope.StatusCode())
	assert.Contains(t, rec.names, "errors.transport")
	assert.Equal(t, models.MetricCounter, rec.kinds[0])
}

func TestClassify_KnownNonRecoverableError(t *testing.T) {
	c := NewClassifier(nil)

	envelope := c.Classify(ErrStorageIntegrity, nil)
	assert.False(t, envelope.Recoverable)
	assert.Equal(t, 500, envelope.StatusCode())
}

func TestClassify_UnknownErrorFailsClosed(t *testing.T) {
	c := NewClassifier(nil)

	envelope := c.Classify(assertNewError("something odd happened"), nil)
	assert.False(t, envelope.Recoverable)
	assert.Equal(t, "unknown_error", envelope.Code)
}

func TestClassify_NilErrorReturnsNil(t *testing.T) {
	c := NewClassifier(nil)
	assert.Nil(t, c.Classify(nil, nil))
}

func TestClassify_NilTelemetryIsSafe(t *testing.T) {
	c := NewClassifier(nil)
	envelope := c.Classify(ErrExtensionTimeout, nil)
	assert.True(t, envelope.Recoverable)
}

func assertNewError(msg string) error {
	return &genericError{msg}
}

type genericError struct{ msg string }

func (e *genericError) Error() string { return e.msg }
