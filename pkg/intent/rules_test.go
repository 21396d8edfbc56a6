package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sena-run/core/pkg/models"
)

func TestKeywordFastPath(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantOK     bool
		wantType   models.IntentType
		wantConf   float64
	}{
		{"greeting", "hi there", true, models.IntentGreeting, 0.95},
		{"farewell", "goodbye for now my friend", true, models.IntentFarewell, 0.9},
		{"code explanation", "can you explain this function and the error it throws", true, models.IntentCodeExplanation, 0.85},
		{"code request", "write a function that has a bug in the class", true, models.IntentCodeRequest, 0.85},
		{"memory recall", "do you remember what I said last time", true, models.IntentMemoryRecall, 0.9},
		{"file operation", "please delete that file for me", true, models.IntentFileOperation, 0.85},
		{"complex query", "can you analyze and compare these two approaches in depth please going on and on and on and on and on and on and on", true, models.IntentComplexQuery, 0.8},
		{"simple question", "what time is it?", true, models.IntentQuestion, 0.8},
		{"no match", "the weather today is nice", false, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, ok := keywordFastPath(tt.text)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantType, result.Type)
				assert.Equal(t, tt.wantConf, result.Confidence)
			}
		})
	}
}

func TestKeywordFastPath_FileOperationMapsExtension(t *testing.T) {
	result, ok := keywordFastPath("open that document please")
	assert.True(t, ok)
	assert.Equal(t, models.IntentFileOperation, result.Type)
	assert.Equal(t, []string{"file_search"}, result.RequiredExtensions)
}
