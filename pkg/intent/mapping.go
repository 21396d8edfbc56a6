package intent

import "github.com/sena-run/core/pkg/models"

// slotForIntent maps an intent to the recommended model slot name.
var slotForIntent = map[models.IntentType]string{
	models.IntentGreeting:            "fast",
	models.IntentFarewell:            "fast",
	models.IntentCodeExplanation:     "code",
	models.IntentCodeRequest:         "code",
	models.IntentMemoryRecall:        "fast",
	models.IntentFileOperation:       "fast",
	models.IntentComplexQuery:        "critical",
	models.IntentQuestion:            "fast",
	models.IntentGeneralConversation: "fast",
}

// extensionsForIntent maps an intent to the extensions required to answer
// it.
var extensionsForIntent = map[models.IntentType][]string{
	models.IntentFileOperation: {"file_search"},
}

// needsMemoryForIntent marks intents that should consult long-term memory.
var needsMemoryForIntent = map[models.IntentType]bool{
	models.IntentMemoryRecall:        true,
	models.IntentComplexQuery:        true,
	models.IntentQuestion:            true,
	models.IntentGeneralConversation: true,
}

func classify(intentType models.IntentType, confidence float64, raw string) models.IntentResult {
	return models.IntentResult{
		Type:               intentType,
		RecommendedModel:   slotForIntent[intentType],
		RequiredExtensions: extensionsForIntent[intentType],
		NeedsMemory:        needsMemoryForIntent[intentType],
		Confidence:         confidence,
		RawResponse:        raw,
	}
}
