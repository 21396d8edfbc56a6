// Package intent implements the IntentRouter: a keyword fast-path with no
// model call, falling through to an LLM classification slow-path guarded
// by an advisory circuit breaker on the router model.
package intent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sena-run/core/pkg/config"
	"github.com/sena-run/core/pkg/modelclient"
	"github.com/sena-run/core/pkg/models"
	"github.com/sena-run/core/pkg/registry"
)

const (
	classificationMaxTokens   = 50
	classificationTemperature = 0.1
)

// ModelSource is the narrow registry dependency the router needs.
// Satisfied by *registry.Registry.
type ModelSource interface {
	GetClient(ctx context.Context, slot config.SlotName) (registry.Client, error)
}

// Router is the IntentRouter.
type Router struct {
	models  ModelSource
	breaker breaker
}

// New creates a Router backed by models for the LLM slow-path.
func New(modelSource ModelSource) *Router {
	return &Router{models: modelSource}
}

// Route classifies text, trying the keyword fast-path first and falling
// through to the LLM slow-path only when no keyword rule matches.
func (r *Router) Route(ctx context.Context, text string) (models.IntentResult, error) {
	if result, ok := keywordFastPath(text); ok {
		return result, nil
	}
	return r.llmSlowPath(ctx, text)
}

func (r *Router) llmSlowPath(ctx context.Context, text string) (models.IntentResult, error) {
	target := config.SlotRouter
	trackBreaker := true
	if r.breaker.isOpen(time.Now()) {
		target = config.SlotFast
		trackBreaker = false
	}

	client, err := r.models.GetClient(ctx, target)
	if err != nil {
		if trackBreaker {
			r.breaker.recordFailure()
		}
		return classify(models.IntentGeneralConversation, 0.5, ""), nil
	}

	temp := classificationTemperature
	maxTokens := classificationMaxTokens
	resp, err := client.Generate(ctx, []models.Message{
		{Role: models.RoleUser, Content: classificationPrompt(text)},
	}, modelclient.Overrides{Temperature: &temp, MaxTokens: &maxTokens})
	if err != nil {
		if trackBreaker {
			r.breaker.recordFailure()
		}
		return classify(models.IntentGeneralConversation, 0.5, ""), nil
	}

	if trackBreaker {
		r.breaker.recordSuccess()
	}

	return parseClassification(resp.Content), nil
}

func classificationPrompt(text string) string {
	return fmt.Sprintf(
		"Classify the following user message into exactly one of: greeting, farewell, "+
			"code_explanation, code_request, memory_recall, file_operation, complex_query, "+
			"question, general_conversation. Respond with only the label.\n\nMessage: %s",
		text,
	)
}

var knownIntents = []models.IntentType{
	models.IntentGreeting,
	models.IntentFarewell,
	models.IntentCodeExplanation,
	models.IntentCodeRequest,
	models.IntentMemoryRecall,
	models.IntentFileOperation,
	models.IntentComplexQuery,
	models.IntentQuestion,
	models.IntentGeneralConversation,
}

// parseClassification reads the first non-empty token of the router's
// reply and matches it to the intent enum, first exactly then by
// substring.
func parseClassification(raw string) models.IntentResult {
	token := firstNonEmptyToken(raw)

	for _, candidate := range knownIntents {
		if token == string(candidate) {
			return classify(candidate, 0.9, raw)
		}
	}

	for _, candidate := range knownIntents {
		if strings.Contains(token, string(candidate)) || strings.Contains(string(candidate), token) {
			return classify(candidate, 0.7, raw)
		}
	}

	return classify(models.IntentGeneralConversation, 0.5, raw)
}

func firstNonEmptyToken(raw string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return r == ' ' || r == '\n' || r == '\t' || r == '.' || r == ','
	})
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
