// Package retrieval implements the stateless policy that decides whether
// a turn needs memory, fetches what's relevant, and extracts durable
// learnings from a finished conversation.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/sena-run/core/pkg/models"
)

var alwaysRetrieve = map[string]bool{
	"memory_recall": true, "general_conversation": true, "question": true,
	"complex_query": true, "analysis": true, "summarization": true,
	"recall": true, "reference": true, "memory": true, "history": true,
	"previous": true,
}

var neverRetrieve = map[string]bool{
	"greeting": true, "farewell": true, "help": true, "settings": true,
	"math": true, "translation": true,
}

var recallPhrases = []string{
	"do you remember", "did i tell you", "what did i say", "recall when",
	"earlier i said", "as i mentioned", "like i said",
}

var personalContextPatterns = []string{
	"my name", "my job", "my favorite", "my birthday", "i work as",
	"i live in", "my family", "my partner",
}

var ambiguousPronouns = map[string]bool{
	"it": true, "that": true, "this": true, "they": true, "them": true,
	"he": true, "she": true,
}

var interrogativeStarts = map[string]bool{
	"what": true, "why": true, "how": true, "when": true, "where": true,
	"who": true, "which": true, "can": true, "could": true, "would": true,
	"should": true, "is": true, "are": true, "do": true, "does": true,
}

var learningMarkers = []string{
	"i learned", "important:", "user prefers", "note to self", "remember that",
}

// LongTermSearcher is the narrow dependency retrieveRelevant and
// storeLearnings need. Satisfied by *memory.LongTermMemory.
type LongTermSearcher interface {
	Search(ctx context.Context, query string, k int, metadataFilter map[string]string, queryEmbedding []float32) ([]models.LongTermMemory, error)
	Add(ctx context.Context, content string, metadata map[string]any, embedding []float32) (models.LongTermMemory, error)
}

// Embedder computes an embedding for a line of text before it is stored
// as a learning.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Engine is the stateless retrieval policy.
type Engine struct {
	longTerm LongTermSearcher
	embedder Embedder
}

// New creates an Engine. embedder may be nil, in which case
// storeLearnings persists without an embedding.
func New(longTerm LongTermSearcher, embedder Embedder) *Engine {
	return &Engine{longTerm: longTerm, embedder: embedder}
}

// Relevant bundles the short-term and long-term memory gathered for one
// turn.
type Relevant struct {
	ShortTerm []models.ShortTermItem
	LongTerm  []models.LongTermMemory
}

// ShouldRetrieve decides whether a turn warrants a memory lookup. intent
// may be empty when unknown.
func (e *Engine) ShouldRetrieve(userInput string, intent models.IntentType) bool {
	key := strings.ToLower(string(intent))
	if alwaysRetrieve[key] {
		return true
	}
	if neverRetrieve[key] {
		return false
	}

	lower := strings.ToLower(strings.TrimSpace(userInput))
	if containsAny(lower, recallPhrases) || containsAny(lower, personalContextPatterns) {
		return true
	}

	fields := strings.Fields(lower)
	if len(fields) > 0 && ambiguousPronouns[strings.Trim(fields[0], ".,!?")] {
		return true
	}
	if len(fields) > 0 && interrogativeStarts[strings.Trim(fields[0], ".,!?")] && strings.HasSuffix(strings.TrimSpace(userInput), "?") {
		return true
	}
	if len(fields) <= 3 {
		return true
	}
	return false
}

// RetrieveRelevant fetches the current short-term buffer in full and the
// top k long-term matches for userInput.
func (e *Engine) RetrieveRelevant(ctx context.Context, shortTerm []models.ShortTermItem, userInput string, k int, metadataFilter map[string]string) (Relevant, error) {
	longTerm, err := e.longTerm.Search(ctx, userInput, k, metadataFilter, nil)
	if err != nil {
		return Relevant{}, fmt.Errorf("retrieving long-term memory: %w", err)
	}
	return Relevant{ShortTerm: shortTerm, LongTerm: longTerm}, nil
}

// ExtractLearnings returns every line in conversation containing a
// learning marker phrase, verbatim.
func ExtractLearnings(conversation string) []string {
	var learnings []string
	for _, line := range strings.Split(conversation, "\n") {
		lower := strings.ToLower(line)
		for _, marker := range learningMarkers {
			if strings.Contains(lower, marker) {
				learnings = append(learnings, strings.TrimSpace(line))
				break
			}
		}
	}
	return learnings
}

// StoreLearnings embeds (when an embedder is configured) and persists
// each line as a long-term memory.
func (e *Engine) StoreLearnings(ctx context.Context, lines []string, metadata map[string]any) error {
	for _, line := range lines {
		var embedding []float32
		if e.embedder != nil {
			if v, err := e.embedder.Embed(ctx, line); err == nil {
				embedding = v
			}
		}
		if _, err := e.longTerm.Add(ctx, line, metadata, embedding); err != nil {
			return fmt.Errorf("storing learning: %w", err)
		}
	}
	return nil
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
