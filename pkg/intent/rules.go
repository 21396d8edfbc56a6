package intent

import (
	"strings"

	"github.com/sena-run/core/pkg/models"
)

var greetingWords = []string{"hi", "hello", "hey", "greetings", "howdy", "yo"}

var farewellWords = []string{"bye", "goodbye", "farewell", "see you", "good night", "take care"}

var codeKeywords = []string{
	"function", "code", "bug", "error", "class", "variable", "script",
	"programming", "syntax", "compile", "debug", "exception", "method",
}

var explainCues = []string{"explain", "understand", "how does", "what does", "why does"}

var memoryRecallCues = []string{
	"remember", "recall", "last time", "you said", "previously", "earlier", "before",
}

var fileKeywords = []string{"file", "directory", "folder", "document"}

var fileActionKeywords = []string{
	"open", "read", "write", "delete", "create", "save", "list", "move", "copy", "rename",
}

var interrogativeStarts = []string{
	"what", "who", "where", "when", "why", "how", "which", "is", "are", "can", "do", "does", "could", "would",
}

var complexQueryCues = []string{"analyze", "compare", "in depth", "in-depth", "comprehensive"}

// keywordFastPath runs the ordered, no-LLM classification rules. It
// returns ok=false when no rule matches, signaling the caller to fall
// through to the LLM slow-path.
func keywordFastPath(text string) (models.IntentResult, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	tokens := strings.Fields(lower)

	if len(tokens) <= 3 && containsAnyToken(tokens, greetingWords) {
		return classify(models.IntentGreeting, 0.95, text), true
	}

	if containsAnySubstring(lower, farewellWords) {
		return classify(models.IntentFarewell, 0.9, text), true
	}

	if countMatches(lower, codeKeywords) >= 2 {
		if containsAnySubstring(lower, explainCues) {
			return classify(models.IntentCodeExplanation, 0.85, text), true
		}
		return classify(models.IntentCodeRequest, 0.85, text), true
	}

	if containsAnySubstring(lower, memoryRecallCues) {
		return classify(models.IntentMemoryRecall, 0.9, text), true
	}

	if containsAnyToken(tokens, fileKeywords) && containsAnyToken(tokens, fileActionKeywords) {
		return classify(models.IntentFileOperation, 0.85, text), true
	}

	if isQuestion(lower, tokens) {
		if len(text) > 100 || containsAnySubstring(lower, complexQueryCues) {
			return classify(models.IntentComplexQuery, 0.8, text), true
		}
		return classify(models.IntentQuestion, 0.8, text), true
	}

	return models.IntentResult{}, false
}

func isQuestion(lower string, tokens []string) bool {
	if strings.HasSuffix(lower, "?") {
		return true
	}
	if len(tokens) == 0 {
		return false
	}
	for _, w := range interrogativeStarts {
		if tokens[0] == w {
			return true
		}
	}
	return false
}

func containsAnyToken(tokens []string, set []string) bool {
	for _, t := range tokens {
		for _, w := range set {
			if t == w {
				return true
			}
		}
	}
	return false
}

func containsAnySubstring(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func countMatches(s string, subs []string) int {
	count := 0
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			count++
		}
	}
	return count
}
