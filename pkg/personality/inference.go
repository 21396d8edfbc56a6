package personality

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/sena-run/core/pkg/models"
)

// candidate is one fragment the inference model proposed, before
// confidence filtering and status assignment.
type candidate struct {
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
	Category   string  `json:"category"`
}

const minInferenceConfidence = 0.5

var jsonArrayPattern = regexp.MustCompile(`(?s)\[.*\]`)

func inferencePrompt(text string, approvedContents []string) string {
	var known strings.Builder
	if len(approvedContents) == 0 {
		known.WriteString("(none yet)")
	} else {
		for _, c := range approvedContents {
			known.WriteString("- ")
			known.WriteString(c)
			known.WriteString("\n")
		}
	}

	return fmt.Sprintf(`Extract personality facts the user revealed about themselves in the
following message. Do not repeat facts already known.

Already known facts:
%s

Message:
%s

Respond with a JSON array only, each element shaped as
{"content": "...", "confidence": 0.0-1.0, "category": "..."}.
If nothing new was revealed, respond with [].`, known.String(), text)
}

func compressionPrompt(fragments []models.PersonalityFragment, tokenBudget int) string {
	var b strings.Builder
	for _, f := range fragments {
		b.WriteString("- ")
		b.WriteString(f.Content)
		b.WriteString("\n")
	}
	return fmt.Sprintf(`Compress the following personality facts about a user into a short
prose paragraph of at most %d tokens, preserving every distinct fact:

%s`, tokenBudget, b.String())
}

// parseInferenceCandidates strips markdown fences, extracts the first
// JSON array, and discards malformed or low-confidence entries.
func parseInferenceCandidates(raw string) []candidate {
	cleaned := stripMarkdownFences(raw)

	match := jsonArrayPattern.FindString(cleaned)
	if match == "" {
		return nil
	}

	var parsed []candidate
	if err := json.Unmarshal([]byte(match), &parsed); err != nil {
		return nil
	}

	out := make([]candidate, 0, len(parsed))
	for _, c := range parsed {
		if strings.TrimSpace(c.Content) == "" {
			continue
		}
		if c.Confidence < minInferenceConfidence {
			continue
		}
		out = append(out, c)
	}
	return out
}

func stripMarkdownFences(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
