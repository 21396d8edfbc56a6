package memory

import "strings"

// stopWords is the fixed list removed before the keyword fallback search
// extracts terms from a query with no usable embedding.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "being": true, "to": true,
	"of": true, "in": true, "on": true, "at": true, "for": true, "with": true,
	"about": true, "and": true, "or": true, "but": true, "what": true,
	"which": true, "who": true, "whom": true, "this": true, "that": true,
	"these": true, "those": true, "do": true, "does": true, "did": true,
	"have": true, "has": true, "had": true, "can": true, "could": true,
	"will": true, "would": true, "should": true, "i": true, "you": true,
	"he": true, "she": true, "it": true, "we": true, "they": true, "my": true,
	"your": true, "me": true,
}

// extractKeywords lowercases query, splits on whitespace, strips
// punctuation-only tokens, and removes stop words.
func extractKeywords(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})

	keywords := make([]string, 0, len(fields))
	for _, f := range fields {
		if f == "" || stopWords[f] {
			continue
		}
		keywords = append(keywords, f)
	}
	return keywords
}
