package orchestrator

import "strings"

var rememberMarkers = []string{
	"remember this", "remember that", "don't forget", "please remember",
	"keep in mind", "note that",
}

// detectExplicitRemember recognizes a direct user ask to persist a fact,
// distinct from the inferential-learning path. When found, it returns
// the content following the marker phrase.
func detectExplicitRemember(input string) (content string, ok bool) {
	lower := strings.ToLower(input)
	for _, marker := range rememberMarkers {
		idx := strings.Index(lower, marker)
		if idx == -1 {
			continue
		}
		rest := input[idx+len(marker):]
		rest = strings.TrimLeft(rest, " :,-")
		rest = strings.TrimSpace(rest)
		if rest == "" {
			continue
		}
		return rest, true
	}
	return "", false
}
