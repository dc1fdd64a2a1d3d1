package decompose

import (
	"regexp"
	"strings"

	"github.com/ShayCichocki/relay/pkg/models"
)

var codeKeywords = []string{
	"code", "program", "function", "class", "algorithm", "java", "python",
	"c++", "golang", "snippet", "implement", "script", "source code", "regex",
}

var arithmeticRe = regexp.MustCompile(`\d+\s*[*+\-/x÷^%]\s*\d+`)

// Classify picks an agent kind for text using keyword heuristics. It is
// used when the model names no valid agent and for trivial queries that
// skip the model entirely.
func Classify(text string) models.AgentKind {
	lower := strings.ToLower(text)
	for _, kw := range codeKeywords {
		if strings.Contains(lower, kw) {
			return models.AgentCode
		}
	}
	if arithmeticRe.MatchString(text) {
		return models.AgentMath
	}
	return models.AgentResearch
}

// isTrivial reports whether a query is too short to be worth decomposing.
func isTrivial(query string) bool {
	q := strings.TrimSpace(query)
	return len(q) < 3 || len(strings.Fields(q)) == 1
}
