package extract

import (
	"regexp"
	"strings"
)

var whWordRe = regexp.MustCompile(`(?i)\b(what|who|whom|whose|which|when|where|why|how)\b`)
var auxInversionRe = regexp.MustCompile(`(?i)^\s*(do|did|does|can|could|will|would|is|are|was|were|have|has)\s+\w+`)

var zhQuestionMarkers = []string{"吗", "呢", "什么", "谁", "哪", "为什么", "怎么", "几", "多少"}

var questionMarkRe = regexp.MustCompile(`[?？]\s*$`)

// IsQuestion classifies text as a question by trailing punctuation or a
// wh-lexicon/interrogative-marker match. Question turns never trigger IR
// extraction and never contribute the recency boost during rerank.
func IsQuestion(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	if questionMarkRe.MatchString(t) {
		return true
	}
	if whWordRe.MatchString(t) || auxInversionRe.MatchString(t) {
		return true
	}
	for _, m := range zhQuestionMarkers {
		if strings.Contains(t, m) {
			return true
		}
	}
	return false
}
