package preprocess

import (
	"regexp"
	"strings"
)

// Precompiled once at package init, following internal/transcript/corrector.go's
// regex-based normalisation idiom.
var (
	rolePrefixRe = regexp.MustCompile(`(?i)^\s*(user|human|assistant|ai|bot|用户)\s*[:：]\s*`)
	urlRe        = regexp.MustCompile(`https?://\S+`)
	bangRunRe    = regexp.MustCompile(`!{3,}`)
	hasCJKRe     = regexp.MustCompile(`[\x{4E00}-\x{9FFF}]`)
)

// cleanText applies the dialogue text-cleaning rules: it strips a leading
// "role:" prefix (in case the caller embedded it in the text rather than a
// separate field), strips URLs, collapses runs of three or more exclamation
// marks to a single period, normalises the half-width comma to its
// full-width form when the text contains CJK characters, and trims
// surrounding whitespace.
func cleanText(text string) string {
	text = rolePrefixRe.ReplaceAllString(text, "")
	text = urlRe.ReplaceAllString(text, "")
	text = bangRunRe.ReplaceAllString(text, ".")

	if hasCJKRe.MatchString(text) {
		text = strings.ReplaceAll(text, ",", "，")
	}

	return strings.TrimSpace(text)
}
