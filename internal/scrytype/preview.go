package scrytype

import (
	"regexp"
	"strings"

	"github.com/mbrichman/scry/pkg/shared/stringutil"
)

var (
	mdEmphasisRE = regexp.MustCompile("[*_`]+")
	whitespaceRE = regexp.MustCompile(`\s+`)
)

// Preview strips HTML tags and markdown emphasis/backtick markers, collapses
// whitespace, and truncates content to n characters at the last word
// boundary, appending an ellipsis. Mirrors the legacy conversation_view_model
// preview extractor.
func Preview(content string, n int) string {
	cleaned := stringutil.StripMarkup(content)
	cleaned = mdEmphasisRE.ReplaceAllString(cleaned, "")
	cleaned = whitespaceRE.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)
	runes := []rune(cleaned)
	if n <= 0 || len(runes) <= n {
		return cleaned
	}
	cut := string(runes[:n])
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut) + "…"
}
