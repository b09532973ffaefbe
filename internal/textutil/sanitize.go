package textutil

import (
	"strings"
	"unicode"
)

// maxSlugLen keeps generated file names well under filesystem limits.
const maxSlugLen = 48

// Slug lowercases value and joins its ASCII letter and digit runs with
// underscores, so "AI & You!" becomes "ai_you". Empty results yield "unknown".
func Slug(value string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.TrimSpace(value) {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			pendingSep = b.Len() > 0
			continue
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(unicode.ToLower(r))
		if b.Len() >= maxSlugLen {
			break
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
