package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// RE2's \s is ASCII only; chat text carries U+3000 and friends.
const (
	spaceClass    = `\s\v\x{85}\p{Zs}\x{2028}\x{2029}`
	nonSpaceClass = `[^` + spaceClass + `]`
)

var (
	atMarkupPattern    = regexp.MustCompile(`\[At:[^\]]*\]`)
	atMentionPattern   = regexp.MustCompile(`@` + nonSpaceClass + `+[` + spaceClass + `]*`)
	quoteMarkupPattern = regexp.MustCompile(`\[引用消息\(.*?\)\]`)
	blankRunPattern    = regexp.MustCompile(`\n[` + spaceClass + `]*\n[` + spaceClass + `]*\n+`)
)

// NormalizeContent strips mention and quote markup and blank lines from raw chat
// text. The result is a fixpoint: normalizing it again returns it unchanged.
func NormalizeContent(raw string) string {
	s := raw
	for {
		next := normalizeOnce(s)
		if next == s {
			return next
		}
		s = next
	}
}

func normalizeOnce(s string) string {
	s = atMarkupPattern.ReplaceAllString(s, "")
	s = atMentionPattern.ReplaceAllString(s, "")
	s = quoteMarkupPattern.ReplaceAllString(s, "")
	s = blankRunPattern.ReplaceAllString(s, "\n\n")

	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// HashContent returns the hex SHA-256 of normalized content, or "" for empty content.
func HashContent(content string) string {
	if content == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
