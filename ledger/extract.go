package ledger

const (
	minEntityIDLen = 5
	maxEntityIDLen = 11
)

// ExtractEntityID returns the first maximal run of ASCII digits whose length is
// between 5 and 11. Runs embedded in longer digit runs never match.
func ExtractEntityID(text string) (string, bool) {
	start := -1
	for i := 0; i <= len(text); i++ {
		if i < len(text) && text[i] >= '0' && text[i] <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start < 0 {
			continue
		}
		if n := i - start; n >= minEntityIDLen && n <= maxEntityIDLen {
			return text[start:i], true
		}
		start = -1
	}
	return "", false
}
