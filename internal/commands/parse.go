package commands

import (
	"strings"
	"unicode"
)

// tokenize splits a command line on whitespace. Double quotes group words
// and a backslash escapes the next rune.
func tokenize(s string) []string {
	var (
		out     []string
		b       strings.Builder
		inQuote bool
		escaped bool
		started bool
	)
	flush := func() {
		if started {
			out = append(out, b.String())
		}
		b.Reset()
		started = false
	}
	for _, r := range s {
		switch {
		case escaped:
			b.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
			started = true
		case r == '"':
			inQuote = !inQuote
			started = true
		case unicode.IsSpace(r) && !inQuote:
			flush()
		default:
			b.WriteRune(r)
			started = true
		}
	}
	flush()
	return out
}

// commandWord extracts the command name from "/name@bot" and reports false
// for non-command text.
func commandWord(tok string) (string, bool) {
	if !strings.HasPrefix(tok, "/") {
		return "", false
	}
	w := strings.TrimPrefix(tok, "/")
	if i := strings.IndexByte(w, '@'); i >= 0 {
		w = w[:i]
	}
	w = strings.ToLower(w)
	return w, w != ""
}

// sanitizeMenuName converts a name into a Telegram command name,
// restricted to [a-z0-9_]{1,32}.
func sanitizeMenuName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '-' || unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}
