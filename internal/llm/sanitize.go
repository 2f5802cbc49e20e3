package llm

import (
	"regexp"
	"strings"
)

const maxReplyLen = 2000

var (
	rolePrefix  = regexp.MustCompile(`(?i)^(System:|Assistant:|AI:|User:)\s*`)
	excessBangs = regexp.MustCompile(`!{3,}`)
	excessQuery = regexp.MustCompile(`\?{3,}`)
)

// Sanitize turns raw model output into a single chat line. It returns ""
// when nothing usable remains.
func Sanitize(raw string) string {
	s := strings.TrimSpace(raw)
	s = rolePrefix.ReplaceAllString(s, "")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if r := []rune(s); len(r) > maxReplyLen {
		s = string(r[:maxReplyLen-3]) + "..."
	}
	s = excessBangs.ReplaceAllString(s, "!!")
	s = excessQuery.ReplaceAllString(s, "??")
	return strings.TrimSpace(s)
}
