package emailprocessor

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// NoTopic is used when the subject is empty after stripping reply markers
const NoTopic = "(no topic)"

const (
	topicEllipsis     = "..."
	bodyTruncatedNote = "\n[message truncated]"
)

var (
	replyMarkerRe = regexp.MustCompile(`(?im)([\[\(] *)?\b(RE|FWD?) *([-:;)\]][ :;\])-]*|$)|\]+ *$`)
	forwardedRe   = regexp.MustCompile(`(?i)^(?:([\[\(] *)?\b(FWD?) *([-:;)\]][ :;\])-]*|$)|\]+ *$)`)
)

// StripFromSubject removes "Re:" and "Fwd:" markers with their bracket and colon decoration.
func StripFromSubject(subject string) string {
	return strings.TrimSpace(replyMarkerRe.ReplaceAllString(subject, ""))
}

// IsForwarded reports whether subject starts with a forward marker.
func IsForwarded(subject string) bool {
	return forwardedRe.MatchString(subject)
}

// TruncateTopic shortens topic to at most max characters, ending in "...".
func TruncateTopic(topic string, max int) string {
	return truncate(topic, max, topicEllipsis)
}

// TruncateBody shortens content to at most max characters, ending in a truncation note.
func TruncateBody(content string, max int) string {
	return truncate(content, max, bodyTruncatedNote)
}

func truncate(s string, max int, suffix string) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	keep := max - utf8.RuneCountInString(suffix)
	if keep < 0 {
		keep = 0
	}
	runes := []rune(s)
	return string(runes[:keep]) + suffix
}
