package kb

import (
	"regexp"
	"strings"
)

// AnswerParser extracts numbered answers from a free-text reply. It is an
// interface so a structured input form can replace the regex without
// touching the state machine.
type AnswerParser interface {
	Parse(text string) map[string]string
}

// RegexAnswerParser parses "Q1: answer" style lines.
type RegexAnswerParser struct{}

var answerLine = regexp.MustCompile(`(?im)^\s*Q(\d+)\s*[:.\-]\s*(.+)$`)

// Parse returns a map of question id ("Q1") to the trimmed answer text.
// Later occurrences of the same id overwrite earlier ones.
func (RegexAnswerParser) Parse(text string) map[string]string {
	out := make(map[string]string)
	for _, m := range answerLine.FindAllStringSubmatch(text, -1) {
		out["Q"+m[1]] = strings.TrimSpace(m[2])
	}
	return out
}
