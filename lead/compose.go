package lead

import (
	"fmt"
	"regexp"
	"strings"
)

// Placeholder renders in place of a missing optional field so the message
// shape stays stable for downstream phone extraction.
const Placeholder = "—"

const leadTemplate = `
📞 Телефон
	%s
👋🏾 Имя
	%s
📝 Комментарий
%s
`

// Compose renders the canonical lead message text. Missing fields render as
// the em-dash placeholder, never as an empty line. A non-empty sourceLabel
// adds a trailing source line.
func Compose(phone, name, comment, sourceLabel string) string {
	text := fmt.Sprintf(leadTemplate, orPlaceholder(phone), orPlaceholder(name), orPlaceholder(comment))
	if label := strings.TrimSpace(sourceLabel); label != "" {
		text += fmt.Sprintf("🔗 Источник\n\t%s\n", label)
	}
	return text
}

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return Placeholder
	}
	return s
}

var phonePattern = regexp.MustCompile(`((\+7|8|7)[\- ]?)?[0-9]{10}`)

// ExtractPhones scans text for phone-shaped substrings and returns the
// trailing ten digits of each, deduplicated by that ten-digit value and
// ordered by first occurrence.
func ExtractPhones(text string) []string {
	matches := phonePattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		digits := m[len(m)-10:]
		if _, ok := seen[digits]; ok {
			continue
		}
		seen[digits] = struct{}{}
		out = append(out, digits)
	}
	return out
}
