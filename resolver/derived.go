package resolver

import (
	"strings"
	"unicode/utf8"

	"github.com/goliatone/go-dispatch/core"
)

type derivedFields struct {
	Excerpt string
}

// deriveEventFields precomputes delivery copy once per event so per-recipient
// target construction stays allocation-only.
func deriveEventFields(event core.Event) derivedFields {
	var body string
	switch event.Type {
	case core.EventCommentCreated:
		body = eventText(event, "body")
	case core.EventPostCreated:
		body = eventText(event, "details")
		if strings.TrimSpace(body) == "" {
			body = eventText(event, "title")
		}
	case core.EventPostStatusChanged:
		from := eventText(event, "from_status")
		to := eventText(event, "to_status")
		if from != "" || to != "" {
			body = from + " -> " + to
		}
	case core.EventChangelogPublished:
		body = eventText(event, "title")
	}
	return derivedFields{Excerpt: truncate(stripHTML(body), excerptLimit)}
}

func eventText(event core.Event, key string) string {
	if len(event.Data) == 0 {
		return ""
	}
	value, ok := event.Data[key].(string)
	if !ok {
		return ""
	}
	return value
}

// stripHTML removes tags and collapses whitespace. Entity decoding is
// limited to the handful that appear in user comment markup.
func stripHTML(input string) string {
	if input == "" {
		return ""
	}
	var builder strings.Builder
	builder.Grow(len(input))
	inTag := false
	for _, r := range input {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			if inTag {
				inTag = false
				builder.WriteRune(' ')
				continue
			}
			builder.WriteRune(r)
		case !inTag:
			builder.WriteRune(r)
		}
	}
	text := builder.String()
	for entity, replacement := range map[string]string{
		"&nbsp;": " ",
		"&amp;":  "&",
		"&lt;":   "<",
		"&gt;":   ">",
		"&quot;": `"`,
		"&#39;":  "'",
	} {
		text = strings.ReplaceAll(text, entity, replacement)
	}
	return strings.Join(strings.Fields(text), " ")
}

func truncate(input string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(input) <= limit {
		return input
	}
	runes := []rune(input)
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}
