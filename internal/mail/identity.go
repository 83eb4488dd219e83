package mail

import (
	"regexp"
	"strconv"
	"strings"
)

// messageIDPattern matches one angle-bracketed message identifier inside
// a Message-ID, In-Reply-To, or References header value.
var messageIDPattern = regexp.MustCompile(`<[^<>\s]+>`)

// issueRefPattern matches issue references like "#123" in subjects and
// bodies (tracker notification subjects carry the issue id this way).
var issueRefPattern = regexp.MustCompile(`#(\d+)`)

// ParseMessageID extracts the canonical angle-bracketed identifier from a
// raw Message-ID header value. Returns "" when the header carries none.
func ParseMessageID(raw string) string {
	return messageIDPattern.FindString(raw)
}

// ParseReferences extracts every message identifier from a raw References
// (or In-Reply-To) header value, preserving order and dropping duplicates.
func ParseReferences(raw string) []string {
	matches := messageIDPattern.FindAllString(raw, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	var ids []string
	for _, id := range matches {
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// ThreadIdentity assembles the ordered, root-first identity of a message's
// conversation from its headers. References lists ancestors root-first;
// In-Reply-To covers mailers that omit References. The message's own id
// is appended last if present and not already listed.
func ThreadIdentity(messageID, references, inReplyTo string) []string {
	ids := ParseReferences(references)
	if len(ids) == 0 {
		ids = ParseReferences(inReplyTo)
	}

	self := ParseMessageID(messageID)
	if self == "" {
		return ids
	}
	for _, id := range ids {
		if id == self {
			return ids
		}
	}
	return append(ids, self)
}

// ExtractIssueIDs extracts all issue id references from text. Returns a
// deduplicated list preserving the order of first occurrence.
func ExtractIssueIDs(text string) []int {
	matches := issueRefPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[int]bool)
	var ids []int
	for _, m := range matches {
		id, err := strconv.Atoi(m[1])
		if err != nil || id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// RenderTemplate fills an account's subject or body template from a
// parsed message. Supported placeholders: {{subject}}, {{body}}, {{from}},
// {{message_id}}.
func RenderTemplate(tmpl string, msg *ParsedMessage) string {
	body := msg.TextBody
	if body == "" {
		body = msg.HTMLBody
	}

	replacer := strings.NewReplacer(
		"{{subject}}", msg.Envelope.Subject,
		"{{body}}", body,
		"{{from}}", msg.Envelope.From,
		"{{message_id}}", msg.Envelope.MessageID,
	)
	return replacer.Replace(tmpl)
}
