// Package mrkdwn converts generic markdown into Slack's mrkdwn dialect.
package mrkdwn

import (
	"regexp"
	"strings"
)

var (
	codeSpanPattern   = regexp.MustCompile("(?s)(```.+?```|`[^`\n]+?`)")
	headerPattern     = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	boldItalicPattern = regexp.MustCompile(`\*\*\*(.+?)\*\*\*`)
	italicPattern     = regexp.MustCompile(`\*([^*\n]+?)\*`)
	boldPattern       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	altBoldPattern    = regexp.MustCompile(`__(.+?)__`)
	strikePattern     = regexp.MustCompile(`~~(.+?)~~`)
)

// ToSlack rewrites bold, italic, strikethrough and headers into Slack's
// inline formatting. Fenced and inline code spans pass through untouched.
func ToSlack(content string) string {
	content = headerPattern.ReplaceAllString(content, "*$1*")

	parts := splitAroundCode(content)
	var out strings.Builder
	for _, part := range parts {
		if strings.HasPrefix(part, "`") {
			out.WriteString(part)
			continue
		}
		out.WriteString(convertInline(part))
	}
	return out.String()
}

func splitAroundCode(content string) []string {
	spans := codeSpanPattern.FindAllStringIndex(content, -1)
	if len(spans) == 0 {
		return []string{content}
	}
	var parts []string
	prev := 0
	for _, span := range spans {
		if span[0] > prev {
			parts = append(parts, content[prev:span[0]])
		}
		parts = append(parts, content[span[0]:span[1]])
		prev = span[1]
	}
	if prev < len(content) {
		parts = append(parts, content[prev:])
	}
	return parts
}

func convertInline(part string) string {
	// ***bold italic*** first, it is the most specific pattern.
	part = boldItalicPattern.ReplaceAllString(part, "_*$1*_")
	// Single-asterisk italic before double-asterisk bold, otherwise the
	// converted bold markers would be re-matched as italic. Go's regexp has
	// no lookarounds, so lone asterisks are found by rejecting candidates
	// adjacent to another asterisk.
	part = replaceLoneItalic(part)
	part = boldPattern.ReplaceAllString(part, "*$1*")
	part = altBoldPattern.ReplaceAllString(part, "*$1*")
	part = strikePattern.ReplaceAllString(part, "~$1~")
	return part
}

func replaceLoneItalic(part string) string {
	var out strings.Builder
	for {
		loc := italicPattern.FindStringSubmatchIndex(part)
		if loc == nil {
			out.WriteString(part)
			break
		}
		start, end := loc[0], loc[1]
		prevIsStar := start > 0 && part[start-1] == '*'
		nextIsStar := end < len(part) && part[end] == '*'
		if prevIsStar || nextIsStar {
			// Rejected candidate: resume scanning one rune past the opening
			// asterisk, the way a lookaround-failed regex engine would.
			out.WriteString(part[:start+1])
			part = part[start+1:]
			continue
		}
		out.WriteString(part[:start])
		out.WriteString("_" + part[loc[2]:loc[3]] + "_")
		part = part[end:]
	}
	return out.String()
}
