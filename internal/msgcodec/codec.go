// Package msgcodec maps structured content blocks to and from the flat
// text-plus-attachments representation Slack actually stores.
//
// The encode and decode sides are two halves of one versioned convention:
// reasoning renders as quote-prefixed lines with the signature hidden in an
// attachment footer, tool invocations render as a bold "Tool: <name>" line
// with the id and result hidden in an attachment. Changing how either side
// renders requires changing the other in lockstep.
package msgcodec

import (
	"strings"
	"time"

	"github.com/quailyquaily/threadmorph/internal/blocks"
	"github.com/quailyquaily/threadmorph/internal/slackapi"
)

const (
	quoteMarker     = ">"
	quotePrefix     = "> "
	thinkingFooter  = "thinking:"
	toolIDFooter    = "Tool ID: "
	toolTitlePrefix = "Tool: "
	toolLinePrefix  = "*Tool:"

	thinkingColor   = "#e0e0e0"
	toolOKColor     = "#2eb886"
	toolErrorColor  = "#ff0000"
	warningSentinel = ":warning:"
)

// Chrome texts that bot messages may carry without being conversation
// content. Messages matching these are excluded from history entirely.
const (
	GreetingText   = "How can I help you?"
	ProcessingText = "Processing..."
	StopPrefix     = ":octagonal_sign:"
	InfoPrefix     = ":information_source:"
)

var modeSwitchMarkers = []string{
	"Mode Activated",
	"Switched to normal mode",
	"Switched back to normal mode",
}

// EncodeReasoning renders a reasoning block as quoted lines, with the
// signature stowed in an attachment footer for later recovery.
func EncodeReasoning(r blocks.Reasoning, now time.Time) (string, slackapi.Attachment) {
	lines := strings.Split(r.Text, "\n")
	quoted := make([]string, len(lines))
	for i, line := range lines {
		quoted[i] = quotePrefix + line
	}
	att := slackapi.Attachment{
		Color:  thinkingColor,
		Text:   "",
		Footer: thinkingFooter + r.Signature,
		TS:     now.Unix(),
	}
	return strings.Join(quoted, "\n"), att
}

// EncodeToolUse renders a tool invocation and its formatted result. The
// body line is the decode anchor; the attachment carries the id, name and
// result text, and collapses long results in the Slack UI. The structured
// input is deliberately not preserved.
func EncodeToolUse(inv blocks.ToolInvocation, formattedResult string, now time.Time) (string, slackapi.Attachment) {
	color := toolOKColor
	if strings.Contains(strings.ToLower(formattedResult), "error") {
		color = toolErrorColor
	}
	att := slackapi.Attachment{
		Color:  color,
		Title:  toolTitlePrefix + inv.Name,
		Text:   formattedResult,
		Footer: toolIDFooter + inv.ID,
		TS:     now.Unix(),
	}
	return "*" + toolTitlePrefix + inv.Name + "*", att
}

type toolInfo struct {
	name string
	id   string
	text string
}

// Decode reconstructs content blocks from a message body and its ordered
// attachment records. The returned blocks satisfy the reasoning-text-tool
// ordering invariant. Tool results are returned separately; a non-empty
// slice must become a synthetic user turn immediately after the assistant
// message in history.
//
// Bodies starting with the warning sentinel decode to nothing: they are
// transport-level failure reports, not conversation.
func Decode(text string, attachments []slackapi.Attachment) ([]blocks.ContentBlock, []blocks.ToolResult) {
	if strings.HasPrefix(text, warningSentinel) {
		return nil, nil
	}

	var signatures []string
	var toolInfos []toolInfo
	for _, att := range attachments {
		switch {
		case strings.HasPrefix(att.Footer, thinkingFooter):
			signatures = append(signatures, att.Footer[len(thinkingFooter):])
		case strings.HasPrefix(att.Footer, toolIDFooter):
			if !strings.HasPrefix(att.Title, toolTitlePrefix) {
				continue
			}
			toolInfos = append(toolInfos, toolInfo{
				name: att.Title[len(toolTitlePrefix):],
				id:   att.Footer[len(toolIDFooter):],
				text: att.Text,
			})
		}
	}

	var (
		out         []blocks.ContentBlock
		toolResults []blocks.ToolResult
		current     []string
		inReasoning bool
		sigIndex    int
		toolIndex   int
	)

	flush := func() {
		if len(current) == 0 {
			return
		}
		if inReasoning {
			r := blocks.Reasoning{Text: strings.Join(current, "\n")}
			if sigIndex < len(signatures) {
				r.Signature = signatures[sigIndex]
			}
			sigIndex++
			out = append(out, r)
		} else {
			content := strings.TrimSpace(strings.Join(current, "\n"))
			if content != "" {
				out = append(out, blocks.Text{Text: content})
			}
		}
		current = nil
		inReasoning = false
	}

	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, quoteMarker):
			if !inReasoning {
				flush()
				inReasoning = true
			}
			if len(line) > len(quotePrefix) {
				current = append(current, line[len(quotePrefix):])
			} else {
				current = append(current, "")
			}
		case isToolLine(line):
			flush()
			// Consume the next unconsumed tool record by position; names can
			// collide so matching on them would mispair results with ids.
			// Extra tool lines beyond the available records are ignored.
			if toolIndex < len(toolInfos) {
				info := toolInfos[toolIndex]
				toolIndex++
				out = append(out, blocks.ToolInvocation{
					ID:   info.id,
					Name: info.name,
					// The original input is not persisted; replay with an
					// empty one.
					Input: map[string]any{},
				})
				if info.text != "" {
					toolResults = append(toolResults, blocks.ToolResult{
						ToolUseID: info.id,
						Content:   info.text,
					})
				}
			}
		default:
			if inReasoning {
				flush()
			}
			current = append(current, line)
		}
	}
	flush()

	return blocks.NormalizeOrder(out), toolResults
}

func isToolLine(line string) bool {
	return strings.HasPrefix(line, toolLinePrefix) &&
		strings.Contains(line[len(toolLinePrefix):], "*")
}

// SkipFromHistory reports whether a bot message is UI chrome that must be
// excluded from history reconstruction.
func SkipFromHistory(msg slackapi.RawMessage) bool {
	text := msg.Text
	if text == "" {
		return true
	}
	if text == GreetingText || text == ProcessingText {
		return true
	}
	if strings.HasPrefix(text, StopPrefix) || strings.HasPrefix(text, InfoPrefix) {
		return true
	}
	for _, marker := range modeSwitchMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return msg.HasActionBlocks()
}
