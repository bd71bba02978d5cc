// Package blocks defines the structured content model exchanged with the
// reasoning engine: tagged content blocks, conversation messages, and the
// block ordering rule required by interleaved thinking.
package blocks

// ContentBlock is a closed union of the block kinds that can appear in a
// conversation turn. Adding a kind is a compile-time-checked change at every
// switch over the union.
type ContentBlock interface {
	isContentBlock()
}

// Reasoning is an engine-produced deliberation block. Signature is an opaque
// provenance token; it must be replayed verbatim or the engine rejects the
// turn.
type Reasoning struct {
	Text      string
	Signature string
}

// Text is plain assistant prose.
type Text struct {
	Text string
}

// ToolInvocation is a structured request from the engine to run a tool.
// ID is unique within a turn and correlates to a later ToolResult.
type ToolInvocation struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResult carries the textual outcome of a tool invocation back to the
// engine. It must reference an ID emitted earlier in the same or an ancestor
// turn, and is always delivered inside a user message.
type ToolResult struct {
	ToolUseID string
	Content   string
}

func (Reasoning) isContentBlock()      {}
func (Text) isContentBlock()           {}
func (ToolInvocation) isContentBlock() {}
func (ToolResult) isContentBlock()     {}

// Roles of conversation messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn. User turns carry either plain Text or a
// list of ToolResult blocks; assistant turns carry the other three kinds.
type Message struct {
	Role    string
	Content []ContentBlock
}

// UserText builds a plain-text user turn.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{Text{Text: text}}}
}

// UserToolResults builds the synthetic user turn that delivers tool results.
func UserToolResults(results []ToolResult) Message {
	content := make([]ContentBlock, 0, len(results))
	for _, r := range results {
		content = append(content, r)
	}
	return Message{Role: RoleUser, Content: content}
}

// Assistant builds an assistant turn with its content already normalized.
func Assistant(content []ContentBlock) Message {
	return Message{Role: RoleAssistant, Content: NormalizeOrder(content)}
}

// NormalizeOrder re-sorts an assistant turn so that all Reasoning blocks
// precede all Text blocks, which precede all ToolInvocation blocks. The
// engine's interleaved-thinking contract mandates this ordering on replay
// regardless of the order blocks were produced in. Relative order within
// each kind is preserved. ToolResult blocks never belong to assistant turns
// and are dropped.
func NormalizeOrder(content []ContentBlock) []ContentBlock {
	if len(content) == 0 {
		return nil
	}
	var reasoning, text, invocations []ContentBlock
	for _, block := range content {
		switch block.(type) {
		case Reasoning:
			reasoning = append(reasoning, block)
		case Text:
			text = append(text, block)
		case ToolInvocation:
			invocations = append(invocations, block)
		case ToolResult:
			// not valid in an assistant turn
		}
	}
	out := make([]ContentBlock, 0, len(reasoning)+len(text)+len(invocations))
	out = append(out, reasoning...)
	out = append(out, text...)
	out = append(out, invocations...)
	return out
}
