package slackapi

import "encoding/json"

// Attachment is the legacy secondary-content record attached to a message.
// The codec uses attachments as the side channel for block metadata: the
// footer carries thinking signatures and tool ids, the title carries the
// tool name, and the text carries the rendered tool result.
type Attachment struct {
	Color  string `json:"color,omitempty"`
	Title  string `json:"title,omitempty"`
	Text   string `json:"text,omitempty"`
	Footer string `json:"footer,omitempty"`
	TS     int64  `json:"ts,omitempty"`
}

// Block is a minimal Block Kit element. Only the shapes this bot posts are
// modeled: section, actions, and context blocks. Elements holds
// BlockElement values for actions blocks and TextObject values for
// context blocks.
type Block struct {
	Type     string      `json:"type"`
	Text     *TextObject `json:"text,omitempty"`
	Elements []any       `json:"elements,omitempty"`
}

// TextObject is a Block Kit text composition object.
type TextObject struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// BlockElement is a button or a context element.
type BlockElement struct {
	Type     string      `json:"type"`
	Text     *TextObject `json:"text,omitempty"`
	Value    string      `json:"value,omitempty"`
	ActionID string      `json:"action_id,omitempty"`
	Style    string      `json:"style,omitempty"`
}

// RawMessage is one message as returned by conversations.replies.
type RawMessage struct {
	TS          string          `json:"ts"`
	ThreadTS    string          `json:"thread_ts,omitempty"`
	User        string          `json:"user,omitempty"`
	BotID       string          `json:"bot_id,omitempty"`
	Text        string          `json:"text"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	Blocks      json.RawMessage `json:"blocks,omitempty"`
}

// HasActionBlocks reports whether any Block Kit block on the message is an
// actions block. Messages carrying interactive controls are UI chrome, not
// conversation content.
func (m RawMessage) HasActionBlocks() bool {
	if len(m.Blocks) == 0 {
		return false
	}
	var probe []struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(m.Blocks, &probe); err != nil {
		return false
	}
	for _, b := range probe {
		if b.Type == "actions" {
			return true
		}
	}
	return false
}

// PostOptions carries the optional parts of a chat.postMessage call.
type PostOptions struct {
	ThreadTS    string
	Attachments []Attachment
	Blocks      []Block
}
