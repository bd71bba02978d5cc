package convo

import (
	"reflect"
	"testing"

	"github.com/quailyquaily/threadmorph/internal/blocks"
	"github.com/quailyquaily/threadmorph/internal/slackapi"
)

func TestBuildHistorySortsByTimestamp(t *testing.T) {
	raw := []slackapi.RawMessage{
		{TS: "3.000000", Text: "third"},
		{TS: "1.000000", Text: "first"},
		{TS: "2.000000", Text: "second"},
	}

	got := BuildHistory(raw)

	want := []blocks.Message{
		blocks.UserText("first"),
		blocks.UserText("second"),
		blocks.UserText("third"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("BuildHistory = %#v, want %#v", got, want)
	}
}

func TestBuildHistorySkipsChrome(t *testing.T) {
	raw := []slackapi.RawMessage{
		{TS: "1.0", Text: "hello"},
		{TS: "2.0", BotID: "B1", Text: "How can I help you?"},
		{TS: "3.0", BotID: "B1", Text: "Processing..."},
		{TS: "4.0", BotID: "B1", Text: ":octagonal_sign: Stopped by <@U1>"},
		{TS: "5.0", BotID: "B1", Text: "an actual answer"},
	}

	got := BuildHistory(raw)

	if len(got) != 2 {
		t.Fatalf("BuildHistory returned %d messages, want 2: %#v", len(got), got)
	}
	if got[0].Role != blocks.RoleUser || got[1].Role != blocks.RoleAssistant {
		t.Fatalf("roles = [%s %s], want [user assistant]", got[0].Role, got[1].Role)
	}
}

func TestBuildHistoryRecoversAssistantBlocks(t *testing.T) {
	raw := []slackapi.RawMessage{
		{TS: "1.0", Text: "run the probe"},
		{
			TS:    "2.0",
			BotID: "B1",
			Text:  "> thinking it over\n*Tool: probe*",
			Attachments: []slackapi.Attachment{
				{Footer: "thinking:sig-9"},
				{Title: "Tool: probe", Text: "probe says yes", Footer: "Tool ID: t9"},
			},
		},
		{TS: "3.0", BotID: "B1", Text: "all done"},
	}

	got := BuildHistory(raw)

	if len(got) != 4 {
		t.Fatalf("BuildHistory returned %d messages, want 4: %#v", len(got), got)
	}

	assistant := got[1]
	if assistant.Role != blocks.RoleAssistant {
		t.Fatalf("message 1 role = %q, want assistant", assistant.Role)
	}
	wantContent := []blocks.ContentBlock{
		blocks.Reasoning{Text: "thinking it over", Signature: "sig-9"},
		blocks.ToolInvocation{ID: "t9", Name: "probe", Input: map[string]any{}},
	}
	if !reflect.DeepEqual(assistant.Content, wantContent) {
		t.Fatalf("assistant content = %#v, want %#v", assistant.Content, wantContent)
	}

	// The tool result becomes a user turn right after the assistant turn.
	results := got[2]
	if results.Role != blocks.RoleUser {
		t.Fatalf("message 2 role = %q, want user", results.Role)
	}
	result, ok := results.Content[0].(blocks.ToolResult)
	if !ok || result.ToolUseID != "t9" || result.Content != "probe says yes" {
		t.Fatalf("tool result = %#v", results.Content[0])
	}
}

func TestBuildHistorySkipsEmptyUserMessages(t *testing.T) {
	raw := []slackapi.RawMessage{
		{TS: "1.0", Text: ""},
		{TS: "2.0", Text: "real"},
	}
	got := BuildHistory(raw)
	if len(got) != 1 || !reflect.DeepEqual(got[0], blocks.UserText("real")) {
		t.Fatalf("BuildHistory = %#v", got)
	}
}
