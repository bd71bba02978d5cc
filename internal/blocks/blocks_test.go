package blocks

import (
	"reflect"
	"testing"
)

func TestNormalizeOrderInterleaved(t *testing.T) {
	in := []ContentBlock{
		Text{Text: "intro"},
		Reasoning{Text: "first thought", Signature: "sig-a"},
		ToolInvocation{ID: "t1", Name: "bash"},
		Reasoning{Text: "second thought", Signature: "sig-b"},
		Text{Text: "outro"},
	}
	got := NormalizeOrder(in)
	want := []ContentBlock{
		Reasoning{Text: "first thought", Signature: "sig-a"},
		Reasoning{Text: "second thought", Signature: "sig-b"},
		Text{Text: "intro"},
		Text{Text: "outro"},
		ToolInvocation{ID: "t1", Name: "bash"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("NormalizeOrder() = %#v, want %#v", got, want)
	}
}

func TestNormalizeOrderDropsToolResults(t *testing.T) {
	in := []ContentBlock{
		ToolResult{ToolUseID: "t1", Content: "out"},
		Text{Text: "hello"},
	}
	got := NormalizeOrder(in)
	if len(got) != 1 {
		t.Fatalf("NormalizeOrder() kept %d blocks, want 1", len(got))
	}
	if _, ok := got[0].(Text); !ok {
		t.Fatalf("surviving block is %T, want Text", got[0])
	}
}

func TestNormalizeOrderEmpty(t *testing.T) {
	if got := NormalizeOrder(nil); got != nil {
		t.Fatalf("NormalizeOrder(nil) = %#v, want nil", got)
	}
}

func TestUserToolResults(t *testing.T) {
	msg := UserToolResults([]ToolResult{{ToolUseID: "t1", Content: "result"}})
	if msg.Role != RoleUser {
		t.Fatalf("role = %q, want %q", msg.Role, RoleUser)
	}
	if len(msg.Content) != 1 {
		t.Fatalf("content length = %d, want 1", len(msg.Content))
	}
	tr, ok := msg.Content[0].(ToolResult)
	if !ok {
		t.Fatalf("content[0] is %T, want ToolResult", msg.Content[0])
	}
	if tr.ToolUseID != "t1" || tr.Content != "result" {
		t.Fatalf("unexpected tool result: %#v", tr)
	}
}
