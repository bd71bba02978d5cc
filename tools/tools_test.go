package tools

import (
	"context"
	"testing"
)

type stubTool struct {
	name   string
	output string
}

func (t stubTool) Name() string            { return t.name }
func (t stubTool) Description() string     { return "stub" }
func (t stubTool) ParameterSchema() string { return `{"type":"object"}` }
func (t stubTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	return t.output, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	reg.Register(stubTool{name: "alpha", output: "a"})
	reg.Register(stubTool{name: "beta", output: "b"})

	tool, ok := reg.Get("alpha")
	if !ok {
		t.Fatal("expected alpha to be registered")
	}
	if tool.Name() != "alpha" {
		t.Fatalf("Get returned %q, want alpha", tool.Name())
	}
	if _, ok := reg.Get("gamma"); ok {
		t.Fatal("did not expect gamma to be registered")
	}
}

func TestRegistryListPreservesOrder(t *testing.T) {
	reg := NewRegistry()
	reg.Register(stubTool{name: "zeta"})
	reg.Register(stubTool{name: "alpha"})
	reg.Register(stubTool{name: "zeta", output: "replaced"})

	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("List returned %d tools, want 2", len(list))
	}
	if list[0].Name() != "zeta" || list[1].Name() != "alpha" {
		t.Fatalf("List order = [%s %s], want [zeta alpha]", list[0].Name(), list[1].Name())
	}
	out, err := reg.Execute(context.Background(), "zeta", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "replaced" {
		t.Fatalf("Execute returned %q, want replaced output", out)
	}
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Execute(context.Background(), "missing", nil); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}
