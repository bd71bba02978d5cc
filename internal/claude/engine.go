// Package claude drives conversational turns against the Anthropic API:
// streaming one model response at a time, executing requested tools, and
// feeding results back until the model stops asking.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/quailyquaily/threadmorph/internal/blocks"
)

// Models the assistant switches between. Normal mode favors latency,
// beast mode favors depth.
const (
	DefaultModel = "claude-sonnet-4-20250514"
	BeastModel   = "claude-opus-4-20250514"
)

const (
	maxOutputTokens = 8192
	thinkingBudget  = 16384

	// Interleaved thinking lets reasoning blocks appear between tool
	// calls instead of only at the start of a response.
	interleavedThinkingBeta = "interleaved-thinking-2025-05-14"
)

// ToolDef describes one tool to the model. Schema is a JSON Schema
// document for the input object.
type ToolDef struct {
	Name        string
	Description string
	Schema      string
}

// Request is one model call: the full history so far plus the tool
// surface and system prompt.
type Request struct {
	Model    string
	System   string
	Messages []blocks.Message
	Tools    []ToolDef
}

// Result is the complete accumulated response of one model call.
type Result struct {
	Content    []blocks.ContentBlock
	StopReason string
}

// Engine produces one model response per call. onBlock fires once per
// completed content block, in response order, before Stream returns; an
// error from onBlock aborts the stream.
type Engine interface {
	Stream(ctx context.Context, req Request, onBlock func(blocks.ContentBlock) error) (Result, error)
}

// AnthropicEngine is the production Engine on the Anthropic Messages API
// with extended thinking enabled.
type AnthropicEngine struct {
	client anthropic.Client
}

func NewAnthropicEngine(apiKey, baseURL string) *AnthropicEngine {
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithHeaderAdd("anthropic-beta", interleavedThinkingBeta),
	}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicEngine{client: anthropic.NewClient(opts...)}
}

func (e *AnthropicEngine) Stream(ctx context.Context, req Request, onBlock func(blocks.ContentBlock) error) (Result, error) {
	if e == nil {
		return Result{}, fmt.Errorf("engine is not initialized")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = DefaultModel
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxOutputTokens,
		Messages:  buildMessages(req.Messages),
		Thinking:  anthropic.ThinkingConfigParamOfEnabled(thinkingBudget),
	}
	if system := strings.TrimSpace(req.System); system != "" {
		// The system prompt is stable within the hour, so cache it.
		params.System = []anthropic.TextBlockParam{{
			Text:         system,
			CacheControl: anthropic.NewCacheControlEphemeralParam(),
		}}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	stream := e.client.Messages.NewStreaming(ctx, params)
	msg := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			return Result{}, err
		}
		stop, ok := event.AsAny().(anthropic.ContentBlockStopEvent)
		if !ok {
			continue
		}
		if stop.Index < 0 || stop.Index >= int64(len(msg.Content)) {
			continue
		}
		block, ok := convertBlock(msg.Content[stop.Index])
		if !ok {
			continue
		}
		if onBlock != nil {
			if err := onBlock(block); err != nil {
				return Result{}, err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return Result{}, err
	}

	out := Result{StopReason: string(msg.StopReason)}
	for _, block := range msg.Content {
		if converted, ok := convertBlock(block); ok {
			out.Content = append(out.Content, converted)
		}
	}
	return out, nil
}

func convertBlock(block anthropic.ContentBlockUnion) (blocks.ContentBlock, bool) {
	switch variant := block.AsAny().(type) {
	case anthropic.ThinkingBlock:
		return blocks.Reasoning{Text: variant.Thinking, Signature: variant.Signature}, true
	case anthropic.TextBlock:
		return blocks.Text{Text: variant.Text}, true
	case anthropic.ToolUseBlock:
		input := map[string]any{}
		if len(variant.Input) > 0 {
			_ = json.Unmarshal(variant.Input, &input)
		}
		return blocks.ToolInvocation{ID: variant.ID, Name: variant.Name, Input: input}, true
	default:
		return nil, false
	}
}

func buildMessages(history []blocks.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, msg := range history {
		parts := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
		for _, b := range msg.Content {
			switch v := b.(type) {
			case blocks.Reasoning:
				parts = append(parts, anthropic.ContentBlockParamUnion{
					OfThinking: &anthropic.ThinkingBlockParam{Thinking: v.Text, Signature: v.Signature},
				})
			case blocks.Text:
				parts = append(parts, anthropic.NewTextBlock(v.Text))
			case blocks.ToolInvocation:
				parts = append(parts, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{ID: v.ID, Name: v.Name, Input: v.Input},
				})
			case blocks.ToolResult:
				parts = append(parts, anthropic.NewToolResultBlock(v.ToolUseID, v.Content, false))
			}
		}
		if len(parts) == 0 {
			continue
		}
		if msg.Role == blocks.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(parts...))
		} else {
			out = append(out, anthropic.NewUserMessage(parts...))
		}
	}
	return out
}

func buildTools(defs []ToolDef) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for i, def := range defs {
		var schema map[string]any
		if err := json.Unmarshal([]byte(def.Schema), &schema); err != nil || schema == nil {
			schema = map[string]any{"type": "object"}
		}
		var required []string
		if rawRequired, ok := schema["required"].([]any); ok {
			for _, item := range rawRequired {
				if s, ok := item.(string); ok {
					required = append(required, s)
				}
			}
		}
		param := anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: schema["properties"],
				Required:   required,
			},
		}
		if i == len(defs)-1 {
			// Tool schemas rarely change; caching up to the last one
			// covers the whole block.
			param.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}
