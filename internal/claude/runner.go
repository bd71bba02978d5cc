package claude

import (
	"context"
	"log/slog"
	"time"

	"github.com/quailyquaily/threadmorph/internal/blocks"
	"github.com/quailyquaily/threadmorph/internal/mrkdwn"
	"github.com/quailyquaily/threadmorph/internal/msgcodec"
	"github.com/quailyquaily/threadmorph/internal/slackapi"
	"github.com/quailyquaily/threadmorph/tools"
)

const (
	defaultMaxToolRounds = 10

	fallbackText   = "I'm distracted."
	truncationText = ":warning: Tool round limit reached, stopping here. Ask me to continue if you want more."
)

// Transport is the slice of the Slack surface the runner pushes output
// through.
type Transport interface {
	PostMessage(ctx context.Context, channelID, text string, opts slackapi.PostOptions) (string, error)
	SetStatus(ctx context.Context, channelID, threadTS, status string) error
}

// Runner executes one full turn cycle: it calls the engine, renders each
// output block into the thread as it completes, executes requested tools,
// and loops with the results until the model stops or the round cap hits.
type Runner struct {
	engine    Engine
	transport Transport
	registry  *tools.Registry
	logger    *slog.Logger
	maxRounds int
}

func NewRunner(engine Engine, transport Transport, registry *tools.Registry, logger *slog.Logger, maxRounds int) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRounds <= 0 {
		maxRounds = defaultMaxToolRounds
	}
	return &Runner{
		engine:    engine,
		transport: transport,
		registry:  registry,
		logger:    logger,
		maxRounds: maxRounds,
	}
}

// Respond runs the turn cycle for one thread. All model output lands in
// the thread as a side effect; the returned error is nil once the model
// finishes, including the truncated case.
func (r *Runner) Respond(ctx context.Context, channelID, threadTS, model, system string, history []blocks.Message) error {
	messages := append([]blocks.Message(nil), history...)
	defs := r.toolDefs()

	for round := 1; ; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		_ = r.transport.SetStatus(ctx, channelID, threadTS, "is thinking...")

		var results []blocks.ToolResult
		onBlock := func(b blocks.ContentBlock) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			switch v := b.(type) {
			case blocks.Reasoning:
				body, att := msgcodec.EncodeReasoning(v, time.Now())
				_, err := r.transport.PostMessage(ctx, channelID, body, slackapi.PostOptions{
					ThreadTS:    threadTS,
					Attachments: []slackapi.Attachment{att},
				})
				return err
			case blocks.Text:
				_, err := r.transport.PostMessage(ctx, channelID, mrkdwn.ToSlack(v.Text), slackapi.PostOptions{
					ThreadTS: threadTS,
				})
				return err
			case blocks.ToolInvocation:
				result, err := r.executeTool(ctx, channelID, threadTS, v)
				if err != nil {
					return err
				}
				results = append(results, result)
				return nil
			}
			return nil
		}

		resp, err := r.engine.Stream(ctx, Request{
			Model:    model,
			System:   system,
			Messages: messages,
			Tools:    defs,
		}, onBlock)
		if err != nil {
			return err
		}

		if len(resp.Content) == 0 {
			r.logger.Warn("engine_empty_response", "channel_id", channelID, "thread_ts", threadTS)
			_, err := r.transport.PostMessage(ctx, channelID, fallbackText, slackapi.PostOptions{ThreadTS: threadTS})
			return err
		}
		if len(results) == 0 {
			return nil
		}
		if round >= r.maxRounds {
			r.logger.Warn("tool_round_cap_reached", "channel_id", channelID, "thread_ts", threadTS, "rounds", round)
			_, err := r.transport.PostMessage(ctx, channelID, truncationText, slackapi.PostOptions{ThreadTS: threadTS})
			return err
		}

		messages = append(messages,
			blocks.Assistant(blocks.NormalizeOrder(resp.Content)),
			blocks.UserToolResults(results),
		)
		_ = r.transport.SetStatus(ctx, channelID, threadTS, "processing tool results...")
	}
}

func (r *Runner) executeTool(ctx context.Context, channelID, threadTS string, inv blocks.ToolInvocation) (blocks.ToolResult, error) {
	_ = r.transport.SetStatus(ctx, channelID, threadTS, "using "+inv.Name+"...")

	started := time.Now()
	output, err := r.registry.Execute(ctx, inv.Name, inv.Input)
	if err != nil {
		if ctx.Err() != nil {
			return blocks.ToolResult{}, ctx.Err()
		}
		// Tool failures go back to the model as text so it can react.
		output = "Error: " + err.Error()
	}
	r.logger.Info("tool_executed",
		"tool", inv.Name,
		"tool_use_id", inv.ID,
		"duration_ms", time.Since(started).Milliseconds(),
		"failed", err != nil,
	)

	body, att := msgcodec.EncodeToolUse(inv, mrkdwn.ToSlack(output), time.Now())
	if _, postErr := r.transport.PostMessage(ctx, channelID, body, slackapi.PostOptions{
		ThreadTS:    threadTS,
		Attachments: []slackapi.Attachment{att},
	}); postErr != nil {
		return blocks.ToolResult{}, postErr
	}
	return blocks.ToolResult{ToolUseID: inv.ID, Content: output}, nil
}

func (r *Runner) toolDefs() []ToolDef {
	if r.registry == nil {
		return nil
	}
	list := r.registry.List()
	defs := make([]ToolDef, 0, len(list))
	for _, t := range list {
		defs = append(defs, ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.ParameterSchema(),
		})
	}
	return defs
}
