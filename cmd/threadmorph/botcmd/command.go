// Package botcmd runs the Slack Socket Mode assistant.
package botcmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/quailyquaily/threadmorph/internal/claude"
	"github.com/quailyquaily/threadmorph/internal/configutil"
	"github.com/quailyquaily/threadmorph/internal/convo"
	"github.com/quailyquaily/threadmorph/internal/linear"
	"github.com/quailyquaily/threadmorph/internal/logutil"
	"github.com/quailyquaily/threadmorph/internal/msgcodec"
	"github.com/quailyquaily/threadmorph/internal/prompt"
	"github.com/quailyquaily/threadmorph/internal/slackapi"
	"github.com/quailyquaily/threadmorph/tools"
	"github.com/quailyquaily/threadmorph/tools/bash"
	"github.com/quailyquaily/threadmorph/tools/linearq"
	"github.com/quailyquaily/threadmorph/tools/slackws"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	modeActionBeast  = "enable_beast_mode"
	modeActionNormal = "enable_normal_mode"

	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Run the assistant bot with Socket Mode",
		RunE:  runBot,
	}

	cmd.Flags().String("slack-bot-token", "", "Slack bot token (xoxb-...)")
	cmd.Flags().String("slack-app-token", "", "Slack app-level token (xapp-...)")
	cmd.Flags().String("anthropic-api-key", "", "Anthropic API key")
	cmd.Flags().String("anthropic-base-url", "", "override the Anthropic API endpoint")
	cmd.Flags().String("linear-api-key", "", "Linear API key; enables the linear tool")
	cmd.Flags().String("prompt-path", "prompts/system.md", "path to the system prompt file")
	cmd.Flags().String("team-path", "", "path to the team roster YAML file")
	cmd.Flags().Int("max-tool-rounds", 0, "cap on tool rounds per response")
	cmd.Flags().Duration("bash-timeout", 0, "timeout for bash tool commands")

	return cmd
}

func runBot(cmd *cobra.Command, _ []string) error {
	botToken := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-bot-token", "slack.bot_token"))
	if botToken == "" {
		return fmt.Errorf("missing slack.bot_token (set via --slack-bot-token or THREADMORPH_SLACK_BOT_TOKEN)")
	}
	appToken := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-app-token", "slack.app_token"))
	if appToken == "" {
		return fmt.Errorf("missing slack.app_token (set via --slack-app-token or THREADMORPH_SLACK_APP_TOKEN)")
	}
	anthropicKey := strings.TrimSpace(configutil.FlagOrViperString(cmd, "anthropic-api-key", "anthropic.api_key"))
	if anthropicKey == "" {
		return fmt.Errorf("missing anthropic.api_key (set via --anthropic-api-key or THREADMORPH_ANTHROPIC_API_KEY)")
	}

	logger, err := logutil.LoggerFromViper()
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	api := slackapi.New(httpClient, "https://slack.com/api", botToken, appToken)

	auth, err := api.AuthTest(ctx)
	if err != nil {
		return fmt.Errorf("slack auth.test: %w", err)
	}
	botUserID := strings.TrimSpace(auth.UserID)
	if botUserID == "" {
		return fmt.Errorf("slack auth.test returned empty user_id")
	}
	logger.Info("slack_authenticated", "bot_user_id", botUserID, "team", auth.Team)

	var team []prompt.TeamMember
	if teamPath := strings.TrimSpace(configutil.FlagOrViperString(cmd, "team-path", "prompt.team_path")); teamPath != "" {
		team, err = prompt.LoadTeam(teamPath)
		if err != nil {
			return fmt.Errorf("load team roster: %w", err)
		}
	}
	promptPath := strings.TrimSpace(configutil.FlagOrViperString(cmd, "prompt-path", "prompt.path"))
	builder := prompt.New(promptPath, team)

	registry := tools.NewRegistry()
	registry.Register(bash.New(configutil.FlagOrViperDuration(cmd, "bash-timeout", "tools.bash_timeout")))
	registry.Register(slackws.New(api))
	if linearKey := strings.TrimSpace(configutil.FlagOrViperString(cmd, "linear-api-key", "linear.api_key")); linearKey != "" {
		registry.Register(linearq.New(linear.New(httpClient, "", linearKey)))
	} else {
		logger.Info("linear_tool_disabled", "reason", "no api key configured")
	}

	engine := claude.NewAnthropicEngine(anthropicKey, strings.TrimSpace(configutil.FlagOrViperString(cmd, "anthropic-base-url", "anthropic.base_url")))
	runner := claude.NewRunner(engine, api, registry, logger, configutil.FlagOrViperInt(cmd, "max-tool-rounds", "tools.max_rounds"))

	manager := convo.NewManager(api, runner, builder.Build, logger, convo.Config{
		DefaultModel: claude.DefaultModel,
	})
	manager.Start(ctx)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		if err := manager.Stop(stopCtx); err != nil {
			logger.Warn("manager_stop_incomplete", "error", err)
		}
	}()

	bot := &botRuntime{
		api:       api,
		manager:   manager,
		logger:    logger,
		botUserID: botUserID,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return bot.socketLoop(groupCtx)
	})

	err = group.Wait()
	if ctx.Err() != nil {
		logger.Info("shutdown_requested")
		return nil
	}
	return err
}

type botRuntime struct {
	api       *slackapi.Client
	manager   *convo.Manager
	logger    *slog.Logger
	botUserID string
}

// socketLoop keeps a Socket Mode connection alive, reconnecting with
// exponential backoff when the connection drops.
func (b *botRuntime) socketLoop(ctx context.Context) error {
	delay := reconnectBaseDelay
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := b.api.ConnectSocket(ctx)
		if err != nil {
			b.logger.Warn("socket_connect_failed", "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = min(delay*2, reconnectMaxDelay)
			continue
		}
		delay = reconnectBaseDelay
		b.logger.Info("socket_connected")

		consumeErr := slackapi.ConsumeSocket(ctx, conn, b.handleEnvelope)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.logger.Warn("socket_disconnected", "error", consumeErr)
	}
}

func (b *botRuntime) handleEnvelope(envelope slackapi.SocketEnvelope) error {
	ctx := context.Background()

	if started, ok, err := slackapi.ParseThreadStarted(envelope); err != nil {
		b.logger.Warn("thread_started_parse_failed", "error", err)
	} else if ok {
		b.greet(ctx, started)
		return nil
	}

	if message, ok, err := slackapi.ParseThreadMessage(envelope, b.botUserID); err != nil {
		b.logger.Warn("thread_message_parse_failed", "error", err)
	} else if ok {
		if err := b.manager.Enqueue(message.ChannelID, message.ThreadTS); err != nil {
			b.logger.Warn("enqueue_failed", "channel", message.ChannelID, "thread", message.ThreadTS, "error", err)
			_, _ = b.api.PostMessage(ctx, message.ChannelID,
				":warning: I'm busy with earlier messages in this thread, please retry in a moment.",
				slackapi.PostOptions{ThreadTS: message.ThreadTS})
		}
		return nil
	}

	if actions, ok, err := slackapi.ParseBlockActions(envelope); err != nil {
		b.logger.Warn("block_actions_parse_failed", "error", err)
	} else if ok {
		for _, action := range actions {
			b.handleAction(ctx, action)
		}
	}
	return nil
}

func (b *botRuntime) greet(ctx context.Context, started slackapi.ThreadStartedEvent) {
	_, err := b.api.PostMessage(ctx, started.ChannelID, msgcodec.GreetingText, slackapi.PostOptions{
		ThreadTS: started.ThreadTS,
		Blocks:   greetingBlocks(false),
	})
	if err != nil {
		b.logger.Warn("greeting_failed", "channel", started.ChannelID, "error", err)
	}
}

func (b *botRuntime) handleAction(ctx context.Context, action slackapi.BlockActionEvent) {
	switch action.ActionID {
	case convo.StopActionID:
		channelID, threadTS, ok := strings.Cut(action.Value, ":")
		if !ok {
			b.logger.Warn("stop_action_invalid_value", "value", action.Value)
			return
		}
		if !b.manager.Cancel(ctx, channelID, threadTS, action.UserID) {
			_, _ = b.api.PostMessage(ctx, channelID,
				":information_source: No active request to stop.",
				slackapi.PostOptions{ThreadTS: threadTS})
		}
		b.logger.Info("emergency_stop", "user", action.UserID, "channel", channelID, "thread", threadTS)

	case modeActionBeast:
		b.switchMode(ctx, action, claude.BeastModel, true,
			":zap: *Beast Mode Activated!* :zap:\nUsing Claude Opus 4 for maximum intelligence.")

	case modeActionNormal:
		b.switchMode(ctx, action, claude.DefaultModel, false,
			":white_check_mark: Switched to normal mode (Claude Sonnet 4).")

	default:
		b.logger.Debug("action_ignored", "action_id", action.ActionID)
	}
}

func (b *botRuntime) switchMode(ctx context.Context, action slackapi.BlockActionEvent, model string, beast bool, notice string) {
	if action.ChannelID == "" || action.ThreadTS == "" {
		b.logger.Warn("mode_action_missing_target", "action_id", action.ActionID)
		return
	}
	b.manager.SetModel(action.ChannelID, action.ThreadTS, model)

	if action.MessageTS != "" {
		err := b.api.UpdateMessage(ctx, action.ChannelID, action.MessageTS, msgcodec.GreetingText, slackapi.PostOptions{
			Blocks: greetingBlocks(beast),
		})
		if err != nil {
			b.logger.Warn("mode_message_update_failed", "error", err)
		}
	}
	_, _ = b.api.PostMessage(ctx, action.ChannelID, notice, slackapi.PostOptions{ThreadTS: action.ThreadTS})
	b.logger.Info("model_selected", "channel", action.ChannelID, "thread", action.ThreadTS, "model", model)
}

// greetingBlocks renders the greeting with the mode toggle. The active
// mode's button carries the emphasis style and the context line names it.
func greetingBlocks(beast bool) []slackapi.Block {
	beastStyle, normalStyle := "", "primary"
	current := "Currently using: *Normal Mode* (Claude Sonnet 4)"
	if beast {
		beastStyle, normalStyle = "danger", ""
		current = "Currently using: *:zap: Beast Mode* (Claude Opus 4)"
	}
	return []slackapi.Block{
		{
			Type: "section",
			Text: &slackapi.TextObject{Type: "mrkdwn", Text: msgcodec.GreetingText},
		},
		{
			Type: "actions",
			Elements: []any{
				slackapi.BlockElement{
					Type:     "button",
					Text:     &slackapi.TextObject{Type: "plain_text", Text: ":zap: Beast Mode (Opus 4)", Emoji: true},
					Value:    "beast_mode",
					ActionID: modeActionBeast,
					Style:    beastStyle,
				},
				slackapi.BlockElement{
					Type:     "button",
					Text:     &slackapi.TextObject{Type: "plain_text", Text: ":white_check_mark: Normal Mode (Sonnet 4)", Emoji: true},
					Value:    "normal_mode",
					ActionID: modeActionNormal,
					Style:    normalStyle,
				},
			},
		},
		{
			Type: "context",
			Elements: []any{
				slackapi.TextObject{Type: "mrkdwn", Text: current},
			},
		},
	}
}
