// Package slackws lets the model query and act on the Slack workspace:
// listing channels, looking up people, and sending messages outside the
// current thread.
package slackws

import (
	"context"
	"fmt"
	"strings"

	"github.com/quailyquaily/threadmorph/internal/slackapi"
)

// Workspace is the slice of the Slack client the tool needs.
type Workspace interface {
	ListChannels(ctx context.Context, limit int) ([]slackapi.Channel, error)
	ChannelInfo(ctx context.Context, channelID string) (slackapi.Channel, error)
	UserInfo(ctx context.Context, userID string) (slackapi.User, error)
	LookupUserByEmail(ctx context.Context, email string) (slackapi.User, error)
	ListUsers(ctx context.Context, limit int) ([]slackapi.User, error)
	OpenConversation(ctx context.Context, userID string) (string, error)
	PostMessage(ctx context.Context, channelID, text string, opts slackapi.PostOptions) (string, error)
}

type Tool struct {
	workspace Workspace
}

func New(workspace Workspace) *Tool {
	return &Tool{workspace: workspace}
}

func (t *Tool) Name() string { return "slack" }

func (t *Tool) Description() string {
	return "Interact with the Slack workspace - list channels, send messages, lookup users"
}

func (t *Tool) ParameterSchema() string {
	return `{
  "type": "object",
  "properties": {
    "operation": {
      "type": "string",
      "enum": ["list_channels", "send_message", "lookup_user", "get_channel_info", "get_user_info"],
      "description": "The Slack operation to perform"
    },
    "params": {
      "type": "object",
      "description": "Parameters specific to each operation",
      "properties": {
        "pattern": { "type": "string", "description": "Filter pattern (for list_channels)" },
        "channel": { "type": "string", "description": "Channel name or ID (for send_message)" },
        "user": { "type": "string", "description": "User email or ID (for send_message)" },
        "text": { "type": "string", "description": "Message text (for send_message)" },
        "thread_ts": { "type": "string", "description": "Thread timestamp for replies (for send_message)" },
        "channel_id": { "type": "string", "description": "Channel ID (for get_channel_info)" },
        "user_id": { "type": "string", "description": "User ID (for get_user_info)" },
        "email": { "type": "string", "description": "User email (for lookup_user)" },
        "name": { "type": "string", "description": "User name (for lookup_user)" }
      }
    }
  },
  "required": ["operation"]
}`
}

func (t *Tool) Execute(ctx context.Context, params map[string]any) (string, error) {
	operation, _ := params["operation"].(string)
	opParams, _ := params["params"].(map[string]any)
	if opParams == nil {
		opParams = map[string]any{}
	}

	switch operation {
	case "list_channels":
		return t.listChannels(ctx, opParams)
	case "get_channel_info":
		return t.channelInfo(ctx, opParams)
	case "send_message":
		return t.sendMessage(ctx, opParams)
	case "lookup_user":
		return t.lookupUser(ctx, opParams)
	case "get_user_info":
		return t.userInfo(ctx, opParams)
	default:
		return "", fmt.Errorf("unknown operation: %s", operation)
	}
}

func (t *Tool) listChannels(ctx context.Context, params map[string]any) (string, error) {
	pattern := strings.ToLower(stringParam(params, "pattern"))

	channels, err := t.workspace.ListChannels(ctx, 1000)
	if err != nil {
		return "", err
	}

	var lines []string
	for _, ch := range channels {
		if pattern != "" && !strings.Contains(strings.ToLower(ch.Name), pattern) {
			continue
		}
		line := fmt.Sprintf("#%s (%s) - %d members", ch.Name, ch.ID, ch.NumMembers)
		if topic := strings.TrimSpace(ch.Topic.Value); topic != "" {
			line += " - " + topic
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return "No channels matched.", nil
	}
	return fmt.Sprintf("%d channels:\n%s", len(lines), strings.Join(lines, "\n")), nil
}

func (t *Tool) channelInfo(ctx context.Context, params map[string]any) (string, error) {
	channelID := stringParam(params, "channel_id")
	if channelID == "" {
		return "", fmt.Errorf("channel_id is required")
	}
	ch, err := t.workspace.ChannelInfo(ctx, channelID)
	if err != nil {
		return "", err
	}
	return formatChannel(ch), nil
}

func (t *Tool) sendMessage(ctx context.Context, params map[string]any) (string, error) {
	text := stringParam(params, "text")
	if text == "" {
		return "", fmt.Errorf("text is required")
	}
	channel := stringParam(params, "channel")
	user := stringParam(params, "user")
	if channel == "" && user == "" {
		return "", fmt.Errorf("either channel or user must be provided")
	}

	target := ""
	switch {
	case channel != "":
		resolved, err := t.resolveChannel(ctx, channel)
		if err != nil {
			return "", err
		}
		target = resolved
	default:
		userID, err := t.resolveUser(ctx, user)
		if err != nil {
			return "", err
		}
		// Direct messages go through a DM conversation, not the user id.
		dm, err := t.workspace.OpenConversation(ctx, userID)
		if err != nil {
			return "", err
		}
		target = dm
	}

	ts, err := t.workspace.PostMessage(ctx, target, text, slackapi.PostOptions{
		ThreadTS: stringParam(params, "thread_ts"),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Message sent to %s (ts %s)", target, ts), nil
}

func (t *Tool) resolveChannel(ctx context.Context, channel string) (string, error) {
	channel = strings.TrimPrefix(channel, "#")
	if strings.HasPrefix(channel, "C") && strings.ToUpper(channel) == channel {
		return channel, nil
	}
	channels, err := t.workspace.ListChannels(ctx, 1000)
	if err != nil {
		return "", err
	}
	for _, ch := range channels {
		if ch.Name == channel || ch.ID == channel {
			return ch.ID, nil
		}
	}
	return "", fmt.Errorf("channel %q not found", channel)
}

func (t *Tool) resolveUser(ctx context.Context, user string) (string, error) {
	if strings.Contains(user, "@") {
		u, err := t.workspace.LookupUserByEmail(ctx, user)
		if err != nil {
			return "", err
		}
		return u.ID, nil
	}
	if strings.HasPrefix(user, "U") && strings.ToUpper(user) == user {
		return user, nil
	}
	return t.findUserByName(ctx, user)
}

func (t *Tool) lookupUser(ctx context.Context, params map[string]any) (string, error) {
	email := stringParam(params, "email")
	name := stringParam(params, "name")
	if email == "" && name == "" {
		return "", fmt.Errorf("either email or name must be provided")
	}

	if email != "" {
		u, err := t.workspace.LookupUserByEmail(ctx, email)
		if err != nil {
			return "", err
		}
		return formatUser(u), nil
	}

	id, err := t.findUserByName(ctx, name)
	if err != nil {
		return "", err
	}
	u, err := t.workspace.UserInfo(ctx, id)
	if err != nil {
		return "", err
	}
	return formatUser(u), nil
}

func (t *Tool) findUserByName(ctx context.Context, name string) (string, error) {
	lowered := strings.ToLower(name)
	users, err := t.workspace.ListUsers(ctx, 1000)
	if err != nil {
		return "", err
	}
	for _, u := range users {
		if u.Deleted || u.IsBot {
			continue
		}
		if strings.ToLower(u.RealName) == lowered ||
			strings.ToLower(u.Name) == lowered ||
			strings.ToLower(u.Profile.DisplayName) == lowered {
			return u.ID, nil
		}
	}
	return "", fmt.Errorf("user %q not found", name)
}

func (t *Tool) userInfo(ctx context.Context, params map[string]any) (string, error) {
	userID := stringParam(params, "user_id")
	if userID == "" {
		return "", fmt.Errorf("user_id is required")
	}
	u, err := t.workspace.UserInfo(ctx, userID)
	if err != nil {
		return "", err
	}
	return formatUser(u), nil
}

func formatChannel(ch slackapi.Channel) string {
	visibility := "public"
	if ch.IsPrivate {
		visibility = "private"
	}
	out := fmt.Sprintf("#%s (%s)\nvisibility: %s\nmembers: %d", ch.Name, ch.ID, visibility, ch.NumMembers)
	if topic := strings.TrimSpace(ch.Topic.Value); topic != "" {
		out += "\ntopic: " + topic
	}
	return out
}

func formatUser(u slackapi.User) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%s)", u.RealName, u.ID)
	if u.Profile.DisplayName != "" {
		fmt.Fprintf(&sb, "\ndisplay name: %s", u.Profile.DisplayName)
	}
	if u.Profile.Email != "" {
		fmt.Fprintf(&sb, "\nemail: %s", u.Profile.Email)
	}
	if u.TZ != "" {
		fmt.Fprintf(&sb, "\ntimezone: %s", u.TZ)
	}
	if u.IsAdmin {
		sb.WriteString("\nadmin: yes")
	}
	return sb.String()
}

func stringParam(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return strings.TrimSpace(v)
}
