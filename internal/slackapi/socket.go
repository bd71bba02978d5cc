package slackapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
)

type openConnectionResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	URL   string `json:"url,omitempty"`
}

func (c *Client) openSocketURL(ctx context.Context) (string, error) {
	if c == nil {
		return "", fmt.Errorf("slack api is not initialized")
	}
	body, status, _, err := c.postAuthJSON(ctx, c.appToken, "/apps.connections.open", nil)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("slack apps.connections.open http %d", status)
	}
	var out openConnectionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if !out.OK {
		return "", apiError("apps.connections.open", out.Error)
	}
	wsURL := strings.TrimSpace(out.URL)
	if wsURL == "" {
		return "", fmt.Errorf("slack apps.connections.open returned empty url")
	}
	return wsURL, nil
}

// ConnectSocket opens a Socket Mode websocket connection.
func (c *Client) ConnectSocket(ctx context.Context) (*websocket.Conn, error) {
	wsURL, err := c.openSocketURL(ctx)
	if err != nil {
		return nil, err
	}
	dialer := *websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// SocketEnvelope is one Socket Mode frame.
type SocketEnvelope struct {
	EnvelopeID string          `json:"envelope_id,omitempty"`
	Type       string          `json:"type,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// ConsumeSocket reads envelopes until the connection or context dies,
// acknowledging each envelope before handing it to onEnvelope.
func ConsumeSocket(ctx context.Context, conn *websocket.Conn, onEnvelope func(envelope SocketEnvelope) error) error {
	if conn == nil {
		return fmt.Errorf("slack websocket connection is nil")
	}
	for {
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var envelope SocketEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			continue
		}
		if strings.TrimSpace(envelope.EnvelopeID) != "" {
			if err := conn.WriteJSON(map[string]string{"envelope_id": envelope.EnvelopeID}); err != nil {
				return err
			}
		}
		if onEnvelope == nil {
			continue
		}
		if err := onEnvelope(envelope); err != nil {
			return err
		}
	}
}

type eventsAPIPayload struct {
	TeamID string          `json:"team_id,omitempty"`
	Event  json.RawMessage `json:"event,omitempty"`
}

type innerEvent struct {
	Type            string `json:"type,omitempty"`
	Subtype         string `json:"subtype,omitempty"`
	User            string `json:"user,omitempty"`
	Text            string `json:"text,omitempty"`
	Channel         string `json:"channel,omitempty"`
	ChannelType     string `json:"channel_type,omitempty"`
	TS              string `json:"ts,omitempty"`
	ThreadTS        string `json:"thread_ts,omitempty"`
	BotID           string `json:"bot_id,omitempty"`
	AssistantThread struct {
		ChannelID string `json:"channel_id,omitempty"`
		ThreadTS  string `json:"thread_ts,omitempty"`
	} `json:"assistant_thread,omitempty"`
}

// ThreadStartedEvent fires when a user opens a new assistant thread.
type ThreadStartedEvent struct {
	ChannelID string
	ThreadTS  string
}

// ThreadMessageEvent fires for a user message inside an assistant thread.
type ThreadMessageEvent struct {
	ChannelID string
	ThreadTS  string
	UserID    string
	Text      string
	TS        string
}

// BlockActionEvent fires when an interactive control is activated.
type BlockActionEvent struct {
	ActionID  string
	Value     string
	UserID    string
	ChannelID string
	MessageTS string
	ThreadTS  string
}

type blockActionsPayload struct {
	Type string `json:"type"`
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	Channel struct {
		ID string `json:"id"`
	} `json:"channel"`
	Message struct {
		TS       string `json:"ts"`
		ThreadTS string `json:"thread_ts"`
	} `json:"message"`
	Actions []struct {
		ActionID string `json:"action_id"`
		Value    string `json:"value"`
	} `json:"actions"`
}

// ParseThreadStarted extracts an assistant_thread_started event, if the
// envelope carries one.
func ParseThreadStarted(envelope SocketEnvelope) (ThreadStartedEvent, bool, error) {
	event, ok, err := decodeInnerEvent(envelope)
	if err != nil || !ok {
		return ThreadStartedEvent{}, false, err
	}
	if event.Type != "assistant_thread_started" {
		return ThreadStartedEvent{}, false, nil
	}
	channelID := strings.TrimSpace(event.AssistantThread.ChannelID)
	threadTS := strings.TrimSpace(event.AssistantThread.ThreadTS)
	if channelID == "" || threadTS == "" {
		return ThreadStartedEvent{}, false, fmt.Errorf("assistant_thread_started missing channel or thread")
	}
	return ThreadStartedEvent{ChannelID: channelID, ThreadTS: threadTS}, true, nil
}

// ParseThreadMessage extracts a user message posted in an assistant thread.
// Bot messages, edits and other subtypes are skipped.
func ParseThreadMessage(envelope SocketEnvelope, botUserID string) (ThreadMessageEvent, bool, error) {
	event, ok, err := decodeInnerEvent(envelope)
	if err != nil || !ok {
		return ThreadMessageEvent{}, false, err
	}
	if event.Type != "message" || strings.TrimSpace(event.Subtype) != "" {
		return ThreadMessageEvent{}, false, nil
	}
	if strings.TrimSpace(event.BotID) != "" {
		return ThreadMessageEvent{}, false, nil
	}
	userID := strings.TrimSpace(event.User)
	if userID == "" || userID == strings.TrimSpace(botUserID) {
		return ThreadMessageEvent{}, false, nil
	}
	if strings.TrimSpace(event.ChannelType) != "im" {
		return ThreadMessageEvent{}, false, nil
	}
	threadTS := strings.TrimSpace(event.ThreadTS)
	if threadTS == "" {
		threadTS = strings.TrimSpace(event.TS)
	}
	return ThreadMessageEvent{
		ChannelID: strings.TrimSpace(event.Channel),
		ThreadTS:  threadTS,
		UserID:    userID,
		Text:      event.Text,
		TS:        strings.TrimSpace(event.TS),
	}, true, nil
}

// ParseBlockActions extracts interactive button activations.
func ParseBlockActions(envelope SocketEnvelope) ([]BlockActionEvent, bool, error) {
	if strings.TrimSpace(envelope.Type) != "interactive" || len(envelope.Payload) == 0 {
		return nil, false, nil
	}
	var payload blockActionsPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return nil, false, err
	}
	if payload.Type != "block_actions" || len(payload.Actions) == 0 {
		return nil, false, nil
	}
	threadTS := strings.TrimSpace(payload.Message.ThreadTS)
	if threadTS == "" {
		threadTS = strings.TrimSpace(payload.Message.TS)
	}
	out := make([]BlockActionEvent, 0, len(payload.Actions))
	for _, action := range payload.Actions {
		out = append(out, BlockActionEvent{
			ActionID:  strings.TrimSpace(action.ActionID),
			Value:     action.Value,
			UserID:    strings.TrimSpace(payload.User.ID),
			ChannelID: strings.TrimSpace(payload.Channel.ID),
			MessageTS: strings.TrimSpace(payload.Message.TS),
			ThreadTS:  threadTS,
		})
	}
	return out, true, nil
}

func decodeInnerEvent(envelope SocketEnvelope) (innerEvent, bool, error) {
	if strings.TrimSpace(envelope.Type) != "events_api" || len(envelope.Payload) == 0 {
		return innerEvent{}, false, nil
	}
	var payload eventsAPIPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return innerEvent{}, false, err
	}
	if len(payload.Event) == 0 {
		return innerEvent{}, false, nil
	}
	var event innerEvent
	if err := json.Unmarshal(payload.Event, &event); err != nil {
		return innerEvent{}, false, err
	}
	return event, true, nil
}
