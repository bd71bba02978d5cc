// Package slackapi is a minimal Slack Web API and Socket Mode client,
// covering exactly the surface the assistant needs.
package slackapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to the Slack Web API with the bot token and opens Socket
// Mode connections with the app-level token.
type Client struct {
	http     *http.Client
	baseURL  string
	botToken string
	appToken string
}

func New(httpClient *http.Client, baseURL, botToken, appToken string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL = strings.TrimSpace(strings.TrimRight(baseURL, "/"))
	if baseURL == "" {
		baseURL = "https://slack.com/api"
	}
	return &Client{
		http:     httpClient,
		baseURL:  baseURL,
		botToken: strings.TrimSpace(botToken),
		appToken: strings.TrimSpace(appToken),
	}
}

type AuthTestResult struct {
	TeamID string
	UserID string
	BotID  string
	Team   string
	User   string
}

type authTestResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	TeamID string `json:"team_id,omitempty"`
	UserID string `json:"user_id,omitempty"`
	BotID  string `json:"bot_id,omitempty"`
	Team   string `json:"team,omitempty"`
	User   string `json:"user,omitempty"`
}

func (c *Client) AuthTest(ctx context.Context) (AuthTestResult, error) {
	if c == nil {
		return AuthTestResult{}, fmt.Errorf("slack api is not initialized")
	}
	body, status, _, err := c.postAuthJSON(ctx, c.botToken, "/auth.test", nil)
	if err != nil {
		return AuthTestResult{}, err
	}
	if status < 200 || status >= 300 {
		return AuthTestResult{}, fmt.Errorf("slack auth.test http %d", status)
	}
	var out authTestResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return AuthTestResult{}, err
	}
	if !out.OK {
		return AuthTestResult{}, apiError("auth.test", out.Error)
	}
	return AuthTestResult{
		TeamID: strings.TrimSpace(out.TeamID),
		UserID: strings.TrimSpace(out.UserID),
		BotID:  strings.TrimSpace(out.BotID),
		Team:   strings.TrimSpace(out.Team),
		User:   strings.TrimSpace(out.User),
	}, nil
}

type postMessageRequest struct {
	Channel     string       `json:"channel"`
	Text        string       `json:"text,omitempty"`
	ThreadTS    string       `json:"thread_ts,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Blocks      []Block      `json:"blocks,omitempty"`
}

type postMessageResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	TS    string `json:"ts,omitempty"`
}

// PostMessage posts a message and returns its timestamp ref.
func (c *Client) PostMessage(ctx context.Context, channelID, text string, opts PostOptions) (string, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return "", fmt.Errorf("channel_id is required")
	}
	if strings.TrimSpace(text) == "" && len(opts.Blocks) == 0 && len(opts.Attachments) == 0 {
		return "", fmt.Errorf("message content is required")
	}
	req := postMessageRequest{
		Channel:     channelID,
		Text:        text,
		ThreadTS:    strings.TrimSpace(opts.ThreadTS),
		Attachments: opts.Attachments,
		Blocks:      opts.Blocks,
	}

	const maxAttempts = 3
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		body, status, headers, err := c.postAuthJSON(ctx, c.botToken, "/chat.postMessage", req)
		if err != nil {
			lastErr = err
		} else {
			var out postMessageResponse
			if parseErr := json.Unmarshal(body, &out); parseErr != nil {
				lastErr = parseErr
			} else if status < 200 || status >= 300 {
				lastErr = fmt.Errorf("slack chat.postMessage http %d", status)
			} else if out.OK {
				return strings.TrimSpace(out.TS), nil
			} else {
				lastErr = apiError("chat.postMessage", out.Error)
			}
		}

		if attempt >= maxAttempts {
			break
		}
		wait, retryable := retryDelay(status, headers, attempt)
		if !retryable {
			break
		}
		if err := sleepWithContext(ctx, wait); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

type updateMessageRequest struct {
	Channel     string       `json:"channel"`
	TS          string       `json:"ts"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Blocks      []Block      `json:"blocks,omitempty"`
}

// UpdateMessage rewrites an existing message in place.
func (c *Client) UpdateMessage(ctx context.Context, channelID, ts, text string, opts PostOptions) error {
	channelID = strings.TrimSpace(channelID)
	ts = strings.TrimSpace(ts)
	if channelID == "" || ts == "" {
		return fmt.Errorf("channel_id and ts are required")
	}
	body, status, _, err := c.postAuthJSON(ctx, c.botToken, "/chat.update", updateMessageRequest{
		Channel:     channelID,
		TS:          ts,
		Text:        text,
		Attachments: opts.Attachments,
		Blocks:      opts.Blocks,
	})
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("slack chat.update http %d", status)
	}
	var out postMessageResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return err
	}
	if !out.OK {
		return apiError("chat.update", out.Error)
	}
	return nil
}

// DeleteMessage removes a message.
func (c *Client) DeleteMessage(ctx context.Context, channelID, ts string) error {
	channelID = strings.TrimSpace(channelID)
	ts = strings.TrimSpace(ts)
	if channelID == "" || ts == "" {
		return fmt.Errorf("channel_id and ts are required")
	}
	body, status, _, err := c.postAuthJSON(ctx, c.botToken, "/chat.delete", map[string]string{
		"channel": channelID,
		"ts":      ts,
	})
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("slack chat.delete http %d", status)
	}
	var out postMessageResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return err
	}
	if !out.OK {
		return apiError("chat.delete", out.Error)
	}
	return nil
}

// SetStatus sets the assistant thread's ephemeral status indicator. An empty
// status clears it.
func (c *Client) SetStatus(ctx context.Context, channelID, threadTS, status string) error {
	channelID = strings.TrimSpace(channelID)
	threadTS = strings.TrimSpace(threadTS)
	if channelID == "" || threadTS == "" {
		return fmt.Errorf("channel_id and thread_ts are required")
	}
	body, httpStatus, _, err := c.postAuthJSON(ctx, c.botToken, "/assistant.threads.setStatus", map[string]string{
		"channel_id": channelID,
		"thread_ts":  threadTS,
		"status":     status,
	})
	if err != nil {
		return err
	}
	if httpStatus < 200 || httpStatus >= 300 {
		return fmt.Errorf("slack assistant.threads.setStatus http %d", httpStatus)
	}
	var out postMessageResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return err
	}
	if !out.OK {
		return apiError("assistant.threads.setStatus", out.Error)
	}
	return nil
}

type repliesResponse struct {
	OK               bool         `json:"ok"`
	Error            string       `json:"error,omitempty"`
	Messages         []RawMessage `json:"messages"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

// repliesPageLimit matches the page size the original deployment used; the
// pagination loop makes the value a latency knob, not a cap.
const repliesPageLimit = 10

// ConversationReplies fetches every message in a thread, following cursors
// until exhausted. The returned order is whatever the API produced; callers
// must sort by timestamp before treating it as chronological.
func (c *Client) ConversationReplies(ctx context.Context, channelID, threadTS string) ([]RawMessage, error) {
	channelID = strings.TrimSpace(channelID)
	threadTS = strings.TrimSpace(threadTS)
	if channelID == "" || threadTS == "" {
		return nil, fmt.Errorf("channel_id and thread_ts are required")
	}

	var all []RawMessage
	cursor := ""
	for {
		form := url.Values{}
		form.Set("channel", channelID)
		form.Set("ts", threadTS)
		form.Set("limit", strconv.Itoa(repliesPageLimit))
		if cursor != "" {
			form.Set("cursor", cursor)
		}
		body, status, _, err := c.getAuthForm(ctx, c.botToken, "/conversations.replies", form)
		if err != nil {
			return nil, err
		}
		if status < 200 || status >= 300 {
			return nil, fmt.Errorf("slack conversations.replies http %d", status)
		}
		var out repliesResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, err
		}
		if !out.OK {
			return nil, apiError("conversations.replies", out.Error)
		}
		all = append(all, out.Messages...)
		cursor = strings.TrimSpace(out.ResponseMetadata.NextCursor)
		if cursor == "" {
			return all, nil
		}
	}
}

func apiError(method, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		code = "unknown_error"
	}
	return fmt.Errorf("slack %s failed: %s", method, code)
}

func retryDelay(status int, headers http.Header, attempt int) (time.Duration, bool) {
	switch {
	case status == http.StatusTooManyRequests:
		retryAfter := strings.TrimSpace(headers.Get("Retry-After"))
		if retryAfter == "" {
			return 1 * time.Second, true
		}
		secs, err := strconv.Atoi(retryAfter)
		if err != nil || secs <= 0 {
			return 1 * time.Second, true
		}
		return time.Duration(secs) * time.Second, true
	case status >= 500 && status <= 599:
		switch attempt {
		case 1:
			return 300 * time.Millisecond, true
		case 2:
			return 1 * time.Second, true
		default:
			return 2 * time.Second, true
		}
	default:
		return 0, false
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) postAuthJSON(ctx context.Context, token, path string, payload any) ([]byte, int, http.Header, error) {
	if c == nil || c.http == nil {
		return nil, 0, nil, fmt.Errorf("slack api is not initialized")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, 0, nil, fmt.Errorf("slack token is required")
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) getAuthForm(ctx context.Context, token, path string, form url.Values) ([]byte, int, http.Header, error) {
	if c == nil || c.http == nil {
		return nil, 0, nil, fmt.Errorf("slack api is not initialized")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, 0, nil, fmt.Errorf("slack token is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+form.Encode(), nil)
	if err != nil {
		return nil, 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, int, http.Header, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resp.StatusCode, resp.Header, readErr
	}
	return raw, resp.StatusCode, resp.Header, nil
}
