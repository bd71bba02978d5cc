package slackapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
)

func TestAuthTestSendsBotToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth.test" {
			t.Errorf("path = %q, want /auth.test", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer xoxb-test" {
			t.Errorf("authorization = %q, want bot token", got)
		}
		_, _ = w.Write([]byte(`{"ok":true,"team_id":"T1","user_id":"U1","bot_id":"B1","team":"acme","user":"bot"}`))
	}))
	defer server.Close()

	c := New(server.Client(), server.URL, "xoxb-test", "xapp-test")
	got, err := c.AuthTest(context.Background())
	if err != nil {
		t.Fatalf("AuthTest() error = %v", err)
	}
	if got.UserID != "U1" || got.TeamID != "T1" || got.BotID != "B1" {
		t.Fatalf("AuthTest() = %+v", got)
	}
}

func TestPostMessagePayloadAndTS(t *testing.T) {
	var captured postMessageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		_, _ = w.Write([]byte(`{"ok":true,"ts":"1700000000.000100"}`))
	}))
	defer server.Close()

	c := New(server.Client(), server.URL, "xoxb-test", "")
	ts, err := c.PostMessage(context.Background(), "C1", "hello", PostOptions{
		ThreadTS:    "1700000000.000001",
		Attachments: []Attachment{{Color: "#e0e0e0", Footer: "thinking:sig"}},
	})
	if err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}
	if ts != "1700000000.000100" {
		t.Fatalf("ts = %q", ts)
	}
	if captured.Channel != "C1" || captured.Text != "hello" || captured.ThreadTS != "1700000000.000001" {
		t.Fatalf("payload = %+v", captured)
	}
	if len(captured.Attachments) != 1 || captured.Attachments[0].Footer != "thinking:sig" {
		t.Fatalf("attachments = %+v", captured.Attachments)
	}
}

func TestPostMessageRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"ok":false,"error":"ratelimited"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"ts":"1.2"}`))
	}))
	defer server.Close()

	c := New(server.Client(), server.URL, "xoxb-test", "")
	ts, err := c.PostMessage(context.Background(), "C1", "hello", PostOptions{})
	if err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}
	if ts != "1.2" {
		t.Fatalf("ts = %q", ts)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestPostMessageAPIErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer server.Close()

	c := New(server.Client(), server.URL, "xoxb-test", "")
	_, err := c.PostMessage(context.Background(), "C1", "hello", PostOptions{})
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("PostMessage() error = %v, want channel_not_found", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestConversationRepliesFollowsCursor(t *testing.T) {
	var cursors []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query, _ := url.ParseQuery(r.URL.RawQuery)
		cursor := query.Get("cursor")
		cursors = append(cursors, cursor)
		if cursor == "" {
			_, _ = w.Write([]byte(`{"ok":true,"messages":[{"ts":"1.0","text":"first"}],"response_metadata":{"next_cursor":"page2"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"messages":[{"ts":"2.0","text":"second"}],"response_metadata":{"next_cursor":""}}`))
	}))
	defer server.Close()

	c := New(server.Client(), server.URL, "xoxb-test", "")
	messages, err := c.ConversationReplies(context.Background(), "C1", "1.0")
	if err != nil {
		t.Fatalf("ConversationReplies() error = %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(messages))
	}
	if messages[0].Text != "first" || messages[1].Text != "second" {
		t.Fatalf("messages = %+v", messages)
	}
	if len(cursors) != 2 || cursors[1] != "page2" {
		t.Fatalf("cursors = %v", cursors)
	}
}

func TestSetStatusPayload(t *testing.T) {
	var captured map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/assistant.threads.setStatus" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := New(server.Client(), server.URL, "xoxb-test", "")
	if err := c.SetStatus(context.Background(), "C1", "1.0", "is thinking..."); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	if captured["channel_id"] != "C1" || captured["thread_ts"] != "1.0" || captured["status"] != "is thinking..." {
		t.Fatalf("payload = %v", captured)
	}
}
