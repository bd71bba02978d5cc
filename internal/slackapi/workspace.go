package slackapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Channel is the subset of conversation fields the workspace tool reports.
type Channel struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsPrivate  bool   `json:"is_private"`
	NumMembers int    `json:"num_members"`
	Topic      struct {
		Value string `json:"value"`
	} `json:"topic"`
}

type listChannelsResponse struct {
	OK               bool      `json:"ok"`
	Error            string    `json:"error,omitempty"`
	Channels         []Channel `json:"channels"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

// ListChannels returns public channels, following pagination up to limit.
func (c *Client) ListChannels(ctx context.Context, limit int) ([]Channel, error) {
	if limit <= 0 {
		limit = 200
	}
	var all []Channel
	cursor := ""
	for {
		form := url.Values{}
		form.Set("types", "public_channel")
		form.Set("exclude_archived", "true")
		form.Set("limit", strconv.Itoa(min(limit-len(all), 200)))
		if cursor != "" {
			form.Set("cursor", cursor)
		}
		body, status, _, err := c.getAuthForm(ctx, c.botToken, "/conversations.list", form)
		if err != nil {
			return nil, err
		}
		if status < 200 || status >= 300 {
			return nil, fmt.Errorf("slack conversations.list http %d", status)
		}
		var out listChannelsResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, err
		}
		if !out.OK {
			return nil, apiError("conversations.list", out.Error)
		}
		all = append(all, out.Channels...)
		cursor = strings.TrimSpace(out.ResponseMetadata.NextCursor)
		if cursor == "" || len(all) >= limit {
			if len(all) > limit {
				all = all[:limit]
			}
			return all, nil
		}
	}
}

type channelInfoResponse struct {
	OK      bool    `json:"ok"`
	Error   string  `json:"error,omitempty"`
	Channel Channel `json:"channel"`
}

func (c *Client) ChannelInfo(ctx context.Context, channelID string) (Channel, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return Channel{}, fmt.Errorf("channel_id is required")
	}
	form := url.Values{}
	form.Set("channel", channelID)
	body, status, _, err := c.getAuthForm(ctx, c.botToken, "/conversations.info", form)
	if err != nil {
		return Channel{}, err
	}
	if status < 200 || status >= 300 {
		return Channel{}, fmt.Errorf("slack conversations.info http %d", status)
	}
	var out channelInfoResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Channel{}, err
	}
	if !out.OK {
		return Channel{}, apiError("conversations.info", out.Error)
	}
	return out.Channel, nil
}

// User is the subset of user fields the workspace tool reports.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RealName string `json:"real_name"`
	Deleted  bool   `json:"deleted,omitempty"`
	IsBot    bool   `json:"is_bot,omitempty"`
	IsAdmin  bool   `json:"is_admin,omitempty"`
	TZ       string `json:"tz,omitempty"`
	Profile  struct {
		Email       string `json:"email"`
		DisplayName string `json:"display_name"`
	} `json:"profile"`
}

type userResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	User  User   `json:"user"`
}

func (c *Client) UserInfo(ctx context.Context, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("user_id is required")
	}
	form := url.Values{}
	form.Set("user", userID)
	body, status, _, err := c.getAuthForm(ctx, c.botToken, "/users.info", form)
	if err != nil {
		return User{}, err
	}
	if status < 200 || status >= 300 {
		return User{}, fmt.Errorf("slack users.info http %d", status)
	}
	var out userResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return User{}, err
	}
	if !out.OK {
		return User{}, apiError("users.info", out.Error)
	}
	return out.User, nil
}

type listUsersResponse struct {
	OK               bool   `json:"ok"`
	Error            string `json:"error,omitempty"`
	Members          []User `json:"members"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

// ListUsers returns workspace members, following pagination up to limit.
func (c *Client) ListUsers(ctx context.Context, limit int) ([]User, error) {
	if limit <= 0 {
		limit = 500
	}
	var all []User
	cursor := ""
	for {
		form := url.Values{}
		form.Set("limit", strconv.Itoa(min(limit-len(all), 200)))
		if cursor != "" {
			form.Set("cursor", cursor)
		}
		body, status, _, err := c.getAuthForm(ctx, c.botToken, "/users.list", form)
		if err != nil {
			return nil, err
		}
		if status < 200 || status >= 300 {
			return nil, fmt.Errorf("slack users.list http %d", status)
		}
		var out listUsersResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, err
		}
		if !out.OK {
			return nil, apiError("users.list", out.Error)
		}
		all = append(all, out.Members...)
		cursor = strings.TrimSpace(out.ResponseMetadata.NextCursor)
		if cursor == "" || len(all) >= limit {
			if len(all) > limit {
				all = all[:limit]
			}
			return all, nil
		}
	}
}

type openConversationResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Channel struct {
		ID string `json:"id"`
	} `json:"channel"`
}

// OpenConversation opens (or resumes) a direct message with a user and
// returns the DM channel id.
func (c *Client) OpenConversation(ctx context.Context, userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("user_id is required")
	}
	body, status, _, err := c.postAuthJSON(ctx, c.botToken, "/conversations.open", map[string]string{
		"users": userID,
	})
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("slack conversations.open http %d", status)
	}
	var out openConversationResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if !out.OK {
		return "", apiError("conversations.open", out.Error)
	}
	return out.Channel.ID, nil
}

func (c *Client) LookupUserByEmail(ctx context.Context, email string) (User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return User{}, fmt.Errorf("email is required")
	}
	form := url.Values{}
	form.Set("email", email)
	body, status, _, err := c.getAuthForm(ctx, c.botToken, "/users.lookupByEmail", form)
	if err != nil {
		return User{}, err
	}
	if status < 200 || status >= 300 {
		return User{}, fmt.Errorf("slack users.lookupByEmail http %d", status)
	}
	var out userResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return User{}, err
	}
	if !out.OK {
		return User{}, apiError("users.lookupByEmail", out.Error)
	}
	return out.User, nil
}
