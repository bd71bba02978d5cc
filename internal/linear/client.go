// Package linear is a small GraphQL client for the Linear API, covering
// the issue queries the workspace tools are built on.
package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultEndpoint = "https://api.linear.app/graphql"

// Client posts GraphQL documents to the Linear endpoint. Linear expects
// the raw API key in the Authorization header, without a Bearer prefix.
type Client struct {
	http     *http.Client
	endpoint string
	apiKey   string
}

func New(httpClient *http.Client, endpoint, apiKey string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Client{
		http:     httpClient,
		endpoint: endpoint,
		apiKey:   strings.TrimSpace(apiKey),
	}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Query executes a GraphQL document and unmarshals the data portion of
// the response into out.
func (c *Client) Query(ctx context.Context, query string, variables map[string]any, out any) error {
	if c == nil || c.http == nil {
		return fmt.Errorf("linear client is not initialized")
	}
	if c.apiKey == "" {
		return fmt.Errorf("linear api key is required")
	}

	raw, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("linear graphql http %d", resp.StatusCode)
	}

	var envelope graphqlResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return err
	}
	if len(envelope.Errors) > 0 {
		messages := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			msg := strings.TrimSpace(e.Message)
			if msg == "" {
				msg = "unknown error"
			}
			messages = append(messages, msg)
		}
		return fmt.Errorf("linear graphql errors: %s", strings.Join(messages, ", "))
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}

type StateRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

type UserRef struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type TeamRef struct {
	ID   string `json:"id,omitempty"`
	Key  string `json:"key,omitempty"`
	Name string `json:"name"`
}

type InitiativeRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	TargetDate  string `json:"targetDate,omitempty"`
}

type ProjectRef struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	State       string  `json:"state,omitempty"`
	Progress    float64 `json:"progress,omitempty"`
	TargetDate  string  `json:"targetDate,omitempty"`
	Initiatives struct {
		Nodes []InitiativeRef `json:"nodes"`
	} `json:"initiatives,omitempty"`
}

type Comment struct {
	ID        string    `json:"id"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	User      *UserRef  `json:"user,omitempty"`
}

// HistoryEntry is one workflow event on an issue. Entries that are not
// state transitions come back with nil from/to states.
type HistoryEntry struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	FromState *StateRef `json:"fromState,omitempty"`
	ToState   *StateRef `json:"toState,omitempty"`
}

type Issue struct {
	ID         string      `json:"id"`
	Identifier string      `json:"identifier"`
	Title      string      `json:"title"`
	State      StateRef    `json:"state"`
	Assignee   *UserRef    `json:"assignee,omitempty"`
	Team       TeamRef     `json:"team,omitempty"`
	Priority   int         `json:"priority,omitempty"`
	Estimate   float64     `json:"estimate,omitempty"`
	Project    *ProjectRef `json:"project,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
	History    struct {
		Nodes []HistoryEntry `json:"nodes"`
	} `json:"history,omitempty"`
	Comments struct {
		Nodes []Comment `json:"nodes"`
	} `json:"comments,omitempty"`
}

type issuesPayload struct {
	Issues struct {
		Nodes []Issue `json:"nodes"`
	} `json:"issues"`
}

// Viewer identifies the authenticated user, as a connectivity check.
func (c *Client) Viewer(ctx context.Context) (UserRef, error) {
	const query = `query Viewer { viewer { id name email } }`
	var out struct {
		Viewer UserRef `json:"viewer"`
	}
	if err := c.Query(ctx, query, nil, &out); err != nil {
		return UserRef{}, err
	}
	return out.Viewer, nil
}

const issuesUpdatedBetweenQuery = `
query IssuesUpdatedBetween($filter: IssueFilter) {
	issues(filter: $filter, first: 250) {
		nodes {
			id
			identifier
			title
			state { name type }
			assignee { id name email }
			createdAt
			updatedAt
			project {
				id
				name
				initiatives { nodes { id name description } }
			}
			history(first: 100) {
				nodes { id createdAt fromState { name } toState { name } }
			}
			comments(first: 100) {
				nodes { id body createdAt user { id name email } }
			}
		}
	}
}`

// IssuesUpdatedBetween returns issues whose updatedAt falls inside the
// window, with enough history and comments to reconstruct activity.
func (c *Client) IssuesUpdatedBetween(ctx context.Context, start, end time.Time, teamID string) ([]Issue, error) {
	filter := map[string]any{
		"updatedAt": map[string]any{
			"gte": start.UTC().Format(time.RFC3339),
			"lte": end.UTC().Format(time.RFC3339),
		},
	}
	if teamID = strings.TrimSpace(teamID); teamID != "" {
		filter["team"] = map[string]any{"id": map[string]any{"eq": teamID}}
	}
	var out issuesPayload
	if err := c.Query(ctx, issuesUpdatedBetweenQuery, map[string]any{"filter": filter}, &out); err != nil {
		return nil, err
	}
	return out.Issues.Nodes, nil
}

const activeIssuesQuery = `
query ActiveIssues($filter: IssueFilter) {
	issues(filter: $filter, first: 250) {
		nodes {
			id
			identifier
			title
			state { name type }
			assignee { id name email }
			createdAt
			updatedAt
			history(first: 50) {
				nodes { id createdAt fromState { name } toState { name } }
			}
			comments(first: 50) {
				nodes { id createdAt user { id name } }
			}
		}
	}
}`

// ActiveIssues returns issues that are neither completed nor canceled.
func (c *Client) ActiveIssues(ctx context.Context, teamID string) ([]Issue, error) {
	filter := map[string]any{
		"state": map[string]any{"type": map[string]any{"nin": []string{"completed", "canceled"}}},
	}
	if teamID = strings.TrimSpace(teamID); teamID != "" {
		filter["team"] = map[string]any{"id": map[string]any{"eq": teamID}}
	}
	var out issuesPayload
	if err := c.Query(ctx, activeIssuesQuery, map[string]any{"filter": filter}, &out); err != nil {
		return nil, err
	}
	return out.Issues.Nodes, nil
}

const issuesWithProjectsQuery = `
query IssuesWithProjects($filter: IssueFilter) {
	issues(filter: $filter, first: 250) {
		nodes {
			id
			identifier
			title
			state { name type }
			assignee { name email }
			team { name }
			priority
			estimate
			project {
				id
				name
				description
				state
				progress
				targetDate
				initiatives { nodes { id name description targetDate } }
			}
			createdAt
			updatedAt
		}
	}
}`

// IssuesWithProjects returns issues carrying their project and initiative
// context, for the hierarchy overview.
func (c *Client) IssuesWithProjects(ctx context.Context, teamID string, includeCompleted bool) ([]Issue, error) {
	filter := map[string]any{}
	if !includeCompleted {
		filter["state"] = map[string]any{"type": map[string]any{"nin": []string{"completed", "canceled"}}}
	}
	if teamID = strings.TrimSpace(teamID); teamID != "" {
		filter["team"] = map[string]any{"id": map[string]any{"eq": teamID}}
	}
	variables := map[string]any{}
	if len(filter) > 0 {
		variables["filter"] = filter
	}
	var out issuesPayload
	if err := c.Query(ctx, issuesWithProjectsQuery, variables, &out); err != nil {
		return nil, err
	}
	return out.Issues.Nodes, nil
}
