package linearq

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/quailyquaily/threadmorph/internal/linear"
)

type fakeSource struct {
	updated      []linear.Issue
	active       []linear.Issue
	withProjects []linear.Issue

	gotStart  time.Time
	gotEnd    time.Time
	gotTeamID string
}

func (f *fakeSource) IssuesUpdatedBetween(_ context.Context, start, end time.Time, teamID string) ([]linear.Issue, error) {
	f.gotStart, f.gotEnd, f.gotTeamID = start, end, teamID
	return f.updated, nil
}

func (f *fakeSource) ActiveIssues(_ context.Context, teamID string) ([]linear.Issue, error) {
	f.gotTeamID = teamID
	return f.active, nil
}

func (f *fakeSource) IssuesWithProjects(_ context.Context, teamID string, _ bool) ([]linear.Issue, error) {
	f.gotTeamID = teamID
	return f.withProjects, nil
}

func fixedNow() time.Time {
	return time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
}

func newTestTool(source *fakeSource) *Tool {
	t := New(source)
	t.now = fixedNow
	return t
}

func makeIssue(identifier, title, stateName, stateType string, assignee *linear.UserRef, updatedAt time.Time) linear.Issue {
	return linear.Issue{
		ID:         "id-" + identifier,
		Identifier: identifier,
		Title:      title,
		State:      linear.StateRef{Name: stateName, Type: stateType},
		Assignee:   assignee,
		UpdatedAt:  updatedAt,
	}
}

func TestActivityTrackerFiltersToWindow(t *testing.T) {
	changed := makeIssue("ENG-1", "Fix login", "In Progress", "started",
		&linear.UserRef{ID: "u1", Name: "Alice", Email: "alice@example.com"},
		time.Date(2025, 6, 5, 10, 0, 0, 0, time.UTC))
	changed.History.Nodes = []linear.HistoryEntry{
		{
			ID:        "h1",
			CreatedAt: time.Date(2025, 6, 5, 10, 0, 0, 0, time.UTC),
			FromState: &linear.StateRef{Name: "Todo"},
			ToState:   &linear.StateRef{Name: "In Progress"},
		},
		// Outside the window, must not be counted.
		{
			ID:        "h2",
			CreatedAt: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
			FromState: &linear.StateRef{Name: "Backlog"},
			ToState:   &linear.StateRef{Name: "Todo"},
		},
	}

	quiet := makeIssue("ENG-2", "Untouched", "Todo", "unstarted", nil,
		time.Date(2025, 6, 5, 9, 0, 0, 0, time.UTC))

	source := &fakeSource{updated: []linear.Issue{changed, quiet}}
	tool := newTestTool(source)

	out, err := tool.Execute(context.Background(), map[string]any{
		"operation": "activity_tracker",
		"params": map[string]any{
			"start_date": "2025-06-01",
			"end_date":   "2025-06-07",
			"team_id":    "team-1",
		},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if got, want := source.gotStart, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("start = %v, want %v", got, want)
	}
	if got, want := source.gotEnd, time.Date(2025, 6, 7, 23, 59, 59, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("end = %v, want %v", got, want)
	}
	if source.gotTeamID != "team-1" {
		t.Fatalf("teamID = %q, want %q", source.gotTeamID, "team-1")
	}

	if !strings.Contains(out, "Fix login") {
		t.Fatalf("report missing changed issue:\n%s", out)
	}
	if strings.Contains(out, "Untouched") {
		t.Fatalf("report includes issue without in-window activity:\n%s", out)
	}
	if !strings.Contains(out, "Todo → In Progress") {
		t.Fatalf("report missing status transition:\n%s", out)
	}
	if !strings.Contains(out, "Issues with status changes: 1") {
		t.Fatalf("report summary wrong:\n%s", out)
	}
}

func TestActivityTrackerDefaultsToLastSevenDays(t *testing.T) {
	source := &fakeSource{}
	tool := newTestTool(source)

	if _, err := tool.Execute(context.Background(), map[string]any{"operation": "activity_tracker"}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got, want := source.gotStart, time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("start = %v, want %v", got, want)
	}
	if got, want := source.gotEnd, time.Date(2025, 6, 10, 23, 59, 59, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("end = %v, want %v", got, want)
	}
}

func TestActivityTrackerInvalidDate(t *testing.T) {
	tool := newTestTool(&fakeSource{})
	_, err := tool.Execute(context.Background(), map[string]any{
		"operation": "activity_tracker",
		"params":    map[string]any{"start_date": "June 1st"},
	})
	if err == nil {
		t.Fatal("Execute() error = nil, want invalid date error")
	}
}

func TestInactiveAssigneesCategorizes(t *testing.T) {
	alice := &linear.UserRef{ID: "u1", Name: "Alice", Email: "alice@example.com"}
	bob := &linear.UserRef{ID: "u2", Name: "Bob", Email: "bob@example.com"}

	// Alice last touched anything 10 days ago.
	staleIssue := makeIssue("ENG-1", "Old task", "In Progress", "started", alice,
		fixedNow().AddDate(0, 0, -10))

	// Bob updated yesterday.
	freshIssue := makeIssue("ENG-2", "New task", "In Progress", "started", bob,
		fixedNow().AddDate(0, 0, -1))

	source := &fakeSource{active: []linear.Issue{staleIssue, freshIssue}}
	tool := newTestTool(source)

	out, err := tool.Execute(context.Background(), map[string]any{
		"operation": "inactive_assignees",
		"params":    map[string]any{"days": float64(3)},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if !strings.Contains(out, "COMPLETELY INACTIVE - 1 assignees") {
		t.Fatalf("expected one completely inactive assignee:\n%s", out)
	}
	if !strings.Contains(out, "Alice (alice@example.com)") {
		t.Fatalf("expected Alice flagged inactive:\n%s", out)
	}
	if !strings.Contains(out, "Last activity: 10 days ago") {
		t.Fatalf("expected inactivity age:\n%s", out)
	}
	if !strings.Contains(out, "Fully active (all issues updated): 1") {
		t.Fatalf("expected Bob counted fully active:\n%s", out)
	}
}

func TestInactiveAssigneesCommentCountsAsActivity(t *testing.T) {
	alice := &linear.UserRef{ID: "u1", Name: "Alice", Email: "alice@example.com"}

	issue := makeIssue("ENG-1", "Old task", "In Progress", "started", alice,
		fixedNow().AddDate(0, 0, -10))
	issue.Comments.Nodes = []linear.Comment{
		{
			ID:        "c1",
			Body:      "still on it",
			CreatedAt: fixedNow().AddDate(0, 0, -1),
			User:      alice,
		},
	}

	source := &fakeSource{active: []linear.Issue{issue}}
	tool := newTestTool(source)

	out, err := tool.Execute(context.Background(), map[string]any{
		"operation": "inactive_assignees",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, "No one has been completely inactive") {
		t.Fatalf("recent comment should count as activity:\n%s", out)
	}
}

func TestProjectOverviewGroupsAndCounts(t *testing.T) {
	project := &linear.ProjectRef{ID: "p1", Name: "Payments", State: "started", Progress: 0.5}
	project.Initiatives.Nodes = []linear.InitiativeRef{{ID: "i1", Name: "Q3 Revenue"}}

	done := makeIssue("ENG-1", "Ship invoices", "Done", "completed",
		&linear.UserRef{ID: "u1", Name: "Alice"}, fixedNow())
	done.Project = project
	done.Priority = 2
	done.Estimate = 3

	active := makeIssue("ENG-2", "Refund flow", "In Progress", "started",
		&linear.UserRef{ID: "u1", Name: "Alice"}, fixedNow())
	active.Project = project
	active.Priority = 1

	orphan := makeIssue("ENG-3", "Misc chore", "Todo", "unstarted", nil, fixedNow())

	source := &fakeSource{withProjects: []linear.Issue{done, active, orphan}}
	tool := newTestTool(source)

	out, err := tool.Execute(context.Background(), map[string]any{
		"operation": "project_overview",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	for _, want := range []string{
		"Project: Payments",
		"Initiative: Q3 Revenue",
		"Progress: 50%",
		"Completed: 1",
		"In Progress: 1",
		"Urgent: 1",
		"High: 1",
		"Alice: 2 issues",
		"Issues without Project",
		"Total Issues: 3",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
}

func TestUnknownOperation(t *testing.T) {
	tool := newTestTool(&fakeSource{})
	if _, err := tool.Execute(context.Background(), map[string]any{"operation": "delete_everything"}); err == nil {
		t.Fatal("Execute() error = nil, want unknown operation error")
	}
}
