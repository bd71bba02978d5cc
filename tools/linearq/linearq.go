// Package linearq exposes Linear project-management reports to the model:
// activity tracking over a date range, stale-assignee detection, and a
// project hierarchy overview.
package linearq

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/quailyquaily/threadmorph/internal/linear"
)

// Source is the slice of the Linear client the tool needs.
type Source interface {
	IssuesUpdatedBetween(ctx context.Context, start, end time.Time, teamID string) ([]linear.Issue, error)
	ActiveIssues(ctx context.Context, teamID string) ([]linear.Issue, error)
	IssuesWithProjects(ctx context.Context, teamID string, includeCompleted bool) ([]linear.Issue, error)
}

type Tool struct {
	source Source
	now    func() time.Time
}

func New(source Source) *Tool {
	return &Tool{source: source, now: time.Now}
}

func (t *Tool) Name() string { return "linear" }

func (t *Tool) Description() string {
	return "Interact with Linear for project management - track activity, find inactive assignees, get project overviews"
}

func (t *Tool) ParameterSchema() string {
	return `{
  "type": "object",
  "properties": {
    "operation": {
      "type": "string",
      "enum": ["activity_tracker", "inactive_assignees", "project_overview"],
      "description": "The Linear operation to perform"
    },
    "params": {
      "type": "object",
      "description": "Parameters specific to each operation",
      "properties": {
        "start_date": { "type": "string", "description": "Start date in YYYY-MM-DD format (for activity_tracker)" },
        "end_date": { "type": "string", "description": "End date in YYYY-MM-DD format (for activity_tracker)" },
        "days": { "type": "integer", "description": "Number of days to look back from today (for activity_tracker, inactive_assignees)" },
        "team_id": { "type": "string", "description": "Optional team ID to filter by" },
        "include_completed": { "type": "boolean", "description": "Include completed/canceled issues (for project_overview)" }
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
	case "activity_tracker":
		return t.trackActivity(ctx, opParams)
	case "inactive_assignees":
		return t.findInactiveAssignees(ctx, opParams)
	case "project_overview":
		return t.projectOverview(ctx, opParams)
	default:
		return "", fmt.Errorf("unknown operation: %s", operation)
	}
}

func (t *Tool) trackActivity(ctx context.Context, params map[string]any) (string, error) {
	start, end, err := t.dateRange(params)
	if err != nil {
		return "", err
	}
	teamID := stringParam(params, "team_id")

	issues, err := t.source.IssuesUpdatedBetween(ctx, start, end, teamID)
	if err != nil {
		return "", err
	}

	rangeLabel := fmt.Sprintf("from %s to %s", start.Format("2006-01-02"), end.Format("2006-01-02"))
	if len(issues) == 0 {
		return "No issues found with activity " + rangeLabel, nil
	}

	var active []issueActivity
	for _, issue := range issues {
		if act := activityInRange(issue, start, end); act.hadActivity() {
			active = append(active, act)
		}
	}
	if len(active) == 0 {
		return "No issues had status changes or comments " + rangeLabel, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 Linear Activity %s\n", rangeLabel)
	fmt.Fprintf(&sb, "Found %d issues with activity:\n", len(active))
	sb.WriteString(strings.Repeat("=", 80))

	statusChangeCount := 0
	commentCount := 0
	for _, act := range active {
		if len(act.statusChanges) > 0 {
			statusChangeCount++
		}
		if len(act.comments) > 0 {
			commentCount++
		}
		sb.WriteString("\n")
		sb.WriteString(act.format())
		sb.WriteString("\n")
		sb.WriteString(strings.Repeat("-", 80))
	}

	sb.WriteString("\n\n📈 Summary:\n")
	fmt.Fprintf(&sb, "   • Total issues with activity: %d\n", len(active))
	fmt.Fprintf(&sb, "   • Issues with status changes: %d\n", statusChangeCount)
	fmt.Fprintf(&sb, "   • Issues with new comments: %d", commentCount)
	return sb.String(), nil
}

type statusChange struct {
	at   time.Time
	from string
	to   string
}

type issueActivity struct {
	issue         linear.Issue
	statusChanges []statusChange
	comments      []linear.Comment
}

func (a issueActivity) hadActivity() bool {
	return len(a.statusChanges) > 0 || len(a.comments) > 0
}

func activityInRange(issue linear.Issue, start, end time.Time) issueActivity {
	act := issueActivity{issue: issue}
	for _, entry := range issue.History.Nodes {
		if entry.FromState == nil || entry.ToState == nil {
			continue
		}
		if inRange(entry.CreatedAt, start, end) {
			act.statusChanges = append(act.statusChanges, statusChange{
				at:   entry.CreatedAt,
				from: entry.FromState.Name,
				to:   entry.ToState.Name,
			})
		}
	}
	for _, comment := range issue.Comments.Nodes {
		if inRange(comment.CreatedAt, start, end) {
			act.comments = append(act.comments, comment)
		}
	}
	return act
}

func (a issueActivity) format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📋 *%s*\n", a.issue.Title)
	fmt.Fprintf(&sb, "   👤 Assignee: %s\n", assigneeLabel(a.issue.Assignee))
	fmt.Fprintf(&sb, "   📊 Current Status: %s", a.issue.State.Name)

	if a.issue.Project != nil {
		fmt.Fprintf(&sb, "\n   📁 Project: %s", a.issue.Project.Name)
		for _, init := range a.issue.Project.Initiatives.Nodes {
			fmt.Fprintf(&sb, "\n   🎯 Initiative: %s", init.Name)
		}
	}

	if len(a.statusChanges) > 0 {
		sb.WriteString("\n   🔄 Status Changes:")
		changes := append([]statusChange(nil), a.statusChanges...)
		sort.Slice(changes, func(i, j int) bool { return changes[i].at.Before(changes[j].at) })
		for _, change := range changes {
			fmt.Fprintf(&sb, "\n      • %s: %s → %s", change.at.Format("2006-01-02 15:04"), change.from, change.to)
		}
	}

	if len(a.comments) > 0 {
		sb.WriteString("\n   💬 Comments:")
		comments := append([]linear.Comment(nil), a.comments...)
		sort.Slice(comments, func(i, j int) bool { return comments[i].CreatedAt.Before(comments[j].CreatedAt) })
		for _, comment := range comments {
			author := "Unknown"
			if comment.User != nil {
				author = comment.User.Name
			}
			fmt.Fprintf(&sb, "\n      • %s by %s:", comment.CreatedAt.Format("2006-01-02 15:04"), author)
			for _, line := range strings.Split(comment.Body, "\n") {
				fmt.Fprintf(&sb, "\n        %s", line)
			}
		}
	}
	return sb.String()
}

type assigneeReport struct {
	name         string
	email        string
	totalIssues  int
	lastActivity time.Time
	daysInactive int
	staleCount   int
	staleSamples []linear.Issue
}

func (t *Tool) findInactiveAssignees(ctx context.Context, params map[string]any) (string, error) {
	days := intParam(params, "days", 3)
	teamID := stringParam(params, "team_id")
	now := t.now()
	cutoff := now.AddDate(0, 0, -days)

	issues, err := t.source.ActiveIssues(ctx, teamID)
	if err != nil {
		return "", err
	}

	byAssignee := map[string][]linear.Issue{}
	for _, issue := range issues {
		if issue.Assignee == nil {
			continue
		}
		key := issue.Assignee.Name + "|" + issue.Assignee.Email
		byAssignee[key] = append(byAssignee[key], issue)
	}
	if len(byAssignee) == 0 {
		return "No active assigned issues found.", nil
	}

	var completelyInactive, partiallyActive, fullyActive []assigneeReport
	for key, assigned := range byAssignee {
		name, email, _ := strings.Cut(key, "|")
		assigneeID := assigned[0].Assignee.ID

		report := assigneeReport{name: name, email: email, totalIssues: len(assigned)}
		for _, issue := range assigned {
			last := lastActivityDate(issue, assigneeID)
			if last.After(report.lastActivity) {
				report.lastActivity = last
			}
			if last.Before(cutoff) {
				report.staleCount++
				if len(report.staleSamples) < 3 {
					report.staleSamples = append(report.staleSamples, issue)
				}
			}
		}
		report.daysInactive = int(now.Sub(report.lastActivity).Hours() / 24)

		switch {
		case report.lastActivity.Before(cutoff):
			completelyInactive = append(completelyInactive, report)
		case report.staleCount > 0:
			partiallyActive = append(partiallyActive, report)
		default:
			fullyActive = append(fullyActive, report)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🔍 Assignees with NO issue updates since %s (%d days)\n", cutoff.Format("2006-01-02"), days)
	sb.WriteString(strings.Repeat("=", 80))

	if len(completelyInactive) > 0 {
		sort.Slice(completelyInactive, func(i, j int) bool {
			return completelyInactive[i].daysInactive > completelyInactive[j].daysInactive
		})
		fmt.Fprintf(&sb, "\n\n🚨 COMPLETELY INACTIVE - %d assignees with NO updates in %d days:\n", len(completelyInactive), days)
		for _, report := range completelyInactive {
			fmt.Fprintf(&sb, "\n👤 %s (%s)\n", report.name, report.email)
			fmt.Fprintf(&sb, "   📊 Active issues: %d\n", report.totalIssues)
			fmt.Fprintf(&sb, "   ⏰ Last activity: %d days ago (%s)\n", report.daysInactive, report.lastActivity.Format("2006-01-02"))
			sb.WriteString("   Example stale issues:")
			for _, issue := range report.staleSamples {
				fmt.Fprintf(&sb, "\n   • [%s] %s (status: %s)", issue.Identifier, issue.Title, issue.State.Name)
			}
			sb.WriteString("\n")
		}
	} else {
		fmt.Fprintf(&sb, "\n\n✅ Good news! No one has been completely inactive for %d days.\n", days)
	}

	if len(partiallyActive) > 0 {
		sort.Slice(partiallyActive, func(i, j int) bool {
			return partiallyActive[i].staleCount > partiallyActive[j].staleCount
		})
		fmt.Fprintf(&sb, "\n⚠️  PARTIALLY ACTIVE - %d assignees with some stale issues:\n", len(partiallyActive))
		limit := min(len(partiallyActive), 5)
		for _, report := range partiallyActive[:limit] {
			fmt.Fprintf(&sb, "\n👤 %s - %d/%d issues stale", report.name, report.staleCount, report.totalIssues)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\n" + strings.Repeat("=", 80))
	sb.WriteString("\n📈 Summary:\n")
	fmt.Fprintf(&sb, "   • Completely inactive (no updates): %d\n", len(completelyInactive))
	fmt.Fprintf(&sb, "   • Partially active (some updates): %d\n", len(partiallyActive))
	fmt.Fprintf(&sb, "   • Fully active (all issues updated): %d\n", len(fullyActive))
	fmt.Fprintf(&sb, "   • Total assignees checked: %d\n", len(byAssignee))
	fmt.Fprintf(&sb, "   • Inactivity threshold: %d days", days)
	return sb.String(), nil
}

// lastActivityDate finds the most recent touch on an issue: any state
// transition, any comment by the assignee, or the issue's own updatedAt.
func lastActivityDate(issue linear.Issue, assigneeID string) time.Time {
	last := issue.UpdatedAt
	for _, entry := range issue.History.Nodes {
		if entry.FromState == nil || entry.ToState == nil {
			continue
		}
		if entry.CreatedAt.After(last) {
			last = entry.CreatedAt
		}
	}
	for _, comment := range issue.Comments.Nodes {
		if comment.User == nil || comment.User.ID != assigneeID {
			continue
		}
		if comment.CreatedAt.After(last) {
			last = comment.CreatedAt
		}
	}
	return last
}

type projectStats struct {
	total      int
	completed  int
	inProgress int
	backlog    int
	byPriority map[string]int
	byAssignee map[string]int
	estimate   float64
}

func newProjectStats() *projectStats {
	return &projectStats{byPriority: map[string]int{}, byAssignee: map[string]int{}}
}

func (s *projectStats) add(issue linear.Issue) {
	s.total++
	switch issue.State.Type {
	case "completed":
		s.completed++
	case "started":
		s.inProgress++
	default:
		s.backlog++
	}
	s.byPriority[priorityLabel(issue.Priority)]++
	s.byAssignee[assigneeName(issue.Assignee)]++
	s.estimate += issue.Estimate
}

type projectGroup struct {
	project *linear.ProjectRef
	stats   *projectStats
}

func (t *Tool) projectOverview(ctx context.Context, params map[string]any) (string, error) {
	teamID := stringParam(params, "team_id")
	includeCompleted, _ := params["include_completed"].(bool)

	issues, err := t.source.IssuesWithProjects(ctx, teamID, includeCompleted)
	if err != nil {
		return "", err
	}
	if len(issues) == 0 {
		return "No issues found.", nil
	}

	groups := map[string]*projectGroup{}
	var order []string
	noProject := newProjectStats()
	for _, issue := range issues {
		if issue.Project == nil {
			noProject.add(issue)
			continue
		}
		group, ok := groups[issue.Project.ID]
		if !ok {
			group = &projectGroup{project: issue.Project, stats: newProjectStats()}
			groups[issue.Project.ID] = group
			order = append(order, issue.Project.ID)
		}
		group.stats.add(issue)
	}

	var sb strings.Builder
	sb.WriteString("📊 Linear Project & Initiative Overview\n")
	sb.WriteString(strings.Repeat("=", 80))

	for _, id := range order {
		group := groups[id]
		project := group.project
		fmt.Fprintf(&sb, "\n\n📁 Project: %s", project.Name)
		for _, init := range project.Initiatives.Nodes {
			fmt.Fprintf(&sb, "\n   🎯 Initiative: %s", init.Name)
		}
		if desc := strings.TrimSpace(project.Description); desc != "" {
			fmt.Fprintf(&sb, "\n   %s", desc)
		}
		if project.State != "" {
			fmt.Fprintf(&sb, "\n   State: %s", project.State)
		}
		if project.Progress > 0 {
			fmt.Fprintf(&sb, "\n   Progress: %.0f%%", project.Progress*100)
		}
		if project.TargetDate != "" {
			fmt.Fprintf(&sb, "\n   Target: %s", project.TargetDate)
		}
		sb.WriteString(formatStats(group.stats))
	}

	if noProject.total > 0 {
		sb.WriteString("\n\n❓ Issues without Project")
		sb.WriteString(formatStats(noProject))
	}

	sb.WriteString("\n\n" + strings.Repeat("=", 80))
	sb.WriteString("\n📈 Overall Summary:\n")
	fmt.Fprintf(&sb, "   • Projects: %d\n", len(groups))
	fmt.Fprintf(&sb, "   • Total Issues: %d", len(issues))
	return sb.String(), nil
}

func formatStats(stats *projectStats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "\n   📊 Issues: %d total", stats.total)
	fmt.Fprintf(&sb, "\n      ✅ Completed: %d", stats.completed)
	fmt.Fprintf(&sb, "\n      🔄 In Progress: %d", stats.inProgress)
	fmt.Fprintf(&sb, "\n      📋 Backlog: %d", stats.backlog)
	if stats.estimate > 0 {
		fmt.Fprintf(&sb, "\n      ⏱️ Total Estimate: %g points", stats.estimate)
	}

	sb.WriteString("\n   🎯 By Priority:")
	for _, label := range sortedKeys(stats.byPriority) {
		fmt.Fprintf(&sb, "\n      • %s: %d", label, stats.byPriority[label])
	}

	sb.WriteString("\n   👥 By Assignee:")
	type pair struct {
		name  string
		count int
	}
	var pairs []pair
	for name, count := range stats.byAssignee {
		pairs = append(pairs, pair{name, count})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		return pairs[i].name < pairs[j].name
	})
	limit := min(len(pairs), 5)
	for _, p := range pairs[:limit] {
		fmt.Fprintf(&sb, "\n      • %s: %d issues", p.name, p.count)
	}
	return sb.String()
}

func (t *Tool) dateRange(params map[string]any) (time.Time, time.Time, error) {
	now := t.now()
	if days := intParam(params, "days", 0); days > 0 {
		return dayStart(now.AddDate(0, 0, -days)), dayEnd(now), nil
	}
	if startStr := stringParam(params, "start_date"); startStr != "" {
		start, err := time.Parse("2006-01-02", startStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start_date: %w", err)
		}
		end := now
		if endStr := stringParam(params, "end_date"); endStr != "" {
			end, err = time.Parse("2006-01-02", endStr)
			if err != nil {
				return time.Time{}, time.Time{}, fmt.Errorf("invalid end_date: %w", err)
			}
		}
		return dayStart(start), dayEnd(end), nil
	}
	return dayStart(now.AddDate(0, 0, -7)), dayEnd(now), nil
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func dayEnd(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}

func inRange(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

func priorityLabel(priority int) string {
	switch priority {
	case 0:
		return "No priority"
	case 1:
		return "Urgent"
	case 2:
		return "High"
	case 3:
		return "Medium"
	case 4:
		return "Low"
	default:
		return "Unknown"
	}
}

func assigneeLabel(u *linear.UserRef) string {
	if u == nil {
		return "Unassigned"
	}
	return u.Name + " (" + u.Email + ")"
}

func assigneeName(u *linear.UserRef) string {
	if u == nil {
		return "Unassigned"
	}
	return u.Name
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stringParam(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return strings.TrimSpace(v)
}

func intParam(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}
