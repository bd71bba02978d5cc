// Package prompt assembles the system prompt: a markdown base, an
// optional team roster table, and the current date at hour precision so
// consecutive requests within the hour share a prompt cache entry.
package prompt

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultBase = `You're an assistant in a Slack workspace.
Users in the workspace will ask you to help them write something or to think better about a specific topic.
You'll respond to those questions in a professional way.
When a prompt has Slack's special syntax like <@USER_ID> or <#CHANNEL_ID>, you must keep them as-is in your response.`

// TeamMember maps one person's identity across Linear and Slack.
type TeamMember struct {
	LinearName  string `yaml:"linear_name"`
	LinearEmail string `yaml:"linear_email"`
	SlackUserID string `yaml:"slack_user_id"`
	SlackHandle string `yaml:"slack_handle"`
}

// Builder produces the system prompt for each model call. It is safe for
// concurrent use once configured.
type Builder struct {
	base string
	team []TeamMember
	now  func() time.Time
}

// New loads the base prompt from path, falling back to the built-in
// default when the file is missing. A leading markdown header line is
// stripped; the title is for humans, not the model.
func New(path string, team []TeamMember) *Builder {
	return &Builder{
		base: loadBase(path),
		team: team,
		now:  time.Now,
	}
}

func loadBase(path string) string {
	if path == "" {
		return defaultBase
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return defaultBase
	}
	lines := strings.Split(string(raw), "\n")
	if len(lines) > 0 && strings.HasPrefix(lines[0], "#") {
		lines = lines[1:]
	}
	base := strings.TrimSpace(strings.Join(lines, "\n"))
	if base == "" {
		return defaultBase
	}
	return base
}

// LoadTeam reads the team roster mapping from a YAML file. An empty path
// yields an empty roster.
func LoadTeam(path string) ([]TeamMember, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var members []TeamMember
	if err := yaml.Unmarshal(raw, &members); err != nil {
		return nil, fmt.Errorf("parse team mapping: %w", err)
	}
	return members, nil
}

// Build renders the full system prompt.
func (b *Builder) Build() string {
	var sb strings.Builder
	sb.WriteString(b.base)

	if len(b.team) > 0 {
		sb.WriteString("\n\n## Our Folks\n")
		sb.WriteString("| Linear Name | Linear Email | Slack User ID | Slack Mention | Slack Handle |\n")
		sb.WriteString("|-------------|--------------|---------------|---------------|--------------|")
		for _, m := range b.team {
			mention := ""
			if m.SlackUserID != "" {
				mention = "<@" + m.SlackUserID + ">"
			}
			sb.WriteString(fmt.Sprintf("\n| %s | %s | %s | %s | %s |",
				m.LinearName, m.LinearEmail, m.SlackUserID, mention, m.SlackHandle))
		}
	}

	now := b.now()
	hour := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
	zone, _ := now.Zone()
	sb.WriteString(fmt.Sprintf("\n\n**Current context**: %s (%s)", hour.Format("Monday, 2006-01-02 15:00"), zone))

	return sb.String()
}
