package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2025, 6, 3, 14, 37, 12, 0, time.UTC)
}

func TestBuildStripsHeaderAndAppendsDate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "system.md")
	content := "# Assistant Prompt\nBe helpful.\nBe brief."
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	b := New(path, nil)
	b.now = fixedNow
	got := b.Build()

	if strings.Contains(got, "Assistant Prompt") {
		t.Fatalf("header line not stripped: %q", got)
	}
	if !strings.HasPrefix(got, "Be helpful.\nBe brief.") {
		t.Fatalf("base prompt wrong: %q", got)
	}
	if !strings.Contains(got, "**Current context**: Tuesday, 2025-06-03 14:00 (UTC)") {
		t.Fatalf("date line missing or not hour precision: %q", got)
	}
}

func TestBuildFallsBackToDefault(t *testing.T) {
	b := New(filepath.Join(t.TempDir(), "missing.md"), nil)
	b.now = fixedNow
	got := b.Build()
	if !strings.Contains(got, "assistant in a Slack workspace") {
		t.Fatalf("default base missing: %q", got)
	}
}

func TestBuildTeamTable(t *testing.T) {
	b := New("", []TeamMember{
		{LinearName: "Ada", LinearEmail: "ada@example.com", SlackUserID: "U1", SlackHandle: "@ada"},
	})
	b.now = fixedNow
	got := b.Build()

	if !strings.Contains(got, "## Our Folks") {
		t.Fatalf("team section missing: %q", got)
	}
	if !strings.Contains(got, "| Ada | ada@example.com | U1 | <@U1> | @ada |") {
		t.Fatalf("team row missing: %q", got)
	}
}

func TestBuildStableWithinHour(t *testing.T) {
	b := New("", nil)
	b.now = func() time.Time { return time.Date(2025, 6, 3, 14, 5, 0, 0, time.UTC) }
	first := b.Build()
	b.now = func() time.Time { return time.Date(2025, 6, 3, 14, 55, 0, 0, time.UTC) }
	second := b.Build()
	if first != second {
		t.Fatal("prompt changed within the same hour")
	}
}

func TestLoadTeam(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "team.yaml")
	data := "- linear_name: Ada\n  linear_email: ada@example.com\n  slack_user_id: U1\n  slack_handle: \"@ada\"\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	members, err := LoadTeam(path)
	if err != nil {
		t.Fatalf("LoadTeam: %v", err)
	}
	if len(members) != 1 || members[0].SlackUserID != "U1" {
		t.Fatalf("members = %#v", members)
	}

	if members, err := LoadTeam(""); err != nil || members != nil {
		t.Fatalf("empty path: %#v, %v", members, err)
	}
}
