package discord

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/handoff/pkg/escalation"
)

func fieldValue(t *testing.T, fields map[string]string, name string) string {
	t.Helper()
	v, ok := fields[name]
	if !ok {
		t.Fatalf("field %q missing", name)
	}
	return v
}

func TestBuildEscalationEmbed_Pending(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &escalation.Escalation{
		ID:             "esc-1",
		SessionRef:     "room-7",
		Reason:         "refund above limit",
		Urgency:        escalation.UrgencyCritical,
		DecisionType:   "financial",
		ContextDetails: "order #42",
		Insight:        "Long-time customer.",
		Status:         escalation.StatusPending,
		CreatedAt:      created,
		Transcript: []escalation.TranscriptLine{
			{Speaker: "user", Text: "I want a refund"},
		},
	}

	embed := buildEscalationEmbed(rec)
	if embed.Title != "Escalation: refund above limit" {
		t.Errorf("Title = %q", embed.Title)
	}
	if embed.Color != colorCritical {
		t.Errorf("Color = %#x, want critical", embed.Color)
	}
	if embed.Footer == nil || embed.Footer.Text != "ID esc-1" {
		t.Errorf("Footer = %+v", embed.Footer)
	}
	if embed.Timestamp != "2026-03-01T12:00:00Z" {
		t.Errorf("Timestamp = %q", embed.Timestamp)
	}

	fields := map[string]string{}
	for _, f := range embed.Fields {
		fields[f.Name] = f.Value
	}
	if v := fieldValue(t, fields, "Urgency"); v != "CRITICAL" {
		t.Errorf("Urgency = %q", v)
	}
	if v := fieldValue(t, fields, "Session"); v != "`room-7`" {
		t.Errorf("Session = %q", v)
	}
	if v := fieldValue(t, fields, "Recent conversation"); v != "**user:** I want a refund" {
		t.Errorf("transcript = %q", v)
	}
	if v := fieldValue(t, fields, "Insight"); v != "Long-time customer." {
		t.Errorf("Insight = %q", v)
	}
	if _, ok := fields["Response"]; ok {
		t.Error("pending card shows a response")
	}
}

func TestBuildEscalationEmbed_Resolved(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	resolved := created.Add(90 * time.Second)
	rec := &escalation.Escalation{
		ID:         "esc-2",
		Reason:     "discount",
		Urgency:    escalation.UrgencyLow,
		Status:     escalation.StatusResolved,
		Response:   "approved",
		CreatedAt:  created,
		ResolvedAt: &resolved,
	}

	embed := buildEscalationEmbed(rec)
	if embed.Color != colorResolved {
		t.Errorf("Color = %#x, want resolved", embed.Color)
	}
	if embed.Description != "Resolved after 1m 30s" {
		t.Errorf("Description = %q", embed.Description)
	}
	last := embed.Fields[len(embed.Fields)-1]
	if last.Name != "Response" || last.Value != "approved" {
		t.Errorf("last field = %+v", last)
	}
}

func TestUrgencyColor(t *testing.T) {
	t.Parallel()
	tests := map[escalation.Urgency]int{
		escalation.UrgencyLow:      colorLow,
		escalation.UrgencyMedium:   colorMedium,
		escalation.UrgencyHigh:     colorHigh,
		escalation.UrgencyCritical: colorCritical,
		"":                         colorMedium,
	}
	for u, want := range tests {
		if got := urgencyColor(u); got != want {
			t.Errorf("urgencyColor(%q) = %#x, want %#x", u, got, want)
		}
	}
}

func TestFormatTranscript_KeepsRecentLines(t *testing.T) {
	t.Parallel()
	var lines []escalation.TranscriptLine
	for i := range 10 {
		lines = append(lines, escalation.TranscriptLine{Speaker: "user", Text: string(rune('a' + i))})
	}
	got := formatTranscript(lines)
	if strings.Count(got, "\n") != transcriptLines-1 {
		t.Errorf("got %d lines, want %d:\n%s", strings.Count(got, "\n")+1, transcriptLines, got)
	}
	if !strings.HasPrefix(got, "**user:** e") || !strings.HasSuffix(got, "**user:** j") {
		t.Errorf("unexpected window:\n%s", got)
	}
	if formatTranscript(nil) != "" {
		t.Error("empty transcript should render empty")
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate short = %q", got)
	}
	got := truncate("ääääääääää", 5)
	if got != "ääää…" {
		t.Errorf("truncate = %q, want rune-safe cut", got)
	}
}

func TestBuildPendingListEmbed(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC)

	empty := buildPendingListEmbed(nil, now)
	if empty.Title != "Pending escalations (0)" || len(empty.Fields) != 0 {
		t.Errorf("empty list embed = %+v", empty)
	}

	list := []*escalation.Escalation{
		{ID: "a", Reason: "first", Urgency: escalation.UrgencyHigh, CreatedAt: now.Add(-5 * time.Minute)},
		{ID: "b", Reason: "second", Urgency: escalation.UrgencyLow, CreatedAt: now.Add(-2 * time.Hour)},
	}
	embed := buildPendingListEmbed(list, now)
	if len(embed.Fields) != 2 {
		t.Fatalf("fields = %d, want 2", len(embed.Fields))
	}
	if embed.Fields[0].Name != "[HIGH] first" || embed.Fields[0].Value != "`a` waiting 5m 0s" {
		t.Errorf("field[0] = %+v", embed.Fields[0])
	}
	if embed.Fields[1].Value != "`b` waiting 2h 0m 0s" {
		t.Errorf("field[1] = %+v", embed.Fields[1])
	}

	var many []*escalation.Escalation
	for range maxFields + 3 {
		many = append(many, &escalation.Escalation{ID: "x", Reason: "r", Urgency: escalation.UrgencyLow, CreatedAt: now})
	}
	if got := len(buildPendingListEmbed(many, now).Fields); got != maxFields {
		t.Errorf("fields = %d, want capped at %d", got, maxFields)
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{45 * time.Second, "45s"},
		{5*time.Minute + 30*time.Second, "5m 30s"},
		{2*time.Hour + 15*time.Minute + 10*time.Second, "2h 15m 10s"},
		{1500 * time.Millisecond, "1s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
