package discord

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/handoff/pkg/escalation"
)

// Embed sidebar colours.
const (
	colorLow      = 0x95A5A6
	colorMedium   = 0x3498DB
	colorHigh     = 0xE67E22
	colorCritical = 0xE74C3C
	colorResolved = 0x2ECC71
)

// Discord field limits.
const (
	maxFieldValue = 1024
	maxFields     = 25
)

const transcriptLines = 6

func urgencyColor(u escalation.Urgency) int {
	switch u {
	case escalation.UrgencyLow:
		return colorLow
	case escalation.UrgencyHigh:
		return colorHigh
	case escalation.UrgencyCritical:
		return colorCritical
	default:
		return colorMedium
	}
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// buildEscalationEmbed renders the card for rec.
func buildEscalationEmbed(rec *escalation.Escalation) *discordgo.MessageEmbed {
	fields := []*discordgo.MessageEmbedField{
		{Name: "Urgency", Value: strings.ToUpper(string(rec.Urgency)), Inline: true},
	}
	if rec.DecisionType != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Decision", Value: rec.DecisionType, Inline: true})
	}
	if rec.SessionRef != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Session", Value: "`" + rec.SessionRef + "`", Inline: true})
	}
	if rec.ContextDetails != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Details", Value: truncate(rec.ContextDetails, maxFieldValue)})
	}
	if t := formatTranscript(rec.Transcript); t != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Recent conversation", Value: t})
	}
	if rec.Insight != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Insight", Value: truncate(rec.Insight, maxFieldValue)})
	}

	embed := &discordgo.MessageEmbed{
		Title:       "Escalation: " + truncate(rec.Reason, 200),
		Color:       urgencyColor(rec.Urgency),
		Fields:      fields,
		Footer:      &discordgo.MessageEmbedFooter{Text: "ID " + rec.ID},
		Timestamp:   rec.CreatedAt.UTC().Format(time.RFC3339),
		Description: "Waiting for an operator.",
	}
	if !rec.IsPending() {
		embed.Color = colorResolved
		embed.Description = "Resolved"
		if rec.ResolvedAt != nil {
			embed.Description += " after " + formatDuration(rec.ResolvedAt.Sub(rec.CreatedAt))
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Response",
			Value: truncate(rec.Response, maxFieldValue),
		})
	}
	return embed
}

// buildPendingListEmbed summarises pending escalations, oldest first.
func buildPendingListEmbed(list []*escalation.Escalation, now time.Time) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("Pending escalations (%d)", len(list)),
		Color: colorMedium,
	}
	if len(list) == 0 {
		embed.Description = "Nothing is waiting for an operator."
		embed.Color = colorResolved
		return embed
	}
	for i, rec := range list {
		if i == maxFields {
			embed.Description = fmt.Sprintf("Showing the oldest %d.", maxFields)
			break
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("[%s] %s", strings.ToUpper(string(rec.Urgency)), truncate(rec.Reason, 200)),
			Value: fmt.Sprintf("`%s` waiting %s", rec.ID, formatDuration(now.Sub(rec.CreatedAt))),
		})
	}
	return embed
}

func formatTranscript(lines []escalation.TranscriptLine) string {
	if len(lines) == 0 {
		return ""
	}
	if len(lines) > transcriptLines {
		lines = lines[len(lines)-transcriptLines:]
	}
	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "**%s:** %s\n", l.Speaker, l.Text)
	}
	return truncate(strings.TrimRight(b.String(), "\n"), maxFieldValue)
}

// formatDuration formats d as "Xh Ym Zs".
func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
