package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/MrWong99/handoff/pkg/escalation"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// urgencyColors maps urgency to its display colour.
var urgencyColors = map[escalation.Urgency]*color.Color{
	escalation.UrgencyLow:      color.New(color.FgHiBlack),
	escalation.UrgencyMedium:   color.New(color.FgBlue),
	escalation.UrgencyHigh:     color.New(color.FgYellow, color.Bold),
	escalation.UrgencyCritical: color.New(color.FgRed, color.Bold),
}

func urgencyLabel(u escalation.Urgency) string {
	label := strings.ToUpper(string(u))
	if c, ok := urgencyColors[u]; ok {
		return c.Sprint(label)
	}
	return label
}

// age formats the time since t in the largest useful unit.
func age(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func printPendingTable(w io.Writer, list []*escalation.Escalation, now time.Time) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No pending escalations.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tURGENCY\tAGE\tDECISION\tREASON")
	for _, rec := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			rec.ID,
			urgencyLabel(rec.Urgency),
			age(now, rec.CreatedAt),
			rec.DecisionType,
			clip(rec.Reason, 60),
		)
	}
	tw.Flush()
}

func printEscalation(w io.Writer, rec *escalation.Escalation) {
	fmt.Fprintf(w, "%s %s\n", cyan.Sprint("Escalation"), rec.ID)
	fmt.Fprintf(w, "  Status:    %s\n", statusLabel(rec.Status))
	fmt.Fprintf(w, "  Urgency:   %s\n", urgencyLabel(rec.Urgency))
	fmt.Fprintf(w, "  Reason:    %s\n", rec.Reason)
	if rec.DecisionType != "" {
		fmt.Fprintf(w, "  Decision:  %s\n", rec.DecisionType)
	}
	if rec.SessionRef != "" {
		fmt.Fprintf(w, "  Session:   %s\n", rec.SessionRef)
	}
	if rec.RequesterRef != "" {
		fmt.Fprintf(w, "  Requester: %s\n", rec.RequesterRef)
	}
	fmt.Fprintf(w, "  Created:   %s\n", rec.CreatedAt.Local().Format(time.RFC3339))
	if rec.ContextDetails != "" {
		fmt.Fprintf(w, "  Details:   %s\n", rec.ContextDetails)
	}
	if rec.Insight != "" {
		fmt.Fprintf(w, "  Insight:   %s\n", rec.Insight)
	}
	if len(rec.Transcript) > 0 {
		fmt.Fprintln(w, "  Transcript:")
		for _, line := range rec.Transcript {
			fmt.Fprintf(w, "    %s: %s\n", faint.Sprint(line.Speaker), line.Text)
		}
	}
	if !rec.IsPending() {
		fmt.Fprintf(w, "  Response:  %s\n", rec.Response)
		if rec.ResolvedAt != nil {
			fmt.Fprintf(w, "  Resolved:  %s\n", rec.ResolvedAt.Local().Format(time.RFC3339))
		}
	}
}

func statusLabel(s escalation.Status) string {
	if s == escalation.StatusResolved {
		return green.Sprint(string(s))
	}
	return yellow.Sprint(string(s))
}

func printEvent(w io.Writer, ev *escalation.Event) {
	rec := ev.Escalation
	ts := faint.Sprint(ev.At.Local().Format("15:04:05"))
	switch ev.Kind {
	case escalation.EventCreated:
		fmt.Fprintf(w, "%s %s %s %s %s\n", ts, cyan.Sprint("NEW     "), rec.ID, urgencyLabel(rec.Urgency), clip(rec.Reason, 80))
	case escalation.EventResolved:
		fmt.Fprintf(w, "%s %s %s %s\n", ts, green.Sprint("RESOLVED"), rec.ID, clip(rec.Response, 80))
	case escalation.EventInsightUpdated:
		fmt.Fprintf(w, "%s %s %s %s\n", ts, yellow.Sprint("INSIGHT "), rec.ID, clip(rec.Insight, 80))
	}
}
