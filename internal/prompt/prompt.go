// Package prompt renders the instructions handed to voice agents: the composed
// system prompt, the filler instructions used while an escalation is pending
// and the authorization instructions used once an operator has answered.
//
// Templates use text/template with the sprig function library. A [Builder]
// holds the parsed templates behind an atomic pointer so the config watcher can
// swap them while requests are being served.
package prompt

import (
	"bytes"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/MrWong99/handoff/internal/config"
	"github.com/MrWong99/handoff/pkg/escalation"
)

// DefaultRecentLines is how many transcript lines [NewFillerData] includes.
const DefaultRecentLines = 6

// FillerData is the template data for the filler template.
type FillerData struct {
	// Context is a one-line description of what the caller asked for.
	Context string

	// RecentContext holds the last few transcript lines, one per line.
	RecentContext string

	Escalation *escalation.Escalation
}

// AuthorizationData is the template data for the authorization template.
type AuthorizationData struct {
	Response   string
	Escalation *escalation.Escalation
}

// BuildInstructions composes the agent system prompt from its parts. Empty
// parts are skipped together with their heading.
func BuildInstructions(a config.AgentConfig) string {
	var parts []string
	if a.Instructions != "" {
		parts = append(parts, a.Instructions)
	}
	if a.AuthorityLimits != "" {
		parts = append(parts, "\nYOUR AUTHORITY LIMITS:", a.AuthorityLimits)
	}
	if a.EscalationTriggers != "" {
		parts = append(parts, "\nESCALATION TRIGGERS:", a.EscalationTriggers)
	}
	return strings.Join(parts, "\n")
}

// NewFillerData derives filler template data from an escalation record,
// keeping at most recentLines transcript lines.
func NewFillerData(rec *escalation.Escalation, recentLines int) FillerData {
	if rec == nil {
		return FillerData{}
	}
	d := FillerData{Escalation: rec}
	if rec.Reason != "" {
		d.Context = "The user is asking about: " + rec.Reason + "."
	}
	lines := rec.Transcript
	if recentLines > 0 && len(lines) > recentLines {
		lines = lines[len(lines)-recentLines:]
	}
	if len(lines) > 0 {
		var sb strings.Builder
		sb.WriteString("Recent conversation:")
		for _, l := range lines {
			sb.WriteString("\n")
			sb.WriteString(l.Speaker)
			sb.WriteString(": ")
			sb.WriteString(l.Text)
		}
		d.RecentContext = sb.String()
	}
	return d
}

// snapshot is one immutable generation of parsed prompt material.
type snapshot struct {
	agent         config.AgentConfig
	instructions  string
	decisionTypes []string
	filler        *template.Template
	authorization *template.Template
}

// Builder renders agent prompts. It is safe for concurrent use.
type Builder struct {
	cur    atomic.Pointer[snapshot]
	logger *slog.Logger
}

// Option configures a [Builder].
type Option func(*Builder)

// WithLogger sets the logger used for unknown decision type warnings.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// New parses the templates in agent and returns a ready Builder.
func New(agent config.AgentConfig, decisionTypes []string, opts ...Option) (*Builder, error) {
	b := &Builder{logger: slog.Default()}
	for _, o := range opts {
		o(b)
	}
	b.logger = b.logger.With("component", "prompt")

	s, err := compile(agent, decisionTypes)
	if err != nil {
		return nil, err
	}
	b.cur.Store(s)
	return b, nil
}

// Update swaps in new prompt material. When a template fails to parse the
// previous generation stays active and the parse error is returned.
func (b *Builder) Update(agent config.AgentConfig, decisionTypes []string) error {
	s, err := compile(agent, decisionTypes)
	if err != nil {
		return err
	}
	b.cur.Store(s)
	b.logger.Info("agent prompts reloaded", "agent", agent.Name, "decision_types", len(decisionTypes))
	return nil
}

func compile(agent config.AgentConfig, decisionTypes []string) (*snapshot, error) {
	filler, err := parse("filler", agent.FillerTemplate)
	if err != nil {
		return nil, err
	}
	authorization, err := parse("authorization", agent.AuthorizationTemplate)
	if err != nil {
		return nil, err
	}
	return &snapshot{
		agent:         agent,
		instructions:  BuildInstructions(agent),
		decisionTypes: slices.Clone(decisionTypes),
		filler:        filler,
		authorization: authorization,
	}, nil
}

func parse(name, text string) (*template.Template, error) {
	t, err := template.New(name).Funcs(sprig.TxtFuncMap()).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("prompt: parse %s template: %w", name, err)
	}
	return t, nil
}

func execute(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("prompt: render %s template: %w", t.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Agent returns the agent section currently in effect.
func (b *Builder) Agent() config.AgentConfig { return b.cur.Load().agent }

// Instructions returns the composed system prompt.
func (b *Builder) Instructions() string { return b.cur.Load().instructions }

// Greeting returns the first-turn instruction.
func (b *Builder) Greeting() string { return b.cur.Load().agent.Greeting }

// Filler renders the filler instructions for an escalation that is still
// awaiting an operator.
func (b *Builder) Filler(d FillerData) (string, error) {
	return execute(b.cur.Load().filler, d)
}

// Authorization renders the instructions for acting on an operator response.
func (b *Builder) Authorization(d AuthorizationData) (string, error) {
	return execute(b.cur.Load().authorization, d)
}

// DecisionTypes returns a copy of the configured decision categories.
func (b *Builder) DecisionTypes() []string {
	return slices.Clone(b.cur.Load().decisionTypes)
}

// IsKnownDecisionType reports whether dt is a configured decision category.
// An empty dt is treated as known.
func (b *Builder) IsKnownDecisionType(dt string) bool {
	return dt == "" || slices.Contains(b.cur.Load().decisionTypes, dt)
}

// CheckDecisionType logs a warning for unknown decision types. Unknown types
// are still accepted.
func (b *Builder) CheckDecisionType(dt string) {
	if !b.IsKnownDecisionType(dt) {
		b.logger.Warn("unknown decision type", "decision_type", dt, "known", b.cur.Load().decisionTypes)
	}
}
