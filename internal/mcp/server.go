// Package mcp exposes escalation as Model Context Protocol tools so that any
// MCP-capable voice agent can hand a decision to a human operator.
//
// Two tools are served over streamable HTTP:
//
//   - escalate_to_human creates an escalation and waits for the operator up to
//     the configured await timeout. The result carries either the rendered
//     authorization instructions or, on timeout, filler instructions plus the
//     escalation id so the agent can keep talking and check back later.
//   - check_escalation reports the current status of an escalation, which is
//     how an agent observes a late resolution after its wait timed out.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/handoff/internal/config"
	"github.com/MrWong99/handoff/internal/observe"
	"github.com/MrWong99/handoff/internal/orchestrator"
	"github.com/MrWong99/handoff/internal/prompt"
	"github.com/MrWong99/handoff/pkg/escalation"
)

// Tool names.
const (
	ToolEscalate = "escalate_to_human"
	ToolCheck    = "check_escalation"
)

// TranscriptLine is one utterance passed by the agent.
type TranscriptLine struct {
	Speaker string `json:"speaker" jsonschema:"who said it, e.g. user or agent"`
	Text    string `json:"text" jsonschema:"what was said"`
	Time    string `json:"time,omitempty" jsonschema:"when it was said as an RFC 3339 timestamp; defaults to the time of the call"`
}

// EscalateInput is the argument object of escalate_to_human.
type EscalateInput struct {
	Reason         string           `json:"reason" jsonschema:"why a human decision is needed"`
	Urgency        string           `json:"urgency,omitempty" jsonschema:"one of low, medium, high, critical; defaults to medium"`
	DecisionType   string           `json:"decision_type,omitempty" jsonschema:"category such as authorization or financial"`
	ContextDetails string           `json:"context_details,omitempty" jsonschema:"facts the operator needs to decide"`
	SessionRef     string           `json:"session_ref,omitempty" jsonschema:"room or session identifier"`
	RequesterRef   string           `json:"requester_ref,omitempty" jsonschema:"identifier of the end user"`
	Transcript     []TranscriptLine `json:"transcript,omitempty" jsonschema:"recent conversation, oldest first"`
}

// EscalateOutput is the structured result of escalate_to_human.
type EscalateOutput struct {
	EscalationID string `json:"escalation_id"`
	Status       string `json:"status"`
	Response     string `json:"response,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// CheckInput is the argument object of check_escalation.
type CheckInput struct {
	EscalationID string `json:"escalation_id" jsonschema:"id returned by escalate_to_human"`
}

// CheckOutput is the structured result of check_escalation.
type CheckOutput struct {
	EscalationID string `json:"escalation_id"`
	Status       string `json:"status"`
	Response     string `json:"response,omitempty"`
	Insight      string `json:"insight,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// Server hosts the escalation tools.
type Server struct {
	orch    *orchestrator.Orchestrator
	prompts *prompt.Builder
	timeout atomic.Int64
	logger  *slog.Logger
	srv     *mcpsdk.Server
}

// Option configures a [Server].
type Option func(*Server)

// WithPrompts renders authorization and filler instructions into tool results.
func WithPrompts(b *prompt.Builder) Option {
	return func(s *Server) { s.prompts = b }
}

// WithAwaitTimeout sets how long escalate_to_human waits for an operator.
func WithAwaitTimeout(d time.Duration) Option {
	return func(s *Server) { s.SetAwaitTimeout(d) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New builds the MCP server and registers both tools.
func New(orch *orchestrator.Orchestrator, version string, opts ...Option) *Server {
	s := &Server{orch: orch, logger: slog.Default()}
	s.SetAwaitTimeout(config.DefaultAwaitTimeout)
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "mcp")

	s.srv = mcpsdk.NewServer(&mcpsdk.Implementation{Name: "handoff", Version: version}, nil)
	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name: ToolEscalate,
		Description: "Hand a decision to a human operator. Use when a request needs " +
			"authorization, approval or judgment beyond your authority. Waits briefly " +
			"for the operator and returns instructions for how to continue.",
	}, s.escalate)
	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        ToolCheck,
		Description: "Check whether a human operator has answered an earlier escalation.",
	}, s.check)
	return s
}

// SetAwaitTimeout replaces the wait used by escalate_to_human. Safe for
// concurrent use.
func (s *Server) SetAwaitTimeout(d time.Duration) {
	if d > 0 {
		s.timeout.Store(int64(d))
	}
}

// AwaitTimeout returns the current wait.
func (s *Server) AwaitTimeout() time.Duration { return time.Duration(s.timeout.Load()) }

// MCPServer returns the underlying SDK server, e.g. for in-memory transports.
func (s *Server) MCPServer() *mcpsdk.Server { return s.srv }

// Handler returns the streamable HTTP handler to mount at the MCP path.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.srv }, nil)
}

func textResult(isError bool, format string, args ...any) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: isError,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}

func (s *Server) escalate(ctx context.Context, _ *mcpsdk.CallToolRequest, in EscalateInput) (*mcpsdk.CallToolResult, EscalateOutput, error) {
	if strings.TrimSpace(in.Reason) == "" {
		return textResult(true, "reason is required"), EscalateOutput{}, nil
	}
	urgency, err := escalation.ParseUrgency(in.Urgency)
	if err != nil {
		return textResult(true, "%v", err), EscalateOutput{}, nil
	}
	if s.prompts != nil {
		s.prompts.CheckDecisionType(in.DecisionType)
	}

	transcript := make([]escalation.TranscriptLine, 0, len(in.Transcript))
	now := time.Now()
	for i, l := range in.Transcript {
		at := now
		if l.Time != "" {
			if at, err = time.Parse(time.RFC3339Nano, l.Time); err != nil {
				return textResult(true, "transcript[%d].time: %v", i, err), EscalateOutput{}, nil
			}
		}
		transcript = append(transcript, escalation.TranscriptLine{Speaker: l.Speaker, Text: l.Text, Time: at})
	}

	id, err := s.orch.Create(ctx, escalation.Request{
		SessionRef:     in.SessionRef,
		RequesterRef:   in.RequesterRef,
		Reason:         in.Reason,
		Urgency:        urgency,
		DecisionType:   in.DecisionType,
		ContextDetails: in.ContextDetails,
		Transcript:     transcript,
	})
	if err != nil {
		return nil, EscalateOutput{}, fmt.Errorf("mcp: escalate: %w", err)
	}
	log := observe.Logger(ctx).With("component", "mcp", "escalation_id", id)
	log.Info("agent escalated to human", "urgency", urgency, "decision_type", in.DecisionType)

	out, err := s.orch.AwaitResponse(ctx, id, s.AwaitTimeout())
	if err != nil {
		return nil, EscalateOutput{}, fmt.Errorf("mcp: await %s: %w", id, err)
	}

	result := EscalateOutput{EscalationID: id, Status: string(out.Status)}
	switch out.Status {
	case orchestrator.OutcomeResolved:
		result.Response = out.Response
		result.Instructions = s.authorization(ctx, out.Response, out.Escalation)
		return textResult(false, "%s", result.Instructions), result, nil
	default:
		rec, getErr := s.orch.Get(ctx, id)
		if getErr != nil {
			log.Warn("failed to load escalation for filler", "err", getErr)
		}
		result.Instructions = s.filler(ctx, rec)
		return textResult(false, "%s\n\nEscalation %s is still pending with a human operator. Call %s later to see the decision.",
			result.Instructions, id, ToolCheck), result, nil
	}
}

func (s *Server) check(ctx context.Context, _ *mcpsdk.CallToolRequest, in CheckInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	if in.EscalationID == "" {
		return textResult(true, "escalation_id is required"), CheckOutput{}, nil
	}
	rec, err := s.orch.Get(ctx, in.EscalationID)
	if errors.Is(err, escalation.ErrNotFound) {
		return textResult(true, "escalation %s does not exist", in.EscalationID), CheckOutput{}, nil
	}
	if err != nil {
		return nil, CheckOutput{}, fmt.Errorf("mcp: check %s: %w", in.EscalationID, err)
	}

	out := CheckOutput{
		EscalationID: rec.ID,
		Status:       string(rec.Status),
		Response:     rec.Response,
		Insight:      rec.Insight,
	}
	if !rec.IsPending() {
		out.Instructions = s.authorization(ctx, rec.Response, rec)
		return textResult(false, "%s", out.Instructions), out, nil
	}
	return textResult(false, "Escalation %s is still pending with a human operator.", rec.ID), out, nil
}

func (s *Server) authorization(ctx context.Context, response string, rec *escalation.Escalation) string {
	if s.prompts == nil {
		return "A human operator responded: " + response
	}
	text, err := s.prompts.Authorization(prompt.AuthorizationData{Response: response, Escalation: rec})
	if err != nil {
		observe.Logger(ctx).Warn("failed to render authorization prompt", "err", err)
		return "A human operator responded: " + response
	}
	return text
}

func (s *Server) filler(ctx context.Context, rec *escalation.Escalation) string {
	if s.prompts == nil {
		return "Continue the conversation naturally while a human operator reviews the request."
	}
	text, err := s.prompts.Filler(prompt.NewFillerData(rec, prompt.DefaultRecentLines))
	if err != nil {
		observe.Logger(ctx).Warn("failed to render filler prompt", "err", err)
		return "Continue the conversation naturally while a human operator reviews the request."
	}
	return text
}
