// Package insight attaches a short LLM-written analysis to every new
// escalation so that operators see a suggested reading of the request next to
// the raw transcript.
//
// The [Analyst] subscribes to the orchestrator like any other console. Each
// created event is analysed on a bounded worker pool and the result is written
// back through [orchestrator.Orchestrator.AttachInsight], which broadcasts an
// insight_updated event to every console.
package insight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/handoff/internal/config"
	"github.com/MrWong99/handoff/internal/observe"
	"github.com/MrWong99/handoff/internal/orchestrator"
	"github.com/MrWong99/handoff/internal/resilience"
	"github.com/MrWong99/handoff/pkg/escalation"
	"github.com/MrWong99/handoff/pkg/provider/llm"
)

// DefaultSystemPrompt frames the analyst for the model.
const DefaultSystemPrompt = `You help human operators who review requests escalated by an AI voice agent.
Given an escalation, write at most three short sentences for the operator: what the caller wants, anything that looks risky or unusual, and the decision you would suggest.
Do not address the caller. Do not invent facts that are not in the escalation.`

const maxInsightTokens = 200

// Error reasons recorded on the insight error counter.
const (
	reasonProvider    = "provider"
	reasonTimeout     = "timeout"
	reasonCircuitOpen = "circuit_open"
	reasonEmpty       = "empty"
	reasonAttach      = "attach"
)

// ErrEmptyInsight is returned when the model produced only whitespace.
var ErrEmptyInsight = errors.New("insight: model returned no text")

// Analyst generates insights for new escalations.
type Analyst struct {
	orch         *orchestrator.Orchestrator
	provider     llm.Provider
	timeout      time.Duration
	concurrency  int
	systemPrompt string
	metrics      *observe.Metrics
	logger       *slog.Logger
}

// Option configures an [Analyst].
type Option func(*Analyst)

// WithTimeout bounds a single generation. Default [config.DefaultInsightTimeout].
func WithTimeout(d time.Duration) Option {
	return func(a *Analyst) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithConcurrency bounds parallel generations. Default
// [config.DefaultInsightWorkers].
func WithConcurrency(n int) Option {
	return func(a *Analyst) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithSystemPrompt replaces [DefaultSystemPrompt].
func WithSystemPrompt(p string) Option {
	return func(a *Analyst) { a.systemPrompt = p }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Analyst) { a.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyst) { a.logger = l }
}

// New creates an analyst that asks provider about every escalation created
// on orch.
func New(orch *orchestrator.Orchestrator, provider llm.Provider, opts ...Option) *Analyst {
	a := &Analyst{
		orch:         orch,
		provider:     provider,
		timeout:      config.DefaultInsightTimeout,
		concurrency:  config.DefaultInsightWorkers,
		systemPrompt: DefaultSystemPrompt,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	a.logger = a.logger.With("component", "insight")
	return a
}

// NewProvider builds the LLM backend chain for cfg: the primary provider and
// each fallback are created through reg and wrapped in per-backend circuit
// breakers.
func NewProvider(reg *config.Registry, cfg config.InsightConfig, breaker resilience.CircuitBreakerConfig) (llm.Provider, error) {
	primary, err := reg.CreateLLM(cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("insight: primary provider: %w", err)
	}
	chain := resilience.NewLLMFallback(primary, cfg.Provider.Name, resilience.FallbackConfig{CircuitBreaker: breaker})
	for i, fb := range cfg.Fallbacks {
		p, err := reg.CreateLLM(fb)
		if err != nil {
			return nil, fmt.Errorf("insight: fallback %d: %w", i, err)
		}
		chain.AddFallback(fmt.Sprintf("%s#%d", fb.Name, i+1), p)
	}
	return chain, nil
}

// Run consumes created events until ctx is cancelled, then waits for
// in-flight generations to finish. It always returns nil after ctx ends.
func (a *Analyst) Run(ctx context.Context) error {
	stream := a.orch.Subscribe(ctx)
	defer stream.Close(context.WithoutCancel(ctx))

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	defer func() { _ = g.Wait() }()

	a.logger.Info("insight analyst started", "concurrency", a.concurrency, "timeout", a.timeout)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-stream.Events():
			if !ok {
				return nil
			}
			if ev.Kind != escalation.EventCreated || ev.Escalation == nil {
				continue
			}
			rec := ev.Escalation
			g.Go(func() error {
				if _, err := a.Analyze(ctx, rec); err != nil && ctx.Err() == nil {
					a.logger.Warn("insight generation failed", "escalation_id", rec.ID, "err", err)
				}
				return nil
			})
		}
	}
}

// Analyze generates an insight for rec and attaches it. It returns the
// attached text.
func (a *Analyst) Analyze(ctx context.Context, rec *escalation.Escalation) (text string, err error) {
	ctx, span := observe.StartEscalationSpan(ctx, "insight.analyze", rec.ID)
	defer func() { observe.EndSpan(span, err) }()

	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	resp, err := a.provider.Complete(cctx, a.request(rec))
	a.metrics.InsightDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		a.metrics.RecordInsightError(ctx, classify(err))
		return "", fmt.Errorf("insight: %s: %w", rec.ID, err)
	}

	var content string
	if resp != nil {
		content = strings.TrimSpace(resp.Content)
	}
	if content == "" {
		a.metrics.RecordInsightError(ctx, reasonEmpty)
		return "", fmt.Errorf("insight: %s: %w", rec.ID, ErrEmptyInsight)
	}

	if _, err := a.orch.AttachInsight(ctx, rec.ID, content); err != nil {
		a.metrics.RecordInsightError(ctx, reasonAttach)
		return "", fmt.Errorf("insight: %s: %w", rec.ID, err)
	}
	a.logger.Debug("insight attached", "escalation_id", rec.ID, "took", time.Since(start))
	return content, nil
}

func classify(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return reasonTimeout
	case errors.Is(err, resilience.ErrCircuitOpen):
		return reasonCircuitOpen
	default:
		return reasonProvider
	}
}

func (a *Analyst) request(rec *escalation.Escalation) llm.CompletionRequest {
	return llm.CompletionRequest{
		SystemPrompt: a.systemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: Describe(rec)}},
		MaxTokens:    maxInsightTokens,
		Temperature:  0.2,
	}
}

// Describe renders rec as the plain-text brief sent to the model.
func Describe(rec *escalation.Escalation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reason: %s\n", rec.Reason)
	fmt.Fprintf(&b, "Urgency: %s\n", rec.Urgency)
	if rec.DecisionType != "" {
		fmt.Fprintf(&b, "Decision type: %s\n", rec.DecisionType)
	}
	if rec.ContextDetails != "" {
		fmt.Fprintf(&b, "Details: %s\n", rec.ContextDetails)
	}
	if len(rec.Transcript) > 0 {
		b.WriteString("Transcript:\n")
		for _, l := range rec.Transcript {
			fmt.Fprintf(&b, "%s: %s\n", l.Speaker, l.Text)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
