package config

import "time"

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultListenAddr      = ":8000"
	DefaultAwaitTimeout    = 30 * time.Second
	DefaultMaxAwaitTimeout = 5 * time.Minute
	DefaultConsoleBuffer   = 64
	DefaultLiveKitURL      = "ws://localhost:7880"
	DefaultTokenTTL        = 2 * time.Hour
	DefaultInsightTimeout  = 20 * time.Second
	DefaultInsightWorkers  = 4
	DefaultMCPPath         = "/mcp"
	DefaultMetricsPath     = "/metrics"
	DefaultServiceName     = "handoff"
	DefaultSQLitePath      = "data/handoff.db"
)

// DefaultCORSOrigins are the local dev UI origins (Next.js and Vite).
var DefaultCORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// DefaultDecisionTypes are the decision categories offered to agents when none
// are configured.
var DefaultDecisionTypes = []string{
	"authorization",
	"financial",
	"sensitive_topic",
	"user_request",
	"policy_exception",
	"custom_request",
}

const defaultInstructions = `You are a helpful assistant. Be conversational, knowledgeable, and focus on understanding the user's needs.

When you encounter situations that require human judgment, authorization, or decisions beyond your authority, use the escalate_to_human tool.`

const defaultAuthorityLimits = `You can:
- Answer questions based on your knowledge
- Provide information and guidance
- Help with standard procedures

You CANNOT:
- Make decisions requiring authorization
- Approve exceptions to policies
- Commit to actions beyond your authority
- Make financial decisions without approval`

const defaultEscalationTriggers = `Use escalate_to_human when:
- The request requires authorization beyond your normal authority
- Financial decisions need approval
- Sensitive topics require human judgment
- User explicitly requests to speak with a human
- Policy exceptions are needed
- Custom requests that fall outside standard procedures`

const defaultFillerTemplate = `Continue the conversation naturally about the topic. {{ .Context | trim }}

{{ .RecentContext }}

Acknowledge their request and explore the topic further. Be conversational and genuine. Never mention waiting, checking with teams, or needing approval - just continue the conversation naturally while the matter is being reviewed.`

const defaultAuthorizationTemplate = `IMPORTANT: You have just received authorization: "{{ .Response | trim }}"

This authorization OVERRIDES your normal authority limits. Act on it IMMEDIATELY.

Respond right now with enthusiasm and confidence. Announce the approval or decision immediately. Be spontaneous and genuine. Act as if you just received this authorization and are excited to share it.

Respond RIGHT NOW with the authorized action or decision.`

const defaultGreeting = "Greet the user warmly and ask how you can help them today."

// ApplyDefaults fills every unset field with its default value.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.CORSOrigins == nil {
		c.Server.CORSOrigins = append([]string(nil), DefaultCORSOrigins...)
	}

	if c.Store.Backend == "" {
		c.Store.Backend = StoreMemory
	}
	if c.Store.Backend == StoreSQLite && c.Store.SQLitePath == "" {
		c.Store.SQLitePath = DefaultSQLitePath
	}

	if c.Escalation.AwaitTimeout == 0 {
		c.Escalation.AwaitTimeout = DefaultAwaitTimeout
	}
	if c.Escalation.MaxAwaitTimeout == 0 {
		c.Escalation.MaxAwaitTimeout = max(DefaultMaxAwaitTimeout, c.Escalation.AwaitTimeout)
	}
	if c.Escalation.ConsoleBuffer == 0 {
		c.Escalation.ConsoleBuffer = DefaultConsoleBuffer
	}
	if len(c.Escalation.DecisionTypes) == 0 {
		c.Escalation.DecisionTypes = append([]string(nil), DefaultDecisionTypes...)
	}

	c.Agent.applyDefaults()

	if c.LiveKit.URL == "" {
		c.LiveKit.URL = DefaultLiveKitURL
	}
	if c.LiveKit.TokenTTL == 0 {
		c.LiveKit.TokenTTL = DefaultTokenTTL
	}

	if c.Insight.Timeout == 0 {
		c.Insight.Timeout = DefaultInsightTimeout
	}
	if c.Insight.Concurrency == 0 {
		c.Insight.Concurrency = DefaultInsightWorkers
	}

	if c.MCP.Path == "" {
		c.MCP.Path = DefaultMCPPath
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
	if c.Telemetry.MetricsPath == "" {
		c.Telemetry.MetricsPath = DefaultMetricsPath
	}
}

func (a *AgentConfig) applyDefaults() {
	if a.Name == "" {
		a.Name = "Assistant"
	}
	if a.Role == "" {
		a.Role = "helpful assistant"
	}
	if a.Personality == "" {
		a.Personality = "friendly, knowledgeable, and professional"
	}
	if a.Instructions == "" {
		a.Instructions = defaultInstructions
	}
	if a.AuthorityLimits == "" {
		a.AuthorityLimits = defaultAuthorityLimits
	}
	if a.EscalationTriggers == "" {
		a.EscalationTriggers = defaultEscalationTriggers
	}
	if a.FillerTemplate == "" {
		a.FillerTemplate = defaultFillerTemplate
	}
	if a.AuthorizationTemplate == "" {
		a.AuthorizationTemplate = defaultAuthorizationTemplate
	}
	if a.Greeting == "" {
		a.Greeting = defaultGreeting
	}
}
