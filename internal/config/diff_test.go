package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/handoff/internal/config"
)

func defaulted() *config.Config {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	old, new := defaulted(), defaulted()
	d := config.Diff(old, new)
	if d.HasHotChanges() {
		t.Errorf("expected no hot changes, got %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("expected no restart-required sections, got %v", d.RestartRequired)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := defaulted(), defaulted()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level alone should not require restart, got %v", d.RestartRequired)
	}
}

func TestDiff_AgentChanged(t *testing.T) {
	t.Parallel()
	old, new := defaulted(), defaulted()
	new.Agent.AuthorizationTemplate = "Approved: {{ .Response }}"

	d := config.Diff(old, new)
	if !d.AgentChanged {
		t.Error("expected AgentChanged=true")
	}
	if !d.HasHotChanges() {
		t.Error("expected HasHotChanges=true")
	}
}

func TestDiff_EscalationHotFields(t *testing.T) {
	t.Parallel()
	old, new := defaulted(), defaulted()
	new.Escalation.AwaitTimeout = 10 * time.Second
	new.Escalation.DecisionTypes = append(new.Escalation.DecisionTypes, "refund")

	d := config.Diff(old, new)
	if !d.AwaitTimeoutChanged {
		t.Error("expected AwaitTimeoutChanged=true")
	}
	if !d.DecisionTypesChanged {
		t.Error("expected DecisionTypesChanged=true")
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("expected no restart-required sections, got %v", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old, new := defaulted(), defaulted()
	new.Server.ListenAddr = ":9999"
	new.Store.Backend = config.StoreSQLite
	new.Escalation.ConsoleBuffer = 8
	new.LiveKit.APIKey = "k"
	new.Discord.ChannelID = "123"
	new.Insight.Enabled = true
	disabled := false
	new.MCP.Enabled = &disabled
	new.Telemetry.ServiceName = "handoff-eu"

	d := config.Diff(old, new)
	want := []string{"server", "store", "escalation.console_buffer", "livekit", "discord", "insight", "mcp", "telemetry"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if d.HasHotChanges() {
		t.Errorf("expected no hot changes, got %+v", d)
	}
}
