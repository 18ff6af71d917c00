package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked individually; any
// other changed section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AgentChanged is true if any prompt material changed.
	AgentChanged bool

	// DecisionTypesChanged is true if the advertised decision types changed.
	DecisionTypesChanged bool

	// AwaitTimeoutChanged is true if the default or maximum await timeout
	// changed.
	AwaitTimeoutChanged bool

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// HasHotChanges reports whether any hot-reloadable setting changed.
func (d ConfigDiff) HasHotChanges() bool {
	return d.LogLevelChanged || d.AgentChanged || d.DecisionTypesChanged || d.AwaitTimeoutChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Agent != new.Agent {
		d.AgentChanged = true
	}
	if !slices.Equal(old.Escalation.DecisionTypes, new.Escalation.DecisionTypes) {
		d.DecisionTypesChanged = true
	}
	if old.Escalation.AwaitTimeout != new.Escalation.AwaitTimeout ||
		old.Escalation.MaxAwaitTimeout != new.Escalation.MaxAwaitTimeout {
		d.AwaitTimeoutChanged = true
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Escalation.ConsoleBuffer != new.Escalation.ConsoleBuffer {
		d.RestartRequired = append(d.RestartRequired, "escalation.console_buffer")
	}
	if old.LiveKit != new.LiveKit {
		d.RestartRequired = append(d.RestartRequired, "livekit")
	}
	if old.Discord != new.Discord {
		d.RestartRequired = append(d.RestartRequired, "discord")
	}
	if !reflect.DeepEqual(old.Insight, new.Insight) {
		d.RestartRequired = append(d.RestartRequired, "insight")
	}
	if !reflect.DeepEqual(old.MCP, new.MCP) {
		d.RestartRequired = append(d.RestartRequired, "mcp")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}
