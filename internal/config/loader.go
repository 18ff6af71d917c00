package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the LLM backends known to the insight analyst.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{
	"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// envRef matches ${VAR} references. Bare $VAR is left alone so prompt text
// such as "$500" survives loading.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces every ${VAR} in data with the value of the environment
// variable VAR. Unset variables expand to the empty string.
func ExpandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envRef.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Load reads the YAML configuration file at path, expands ${VAR}
// references and returns a defaulted, validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}

	cfg, err := LoadFromReader(strings.NewReader(string(ExpandEnv(data))))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It expects
// defaults to have been applied and returns a joined error listing all
// validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Store
	switch cfg.Store.Backend {
	case StoreMemory:
		slog.Warn("store.backend is memory; escalations are lost on restart")
	case StorePostgres:
		if cfg.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required when store.backend is postgres"))
		}
	case StoreSQLite:
		if cfg.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required when store.backend is sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, postgres, sqlite", cfg.Store.Backend))
	}

	// Escalation
	esc := cfg.Escalation
	if esc.AwaitTimeout < 0 {
		errs = append(errs, fmt.Errorf("escalation.await_timeout %s must be positive", esc.AwaitTimeout))
	}
	if esc.MaxAwaitTimeout > 0 && esc.AwaitTimeout > esc.MaxAwaitTimeout {
		errs = append(errs, fmt.Errorf("escalation.await_timeout %s exceeds escalation.max_await_timeout %s", esc.AwaitTimeout, esc.MaxAwaitTimeout))
	}
	if esc.ConsoleBuffer < 0 {
		errs = append(errs, fmt.Errorf("escalation.console_buffer %d must be positive", esc.ConsoleBuffer))
	}
	seen := make(map[string]int, len(esc.DecisionTypes))
	for i, dt := range esc.DecisionTypes {
		if strings.TrimSpace(dt) == "" {
			errs = append(errs, fmt.Errorf("escalation.decision_types[%d] is empty", i))
			continue
		}
		if prev, ok := seen[dt]; ok {
			errs = append(errs, fmt.Errorf("escalation.decision_types[%d] %q is a duplicate of decision_types[%d]", i, dt, prev))
		}
		seen[dt] = i
	}

	// LiveKit
	lk := cfg.LiveKit
	switch {
	case lk.APIKey == "" && lk.APISecret == "":
		slog.Warn("livekit credentials are not configured; /api/livekit-token will return 500")
	case lk.APIKey == "" || lk.APISecret == "":
		errs = append(errs, errors.New("livekit.api_key and livekit.api_secret must be set together"))
	}
	if lk.TokenTTL < 0 {
		errs = append(errs, fmt.Errorf("livekit.token_ttl %s must be positive", lk.TokenTTL))
	}

	// Discord
	if cfg.Discord.Token != "" && cfg.Discord.ChannelID == "" {
		errs = append(errs, errors.New("discord.channel_id is required when discord.token is set"))
	}

	// Insight
	if cfg.Insight.Enabled {
		if cfg.Insight.Provider.Name == "" {
			errs = append(errs, errors.New("insight.provider.name is required when insight is enabled"))
		} else {
			validateProviderName(cfg.Insight.Provider.Name)
		}
		for i, fb := range cfg.Insight.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("insight.fallbacks[%d].name is required", i))
				continue
			}
			validateProviderName(fb.Name)
		}
		if cfg.Insight.Concurrency < 1 {
			errs = append(errs, fmt.Errorf("insight.concurrency %d must be at least 1", cfg.Insight.Concurrency))
		}
	}

	// MCP / telemetry paths
	if cfg.MCP.Path != "" && !strings.HasPrefix(cfg.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path %q must start with /", cfg.MCP.Path))
	}
	if cfg.Telemetry.MetricsPath != "" && !strings.HasPrefix(cfg.Telemetry.MetricsPath, "/") {
		errs = append(errs, fmt.Errorf("telemetry.metrics_path %q must start with /", cfg.Telemetry.MetricsPath))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is not found in
// [ValidProviderNames].
func validateProviderName(name string) {
	if slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", "llm",
		"name", name,
		"known", ValidProviderNames,
	)
}
