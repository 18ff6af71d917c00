// Command handoff is the main entry point for the handoff escalation server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/handoff/internal/app"
	"github.com/MrWong99/handoff/internal/config"
	"github.com/MrWong99/handoff/internal/observe"
	"github.com/MrWong99/handoff/pkg/provider/llm"
	"github.com/MrWong99/handoff/pkg/provider/llm/anyllm"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload prompt and timeout settings when the config file changes")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "handoff: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "handoff: %v\n", err)
		}
		return 1
	}

	var level slog.LevelVar
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("handoff starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg,
		app.WithProviderRegistry(reg),
		app.WithLogger(logger),
		app.WithLogLevel(&level),
		app.WithVersion(version),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if *watch {
		watcher, err := config.NewWatcher(*configPath, application.Reload, config.WithWatcherLogger(logger))
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer watcher.Stop()
		}
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	exitCode := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return exitCode
}

// llmBackends lists the any-llm backends that take an API key. Ollama runs
// locally and only honours base_url.
var llmBackends = []string{
	"openai", "anthropic", "gemini",
	"deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires the built-in LLM factories into reg. Each
// factory receives a config.ProviderEntry and constructs the provider through
// any-llm-go.
func registerBuiltinProviders(reg *config.Registry) {
	for _, providerName := range llmBackends {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		p, err := anyllm.New("ollama", entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	for _, name := range reg.LLMNames() {
		slog.Debug("registered provider", "kind", "llm", "name", name)
	}
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("+---------------------------------------+")
	fmt.Println("|        handoff - startup summary      |")
	fmt.Println("+---------------------------------------+")
	printRow("Listen addr", cfg.Server.ListenAddr)
	printRow("Store", string(cfg.Store.Backend))
	if cfg.MCP.IsEnabled() {
		printRow("MCP endpoint", cfg.MCP.Path)
	} else {
		printRow("MCP endpoint", "(disabled)")
	}
	if cfg.Insight.Enabled {
		value := cfg.Insight.Provider.Name
		if cfg.Insight.Provider.Model != "" {
			value += " / " + cfg.Insight.Provider.Model
		}
		printRow("Insight", value)
	} else {
		printRow("Insight", "(disabled)")
	}
	if cfg.Discord.Token != "" {
		printRow("Discord", "enabled")
	} else {
		printRow("Discord", "(disabled)")
	}
	if cfg.LiveKit.APIKey != "" {
		printRow("LiveKit tokens", "enabled")
	} else {
		printRow("LiveKit tokens", "(disabled)")
	}
	printRow("Decision types", fmt.Sprint(len(cfg.Escalation.DecisionTypes)))
	fmt.Println("+---------------------------------------+")
}

func printRow(label, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "~"
	}
	fmt.Printf("|  %-15s : %-19s |\n", label, value)
}
