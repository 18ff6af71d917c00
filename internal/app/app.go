// Package app wires all handoff subsystems into a running server.
//
// The App struct owns the full lifecycle: New opens the store and builds the
// orchestrator and its transports, Run serves HTTP and drives the background
// consumers (insight analyst, Discord console), and Shutdown releases
// everything in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithProviderRegistry, etc.). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/handoff/internal/api"
	"github.com/MrWong99/handoff/internal/config"
	"github.com/MrWong99/handoff/internal/discord"
	"github.com/MrWong99/handoff/internal/health"
	"github.com/MrWong99/handoff/internal/hub"
	"github.com/MrWong99/handoff/internal/insight"
	"github.com/MrWong99/handoff/internal/mcp"
	"github.com/MrWong99/handoff/internal/observe"
	"github.com/MrWong99/handoff/internal/orchestrator"
	"github.com/MrWong99/handoff/internal/prompt"
	"github.com/MrWong99/handoff/internal/registry"
	"github.com/MrWong99/handoff/internal/resilience"
	"github.com/MrWong99/handoff/internal/token"
	"github.com/MrWong99/handoff/pkg/escalation"
	"github.com/MrWong99/handoff/pkg/escalation/memstore"
	"github.com/MrWong99/handoff/pkg/escalation/postgres"
	"github.com/MrWong99/handoff/pkg/escalation/sqlite"
)

// httpShutdownTimeout bounds how long Run waits for in-flight requests after
// its context is cancelled.
const httpShutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	version  string
	logger   *slog.Logger
	logLevel *slog.LevelVar
	metrics  *observe.Metrics
	llms     *config.Registry

	store   escalation.Store
	orch    *orchestrator.Orchestrator
	prompts *prompt.Builder
	api     *api.Server
	mcp     *mcp.Server
	health  *health.Handler
	analyst *insight.Analyst
	bot     *discord.Bot
	console *discord.Console
	handler http.Handler

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects an escalation store instead of opening one from
// store.backend. The caller keeps ownership and closes it.
func WithStore(s escalation.Store) Option {
	return func(a *App) { a.store = s }
}

// WithProviderRegistry sets the registry used to build the insight LLM
// provider. Required when insight is enabled.
func WithProviderRegistry(r *config.Registry) Option {
	return func(a *App) { a.llms = r }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the base logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithLogLevel hands the app the level variable behind the logger so that
// [App.Reload] can change verbosity without a restart.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithVersion sets the version reported to MCP clients.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// New builds an App from cfg. cfg must already be validated and have its
// defaults applied, as [config.Load] does.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, version: "dev"}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initCore(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init core: %w", err)
	}
	if err := a.initTransports(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init transports: %w", err)
	}
	if err := a.initInsight(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init insight: %w", err)
	}
	if err := a.initDiscord(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init discord: %w", err)
	}
	return a, nil
}

// initStore opens the configured backend unless a store was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	switch a.cfg.Store.Backend {
	case config.StorePostgres:
		s, err := postgres.Open(ctx, a.cfg.Store.PostgresDSN)
		if err != nil {
			return err
		}
		a.store = s
		a.closers = append(a.closers, s.Close)
	case config.StoreSQLite:
		s, err := sqlite.Open(ctx, a.cfg.Store.SQLitePath)
		if err != nil {
			return err
		}
		a.store = s
		a.closers = append(a.closers, s.Close)
	default:
		a.store = memstore.New()
	}
	a.logger.Info("escalation store ready", "backend", a.cfg.Store.Backend)
	return nil
}

// initCore builds the registry, hub, orchestrator and prompt builder and
// seeds the pending gauge from records that survived a restart.
func (a *App) initCore(ctx context.Context) error {
	reg := registry.New(registry.WithConsoleBuffer(a.cfg.Escalation.ConsoleBuffer))
	h := hub.New(reg, hub.WithMetrics(a.metrics), hub.WithLogger(a.logger))
	a.orch = orchestrator.New(a.store, h,
		orchestrator.WithMetrics(a.metrics),
		orchestrator.WithLogger(a.logger),
	)

	prompts, err := prompt.New(a.cfg.Agent, a.cfg.Escalation.DecisionTypes, prompt.WithLogger(a.logger))
	if err != nil {
		return err
	}
	a.prompts = prompts

	pending, err := a.orch.ListPending(ctx)
	if err != nil {
		return err
	}
	if n := len(pending); n > 0 {
		a.metrics.PendingEscalations.Add(ctx, int64(n))
		a.logger.Info("restored pending escalations", "count", n)
	}
	return nil
}

// initTransports builds the HTTP API, the MCP endpoint and the probes, and
// assembles the root handler.
func (a *App) initTransports() error {
	esc := a.cfg.Escalation
	apiOpts := []api.Option{
		api.WithPrompts(a.prompts),
		api.WithAllowedOrigins(a.cfg.Server.CORSOrigins),
		api.WithAwaitTimeouts(esc.AwaitTimeout, esc.MaxAwaitTimeout),
		api.WithLogger(a.logger),
	}
	lk := a.cfg.LiveKit
	if lk.APIKey != "" && lk.APISecret != "" {
		issuer, err := token.NewIssuer(lk.APIKey, lk.APISecret, lk.TokenTTL)
		if err != nil {
			return err
		}
		apiOpts = append(apiOpts, api.WithTokenIssuer(issuer, lk.URL))
	} else {
		a.logger.Info("livekit credentials not configured; token endpoint disabled")
	}
	a.api = api.New(a.orch, apiOpts...)

	a.health = health.New(health.StoreChecker(a.store))

	mux := http.NewServeMux()
	a.api.Register(mux)
	a.health.Register(mux)
	mux.Handle("GET "+a.cfg.Telemetry.MetricsPath, observe.MetricsHandler())

	if a.cfg.MCP.IsEnabled() {
		a.mcp = mcp.New(a.orch, a.version,
			mcp.WithPrompts(a.prompts),
			mcp.WithAwaitTimeout(esc.AwaitTimeout),
			mcp.WithLogger(a.logger),
		)
		mux.Handle(a.cfg.MCP.Path, a.mcp.Handler())
	}

	a.handler = api.CORS(a.cfg.Server.CORSOrigins)(observe.Middleware(a.metrics)(mux))
	return nil
}

// initInsight builds the analyst when insight generation is enabled.
func (a *App) initInsight() error {
	ic := a.cfg.Insight
	if !ic.Enabled {
		return nil
	}
	if a.llms == nil {
		return errors.New("insight is enabled but no provider registry was supplied")
	}

	provider, err := insight.NewProvider(a.llms, ic, resilience.CircuitBreakerConfig{
		Name:   "insight",
		Logger: a.logger,
	})
	if err != nil {
		return err
	}
	a.analyst = insight.New(a.orch, provider,
		insight.WithTimeout(ic.Timeout),
		insight.WithConcurrency(ic.Concurrency),
		insight.WithMetrics(a.metrics),
		insight.WithLogger(a.logger),
	)
	a.logger.Info("insight analyst configured",
		"provider", ic.Provider.Name,
		"model", ic.Provider.Model,
		"fallbacks", len(ic.Fallbacks),
	)
	return nil
}

// initDiscord connects the bot and attaches the escalation console when a
// token is configured.
func (a *App) initDiscord(ctx context.Context) error {
	dc := a.cfg.Discord
	if dc.Token == "" {
		return nil
	}

	bot, err := discord.New(ctx, dc, a.logger)
	if err != nil {
		return err
	}
	a.bot = bot
	a.closers = append(a.closers, bot.Close)

	a.console = discord.NewConsole(a.orch, bot.Session(), dc.ChannelID, bot.Permissions(), a.logger)
	a.console.Register(bot.Router())
	a.logger.Info("discord console connected", "guild_id", dc.GuildID, "channel_id", dc.ChannelID)
	return nil
}

// Orchestrator returns the escalation orchestrator.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Handler returns the root HTTP handler with CORS and telemetry middleware
// applied.
func (a *App) Handler() http.Handler { return a.handler }

// Run listens on server.listen_addr and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves HTTP on ln and runs the background consumers until ctx is
// cancelled or one of them fails. In-flight long-polls observe the
// cancellation through their request context. Serve returns nil after a
// clean shutdown.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return gctx },
		ErrorLog:          slog.NewLogLogger(a.logger.Handler(), slog.LevelWarn),
	}

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), httpShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})

	if a.analyst != nil {
		g.Go(func() error { return a.analyst.Run(gctx) })
	}
	if a.bot != nil {
		g.Go(func() error { return a.bot.Run(gctx) })
		g.Go(func() error { return a.console.Run(gctx) })
	}

	a.logger.Info("handoff serving",
		"addr", ln.Addr().String(),
		"tls", a.cfg.Server.TLS != nil,
		"mcp", a.mcp != nil,
		"insight", a.analyst != nil,
		"discord", a.bot != nil,
	)
	return g.Wait()
}

// Reload applies the hot-reloadable part of a config change. It is meant as
// the [config.Watcher] callback; sections that need a restart are logged.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		a.logger.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.AgentChanged || d.DecisionTypesChanged {
		if err := a.prompts.Update(new.Agent, new.Escalation.DecisionTypes); err != nil {
			a.logger.Warn("agent prompts not reloaded", "err", err)
		}
	}
	if d.AwaitTimeoutChanged {
		a.api.SetAwaitTimeouts(new.Escalation.AwaitTimeout, new.Escalation.MaxAwaitTimeout)
		if a.mcp != nil {
			a.mcp.SetAwaitTimeout(new.Escalation.AwaitTimeout)
		}
		a.logger.Info("await timeouts changed",
			"default", new.Escalation.AwaitTimeout,
			"max", new.Escalation.MaxAwaitTimeout,
		)
	}
	if len(d.RestartRequired) > 0 {
		a.logger.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// Shutdown releases subsystems in reverse-init order, so the Discord session
// goes before the store. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned. Call it after Run has returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
			}
		}
		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever New opened before it failed.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}

// SlogLevel maps a config log level to its slog equivalent. Unknown values
// map to info.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
