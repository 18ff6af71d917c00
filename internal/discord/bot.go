// Package discord is the Discord operator console. Every new escalation is
// posted as an embed with a Respond button in a configured channel; the
// button opens a modal whose submission resolves the escalation. The embed is
// edited in place as insight arrives and when the escalation is resolved.
//
// [Bot] owns the discordgo session lifecycle, [CommandRouter] dispatches
// interactions and [Console] holds the escalation-specific behaviour.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/handoff/internal/config"
)

// Bot owns the Discord gateway connection and routes interactions to
// registered handlers.
type Bot struct {
	mu        sync.RWMutex
	session   *discordgo.Session
	router    *CommandRouter
	perms     *PermissionChecker
	guildID   string
	commands  []*discordgo.ApplicationCommand
	logger    *slog.Logger
	closeOnce sync.Once
}

// New connects to Discord and installs the interaction handler.
func New(_ context.Context, cfg config.DiscordConfig, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}

	b := &Bot{
		session: session,
		router:  NewCommandRouter(logger),
		perms:   NewPermissionChecker(cfg.OperatorRoleID),
		guildID: cfg.GuildID,
		logger:  logger.With("component", "discord"),
	}
	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})
	return b, nil
}

// Session returns the underlying discordgo session.
func (b *Bot) Session() *discordgo.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// Router returns the interaction router.
func (b *Bot) Router() *CommandRouter { return b.router }

// Permissions returns the operator role checker.
func (b *Bot) Permissions() *PermissionChecker { return b.perms }

// Run registers slash commands for the guild and blocks until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.RLock()
	appID := b.session.State.User.ID
	b.mu.RUnlock()

	if cmds := b.router.ApplicationCommands(); len(cmds) > 0 {
		registered, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, cmds)
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		b.mu.Lock()
		b.commands = registered
		b.mu.Unlock()
		b.logger.Info("discord commands registered", "count", len(registered))
	}

	<-ctx.Done()
	return nil
}

// Close unregisters commands and disconnects. Safe to call more than once.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if len(b.commands) > 0 {
			appID := b.session.State.User.ID
			for _, cmd := range b.commands {
				if err := b.session.ApplicationCommandDelete(appID, b.guildID, cmd.ID); err != nil {
					b.logger.Warn("failed to delete command", "name", cmd.Name, "err", err)
				}
			}
		}
		if err := b.session.Close(); err != nil {
			closeErr = fmt.Errorf("discord: close session: %w", err)
		}
		b.logger.Info("discord bot closed")
	})
	return closeErr
}
