package discord

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// HandlerFunc handles one interaction.
type HandlerFunc func(s Session, i *discordgo.InteractionCreate)

type commandEntry struct {
	command *discordgo.ApplicationCommand
	handler HandlerFunc
}

type prefixEntry struct {
	prefix  string
	handler HandlerFunc
}

// CommandRouter dispatches interactions by command name or custom_id.
// Buttons and modals carry the escalation ID after a fixed prefix, so both
// are matched by prefix; the longest registered prefix wins.
type CommandRouter struct {
	mu         sync.RWMutex
	commands   map[string]commandEntry
	components []prefixEntry
	modals     []prefixEntry
	logger     *slog.Logger
}

// NewCommandRouter creates an empty router.
func NewCommandRouter(logger *slog.Logger) *CommandRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandRouter{
		commands: make(map[string]commandEntry),
		logger:   logger.With("component", "discord"),
	}
}

// RegisterCommand registers a slash command and its handler.
func (r *CommandRouter) RegisterCommand(cmd *discordgo.ApplicationCommand, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[cmd.Name] = commandEntry{command: cmd, handler: handler}
}

// RegisterComponent registers a handler for buttons whose custom_id starts
// with prefix.
func (r *CommandRouter) RegisterComponent(prefix string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components = append(r.components, prefixEntry{prefix, handler})
}

// RegisterModal registers a handler for modal submits whose custom_id starts
// with prefix.
func (r *CommandRouter) RegisterModal(prefix string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modals = append(r.modals, prefixEntry{prefix, handler})
}

// ApplicationCommands returns the command definitions to register with
// Discord.
func (r *CommandRouter) ApplicationCommands() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmds := make([]*discordgo.ApplicationCommand, 0, len(r.commands))
	for _, e := range r.commands {
		cmds = append(cmds, e.command)
	}
	return cmds
}

// Handle dispatches i to the matching handler.
func (r *CommandRouter) Handle(s Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		name := i.ApplicationCommandData().Name
		r.mu.RLock()
		entry, ok := r.commands[name]
		r.mu.RUnlock()
		if !ok {
			r.logger.Warn("unknown command", "name", name)
			RespondEphemeral(s, i, "Unknown command.")
			return
		}
		entry.handler(s, i)

	case discordgo.InteractionMessageComponent:
		r.dispatchPrefix(s, i, r.components, i.MessageComponentData().CustomID, "component")

	case discordgo.InteractionModalSubmit:
		r.dispatchPrefix(s, i, r.modals, i.ModalSubmitData().CustomID, "modal")

	default:
		r.logger.Debug("unhandled interaction type", "type", i.Type)
	}
}

func (r *CommandRouter) dispatchPrefix(s Session, i *discordgo.InteractionCreate, entries []prefixEntry, customID, kind string) {
	r.mu.RLock()
	var best prefixEntry
	for _, e := range entries {
		if strings.HasPrefix(customID, e.prefix) && len(e.prefix) > len(best.prefix) {
			best = e
		}
	}
	r.mu.RUnlock()

	if best.handler == nil {
		r.logger.Warn("unknown "+kind, "custom_id", customID)
		RespondEphemeral(s, i, "This control is no longer active.")
		return
	}
	best.handler(s, i)
}
