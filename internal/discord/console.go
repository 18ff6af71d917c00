package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/handoff/internal/orchestrator"
	"github.com/MrWong99/handoff/pkg/escalation"
)

// Custom IDs. Buttons and modals append the escalation ID.
const (
	respondButtonPrefix = "handoff_respond:"
	respondModalPrefix  = "handoff_respond_modal:"
	responseInputID     = "response"
)

const (
	interactionTimeout = 10 * time.Second
	modalTitleMax      = 45
	responseMaxLen     = 2000
)

// Console mirrors the escalation queue into a Discord channel and lets
// operators resolve escalations from it.
type Console struct {
	orch      *orchestrator.Orchestrator
	session   Session
	channelID string
	perms     *PermissionChecker
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	messages map[string]string // escalation ID → card message ID
}

// NewConsole creates a console posting to channelID through session.
func NewConsole(orch *orchestrator.Orchestrator, session Session, channelID string, perms *PermissionChecker, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	if perms == nil {
		perms = NewPermissionChecker("")
	}
	return &Console{
		orch:      orch,
		session:   session,
		channelID: channelID,
		perms:     perms,
		logger:    logger.With("component", "discord_console"),
		now:       time.Now,
		messages:  make(map[string]string),
	}
}

// Register installs the console's command, button and modal handlers.
func (c *Console) Register(r *CommandRouter) {
	r.RegisterCommand(&discordgo.ApplicationCommand{
		Name:        "escalations",
		Description: "List escalations waiting for an operator",
	}, c.handleList)
	r.RegisterComponent(respondButtonPrefix, c.handleRespondButton)
	r.RegisterModal(respondModalPrefix, c.handleRespondModal)
}

// MessageID returns the card message posted for an escalation.
func (c *Console) MessageID(escalationID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.messages[escalationID]
	return id, ok
}

// Run posts cards for the current queue and then follows lifecycle events
// until ctx is cancelled.
func (c *Console) Run(ctx context.Context) error {
	stream, pending, err := c.orch.Connect(ctx)
	if err != nil {
		return fmt.Errorf("discord: connect console: %w", err)
	}
	defer stream.Close(context.WithoutCancel(ctx))

	for _, rec := range pending {
		c.post(rec)
	}
	c.logger.Info("discord console started", "channel_id", c.channelID, "pending", len(pending))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-stream.Events():
			if !ok {
				return nil
			}
			c.handleEvent(ev)
		}
	}
}

func (c *Console) handleEvent(ev escalation.Event) {
	if ev.Escalation == nil {
		return
	}
	switch ev.Kind {
	case escalation.EventCreated:
		c.post(ev.Escalation)
	case escalation.EventResolved, escalation.EventInsightUpdated:
		rec := ev.Escalation
		if _, ok := c.MessageID(rec.ID); !ok {
			// A resolved card is final; only post one when the resolution
			// itself was never shown.
			if rec.IsPending() || ev.Kind == escalation.EventResolved {
				c.post(rec)
			}
			return
		}
		if c.edit(rec) && !rec.IsPending() {
			c.forget(rec.ID)
		}
	}
}

func respondComponents(rec *escalation.Escalation) []discordgo.MessageComponent {
	if !rec.IsPending() {
		return []discordgo.MessageComponent{}
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{
				Label:    "Respond",
				Style:    discordgo.PrimaryButton,
				CustomID: respondButtonPrefix + rec.ID,
			},
		}},
	}
}

func (c *Console) post(rec *escalation.Escalation) {
	if _, ok := c.MessageID(rec.ID); ok {
		return
	}
	msg, err := c.session.ChannelMessageSendComplex(c.channelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{buildEscalationEmbed(rec)},
		Components: respondComponents(rec),
	})
	if err != nil {
		c.logger.Warn("failed to post escalation card", "escalation_id", rec.ID, "err", err)
		return
	}
	if !rec.IsPending() {
		return
	}
	c.mu.Lock()
	c.messages[rec.ID] = msg.ID
	c.mu.Unlock()
}

// forget drops the card of a resolved escalation; it needs no more edits.
func (c *Console) forget(id string) {
	c.mu.Lock()
	delete(c.messages, id)
	c.mu.Unlock()
}

func (c *Console) edit(rec *escalation.Escalation) bool {
	msgID, _ := c.MessageID(rec.ID)
	embeds := []*discordgo.MessageEmbed{buildEscalationEmbed(rec)}
	components := respondComponents(rec)
	_, err := c.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		ID:         msgID,
		Channel:    c.channelID,
		Embeds:     &embeds,
		Components: &components,
	})
	if err != nil {
		c.logger.Warn("failed to update escalation card", "escalation_id", rec.ID, "err", err)
		return false
	}
	return true
}

func (c *Console) handleList(s Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	list, err := c.orch.ListPending(ctx)
	if err != nil {
		c.logger.Error("failed to list pending escalations", "err", err)
		RespondEphemeral(s, i, "Could not load the escalation queue.")
		return
	}
	RespondEmbed(s, i, buildPendingListEmbed(list, c.now()))
}

func (c *Console) handleRespondButton(s Session, i *discordgo.InteractionCreate) {
	if !c.perms.IsOperator(i) {
		RespondEphemeral(s, i, "You need the operator role to respond to escalations.")
		return
	}
	id := strings.TrimPrefix(i.MessageComponentData().CustomID, respondButtonPrefix)

	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	rec, err := c.orch.Get(ctx, id)
	switch {
	case errors.Is(err, escalation.ErrNotFound):
		RespondEphemeral(s, i, fmt.Sprintf("Escalation `%s` no longer exists.", id))
		return
	case err != nil:
		c.logger.Error("failed to load escalation", "escalation_id", id, "err", err)
		RespondEphemeral(s, i, "Could not load the escalation. Try again.")
		return
	case !rec.IsPending():
		RespondEphemeral(s, i, alreadyResolvedMessage(rec))
		return
	}

	RespondModal(s, i, &discordgo.InteractionResponseData{
		CustomID: respondModalPrefix + id,
		Title:    truncate("Respond: "+rec.Reason, modalTitleMax),
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.TextInput{
					CustomID:    responseInputID,
					Label:       "Your decision",
					Style:       discordgo.TextInputParagraph,
					Placeholder: "e.g. Approved, offer a 20% discount",
					Required:    new(true),
					MaxLength:   responseMaxLen,
				},
			}},
		},
	})
}

func (c *Console) handleRespondModal(s Session, i *discordgo.InteractionCreate) {
	if !c.perms.IsOperator(i) {
		RespondEphemeral(s, i, "You need the operator role to respond to escalations.")
		return
	}
	data := i.ModalSubmitData()
	id := strings.TrimPrefix(data.CustomID, respondModalPrefix)
	response := strings.TrimSpace(modalValue(data, responseInputID))
	if response == "" {
		RespondEphemeral(s, i, "A response is required.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	_, err := c.orch.Respond(ctx, id, response)
	var already *escalation.AlreadyResolvedError
	switch {
	case err == nil:
		c.logger.Info("operator responded", "escalation_id", id, "operator", operatorName(i))
		RespondEphemeral(s, i, "Response sent to the agent.")
	case errors.As(err, &already):
		RespondEphemeral(s, i, alreadyResolvedMessage(already.Current))
	case errors.Is(err, escalation.ErrNotFound):
		RespondEphemeral(s, i, fmt.Sprintf("Escalation `%s` no longer exists.", id))
	default:
		c.logger.Error("failed to record response", "escalation_id", id, "err", err)
		RespondEphemeral(s, i, "Could not record the response. Try again.")
	}
}

func alreadyResolvedMessage(rec *escalation.Escalation) string {
	return fmt.Sprintf("Escalation `%s` was already resolved by another operator:\n> %s", rec.ID, rec.Response)
}

// modalValue returns the value of the text input with customID.
func modalValue(data discordgo.ModalSubmitInteractionData, customID string) string {
	for _, row := range data.Components {
		ar, ok := row.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, comp := range ar.Components {
			if ti, ok := comp.(*discordgo.TextInput); ok && ti.CustomID == customID {
				return ti.Value
			}
		}
	}
	return ""
}
