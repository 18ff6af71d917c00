// Package mock provides a test double for the Discord session used by the
// operator console.
package mock

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Sent records a ChannelMessageSendComplex call.
type Sent struct {
	ChannelID string
	Message   *discordgo.MessageSend
}

// Session records every interaction response, sent message and edit. It is
// safe for concurrent use.
type Session struct {
	mu sync.Mutex

	// Err, when non-nil, is returned by every method.
	Err error

	responses []*discordgo.InteractionResponse
	sent      []Sent
	edits     []*discordgo.MessageEdit
	nextID    int
}

// InteractionRespond records resp.
func (m *Session) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	return m.Err
}

// ChannelMessageSendComplex records data and returns a message with a
// sequential ID ("msg-1", "msg-2", ...).
func (m *Session) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.sent = append(m.sent, Sent{ChannelID: channelID, Message: data})
	m.nextID++
	return &discordgo.Message{ID: fmt.Sprintf("msg-%d", m.nextID), ChannelID: channelID}, nil
}

// ChannelMessageEditComplex records edit.
func (m *Session) ChannelMessageEditComplex(edit *discordgo.MessageEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.edits = append(m.edits, edit)
	return &discordgo.Message{ID: edit.ID, ChannelID: edit.Channel}, nil
}

// Responses returns a copy of the recorded interaction responses.
func (m *Session) Responses() []*discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*discordgo.InteractionResponse(nil), m.responses...)
}

// LastResponse returns the most recent interaction response, or nil.
func (m *Session) LastResponse() *discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.responses) == 0 {
		return nil
	}
	return m.responses[len(m.responses)-1]
}

// Sent returns a copy of the recorded channel messages.
func (m *Session) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sent(nil), m.sent...)
}

// Edits returns a copy of the recorded message edits.
func (m *Session) Edits() []*discordgo.MessageEdit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*discordgo.MessageEdit(nil), m.edits...)
}
