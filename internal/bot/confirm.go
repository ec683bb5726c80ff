package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/flowbaker/discord-bridge/pkg/domain"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
)

const (
	defaultConfirmTimeout = 60 * time.Second

	confirmAffirmPrefix = "confirm_yes_"
	confirmDenyPrefix   = "confirm_no_"
)

// confirmation is one pending interactive request. resolve honors exactly
// one outcome; later resolutions are dropped.
type confirmation struct {
	id   string
	done chan *bool
	once sync.Once
}

func (c *confirmation) resolve(choice *bool) {
	c.once.Do(func() {
		c.done <- choice
	})
}

// SendConfirmation sends a prompt with affirm/deny buttons and waits for the
// first interaction on it, up to the given timeout. The prompt message is
// deleted in every outcome. Confirmed is nil when no interaction arrived.
func (c *Connection) SendConfirmation(ctx context.Context, channelID string, spec domain.MessageSpec, timeout time.Duration) domain.ConfirmationResponse {
	gw := c.gateway()
	if gw == nil {
		return domain.ConfirmationResponse{
			Success: false,
			Error:   fmt.Sprintf("bot %s is not ready", c.creds.ClientID),
		}
	}
	if timeout <= 0 {
		timeout = defaultConfirmTimeout
	}

	if err := c.checkTextChannel(gw, channelID); err != nil {
		return domain.ConfirmationResponse{Success: false, Error: err.Error()}
	}

	send, err := BuildMessage(channelID, spec)
	if err != nil {
		return domain.ConfirmationResponse{Success: false, Error: err.Error()}
	}

	promptID := xid.New().String()
	send.Components = []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Yes",
					Style:    discordgo.SuccessButton,
					CustomID: confirmAffirmPrefix + promptID,
				},
				discordgo.Button{
					Label:    "No",
					Style:    discordgo.DangerButton,
					CustomID: confirmDenyPrefix + promptID,
				},
			},
		},
	}

	message, err := gw.ChannelMessageSendComplex(channelID, send)
	if err != nil {
		log.Error().Err(err).
			Str("clientID", c.creds.ClientID).
			Str("channelID", channelID).
			Msg("Failed to send confirmation prompt")
		return domain.ConfirmationResponse{Success: false, Error: err.Error()}
	}

	pending := &confirmation{id: promptID, done: make(chan *bool, 1)}
	c.mu.Lock()
	c.pending[message.ID] = pending
	c.mu.Unlock()

	defer func() {
		// Tear down the collector and clean the prompt up whatever happened.
		c.mu.Lock()
		delete(c.pending, message.ID)
		c.mu.Unlock()

		if err := gw.ChannelMessageDelete(channelID, message.ID); err != nil {
			log.Warn().Err(err).
				Str("messageID", message.ID).
				Msg("Could not delete confirmation prompt")
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case choice := <-pending.done:
		return domain.ConfirmationResponse{Success: true, Confirmed: choice}
	case <-timer.C:
		log.Debug().
			Str("clientID", c.creds.ClientID).
			Str("messageID", message.ID).
			Msg("Confirmation timed out")
		return domain.ConfirmationResponse{Success: false, Confirmed: nil, Error: "confirmation timed out"}
	case <-ctx.Done():
		return domain.ConfirmationResponse{Success: false, Confirmed: nil, Error: "confirmation cancelled"}
	}
}

// HandleInteraction resolves a pending confirmation when a button on its
// prompt message is pressed. Interactions on unknown messages are ignored.
func (c *Connection) HandleInteraction(e *discordgo.InteractionCreate) {
	if e.Interaction == nil || e.Type != discordgo.InteractionMessageComponent || e.Message == nil {
		return
	}

	c.mu.Lock()
	pending := c.pending[e.Message.ID]
	gw := c.gw
	c.mu.Unlock()
	if pending == nil {
		return
	}

	customID := e.MessageComponentData().CustomID
	var choice bool
	switch {
	case strings.HasPrefix(customID, confirmAffirmPrefix):
		choice = true
	case strings.HasPrefix(customID, confirmDenyPrefix):
		choice = false
	default:
		return
	}

	// Ack so the Discord client does not flag the interaction as failed.
	if gw != nil {
		if err := gw.AckComponentInteraction(e.Interaction); err != nil {
			log.Warn().Err(err).Msg("Could not acknowledge confirmation interaction")
		}
	}

	pending.resolve(&choice)
}
