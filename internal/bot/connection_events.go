package bot

import (
	"github.com/flowbaker/discord-bridge/pkg/domain"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
)

// HandleReady marks the connection Ready. Called by the gateway once the
// platform acknowledges the login, and again when discordgo re-identifies
// after a dropped session. A ready event arriving after teardown is stale
// and must not resurrect a connection that has no gateway.
func (c *Connection) HandleReady(botID, botName string) {
	c.mu.Lock()
	if c.gw == nil {
		c.mu.Unlock()
		log.Debug().Str("clientID", c.creds.ClientID).Msg("Ignoring ready event from torn-down gateway")
		return
	}
	c.botID = botID
	c.botName = botName
	c.lastErr = ""
	c.setStateLocked(StateReady)
	c.mu.Unlock()

	log.Info().
		Str("clientID", c.creds.ClientID).
		Str("botName", botName).
		Msg("Bot logged in")
}

// HandleDisconnect moves a live connection to Error so the next connect
// request retries the login.
func (c *Connection) HandleDisconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady && c.state != StateConnecting {
		return
	}
	c.lastErr = "gateway disconnected"
	c.setStateLocked(StateError)

	log.Warn().Str("clientID", c.creds.ClientID).Msg("Bot disconnected from gateway")
}

// HandleMessage evaluates every message-trigger subscriber of this identity
// against one inbound message and delivers the payload to each match. The
// referenced message and the guild are fetched at most once per inbound
// message, however many subscribers need them.
func (c *Connection) HandleMessage(e *discordgo.MessageCreate) {
	if !c.Ready() || e.Message == nil || e.Author == nil {
		return
	}
	message := e.Message

	if message.Author.ID == c.botID {
		return
	}

	subscribers := c.deps.Subscribers.MessageSubscribers(c.creds.Identity())
	if len(subscribers) == 0 {
		return
	}

	var (
		guild        *discordgo.Guild
		guildFetched bool
		reference    *discordgo.Message
		refFetched   = message.MessageReference == nil
	)

	for _, sub := range subscribers {
		matched, err := Matches(message, c.botID, sub.Filter)
		if err != nil {
			log.Warn().Err(err).
				Str("subscriberID", sub.ID).
				Str("clientID", c.creds.ClientID).
				Msg("Invalid trigger pattern, skipping subscriber")
			continue
		}
		if !matched {
			continue
		}

		if !refFetched {
			ref := message.MessageReference
			reference, err = c.fetchReference(ref.ChannelID, ref.MessageID)
			if err != nil {
				log.Warn().Err(err).
					Str("messageID", message.ID).
					Msg("Could not fetch message reference")
			}
			refFetched = true
		}
		if !guildFetched {
			guild = c.fetchGuildEntity(message.GuildID)
			guildFetched = true
		}

		payload := domain.MessagePayload{
			Message:   message,
			Guild:     guild,
			Author:    message.Author,
			Reference: reference,
		}
		if reference != nil {
			payload.ReferenceAuthor = reference.Author
		}

		log.Debug().
			Str("clientID", c.creds.ClientID).
			Str("messageID", message.ID).
			Str("subscriberID", sub.ID).
			Msg("Message matched trigger")

		c.deps.Events.Deliver(sub.ID, domain.EventDiscordMessage, c.creds.ClientID, payload)
	}
}

func (c *Connection) HandleMemberAdd(e *discordgo.GuildMemberAdd) {
	if !c.Ready() || e.Member == nil || e.User == nil {
		return
	}
	c.deps.Events.Publish(domain.EventMemberJoined, c.creds.Identity(), e.GuildID, domain.MemberPayload{
		Guild: c.fetchGuildEntity(e.GuildID),
		User:  e.User,
	})
}

func (c *Connection) HandleMemberRemove(e *discordgo.GuildMemberRemove) {
	if !c.Ready() || e.Member == nil || e.User == nil {
		return
	}
	c.deps.Events.Publish(domain.EventMemberLeft, c.creds.Identity(), e.GuildID, domain.MemberPayload{
		Guild: c.fetchGuildEntity(e.GuildID),
		User:  e.User,
	})
}

func (c *Connection) HandleRoleCreate(e *discordgo.GuildRoleCreate) {
	if !c.Ready() || e.Role == nil {
		return
	}
	c.rememberRole(e.Role)
	c.deps.Events.Publish(domain.EventRoleCreated, c.creds.Identity(), e.GuildID, domain.RolePayload{
		Role:  e.Role,
		Guild: c.fetchGuildEntity(e.GuildID),
	})
}

func (c *Connection) HandleRoleDelete(e *discordgo.GuildRoleDelete) {
	if !c.Ready() {
		return
	}
	role := c.recallRole(e.RoleID)
	if role == nil {
		role = &discordgo.Role{ID: e.RoleID}
	}
	c.deps.Events.Publish(domain.EventRoleDeleted, c.creds.Identity(), e.GuildID, domain.RolePayload{
		Role:  role,
		Guild: c.fetchGuildEntity(e.GuildID),
	})
}

// HandleRoleUpdate publishes a role-updated event unless nothing meaningful
// changed (name, color, hoist, permissions, mentionable).
func (c *Connection) HandleRoleUpdate(e *discordgo.GuildRoleUpdate) {
	if !c.Ready() || e.Role == nil {
		return
	}

	old := c.recallRole(e.Role.ID)
	c.rememberRole(e.Role)

	if old != nil &&
		old.Name == e.Role.Name &&
		old.Color == e.Role.Color &&
		old.Hoist == e.Role.Hoist &&
		old.Permissions == e.Role.Permissions &&
		old.Mentionable == e.Role.Mentionable {
		return
	}

	c.deps.Events.Publish(domain.EventRoleUpdated, c.creds.Identity(), e.GuildID, domain.RoleUpdatePayload{
		OldRole: old,
		NewRole: e.Role,
		Guild:   c.fetchGuildEntity(e.GuildID),
	})
}

func (c *Connection) fetchReference(channelID, messageID string) (*discordgo.Message, error) {
	gw := c.gateway()
	if gw == nil || messageID == "" {
		return nil, nil
	}
	return gw.ChannelMessage(channelID, messageID)
}

func (c *Connection) fetchGuildEntity(guildID string) *discordgo.Guild {
	gw := c.gateway()
	if gw == nil || guildID == "" {
		return nil
	}
	guild, err := gw.Guild(guildID)
	if err != nil {
		log.Warn().Err(err).
			Str("clientID", c.creds.ClientID).
			Str("guildID", guildID).
			Msg("Could not fetch guild for event payload")
		return nil
	}
	return guild
}
