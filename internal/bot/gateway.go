package bot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// EventSink receives raw gateway events for one connection. The Connection
// is the only implementation in the broker; tests drive it directly.
type EventSink interface {
	HandleReady(botID, botName string)
	HandleDisconnect()
	HandleMessage(e *discordgo.MessageCreate)
	HandleMemberAdd(e *discordgo.GuildMemberAdd)
	HandleMemberRemove(e *discordgo.GuildMemberRemove)
	HandleRoleCreate(e *discordgo.GuildRoleCreate)
	HandleRoleDelete(e *discordgo.GuildRoleDelete)
	HandleRoleUpdate(e *discordgo.GuildRoleUpdate)
	HandleInteraction(e *discordgo.InteractionCreate)
}

// Gateway is the narrow surface of the Discord client a Connection uses.
// The real implementation wraps a discordgo session; tests substitute a
// fake so no network is involved.
type Gateway interface {
	Open() error
	Close() error

	UserGuilds(limit int) ([]*discordgo.UserGuild, error)
	Guild(guildID string) (*discordgo.Guild, error)
	GuildChannels(guildID string) ([]*discordgo.Channel, error)
	GuildRoles(guildID string) ([]*discordgo.Role, error)
	GuildMember(guildID, userID string) (*discordgo.Member, error)
	GuildMemberRoleAdd(guildID, userID, roleID string) error
	GuildMemberRoleRemove(guildID, userID, roleID string) error

	Channel(channelID string) (*discordgo.Channel, error)
	ChannelMessage(channelID, messageID string) (*discordgo.Message, error)
	ChannelMessages(channelID string, limit int) ([]*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string) error
	ChannelMessagesBulkDelete(channelID string, messageIDs []string) error

	AckComponentInteraction(i *discordgo.Interaction) error
}

// GatewayFactory builds a Gateway for one bot token with events wired to
// the given sink. It must not open the gateway itself.
type GatewayFactory func(token string, sink EventSink) (Gateway, error)

type discordGateway struct {
	session *discordgo.Session
}

// NewDiscordGateway is the production GatewayFactory backed by discordgo.
func NewDiscordGateway(token string, sink EventSink) (Gateway, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildBans |
		discordgo.IntentsGuildPresences |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsGuildMessageTyping |
		discordgo.IntentsMessageContent

	session.AddHandler(func(_ *discordgo.Session, e *discordgo.Ready) {
		sink.HandleReady(e.User.ID, e.User.Username)
	})
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		sink.HandleDisconnect()
	})
	session.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageCreate) {
		sink.HandleMessage(e)
	})
	session.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildMemberAdd) {
		sink.HandleMemberAdd(e)
	})
	session.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildMemberRemove) {
		sink.HandleMemberRemove(e)
	})
	session.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildRoleCreate) {
		sink.HandleRoleCreate(e)
	})
	session.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildRoleDelete) {
		sink.HandleRoleDelete(e)
	})
	session.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildRoleUpdate) {
		sink.HandleRoleUpdate(e)
	})
	session.AddHandler(func(_ *discordgo.Session, e *discordgo.InteractionCreate) {
		sink.HandleInteraction(e)
	})

	return &discordGateway{session: session}, nil
}

func (g *discordGateway) Open() error {
	return g.session.Open()
}

func (g *discordGateway) Close() error {
	return g.session.Close()
}

func (g *discordGateway) UserGuilds(limit int) ([]*discordgo.UserGuild, error) {
	return g.session.UserGuilds(limit, "", "", false)
}

func (g *discordGateway) Guild(guildID string) (*discordgo.Guild, error) {
	if guild, err := g.session.State.Guild(guildID); err == nil {
		return guild, nil
	}
	return g.session.Guild(guildID)
}

func (g *discordGateway) GuildChannels(guildID string) ([]*discordgo.Channel, error) {
	if guild, err := g.session.State.Guild(guildID); err == nil && len(guild.Channels) > 0 {
		return guild.Channels, nil
	}
	return g.session.GuildChannels(guildID)
}

func (g *discordGateway) GuildRoles(guildID string) ([]*discordgo.Role, error) {
	if guild, err := g.session.State.Guild(guildID); err == nil && len(guild.Roles) > 0 {
		return guild.Roles, nil
	}
	return g.session.GuildRoles(guildID)
}

func (g *discordGateway) GuildMember(guildID, userID string) (*discordgo.Member, error) {
	if member, err := g.session.State.Member(guildID, userID); err == nil {
		return member, nil
	}
	return g.session.GuildMember(guildID, userID)
}

func (g *discordGateway) GuildMemberRoleAdd(guildID, userID, roleID string) error {
	return g.session.GuildMemberRoleAdd(guildID, userID, roleID)
}

func (g *discordGateway) GuildMemberRoleRemove(guildID, userID, roleID string) error {
	return g.session.GuildMemberRoleRemove(guildID, userID, roleID)
}

func (g *discordGateway) Channel(channelID string) (*discordgo.Channel, error) {
	if channel, err := g.session.State.Channel(channelID); err == nil {
		return channel, nil
	}
	return g.session.Channel(channelID)
}

func (g *discordGateway) ChannelMessage(channelID, messageID string) (*discordgo.Message, error) {
	return g.session.ChannelMessage(channelID, messageID)
}

func (g *discordGateway) ChannelMessages(channelID string, limit int) ([]*discordgo.Message, error) {
	return g.session.ChannelMessages(channelID, limit, "", "", "")
}

func (g *discordGateway) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend) (*discordgo.Message, error) {
	return g.session.ChannelMessageSendComplex(channelID, data)
}

func (g *discordGateway) ChannelMessageDelete(channelID, messageID string) error {
	return g.session.ChannelMessageDelete(channelID, messageID)
}

func (g *discordGateway) ChannelMessagesBulkDelete(channelID string, messageIDs []string) error {
	return g.session.ChannelMessagesBulkDelete(channelID, messageIDs)
}

func (g *discordGateway) AckComponentInteraction(i *discordgo.Interaction) error {
	return g.session.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
}
