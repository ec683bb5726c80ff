package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/flowbaker/discord-bridge/pkg/domain"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
)

// State is the connection lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateReady      State = "ready"
	StateError      State = "error"
)

const (
	defaultLoginTimeout = 30 * time.Second
	maxBulkDelete       = 100
)

// SubscriberSource yields the message-trigger subscribers registered for a
// credential identity, in registration order.
type SubscriberSource interface {
	MessageSubscribers(identity string) []domain.Subscriber
}

// EventDeliverer routes platform events back to node processes. Deliver
// targets one already-matched subscriber; Publish fans a lifecycle event out
// to every subscriber whose filters match.
type EventDeliverer interface {
	Deliver(subscriberID string, event domain.EventKind, clientID string, payload any)
	Publish(event domain.EventKind, identity string, guildID string, payload any)
}

// ConnectionDeps wires a Connection to its collaborators.
type ConnectionDeps struct {
	Credentials domain.Credentials
	NewGateway  GatewayFactory
	Subscribers SubscriberSource
	Events      EventDeliverer

	// LoginTimeout overrides the 30s login ceiling, for tests.
	LoginTimeout time.Duration
}

// Connection wraps one Discord session for one credential identity. All
// state transitions happen under mu; waiters block on a broadcast channel
// that is swapped on every transition.
type Connection struct {
	creds domain.Credentials
	deps  ConnectionDeps

	mu       sync.Mutex
	state    State
	lastErr  string
	gw       Gateway
	changed  chan struct{}
	botID    string
	botName  string
	loginSeq int

	guildCache    []domain.NamedValue
	guildsFetched bool

	roleCache map[string]*discordgo.Role

	pending map[string]*confirmation
}

func NewConnection(deps ConnectionDeps) *Connection {
	if deps.NewGateway == nil {
		deps.NewGateway = NewDiscordGateway
	}
	if deps.LoginTimeout <= 0 {
		deps.LoginTimeout = defaultLoginTimeout
	}

	return &Connection{
		creds:     deps.Credentials,
		deps:      deps,
		state:     StateIdle,
		changed:   make(chan struct{}),
		roleCache: make(map[string]*discordgo.Role),
		pending:   make(map[string]*confirmation),
	}
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) Ready() bool {
	return c.State() == StateReady
}

func (c *Connection) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// ClearError resets an errored connection to idle so the next login starts
// fresh. No-op in any other state.
func (c *Connection) ClearError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateError {
		c.lastErr = ""
		c.setStateLocked(StateIdle)
	}
}

// setStateLocked transitions state and wakes every waiter. Callers hold mu.
func (c *Connection) setStateLocked(s State) {
	c.state = s
	close(c.changed)
	c.changed = make(chan struct{})
}

// Login drives the connection to Ready. It is a no-op when already Ready,
// joins the in-flight attempt when Connecting, and otherwise starts the
// asynchronous gateway open and waits for the state to settle, up to the
// login ceiling. On ceiling expiry the half-open gateway is torn down so a
// retry starts clean.
func (c *Connection) Login(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateReady:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		// Another caller owns the attempt; fall through to wait.
	default:
		c.lastErr = ""
		c.setStateLocked(StateConnecting)
		c.loginSeq++
		seq := c.loginSeq

		if c.gw == nil {
			gw, err := c.deps.NewGateway(c.creds.Token, c)
			if err != nil {
				c.lastErr = err.Error()
				c.setStateLocked(StateError)
				c.mu.Unlock()
				return err
			}
			c.gw = gw
		}

		gw := c.gw
		go func() {
			if err := gw.Open(); err != nil {
				c.failLogin(seq, err.Error())
			}
		}()
	}
	c.mu.Unlock()

	state, errMsg := c.waitSettled(ctx, c.deps.LoginTimeout)
	if state == StateReady {
		return nil
	}

	if state == StateConnecting {
		// A caller whose own request context expired fails alone: the
		// attempt stays Connecting for whoever waits out the login ceiling.
		if ctx.Err() != nil {
			return fmt.Errorf("timed out waiting for bot connection: %w", ctx.Err())
		}

		// Login ceiling expired: force Error and tear the gateway down.
		errMsg = "connection timed out waiting for ready state"
		c.mu.Lock()
		if c.state == StateConnecting {
			c.lastErr = errMsg
			c.teardownLocked()
			c.setStateLocked(StateError)
		}
		c.mu.Unlock()
	}

	if errMsg == "" {
		errMsg = "unknown connection error"
	}

	log.Error().
		Str("clientID", c.creds.ClientID).
		Str("error", errMsg).
		Msg("Bot login failed")

	return errors.New(errMsg)
}

// failLogin records an asynchronous login failure, ignoring stale attempts.
func (c *Connection) failLogin(seq int, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loginSeq != seq || c.state != StateConnecting {
		return
	}
	c.lastErr = msg
	c.teardownLocked()
	c.setStateLocked(StateError)
}

// waitSettled blocks until the state leaves Connecting, the timeout passes,
// or ctx is done. It returns the state observed and the recorded error.
func (c *Connection) waitSettled(ctx context.Context, timeout time.Duration) (State, string) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		c.mu.Lock()
		state, errMsg := c.state, c.lastErr
		changed := c.changed
		c.mu.Unlock()

		if state != StateConnecting {
			return state, errMsg
		}

		select {
		case <-changed:
		case <-deadline.C:
			return StateConnecting, errMsg
		case <-ctx.Done():
			return StateConnecting, ctx.Err().Error()
		}
	}
}

// teardownLocked closes and discards the gateway so the next login builds a
// fresh session. Callers hold mu.
func (c *Connection) teardownLocked() {
	if c.gw == nil {
		return
	}
	if err := c.gw.Close(); err != nil {
		log.Warn().Err(err).Str("clientID", c.creds.ClientID).Msg("Error closing gateway")
	}
	c.gw = nil
	c.guildsFetched = false
	c.guildCache = nil
}

// Disconnect tears down the underlying session. The connection can be
// logged in again afterwards.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	c.setStateLocked(StateIdle)
}

// gateway returns the live gateway when Ready, or nil.
func (c *Connection) gateway() Gateway {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return nil
	}
	return c.gw
}

// FetchGuilds lists the guilds the bot is in. Returns empty when the
// connection is not ready; the guild list is cached after the first fetch.
func (c *Connection) FetchGuilds(ctx context.Context) []domain.NamedValue {
	gw := c.gateway()
	if gw == nil {
		log.Warn().Str("clientID", c.creds.ClientID).Msg("Bot not ready, cannot fetch guilds")
		return nil
	}

	c.mu.Lock()
	if c.guildsFetched {
		cached := c.guildCache
		c.mu.Unlock()
		return cached
	}
	c.mu.Unlock()

	guilds, err := gw.UserGuilds(200)
	if err != nil {
		log.Error().Err(err).Str("clientID", c.creds.ClientID).Msg("Failed to fetch guilds")
		return nil
	}

	items := make([]domain.NamedValue, 0, len(guilds))
	for _, guild := range guilds {
		items = append(items, domain.NamedValue{Name: guild.Name, Value: guild.ID})
	}

	c.mu.Lock()
	c.guildCache = items
	c.guildsFetched = true
	c.mu.Unlock()

	return items
}

// FetchChannels lists the text channels of the given guilds. Guilds that
// cannot be fetched are skipped, not fatal.
func (c *Connection) FetchChannels(ctx context.Context, guildIDs []string) []domain.NamedValue {
	gw := c.gateway()
	if gw == nil {
		log.Warn().Str("clientID", c.creds.ClientID).Msg("Bot not ready, cannot fetch channels")
		return nil
	}

	var items []domain.NamedValue
	for _, guildID := range guildIDs {
		channels, err := gw.GuildChannels(guildID)
		if err != nil {
			log.Warn().Err(err).
				Str("clientID", c.creds.ClientID).
				Str("guildID", guildID).
				Msg("Failed to fetch channels for guild")
			continue
		}
		for _, channel := range channels {
			if channel.Type != discordgo.ChannelTypeGuildText {
				continue
			}
			items = append(items, domain.NamedValue{Name: channel.Name, Value: channel.ID})
		}
	}
	return items
}

// FetchRoles lists the roles of the given guilds, excluding the implicit
// everyone role.
func (c *Connection) FetchRoles(ctx context.Context, guildIDs []string) []domain.NamedValue {
	gw := c.gateway()
	if gw == nil {
		log.Warn().Str("clientID", c.creds.ClientID).Msg("Bot not ready, cannot fetch roles")
		return nil
	}

	var items []domain.NamedValue
	for _, guildID := range guildIDs {
		roles, err := gw.GuildRoles(guildID)
		if err != nil {
			log.Warn().Err(err).
				Str("clientID", c.creds.ClientID).
				Str("guildID", guildID).
				Msg("Failed to fetch roles for guild")
			continue
		}
		for _, role := range roles {
			// The everyone role shares its ID with the guild.
			if role.ID == guildID || role.Name == "@everyone" {
				continue
			}
			c.rememberRole(role)
			items = append(items, domain.NamedValue{Name: role.Name, Value: role.ID})
		}
	}
	return items
}

// SendMessage builds and sends one message. All failures come back as a
// normalized result, never a panic or error value crossing the router.
func (c *Connection) SendMessage(ctx context.Context, channelID string, spec domain.MessageSpec) domain.SendMessageResponse {
	gw := c.gateway()
	if gw == nil {
		return domain.SendMessageResponse{
			Success: false,
			Error:   fmt.Sprintf("bot %s is not ready", c.creds.ClientID),
		}
	}

	if err := c.checkTextChannel(gw, channelID); err != nil {
		return domain.SendMessageResponse{Success: false, Error: err.Error()}
	}

	send, err := BuildMessage(channelID, spec)
	if err != nil {
		return domain.SendMessageResponse{Success: false, Error: err.Error()}
	}

	// When the caller tolerates a missing reply target, verify it up front
	// and fall back to a plain message instead of letting the send fail.
	if send.Reference != nil && spec.FailIfReplyTargetMissing != nil && !*spec.FailIfReplyTargetMissing {
		if _, err := gw.ChannelMessage(channelID, spec.ReplyToMessageID); err != nil {
			log.Warn().
				Str("clientID", c.creds.ClientID).
				Str("messageID", spec.ReplyToMessageID).
				Msg("Reply target missing, sending without reference")
			send.Reference = nil
		}
	}

	message, err := gw.ChannelMessageSendComplex(channelID, send)
	if err != nil {
		log.Error().Err(err).
			Str("clientID", c.creds.ClientID).
			Str("channelID", channelID).
			Msg("Failed to send message")
		return domain.SendMessageResponse{Success: false, Error: err.Error()}
	}

	return domain.SendMessageResponse{
		Success:   true,
		ChannelID: channelID,
		MessageID: message.ID,
	}
}

// PerformAction executes one moderation action and normalizes the result.
func (c *Connection) PerformAction(ctx context.Context, spec domain.ActionSpec) domain.ActionResponse {
	gw := c.gateway()
	if gw == nil {
		return domain.ActionResponse{
			Success: false,
			Error:   fmt.Sprintf("bot %s is not ready", c.creds.ClientID),
		}
	}

	var err error
	switch spec.Kind {
	case domain.ActionRemoveMessages:
		err = c.removeMessages(gw, spec)
	case domain.ActionAddRole, domain.ActionRemoveRole:
		err = c.updateRoles(gw, spec)
	default:
		err = fmt.Errorf("unsupported action kind: %s", spec.Kind)
	}

	if err != nil {
		log.Error().Err(err).
			Str("clientID", c.creds.ClientID).
			Str("action", string(spec.Kind)).
			Msg("Action failed")
		return domain.ActionResponse{Success: false, Error: err.Error()}
	}

	return domain.ActionResponse{Success: true, Action: spec.Kind}
}

func (c *Connection) removeMessages(gw Gateway, spec domain.ActionSpec) error {
	if err := c.checkTextChannel(gw, spec.ChannelID); err != nil {
		return err
	}

	count := spec.MessageCount
	if count < 1 {
		count = 1
	}
	if count > maxBulkDelete {
		count = maxBulkDelete
	}

	messages, err := gw.ChannelMessages(spec.ChannelID, count)
	if err != nil {
		return fmt.Errorf("failed to list messages: %w", err)
	}
	if len(messages) == 0 {
		return nil
	}

	ids := make([]string, 0, len(messages))
	for _, message := range messages {
		ids = append(ids, message.ID)
	}

	return gw.ChannelMessagesBulkDelete(spec.ChannelID, ids)
}

func (c *Connection) updateRoles(gw Gateway, spec domain.ActionSpec) error {
	if spec.UserID == "" {
		return errors.New("user id is required for role actions")
	}

	member, err := gw.GuildMember(spec.GuildID, spec.UserID)
	if err != nil {
		return fmt.Errorf("user %s not found in guild %s", spec.UserID, spec.GuildID)
	}

	held := make(map[string]bool, len(member.Roles))
	for _, roleID := range member.Roles {
		held[roleID] = true
	}

	known, err := gw.GuildRoles(spec.GuildID)
	if err != nil {
		return fmt.Errorf("failed to list roles for guild %s: %w", spec.GuildID, err)
	}
	knownIDs := make(map[string]bool, len(known))
	for _, role := range known {
		knownIDs[role.ID] = true
	}

	for _, roleID := range spec.RoleIDs {
		if !knownIDs[roleID] {
			log.Warn().
				Str("clientID", c.creds.ClientID).
				Str("roleID", roleID).
				Str("guildID", spec.GuildID).
				Msg("Role not found in guild, skipping")
			continue
		}

		switch spec.Kind {
		case domain.ActionAddRole:
			if held[roleID] {
				continue
			}
			if err := gw.GuildMemberRoleAdd(spec.GuildID, spec.UserID, roleID); err != nil {
				log.Error().Err(err).
					Str("clientID", c.creds.ClientID).
					Str("roleID", roleID).
					Str("userID", spec.UserID).
					Msg("Failed to add role")
			}
		case domain.ActionRemoveRole:
			if !held[roleID] {
				continue
			}
			if err := gw.GuildMemberRoleRemove(spec.GuildID, spec.UserID, roleID); err != nil {
				log.Error().Err(err).
					Str("clientID", c.creds.ClientID).
					Str("roleID", roleID).
					Str("userID", spec.UserID).
					Msg("Failed to remove role")
			}
		}
	}

	return nil
}

func (c *Connection) checkTextChannel(gw Gateway, channelID string) error {
	channel, err := gw.Channel(channelID)
	if err != nil {
		return errors.New("channel not found or not a text channel")
	}
	switch channel.Type {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews, discordgo.ChannelTypeDM:
		return nil
	}
	return errors.New("channel not found or not a text channel")
}

func (c *Connection) rememberRole(role *discordgo.Role) {
	c.mu.Lock()
	c.roleCache[role.ID] = role
	c.mu.Unlock()
}

func (c *Connection) recallRole(roleID string) *discordgo.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roleCache[roleID]
}
