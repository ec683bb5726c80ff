package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowbaker/discord-bridge/internal/bot"
	"github.com/flowbaker/discord-bridge/pkg/domain"

	"github.com/rs/zerolog/log"
)

// dispatch routes one inbound envelope to its handler. A fault in one
// handler must never take the broker down, so panics are contained here.
func (b *Broker) dispatch(s *session, env domain.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("type", env.Type).
				Msg("Request handler panicked")
		}
	}()

	switch env.Type {
	case domain.EnvelopeCredentials:
		b.handleCredentials(s, env)
	case domain.EnvelopeListGuilds, domain.EnvelopeListChannels, domain.EnvelopeListRoles:
		b.handleList(s, env)
	case domain.EnvelopeRegisterTrigger:
		b.handleRegisterTrigger(s, env)
	case domain.EnvelopeUnregisterTrigger:
		b.handleUnregisterTrigger(s, env)
	case domain.EnvelopeSendMessage:
		b.handleSendMessage(s, env)
	case domain.EnvelopePerformAction:
		b.handlePerformAction(s, env)
	case domain.EnvelopeSendConfirmation:
		b.handleSendConfirmation(s, env)
	case domain.EnvelopeStatus:
		b.handleStatus(s, env)
	default:
		log.Warn().Str("type", env.Type).Msg("Unknown request type")
	}
}

// reply sends a response envelope echoing the request type and ID. Reply
// failures only get logged; the requester is gone or going.
func (b *Broker) reply(s *session, env domain.Envelope, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("type", env.Type).Msg("Could not marshal response")
		return
	}
	if err := s.SendEnvelope(domain.Envelope{Type: env.Type, ID: env.ID, Payload: raw}); err != nil {
		log.Warn().Err(err).Str("type", env.Type).Msg("Could not send response")
	}
}

func (b *Broker) requestContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = b.cfg.RequestTimeout
	}
	return context.WithTimeout(context.Background(), timeout)
}

// handleCredentials connects (or reuses) the bot for the given credentials.
// Only the status string crosses the socket; error detail stays in the
// broker logs.
func (b *Broker) handleCredentials(s *session, env domain.Envelope) {
	var req domain.ConnectRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil || !req.Credentials.Valid() {
		log.Error().Msg("Credentials request missing token or client id")
		b.reply(s, env, domain.ConnectResponse{Status: domain.ConnectStatusMissing})
		return
	}

	// Login has its own 30s ceiling; the request ceiling wraps it.
	ctx, cancel := b.requestContext(2 * b.cfg.RequestTimeout)
	defer cancel()

	status, err := b.registry.Connect(ctx, req.Credentials)
	if err != nil {
		log.Error().Err(err).
			Str("clientID", req.Credentials.ClientID).
			Msg("Credentials connect failed")
	}
	b.reply(s, env, domain.ConnectResponse{Status: status})
}

// handleList serves list:guilds, list:channels and list:roles. The bot is
// connected on demand; every failure comes back as a structured error
// payload, never a dropped request.
func (b *Broker) handleList(s *session, env domain.Envelope) {
	var req domain.ListRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil || !req.Credentials.Valid() {
		b.reply(s, env, domain.ListResponse{Error: "missing credentials"})
		return
	}
	if env.Type != domain.EnvelopeListGuilds && len(req.GuildIDs) == 0 {
		b.reply(s, env, domain.ListResponse{Error: "missing guildIds"})
		return
	}

	ctx, cancel := b.requestContext(0)
	defer cancel()

	conn, err := b.resolveReady(ctx, req.Credentials)
	if err != nil {
		b.reply(s, env, domain.ListResponse{Error: err.Error()})
		return
	}

	var items []domain.NamedValue
	switch env.Type {
	case domain.EnvelopeListGuilds:
		items = conn.FetchGuilds(ctx)
	case domain.EnvelopeListChannels:
		items = conn.FetchChannels(ctx, req.GuildIDs)
	case domain.EnvelopeListRoles:
		items = conn.FetchRoles(ctx, req.GuildIDs)
	}
	if items == nil {
		items = []domain.NamedValue{}
	}

	b.reply(s, env, domain.ListResponse{Items: items})
}

// resolveReady returns the Ready connection for the credentials, attempting
// a connect when it is absent or not ready yet.
func (b *Broker) resolveReady(ctx context.Context, creds domain.Credentials) (*bot.Connection, error) {
	identity := creds.Identity()

	conn := b.registry.Get(identity)
	if conn != nil && conn.Ready() {
		return conn, nil
	}

	log.Info().Str("clientID", creds.ClientID).Msg("Bot not ready, attempting connection")

	status, err := b.registry.Connect(ctx, creds)
	if status == domain.ConnectStatusError {
		if err != nil {
			return nil, fmt.Errorf("failed to connect bot %s: %w", creds.ClientID, err)
		}
		return nil, fmt.Errorf("failed to connect bot %s", creds.ClientID)
	}

	conn = b.registry.Get(identity)
	if conn == nil || !conn.Ready() {
		return nil, fmt.Errorf("bot %s still not ready after connection attempt", creds.ClientID)
	}
	return conn, nil
}

// handleRegisterTrigger stores a subscriber and opportunistically starts its
// bot connection. Fire and forget: no response envelope.
func (b *Broker) handleRegisterTrigger(s *session, env domain.Envelope) {
	var req domain.RegisterTriggerRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil || req.SubscriberID == "" || !req.Credentials.Valid() {
		log.Error().Msg("Register-trigger request missing subscriber id or credentials")
		return
	}

	log.Info().
		Str("subscriberID", req.SubscriberID).
		Str("clientID", req.Credentials.ClientID).
		Str("kind", string(req.Filter.Kind)).
		Msg("Registering trigger")

	b.table.Register(domain.Subscriber{
		ID:          req.SubscriberID,
		Credentials: req.Credentials,
		Filter:      req.Filter,
	}, s)

	go func() {
		ctx, cancel := b.requestContext(2 * b.cfg.RequestTimeout)
		defer cancel()
		if _, err := b.registry.Connect(ctx, req.Credentials); err != nil {
			log.Error().Err(err).
				Str("subscriberID", req.SubscriberID).
				Msg("Could not connect bot during trigger registration")
		}
	}()
}

// handleUnregisterTrigger removes a subscriber, but only for the reply
// address that registered it. A stale unregister from another process is
// logged and ignored.
func (b *Broker) handleUnregisterTrigger(s *session, env domain.Envelope) {
	var req domain.UnregisterTriggerRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil || req.SubscriberID == "" {
		log.Warn().Msg("Malformed unregister-trigger request")
		return
	}

	if b.table.Unregister(req.SubscriberID, s) {
		log.Info().Str("subscriberID", req.SubscriberID).Msg("Trigger unregistered")
		return
	}
	if b.table.Contains(req.SubscriberID) {
		log.Warn().
			Str("subscriberID", req.SubscriberID).
			Msg("Unregister from non-matching reply address, ignoring")
	} else {
		log.Debug().
			Str("subscriberID", req.SubscriberID).
			Msg("Unregister for unknown subscriber")
	}
}

func (b *Broker) handleSendMessage(s *session, env domain.Envelope) {
	var req domain.SendMessageRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil || !req.Credentials.Valid() || req.ChannelID == "" {
		b.reply(s, env, domain.SendMessageResponse{Success: false, Error: "missing required data"})
		return
	}

	conn := b.registry.Get(req.Credentials.Identity())
	if conn == nil {
		b.reply(s, env, domain.SendMessageResponse{
			Success: false,
			Error:   "no bot connection for the provided credentials",
		})
		return
	}

	ctx, cancel := b.requestContext(0)
	defer cancel()
	b.reply(s, env, conn.SendMessage(ctx, req.ChannelID, req.Message))
}

func (b *Broker) handlePerformAction(s *session, env domain.Envelope) {
	var req domain.ActionRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil || !req.Credentials.Valid() || req.Action.Kind == "" {
		b.reply(s, env, domain.ActionResponse{Success: false, Error: "missing required data"})
		return
	}

	conn := b.registry.Get(req.Credentials.Identity())
	if conn == nil {
		b.reply(s, env, domain.ActionResponse{
			Success: false,
			Error:   "no bot connection for the provided credentials",
		})
		return
	}

	ctx, cancel := b.requestContext(0)
	defer cancel()
	b.reply(s, env, conn.PerformAction(ctx, req.Action))
}

func (b *Broker) handleSendConfirmation(s *session, env domain.Envelope) {
	var req domain.ConfirmationRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil || !req.Credentials.Valid() || req.ChannelID == "" {
		b.reply(s, env, domain.ConfirmationResponse{Success: false, Error: "missing required data"})
		return
	}

	conn := b.registry.Get(req.Credentials.Identity())
	if conn == nil {
		b.reply(s, env, domain.ConfirmationResponse{
			Success: false,
			Error:   "no bot connection for the provided credentials",
		})
		return
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond

	// The dispatch ceiling tracks the caller-supplied confirmation timeout
	// with slack for the send and cleanup around it.
	ctx, cancel := b.requestContext(timeout + b.cfg.RequestTimeout)
	defer cancel()
	b.reply(s, env, conn.SendConfirmation(ctx, req.ChannelID, req.Message, timeout))
}

func (b *Broker) handleStatus(s *session, env domain.Envelope) {
	b.reply(s, env, domain.StatusResponse{
		StartedAt:   b.startedAt.UTC().Format(time.RFC3339),
		Connections: b.registry.Count(),
		Subscribers: b.table.Count(),
	})
}
