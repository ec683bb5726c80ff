package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/flowbaker/discord-bridge/pkg/domain"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
)

// ClientInterface defines the interface for the bridge client
type ClientInterface interface {
	Credentials(ctx context.Context, creds domain.Credentials) (domain.ConnectStatus, error)
	ListGuilds(ctx context.Context, creds domain.Credentials) ([]domain.NamedValue, error)
	ListChannels(ctx context.Context, creds domain.Credentials, guildIDs []string) ([]domain.NamedValue, error)
	ListRoles(ctx context.Context, creds domain.Credentials, guildIDs []string) ([]domain.NamedValue, error)
	RegisterTrigger(subscriberID string, creds domain.Credentials, filter domain.TriggerFilter) error
	UnregisterTrigger(subscriberID string) error
	SendMessage(ctx context.Context, creds domain.Credentials, channelID string, spec domain.MessageSpec) (domain.SendMessageResponse, error)
	PerformAction(ctx context.Context, creds domain.Credentials, action domain.ActionSpec) (domain.ActionResponse, error)
	SendConfirmation(ctx context.Context, creds domain.Credentials, channelID string, spec domain.MessageSpec, timeout time.Duration) (domain.ConfirmationResponse, error)
	Status(ctx context.Context) (domain.StatusResponse, error)
	Events() <-chan domain.EventEnvelope
	Close() error
}

// Client is the node-process side of the bridge socket. One client holds one
// websocket connection; requests are correlated by envelope ID so several
// can be in flight, and trigger events arrive on the Events channel.
type Client struct {
	config *ClientConfig

	conn    *websocket.Conn
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan domain.Envelope

	events    chan domain.EventEnvelope
	closed    chan struct{}
	closeOnce sync.Once
}

// NewClient creates a new bridge client with the given options
func NewClient(options ...ClientOption) *Client {
	config := DefaultConfig()
	for _, option := range options {
		option(config)
	}

	return &Client{
		config:  config,
		pending: make(map[string]chan domain.Envelope),
		events:  make(chan domain.EventEnvelope, config.EventBuffer),
		closed:  make(chan struct{}),
	}
}

// Connect dials the bridge socket and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	dialer := c.config.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, _, err := dialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to bridge at %s: %w", c.config.URL, err)
	}
	c.conn = conn

	go c.readLoop()
	return nil
}

// Events returns the channel trigger events arrive on. Delivery is best
// effort: when the buffer is full, events are dropped.
func (c *Client) Events() <-chan domain.EventEnvelope {
	return c.events
}

// Close shuts the socket down. Outstanding requests fail.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Credentials asks the broker to connect the bot for the given credentials
// and returns the resulting status string.
func (c *Client) Credentials(ctx context.Context, creds domain.Credentials) (domain.ConnectStatus, error) {
	var resp domain.ConnectResponse
	err := c.request(ctx, domain.EnvelopeCredentials, domain.ConnectRequest{Credentials: creds}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Status, nil
}

func (c *Client) ListGuilds(ctx context.Context, creds domain.Credentials) ([]domain.NamedValue, error) {
	return c.list(ctx, domain.EnvelopeListGuilds, domain.ListRequest{Credentials: creds})
}

func (c *Client) ListChannels(ctx context.Context, creds domain.Credentials, guildIDs []string) ([]domain.NamedValue, error) {
	return c.list(ctx, domain.EnvelopeListChannels, domain.ListRequest{Credentials: creds, GuildIDs: guildIDs})
}

func (c *Client) ListRoles(ctx context.Context, creds domain.Credentials, guildIDs []string) ([]domain.NamedValue, error) {
	return c.list(ctx, domain.EnvelopeListRoles, domain.ListRequest{Credentials: creds, GuildIDs: guildIDs})
}

func (c *Client) list(ctx context.Context, reqType string, req domain.ListRequest) ([]domain.NamedValue, error) {
	var resp domain.ListResponse
	if err := c.request(ctx, reqType, req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &Error{Request: reqType, Message: resp.Error}
	}
	return resp.Items, nil
}

// RegisterTrigger registers a trigger subscription. Fire and forget: the
// broker sends no response; matched events arrive on Events.
func (c *Client) RegisterTrigger(subscriberID string, creds domain.Credentials, filter domain.TriggerFilter) error {
	return c.notify(domain.EnvelopeRegisterTrigger, domain.RegisterTriggerRequest{
		SubscriberID: subscriberID,
		Credentials:  creds,
		Filter:       filter,
	})
}

// UnregisterTrigger removes a trigger subscription registered on this
// client's socket.
func (c *Client) UnregisterTrigger(subscriberID string) error {
	return c.notify(domain.EnvelopeUnregisterTrigger, domain.UnregisterTriggerRequest{
		SubscriberID: subscriberID,
	})
}

func (c *Client) SendMessage(ctx context.Context, creds domain.Credentials, channelID string, spec domain.MessageSpec) (domain.SendMessageResponse, error) {
	var resp domain.SendMessageResponse
	err := c.request(ctx, domain.EnvelopeSendMessage, domain.SendMessageRequest{
		Credentials: creds,
		ChannelID:   channelID,
		Message:     spec,
	}, &resp)
	return resp, err
}

func (c *Client) PerformAction(ctx context.Context, creds domain.Credentials, action domain.ActionSpec) (domain.ActionResponse, error) {
	var resp domain.ActionResponse
	err := c.request(ctx, domain.EnvelopePerformAction, domain.ActionRequest{
		Credentials: creds,
		Action:      action,
	}, &resp)
	return resp, err
}

// SendConfirmation sends a confirmation prompt and waits for its outcome.
// The wait runs broker-side; this call blocks up to the confirmation
// timeout plus the request timeout.
func (c *Client) SendConfirmation(ctx context.Context, creds domain.Credentials, channelID string, spec domain.MessageSpec, timeout time.Duration) (domain.ConfirmationResponse, error) {
	var resp domain.ConfirmationResponse
	err := c.requestWithTimeout(ctx, domain.EnvelopeSendConfirmation, domain.ConfirmationRequest{
		Credentials: creds,
		ChannelID:   channelID,
		Message:     spec,
		TimeoutMs:   int(timeout / time.Millisecond),
	}, &resp, timeout+c.config.Timeout)
	return resp, err
}

// Status reports broker uptime and registry sizes.
func (c *Client) Status(ctx context.Context) (domain.StatusResponse, error) {
	var resp domain.StatusResponse
	err := c.request(ctx, domain.EnvelopeStatus, struct{}{}, &resp)
	return resp, err
}

func (c *Client) request(ctx context.Context, reqType string, payload any, out any) error {
	return c.requestWithTimeout(ctx, reqType, payload, out, c.config.Timeout)
}

func (c *Client) requestWithTimeout(ctx context.Context, reqType string, payload any, out any, timeout time.Duration) error {
	if c.conn == nil {
		return fmt.Errorf("client is not connected")
	}

	id := xid.New().String()
	ch := make(chan domain.Envelope, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.send(domain.Envelope{Type: reqType, ID: id}, payload); err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case env := <-ch:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(env.Payload, out); err != nil {
			return fmt.Errorf("failed to unmarshal %s response: %w", reqType, err)
		}
		return nil
	case <-timer.C:
		return &Error{Request: reqType, Message: "request timed out"}
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return fmt.Errorf("client closed")
	}
}

func (c *Client) notify(reqType string, payload any) error {
	if c.conn == nil {
		return fmt.Errorf("client is not connected")
	}
	return c.send(domain.Envelope{Type: reqType}, payload)
}

func (c *Client) send(env domain.Envelope, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", env.Type, err)
	}
	env.Payload = raw

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("failed to send %s request: %w", env.Type, err)
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		var env domain.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			select {
			case <-c.closed:
			default:
				log.Warn().Err(err).Msg("Bridge socket read failed")
			}
			c.Close()
			return
		}

		if env.Type == domain.EnvelopeEvent {
			var event domain.EventEnvelope
			if err := json.Unmarshal(env.Payload, &event); err != nil {
				log.Warn().Err(err).Msg("Malformed event envelope")
				continue
			}
			select {
			case c.events <- event:
			default:
				log.Warn().
					Str("event", string(event.Event)).
					Str("subscriberID", event.SubscriberID).
					Msg("Event buffer full, dropping event")
			}
			continue
		}

		c.pendingMu.Lock()
		ch := c.pending[env.ID]
		c.pendingMu.Unlock()
		if ch != nil {
			ch <- env
		}
	}
}
