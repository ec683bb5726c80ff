package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/flowbaker/discord-bridge/internal/bot"
	"github.com/flowbaker/discord-bridge/pkg/domain"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	defaultRequestTimeout = 15 * time.Second
	shutdownGrace         = 5 * time.Second
)

// Config holds the broker settings.
type Config struct {
	// ListenAddress is the loopback address the bridge socket binds.
	ListenAddress string
	// RequestTimeout is the ceiling for simple requests (lists, sends).
	RequestTimeout time.Duration
	// LoginTimeout overrides the connection login ceiling.
	LoginTimeout time.Duration
	// SettleWait overrides the wait on an in-flight login.
	SettleWait time.Duration
}

// Broker is the bridge between node processes and bot connections. It owns
// the connection registry and the subscription table; every mutation of
// either goes through its request handlers.
type Broker struct {
	cfg      Config
	registry *bot.Registry
	table    *SubscriptionTable

	upgrader  websocket.Upgrader
	startedAt time.Time

	mu       sync.Mutex
	sessions map[*session]struct{}
}

// NewBroker builds a broker using the given gateway factory; pass
// bot.NewDiscordGateway outside of tests.
func NewBroker(cfg Config, newGateway bot.GatewayFactory) *Broker {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	b := &Broker{
		cfg:      cfg,
		table:    NewSubscriptionTable(),
		sessions: make(map[*session]struct{}),
		upgrader: websocket.Upgrader{
			// The socket is loopback-only; node processes are local.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	b.registry = bot.NewRegistry(bot.RegistryDeps{
		NewGateway:   newGateway,
		Subscribers:  b.table,
		Events:       b,
		LoginTimeout: cfg.LoginTimeout,
		SettleWait:   cfg.SettleWait,
	})

	return b
}

// Run binds the bridge socket and serves until ctx is cancelled.
func (b *Broker) Run(ctx context.Context) error {
	b.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ipc", b.handleUpgrade)

	server := &http.Server{
		Addr:    b.cfg.ListenAddress,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Bridge server shutdown error")
		}
		b.registry.CloseAll()
	}()

	log.Info().Str("address", b.cfg.ListenAddress).Msg("Bridge socket listening")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (b *Broker) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	s := &session{conn: conn}

	b.mu.Lock()
	b.sessions[s] = struct{}{}
	b.mu.Unlock()

	log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("Node process connected")

	b.readLoop(s)
}

// readLoop consumes frames from one node process until it disconnects, then
// cleans up every subscriber it registered. Each request is dispatched on
// its own goroutine so a slow login cannot stall the socket.
func (b *Broker) readLoop(s *session) {
	defer func() {
		removed := b.table.RemoveAddress(s)
		if len(removed) > 0 {
			log.Info().
				Strs("subscriberIDs", removed).
				Msg("Cleaned up subscribers for disconnected node")
		}

		b.mu.Lock()
		delete(b.sessions, s)
		b.mu.Unlock()

		s.close()
	}()

	for {
		var env domain.Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("Node socket error")
			}
			return
		}

		go b.dispatch(s, env)
	}
}

// Deliver sends an already-matched event to one subscriber. Best effort: a
// subscriber whose socket went away misses the event.
func (b *Broker) Deliver(subscriberID string, event domain.EventKind, clientID string, payload any) {
	_, addr, ok := b.table.Lookup(subscriberID)
	if !ok {
		return
	}
	b.sendEvent(addr, subscriberID, event, clientID, payload)
}

// Publish fans a lifecycle event out to every matching subscriber.
func (b *Broker) Publish(event domain.EventKind, identity string, guildID string, payload any) {
	for _, match := range b.table.Matching(event, identity, guildID) {
		b.sendEvent(match.addr, match.sub.ID, event, match.sub.Credentials.ClientID, payload)
	}
}

func (b *Broker) sendEvent(addr ReplySender, subscriberID string, event domain.EventKind, clientID string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event", string(event)).Msg("Could not marshal event payload")
		return
	}

	envelope := domain.EventEnvelope{
		Event:        event,
		SubscriberID: subscriberID,
		ClientID:     clientID,
		Payload:      raw,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		log.Error().Err(err).Str("event", string(event)).Msg("Could not marshal event envelope")
		return
	}

	if err := addr.SendEnvelope(domain.Envelope{Type: domain.EnvelopeEvent, Payload: body}); err != nil {
		log.Warn().Err(err).
			Str("event", string(event)).
			Str("subscriberID", subscriberID).
			Msg("Event delivery failed")
	}
}

// session is one connected node process. Writes are serialized; gorilla
// websocket connections allow one concurrent writer.
type session struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	closed  bool
}

func (s *session) SendEnvelope(env domain.Envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return websocket.ErrCloseSent
	}
	return s.conn.WriteJSON(env)
}

func (s *session) close() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if !s.closed {
		s.closed = true
		_ = s.conn.Close()
	}
}
