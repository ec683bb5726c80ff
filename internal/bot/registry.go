package bot

import (
	"context"
	"sync"
	"time"

	"github.com/flowbaker/discord-bridge/pkg/domain"

	"github.com/rs/zerolog/log"
)

const defaultSettleWait = 2 * time.Second

// RegistryDeps wires the registry to the broker collaborators every
// Connection needs.
type RegistryDeps struct {
	NewGateway  GatewayFactory
	Subscribers SubscriberSource
	Events      EventDeliverer

	// LoginTimeout and SettleWait override the 30s login ceiling and the 2s
	// wait on an in-flight login, for tests.
	LoginTimeout time.Duration
	SettleWait   time.Duration
}

// Registry holds exactly one Connection per credential identity. All
// lookups and inserts go through the registry mutex; login serialization is
// the Connection's own job, so two concurrent connect calls for one
// identity converge on one login attempt.
type Registry struct {
	deps RegistryDeps

	mu    sync.Mutex
	conns map[string]*Connection
}

func NewRegistry(deps RegistryDeps) *Registry {
	if deps.SettleWait <= 0 {
		deps.SettleWait = defaultSettleWait
	}
	return &Registry{
		deps:  deps,
		conns: make(map[string]*Connection),
	}
}

// Connect resolves or creates the Connection for the given credentials and
// drives it towards Ready. Status "already" means it was Ready with no work
// done; "ready" means a login attempt succeeded just now.
func (r *Registry) Connect(ctx context.Context, creds domain.Credentials) (domain.ConnectStatus, error) {
	identity := creds.Identity()

	r.mu.Lock()
	conn, exists := r.conns[identity]
	if !exists {
		conn = NewConnection(ConnectionDeps{
			Credentials:  creds,
			NewGateway:   r.deps.NewGateway,
			Subscribers:  r.deps.Subscribers,
			Events:       r.deps.Events,
			LoginTimeout: r.deps.LoginTimeout,
		})
		r.conns[identity] = conn
	}
	r.mu.Unlock()

	switch conn.State() {
	case StateReady:
		return domain.ConnectStatusAlready, nil
	case StateConnecting:
		// Give the in-flight login a moment to settle, then re-evaluate.
		state, _ := conn.waitSettled(ctx, r.deps.SettleWait)
		if state == StateReady {
			return domain.ConnectStatusAlready, nil
		}
	}

	// Idle, Error (retry in place), or a login that settled into Error.
	conn.ClearError()

	log.Info().Str("clientID", creds.ClientID).Msg("Connecting bot")

	if err := conn.Login(ctx); err != nil {
		return domain.ConnectStatusError, err
	}
	return domain.ConnectStatusReady, nil
}

// Get is a pure lookup with no side effects.
func (r *Registry) Get(identity string) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[identity]
}

// Disconnect tears down the connection for an identity and removes it.
func (r *Registry) Disconnect(identity string) {
	r.mu.Lock()
	conn := r.conns[identity]
	delete(r.conns, identity)
	r.mu.Unlock()

	if conn != nil {
		conn.Disconnect()
		log.Info().Str("identity", identity).Msg("Bot connection removed")
	}
}

// Count reports the number of registered connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// CloseAll tears down every connection, for broker shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.conns = make(map[string]*Connection)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Disconnect()
	}
}
