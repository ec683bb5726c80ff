package bot

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/flowbaker/discord-bridge/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(gw *fakeGateway) *Registry {
	router := &fakeRouter{}
	return NewRegistry(RegistryDeps{
		NewGateway:   gw.factory(),
		Subscribers:  router,
		Events:       router,
		LoginTimeout: 2 * time.Second,
		SettleWait:   100 * time.Millisecond,
	})
}

func TestRegistryOneConnectionPerIdentity(t *testing.T) {
	gw := newFakeGateway()
	registry := newTestRegistry(gw)
	creds := testCredentials()

	status, err := registry.Connect(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectStatusReady, status)

	// Same client ID with a different token still maps to the same
	// connection, and it is already ready.
	status, err = registry.Connect(context.Background(), domain.Credentials{ClientID: creds.ClientID, Token: "rotated"})
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectStatusAlready, status)

	assert.Equal(t, 1, registry.Count())
	assert.Equal(t, 1, gw.openCount)
	assert.NotNil(t, registry.Get(creds.Identity()))
}

func TestRegistryConcurrentConnect(t *testing.T) {
	gw := newFakeGateway()
	registry := newTestRegistry(gw)
	creds := testCredentials()

	var wg sync.WaitGroup
	results := make([]domain.ConnectStatus, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status, err := registry.Connect(context.Background(), creds)
			require.NoError(t, err)
			results[i] = status
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, registry.Count())
	assert.Equal(t, 1, gw.openCount, "concurrent connects converge on one login")
	for _, status := range results {
		assert.Contains(t, []domain.ConnectStatus{domain.ConnectStatusReady, domain.ConnectStatusAlready}, status)
	}
}

func TestRegistryRetryAfterError(t *testing.T) {
	gw := newFakeGateway()
	gw.openErr = fmt.Errorf("invalid token")
	registry := newTestRegistry(gw)
	creds := testCredentials()

	status, err := registry.Connect(context.Background(), creds)
	require.Error(t, err)
	assert.Equal(t, domain.ConnectStatusError, status)

	failed := registry.Get(creds.Identity())
	require.NotNil(t, failed)
	assert.Equal(t, StateError, failed.State())

	// The errored connection is retried in place, not replaced.
	gw.mu.Lock()
	gw.openErr = nil
	gw.mu.Unlock()

	status, err = registry.Connect(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectStatusReady, status)
	assert.Same(t, failed, registry.Get(creds.Identity()))
}

func TestRegistryDisconnect(t *testing.T) {
	gw := newFakeGateway()
	registry := newTestRegistry(gw)
	creds := testCredentials()

	_, err := registry.Connect(context.Background(), creds)
	require.NoError(t, err)
	require.Equal(t, 1, registry.Count())

	registry.Disconnect(creds.Identity())
	assert.Zero(t, registry.Count())
	assert.Nil(t, registry.Get(creds.Identity()))
	assert.Equal(t, 1, gw.closeCount)

	// Disconnecting an unknown identity is a no-op.
	registry.Disconnect("bot-ghost")
}

func TestRegistryCloseAll(t *testing.T) {
	gwOne := newFakeGateway()
	gwTwo := newFakeGateway()

	factories := map[string]GatewayFactory{
		"token-1": gwOne.factory(),
		"token-2": gwTwo.factory(),
	}
	router := &fakeRouter{}
	registry := NewRegistry(RegistryDeps{
		NewGateway: func(token string, sink EventSink) (Gateway, error) {
			return factories[token](token, sink)
		},
		Subscribers:  router,
		Events:       router,
		LoginTimeout: 2 * time.Second,
		SettleWait:   100 * time.Millisecond,
	})

	_, err := registry.Connect(context.Background(), domain.Credentials{ClientID: "one", Token: "token-1"})
	require.NoError(t, err)
	_, err = registry.Connect(context.Background(), domain.Credentials{ClientID: "two", Token: "token-2"})
	require.NoError(t, err)
	require.Equal(t, 2, registry.Count())

	registry.CloseAll()
	assert.Zero(t, registry.Count())
	assert.Equal(t, 1, gwOne.closeCount)
	assert.Equal(t, 1, gwTwo.closeCount)
}
