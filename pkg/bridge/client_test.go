package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flowbaker/discord-bridge/pkg/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newBrokerStub serves one websocket endpoint and passes every inbound
// envelope to handle together with the server-side connection.
func newBrokerStub(t *testing.T, handle func(conn *websocket.Conn, env domain.Envelope)) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	var writeMu sync.Mutex

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var env domain.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			writeMu.Lock()
			handle(conn, env)
			writeMu.Unlock()
		}
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func replyTo(t *testing.T, conn *websocket.Conn, env domain.Envelope, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(domain.Envelope{Type: env.Type, ID: env.ID, Payload: raw}))
}

func newConnectedClient(t *testing.T, url string, options ...ClientOption) *Client {
	t.Helper()
	client := NewClient(append([]ClientOption{WithURL(url)}, options...)...)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClientCredentials(t *testing.T) {
	url := newBrokerStub(t, func(conn *websocket.Conn, env domain.Envelope) {
		require.Equal(t, domain.EnvelopeCredentials, env.Type)
		require.NotEmpty(t, env.ID, "requests carry a correlation id")

		var req domain.ConnectRequest
		require.NoError(t, json.Unmarshal(env.Payload, &req))
		require.Equal(t, "c1", req.Credentials.ClientID)

		replyTo(t, conn, env, domain.ConnectResponse{Status: domain.ConnectStatusReady})
	})

	client := newConnectedClient(t, url)
	status, err := client.Credentials(context.Background(), domain.Credentials{ClientID: "c1", Token: "tok"})
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectStatusReady, status)
}

func TestClientListErrorSurfaces(t *testing.T) {
	url := newBrokerStub(t, func(conn *websocket.Conn, env domain.Envelope) {
		replyTo(t, conn, env, domain.ListResponse{Error: "missing guildIds"})
	})

	client := newConnectedClient(t, url)
	items, err := client.ListGuilds(context.Background(), domain.Credentials{ClientID: "c1", Token: "tok"})
	require.Error(t, err)
	assert.Nil(t, items)
	assert.True(t, IsBridgeError(err))
	assert.Contains(t, err.Error(), "missing guildIds")
}

func TestClientRequestTimeout(t *testing.T) {
	url := newBrokerStub(t, func(conn *websocket.Conn, env domain.Envelope) {
		// Never reply.
	})

	client := newConnectedClient(t, url, WithTimeout(50*time.Millisecond))
	_, err := client.Status(context.Background())
	require.Error(t, err)
	assert.True(t, IsBridgeError(err))
	assert.Contains(t, err.Error(), "timed out")
}

func TestClientConcurrentRequestsCorrelate(t *testing.T) {
	url := newBrokerStub(t, func(conn *websocket.Conn, env domain.Envelope) {
		var req domain.ConnectRequest
		require.NoError(t, json.Unmarshal(env.Payload, &req))

		status := domain.ConnectStatusReady
		if req.Credentials.ClientID == "second" {
			status = domain.ConnectStatusAlready
		}
		replyTo(t, conn, env, domain.ConnectResponse{Status: status})
	})

	client := newConnectedClient(t, url)

	var wg sync.WaitGroup
	results := make([]domain.ConnectStatus, 2)
	for i, clientID := range []string{"first", "second"} {
		wg.Add(1)
		go func(i int, clientID string) {
			defer wg.Done()
			status, err := client.Credentials(context.Background(), domain.Credentials{ClientID: clientID, Token: "tok"})
			require.NoError(t, err)
			results[i] = status
		}(i, clientID)
	}
	wg.Wait()

	assert.Equal(t, domain.ConnectStatusReady, results[0])
	assert.Equal(t, domain.ConnectStatusAlready, results[1])
}

func TestClientReceivesEvents(t *testing.T) {
	url := newBrokerStub(t, func(conn *websocket.Conn, env domain.Envelope) {
		require.Equal(t, domain.EnvelopeRegisterTrigger, env.Type)

		payload, err := json.Marshal(domain.EventEnvelope{
			Event:        domain.EventDiscordMessage,
			SubscriberID: "sub-1",
			ClientID:     "c1",
			Payload:      json.RawMessage(`{"message":{"id":"m1","content":"hi"}}`),
		})
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(domain.Envelope{Type: domain.EnvelopeEvent, Payload: payload}))
	})

	client := newConnectedClient(t, url)
	require.NoError(t, client.RegisterTrigger("sub-1", domain.Credentials{ClientID: "c1", Token: "tok"}, domain.TriggerFilter{
		Kind:    domain.TriggerKindMessage,
		Pattern: domain.PatternMatchAll,
	}))

	select {
	case event := <-client.Events():
		assert.Equal(t, domain.EventDiscordMessage, event.Event)
		assert.Equal(t, "sub-1", event.SubscriberID)
		assert.Equal(t, "c1", event.ClientID)
	case <-time.After(3 * time.Second):
		t.Fatal("no event arrived")
	}
}

func TestClientRequiresConnect(t *testing.T) {
	client := NewClient()
	_, err := client.Status(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}
