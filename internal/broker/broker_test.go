package broker

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flowbaker/discord-bridge/internal/bot"
	"github.com/flowbaker/discord-bridge/pkg/domain"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubGateway is a minimal in-memory bot.Gateway that reports Ready as soon
// as it is opened.
type stubGateway struct {
	mu   sync.Mutex
	sink bot.EventSink

	openErr    error
	userGuilds []*discordgo.UserGuild
	sent       []*discordgo.MessageSend
}

func (g *stubGateway) Open() error {
	g.mu.Lock()
	err := g.openErr
	sink := g.sink
	g.mu.Unlock()
	if err != nil {
		return err
	}
	sink.HandleReady("stub-bot-user", "StubBot")
	return nil
}

func (g *stubGateway) Close() error { return nil }

func (g *stubGateway) UserGuilds(limit int) ([]*discordgo.UserGuild, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.userGuilds, nil
}

func (g *stubGateway) Guild(guildID string) (*discordgo.Guild, error) {
	return &discordgo.Guild{ID: guildID, Name: "Guild " + guildID}, nil
}

func (g *stubGateway) GuildChannels(guildID string) ([]*discordgo.Channel, error) {
	return nil, nil
}

func (g *stubGateway) GuildRoles(guildID string) ([]*discordgo.Role, error) {
	return nil, nil
}

func (g *stubGateway) GuildMember(guildID, userID string) (*discordgo.Member, error) {
	return nil, fmt.Errorf("unknown member %s", userID)
}

func (g *stubGateway) GuildMemberRoleAdd(guildID, userID, roleID string) error    { return nil }
func (g *stubGateway) GuildMemberRoleRemove(guildID, userID, roleID string) error { return nil }

func (g *stubGateway) Channel(channelID string) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: channelID, Type: discordgo.ChannelTypeGuildText}, nil
}

func (g *stubGateway) ChannelMessage(channelID, messageID string) (*discordgo.Message, error) {
	return nil, fmt.Errorf("unknown message %s", messageID)
}

func (g *stubGateway) ChannelMessages(channelID string, limit int) ([]*discordgo.Message, error) {
	return nil, nil
}

func (g *stubGateway) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend) (*discordgo.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, data)
	return &discordgo.Message{ID: fmt.Sprintf("sent-%d", len(g.sent)), ChannelID: channelID}, nil
}

func (g *stubGateway) ChannelMessageDelete(channelID, messageID string) error { return nil }

func (g *stubGateway) ChannelMessagesBulkDelete(channelID string, messageIDs []string) error {
	return nil
}

func (g *stubGateway) AckComponentInteraction(i *discordgo.Interaction) error { return nil }

// stubFactory hands out one stubGateway per token and remembers them so
// tests can drive gateway events.
type stubFactory struct {
	mu       sync.Mutex
	gateways map[string]*stubGateway
}

func newStubFactory() *stubFactory {
	return &stubFactory{gateways: make(map[string]*stubGateway)}
}

func (f *stubFactory) new(token string, sink bot.EventSink) (bot.Gateway, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gw, ok := f.gateways[token]
	if !ok {
		gw = &stubGateway{}
		f.gateways[token] = gw
	}
	gw.mu.Lock()
	gw.sink = sink
	gw.mu.Unlock()
	return gw, nil
}

func (f *stubFactory) gateway(token string) *stubGateway {
	f.mu.Lock()
	defer f.mu.Unlock()
	gw, ok := f.gateways[token]
	if !ok {
		gw = &stubGateway{}
		f.gateways[token] = gw
	}
	return gw
}

func newTestBroker(t *testing.T) (*Broker, *stubFactory, *websocket.Conn) {
	t.Helper()

	factory := newStubFactory()
	b := NewBroker(Config{
		RequestTimeout: 2 * time.Second,
		LoginTimeout:   2 * time.Second,
		SettleWait:     50 * time.Millisecond,
	}, factory.new)
	b.startedAt = time.Now()

	server := httptest.NewServer(http.HandlerFunc(b.handleUpgrade))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return b, factory, conn
}

func sendRequest(t *testing.T, conn *websocket.Conn, reqType, id string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(domain.Envelope{Type: reqType, ID: id, Payload: raw}))
}

func readReply(t *testing.T, conn *websocket.Conn, id string) domain.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var env domain.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		if env.ID == id {
			return env
		}
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.EventEnvelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var env domain.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		if env.Type != domain.EnvelopeEvent {
			continue
		}
		var event domain.EventEnvelope
		require.NoError(t, json.Unmarshal(env.Payload, &event))
		return event
	}
}

func brokerCredentials() domain.Credentials {
	return domain.Credentials{ClientID: "c1", Token: "token-1"}
}

func TestBrokerCredentials(t *testing.T) {
	_, _, conn := newTestBroker(t)

	sendRequest(t, conn, domain.EnvelopeCredentials, "req-1", domain.ConnectRequest{
		Credentials: domain.Credentials{ClientID: "c1"},
	})
	var resp domain.ConnectResponse
	require.NoError(t, json.Unmarshal(readReply(t, conn, "req-1").Payload, &resp))
	assert.Equal(t, domain.ConnectStatusMissing, resp.Status, "token is required")

	sendRequest(t, conn, domain.EnvelopeCredentials, "req-2", domain.ConnectRequest{Credentials: brokerCredentials()})
	require.NoError(t, json.Unmarshal(readReply(t, conn, "req-2").Payload, &resp))
	assert.Equal(t, domain.ConnectStatusReady, resp.Status)

	sendRequest(t, conn, domain.EnvelopeCredentials, "req-3", domain.ConnectRequest{Credentials: brokerCredentials()})
	require.NoError(t, json.Unmarshal(readReply(t, conn, "req-3").Payload, &resp))
	assert.Equal(t, domain.ConnectStatusAlready, resp.Status)
}

func TestBrokerListGuilds(t *testing.T) {
	_, factory, conn := newTestBroker(t)
	factory.gateway("token-1").userGuilds = []*discordgo.UserGuild{
		{ID: "g1", Name: "First"},
	}

	// list:guilds connects the bot on demand.
	sendRequest(t, conn, domain.EnvelopeListGuilds, "req-1", domain.ListRequest{Credentials: brokerCredentials()})
	var resp domain.ListResponse
	require.NoError(t, json.Unmarshal(readReply(t, conn, "req-1").Payload, &resp))
	require.Empty(t, resp.Error)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, domain.NamedValue{Name: "First", Value: "g1"}, resp.Items[0])

	sendRequest(t, conn, domain.EnvelopeListChannels, "req-2", domain.ListRequest{Credentials: brokerCredentials()})
	require.NoError(t, json.Unmarshal(readReply(t, conn, "req-2").Payload, &resp))
	assert.Equal(t, "missing guildIds", resp.Error)

	sendRequest(t, conn, domain.EnvelopeListGuilds, "req-3", domain.ListRequest{})
	require.NoError(t, json.Unmarshal(readReply(t, conn, "req-3").Payload, &resp))
	assert.Equal(t, "missing credentials", resp.Error)
}

func TestBrokerSendMessageRequiresConnection(t *testing.T) {
	_, _, conn := newTestBroker(t)

	sendRequest(t, conn, domain.EnvelopeSendMessage, "req-1", domain.SendMessageRequest{
		Credentials: brokerCredentials(),
		ChannelID:   "c-chan",
		Message:     domain.MessageSpec{Content: "hi"},
	})
	var resp domain.SendMessageResponse
	require.NoError(t, json.Unmarshal(readReply(t, conn, "req-1").Payload, &resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "no bot connection")
}

func TestBrokerSendMessage(t *testing.T) {
	_, _, conn := newTestBroker(t)

	sendRequest(t, conn, domain.EnvelopeCredentials, "req-1", domain.ConnectRequest{Credentials: brokerCredentials()})
	readReply(t, conn, "req-1")

	sendRequest(t, conn, domain.EnvelopeSendMessage, "req-2", domain.SendMessageRequest{
		Credentials: brokerCredentials(),
		ChannelID:   "c-chan",
		Message:     domain.MessageSpec{Content: "hi"},
	})
	var resp domain.SendMessageResponse
	require.NoError(t, json.Unmarshal(readReply(t, conn, "req-2").Payload, &resp))
	require.True(t, resp.Success)
	assert.Equal(t, "c-chan", resp.ChannelID)
	assert.NotEmpty(t, resp.MessageID)
}

func TestBrokerTriggerEventFlow(t *testing.T) {
	b, factory, conn := newTestBroker(t)
	creds := brokerCredentials()

	sendRequest(t, conn, domain.EnvelopeRegisterTrigger, "", domain.RegisterTriggerRequest{
		SubscriberID: "sub-1",
		Credentials:  creds,
		Filter: domain.TriggerFilter{
			Kind:       domain.TriggerKindMessage,
			Pattern:    domain.PatternContains,
			MatchValue: "hello",
		},
	})

	// Registration connects the bot opportunistically.
	require.Eventually(t, func() bool {
		connection := b.registry.Get(creds.Identity())
		return connection != nil && connection.Ready()
	}, 3*time.Second, 10*time.Millisecond)

	gw := factory.gateway(creds.Token)
	gw.mu.Lock()
	sink := gw.sink
	gw.mu.Unlock()

	inbound := func(id, content string) *discordgo.MessageCreate {
		return &discordgo.MessageCreate{Message: &discordgo.Message{
			ID:        id,
			ChannelID: "chan-1",
			GuildID:   "g1",
			Content:   content,
			Author:    &discordgo.User{ID: "user-1", Username: "someone"},
		}}
	}

	// Non-matching first: if it were delivered, it would arrive before the
	// matching one on this socket.
	sink.HandleMessage(inbound("m1", "goodbye"))
	sink.HandleMessage(inbound("m2", "say hello world"))

	event := readEvent(t, conn)
	assert.Equal(t, domain.EventDiscordMessage, event.Event)
	assert.Equal(t, "sub-1", event.SubscriberID)
	assert.Equal(t, "c1", event.ClientID)

	var payload domain.MessagePayload
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	require.NotNil(t, payload.Message)
	assert.Equal(t, "say hello world", payload.Message.Content)
	require.NotNil(t, payload.Guild)
	assert.Equal(t, "g1", payload.Guild.ID)
}

func TestBrokerLifecycleEventFanout(t *testing.T) {
	b, factory, conn := newTestBroker(t)
	creds := brokerCredentials()

	sendRequest(t, conn, domain.EnvelopeRegisterTrigger, "", domain.RegisterTriggerRequest{
		SubscriberID: "joins",
		Credentials:  creds,
		Filter: domain.TriggerFilter{
			Kind:  domain.TriggerKindLifecycle,
			Event: domain.EventMemberJoined,
		},
	})

	require.Eventually(t, func() bool {
		connection := b.registry.Get(creds.Identity())
		return connection != nil && connection.Ready()
	}, 3*time.Second, 10*time.Millisecond)

	gw := factory.gateway(creds.Token)
	gw.mu.Lock()
	sink := gw.sink
	gw.mu.Unlock()

	sink.HandleMemberAdd(&discordgo.GuildMemberAdd{Member: &discordgo.Member{
		GuildID: "g1",
		User:    &discordgo.User{ID: "new-user"},
	}})

	event := readEvent(t, conn)
	assert.Equal(t, domain.EventMemberJoined, event.Event)
	assert.Equal(t, "joins", event.SubscriberID)

	var payload domain.MemberPayload
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	assert.Equal(t, "new-user", payload.User.ID)
}

func TestBrokerUnregisterTrigger(t *testing.T) {
	b, _, conn := newTestBroker(t)

	sendRequest(t, conn, domain.EnvelopeRegisterTrigger, "", domain.RegisterTriggerRequest{
		SubscriberID: "sub-1",
		Credentials:  brokerCredentials(),
		Filter:       domain.TriggerFilter{Kind: domain.TriggerKindMessage, Pattern: domain.PatternMatchAll},
	})
	require.Eventually(t, func() bool { return b.table.Count() == 1 }, 3*time.Second, 10*time.Millisecond)

	sendRequest(t, conn, domain.EnvelopeUnregisterTrigger, "", domain.UnregisterTriggerRequest{SubscriberID: "sub-1"})
	require.Eventually(t, func() bool { return b.table.Count() == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestBrokerDisconnectCleansSubscribers(t *testing.T) {
	b, _, conn := newTestBroker(t)

	sendRequest(t, conn, domain.EnvelopeRegisterTrigger, "", domain.RegisterTriggerRequest{
		SubscriberID: "sub-1",
		Credentials:  brokerCredentials(),
		Filter:       domain.TriggerFilter{Kind: domain.TriggerKindMessage, Pattern: domain.PatternMatchAll},
	})
	require.Eventually(t, func() bool { return b.table.Count() == 1 }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return b.table.Count() == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestBrokerStatus(t *testing.T) {
	_, _, conn := newTestBroker(t)

	sendRequest(t, conn, domain.EnvelopeCredentials, "req-1", domain.ConnectRequest{Credentials: brokerCredentials()})
	readReply(t, conn, "req-1")

	sendRequest(t, conn, domain.EnvelopeStatus, "req-2", struct{}{})
	var resp domain.StatusResponse
	require.NoError(t, json.Unmarshal(readReply(t, conn, "req-2").Payload, &resp))
	assert.Equal(t, 1, resp.Connections)
	assert.Zero(t, resp.Subscribers)
	assert.NotEmpty(t, resp.StartedAt)
}
