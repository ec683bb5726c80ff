package domain

import "encoding/json"

// Envelope is the frame exchanged on the bridge socket in both directions.
// Requests carry a correlation ID that the matching response echoes back, so
// one socket can have several requests in flight. Server-pushed events use
// EnvelopeEvent and carry no correlation ID.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Request envelope types. This is the closed set the broker dispatches on.
const (
	EnvelopeCredentials       = "credentials"
	EnvelopeListGuilds        = "list:guilds"
	EnvelopeListChannels      = "list:channels"
	EnvelopeListRoles         = "list:roles"
	EnvelopeRegisterTrigger   = "register-trigger"
	EnvelopeUnregisterTrigger = "unregister-trigger"
	EnvelopeSendMessage       = "send-message"
	EnvelopePerformAction     = "perform-action"
	EnvelopeSendConfirmation  = "send-confirmation"
	EnvelopeStatus            = "status"

	// EnvelopeEvent wraps an EventEnvelope pushed from broker to node.
	EnvelopeEvent = "event"
)

// ConnectStatus is the only thing a node learns about a credentials request.
// Error detail stays in the broker logs.
type ConnectStatus string

const (
	ConnectStatusReady   ConnectStatus = "ready"
	ConnectStatusAlready ConnectStatus = "already"
	ConnectStatusError   ConnectStatus = "error"
	ConnectStatusMissing ConnectStatus = "missing"
)

type ConnectRequest struct {
	Credentials Credentials `json:"credentials"`
}

type ConnectResponse struct {
	Status ConnectStatus `json:"status"`
}

// NamedValue is the {name, value} item shape used by every list response.
type NamedValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type ListRequest struct {
	Credentials Credentials `json:"credentials"`
	GuildIDs    []string    `json:"guildIds,omitempty"`
}

// ListResponse carries either Items or Error, never both. Callers branch on
// Error being non-empty.
type ListResponse struct {
	Items []NamedValue `json:"items,omitempty"`
	Error string       `json:"error,omitempty"`
}

type RegisterTriggerRequest struct {
	SubscriberID string        `json:"subscriberId"`
	Credentials  Credentials   `json:"credentials"`
	Filter       TriggerFilter `json:"filter"`
}

type UnregisterTriggerRequest struct {
	SubscriberID string `json:"subscriberId"`
}

type SendMessageRequest struct {
	Credentials Credentials `json:"credentials"`
	ChannelID   string      `json:"channelId"`
	Message     MessageSpec `json:"message"`
}

type SendMessageResponse struct {
	Success   bool   `json:"success"`
	ChannelID string `json:"channelId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

type ActionRequest struct {
	Credentials Credentials `json:"credentials"`
	Action      ActionSpec  `json:"action"`
}

type ActionResponse struct {
	Success bool       `json:"success"`
	Action  ActionKind `json:"action,omitempty"`
	Error   string     `json:"error,omitempty"`
}

type ConfirmationRequest struct {
	Credentials Credentials `json:"credentials"`
	ChannelID   string      `json:"channelId"`
	Message     MessageSpec `json:"message"`
	TimeoutMs   int         `json:"timeoutMs,omitempty"`
}

// ConfirmationResponse resolves to exactly one of three outcomes: Confirmed
// pointing at true, at false, or nil for a timeout.
type ConfirmationResponse struct {
	Success   bool   `json:"success"`
	Confirmed *bool  `json:"confirmed"`
	Error     string `json:"error,omitempty"`
}

type StatusResponse struct {
	StartedAt   string `json:"startedAt"`
	Connections int    `json:"connections"`
	Subscribers int    `json:"subscribers"`
}
