package domain

import (
	"encoding/json"

	"github.com/bwmarrin/discordgo"
)

// EventKind names one platform event routed to subscribers.
type EventKind string

const (
	EventDiscordMessage EventKind = "discord-message"
	EventMemberJoined   EventKind = "member-joined"
	EventMemberLeft     EventKind = "member-left"
	EventRoleCreated    EventKind = "role-created"
	EventRoleDeleted    EventKind = "role-deleted"
	EventRoleUpdated    EventKind = "role-updated"
)

// EventEnvelope is the payload of an EnvelopeEvent frame. Every delivery is
// annotated with the subscriber it was routed to.
type EventEnvelope struct {
	Event        EventKind       `json:"event"`
	SubscriberID string          `json:"subscriberId"`
	ClientID     string          `json:"clientId"`
	Payload      json.RawMessage `json:"payload"`
}

// MessagePayload is the serialized entity set for a matched message event.
// Reference and ReferenceAuthor are only set when the message replies to
// another message and the target could be fetched.
type MessagePayload struct {
	Message         *discordgo.Message `json:"message"`
	Guild           *discordgo.Guild   `json:"guild,omitempty"`
	Author          *discordgo.User    `json:"author,omitempty"`
	Reference       *discordgo.Message `json:"messageReference,omitempty"`
	ReferenceAuthor *discordgo.User    `json:"referenceAuthor,omitempty"`
}

type MemberPayload struct {
	Guild *discordgo.Guild `json:"guild,omitempty"`
	User  *discordgo.User  `json:"user"`
}

type RolePayload struct {
	Role  *discordgo.Role  `json:"role"`
	Guild *discordgo.Guild `json:"guild,omitempty"`
}

type RoleUpdatePayload struct {
	OldRole *discordgo.Role  `json:"oldRole,omitempty"`
	NewRole *discordgo.Role  `json:"newRole"`
	Guild   *discordgo.Guild `json:"guild,omitempty"`
}
