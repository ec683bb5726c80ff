package domain

import (
	"encoding/json"
	"strings"
)

// ActionKind names one moderation action the broker can perform.
type ActionKind string

const (
	ActionRemoveMessages ActionKind = "remove-messages"
	ActionAddRole        ActionKind = "add-role"
	ActionRemoveRole     ActionKind = "remove-role"
)

// ActionSpec carries the parameters for one action. Only the fields for the
// selected kind are consulted.
type ActionSpec struct {
	Kind ActionKind `json:"kind"`

	// remove-messages
	ChannelID    string `json:"channelId,omitempty"`
	MessageCount int    `json:"messageCount,omitempty"`

	// add-role / remove-role
	GuildID string     `json:"guildId,omitempty"`
	UserID  string     `json:"userId,omitempty"`
	RoleIDs StringList `json:"roleIds,omitempty"`
}

// StringList unmarshals from either a JSON array of strings or a single
// comma-joined string. Empty elements are dropped.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = splitNonEmpty(single)
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}

	out := make(StringList, 0, len(many))
	for _, v := range many {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	*l = out
	return nil
}

func splitNonEmpty(s string) StringList {
	var out StringList
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
