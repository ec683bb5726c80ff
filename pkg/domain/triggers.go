package domain

// TriggerKind selects which event family a subscriber listens to.
type TriggerKind string

const (
	TriggerKindMessage   TriggerKind = "message"
	TriggerKindLifecycle TriggerKind = "lifecycle"
)

// MatchPattern selects how a message trigger tests message content.
type MatchPattern string

const (
	PatternEquals     MatchPattern = "equals"
	PatternStartsWith MatchPattern = "starts-with"
	PatternEndsWith   MatchPattern = "ends-with"
	PatternContains   MatchPattern = "contains"
	PatternRegex      MatchPattern = "regex"
	PatternMatchAll   MatchPattern = "match-all"
	PatternBotMention MatchPattern = "bot-mentioned"
)

// TriggerFilter is a subscriber's filter parameters. Message triggers use
// the pattern fields; lifecycle triggers use Event. GuildIDs empty means all
// guilds for both kinds.
type TriggerFilter struct {
	Kind TriggerKind `json:"kind"`

	GuildIDs   []string `json:"guildIds,omitempty"`
	ChannelIDs []string `json:"channelIds,omitempty"`
	RoleIDs    []string `json:"roleIds,omitempty"`

	Pattern        MatchPattern `json:"pattern,omitempty"`
	MatchValue     string       `json:"matchValue,omitempty"`
	CaseSensitive  bool         `json:"caseSensitive,omitempty"`
	RequireReply   bool         `json:"requireReply,omitempty"`
	AllowOtherBots bool         `json:"allowOtherBots,omitempty"`

	// Event is the lifecycle event kind a lifecycle trigger fires on.
	Event EventKind `json:"event,omitempty"`
}

// Subscriber is one registered trigger. The reply address it was registered
// from is tracked by the broker, not serialized here.
type Subscriber struct {
	ID          string        `json:"subscriberId"`
	Credentials Credentials   `json:"credentials"`
	Filter      TriggerFilter `json:"filter"`
}

func (s Subscriber) Identity() string {
	return s.Credentials.Identity()
}
