package domain

// MessageSpec describes one outgoing message. Image and file fields accept
// either plain URLs or data URIs; data URIs are decoded by the broker and
// re-attached with a filename derived from the declared media type.
type MessageSpec struct {
	Content        string   `json:"content,omitempty"`
	MentionRoleIDs []string `json:"mentionRoleIds,omitempty"`
	MentionUserIDs []string `json:"mentionUserIds,omitempty"`

	Embed *EmbedSpec `json:"embed,omitempty"`
	Files []FileSpec `json:"files,omitempty"`

	ReplyToMessageID string `json:"replyToMessageId,omitempty"`
	// FailIfReplyTargetMissing defaults to true when unset.
	FailIfReplyTargetMissing *bool `json:"failIfReplyTargetMissing,omitempty"`
}

type EmbedSpec struct {
	Title       string `json:"title,omitempty"`
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
	// Color is a hex color, with or without a leading '#'.
	Color     string `json:"color,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`

	Footer       *EmbedFooterSpec `json:"footer,omitempty"`
	ImageURL     string           `json:"image,omitempty"`
	ThumbnailURL string           `json:"thumbnail,omitempty"`
	Author       *EmbedAuthorSpec `json:"author,omitempty"`
	Fields       []EmbedFieldSpec `json:"fields,omitempty"`
}

type EmbedFooterSpec struct {
	Text    string `json:"text"`
	IconURL string `json:"iconUrl,omitempty"`
}

type EmbedAuthorSpec struct {
	Name    string `json:"name"`
	URL     string `json:"url,omitempty"`
	IconURL string `json:"iconUrl,omitempty"`
}

type EmbedFieldSpec struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// FileSpec is one attachment, sourced from a URL or inline base64 content.
type FileSpec struct {
	Name   string `json:"name,omitempty"`
	URL    string `json:"url,omitempty"`
	Base64 string `json:"base64,omitempty"`
}
