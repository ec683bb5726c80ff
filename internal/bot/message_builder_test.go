package bot

import (
	"encoding/base64"
	"testing"

	"github.com/flowbaker/discord-bridge/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessageMentions(t *testing.T) {
	send, err := BuildMessage("c1", domain.MessageSpec{
		Content:        "hello",
		MentionRoleIDs: []string{"r1", ""},
		MentionUserIDs: []string{"u1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello <@&r1> <@u1>", send.Content)
}

func TestBuildMessageReply(t *testing.T) {
	send, err := BuildMessage("c1", domain.MessageSpec{
		Content:          "answer",
		ReplyToMessageID: "m0",
	})
	require.NoError(t, err)
	require.NotNil(t, send.Reference)
	assert.Equal(t, "m0", send.Reference.MessageID)
	assert.Equal(t, "c1", send.Reference.ChannelID)
}

func TestBuildMessageBase64File(t *testing.T) {
	send, err := BuildMessage("c1", domain.MessageSpec{
		Files: []domain.FileSpec{
			{Name: "report.txt", Base64: base64.StdEncoding.EncodeToString([]byte("contents"))},
			{Base64: base64.StdEncoding.EncodeToString([]byte("anonymous"))},
			{Name: "broken.bin", Base64: "not base64 at all!!!"},
		},
	})
	require.NoError(t, err)
	require.Len(t, send.Files, 2, "undecodable files are skipped")
	assert.Equal(t, "report.txt", send.Files[0].Name)
	assert.Equal(t, "file.dat", send.Files[1].Name)
}

func TestBuildMessageEmbed(t *testing.T) {
	send, err := BuildMessage("c1", domain.MessageSpec{
		Embed: &domain.EmbedSpec{
			Title:       "Release",
			Description: "v1.2.3 is out",
			Color:       "#FF0000",
			Timestamp:   "2026-08-28T12:00:00Z",
			Footer:      &domain.EmbedFooterSpec{Text: "footer"},
			Fields: []domain.EmbedFieldSpec{
				{Name: "Status", Value: "shipped", Inline: true},
				{Name: "", Value: "dropped"},
				{Name: "dropped too", Value: ""},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, send.Embeds, 1)

	embed := send.Embeds[0]
	assert.Equal(t, "Release", embed.Title)
	assert.Equal(t, 0xFF0000, embed.Color)
	assert.Equal(t, "2026-08-28T12:00:00Z", embed.Timestamp)
	require.NotNil(t, embed.Footer)
	require.Len(t, embed.Fields, 1, "fields without name or value are dropped")
	assert.True(t, embed.Fields[0].Inline)
}

func TestBuildMessageEmbedInlineImage(t *testing.T) {
	pixel := base64.StdEncoding.EncodeToString([]byte{0x89, 0x50, 0x4e, 0x47})
	send, err := BuildMessage("c1", domain.MessageSpec{
		Embed: &domain.EmbedSpec{
			Title:        "screenshot",
			ImageURL:     "data:image/png;base64," + pixel,
			ThumbnailURL: "https://example.com/thumb.jpg",
		},
	})
	require.NoError(t, err)

	embed := send.Embeds[0]
	require.NotNil(t, embed.Image)
	assert.Equal(t, "attachment://image.png", embed.Image.URL)
	require.NotNil(t, embed.Thumbnail)
	assert.Equal(t, "https://example.com/thumb.jpg", embed.Thumbnail.URL, "plain URLs pass through")

	require.Len(t, send.Files, 1)
	assert.Equal(t, "image.png", send.Files[0].Name)
	assert.Equal(t, "image/png", send.Files[0].ContentType)
}

func TestBuildMessageInvalidEmbedExtrasIgnored(t *testing.T) {
	send, err := BuildMessage("c1", domain.MessageSpec{
		Embed: &domain.EmbedSpec{
			Title:     "tolerant",
			Color:     "not-a-color",
			Timestamp: "yesterday-ish",
		},
	})
	require.NoError(t, err)

	embed := send.Embeds[0]
	assert.Zero(t, embed.Color)
	assert.Empty(t, embed.Timestamp)
}

func TestParseHexColor(t *testing.T) {
	tests := []struct {
		input string
		want  int
		ok    bool
	}{
		{"#FF0000", 0xFF0000, true},
		{"00ff00", 0x00FF00, true},
		{" #0000ff ", 0x0000FF, true},
		{"chartreuse", 0, false},
	}

	for _, tt := range tests {
		got, err := parseHexColor(tt.input)
		if tt.ok {
			require.NoError(t, err, tt.input)
			assert.Equal(t, tt.want, got, tt.input)
		} else {
			assert.Error(t, err, tt.input)
		}
	}
}
