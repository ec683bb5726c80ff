package bot

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/flowbaker/discord-bridge/pkg/domain"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
)

var dataURIPattern = regexp.MustCompile(`^data:([a-z]+/[a-z0-9.+-]+);base64,(.+)$`)

// fileFetchClient downloads URL attachments before sending.
var fileFetchClient = &http.Client{Timeout: 10 * time.Second}

// BuildMessage converts a MessageSpec into the discordgo send payload.
// Mentions are appended to the content, data-URI images become attachments
// with filenames derived from their media type, and a reply target becomes a
// message reference.
func BuildMessage(channelID string, spec domain.MessageSpec) (*discordgo.MessageSend, error) {
	send := &discordgo.MessageSend{}

	var files []*discordgo.File

	if spec.Embed != nil {
		embed, embedFiles := buildEmbed(spec.Embed)
		send.Embeds = []*discordgo.MessageEmbed{embed}
		files = append(files, embedFiles...)
	}

	content := spec.Content
	for _, roleID := range spec.MentionRoleIDs {
		if roleID != "" {
			content += fmt.Sprintf(" <@&%s>", roleID)
		}
	}
	for _, userID := range spec.MentionUserIDs {
		if userID != "" {
			content += fmt.Sprintf(" <@%s>", userID)
		}
	}
	send.Content = content

	for _, file := range spec.Files {
		switch {
		case file.URL != "":
			attachment, err := downloadFile(file)
			if err != nil {
				log.Warn().Err(err).Str("url", file.URL).Msg("Could not download file attachment")
				continue
			}
			files = append(files, attachment)
		case file.Base64 != "":
			data, err := base64.StdEncoding.DecodeString(file.Base64)
			if err != nil {
				log.Warn().Err(err).Str("name", file.Name).Msg("Could not decode base64 file")
				continue
			}
			name := file.Name
			if name == "" {
				name = "file.dat"
			}
			files = append(files, &discordgo.File{Name: name, Reader: bytes.NewReader(data)})
		}
	}
	send.Files = files

	if spec.ReplyToMessageID != "" {
		send.Reference = &discordgo.MessageReference{
			MessageID: spec.ReplyToMessageID,
			ChannelID: channelID,
		}
	}

	return send, nil
}

func buildEmbed(spec *domain.EmbedSpec) (*discordgo.MessageEmbed, []*discordgo.File) {
	embed := &discordgo.MessageEmbed{
		Title:       spec.Title,
		URL:         spec.URL,
		Description: spec.Description,
	}

	var files []*discordgo.File

	if spec.Color != "" {
		if color, err := parseHexColor(spec.Color); err == nil {
			embed.Color = color
		} else {
			log.Warn().Str("color", spec.Color).Msg("Invalid embed color, ignoring")
		}
	}

	if spec.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, spec.Timestamp); err == nil {
			embed.Timestamp = ts.Format(time.RFC3339)
		} else {
			log.Warn().Str("timestamp", spec.Timestamp).Msg("Invalid embed timestamp, ignoring")
		}
	}

	if spec.Footer != nil && spec.Footer.Text != "" {
		iconURL := resolveImage(spec.Footer.IconURL, "footer_icon", &files)
		embed.Footer = &discordgo.MessageEmbedFooter{Text: spec.Footer.Text, IconURL: iconURL}
	}

	if spec.ImageURL != "" {
		if url := resolveImage(spec.ImageURL, "image", &files); url != "" {
			embed.Image = &discordgo.MessageEmbedImage{URL: url}
		}
	}

	if spec.ThumbnailURL != "" {
		if url := resolveImage(spec.ThumbnailURL, "thumbnail", &files); url != "" {
			embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: url}
		}
	}

	if spec.Author != nil && spec.Author.Name != "" {
		iconURL := resolveImage(spec.Author.IconURL, "author_icon", &files)
		embed.Author = &discordgo.MessageEmbedAuthor{
			Name:    spec.Author.Name,
			URL:     spec.Author.URL,
			IconURL: iconURL,
		}
	}

	for _, field := range spec.Fields {
		if field.Name == "" || field.Value == "" {
			continue
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   field.Name,
			Value:  field.Value,
			Inline: field.Inline,
		})
	}

	return embed, files
}

// resolveImage passes plain URLs through. Data URIs are decoded into an
// attachment named after the base name and declared media type, and the
// returned URL points at that attachment. Returns "" for undecodable input.
func resolveImage(url, baseName string, files *[]*discordgo.File) string {
	if url == "" {
		return ""
	}

	match := dataURIPattern.FindStringSubmatch(url)
	if match == nil {
		return url
	}

	data, err := base64.StdEncoding.DecodeString(match[2])
	if err != nil {
		log.Warn().Err(err).Str("field", baseName).Msg("Could not decode inline image")
		return ""
	}

	mediaType := match[1]
	ext := mediaType[strings.Index(mediaType, "/")+1:]
	name := baseName + "." + ext

	*files = append(*files, &discordgo.File{
		Name:        name,
		ContentType: mediaType,
		Reader:      bytes.NewReader(data),
	})
	return "attachment://" + name
}

func downloadFile(file domain.FileSpec) (*discordgo.File, error) {
	resp, err := fileFetchClient.Get(file.URL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, file.URL)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}

	name := file.Name
	if name == "" {
		name = file.URL[strings.LastIndex(file.URL, "/")+1:]
	}
	if name == "" {
		name = "file.dat"
	}

	return &discordgo.File{
		Name:        name,
		ContentType: resp.Header.Get("Content-Type"),
		Reader:      &buf,
	}, nil
}

func parseHexColor(value string) (int, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "#")
	color, err := strconv.ParseInt(trimmed, 16, 32)
	if err != nil {
		return 0, err
	}
	return int(color), nil
}
