package bot

import (
	"regexp"
	"strings"

	"github.com/flowbaker/discord-bridge/pkg/domain"

	"github.com/bwmarrin/discordgo"
)

// regexMeta matches the regex metacharacters escaped in non-regex patterns.
var regexMeta = regexp.MustCompile(`[|\\{}()\[\]^$+*?.]`)

func escapeMatchValue(value string) string {
	escaped := regexMeta.ReplaceAllString(value, `\$0`)
	return strings.ReplaceAll(escaped, "-", `\x2d`)
}

// Matches decides whether one inbound message fires one subscriber. Checks
// short-circuit cheapest first: authorship, roles, channels, reply
// requirement, then the content pattern. A non-nil error means the
// subscriber's regex pattern did not compile; the message is not matched.
func Matches(message *discordgo.Message, botID string, filter domain.TriggerFilter) (bool, error) {
	if message == nil || message.Author == nil {
		return false, nil
	}

	if !filter.AllowOtherBots {
		if message.Author.Bot || message.Author.System {
			return false, nil
		}
	} else if message.Author.ID == botID {
		// Even with other bots allowed, never trigger on this bot's own
		// messages.
		return false, nil
	}

	if len(filter.RoleIDs) > 0 {
		if message.Member == nil || !anyOverlap(filter.RoleIDs, message.Member.Roles) {
			return false, nil
		}
	}

	if len(filter.ChannelIDs) > 0 {
		matched := false
		for _, channelID := range filter.ChannelIDs {
			if channelID != "" && strings.Contains(message.ChannelID, channelID) {
				matched = true
				break
			}
		}
		if !matched {
			return false, nil
		}
	}

	if filter.RequireReply && message.MessageReference == nil {
		return false, nil
	}

	if filter.Pattern == domain.PatternBotMention {
		for _, mention := range message.Mentions {
			if mention != nil && mention.ID == botID {
				return true, nil
			}
		}
		return false, nil
	}

	// Nothing to test against except for match-all.
	if message.Content == "" && filter.Pattern != domain.PatternMatchAll {
		return false, nil
	}

	escaped := escapeMatchValue(filter.MatchValue)

	var expr string
	switch filter.Pattern {
	case domain.PatternStartsWith:
		expr = "^" + escaped
	case domain.PatternEndsWith:
		expr = escaped + "$"
	case domain.PatternContains:
		expr = escaped
	case domain.PatternRegex:
		expr = filter.MatchValue
	case domain.PatternMatchAll:
		expr = ".*"
	default:
		// equals, and the default when no pattern is given.
		expr = "^" + escaped + "$"
	}

	if !filter.CaseSensitive {
		expr = "(?i)" + expr
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return false, err
	}
	return re.MatchString(message.Content), nil
}

func anyOverlap(wanted, held []string) bool {
	for _, w := range wanted {
		for _, h := range held {
			if w == h {
				return true
			}
		}
	}
	return false
}
