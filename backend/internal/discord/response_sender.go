package discord

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"discord-simulator/backend/internal/constants"
	apperrors "discord-simulator/backend/pkg/errors"
)

// chunkPause spaces out the parts of a split message
var chunkPause = 100 * time.Millisecond

// sendText posts content to the channel, splitting it when it exceeds
// Discord's character limit. Mentions in content never notify anyone.
func sendText(api Session, channelID, content string) error {
	chunks := splitMessage(content, constants.DiscordMaxMessageLength)
	for i, chunk := range chunks {
		_, err := api.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
			Content:         chunk,
			AllowedMentions: noMentions(),
		})
		if err != nil {
			return apperrors.NewDiscordMessageSendFailed(channelID, err)
		}

		if i < len(chunks)-1 {
			time.Sleep(chunkPause)
		}
	}
	return nil
}

// splitMessage splits content into chunks of at most maxLength bytes,
// preferring line breaks, then spaces, and never cutting a rune in half.
func splitMessage(content string, maxLength int) []string {
	if len(content) <= maxLength {
		return []string{content}
	}

	var chunks []string
	current := ""
	for _, line := range strings.Split(content, "\n") {
		// If adding this line would exceed the limit, start a new chunk
		if current != "" && len(current)+1+len(line) > maxLength {
			chunks = append(chunks, current)
			current = ""
		}

		// A single line that is too long is split on its own
		for len(line) > maxLength {
			if current != "" {
				chunks = append(chunks, current)
				current = ""
			}
			splitIdx := cutPoint(line, maxLength)
			chunks = append(chunks, line[:splitIdx])
			line = strings.TrimLeft(line[splitIdx:], " ")
		}

		if current != "" {
			current += "\n" + line
		} else {
			current = line
		}
	}

	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

// cutPoint picks where to cut s so the head fits in maxLength bytes
func cutPoint(s string, maxLength int) int {
	if spaceIdx := strings.LastIndex(s[:maxLength], " "); spaceIdx > maxLength/2 {
		return spaceIdx
	}
	idx := maxLength
	for idx > 0 && !utf8.RuneStart(s[idx]) {
		idx--
	}
	return idx
}
