package bot

import (
	"context"
	"time"

	"spamguard/internal/mitigation"

	"github.com/bwmarrin/discordgo"
)

// bulkDeleteMaxAge is Discord's limit for bulk deletion, minus a safety margin.
const bulkDeleteMaxAge = 14*24*time.Hour - time.Hour

// moderator implements mitigation.Moderator on a gateway session.
type moderator struct {
	session *discordgo.Session
}

func (m *moderator) TimeoutUser(ctx context.Context, guildID, userID string, until time.Time) error {
	return m.session.GuildMemberTimeout(guildID, userID, &until, discordgo.WithContext(ctx))
}

func (m *moderator) PurgeMessages(ctx context.Context, channelID string, match func(mitigation.MessageRef) bool, limit int) (int, error) {
	messages, err := m.session.ChannelMessages(channelID, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return 0, err
	}

	ids := selectPurgeIDs(messages, match, time.Now())
	switch len(ids) {
	case 0:
		return 0, nil
	case 1:
		err = m.session.ChannelMessageDelete(channelID, ids[0], discordgo.WithContext(ctx))
	default:
		err = m.session.ChannelMessagesBulkDelete(channelID, ids, discordgo.WithContext(ctx))
	}
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// logSink implements mitigation.LogSink by posting an embed.
type logSink struct {
	session *discordgo.Session
	color   int
}

func (l *logSink) PostIncident(ctx context.Context, channelID string, incident mitigation.Incident) error {
	_, err := l.session.ChannelMessageSendEmbed(channelID, incidentEmbed(incident, l.color), discordgo.WithContext(ctx))
	return err
}

func selectPurgeIDs(messages []*discordgo.Message, match func(mitigation.MessageRef) bool, now time.Time) []string {
	var ids []string
	for _, msg := range messages {
		if msg == nil || msg.Author == nil {
			continue
		}
		if now.Sub(msg.Timestamp) > bulkDeleteMaxAge {
			continue
		}
		ref := mitigation.MessageRef{ID: msg.ID, AuthorID: msg.Author.ID, SentAt: msg.Timestamp}
		if match(ref) {
			ids = append(ids, msg.ID)
		}
	}
	return ids
}
