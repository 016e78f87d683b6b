package discord

import (
	"bytes"
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/chatmind/internal/mind"
)

// Only user mentions ping; the model cannot reach @everyone or roles.
var allowedMentions = &discordgo.MessageAllowedMentions{
	Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers},
}

// Send implements mind.Transport.
func (b *Bot) Send(ctx context.Context, channelID string, msg mind.OutboundMessage) (mind.PostedMessage, error) {
	data := &discordgo.MessageSend{
		Content:         msg.Content,
		AllowedMentions: allowedMentions,
	}
	if msg.ReplyTo != "" {
		data.Reference = &discordgo.MessageReference{MessageID: msg.ReplyTo, ChannelID: channelID}
	}
	if msg.Image != nil {
		data.Files = []*discordgo.File{{
			Name:        msg.Image.Name,
			ContentType: "image/png",
			Reader:      bytes.NewReader(msg.Image.Data),
		}}
	}
	m, err := b.api.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx))
	if err != nil {
		return mind.PostedMessage{}, fmt.Errorf("send message: %w", err)
	}
	return posted(channelID, m), nil
}

// Edit implements mind.Transport.
func (b *Bot) Edit(ctx context.Context, channelID, messageID, content string) (mind.PostedMessage, error) {
	m, err := b.api.ChannelMessageEdit(channelID, messageID, content, discordgo.WithContext(ctx))
	if err != nil {
		return mind.PostedMessage{}, fmt.Errorf("edit message %s: %w", messageID, err)
	}
	return posted(channelID, m), nil
}

// Delete implements mind.Transport.
func (b *Bot) Delete(ctx context.Context, channelID, messageID string) error {
	if err := b.api.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	return nil
}

// React implements mind.Transport.
func (b *Bot) React(ctx context.Context, channelID, messageID, emoji string) error {
	return b.api.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx))
}

// Unreact implements mind.Transport.
func (b *Bot) Unreact(ctx context.Context, channelID, messageID, emoji string) error {
	return b.api.MessageReactionRemove(channelID, messageID, emoji, "@me", discordgo.WithContext(ctx))
}

// Typing implements mind.Transport.
func (b *Bot) Typing(ctx context.Context, channelID string) error {
	return b.api.ChannelTyping(channelID, discordgo.WithContext(ctx))
}

func posted(channelID string, m *discordgo.Message) mind.PostedMessage {
	if m == nil {
		return mind.PostedMessage{ChannelID: channelID}
	}
	if m.ChannelID != "" {
		channelID = m.ChannelID
	}
	return mind.PostedMessage{ChannelID: channelID, MessageID: m.ID, Content: m.Content}
}
