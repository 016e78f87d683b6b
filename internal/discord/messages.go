package discord

import (
	"context"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/keshon/chatmind/internal/mind"
	"github.com/keshon/chatmind/pkg/util"
)

const captionWorkers = 3

func (b *Bot) handleMessage(ctx context.Context, m *discordgo.Message) error {
	if m == nil || m.Author == nil || !conversational(m.Type) {
		return nil
	}
	return b.engine.OnTrigger(ctx, b.trigger(ctx, m))
}

// trigger describes a message for the engine. Mentions of the bot, replies
// to the bot and direct messages are explicit.
func (b *Bot) trigger(ctx context.Context, m *discordgo.Message) mind.Trigger {
	self := b.self()
	t := mind.Trigger{
		Kind:          mind.TriggerMessage,
		GuildID:       m.GuildID,
		ChannelID:     m.ChannelID,
		MessageID:     m.ID,
		AuthorID:      m.Author.ID,
		AuthorName:    displayName(m),
		AuthorIsBot:   m.Author.Bot,
		FromSelf:      m.Author.ID == self,
		DirectMessage: m.GuildID == "",
	}
	t.Explicit = t.DirectMessage
	for _, u := range m.Mentions {
		switch u.ID {
		case self:
			t.Explicit = true
		case m.Author.ID:
		default:
			t.MentionsOthers = true
		}
	}
	if ref := m.ReferencedMessage; ref != nil {
		t.ReplyToID = ref.ID
		if ref.Author != nil && ref.Author.ID == self {
			t.Explicit = true
		}
	} else if m.MessageReference != nil {
		t.ReplyToID = m.MessageReference.MessageID
	}
	if !t.FromSelf {
		b.describe(ctx, m)
	}
	t.Content = b.renderContent(m)
	return t
}

// describe captions image attachments that have not been seen yet.
func (b *Bot) describe(ctx context.Context, m *discordgo.Message) {
	if b.opts.Captioner == nil {
		return
	}
	var todo []*discordgo.MessageAttachment
	for _, a := range m.Attachments {
		if _, ok := b.captions.get(a.ID); !ok && isImage(a) {
			todo = append(todo, a)
		}
	}
	if len(todo) == 0 {
		return
	}
	captions, _ := util.Map(ctx, todo, captionWorkers, true, func(ctx context.Context, a *discordgo.MessageAttachment) (string, error) {
		caption, err := b.opts.Captioner.Caption(ctx, a.URL)
		if err != nil {
			b.log.Warn("image caption failed", zap.String("attachment", a.Filename), zap.Error(err))
		}
		return caption, err
	})
	for i, a := range todo {
		if captions[i] != "" {
			b.captions.put(a.ID, captions[i])
		}
	}
}

// renderContent replaces mention tokens with names and appends known captions.
func (b *Bot) renderContent(m *discordgo.Message) string {
	content := m.Content
	for _, u := range m.Mentions {
		name := "@" + userName(u)
		content = strings.ReplaceAll(content, "<@"+u.ID+">", name)
		content = strings.ReplaceAll(content, "<@!"+u.ID+">", name)
	}
	var parts []string
	if s := strings.TrimSpace(content); s != "" {
		parts = append(parts, s)
	}
	for _, a := range m.Attachments {
		if caption, ok := b.captions.get(a.ID); ok {
			parts = append(parts, "(image: "+caption+")")
		}
	}
	return strings.Join(parts, " ")
}

func conversational(t discordgo.MessageType) bool {
	return t == discordgo.MessageTypeDefault || t == discordgo.MessageTypeReply
}

func isImage(a *discordgo.MessageAttachment) bool {
	return strings.HasPrefix(a.ContentType, "image/") || (a.ContentType == "" && a.Width > 0)
}

func displayName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author == nil {
		return ""
	}
	return userName(m.Author)
}

func userName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}
