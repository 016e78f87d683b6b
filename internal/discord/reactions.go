package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/chatmind/internal/mind"
)

func (b *Bot) handleReaction(ctx context.Context, r *discordgo.MessageReaction) error {
	self := b.self()
	if r == nil || r.UserID == self {
		return nil
	}
	switch r.Emoji.Name {
	case EmojiPoke:
		return b.poke(ctx, r)
	case EmojiRegenerate:
		return b.regenerate(ctx, r)
	case EmojiDelete:
		msg, err := b.ownMessage(ctx, r)
		if err != nil || msg == nil {
			return err
		}
		_, err = b.engine.OnCommand(ctx, mind.Command{Kind: mind.CommandDelete, GuildID: r.GuildID, ChannelID: r.ChannelID, MessageID: msg.ID})
		return err
	case EmojiHide:
		_, err := b.engine.OnCommand(ctx, mind.Command{Kind: mind.CommandHide, GuildID: r.GuildID, ChannelID: r.ChannelID, MessageID: r.MessageID})
		return err
	}
	return nil
}

// poke guarantees an answer to someone else's message and replays it.
func (b *Bot) poke(ctx context.Context, r *discordgo.MessageReaction) error {
	msg, err := b.api.ChannelMessage(r.ChannelID, r.MessageID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("fetch poked message: %w", err)
	}
	if msg.Author == nil || msg.Author.ID == b.self() {
		return nil
	}
	msg.GuildID = r.GuildID
	if _, err := b.engine.OnCommand(ctx, mind.Command{Kind: mind.CommandGuarantee, GuildID: r.GuildID, ChannelID: r.ChannelID, MessageID: msg.ID}); err != nil {
		return err
	}
	return b.engine.OnTrigger(ctx, b.trigger(ctx, msg))
}

// regenerate rewrites one of the bot's messages in place.
func (b *Bot) regenerate(ctx context.Context, r *discordgo.MessageReaction) error {
	msg, err := b.ownMessage(ctx, r)
	if err != nil || msg == nil {
		return err
	}
	// let the same user ask again later
	_ = b.api.MessageReactionRemove(r.ChannelID, r.MessageID, r.Emoji.Name, r.UserID, discordgo.WithContext(ctx))
	return b.engine.OnTrigger(ctx, mind.Trigger{
		Kind:          mind.TriggerRegenerate,
		GuildID:       r.GuildID,
		ChannelID:     r.ChannelID,
		MessageID:     msg.ID,
		EditMessageID: msg.ID,
		AuthorID:      r.UserID,
		Explicit:      true,
		DirectMessage: r.GuildID == "",
	})
}

// ownMessage fetches the reacted message when the bot wrote it.
func (b *Bot) ownMessage(ctx context.Context, r *discordgo.MessageReaction) (*discordgo.Message, error) {
	msg, err := b.api.ChannelMessage(r.ChannelID, r.MessageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch reacted message: %w", err)
	}
	if msg.Author == nil || msg.Author.ID != b.self() {
		return nil, nil
	}
	return msg, nil
}
