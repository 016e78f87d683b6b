package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/keshon/chatmind/pkg/cmd"
)

// SlashContext is the invocation payload of a slash command. It implements
// middleware.Source.
type SlashContext struct {
	api     session
	Event   *discordgo.InteractionCreate
	replied bool
}

func (c *SlashContext) GuildID() string   { return c.Event.GuildID }
func (c *SlashContext) ChannelID() string { return c.Event.ChannelID }

func (c *SlashContext) UserID() string {
	if u := c.user(); u != nil {
		return u.ID
	}
	return ""
}

func (c *SlashContext) UserName() string {
	if u := c.user(); u != nil {
		return userName(u)
	}
	return ""
}

func (c *SlashContext) user() *discordgo.User {
	if c.Event.Member != nil && c.Event.Member.User != nil {
		return c.Event.Member.User
	}
	return c.Event.User
}

// Reply answers the interaction with an ephemeral message. Only the first
// reply is sent.
func (c *SlashContext) Reply(content string) error {
	if c.replied {
		return nil
	}
	c.replied = true
	return c.api.InteractionRespond(c.Event.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

func (b *Bot) onInteractionCreate(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := b.eventContext()
	defer cancel()
	b.handleInteraction(ctx, i)
}

func (b *Bot) handleInteraction(ctx context.Context, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	c := b.commands.Get(data.Name)
	if c == nil {
		b.log.Warn("unknown command", zap.String("command", data.Name))
		return
	}

	sc := &SlashContext{api: b.api, Event: i}
	inv := &cmd.Invocation{Options: optionValues(data.Options), Data: sc}
	if err := c.Run(ctx, inv); err != nil {
		if rerr := sc.Reply(fmt.Sprintf("Error running /%s: %v", data.Name, err)); rerr != nil {
			b.log.Warn("failed to respond to interaction", zap.Error(rerr))
		}
	}
}

func optionValues(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]string {
	if len(opts) == 0 {
		return nil
	}
	out := make(map[string]string, len(opts))
	for _, o := range opts {
		if o.Type == discordgo.ApplicationCommandOptionString {
			out[o.Name] = o.StringValue()
		} else {
			out[o.Name] = fmt.Sprint(o.Value)
		}
	}
	return out
}
