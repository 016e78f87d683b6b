package discord

import (
	"context"
	"errors"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/keshon/chatmind/internal/middleware"
	"github.com/keshon/chatmind/internal/mind"
	"github.com/keshon/chatmind/pkg/cmd"
)

// SlashProvider is implemented by commands registered as slash commands.
type SlashProvider interface {
	SlashDefinition() *discordgo.ApplicationCommand
}

var errNoSlashContext = errors.New("command needs a slash interaction")

// engineCommand maps a slash command onto one engine command.
type engineCommand struct {
	name        string
	description string
	kind        mind.CommandKind
	options     []*discordgo.ApplicationCommandOption
	engine      Engine
	format      func(mind.CommandResult) string
}

func (c *engineCommand) Name() string        { return c.name }
func (c *engineCommand) Description() string { return c.description }

func (c *engineCommand) SlashDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        c.name,
		Description: c.description,
		Type:        discordgo.ChatApplicationCommand,
		Options:     c.options,
	}
}

func (c *engineCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	sc, ok := inv.Data.(*SlashContext)
	if !ok {
		return errNoSlashContext
	}
	res, err := c.engine.OnCommand(ctx, mind.Command{
		Kind:      c.kind,
		GuildID:   sc.GuildID(),
		ChannelID: sc.ChannelID(),
		MessageID: sc.Event.ID,
		Text:      inv.Option("text"),
	})
	if err != nil {
		return err
	}
	text := res.Text
	if c.format != nil {
		text = c.format(res)
	}
	return sc.Reply(text)
}

func statusBlock(res mind.CommandResult) string {
	return "```\n" + res.Text + "\n```"
}

func newCommandRegistry(e Engine, log *zap.Logger) (*cmd.Registry, error) {
	commands := []struct {
		c   *engineCommand
		mws []cmd.Middleware
	}{
		{c: &engineCommand{name: "poke", description: "Make the bot answer the last message", kind: mind.CommandPoke}},
		{c: &engineCommand{name: "unpoke", description: "Make the bot stop talking for a while", kind: mind.CommandUnpoke},
			mws: []cmd.Middleware{middleware.WithGuildOnly()}},
		{c: &engineCommand{name: "stop", description: "Stop the response in progress", kind: mind.CommandStop}},
		{c: &engineCommand{name: "lobotomize", description: "Make the bot forget everything said before now", kind: mind.CommandLobotomize}},
		{c: &engineCommand{name: "say", description: "Make the bot say something", kind: mind.CommandSay,
			options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "text",
				Description: "What to say",
				Required:    true,
			}}}},
		{c: &engineCommand{name: "status", description: "Show what the bot is paying attention to", kind: mind.CommandStatus, format: statusBlock}},
	}

	reg := cmd.NewRegistry()
	for _, entry := range commands {
		entry.c.engine = e
		mws := append(entry.mws, middleware.WithCommandLogger(log))
		if err := reg.Register(cmd.Apply(entry.c, mws...)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
