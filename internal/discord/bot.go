// Package discord connects the engine to Discord: it turns gateway events
// into triggers and commands and implements the engine's transport.
package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/keshon/chatmind/internal/mind"
	"github.com/keshon/chatmind/pkg/cmd"
)

// Engine receives chat events.
type Engine interface {
	OnTrigger(ctx context.Context, t mind.Trigger) error
	OnCommand(ctx context.Context, c mind.Command) (mind.CommandResult, error)
}

// Captioner describes the image at a URL.
type Captioner interface {
	Caption(ctx context.Context, url string) (string, error)
}

// Reaction emoji understood by the bot.
const (
	EmojiPoke       = "👆"
	EmojiRegenerate = "🔁"
	EmojiDelete     = "❌"
	EmojiHide       = "⏪"
)

const defaultEventTimeout = 2 * time.Minute

// Options configures a Bot.
type Options struct {
	Captioner    Captioner // nil disables image captions
	CommandCache string    // directory for slash command hashes; "" re-registers every start
	EventTimeout time.Duration
}

// Bot is a Discord bot.
type Bot struct {
	dg       *discordgo.Session
	api      session
	opts     Options
	log      *zap.Logger
	engine   Engine
	commands *cmd.Registry
	base     context.Context

	mu       sync.RWMutex
	selfID   string
	channels map[string]string // channel id -> name
	captions *captionCache
}

// New creates the session. The gateway is opened by Run.
func New(token string, opts Options, log *zap.Logger) (*Bot, error) {
	if token == "" {
		return nil, errors.New("discord token is required")
	}
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMessages |
		discordgo.IntentGuildMessageReactions |
		discordgo.IntentDirectMessages |
		discordgo.IntentDirectMessageReactions |
		discordgo.IntentMessageContent
	b := newBot(dg, opts, log)
	b.dg = dg
	return b, nil
}

func newBot(api session, opts Options, log *zap.Logger) *Bot {
	if opts.EventTimeout <= 0 {
		opts.EventTimeout = defaultEventTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bot{
		api:      api,
		opts:     opts,
		log:      log.With(zap.String("component", "discord")),
		base:     context.Background(),
		channels: make(map[string]string),
		captions: newCaptionCache(512),
	}
}

// Attach connects the engine and builds the slash commands. It must be
// called before Run.
func (b *Bot) Attach(e Engine) error {
	reg, err := newCommandRegistry(e, b.log)
	if err != nil {
		return err
	}
	b.engine = e
	b.commands = reg
	return nil
}

// Run opens the gateway and blocks until ctx is done. REST calls keep
// working after it returns so in-flight responses can finish.
func (b *Bot) Run(ctx context.Context) error {
	if b.engine == nil {
		return errors.New("bot has no engine attached")
	}
	if b.dg == nil {
		return errors.New("bot has no gateway session")
	}
	b.base = ctx

	b.dg.AddHandler(b.onReady)
	b.dg.AddHandler(b.onGuildCreate)
	b.dg.AddHandler(b.onMessageCreate)
	b.dg.AddHandler(b.onMessageReactionAdd)
	b.dg.AddHandler(b.onInteractionCreate)

	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	defer b.dg.Close()

	<-ctx.Done()
	b.log.Info("shutdown signal received, closing gateway")
	return nil
}

func (b *Bot) self() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.selfID
}

func (b *Bot) setSelf(id string) {
	b.mu.Lock()
	b.selfID = id
	b.mu.Unlock()
}

func (b *Bot) eventContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(b.base, b.opts.EventTimeout)
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r.User == nil {
		b.log.Warn("ready event without user")
		return
	}
	b.setSelf(r.User.ID)
	for _, g := range r.Guilds {
		if err := b.registerCommands(r.User.ID, g.ID); err != nil {
			b.log.Error("failed to register slash commands", zap.String("guild", g.ID), zap.Error(err))
		}
	}
	b.log.Info("discord bot is running", zap.String("user", r.User.Username), zap.Int("guilds", len(r.Guilds)))
}

func (b *Bot) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	self := b.self()
	if self == "" || g.Guild == nil {
		return
	}
	b.log.Info("guild available", zap.String("guild", g.ID), zap.String("name", g.Name))
	if err := b.registerCommands(self, g.ID); err != nil {
		b.log.Error("failed to register slash commands", zap.String("guild", g.ID), zap.Error(err))
	}
}

func (b *Bot) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	ctx, cancel := b.eventContext()
	defer cancel()
	if err := b.handleMessage(ctx, m.Message); err != nil && !errors.Is(err, mind.ErrShutdown) {
		b.log.Warn("message not handled", zap.String("channel", m.ChannelID), zap.Error(err))
	}
}

func (b *Bot) onMessageReactionAdd(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
	ctx, cancel := b.eventContext()
	defer cancel()
	if err := b.handleReaction(ctx, r.MessageReaction); err != nil && !errors.Is(err, mind.ErrShutdown) {
		b.log.Warn("reaction not handled", zap.String("channel", r.ChannelID), zap.String("emoji", r.Emoji.Name), zap.Error(err))
	}
}
