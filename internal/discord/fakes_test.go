package discord

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/chatmind/internal/mind"
)

type sentMessage struct {
	ChannelID string
	Data      *discordgo.MessageSend
	File      []byte
}

type fakeSession struct {
	mu        sync.Mutex
	next      int
	sent      []sentMessage
	edits     []string
	deleted   []string
	reactions []string
	removed   []string
	typing    int
	messages  map[string]*discordgo.Message
	history   []*discordgo.Message
	channels  map[string]*discordgo.Channel
	responses []*discordgo.InteractionResponse

	remote  []*discordgo.ApplicationCommand
	created []string
	dropped []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		next:     500,
		messages: make(map[string]*discordgo.Message),
		channels: make(map[string]*discordgo.Channel),
	}
}

func (f *fakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	s := sentMessage{ChannelID: channelID, Data: data}
	if len(data.Files) > 0 {
		s.File, _ = io.ReadAll(data.Files[0].Reader)
	}
	f.sent = append(f.sent, s)
	return &discordgo.Message{ID: fmt.Sprint(f.next), ChannelID: channelID, Content: data.Content}, nil
}

func (f *fakeSession) ChannelMessageEdit(channelID, messageID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, messageID+"="+content)
	return &discordgo.Message{ID: messageID, ChannelID: channelID, Content: content}, nil
}

func (f *fakeSession) ChannelMessageDelete(_, messageID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeSession) ChannelMessage(_, messageID string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[messageID]
	if !ok {
		return nil, fmt.Errorf("message %s not found", messageID)
	}
	cp := *m
	return &cp, nil
}

func (f *fakeSession) ChannelMessages(_ string, limit int, beforeID, _, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// f.history is newest first like the API
	var out []*discordgo.Message
	skipping := beforeID != ""
	for _, m := range f.history {
		if skipping {
			if m.ID == beforeID {
				skipping = false
			}
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSession) MessageReactionAdd(_, messageID, emoji string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, messageID+emoji)
	return nil
}

func (f *fakeSession) MessageReactionRemove(_, messageID, emoji, userID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, messageID+emoji+userID)
	return nil
}

func (f *fakeSession) ChannelTyping(string, ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing++
	return nil
}

func (f *fakeSession) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("channel %s not found", channelID)
	}
	return ch, nil
}

func (f *fakeSession) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp)
	return nil
}

func (f *fakeSession) ApplicationCommands(string, string, ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote, nil
}

func (f *fakeSession) ApplicationCommandCreate(_, _ string, c *discordgo.ApplicationCommand, _ ...discordgo.RequestOption) (*discordgo.ApplicationCommand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, c.Name)
	return c, nil
}

func (f *fakeSession) ApplicationCommandDelete(_, _, cmdID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, cmdID)
	return nil
}

func (f *fakeSession) lastReply() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.responses) == 0 {
		return ""
	}
	return f.responses[len(f.responses)-1].Data.Content
}

type fakeEngine struct {
	mu       sync.Mutex
	triggers []mind.Trigger
	commands []mind.Command
	result   mind.CommandResult
	err      error
}

func (e *fakeEngine) OnTrigger(_ context.Context, t mind.Trigger) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.triggers = append(e.triggers, t)
	return e.err
}

func (e *fakeEngine) OnCommand(_ context.Context, c mind.Command) (mind.CommandResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands = append(e.commands, c)
	return e.result, e.err
}

type fakeCaptioner struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (c *fakeCaptioner) Caption(_ context.Context, url string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, url)
	if c.err != nil {
		return "", c.err
	}
	return "a photo of " + url, nil
}

const selfID = "bot"

func newTestBot(opts Options) (*Bot, *fakeSession, *fakeEngine) {
	api := newFakeSession()
	b := newBot(api, opts, nil)
	b.setSelf(selfID)
	e := &fakeEngine{}
	if err := b.Attach(e); err != nil {
		panic(err)
	}
	return b, api, e
}

func user(id, name string) *discordgo.User {
	return &discordgo.User{ID: id, Username: name}
}
