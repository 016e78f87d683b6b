package discord

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/chatmind/internal/persona"
)

const maxHistoryPage = 100

// History implements persona.HistorySource.
func (b *Bot) History(ctx context.Context, channelID, before string, limit int) ([]persona.HistoryMessage, error) {
	limit = min(max(limit, 1), maxHistoryPage)
	msgs, err := b.api.ChannelMessages(channelID, limit, before, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("channel messages: %w", err)
	}
	self := b.self()
	out := make([]persona.HistoryMessage, 0, len(msgs))
	// newest first on the wire
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Author == nil || !conversational(m.Type) {
			continue
		}
		out = append(out, persona.HistoryMessage{
			ID:         m.ID,
			AuthorID:   m.Author.ID,
			AuthorName: displayName(m),
			FromBot:    m.Author.ID == self,
			Content:    b.renderContent(m),
			At:         m.Timestamp,
		})
	}
	return out, nil
}

// ChannelName implements persona.HistorySource.
func (b *Bot) ChannelName(ctx context.Context, channelID string) string {
	b.mu.RLock()
	name, ok := b.channels[channelID]
	b.mu.RUnlock()
	if ok {
		return name
	}
	ch, err := b.api.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return ""
	}
	name = ch.Name
	if ch.Type == discordgo.ChannelTypeDM || ch.Type == discordgo.ChannelTypeGroupDM {
		name = "direct message"
	}
	b.mu.Lock()
	b.channels[channelID] = name
	b.mu.Unlock()
	return name
}

// captionCache remembers captions per attachment so history lines keep them.
type captionCache struct {
	mu    sync.Mutex
	limit int
	order []string
	items map[string]string
}

func newCaptionCache(limit int) *captionCache {
	return &captionCache{limit: limit, items: make(map[string]string)}
}

func (c *captionCache) get(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.items[id]
	return s, ok
}

func (c *captionCache) put(id, caption string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[id]; ok {
		c.items[id] = caption
		return
	}
	if len(c.order) >= c.limit {
		delete(c.items, c.order[0])
		c.order = c.order[1:]
	}
	c.order = append(c.order, id)
	c.items[id] = caption
}
