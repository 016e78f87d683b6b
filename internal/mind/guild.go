package mind

import (
	"sort"
	"sync"
	"time"
)

// MentionTracker remembers, per guild, when each channel last addressed the bot.
// It bounds unsolicited replies to the most recently engaged channels and is the
// only state shared between channel actors.
type MentionTracker struct {
	mu      sync.Mutex
	horizon time.Duration
	cap     int
	guilds  map[string]map[string]time.Time
}

// NewMentionTracker keeps mentions for horizon (0 keeps them forever) and admits at
// most capacity channels per guild (0 means no cap).
func NewMentionTracker(horizon time.Duration, capacity int) *MentionTracker {
	return &MentionTracker{
		horizon: horizon,
		cap:     capacity,
		guilds:  make(map[string]map[string]time.Time),
	}
}

// LogMention records an explicit trigger in a channel.
func (m *MentionTracker) LogMention(guildID, channelID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.guilds[guildID]
	if g == nil {
		g = make(map[string]time.Time)
		m.guilds[guildID] = g
	}
	if prev, ok := g[channelID]; !ok || at.After(prev) {
		g[channelID] = at
	}
	m.purgeLocked(guildID, at)
}

// Admitted reports whether the channel is currently inside its guild's
// unsolicited-reply set.
func (m *MentionTracker) Admitted(guildID, channelID string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(guildID, now)
	_, ok := m.guilds[guildID][channelID]
	return ok
}

// Forget drops a channel from its guild set.
func (m *MentionTracker) Forget(guildID, channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g := m.guilds[guildID]; g != nil {
		delete(g, channelID)
		if len(g) == 0 {
			delete(m.guilds, guildID)
		}
	}
}

// Channels returns the admitted channels of a guild, most recent first.
func (m *MentionTracker) Channels(guildID string, now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(guildID, now)
	return sortedByRecency(m.guilds[guildID])
}

func (m *MentionTracker) purgeLocked(guildID string, now time.Time) {
	g := m.guilds[guildID]
	if g == nil {
		return
	}
	if m.horizon > 0 {
		oldest := now.Add(-m.horizon)
		for ch, at := range g {
			if at.Before(oldest) {
				delete(g, ch)
			}
		}
	}
	if m.cap > 0 && len(g) > m.cap {
		for _, ch := range sortedByRecency(g)[m.cap:] {
			delete(g, ch)
		}
	}
	if len(g) == 0 {
		delete(m.guilds, guildID)
	}
}

func sortedByRecency(g map[string]time.Time) []string {
	ids := make([]string, 0, len(g))
	for ch := range g {
		ids = append(ids, ch)
	}
	sort.Slice(ids, func(i, j int) bool {
		if g[ids[i]].Equal(g[ids[j]]) {
			return ids[i] < ids[j]
		}
		return g[ids[i]].After(g[ids[j]])
	})
	return ids
}
