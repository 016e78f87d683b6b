package mind

import (
	"sort"
	"sync"
)

// channelRegistry holds the channel actors. Safe for concurrent use.
type channelRegistry struct {
	mu       sync.RWMutex
	channels map[string]*channel
	closed   bool
}

func newChannelRegistry() *channelRegistry {
	return &channelRegistry{channels: make(map[string]*channel)}
}

// get returns the actor of channelID, starting one with start if needed. It
// returns nil once the registry is closed.
func (s *channelRegistry) get(channelID string, start func() *channel) *channel {
	s.mu.RLock()
	c := s.channels[channelID]
	closed := s.closed
	s.mu.RUnlock()
	if c != nil || closed {
		return c
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if c = s.channels[channelID]; c != nil {
		return c
	}
	c = start()
	s.channels[channelID] = c
	return c
}

// ids returns the known channel IDs (for status listings).
func (s *channelRegistry) ids() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.channels))
	for id := range s.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// close refuses new actors and returns the running ones.
func (s *channelRegistry) close() []*channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	out := make([]*channel, 0, len(s.channels))
	for _, c := range s.channels {
		out = append(out, c)
	}
	return out
}
