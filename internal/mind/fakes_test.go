package mind

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/keshon/chatmind/internal/ai"
)

type sentMessage struct {
	ChannelID string
	Msg       OutboundMessage
	ID        string
}

type editedMessage struct {
	ChannelID string
	MessageID string
	Content   string
}

type fakeTransport struct {
	mu      sync.Mutex
	next    int
	sent    []sentMessage
	edits   []editedMessage
	deleted []string
	typing  int
	sendErr error
	notify  chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{notify: make(chan struct{}, 64)}
}

func (f *fakeTransport) Send(_ context.Context, channelID string, msg OutboundMessage) (PostedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return PostedMessage{}, f.sendErr
	}
	f.next++
	id := fmt.Sprintf("%d", 1000+f.next)
	f.sent = append(f.sent, sentMessage{ChannelID: channelID, Msg: msg, ID: id})
	select {
	case f.notify <- struct{}{}:
	default:
	}
	return PostedMessage{ChannelID: channelID, MessageID: id, Content: msg.Content}, nil
}

func (f *fakeTransport) Edit(_ context.Context, channelID, messageID, content string) (PostedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, editedMessage{ChannelID: channelID, MessageID: messageID, Content: content})
	return PostedMessage{ChannelID: channelID, MessageID: messageID, Content: content}, nil
}

func (f *fakeTransport) Delete(_ context.Context, _, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeTransport) React(context.Context, string, string, string) error   { return nil }
func (f *fakeTransport) Unreact(context.Context, string, string, string) error { return nil }

func (f *fakeTransport) Typing(context.Context, string) error {
	f.mu.Lock()
	f.typing++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) Edits() []editedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]editedMessage, len(f.edits))
	copy(out, f.edits)
	return out
}

func (f *fakeTransport) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *fakeTransport) contents() []string {
	var out []string
	for _, s := range f.Sent() {
		out = append(out, s.Msg.Content)
	}
	return out
}

// fakePrompts records every request and returns a fixed prompt.
type fakePrompts struct {
	mu       sync.Mutex
	speakers []string
	reqs     []PromptRequest
	err      error
}

func (p *fakePrompts) Build(_ context.Context, req PromptRequest) (Prompt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	if p.err != nil {
		return Prompt{}, p.err
	}
	return Prompt{Text: "prompt for " + req.Trigger.MessageID, Speakers: p.speakers}, nil
}

func (p *fakePrompts) Requests() []PromptRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PromptRequest, len(p.reqs))
	copy(out, p.reqs)
	return out
}

// fakeBackend replies with the scripted texts in order, repeating the last one.
// When block is set, Generate waits for ctx instead.
type fakeBackend struct {
	mu      sync.Mutex
	replies []string
	tokens  []string
	err     error
	block   bool
	hold    bool // stream blocks after its tokens until ctx ends
	delay   time.Duration
	calls   int
	active  int
	peak    int
	streams int
}

func (b *fakeBackend) next() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if len(b.replies) == 0 {
		return ""
	}
	r := b.replies[0]
	if len(b.replies) > 1 {
		b.replies = b.replies[1:]
	}
	return r
}

func (b *fakeBackend) Generate(ctx context.Context, _ ai.Request) (string, error) {
	b.mu.Lock()
	b.active++
	b.peak = max(b.peak, b.active)
	block, delay, err := b.block, b.delay, b.err
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.active--
		b.mu.Unlock()
	}()
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return b.next(), nil
}

func (b *fakeBackend) StreamGenerate(ctx context.Context, _ ai.Request) (ai.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams++
	if b.err != nil {
		return nil, b.err
	}
	toks := make([]string, len(b.tokens))
	copy(toks, b.tokens)
	return &fakeStream{ctx: ctx, tokens: toks, hold: b.hold}, nil
}

func (b *fakeBackend) CountTokens(context.Context, string) (int, error) {
	return 0, ai.ErrUnsupported
}

func (b *fakeBackend) HealthCheck(context.Context) error { return nil }

func (b *fakeBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *fakeBackend) Peak() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peak
}

type fakeStream struct {
	ctx    context.Context
	tokens []string
	hold   bool
}

func (s *fakeStream) Next() (string, error) {
	if len(s.tokens) > 0 {
		t := s.tokens[0]
		s.tokens = s.tokens[1:]
		return t, nil
	}
	if s.hold {
		<-s.ctx.Done()
		return "", s.ctx.Err()
	}
	return "", io.EOF
}

func (s *fakeStream) Close() error { return nil }

// manualScheduler records timers and fires them on demand.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	mu      sync.Mutex
	d       time.Duration
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

// fire runs timer i unless it was stopped and reports whether it ran.
func (s *manualScheduler) fire(i int) bool {
	s.mu.Lock()
	t := s.timers[i]
	s.mu.Unlock()
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return false
	}
	t.stopped = true
	t.mu.Unlock()
	t.f()
	return true
}

func (s *manualScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

type fakeStore struct {
	mu    sync.Mutex
	snaps map[string]ChannelSnapshot
}

func newFakeStore() *fakeStore { return &fakeStore{snaps: make(map[string]ChannelSnapshot)} }

func (s *fakeStore) LoadChannel(id string) (ChannelSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[id]
	return snap, ok
}

func (s *fakeStore) SaveChannel(id string, snap ChannelSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[id] = snap
	return nil
}

type fakeImages struct {
	mu      sync.Mutex
	prompts []string
	err     error
}

func (g *fakeImages) Generate(_ context.Context, prompt string) (Image, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return Image{}, g.err
	}
	return Image{Name: "image.png", Data: []byte("png")}, nil
}
