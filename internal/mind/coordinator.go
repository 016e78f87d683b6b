package mind

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/keshon/chatmind/internal/ai"
)

// DefaultMessageLimit is the longest message the chat platform accepts.
const DefaultMessageLimit = 2000

const typingInterval = 8 * time.Second

// CoordinatorConfig shapes how responses are generated and delivered.
type CoordinatorConfig struct {
	HistoryLimit   int
	MaxRetries     int // retries after an empty response; attempts are MaxRetries+1
	Granularity    Granularity
	StreamInterval time.Duration
	SplitResponses bool           // one message per sentence when not streaming
	SplitPattern   *regexp.Regexp // custom split; first group is the message
	MessageLimit   int
	Filter         FilterConfig
	Typing         bool
	EmptyNotice    string // posted when every attempt came back empty; "" posts nothing
	FailureNotice  string // posted when the backend cannot be reached; "" posts nothing
}

// GenerationTask is one response in flight.
type GenerationTask struct {
	ID         string
	Trigger    Trigger
	StartedAt  time.Time
	HideBefore string

	attempts   atomic.Int32
	cancelled  atomic.Bool
	cancelOnce sync.Once
	cancelCh   chan struct{}

	mu      sync.Mutex
	partial string
}

func newGenerationTask(t Trigger, hideBefore string, now time.Time) *GenerationTask {
	return &GenerationTask{
		ID:         uuid.NewString(),
		Trigger:    t,
		StartedAt:  now,
		HideBefore: hideBefore,
		cancelCh:   make(chan struct{}),
	}
}

// Attempts is the number of generation attempts started so far.
func (t *GenerationTask) Attempts() int { return int(t.attempts.Load()) }

// Cancel asks the task to stop. Delivered text stays and is finalized.
func (t *GenerationTask) Cancel() {
	t.cancelOnce.Do(func() {
		t.cancelled.Store(true)
		close(t.cancelCh)
	})
}

// Cancelled reports whether Cancel was called.
func (t *GenerationTask) Cancelled() bool { return t.cancelled.Load() }

// CancelC is closed once the task is cancelled.
func (t *GenerationTask) CancelC() <-chan struct{} { return t.cancelCh }

// Partial is the text delivered so far.
func (t *GenerationTask) Partial() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.partial
}

func (t *GenerationTask) setPartial(s string) {
	t.mu.Lock()
	t.partial = s
	t.mu.Unlock()
}

// Response is the outcome of a completed or cancelled task.
type Response struct {
	TaskID   string
	Text     string
	Messages []PostedMessage
	Attempts int
}

// Last is the final message posted, or the zero value when nothing was posted.
func (r Response) Last() PostedMessage {
	if len(r.Messages) == 0 {
		return PostedMessage{}
	}
	return r.Messages[len(r.Messages)-1]
}

// Coordinator generates and delivers the responses of one channel. At most one
// task is active at a time.
type Coordinator struct {
	cfg       CoordinatorConfig
	backend   ai.Backend
	prompts   PromptBuilder
	transport Transport
	log       *zap.Logger
	now       Clock

	busy atomic.Bool
}

// NewCoordinator creates a coordinator. log and now may be nil.
func NewCoordinator(cfg CoordinatorConfig, backend ai.Backend, prompts PromptBuilder, transport Transport, log *zap.Logger, now Clock) *Coordinator {
	if cfg.MessageLimit <= 0 {
		cfg.MessageLimit = DefaultMessageLimit
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Coordinator{cfg: cfg, backend: backend, prompts: prompts, transport: transport, log: log, now: now}
}

// Busy reports whether a task is active.
func (c *Coordinator) Busy() bool { return c.busy.Load() }

// Begin claims the coordinator for a new task. It fails with ErrBusy while
// another task is active; the caller preempts by cancelling that task first
// and waiting for its Run to return.
func (c *Coordinator) Begin(t Trigger, hideBefore string) (*GenerationTask, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return nil, &GenerationError{Kind: ErrBusy}
	}
	return newGenerationTask(t, hideBefore, c.now()), nil
}

// RespondTo generates and delivers a response to t.
func (c *Coordinator) RespondTo(ctx context.Context, t Trigger) (Response, error) {
	task, err := c.Begin(t, "")
	if err != nil {
		return Response{}, err
	}
	return c.Run(ctx, task)
}

// Run executes a task claimed with Begin and releases the coordinator.
func (c *Coordinator) Run(ctx context.Context, task *GenerationTask) (Response, error) {
	defer c.busy.Store(false)

	log := c.log.With(zap.String("task", task.ID), zap.String("trigger", task.Trigger.Kind.String()))
	var typingStop context.CancelFunc = func() {}
	if c.cfg.Typing {
		var typingCtx context.Context
		typingCtx, typingStop = context.WithCancel(ctx)
		go c.keepTyping(typingCtx, task.Trigger.ChannelID)
	}
	defer typingStop()

	for {
		task.attempts.Add(1)
		if task.Cancelled() {
			return c.response(task, nil), newGenerationError(ErrCancelled, task, nil)
		}

		prompt, err := c.prompts.Build(ctx, PromptRequest{
			Trigger:      task.Trigger,
			HistoryLimit: c.cfg.HistoryLimit,
			HideBefore:   task.HideBefore,
		})
		if err != nil {
			return Response{}, newGenerationError(ErrPromptUnavailable, task, fmt.Errorf("build prompt: %w", err))
		}
		filter := NewImmersionFilter(c.cfg.Filter, prompt.Speakers)
		req := ai.Request{Prompt: prompt.Text, Stop: filter.StopSequences()}
		LogGeneration(log, task.Attempts(), req)

		msgs, text, err := c.deliver(ctx, task, filter, req, typingStop)
		resp := c.response(task, msgs)
		resp.Text = text

		switch {
		case task.Cancelled() || errors.Is(err, context.Canceled):
			log.Info("generation cancelled", zap.Int("delivered", len(msgs)))
			return resp, newGenerationError(ErrCancelled, task, nil)
		case err != nil:
			log.Warn("generation failed", zap.Error(err))
			c.notice(ctx, task, c.cfg.FailureNotice)
			return resp, newGenerationError(ErrBackendUnavailable, task, err)
		case strings.TrimSpace(text) != "":
			LogReply(log, text)
			return resp, nil
		}

		if task.Attempts() >= c.cfg.MaxRetries+1 {
			log.Warn("empty response, giving up", zap.Int("attempts", task.Attempts()))
			c.notice(ctx, task, c.cfg.EmptyNotice)
			return resp, newGenerationError(ErrEmptyResponse, task, nil)
		}
		log.Info("empty response, retrying", zap.Int("attempt", task.Attempts()))
	}
}

func (c *Coordinator) response(task *GenerationTask, msgs []PostedMessage) Response {
	return Response{TaskID: task.ID, Messages: msgs, Attempts: task.Attempts(), Text: task.Partial()}
}

// deliver runs one attempt and returns the posted messages and their text.
func (c *Coordinator) deliver(ctx context.Context, task *GenerationTask, filter *ImmersionFilter, req ai.Request, delivered func()) ([]PostedMessage, string, error) {
	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-task.CancelC():
			cancel()
		case <-genCtx.Done():
		}
	}()

	w := &streamWriter{c: c, task: task, onFirst: delivered}
	if c.cfg.Granularity == StreamOff {
		err := c.deliverWhole(genCtx, task, filter, req, w)
		return w.msgs, strings.Join(w.texts(), "\n"), err
	}
	err := c.deliverStream(ctx, genCtx, task, filter, req, w)
	if task.Cancelled() {
		c.stopBackend()
	}
	return w.msgs, task.Partial(), err
}

func (c *Coordinator) deliverWhole(ctx context.Context, task *GenerationTask, filter *ImmersionFilter, req ai.Request, w *streamWriter) error {
	raw, err := c.backend.Generate(ctx, req)
	if err != nil {
		return err
	}
	if task.Cancelled() {
		return nil
	}
	text, _ := filter.Filter(raw)
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	parts := []string{text}
	if c.cfg.SplitResponses || c.cfg.SplitPattern != nil {
		parts = SplitText(NewSplitter(c.cfg.SplitPattern), text)
	}
	for _, part := range parts {
		if task.Cancelled() {
			return nil
		}
		if err := w.post(ctx, part); err != nil {
			return err
		}
	}
	return nil
}

// deliverStream pulls the stream under genCtx and paces delivery under ctx, so
// a cancelled task still gets its latest text posted.
func (c *Coordinator) deliverStream(ctx, genCtx context.Context, task *GenerationTask, filter *ImmersionFilter, req ai.Request, w *streamWriter) error {
	stream, err := c.backend.StreamGenerate(genCtx, req)
	if err != nil {
		return err
	}

	pumpCtx, stopPump := context.WithCancel(genCtx)
	defer stopPump()
	in := make(chan Increment)
	pumpErr := make(chan error, 1)
	go func() {
		defer close(in)
		pumpErr <- c.pump(pumpCtx, task, stream, filter, in)
	}()

	lim := NewStreamLimiter(c.cfg.StreamInterval)
	paceErr := lim.Pace(ctx, in, task.CancelC(), w.emit)
	if paceErr != nil {
		stopPump()
	}
	err = <-pumpErr
	if paceErr != nil && !errors.Is(paceErr, context.Canceled) {
		return paceErr
	}
	if task.Cancelled() {
		return nil
	}
	return err
}

// pump pulls tokens, filters the cumulative text and feeds increments to in.
func (c *Coordinator) pump(ctx context.Context, task *GenerationTask, stream ai.Stream, filter *ImmersionFilter, in chan<- Increment) error {
	defer stream.Close()
	send := func(inc Increment) bool {
		select {
		case in <- inc:
			return true
		case <-ctx.Done():
			return false
		case <-task.CancelC():
			return false
		}
	}

	var raw strings.Builder
	last := ""
	for {
		tok, err := stream.Next()
		if err != nil {
			if task.Cancelled() || ctx.Err() != nil {
				return nil
			}
			clean, _ := filter.Filter(raw.String())
			send(Increment{Text: strings.TrimSpace(clean), Final: true})
			if isEOF(err) {
				return nil
			}
			return err
		}
		raw.WriteString(tok)
		clean, stop := filter.Filter(raw.String())
		if stop {
			c.stopBackend()
			send(Increment{Text: strings.TrimSpace(clean), Final: true})
			return nil
		}
		visible := clean
		if c.cfg.Granularity == StreamSentence {
			visible = completeSentences(clean)
		}
		visible = strings.TrimSpace(visible)
		if visible == last || visible == "" {
			continue
		}
		last = visible
		if !send(Increment{Text: visible}) {
			return nil
		}
	}
}

func (c *Coordinator) stopBackend() {
	s, ok := c.backend.(ai.Stopper)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.StopGeneration(ctx); err != nil && !errors.Is(err, ai.ErrUnsupported) {
		c.log.Debug("stop generation failed", zap.Error(err))
	}
}

func (c *Coordinator) notice(ctx context.Context, task *GenerationTask, text string) {
	if text == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := c.transport.Send(ctx, task.Trigger.ChannelID, OutboundMessage{Content: text}); err != nil {
		c.log.Warn("post notice failed", zap.Error(err))
	}
}

func (c *Coordinator) keepTyping(ctx context.Context, channelID string) {
	ticker := time.NewTicker(typingInterval)
	defer ticker.Stop()
	for {
		if err := c.transport.Typing(ctx, channelID); err != nil && ctx.Err() == nil {
			c.log.Debug("typing indicator failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// streamWriter turns cumulative text into posted and edited messages, rolling
// over into a new message past the length limit.
type streamWriter struct {
	c       *Coordinator
	task    *GenerationTask
	onFirst func()

	msgs []PostedMessage
}

func (w *streamWriter) texts() []string {
	out := make([]string, 0, len(w.msgs))
	for _, m := range w.msgs {
		out = append(out, m.Content)
	}
	return out
}

// post delivers a standalone part, split at the length limit.
func (w *streamWriter) post(ctx context.Context, part string) error {
	for _, chunk := range splitMessage(part, w.c.cfg.MessageLimit) {
		if err := w.put(ctx, len(w.msgs), chunk); err != nil {
			return err
		}
	}
	w.task.setPartial(strings.Join(w.texts(), "\n"))
	return nil
}

// emit renders the cumulative text of a stream over the messages posted so far.
// The final emit deletes messages the text no longer reaches.
func (w *streamWriter) emit(ctx context.Context, text string, final bool) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	w.task.setPartial(text)
	chunks := splitMessage(text, w.c.cfg.MessageLimit)
	for i, chunk := range chunks {
		if i < len(w.msgs) && w.msgs[i].Content == chunk {
			continue
		}
		if err := w.put(ctx, i, chunk); err != nil {
			return err
		}
	}
	if final && len(w.msgs) > len(chunks) {
		return w.trim(ctx, len(chunks))
	}
	return nil
}

// trim deletes the posted messages from index n on.
func (w *streamWriter) trim(ctx context.Context, n int) error {
	ctx = context.WithoutCancel(ctx)
	for len(w.msgs) > n {
		last := w.msgs[len(w.msgs)-1]
		if err := w.c.transport.Delete(ctx, w.task.Trigger.ChannelID, last.MessageID); err != nil {
			return fmt.Errorf("delete surplus message: %w", err)
		}
		w.msgs = w.msgs[:len(w.msgs)-1]
	}
	return nil
}

// put writes chunk as message i, editing it when it already exists.
func (w *streamWriter) put(ctx context.Context, i int, chunk string) error {
	ctx = context.WithoutCancel(ctx)
	t := w.task.Trigger
	var (
		msg PostedMessage
		err error
	)
	switch {
	case i < len(w.msgs):
		msg, err = w.c.transport.Edit(ctx, t.ChannelID, w.msgs[i].MessageID, chunk)
	case i == 0 && t.EditMessageID != "":
		msg, err = w.c.transport.Edit(ctx, t.ChannelID, t.EditMessageID, chunk)
	default:
		msg, err = w.c.transport.Send(ctx, t.ChannelID, OutboundMessage{Content: chunk})
	}
	if err != nil {
		return fmt.Errorf("deliver message: %w", err)
	}
	msg.Content = chunk
	if i < len(w.msgs) {
		w.msgs[i] = msg
	} else {
		w.msgs = append(w.msgs, msg)
	}
	if len(w.msgs) == 1 && w.onFirst != nil {
		w.onFirst()
		w.onFirst = nil
	}
	return nil
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
