package mind

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const inboxSize = 64

type (
	evTrigger  struct{ t Trigger }
	evWindow   struct{ gen uint64 }
	evShutdown struct{}
	evDone     struct {
		task *GenerationTask
		resp Response
		err  error
	}
	evCommand struct {
		cmd   Command
		reply chan commandReply
	}
)

type commandReply struct {
	res CommandResult
	err error
}

// channel is the actor owning everything about one chat channel. All fields
// below the inbox are touched only by its run goroutine.
type channel struct {
	id      string
	guildID string
	r       *Runner
	log     *zap.Logger
	inbox   chan any
	done    chan struct{}

	attention  *Attention
	queue      *ChannelQueue
	coord      *Coordinator
	repetition *RepetitionTracker

	active   *GenerationTask
	ready    []Trigger
	last     *Trigger
	marker   string
	stopping bool
}

func newChannel(r *Runner, guildID, channelID string) *channel {
	c := &channel{
		id:      channelID,
		guildID: guildID,
		r:       r,
		log:     r.log.With(zap.String("channel", channelID), zap.String("guild", guildID)),
		inbox:   make(chan any, inboxSize),
		done:    make(chan struct{}),
	}
	c.attention = NewAttention(r.cfg.Decision, guildID, channelID, r.mentions, r.deps.Rand)
	c.queue = NewChannelQueue(r.cfg.Queue, r.deps.Scheduler, func(gen uint64) {
		c.post(evWindow{gen: gen})
	})
	c.coord = NewCoordinator(r.cfg.Coordinator, r.deps.Backend, r.deps.Prompts, r.deps.Transport, c.log, r.now)
	c.repetition = NewRepetitionTracker(r.cfg.Repetition)

	if r.deps.Store != nil {
		if snap, ok := r.deps.Store.LoadChannel(channelID); ok {
			c.marker = snap.HistoryMarker
			c.attention.RestorePanic(snap.PanicUntil)
		}
	}
	return c
}

// post delivers an event unless the actor already exited.
func (c *channel) post(ev any) bool {
	select {
	case c.inbox <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *channel) exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *channel) run() {
	defer close(c.done)
	for ev := range c.inbox {
		switch ev := ev.(type) {
		case evTrigger:
			c.onTrigger(ev.t)
		case evWindow:
			c.handOff(c.queue.Fire(ev.gen)...)
		case evDone:
			c.onDone(ev)
		case evCommand:
			res, err := c.onCommand(ev.cmd)
			ev.reply <- commandReply{res: res, err: err}
		case evShutdown:
			c.stopping = true
			c.queue.Clear()
			c.ready = nil
		}
		if c.stopping && c.active == nil {
			return
		}
	}
}

func (c *channel) onTrigger(t Trigger) {
	if c.stopping {
		return
	}
	now := c.r.now()
	if t.Kind == TriggerMessage {
		last := t
		c.last = &last
	}

	panicUntil := c.attention.Snapshot().PanicUntil
	v := c.attention.Consider(now, t)
	if !c.attention.Snapshot().PanicUntil.Equal(panicUntil) {
		c.persist()
	}
	c.log.Debug("trigger considered",
		zap.String("kind", t.Kind.String()),
		zap.String("message", t.MessageID),
		zap.Bool("admit", v.Admit),
		zap.String("reason", v.Reason),
		zap.Float64("chance", v.Chance),
	)
	if !v.Admit {
		return
	}

	if t.IsImageRequest() && c.r.deps.Images != nil {
		c.startImage(t)
		return
	}
	t.ImagePrompt = ""

	if c.active != nil && c.r.cfg.Queue.SkipInProgress {
		c.log.Info("preempting active response", zap.String("task", c.active.ID))
		c.active.Cancel()
		c.ready = nil
	}

	if t.Kind == TriggerRegenerate {
		c.handOff(t)
		return
	}
	c.handOff(c.queue.Enqueue(t)...)
}

// handOff makes triggers ready for the coordinator, in order.
func (c *channel) handOff(ts ...Trigger) {
	if len(ts) == 0 || c.stopping {
		return
	}
	c.ready = append(c.ready, ts...)
	c.dispatch()
}

func (c *channel) dispatch() {
	if c.active != nil || c.stopping || len(c.ready) == 0 {
		return
	}
	t := c.ready[0]
	c.ready = c.ready[1:]

	task, err := c.coord.Begin(t, c.marker)
	if err != nil {
		c.log.Error("coordinator refused task", zap.Error(err))
		return
	}
	c.active = task
	c.r.wg.Add(1)
	go func() {
		defer c.r.wg.Done()
		resp, err := c.coord.Run(c.r.base, task)
		c.post(evDone{task: task, resp: resp, err: err})
	}()
}

func (c *channel) onDone(ev evDone) {
	if c.active == ev.task {
		c.active = nil
	}
	switch {
	case ev.err == nil:
		c.remember(ev.resp)
	case errors.Is(ev.err, ErrCancelled):
		c.log.Debug("task cancelled", zap.String("task", ev.task.ID), zap.Int("attempts", ev.task.Attempts()))
		c.remember(ev.resp)
	default:
		c.log.Warn("task failed", zap.String("task", ev.task.ID), zap.Error(ev.err))
	}
	c.dispatch()
}

// remember records posted text in the repetition ring and hides the history
// before it when it repeats.
func (c *channel) remember(resp Response) {
	if resp.Text == "" {
		return
	}
	if c.repetition.Check(resp.Text) {
		if id := resp.Last().MessageID; id != "" {
			c.log.Warn("repetitive response, hiding earlier history", zap.String("marker", id))
			c.setMarker(id)
		}
	}
}

func (c *channel) startImage(t Trigger) {
	name := fmt.Sprintf("image:%s:%s", c.id, t.MessageID)
	tr := c.r.deps.Transport
	log := c.log.With(zap.String("job", name))
	err := c.r.jobs.StartAsync(c.r.base, name, func(ctx context.Context) error {
		img, err := c.r.deps.Images.Generate(ctx, t.ImagePrompt)
		if err != nil {
			if c.r.cfg.ImageFailureNotice != "" {
				_, _ = tr.Send(context.WithoutCancel(ctx), t.ChannelID, OutboundMessage{Content: c.r.cfg.ImageFailureNotice, ReplyTo: t.MessageID})
			}
			return fmt.Errorf("generate image: %w", err)
		}
		_, err = tr.Send(ctx, t.ChannelID, OutboundMessage{ReplyTo: t.MessageID, Image: &img})
		return err
	})
	if err != nil {
		log.Warn("image job not started", zap.Error(err))
		return
	}
	log.Info("image generation started", zap.String("prompt", preview(t.ImagePrompt, replyPreviewRunes)))
}

func (c *channel) onCommand(cmd Command) (CommandResult, error) {
	now := c.r.now()
	ctx, cancel := context.WithTimeout(c.r.base, 30*time.Second)
	defer cancel()

	switch cmd.Kind {
	case CommandPoke:
		t := Trigger{Kind: TriggerPoke, GuildID: c.guildID, ChannelID: c.id, ReceivedAt: now}
		if c.last != nil {
			t = *c.last
			t.Kind = TriggerPoke
			t.ReceivedAt = now
		}
		t.Explicit = true
		c.onTrigger(t)
		c.persist()
		return CommandResult{Text: "Poked."}, nil

	case CommandUnpoke:
		until := c.attention.Disengage(now)
		if c.active != nil {
			c.active.Cancel()
		}
		dropped := c.queue.Clear() + len(c.ready)
		c.ready = nil
		c.persist()
		return CommandResult{
			Text:    fmt.Sprintf("Going quiet until %s.", until.Format(time.Kitchen)),
			Dropped: dropped,
		}, nil

	case CommandStop:
		if c.active == nil {
			return CommandResult{Text: "Nothing to stop."}, nil
		}
		c.active.Cancel()
		return CommandResult{Text: "Stopped."}, nil

	case CommandLobotomize:
		if cmd.MessageID == "" {
			return CommandResult{}, errors.New("lobotomize needs a message id marking now")
		}
		c.setMarker(cmd.MessageID)
		c.repetition.Reset()
		return CommandResult{Text: "Forgot everything said so far."}, nil

	case CommandHide:
		if cmd.MessageID == "" {
			return CommandResult{}, errors.New("hide needs a message id")
		}
		c.setMarker(cmd.MessageID)
		return CommandResult{Text: "History hidden."}, nil

	case CommandGuarantee:
		c.attention.Guarantee(cmd.MessageID)
		return CommandResult{}, nil

	case CommandSay:
		if cmd.Text == "" {
			return CommandResult{}, errors.New("nothing to say")
		}
		msg, err := c.r.deps.Transport.Send(ctx, c.id, OutboundMessage{Content: cmd.Text})
		if err != nil {
			return CommandResult{}, fmt.Errorf("say: %w", err)
		}
		if c.repetition.Check(cmd.Text) && msg.MessageID != "" {
			c.setMarker(msg.MessageID)
		}
		return CommandResult{Text: "Said."}, nil

	case CommandDelete:
		if err := c.r.deps.Transport.Delete(ctx, c.id, cmd.MessageID); err != nil {
			return CommandResult{}, fmt.Errorf("delete: %w", err)
		}
		return CommandResult{}, nil

	case CommandStatus:
		st := c.status(now)
		return CommandResult{Text: st.String(), Status: &st}, nil
	}
	return CommandResult{}, fmt.Errorf("unknown command %d", cmd.Kind)
}

func (c *channel) status(now time.Time) ChannelStatus {
	snap := c.attention.Snapshot()
	st := ChannelStatus{
		ChannelID:     c.id,
		State:         c.attention.State(now),
		PanicUntil:    snap.PanicUntil,
		Queued:        c.queue.Len(),
		Ready:         len(c.ready),
		HistoryMarker: c.marker,
		Remembered:    c.repetition.Len(),
	}
	if !snap.LastActivity.IsZero() {
		st.SinceActivity = now.Sub(snap.LastActivity)
	}
	if c.active != nil {
		st.ActiveTask = c.active.ID
		st.ActiveFor = now.Sub(c.active.StartedAt)
	}
	return st
}

func (c *channel) setMarker(id string) {
	c.marker = id
	c.persist()
}

func (c *channel) persist() {
	if c.r.deps.Store == nil {
		return
	}
	snap := ChannelSnapshot{HistoryMarker: c.marker, PanicUntil: c.attention.Snapshot().PanicUntil}
	if err := c.r.deps.Store.SaveChannel(c.id, snap); err != nil {
		c.log.Warn("save channel state failed", zap.Error(err))
	}
}
