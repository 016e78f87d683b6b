package mind

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/keshon/chatmind/internal/ai"
	"github.com/keshon/chatmind/pkg/jobmgr"
)

// ErrShutdown is returned by entry points called after Shutdown.
var ErrShutdown = errors.New("runner is shut down")

// CommandKind names an operator action on a channel.
type CommandKind int

const (
	CommandPoke       CommandKind = iota // re-engage and answer the last message
	CommandUnpoke                        // go quiet for the panic duration
	CommandStop                          // cancel the response in progress
	CommandLobotomize                    // hide all history up to MessageID
	CommandSay                           // post Text as the bot
	CommandStatus                        // report the channel state
	CommandGuarantee                     // the next trigger for MessageID is answered
	CommandHide                          // hide history up to MessageID
	CommandDelete                        // delete the bot message MessageID
)

// Command is an operator action addressed to one channel.
type Command struct {
	Kind      CommandKind
	GuildID   string
	ChannelID string
	MessageID string
	Text      string
}

// CommandResult is what a command reports back to the operator.
type CommandResult struct {
	Text    string
	Dropped int
	Status  *ChannelStatus
}

// ChannelStatus describes a channel for /status.
type ChannelStatus struct {
	ChannelID     string
	State         State
	SinceActivity time.Duration // zero when the bot was never addressed
	PanicUntil    time.Time
	Queued        int
	Ready         int
	ActiveTask    string
	ActiveFor     time.Duration
	HistoryMarker string
	Remembered    int
	Jobs          []string
}

func (s ChannelStatus) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "state: %s\n", s.State)
	if s.SinceActivity > 0 {
		fmt.Fprintf(&b, "last addressed: %s ago\n", s.SinceActivity.Round(time.Second))
	} else {
		b.WriteString("last addressed: never\n")
	}
	if s.State == Panicked {
		fmt.Fprintf(&b, "quiet until: %s\n", s.PanicUntil.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "queued: %d, waiting: %d\n", s.Queued, s.Ready)
	if s.ActiveTask != "" {
		fmt.Fprintf(&b, "responding: %s for %s\n", s.ActiveTask, s.ActiveFor.Round(time.Second))
	}
	if len(s.Jobs) > 0 {
		fmt.Fprintf(&b, "jobs: %s\n", strings.Join(s.Jobs, ", "))
	}
	return strings.TrimSpace(b.String())
}

// Config is the engine configuration.
type Config struct {
	Decision    DecisionConfig
	Queue       QueueConfig
	Coordinator CoordinatorConfig
	Repetition  RepetitionConfig

	UnsolicitedCap int // channels per guild allowed unsolicited replies; 0 means no cap

	IgnoreBots     bool
	IgnoreDMs      bool
	IgnorePrefixes []string
	Wakewords      []string
	ImageWords     []string

	ImageFailureNotice string
}

// Deps are the collaborators of the engine. Images, Store, Scheduler, Clock
// and Rand are optional.
type Deps struct {
	Transport Transport
	Backend   ai.Backend
	Prompts   PromptBuilder
	Images    ImageGenerator
	Store     StateStore
	Scheduler Scheduler
	Clock     Clock
	Rand      func() float64
}

// Runner routes chat events to per-channel actors.
type Runner struct {
	cfg      Config
	deps     Deps
	log      *zap.Logger
	matcher  *Matcher
	mentions *MentionTracker
	jobs     *jobmgr.Manager
	channels *channelRegistry
	now      Clock

	base       context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup
}

// NewRunner validates the configuration and creates the engine.
func NewRunner(cfg Config, deps Deps, log *zap.Logger) (*Runner, error) {
	if deps.Transport == nil || deps.Backend == nil || deps.Prompts == nil {
		return nil, errors.New("transport, backend and prompt builder are required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "mind"))
	if deps.Scheduler == nil {
		deps.Scheduler = RealScheduler
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	matcher, err := NewMatcher(cfg.Wakewords, cfg.ImageWords)
	if err != nil {
		return nil, err
	}
	jobLog := log.With(zap.String("component", "jobs"))
	base, cancel := context.WithCancel(context.Background())
	return &Runner{
		cfg:      cfg,
		deps:     deps,
		log:      log,
		matcher:  matcher,
		mentions: NewMentionTracker(cfg.Decision.Text.Horizon(), cfg.UnsolicitedCap),
		jobs: jobmgr.NewManager(func(msg string) {
			jobLog.Debug(msg)
		}),
		channels:   newChannelRegistry(),
		now:        deps.Clock,
		base:       base,
		cancelBase: cancel,
	}, nil
}

// Matcher exposes the wakeword and image phrase matcher.
func (r *Runner) Matcher() *Matcher { return r.matcher }

// OnTrigger feeds an inbound event to its channel. Events the bot must not
// react to are dropped silently.
func (r *Runner) OnTrigger(ctx context.Context, t Trigger) error {
	t, ok := r.gate(t)
	if !ok {
		return nil
	}
	c := r.channel(t.GuildID, t.ChannelID)
	if c == nil || c.exited() {
		return ErrShutdown
	}
	select {
	case c.inbox <- evTrigger{t: t}:
		return nil
	case <-c.done:
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// gate applies the filters that run before attention and marks explicit
// triggers and picture requests.
func (r *Runner) gate(t Trigger) (Trigger, bool) {
	if t.ChannelID == "" || t.FromSelf {
		return t, false
	}
	if t.AuthorIsBot && r.cfg.IgnoreBots {
		return t, false
	}
	if t.DirectMessage && r.cfg.IgnoreDMs {
		return t, false
	}
	if t.Kind == TriggerMessage {
		trimmed := strings.TrimSpace(t.Content)
		for _, p := range r.cfg.IgnorePrefixes {
			if p != "" && strings.HasPrefix(trimmed, p) {
				return t, false
			}
		}
	}
	if t.DirectMessage || r.matcher.HasWakeword(t.Content) {
		t.Explicit = true
	}
	if t.ReceivedAt.IsZero() {
		t.ReceivedAt = r.now()
	}
	if t.Kind == TriggerMessage && t.Explicit && t.ImagePrompt == "" && r.deps.Images != nil {
		if prompt, ok := r.matcher.ImagePrompt(t.Content); ok {
			t.ImagePrompt = prompt
		}
	}
	return t, true
}

// OnCommand runs an operator command in its channel and waits for the result.
func (r *Runner) OnCommand(ctx context.Context, cmd Command) (CommandResult, error) {
	if cmd.ChannelID == "" {
		return CommandResult{}, errors.New("command without channel")
	}
	c := r.channel(cmd.GuildID, cmd.ChannelID)
	if c == nil || c.exited() {
		return CommandResult{}, ErrShutdown
	}
	reply := make(chan commandReply, 1)
	select {
	case c.inbox <- evCommand{cmd: cmd, reply: reply}:
	case <-c.done:
		return CommandResult{}, ErrShutdown
	case <-ctx.Done():
		return CommandResult{}, ctx.Err()
	}
	select {
	case rep := <-reply:
		if rep.res.Status != nil {
			rep.res.Status.Jobs = r.channelJobs(cmd.ChannelID)
		}
		return rep.res, rep.err
	case <-ctx.Done():
		return CommandResult{}, ctx.Err()
	}
}

func (r *Runner) channelJobs(channelID string) []string {
	var out []string
	for _, name := range r.jobs.List() {
		if strings.HasPrefix(name, "image:"+channelID+":") {
			out = append(out, name)
		}
	}
	return out
}

// Channels lists the channels with a running actor.
func (r *Runner) Channels() []string { return r.channels.ids() }

func (r *Runner) channel(guildID, channelID string) *channel {
	return r.channels.get(channelID, func() *channel {
		c := newChannel(r, guildID, channelID)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			c.run()
		}()
		return c
	})
}

// Shutdown stops accepting events, cancels pending windows and lets active
// responses and image jobs finish until ctx ends. Whatever is still running
// then is cancelled; Shutdown returns once every goroutine exited.
func (r *Runner) Shutdown(ctx context.Context) error {
	chans := r.channels.close()
	r.log.Info("shutting down", zap.Int("channels", len(chans)))

	var g errgroup.Group
	for _, c := range chans {
		g.Go(func() error {
			if !c.post(evShutdown{}) {
				return nil
			}
			select {
			case <-c.done:
				return nil
			case <-ctx.Done():
				return fmt.Errorf("channel %s: %w", c.id, ctx.Err())
			}
		})
	}
	g.Go(func() error {
		return r.jobs.Wait(ctx)
	})
	err := g.Wait()
	if err != nil {
		r.log.Warn("grace period over, cancelling remaining work", zap.Error(err))
	}
	r.jobs.StopAll()
	r.cancelBase()
	r.wg.Wait()
	_ = r.jobs.Wait(context.Background())
	return err
}
