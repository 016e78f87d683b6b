package mind

import (
	"slices"
	"time"
)

// State is the attention state of a channel.
type State int

const (
	Dormant  State = iota // nobody addressed the bot recently
	Engaged               // an explicit trigger happened within the attention horizon
	Panicked              // told to go quiet until PanicUntil
)

func (s State) String() string {
	switch s {
	case Dormant:
		return "dormant"
	case Engaged:
		return "engaged"
	case Panicked:
		return "panicked"
	default:
		return "unknown"
	}
}

// AttentionState is the raw per-channel attention bookkeeping.
type AttentionState struct {
	LastActivity time.Time
	PanicUntil   time.Time
	Engaged      bool
	Admitted     bool
}

// Verdict is the outcome of considering one trigger.
type Verdict struct {
	Admit  bool
	Reason string
	Chance float64
}

// Attention decides which triggers of one channel deserve a response.
// It is owned by the channel actor and never touched from other goroutines.
type Attention struct {
	cfg        DecisionConfig
	guildID    string
	channelID  string
	mentions   *MentionTracker
	rnd        func() float64
	state      AttentionState
	guaranteed []string // oldest first, at most maxGuaranteed
}

const maxGuaranteed = 16

// NewAttention creates the attention state of a channel. rnd may be nil.
func NewAttention(cfg DecisionConfig, guildID, channelID string, mentions *MentionTracker, rnd func() float64) *Attention {
	if mentions == nil {
		mentions = NewMentionTracker(cfg.Text.Horizon(), 0)
	}
	return &Attention{
		cfg:        cfg,
		guildID:    guildID,
		channelID:  channelID,
		mentions:   mentions,
		rnd:        rnd,
	}
}

// Snapshot returns a copy of the bookkeeping.
func (a *Attention) Snapshot() AttentionState { return a.state }

// State reports the current state at now.
func (a *Attention) State(now time.Time) State {
	if now.Before(a.state.PanicUntil) {
		return Panicked
	}
	if a.state.Engaged {
		horizon := a.cfg.Text.Horizon()
		if horizon == 0 || now.Sub(a.state.LastActivity) <= horizon {
			return Engaged
		}
	}
	return Dormant
}

// Consider admits or rejects a trigger and applies the resulting transition.
// A guaranteed message or a poke lifts a panic window.
func (a *Attention) Consider(now time.Time, t Trigger) Verdict {
	if a.takeGuarantee(t.MessageID) {
		a.engage(now, t)
		return Verdict{Admit: true, Reason: "guaranteed", Chance: 1}
	}

	if now.Before(a.state.PanicUntil) {
		if t.Kind == TriggerPoke {
			a.engage(now, t)
			return Verdict{Admit: true, Reason: "re-engaged", Chance: 1}
		}
		return Verdict{Reason: "panicked"}
	}

	if t.Explicit || t.Kind != TriggerMessage {
		a.engage(now, t)
		return Verdict{Admit: true, Reason: "explicit", Chance: 1}
	}

	if a.cfg.DisableUnsolicited {
		return Verdict{Reason: "unsolicited replies disabled"}
	}
	if t.MentionsOthers {
		return Verdict{Reason: "addressed to someone else"}
	}

	if t.VoiceParticipants > 0 {
		elapsed := a.cfg.Voice.Horizon() + time.Second
		if !a.state.LastActivity.IsZero() {
			elapsed = now.Sub(a.state.LastActivity)
		}
		p := VoiceChance(a.cfg, elapsed, t.VoiceParticipants)
		return Verdict{Admit: roll(a.rnd, p), Reason: "voice", Chance: p}
	}

	a.state.Admitted = a.mentions.Admitted(a.guildID, a.channelID, now)
	if !a.state.Admitted {
		return Verdict{Reason: "outside unsolicited channel cap"}
	}
	if a.state.LastActivity.IsZero() {
		return Verdict{Reason: "never engaged"}
	}
	p, ok := AmbientChance(a.cfg, now.Sub(a.state.LastActivity), t.Content)
	if !ok {
		return Verdict{Reason: "attention horizon passed"}
	}
	if !roll(a.rnd, p) {
		return Verdict{Reason: "chance roll", Chance: p}
	}
	return Verdict{Admit: true, Reason: "ambient", Chance: p}
}

// Disengage panics the channel for the configured duration, counted from now.
// Calling it again extends the window.
func (a *Attention) Disengage(now time.Time) time.Time {
	a.state.PanicUntil = now.Add(a.cfg.PanicDuration)
	a.state.Engaged = false
	a.state.Admitted = false
	a.guaranteed = nil
	a.mentions.Forget(a.guildID, a.channelID)
	return a.state.PanicUntil
}

// Reengage treats now as an explicit trigger regardless of any panic window.
func (a *Attention) Reengage(now time.Time) {
	a.guaranteed = nil
	a.engage(now, Trigger{})
}

// Guarantee makes the next trigger for messageID bypass the panic window and
// the chance checks. Only the most recent guarantees are kept.
func (a *Attention) Guarantee(messageID string) {
	if messageID == "" || slices.Contains(a.guaranteed, messageID) {
		return
	}
	if len(a.guaranteed) == maxGuaranteed {
		a.guaranteed = slices.Delete(a.guaranteed, 0, 1)
	}
	a.guaranteed = append(a.guaranteed, messageID)
}

// Guaranteed is the number of pending guarantees.
func (a *Attention) Guaranteed() int { return len(a.guaranteed) }

func (a *Attention) takeGuarantee(messageID string) bool {
	if messageID == "" {
		return false
	}
	i := slices.Index(a.guaranteed, messageID)
	if i < 0 {
		return false
	}
	a.guaranteed = slices.Delete(a.guaranteed, i, i+1)
	return true
}

// RestorePanic reapplies a persisted panic window.
func (a *Attention) RestorePanic(until time.Time) {
	a.state.PanicUntil = until
}

func (a *Attention) engage(now time.Time, t Trigger) {
	a.state.Engaged = true
	a.state.LastActivity = now
	a.state.PanicUntil = time.Time{}
	if t.DirectMessage {
		return
	}
	a.state.Admitted = true
	a.mentions.LogMention(a.guildID, a.channelID, now)
}
