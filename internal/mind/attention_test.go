package mind

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChanceTableCalibrationPoints(t *testing.T) {
	cfg := DefaultDecisionConfig()
	for _, e := range cfg.Text.Entries() {
		got, ok := cfg.Text.Lookup(e.After)
		require.True(t, ok)
		assert.InDelta(t, e.Chance, got, 1e-9, "at %s", e.After)
	}

	got, ok := cfg.Text.Lookup(10 * time.Second)
	require.True(t, ok)
	assert.InDelta(t, 0.99, got, 1e-9)

	got, ok = cfg.Text.Lookup(450 * time.Second)
	require.True(t, ok)
	assert.InDelta(t, 0.6, got, 1e-9)

	_, ok = cfg.Text.Lookup(601 * time.Second)
	assert.False(t, ok, "text tables stop answering past the horizon")

	got, ok = cfg.Voice.Lookup(time.Hour)
	require.True(t, ok)
	assert.InDelta(t, 0.85, got, 1e-9, "voice tables keep the last chance")
}

func TestChanceTableMonotonic(t *testing.T) {
	table := DefaultDecisionConfig().Text
	prev := 1.0
	for d := time.Duration(0); d <= table.Horizon(); d += 7 * time.Second {
		got, ok := table.Lookup(d)
		require.True(t, ok)
		assert.LessOrEqual(t, got, prev+1e-9, "at %s", d)
		prev = got
	}
}

func TestChanceTableValidation(t *testing.T) {
	tests := []struct {
		name    string
		entries []ChanceEntry
	}{
		{"negative duration", []ChanceEntry{{After: -time.Second, Chance: 0.5}}},
		{"chance above one", []ChanceEntry{{After: time.Second, Chance: 1.5}}},
		{"unsorted", []ChanceEntry{{After: 2 * time.Second, Chance: 0.5}, {After: time.Second, Chance: 0.4}}},
		{"duplicate", []ChanceEntry{{After: time.Second, Chance: 0.5}, {After: time.Second, Chance: 0.4}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChanceTable(tt.entries)
			assert.Error(t, err)
		})
	}

	empty, err := NewChanceTable(nil)
	require.NoError(t, err)
	got, ok := empty.Lookup(time.Hour)
	assert.True(t, ok)
	assert.Equal(t, 1.0, got)
}

func TestParseChanceEntries(t *testing.T) {
	got, err := ParseChanceEntries(" 180:0.99, 300:0.7 ,600:0.5")
	require.NoError(t, err)
	assert.Equal(t, []ChanceEntry{
		{After: 180 * time.Second, Chance: 0.99},
		{After: 300 * time.Second, Chance: 0.7},
		{After: 600 * time.Second, Chance: 0.5},
	}, got)

	_, err = ParseChanceEntries("180-0.99")
	assert.Error(t, err)
	_, err = ParseChanceEntries("abc:0.5")
	assert.Error(t, err)

	got, err = ParseChanceEntries("")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAmbientChanceInterrobang(t *testing.T) {
	cfg := DefaultDecisionConfig()
	p, ok := AmbientChance(cfg, 450*time.Second, "anyone around?")
	require.True(t, ok)
	assert.InDelta(t, 0.9, p, 1e-9)

	p, _ = AmbientChance(cfg, 450*time.Second, "really?!")
	assert.InDelta(t, 1.0, p, 1e-9, "clamped")

	p, _ = AmbientChance(cfg, 450*time.Second, "fine")
	assert.InDelta(t, 0.6, p, 1e-9)
}

func TestVoiceChance(t *testing.T) {
	cfg := DefaultDecisionConfig()
	assert.Equal(t, 1.0, VoiceChance(cfg, time.Hour, 1))
	assert.InDelta(t, 0.95/2, VoiceChance(cfg, 10*time.Second, 2), 1e-9)
	assert.InDelta(t, 0.95/3, VoiceChance(cfg, 10*time.Second, 7), 1e-9, "penalty stops at the cap")
}

func always() func() float64 { return func() float64 { return 0 } }

func never() func() float64 { return func() float64 { return 1 } }

func TestAttentionEngageAndAmbient(t *testing.T) {
	cfg := DefaultDecisionConfig()
	now := time.Unix(10_000, 0)
	a := NewAttention(cfg, "g", "c", NewMentionTracker(cfg.Text.Horizon(), 0), always())

	v := a.Consider(now, Trigger{MessageID: "1", Content: "hello"})
	assert.False(t, v.Admit)
	assert.Equal(t, "outside unsolicited channel cap", v.Reason)
	assert.Equal(t, Dormant, a.State(now))

	v = a.Consider(now, Trigger{MessageID: "2", Explicit: true})
	assert.True(t, v.Admit)
	assert.Equal(t, Engaged, a.State(now))

	v = a.Consider(now.Add(time.Minute), Trigger{MessageID: "3", Content: "and then"})
	assert.True(t, v.Admit)
	assert.Equal(t, "ambient", v.Reason)
	assert.InDelta(t, 0.99, v.Chance, 1e-9)

	v = a.Consider(now.Add(time.Minute), Trigger{MessageID: "4", Content: "@bob hi", MentionsOthers: true})
	assert.False(t, v.Admit)

	assert.Equal(t, Dormant, a.State(now.Add(11*time.Minute)), "engagement decays past the horizon")
	v = a.Consider(now.Add(11*time.Minute), Trigger{MessageID: "5", Content: "late"})
	assert.False(t, v.Admit)
}

func TestAttentionChanceRoll(t *testing.T) {
	cfg := DefaultDecisionConfig()
	now := time.Unix(10_000, 0)
	a := NewAttention(cfg, "g", "c", nil, never())
	a.Consider(now, Trigger{Explicit: true})

	v := a.Consider(now.Add(450*time.Second), Trigger{Content: "meh"})
	assert.False(t, v.Admit)
	assert.Equal(t, "chance roll", v.Reason)
	assert.InDelta(t, 0.6, v.Chance, 1e-9)
}

func TestAttentionPanic(t *testing.T) {
	cfg := DefaultDecisionConfig()
	now := time.Unix(10_000, 0)
	a := NewAttention(cfg, "g", "c", nil, always())
	a.Consider(now, Trigger{Explicit: true})

	until := a.Disengage(now)
	assert.Equal(t, now.Add(30*time.Second), until)
	assert.Equal(t, Panicked, a.State(now.Add(time.Second)))

	for _, tr := range []Trigger{
		{Content: "ambient"},
		{Content: "hey bot", Explicit: true},
		{Kind: TriggerRegenerate},
	} {
		v := a.Consider(now.Add(5*time.Second), tr)
		assert.False(t, v.Admit, "%+v", tr)
		assert.Equal(t, "panicked", v.Reason)
	}

	until = a.Disengage(now.Add(20 * time.Second))
	assert.Equal(t, now.Add(50*time.Second), until, "disengaging again extends the window")

	v := a.Consider(now.Add(21*time.Second), Trigger{Kind: TriggerPoke})
	assert.True(t, v.Admit)
	assert.Equal(t, Engaged, a.State(now.Add(21*time.Second)))
	assert.True(t, a.Snapshot().PanicUntil.IsZero())
}

func TestAttentionPanicExpires(t *testing.T) {
	cfg := DefaultDecisionConfig()
	now := time.Unix(10_000, 0)
	a := NewAttention(cfg, "g", "c", nil, always())
	a.Disengage(now)

	v := a.Consider(now.Add(31*time.Second), Trigger{Explicit: true})
	assert.True(t, v.Admit)
}

func TestAttentionGuarantee(t *testing.T) {
	cfg := DefaultDecisionConfig()
	now := time.Unix(10_000, 0)
	a := NewAttention(cfg, "g", "c", nil, never())
	a.Guarantee("42")

	v := a.Consider(now, Trigger{MessageID: "42", Content: "unsolicited"})
	assert.True(t, v.Admit)
	assert.Equal(t, "guaranteed", v.Reason)

	v = a.Consider(now, Trigger{MessageID: "42", Content: "unsolicited"})
	assert.False(t, v.Admit, "a guarantee is used once")
}

func TestAttentionGuaranteeLiftsPanic(t *testing.T) {
	cfg := DefaultDecisionConfig()
	now := time.Unix(10_000, 0)
	a := NewAttention(cfg, "g", "c", nil, always())
	a.Disengage(now)
	a.Guarantee("m1")

	v := a.Consider(now.Add(time.Second), Trigger{MessageID: "m1", Content: "what do you think?"})
	require.True(t, v.Admit)
	assert.Equal(t, "guaranteed", v.Reason)
	assert.Equal(t, Engaged, a.State(now.Add(time.Second)))
	assert.True(t, a.Snapshot().PanicUntil.IsZero())
	assert.Equal(t, now.Add(time.Second), a.Snapshot().LastActivity)

	v = a.Consider(now.Add(time.Minute), Trigger{MessageID: "m2", Content: "and then"})
	assert.True(t, v.Admit, "the poked reply engages the channel: %s", v.Reason)
	assert.Equal(t, "ambient", v.Reason)
}

func TestAttentionGuaranteeBookkeeping(t *testing.T) {
	cfg := DefaultDecisionConfig()
	now := time.Unix(10_000, 0)
	a := NewAttention(cfg, "g", "c", nil, never())

	for i := range maxGuaranteed + 4 {
		a.Guarantee(fmt.Sprintf("m%d", i))
	}
	a.Guarantee("m5")
	assert.Equal(t, maxGuaranteed, a.Guaranteed())

	v := a.Consider(now, Trigger{MessageID: "m0", Content: "evicted"})
	assert.False(t, v.Admit, "oldest guarantees are evicted")
	v = a.Consider(now, Trigger{MessageID: "m19", Content: "kept"})
	assert.True(t, v.Admit)

	a.Disengage(now)
	assert.Zero(t, a.Guaranteed(), "disengaging drops pending guarantees")
}

func TestAttentionDisableUnsolicited(t *testing.T) {
	cfg := DefaultDecisionConfig()
	cfg.DisableUnsolicited = true
	now := time.Unix(10_000, 0)
	a := NewAttention(cfg, "g", "c", nil, always())
	a.Consider(now, Trigger{Explicit: true})

	v := a.Consider(now.Add(time.Second), Trigger{Content: "ambient"})
	assert.False(t, v.Admit)
}

func TestAttentionVoice(t *testing.T) {
	cfg := DefaultDecisionConfig()
	now := time.Unix(10_000, 0)
	a := NewAttention(cfg, "g", "c", nil, func() float64 { return 0.4 })
	a.Consider(now, Trigger{Explicit: true})

	v := a.Consider(now.Add(10*time.Second), Trigger{VoiceParticipants: 2})
	assert.True(t, v.Admit, "0.475 beats a 0.4 roll")
	v = a.Consider(now.Add(10*time.Second), Trigger{VoiceParticipants: 3})
	assert.False(t, v.Admit, "0.317 loses to a 0.4 roll")
}

func TestMentionTrackerCap(t *testing.T) {
	now := time.Unix(10_000, 0)
	m := NewMentionTracker(10*time.Minute, 2)
	m.LogMention("g", "a", now)
	m.LogMention("g", "b", now.Add(time.Second))
	m.LogMention("g", "c", now.Add(2*time.Second))

	assert.Equal(t, []string{"c", "b"}, m.Channels("g", now.Add(3*time.Second)))
	assert.False(t, m.Admitted("g", "a", now.Add(3*time.Second)))
	assert.True(t, m.Admitted("g", "b", now.Add(3*time.Second)))
	assert.False(t, m.Admitted("other", "b", now), "guilds are independent")

	assert.Empty(t, m.Channels("g", now.Add(time.Hour)), "mentions expire past the horizon")

	m.LogMention("g", "a", now)
	m.Forget("g", "a")
	assert.False(t, m.Admitted("g", "a", now))
}

func TestAttentionUnsolicitedCapAcrossChannels(t *testing.T) {
	cfg := DefaultDecisionConfig()
	now := time.Unix(10_000, 0)
	tracker := NewMentionTracker(cfg.Text.Horizon(), 1)
	a := NewAttention(cfg, "g", "a", tracker, always())
	b := NewAttention(cfg, "g", "b", tracker, always())

	a.Consider(now, Trigger{Explicit: true})
	b.Consider(now.Add(time.Second), Trigger{Explicit: true})

	v := a.Consider(now.Add(2*time.Second), Trigger{Content: "ambient"})
	assert.False(t, v.Admit, "channel a fell out of the cap")
	v = b.Consider(now.Add(2*time.Second), Trigger{Content: "ambient"})
	assert.True(t, v.Admit)
}
