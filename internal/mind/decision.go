package mind

import (
	"math/rand/v2"
	"strings"
	"time"
)

// DecisionConfig holds the calibration for unsolicited replies.
type DecisionConfig struct {
	Text               ChanceTable
	Voice              ChanceTable
	InterrobangBonus   float64 // added once for a trailing '?' and once for a trailing '!'
	VoiceCap           int     // participant count the voice penalty stops growing at
	PanicDuration      time.Duration
	DisableUnsolicited bool
}

// DefaultDecisionConfig mirrors the calibration the bot ships with.
func DefaultDecisionConfig() DecisionConfig {
	text, _ := NewChanceTable([]ChanceEntry{
		{After: 180 * time.Second, Chance: 0.99},
		{After: 300 * time.Second, Chance: 0.70},
		{After: 600 * time.Second, Chance: 0.50},
	})
	voice, _ := NewVoiceChanceTable([]ChanceEntry{
		{After: 30 * time.Second, Chance: 0.95},
		{After: 60 * time.Second, Chance: 0.90},
		{After: 180 * time.Second, Chance: 0.85},
	})
	return DecisionConfig{
		Text:             text,
		Voice:            voice,
		InterrobangBonus: 0.3,
		VoiceCap:         3,
		PanicDuration:    30 * time.Second,
	}
}

// AmbientChance is the probability of answering a text message nobody addressed to
// the bot. ok is false past the text table horizon.
func AmbientChance(cfg DecisionConfig, elapsed time.Duration, content string) (float64, bool) {
	chance, ok := cfg.Text.Lookup(elapsed)
	if !ok || chance <= 0 {
		return 0, false
	}
	trimmed := strings.TrimSpace(content)
	if strings.HasSuffix(trimmed, "?") {
		chance += cfg.InterrobangBonus
	}
	if strings.HasSuffix(trimmed, "!") {
		chance += cfg.InterrobangBonus
	}
	return min(chance, 1.0), true
}

// VoiceChance is the probability of answering in a voice conversation. A one-on-one
// call is always answered; larger calls divide the chance by the participant count
// up to cfg.VoiceCap.
func VoiceChance(cfg DecisionConfig, elapsed time.Duration, participants int) float64 {
	if participants <= 1 {
		return 1.0
	}
	chance, ok := cfg.Voice.Lookup(elapsed)
	if !ok {
		return 0
	}
	div := participants
	if cfg.VoiceCap > 0 && div > cfg.VoiceCap {
		div = cfg.VoiceCap
	}
	return chance / float64(div)
}

// roll returns true with probability p.
func roll(rnd func() float64, p float64) bool {
	if p <= 0 {
		return false
	}
	if rnd == nil {
		rnd = rand.Float64
	}
	return rnd() <= p
}
