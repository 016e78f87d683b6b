package mind

import (
	"strings"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"
)

// RepetitionConfig controls loop detection.
type RepetitionConfig struct {
	Capacity   int     // number of past responses remembered
	Threshold  int     // matching entries needed to flag; <= 0 never flags
	Similarity float64 // token-set similarity needed to match; 0 requires equality
}

// RepetitionTracker remembers the last responses of a channel and flags new
// ones that look like a loop.
type RepetitionTracker struct {
	cfg  RepetitionConfig
	ring []string
	next int
	size int
}

// NewRepetitionTracker creates a tracker; capacity below one is raised to one.
func NewRepetitionTracker(cfg RepetitionConfig) *RepetitionTracker {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	return &RepetitionTracker{cfg: cfg, ring: make([]string, cfg.Capacity)}
}

// Check compares text with the remembered responses, then remembers it.
func (r *RepetitionTracker) Check(text string) bool {
	canon := canonical(text)
	matches := 0
	for i := 0; i < r.size; i++ {
		prev := r.ring[i]
		if prev == canon {
			matches++
			continue
		}
		if r.cfg.Similarity > 0 && TokenSetRatio(prev, canon) >= r.cfg.Similarity {
			matches++
		}
	}
	r.remember(canon)
	return r.cfg.Threshold > 0 && matches >= r.cfg.Threshold
}

// Reset forgets every remembered response.
func (r *RepetitionTracker) Reset() {
	for i := range r.ring {
		r.ring[i] = ""
	}
	r.next, r.size = 0, 0
}

// Len is the number of remembered responses.
func (r *RepetitionTracker) Len() int { return r.size }

func (r *RepetitionTracker) remember(canon string) {
	r.ring[r.next] = canon
	r.next = (r.next + 1) % len(r.ring)
	if r.size < len(r.ring) {
		r.size++
	}
}

func canonical(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// TokenSetRatio scores two texts in [0,1] by the overlap of their word sets,
// ignoring case, punctuation, order and duplicates.
func TokenSetRatio(a, b string) float64 {
	return float64(fuzzy.TokenSetRatio(a, b)) / 100
}
