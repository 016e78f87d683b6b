package mind

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ChanceEntry is one calibration point: after this much time since the last
// mention, respond with this probability.
type ChanceEntry struct {
	After  time.Duration
	Chance float64
}

// ChanceTable maps time since the last mention to a response probability.
// Text tables stop answering past their last entry, voice tables keep the last chance.
type ChanceTable struct {
	entries []ChanceEntry
	voice   bool
}

// NewChanceTable validates entries for a text conversation table.
func NewChanceTable(entries []ChanceEntry) (ChanceTable, error) {
	return newChanceTable(entries, false)
}

// NewVoiceChanceTable validates entries for a voice conversation table.
func NewVoiceChanceTable(entries []ChanceEntry) (ChanceTable, error) {
	return newChanceTable(entries, true)
}

func newChanceTable(entries []ChanceEntry, voice bool) (ChanceTable, error) {
	for i, e := range entries {
		if e.After < 0 {
			return ChanceTable{}, fmt.Errorf("chance table entry %d: negative duration %s", i, e.After)
		}
		if e.Chance < 0 || e.Chance > 1 {
			return ChanceTable{}, fmt.Errorf("chance table entry %d: chance %.2f outside [0,1]", i, e.Chance)
		}
		if i > 0 && e.After <= entries[i-1].After {
			return ChanceTable{}, fmt.Errorf("chance table entry %d: durations must be strictly increasing", i)
		}
	}
	cp := make([]ChanceEntry, len(entries))
	copy(cp, entries)
	return ChanceTable{entries: cp, voice: voice}, nil
}

// Entries returns a copy of the calibration points.
func (t ChanceTable) Entries() []ChanceEntry {
	out := make([]ChanceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Horizon is the duration of the last entry; zero for an empty table.
func (t ChanceTable) Horizon() time.Duration {
	if len(t.entries) == 0 {
		return 0
	}
	return t.entries[len(t.entries)-1].After
}

// Lookup returns the interpolated chance for the elapsed time. ok is false when a
// text table has nothing to say past its horizon. An empty table always answers.
func (t ChanceTable) Lookup(elapsed time.Duration) (chance float64, ok bool) {
	if len(t.entries) == 0 {
		return 1.0, true
	}
	first := t.entries[0]
	if elapsed <= first.After {
		return first.Chance, true
	}
	for i := 1; i < len(t.entries); i++ {
		hi := t.entries[i]
		if elapsed > hi.After {
			continue
		}
		lo := t.entries[i-1]
		scale := float64(elapsed-lo.After) / float64(hi.After-lo.After)
		return lo.Chance + (hi.Chance-lo.Chance)*scale, true
	}
	if t.voice {
		return t.entries[len(t.entries)-1].Chance, true
	}
	return 0, false
}

// ParseChanceEntries parses "180:0.99,300:0.7" style tables, durations in seconds.
// Entries are sorted by the caller's order; validation happens in NewChanceTable.
func ParseChanceEntries(s string) ([]ChanceEntry, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []ChanceEntry
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		secs, chance, found := strings.Cut(part, ":")
		if !found {
			return nil, fmt.Errorf("chance entry %q: want seconds:chance", part)
		}
		d, err := strconv.ParseFloat(strings.TrimSpace(secs), 64)
		if err != nil {
			return nil, fmt.Errorf("chance entry %q: %w", part, err)
		}
		c, err := strconv.ParseFloat(strings.TrimSpace(chance), 64)
		if err != nil {
			return nil, fmt.Errorf("chance entry %q: %w", part, err)
		}
		out = append(out, ChanceEntry{After: time.Duration(d * float64(time.Second)), Chance: c})
	}
	return out, nil
}
