package mind

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepetitionSimilarity(t *testing.T) {
	r := NewRepetitionTracker(RepetitionConfig{Capacity: 3, Threshold: 1, Similarity: 0.9})
	assert.False(t, r.Check("Hello there, friend!"))
	assert.True(t, r.Check("hello there friend."), "punctuation and case do not matter")
	assert.False(t, r.Check("something else entirely"))
	assert.Equal(t, 3, r.Len())
}

func TestRepetitionExactOnly(t *testing.T) {
	r := NewRepetitionTracker(RepetitionConfig{Capacity: 3, Threshold: 1})
	assert.False(t, r.Check("Hello there!"))
	assert.False(t, r.Check("Hello there."))
	assert.True(t, r.Check("Hello there!"))
	assert.True(t, r.Check("  hello THERE! "), "canonical form trims and lowercases")
}

func TestRepetitionThresholdCountsEntries(t *testing.T) {
	r := NewRepetitionTracker(RepetitionConfig{Capacity: 5, Threshold: 2})
	assert.False(t, r.Check("again"))
	assert.False(t, r.Check("again"), "one match is below the threshold")
	assert.True(t, r.Check("again"))

	off := NewRepetitionTracker(RepetitionConfig{Capacity: 2})
	off.Check("same")
	assert.False(t, off.Check("same"), "threshold 0 never flags")
}

func TestRepetitionRingEviction(t *testing.T) {
	r := NewRepetitionTracker(RepetitionConfig{Capacity: 2, Threshold: 1})
	r.Check("one")
	r.Check("two")
	r.Check("three")
	assert.False(t, r.Check("one"), "evicted")
	assert.Equal(t, 2, r.Len())

	r.Reset()
	assert.Zero(t, r.Len())
	assert.False(t, r.Check("one"))
}

func TestTokenSetRatio(t *testing.T) {
	assert.Equal(t, 1.0, TokenSetRatio("the cat sat", "sat the cat"))
	assert.Equal(t, 1.0, TokenSetRatio("the cat", "the cat sat down"), "subset scores full")
	assert.Zero(t, TokenSetRatio("", "anything"))
	assert.Less(t, TokenSetRatio("fuzzy wuzzy was a bear", "completely unrelated words here"), 0.9)
}

func TestImmersionFilterStopMarkers(t *testing.T) {
	f := NewImmersionFilter(FilterConfig{StopMarkers: []string{"### End", "<|endoftext|>"}}, nil)
	text, stop := f.Filter("Sure thing.\n### End of reply")
	assert.True(t, stop)
	assert.Equal(t, "Sure thing.", text)

	text, stop = f.Filter("Nothing to cut")
	assert.False(t, stop)
	assert.Equal(t, "Nothing to cut", text)

	assert.Equal(t, []string{"### End", "<|endoftext|>"}, f.StopSequences())
}

func TestImmersionFilterModes(t *testing.T) {
	speakers := []string{"alice 🌸 wonder", "Bo"}
	tests := []struct {
		mode ImpersonationMode
		in   string
		want string
		stop bool
	}{
		{ImpersonationStandard, "Hi!\nalice 🌸 wonder: hello", "Hi!", true},
		{ImpersonationStandard, "Hi!\nAlice says hello", "Hi!\nAlice says hello", false},
		{ImpersonationAggressive, "Hi!\nAlice says hello", "Hi!", true},
		{ImpersonationAggressive, "Hi! Alice is nice", "Hi! Alice is nice", false},
		{ImpersonationAggressive, "Alice went home early.", "Alice went home early.", false},
		{ImpersonationAggressive, "Hi!\nalice 🌸 wonder: hello", "Hi!\nalice 🌸 wonder: hello", false},
		{ImpersonationComprehensive, "Hi!\nAlice went home", "Hi!", true},
		{ImpersonationComprehensive, "Hi!\nBo: hey", "Hi!", true},
		{ImpersonationOff, "Hi!\nBo: hey", "Hi!\nBo: hey", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode)+"/"+tt.in, func(t *testing.T) {
			f := NewImmersionFilter(FilterConfig{Mode: tt.mode}, speakers)
			got, stop := f.Filter(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.stop, stop)
		})
	}
}

func TestImmersionFilterBotPrefix(t *testing.T) {
	f := NewImmersionFilter(FilterConfig{BotPrefix: "Rosie:"}, nil)
	got, stop := f.Filter("Rosie: hi there\n  Rosie: again")
	assert.False(t, stop)
	assert.Equal(t, "hi there\n  again", got)
}

func TestCanonicalName(t *testing.T) {
	assert.Equal(t, "Alice", CanonicalName("🌸 alice wonderland"))
	assert.Equal(t, "Bo Jackson", CanonicalName("Bo Jackson"), "short first names are kept whole")
	assert.Equal(t, "", CanonicalName("🌸"))
}

func TestSplitText(t *testing.T) {
	got := SplitText(NewSplitter(nil), "One. Two! Dr. Who? Three")
	assert.Equal(t, []string{"One.", "Two!", "Dr. Who?", "Three"}, got)

	got = SplitText(NewSplitter(regexp.MustCompile(`(?s)(.*?)\|`)), "a|b|c")
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestSentenceSplitterStreaming(t *testing.T) {
	s := NewSplitter(nil)
	assert.Empty(t, s.Push("Hello wor"))
	assert.Equal(t, []string{"Hello world."}, s.Push("ld. How"))
	assert.Equal(t, "How", s.Flush())
}

func TestCompleteSentences(t *testing.T) {
	assert.Equal(t, "", completeSentences("Half a sent"))
	assert.Equal(t, "One. Two!", completeSentences("One. Two! Thr"))
	assert.Equal(t, "Line", completeSentences("Line\nmore"))
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"aaaa bbbb", "cccc dddd"}, splitMessage("aaaa bbbb cccc dddd", 10))
	assert.Equal(t, []string{"line one", "line two"}, splitMessage("line one\nline two", 12))
	assert.Equal(t, []string{"abcde", "fghij"}, splitMessage("abcdefghij", 5))
	assert.Equal(t, []string{"short"}, splitMessage("short", 0))
	assert.Empty(t, splitMessage("   ", 10))
}

func TestMatcher(t *testing.T) {
	m, err := NewMatcher([]string{"Rosie", "ro-bot"}, []string{"draw", "paint"})
	require.NoError(t, err)

	assert.True(t, m.HasWakeword("hey rosie, you there?"))
	assert.True(t, m.HasWakeword("RO-BOT help"))
	assert.False(t, m.HasWakeword("rosiest day"))

	prompt, ok := m.ImagePrompt("rosie please draw a cat in a hat")
	require.True(t, ok)
	assert.Equal(t, "cat in a hat", prompt)

	prompt, ok = m.ImagePrompt("paint me: sunset over hills")
	require.True(t, ok)
	assert.Equal(t, "me: sunset over hills", prompt)

	_, ok = m.ImagePrompt("draw it")
	assert.False(t, ok, "shorter than the minimum prompt")
	_, ok = m.ImagePrompt("what a drawing")
	assert.False(t, ok)

	var none *Matcher
	assert.False(t, none.HasWakeword("rosie"))
}
