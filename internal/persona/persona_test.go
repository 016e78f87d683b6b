package persona

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/chatmind/internal/ai"
	"github.com/keshon/chatmind/internal/mind"
)

type fakeHistory struct {
	msgs       []HistoryMessage
	lastBefore string
	lastLimit  int
}

func (f *fakeHistory) History(_ context.Context, _ string, before string, limit int) ([]HistoryMessage, error) {
	f.lastBefore, f.lastLimit = before, limit
	out := f.msgs
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeHistory) ChannelName(context.Context, string) string { return "general" }

type fixedCounter struct{ err error }

func (c fixedCounter) CountTokens(_ context.Context, s string) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	return len(strings.Fields(s)), nil
}

func TestParseAppliesDefaults(t *testing.T) {
	p, err := Parse([]byte("name: Rosie\ndescription: A cheerful robot.\n"))
	require.NoError(t, err)
	assert.Equal(t, "Rosie", p.Name)
	assert.Equal(t, []string{"Rosie"}, p.Wakewords)
	assert.Equal(t, DefaultPromptTemplate, p.Templates.Prompt)

	_, err = Parse([]byte("description: nameless\n"))
	assert.Error(t, err)
}

func TestBuildRendersTranscript(t *testing.T) {
	h := &fakeHistory{msgs: []HistoryMessage{
		{ID: "100", AuthorName: "Alice", Content: "hi Rosie"},
		{ID: "101", AuthorName: "Rosie", FromBot: true, Content: "hello!"},
		{ID: "102", AuthorName: "Bob", Content: "  "},
		{ID: "103", AuthorName: "Bob", Content: "what's up"},
	}}
	b, err := NewBuilder(Default("Rosie"), h, nil, 0, nil)
	require.NoError(t, err)

	p, err := b.Build(context.Background(), mind.PromptRequest{
		Trigger:      mind.Trigger{ChannelID: "c1"},
		HistoryLimit: 7,
	})
	require.NoError(t, err)
	assert.Contains(t, p.Text, "chat room called general")
	assert.True(t, strings.HasSuffix(p.Text, "Alice: hi Rosie\nRosie: hello!\nBob: what's up\nRosie:"), p.Text)
	assert.Equal(t, []string{"Alice", "Bob"}, p.Speakers)
	assert.Equal(t, 7, h.lastLimit)
}

func TestBuildHidesMarkedHistory(t *testing.T) {
	h := &fakeHistory{msgs: []HistoryMessage{
		{ID: "99", AuthorName: "Alice", Content: "old"},
		{ID: "100", AuthorName: "Alice", Content: "marker"},
		{ID: "1000", AuthorName: "Bob", Content: "new"},
	}}
	b, err := NewBuilder(Default("Rosie"), h, nil, 0, nil)
	require.NoError(t, err)

	p, err := b.Build(context.Background(), mind.PromptRequest{
		Trigger:      mind.Trigger{ChannelID: "c1"},
		HistoryLimit: 10,
		HideBefore:   "100",
	})
	require.NoError(t, err)
	assert.NotContains(t, p.Text, "old")
	assert.NotContains(t, p.Text, "marker")
	assert.Contains(t, p.Text, "Bob: new")
	assert.Equal(t, []string{"Bob"}, p.Speakers)
}

func TestBuildRegenerateFetchesBeforeEditedMessage(t *testing.T) {
	h := &fakeHistory{}
	b, err := NewBuilder(Default("Rosie"), h, nil, 0, nil)
	require.NoError(t, err)
	_, err = b.Build(context.Background(), mind.PromptRequest{
		Trigger: mind.Trigger{Kind: mind.TriggerRegenerate, ChannelID: "c1", EditMessageID: "555"},
	})
	require.NoError(t, err)
	assert.Equal(t, "555", h.lastBefore)
}

func TestBuildTrimsToTokenBudget(t *testing.T) {
	p := Default("Rosie")
	p.Templates.Prompt = "{{.History}}{{.BotPrompt}}"
	h := &fakeHistory{msgs: []HistoryMessage{
		{ID: "1", AuthorName: "A", Content: "one two three"},
		{ID: "2", AuthorName: "B", Content: "four five"},
		{ID: "3", AuthorName: "C", Content: "six"},
	}}
	// frame "Rosie:" = 1 word, "B: four five" = 3, "C: six" = 2
	b, err := NewBuilder(p, h, fixedCounter{}, 6, nil)
	require.NoError(t, err)
	out, err := b.Build(context.Background(), mind.PromptRequest{Trigger: mind.Trigger{ChannelID: "c"}, HistoryLimit: 3})
	require.NoError(t, err)
	assert.Equal(t, "B: four five\nC: six\nRosie:", out.Text)
}

func TestBuildEstimatesWhenCountingUnsupported(t *testing.T) {
	p := Default("Rosie")
	p.Templates.Prompt = "{{.History}}{{.BotPrompt}}"
	h := &fakeHistory{msgs: []HistoryMessage{
		{ID: "1", AuthorName: "A", Content: strings.Repeat("x", 400)},
		{ID: "2", AuthorName: "B", Content: "short"},
	}}
	b, err := NewBuilder(p, h, fixedCounter{err: ai.ErrUnsupported}, 20, nil)
	require.NoError(t, err)
	out, err := b.Build(context.Background(), mind.PromptRequest{Trigger: mind.Trigger{ChannelID: "c"}, HistoryLimit: 2})
	require.NoError(t, err)
	assert.Equal(t, "B: short\nRosie:", out.Text)
}

func TestSpeakerTemplateAndBotPrefix(t *testing.T) {
	p := Default("Rosie")
	p.Templates.HistoryLine = "[{{.Name}}] {{.Text}}\n"
	p.Templates.BotPrompt = "[{{.Name}}]"
	b, err := NewBuilder(p, &fakeHistory{}, nil, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "[{name}]", b.SpeakerTemplate())
	assert.Equal(t, "[Rosie]", b.BotPrefix())
}

func TestBadTemplate(t *testing.T) {
	p := Default("Rosie")
	p.Templates.Prompt = "{{.Nope"
	_, err := NewBuilder(p, &fakeHistory{}, nil, 0, nil)
	assert.Error(t, err)
	_, err = NewBuilder(Default("Rosie"), nil, nil, 0, nil)
	assert.Error(t, err)
}

func TestNewer(t *testing.T) {
	assert.True(t, Newer("1000", "999"))
	assert.False(t, Newer("999", "1000"))
	assert.False(t, Newer("100", "100"))
	assert.True(t, Newer("101", "100"))
}
