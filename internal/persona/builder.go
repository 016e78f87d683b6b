package persona

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/keshon/chatmind/internal/ai"
	"github.com/keshon/chatmind/internal/mind"
	"github.com/keshon/chatmind/pkg/util"
)

// CharsPerToken is the rough ratio used when the backend cannot count tokens.
const CharsPerToken = 4

// HistoryMessage is one past message of a channel.
type HistoryMessage struct {
	ID         string
	AuthorID   string
	AuthorName string
	FromBot    bool // written by this bot
	Content    string
	At         time.Time
}

// HistorySource fetches channel history. It returns up to limit messages
// older than before (the newest when before is empty), oldest first.
type HistorySource interface {
	History(ctx context.Context, channelID, before string, limit int) ([]HistoryMessage, error)
	ChannelName(ctx context.Context, channelID string) string
}

// TokenCounter measures prompt size; usually the backend.
type TokenCounter interface {
	CountTokens(ctx context.Context, text string) (int, error)
}

// Builder renders prompts. It implements mind.PromptBuilder.
type Builder struct {
	persona Persona
	prompt  *template.Template
	line    *template.Template
	bot     *template.Template
	history HistorySource
	tokens  TokenCounter
	budget  int
	log     *zap.Logger
}

type promptData struct {
	AIName      string
	Persona     string
	ChannelName string
	History     string
	BotPrompt   string
	Now         time.Time
}

type lineData struct {
	Name string
	Text string
	At   time.Time
}

var funcs = template.FuncMap{
	"date": func(tpl string, t time.Time) string { return util.FormatDate(t, tpl) },
	"trim": strings.TrimSpace,
}

// NewBuilder compiles the persona templates. budget is the token budget of the
// whole prompt; 0 disables trimming. tokens may be nil.
func NewBuilder(p Persona, history HistorySource, tokens TokenCounter, budget int, log *zap.Logger) (*Builder, error) {
	if history == nil {
		return nil, errors.New("history source is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	b := &Builder{persona: p, history: history, tokens: tokens, budget: budget, log: log}
	var err error
	if b.prompt, err = template.New("prompt").Funcs(funcs).Parse(p.Templates.Prompt); err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	if b.line, err = template.New("line").Funcs(funcs).Parse(p.Templates.HistoryLine); err != nil {
		return nil, fmt.Errorf("parse history line template: %w", err)
	}
	if b.bot, err = template.New("bot").Funcs(funcs).Parse(p.Templates.BotPrompt); err != nil {
		return nil, fmt.Errorf("parse bot prompt template: %w", err)
	}
	return b, nil
}

// BotPrefix is the rendered prefix the model may repeat at the start of its line.
func (b *Builder) BotPrefix() string {
	s, _ := render(b.bot, lineData{Name: b.persona.Name})
	return strings.TrimSpace(s)
}

// SpeakerTemplate is the history line prefix with "{name}" in place of the name.
func (b *Builder) SpeakerTemplate() string {
	s, err := render(b.line, lineData{Name: "{name}"})
	if err != nil {
		return "{name}:"
	}
	return strings.TrimSpace(s)
}

// Build renders the prompt for req.
func (b *Builder) Build(ctx context.Context, req mind.PromptRequest) (mind.Prompt, error) {
	t := req.Trigger
	before := ""
	if t.Kind == mind.TriggerRegenerate && t.EditMessageID != "" {
		before = t.EditMessageID
	}
	msgs, err := b.history.History(ctx, t.ChannelID, before, max(req.HistoryLimit, 1))
	if err != nil {
		return mind.Prompt{}, fmt.Errorf("fetch history: %w", err)
	}

	var lines []string
	var speakers []string
	seen := make(map[string]struct{})
	for _, m := range msgs {
		if req.HideBefore != "" && !Newer(m.ID, req.HideBefore) {
			continue
		}
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		name := m.AuthorName
		if m.FromBot {
			name = b.persona.Name
		} else if _, ok := seen[name]; !ok && name != "" {
			seen[name] = struct{}{}
			speakers = append(speakers, name)
		}
		line, err := render(b.line, lineData{Name: name, Text: text, At: m.At})
		if err != nil {
			return mind.Prompt{}, fmt.Errorf("render history line: %w", err)
		}
		lines = append(lines, line)
	}

	data := promptData{
		AIName:      b.persona.Name,
		Persona:     strings.TrimSpace(b.persona.Description),
		ChannelName: b.history.ChannelName(ctx, t.ChannelID),
		BotPrompt:   b.BotPrefix(),
		Now:         time.Now(),
	}
	lines = b.fit(ctx, data, lines)
	data.History = strings.Join(lines, "")

	text, err := render(b.prompt, data)
	if err != nil {
		return mind.Prompt{}, fmt.Errorf("render prompt: %w", err)
	}
	return mind.Prompt{Text: text, Speakers: speakers}, nil
}

// fit drops the oldest lines until the prompt fits the token budget.
func (b *Builder) fit(ctx context.Context, data promptData, lines []string) []string {
	if b.budget <= 0 || len(lines) == 0 {
		return lines
	}
	frame, err := render(b.prompt, data)
	if err != nil {
		return lines
	}
	used := b.count(ctx, frame)
	start := len(lines)
	for start > 0 {
		n := b.count(ctx, lines[start-1])
		if used+n > b.budget {
			break
		}
		used += n
		start--
	}
	if start > 0 {
		b.log.Debug("history trimmed to token budget",
			zap.Int("dropped", start), zap.Int("kept", len(lines)-start), zap.Int("tokens", used))
	}
	return lines[start:]
}

func (b *Builder) count(ctx context.Context, s string) int {
	if b.tokens != nil {
		n, err := b.tokens.CountTokens(ctx, s)
		if err == nil {
			return n
		}
		if !errors.Is(err, ai.ErrUnsupported) {
			b.log.Debug("token count failed, estimating", zap.Error(err))
		}
	}
	return EstimateTokens(s)
}

// EstimateTokens is a rough count of UTF-8 runes / 4, at least one for non-empty text.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return 0
	}
	return max(1, n/CharsPerToken)
}

// Newer reports whether snowflake id a is newer than b. IDs are decimal
// strings of growing numbers.
func Newer(a, b string) bool {
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a > b
}

func render(t *template.Template, data any) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
