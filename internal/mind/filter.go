package mind

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ImpersonationMode selects how other speakers' names are detected.
type ImpersonationMode string

const (
	ImpersonationOff           ImpersonationMode = ""
	ImpersonationStandard      ImpersonationMode = "standard"      // templated prefix, e.g. "Alice:"
	ImpersonationAggressive    ImpersonationMode = "aggressive"    // canonical first name opening a new line
	ImpersonationComprehensive ImpersonationMode = "comprehensive" // both
)

// FilterConfig configures the immersion-breaking filter.
type FilterConfig struct {
	StopMarkers []string
	Mode        ImpersonationMode
	// SpeakerTemplate renders a history line prefix; "{name}" is replaced.
	SpeakerTemplate string
	// BotPrefix is trimmed when the model prefixes its own line with it.
	BotPrefix string
}

// ImmersionFilter strips generated text that breaks character.
type ImmersionFilter struct {
	markers   []string
	speakers  []string // templated prefixes, matched at any line start
	names     []string // canonical names, matched only after a newline
	botPrefix string
}

// NewImmersionFilter prepares a filter for a prompt whose history contains speakers.
func NewImmersionFilter(cfg FilterConfig, speakers []string) *ImmersionFilter {
	f := &ImmersionFilter{botPrefix: strings.TrimSpace(cfg.BotPrefix)}
	for _, m := range cfg.StopMarkers {
		if m != "" {
			f.markers = append(f.markers, m)
		}
	}
	tmpl := cfg.SpeakerTemplate
	if tmpl == "" {
		tmpl = "{name}:"
	}
	seen := make(map[string]struct{})
	add := func(list *[]string, p string) {
		if p == "" {
			return
		}
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		*list = append(*list, p)
	}
	for _, name := range speakers {
		if strings.TrimSpace(name) == "" {
			continue
		}
		if cfg.Mode == ImpersonationStandard || cfg.Mode == ImpersonationComprehensive {
			add(&f.speakers, strings.TrimSpace(strings.ReplaceAll(tmpl, "{name}", name)))
		}
		if cfg.Mode == ImpersonationAggressive || cfg.Mode == ImpersonationComprehensive {
			add(&f.names, CanonicalName(name))
		}
	}
	return f
}

// StopSequences are the strings worth sending to the backend as stop tokens.
func (f *ImmersionFilter) StopSequences() []string {
	out := make([]string, 0, len(f.markers)+len(f.speakers)+len(f.names))
	out = append(out, f.markers...)
	for _, s := range f.speakers {
		out = append(out, "\n"+s)
	}
	for _, n := range f.names {
		out = append(out, "\n"+n)
	}
	return out
}

// Filter returns the part of text that may be shown and whether generation
// should stop because a marker or an impersonated speaker was found.
func (f *ImmersionFilter) Filter(text string) (string, bool) {
	stop := false
	cut := len(text)
	for _, m := range f.markers {
		if i := strings.Index(text, m); i >= 0 && i < cut {
			cut, stop = i, true
		}
	}
	for _, s := range f.speakers {
		if i := lineStartIndex(text, s); i >= 0 && i < cut {
			cut, stop = i, true
		}
	}
	for _, n := range f.names {
		if i := strings.Index(text, "\n"+n); i >= 0 && i < cut {
			cut, stop = i, true
		}
	}
	if stop {
		text = strings.TrimRight(text[:cut], " \t\r\n")
	}
	if f.botPrefix != "" {
		text = trimLinePrefix(text, f.botPrefix)
	}
	return text, stop
}

// lineStartIndex finds needle at the start of text or right after a newline.
func lineStartIndex(text, needle string) int {
	if strings.HasPrefix(text, needle) {
		return 0
	}
	if i := strings.Index(text, "\n"+needle); i >= 0 {
		return i
	}
	return -1
}

func trimLinePrefix(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		body := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(body, prefix) {
			lines[i] = line[:len(line)-len(body)] + strings.TrimLeft(body[len(prefix):], " ")
		}
	}
	return strings.Join(lines, "\n")
}

// CanonicalName reduces a display name to its capitalized first word without
// emoji. Names whose first word is shorter than three letters are kept whole.
func CanonicalName(name string) string {
	stripped := strings.TrimSpace(strings.Map(func(r rune) rune {
		if isEmojiRune(r) {
			return -1
		}
		return r
	}, name))
	fields := strings.Fields(stripped)
	if len(fields) == 0 {
		return stripped
	}
	first := []rune(strings.ToLower(fields[0]))
	first[0] = unicode.ToUpper(first[0])
	if utf8.RuneCountInString(string(first)) >= 3 {
		return string(first)
	}
	return stripped
}

func isEmojiRune(r rune) bool {
	switch {
	case r == 0x200d, r == 0xfe0f, r == 0x20e3:
		return true
	case r >= 0x1f000 && r <= 0x1faff:
		return true
	case r >= 0x2600 && r <= 0x27bf:
		return true
	case r >= 0x1f1e6 && r <= 0x1f1ff:
		return true
	}
	return unicode.Is(unicode.So, r)
}
