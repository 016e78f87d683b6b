package mind

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MinImagePromptLength is the shortest image prompt worth generating.
const MinImagePromptLength = 3

// Matcher finds wakewords and picture requests in message content.
type Matcher struct {
	wakeword *regexp.Regexp
	images   []*regexp.Regexp
}

// NewMatcher compiles wakewords and image trigger words. Both may be empty.
func NewMatcher(wakewords, imageWords []string) (*Matcher, error) {
	m := &Matcher{}
	var quoted []string
	for _, w := range wakewords {
		if w = strings.TrimSpace(w); w != "" {
			quoted = append(quoted, regexp.QuoteMeta(w))
		}
	}
	if len(quoted) > 0 {
		re, err := regexp.Compile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("compile wakewords: %w", err)
		}
		m.wakeword = re
	}
	for _, w := range imageWords {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		re, err := regexp.Compile(`(?im)^.*\b` + regexp.QuoteMeta(w) +
			`\b\s*((as?|of|the|with)\b\s*)*:?([\w\s,;:<>` + "`" + `~@#%&=\$\^\*\(\)\-\+\[\]\{\}"']+).*$`)
		if err != nil {
			return nil, fmt.Errorf("compile image word %q: %w", w, err)
		}
		m.images = append(m.images, re)
	}
	return m, nil
}

// HasWakeword reports whether content calls the bot by one of its names.
func (m *Matcher) HasWakeword(content string) bool {
	return m != nil && m.wakeword != nil && m.wakeword.MatchString(content)
}

// ImagePrompt extracts the picture description from content, if any.
func (m *Matcher) ImagePrompt(content string) (string, bool) {
	if m == nil {
		return "", false
	}
	for _, re := range m.images {
		sub := re.FindStringSubmatch(content)
		if len(sub) < 4 {
			continue
		}
		prompt := strings.TrimSpace(sub[3])
		if utf8.RuneCountInString(prompt) < MinImagePromptLength {
			continue
		}
		return prompt, true
	}
	return "", false
}
