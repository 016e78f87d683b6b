package mind

import (
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"
)

// Splitter cuts a growing response into separate messages as tokens arrive.
type Splitter interface {
	// Push adds a token and returns every message completed by it.
	Push(token string) []string
	// Flush returns whatever is left once the response ends.
	Flush() string
}

// NewSplitter returns a regex splitter when pattern is set, otherwise a
// sentence splitter. The first capture group of pattern is the message.
func NewSplitter(pattern *regexp.Regexp) Splitter {
	if pattern != nil {
		return &regexSplitter{re: pattern}
	}
	return &sentenceSplitter{}
}

// SplitText runs a whole text through a splitter.
func SplitText(s Splitter, text string) []string {
	out := s.Push(text)
	if rest := s.Flush(); rest != "" {
		out = append(out, rest)
	}
	return out
}

type sentenceSplitter struct {
	buf string
}

func (s *sentenceSplitter) Push(token string) []string {
	s.buf += token
	var out []string
	for {
		end := sentenceEnd(s.buf)
		if end < 0 {
			return out
		}
		if sentence := strings.TrimSpace(s.buf[:end]); sentence != "" {
			out = append(out, sentence)
		}
		s.buf = strings.TrimLeft(s.buf[end:], " \t\r\n")
	}
}

func (s *sentenceSplitter) Flush() string {
	rest := strings.TrimSpace(s.buf)
	s.buf = ""
	return rest
}

// sentenceEnd finds the end of the first complete sentence of s: one the
// tokenizer sees another sentence after, or a line ended by a newline.
func sentenceEnd(s string) int {
	line, nl := s, strings.IndexByte(s, '\n')
	if nl >= 0 {
		line = s[:nl]
	}
	if first, ok := firstSentence(line); ok {
		return first
	}
	if nl >= 0 {
		return nl + 1
	}
	return -1
}

var englishTokenizer = sync.OnceValues(func() (*sentences.DefaultSentenceTokenizer, error) {
	return english.NewSentenceTokenizer(nil)
})

// firstSentence returns the byte offset past the first sentence of line when
// line holds more than one.
func firstSentence(line string) (int, bool) {
	tok, err := englishTokenizer()
	if err != nil {
		return 0, false
	}
	parts := tok.Tokenize(line)
	if len(parts) < 2 {
		return 0, false
	}
	first := strings.TrimSpace(parts[0].Text)
	i := strings.Index(line, first)
	if first == "" || i < 0 {
		return 0, false
	}
	return i + len(first), true
}

type regexSplitter struct {
	re  *regexp.Regexp
	buf string
}

func (s *regexSplitter) Push(token string) []string {
	s.buf += token
	var out []string
	for {
		m := s.re.FindStringSubmatchIndex(s.buf)
		if m == nil || m[0] != 0 || m[1] == 0 {
			return out
		}
		msg := s.buf[m[0]:m[1]]
		if len(m) >= 4 && m[2] >= 0 {
			msg = s.buf[m[2]:m[3]]
		}
		if msg = strings.TrimSpace(msg); msg != "" {
			out = append(out, msg)
		}
		s.buf = s.buf[m[1]:]
	}
}

func (s *regexSplitter) Flush() string {
	rest := strings.TrimSpace(s.buf)
	s.buf = ""
	return rest
}

// splitMessage cuts msg into chunks of at most limit runes, preferring newlines
// and then spaces as cut points.
func splitMessage(msg string, limit int) []string {
	var result []string
	msg = strings.TrimSpace(msg)
	for limit > 0 && utf8.RuneCountInString(msg) > limit {
		cut := cutPoint(msg, limit)
		result = append(result, strings.TrimSpace(msg[:cut]))
		msg = strings.TrimSpace(msg[cut:])
	}
	if msg != "" {
		result = append(result, msg)
	}
	return result
}

// cutPoint returns a byte offset no further than limit runes into s.
func cutPoint(s string, limit int) int {
	end := len(s)
	n := 0
	for i := range s {
		if n == limit {
			end = i
			break
		}
		n++
	}
	head := s[:end]
	if i := strings.LastIndex(head, "\n"); i > 0 {
		return i
	}
	if i := strings.LastIndex(head, " "); i > 0 {
		return i
	}
	return end
}

// completeSentences returns the prefix of text made of finished sentences.
func completeSentences(text string) string {
	end := 0
	for {
		n := sentenceEnd(text[end:])
		if n < 0 {
			return strings.TrimSpace(text[:end])
		}
		end += n
	}
}
