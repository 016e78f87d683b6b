package ai

import (
	"context"
	"regexp"
	"strings"
)

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

func truncate(b []byte) string {
	if len(b) > 200 {
		return string(b[:200]) + "..."
	}
	return string(b)
}

// cleanReply strips reasoning blocks and quotes wrapping the whole reply.
func cleanReply(reply string) string {
	reply = strings.TrimSpace(reply)
	reply = thinkBlock.ReplaceAllString(reply, "")
	reply = strings.TrimSpace(reply)

	if len(reply) >= 2 {
		quotes := []struct{ open, close string }{
			{`"`, `"`}, {"“", "”"},
		}
		for _, q := range quotes {
			if !strings.HasPrefix(reply, q.open) || !strings.HasSuffix(reply, q.close) {
				continue
			}
			inner := strings.TrimSuffix(strings.TrimPrefix(reply, q.open), q.close)
			if !strings.Contains(inner, q.open) && !strings.Contains(inner, q.close) {
				reply = strings.TrimSpace(inner)
			}
			break
		}
	}
	return reply
}

// Cleaned removes reasoning output of thinking models from every reply.
type Cleaned struct {
	Backend
}

func (c Cleaned) Generate(ctx context.Context, req Request) (string, error) {
	out, err := c.Backend.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	return cleanReply(out), nil
}

func (c Cleaned) StreamGenerate(ctx context.Context, req Request) (Stream, error) {
	s, err := c.Backend.StreamGenerate(ctx, req)
	if err != nil {
		return nil, err
	}
	return &thinkStream{Stream: s}, nil
}

func (c Cleaned) StopGeneration(ctx context.Context) error {
	if s, ok := c.Backend.(Stopper); ok {
		return s.StopGeneration(ctx)
	}
	return ErrUnsupported
}

// thinkStream drops everything between <think> and </think>. Tags may be
// split across tokens, so a possible tag prefix is held back.
type thinkStream struct {
	Stream
	buf      string
	thinking bool
}

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

func (t *thinkStream) Next() (string, error) {
	for {
		if out, ok := t.scan(); ok {
			return out, nil
		}
		tok, err := t.Stream.Next()
		if err != nil {
			if isEOF(err) && !t.thinking && t.buf != "" {
				out := t.buf
				t.buf = ""
				return out, nil
			}
			return "", err
		}
		t.buf += tok
	}
}

// scan returns visible text from the buffer, if any is ready.
func (t *thinkStream) scan() (string, bool) {
	for {
		if t.thinking {
			i := strings.Index(t.buf, thinkClose)
			if i < 0 {
				t.buf = t.buf[max(0, len(t.buf)-len(thinkClose)):]
				return "", false
			}
			t.buf = strings.TrimLeft(t.buf[i+len(thinkClose):], " \t\r\n")
			t.thinking = false
			continue
		}
		if i := strings.Index(t.buf, thinkOpen); i >= 0 {
			out := t.buf[:i]
			t.buf = t.buf[i+len(thinkOpen):]
			t.thinking = true
			if out != "" {
				return out, true
			}
			continue
		}
		keep := partialSuffix(t.buf, thinkOpen)
		out := t.buf[:len(t.buf)-keep]
		t.buf = t.buf[len(t.buf)-keep:]
		return out, out != ""
	}
}

// partialSuffix is the length of the longest suffix of s that is a proper
// prefix of tag.
func partialSuffix(s, tag string) int {
	for n := min(len(s), len(tag)-1); n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return n
		}
	}
	return 0
}
