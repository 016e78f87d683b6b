package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// legacyBackend speaks the pre-OpenAI oobabooga API: blocking generation over
// HTTP and streaming over a websocket.
type legacyBackend struct {
	opts Options
	json jsonClient
}

func newLegacyBackend(opts Options) *legacyBackend {
	return &legacyBackend{opts: opts, json: jsonClient{client: opts.HTTPClient, apiKey: opts.APIKey}}
}

func (b *legacyBackend) body(req Request) map[string]any {
	body := map[string]any{}
	for k, v := range b.opts.Params {
		body[k] = v
	}
	body["prompt"] = req.Prompt
	if len(req.Stop) > 0 {
		body["stopping_strings"] = req.Stop
	}
	return body
}

func (b *legacyBackend) Generate(ctx context.Context, req Request) (string, error) {
	var out struct {
		Results []struct {
			Text string `json:"text"`
		} `json:"results"`
	}
	if err := b.json.do(ctx, http.MethodPost, b.opts.BaseURL+"/api/v1/generate", b.opts.Timeouts.Generate, b.body(req), &out); err != nil {
		return "", err
	}
	if len(out.Results) == 0 {
		return "", nil
	}
	return out.Results[0].Text, nil
}

func (b *legacyBackend) StreamGenerate(ctx context.Context, req Request) (Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeouts.Generate)
	dialer := websocket.Dialer{HandshakeTimeout: b.opts.Timeouts.Connect}
	header := http.Header{}
	if b.opts.APIKey != "" {
		header.Set("Authorization", "Bearer "+b.opts.APIKey)
	}
	conn, resp, err := dialer.DialContext(ctx, websocketURL(b.opts.BaseURL)+"/api/v1/stream", header)
	if err != nil {
		cancel()
		if resp != nil {
			return nil, &HTTPError{Code: resp.StatusCode, Body: err.Error()}
		}
		return nil, fmt.Errorf("dial stream: %w", err)
	}
	if err := conn.WriteJSON(b.body(req)); err != nil {
		conn.Close()
		cancel()
		return nil, fmt.Errorf("send request: %w", err)
	}
	s := &wsStream{conn: conn, cancel: cancel}
	// Closing the connection unblocks a pending read once ctx ends.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	return s, nil
}

func (b *legacyBackend) CountTokens(ctx context.Context, text string) (int, error) {
	var out struct {
		Results []struct {
			Tokens int `json:"tokens"`
		} `json:"results"`
	}
	if err := b.json.do(ctx, http.MethodPost, b.opts.BaseURL+"/api/v1/token-count", b.opts.Timeouts.Tokens,
		map[string]string{"prompt": text}, &out); err != nil {
		return 0, err
	}
	if len(out.Results) == 0 {
		return 0, fmt.Errorf("token count: empty result")
	}
	return out.Results[0].Tokens, nil
}

func (b *legacyBackend) HealthCheck(ctx context.Context) error {
	return b.json.do(ctx, http.MethodGet, b.opts.BaseURL+"/api/v1/model", b.opts.Timeouts.Health, nil, nil)
}

func (b *legacyBackend) StopGeneration(ctx context.Context) error {
	return b.json.do(ctx, http.MethodPost, b.opts.BaseURL+"/api/v1/stop-stream", b.opts.Timeouts.Tokens, nil, nil)
}

type wsStream struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   bool
}

type wsEvent struct {
	Event string `json:"event"`
	Text  string `json:"text"`
}

func (s *wsStream) Next() (string, error) {
	for !s.done {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("read stream: %w", err)
		}
		var ev wsEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return "", fmt.Errorf("decode stream event: %w", err)
		}
		switch ev.Event {
		case "text_stream":
			if ev.Text != "" {
				return ev.Text, nil
			}
		case "stream_end":
			s.done = true
		}
	}
	return "", io.EOF
}

func (s *wsStream) Close() error {
	s.cancel()
	return s.conn.Close()
}

func websocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
