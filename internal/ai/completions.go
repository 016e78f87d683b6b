package ai

import (
	"context"
	"io"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// completionBackend drives the OpenAI-compatible text completion endpoint that
// oobabooga, TabbyAPI and Aphrodite expose. The families differ only in how
// they count tokens and whether they can stop a generation.
type completionBackend struct {
	opts   Options
	client openai.Client
	json   jsonClient
}

func newCompletionBackend(opts Options) *completionBackend {
	return &completionBackend{
		opts:   opts,
		client: newOpenAIClient(opts),
		json:   jsonClient{client: opts.HTTPClient, apiKey: opts.APIKey},
	}
}

func newOpenAIClient(opts Options) openai.Client {
	ro := []option.RequestOption{
		option.WithBaseURL(opts.BaseURL + "/v1/"),
		option.WithHTTPClient(opts.HTTPClient),
		option.WithMaxRetries(0),
	}
	if opts.APIKey != "" {
		ro = append(ro, option.WithAPIKey(opts.APIKey))
	} else {
		ro = append(ro, option.WithAPIKey("none"))
	}
	return openai.NewClient(ro...)
}

func (b *completionBackend) params(req Request) openai.CompletionNewParams {
	params := openai.CompletionNewParams{
		Model:  openai.CompletionNewParamsModel(b.opts.Model),
		Prompt: openai.CompletionNewParamsPromptUnion{OfString: openai.String(req.Prompt)},
	}
	if len(req.Stop) > 0 {
		params.Stop = openai.CompletionNewParamsStopUnion{OfStringArray: req.Stop}
	}
	if len(b.opts.Params) > 0 {
		params.SetExtraFields(b.opts.Params)
	}
	return params
}

func (b *completionBackend) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeouts.Generate)
	defer cancel()
	resp, err := b.client.Completions.New(ctx, b.params(req))
	if err != nil {
		return "", wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Text, nil
}

func (b *completionBackend) StreamGenerate(ctx context.Context, req Request) (Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeouts.Generate)
	s := b.client.Completions.NewStreaming(ctx, b.params(req))
	if err := s.Err(); err != nil {
		cancel()
		return nil, wrapError(err)
	}
	return &sseStream[openai.Completion]{s: s, cancel: cancel, text: func(c openai.Completion) string {
		if len(c.Choices) == 0 {
			return ""
		}
		return c.Choices[0].Text
	}}, nil
}

func (b *completionBackend) CountTokens(ctx context.Context, text string) (int, error) {
	switch b.opts.Kind {
	case KindTabbyAPI:
		var out struct {
			Length int `json:"length"`
		}
		err := b.json.do(ctx, http.MethodPost, b.opts.BaseURL+"/v1/token/encode", b.opts.Timeouts.Tokens,
			map[string]string{"text": text}, &out)
		return out.Length, err
	case KindAphrodite:
		var out struct {
			Count int `json:"count"`
		}
		err := b.json.do(ctx, http.MethodPost, b.opts.BaseURL+"/v1/tokenize", b.opts.Timeouts.Tokens,
			map[string]string{"prompt": text}, &out)
		return out.Count, err
	default:
		var out struct {
			Length int `json:"length"`
		}
		err := b.json.do(ctx, http.MethodPost, b.opts.BaseURL+"/v1/internal/encode", b.opts.Timeouts.Tokens,
			map[string]string{"text": text}, &out)
		return out.Length, err
	}
}

func (b *completionBackend) HealthCheck(ctx context.Context) error {
	return b.json.do(ctx, http.MethodGet, b.opts.BaseURL+"/v1/models", b.opts.Timeouts.Health, nil, nil)
}

// StopGeneration aborts the running generation. Only oobabooga supports it.
func (b *completionBackend) StopGeneration(ctx context.Context) error {
	if b.opts.Kind != KindOobabooga {
		return ErrUnsupported
	}
	return b.json.do(ctx, http.MethodPost, b.opts.BaseURL+"/v1/internal/stop-generation", b.opts.Timeouts.Tokens, nil, nil)
}

// sseStream adapts an SDK event stream to Stream.
type sseStream[T any] struct {
	s      *ssestream.Stream[T]
	cancel context.CancelFunc
	text   func(T) string
}

func (s *sseStream[T]) Next() (string, error) {
	for s.s.Next() {
		if tok := s.text(s.s.Current()); tok != "" {
			return tok, nil
		}
	}
	if err := s.s.Err(); err != nil {
		return "", wrapError(err)
	}
	return "", io.EOF
}

func (s *sseStream[T]) Close() error {
	defer s.cancel()
	return s.s.Close()
}
