package ai

import (
	"context"
	"net/http"

	"github.com/openai/openai-go"
)

// chatBackend uses chat completions, for the OpenAI API and Cohere's
// compatibility layer. The rendered prompt goes out as a single user message.
type chatBackend struct {
	opts   Options
	client openai.Client
	json   jsonClient
}

func newChatBackend(opts Options) *chatBackend {
	return &chatBackend{
		opts:   opts,
		client: newOpenAIClient(opts),
		json:   jsonClient{client: opts.HTTPClient, apiKey: opts.APIKey},
	}
}

func (b *chatBackend) params(req Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    b.opts.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(req.Prompt)},
	}
	if len(req.Stop) > 0 && b.opts.Kind != KindCohere {
		// OpenAI accepts at most four stop sequences.
		stop := req.Stop
		if len(stop) > 4 {
			stop = stop[:4]
		}
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: stop}
	}
	extra := map[string]any{}
	for k, v := range b.opts.Params {
		extra[k] = v
	}
	if b.opts.Kind == KindCohere {
		extra["message"] = req.Prompt
	}
	if len(extra) > 0 {
		params.SetExtraFields(extra)
	}
	return params
}

func (b *chatBackend) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeouts.Generate)
	defer cancel()
	resp, err := b.client.Chat.Completions.New(ctx, b.params(req))
	if err != nil {
		return "", wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (b *chatBackend) StreamGenerate(ctx context.Context, req Request) (Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeouts.Generate)
	s := b.client.Chat.Completions.NewStreaming(ctx, b.params(req))
	if err := s.Err(); err != nil {
		cancel()
		return nil, wrapError(err)
	}
	return &sseStream[openai.ChatCompletionChunk]{s: s, cancel: cancel, text: func(c openai.ChatCompletionChunk) string {
		if len(c.Choices) == 0 {
			return ""
		}
		return c.Choices[0].Delta.Content
	}}, nil
}

// CountTokens is unsupported: chat APIs bill by their own tokenizer.
func (b *chatBackend) CountTokens(context.Context, string) (int, error) {
	return 0, ErrUnsupported
}

func (b *chatBackend) HealthCheck(ctx context.Context) error {
	return b.json.do(ctx, http.MethodGet, b.opts.BaseURL+"/v1/models", b.opts.Timeouts.Health, nil, nil)
}
