package ai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
)

// DefaultCaptionPrompt asks for a short caption usable inside a chat transcript.
const DefaultCaptionPrompt = "Describe this image in one or two sentences for someone who cannot see it."

// Captioner describes image attachments through an OpenAI-compatible vision model.
type Captioner struct {
	client openai.Client
	model  string
	prompt string
	opts   Options
}

// NewCaptioner returns a captioner. An empty prompt uses DefaultCaptionPrompt.
func NewCaptioner(opts Options, prompt string) (*Captioner, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("vision base url is required")
	}
	if opts.Model == "" {
		return nil, errors.New("vision model is required")
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Timeouts == (Timeouts{}) {
		opts.Timeouts = DefaultTimeouts()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = newHTTPClient(opts.Timeouts.Connect)
	}
	if prompt == "" {
		prompt = DefaultCaptionPrompt
	}
	return &Captioner{client: newOpenAIClient(opts), model: opts.Model, prompt: prompt, opts: opts}, nil
}

// Caption returns a description of the image at url.
func (c *Captioner) Caption(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeouts.Generate)
	defer cancel()
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(c.prompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}),
			}),
		},
	})
	if err != nil {
		return "", wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("caption: empty response")
	}
	return cleanReply(resp.Choices[0].Message.Content), nil
}
