// Package imagegen draws pictures through a Stable Diffusion WebUI
// (AUTOMATIC1111) server.
package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/keshon/chatmind/internal/mind"
	"github.com/keshon/chatmind/pkg/retrylimit"
)

// Config configures the client.
type Config struct {
	BaseURL        string
	NegativePrompt string
	Steps          int
	Width          int
	Height         int
	Sampler        string
	Extra          map[string]any // merged into the request body
	Timeout        time.Duration
	Attempts       int
}

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string    { return fmt.Sprintf("txt2img http %d: %s", e.Code, e.Body) }
func (e *StatusError) StatusCode() int { return e.Code }

// Client implements mind.ImageGenerator.
type Client struct {
	cfg   Config
	http  *http.Client
	retry retrylimit.RetryConfig
}

// New returns a client. httpClient may be nil.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("image generator base url is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Steps <= 0 {
		cfg.Steps = 30
	}
	if cfg.Width <= 0 {
		cfg.Width = 512
	}
	if cfg.Height <= 0 {
		cfg.Height = 512
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	retry := retrylimit.DefaultRetryConfig()
	retry.MaxAttempts = max(cfg.Attempts, 1)
	return &Client{cfg: cfg, http: httpClient, retry: retry}, nil
}

type txt2imgRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Steps          int    `json:"steps"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	SamplerName    string `json:"sampler_name,omitempty"`
}

type txt2imgResponse struct {
	Images []string `json:"images"`
}

// Generate renders prompt into a PNG.
func (c *Client) Generate(ctx context.Context, prompt string) (mind.Image, error) {
	body, err := c.body(prompt)
	if err != nil {
		return mind.Image{}, err
	}
	data, err := retrylimit.Do(ctx, nil, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.txt2img(ctx, body)
	})
	if err != nil {
		return mind.Image{}, err
	}
	return mind.Image{Name: fileName(prompt), Data: data}, nil
}

func (c *Client) body(prompt string) ([]byte, error) {
	req := txt2imgRequest{
		Prompt:         prompt,
		NegativePrompt: c.cfg.NegativePrompt,
		Steps:          c.cfg.Steps,
		Width:          c.cfg.Width,
		Height:         c.cfg.Height,
		SamplerName:    c.cfg.Sampler,
	}
	if len(c.cfg.Extra) == 0 {
		return json.Marshal(req)
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	merged := map[string]any{}
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, err
	}
	for k, v := range c.cfg.Extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}

func (c *Client) txt2img(ctx context.Context, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/sdapi/v1/txt2img", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(msg)}
	}
	var parsed txt2imgResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode txt2img response: %w", err)
	}
	if len(parsed.Images) == 0 {
		return nil, &retrylimit.FatalError{Err: errors.New("txt2img returned no images")}
	}
	img := parsed.Images[0]
	if i := strings.Index(img, ","); i >= 0 && strings.HasPrefix(img, "data:") {
		img = img[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(img)
	if err != nil {
		return nil, &retrylimit.FatalError{Err: fmt.Errorf("decode image: %w", err)}
	}
	return data, nil
}

// fileName derives an attachment name from the first words of the prompt.
func fileName(prompt string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(prompt) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "_") {
				b.WriteByte('_')
			}
		}
		if b.Len() >= 40 {
			break
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		name = "image"
	}
	return name + ".png"
}
