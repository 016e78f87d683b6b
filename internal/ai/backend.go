// Package ai talks to the remote text generation services the bot can use.
// Every service family is reached through the Backend interface.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrUnsupported is returned by operations a backend family cannot perform,
// such as counting tokens on the OpenAI API.
var ErrUnsupported = errors.New("not supported by this backend")

// Request is one generation request. Stop sequences end the generation early.
type Request struct {
	Prompt string
	Stop   []string
}

// Stream delivers a generation piece by piece. Next returns io.EOF once the
// service finished. Close releases the connection and may be called early.
type Stream interface {
	Next() (string, error)
	Close() error
}

// Backend is a text generation service.
type Backend interface {
	Generate(ctx context.Context, req Request) (string, error)
	StreamGenerate(ctx context.Context, req Request) (Stream, error)
	CountTokens(ctx context.Context, text string) (int, error)
	HealthCheck(ctx context.Context) error
}

// Stopper is implemented by backends that can abort a generation server side.
type Stopper interface {
	StopGeneration(ctx context.Context) error
}

// Kind names a backend family.
type Kind string

const (
	KindOobabooga       Kind = "oobabooga"
	KindTabbyAPI        Kind = "tabbyapi"
	KindAphrodite       Kind = "aphrodite"
	KindOpenAI          Kind = "openai"
	KindCohere          Kind = "cohere"
	KindOobaboogaLegacy Kind = "oobabooga-legacy"
)

// Kinds lists every supported family.
func Kinds() []Kind {
	return []Kind{KindOobabooga, KindTabbyAPI, KindAphrodite, KindOpenAI, KindCohere, KindOobaboogaLegacy}
}

// Timeouts bounds the different kinds of calls made to a backend.
type Timeouts struct {
	Connect  time.Duration
	Tokens   time.Duration
	Health   time.Duration
	Generate time.Duration
}

// DefaultTimeouts returns 5s connect, 10s token count and health, 120s generation.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect:  5 * time.Second,
		Tokens:   10 * time.Second,
		Health:   10 * time.Second,
		Generate: 120 * time.Second,
	}
}

// Options configures New.
type Options struct {
	Kind     Kind
	BaseURL  string
	APIKey   string
	Model    string
	Params   map[string]any // extra request body fields, e.g. temperature
	Timeouts Timeouts

	// HTTPClient replaces the client built from Timeouts. Used by tests.
	HTTPClient *http.Client
}

// New returns the backend for opts.Kind.
func New(opts Options) (Backend, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("backend base url is required")
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Timeouts == (Timeouts{}) {
		opts.Timeouts = DefaultTimeouts()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = newHTTPClient(opts.Timeouts.Connect)
	}
	switch opts.Kind {
	case KindOobabooga, KindTabbyAPI, KindAphrodite, "":
		if opts.Kind == "" {
			opts.Kind = KindOobabooga
		}
		return newCompletionBackend(opts), nil
	case KindOpenAI, KindCohere:
		return newChatBackend(opts), nil
	case KindOobaboogaLegacy:
		return newLegacyBackend(opts), nil
	default:
		return nil, fmt.Errorf("unsupported backend kind %q", opts.Kind)
	}
}

// ParseKind validates a family name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unsupported backend kind %q", s)
}

// Collect drains a stream into one string.
func Collect(s Stream) (string, error) {
	defer s.Close()
	var sb strings.Builder
	for {
		tok, err := s.Next()
		if err != nil {
			if isEOF(err) {
				return sb.String(), nil
			}
			return sb.String(), err
		}
		sb.WriteString(tok)
	}
}
