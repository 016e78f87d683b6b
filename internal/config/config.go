// Package config loads the bot configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/keshon/chatmind/internal/ai"
	"github.com/keshon/chatmind/internal/imagegen"
	"github.com/keshon/chatmind/internal/mind"
)

// Prefix is prepended to every environment variable name.
const Prefix = "CHATMIND_"

// ChanceSpec is a response chance table written as "seconds:chance,...".
type ChanceSpec []mind.ChanceEntry

type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN"`
	StoragePath  string `env:"STORAGE_PATH" envDefault:"chatmind.json"`
	PersonaPath  string `env:"PERSONA_PATH"`
	AIName       string `env:"AI_NAME" envDefault:"Rosie"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile      string `env:"LOG_FILE"`

	Backend         string            `env:"BACKEND" envDefault:"oobabooga"`
	BackendURL      string            `env:"BACKEND_URL" envDefault:"http://localhost:5000"`
	BackendAPIKey   string            `env:"BACKEND_API_KEY"`
	BackendModel    string            `env:"BACKEND_MODEL"`
	BackendParams   map[string]string `env:"BACKEND_PARAMS" envSeparator:"," envKeyValSeparator:"="`
	BackendRetries  int               `env:"BACKEND_RETRIES" envDefault:"3"`
	ConnectTimeout  time.Duration     `env:"CONNECT_TIMEOUT" envDefault:"5s"`
	TokenTimeout    time.Duration     `env:"TOKEN_TIMEOUT" envDefault:"10s"`
	HealthTimeout   time.Duration     `env:"HEALTH_TIMEOUT" envDefault:"10s"`
	GenerateTimeout time.Duration     `env:"GENERATE_TIMEOUT" envDefault:"120s"`
	ContextTokens   int               `env:"CONTEXT_TOKENS" envDefault:"0"`

	VisionURL    string `env:"VISION_URL"`
	VisionAPIKey string `env:"VISION_API_KEY"`
	VisionModel  string `env:"VISION_MODEL" envDefault:"gpt-4o-mini"`
	VisionPrompt string `env:"VISION_PROMPT" envDefault:"Describe this image in one detailed sentence."`

	ImageURL           string        `env:"IMAGE_URL"`
	ImageNegative      string        `env:"IMAGE_NEGATIVE_PROMPT"`
	ImageSteps         int           `env:"IMAGE_STEPS" envDefault:"30"`
	ImageWidth         int           `env:"IMAGE_WIDTH" envDefault:"512"`
	ImageHeight        int           `env:"IMAGE_HEIGHT" envDefault:"512"`
	ImageSampler       string        `env:"IMAGE_SAMPLER"`
	ImageTimeout       time.Duration `env:"IMAGE_TIMEOUT" envDefault:"5m"`
	ImageWords         []string      `env:"IMAGE_WORDS" envSeparator:"," envDefault:"draw,sketch,paint,make,generate,post,upload"`
	ImageFailureNotice string        `env:"IMAGE_FAILURE_NOTICE" envDefault:"Something went wrong generating your image. Sorry!"`

	TextChances        ChanceSpec    `env:"TEXT_CHANCES" envDefault:"180:0.99,300:0.7,600:0.5"`
	VoiceChances       ChanceSpec    `env:"VOICE_CHANCES" envDefault:"30:0.95,60:0.9,180:0.85"`
	InterrobangBonus   float64       `env:"INTERROBANG_BONUS" envDefault:"0.3"`
	VoiceCap           int           `env:"VOICE_PARTICIPANT_CAP" envDefault:"3"`
	PanicDuration      time.Duration `env:"PANIC_DURATION" envDefault:"30s"`
	DisableUnsolicited bool          `env:"DISABLE_UNSOLICITED"`
	UnsolicitedCap     int           `env:"UNSOLICITED_CHANNEL_CAP" envDefault:"3"`

	IgnoreBots     bool     `env:"IGNORE_BOTS" envDefault:"true"`
	IgnoreDMs      bool     `env:"IGNORE_DMS"`
	IgnorePrefixes []string `env:"IGNORE_PREFIXES" envSeparator:","`

	AccumulationWindow time.Duration `env:"ACCUMULATION_WINDOW" envDefault:"0s"`
	EarlyFlush         int           `env:"EARLY_FLUSH" envDefault:"0"`
	LatestOnly         bool          `env:"RESPOND_TO_LATEST_ONLY"`
	SkipInProgress     bool          `env:"SKIP_IN_PROGRESS"`

	HistoryLines   int           `env:"HISTORY_LINES" envDefault:"7"`
	Retries        int           `env:"EMPTY_RETRIES" envDefault:"0"`
	Stream         string        `env:"STREAM"`
	StreamInterval time.Duration `env:"STREAM_INTERVAL" envDefault:"700ms"`
	SplitResponses bool          `env:"SPLIT_RESPONSES"`
	SplitPattern   string        `env:"SPLIT_PATTERN"`
	StopMarkers    []string      `env:"STOP_MARKERS" envSeparator:";" envDefault:"### end of transcript ###;<|endoftext|>;<|im_end|>"`
	Impersonation  string        `env:"IMPERSONATION" envDefault:"standard"`
	Typing         bool          `env:"TYPING" envDefault:"true"`
	EmptyNotice    string        `env:"EMPTY_NOTICE"`
	FailureNotice  string        `env:"FAILURE_NOTICE" envDefault:"I can't reach my brain right now. Try again in a bit."`

	RepetitionCapacity   int     `env:"REPETITION_CAPACITY" envDefault:"3"`
	RepetitionThreshold  int     `env:"REPETITION_THRESHOLD" envDefault:"1"`
	RepetitionSimilarity float64 `env:"REPETITION_SIMILARITY" envDefault:"0"`
}

// Load reads envFile (or .env when empty and present) into the process
// environment and parses it.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return parse(env.Options{Prefix: Prefix})
}

// FromMap parses a configuration from explicit variables, without prefix.
func FromMap(vars map[string]string) (Config, error) {
	prefixed := make(map[string]string, len(vars))
	for k, v := range vars {
		prefixed[Prefix+k] = v
	}
	return parse(env.Options{Prefix: Prefix, Environment: prefixed})
}

func parse(opts env.Options) (Config, error) {
	opts.FuncMap = map[reflect.Type]env.ParserFunc{
		reflect.TypeOf(ChanceSpec{}): func(v string) (any, error) {
			entries, err := mind.ParseChanceEntries(v)
			return ChanceSpec(entries), err
		},
	}
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the values that parsing alone cannot.
func (c Config) Validate() error {
	var errs []error
	if _, err := ai.ParseKind(c.Backend); err != nil {
		errs = append(errs, err)
	}
	if c.BackendURL == "" {
		errs = append(errs, errors.New("BACKEND_URL is required"))
	}
	if _, err := mind.NewChanceTable(c.TextChances); err != nil {
		errs = append(errs, fmt.Errorf("TEXT_CHANCES: %w", err))
	}
	if _, err := mind.NewVoiceChanceTable(c.VoiceChances); err != nil {
		errs = append(errs, fmt.Errorf("VOICE_CHANCES: %w", err))
	}
	if _, err := c.granularity(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.impersonation(); err != nil {
		errs = append(errs, err)
	}
	if c.SplitPattern != "" {
		if _, err := regexp.Compile(c.SplitPattern); err != nil {
			errs = append(errs, fmt.Errorf("SPLIT_PATTERN: %w", err))
		}
	}
	if c.RepetitionSimilarity < 0 || c.RepetitionSimilarity > 1 {
		errs = append(errs, fmt.Errorf("REPETITION_SIMILARITY %.2f outside [0,1]", c.RepetitionSimilarity))
	}
	for name, v := range map[string]int{
		"BACKEND_RETRIES":         c.BackendRetries,
		"CONTEXT_TOKENS":          c.ContextTokens,
		"EARLY_FLUSH":             c.EarlyFlush,
		"EMPTY_RETRIES":           c.Retries,
		"HISTORY_LINES":           c.HistoryLines,
		"UNSOLICITED_CHANNEL_CAP": c.UnsolicitedCap,
		"VOICE_PARTICIPANT_CAP":   c.VoiceCap,
		"REPETITION_CAPACITY":     c.RepetitionCapacity,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	for name, d := range map[string]time.Duration{
		"ACCUMULATION_WINDOW": c.AccumulationWindow,
		"PANIC_DURATION":      c.PanicDuration,
		"STREAM_INTERVAL":     c.StreamInterval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	return errors.Join(errs...)
}

func (c Config) granularity() (mind.Granularity, error) {
	switch g := mind.Granularity(strings.ToLower(c.Stream)); g {
	case mind.StreamOff, mind.StreamToken, mind.StreamSentence:
		return g, nil
	}
	if strings.EqualFold(c.Stream, "off") {
		return mind.StreamOff, nil
	}
	return "", fmt.Errorf("STREAM %q: want off, token or sentence", c.Stream)
}

func (c Config) impersonation() (mind.ImpersonationMode, error) {
	switch m := mind.ImpersonationMode(strings.ToLower(c.Impersonation)); m {
	case mind.ImpersonationOff, mind.ImpersonationStandard, mind.ImpersonationAggressive, mind.ImpersonationComprehensive:
		return m, nil
	}
	if strings.EqualFold(c.Impersonation, "off") {
		return mind.ImpersonationOff, nil
	}
	return "", fmt.Errorf("IMPERSONATION %q: want off, standard, aggressive or comprehensive", c.Impersonation)
}

// Mind builds the engine configuration. wakewords come from the persona;
// speakerTemplate and botPrefix from the prompt builder.
func (c Config) Mind(wakewords []string, speakerTemplate, botPrefix string) (mind.Config, error) {
	text, err := mind.NewChanceTable(c.TextChances)
	if err != nil {
		return mind.Config{}, err
	}
	voice, err := mind.NewVoiceChanceTable(c.VoiceChances)
	if err != nil {
		return mind.Config{}, err
	}
	gran, err := c.granularity()
	if err != nil {
		return mind.Config{}, err
	}
	mode, err := c.impersonation()
	if err != nil {
		return mind.Config{}, err
	}
	var split *regexp.Regexp
	if c.SplitPattern != "" {
		if split, err = regexp.Compile(c.SplitPattern); err != nil {
			return mind.Config{}, err
		}
	}
	return mind.Config{
		Decision: mind.DecisionConfig{
			Text:               text,
			Voice:              voice,
			InterrobangBonus:   c.InterrobangBonus,
			VoiceCap:           c.VoiceCap,
			PanicDuration:      c.PanicDuration,
			DisableUnsolicited: c.DisableUnsolicited,
		},
		Queue: mind.QueueConfig{
			Window:         c.AccumulationWindow,
			EarlyFlush:     c.EarlyFlush,
			LatestOnly:     c.LatestOnly,
			SkipInProgress: c.SkipInProgress,
		},
		Coordinator: mind.CoordinatorConfig{
			HistoryLimit:   c.HistoryLines,
			MaxRetries:     c.Retries,
			Granularity:    gran,
			StreamInterval: c.StreamInterval,
			SplitResponses: c.SplitResponses,
			SplitPattern:   split,
			MessageLimit:   mind.DefaultMessageLimit,
			Filter: mind.FilterConfig{
				StopMarkers:     c.StopMarkers,
				Mode:            mode,
				SpeakerTemplate: speakerTemplate,
				BotPrefix:       botPrefix,
			},
			Typing:        c.Typing,
			EmptyNotice:   c.EmptyNotice,
			FailureNotice: c.FailureNotice,
		},
		Repetition: mind.RepetitionConfig{
			Capacity:   c.RepetitionCapacity,
			Threshold:  c.RepetitionThreshold,
			Similarity: c.RepetitionSimilarity,
		},
		UnsolicitedCap:     c.UnsolicitedCap,
		IgnoreBots:         c.IgnoreBots,
		IgnoreDMs:          c.IgnoreDMs,
		IgnorePrefixes:     c.IgnorePrefixes,
		Wakewords:          wakewords,
		ImageWords:         c.ImageWords,
		ImageFailureNotice: c.ImageFailureNotice,
	}, nil
}

// BackendOptions builds the text generation backend options.
func (c Config) BackendOptions() ai.Options {
	kind, _ := ai.ParseKind(c.Backend)
	return ai.Options{
		Kind:    kind,
		BaseURL: c.BackendURL,
		APIKey:  c.BackendAPIKey,
		Model:   c.BackendModel,
		Params:  typedParams(c.BackendParams),
		Timeouts: ai.Timeouts{
			Connect:  c.ConnectTimeout,
			Tokens:   c.TokenTimeout,
			Health:   c.HealthTimeout,
			Generate: c.GenerateTimeout,
		},
	}
}

// VisionOptions returns the captioning backend options; ok is false when
// vision is not configured.
func (c Config) VisionOptions() (ai.Options, bool) {
	if c.VisionURL == "" {
		return ai.Options{}, false
	}
	return ai.Options{
		Kind:    ai.KindOpenAI,
		BaseURL: c.VisionURL,
		APIKey:  c.VisionAPIKey,
		Model:   c.VisionModel,
		Timeouts: ai.Timeouts{
			Connect:  c.ConnectTimeout,
			Tokens:   c.TokenTimeout,
			Health:   c.HealthTimeout,
			Generate: c.GenerateTimeout,
		},
	}, true
}

// ImageConfig returns the Stable Diffusion settings; ok is false when image
// generation is not configured.
func (c Config) ImageConfig() (imagegen.Config, bool) {
	if c.ImageURL == "" {
		return imagegen.Config{}, false
	}
	return imagegen.Config{
		BaseURL:        c.ImageURL,
		NegativePrompt: c.ImageNegative,
		Steps:          c.ImageSteps,
		Width:          c.ImageWidth,
		Height:         c.ImageHeight,
		Sampler:        c.ImageSampler,
		Timeout:        c.ImageTimeout,
		Attempts:       c.BackendRetries + 1,
	}, true
}

// typedParams turns "temperature=0.7" style values into numbers and booleans
// where they parse as such.
func typedParams(in map[string]string) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[k] = i
		} else if f, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = f
		} else if b, err := strconv.ParseBool(v); err == nil {
			out[k] = b
		} else {
			out[k] = v
		}
	}
	return out
}
