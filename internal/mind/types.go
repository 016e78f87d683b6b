package mind

import (
	"context"
	"time"
)

// TriggerKind tells how a trigger reached the engine.
type TriggerKind int

const (
	TriggerMessage    TriggerKind = iota // a chat message
	TriggerPoke                          // explicit re-engagement (poke reaction or /poke)
	TriggerRegenerate                    // regenerate an existing bot message in place
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerMessage:
		return "message"
	case TriggerPoke:
		return "poke"
	case TriggerRegenerate:
		return "regenerate"
	default:
		return "unknown"
	}
}

// Trigger is one inbound event eligible to produce a response.
type Trigger struct {
	Kind       TriggerKind
	GuildID    string // empty for direct messages
	ChannelID  string
	MessageID  string
	ReceivedAt time.Time

	AuthorID    string
	AuthorName  string
	AuthorIsBot bool
	FromSelf    bool

	Content string

	// Explicit is set by the transport for mentions, replies to the bot and DMs.
	// Wakewords are detected by the engine itself.
	Explicit       bool
	DirectMessage  bool
	MentionsOthers bool
	ReplyToID      string

	// VoiceParticipants > 0 marks a voice conversation.
	VoiceParticipants int

	// ImagePrompt is filled when the content asks for a picture.
	ImagePrompt string

	// EditMessageID is the bot message a regenerate trigger rewrites.
	EditMessageID string
}

// IsImageRequest reports whether the trigger asks for image generation.
func (t Trigger) IsImageRequest() bool { return t.ImagePrompt != "" }

// PostedMessage is a message the transport delivered on our behalf.
type PostedMessage struct {
	ChannelID string
	MessageID string
	Content   string
}

// Image is a generated picture ready for upload.
type Image struct {
	Name string
	Data []byte
}

// OutboundMessage is what the engine asks the transport to post.
type OutboundMessage struct {
	Content string
	ReplyTo string
	Image   *Image
}

// Transport is the chat platform as seen by the engine.
type Transport interface {
	Send(ctx context.Context, channelID string, msg OutboundMessage) (PostedMessage, error)
	Edit(ctx context.Context, channelID, messageID, content string) (PostedMessage, error)
	Delete(ctx context.Context, channelID, messageID string) error
	React(ctx context.Context, channelID, messageID, emoji string) error
	Unreact(ctx context.Context, channelID, messageID, emoji string) error
	Typing(ctx context.Context, channelID string) error
}

// PromptRequest describes the context a prompt is rendered for.
type PromptRequest struct {
	Trigger      Trigger
	HistoryLimit int
	// HideBefore hides every history message older than or equal to this ID.
	HideBefore string
}

// Prompt is the rendered text handed to the backend.
type Prompt struct {
	Text string
	// Speakers are the display names of the other participants in the history.
	Speakers []string
}

// PromptBuilder renders prompts from channel history and persona.
type PromptBuilder interface {
	Build(ctx context.Context, req PromptRequest) (Prompt, error)
}

// ImageGenerator turns a prompt into a picture.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (Image, error)
}

// ChannelSnapshot is the part of a channel's state that survives restarts.
type ChannelSnapshot struct {
	HistoryMarker string    `json:"history_marker,omitempty"`
	PanicUntil    time.Time `json:"panic_until,omitempty"`
}

// StateStore persists channel snapshots.
type StateStore interface {
	LoadChannel(channelID string) (ChannelSnapshot, bool)
	SaveChannel(channelID string, snap ChannelSnapshot) error
}
