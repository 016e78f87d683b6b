// Package persona loads the bot's character and renders it, together with the
// channel history, into the prompt sent to the text generation backend.
package persona

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPromptTemplate frames the history as a chat room transcript.
const DefaultPromptTemplate = `You are in a chat room called {{.ChannelName}} with multiple participants.
Below is a transcript of recent messages in the conversation.
Write the next one to three messages that you would send in this conversation, from the point of view of the participant named {{.AIName}}.

{{.Persona}}

All responses you write must be from the point of view of {{.AIName}}.
### Transcript:
{{.History}}{{.BotPrompt}}`

// DefaultHistoryLine renders one message of the transcript.
const DefaultHistoryLine = "{{.Name}}: {{.Text}}\n"

// DefaultBotPrompt opens the line the model completes.
const DefaultBotPrompt = "{{.Name}}:"

// Persona is the character the bot plays.
type Persona struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Wakewords   []string  `yaml:"wakewords"`
	Templates   Templates `yaml:"templates"`
}

// Templates are text/template sources. Empty fields use the defaults.
type Templates struct {
	Prompt      string `yaml:"prompt"`
	HistoryLine string `yaml:"history_line"`
	BotPrompt   string `yaml:"bot_prompt"`
}

// Load reads a persona from a YAML file.
func Load(path string) (Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("read persona: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML persona and fills in defaults.
func Parse(data []byte) (Persona, error) {
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Persona{}, fmt.Errorf("decode persona: %w", err)
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return Persona{}, errors.New("persona name is required")
	}
	p.applyDefaults()
	return p, nil
}

func (p *Persona) applyDefaults() {
	if p.Templates.Prompt == "" {
		p.Templates.Prompt = DefaultPromptTemplate
	}
	if p.Templates.HistoryLine == "" {
		p.Templates.HistoryLine = DefaultHistoryLine
	}
	if p.Templates.BotPrompt == "" {
		p.Templates.BotPrompt = DefaultBotPrompt
	}
	if len(p.Wakewords) == 0 {
		p.Wakewords = []string{p.Name}
	}
}

// Default returns a persona with only a name.
func Default(name string) Persona {
	p := Persona{Name: name}
	p.applyDefaults()
	return p
}
