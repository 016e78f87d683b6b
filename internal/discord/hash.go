package discord

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/bwmarrin/discordgo"
)

type hashedOption struct {
	Name        string                                 `json:"name"`
	Description string                                 `json:"description"`
	Type        discordgo.ApplicationCommandOptionType `json:"type"`
	Required    bool                                   `json:"required"`
	Choices     []hashedChoice                         `json:"choices,omitempty"`
	Options     []hashedOption                         `json:"options,omitempty"`
}

type hashedChoice struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// hashCommand is a deterministic hash of the parts of a definition that
// Discord stores; IDs and versions are ignored.
func hashCommand(c *discordgo.ApplicationCommand) string {
	data, _ := json.Marshal(struct {
		Name        string                           `json:"name"`
		Description string                           `json:"description"`
		Type        discordgo.ApplicationCommandType `json:"type"`
		Options     []hashedOption                   `json:"options,omitempty"`
	}{c.Name, c.Description, c.Type, normalizeOptions(c.Options)})
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

func normalizeOptions(opts []*discordgo.ApplicationCommandOption) []hashedOption {
	if len(opts) == 0 {
		return nil
	}
	out := make([]hashedOption, len(opts))
	for i, o := range opts {
		h := hashedOption{
			Name:        o.Name,
			Description: o.Description,
			Type:        o.Type,
			Required:    o.Required,
			Options:     normalizeOptions(o.Options),
		}
		for _, c := range o.Choices {
			h.Choices = append(h.Choices, hashedChoice{Name: c.Name, Value: c.Value})
		}
		out[i] = h
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
