package discord

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/keshon/chatmind/pkg/cmd"
)

const commandCreateInterval = 25 * time.Millisecond

// registerCommands syncs the guild's slash commands with the registry:
// obsolete commands are deleted, changed ones are created again.
func (b *Bot) registerCommands(appID, guildID string) error {
	remote, err := b.api.ApplicationCommands(appID, guildID)
	if err != nil {
		return err
	}
	local := b.definitions()
	wanted := make(map[string]string, len(local))
	for _, d := range local {
		wanted[d.Name] = hashCommand(d)
	}
	cached := b.loadCommandHashes(guildID)
	log := b.log.With(zap.String("guild", guildID))

	present := make(map[string]bool, len(remote))
	for _, rc := range remote {
		if _, ok := wanted[rc.Name]; ok {
			present[rc.Name] = true
			continue
		}
		log.Info("deleting obsolete command", zap.String("command", rc.Name))
		if err := b.api.ApplicationCommandDelete(appID, guildID, rc.ID); err != nil {
			log.Error("failed to delete command", zap.String("command", rc.Name), zap.Error(err))
		}
		delete(cached, rc.Name)
	}

	limiter := rate.NewLimiter(rate.Every(commandCreateInterval), 1)
	for _, d := range local {
		if present[d.Name] && cached[d.Name] == wanted[d.Name] {
			continue
		}
		if err := limiter.Wait(b.base); err != nil {
			return err
		}
		if _, err := b.api.ApplicationCommandCreate(appID, guildID, d); err != nil {
			log.Error("failed to register command", zap.String("command", d.Name), zap.Error(err))
			continue
		}
		cached[d.Name] = wanted[d.Name]
		log.Info("registered command", zap.String("command", d.Name))
	}
	b.saveCommandHashes(guildID, cached)
	return nil
}

func (b *Bot) definitions() []*discordgo.ApplicationCommand {
	var defs []*discordgo.ApplicationCommand
	for _, c := range b.commands.GetAll() {
		if sp, ok := cmd.Root(c).(SlashProvider); ok {
			if def := sp.SlashDefinition(); def != nil {
				defs = append(defs, def)
			}
		}
	}
	return defs
}

func (b *Bot) commandCachePath(guildID string) string {
	if b.opts.CommandCache == "" {
		return ""
	}
	return filepath.Join(b.opts.CommandCache, guildID+".json")
}

func (b *Bot) loadCommandHashes(guildID string) map[string]string {
	hashes := make(map[string]string)
	path := b.commandCachePath(guildID)
	if path == "" {
		return hashes
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &hashes)
	}
	return hashes
}

func (b *Bot) saveCommandHashes(guildID string, hashes map[string]string) {
	path := b.commandCachePath(guildID)
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		b.log.Warn("failed to create command cache", zap.Error(err))
		return
	}
	data, _ := json.MarshalIndent(hashes, "", "  ")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		b.log.Warn("failed to save command cache", zap.Error(err))
	}
}
