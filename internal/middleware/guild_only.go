package middleware

import (
	"context"

	"github.com/keshon/chatmind/pkg/cmd"
)

const guildOnlyNotice = "This command only works in a server channel."

// WithGuildOnly refuses invocations from direct messages.
func WithGuildOnly() cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			if src, ok := inv.Data.(Source); ok && src.GuildID() == "" {
				return src.Reply(guildOnlyNotice)
			}
			return c.Run(ctx, inv)
		})
	}
}
