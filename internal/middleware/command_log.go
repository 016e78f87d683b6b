package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/keshon/chatmind/pkg/cmd"
)

// WithCommandLogger logs every execution with its caller and outcome.
func WithCommandLogger(log *zap.Logger) cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			start := time.Now()
			err := c.Run(ctx, inv)

			fields := []zap.Field{
				zap.String("command", c.Name()),
				zap.Duration("took", time.Since(start)),
			}
			if src, ok := inv.Data.(Source); ok {
				fields = append(fields,
					zap.String("guild", src.GuildID()),
					zap.String("channel", src.ChannelID()),
					zap.String("user", src.UserName()),
					zap.String("user_id", src.UserID()),
				)
			}
			if err != nil {
				log.Warn("command failed", append(fields, zap.Error(err))...)
			} else {
				log.Info("command run", fields...)
			}
			return err
		})
	}
}
