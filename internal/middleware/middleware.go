// Package middleware holds command wrappers shared by every adapter.
package middleware

// Source is implemented by invocation payloads that come from a chat
// platform, such as a Discord slash interaction.
type Source interface {
	GuildID() string
	ChannelID() string
	UserID() string
	UserName() string
	Reply(content string) error
}
