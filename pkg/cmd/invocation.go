// Package cmd is a transport-agnostic command core: a command has a name, a
// description and Run(ctx, invocation). Adapters decide how commands are
// registered with a platform and what payload an invocation carries.
package cmd

import "context"

// Invocation carries named options and an opaque payload set by the adapter,
// e.g. the Discord interaction that triggered the command.
type Invocation struct {
	Options map[string]string
	Data    any
}

// Option returns a named option, or "" when absent.
func (inv *Invocation) Option(name string) string {
	if inv == nil {
		return ""
	}
	return inv.Options[name]
}

// Command is identity plus execution.
type Command interface {
	Name() string
	Description() string
	Run(ctx context.Context, inv *Invocation) error
}
