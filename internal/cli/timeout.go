package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

// baseContext is the command's context, or Background before Execute set one.
func baseContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// readContext bounds the chain and provider reads of one command. A positive
// --read-timeout replaces the command's default d.
func readContext(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	if readTimeout > 0 {
		d = readTimeout
	}
	return context.WithTimeout(baseContext(cmd), d)
}
