package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrz1836/harvest/internal/output"
)

// subcommandHeading introduces the generated index in a parent's Long text.
const subcommandHeading = "Subcommands:"

// walkCommands calls fn for cmd and every descendant, parents first.
func walkCommands(cmd *cobra.Command, fn func(*cobra.Command)) {
	fn(cmd)
	for _, sub := range cmd.Commands() {
		walkCommands(sub, fn)
	}
}

// indexCommandTree indexes every nested parent under root. Root help gets
// its grouped command list from cobra.
func indexCommandTree(root *cobra.Command) {
	walkCommands(root, func(cmd *cobra.Command) {
		if cmd != root {
			indexSubcommands(cmd)
		}
	})
}

// indexSubcommands appends an aligned index of the available subcommands,
// aliases included, to a parent command's Long text. Leaves and parents
// that already carry an index are left alone.
func indexSubcommands(cmd *cobra.Command) {
	if !cmd.HasAvailableSubCommands() || strings.Contains(cmd.Long, subcommandHeading) {
		return
	}
	t := output.NewTable()
	for _, sub := range cmd.Commands() {
		if !sub.IsAvailableCommand() {
			continue
		}
		name := sub.Name()
		if len(sub.Aliases) > 0 {
			name += " (" + strings.Join(sub.Aliases, ", ") + ")"
		}
		t.AddRow("  "+name, sub.Short)
	}
	cmd.Long = strings.TrimRight(cmd.Long, "\n") + "\n\n" + subcommandHeading + "\n" + t.String()
}
