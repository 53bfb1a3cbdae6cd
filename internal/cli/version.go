package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/harvest/internal/output"
	versionpkg "github.com/mrz1836/harvest/internal/version"
)

// versionCheckTimeout bounds the release lookup.
const versionCheckTimeout = 15 * time.Second

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	versionCheck bool

	// releaseClient is replaced in tests.
	releaseClient = versionpkg.NewClient()
)

// versionCmd prints the build stamp.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the harvest version",
	Long: `Print the version, commit and build date of this binary. --check compares
it against the latest GitHub release.`,
	Example: `  harvest version
  harvest version --check`,
	Args: cobra.NoArgs,
	RunE: runVersion,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "check GitHub for a newer release")
	versionCmd.GroupID = groupConfig
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, _ []string) error {
	cc := GetCmdContext(cmd)
	w := cmd.OutOrStdout()

	if !versionCheck {
		if cc.format() == output.FormatJSON {
			return output.WriteJSON(w, map[string]string{
				"version": versionpkg.Current(),
				"commit":  versionpkg.Commit,
				"date":    versionpkg.Date,
			})
		}
		outln(w, "harvest "+versionpkg.String())
		return nil
	}

	ctx, cancel := readContext(cmd, versionCheckTimeout)
	defer cancel()

	info, err := releaseClient.Check(ctx, versionpkg.Current())
	if err != nil {
		return fmt.Errorf("failed to check for updates: %w", err)
	}

	if cc.format() == output.FormatJSON {
		return output.WriteJSON(w, info)
	}
	out(w, "Current version: %s\n", info.Current)
	out(w, "Latest version:  %s\n", info.Latest)
	if info.IsNewer {
		out(w, "A newer version is available: %s -> %s\n", info.Current, info.Latest)
		return nil
	}
	outln(w, "You are on the latest version")
	return nil
}
