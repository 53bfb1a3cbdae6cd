package cli

import (
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrz1836/harvest/internal/config"
)

// completionCmd generates shell completion scripts.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion scripts for harvest.

Scripts complete command names, chain slugs for --chain and configuration
paths for config get and config set.

To load completions:

Bash:
  $ source <(harvest completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ harvest completion bash > /etc/bash_completion.d/harvest
  # macOS:
  $ harvest completion bash > $(brew --prefix)/etc/bash_completion.d/harvest

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. You can execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ harvest completion zsh > "${fpath[1]}/_harvest"

  # You will need to start a new shell for this setup to take effect.

Fish:
  $ harvest completion fish | source

  # To load completions for each session, execute once:
  $ harvest completion fish > ~/.config/fish/completions/harvest.fish

PowerShell:
  PS> harvest completion powershell | Out-String | Invoke-Expression

  # To load completions for every new session, run:
  PS> harvest completion powershell > harvest.ps1
  # and source this file from your PowerShell profile.
`,
	Example: `  harvest completion bash > /etc/bash_completion.d/harvest
  harvest completion zsh > "${fpath[1]}/_harvest"`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(cmd.OutOrStdout())
		case "zsh":
			return cmd.Root().GenZshCompletion(cmd.OutOrStdout())
		case "fish":
			return cmd.Root().GenFishCompletion(cmd.OutOrStdout(), true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(cmd.OutOrStdout())
		}
		return nil
	},
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	completionCmd.GroupID = groupConfig
	rootCmd.AddCommand(completionCmd)
}

// completionConfig is the loaded configuration, or the defaults when
// completion runs before PersistentPreRunE.
func completionConfig() *config.Config {
	if cfg != nil {
		return cfg
	}
	return config.Defaults()
}

// completeChainSlugs offers the configured chain slugs with their names.
func completeChainSlugs(_ *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var out []string
	for _, ch := range completionConfig().Chains {
		if strings.HasPrefix(string(ch.Slug), toComplete) {
			out = append(out, string(ch.Slug)+"\t"+ch.Name)
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}

// configPaths lists every path config get accepts.
func configPaths(c *config.Config) []string {
	paths := []string{"home"}
	for section, keys := range sectionValues(c) {
		for key := range keys {
			paths = append(paths, section+"."+key)
		}
	}
	for _, ch := range c.Chains {
		for _, key := range chainKeys {
			paths = append(paths, "chains."+string(ch.Slug)+"."+key)
		}
	}
	sort.Strings(paths)
	return paths
}

// completeConfigPath completes the first argument of config get and set.
func completeConfigPath(_ *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var out []string
	for _, p := range configPaths(completionConfig()) {
		if strings.HasPrefix(p, toComplete) {
			out = append(out, p)
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}
