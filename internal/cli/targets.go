package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/mrz1836/harvest/internal/chain"
	earningsvc "github.com/mrz1836/harvest/internal/service/earning"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

// targetsCmd lists nomination targets of a pool.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var targetsCmd = &cobra.Command{
	Use:   "targets <pool-slug>",
	Short: "List validators, collators or dapps a pool can nominate",
	Long: `List the nomination targets of a pool with commission, total stake and
nominator count. Targets are cached; a failed refresh serves the cached list.`,
	Example: `  harvest targets DOT___native_staking___polkadot
  harvest targets DOT___nomination_pool___polkadot -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runTargets,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	targetsCmd.GroupID = groupEarning
	rootCmd.AddCommand(targetsCmd)
}

func runTargets(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)
	svc, err := cc.EarningService()
	if err != nil {
		return err
	}
	dir, err := cc.Directory()
	if err != nil {
		return err
	}
	token, err := poolToken(svc, args[0])
	if err != nil {
		return err
	}

	ctx, cancel := readContext(cmd, defaultReadTimeout)
	defer cancel()

	targets, err := svc.GetPoolTargets(ctx, args[0])
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	return cc.emit(w, targets, func(w io.Writer) error { return renderTargets(w, dir, token, targets) })
}

// poolToken returns the input asset of slug. Unknown slugs get a
// suggestion from the registered pools.
func poolToken(svc *earningsvc.Service, slug string) (string, error) {
	h, err := svc.Handler(slug)
	if err == nil {
		return h.PoolInfo().Metadata.InputAsset, nil
	}
	pools := svc.Pools()
	slugs := make([]string, 0, len(pools))
	for _, p := range pools {
		slugs = append(slugs, p.Slug)
	}
	return "", harvesterr.Suggest(
		harvesterr.Wrap(harvesterr.ErrNotFound, "pool %q", slug), slug, slugs)
}

// parseAssetAmount converts a decimal amount of slug into base units.
func parseAssetAmount(assets chain.AssetSource, slug, amount string) (chain.Balance, error) {
	a, err := assets.Asset(slug)
	if err != nil {
		return chain.Balance{}, err
	}
	v, err := chain.ParseDecimalAmount(amount, a.Decimals, harvesterr.ErrInvalidAmount)
	if err != nil {
		return chain.Balance{}, err
	}
	return chain.BalanceFromBig(v), nil
}
