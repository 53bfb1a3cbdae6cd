package cli

import (
	"context"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/harvest/internal/chain"
	core "github.com/mrz1836/harvest/internal/earning"
	"github.com/mrz1836/harvest/internal/output"
	"github.com/mrz1836/harvest/internal/subscription"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

const (
	// defaultReadTimeout bounds one-shot reads of subscriptions.
	defaultReadTimeout = 10 * time.Second

	// pollInterval is how often one-shot reads check for completion.
	pollInterval = 100 * time.Millisecond
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	poolsChain   string
	poolsWatch   bool
	poolsTimeout time.Duration
)

// poolsCmd lists the staking pools of every active chain.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var poolsCmd = &cobra.Command{
	Use:   "pools",
	Short: "List staking pools and their statistics",
	Long: `List the staking pools of every active chain with era, APY, minimum
join amount and TVL.

Without --watch the command waits until every pool has loaded or the
timeout passes. With --watch it prints every update until interrupted.`,
	Example: `  harvest pools
  harvest pools --chain kusama
  harvest pools --watch -o json`,
	RunE: runPools,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	poolsCmd.Flags().StringVar(&poolsChain, "chain", "", "only show pools of this chain")
	poolsCmd.Flags().BoolVar(&poolsWatch, "watch", false, "stream pool updates until interrupted")
	poolsCmd.Flags().DurationVar(&poolsTimeout, "timeout", defaultReadTimeout, "how long to wait for pool statistics")
	_ = poolsCmd.RegisterFlagCompletionFunc("chain", completeChainSlugs)
	poolsCmd.GroupID = groupEarning
	rootCmd.AddCommand(poolsCmd)
}

func runPools(cmd *cobra.Command, _ []string) error {
	cc := GetCmdContext(cmd)
	svc, err := cc.EarningService()
	if err != nil {
		return err
	}
	dir, err := cc.Directory()
	if err != nil {
		return err
	}
	if poolsChain != "" {
		if _, ok := dir.Info(chain.ID(poolsChain)); !ok {
			return unknownChain(dir, poolsChain)
		}
	}

	w := cmd.OutOrStdout()
	if poolsWatch {
		return watchPools(cmd, svc.SubscribePoolsInfo, dir, chain.ID(poolsChain))
	}

	ctx, cancel := readContext(cmd, poolsTimeout)
	defer cancel()

	unsub, err := svc.SubscribePoolsInfo(ctx, func(*core.YieldPoolInfo) {})
	if err != nil {
		return err
	}
	defer unsub()

	pools := waitPools(ctx, svc.Pools)
	pools = filterPools(pools, chain.ID(poolsChain))

	return cc.emit(w, pools, func(w io.Writer) error { return renderPools(w, dir, pools) })
}

// waitPools polls list until no pool is loading or ctx ends.
func waitPools(ctx context.Context, list func() []*core.YieldPoolInfo) []*core.YieldPoolInfo {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		pools := list()
		if !anyLoading(pools) {
			return pools
		}
		select {
		case <-ctx.Done():
			return list()
		case <-ticker.C:
		}
	}
}

func anyLoading(pools []*core.YieldPoolInfo) bool {
	for _, p := range pools {
		if p.IsLoading() {
			return true
		}
	}
	return false
}

func filterPools(pools []*core.YieldPoolInfo, id chain.ID) []*core.YieldPoolInfo {
	out := make([]*core.YieldPoolInfo, 0, len(pools))
	for _, p := range pools {
		if id == "" || p.Chain == id {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// poolSubscriber matches Service.SubscribePoolsInfo.
type poolSubscriber func(ctx context.Context, cb func(*core.YieldPoolInfo)) (subscription.Unsubscribe, error)

func watchPools(cmd *cobra.Command, subscribe poolSubscriber, assets chain.AssetSource, id chain.ID) error {
	cc := GetCmdContext(cmd)
	ctx := baseContext(cmd)
	stream := output.NewStream(cc.format(), cmd.OutOrStdout())

	unsub, err := subscribe(ctx, func(p *core.YieldPoolInfo) {
		if id != "" && p.Chain != id {
			return
		}
		if err := stream.Emit("pool", p.Slug, p, func() string { return poolLine(assets, p) }); err != nil {
			cc.logger().Error("write pool update: %v", err)
		}
	})
	if err != nil {
		return err
	}
	defer unsub()

	<-ctx.Done()
	cc.logger().Debug("pool watch ended after %d updates", stream.Count())
	return nil
}

// unknownChain reports a chain slug the directory does not know.
func unknownChain(dir *chain.Directory, slug string) error {
	infos := dir.ActiveChains()
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, string(info.Slug))
	}
	return harvesterr.Suggest(
		harvesterr.Wrap(harvesterr.ErrInvalidInput, "unknown chain %q", slug), slug, names)
}
