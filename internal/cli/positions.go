package cli

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"

	core "github.com/mrz1836/harvest/internal/earning"
	"github.com/mrz1836/harvest/internal/output"
	"github.com/mrz1836/harvest/internal/subscription"
)

// defaultSettle is how long a one-shot read waits for further pushes after
// the last one.
const defaultSettle = 750 * time.Millisecond

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	positionsTimeout time.Duration
	positionsSettle  time.Duration
	positionsAll     bool
)

// positionsCmd shows the stake of addresses across every pool.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var positionsCmd = &cobra.Command{
	Use:   "positions <address>...",
	Short: "Show staking positions of one or more addresses",
	Long: `Show the active stake, unstaking balance and status of every pool the
addresses take part in. Substrate and EVM addresses may be mixed; each pool
only reads the addresses of its chain's account kind.`,
	Example: `  harvest positions 15oF4uVJwmo4TdGW7VfQxNLavjCXviqxT9S1MgbjMNHr6Sp5
  harvest positions 15oF... 0x5aE4... --all -o json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPositions,
}

// rewardsCmd shows unclaimed rewards.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var rewardsCmd = &cobra.Command{
	Use:   "rewards <address>...",
	Short: "Show unclaimed rewards of one or more addresses",
	Long: `Show the unclaimed rewards of every pool that pays rewards on claim.`,
	Example: `  harvest rewards 15oF4uVJwmo4TdGW7VfQxNLavjCXviqxT9S1MgbjMNHr6Sp5`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRewards,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	for _, c := range []*cobra.Command{positionsCmd, rewardsCmd} {
		c.Flags().DurationVar(&positionsTimeout, "timeout", defaultReadTimeout, "maximum time to wait for chain reads")
		c.Flags().DurationVar(&positionsSettle, "settle", defaultSettle, "stop after no update arrives for this long")
		c.GroupID = groupEarning
		rootCmd.AddCommand(c)
	}
	positionsCmd.Flags().BoolVar(&positionsAll, "all", false, "include pools without stake")
}

// collector gathers pushes keyed by slug and address. notify signals every
// push without blocking the handler callback.
type collector[T any] struct {
	mu     sync.Mutex
	items  map[string]T
	notify chan struct{}
}

func newCollector[T any]() *collector[T] {
	return &collector[T]{items: make(map[string]T), notify: make(chan struct{}, 1)}
}

func (c *collector[T]) put(key string, v T) {
	c.mu.Lock()
	c.items[key] = v
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *collector[T]) values() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, 0, len(c.items))
	for _, v := range c.items {
		out = append(out, v)
	}
	return out
}

// settle blocks until ctx ends or no notification arrives within quiet. It
// waits for the first push for as long as ctx allows.
func settle(ctx context.Context, notify <-chan struct{}, quiet time.Duration) {
	select {
	case <-ctx.Done():
		return
	case <-notify:
	}

	timer := time.NewTimer(quiet)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case <-notify:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(quiet)
		}
	}
}

func runPositions(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)
	svc, err := cc.EarningService()
	if err != nil {
		return err
	}
	dir, err := cc.Directory()
	if err != nil {
		return err
	}

	ctx, cancel := readContext(cmd, positionsTimeout)
	defer cancel()

	col := newCollector[*core.YieldPositionInfo]()
	unsub, err := svc.SubscribePoolPositions(ctx, args, func(p *core.YieldPositionInfo) {
		col.put(p.Slug+"/"+p.Address, p)
	})
	if err != nil {
		return err
	}
	defer unsub()
	settle(ctx, col.notify, positionsSettle)

	positions := make([]*core.YieldPositionInfo, 0)
	for _, p := range col.values() {
		if positionsAll || p.Status != core.StatusNotStaking {
			positions = append(positions, p)
		}
	}
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].Address != positions[j].Address {
			return positions[i].Address < positions[j].Address
		}
		return positions[i].Slug < positions[j].Slug
	})

	w := cmd.OutOrStdout()
	return cc.emit(w, positions, func(w io.Writer) error { return renderPositions(w, dir, positions) })
}

func runRewards(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)
	svc, err := cc.EarningService()
	if err != nil {
		return err
	}
	dir, err := cc.Directory()
	if err != nil {
		return err
	}

	ctx, cancel := readContext(cmd, positionsTimeout)
	defer cancel()

	rewards, err := collectRewards(ctx, svc.GetPoolReward, args, positionsSettle)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if cc.format() == output.FormatJSON {
		return output.WriteJSON(w, rewards)
	}
	tokens := make(map[string]string)
	for _, p := range svc.Pools() {
		tokens[p.Slug] = p.Metadata.InputAsset
	}
	return renderRewards(w, tokens, dir, rewards)
}

// rewardReader matches Service.GetPoolReward.
type rewardReader func(ctx context.Context, addresses []string, cb func(core.EarningRewardItem)) (subscription.Unsubscribe, error)

func collectRewards(ctx context.Context, read rewardReader, addresses []string, quiet time.Duration) ([]core.EarningRewardItem, error) {
	col := newCollector[core.EarningRewardItem]()
	unsub, err := read(ctx, addresses, func(r core.EarningRewardItem) {
		col.put(r.Slug+"/"+r.Address, r)
	})
	if err != nil {
		return nil, err
	}
	defer unsub()
	settle(ctx, col.notify, quiet)

	rewards := col.values()
	sort.Slice(rewards, func(i, j int) bool {
		if rewards[i].Address != rewards[j].Address {
			return rewards[i].Address < rewards[j].Address
		}
		return rewards[i].Slug < rewards[j].Slug
	})
	return rewards, nil
}
