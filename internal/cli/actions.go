package cli

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/harvest/internal/chain"
	core "github.com/mrz1836/harvest/internal/earning"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

// rewardReadTimeout bounds the reward lookup before a claim.
const rewardReadTimeout = 3 * time.Second

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	actionAddress string
	leaveAmount   string
	leaveTarget   string
	leaveFast     bool
	unstakeIndex  int
	claimBond     bool
)

// leaveCmd builds an unstake transaction.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var leaveCmd = &cobra.Command{
	Use:   "leave <pool-slug>",
	Short: "Build the unsigned unstake transaction",
	Long: `Validate and build the transaction that unstakes an amount from a pool.
Pools that nominate several targets need --target. Liquid staking pools
accept --fast to swap out instead of waiting for the unbonding period.`,
	Example: `  harvest leave DOT___native_staking___polkadot --address 15oF... --amount 5
  harvest leave GLMR___native_staking___moonbeam --address 0x5aE4... --amount 5 --target 0x1a2b...`,
	Args: cobra.ExactArgs(1),
	RunE: runLeave,
}

// withdrawCmd builds a withdraw transaction.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var withdrawCmd = &cobra.Command{
	Use:   "withdraw <pool-slug>",
	Short: "Build the transaction that withdraws unlocked stake",
	Long: `Build the transaction that withdraws the first claimable unstaking chunk
of the address.`,
	Example: `  harvest withdraw DOT___native_staking___polkadot --address 15oF...`,
	Args: cobra.ExactArgs(1),
	RunE: runWithdraw,
}

// cancelUnstakeCmd builds a cancel-unstake transaction.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var cancelUnstakeCmd = &cobra.Command{
	Use:   "cancel-unstake <pool-slug>",
	Short: "Build the transaction that restakes an unlocking chunk",
	Long: `Build the transaction that cancels a pending unstake. --index selects the
chunk as listed by 'harvest positions -o json'.`,
	Example: `  harvest cancel-unstake KSM___native_staking___kusama --address H4Wb... --index 0`,
	Args: cobra.ExactArgs(1),
	RunE: runCancelUnstake,
}

// claimCmd builds a claim transaction.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var claimCmd = &cobra.Command{
	Use:   "claim <pool-slug>",
	Short: "Build the transaction that claims pool rewards",
	Long: `Build the transaction that claims the unclaimed reward of the address.
--bond restakes the reward instead of paying it out.`,
	Example: `  harvest claim DOT___nomination_pool___polkadot --address 15oF... --bond`,
	Args: cobra.ExactArgs(1),
	RunE: runClaim,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	for _, c := range []*cobra.Command{leaveCmd, withdrawCmd, cancelUnstakeCmd, claimCmd} {
		c.Flags().StringVar(&actionAddress, "address", "", "address that owns the position (required)")
		_ = c.MarkFlagRequired("address")
		c.GroupID = groupEarning
		rootCmd.AddCommand(c)
	}
	leaveCmd.Flags().StringVar(&leaveAmount, "amount", "", "amount of the pool's input token (required)")
	leaveCmd.Flags().StringVar(&leaveTarget, "target", "", "target to unstake from")
	leaveCmd.Flags().BoolVar(&leaveFast, "fast", false, "leave through the fast path when the pool has one")
	_ = leaveCmd.MarkFlagRequired("amount")
	cancelUnstakeCmd.Flags().IntVar(&unstakeIndex, "index", 0, "unstaking chunk to cancel")
	claimCmd.Flags().BoolVar(&claimBond, "bond", false, "restake the reward")
}

func runLeave(cmd *cobra.Command, args []string) error {
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
	amount, err := parseAssetAmount(dir, token, leaveAmount)
	if err != nil {
		return err
	}

	ctx, cancel := readContext(cmd, defaultReadTimeout)
	defer cancel()

	req := &core.LeaveRequest{
		Address:        actionAddress,
		Slug:           args[0],
		Amount:         amount,
		SelectedTarget: leaveTarget,
		FastLeave:      leaveFast,
	}
	if err := reportErrors(cmd, cc, svc.ValidateYieldLeave(ctx, req)); err != nil {
		return err
	}
	payload, err := svc.HandleYieldLeave(ctx, req)
	if err != nil {
		return err
	}
	return writePayload(cmd, cc, payload)
}

func runWithdraw(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)
	svc, err := cc.EarningService()
	if err != nil {
		return err
	}
	ctx, cancel := readContext(cmd, defaultReadTimeout)
	defer cancel()

	pos, err := svc.Position(ctx, args[0], actionAddress)
	if err != nil {
		return err
	}
	chunk, ok := firstClaimable(pos.Unstakings)
	if !ok {
		return harvesterr.WithSuggestion(
			harvesterr.Wrap(harvesterr.ErrInvalidInput, "no claimable unstaking for %s", actionAddress),
			"wait for the unbonding period to end; 'harvest positions' shows pending chunks")
	}

	payload, err := svc.HandleYieldWithdraw(ctx, &core.WithdrawRequest{
		Address:   actionAddress,
		Slug:      args[0],
		Unstaking: chunk,
	})
	if err != nil {
		return err
	}
	return writePayload(cmd, cc, payload)
}

func firstClaimable(chunks []core.UnstakingInfo) (core.UnstakingInfo, bool) {
	for _, u := range chunks {
		if u.Status == core.UnstakingClaimable {
			return u, true
		}
	}
	return core.UnstakingInfo{}, false
}

func runCancelUnstake(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)
	svc, err := cc.EarningService()
	if err != nil {
		return err
	}
	ctx, cancel := readContext(cmd, defaultReadTimeout)
	defer cancel()

	pos, err := svc.Position(ctx, args[0], actionAddress)
	if err != nil {
		return err
	}
	if unstakeIndex < 0 || unstakeIndex >= len(pos.Unstakings) {
		return harvesterr.WithDetails(
			harvesterr.Wrap(harvesterr.ErrInvalidInput, "no unstaking chunk at index %d", unstakeIndex),
			map[string]string{"chunks": strconv.Itoa(len(pos.Unstakings))})
	}

	payload, err := svc.HandleYieldCancelUnstake(ctx, &core.CancelUnstakeRequest{
		Address:  actionAddress,
		Slug:     args[0],
		Selected: pos.Unstakings[unstakeIndex],
	})
	if err != nil {
		return err
	}
	return writePayload(cmd, cc, payload)
}

func runClaim(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)
	svc, err := cc.EarningService()
	if err != nil {
		return err
	}
	ctx, cancel := readContext(cmd, defaultReadTimeout)
	defer cancel()

	// Pools only push non-zero rewards, so the read gets its own budget.
	readCtx, readCancel := readContext(cmd, rewardReadTimeout)
	rewards, err := collectRewards(readCtx, svc.GetPoolReward, []string{actionAddress}, defaultSettle)
	readCancel()
	if err != nil {
		return err
	}
	var unclaimed chain.Balance
	for _, r := range rewards {
		if r.Slug == args[0] && r.Address == actionAddress {
			unclaimed = r.UnclaimedReward
		}
	}

	payload, err := svc.HandleYieldClaimReward(ctx, &core.ClaimRequest{
		Address:         actionAddress,
		Slug:            args[0],
		UnclaimedReward: unclaimed,
		BondReward:      claimBond,
	})
	if err != nil {
		return err
	}
	return writePayload(cmd, cc, payload)
}
