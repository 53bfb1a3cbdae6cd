package cli

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/mrz1836/harvest/internal/earning"
	"github.com/mrz1836/harvest/internal/output"
	"github.com/mrz1836/harvest/internal/subscription"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

func harvestError(t *testing.T, err error) *harvesterr.HarvestError {
	t.Helper()
	var he *harvesterr.HarvestError
	require.ErrorAs(t, err, &he)
	return he
}

func TestPoolsCommand(t *testing.T) {
	setFlag(t, &poolsTimeout, 2*time.Second)
	setFlag(t, &poolsWatch, false)

	t.Run("text", func(t *testing.T) {
		setFlag(t, &poolsChain, "")
		e := newTestEnv(t)
		require.NoError(t, runPools(e.command(output.FormatText), nil))
		assert.Contains(t, e.out.String(), testSlug)
		assert.Contains(t, e.out.String(), "SLUG")
	})

	t.Run("json", func(t *testing.T) {
		setFlag(t, &poolsChain, string(testChain))
		e := newTestEnv(t)
		require.NoError(t, runPools(e.command(output.FormatJSON), nil))

		var pools []map[string]any
		require.NoError(t, json.Unmarshal(e.out.Bytes(), &pools))
		require.Len(t, pools, 1)
		assert.Equal(t, testSlug, pools[0]["slug"])
		assert.NotNil(t, pools[0]["statistic"])
	})

	t.Run("unknown chain", func(t *testing.T) {
		setFlag(t, &poolsChain, "rely")
		e := newTestEnv(t)
		err := runPools(e.command(output.FormatText), nil)
		require.ErrorIs(t, err, harvesterr.ErrInvalidInput)
		assert.Contains(t, harvestError(t, err).Suggestion, "relay")
	})
}

func TestWatchPoolsStopsWithContext(t *testing.T) {
	e := newTestEnv(t)
	cmd := e.command(output.FormatJSON)
	ctx, cancel := context.WithCancel(cmd.Context())
	cmd.SetContext(ctx)

	subscribe := func(_ context.Context, cb func(*core.YieldPoolInfo)) (subscription.Unsubscribe, error) {
		cb(&core.YieldPoolInfo{Slug: testSlug, Chain: testChain})
		cb(&core.YieldPoolInfo{Slug: "GLMR___native_staking___moon", Chain: "moon"})
		cancel()
		return func() {}, nil
	}
	require.NoError(t, watchPools(cmd, subscribe, e.dir, testChain))
	assert.Contains(t, e.out.String(), testSlug)
	assert.NotContains(t, e.out.String(), "moon")
}

func TestPositionsCommand(t *testing.T) {
	setFlag(t, &positionsTimeout, 2*time.Second)
	setFlag(t, &positionsSettle, 50*time.Millisecond)

	tests := []struct {
		name  string
		all   bool
		count int
	}{
		{"staking only", false, 1},
		{"all", true, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setFlag(t, &positionsAll, tc.all)
			e := newTestEnv(t)
			require.NoError(t, runPositions(e.command(output.FormatJSON), []string{"B", testStaker}))

			var positions []map[string]any
			require.NoError(t, json.Unmarshal(e.out.Bytes(), &positions))
			require.Len(t, positions, tc.count)
			assert.Equal(t, testStaker, positions[0]["address"])
			assert.Equal(t, string(core.StatusEarningReward), positions[0]["status"])
		})
	}
}

func TestPositionsCommandText(t *testing.T) {
	setFlag(t, &positionsTimeout, 2*time.Second)
	setFlag(t, &positionsSettle, 50*time.Millisecond)
	setFlag(t, &positionsAll, false)

	e := newTestEnv(t)
	require.NoError(t, runPositions(e.command(output.FormatText), []string{testStaker}))
	assert.Contains(t, e.out.String(), testSlug)
	assert.Contains(t, e.out.String(), "EARNING_REWARD")
}

func TestRewardsCommand(t *testing.T) {
	setFlag(t, &positionsTimeout, 2*time.Second)
	setFlag(t, &positionsSettle, 50*time.Millisecond)

	e := newTestEnv(t)
	require.NoError(t, runRewards(e.command(output.FormatJSON), []string{testStaker}))

	var rewards []map[string]any
	require.NoError(t, json.Unmarshal(e.out.Bytes(), &rewards))
	require.Len(t, rewards, 1)
	assert.Equal(t, testSlug, rewards[0]["slug"])
	assert.Equal(t, testStaker, rewards[0]["address"])
}

func TestCollectRewardsSortsAndTimesOut(t *testing.T) {
	t.Parallel()

	read := func(_ context.Context, addrs []string, cb func(core.EarningRewardItem)) (subscription.Unsubscribe, error) {
		go func() {
			for i := len(addrs) - 1; i >= 0; i-- {
				cb(core.EarningRewardItem{Address: addrs[i], Slug: testSlug})
			}
		}()
		return func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rewards, err := collectRewards(ctx, read, []string{"A", "B", "C"}, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, rewards, 3)
	assert.Equal(t, "A", rewards[0].Address)
	assert.Equal(t, "C", rewards[2].Address)

	silent := func(context.Context, []string, func(core.EarningRewardItem)) (subscription.Unsubscribe, error) {
		return func() {}, nil
	}
	short, cancelShort := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancelShort()
	rewards, err = collectRewards(short, silent, []string{"A"}, time.Second)
	require.NoError(t, err)
	assert.Empty(t, rewards)

	failing := func(context.Context, []string, func(core.EarningRewardItem)) (subscription.Unsubscribe, error) {
		return nil, harvesterr.ErrChainNotReady
	}
	_, err = collectRewards(context.Background(), failing, []string{"A"}, time.Second)
	require.ErrorIs(t, err, harvesterr.ErrChainNotReady)
}

func TestTargetsCommand(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		e := newTestEnv(t)
		require.NoError(t, runTargets(e.command(output.FormatText), []string{testSlug}))
		assert.Contains(t, e.out.String(), "alpha")
		assert.Contains(t, e.out.String(), "verified")
	})

	t.Run("json", func(t *testing.T) {
		e := newTestEnv(t)
		require.NoError(t, runTargets(e.command(output.FormatJSON), []string{testSlug}))
		var targets []core.ValidatorInfo
		require.NoError(t, json.Unmarshal(e.out.Bytes(), &targets))
		assert.Len(t, targets, 2)
	})

	t.Run("unknown pool", func(t *testing.T) {
		e := newTestEnv(t)
		err := runTargets(e.command(output.FormatText), []string{"DOT___native_staking___rely"})
		require.ErrorIs(t, err, harvesterr.ErrNotFound)
		assert.Contains(t, harvestError(t, err).Suggestion, testSlug)
	})
}

func withJoinFlags(t *testing.T, address, amount string, targets ...string) {
	t.Helper()
	setFlag(t, &joinAddress, address)
	setFlag(t, &joinAmount, amount)
	setFlag(t, &joinTargets, targets)
	setFlag(t, &joinPoolID, "")
}

func TestJoinRequestResolvesTargets(t *testing.T) {
	withJoinFlags(t, testStaker, "1.5", "v1", "unknown")
	e := newTestEnv(t)
	cmd := e.command(output.FormatText)

	req, err := joinRequest(context.Background(), GetCmdContext(cmd), e.svc, testSlug)
	require.NoError(t, err)
	assert.Equal(t, "15000000000", req.Amount.String())
	require.Len(t, req.Selected, 2)
	assert.Equal(t, "alpha", req.Selected[0].Identity)
	assert.Equal(t, "unknown", req.Selected[1].Address)
	assert.Equal(t, testChain, req.Selected[1].Chain)
}

func TestJoinRequestRejectsBadAmount(t *testing.T) {
	withJoinFlags(t, testStaker, "1.5e3")
	e := newTestEnv(t)
	cmd := e.command(output.FormatText)

	_, err := joinRequest(context.Background(), GetCmdContext(cmd), e.svc, testSlug)
	require.ErrorIs(t, err, harvesterr.ErrInvalidAmount)
}

func TestJoinValidateCommand(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		withJoinFlags(t, testStaker, "1", "v1")
		e := newTestEnv(t)
		require.NoError(t, runJoinValidate(e.command(output.FormatJSON), []string{testSlug}))

		var res map[string]any
		require.NoError(t, json.Unmarshal(e.out.Bytes(), &res))
		assert.Equal(t, "success", res["status"])
	})

	t.Run("single failure is returned", func(t *testing.T) {
		withJoinFlags(t, testStaker, "1", "v1", "v2", "v3")
		e := newTestEnv(t)
		err := runJoinValidate(e.command(output.FormatText), []string{testSlug})
		assert.Equal(t, harvesterr.CodeExceedMaxNominations, harvesterr.Code(err))
		assert.Empty(t, e.err.String())
	})

	t.Run("several failures are reported together", func(t *testing.T) {
		withJoinFlags(t, "B", "0")
		e := newTestEnv(t)
		err := runJoinValidate(e.command(output.FormatText), []string{testSlug})
		require.Error(t, err)

		var reported reportedError
		require.ErrorAs(t, err, &reported)
		assert.Contains(t, e.err.String(), "Amount must be greater than 0")
		assert.Contains(t, e.err.String(), "Insufficient stake")
	})
}

func TestJoinPathCommand(t *testing.T) {
	withJoinFlags(t, testStaker, "1")
	e := newTestEnv(t)
	require.NoError(t, runJoinPath(e.command(output.FormatText), []string{testSlug}))
	assert.Contains(t, e.out.String(), "Nominate validators")
}

func TestJoinBuildCommand(t *testing.T) {
	withJoinFlags(t, testStaker, "1")
	e := newTestEnv(t)
	require.NoError(t, runJoinBuild(e.command(output.FormatJSON), []string{testSlug}))

	var payload struct {
		Chain     string `json:"chain"`
		Address   string `json:"address"`
		Type      string `json:"type"`
		Extrinsic struct {
			Section string `json:"section"`
			Method  string `json:"method"`
		} `json:"extrinsic"`
	}
	require.NoError(t, json.Unmarshal(e.out.Bytes(), &payload))
	assert.Equal(t, string(testChain), payload.Chain)
	assert.Equal(t, testStaker, payload.Address)
	assert.Equal(t, string(core.ExtrinsicBond), payload.Type)
	assert.Equal(t, "bond", payload.Extrinsic.Method)
}

func TestJoinBuildText(t *testing.T) {
	withJoinFlags(t, testStaker, "1")
	e := newTestEnv(t)
	require.NoError(t, runJoinBuild(e.command(output.FormatText), []string{testSlug}))
	assert.Contains(t, e.out.String(), "staking.bond(10000000000, Staked)")
	assert.Contains(t, e.out.String(), "Fee token: "+testToken)
}

func withLeaveFlags(t *testing.T, amount string) {
	t.Helper()
	setFlag(t, &actionAddress, testStaker)
	setFlag(t, &leaveAmount, amount)
	setFlag(t, &leaveTarget, "")
	setFlag(t, &leaveFast, false)
}

func TestLeaveCommand(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		withLeaveFlags(t, "5")
		e := newTestEnv(t)
		require.NoError(t, runLeave(e.command(output.FormatText), []string{testSlug}))
		assert.Contains(t, e.out.String(), "staking.unbond(50000000000)")
		assert.Contains(t, e.out.String(), string(core.ExtrinsicUnbond))
	})

	t.Run("more than staked", func(t *testing.T) {
		withLeaveFlags(t, "400")
		e := newTestEnv(t)
		err := runLeave(e.command(output.FormatText), []string{testSlug})
		assert.Equal(t, harvesterr.CodeInvalidParams, harvesterr.Code(err))
		assert.Contains(t, err.Error(), "Amount exceeds your staked balance")
	})

	t.Run("fast leave unavailable and too much", func(t *testing.T) {
		withLeaveFlags(t, "400")
		setFlag(t, &leaveFast, true)
		e := newTestEnv(t)
		err := runLeave(e.command(output.FormatText), []string{testSlug})
		var reported reportedError
		require.ErrorAs(t, err, &reported)
		assert.Contains(t, e.err.String(), "Fast unstake is not available")
	})
}

func TestWithdrawWithoutClaimableChunk(t *testing.T) {
	setFlag(t, &actionAddress, testStaker)
	e := newTestEnv(t)

	err := runWithdraw(e.command(output.FormatText), []string{testSlug})
	require.ErrorIs(t, err, harvesterr.ErrInvalidInput)
	assert.Contains(t, harvestError(t, err).Suggestion, "harvest positions")
}

func TestCancelUnstakeIndexOutOfRange(t *testing.T) {
	setFlag(t, &actionAddress, testStaker)
	setFlag(t, &unstakeIndex, 0)
	e := newTestEnv(t)

	err := runCancelUnstake(e.command(output.FormatText), []string{testSlug})
	require.ErrorIs(t, err, harvesterr.ErrInvalidInput)
	assert.Equal(t, "0", harvestError(t, err).Details["chunks"])
}

func TestClaimCommand(t *testing.T) {
	setFlag(t, &actionAddress, testStaker)
	setFlag(t, &claimBond, true)
	e := newTestEnv(t)

	require.NoError(t, runClaim(e.command(output.FormatText), []string{testSlug}))
	assert.Contains(t, e.out.String(), "staking.claim(25, true)")
	assert.Contains(t, e.out.String(), string(core.ExtrinsicClaimReward))
}

func TestFirstClaimable(t *testing.T) {
	t.Parallel()

	chunks := []core.UnstakingInfo{
		{Status: core.UnstakingUnlocking},
		{Status: core.UnstakingClaimable, WaitingTime: core.Float(0)},
	}
	got, ok := firstClaimable(chunks)
	require.True(t, ok)
	assert.Equal(t, core.UnstakingClaimable, got.Status)

	_, ok = firstClaimable(chunks[:1])
	assert.False(t, ok)
}

func TestReportErrors(t *testing.T) {
	e := newTestEnv(t)
	cmd := e.command(output.FormatText)
	cc := GetCmdContext(cmd)

	require.NoError(t, reportErrors(cmd, cc, nil))

	one := harvesterr.Tx(harvesterr.CodeInvalidParams, "first")
	err := reportErrors(cmd, cc, harvesterr.ErrorList{one})
	assert.Same(t, one, err)
	assert.Empty(t, e.err.String())

	two := harvesterr.Tx(harvesterr.CodeInvalidParams, "second")
	err = reportErrors(cmd, cc, harvesterr.ErrorList{one, two})
	var reported reportedError
	require.ErrorAs(t, err, &reported)
	assert.True(t, errors.Is(err, one))
	assert.Contains(t, e.err.String(), "first")
	assert.Contains(t, e.err.String(), "second")
}
