package dappstaking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/harvest/internal/chain"
	"github.com/mrz1836/harvest/internal/chain/memory"
	"github.com/mrz1836/harvest/internal/earning"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

const (
	dappOne = "0x00000000000000000000000000000000000000a1"
	dappTwo = "ZdappTwoWasmContract"
	nowMs   = int64(1_700_000_000_000)
)

var astar = chain.Info{
	Slug:      chain.Astar,
	Name:      "Astar",
	Symbol:    "ASTR",
	Decimals:  18,
	BlockTime: 12 * time.Second,
}

type stubDapps struct {
	list []earning.DappInfo
}

func (m *stubDapps) Dapps(context.Context, chain.ID) ([]earning.DappInfo, error) {
	return m.list, nil
}

func (m *stubDapps) Identities(context.Context, chain.ID, []string) (map[string]earning.Identity, error) {
	return nil, nil
}

func (m *stubDapps) YieldAPY(context.Context, string) (float64, bool, error) {
	return 0, false, nil
}

func bal(v int64) chain.Balance { return chain.NewBalance(v) }

// span builds a reward span for eras first..last. Eras missing from rewards
// carry a zero pool.
func span(first, last uint32, rewards map[uint32][2]int64) eraRewardSpan {
	s := eraRewardSpan{FirstEra: first, LastEra: last}
	for era := first; era <= last; era++ {
		r := eraReward{StakerRewardPool: bal(0), Staked: bal(1)}
		if v, ok := rewards[era]; ok {
			r = eraReward{StakerRewardPool: bal(v[0]), Staked: bal(v[1])}
		}
		s.Span = append(s.Span, r)
	}
	return s
}

func setState(c *memory.Chain, era, period, next uint32, subperiod string) {
	c.MustSet(section, "activeProtocolState", protocolState{
		Era:        era,
		PeriodInfo: periodInfo{Number: period, Subperiod: subperiod, NextSubperiodStartEra: next},
	})
}

func fixture() *memory.Chain {
	c := memory.New()
	c.SetConst(section, "minimumStakeAmount", "50")
	c.SetConst(section, "unlockingPeriod", 9)
	c.SetConst(section, "maxNumberOfStakedContracts", 16)
	c.SetConst(section, "rewardRetentionInPeriods", 2)
	c.SetConst(section, "eraRewardSpanLength", 16)

	setState(c, 20, 3, 30, subperiodBuildAndEarn)
	c.MustSet("system", "number", 1000)

	c.MustSet(section, "periodEnd", periodEndInfo{BonusRewardPool: bal(1000), TotalVpStake: bal(400), FinalEra: 9}, 2)
	c.MustSet(section, "periodEnd", periodEndInfo{BonusRewardPool: bal(9), TotalVpStake: bal(9), FinalEra: 4}, 1)
	c.MustSet(section, "eraRewards", span(0, 15, map[uint32][2]int64{6: {3000, 600}, 10: {5000, 1000}}), 0)
	c.MustSet(section, "eraRewards", span(16, 19, map[uint32][2]int64{16: {7, 3}}), 16)

	c.MustSet(section, "ledger", accountLedger{
		Locked:    bal(300),
		Unlocking: []unlockingChunk{{Amount: bal(40), UnlockBlock: 900}, {Amount: bal(10), UnlockBlock: 1100}},
		Staked:    stakeAmount{BuildAndEarn: bal(100), Era: 10, Period: 3},
	}, "alice")
	c.MustSet(section, "stakerInfo", singularStakingInfo{
		Staked: stakeAmount{BuildAndEarn: bal(100), Era: 10, Period: 3},
	}, "alice", smartContract{Evm: dappOne})
	c.MustSet(section, "stakerInfo", singularStakingInfo{
		Staked:      stakeAmount{Voting: bal(200), Era: 5, Period: 2},
		LoyalStaker: true,
	}, "alice", smartContract{Wasm: dappTwo})

	c.MustSet(section, "integratedDApps", dappEntry{Owner: "owner1", ID: 1}, smartContract{Evm: dappOne})
	c.MustSet(section, "integratedDApps", dappEntry{Owner: "owner2", ID: 2}, smartContract{Wasm: dappTwo})
	c.MustSet(section, "contractStake", contractStake{
		Staked: &stakeAmount{Voting: bal(500), BuildAndEarn: bal(700), Era: 12, Period: 3},
	}, 1)
	c.MustSet(section, "contractStake", contractStake{
		Staked:       &stakeAmount{Voting: bal(100), Era: 3, Period: 3},
		StakedFuture: &stakeAmount{Voting: bal(100), BuildAndEarn: bal(900), Era: 25, Period: 3},
	}, 2)
	return c
}

func scope(c *memory.Chain) *earning.Scope {
	return &earning.Scope{Env: &earning.Env{Chain: astar, Conn: c}, API: c}
}

func newHandler(t *testing.T, c *memory.Chain, md earning.MetadataSource) *earning.Handler {
	t.Helper()
	env := &earning.Env{
		Chain:           astar,
		Conn:            c,
		Metadata:        md,
		MetadataTimeout: 20 * time.Millisecond,
		Now:             func() time.Time { return time.UnixMilli(nowMs) },
	}
	h, err := earning.NewHandler(env, Ops())
	require.NoError(t, err)
	return h
}

func TestInfo(t *testing.T) {
	t.Parallel()

	h := newHandler(t, fixture(), nil)
	stat, err := h.Statistic(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint32(20), stat.Era)
	assert.Equal(t, uint32(3), stat.Period)
	assert.Equal(t, "50", stat.EarningThreshold.Join.String())
	assert.Equal(t, 16, stat.MaxCandidatePerFarmer)
	assert.Equal(t, 1, stat.MaxWithdrawalRequestPerFarmer)
	assert.InDelta(t, 9*24.0, stat.UnstakingPeriod, 1e-9)
	assert.False(t, stat.InVotingSubperiod)
	assert.False(t, stat.LastEraOfPeriod)
}

func TestLastEra(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		state protocolState
		want  bool
	}{
		{"last build and earn era", protocolState{Era: 29, PeriodInfo: periodInfo{Subperiod: subperiodBuildAndEarn, NextSubperiodStartEra: 30}}, true},
		{"earlier era", protocolState{Era: 28, PeriodInfo: periodInfo{Subperiod: subperiodBuildAndEarn, NextSubperiodStartEra: 30}}, false},
		{"voting", protocolState{Era: 29, PeriodInfo: periodInfo{Subperiod: subperiodVoting, NextSubperiodStartEra: 30}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.state.lastEra())
		})
	}
}

func TestStakerRewardSingleEra(t *testing.T) {
	t.Parallel()

	c := fixture()
	setState(c, 11, 3, 30, subperiodBuildAndEarn)
	c.MustSet(section, "ledger", accountLedger{
		Locked: bal(100),
		Staked: stakeAmount{BuildAndEarn: bal(100), Era: 10, Period: 3},
	}, "erin")

	s := scope(c)
	got, err := rewards(context.Background(), s, []string{"erin"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "500", got[0].UnclaimedReward.String(), "100 * 5000 / 1000")
	assert.Equal(t, 1, c.Count(memory.OpQuery, section, "eraRewards"))
}

func TestStakerRewards(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		ledger accountLedger
		want   string
		spans  int
	}{
		{
			name:   "spans of the current period truncate per era",
			ledger: accountLedger{Staked: stakeAmount{BuildAndEarn: bal(100), Era: 10, Period: 3}},
			want:   "733",
			spans:  2,
		},
		{
			name: "future stake applies from its era",
			ledger: accountLedger{
				Staked:       stakeAmount{BuildAndEarn: bal(100), Era: 10, Period: 3},
				StakedFuture: &stakeAmount{BuildAndEarn: bal(150), Era: 12, Period: 3},
			},
			want:  "850",
			spans: 2,
		},
		{
			name:   "past period ends at its final era",
			ledger: accountLedger{Staked: stakeAmount{Voting: bal(60), BuildAndEarn: bal(40), Era: 5, Period: 2}},
			want:   "500",
			spans:  1,
		},
		{
			name:   "expired period",
			ledger: accountLedger{Staked: stakeAmount{BuildAndEarn: bal(100), Era: 2, Period: 0}},
			want:   "0",
			spans:  0,
		},
		{
			name:   "nothing staked",
			ledger: accountLedger{Locked: bal(100), Staked: stakeAmount{Period: 3}},
			want:   "0",
			spans:  0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := fixture()
			s := scope(c)
			rc, err := loadRewardContext(context.Background(), s)
			require.NoError(t, err)

			got, err := rc.stakerRewards(context.Background(), s, tt.ledger)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
			assert.Equal(t, tt.spans, c.Count(memory.OpQuery, section, "eraRewards"))
		})
	}
}

func TestExpiredRewardsSkipSpans(t *testing.T) {
	t.Parallel()

	c := fixture()
	c.MustSet(section, "ledger", accountLedger{
		Locked: bal(100),
		Staked: stakeAmount{BuildAndEarn: bal(100), Era: 2, Period: 0},
	}, "bob")

	got, err := rewards(context.Background(), scope(c), []string{"bob"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].UnclaimedReward.IsZero())
	assert.Equal(t, 0, c.Count(memory.OpQuery, section, "eraRewards"))
}

func TestWindowRejectsFuturePeriod(t *testing.T) {
	t.Parallel()

	rc := &rewardContext{state: protocolState{Era: 20, PeriodInfo: periodInfo{Number: 3}}, retention: 2, spanLength: 16}
	_, err := rc.window(accountLedger{Staked: stakeAmount{BuildAndEarn: bal(1), Era: 10, Period: 4}})
	require.ErrorIs(t, err, harvesterr.ErrMalformedState)
}

func TestBonusRewards(t *testing.T) {
	t.Parallel()

	rc := &rewardContext{
		state:      protocolState{Era: 20, PeriodInfo: periodInfo{Number: 3}},
		retention:  2,
		periodEnds: map[uint32]periodEndInfo{2: {BonusRewardPool: bal(1000), TotalVpStake: bal(400)}, 1: {BonusRewardPool: bal(10), TotalVpStake: bal(0)}},
	}
	stakes := []stakerEntry{
		{info: singularStakingInfo{Staked: stakeAmount{Voting: bal(200), Period: 2}, LoyalStaker: true}},
		{info: singularStakingInfo{Staked: stakeAmount{Voting: bal(200), Period: 2}}},
		{info: singularStakingInfo{Staked: stakeAmount{Voting: bal(200), Period: 3}, LoyalStaker: true}},
		{info: singularStakingInfo{Staked: stakeAmount{Voting: bal(200), Period: 1}, LoyalStaker: true}},
		{info: singularStakingInfo{Staked: stakeAmount{BuildAndEarn: bal(200), Period: 2}, LoyalStaker: true}},
	}
	assert.Equal(t, "500", rc.bonusRewards(stakes).String())
}

func TestGetPoolReward(t *testing.T) {
	t.Parallel()

	h := newHandler(t, fixture(), nil)
	got := make(chan earning.EarningRewardItem, 2)
	unsub := h.GetPoolReward(context.Background(), []string{"alice", "nobody"}, func(item earning.EarningRewardItem) {
		got <- item
	})
	defer unsub()

	select {
	case item := <-got:
		assert.Equal(t, "alice", item.Address)
		assert.Equal(t, "1233", item.UnclaimedReward.String(), "733 staker plus 500 bonus")
	case <-time.After(time.Second):
		t.Fatal("no reward reported")
	}
	select {
	case item := <-got:
		t.Fatalf("unexpected reward for %s", item.Address)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPosition(t *testing.T) {
	t.Parallel()

	md := &stubDapps{list: []earning.DappInfo{{Address: "0x00000000000000000000000000000000000000A1", Name: "Dapp One"}}}
	h := newHandler(t, fixture(), md)

	pos, err := h.Position(context.Background(), "alice")
	require.NoError(t, err)

	assert.Equal(t, earning.StatusEarningReward, pos.Status)
	assert.Equal(t, "100", pos.ActiveStake.String(), "only stake from the current period")
	assert.Equal(t, "200", pos.ActiveLock.String())
	assert.Equal(t, "50", pos.UnstakeBalance.String())
	assert.Equal(t, "150", pos.TotalStake.String())
	assert.True(t, pos.IsBondedBefore)

	require.Len(t, pos.Nominations, 2)
	byAddr := map[string]earning.NominationInfo{}
	for _, n := range pos.Nominations {
		byAddr[n.ValidatorAddress] = n
	}
	assert.Equal(t, earning.StatusEarningReward, byAddr[dappOne].Status)
	assert.Equal(t, "Dapp One", byAddr[dappOne].ValidatorIdentity)
	assert.Equal(t, earning.StatusNotEarning, byAddr[dappTwo].Status, "stake from a past period")

	require.Len(t, pos.Unstakings, 2)
	assert.Equal(t, earning.UnstakingClaimable, pos.Unstakings[0].Status)
	assert.Nil(t, pos.Unstakings[0].TargetTimestampMs)
	assert.Equal(t, earning.UnstakingUnlocking, pos.Unstakings[1].Status)
	assert.Equal(t, nowMs+100*12_000, *pos.Unstakings[1].TargetTimestampMs)
	assert.InDelta(t, 1200.0/3600, *pos.Unstakings[1].WaitingTime, 1e-9)
}

func TestPositionVoting(t *testing.T) {
	t.Parallel()

	c := fixture()
	setState(c, 20, 3, 21, subperiodVoting)
	h := newHandler(t, c, nil)

	pos, err := h.Position(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, earning.StatusVoting, pos.Status)
}

func TestPositionNotStaking(t *testing.T) {
	t.Parallel()

	h := newHandler(t, fixture(), nil)
	pos, err := h.Position(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, earning.StatusNotStaking, pos.Status)
	assert.True(t, pos.TotalStake.IsZero())
}

func TestPositionIdleLock(t *testing.T) {
	t.Parallel()

	c := fixture()
	c.MustSet(section, "ledger", accountLedger{Locked: bal(1000)}, "dave")
	h := newHandler(t, c, nil)

	pos, err := h.Position(context.Background(), "dave")
	require.NoError(t, err)
	assert.True(t, pos.ActiveStake.IsZero())
	assert.Equal(t, "1000", pos.ActiveLock.String())
	assert.Equal(t, earning.StatusNotEarning, pos.Status)
	assert.False(t, pos.IsStaking())

	errs := h.ValidateYieldJoin(context.Background(), &earning.JoinRequest{
		Address:  "dave",
		Amount:   bal(1),
		Selected: []earning.ValidatorInfo{{Address: dappOne}},
	})
	assert.True(t, errs.Has(harvesterr.CodeNotEnoughMinStake), "an idle lock does not count toward the minimum")
}

func TestValidateLeave(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		target  string
		amount  int64
		wantBad bool
	}{
		{name: "whole stake", target: dappOne, amount: 100},
		{name: "upper-case target", target: "0x00000000000000000000000000000000000000A1", amount: 100},
		{name: "more than staked", target: dappOne, amount: 250, wantBad: true},
		{name: "stake from a past period", target: dappTwo, amount: 50, wantBad: true},
		{name: "unknown dApp", target: "ZnoSuchDapp", amount: 50, wantBad: true},
		{name: "no target", amount: 50, wantBad: true},
	}

	h := newHandler(t, fixture(), nil)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			errs := h.ValidateYieldLeave(context.Background(), &earning.LeaveRequest{
				Address:        "alice",
				Amount:         bal(tc.amount),
				SelectedTarget: tc.target,
			})
			assert.Equal(t, tc.wantBad, errs.Has(harvesterr.CodeInvalidParams), "errors: %v", errs.Codes())
		})
	}
}

func TestValidateJoinLastEra(t *testing.T) {
	t.Parallel()

	c := fixture()
	setState(c, 29, 3, 30, subperiodBuildAndEarn)
	h := newHandler(t, c, nil)

	errs := h.ValidateYieldJoin(context.Background(), &earning.JoinRequest{
		Address:  "alice",
		Amount:   bal(100),
		Selected: []earning.ValidatorInfo{{Address: dappOne}},
	})
	assert.True(t, errs.Has(harvesterr.CodeCanNotJoinLastEra))

	setState(c, 28, 3, 30, subperiodBuildAndEarn)
	errs = h.ValidateYieldJoin(context.Background(), &earning.JoinRequest{
		Address:  "alice",
		Amount:   bal(100),
		Selected: []earning.ValidatorInfo{{Address: dappOne}},
	})
	assert.False(t, errs.Has(harvesterr.CodeCanNotJoinLastEra))
}

func callNames(ext *chain.Extrinsic) []string {
	var out []string
	for _, c := range ext.Calls() {
		out = append(out, c.Name())
	}
	return out
}

func TestCreateJoinExtrinsic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		address string
		amount  int64
		calls   []string
		lock    string
	}{
		{"free lock covers amount", "alice", 150, []string{"dappStaking.stake"}, ""},
		{"lock the missing part", "alice", 250, []string{"dappStaking.lock", "dappStaking.stake"}, "50"},
		{"first stake locks everything", "bob", 80, []string{"dappStaking.lock", "dappStaking.stake"}, "80"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHandler(t, fixture(), nil)
			payload, err := h.CreateJoinExtrinsic(context.Background(), &earning.JoinRequest{
				Address:  tt.address,
				Amount:   bal(tt.amount),
				Selected: []earning.ValidatorInfo{{Address: dappOne}},
			}, nil)
			require.NoError(t, err)
			assert.Equal(t, earning.ExtrinsicBond, payload.Type)
			assert.Equal(t, tt.calls, callNames(payload.Extrinsic))

			calls := payload.Extrinsic.Calls()
			if tt.lock != "" {
				assert.Equal(t, "utility.batchAll", payload.Extrinsic.Name())
				assert.Equal(t, tt.lock, calls[0].Args[0].(chain.Balance).String())
			}
			stake := calls[len(calls)-1]
			assert.Equal(t, smartContract{Evm: dappOne}, stake.Args[0])
		})
	}
}

func TestCreateJoinNeedsDapp(t *testing.T) {
	t.Parallel()

	h := newHandler(t, fixture(), nil)
	_, err := h.CreateJoinExtrinsic(context.Background(), &earning.JoinRequest{Address: "alice", Amount: bal(10)}, nil)
	assert.Equal(t, harvesterr.CodeInvalidParams, harvesterr.Code(err))
}

func TestLeaveActions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHandler(t, fixture(), nil)

	payload, err := h.HandleYieldUnstake(ctx, &earning.LeaveRequest{Address: "alice", Amount: bal(40), SelectedTarget: dappTwo})
	require.NoError(t, err)
	assert.Equal(t, earning.ExtrinsicLeavePool, payload.Type)
	assert.Equal(t, []string{"dappStaking.unstake", "dappStaking.unlock"}, callNames(payload.Extrinsic))
	assert.Equal(t, smartContract{Wasm: dappTwo}, payload.Extrinsic.Calls()[0].Args[0])

	_, err = h.HandleYieldUnstake(ctx, &earning.LeaveRequest{Address: "alice", Amount: bal(40)})
	assert.Equal(t, harvesterr.CodeInvalidParams, harvesterr.Code(err))

	payload, err = h.HandleYieldWithdraw(ctx, &earning.WithdrawRequest{Address: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "dappStaking.claimUnlocked()", payload.Extrinsic.String())

	payload, err = h.HandleYieldCancelUnstake(ctx, &earning.CancelUnstakeRequest{Address: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "dappStaking.relockUnlocking()", payload.Extrinsic.String())
}

func TestClaimReward(t *testing.T) {
	t.Parallel()

	h := newHandler(t, fixture(), nil)
	payload, err := h.HandleYieldClaimReward(context.Background(), &earning.ClaimRequest{Address: "alice"})
	require.NoError(t, err)

	assert.Equal(t, "utility.batch", payload.Extrinsic.Name())
	assert.Equal(t, []string{
		"dappStaking.claimStakerRewards",
		"dappStaking.claimStakerRewards",
		"dappStaking.claimBonusReward",
	}, callNames(payload.Extrinsic))
}

func TestClaimRewardNothing(t *testing.T) {
	t.Parallel()

	h := newHandler(t, fixture(), nil)
	_, err := h.HandleYieldClaimReward(context.Background(), &earning.ClaimRequest{Address: "bob"})
	assert.Equal(t, harvesterr.CodeInvalidParams, harvesterr.Code(err))
}

func TestTargets(t *testing.T) {
	t.Parallel()

	md := &stubDapps{list: []earning.DappInfo{{Address: dappOne, Name: "Dapp One", Verified: true}}}
	h := newHandler(t, fixture(), md)

	got, err := h.GetPoolTargets(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, dappOne, got[0].Address)
	assert.Equal(t, "1200", got[0].TotalStake.String())
	assert.Equal(t, "Dapp One", got[0].Identity)
	assert.True(t, got[0].IsVerified)

	assert.Equal(t, dappTwo, got[1].Address)
	assert.True(t, got[1].TotalStake.IsZero(), "future stake not yet effective and staked is superseded")
}
