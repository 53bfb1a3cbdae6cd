package earning_test

import (
	"context"
	"sync"
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
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

var testChain = chain.Info{Slug: "testnet", Name: "Testnet", Symbol: "TST", Decimals: 10, SS58Prefix: 42}

type testLedger struct {
	Active    chain.Balance `json:"active"`
	Unlocking chain.Balance `json:"unlocking"`
}

// recorder collects callback values from handler goroutines.
type recorder[T any] struct {
	mu    sync.Mutex
	items []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, v)
}

func (r *recorder[T]) snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.items...)
}

func (r *recorder[T]) len() int {
	return len(r.snapshot())
}

func testOps() earning.Ops {
	return earning.Ops{
		Kind:        earning.KindRelayChain,
		Type:        earning.NativeStaking,
		InfoTrigger: earning.StorageRef{Section: "staking", Storage: "currentEra"},
		Info: func(ctx context.Context, s *earning.Scope) (*earning.Statistic, error) {
			era, err := s.API.Query(ctx, "staking", "currentEra")
			if err != nil {
				return nil, err
			}
			var n uint32
			if err := era.Decode(&n); err != nil {
				return nil, err
			}
			return &earning.Statistic{
				Era:                           n,
				EarningThreshold:              earning.EarningThreshold{Join: chain.NewBalance(100)},
				MaxCandidatePerFarmer:         2,
				MaxWithdrawalRequestPerFarmer: 2,
			}, nil
		},
		PositionStorage: earning.StorageRef{Section: "staking", Storage: "ledger"},
		Positions: func(_ context.Context, _ *earning.Scope, addresses []string, values []chain.Codec) ([]*earning.YieldPositionInfo, error) {
			out := make([]*earning.YieldPositionInfo, len(addresses))
			for i, v := range values {
				if v.IsEmpty() {
					continue
				}
				var l testLedger
				if err := v.Decode(&l); err != nil {
					return nil, err
				}
				out[i] = earning.NewPosition(earning.StatusEarningReward, l.Active, l.Unlocking)
				out[i].IsBondedBefore = true
			}
			return out, nil
		},
		Rewards: func(_ context.Context, _ *earning.Scope, addresses []string) ([]earning.EarningRewardItem, error) {
			out := make([]earning.EarningRewardItem, 0, len(addresses))
			for i, addr := range addresses {
				out = append(out, earning.EarningRewardItem{Address: addr, UnclaimedReward: chain.NewBalance(int64(i * 10))})
			}
			return out, nil
		},
		JoinStep: earning.StepDetail{Name: "Nominate validators", Type: earning.StepNominate},
		BuildJoin: func(_ context.Context, s *earning.Scope, req *earning.JoinRequest, _ *earning.YieldPositionInfo) (*chain.Extrinsic, earning.ExtrinsicType, error) {
			ext, err := s.API.Tx("staking", "bond", req.Amount, "Staked")
			return ext, earning.ExtrinsicBond, err
		},
	}
}

func newHandler(t *testing.T, c *memory.Chain, ops earning.Ops) *earning.Handler {
	t.Helper()
	h, err := earning.NewHandler(&earning.Env{Chain: testChain, Conn: c}, ops)
	require.NoError(t, err)
	return h
}

func TestNewHandlerRejectsIncompleteOps(t *testing.T) {
	t.Parallel()

	_, err := earning.NewHandler(&earning.Env{Chain: testChain, Conn: memory.New()}, earning.Ops{Kind: earning.KindLending})
	require.Error(t, err)
	assert.Equal(t, harvesterr.CodeInternalError, harvesterr.Code(err))

	_, err = earning.NewHandler(&earning.Env{Chain: testChain}, testOps())
	require.Error(t, err)
}

func TestHandlerSlug(t *testing.T) {
	t.Parallel()

	h := newHandler(t, memory.New(), testOps())
	assert.Equal(t, "TST___native_staking___testnet", h.Slug())
	assert.Equal(t, earning.KindRelayChain, h.Kind())
}

func TestSubscribePoolInfoStubBeforeReady(t *testing.T) {
	t.Parallel()

	c := memory.New(memory.NotReady())
	c.MustSet("staking", "currentEra", 5)
	h := newHandler(t, c, testOps())

	var got recorder[*earning.YieldPoolInfo]
	unsub := h.SubscribePoolInfo(context.Background(), got.add)
	defer unsub()

	require.Equal(t, 1, got.len(), "stub is pushed synchronously")
	assert.True(t, got.snapshot()[0].IsLoading())

	c.MarkReady()
	require.Eventually(t, func() bool { return got.len() == 2 }, waitFor, tick)
	assert.Equal(t, uint32(5), got.snapshot()[1].Statistic.Era)

	c.MustSet("staking", "currentEra", 6)
	require.Eventually(t, func() bool { return got.len() == 3 }, waitFor, tick)
	assert.Equal(t, uint32(6), got.snapshot()[2].Statistic.Era)
	assert.Equal(t, uint32(6), h.PoolInfo().Statistic.Era, "statistic is cached")
}

func TestSubscribePoolInfoCancelSuppressesInFlightPush(t *testing.T) {
	t.Parallel()

	c := memory.New()
	c.MustSet("staking", "currentEra", 1)

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	ops := testOps()
	base := ops.Info
	ops.Info = func(ctx context.Context, s *earning.Scope) (*earning.Statistic, error) {
		entered <- struct{}{}
		<-release
		return base(context.WithoutCancel(ctx), s)
	}
	h := newHandler(t, c, ops)

	var got recorder[*earning.YieldPoolInfo]
	unsub := h.SubscribePoolInfo(context.Background(), got.add)

	<-entered
	unsub()
	unsub()
	close(release)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, got.len(), "only the immediate stub was delivered")
	require.Eventually(t, func() bool { return c.Subscribers("staking", "currentEra") == 0 }, waitFor, tick)
}

func TestSubscribePoolPositionBatchesAddresses(t *testing.T) {
	t.Parallel()

	c := memory.New()
	c.MustSet("staking", "ledger", testLedger{Active: chain.NewBalance(300), Unlocking: chain.NewBalance(50)}, "A")
	h := newHandler(t, c, testOps())

	var got recorder[*earning.YieldPositionInfo]
	unsub := h.SubscribePoolPosition(context.Background(), []string{"A", "B"}, got.add)

	require.Eventually(t, func() bool { return got.len() == 2 }, waitFor, tick)
	assert.Equal(t, 1, c.Count(memory.OpSubscribeMulti, "staking", "ledger"))
	assert.Equal(t, 0, c.Count(memory.OpSubscribe, "staking", "ledger"))

	first := got.snapshot()
	assert.Equal(t, "A", first[0].Address)
	assert.Equal(t, "B", first[1].Address)
	assert.Equal(t, earning.StatusNotStaking, first[1].Status)
	assert.Equal(t, "350", first[0].TotalStake.String())

	c.MustSet("staking", "ledger", testLedger{Active: chain.NewBalance(10)}, "B")
	require.Eventually(t, func() bool { return got.len() == 4 }, waitFor, tick)
	second := got.snapshot()[2:]
	assert.Equal(t, []string{"A", "B"}, []string{second[0].Address, second[1].Address})

	for _, pos := range got.snapshot() {
		assert.Equal(t, pos.ActiveStake.Add(pos.UnstakeBalance).String(), pos.TotalStake.String())
		assert.Equal(t, h.Slug(), pos.Slug)
	}

	unsub()
	unsub()
	require.Eventually(t, func() bool { return c.Subscribers("staking", "ledger") == 0 }, waitFor, tick)
	c.MustSet("staking", "ledger", testLedger{Active: chain.NewBalance(20)}, "B")
	assert.Equal(t, 4, got.len())
}

func TestGetPoolRewardSkipsZero(t *testing.T) {
	t.Parallel()

	h := newHandler(t, memory.New(), testOps())

	var got recorder[earning.EarningRewardItem]
	unsub := h.GetPoolReward(context.Background(), []string{"A", "B", "C"}, got.add)
	defer unsub()

	require.Eventually(t, func() bool { return got.len() == 2 }, waitFor, tick)
	items := got.snapshot()
	assert.Equal(t, "B", items[0].Address)
	assert.Equal(t, "C", items[1].Address)
	assert.Equal(t, h.Slug(), items[0].Slug)
}

func TestGetPoolRewardWithoutRewardsNeverCalls(t *testing.T) {
	t.Parallel()

	ops := testOps()
	ops.Rewards = nil
	h := newHandler(t, memory.New(), ops)

	called := false
	h.GetPoolReward(context.Background(), []string{"A"}, func(earning.EarningRewardItem) { called = true })()
	assert.False(t, called)
}

func TestValidateYieldJoin(t *testing.T) {
	t.Parallel()

	c := memory.New()
	c.MustSet("staking", "currentEra", 3)
	c.MustSet("staking", "ledger", testLedger{Active: chain.NewBalance(90)}, "staker")
	h := newHandler(t, c, testOps())
	three := []earning.ValidatorInfo{{Address: "v1"}, {Address: "v2"}, {Address: "v3"}}

	tests := []struct {
		name  string
		req   earning.JoinRequest
		codes []string
	}{
		{
			name: "valid first bond",
			req:  earning.JoinRequest{Address: "new", Amount: chain.NewBalance(100), Selected: three[:1]},
		},
		{
			name:  "zero amount and too many targets",
			req:   earning.JoinRequest{Address: "new", Amount: chain.NewBalance(0), Selected: three},
			codes: []string{harvesterr.CodeInvalidParams, harvesterr.CodeNotEnoughMinStake, harvesterr.CodeExceedMaxNominations},
		},
		{
			name:  "below minimum",
			req:   earning.JoinRequest{Address: "new", Amount: chain.NewBalance(99)},
			codes: []string{harvesterr.CodeNotEnoughMinStake},
		},
		{
			name: "top up counts active stake",
			req:  earning.JoinRequest{Address: "staker", Amount: chain.NewBalance(10)},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			errs := h.ValidateYieldJoin(context.Background(), &tc.req)
			if len(tc.codes) == 0 {
				assert.True(t, errs.Empty(), "unexpected errors: %v", errs)
				return
			}
			assert.Equal(t, tc.codes, errs.Codes())
		})
	}
}

func TestValidateYieldLeave(t *testing.T) {
	t.Parallel()

	c := memory.New()
	c.MustSet("staking", "currentEra", 3)
	c.MustSet("staking", "ledger", testLedger{Active: chain.NewBalance(150)}, "staker")
	h := newHandler(t, c, testOps())

	errs := h.ValidateYieldLeave(context.Background(), &earning.LeaveRequest{Address: "staker", Amount: chain.NewBalance(100)})
	assert.Equal(t, []string{harvesterr.CodeInvalidActiveStake}, errs.Codes())

	errs = h.ValidateYieldLeave(context.Background(), &earning.LeaveRequest{Address: "staker", Amount: chain.NewBalance(150)})
	assert.True(t, errs.Empty())

	errs = h.ValidateYieldLeave(context.Background(), &earning.LeaveRequest{Address: "staker", Amount: chain.NewBalance(0), FastLeave: true})
	assert.True(t, errs.Has(harvesterr.CodeInvalidParams))
}

func TestGenerateOptimalPath(t *testing.T) {
	t.Parallel()

	c := memory.New(memory.WithFee(chain.NewBalance(7)))
	h := newHandler(t, c, testOps())

	path, err := h.GenerateOptimalPath(context.Background(), &earning.JoinRequest{Address: "A", Amount: chain.NewBalance(100)})
	require.NoError(t, err)
	require.NoError(t, path.Validate())
	require.Len(t, path.Steps, 2)
	assert.Len(t, path.TotalFee, len(path.Steps))
	assert.Equal(t, earning.StepDefault, path.Steps[0].Type)
	assert.Equal(t, earning.DefaultStepName, path.Steps[0].Name)
	assert.True(t, path.TotalFee[0].Amount.IsZero())
	assert.Equal(t, earning.StepNominate, path.Steps[1].Type)
	assert.Equal(t, 1, path.Steps[1].ID)
	assert.Equal(t, "7", path.TotalFee[1].Amount.String())
}

func TestCreateJoinExtrinsic(t *testing.T) {
	t.Parallel()

	h := newHandler(t, memory.New(), testOps())
	payload, err := h.CreateJoinExtrinsic(context.Background(), &earning.JoinRequest{Address: "A", Amount: chain.NewBalance(5)}, nil)
	require.NoError(t, err)
	assert.Equal(t, "staking.bond", payload.Extrinsic.Name())
	assert.Equal(t, earning.ExtrinsicBond, payload.Type)
	assert.Equal(t, "testnet-NATIVE-TST", payload.FeeToken.Slug)
}

func TestUnsupportedActions(t *testing.T) {
	t.Parallel()

	h := newHandler(t, memory.New(), testOps())
	ctx := context.Background()

	_, err := h.HandleYieldUnstake(ctx, &earning.LeaveRequest{Address: "A"})
	assert.Equal(t, harvesterr.CodeUnsupported, harvesterr.Code(err))
	_, err = h.HandleYieldWithdraw(ctx, &earning.WithdrawRequest{Address: "A"})
	assert.Equal(t, harvesterr.CodeUnsupported, harvesterr.Code(err))
	_, err = h.HandleYieldCancelUnstake(ctx, &earning.CancelUnstakeRequest{Address: "A"})
	assert.Equal(t, harvesterr.CodeUnsupported, harvesterr.Code(err))
	_, err = h.HandleYieldClaimReward(ctx, &earning.ClaimRequest{Address: "A"})
	assert.Equal(t, harvesterr.CodeUnsupported, harvesterr.Code(err))

	targets, err := h.GetPoolTargets(ctx)
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestPathValidate(t *testing.T) {
	t.Parallel()

	bad := &earning.OptimalYieldPath{Steps: []earning.StepDetail{{Type: earning.StepDefault}}}
	require.Error(t, bad.Validate())

	good := earning.NewPath("x").Add(earning.StepDetail{Type: earning.StepMintVToken}, earning.FeeInfo{Slug: "x", Amount: chain.NewBalance(3)}).Build()
	require.NoError(t, good.Validate())
	assert.Equal(t, "3", good.TotalFeeOf("x").String())
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	k, err := earning.ParseKind(" DappStaking ")
	require.NoError(t, err)
	assert.Equal(t, earning.KindDappStaking, k)

	_, err = earning.ParseKind("farming")
	require.Error(t, err)
}
