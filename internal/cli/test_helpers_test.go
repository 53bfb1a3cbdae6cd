package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/cobra"

	"github.com/mrz1836/harvest/internal/chain"
	"github.com/mrz1836/harvest/internal/chain/memory"
	"github.com/mrz1836/harvest/internal/config"
	core "github.com/mrz1836/harvest/internal/earning"
	"github.com/mrz1836/harvest/internal/output"
	earningsvc "github.com/mrz1836/harvest/internal/service/earning"
)

const (
	testChain  = chain.ID("relay")
	testSlug   = "DOT___native_staking___relay"
	testToken  = "relay-NATIVE-DOT"
	testStaker = "A"
)

// withMockConfirm replaces the confirmation prompt and restores it on cleanup.
func withMockConfirm(t *testing.T, answer bool) *int {
	t.Helper()
	orig := promptConfirmFn
	t.Cleanup(func() { promptConfirmFn = orig })
	calls := 0
	promptConfirmFn = func(string) bool {
		calls++
		return answer
	}
	return &calls
}

type testLedger struct {
	Active chain.Balance `json:"active"`
}

// testEnv is one relay chain with a single native staking pool.
type testEnv struct {
	relay *memory.Chain
	dir   *chain.Directory
	svc   *earningsvc.Service
	out   *bytes.Buffer
	err   *bytes.Buffer
}

func testOps(kind core.PoolKind) (core.Ops, bool) {
	if kind != core.KindRelayChain {
		return core.Ops{}, false
	}
	return core.Ops{
		Kind:        core.KindRelayChain,
		Type:        core.NativeStaking,
		InfoTrigger: core.StorageRef{Section: "staking", Storage: "currentEra"},
		Info: func(ctx context.Context, s *core.Scope) (*core.Statistic, error) {
			era, err := s.API.Query(ctx, "staking", "currentEra")
			if err != nil {
				return nil, err
			}
			var n uint32
			if err := era.Decode(&n); err != nil {
				return nil, err
			}
			return &core.Statistic{Era: n, EarningThreshold: core.EarningThreshold{Join: chain.NewBalance(1)}, MaxCandidatePerFarmer: 2}, nil
		},
		PositionStorage: core.StorageRef{Section: "staking", Storage: "ledger"},
		Positions: func(_ context.Context, _ *core.Scope, addresses []string, values []chain.Codec) ([]*core.YieldPositionInfo, error) {
			out := make([]*core.YieldPositionInfo, len(addresses))
			for i, v := range values {
				if v.IsEmpty() {
					continue
				}
				var l testLedger
				if err := v.Decode(&l); err != nil {
					return nil, err
				}
				out[i] = core.NewPosition(core.StatusEarningReward, l.Active, chain.NewBalance(0))
			}
			return out, nil
		},
		Rewards: func(_ context.Context, _ *core.Scope, addresses []string) ([]core.EarningRewardItem, error) {
			out := make([]core.EarningRewardItem, 0, len(addresses))
			for _, addr := range addresses {
				out = append(out, core.EarningRewardItem{Address: addr, UnclaimedReward: chain.NewBalance(25)})
			}
			return out, nil
		},
		Targets: func(_ context.Context, _ *core.Scope, _ *core.Statistic) ([]core.ValidatorInfo, error) {
			return []core.ValidatorInfo{
				{Address: "v1", Chain: testChain, Identity: "alpha", Commission: 3, IsVerified: true},
				{Address: "v2", Chain: testChain, Commission: 10},
			}, nil
		},
		JoinStep: core.StepDetail{Name: "Nominate validators", Type: core.StepNominate},
		BuildJoin: func(_ context.Context, s *core.Scope, req *core.JoinRequest, _ *core.YieldPositionInfo) (*chain.Extrinsic, core.ExtrinsicType, error) {
			ext, err := s.API.Tx("staking", "bond", req.Amount, "Staked")
			return ext, core.ExtrinsicBond, err
		},
		Unstake: func(_ context.Context, s *core.Scope, req *core.LeaveRequest, _ *core.YieldPositionInfo) (*chain.Extrinsic, core.ExtrinsicType, error) {
			ext, err := s.API.Tx("staking", "unbond", req.Amount)
			return ext, core.ExtrinsicUnbond, err
		},
		ClaimReward: func(_ context.Context, s *core.Scope, req *core.ClaimRequest, _ *core.YieldPositionInfo) (*chain.Extrinsic, error) {
			return s.API.Tx("staking", "claim", req.UnclaimedReward, req.BondReward)
		},
	}, true
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	e := &testEnv{
		relay: memory.New(),
		dir:   chain.NewDirectory(),
		out:   new(bytes.Buffer),
		err:   new(bytes.Buffer),
	}
	e.relay.MustSet("staking", "currentEra", 7)
	e.relay.MustSet("staking", "ledger", testLedger{Active: chain.NewBalance(3_000_000_000_000)}, testStaker)

	e.dir.Register(chain.Info{Slug: testChain, Name: "Relay", Symbol: "DOT", Decimals: 10}, e.relay)
	e.dir.RegisterAsset(chain.Asset{Slug: testToken, Chain: testChain, Kind: chain.AssetNative, Symbol: "DOT", Decimals: 10})
	e.dir.MarkReady()

	e.svc = earningsvc.NewService(&earningsvc.Config{
		Chains: e.dir,
		Assets: e.dir,
		Pools:  map[chain.ID][]earningsvc.PoolSpec{testChain: {{Kind: core.KindRelayChain}}},
		Ops:    testOps,
	})
	return e
}

// command returns a fresh command wired to the environment.
func (e *testEnv) command(format output.Format) *cobra.Command {
	cc := NewCommandContext(config.Defaults(), config.NullLogger(), output.NewFormatter(format, e.out)).
		WithChains(e.dir).
		WithEarning(e.svc)
	return e.commandWith(cc)
}

func (e *testEnv) commandWith(cc *CommandContext) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetOut(e.out)
	cmd.SetErr(e.err)
	cmd.SetContext(context.Background())
	SetCmdContext(cmd, cc)
	return cmd
}

// setFlag assigns a package flag variable for one test.
func setFlag[T any](t *testing.T, p *T, v T) {
	t.Helper()
	orig := *p
	t.Cleanup(func() { *p = orig })
	*p = v
}
