// Package relaychain implements nominated proof-of-stake on relay chains
// (Polkadot, Kusama and their test networks).
package relaychain

import (
	"context"
	"math"

	"github.com/mrz1836/harvest/internal/chain"
	"github.com/mrz1836/harvest/internal/earning"
)

const (
	// defaultMaxNominations applies when the runtime declares no limit.
	defaultMaxNominations = 16

	// defaultMaxUnlockingChunks applies when the runtime declares no limit.
	defaultMaxUnlockingChunks = 32

	// bondWithoutControllerSpec is the first runtime whose bond call dropped the controller.
	bondWithoutControllerSpec = 9420

	// rewardPointEras is how many past eras feed the top quartile ranking.
	rewardPointEras = 14

	// payee receives staking rewards; rewards are compounded.
	payee = "Staked"
)

// eraHoursByChain holds era lengths for runtimes without babe constants.
//
//nolint:gochecknoglobals // static lookup table
var eraHoursByChain = map[chain.ID]float64{
	chain.Polkadot: 24,
	chain.Kusama:   6,
}

const defaultEraHours = 24

type activeEraInfo struct {
	Index uint32 `json:"index"`
	Start int64  `json:"start"`
}

type unlockChunk struct {
	Value chain.Balance `json:"value"`
	Era   uint32        `json:"era"`
}

type stakingLedger struct {
	Stash     string        `json:"stash"`
	Total     chain.Balance `json:"total"`
	Active    chain.Balance `json:"active"`
	Unlocking []unlockChunk `json:"unlocking"`
}

type nominations struct {
	Targets     []string `json:"targets"`
	SubmittedIn uint32   `json:"submittedIn"`
}

type exposureItem struct {
	Who   string        `json:"who"`
	Value chain.Balance `json:"value"`
}

type exposure struct {
	Total          chain.Balance  `json:"total"`
	Own            chain.Balance  `json:"own"`
	NominatorCount int            `json:"nominatorCount"`
	Others         []exposureItem `json:"others"`
}

type validatorPrefs struct {
	// Commission is in parts per billion.
	Commission uint32 `json:"commission"`
	Blocked    bool   `json:"blocked"`
}

type eraRewardPoints struct {
	Total      uint32            `json:"total"`
	Individual map[string]uint32 `json:"individual"`
}

type slashingSpans struct {
	SpanIndex uint32 `json:"spanIndex"`
}

// Ops returns the relay chain function table.
func Ops() earning.Ops {
	return earning.Ops{
		Kind:            earning.KindRelayChain,
		Type:            earning.NativeStaking,
		Metadata:        metadata,
		InfoTrigger:     earning.StorageRef{Section: "staking", Storage: "currentEra"},
		Info:            info,
		PositionStorage: earning.StorageRef{Section: "staking", Storage: "ledger"},
		Positions:       positions,
		Targets:         targets,
		JoinStep:        earning.StepDetail{Name: "Nominate validators", Type: earning.StepNominate},
		BuildJoin:       buildJoin,
		Unstake:         unstake,
		Withdraw:        withdraw,
		CancelUnstake:   cancelUnstake,
	}
}

func metadata(s *earning.Scope) earning.PoolMetadata {
	return earning.PoolMetadata{
		Name:                 s.Chain.Name + " native staking",
		ShortName:            s.Chain.Name,
		Description:          "Nominate validators and earn staking rewards",
		InputAsset:           s.InputSlug(),
		SupportWithdrawal:    true,
		SupportCancelUnstake: true,
		MaintainAsset:        s.Chain.NativeTokenSlug(),
	}
}

// EraHours derives the era length from sessionsPerEra × epochDuration × block time.
func EraHours(s *earning.Scope) float64 {
	sessions := earning.ConstInt(s.API, "staking", "sessionsPerEra", 0)
	epoch := earning.ConstInt(s.API, "babe", "epochDuration", 0)
	if sessions > 0 && epoch > 0 {
		return float64(sessions*epoch) * s.Chain.BlockDuration().Seconds() / 3600
	}
	if h, ok := eraHoursByChain[s.Chain.Slug]; ok {
		return h
	}
	return defaultEraHours
}

// minStake is the larger of minimumActiveStake and minNominatorBond.
func minStake(ctx context.Context, api chain.Reader) (chain.Balance, error) {
	minActive, err := earning.ReadBalance(ctx, api, "staking", "minimumActiveStake")
	if err != nil {
		return chain.Balance{}, err
	}
	minBond, err := earning.ReadBalance(ctx, api, "staking", "minNominatorBond")
	if err != nil {
		return chain.Balance{}, err
	}
	return minActive.Max(minBond), nil
}

func maxNominations(ctx context.Context, api chain.API) int {
	limit := earning.ConstInt(api, "staking", "maxNominations", defaultMaxNominations)
	c, err := api.Call(ctx, "stakingApi.nominationsQuota", 0)
	if err != nil {
		return limit
	}
	if quota, ok, err := earning.Decode[int](c); err == nil && ok && quota > 0 {
		return quota
	}
	return limit
}

func info(ctx context.Context, s *earning.Scope) (*earning.Statistic, error) {
	api := s.API
	era, err := earning.Read[uint32](ctx, api, "staking", "currentEra")
	if err != nil {
		return nil, err
	}
	minimum, err := minStake(ctx, api)
	if err != nil {
		return nil, err
	}
	farmers, err := earning.Read[int](ctx, api, "staking", "counterForNominators")
	if err != nil {
		return nil, err
	}
	tvl, err := earning.ReadBalance(ctx, api, "staking", "erasTotalStake", era)
	if err != nil {
		return nil, err
	}
	issuance, err := earning.ReadBalance(ctx, api, "balances", "totalIssuance")
	if err != nil {
		return nil, err
	}

	hours := EraHours(s)
	stat := &earning.Statistic{
		Era:                           era,
		EraTime:                       hours,
		MaxCandidatePerFarmer:         maxNominations(ctx, api),
		MaxWithdrawalRequestPerFarmer: earning.ConstInt(api, "staking", "maxUnlockingChunks", defaultMaxUnlockingChunks),
		EarningThreshold:              earning.EarningThreshold{Join: minimum},
		FarmerCount:                   farmers,
		TVL:                           tvl,
		UnstakingPeriod:               float64(earning.ConstInt(api, "staking", "bondingDuration", 0)) * hours,
	}

	if era > 0 {
		payout, err := earning.ReadBalance(ctx, api, "staking", "erasValidatorReward", era-1)
		if err != nil {
			return nil, err
		}
		staked, err := earning.ReadBalance(ctx, api, "staking", "erasTotalStake", era-1)
		if err != nil {
			return nil, err
		}
		if apr, ok := annualRate(payout, staked, hours); ok {
			apy := compound(apr)
			stat.TotalAPR = earning.Float(apr)
			stat.TotalAPY = earning.Float(apy)
			stat.Assets = []earning.AssetEarning{{Slug: s.InputSlug(), APY: earning.Float(apy)}}
		}
		if inflation, ok := annualRate(payout, issuance, hours); ok {
			stat.Inflation = earning.Float(inflation)
		}
	}
	return stat, nil
}

// annualRate is the yearly percentage of base paid out at perEra every era.
func annualRate(perEra, base chain.Balance, eraHours float64) (float64, bool) {
	if base.IsZero() || perEra.IsZero() || eraHours <= 0 {
		return 0, false
	}
	erasPerYear := 365 * 24 / eraHours
	return chain.Ratio(perEra, base) * erasPerYear * 100, true
}

// compound converts an APR percentage into an APY percentage with daily compounding.
func compound(apr float64) float64 {
	return (math.Pow(1+apr/100/365, 365) - 1) * 100
}
