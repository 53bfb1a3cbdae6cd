// Package dappstaking implements Astar-style dApp staking v3, where stake is
// bucketed into periods of a voting and a build-and-earn subperiod.
package dappstaking

import (
	"context"
	"strings"

	"github.com/mrz1836/harvest/internal/chain"
	"github.com/mrz1836/harvest/internal/earning"
)

const section = "dappStaking"

// defaultEraHours is the era length of Astar and Shiden.
const defaultEraHours = 24

// Subperiods of a period.
const (
	subperiodVoting       = "Voting"
	subperiodBuildAndEarn = "BuildAndEarn"
)

type periodInfo struct {
	Number                uint32 `json:"number"`
	Subperiod             string `json:"subperiod"`
	NextSubperiodStartEra uint32 `json:"nextSubperiodStartEra"`
}

type protocolState struct {
	Era          uint32     `json:"era"`
	NextEraStart uint64     `json:"nextEraStart"`
	PeriodInfo   periodInfo `json:"periodInfo"`
}

// lastEra reports whether era is the final era of build-and-earn, when new
// stake would earn nothing before the period ends.
func (p protocolState) lastEra() bool {
	return p.PeriodInfo.Subperiod == subperiodBuildAndEarn && p.Era+1 == p.PeriodInfo.NextSubperiodStartEra
}

func (p protocolState) voting() bool {
	return p.PeriodInfo.Subperiod == subperiodVoting
}

type stakeAmount struct {
	Voting       chain.Balance `json:"voting"`
	BuildAndEarn chain.Balance `json:"buildAndEarn"`
	Era          uint32        `json:"era"`
	Period       uint32        `json:"period"`
}

func (a stakeAmount) total() chain.Balance {
	return a.Voting.Add(a.BuildAndEarn)
}

func (a *stakeAmount) empty() bool {
	return a == nil || a.total().IsZero()
}

type unlockingChunk struct {
	Amount      chain.Balance `json:"amount"`
	UnlockBlock uint64        `json:"unlockBlock"`
}

type accountLedger struct {
	Locked       chain.Balance    `json:"locked"`
	Unlocking    []unlockingChunk `json:"unlocking"`
	Staked       stakeAmount      `json:"staked"`
	StakedFuture *stakeAmount     `json:"stakedFuture"`
}

// stakedIn returns the ledger stake counted for period.
func (l accountLedger) stakedIn(period uint32) chain.Balance {
	if !l.StakedFuture.empty() && l.StakedFuture.Period == period {
		return l.StakedFuture.total()
	}
	if l.Staked.Period == period {
		return l.Staked.total()
	}
	return chain.Balance{}
}

type singularStakingInfo struct {
	PreviousStaked stakeAmount `json:"previousStaked"`
	Staked         stakeAmount `json:"staked"`
	LoyalStaker    bool        `json:"loyalStaker"`
}

type periodEndInfo struct {
	BonusRewardPool chain.Balance `json:"bonusRewardPool"`
	TotalVpStake    chain.Balance `json:"totalVpStake"`
	FinalEra        uint32        `json:"finalEra"`
}

type eraReward struct {
	StakerRewardPool chain.Balance `json:"stakerRewardPool"`
	Staked           chain.Balance `json:"staked"`
	DappRewardPool   chain.Balance `json:"dappRewardPool"`
}

type eraRewardSpan struct {
	Span     []eraReward `json:"span"`
	FirstEra uint32      `json:"firstEra"`
	LastEra  uint32      `json:"lastEra"`
}

type contractStake struct {
	Staked       *stakeAmount `json:"staked"`
	StakedFuture *stakeAmount `json:"stakedFuture"`
}

// current returns the contract stake effective at era.
func (c contractStake) current(era uint32) chain.Balance {
	switch {
	case !c.StakedFuture.empty() && c.StakedFuture.Era <= era:
		return c.StakedFuture.total()
	case c.StakedFuture.empty() && !c.Staked.empty() && c.Staked.Era <= era:
		return c.Staked.total()
	}
	return chain.Balance{}
}

type dappEntry struct {
	Owner string `json:"owner"`
	ID    uint32 `json:"id"`
}

// smartContract is the Evm/Wasm enum dApps are addressed by.
type smartContract struct {
	Evm  string `json:"evm,omitempty"`
	Wasm string `json:"wasm,omitempty"`
}

func (c smartContract) address() string {
	if c.Evm != "" {
		return strings.ToLower(c.Evm)
	}
	return c.Wasm
}

func contractOf(address string) smartContract {
	if chain.IsEVMAddress(address) {
		return smartContract{Evm: strings.ToLower(address)}
	}
	return smartContract{Wasm: address}
}

// Ops returns the dApp staking function table.
func Ops() earning.Ops {
	return earning.Ops{
		Kind:            earning.KindDappStaking,
		Type:            earning.NativeStaking,
		Metadata:        metadata,
		InfoTrigger:     earning.StorageRef{Section: section, Storage: "activeProtocolState"},
		Info:            info,
		PositionStorage: earning.StorageRef{Section: section, Storage: "ledger"},
		Positions:       positions,
		Rewards:         rewards,
		Targets:         targets,
		ValidateJoin:    validateJoin,
		ValidateLeave:   validateLeave,
		JoinStep:        earning.StepDetail{Name: "Nominate dApps", Type: earning.StepNominate},
		BuildJoin:       buildJoin,
		Unstake:         unstake,
		Withdraw:        withdraw,
		CancelUnstake:   cancelUnstake,
		ClaimReward:     claimReward,
	}
}

func metadata(s *earning.Scope) earning.PoolMetadata {
	return earning.PoolMetadata{
		Name:                 s.Chain.Name + " dApp staking",
		ShortName:            s.Chain.Name,
		Description:          "Stake on dApps and earn rewards every era",
		InputAsset:           s.InputSlug(),
		SupportWithdrawal:    true,
		SupportCancelUnstake: true,
		MaintainAsset:        s.Chain.NativeTokenSlug(),
	}
}

func readState(ctx context.Context, s *earning.Scope) (protocolState, error) {
	return earning.Read[protocolState](ctx, s.API, section, "activeProtocolState")
}

func info(ctx context.Context, s *earning.Scope) (*earning.Statistic, error) {
	state, err := readState(ctx, s)
	if err != nil {
		return nil, err
	}
	api := s.API
	unlockingEras := earning.ConstInt(api, section, "unlockingPeriod", 0)

	return &earning.Statistic{
		Era:                           state.Era,
		EraTime:                       defaultEraHours,
		MaxCandidatePerFarmer:         earning.ConstInt(api, section, "maxNumberOfStakedContracts", 0),
		MaxWithdrawalRequestPerFarmer: 1,
		EarningThreshold: earning.EarningThreshold{
			Join: earning.ConstBalance(api, section, "minimumStakeAmount", chain.Balance{}),
		},
		UnstakingPeriod:   float64(unlockingEras) * defaultEraHours,
		Assets:            []earning.AssetEarning{{Slug: s.InputSlug()}},
		InVotingSubperiod: state.voting(),
		LastEraOfPeriod:   state.lastEra(),
		Period:            state.PeriodInfo.Number,
	}, nil
}
