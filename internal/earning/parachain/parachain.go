// Package parachain implements collator delegation staking on
// Amplitude-style parachains.
package parachain

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/mrz1836/harvest/internal/chain"
	"github.com/mrz1836/harvest/internal/earning"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

const section = "parachainStaking"

// defaultBlocksPerRound applies when the runtime declares no round length.
const defaultBlocksPerRound = 600

type roundInfo struct {
	Current uint32 `json:"current"`
	First   uint64 `json:"first"`
	Length  uint32 `json:"length"`
}

type delegatorState struct {
	Owner  string        `json:"owner"`
	Amount chain.Balance `json:"amount"`
}

type collatorStake struct {
	Collators  chain.Balance `json:"collators"`
	Delegators chain.Balance `json:"delegators"`
}

type delegation struct {
	Owner  string        `json:"owner"`
	Amount chain.Balance `json:"amount"`
}

type candidate struct {
	ID         string        `json:"id"`
	Stake      chain.Balance `json:"stake"`
	Delegators []delegation  `json:"delegators"`
	Total      chain.Balance `json:"total"`
	Status     any           `json:"status"`
}

type rewardRate struct {
	Annual string `json:"annual"`
}

type inflationConfig struct {
	Delegator struct {
		RewardRate rewardRate `json:"rewardRate"`
	} `json:"delegator"`
}

// Ops returns the parachain delegation function table.
func Ops() earning.Ops {
	return earning.Ops{
		Kind:            earning.KindParachain,
		Type:            earning.NativeStaking,
		Metadata:        metadata,
		InfoTrigger:     earning.StorageRef{Section: section, Storage: "round"},
		Info:            info,
		PositionStorage: earning.StorageRef{Section: section, Storage: "delegatorState"},
		Positions:       positions,
		Rewards:         rewards,
		Targets:         targets,
		JoinStep:        earning.StepDetail{Name: "Nominate collators", Type: earning.StepNominate},
		BuildJoin:       buildJoin,
		Unstake:         unstake,
		Withdraw:        withdraw,
		CancelUnstake:   cancelUnstake,
		ClaimReward:     claimReward,
	}
}

func metadata(s *earning.Scope) earning.PoolMetadata {
	return earning.PoolMetadata{
		Name:                 s.Chain.Name + " native staking",
		ShortName:            s.Chain.Name,
		Description:          "Delegate to a collator and earn staking rewards",
		InputAsset:           s.InputSlug(),
		SupportWithdrawal:    true,
		SupportCancelUnstake: true,
		MaintainAsset:        s.Chain.NativeTokenSlug(),
	}
}

func blockHours(s *earning.Scope) float64 {
	return s.Chain.BlockDuration().Seconds() / 3600
}

func info(ctx context.Context, s *earning.Scope) (*earning.Statistic, error) {
	api := s.API
	round, err := earning.Read[roundInfo](ctx, api, section, "round")
	if err != nil {
		return nil, err
	}
	delegators, err := api.Entries(ctx, section, "delegatorState")
	if err != nil {
		return nil, err
	}
	staked, err := earning.Read[collatorStake](ctx, api, section, "totalCollatorStake")
	if err != nil {
		return nil, err
	}

	perRound := int(round.Length)
	if perRound == 0 {
		perRound = earning.ConstInt(api, section, "defaultBlocksPerRound", defaultBlocksPerRound)
	}
	hours := blockHours(s)

	return &earning.Statistic{
		Era:                           round.Current,
		EraTime:                       float64(perRound) * hours,
		MaxCandidatePerFarmer:         earning.ConstInt(api, section, "maxDelegationsPerRound", 1),
		MaxWithdrawalRequestPerFarmer: 1,
		EarningThreshold: earning.EarningThreshold{
			Join: earning.ConstBalance(api, section, "minDelegatorStake", chain.Balance{}),
		},
		FarmerCount:     len(delegators),
		TVL:             staked.Delegators,
		UnstakingPeriod: float64(earning.ConstInt(api, section, "stakeDuration", 0)) * hours,
		Assets:          []earning.AssetEarning{{Slug: s.InputSlug()}},
	}, nil
}

type unstakeChunk struct {
	block  uint64
	amount chain.Balance
}

// sortedChunks orders the block → amount map nearest block first.
func sortedChunks(raw map[string]chain.Balance) []unstakeChunk {
	out := make([]unstakeChunk, 0, len(raw))
	for k, v := range raw {
		block, err := strconv.ParseUint(strings.ReplaceAll(k, ",", ""), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, unstakeChunk{block: block, amount: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].block < out[j].block })
	return out
}

func positions(ctx context.Context, s *earning.Scope, addresses []string, values []chain.Codec) ([]*earning.YieldPositionInfo, error) {
	keys := make([]any, 0, len(addresses))
	for _, a := range addresses {
		keys = append(keys, a)
	}
	unstakings, err := s.API.Multi(ctx, section, "unstaking", keys)
	if err != nil {
		return nil, err
	}
	minimum := earning.ConstBalance(s.API, section, "minDelegatorStake", chain.Balance{})

	var current *uint64
	out := make([]*earning.YieldPositionInfo, len(addresses))
	for i := range addresses {
		state, hasState, err := earning.Decode[delegatorState](values[i])
		if err != nil {
			return nil, err
		}
		var raw map[string]chain.Balance
		if i < len(unstakings) {
			if raw, _, err = earning.Decode[map[string]chain.Balance](unstakings[i]); err != nil {
				return nil, err
			}
		}
		chunks := sortedChunks(raw)
		if !hasState && len(chunks) == 0 {
			continue
		}
		if len(chunks) > 0 && current == nil {
			n, err := earning.Read[uint64](ctx, s.API, "system", "number")
			if err != nil {
				return nil, err
			}
			current = &n
		}

		var block uint64
		if current != nil {
			block = *current
		}
		out[i] = delegatorPosition(ctx, s, state, hasState, chunks, block, minimum)
	}
	return out, nil
}

func delegatorPosition(ctx context.Context, s *earning.Scope, state delegatorState, hasState bool, chunks []unstakeChunk, block uint64, minimum chain.Balance) *earning.YieldPositionInfo {
	var list []earning.NominationInfo
	if hasState {
		status := earning.StatusNotEarning
		if state.Amount.Sign() > 0 && state.Amount.Cmp(minimum) >= 0 {
			status = earning.StatusEarningReward
		}
		n := earning.NominationInfo{
			Chain:            s.Chain.Slug,
			ValidatorAddress: state.Owner,
			Status:           status,
			ActiveStake:      state.Amount,
			HasUnstaking:     len(chunks) > 0,
		}
		overlayIdentity(ctx, s, &n)
		list = append(list, n)
	}

	hours := blockHours(s)
	unstakes := make([]earning.UnstakingInfo, 0, len(chunks))
	for _, c := range chunks {
		remaining := int64(c.block) - int64(block) //nolint:gosec // block heights fit
		u := earning.UnstakingInfo{
			Chain:            s.Chain.Slug,
			Status:           earning.UnstakingUnlocking,
			Claimable:        c.amount,
			WaitingTime:      earning.Float(max(float64(remaining)*hours, 0)),
			ValidatorAddress: state.Owner,
		}
		if remaining < 0 {
			u.Status = earning.UnstakingClaimable
		}
		unstakes = append(unstakes, u)
	}

	status := earning.StatusNotEarning
	for _, n := range list {
		if n.Status == earning.StatusEarningReward {
			status = earning.StatusEarningReward
		}
	}
	active := chain.Balance{}
	if hasState {
		active = state.Amount
	}

	pos := earning.NewPosition(status, active, earning.SumUnstakings(unstakes))
	pos.IsBondedBefore = true
	pos.Nominations = list
	pos.Unstakings = unstakes
	return pos
}

func overlayIdentity(ctx context.Context, s *earning.Scope, n *earning.NominationInfo) {
	var ids map[string]earning.Identity
	if s.Overlay(ctx, "identity", func(ctx context.Context, src earning.MetadataSource) error {
		var err error
		ids, err = src.Identities(ctx, s.Chain.Slug, []string{n.ValidatorAddress})
		return err
	}) {
		n.ValidatorIdentity = ids[n.ValidatorAddress].Display
	}
}

// rewards reads the accrued delegator rewards. KILT pays rewards through a
// different mechanism, so it reports none.
func rewards(ctx context.Context, s *earning.Scope, addresses []string) ([]earning.EarningRewardItem, error) {
	if s.Chain.Slug == chain.Kilt || s.Chain.Group == string(chain.Kilt) {
		return nil, nil
	}
	out := make([]earning.EarningRewardItem, 0, len(addresses))
	for _, addr := range addresses {
		reward, err := earning.ReadBalance(ctx, s.API, section, "rewards", addr)
		if err != nil {
			return nil, err
		}
		out = append(out, earning.EarningRewardItem{Address: addr, UnclaimedReward: reward})
	}
	return out, nil
}

// annualRate parses a human readable rate such as "8.00%".
func annualRate(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "%")), 64)
	if err != nil {
		return 0
	}
	return v
}

func targets(ctx context.Context, s *earning.Scope, _ *earning.Statistic) ([]earning.ValidatorInfo, error) {
	entries, err := s.API.Entries(ctx, section, "candidatePool")
	if err != nil {
		return nil, err
	}
	inflation, err := earning.Read[inflationConfig](ctx, s.API, section, "inflationConfig")
	if err != nil {
		return nil, err
	}
	ret := annualRate(inflation.Delegator.RewardRate.Annual)
	maxDelegators := earning.ConstInt(s.API, section, "maxDelegatorsPerCollator", 0)

	out := make([]earning.ValidatorInfo, 0, len(entries))
	for _, entry := range entries {
		c, ok, err := earning.Decode[candidate](entry.Value)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, earning.ValidatorInfo{
			Address:        c.ID,
			TotalStake:     c.Total,
			OwnStake:       c.Stake,
			OtherStake:     c.Total.SubFloor(c.Stake),
			NominatorCount: len(c.Delegators),
			ExpectedReturn: ret,
			IsCrowded:      maxDelegators > 0 && len(c.Delegators) >= maxDelegators,
		})
	}
	return out, nil
}

func buildJoin(_ context.Context, s *earning.Scope, req *earning.JoinRequest, pos *earning.YieldPositionInfo) (*chain.Extrinsic, earning.ExtrinsicType, error) {
	if len(req.Selected) == 0 {
		return nil, "", harvesterr.Tx(harvesterr.CodeInvalidParams, "Select a collator")
	}
	collator := req.Selected[0].Address

	if !delegatesTo(pos, collator) {
		ext, err := s.API.Tx(section, "joinDelegators", collator, req.Amount)
		return ext, earning.ExtrinsicBond, err
	}
	if arity, ok := s.API.CallArity(section, "delegatorStakeMore"); ok && arity == 1 {
		ext, err := s.API.Tx(section, "delegatorStakeMore", req.Amount)
		return ext, earning.ExtrinsicBond, err
	}
	ext, err := s.API.Tx(section, "delegatorStakeMore", collator, req.Amount)
	return ext, earning.ExtrinsicBond, err
}

func delegatesTo(pos *earning.YieldPositionInfo, collator string) bool {
	if pos == nil {
		return false
	}
	for _, n := range pos.Nominations {
		if !n.ActiveStake.IsZero() && chain.SameAccount(n.ValidatorAddress, collator) {
			return true
		}
	}
	return false
}

func unstake(_ context.Context, s *earning.Scope, req *earning.LeaveRequest, pos *earning.YieldPositionInfo) (*chain.Extrinsic, earning.ExtrinsicType, error) {
	if req.SelectedTarget == "" || pos == nil {
		return nil, "", harvesterr.Tx(harvesterr.CodeInvalidParams, "Select a collator")
	}

	all := false
	for _, n := range pos.Nominations {
		if chain.SameAccount(n.ValidatorAddress, req.SelectedTarget) && n.ActiveStake.Cmp(req.Amount) == 0 {
			all = true
		}
	}
	if all {
		ext, err := s.API.Tx(section, "leaveDelegators")
		return ext, earning.ExtrinsicLeavePool, err
	}
	if arity, ok := s.API.CallArity(section, "delegatorStakeLess"); ok && arity == 1 {
		ext, err := s.API.Tx(section, "delegatorStakeLess", req.Amount)
		return ext, earning.ExtrinsicLeavePool, err
	}
	ext, err := s.API.Tx(section, "delegatorStakeLess", req.SelectedTarget, req.Amount)
	return ext, earning.ExtrinsicLeavePool, err
}

func withdraw(_ context.Context, s *earning.Scope, req *earning.WithdrawRequest, _ *earning.YieldPositionInfo) (*chain.Extrinsic, error) {
	return s.API.Tx(section, "unlockUnstaked", req.Address)
}

func cancelUnstake(_ context.Context, s *earning.Scope, _ *earning.CancelUnstakeRequest, _ *earning.YieldPositionInfo) (*chain.Extrinsic, error) {
	return s.API.Tx(section, "cancelLeaveDelegators")
}

func claimReward(_ context.Context, s *earning.Scope, _ *earning.ClaimRequest, _ *earning.YieldPositionInfo) (*chain.Extrinsic, error) {
	increment, err := s.API.Tx(section, "incrementDelegatorRewards")
	if err != nil {
		return nil, err
	}
	claim, err := s.API.Tx(section, "claimRewards")
	if err != nil {
		return nil, err
	}
	return chain.Batch(s.API, false, increment, claim)
}
