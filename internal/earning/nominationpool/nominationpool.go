// Package nominationpool implements relay chain nomination pools, where
// members share the stake of a pool that nominates on their behalf.
package nominationpool

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/mrz1836/harvest/internal/chain"
	"github.com/mrz1836/harvest/internal/earning"
	"github.com/mrz1836/harvest/internal/earning/relaychain"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

const section = "nominationPools"

// Pool states.
const (
	stateOpen       = "Open"
	stateDestroying = "Destroying"
)

// defaultMaxUnlockingChunks mirrors the staking pallet limit pools inherit.
const defaultMaxUnlockingChunks = 32

type poolMember struct {
	PoolID        uint32                   `json:"poolId"`
	Points        chain.Balance            `json:"points"`
	UnbondingEras map[string]chain.Balance `json:"unbondingEras"`
}

type poolRoles struct {
	Depositor string `json:"depositor"`
	Root      string `json:"root"`
	Nominator string `json:"nominator"`
	Bouncer   string `json:"bouncer"`
}

type bondedPool struct {
	Points        chain.Balance `json:"points"`
	State         string        `json:"state"`
	MemberCounter int           `json:"memberCounter"`
	Roles         poolRoles     `json:"roles"`
}

// Ops returns the nomination pool function table.
func Ops() earning.Ops {
	return earning.Ops{
		Kind:            earning.KindNominationPool,
		Type:            earning.NominationPool,
		Metadata:        metadata,
		InfoTrigger:     earning.StorageRef{Section: "staking", Storage: "currentEra"},
		Info:            info,
		PositionStorage: earning.StorageRef{Section: section, Storage: "poolMembers"},
		Positions:       positions,
		Rewards:         rewards,
		Targets:         targets,
		ValidateJoin:    validateJoin,
		JoinStep:        earning.StepDetail{Name: "Join nomination pool", Type: earning.StepJoinNominationPool},
		BuildJoin:       buildJoin,
		Unstake:         unstake,
		Withdraw:        withdraw,
		ClaimReward:     claimReward,
	}
}

func metadata(s *earning.Scope) earning.PoolMetadata {
	return earning.PoolMetadata{
		Name:              s.Chain.Name + " nomination pool",
		ShortName:         s.Chain.Name,
		Description:       "Join a pool and earn staking rewards with a small stake",
		InputAsset:        s.InputSlug(),
		SupportWithdrawal: true,
		MaintainAsset:     s.Chain.NativeTokenSlug(),
	}
}

func info(ctx context.Context, s *earning.Scope) (*earning.Statistic, error) {
	api := s.API
	era, err := earning.Read[uint32](ctx, api, "staking", "currentEra")
	if err != nil {
		return nil, err
	}
	minJoin, err := earning.ReadBalance(ctx, api, section, "minJoinBond")
	if err != nil {
		return nil, err
	}
	members, err := earning.Read[int](ctx, api, section, "counterForPoolMembers")
	if err != nil {
		return nil, err
	}
	tvl, err := earning.ReadBalance(ctx, api, section, "totalValueLocked")
	if err != nil {
		return nil, err
	}
	hours := relaychain.EraHours(s)

	return &earning.Statistic{
		Era:                           era,
		EraTime:                       hours,
		MaxCandidatePerFarmer:         1,
		MaxWithdrawalRequestPerFarmer: earning.ConstInt(api, "staking", "maxUnlockingChunks", defaultMaxUnlockingChunks),
		EarningThreshold:              earning.EarningThreshold{Join: minJoin},
		FarmerCount:                   members,
		TVL:                           tvl,
		UnstakingPeriod:               float64(earning.ConstInt(api, "staking", "bondingDuration", 0)) * hours,
		Assets:                        []earning.AssetEarning{{Slug: s.InputSlug()}},
	}, nil
}

// pointsToBalance converts pool points through the runtime API. Runtimes
// without it are treated as one point per unit.
func pointsToBalance(ctx context.Context, api chain.Reader, poolID uint32, points chain.Balance) (chain.Balance, error) {
	c, err := api.Call(ctx, "nominationPoolsApi.pointsToBalance", poolID, points)
	if err != nil {
		return chain.Balance{}, fmt.Errorf("call pointsToBalance: %w", err)
	}
	v, ok, err := earning.Decode[chain.Balance](c)
	if err != nil {
		return chain.Balance{}, err
	}
	if !ok {
		return points, nil
	}
	return v, nil
}

func balanceToPoints(ctx context.Context, api chain.Reader, poolID uint32, amount chain.Balance) (chain.Balance, error) {
	c, err := api.Call(ctx, "nominationPoolsApi.balanceToPoints", poolID, amount)
	if err != nil {
		return chain.Balance{}, fmt.Errorf("call balanceToPoints: %w", err)
	}
	v, ok, err := earning.Decode[chain.Balance](c)
	if err != nil {
		return chain.Balance{}, err
	}
	if !ok {
		return amount, nil
	}
	return v, nil
}

func poolName(ctx context.Context, api chain.Reader, poolID uint32) string {
	name, err := earning.Read[string](ctx, api, section, "metadata", poolID)
	if err != nil {
		return ""
	}
	return name
}

func positions(ctx context.Context, s *earning.Scope, addresses []string, values []chain.Codec) ([]*earning.YieldPositionInfo, error) {
	var era *uint32
	out := make([]*earning.YieldPositionInfo, len(addresses))
	for i := range addresses {
		member, ok, err := earning.Decode[poolMember](values[i])
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if era == nil {
			current, err := earning.Read[uint32](ctx, s.API, "staking", "currentEra")
			if err != nil {
				return nil, err
			}
			era = &current
		}
		pos, err := memberPosition(ctx, s, member, *era)
		if err != nil {
			return nil, err
		}
		out[i] = pos
	}
	return out, nil
}

type unbondChunk struct {
	era    uint32
	amount chain.Balance
}

func sortedUnbonding(raw map[string]chain.Balance) []unbondChunk {
	out := make([]unbondChunk, 0, len(raw))
	for k, v := range raw {
		era, err := strconv.ParseUint(k, 10, 32)
		if err != nil {
			continue
		}
		out = append(out, unbondChunk{era: uint32(era), amount: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].era < out[j].era })
	return out
}

func memberPosition(ctx context.Context, s *earning.Scope, member poolMember, era uint32) (*earning.YieldPositionInfo, error) {
	active, err := pointsToBalance(ctx, s.API, member.PoolID, member.Points)
	if err != nil {
		return nil, err
	}
	pool, _, err := earning.Decode[bondedPool](queryOrEmpty(ctx, s.API, "bondedPools", member.PoolID))
	if err != nil {
		return nil, err
	}
	minJoin, err := earning.ReadBalance(ctx, s.API, section, "minJoinBond")
	if err != nil {
		return nil, err
	}

	hours := relaychain.EraHours(s)
	chunks := sortedUnbonding(member.UnbondingEras)
	unstakings := make([]earning.UnstakingInfo, 0, len(chunks))
	for _, c := range chunks {
		u := earning.UnstakingInfo{
			Chain:       s.Chain.Slug,
			Status:      earning.UnstakingUnlocking,
			Claimable:   c.amount,
			WaitingTime: earning.Float(0),
		}
		if c.era <= era {
			u.Status = earning.UnstakingClaimable
		} else {
			u.WaitingTime = earning.Float(float64(c.era-era) * hours)
		}
		unstakings = append(unstakings, u)
	}

	status := earning.StatusNotEarning
	if active.Sign() > 0 && pool.State != stateDestroying {
		status = earning.StatusEarningReward
	}
	id := strconv.FormatUint(uint64(member.PoolID), 10)
	pos := earning.NewPosition(status, active, earning.SumUnstakings(unstakings))
	pos.IsBondedBefore = true
	pos.Nominations = []earning.NominationInfo{{
		Chain:             s.Chain.Slug,
		ValidatorAddress:  id,
		ValidatorIdentity: poolName(ctx, s.API, member.PoolID),
		Status:            status,
		ActiveStake:       active,
		ValidatorMinStake: minJoin,
		HasUnstaking:      len(unstakings) > 0,
	}}
	pos.Unstakings = unstakings
	return pos, nil
}

// queryOrEmpty returns nil on failure, which decodes as an empty slot.
func queryOrEmpty(ctx context.Context, api chain.Reader, storage string, args ...any) chain.Codec {
	c, err := api.Query(ctx, section, storage, args...)
	if err != nil {
		return nil
	}
	return c
}

func rewards(ctx context.Context, s *earning.Scope, addresses []string) ([]earning.EarningRewardItem, error) {
	out := make([]earning.EarningRewardItem, 0, len(addresses))
	for _, addr := range addresses {
		c, err := s.API.Call(ctx, "nominationPoolsApi.pendingRewards", addr)
		if err != nil {
			return nil, fmt.Errorf("call pendingRewards: %w", err)
		}
		v, _, err := earning.Decode[chain.Balance](c)
		if err != nil {
			return nil, err
		}
		out = append(out, earning.EarningRewardItem{Address: addr, UnclaimedReward: v})
	}
	return out, nil
}

// targets lists joinable pools, largest first.
func targets(ctx context.Context, s *earning.Scope, _ *earning.Statistic) ([]earning.ValidatorInfo, error) {
	entries, err := s.API.Entries(ctx, section, "bondedPools")
	if err != nil {
		return nil, fmt.Errorf("entries %s.bondedPools: %w", section, err)
	}
	maxMembers := 0
	if v, err := earning.Read[int](ctx, s.API, section, "maxPoolMembersPerPool"); err == nil {
		maxMembers = v
	}

	out := make([]earning.ValidatorInfo, 0, len(entries))
	for _, e := range entries {
		if len(e.Keys) == 0 {
			continue
		}
		id, ok, err := earning.Decode[uint32](e.Keys[0])
		if err != nil || !ok {
			continue
		}
		pool, ok, err := earning.Decode[bondedPool](e.Value)
		if err != nil {
			return nil, err
		}
		if !ok || pool.State != stateOpen {
			continue
		}
		out = append(out, earning.ValidatorInfo{
			Address:        strconv.FormatUint(uint64(id), 10),
			TotalStake:     pool.Points,
			OtherStake:     pool.Points,
			NominatorCount: pool.MemberCounter,
			Identity:       poolName(ctx, s.API, id),
			IsCrowded:      maxMembers > 0 && pool.MemberCounter >= maxMembers,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalStake.Cmp(out[j].TotalStake) > 0 })
	return out, nil
}

func parsePoolID(raw string) (uint32, error) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, harvesterr.Txf(harvesterr.CodeInvalidParams, "Invalid pool %q", raw)
	}
	return uint32(id), nil
}

// validateJoin requires one open pool, and the pool already joined if any.
func validateJoin(ctx context.Context, s *earning.Scope, req *earning.JoinRequest, _ *earning.Statistic, pos *earning.YieldPositionInfo) harvesterr.ErrorList {
	var errs harvesterr.ErrorList
	if req.PoolID == "" {
		errs.Add(harvesterr.Tx(harvesterr.CodeInvalidParams, "Select a pool"))
		return errs
	}
	id, err := parsePoolID(req.PoolID)
	if err != nil {
		errs.Add(err)
		return errs
	}
	if pos.IsStaking() && len(pos.Nominations) > 0 && pos.Nominations[0].ValidatorAddress != req.PoolID {
		errs.Add(harvesterr.Tx(harvesterr.CodeInvalidParams, "You can only join one pool at a time"))
	}

	pool, ok, err := earning.Decode[bondedPool](queryOrEmpty(ctx, s.API, "bondedPools", id))
	switch {
	case err != nil:
		errs.Add(harvesterr.Tx(harvesterr.CodeInternalError, err.Error()))
	case !ok || pool.State != stateOpen:
		state := pool.State
		if !ok {
			state = "missing"
		}
		errs.Add(harvesterr.WithDetails(harvesterr.ErrInactivePool, map[string]string{"pool": req.PoolID, "state": state}))
	}
	return errs
}

func buildJoin(_ context.Context, s *earning.Scope, req *earning.JoinRequest, pos *earning.YieldPositionInfo) (*chain.Extrinsic, earning.ExtrinsicType, error) {
	if pos != nil && pos.IsBondedBefore {
		ext, err := s.API.Tx(section, "bondExtra", map[string]any{"FreeBalance": req.Amount})
		return ext, earning.ExtrinsicJoinPool, err
	}
	id, err := parsePoolID(req.PoolID)
	if err != nil {
		return nil, "", err
	}
	ext, err := s.API.Tx(section, "join", req.Amount, id)
	return ext, earning.ExtrinsicJoinPool, err
}

func memberPool(pos *earning.YieldPositionInfo) (uint32, error) {
	if pos == nil || len(pos.Nominations) == 0 {
		return 0, harvesterr.Tx(harvesterr.CodeInvalidParams, "Not a pool member")
	}
	return parsePoolID(pos.Nominations[0].ValidatorAddress)
}

func unstake(ctx context.Context, s *earning.Scope, req *earning.LeaveRequest, pos *earning.YieldPositionInfo) (*chain.Extrinsic, earning.ExtrinsicType, error) {
	id, err := memberPool(pos)
	if err != nil {
		return nil, "", err
	}
	points, err := balanceToPoints(ctx, s.API, id, req.Amount)
	if err != nil {
		return nil, "", err
	}
	ext, err := s.API.Tx(section, "unbond", req.Address, points)
	return ext, earning.ExtrinsicUnbond, err
}

func withdraw(ctx context.Context, s *earning.Scope, req *earning.WithdrawRequest, pos *earning.YieldPositionInfo) (*chain.Extrinsic, error) {
	id, err := memberPool(pos)
	if err != nil {
		return nil, err
	}
	spans, err := poolSlashingSpans(ctx, s, id)
	if err != nil {
		return nil, err
	}
	return s.API.Tx(section, "withdrawUnbonded", req.Address, spans)
}

func claimReward(_ context.Context, s *earning.Scope, req *earning.ClaimRequest, _ *earning.YieldPositionInfo) (*chain.Extrinsic, error) {
	if req.BondReward {
		return s.API.Tx(section, "bondExtra", "Rewards")
	}
	return s.API.Tx(section, "claimPayout")
}
