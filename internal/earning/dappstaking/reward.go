package dappstaking

import (
	"context"
	"fmt"
	"math"

	"github.com/mrz1836/harvest/internal/chain"
	"github.com/mrz1836/harvest/internal/earning"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

// rewardContext is the chain state shared by every address of one reward pass.
type rewardContext struct {
	state      protocolState
	periodEnds map[uint32]periodEndInfo
	retention  uint32
	spanLength uint32
}

func loadRewardContext(ctx context.Context, s *earning.Scope) (*rewardContext, error) {
	state, err := readState(ctx, s)
	if err != nil {
		return nil, err
	}
	ends, err := periodEnds(ctx, s)
	if err != nil {
		return nil, err
	}
	return &rewardContext{
		state:      state,
		periodEnds: ends,
		retention:  uint32(earning.ConstInt(s.API, section, "rewardRetentionInPeriods", 0)), //nolint:gosec // small runtime constant
		spanLength: uint32(earning.ConstInt(s.API, section, "eraRewardSpanLength", 1)),      //nolint:gosec // small runtime constant
	}, nil
}

// periodEnds scans every periodEnd entry. There is no index by period.
func periodEnds(ctx context.Context, s *earning.Scope) (map[uint32]periodEndInfo, error) {
	entries, err := s.API.Entries(ctx, section, "periodEnd")
	if err != nil {
		return nil, fmt.Errorf("entries %s.periodEnd: %w", section, err)
	}
	out := make(map[uint32]periodEndInfo, len(entries))
	for _, e := range entries {
		if len(e.Keys) == 0 {
			continue
		}
		period, ok, err := earning.Decode[uint32](e.Keys[0])
		if err != nil || !ok {
			continue
		}
		v, ok, err := earning.Decode[periodEndInfo](e.Value)
		if err != nil {
			return nil, err
		}
		if ok {
			out[period] = v
		}
	}
	return out, nil
}

// eraWindow is the claimable era range of one ledger.
type eraWindow struct {
	first, last         uint32
	firstSpan, lastSpan uint32
	expired             bool
}

// window finds the eras the ledger can still claim staker rewards for.
func (rc *rewardContext) window(l accountLedger) (eraWindow, error) {
	first := uint32(math.MaxUint32)
	if l.Staked.Era > 0 {
		first = l.Staked.Era
	}
	lastPeriod := l.Staked.Period
	if l.StakedFuture != nil {
		first = min(first, l.StakedFuture.Era)
		lastPeriod = max(lastPeriod, l.StakedFuture.Period)
	}

	current := int64(rc.state.PeriodInfo.Number)
	var last int64
	switch {
	case int64(lastPeriod) < current-int64(rc.retention):
		return eraWindow{expired: true}, nil
	case int64(lastPeriod) < current:
		last = int64(rc.periodEnds[lastPeriod].FinalEra)
	case int64(lastPeriod) == current:
		last = int64(rc.state.Era) - 1
	default:
		return eraWindow{}, fmt.Errorf("%w: ledger staked in future period %d", harvesterr.ErrMalformedState, lastPeriod)
	}
	if first == math.MaxUint32 || int64(first) > last {
		return eraWindow{expired: true}, nil
	}

	w := eraWindow{first: first, last: uint32(last)} //nolint:gosec // checked against first above
	spanLen := max(rc.spanLength, 1)
	w.firstSpan = w.first - w.first%spanLen
	w.lastSpan = w.last - w.last%spanLen
	return w, nil
}

// stakeAt returns the ledger stake that earned rewards in era.
func stakeAt(l accountLedger, era uint32) chain.Balance {
	if l.StakedFuture == nil {
		if l.Staked.Era <= era {
			return l.Staked.total()
		}
		return chain.Balance{}
	}
	switch {
	case l.StakedFuture.Era <= era:
		return l.StakedFuture.total()
	case l.Staked.Era <= era:
		return l.Staked.total()
	}
	return chain.Balance{}
}

// stakerRewards sums stake * stakerRewardPool / staked over every claimable era,
// truncating per era like the runtime does.
func (rc *rewardContext) stakerRewards(ctx context.Context, s *earning.Scope, l accountLedger) (chain.Balance, error) {
	w, err := rc.window(l)
	if err != nil || w.expired {
		return chain.Balance{}, err
	}

	total := chain.Balance{}
	spanLen := max(rc.spanLength, 1)
	for idx := w.firstSpan; idx <= w.lastSpan; idx += spanLen {
		span, err := earning.Read[eraRewardSpan](ctx, s.API, section, "eraRewards", idx)
		if err != nil {
			return chain.Balance{}, err
		}
		for era := max(span.FirstEra, w.first); era <= min(span.LastEra, w.last); era++ {
			i := int(era - span.FirstEra)
			if i >= len(span.Span) {
				break
			}
			reward := span.Span[i]
			if reward.Staked.IsZero() {
				continue
			}
			total = total.Add(stakeAt(l, era).MulDiv(reward.StakerRewardPool, reward.Staked))
		}
		if idx > math.MaxUint32-spanLen {
			break
		}
	}
	return total, nil
}

// bonusEligible reports whether a staking entry can claim the bonus of its period.
func (rc *rewardContext) bonusEligible(info singularStakingInfo) bool {
	if !info.LoyalStaker || info.Staked.Voting.IsZero() {
		return false
	}
	age := int64(rc.state.PeriodInfo.Number) - int64(info.Staked.Period)
	return age > 0 && age <= int64(rc.retention)
}

// bonusRewards sums voting * bonusRewardPool / totalVpStake for loyal stakes of
// finished periods still inside retention.
func (rc *rewardContext) bonusRewards(stakes []stakerEntry) chain.Balance {
	total := chain.Balance{}
	for _, st := range stakes {
		if !rc.bonusEligible(st.info) {
			continue
		}
		end := rc.periodEnds[st.info.Staked.Period]
		if end.TotalVpStake.IsZero() {
			continue
		}
		total = total.Add(st.info.Staked.Voting.MulDiv(end.BonusRewardPool, end.TotalVpStake))
	}
	return total
}

// stakerEntry is one stakerInfo item of an address.
type stakerEntry struct {
	contract smartContract
	info     singularStakingInfo
}

func stakerEntries(ctx context.Context, s *earning.Scope, address string) ([]stakerEntry, error) {
	entries, err := s.API.Entries(ctx, section, "stakerInfo", address)
	if err != nil {
		return nil, fmt.Errorf("entries %s.stakerInfo: %w", section, err)
	}
	out := make([]stakerEntry, 0, len(entries))
	for _, e := range entries {
		if len(e.Keys) < 2 {
			continue
		}
		contract, ok, err := earning.Decode[smartContract](e.Keys[1])
		if err != nil || !ok {
			continue
		}
		info, ok, err := earning.Decode[singularStakingInfo](e.Value)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, stakerEntry{contract: contract, info: info})
		}
	}
	return out, nil
}

func rewards(ctx context.Context, s *earning.Scope, addresses []string) ([]earning.EarningRewardItem, error) {
	rc, err := loadRewardContext(ctx, s)
	if err != nil {
		return nil, err
	}
	out := make([]earning.EarningRewardItem, 0, len(addresses))
	for _, addr := range addresses {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ledger, err := earning.Read[accountLedger](ctx, s.API, section, "ledger", addr)
		if err != nil {
			return nil, err
		}
		staker, err := rc.stakerRewards(ctx, s, ledger)
		if err != nil {
			return nil, err
		}
		stakes, err := stakerEntries(ctx, s, addr)
		if err != nil {
			return nil, err
		}
		out = append(out, earning.EarningRewardItem{
			Address:         addr,
			UnclaimedReward: staker.Add(rc.bonusRewards(stakes)),
		})
	}
	return out, nil
}
