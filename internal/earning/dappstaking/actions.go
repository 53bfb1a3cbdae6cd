package dappstaking

import (
	"context"
	"strings"

	"github.com/mrz1836/harvest/internal/chain"
	"github.com/mrz1836/harvest/internal/earning"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

// validateJoin reads the protocol state fresh: the cached statistic may
// predate an era change.
func validateJoin(ctx context.Context, s *earning.Scope, req *earning.JoinRequest, _ *earning.Statistic, _ *earning.YieldPositionInfo) harvesterr.ErrorList {
	var errs harvesterr.ErrorList
	if len(req.Selected) == 0 {
		errs.Add(harvesterr.Tx(harvesterr.CodeInvalidParams, "Select a dApp"))
	}
	state, err := readState(ctx, s)
	if err != nil {
		errs.Add(harvesterr.Tx(harvesterr.CodeInternalError, err.Error()))
		return errs
	}
	if state.lastEra() {
		errs.Add(harvesterr.Tx(harvesterr.CodeCanNotJoinLastEra, "Cannot stake in the last era. Please wait to the next era"))
	}
	return errs
}

// validateLeave bounds the amount by the stake on the selected dApp in the
// current period.
func validateLeave(ctx context.Context, s *earning.Scope, req *earning.LeaveRequest, _ *earning.Statistic, _ *earning.YieldPositionInfo) harvesterr.ErrorList {
	var errs harvesterr.ErrorList
	if req.SelectedTarget == "" {
		errs.Add(harvesterr.Tx(harvesterr.CodeInvalidParams, "Select a dApp"))
		return errs
	}
	state, err := readState(ctx, s)
	if err != nil {
		errs.Add(harvesterr.Tx(harvesterr.CodeInternalError, err.Error()))
		return errs
	}
	stakes, err := stakerEntries(ctx, s, req.Address)
	if err != nil {
		errs.Add(harvesterr.Tx(harvesterr.CodeInternalError, err.Error()))
		return errs
	}
	staked := chain.Balance{}
	for _, st := range stakes {
		if st.info.Staked.Period == state.PeriodInfo.Number && strings.EqualFold(st.contract.address(), req.SelectedTarget) {
			staked = st.info.Staked.total()
		}
	}
	if req.Amount.Cmp(staked) > 0 {
		errs.Add(harvesterr.Txf(harvesterr.CodeInvalidParams,
			"Amount exceeds your stake on this dApp (%s)", earning.FormatAmount(s, staked)))
	}
	return errs
}

// freeLock is the locked amount not yet staked in the current period.
func freeLock(ctx context.Context, s *earning.Scope, address string) (chain.Balance, error) {
	state, err := readState(ctx, s)
	if err != nil {
		return chain.Balance{}, err
	}
	ledger, err := earning.Read[accountLedger](ctx, s.API, section, "ledger", address)
	if err != nil {
		return chain.Balance{}, err
	}
	return ledger.Locked.SubFloor(ledger.stakedIn(state.PeriodInfo.Number)), nil
}

func buildJoin(ctx context.Context, s *earning.Scope, req *earning.JoinRequest, _ *earning.YieldPositionInfo) (*chain.Extrinsic, earning.ExtrinsicType, error) {
	if len(req.Selected) == 0 {
		return nil, "", harvesterr.Tx(harvesterr.CodeInvalidParams, "Select a dApp")
	}
	free, err := freeLock(ctx, s, req.Address)
	if err != nil {
		return nil, "", err
	}

	stake, err := s.API.Tx(section, "stake", contractOf(req.Selected[0].Address), req.Amount)
	if err != nil {
		return nil, "", err
	}
	if free.Sign() > 0 && free.Cmp(req.Amount) >= 0 {
		return stake, earning.ExtrinsicBond, nil
	}
	lock, err := s.API.Tx(section, "lock", req.Amount.SubFloor(free))
	if err != nil {
		return nil, "", err
	}
	ext, err := chain.Batch(s.API, true, lock, stake)
	return ext, earning.ExtrinsicBond, err
}

// unstake moves stake back to the lock and starts unlocking it.
func unstake(_ context.Context, s *earning.Scope, req *earning.LeaveRequest, _ *earning.YieldPositionInfo) (*chain.Extrinsic, earning.ExtrinsicType, error) {
	if req.SelectedTarget == "" {
		return nil, "", harvesterr.Tx(harvesterr.CodeInvalidParams, "Select a dApp")
	}
	out, err := s.API.Tx(section, "unstake", contractOf(req.SelectedTarget), req.Amount)
	if err != nil {
		return nil, "", err
	}
	unlock, err := s.API.Tx(section, "unlock", req.Amount)
	if err != nil {
		return nil, "", err
	}
	ext, err := chain.Batch(s.API, true, out, unlock)
	return ext, earning.ExtrinsicLeavePool, err
}

func withdraw(_ context.Context, s *earning.Scope, _ *earning.WithdrawRequest, _ *earning.YieldPositionInfo) (*chain.Extrinsic, error) {
	return s.API.Tx(section, "claimUnlocked")
}

func cancelUnstake(_ context.Context, s *earning.Scope, _ *earning.CancelUnstakeRequest, _ *earning.YieldPositionInfo) (*chain.Extrinsic, error) {
	return s.API.Tx(section, "relockUnlocking")
}

// claimReward claims every reward span and every eligible bonus. The runtime
// pays at most one span per claimStakerRewards call.
func claimReward(ctx context.Context, s *earning.Scope, req *earning.ClaimRequest, _ *earning.YieldPositionInfo) (*chain.Extrinsic, error) {
	rc, err := loadRewardContext(ctx, s)
	if err != nil {
		return nil, err
	}
	ledger, err := earning.Read[accountLedger](ctx, s.API, section, "ledger", req.Address)
	if err != nil {
		return nil, err
	}
	w, err := rc.window(ledger)
	if err != nil {
		return nil, err
	}

	var calls []*chain.Extrinsic
	if !w.expired {
		spanLen := max(rc.spanLength, 1)
		claims := int(w.lastSpan/spanLen - w.firstSpan/spanLen + 1)
		for range claims {
			c, err := s.API.Tx(section, "claimStakerRewards")
			if err != nil {
				return nil, err
			}
			calls = append(calls, c)
		}
	}

	stakes, err := stakerEntries(ctx, s, req.Address)
	if err != nil {
		return nil, err
	}
	for _, st := range stakes {
		if !rc.bonusEligible(st.info) {
			continue
		}
		c, err := s.API.Tx(section, "claimBonusReward", st.contract)
		if err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}

	if len(calls) == 0 {
		return nil, harvesterr.Tx(harvesterr.CodeInvalidParams, "No rewards to claim")
	}
	return chain.Batch(s.API, false, calls...)
}
