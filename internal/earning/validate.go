package earning

import (
	"github.com/mrz1836/harvest/internal/chain"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

// Shared validation messages.
const (
	msgAmountPositive = "Amount must be greater than 0"
	msgAmountTooHigh  = "Amount exceeds your staked balance"
)

// validateJoin runs the checks every pool type shares. Failures accumulate.
func validateJoin(s *Scope, req *JoinRequest, stat *Statistic, pos *YieldPositionInfo) harvesterr.ErrorList {
	var errs harvesterr.ErrorList

	if req.Amount.Sign() <= 0 {
		errs.Add(harvesterr.Tx(harvesterr.CodeInvalidParams, msgAmountPositive))
	}
	if stat == nil {
		errs.Add(harvesterr.Tx(harvesterr.CodeInternalError, ""))
		return errs
	}

	total := req.Amount
	if pos.IsStaking() {
		total = total.Add(pos.ActiveStake)
	}
	if total.Cmp(stat.EarningThreshold.Join) < 0 {
		errs.Add(MinStakeError(s, stat.EarningThreshold.Join))
	}

	if stat.MaxCandidatePerFarmer > 0 && req.TargetCount() > stat.MaxCandidatePerFarmer {
		errs.Add(harvesterr.Txf(harvesterr.CodeExceedMaxNominations,
			"You can only choose %d validators", stat.MaxCandidatePerFarmer))
	}
	return errs
}

// validateLeave runs the shared leave checks.
func validateLeave(s *Scope, req *LeaveRequest, stat *Statistic, pos *YieldPositionInfo) harvesterr.ErrorList {
	var errs harvesterr.ErrorList

	if stat == nil || pos == nil {
		errs.Add(harvesterr.Tx(harvesterr.CodeInternalError, ""))
		return errs
	}
	if req.FastLeave {
		errs.Add(harvesterr.Tx(harvesterr.CodeInvalidParams, "Fast unstake is not available for this pool"))
	}
	if req.Amount.Sign() <= 0 {
		errs.Add(harvesterr.Tx(harvesterr.CodeInvalidParams, msgAmountPositive))
	}
	if req.Amount.Cmp(pos.ActiveStake) > 0 {
		errs.Add(harvesterr.Tx(harvesterr.CodeInvalidParams, msgAmountTooHigh))
	}

	remaining := pos.ActiveStake.SubFloor(req.Amount)
	if !remaining.IsZero() && remaining.Cmp(stat.EarningThreshold.Join) < 0 {
		errs.Add(harvesterr.Txf(harvesterr.CodeInvalidActiveStake,
			"Remaining stake must be 0 or at least %s", FormatAmount(s, stat.EarningThreshold.Join)))
	}

	maxUnstake := stat.MaxWithdrawalRequestPerFarmer
	if maxUnstake > 0 && len(pos.Unstakings) >= maxUnstake {
		errs.Add(harvesterr.Txf(harvesterr.CodeExceedMaxUnstaking,
			"You cannot unstake more than %d times", maxUnstake))
	}
	return errs
}

// MinStakeError is the NOT_ENOUGH_MIN_STAKE error for a minimum.
func MinStakeError(s *Scope, minStake chain.Balance) *harvesterr.HarvestError {
	return harvesterr.Txf(harvesterr.CodeNotEnoughMinStake,
		"Insufficient stake. You need to stake at least %s to earn rewards", FormatAmount(s, minStake))
}

// FormatAmount renders a base-unit amount in the chain's native token.
func FormatAmount(s *Scope, b chain.Balance) string {
	return chain.FormatBalance(b, s.Chain.Decimals, s.Chain.Symbol)
}
