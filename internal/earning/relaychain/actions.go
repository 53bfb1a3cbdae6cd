package relaychain

import (
	"context"

	"github.com/mrz1836/harvest/internal/chain"
	"github.com/mrz1836/harvest/internal/earning"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

// bondTakesController reports whether staking.bond still expects the
// controller account. Runtimes from spec 9420 dropped it; older ones are
// checked by the declared arity.
func bondTakesController(api chain.TxBuilder) bool {
	if api.SpecVersion() >= bondWithoutControllerSpec {
		return false
	}
	if arity, ok := api.CallArity("staking", "bond"); ok {
		return arity != 2
	}
	return api.SpecVersion() > 0
}

func bondCall(api chain.TxBuilder, address string, amount chain.Balance) (*chain.Extrinsic, error) {
	if bondTakesController(api) {
		return api.Tx("staking", "bond", address, amount, payee)
	}
	return api.Tx("staking", "bond", amount, payee)
}

func buildJoin(_ context.Context, s *earning.Scope, req *earning.JoinRequest, pos *earning.YieldPositionInfo) (*chain.Extrinsic, earning.ExtrinsicType, error) {
	api := s.API
	targets := req.TargetAddresses()

	if pos == nil || !pos.IsBondedBefore {
		if len(targets) == 0 {
			return nil, "", harvesterr.Tx(harvesterr.CodeInvalidParams, "Select at least one validator")
		}
		bond, err := bondCall(api, req.Address, req.Amount)
		if err != nil {
			return nil, "", err
		}
		nominate, err := api.Tx("staking", "nominate", targets)
		if err != nil {
			return nil, "", err
		}
		ext, err := chain.Batch(api, true, bond, nominate)
		return ext, earning.ExtrinsicBond, err
	}

	var calls []*chain.Extrinsic
	if req.Amount.Sign() > 0 {
		extra, err := api.Tx("staking", "bondExtra", req.Amount)
		if err != nil {
			return nil, "", err
		}
		calls = append(calls, extra)
	}
	if len(targets) > 0 {
		nominate, err := api.Tx("staking", "nominate", targets)
		if err != nil {
			return nil, "", err
		}
		calls = append(calls, nominate)
	}
	if len(calls) == 0 {
		return nil, "", harvesterr.Tx(harvesterr.CodeInvalidParams, "Nothing to stake")
	}
	ext, err := chain.Batch(api, true, calls...)
	return ext, earning.ExtrinsicBond, err
}

// unstake unbonds the amount and chills when nothing stays active.
func unstake(_ context.Context, s *earning.Scope, req *earning.LeaveRequest, pos *earning.YieldPositionInfo) (*chain.Extrinsic, earning.ExtrinsicType, error) {
	unbond, err := s.API.Tx("staking", "unbond", req.Amount)
	if err != nil {
		return nil, "", err
	}
	if pos == nil || req.Amount.Cmp(pos.ActiveStake) != 0 {
		return unbond, earning.ExtrinsicLeavePool, nil
	}
	chill, err := s.API.Tx("staking", "chill")
	if err != nil {
		return nil, "", err
	}
	ext, err := chain.Batch(s.API, true, chill, unbond)
	return ext, earning.ExtrinsicLeavePool, err
}

func withdraw(ctx context.Context, s *earning.Scope, req *earning.WithdrawRequest, _ *earning.YieldPositionInfo) (*chain.Extrinsic, error) {
	if arity, ok := s.API.CallArity("staking", "withdrawUnbonded"); ok && arity == 0 {
		return s.API.Tx("staking", "withdrawUnbonded")
	}
	spans, err := earning.Read[slashingSpans](ctx, s.API, "staking", "slashingSpans", req.Address)
	if err != nil {
		return nil, err
	}
	return s.API.Tx("staking", "withdrawUnbonded", spans.SpanIndex)
}

func cancelUnstake(_ context.Context, s *earning.Scope, req *earning.CancelUnstakeRequest, _ *earning.YieldPositionInfo) (*chain.Extrinsic, error) {
	return s.API.Tx("staking", "rebond", req.Selected.Claimable)
}
