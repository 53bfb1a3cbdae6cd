package dappstaking

import (
	"context"
	"strings"

	"github.com/mrz1836/harvest/internal/chain"
	"github.com/mrz1836/harvest/internal/earning"
)

// positionState is the chain state shared by every address of one push.
type positionState struct {
	state   protocolState
	block   uint64
	minimum chain.Balance
	dapps   map[string]earning.DappInfo
}

func loadPositionState(ctx context.Context, s *earning.Scope) (*positionState, error) {
	state, err := readState(ctx, s)
	if err != nil {
		return nil, err
	}
	block, err := earning.Read[uint64](ctx, s.API, "system", "number")
	if err != nil {
		return nil, err
	}
	return &positionState{
		state:   state,
		block:   block,
		minimum: earning.ConstBalance(s.API, section, "minimumStakeAmount", chain.Balance{}),
		dapps:   dappDirectory(ctx, s),
	}, nil
}

// dappDirectory fetches the off-chain dApp list keyed by lower-case address.
// It is empty when the overlay fails.
func dappDirectory(ctx context.Context, s *earning.Scope) map[string]earning.DappInfo {
	out := map[string]earning.DappInfo{}
	var list []earning.DappInfo
	if s.Overlay(ctx, "dapp", func(ctx context.Context, src earning.MetadataSource) error {
		var err error
		list, err = src.Dapps(ctx, s.Chain.Slug)
		return err
	}) {
		for _, d := range list {
			out[strings.ToLower(d.Address)] = d
		}
	}
	return out
}

func positions(ctx context.Context, s *earning.Scope, addresses []string, values []chain.Codec) ([]*earning.YieldPositionInfo, error) {
	var ps *positionState
	out := make([]*earning.YieldPositionInfo, len(addresses))
	for i, addr := range addresses {
		ledger, ok, err := earning.Decode[accountLedger](values[i])
		if err != nil {
			return nil, err
		}
		if !ok || (ledger.Locked.IsZero() && len(ledger.Unlocking) == 0) {
			continue
		}
		if ps == nil {
			if ps, err = loadPositionState(ctx, s); err != nil {
				return nil, err
			}
		}
		stakes, err := stakerEntries(ctx, s, addr)
		if err != nil {
			return nil, err
		}
		out[i] = ledgerPosition(s, ps, ledger, stakes)
	}
	return out, nil
}

func ledgerPosition(s *earning.Scope, ps *positionState, ledger accountLedger, stakes []stakerEntry) *earning.YieldPositionInfo {
	period := ps.state.PeriodInfo.Number
	nominations := make([]earning.NominationInfo, 0, len(stakes))
	active := chain.Balance{}
	for _, st := range stakes {
		stake := st.info.Staked.total()
		if stake.Sign() <= 0 {
			continue
		}
		status := earning.StatusNotEarning
		if st.info.Staked.Period == period {
			active = active.Add(stake)
			if stake.Cmp(ps.minimum) >= 0 {
				status = earning.StatusEarningReward
				if ps.state.voting() {
					status = earning.StatusVoting
				}
			}
		}
		addr := st.contract.address()
		nominations = append(nominations, earning.NominationInfo{
			Chain:             s.Chain.Slug,
			ValidatorAddress:  addr,
			ValidatorIdentity: ps.dapps[strings.ToLower(addr)].Name,
			Status:            status,
			ActiveStake:       stake,
		})
	}

	unstakings := make([]earning.UnstakingInfo, 0, len(ledger.Unlocking))
	blockMs := s.Chain.BlockDuration().Milliseconds()
	for _, chunk := range ledger.Unlocking {
		remaining := int64(chunk.UnlockBlock) - int64(ps.block) //nolint:gosec // block heights fit
		u := earning.UnstakingInfo{
			Chain:       s.Chain.Slug,
			Status:      earning.UnstakingUnlocking,
			Claimable:   chunk.Amount,
			WaitingTime: earning.Float(float64(max(remaining, 0)*blockMs) / 3_600_000),
		}
		if remaining <= 0 {
			u.Status = earning.UnstakingClaimable
		} else {
			u.TargetTimestampMs = earning.Int64(s.Time().UnixMilli() + remaining*blockMs)
		}
		unstakings = append(unstakings, u)
	}

	pos := earning.NewPosition(nominationStatus(active, nominations), active, earning.SumUnstakings(unstakings))
	pos.ActiveLock = ledger.Locked.SubFloor(active)
	pos.IsBondedBefore = active.Sign() > 0
	pos.Nominations = nominations
	pos.Unstakings = unstakings
	return pos
}

// nominationStatus folds the per-dApp statuses. A lock that backs nothing
// earns nothing.
func nominationStatus(active chain.Balance, nominations []earning.NominationInfo) earning.EarningStatus {
	if active.Sign() <= 0 {
		return earning.StatusNotEarning
	}
	status := earning.StatusNotEarning
	for _, n := range nominations {
		switch n.Status {
		case earning.StatusVoting:
			return earning.StatusVoting
		case earning.StatusEarningReward:
			status = earning.StatusEarningReward
		}
	}
	return status
}
