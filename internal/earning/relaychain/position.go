package relaychain

import (
	"context"
	"math"
	"sort"

	"github.com/mrz1836/harvest/internal/chain"
	"github.com/mrz1836/harvest/internal/earning"
)

// eraState is read once per ledger push and shared by every address.
type eraState struct {
	current uint32
	active  activeEraInfo
	min     chain.Balance
	hours   float64
}

func loadEraState(ctx context.Context, s *earning.Scope) (*eraState, error) {
	current, err := earning.Read[uint32](ctx, s.API, "staking", "currentEra")
	if err != nil {
		return nil, err
	}
	active, err := earning.Read[activeEraInfo](ctx, s.API, "staking", "activeEra")
	if err != nil {
		return nil, err
	}
	minimum, err := minStake(ctx, s.API)
	if err != nil {
		return nil, err
	}
	return &eraState{current: current, active: active, min: minimum, hours: EraHours(s)}, nil
}

func positions(ctx context.Context, s *earning.Scope, addresses []string, values []chain.Codec) ([]*earning.YieldPositionInfo, error) {
	out := make([]*earning.YieldPositionInfo, len(addresses))

	var state *eraState
	for i, v := range values {
		ledger, ok, err := earning.Decode[stakingLedger](v)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if state == nil {
			if state, err = loadEraState(ctx, s); err != nil {
				return nil, err
			}
		}
		if out[i], err = nominatorPosition(ctx, s, state, addresses[i], ledger); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func nominatorPosition(ctx context.Context, s *earning.Scope, state *eraState, address string, ledger stakingLedger) (*earning.YieldPositionInfo, error) {
	noms, err := earning.Read[nominations](ctx, s.API, "staking", "nominators", address)
	if err != nil {
		return nil, err
	}
	bonded, err := s.API.Query(ctx, "staking", "bonded", address)
	if err != nil {
		return nil, err
	}

	list := make([]earning.NominationInfo, 0, len(noms.Targets))
	for _, validator := range noms.Targets {
		others, err := exposureOthers(ctx, s.API, state.current, validator)
		if err != nil {
			return nil, err
		}
		list = append(list, earning.NominationInfo{
			Chain:            s.Chain.Slug,
			ValidatorAddress: validator,
			Status:           nominationStatus(s.API, others, address),
		})
	}
	applyIdentities(ctx, s, list)

	pos := earning.NewPosition(overallStatus(ledger.Active, state.min, list), ledger.Active, ledger.Total.SubFloor(ledger.Active))
	pos.IsBondedBefore = !bonded.IsEmpty()
	pos.Nominations = list
	pos.Unstakings = unlockings(s, state, ledger.Unlocking)
	return pos, nil
}

// exposureOthers returns the nominators backing validator in era, paged or not.
func exposureOthers(ctx context.Context, api chain.Reader, era uint32, validator string) ([]exposureItem, error) {
	if !pagedExposures(api) {
		exp, err := earning.Read[exposure](ctx, api, "staking", "erasStakers", era, validator)
		if err != nil {
			return nil, err
		}
		return exp.Others, nil
	}

	pages, err := api.Entries(ctx, "staking", "erasStakersPaged", era, validator)
	if err != nil {
		return nil, err
	}
	var others []exposureItem
	for _, page := range pages {
		exp, _, err := earning.Decode[exposure](page.Value)
		if err != nil {
			return nil, err
		}
		others = append(others, exp.Others...)
	}
	return others, nil
}

func pagedExposures(api chain.Reader) bool {
	return earning.HasConst(api, "staking", "maxExposurePageSize")
}

// nominationStatus is WAITING when address backs nothing in the exposure,
// EARNING_REWARD when it sits within the rewarded top, NOT_EARNING otherwise.
func nominationStatus(api chain.Reader, others []exposureItem, address string) earning.EarningStatus {
	sorted := append([]exposureItem(nil), others...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Value.Cmp(sorted[j].Value) > 0
	})

	rank := -1
	for i, o := range sorted {
		if chain.SameAccount(o.Who, address) {
			rank = i
			break
		}
	}
	if rank < 0 {
		return earning.StatusWaiting
	}

	limit := earning.ConstInt(api, "staking", "maxNominatorRewardedPerValidator", 0)
	if pagedExposures(api) || limit <= 0 || rank < limit {
		return earning.StatusEarningReward
	}
	return earning.StatusNotEarning
}

func overallStatus(active, minimum chain.Balance, list []earning.NominationInfo) earning.EarningStatus {
	if active.Sign() <= 0 || active.Cmp(minimum) < 0 {
		return earning.StatusNotEarning
	}
	waiting := 0
	for _, n := range list {
		switch n.Status {
		case earning.StatusEarningReward:
			return earning.StatusEarningReward
		case earning.StatusWaiting:
			waiting++
		}
	}
	if waiting == len(list) {
		return earning.StatusWaiting
	}
	return earning.StatusNotEarning
}

// unlockings maps ledger chunks to withdrawal requests. The unlock time is
// projected from the active era start.
func unlockings(s *earning.Scope, state *eraState, chunks []unlockChunk) []earning.UnstakingInfo {
	eraMs := int64(math.Round(state.hours * 3600 * 1000))
	now := s.Time().UnixMilli()

	out := make([]earning.UnstakingInfo, 0, len(chunks))
	for _, chunk := range chunks {
		remaining := int64(chunk.Era) - int64(state.active.Index)
		target := state.active.Start + remaining*eraMs

		u := earning.UnstakingInfo{
			Chain:             s.Chain.Slug,
			Status:            earning.UnstakingUnlocking,
			Claimable:         chunk.Value,
			TargetTimestampMs: earning.Int64(target),
		}
		if remaining <= 0 {
			u.Status = earning.UnstakingClaimable
			u.WaitingTime = earning.Float(0)
		} else {
			u.WaitingTime = earning.Float(max(float64(target-now), 0) / 3600000)
		}
		out = append(out, u)
	}
	return out
}

func applyIdentities(ctx context.Context, s *earning.Scope, list []earning.NominationInfo) {
	if len(list) == 0 {
		return
	}
	addrs := make([]string, 0, len(list))
	for _, n := range list {
		addrs = append(addrs, n.ValidatorAddress)
	}
	var ids map[string]earning.Identity
	if !s.Overlay(ctx, "identity", func(ctx context.Context, src earning.MetadataSource) error {
		var err error
		ids, err = src.Identities(ctx, s.Chain.Slug, addrs)
		return err
	}) {
		return
	}
	for i := range list {
		if id, ok := ids[list[i].ValidatorAddress]; ok {
			list[i].ValidatorIdentity = id.Display
		}
	}
}
