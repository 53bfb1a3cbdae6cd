package dappstaking

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mrz1836/harvest/internal/chain"
	"github.com/mrz1836/harvest/internal/earning"
)

// targets lists registered dApps with their stake this era, named from the
// off-chain directory when it answers.
func targets(ctx context.Context, s *earning.Scope, _ *earning.Statistic) ([]earning.ValidatorInfo, error) {
	state, err := readState(ctx, s)
	if err != nil {
		return nil, err
	}
	dapps, err := s.API.Entries(ctx, section, "integratedDApps")
	if err != nil {
		return nil, fmt.Errorf("entries %s.integratedDApps: %w", section, err)
	}
	stakes, err := s.API.Entries(ctx, section, "contractStake")
	if err != nil {
		return nil, fmt.Errorf("entries %s.contractStake: %w", section, err)
	}

	byID := make(map[uint32]contractStake, len(stakes))
	for _, e := range stakes {
		if len(e.Keys) == 0 {
			continue
		}
		id, ok, err := earning.Decode[uint32](e.Keys[0])
		if err != nil || !ok {
			continue
		}
		cs, _, err := earning.Decode[contractStake](e.Value)
		if err != nil {
			return nil, err
		}
		byID[id] = cs
	}
	directory := dappDirectory(ctx, s)

	out := make([]earning.ValidatorInfo, 0, len(dapps))
	for _, e := range dapps {
		if len(e.Keys) == 0 {
			continue
		}
		contract, ok, err := earning.Decode[smartContract](e.Keys[0])
		if err != nil || !ok {
			continue
		}
		d, ok, err := earning.Decode[dappEntry](e.Value)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		addr := contract.address()
		total := byID[d.ID].current(state.Era)
		meta := directory[strings.ToLower(addr)]
		out = append(out, earning.ValidatorInfo{
			Address:    addr,
			TotalStake: total,
			OwnStake:   chain.Balance{},
			OtherStake: total,
			IsVerified: meta.Verified,
			Identity:   meta.Name,
			Icon:       meta.Icon,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalStake.Cmp(out[j].TotalStake) > 0 })
	return out, nil
}
