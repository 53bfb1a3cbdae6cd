package relaychain

import (
	"context"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mrz1836/harvest/internal/chain"
	"github.com/mrz1836/harvest/internal/earning"
)

// perbillPerPercent converts a perbill commission into percent.
const perbillPerPercent = 10_000_000

func targets(ctx context.Context, s *earning.Scope, stat *earning.Statistic) ([]earning.ValidatorInfo, error) {
	api := s.API
	era := stat.Era

	active, err := earning.Read[activeEraInfo](ctx, api, "staking", "activeEra")
	if err != nil {
		return nil, err
	}

	var (
		prefs  map[string]validatorPrefs
		points map[string]uint32
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		prefs, err = validatorPrefsMap(gctx, api)
		return err
	})
	g.Go(func() (err error) {
		points, err = rewardPoints(gctx, api, active.Index)
		return err
	})
	if err = g.Wait(); err != nil {
		return nil, err
	}
	top := topQuartile(points)

	minBond, err := earning.ReadBalance(ctx, api, "staking", "minNominatorBond")
	if err != nil {
		return nil, err
	}
	totalEraStake, err := earning.ReadBalance(ctx, api, "staking", "erasTotalStake", era)
	if err != nil {
		return nil, err
	}

	storage := "erasStakers"
	if pagedExposures(api) {
		storage = "erasStakersOverview"
	}
	entries, err := api.Entries(ctx, "staking", storage, era)
	if err != nil {
		return nil, err
	}

	maxRewarded := earning.ConstInt(api, "staking", "maxNominatorRewardedPerValidator", 0)
	uncapped := pagedExposures(api) || maxRewarded <= 0

	list := make([]earning.ValidatorInfo, 0, len(entries))
	for _, entry := range entries {
		if len(entry.Keys) < 2 {
			continue
		}
		address, _, err := earning.Decode[string](entry.Keys[1])
		if err != nil {
			return nil, err
		}
		pref := prefs[address]
		if pref.Blocked {
			continue
		}
		exp, _, err := earning.Decode[exposure](entry.Value)
		if err != nil {
			return nil, err
		}

		count := exp.NominatorCount
		if count == 0 {
			count = len(exp.Others)
		}
		list = append(list, earning.ValidatorInfo{
			Address:        address,
			TotalStake:     exp.Total,
			OwnStake:       exp.Own,
			OtherStake:     exp.Total.SubFloor(exp.Own),
			NominatorCount: count,
			Commission:     float64(pref.Commission) / perbillPerPercent,
			MinBond:        minBond,
			IsCrowded:      !uncapped && count > maxRewarded,
			EraRewardPoint: strconv.FormatUint(uint64(points[address]), 10),
			TopQuartile:    top[address],
		})
	}

	apy := 0.0
	if stat.TotalAPY != nil {
		apy = *stat.TotalAPY
	}
	if len(list) > 0 {
		avg := chain.ToDecimal(totalEraStake, s.Chain.Decimals).Div(decimal.NewFromInt(int64(len(list))))
		for i := range list {
			list[i].ExpectedReturn = expectedReturn(apy, avg, chain.ToDecimal(list[i].TotalStake, s.Chain.Decimals), list[i].Commission)
		}
	}

	applyValidatorIdentities(ctx, s, list)
	return list, nil
}

// expectedReturn is apy × avgStake / stake × (1 − commission).
func expectedReturn(apy float64, avg, stake decimal.Decimal, commissionPercent float64) float64 {
	if stake.IsZero() {
		return 0
	}
	keep := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(commissionPercent).Div(decimal.NewFromInt(100)))
	return decimal.NewFromFloat(apy).Mul(avg).Div(stake).Mul(keep).InexactFloat64()
}

func validatorPrefsMap(ctx context.Context, api chain.Reader) (map[string]validatorPrefs, error) {
	entries, err := api.Entries(ctx, "staking", "validators")
	if err != nil {
		return nil, err
	}
	out := make(map[string]validatorPrefs, len(entries))
	for _, entry := range entries {
		if len(entry.Keys) == 0 {
			continue
		}
		address, _, err := earning.Decode[string](entry.Keys[0])
		if err != nil {
			return nil, err
		}
		pref, _, err := earning.Decode[validatorPrefs](entry.Value)
		if err != nil {
			return nil, err
		}
		out[address] = pref
	}
	return out, nil
}

// rewardPoints sums individual era points over the eras before activeEra.
func rewardPoints(ctx context.Context, api chain.Reader, activeEra uint32) (map[string]uint32, error) {
	if activeEra == 0 {
		return map[string]uint32{}, nil
	}
	end := int64(activeEra) - 1
	start := max(end-rewardPointEras+1, 0)

	keys := make([]any, 0, end-start+1)
	for e := start; e <= end; e++ {
		keys = append(keys, uint32(e)) //nolint:gosec // bounded by activeEra
	}
	values, err := api.Multi(ctx, "staking", "erasRewardPoints", keys)
	if err != nil {
		return nil, err
	}

	out := make(map[string]uint32)
	for _, v := range values {
		pts, _, err := earning.Decode[eraRewardPoints](v)
		if err != nil {
			return nil, err
		}
		for addr, p := range pts.Individual {
			out[addr] += p
		}
	}
	return out, nil
}

// topQuartile marks the best quarter of validators by points.
func topQuartile(points map[string]uint32) map[string]bool {
	addrs := make([]string, 0, len(points))
	for addr := range points {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		if points[addrs[i]] != points[addrs[j]] {
			return points[addrs[i]] > points[addrs[j]]
		}
		return addrs[i] < addrs[j]
	})

	n := len(addrs) / 4
	if n == 0 && len(addrs) > 0 {
		n = 1
	}
	out := make(map[string]bool, n)
	for _, addr := range addrs[:n] {
		out[addr] = true
	}
	return out
}

func applyValidatorIdentities(ctx context.Context, s *earning.Scope, list []earning.ValidatorInfo) {
	if len(list) == 0 {
		return
	}
	addrs := make([]string, 0, len(list))
	for _, v := range list {
		addrs = append(addrs, v.Address)
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
		if id, ok := ids[list[i].Address]; ok {
			list[i].Identity = id.Display
			list[i].IsVerified = id.Verified
		}
	}
}
