// Package lending implements supply-side money market pools such as the
// Interlay loans pallet. Supplying mints interest bearing qTokens.
package lending

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mrz1836/harvest/internal/chain"
	"github.com/mrz1836/harvest/internal/earning"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

const section = "loans"

const marketActive = "Active"

// rateScale is the fixed point denominator of exchange rates.
var rateScale = chain.MustBalance("1000000000000000000")

const rateExp = -18

type market struct {
	State     string        `json:"state"`
	SupplyCap chain.Balance `json:"supplyCap"`
}

type tokenAccount struct {
	Free chain.Balance `json:"free"`
}

// Ops returns the lending function table.
func Ops() earning.Ops {
	return earning.Ops{
		Kind:            earning.KindLending,
		Type:            earning.Lending,
		Metadata:        metadata,
		InfoTrigger:     earning.StorageRef{Section: section, Storage: "exchangeRate"},
		InfoArgs:        func(s *earning.Scope) []any { return []any{underlying(s)} },
		Info:            info,
		PositionStorage: earning.StorageRef{Section: "tokens", Storage: "accounts"},
		PositionKey: func(s *earning.Scope, address string) any {
			return chain.Key(address, earning.CurrencyID(s.DerivativeAsset))
		},
		Positions:    positions,
		Rewards:      rewards,
		ValidateJoin: validateJoin,
		JoinStep:     earning.StepDetail{Name: "Mint qToken", Type: earning.StepMintQToken},
		BuildJoin:    buildJoin,
		Unstake:      unstake,
		ClaimReward:  claimReward,
	}
}

func metadata(s *earning.Scope) earning.PoolMetadata {
	return earning.PoolMetadata{
		Name:             s.InputAsset.Symbol + " lending",
		ShortName:        s.Chain.Name,
		Description:      "Supply " + s.InputAsset.Symbol + " and earn interest",
		InputAsset:       s.InputSlug(),
		DerivativeAssets: []string{s.DerivativeAsset.Slug},
		MaintainAsset:    s.Chain.NativeTokenSlug(),
	}
}

func underlying(s *earning.Scope) any {
	return earning.CurrencyID(s.InputAsset)
}

// readRate returns the qToken exchange rate scaled by 1e18. A missing rate is par.
func readRate(ctx context.Context, s *earning.Scope) (chain.Balance, error) {
	rate, err := earning.ReadBalance(ctx, s.API, section, "exchangeRate", underlying(s))
	if err != nil {
		return chain.Balance{}, err
	}
	if rate.IsZero() {
		return rateScale, nil
	}
	return rate, nil
}

func rateFloat(rate chain.Balance) float64 {
	f, _ := decimal.NewFromBigInt(rate.Big(), rateExp).Float64()
	return f
}

// toUnderlying converts qTokens at rate, truncating.
func toUnderlying(q, rate chain.Balance) chain.Balance {
	return q.MulDiv(rate, rateScale)
}

func info(ctx context.Context, s *earning.Scope) (*earning.Statistic, error) {
	rate, err := readRate(ctx, s)
	if err != nil {
		return nil, err
	}
	supply, err := earning.ReadBalance(ctx, s.API, section, "totalSupply", underlying(s))
	if err != nil {
		return nil, err
	}

	stat := &earning.Statistic{
		MaxCandidatePerFarmer: 1,
		TVL:                   toUnderlying(supply, rate),
		ExchangeRate:          earning.Float(rateFloat(rate)),
		Assets: []earning.AssetEarning{
			{Slug: s.InputSlug()},
			{Slug: s.DerivativeAsset.Slug, ExchangeRate: earning.Float(rateFloat(rate))},
		},
	}
	var (
		apy   float64
		found bool
	)
	if s.Overlay(ctx, "yield", func(ctx context.Context, src earning.MetadataSource) error {
		var err error
		apy, found, err = src.YieldAPY(ctx, s.Slug)
		return err
	}) && found {
		stat.TotalAPY = earning.Float(apy)
		stat.Assets[0].APY = earning.Float(apy)
	}
	return stat, nil
}

func positions(ctx context.Context, s *earning.Scope, _ []string, values []chain.Codec) ([]*earning.YieldPositionInfo, error) {
	var rate *chain.Balance
	out := make([]*earning.YieldPositionInfo, len(values))
	for i, v := range values {
		acct, ok, err := earning.Decode[tokenAccount](v)
		if err != nil {
			return nil, err
		}
		if !ok || acct.Free.IsZero() {
			continue
		}
		if rate == nil {
			r, err := readRate(ctx, s)
			if err != nil {
				return nil, err
			}
			rate = &r
		}
		pos := earning.NewPosition(earning.StatusEarningReward, toUnderlying(acct.Free, *rate), chain.Balance{})
		pos.IsBondedBefore = true
		pos.DerivativeToken = s.DerivativeAsset.Slug
		pos.ExchangeRate = earning.Float(rateFloat(*rate))
		out[i] = pos
	}
	return out, nil
}

func rewards(ctx context.Context, s *earning.Scope, addresses []string) ([]earning.EarningRewardItem, error) {
	out := make([]earning.EarningRewardItem, 0, len(addresses))
	for _, addr := range addresses {
		v, err := earning.ReadBalance(ctx, s.API, section, "rewardAccrued", addr)
		if err != nil {
			return nil, err
		}
		out = append(out, earning.EarningRewardItem{Address: addr, UnclaimedReward: v})
	}
	return out, nil
}

// validateJoin rejects inactive markets and supplies above the cap.
func validateJoin(ctx context.Context, s *earning.Scope, req *earning.JoinRequest, stat *earning.Statistic, _ *earning.YieldPositionInfo) harvesterr.ErrorList {
	var errs harvesterr.ErrorList

	m, err := earning.Read[market](ctx, s.API, section, "markets", underlying(s))
	if err != nil {
		errs.Add(harvesterr.Tx(harvesterr.CodeInternalError, ""))
		return errs
	}
	if !strings.EqualFold(m.State, marketActive) {
		errs.Add(harvesterr.Tx(harvesterr.CodeInvalidParams, "This market is not accepting supply"))
		return errs
	}
	if m.SupplyCap.Sign() > 0 && stat.TVL.Add(req.Amount).Cmp(m.SupplyCap) > 0 {
		errs.Add(harvesterr.Txf(harvesterr.CodeInvalidParams,
			"Supply cap reached. You can supply at most %s",
			chain.FormatBalance(m.SupplyCap.SubFloor(stat.TVL), s.InputAsset.Decimals, s.InputAsset.Symbol)))
	}
	return errs
}

func buildJoin(_ context.Context, s *earning.Scope, req *earning.JoinRequest, _ *earning.YieldPositionInfo) (*chain.Extrinsic, earning.ExtrinsicType, error) {
	ext, err := s.API.Tx(section, "mint", underlying(s), req.Amount)
	return ext, earning.ExtrinsicMintQToken, err
}

// unstake redeems an underlying amount, or the whole supply when it matches
// the position so no qToken dust is left behind.
func unstake(_ context.Context, s *earning.Scope, req *earning.LeaveRequest, pos *earning.YieldPositionInfo) (*chain.Extrinsic, earning.ExtrinsicType, error) {
	if pos != nil && pos.ActiveStake.Sign() > 0 && req.Amount.Cmp(pos.ActiveStake) >= 0 {
		ext, err := s.API.Tx(section, "redeemAll", underlying(s))
		return ext, earning.ExtrinsicRedeemQToken, err
	}
	ext, err := s.API.Tx(section, "redeem", underlying(s), req.Amount)
	return ext, earning.ExtrinsicRedeemQToken, err
}

func claimReward(_ context.Context, s *earning.Scope, _ *earning.ClaimRequest, _ *earning.YieldPositionInfo) (*chain.Extrinsic, error) {
	return s.API.Tx(section, "claimReward")
}
