// Package liquidstaking implements Bifrost-style vToken minting, where stake
// is represented by a derivative token whose exchange rate accrues rewards.
package liquidstaking

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mrz1836/harvest/internal/chain"
	"github.com/mrz1836/harvest/internal/earning"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

const section = "vtokenMinting"

// rateDigits is the precision of the displayed exchange rate.
const rateDigits = 18

// timeUnitHours is the length of one staking era of the underlying relay chain.
var timeUnitHours = map[string]float64{"DOT": 24, "KSM": 6}

const defaultTimeUnitHours = 24

type timeUnit struct {
	Era uint32 `json:"era"`
}

type tokenAccount struct {
	Free     chain.Balance `json:"free"`
	Reserved chain.Balance `json:"reserved"`
	Frozen   chain.Balance `json:"frozen"`
}

// userUnlock is the (total, unlock ids) ledger of one user.
type userUnlock struct {
	Total chain.Balance
	IDs   []uint32
}

func (u *userUnlock) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 2 {
		return fmt.Errorf("%w: user unlock ledger has %d fields", harvesterr.ErrMalformedState, len(raw))
	}
	if err := json.Unmarshal(raw[0], &u.Total); err != nil {
		return err
	}
	return json.Unmarshal(raw[1], &u.IDs)
}

// unlockEntry is the (owner, amount, time unit, redeem type) of one unlock id.
type unlockEntry struct {
	Owner  string
	Amount chain.Balance
	Unit   timeUnit
}

func (e *unlockEntry) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 3 {
		return fmt.Errorf("%w: unlock entry has %d fields", harvesterr.ErrMalformedState, len(raw))
	}
	if err := json.Unmarshal(raw[0], &e.Owner); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[1], &e.Amount); err != nil {
		return err
	}
	return json.Unmarshal(raw[2], &e.Unit)
}

// Ops returns the liquid staking function table.
func Ops() earning.Ops {
	return earning.Ops{
		Kind:            earning.KindLiquidStaking,
		Type:            earning.LiquidStaking,
		Metadata:        metadata,
		InfoTrigger:     earning.StorageRef{Section: section, Storage: "tokenPool"},
		InfoArgs:        func(s *earning.Scope) []any { return []any{inputCurrency(s)} },
		Info:            info,
		PositionStorage: earning.StorageRef{Section: "tokens", Storage: "accounts"},
		PositionKey: func(s *earning.Scope, address string) any {
			return chain.Key(address, derivativeCurrency(s))
		},
		Positions:     positions,
		JoinStep:      earning.StepDetail{Name: "Mint vToken", Type: earning.StepMintVToken},
		BuildJoin:     buildJoin,
		Unstake:       unstake,
		CancelUnstake: cancelUnstake,
	}
}

func metadata(s *earning.Scope) earning.PoolMetadata {
	return earning.PoolMetadata{
		Name:                 s.DerivativeAsset.Symbol + " liquid staking",
		ShortName:            s.Chain.Name,
		Description:          "Mint " + s.DerivativeAsset.Symbol + " and earn staking rewards while keeping liquidity",
		InputAsset:           s.InputSlug(),
		DerivativeAssets:     []string{s.DerivativeAsset.Slug},
		SupportCancelUnstake: true,
		MaintainAsset:        s.Chain.NativeTokenSlug(),
	}
}

func inputCurrency(s *earning.Scope) any {
	return earning.CurrencyID(s.InputAsset)
}

func derivativeCurrency(s *earning.Scope) any {
	return earning.CurrencyID(s.DerivativeAsset)
}

func unitHours(s *earning.Scope) float64 {
	if h, ok := timeUnitHours[strings.ToUpper(s.InputAsset.Symbol)]; ok {
		return h
	}
	return defaultTimeUnitHours
}

// pool is the staked amount behind the vToken supply.
type pool struct {
	staked   chain.Balance
	issuance chain.Balance
}

func readPool(ctx context.Context, s *earning.Scope) (pool, error) {
	staked, err := earning.ReadBalance(ctx, s.API, section, "tokenPool", inputCurrency(s))
	if err != nil {
		return pool{}, err
	}
	issuance, err := earning.ReadBalance(ctx, s.API, "tokens", "totalIssuance", derivativeCurrency(s))
	if err != nil {
		return pool{}, err
	}
	return pool{staked: staked, issuance: issuance}, nil
}

// rate is the amount of input token one vToken redeems for.
func (p pool) rate() float64 {
	if p.issuance.IsZero() {
		return 1
	}
	r, _ := decimal.NewFromBigInt(p.staked.Big(), 0).
		DivRound(decimal.NewFromBigInt(p.issuance.Big(), 0), rateDigits).
		Float64()
	return r
}

// toInput converts a vToken amount, truncating.
func (p pool) toInput(v chain.Balance) chain.Balance {
	if p.issuance.IsZero() {
		return v
	}
	return v.MulDiv(p.staked, p.issuance)
}

// toDerivative converts an input amount, truncating.
func (p pool) toDerivative(v chain.Balance) chain.Balance {
	if p.staked.IsZero() {
		return v
	}
	return v.MulDiv(p.issuance, p.staked)
}

func info(ctx context.Context, s *earning.Scope) (*earning.Statistic, error) {
	p, err := readPool(ctx, s)
	if err != nil {
		return nil, err
	}
	minMint, err := earning.ReadBalance(ctx, s.API, section, "minimumMint", inputCurrency(s))
	if err != nil {
		return nil, err
	}
	unlock, err := earning.Read[timeUnit](ctx, s.API, section, "unlockDuration", inputCurrency(s))
	if err != nil {
		return nil, err
	}
	ongoing, err := earning.Read[timeUnit](ctx, s.API, section, "ongoingTimeUnit", inputCurrency(s))
	if err != nil {
		return nil, err
	}
	hours := unitHours(s)
	rate := p.rate()

	stat := &earning.Statistic{
		Era:                           ongoing.Era,
		EraTime:                       hours,
		MaxCandidatePerFarmer:         1,
		MaxWithdrawalRequestPerFarmer: earning.ConstInt(s.API, section, "maximumUnlockIdOfUser", 0),
		EarningThreshold:              earning.EarningThreshold{Join: minMint, DefaultUnstake: minMint},
		TVL:                           p.staked,
		UnstakingPeriod:               float64(unlock.Era) * hours,
		ExchangeRate:                  earning.Float(rate),
		Assets: []earning.AssetEarning{
			{Slug: s.InputSlug()},
			{Slug: s.DerivativeAsset.Slug, ExchangeRate: earning.Float(rate)},
		},
	}
	if apy, ok := yieldAPY(ctx, s); ok {
		stat.TotalAPY = earning.Float(apy)
		stat.Assets[0].APY = earning.Float(apy)
	}
	return stat, nil
}

// yieldAPY asks the metadata source for the pool APY.
func yieldAPY(ctx context.Context, s *earning.Scope) (float64, bool) {
	var (
		apy   float64
		found bool
	)
	ok := s.Overlay(ctx, "yield", func(ctx context.Context, src earning.MetadataSource) error {
		var err error
		apy, found, err = src.YieldAPY(ctx, s.Slug)
		return err
	})
	return apy, ok && found
}

func positions(ctx context.Context, s *earning.Scope, addresses []string, values []chain.Codec) ([]*earning.YieldPositionInfo, error) {
	var (
		p       *pool
		ongoing timeUnit
	)
	out := make([]*earning.YieldPositionInfo, len(addresses))
	for i, addr := range addresses {
		acct, _, err := earning.Decode[tokenAccount](values[i])
		if err != nil {
			return nil, err
		}
		ledger, err := earning.Read[userUnlock](ctx, s.API, section, "userUnlockLedger", addr, inputCurrency(s))
		if err != nil {
			return nil, err
		}
		if acct.Free.IsZero() && len(ledger.IDs) == 0 {
			continue
		}
		if p == nil {
			loaded, err := readPool(ctx, s)
			if err != nil {
				return nil, err
			}
			p = &loaded
			if ongoing, err = earning.Read[timeUnit](ctx, s.API, section, "ongoingTimeUnit", inputCurrency(s)); err != nil {
				return nil, err
			}
		}
		unstakings, err := unlockings(ctx, s, ledger.IDs, ongoing)
		if err != nil {
			return nil, err
		}

		active := p.toInput(acct.Free)
		status := earning.StatusNotEarning
		if active.Sign() > 0 {
			status = earning.StatusEarningReward
		}
		pos := earning.NewPosition(status, active, earning.SumUnstakings(unstakings))
		pos.IsBondedBefore = true
		pos.Unstakings = unstakings
		pos.DerivativeToken = s.DerivativeAsset.Slug
		pos.ExchangeRate = earning.Float(p.rate())
		out[i] = pos
	}
	return out, nil
}

func unlockings(ctx context.Context, s *earning.Scope, ids []uint32, ongoing timeUnit) ([]earning.UnstakingInfo, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]any, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, chain.Key(inputCurrency(s), id))
	}
	values, err := s.API.Multi(ctx, section, "tokenUnlockLedger", keys)
	if err != nil {
		return nil, fmt.Errorf("multi %s.tokenUnlockLedger: %w", section, err)
	}

	hours := unitHours(s)
	out := make([]earning.UnstakingInfo, 0, len(values))
	for _, v := range values {
		entry, ok, err := earning.Decode[unlockEntry](v)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		u := earning.UnstakingInfo{
			Chain:       s.Chain.Slug,
			Status:      earning.UnstakingClaimable,
			Claimable:   entry.Amount,
			WaitingTime: earning.Float(0),
		}
		if entry.Unit.Era > ongoing.Era {
			u.Status = earning.UnstakingUnlocking
			u.WaitingTime = earning.Float(float64(entry.Unit.Era-ongoing.Era) * hours)
		}
		out = append(out, u)
	}
	return out, nil
}

// buildJoin mints vTokens. The trailing remark and channel arguments only
// exist on newer runtimes.
func buildJoin(_ context.Context, s *earning.Scope, req *earning.JoinRequest, _ *earning.YieldPositionInfo) (*chain.Extrinsic, earning.ExtrinsicType, error) {
	args := []any{inputCurrency(s), req.Amount}
	if arity, ok := s.API.CallArity(section, "mint"); ok {
		switch arity {
		case 3:
			args = append(args, "")
		case 4:
			args = append(args, "", nil)
		}
	}
	ext, err := s.API.Tx(section, "mint", args...)
	return ext, earning.ExtrinsicMintVToken, err
}

// unstake redeems the vTokens worth the requested input amount.
func unstake(ctx context.Context, s *earning.Scope, req *earning.LeaveRequest, _ *earning.YieldPositionInfo) (*chain.Extrinsic, earning.ExtrinsicType, error) {
	p, err := readPool(ctx, s)
	if err != nil {
		return nil, "", err
	}
	ext, err := s.API.Tx(section, "redeem", derivativeCurrency(s), p.toDerivative(req.Amount))
	return ext, earning.ExtrinsicRedeemVToken, err
}

func cancelUnstake(_ context.Context, s *earning.Scope, req *earning.CancelUnstakeRequest, _ *earning.YieldPositionInfo) (*chain.Extrinsic, error) {
	return s.API.Tx(section, "rebond", inputCurrency(s), req.Selected.Claimable)
}
