package earning

import (
	"github.com/mrz1836/harvest/internal/chain"
)

// Normalize enforces TotalStake == ActiveStake + UnstakeBalance and replaces
// nil slices with empty ones.
func (p *YieldPositionInfo) Normalize() *YieldPositionInfo {
	p.TotalStake = p.ActiveStake.Add(p.UnstakeBalance)
	if p.Nominations == nil {
		p.Nominations = []NominationInfo{}
	}
	if p.Unstakings == nil {
		p.Unstakings = []UnstakingInfo{}
	}
	if p.Status == "" {
		p.Status = StatusNotStaking
	}
	return p
}

// IsStaking reports whether the address holds any stake in the pool.
func (p *YieldPositionInfo) IsStaking() bool {
	return p != nil && p.Status != StatusNotStaking && !p.TotalStake.IsZero()
}

// NewPosition builds a position from its active and unlocking parts.
func NewPosition(status EarningStatus, active, unstaking chain.Balance) *YieldPositionInfo {
	p := &YieldPositionInfo{
		Status:         status,
		ActiveStake:    active,
		UnstakeBalance: unstaking,
	}
	return p.Normalize()
}

// SumUnstakings returns the total of every unstaking chunk.
func SumUnstakings(unstakings []UnstakingInfo) chain.Balance {
	total := chain.Balance{}
	for _, u := range unstakings {
		total = total.Add(u.Claimable)
	}
	return total
}

// Float returns a pointer to v for optional statistic fields.
func Float(v float64) *float64 {
	return &v
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}
