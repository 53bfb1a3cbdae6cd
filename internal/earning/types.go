// Package earning normalizes heterogeneous on-chain staking primitives into
// one pool/position model and drives them through a uniform Handler.
package earning

import (
	"github.com/mrz1836/harvest/internal/chain"
)

// YieldPoolType is the family of an earning opportunity.
type YieldPoolType string

// Pool types.
const (
	NominationPool YieldPoolType = "NOMINATION_POOL"
	NativeStaking  YieldPoolType = "NATIVE_STAKING"
	LiquidStaking  YieldPoolType = "LIQUID_STAKING"
	Lending        YieldPoolType = "LENDING"
)

// EarningStatus is the state of a position or a single nomination.
type EarningStatus string

// Earning statuses.
const (
	StatusNotStaking    EarningStatus = "NOT_STAKING"
	StatusWaiting       EarningStatus = "WAITING"
	StatusEarningReward EarningStatus = "EARNING_REWARD"
	StatusNotEarning    EarningStatus = "NOT_EARNING"
	StatusVoting        EarningStatus = "VOTING"
)

// UnstakingStatus is the state of one withdrawal chunk.
type UnstakingStatus string

// Unstaking statuses.
const (
	UnstakingClaimable UnstakingStatus = "CLAIMABLE"
	UnstakingUnlocking UnstakingStatus = "UNLOCKING"
)

// EarningThreshold holds the minimum amounts for pool actions.
type EarningThreshold struct {
	Join           chain.Balance `json:"join"`
	DefaultUnstake chain.Balance `json:"defaultUnstake"`
	FastUnstake    chain.Balance `json:"fastUnstake"`
}

// AssetEarning is the yield of one asset inside a pool.
type AssetEarning struct {
	Slug         string   `json:"slug"`
	APY          *float64 `json:"apy,omitempty"`
	ExchangeRate *float64 `json:"exchangeRate,omitempty"`
}

// Statistic is refreshed on every chain push.
type Statistic struct {
	Era                           uint32           `json:"era"`
	EraTime                       float64          `json:"eraTime"`
	EarningThreshold              EarningThreshold `json:"earningThreshold"`
	MaxCandidatePerFarmer         int              `json:"maxCandidatePerFarmer"`
	MaxWithdrawalRequestPerFarmer int              `json:"maxWithdrawalRequestPerFarmer"`
	FarmerCount                   int              `json:"farmerCount"`
	TVL                           chain.Balance    `json:"tvl"`
	TotalAPY                      *float64         `json:"totalApy,omitempty"`
	TotalAPR                      *float64         `json:"totalApr,omitempty"`
	UnstakingPeriod               float64          `json:"unstakingPeriod"`
	Inflation                     *float64         `json:"inflation,omitempty"`
	ExchangeRate                  *float64         `json:"exchangeRate,omitempty"`
	Assets                        []AssetEarning   `json:"assetEarning,omitempty"`

	// Dapp staking only.
	InVotingSubperiod bool   `json:"inVotingSubperiod,omitempty"`
	LastEraOfPeriod   bool   `json:"lastEraOfPeriod,omitempty"`
	Period            uint32 `json:"period,omitempty"`
}

// PoolMetadata is the static description of a pool.
type PoolMetadata struct {
	Name                 string        `json:"name"`
	ShortName            string        `json:"shortName"`
	Description          string        `json:"description"`
	Logo                 string        `json:"logo"`
	InputAsset           string        `json:"inputAsset"`
	DerivativeAssets     []string      `json:"derivativeAssets,omitempty"`
	SupportWithdrawal    bool          `json:"isAvailable"`
	SupportCancelUnstake bool          `json:"allowCancelUnstaking"`
	MaintainAsset        string        `json:"maintainAsset"`
	MaintainBalance      chain.Balance `json:"maintainBalance"`
}

// YieldPoolInfo describes one earning opportunity on one chain.
// Statistic is nil until the first successful chain read.
type YieldPoolInfo struct {
	Slug      string        `json:"slug"`
	Chain     chain.ID      `json:"chain"`
	Type      YieldPoolType `json:"type"`
	Group     string        `json:"group"`
	Metadata  PoolMetadata  `json:"metadata"`
	Statistic *Statistic    `json:"statistic,omitempty"`
}

// IsLoading reports whether no chain read has completed yet.
func (p *YieldPoolInfo) IsLoading() bool {
	return p.Statistic == nil
}

// NominationInfo is one backed validator, collator or dapp.
type NominationInfo struct {
	Chain             chain.ID      `json:"chain"`
	ValidatorAddress  string        `json:"validatorAddress"`
	ValidatorIdentity string        `json:"validatorIdentity,omitempty"`
	Status            EarningStatus `json:"status"`
	ActiveStake       chain.Balance `json:"activeStake"`
	ValidatorMinStake chain.Balance `json:"validatorMinStake"`
	HasUnstaking      bool          `json:"hasUnstaking"`
}

// UnstakingInfo is one pending withdrawal chunk.
type UnstakingInfo struct {
	Chain             chain.ID        `json:"chain"`
	Status            UnstakingStatus `json:"status"`
	Claimable         chain.Balance   `json:"claimable"`
	WaitingTime       *float64        `json:"waitingTime,omitempty"`
	TargetTimestampMs *int64          `json:"targetTimestampMs,omitempty"`
	ValidatorAddress  string          `json:"validatorAddress,omitempty"`
}

// YieldPositionInfo is one address's stake in one pool.
// TotalStake always equals ActiveStake + UnstakeBalance. ActiveLock is the
// dApp staking lock not staked in the current period.
type YieldPositionInfo struct {
	Address         string           `json:"address"`
	Slug            string           `json:"slug"`
	Chain           chain.ID         `json:"chain"`
	Type            YieldPoolType    `json:"type"`
	Group           string           `json:"group"`
	BalanceToken    string           `json:"balanceToken"`
	Status          EarningStatus    `json:"status"`
	ActiveStake     chain.Balance    `json:"activeStake"`
	TotalStake      chain.Balance    `json:"totalStake"`
	UnstakeBalance  chain.Balance    `json:"unstakeBalance"`
	ActiveLock      chain.Balance    `json:"activeLock,omitzero"`
	IsBondedBefore  bool             `json:"isBondedBefore"`
	Nominations     []NominationInfo `json:"nominations"`
	Unstakings      []UnstakingInfo  `json:"unstakings"`
	DerivativeToken string           `json:"derivativeToken,omitempty"`
	ExchangeRate    *float64         `json:"exchangeRate,omitempty"`
}

// ValidatorInfo is one nomination candidate.
type ValidatorInfo struct {
	Address        string        `json:"address"`
	Chain          chain.ID      `json:"chain"`
	TotalStake     chain.Balance `json:"totalStake"`
	OwnStake       chain.Balance `json:"ownStake"`
	OtherStake     chain.Balance `json:"otherStake"`
	NominatorCount int           `json:"nominatorCount"`
	Commission     float64       `json:"commission"`
	ExpectedReturn float64       `json:"expectedReturn"`
	Blocked        bool          `json:"blocked"`
	IsVerified     bool          `json:"isVerified"`
	MinBond        chain.Balance `json:"minBond"`
	IsCrowded      bool          `json:"isCrowded"`
	Identity       string        `json:"identity,omitempty"`
	Icon           string        `json:"icon,omitempty"`
	EraRewardPoint string        `json:"eraRewardPoint,omitempty"`
	TopQuartile    bool          `json:"topQuartile"`
}

// EarningRewardItem is the unclaimed reward of one address in one pool.
type EarningRewardItem struct {
	Address         string        `json:"address"`
	Slug            string        `json:"slug"`
	Chain           chain.ID      `json:"chain"`
	Group           string        `json:"group"`
	Type            YieldPoolType `json:"type"`
	UnclaimedReward chain.Balance `json:"unclaimedReward"`
	State           string        `json:"state"`
}

// StepType tags one step of an optimal path.
type StepType string

// Step types. TOKEN_APPROVAL and XCM are shared with swap processes.
const (
	StepDefault            StepType = "DEFAULT"
	StepNominate           StepType = "NOMINATE"
	StepJoinNominationPool StepType = "JOIN_NOMINATION_POOL"
	StepMintVToken         StepType = "MINT_VTOKEN"
	StepMintQToken         StepType = "MINT_QTOKEN"
	StepTokenApproval      StepType = "TOKEN_APPROVAL"
	StepXCM                StepType = "XCM"
)

// DefaultStepName is the display name of the implicit first step.
const DefaultStepName = "Fill information"

// StepDetail is one step of a path.
type StepDetail struct {
	ID       int            `json:"id"`
	Name     string         `json:"name"`
	Type     StepType       `json:"type"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// FeeInfo is the estimated fee of one step.
type FeeInfo struct {
	Slug   string        `json:"slug"`
	Amount chain.Balance `json:"amount"`
}

// OptimalYieldPath is an ordered plan to join a pool. TotalFee[i] is the fee of Steps[i].
type OptimalYieldPath struct {
	Steps    []StepDetail `json:"steps"`
	TotalFee []FeeInfo    `json:"totalFee"`
}

// ExtrinsicType classifies a built transaction.
type ExtrinsicType string

// Extrinsic types.
const (
	ExtrinsicJoinPool      ExtrinsicType = "STAKING_JOIN_POOL"
	ExtrinsicBond          ExtrinsicType = "STAKING_BOND"
	ExtrinsicUnbond        ExtrinsicType = "STAKING_UNBOND"
	ExtrinsicLeavePool     ExtrinsicType = "STAKING_LEAVE_POOL"
	ExtrinsicWithdraw      ExtrinsicType = "STAKING_WITHDRAW"
	ExtrinsicCancelUnstake ExtrinsicType = "STAKING_CANCEL_UNSTAKE"
	ExtrinsicClaimReward   ExtrinsicType = "STAKING_CLAIM_REWARD"
	ExtrinsicMintVToken    ExtrinsicType = "MINT_VTOKEN"
	ExtrinsicRedeemVToken  ExtrinsicType = "REDEEM_VTOKEN"
	ExtrinsicMintQToken    ExtrinsicType = "MINT_QTOKEN"
	ExtrinsicRedeemQToken  ExtrinsicType = "REDEEM_QTOKEN"
)

// TransactionPayload is an unsigned transaction ready for an external signer.
type TransactionPayload struct {
	Chain     chain.ID         `json:"chain"`
	Address   string           `json:"address"`
	Extrinsic *chain.Extrinsic `json:"extrinsic"`
	Type      ExtrinsicType    `json:"type"`
	FeeToken  FeeInfo          `json:"feeToken"`
}

// JoinRequest asks to join a pool. Selected carries validators for native
// staking; PoolID selects a nomination pool.
type JoinRequest struct {
	Address  string          `json:"address"`
	Slug     string          `json:"slug"`
	Amount   chain.Balance   `json:"amount"`
	Selected []ValidatorInfo `json:"selectedValidators,omitempty"`
	PoolID   string          `json:"selectedPool,omitempty"`
}

// TargetAddresses returns the addresses of the selected targets.
func (r *JoinRequest) TargetAddresses() []string {
	out := make([]string, 0, len(r.Selected))
	for _, v := range r.Selected {
		out = append(out, v.Address)
	}
	return out
}

// TargetCount is the number of nomination targets in the request.
func (r *JoinRequest) TargetCount() int {
	if r.PoolID != "" {
		return 1
	}
	return len(r.Selected)
}

// LeaveRequest asks to unstake.
type LeaveRequest struct {
	Address        string        `json:"address"`
	Slug           string        `json:"slug"`
	Amount         chain.Balance `json:"amount"`
	SelectedTarget string        `json:"selectedTarget,omitempty"`
	FastLeave      bool          `json:"fastLeave"`
}

// WithdrawRequest asks to withdraw an unlocked chunk.
type WithdrawRequest struct {
	Address   string        `json:"address"`
	Slug      string        `json:"slug"`
	Unstaking UnstakingInfo `json:"unstakingInfo"`
}

// CancelUnstakeRequest asks to restake an unlocking chunk.
type CancelUnstakeRequest struct {
	Address  string        `json:"address"`
	Slug     string        `json:"slug"`
	Selected UnstakingInfo `json:"selectedUnstaking"`
}

// ClaimRequest asks to claim rewards. BondReward restakes instead of paying out.
type ClaimRequest struct {
	Address         string        `json:"address"`
	Slug            string        `json:"slug"`
	UnclaimedReward chain.Balance `json:"unclaimedReward"`
	BondReward      bool          `json:"bondReward"`
}
