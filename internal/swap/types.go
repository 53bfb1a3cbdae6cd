// Package swap holds the swap data model, the provider contract, process
// building and the sequential step runner.
package swap

import (
	"time"

	"github.com/mrz1836/harvest/internal/chain"
)

// DefaultQuoteTimeout is how long a quote stays valid when the provider has no
// timeout of its own.
const DefaultQuoteTimeout = 90 * time.Second

// ProviderID identifies a liquidity provider.
type ProviderID string

// Supported providers.
const (
	ProviderStellaswap        ProviderID = "STELLASWAP"
	ProviderStellaswapTestnet ProviderID = "STELLASWAP_TESTNET"
	ProviderChainflip         ProviderID = "CHAIN_FLIP_MAINNET"
	ProviderChainflipTestnet  ProviderID = "CHAIN_FLIP_TESTNET"
)

// ProviderInfo describes a provider for display.
type ProviderInfo struct {
	ID   ProviderID `json:"id"`
	Name string     `json:"name"`
	FAQ  string     `json:"faq,omitempty"`
}

// Pair is a directed asset pair.
type Pair struct {
	Slug string `json:"slug"`
	From string `json:"from"`
	To   string `json:"to"`
}

// PairSlug builds the pair slug of two asset slugs.
func PairSlug(from, to string) string {
	return from + "___" + to
}

// FeeType classifies one fee component.
type FeeType string

// Fee types.
const (
	FeePlatform FeeType = "PLATFORM_FEE"
	FeeNetwork  FeeType = "NETWORK_FEE"
	FeeWallet   FeeType = "WALLET_FEE"
)

// FeeComponent is one fee charged by a step.
type FeeComponent struct {
	FeeType   FeeType       `json:"feeType"`
	Amount    chain.Balance `json:"amount"`
	TokenSlug string        `json:"tokenSlug"`
}

// FeeInfo is the fee of one step. FeeOptions always contains DefaultFeeToken.
type FeeInfo struct {
	FeeComponent    []FeeComponent `json:"feeComponent"`
	DefaultFeeToken string         `json:"defaultFeeToken"`
	FeeOptions      []string       `json:"feeOptions"`
}

// Total sums the components paid in token.
func (f FeeInfo) Total(token string) chain.Balance {
	var sum chain.Balance
	for _, c := range f.FeeComponent {
		if c.TokenSlug == token {
			sum = sum.Add(c.Amount)
		}
	}
	return sum
}

// Route is the list of asset slugs a swap passes through.
type Route struct {
	Path []string `json:"path"`
}

// Quote is a time-bounded priced offer from one provider.
type Quote struct {
	Pair                 Pair           `json:"pair"`
	FromAmount           chain.Balance  `json:"fromAmount"`
	ToAmount             chain.Balance  `json:"toAmount"`
	Rate                 float64        `json:"rate"`
	Provider             ProviderInfo   `json:"provider"`
	AliveUntil           int64          `json:"aliveUntil"`
	Route                Route          `json:"route"`
	MinSwap              *chain.Balance `json:"minSwap,omitempty"`
	MaxSwap              *chain.Balance `json:"maxSwap,omitempty"`
	EstimatedArrivalTime int64          `json:"estimatedArrivalTime,omitempty"`
	IsLowLiquidity       bool           `json:"isLowLiquidity"`
	FeeInfo              FeeInfo        `json:"feeInfo"`
	// Metadata is provider data needed to submit the quote.
	Metadata any `json:"metadata,omitempty"`
}

// Expired reports whether now is past the quote's validity.
func (q *Quote) Expired(now time.Time) bool {
	return q.AliveUntil > 0 && now.UnixMilli() > q.AliveUntil
}

// StepType tags one step of a swap process.
type StepType string

// Step types.
const (
	StepDefault       StepType = "DEFAULT"
	StepTokenApproval StepType = "TOKEN_APPROVAL"
	StepSwap          StepType = "SWAP"
	StepXCM           StepType = "XCM"
	StepSetFeeToken   StepType = "SET_FEE_TOKEN"
)

// DefaultStepName is the name of the implicit validation step.
const DefaultStepName = "Fill information"

// StepDetail is one step of a process.
type StepDetail struct {
	ID       int            `json:"id"`
	Name     string         `json:"name"`
	Type     StepType       `json:"type"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Process is the ordered list of steps to complete a swap. TotalFee[i] is
// the fee of Steps[i].
type Process struct {
	ID       string       `json:"id,omitempty"`
	TotalFee []FeeInfo    `json:"totalFee"`
	Steps    []StepDetail `json:"steps"`
}

// Request asks for a swap quote. Slippage is a fraction, 0.01 for 1%.
type Request struct {
	Address    string        `json:"address"`
	Pair       Pair          `json:"pair"`
	FromAmount chain.Balance `json:"fromAmount"`
	Slippage   float64       `json:"slippage"`
	Recipient  string        `json:"recipient,omitempty"`
}

// QuoteResult is one provider's answer: a quote or an error.
type QuoteResult struct {
	Provider ProviderID `json:"provider"`
	Quote    *Quote     `json:"quote,omitempty"`
	Err      error      `json:"-"`
}

// QuoteResponse aggregates every provider answer. Error is set only when no
// quote is available.
type QuoteResponse struct {
	OptimalQuote *Quote  `json:"optimalQuote,omitempty"`
	Quotes       []Quote `json:"quotes"`
	AliveUntil   int64   `json:"aliveUntil"`
	Error        error   `json:"-"`
}

// RequestResult is a quote response plus the process for the optimal quote.
type RequestResult struct {
	Process *Process       `json:"process"`
	Quote   *QuoteResponse `json:"quote"`
}

// ProcessParams selects the quote a process is generated for.
type ProcessParams struct {
	Request       *Request
	SelectedQuote *Quote
}

// ValidateParams asks a provider to check a process before submission.
type ValidateParams struct {
	Address       string
	Process       *Process
	SelectedQuote *Quote
	Recipient     string
}

// SubmitParams is one step submission.
type SubmitParams struct {
	Process     *Process
	CurrentStep int
	Quote       *Quote
	Address     string
	Slippage    float64
	Recipient   string
}

// ChainType is the account model a step transaction is signed for.
type ChainType string

// Chain types.
const (
	ChainSubstrate ChainType = "substrate"
	ChainEVM       ChainType = "evm"
)

// TxType classifies a step transaction.
type TxType string

// Transaction types.
const (
	TxSwap          TxType = "SWAP"
	TxTokenApproval TxType = "TOKEN_SPENDING_APPROVAL"
)

// TxData is the provider context carried alongside a step transaction.
type TxData struct {
	Provider         ProviderInfo `json:"provider"`
	Quote            *Quote       `json:"quote"`
	Address          string       `json:"address"`
	Slippage         float64      `json:"slippage"`
	Recipient        string       `json:"recipient,omitempty"`
	DepositChannelID string       `json:"depositChannelId,omitempty"`
	DepositAddress   string       `json:"depositAddress,omitempty"`
}

// StepData is the unsigned transaction of one step. Transaction is a
// *chain.Extrinsic for substrate steps and an *evm.UnsignedTx for EVM steps.
type StepData struct {
	TxChain              chain.ID      `json:"txChain"`
	TxData               TxData        `json:"txData"`
	Transaction          any           `json:"transaction"`
	TransferNativeAmount chain.Balance `json:"transferNativeAmount"`
	Type                 TxType        `json:"extrinsicType"`
	ChainType            ChainType     `json:"chainType"`
}
